package egress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/tor"
)

// TestNew tests path construction for each proxy kind.
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("direct path", func(t *testing.T) {
		t.Parallel()

		p, err := New(model.Proxy{ID: "direct", Kind: model.ProxyKindDirect}, 5*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Proxy().ID != "direct" {
			t.Errorf("Proxy().ID = %q", p.Proxy().ID)
		}
		if p.HTTPClient().Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, expected 5s", p.HTTPClient().Timeout)
		}
		if p.HTTPClient().Jar == nil {
			t.Error("expected cookie jar")
		}
		if status := p.CheckSOCKS(context.Background()); status != tor.ProxyStatusOK {
			t.Errorf("direct CheckSOCKS = %v, expected OK", status)
		}
	})

	t.Run("socks5 path", func(t *testing.T) {
		t.Parallel()

		p, err := New(model.Proxy{ID: "tor", Kind: model.ProxyKindSOCKS5, Host: "127.0.0.1", Port: 9050}, 5*time.Second)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.socks == nil || p.socks.ProxyAddress() != "127.0.0.1:9050" {
			t.Error("expected SOCKS5 client for 127.0.0.1:9050")
		}
	})

	t.Run("socks5 path with bad address", func(t *testing.T) {
		t.Parallel()

		_, err := New(model.Proxy{ID: "bad", Kind: model.ProxyKindSOCKS5, Host: "", Port: 0}, time.Second)
		if !errors.Is(err, tor.ErrInvalidProxyAddress) {
			t.Errorf("expected ErrInvalidProxyAddress, got %v", err)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		t.Parallel()

		if _, err := New(model.Proxy{ID: "x", Kind: "http"}, time.Second); err == nil {
			t.Error("expected error for unknown kind")
		}
	})

	t.Run("paths do not share cookie jars", func(t *testing.T) {
		t.Parallel()

		a, _ := New(model.Proxy{ID: "a", Kind: model.ProxyKindDirect}, time.Second)
		b, _ := New(model.Proxy{ID: "b", Kind: model.ProxyKindDirect}, time.Second)
		if a.HTTPClient().Jar == b.HTTPClient().Jar {
			t.Error("expected separate cookie jars")
		}
	})
}
