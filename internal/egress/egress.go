// Package egress builds HTTP clients that leave the host through a given
// registered proxy.
package egress

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/tor"
)

// Path is one egress path: the proxy it belongs to and an HTTP client
// routed through it. The client carries its own cookie jar, so a login
// performed through one path is not replayed through another.
type Path struct {
	proxy  model.Proxy
	client *http.Client
	socks  *tor.Client
}

// New builds the egress path for p. timeout bounds each HTTP request.
func New(p model.Proxy, timeout time.Duration) (*Path, error) {
	switch p.Kind {
	case model.ProxyKindDirect:
		return &Path{proxy: p, client: newDirectClient(timeout)}, nil
	case model.ProxyKindSOCKS5:
		c, err := tor.NewClient(p.Address(), timeout)
		if err != nil {
			return nil, fmt.Errorf("proxy %s: %w", p.ID, err)
		}
		return &Path{proxy: p, client: c.NewHTTPClient(), socks: c}, nil
	default:
		return nil, fmt.Errorf("proxy %s: unsupported kind %q", p.ID, p.Kind)
	}
}

// Proxy returns the proxy this path goes through.
func (p *Path) Proxy() model.Proxy {
	return p.proxy
}

// HTTPClient returns the client routed through the proxy.
func (p *Path) HTTPClient() *http.Client {
	return p.client
}

// CheckSOCKS runs the SOCKS5 handshake check for socks5 paths.
// Direct paths always report tor.ProxyStatusOK.
func (p *Path) CheckSOCKS(ctx context.Context) tor.ProxyStatus {
	if p.socks == nil {
		return tor.ProxyStatusOK
	}
	return p.socks.CheckConnection(ctx)
}

// newDirectClient builds a client with the same pool limits and redirect
// policy as the SOCKS5 client, dialing from the host itself.
func newDirectClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: timeout,
	}

	jar, _ := cookiejar.New(nil) //nolint:errcheck // cookiejar.New only fails with invalid options

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
		Jar:       jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return http.ErrUseLastResponse
			}
			return nil
		},
	}
}
