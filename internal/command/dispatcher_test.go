package command

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nao1215/torfallback/internal/detect"
	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/registry"
	"github.com/nao1215/torfallback/internal/report"
	"github.com/nao1215/torfallback/internal/session"
	"github.com/nao1215/torfallback/internal/target"
)

type stubProber struct {
	mu        sync.Mutex
	reachable map[string]bool
}

func (s *stubProber) Test(_ context.Context, p model.Proxy) model.ProbeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reachable[p.ID] {
		return model.ProbeResult{ProxyID: p.ID, Reachable: true, EgressAddress: "198.51.100.7", Latency: 40 * time.Millisecond, CheckedAt: time.Now()}
	}
	return model.ProbeResult{ProxyID: p.ID, Reason: "cannot connect to SOCKS5 proxy", CheckedAt: time.Now()}
}

// taggedEgress marks every request with the proxy it was sent through so
// the test server can decide whether to block it.
type taggedEgress struct {
	proxy  model.Proxy
	client *http.Client
}

func (e taggedEgress) HTTPClient() *http.Client { return e.client }
func (e taggedEgress) Proxy() model.Proxy       { return e.proxy }

type tagTransport struct {
	id   string
	next http.RoundTripper
}

func (t tagTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("X-Proxy", t.id)
	return t.next.RoundTrip(r)
}

func taggedEgressFunc(base *http.Client) session.EgressFunc {
	return func(p model.Proxy) (target.Egress, error) {
		return taggedEgress{
			proxy:  p,
			client: &http.Client{Transport: tagTransport{id: p.ID, next: base.Transport}},
		}, nil
	}
}

type renewerFunc func(context.Context) error

func (f renewerFunc) NewIdentity(ctx context.Context) error { return f(ctx) }

// blockingServer answers with the block signature for requests sent
// through any proxy in blocked.
func blockingServer(t *testing.T, blocked ...string) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, id := range blocked {
			if r.Header.Get("X-Proxy") == id {
				_, _ = w.Write([]byte("Error: Username and password invalid"))
				return
			}
		}
		_, _ = w.Write([]byte("updated"))
	}))
	t.Cleanup(srv.Close)
	return srv
}

type fixture struct {
	registry   *registry.Registry
	prober     *stubProber
	dispatcher *Dispatcher
}

func newFixture(t *testing.T, srv *httptest.Server, reachable map[string]bool, opts ...Option) *fixture {
	t.Helper()

	reg := registry.New()
	for _, p := range []model.Proxy{
		{ID: "direct", Kind: model.ProxyKindDirect},
		{ID: "tor", Kind: model.ProxyKindSOCKS5, Host: "127.0.0.1", Port: 9050},
	} {
		if err := reg.Register(p); err != nil {
			t.Fatalf("failed to register %s: %v", p.ID, err)
		}
	}

	prober := &stubProber{reachable: reachable}
	base := http.DefaultClient
	if srv != nil {
		base = srv.Client()
	}
	if base.Transport == nil {
		base = &http.Client{Transport: http.DefaultTransport}
	}

	factory := func(string) *session.Controller {
		return session.New(reg, prober, detect.New(),
			session.WithBackoff(0),
			session.WithEgressFunc(taggedEgressFunc(base)),
			session.WithRenewerFunc(func(model.Proxy) (session.CircuitRenewer, error) {
				return renewerFunc(func(context.Context) error { return nil }), nil
			}),
		)
	}
	return &fixture{registry: reg, prober: prober, dispatcher: New(factory, opts...)}
}

func (f *fixture) status(t *testing.T, id string) model.ProxyStatus {
	t.Helper()
	p, err := f.registry.Get(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return p.Status
}

// TestDispatchParsing tests command line parsing.
func TestDispatchParsing(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		line     string
		wantCode Code
		wantText string
	}{
		{name: "empty line", line: "   ", wantCode: CodeUsage, wantText: "empty command"},
		{name: "unknown command", line: "!reboot", wantCode: CodeUsage, wantText: `unknown command "!reboot"`},
		{name: "help with prefix", line: "!help", wantCode: CodeOK, wantText: "handleblock"},
		{name: "help is case insensitive", line: "HELP", wantCode: CodeOK, wantText: "listproxies"},
		{name: "start takes no arguments", line: "start now", wantCode: CodeUsage, wantText: "usage: start"},
		{name: "testproxy takes one id", line: "testproxy a b", wantCode: CodeUsage, wantText: "usage: testproxy [id]"},
		{name: "perform needs a url", line: "perform", wantCode: CodeUsage, wantText: "usage: perform <url>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reply := f.dispatcher.Dispatch(ctx, "parsing", tt.line)
			if reply.Code != tt.wantCode {
				t.Errorf("expected code %d, got %d (%s)", tt.wantCode, reply.Code, reply.Text)
			}
			if !strings.Contains(reply.Text, tt.wantText) {
				t.Errorf("expected text to contain %q, got %q", tt.wantText, reply.Text)
			}
		})
	}
}

// TestStartAndHandleBlock tests the start and handleblock commands.
func TestStartAndHandleBlock(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, map[string]bool{"tor": true})
	ctx := context.Background()

	reply := f.dispatcher.Dispatch(ctx, "ops", "!start")
	if !reply.OK() {
		t.Fatalf("expected start to succeed, got %d: %s", reply.Code, reply.Text)
	}
	if !strings.Contains(reply.Text, "started via direct") {
		t.Errorf("expected start on direct, got %q", reply.Text)
	}

	reply = f.dispatcher.Dispatch(ctx, "ops", "start")
	if reply.Code != CodeError || !strings.Contains(reply.Text, "already running") {
		t.Errorf("expected already running error, got %d: %s", reply.Code, reply.Text)
	}

	reply = f.dispatcher.Dispatch(ctx, "ops", "!handleblock")
	if !reply.OK() {
		t.Fatalf("expected handleblock to succeed, got %d: %s", reply.Code, reply.Text)
	}
	if !strings.Contains(reply.Text, "switched to tor") {
		t.Errorf("expected switch to tor, got %q", reply.Text)
	}
	if got := f.status(t, "direct"); got != model.ProxyStatusDead {
		t.Errorf("expected direct to be dead, got %s", got)
	}

	reply = f.dispatcher.Dispatch(ctx, "ops", "handleblock")
	if reply.Code != CodeError {
		t.Fatalf("expected handleblock to fail without candidates, got %d: %s", reply.Code, reply.Text)
	}
	if !strings.Contains(reply.Text, "all proxies blocked") {
		t.Errorf("expected all proxies blocked, got %q", reply.Text)
	}
	if !strings.Contains(reply.Text, "Exhausted") {
		t.Errorf("expected the failure to include the session status, got %q", reply.Text)
	}

	reply = f.dispatcher.Dispatch(ctx, "ops", "handleblock")
	if reply.Code != CodeError || !strings.Contains(reply.Text, "use start first") {
		t.Errorf("expected handleblock on an exhausted session to ask for start, got %d: %s", reply.Code, reply.Text)
	}
}

// TestTestProxy tests that testproxy only reports.
func TestTestProxy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, map[string]bool{"direct": true})
	ctx := context.Background()

	t.Run("defaults to tor and reports unreachable", func(t *testing.T) {
		t.Parallel()

		reply := f.dispatcher.Dispatch(ctx, "probe", "!testproxy")
		if reply.Code != CodeError {
			t.Errorf("expected CodeError for an unreachable proxy, got %d", reply.Code)
		}
		if !strings.Contains(reply.Text, "tor (socks5 127.0.0.1:9050) is unreachable") {
			t.Errorf("unexpected reply %q", reply.Text)
		}
		if got := f.status(t, "tor"); got != model.ProxyStatusUnknown {
			t.Errorf("expected tor status to stay unknown, got %s", got)
		}
		if state := f.dispatcher.Controller("probe").Status().State; state != model.SessionIdle {
			t.Errorf("expected session to stay idle, got %s", state)
		}
	})

	t.Run("reachable proxy", func(t *testing.T) {
		t.Parallel()

		reply := f.dispatcher.Dispatch(ctx, "probe", "testproxy direct")
		if !reply.OK() {
			t.Fatalf("expected success, got %d: %s", reply.Code, reply.Text)
		}
		if !strings.Contains(reply.Text, "198.51.100.7") {
			t.Errorf("expected egress address in reply, got %q", reply.Text)
		}
	})

	t.Run("unknown proxy", func(t *testing.T) {
		t.Parallel()

		reply := f.dispatcher.Dispatch(ctx, "probe", "testproxy vpn")
		if reply.Code != CodeError || !strings.Contains(reply.Text, `no proxy named "vpn"`) {
			t.Errorf("unexpected reply %d: %s", reply.Code, reply.Text)
		}
	})
}

// TestListProxies tests listproxies in text and Markdown.
func TestListProxies(t *testing.T) {
	t.Parallel()

	t.Run("text", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil, nil)
		reply := f.dispatcher.Dispatch(context.Background(), "list", "listproxies")
		if !reply.OK() {
			t.Fatalf("unexpected failure: %s", reply.Text)
		}
		for _, want := range []string{"2 proxies:", "direct", "127.0.0.1:9050"} {
			if !strings.Contains(reply.Text, want) {
				t.Errorf("expected %q in %q", want, reply.Text)
			}
		}
	})

	t.Run("markdown", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil, nil, WithFormat(report.FormatMarkdown))
		reply := f.dispatcher.Dispatch(context.Background(), "list", "!listproxies")
		if !reply.OK() {
			t.Fatalf("unexpected failure: %s", reply.Text)
		}
		if !strings.Contains(reply.Text, "|") {
			t.Errorf("expected a Markdown table, got %q", reply.Text)
		}
	})

	t.Run("unknown format", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, nil, nil, WithFormat(report.Format("xml")))
		reply := f.dispatcher.Dispatch(context.Background(), "list", "listproxies")
		if reply.Code != CodeError {
			t.Errorf("expected CodeError, got %d", reply.Code)
		}
	})
}

// TestPerform tests that perform fails over when the direct path is blocked.
func TestPerform(t *testing.T) {
	t.Parallel()

	srv := blockingServer(t, "direct")
	f := newFixture(t, srv, map[string]bool{"tor": true})
	ctx := context.Background()

	reply := f.dispatcher.Dispatch(ctx, "ops", "perform "+srv.URL)
	if reply.Code != CodeError || !strings.Contains(reply.Text, "use start first") {
		t.Errorf("expected perform without session to fail, got %d: %s", reply.Code, reply.Text)
	}

	if reply := f.dispatcher.Dispatch(ctx, "ops", "start"); !reply.OK() {
		t.Fatalf("start failed: %s", reply.Text)
	}

	reply = f.dispatcher.Dispatch(ctx, "ops", "!perform "+srv.URL)
	if !reply.OK() {
		t.Fatalf("expected perform to succeed, got %d: %s", reply.Code, reply.Text)
	}
	if !strings.Contains(reply.Text, "status 200 via tor") {
		t.Errorf("expected success through tor, got %q", reply.Text)
	}

	reply = f.dispatcher.Dispatch(ctx, "ops", "status")
	for _, want := range []string{"Active", "Tried:    direct, tor", "0 consecutive, 1 switches"} {
		if !strings.Contains(reply.Text, want) {
			t.Errorf("expected %q in status %q", want, reply.Text)
		}
	}
}

// TestPerformInvalidURL tests that an operation error is reported.
func TestPerformInvalidURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	ctx := context.Background()

	if reply := f.dispatcher.Dispatch(ctx, "ops", "start"); !reply.OK() {
		t.Fatalf("start failed: %s", reply.Text)
	}
	reply := f.dispatcher.Dispatch(ctx, "ops", "perform ://bad")
	if reply.Code != CodeError || !strings.Contains(reply.Text, "failed") {
		t.Errorf("expected failure, got %d: %s", reply.Code, reply.Text)
	}
}

// TestStop tests the stop command.
func TestStop(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, nil)
	ctx := context.Background()

	reply := f.dispatcher.Dispatch(ctx, "ops", "stop")
	if reply.Code != CodeError {
		t.Errorf("expected stop without session to fail, got %d", reply.Code)
	}

	f.dispatcher.Dispatch(ctx, "ops", "start")
	id := f.dispatcher.Controller("ops").Status().ID

	reply = f.dispatcher.Dispatch(ctx, "ops", "!stop")
	if !reply.OK() || !strings.Contains(reply.Text, id) {
		t.Errorf("expected session %s to stop, got %d: %s", id, reply.Code, reply.Text)
	}
	if state := f.dispatcher.Controller("ops").Status().State; state != model.SessionIdle {
		t.Errorf("expected idle, got %s", state)
	}
}

// TestRenewCircuit tests the renewcircuit command.
func TestRenewCircuit(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, map[string]bool{"tor": true})
	ctx := context.Background()

	reply := f.dispatcher.Dispatch(ctx, "ops", "renewcircuit direct")
	if reply.Code != CodeError || !strings.Contains(reply.Text, session.ErrNotTorProxy.Error()) {
		t.Errorf("expected not a tor proxy, got %d: %s", reply.Code, reply.Text)
	}

	reply = f.dispatcher.Dispatch(ctx, "ops", "renewcircuit")
	if !reply.OK() {
		t.Fatalf("expected renewcircuit to succeed, got %d: %s", reply.Code, reply.Text)
	}
	if got := f.status(t, "tor"); got != model.ProxyStatusLive {
		t.Errorf("expected tor to be live, got %s", got)
	}

	reply = f.dispatcher.Dispatch(ctx, "ops", "renewcircuit vpn")
	if reply.Code != CodeError || !strings.Contains(reply.Text, "no proxy named") {
		t.Errorf("unexpected reply %d: %s", reply.Code, reply.Text)
	}
}

// TestChannelsShareRegistry tests that channels keep separate sessions
// over one registry.
func TestChannelsShareRegistry(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, map[string]bool{"tor": true})
	ctx := context.Background()

	for _, ch := range []string{"alpha", "beta"} {
		if reply := f.dispatcher.Dispatch(ctx, ch, "start"); !reply.OK() {
			t.Fatalf("start on %s failed: %s", ch, reply.Text)
		}
	}
	if got := f.dispatcher.Channels(); got != 2 {
		t.Errorf("expected 2 channels, got %d", got)
	}

	if reply := f.dispatcher.Dispatch(ctx, "alpha", "handleblock"); !reply.OK() {
		t.Fatalf("handleblock failed: %s", reply.Text)
	}

	if active := f.dispatcher.Controller("beta").Status().Active; active == nil || active.ID != "direct" {
		t.Errorf("expected beta to keep its own session on direct, got %v", active)
	}

	f.dispatcher.Dispatch(ctx, "beta", "stop")
	reply := f.dispatcher.Dispatch(ctx, "beta", "start")
	if !reply.OK() || !strings.Contains(reply.Text, "started via tor") {
		t.Errorf("expected beta to skip the dead direct proxy, got %d: %s", reply.Code, reply.Text)
	}
}

func TestReplyOK(t *testing.T) {
	t.Parallel()

	if !(Reply{}).OK() {
		t.Error("expected zero reply to be OK")
	}
	if (Reply{Code: CodeUsage}).OK() {
		t.Error("expected usage reply not to be OK")
	}
}
