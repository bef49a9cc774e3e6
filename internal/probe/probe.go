package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nao1215/torfallback/internal/egress"
	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/tor"
)

const (
	// DefaultEndpoint echoes the caller's address as {"origin": "..."}.
	DefaultEndpoint = "http://httpbin.org/ip"

	// DefaultTimeout is the hard limit for one probe.
	DefaultTimeout = 10 * time.Second

	// DefaultConcurrency bounds TestAll.
	DefaultConcurrency = 4

	// maxEndpointBody limits how much of the endpoint response is read.
	maxEndpointBody = 64 * 1024
)

// ErrProbeTimeout is the reason recorded when a probe exceeds its timeout.
// It is never returned as an error; it only appears in ProbeResult.Reason.
var ErrProbeTimeout = errors.New("probe timed out")

// Prober performs reachability checks through proxies.
type Prober struct {
	endpoint    string
	timeout     time.Duration
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// Option configures a Prober.
type Option func(*Prober)

// WithEndpoint sets the known-good URL requested through each proxy.
func WithEndpoint(endpoint string) Option {
	return func(p *Prober) {
		if endpoint != "" {
			p.endpoint = endpoint
		}
	}
}

// WithTimeout sets the hard timeout for one probe.
func WithTimeout(timeout time.Duration) Option {
	return func(p *Prober) {
		if timeout > 0 {
			p.timeout = timeout
		}
	}
}

// WithConcurrency sets how many probes TestAll runs at once.
func WithConcurrency(n int) Option {
	return func(p *Prober) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Prober) {
		p.logger = logger
	}
}

// New creates a Prober.
func New(opts ...Option) *Prober {
	p := &Prober{
		endpoint:    DefaultEndpoint,
		timeout:     DefaultTimeout,
		concurrency: DefaultConcurrency,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	return p
}

// Timeout returns the configured probe timeout.
func (p *Prober) Timeout() time.Duration {
	return p.timeout
}

// Test probes one proxy. It always returns a result.
func (p *Prober) Test(ctx context.Context, proxy model.Proxy) model.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	result := model.ProbeResult{ProxyID: proxy.ID}

	egressAddr, err := p.run(ctx, proxy)
	result.CheckedAt = p.now()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, tor.ErrProxyTimeout) || isTimeout(err) {
			err = fmt.Errorf("%w after %s", ErrProbeTimeout, p.timeout)
		}
		result.Reason = err.Error()
		p.logger.Debug("probe failed",
			"proxy", proxy.ID,
			"reason", result.Reason,
		)
		return result
	}

	result.Reachable = true
	result.EgressAddress = egressAddr
	result.Latency = time.Since(start)
	p.logger.Debug("probe succeeded",
		"proxy", proxy.ID,
		"egress", egressAddr,
		"latency", result.Latency,
	)
	return result
}

// run does the actual check and returns the observed egress address.
func (p *Prober) run(ctx context.Context, proxy model.Proxy) (string, error) {
	path, err := egress.New(proxy, p.timeout)
	if err != nil {
		return "", err
	}

	// A SOCKS5 handshake failure is a clearer reason than the HTTP error
	// it would otherwise cause (e.g., "Tor is not running").
	if status := path.CheckSOCKS(ctx); status != tor.ProxyStatusOK {
		return "", fmt.Errorf("%s: %w", proxy.Address(), status.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build probe request: %w", err)
	}

	resp, err := path.HTTPClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("probe endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEndpointBody))
	if err != nil {
		return "", fmt.Errorf("failed to read probe response: %w", err)
	}
	return parseEgress(body), nil
}

// endpointResponse is the httpbin.org/ip response shape.
type endpointResponse struct {
	Origin string `json:"origin"`
	IP     string `json:"ip"`
}

// parseEgress extracts the observed address from the endpoint response.
// JSON bodies with "origin" (httpbin) or "ip" (ipify) are understood, and a
// short plain-text body is taken as the address itself.
func parseEgress(body []byte) string {
	var r endpointResponse
	if err := json.Unmarshal(body, &r); err == nil {
		if r.Origin != "" {
			return r.Origin
		}
		return r.IP
	}

	text := strings.TrimSpace(string(body))
	if text == "" || len(text) > 64 || strings.ContainsAny(text, " \t\n<>") {
		return ""
	}
	return text
}

// isTimeout reports whether err is a network timeout.
func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// TestAll probes every proxy concurrently and returns results in input order.
// It is used for listproxies discovery; like Test it never fails.
func (p *Prober) TestAll(ctx context.Context, proxies []model.Proxy) []model.ProbeResult {
	results := make([]model.ProbeResult, len(proxies))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)

	for i, proxy := range proxies {
		g.Go(func() error {
			results[i] = p.Test(ctx, proxy)
			return nil
		})
	}

	// Probes never return errors, so Wait only synchronizes.
	_ = g.Wait() //nolint:errcheck // goroutines always return nil
	return results
}
