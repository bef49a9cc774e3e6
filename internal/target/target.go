package target

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nao1215/torfallback/internal/model"
)

// maxBodySize limits how much of a response body an HTTPRequest keeps.
const maxBodySize = 1 << 20

// ErrInvalidRequest is returned when a request cannot be built.
var ErrInvalidRequest = errors.New("invalid request")

// Response is the part of a target-service reply the detector inspects.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Egress is the network path an operation must use.
type Egress interface {
	// HTTPClient returns a client routed through Proxy.
	HTTPClient() *http.Client
	// Proxy returns the proxy the client goes through.
	Proxy() model.Proxy
}

// Operation is one interaction with the target service.
type Operation interface {
	Execute(ctx context.Context, via Egress) (*Response, error)
}

// OperationFunc adapts a function to Operation.
type OperationFunc func(ctx context.Context, via Egress) (*Response, error)

// Execute calls f.
func (f OperationFunc) Execute(ctx context.Context, via Egress) (*Response, error) {
	return f(ctx, via)
}

// HTTPRequest is an Operation that sends one HTTP request.
type HTTPRequest struct {
	Method string
	URL    string
	Header http.Header
	// Body is sent as-is; empty means no body.
	Body string
}

// Get returns an HTTPRequest for a GET of rawURL.
func Get(rawURL string) *HTTPRequest {
	return &HTTPRequest{Method: http.MethodGet, URL: rawURL}
}

// Execute sends the request through via and reads at most 1 MiB of body.
func (r *HTTPRequest) Execute(ctx context.Context, via Egress) (*Response, error) {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.URL, body)
	if err != nil {
		// %v drops the *url.Error so the detector does not mistake a bad
		// URL for a network failure.
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := via.HTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", r.URL, err)
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// String returns "METHOD URL".
func (r *HTTPRequest) String() string {
	method := r.Method
	if method == "" {
		method = http.MethodGet
	}
	return method + " " + r.URL
}
