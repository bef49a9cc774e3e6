package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strconv"
	"strings"
	"syscall"

	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/target"
)

// DefaultSignature is the message the target service shows when it refuses
// logins from a blocked address.
const DefaultSignature = "Username and password invalid"

// Matcher recognizes a block in a target-service response.
// It returns the block reason and true when resp shows a block.
type Matcher func(resp *target.Response) (string, bool)

// BodyMatcher matches a case-insensitive substring of the response body.
func BodyMatcher(signature string) Matcher {
	needle := strings.ToLower(signature)
	return func(resp *target.Response) (string, bool) {
		if resp == nil || needle == "" {
			return "", false
		}
		if strings.Contains(strings.ToLower(string(resp.Body)), needle) {
			return fmt.Sprintf("response contains %q", signature), true
		}
		return "", false
	}
}

// StatusMatcher matches any of the given HTTP status codes.
func StatusMatcher(codes ...int) Matcher {
	set := make(map[int]bool, len(codes))
	for _, c := range codes {
		set[c] = true
	}
	return func(resp *target.Response) (string, bool) {
		if resp == nil || !set[resp.StatusCode] {
			return "", false
		}
		return "status " + strconv.Itoa(resp.StatusCode), true
	}
}

// Detector classifies interactions.
type Detector struct {
	matchers []Matcher
}

// Option configures a Detector.
type Option func(*Detector)

// WithMatchers replaces the matchers. With no matchers nothing is ever
// classified as blocked.
func WithMatchers(m ...Matcher) Option {
	return func(d *Detector) {
		d.matchers = m
	}
}

// WithSignatures replaces the matchers with one BodyMatcher per signature.
func WithSignatures(signatures ...string) Option {
	return func(d *Detector) {
		d.matchers = d.matchers[:0:0]
		for _, s := range signatures {
			if s = strings.TrimSpace(s); s != "" {
				d.matchers = append(d.matchers, BodyMatcher(s))
			}
		}
	}
}

// WithStatusCodes adds a StatusMatcher for the given codes.
func WithStatusCodes(codes ...int) Option {
	return func(d *Detector) {
		if len(codes) > 0 {
			d.matchers = append(d.matchers, StatusMatcher(codes...))
		}
	}
}

// New creates a Detector. Without options it recognizes DefaultSignature.
func New(opts ...Option) *Detector {
	d := &Detector{matchers: []Matcher{BodyMatcher(DefaultSignature)}}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Classify maps one interaction to a verdict.
//
// A network failure is transient even if a partial response exists. A
// non-network error with a response is still checked for block signatures;
// otherwise it is Ok and the caller returns the error unchanged.
func (d *Detector) Classify(resp *target.Response, err error) model.BlockVerdict {
	if err != nil && IsTransient(err) {
		return model.Transient(err)
	}
	for _, m := range d.matchers {
		if reason, ok := m(resp); ok {
			return model.Blocked(reason)
		}
	}
	return model.Ok()
}

// IsTransient reports whether err is a network or timeout failure worth
// retrying on the same proxy.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	// *url.Error satisfies net.Error even for a bad scheme, so look at
	// what the HTTP client actually failed on.
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Timeout() || IsTransient(urlErr.Err)
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
