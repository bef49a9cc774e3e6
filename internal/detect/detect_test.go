package detect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"testing"

	"github.com/nao1215/torfallback/internal/model"
	"github.com/nao1215/torfallback/internal/target"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var _ net.Error = timeoutError{}

// TestClassify tests verdicts with the default signature.
func TestClassify(t *testing.T) {
	t.Parallel()

	blockedBody := &target.Response{
		StatusCode: http.StatusOK,
		Body:       []byte("<p>Error: USERNAME and Password Invalid.</p>"),
	}

	testCases := []struct {
		name     string
		resp     *target.Response
		err      error
		expected model.VerdictKind
	}{
		{"successful response", &target.Response{StatusCode: 200, Body: []byte("welcome")}, nil, model.VerdictOk},
		{"block signature any case", blockedBody, nil, model.VerdictBlocked},
		{"connection refused", nil, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, model.VerdictTransient},
		{"connection reset", nil, fmt.Errorf("read: %w", syscall.ECONNRESET), model.VerdictTransient},
		{"deadline exceeded", nil, context.DeadlineExceeded, model.VerdictTransient},
		{"unexpected eof", nil, fmt.Errorf("body: %w", io.ErrUnexpectedEOF), model.VerdictTransient},
		{"net timeout", nil, timeoutError{}, model.VerdictTransient},
		{"http client dial error", nil, &url.Error{Op: "Get", URL: "http://x", Err: &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}}, model.VerdictTransient},
		{"http client timeout", nil, &url.Error{Op: "Get", URL: "http://x", Err: timeoutError{}}, model.VerdictTransient},
		{"unsupported scheme", nil, &url.Error{Op: "Get", URL: "ftp://x", Err: errors.New(`unsupported protocol scheme "ftp"`)}, model.VerdictOk},
		{"canceled is not transient", nil, context.Canceled, model.VerdictOk},
		{"other error is ok", nil, errors.New("bad input"), model.VerdictOk},
		{"other error with block body", blockedBody, errors.New("parse failed"), model.VerdictBlocked},
		{"nil response and error", nil, nil, model.VerdictOk},
	}

	d := New()
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			v := d.Classify(tc.resp, tc.err)
			if v.Kind != tc.expected {
				t.Errorf("Classify() = %s, expected %s", v, tc.expected)
			}
			if v.Kind == model.VerdictTransient && !errors.Is(v.Cause, tc.err) {
				t.Errorf("transient cause = %v, expected %v", v.Cause, tc.err)
			}
			if v.Kind == model.VerdictBlocked && v.Reason == "" {
				t.Error("blocked verdict must carry a reason")
			}
		})
	}
}

// TestDetectorOptions tests injected signatures and status codes.
func TestDetectorOptions(t *testing.T) {
	t.Parallel()

	t.Run("custom signatures replace the default", func(t *testing.T) {
		t.Parallel()

		d := New(WithSignatures("account locked", "  "))
		if v := d.Classify(&target.Response{Body: []byte("Account LOCKED")}, nil); v.Kind != model.VerdictBlocked {
			t.Errorf("expected blocked, got %s", v)
		}
		if v := d.Classify(&target.Response{Body: []byte(DefaultSignature)}, nil); v.Kind != model.VerdictOk {
			t.Errorf("default signature should be replaced, got %s", v)
		}
	})

	t.Run("status codes", func(t *testing.T) {
		t.Parallel()

		d := New(WithStatusCodes(http.StatusForbidden, http.StatusTooManyRequests))
		v := d.Classify(&target.Response{StatusCode: http.StatusTooManyRequests}, nil)
		if v.Kind != model.VerdictBlocked || v.Reason != "status 429" {
			t.Errorf("got %s", v)
		}
		if v := d.Classify(&target.Response{StatusCode: http.StatusOK}, nil); v.Kind != model.VerdictOk {
			t.Errorf("got %s", v)
		}
		if v := d.Classify(&target.Response{Body: []byte(DefaultSignature)}, nil); v.Kind != model.VerdictBlocked {
			t.Errorf("default signature should still apply, got %s", v)
		}
	})

	t.Run("custom matcher", func(t *testing.T) {
		t.Parallel()

		captcha := func(resp *target.Response) (string, bool) {
			return "captcha", resp != nil && resp.Header.Get("X-Captcha") != ""
		}
		d := New(WithMatchers(captcha))
		resp := &target.Response{Header: http.Header{"X-Captcha": []string{"1"}}}
		if v := d.Classify(resp, nil); v.Kind != model.VerdictBlocked || v.Reason != "captcha" {
			t.Errorf("got %s", v)
		}
	})

	t.Run("no matchers never block", func(t *testing.T) {
		t.Parallel()

		d := New(WithMatchers())
		if v := d.Classify(&target.Response{Body: []byte(DefaultSignature)}, nil); v.Kind != model.VerdictOk {
			t.Errorf("got %s", v)
		}
	})
}
