package session

import (
	"errors"
	"fmt"

	"github.com/nao1215/torfallback/internal/model"
)

// Session errors.
var (
	// ErrAlreadyActive is returned by Start while a session is running.
	ErrAlreadyActive = errors.New("session already active")

	// ErrNotActive is returned by operations that need a running session.
	ErrNotActive = errors.New("no active session")

	// ErrOperationFailed is returned when an operation kept failing with
	// transient errors until the retry limit ran out.
	ErrOperationFailed = errors.New("operation failed after transient retries")

	// ErrAllProxiesBlocked is returned when failover ran out of candidates
	// or the proxy switch budget was spent.
	ErrAllProxiesBlocked = errors.New("all proxies blocked")

	// ErrNotTorProxy is returned by RenewCircuit for proxies that are not
	// SOCKS5 Tor entries.
	ErrNotTorProxy = errors.New("proxy is not a tor socks5 entry")
)

// FailureError is returned for every session failure the operator sees.
// It carries the last proxy tried and the verdict history so the operator
// can tell a real block from a credential problem.
type FailureError struct {
	// SessionID identifies the failed session.
	SessionID string

	// LastProxy is the proxy that was active or last tried.
	LastProxy model.Proxy

	// History is the session's verdict history, oldest first.
	History []model.VerdictRecord

	// Err is the underlying sentinel, possibly wrapped.
	Err error
}

// Error implements the error interface.
func (e *FailureError) Error() string {
	last := "none"
	if e.LastProxy.ID != "" {
		last = e.LastProxy.ID
	}
	return fmt.Sprintf("%v (last proxy: %s, %d verdicts)", e.Err, last, len(e.History))
}

// Unwrap returns the underlying error.
func (e *FailureError) Unwrap() error {
	return e.Err
}

// wrapFailure prefixes the message of a failure, keeping the
// FailureError on top so callers still find the session details.
func wrapFailure(err error, prefix string) error {
	if fe, ok := IsFailure(err); ok {
		wrapped := *fe
		wrapped.Err = fmt.Errorf("%s: %w", prefix, fe.Err)
		return &wrapped
	}
	return fmt.Errorf("%s: %w", prefix, err)
}
