package registry

import "errors"

// Registry errors.
// Callers use errors.Is to tell them apart.
var (
	// ErrDuplicateProxy is returned by Register when the identifier is already taken.
	ErrDuplicateProxy = errors.New("duplicate proxy identifier")

	// ErrNoProxiesAvailable is returned by NextCandidate when every proxy is
	// either dead or excluded.
	ErrNoProxiesAvailable = errors.New("no proxies available")

	// ErrProxyNotFound is returned when an identifier is not registered.
	ErrProxyNotFound = errors.New("proxy not found")

	// ErrInvalidProxy is returned by Register for malformed entries
	// (empty id, unknown kind, or a socks5 entry without host and port).
	ErrInvalidProxy = errors.New("invalid proxy definition")
)
