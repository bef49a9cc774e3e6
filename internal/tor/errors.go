package tor

import "errors"

// SOCKS5 proxy and control port errors.
//
// Design decision: Specific sentinels let callers report "Tor is not running"
// differently from "something else is listening on the port".
var (
	// ErrNotSOCKS5 is returned when the proxy address responds but does not
	// behave like an unauthenticated SOCKS5 proxy.
	ErrNotSOCKS5 = errors.New("proxy is not an unauthenticated SOCKS5 proxy")

	// ErrProxyCannotConnect is returned when no TCP connection to the proxy
	// address can be established. Usually Tor is not running.
	ErrProxyCannotConnect = errors.New("cannot connect to SOCKS5 proxy")

	// ErrProxyTimeout is returned when the proxy does not answer in time.
	ErrProxyTimeout = errors.New("timeout connecting to SOCKS5 proxy")

	// ErrInvalidProxyAddress is returned when an address is not "host:port".
	ErrInvalidProxyAddress = errors.New("invalid proxy address format: expected host:port")

	// ErrControlAuth is returned when the control port rejects authentication.
	ErrControlAuth = errors.New("tor control port authentication failed")

	// ErrControlRejected is returned when the control port rejects a command.
	ErrControlRejected = errors.New("tor control port rejected command")
)

// ProxyStatus is the result of a SOCKS5 handshake check.
type ProxyStatus int

const (
	// ProxyStatusOK indicates the address speaks unauthenticated SOCKS5.
	ProxyStatusOK ProxyStatus = iota

	// ProxyStatusWrongType indicates something answered, but not SOCKS5 without auth.
	ProxyStatusWrongType

	// ProxyStatusCannotConnect indicates the TCP connection failed.
	ProxyStatusCannotConnect

	// ProxyStatusTimeout indicates the check ran out of time.
	ProxyStatusTimeout
)

// String returns a human-readable description of the status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusOK:
		return "OK"
	case ProxyStatusWrongType:
		return "not a SOCKS5 proxy"
	case ProxyStatusCannotConnect:
		return "cannot connect"
	case ProxyStatusTimeout:
		return "timeout"
	default:
		return "unknown"
	}
}

// Error returns the sentinel matching the status, or nil for ProxyStatusOK.
func (s ProxyStatus) Error() error {
	switch s {
	case ProxyStatusOK:
		return nil
	case ProxyStatusWrongType:
		return ErrNotSOCKS5
	case ProxyStatusCannotConnect:
		return ErrProxyCannotConnect
	case ProxyStatusTimeout:
		return ErrProxyTimeout
	default:
		return errors.New("unknown proxy status")
	}
}
