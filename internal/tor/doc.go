// Package tor provides SOCKS5 connectivity to an externally provisioned Tor
// daemon.
//
// Client wraps a SOCKS5 dialer and can verify, at the protocol level, that
// the configured address really speaks SOCKS5. ControlClient talks to Tor's
// control port to request a fresh circuit, which gives a blocked Tor egress
// path a new exit address.
//
// The package never starts or stops Tor itself. The daemon is expected to be
// running already (e.g., "SocksPort 9050" and "ControlPort 9051" in torrc).
//
// Design decision: Clients are plain values created by the caller and passed
// to the components that need them, rather than package-level state.
package tor
