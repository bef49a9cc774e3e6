package model

import (
	"net"
	"strconv"
	"time"
)

// ProxyKind is the type of egress path a Proxy represents.
type ProxyKind string

const (
	// ProxyKindDirect routes traffic through the host's own network connection.
	ProxyKindDirect ProxyKind = "direct"

	// ProxyKindSOCKS5 routes traffic through a SOCKS5 forward proxy such as Tor.
	ProxyKindSOCKS5 ProxyKind = "socks5"
)

// IsValid reports whether k is a known proxy kind.
func (k ProxyKind) IsValid() bool {
	return k == ProxyKindDirect || k == ProxyKindSOCKS5
}

// ProxyStatus is the liveness state of a registered Proxy.
//
// Design decision: A proxy is never removed from the registry. Once it is
// known to be unusable it is marked dead, which keeps the registration order
// stable and lets operators see every egress path that was ever tried.
type ProxyStatus int

const (
	// ProxyStatusUnknown means the proxy has not been checked yet.
	ProxyStatusUnknown ProxyStatus = iota

	// ProxyStatusLive means the last check or request through the proxy succeeded.
	ProxyStatusLive

	// ProxyStatusDead means the proxy was blocked or could not be reached.
	ProxyStatusDead
)

// String returns the lower-case name of the status.
func (s ProxyStatus) String() string {
	switch s {
	case ProxyStatusUnknown:
		return "unknown"
	case ProxyStatusLive:
		return "live"
	case ProxyStatusDead:
		return "dead"
	default:
		return "invalid"
	}
}

// Usable reports whether a proxy in this status may be selected for traffic.
func (s ProxyStatus) Usable() bool {
	return s == ProxyStatusLive || s == ProxyStatusUnknown
}

// Proxy is a snapshot of one registered egress path.
// Values are copied out of the registry, so mutating a Proxy never changes
// registry state.
type Proxy struct {
	// ID uniquely identifies the proxy within a registry (e.g., "direct", "tor").
	ID string `json:"id" yaml:"id"`

	// Kind selects how connections are made through this proxy.
	Kind ProxyKind `json:"kind" yaml:"kind"`

	// Host is the SOCKS5 proxy host. Empty for direct entries.
	Host string `json:"host,omitempty" yaml:"host,omitempty"`

	// Port is the SOCKS5 proxy port. Zero for direct entries.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Status is the liveness state at the time the snapshot was taken.
	Status ProxyStatus `json:"status" yaml:"-"`

	// LastChecked is the last time the status was set. Zero if never checked.
	LastChecked time.Time `json:"lastChecked" yaml:"-"`
}

// Address returns the "host:port" form of the proxy endpoint.
// Direct entries have no endpoint and return an empty string.
func (p Proxy) Address() string {
	if p.Kind == ProxyKindDirect {
		return ""
	}
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// String returns a short description such as "tor (socks5 127.0.0.1:9050)".
func (p Proxy) String() string {
	if p.Kind == ProxyKindDirect {
		return p.ID + " (direct)"
	}
	return p.ID + " (" + string(p.Kind) + " " + p.Address() + ")"
}

// ProbeResult is the outcome of a reachability check through one proxy.
type ProbeResult struct {
	// ProxyID is the identifier of the probed proxy.
	ProxyID string `json:"proxyId"`

	// Reachable is true when the known-good endpoint answered through the proxy.
	Reachable bool `json:"reachable"`

	// EgressAddress is the public address observed by the endpoint, if it reported one.
	EgressAddress string `json:"egressAddress,omitempty"`

	// Latency is the time taken by the check. Zero when the check failed early.
	Latency time.Duration `json:"latency"`

	// Reason describes why the check failed. Empty when Reachable is true.
	Reason string `json:"reason,omitempty"`

	// CheckedAt is when the check finished.
	CheckedAt time.Time `json:"checkedAt"`
}
