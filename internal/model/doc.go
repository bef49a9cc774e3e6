// Package model defines the value types shared by the failover components.
//
// This package contains the following main types:
//   - Proxy: A registered egress path (direct connection or SOCKS5 proxy)
//   - BlockVerdict: The classification of a single target-service interaction
//   - SessionState: The state of a session controller
//   - ProbeResult: The outcome of a reachability check through a proxy
//
// Design decision: The registry, probe, detector and session packages all
// exchange these types. Keeping them in a leaf package avoids import cycles
// between those packages.
package model
