// Package probe checks whether an egress proxy can reach the internet and
// which public address the outside world sees through it.
//
// A probe is one GET request to a known-good endpoint (by default
// http://httpbin.org/ip) made through the proxy under a hard timeout. The
// prober never returns an error: every failure, including a timeout, is
// reported as an unreachable ProbeResult with a reason.
//
// The prober does not touch the proxy registry. Callers decide whether a
// result should mark a proxy live or dead.
package probe
