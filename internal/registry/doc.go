// Package registry holds the set of candidate egress proxies and their
// live/dead status.
//
// The registry is shared by every session controller in the process.
// Membership is guarded by a registry-wide read/write lock, while the status
// of each proxy is guarded by a lock on its own record. Sessions that update
// different proxies therefore never wait for each other.
//
// Selection is a simple ordered fallback: NextCandidate returns the first
// live proxy in registration order, or the first unknown one when no live
// proxy is left. Failover is rare, so predictable ordering matters more than
// spreading load.
package registry
