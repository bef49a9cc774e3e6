// Package database provides the SQLite journal for torfallback.
//
// The Journal stores:
//   - Proxy status transitions reported by the registry
//   - Block verdicts produced by session controllers
//   - Probe results from failover and circuit renewal
//
// Design decision: The journal is append-only and never read on the hot
// path. Sessions keep their own in-memory history; the journal exists so
// the operator can look back across restarts ("history" command) and tell
// a real IP block apart from a credential problem.
//
// SQLite (via modernc.org/sqlite) keeps the journal a single CGO-free file.
package database
