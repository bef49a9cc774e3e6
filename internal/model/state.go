package model

// SessionState is the state of a session controller.
//
// The normal cycle is Idle -> Active -> Blocked -> Retrying -> Active.
// Exhausted is terminal for the session; only a new start leaves it.
type SessionState int

const (
	// SessionIdle means no session is running.
	SessionIdle SessionState = iota

	// SessionActive means operations run through the active proxy.
	SessionActive

	// SessionBlocked means the last operation was classified as blocked.
	SessionBlocked

	// SessionRetrying means a failover to the next candidate is in progress.
	SessionRetrying

	// SessionExhausted means no usable proxy is left or the switch budget ran out.
	SessionExhausted
)

// String returns the lower-case name of the state.
func (s SessionState) String() string {
	switch s {
	case SessionIdle:
		return "idle"
	case SessionActive:
		return "active"
	case SessionBlocked:
		return "blocked"
	case SessionRetrying:
		return "retrying"
	case SessionExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// Running reports whether the session holds an active proxy.
func (s SessionState) Running() bool {
	return s == SessionActive || s == SessionBlocked || s == SessionRetrying
}
