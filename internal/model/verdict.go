package model

import "time"

// VerdictKind tags a BlockVerdict.
type VerdictKind int

const (
	// VerdictOk means the interaction was not blocked and did not fail on the network.
	VerdictOk VerdictKind = iota

	// VerdictBlocked means the target service rejected the interaction in the
	// way it does when the egress address is blocked.
	VerdictBlocked

	// VerdictTransient means the interaction failed with a network or timeout
	// error that is worth retrying on the same egress path.
	VerdictTransient
)

// String returns the name used in logs and replies.
func (k VerdictKind) String() string {
	switch k {
	case VerdictOk:
		return "ok"
	case VerdictBlocked:
		return "blocked"
	case VerdictTransient:
		return "transient-error"
	default:
		return "unknown"
	}
}

// BlockVerdict is the classification of one target-service interaction.
// Use Ok, Blocked and Transient to build values.
type BlockVerdict struct {
	// Kind is the verdict tag.
	Kind VerdictKind

	// Reason explains a Blocked verdict (e.g., the matched signature).
	Reason string

	// Cause is the error behind a Transient verdict.
	Cause error
}

// Ok returns the verdict for an interaction that was neither blocked nor failed.
func Ok() BlockVerdict {
	return BlockVerdict{Kind: VerdictOk}
}

// Blocked returns a Blocked verdict with the given reason.
func Blocked(reason string) BlockVerdict {
	return BlockVerdict{Kind: VerdictBlocked, Reason: reason}
}

// Transient returns a TransientError verdict wrapping cause.
func Transient(cause error) BlockVerdict {
	return BlockVerdict{Kind: VerdictTransient, Cause: cause}
}

// String returns a compact description such as "blocked: signature matched".
func (v BlockVerdict) String() string {
	switch v.Kind {
	case VerdictBlocked:
		if v.Reason != "" {
			return v.Kind.String() + ": " + v.Reason
		}
	case VerdictTransient:
		if v.Cause != nil {
			return v.Kind.String() + ": " + v.Cause.Error()
		}
	}
	return v.Kind.String()
}

// VerdictRecord is one entry of a session's verdict history.
type VerdictRecord struct {
	// SessionID identifies the session that produced the verdict.
	SessionID string `json:"sessionId"`

	// ProxyID is the proxy that was active when the verdict was produced.
	ProxyID string `json:"proxyId"`

	// Verdict is the classification.
	Verdict BlockVerdict `json:"-"`

	// At is when the verdict was produced.
	At time.Time `json:"at"`
}
