// Package session implements the controller that runs target-service
// operations and fails over between proxies when the service blocks the
// current egress address.
//
// A Controller owns exactly one session at a time. The registry is shared
// between controllers; everything else (active proxy, counters, verdict
// history) is owned by the controller and guarded by its mutex, which is
// held for the whole "read active proxy, run, classify, maybe swap"
// sequence. No proxy swap can therefore happen while a request is in
// flight on the same controller.
//
// States move Idle -> Active -> Blocked -> Retrying -> Active, end in
// Exhausted when the switch budget or the candidate list runs out, and go
// back to Idle on Stop.
package session
