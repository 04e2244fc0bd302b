// Package model holds the shared data types that flow through the triage
// pipeline: identity tuples, samples, candidates, posteriors, plans, and
// sessions. Components depend on these types rather than redefining them.
package model

import "fmt"

// Identity anchors every action against PID reuse. Any action on a process
// must re-read this tuple immediately before acting and abort if any field
// differs from the planned value.
type Identity struct {
	PID     int    `json:"pid"`
	StartID string `json:"start_id"` // "<boot_id>:<start_time_ticks>:<pid>"
	UID     int    `json:"uid"`
}

// NewStartID builds the composite start identifier from its three parts.
func NewStartID(bootID string, startTicks uint64, pid int) string {
	return fmt.Sprintf("%s:%d:%d", bootID, startTicks, pid)
}

// Equal reports whether two identities refer to the same process instance.
func (id Identity) Equal(other Identity) bool {
	return id.PID == other.PID && id.StartID == other.StartID && id.UID == other.UID
}

// String renders the identity for logs and audit records.
func (id Identity) String() string {
	return fmt.Sprintf("pid=%d start_id=%s uid=%d", id.PID, id.StartID, id.UID)
}
