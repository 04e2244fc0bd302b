package model

import "time"

// Manifest is the session's identity record (manifest.json, spec.md §6).
type Manifest struct {
	SchemaVersion string       `json:"schema_version"`
	SessionID     string       `json:"session_id"`
	HostID        string       `json:"host_id"`
	State         SessionState `json:"state"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	Phase         string       `json:"phase"`
	Resumable     bool         `json:"resumable"`
}

// ProgressRecord is one line of progress.jsonl: one record per action event.
type ProgressRecord struct {
	Seq           uint64         `json:"seq"`
	Timestamp     time.Time      `json:"ts"`
	Target        Identity       `json:"target"`
	Action        ActionKind     `json:"action"`
	GateResult    string         `json:"gate_result"` // "ok" | "blocked:<gate>" | "warn:<gate>"
	Outcome       ActionOutcome  `json:"outcome"`
	DurationMS    int64          `json:"duration_ms"`
	MemoryFreedMB *float64       `json:"memory_freed_mb,omitempty"`
	VerifyResult  *VerifyOutcome `json:"verify_result,omitempty"`
}

// Outcomes is the rollup derived from progress.jsonl (outcomes.json).
type Outcomes struct {
	Total     int                         `json:"total"`
	ByOutcome map[ActionOutcome]int       `json:"by_outcome"`
	ByAction  map[ActionKind]int          `json:"by_action"`
	Records   []ProgressRecord            `json:"records"`
}

// Rollup recomputes Outcomes from a progress record stream. Pure function so
// resume never reconstructs in-memory scheduler state from anything but
// manifest.state + progress.jsonl (DESIGN NOTES §9).
func Rollup(records []ProgressRecord) Outcomes {
	out := Outcomes{
		ByOutcome: make(map[ActionOutcome]int),
		ByAction:  make(map[ActionKind]int),
		Records:   records,
	}
	for _, r := range records {
		out.Total++
		out.ByOutcome[r.Outcome]++
		out.ByAction[r.Action]++
	}
	return out
}

// AuditRecord is one append-only line in audit.log.
type AuditRecord struct {
	ID        string    `json:"id"` // ULID, monotonic and sortable
	Timestamp time.Time `json:"ts"`
	SessionID string    `json:"session_id"`
	Kind      string    `json:"kind"` // e.g. "lock_acquired", "budget_breach", "cancelled", "gate_blocked"
	Detail    map[string]any `json:"detail,omitempty"`
}

// Envelope is the JSON envelope every response object from the pipeline
// carries (spec.md §6).
type Envelope struct {
	SchemaVersion string    `json:"schema_version"`
	SessionID     string    `json:"session_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	HostID        string    `json:"host_id"`
}

const CurrentSchemaVersion = "1.0.0"
