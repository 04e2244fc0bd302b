package model

import "time"

// LedgerTerm is one feature family's log-odds contribution toward each
// class, as emitted by the Inference Engine (4.E step 6).
type LedgerTerm struct {
	Family       string             `json:"family"`
	LogOddsByCls map[ClassLabel]float64 `json:"log_odds_by_class"`
	Note         string             `json:"note,omitempty"` // e.g. "category=unknown"
}

// BlastRadius summarizes the resources and dependents impacted by acting on
// a target (4.C, required field per §6).
type BlastRadius struct {
	MemoryMB            float64   `json:"memory_mb"`
	CPUPct              float64   `json:"cpu_pct"`
	ChildCount          int       `json:"child_count"`
	ConnectionCount     int       `json:"connection_count"`
	OpenFiles           int       `json:"open_files"`
	DependentProcesses  []int     `json:"dependent_processes"`
	RiskLevel           RiskLevel `json:"risk_level"`
	Summary             string    `json:"summary"`
}

// Reversibility summarizes whether acting on a target can be undone (4.C).
type Reversibility struct {
	Reversible      bool     `json:"reversible"`
	RecoveryOptions []string `json:"recovery_options"`
	DataAtRisk      bool     `json:"data_at_risk"`
	OpenWriteFDs    []string `json:"open_write_fds"`
}

// SupervisorInfo is the authoritative, Evidence-Store-verified supervisor
// match for a candidate (distinct from the raw SupervisorHint on a Sample).
type SupervisorInfo struct {
	Detected          bool           `json:"detected"`
	Type              SupervisorType `json:"type"`
	Unit              string         `json:"unit,omitempty"`
	RecommendedAction string         `json:"recommended_action,omitempty"`
	SupervisorCommand string         `json:"supervisor_command,omitempty"`
}

// UncertaintyReport describes why a posterior is or isn't robust (4.E step
// 7).
type UncertaintyReport struct {
	ConfidenceLevel    ConfidenceBand `json:"confidence_level"`
	UncertaintyDrivers []string       `json:"uncertainty_drivers"`
	DecisionRobustness float64        `json:"decision_robustness"`
}

// Posterior is the per-class probability mapping plus its confidence band.
// Invariant: sums to 1 within 1e-9 (testable property 3).
type Posterior struct {
	Probabilities map[ClassLabel]float64 `json:"probabilities"`
	Confidence    ConfidenceBand         `json:"confidence"`
}

// DeterministicFeatures are the features derived purely from the sample
// window, with no external lookups (4.C).
type DeterministicFeatures struct {
	OccupancyRate   float64 `json:"occupancy_rate"`
	NEff            float64 `json:"n_eff"`
	IdleRunLength   float64 `json:"idle_run_length_sec"`
	RuntimeSec      float64 `json:"runtime_sec"`
	OrphanFlag      bool    `json:"orphan_flag"`
	OrphanContext   string  `json:"orphan_context,omitempty"` // "" | "supervised-reparented"
	CommandCategory string  `json:"command_category"`
	HasTTY          bool    `json:"has_tty"`
	NetworkActive   bool    `json:"network_active"`
	IOActive        bool    `json:"io_active"`
	// ChangePointProbability is the BOCPD posterior mass on "a change point
	// occurred at the most recent sample" (4.D), derived purely from this
	// window's CPU-activity sequence. The Decision Engine's caller compares
	// it against the priors bundle's hazard rate to decide DRO entry (4.F
	// rule 6); Evidence Store itself makes no policy judgment from it.
	ChangePointProbability float64 `json:"change_point_probability"`
}

// Candidate is a per-PID record combining N samples and derived features
// (spec.md §3).
type Candidate struct {
	Identity      Identity              `json:"identity"`
	WindowStart   time.Time             `json:"window_start"`
	WindowEnd     time.Time             `json:"window_end"`
	PPID          int                   `json:"ppid"`
	CmdShort      string                `json:"cmd_short"`
	CmdFull       string                `json:"cmd_full"`
	StateFlag     ProcState             `json:"state_flag"`
	Features      DeterministicFeatures `json:"features"`
	Supervisor    SupervisorInfo        `json:"supervisor"`
	BlastRadius   BlastRadius           `json:"blast_radius"`
	Reversibility Reversibility         `json:"reversibility"`
	Ledger        []LedgerTerm          `json:"evidence_ledger"`

	// Populated by the Inference Engine.
	Classification   ClassLabel        `json:"classification"`
	Posterior        Posterior         `json:"posterior"`
	Uncertainty      UncertaintyReport `json:"uncertainty"`

	// Populated by the Decision Engine.
	RecommendedAction ActionKind `json:"recommended_action"`
	ActionRationale    string     `json:"action_rationale"`
}
