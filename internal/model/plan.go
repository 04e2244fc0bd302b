package model

import "time"

// EscalationPolicy is the staged escalation for a kill action: TERM, wait up
// to GraceWindow, then KILL if the identity still resolves (4.G).
type EscalationPolicy struct {
	GraceWindow time.Duration `json:"grace_window"`
}

// PlanAction is one staged action against one identity (spec.md §3).
type PlanAction struct {
	Target      Identity         `json:"target"`
	Action      ActionKind       `json:"action"`
	Stage       int              `json:"stage"`
	Gates       []GateName       `json:"gates"`
	Escalation  EscalationPolicy `json:"escalation,omitempty"`
	Rationale   string           `json:"rationale"`
}

// PolicyContext snapshots the policy knobs a plan was built under, so a
// resumed session always replays against the values it was planned with.
type PolicyContext struct {
	LossMatrixVersion   string  `json:"loss_matrix_version"`
	PosteriorThresholds map[ActionKind]float64 `json:"posterior_thresholds"`
	BlastRadiusCaps     BlastRadius            `json:"blast_radius_caps"`
	FDRBudgetSnapshot   float64                `json:"fdr_budget_snapshot"`
}

// Plan is the ordered sequence of actions produced by the Plan Builder.
type Plan struct {
	SessionID        string         `json:"session_id"`
	CreatedAt        time.Time      `json:"created_at"`
	Actions          []PlanAction   `json:"actions"`
	RecommendedIdx   []int          `json:"recommended_idx"` // indices into Actions
	EstimatedRecovery string        `json:"estimated_recovery,omitempty"`
	Policy           PolicyContext  `json:"policy"`
}

// Stages returns the plan actions grouped by stage index, in stage order.
func (p Plan) Stages() [][]PlanAction {
	if len(p.Actions) == 0 {
		return nil
	}
	maxStage := 0
	for _, a := range p.Actions {
		if a.Stage > maxStage {
			maxStage = a.Stage
		}
	}
	stages := make([][]PlanAction, maxStage+1)
	for _, a := range p.Actions {
		stages[a.Stage] = append(stages[a.Stage], a)
	}
	return stages
}
