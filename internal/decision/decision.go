// Package decision is the Decision Engine (spec.md §4.F): it turns a
// Candidate's Posterior, the policy bundle, and the alpha-investing budget
// into a recommended action plus a gate annotation. All seven rules in
// spec.md §4.F run in order; rule 7 (Protected) short-circuits before any
// of the others are consulted.
package decision

import (
	"context"
	"fmt"
	"time"

	"github.com/proctriage/triage/internal/budget"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/policy"
)

// ApprovalRule is a pre-approved auto-mitigation rule, consulted before a
// recommended action is downgraded to review purely for lack of approval.
// Adapted from the teacher's remediation ApprovalRule/IsAutoApproved
// mechanism: "remediation plan" becomes "per-PID plan action" here.
type ApprovalRule struct {
	ID           string
	Enabled      bool
	ResourceType string // empty = any; matched against Candidate.Features.CommandCategory
	Action       model.ActionKind
	MaxRiskLevel model.RiskLevel
}

var riskOrder = map[model.RiskLevel]int{
	model.RiskNone:     0,
	model.RiskLow:      1,
	model.RiskMedium:   2,
	model.RiskHigh:     3,
	model.RiskCritical: 4,
}

// IsAutoApproved reports whether any enabled rule covers the given action,
// resource category and risk level.
func IsAutoApproved(rules []ApprovalRule, action model.ActionKind, resourceType string, risk model.RiskLevel) bool {
	for _, r := range rules {
		if !r.Enabled || r.Action != action {
			continue
		}
		if r.ResourceType != "" && r.ResourceType != resourceType {
			continue
		}
		if riskOrder[risk] > riskOrder[r.MaxRiskLevel] {
			continue
		}
		return true
	}
	return false
}

// DROState tracks whether Distributionally Robust Optimization mode is
// active — entered when a posterior-predictive check or drift indicator
// trips, and cleared by the caller once drift subsides (spec.md §4.F rule
// 6). The Decision Engine only reads this; detecting drift is the caller's
// concern (fed by the BOCPD change-point probability from internal/mathkernel).
type DROState struct {
	Active bool
}

// Decision is the Decision Engine's output for one candidate.
type Decision struct {
	Action       model.ActionKind
	Rationale    string
	GateNote     string // "", "budget_exhausted", "blast_radius_downgrade", "reversibility_downgrade"
	AlphaSpent   float64
}

// Engine evaluates candidates against a policy bundle and a budget ledger.
type Engine struct {
	Policy         *policy.Bundle
	Ledger         *budget.Ledger
	ApprovalRules  []ApprovalRule
	DRO            DROState
}

// New builds a decision Engine bound to a policy bundle and budget ledger.
func New(p *policy.Bundle, ledger *budget.Ledger, rules []ApprovalRule) *Engine {
	return &Engine{Policy: p, Ledger: ledger, ApprovalRules: rules}
}

// Evaluate runs all seven rules of spec.md §4.F against one candidate and
// returns the recommended action and its rationale.
func (e *Engine) Evaluate(ctx context.Context, c model.Candidate, sessionID string) (Decision, error) {
	// Rule 7: Protected — PID 1, kernel threads, pattern-matched commands
	// are never selected regardless of score.
	if c.Identity.PID == 1 || isKernelThread(c) || e.Policy.IsProtected(c.CmdFull) {
		return Decision{Action: model.ActionSpare, Rationale: "protected"}, nil
	}

	// Zombie is never directly killable; route to reap/resolve.
	if c.StateFlag == model.ProcStateZombie {
		return Decision{Action: model.ActionResolveZombie, Rationale: "zombie_state"}, nil
	}

	// Rule 1: expected-loss action.
	action := e.expectedLossAction(c.Posterior.Probabilities)

	threshold := e.Policy.PosteriorThresholds[action]
	if e.DRO.Active {
		threshold += e.Policy.DROTighteningFactor
	}

	// Rule 2: SPRT-style stop — the largest class posterior must clear the
	// policy's posterior threshold for the winning action.
	maxP := maxProbability(c.Posterior.Probabilities)
	if maxP < threshold {
		return Decision{Action: model.ActionReview, Rationale: "below_posterior_threshold"}, nil
	}

	// Rule 3: dependency-weighted loss — applied as a downgrade on raw
	// severity only: a kill against a critical-risk candidate becomes
	// review. The loss matrix's kill cost is not scaled by blast radius.
	if action == model.ActionKill && c.BlastRadius.RiskLevel == model.RiskCritical {
		return Decision{Action: model.ActionReview, Rationale: "blast_radius_critical", GateNote: "blast_radius_downgrade"}, nil
	}

	// Rule 4: reversibility gate.
	if action == model.ActionKill && (c.Reversibility.DataAtRisk || len(c.Reversibility.OpenWriteFDs) > 0) {
		downgrade := model.ActionPause
		if !c.Reversibility.Reversible {
			downgrade = model.ActionReview
		}
		return Decision{Action: downgrade, Rationale: "reversibility_gate", GateNote: "reversibility_downgrade"}, nil
	}

	// Rule 5: supervisor routing — prefer the supervisor's own stop command
	// over a direct signal when one is detected.
	if c.Supervisor.Detected && (action == model.ActionKill || action == model.ActionRestart) {
		action = model.ActionSupervisorStop
	}

	// Rule 6: FDR / alpha-investing budget, only consulted for rejections
	// (kill and its supervisor-routed equivalent).
	if action == model.ActionKill || action == model.ActionSupervisorStop {
		alphaT := e.Policy.FDR.TargetAlpha
		ok, err := e.Ledger.CanAfford(ctx, alphaT)
		if err != nil {
			return Decision{}, fmt.Errorf("decision: budget check: %w", err)
		}
		if !ok {
			return Decision{Action: model.ActionReview, Rationale: "budget_exhausted", GateNote: "budget_exhausted"}, nil
		}
		if _, err := e.Ledger.Spend(ctx, sessionID, alphaT); err != nil {
			return Decision{}, fmt.Errorf("decision: budget spend: %w", err)
		}
		return Decision{Action: action, Rationale: "expected_loss_minimizer", AlphaSpent: alphaT}, nil
	}

	// Auto-mitigation gating: if the policy doesn't allow this action kind
	// to run without explicit approval, and no approval rule pre-clears it,
	// downgrade to review.
	if !e.Policy.IsAutoMitigationAllowed(action) && !IsAutoApproved(e.ApprovalRules, action, c.Features.CommandCategory, c.BlastRadius.RiskLevel) {
		return Decision{Action: model.ActionReview, Rationale: "requires_approval"}, nil
	}

	return Decision{Action: action, Rationale: "expected_loss_minimizer"}, nil
}

// ConfirmRejection credits the budget ledger with omega once the Verifier
// confirms a prior kill/supervisor-stop actually took effect.
func (e *Engine) ConfirmRejection(ctx context.Context, sessionID string) error {
	_, err := e.Ledger.Earn(ctx, sessionID, e.Policy.FDR.RewardOnAccept)
	return err
}

func (e *Engine) expectedLossAction(posterior map[model.ClassLabel]float64) model.ActionKind {
	var best model.ActionKind
	bestLoss := -1.0
	for action := range e.Policy.LossMatrix {
		loss := e.Policy.ExpectedLoss(action, posterior)
		if bestLoss < 0 || loss < bestLoss {
			bestLoss = loss
			best = action
		}
	}
	return best
}

func maxProbability(probs map[model.ClassLabel]float64) float64 {
	max := 0.0
	for _, p := range probs {
		if p > max {
			max = p
		}
	}
	return max
}

// isKernelThread reports whether a candidate looks like a kernel thread
// ([kworker/0:1] etc.) by its PPID alone: PPID 2 (kthreadd). The command
// line is not inspected.
func isKernelThread(c model.Candidate) bool {
	return c.PPID == 2
}

// DriftCheckInterval is how often a caller should re-evaluate DRO entry
// against the BOCPD change-point probability. Kept here, not in mathkernel,
// since it is a decision-policy knob rather than a math constant.
const DriftCheckInterval = 30 * time.Second

// ShouldEnterDRO reports whether a BOCPD change-point probability trips DRO
// mode: it trips when the probability exceeds 1 - hazard, where hazard is
// the priors bundle's BOCPD hazard rate.
func ShouldEnterDRO(changePointProbability, hazard float64) bool {
	return changePointProbability > 1-hazard
}
