// Package planbuilder is the Plan Builder (spec.md §4.G): a pure data
// transform grouping per-PID Decision Engine outputs into staged
// PlanActions. It performs no I/O and holds no OS handles.
package planbuilder

import (
	"time"

	"github.com/proctriage/triage/internal/decision"
	"github.com/proctriage/triage/internal/model"
)

// DefaultGraceWindow is the wait between TERM and KILL escalation
// (spec.md §4.G: "default 10 s").
const DefaultGraceWindow = 10 * time.Second

// Input pairs one candidate with the Decision Engine's verdict for it.
type Input struct {
	Candidate model.Candidate
	Decision  decision.Decision
}

// Options configures plan construction.
type Options struct {
	GraceWindow float64 // seconds; 0 uses DefaultGraceWindow
}

// stageOf maps an action kind to its escalation stage (spec.md §4.G).
// review and spare are not staged actions: they never enter Plan.Actions.
func stageOf(action model.ActionKind) (stage int, staged bool) {
	switch action {
	case model.ActionPause, model.ActionThrottle, model.ActionRenice, model.ActionResolveZombie:
		return 0, true
	case model.ActionSupervisorStop:
		return 1, true
	case model.ActionKill, model.ActionRestart:
		return 2, true
	default: // ActionReview, ActionSpare
		return 0, false
	}
}

// Build groups inputs into a Plan. policyCtx snapshots the policy knobs the
// plan is built under, so a resumed session replays against the values it
// was planned with (spec.md §6 "Plan Action" / §3 Session notes).
func Build(sessionID string, inputs []Input, policyCtx model.PolicyContext, opts Options) model.Plan {
	grace := DefaultGraceWindow
	if opts.GraceWindow > 0 {
		grace = time.Duration(opts.GraceWindow * float64(time.Second))
	}

	gates := model.OrderedGates()
	plan := model.Plan{
		SessionID: sessionID,
		Policy:    policyCtx,
	}

	for _, in := range inputs {
		stage, staged := stageOf(in.Decision.Action)
		if !staged {
			continue
		}

		action := model.PlanAction{
			Target:    in.Candidate.Identity,
			Action:    in.Decision.Action,
			Stage:     stage,
			Gates:     gates,
			Rationale: in.Decision.Rationale,
		}
		if in.Decision.Action == model.ActionKill {
			action.Escalation = model.EscalationPolicy{GraceWindow: grace}
		}
		plan.Actions = append(plan.Actions, action)
	}

	plan.RecommendedIdx = recommendedIndices(plan.Actions)
	return plan
}

// recommendedIndices is every staged action's index, in the order they were
// appended — the Plan Builder recommends every action it stages; actions
// the Decision Engine downgraded to review/spare were already excluded.
func recommendedIndices(actions []model.PlanAction) []int {
	if len(actions) == 0 {
		return nil
	}
	idx := make([]int, len(actions))
	for i := range actions {
		idx[i] = i
	}
	return idx
}
