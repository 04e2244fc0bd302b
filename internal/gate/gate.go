// Package gate is the Gate Evaluator (spec.md §4.H): a fixed, fail-fast
// chain run immediately before acting on a plan action. Only
// supervisor_check is a soft gate (model.RequiredGate); every other failed
// gate blocks the action.
package gate

import (
	"context"
	"fmt"

	"github.com/proctriage/triage/internal/apperrors"
	"github.com/proctriage/triage/internal/budget"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/policy"
	"github.com/proctriage/triage/internal/safety"
)

// Inputs bundles everything one gate pass needs. CurrentIdentity is the
// freshly re-read identity tuple (identity_valid re-reads it immediately
// before acting, spec.md §4.H step 1); PlannedIdentity is what the plan was
// built against.
type Inputs struct {
	PlannedIdentity    model.Identity
	CurrentIdentity    model.Identity
	CmdFull            string
	SupervisorDetected bool
	Action             model.ActionKind
	SupervisorArgv     []string // the argv the Action Executor would run for a supervisor-routed action; nil when none applies
	PlanTimePosterior  map[model.ClassLabel]float64
	CurrentPosterior   map[model.ClassLabel]float64 // nil unless --recheck is configured
	BlastRadiusSoFar   model.BlastRadius
	ThisActionBlast    model.BlastRadius
	Policy             *policy.Bundle
	Ledger             *budget.Ledger
}

// Result is the outcome of one full gate pass.
type Result struct {
	Passed   bool
	Blocked  model.GateName // set iff !Passed
	Warnings []model.GateName
	Detail   string
}

// String renders the progress.jsonl gate_result column
// ("ok" | "blocked:<gate>" | "warn:<gate>").
func (r Result) String() string {
	if !r.Passed {
		return fmt.Sprintf("blocked:%s", r.Blocked)
	}
	if len(r.Warnings) > 0 {
		return fmt.Sprintf("warn:%s", r.Warnings[0])
	}
	return "ok"
}

// Evaluate runs every gate in model.OrderedGates(), fail-fast on the first
// failed required gate.
func Evaluate(ctx context.Context, in Inputs) (Result, error) {
	var warnings []model.GateName

	for _, g := range model.OrderedGates() {
		ok, detail, err := evalOne(ctx, g, in)
		if err != nil {
			return Result{}, err
		}
		if !ok {
			if model.RequiredGate(g) {
				return Result{Passed: false, Blocked: g, Detail: detail}, nil
			}
			warnings = append(warnings, g)
		}
	}
	return Result{Passed: true, Warnings: warnings}, nil
}

func evalOne(ctx context.Context, g model.GateName, in Inputs) (ok bool, detail string, err error) {
	switch g {
	case model.GateIdentityValid:
		if !in.PlannedIdentity.Equal(in.CurrentIdentity) {
			return false, apperrors.IdentityMismatch(in.PlannedIdentity.String(), in.CurrentIdentity.String()).Message, nil
		}
		return true, "", nil

	case model.GateNotProtected:
		if in.CurrentIdentity.PID == 1 || in.Policy.IsProtected(in.CmdFull) {
			return false, "protected pattern match", nil
		}
		return true, "", nil

	case model.GateSupervisorCheck:
		directSignal := in.Action == model.ActionKill || in.Action == model.ActionPause || in.Action == model.ActionThrottle || in.Action == model.ActionRenice
		if in.SupervisorDetected && directSignal {
			return false, "direct action bypasses detected supervisor", nil
		}
		if in.Action == model.ActionSupervisorStop || in.Action == model.ActionRestart {
			if err := safety.RequireMutating(in.SupervisorArgv); err != nil {
				return false, err.Error(), nil
			}
		}
		return true, "", nil

	case model.GatePosteriorThreshold:
		posterior := in.PlanTimePosterior
		if in.CurrentPosterior != nil {
			posterior = in.CurrentPosterior
		}
		threshold := in.Policy.PosteriorThresholds[in.Action]
		if maxProbability(posterior) < threshold {
			return false, "posterior dropped below configured floor", nil
		}
		return true, "", nil

	case model.GateBlastRadiusLimit:
		caps := in.Policy.BlastRadiusCaps
		projected := sumBlastRadius(in.BlastRadiusSoFar, in.ThisActionBlast)
		if exceedsCaps(projected, caps) {
			return false, "cumulative blast radius exceeds policy caps", nil
		}
		return true, "", nil

	case model.GateFDRBudget:
		if in.Action != model.ActionKill && in.Action != model.ActionSupervisorStop {
			return true, "", nil
		}
		canAfford, err := in.Ledger.CanAfford(ctx, in.Policy.FDR.TargetAlpha)
		if err != nil {
			return false, "", fmt.Errorf("gate: fdr_budget check: %w", err)
		}
		if !canAfford {
			return false, "budget_exhausted", nil
		}
		return true, "", nil

	default:
		return false, "", fmt.Errorf("gate: unknown gate %q", g)
	}
}

func maxProbability(posterior map[model.ClassLabel]float64) float64 {
	max := 0.0
	for _, p := range posterior {
		if p > max {
			max = p
		}
	}
	return max
}

func sumBlastRadius(a, b model.BlastRadius) model.BlastRadius {
	return model.BlastRadius{
		MemoryMB:        a.MemoryMB + b.MemoryMB,
		CPUPct:          a.CPUPct + b.CPUPct,
		ChildCount:      a.ChildCount + b.ChildCount,
		ConnectionCount: a.ConnectionCount + b.ConnectionCount,
		OpenFiles:       a.OpenFiles + b.OpenFiles,
	}
}

func exceedsCaps(projected, caps model.BlastRadius) bool {
	if caps.MemoryMB > 0 && projected.MemoryMB > caps.MemoryMB {
		return true
	}
	if caps.ChildCount > 0 && projected.ChildCount > caps.ChildCount {
		return true
	}
	if caps.ConnectionCount > 0 && projected.ConnectionCount > caps.ConnectionCount {
		return true
	}
	if caps.OpenFiles > 0 && projected.OpenFiles > caps.OpenFiles {
		return true
	}
	return false
}
