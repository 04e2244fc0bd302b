package gate

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/proctriage/triage/internal/budget"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPolicy() *policy.Bundle {
	return &policy.Bundle{
		PosteriorThresholds: map[model.ActionKind]float64{model.ActionKill: 0.8},
		BlastRadiusCaps:     model.BlastRadius{MemoryMB: 1000, ChildCount: 5, ConnectionCount: 20, OpenFiles: 50},
		FDR:                 policy.FDRSettings{TargetAlpha: 0.05},
		ProtectedPatterns:   []string{"sshd*"},
	}
}

func testLedger(t *testing.T, wealth float64) *budget.Ledger {
	t.Helper()
	l, err := budget.Open(context.Background(), filepath.Join(t.TempDir(), "b.db"), budget.Settings{
		InitialWealth: wealth, ResetWindow: time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func baseInputs(t *testing.T) Inputs {
	id := model.Identity{PID: 500, StartID: "boot:1:500"}
	return Inputs{
		PlannedIdentity:   id,
		CurrentIdentity:   id,
		CmdFull:           "node server.js",
		Action:            model.ActionKill,
		PlanTimePosterior: map[model.ClassLabel]float64{model.ClassAbandoned: 0.95},
		Policy:            testPolicy(),
		Ledger:            testLedger(t, 1),
	}
}

func TestEvaluatePassesAllGates(t *testing.T) {
	res, err := Evaluate(context.Background(), baseInputs(t))
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, "ok", res.String())
}

func TestEvaluateBlocksOnIdentityMismatch(t *testing.T) {
	in := baseInputs(t)
	in.CurrentIdentity = model.Identity{PID: 500, StartID: "boot:2:500"}
	res, err := Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, model.GateIdentityValid, res.Blocked)
}

func TestEvaluateBlocksOnProtectedPattern(t *testing.T) {
	in := baseInputs(t)
	in.CmdFull = "/usr/sbin/sshd -D"
	res, err := Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, model.GateNotProtected, res.Blocked)
}

func TestEvaluateSupervisorCheckIsSoftGate(t *testing.T) {
	in := baseInputs(t)
	in.SupervisorDetected = true
	res, err := Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Contains(t, res.Warnings, model.GateSupervisorCheck)
	assert.Equal(t, "warn:supervisor_check", res.String())
}

func TestEvaluateBlocksBelowPosteriorThreshold(t *testing.T) {
	in := baseInputs(t)
	in.PlanTimePosterior = map[model.ClassLabel]float64{model.ClassAbandoned: 0.5}
	res, err := Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, model.GatePosteriorThreshold, res.Blocked)
}

func TestEvaluateUsesRecheckedPosteriorWhenProvided(t *testing.T) {
	in := baseInputs(t)
	in.PlanTimePosterior = map[model.ClassLabel]float64{model.ClassAbandoned: 0.95}
	in.CurrentPosterior = map[model.ClassLabel]float64{model.ClassAbandoned: 0.5}
	res, err := Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, model.GatePosteriorThreshold, res.Blocked)
}

func TestEvaluateBlocksOnBlastRadiusCap(t *testing.T) {
	in := baseInputs(t)
	in.BlastRadiusSoFar = model.BlastRadius{ChildCount: 4}
	in.ThisActionBlast = model.BlastRadius{ChildCount: 2}
	res, err := Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, model.GateBlastRadiusLimit, res.Blocked)
}

func TestEvaluateBlocksOnBudgetExhausted(t *testing.T) {
	in := baseInputs(t)
	in.Ledger = testLedger(t, 0.001)
	res, err := Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.False(t, res.Passed)
	assert.Equal(t, model.GateFDRBudget, res.Blocked)
}

func TestEvaluateSkipsBudgetGateForNonRejectionActions(t *testing.T) {
	in := baseInputs(t)
	in.Action = model.ActionPause
	in.Ledger = testLedger(t, 0.0)
	res, err := Evaluate(context.Background(), in)
	require.NoError(t, err)
	assert.True(t, res.Passed)
}
