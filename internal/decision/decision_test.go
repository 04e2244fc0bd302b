package decision

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
	lossRow := func(useful, usefulBad, abandoned, zombie float64) map[model.ClassLabel]float64 {
		return map[model.ClassLabel]float64{
			model.ClassUseful:    useful,
			model.ClassUsefulBad: usefulBad,
			model.ClassAbandoned: abandoned,
			model.ClassZombie:    zombie,
		}
	}
	return &policy.Bundle{
		Version: "1.0.0",
		LossMatrix: map[model.ActionKind]map[model.ClassLabel]float64{
			model.ActionKill:   lossRow(10, 2, 0, 0),
			model.ActionPause:  lossRow(3, 1, 0.5, 0),
			model.ActionReview: lossRow(1, 1, 1, 1),
			model.ActionSpare:  lossRow(0, 3, 5, 0),
		},
		PosteriorThresholds: map[model.ActionKind]float64{
			model.ActionKill:   0.8,
			model.ActionPause:  0.5,
			model.ActionReview: 0,
			model.ActionSpare:  0,
		},
		BlastRadiusCaps: model.BlastRadius{},
		FDR: policy.FDRSettings{
			InitialWealth:  2,
			TargetAlpha:    0.05,
			RewardOnAccept: 0.02,
		},
		ProtectedPatterns:     []string{"*systemd*", "sshd*"},
		AllowedAutoMitigation: []model.ActionKind{model.ActionKill, model.ActionPause, model.ActionSpare, model.ActionReview},
		DROTighteningFactor:   0.1,
	}
}

func testLedger(t *testing.T, wealth float64) *budget.Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "budget.db")
	l, err := budget.Open(context.Background(), path, budget.Settings{
		InitialWealth: wealth,
		TargetAlpha:   0.05,
		ResetWindow:   time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func abandonedPosterior() map[model.ClassLabel]float64 {
	return map[model.ClassLabel]float64{
		model.ClassUseful:    0.01,
		model.ClassUsefulBad: 0.01,
		model.ClassAbandoned: 0.97,
		model.ClassZombie:    0.01,
	}
}

func TestEvaluateProtectedPIDOne(t *testing.T) {
	e := New(testPolicy(), testLedger(t, 2), nil)
	c := model.Candidate{Identity: model.Identity{PID: 1}, Posterior: model.Posterior{Probabilities: abandonedPosterior()}}
	d, err := e.Evaluate(context.Background(), c, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionSpare, d.Action)
	assert.Equal(t, "protected", d.Rationale)
}

func TestEvaluateProtectedPatternMatch(t *testing.T) {
	e := New(testPolicy(), testLedger(t, 2), nil)
	c := model.Candidate{Identity: model.Identity{PID: 500}, CmdFull: "/usr/sbin/sshd -D", Posterior: model.Posterior{Probabilities: abandonedPosterior()}}
	d, err := e.Evaluate(context.Background(), c, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionSpare, d.Action)
}

func TestEvaluateZombieRoutesToResolve(t *testing.T) {
	e := New(testPolicy(), testLedger(t, 2), nil)
	c := model.Candidate{Identity: model.Identity{PID: 500}, StateFlag: model.ProcStateZombie}
	d, err := e.Evaluate(context.Background(), c, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionResolveZombie, d.Action)
}

func TestEvaluateBelowThresholdRecommendsReview(t *testing.T) {
	e := New(testPolicy(), testLedger(t, 2), nil)
	c := model.Candidate{
		Identity: model.Identity{PID: 500},
		Posterior: model.Posterior{Probabilities: map[model.ClassLabel]float64{
			model.ClassUseful: 0.01, model.ClassUsefulBad: 0.1, model.ClassAbandoned: 0.7, model.ClassZombie: 0.19,
		}},
	}
	d, err := e.Evaluate(context.Background(), c, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionReview, d.Action)
	assert.Equal(t, "below_posterior_threshold", d.Rationale)
}

func TestEvaluateReversibilityDowngradesKill(t *testing.T) {
	e := New(testPolicy(), testLedger(t, 2), nil)
	c := model.Candidate{
		Identity:      model.Identity{PID: 500},
		Posterior:     model.Posterior{Probabilities: abandonedPosterior()},
		Reversibility: model.Reversibility{DataAtRisk: true, Reversible: true},
	}
	d, err := e.Evaluate(context.Background(), c, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionPause, d.Action)
	assert.Equal(t, "reversibility_downgrade", d.GateNote)
}

func TestEvaluateReversibilityDowngradesToReviewWhenIrreversible(t *testing.T) {
	e := New(testPolicy(), testLedger(t, 2), nil)
	c := model.Candidate{
		Identity:      model.Identity{PID: 500},
		Posterior:     model.Posterior{Probabilities: abandonedPosterior()},
		Reversibility: model.Reversibility{DataAtRisk: true, Reversible: false},
	}
	d, err := e.Evaluate(context.Background(), c, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionReview, d.Action)
}

func TestEvaluateBudgetExhaustedDowngradesToReview(t *testing.T) {
	e := New(testPolicy(), testLedger(t, 0.01), nil)
	c := model.Candidate{
		Identity:  model.Identity{PID: 500},
		Posterior: model.Posterior{Probabilities: abandonedPosterior()},
	}
	d, err := e.Evaluate(context.Background(), c, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionReview, d.Action)
	assert.Equal(t, "budget_exhausted", d.GateNote)
}

func TestEvaluateKillSpendsBudgetOnSuccess(t *testing.T) {
	ledger := testLedger(t, 2)
	e := New(testPolicy(), ledger, nil)
	c := model.Candidate{
		Identity:  model.Identity{PID: 500},
		Posterior: model.Posterior{Probabilities: abandonedPosterior()},
	}
	d, err := e.Evaluate(context.Background(), c, "s1")
	require.NoError(t, err)
	assert.Equal(t, model.ActionKill, d.Action)
	assert.Equal(t, 0.05, d.AlphaSpent)

	snap, err := ledger.Snapshot(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 1.95, snap.Wealth, 1e-9)
}

func TestIsAutoApprovedMatchesRule(t *testing.T) {
	rules := []ApprovalRule{
		{ID: "r1", Enabled: true, Action: model.ActionPause, MaxRiskLevel: model.RiskMedium},
	}
	assert.True(t, IsAutoApproved(rules, model.ActionPause, "", model.RiskLow))
	assert.False(t, IsAutoApproved(rules, model.ActionPause, "", model.RiskCritical))
	assert.False(t, IsAutoApproved(rules, model.ActionKill, "", model.RiskLow))
}

func TestShouldEnterDRO(t *testing.T) {
	assert.True(t, ShouldEnterDRO(0.999, 0.01))
	assert.False(t, ShouldEnterDRO(0.5, 0.01))
}

func TestConfirmRejectionCreditsLedger(t *testing.T) {
	ledger := testLedger(t, 2)
	e := New(testPolicy(), ledger, nil)
	require.NoError(t, e.ConfirmRejection(context.Background(), "s1"))
	snap, err := ledger.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2.02, snap.Wealth)
}
