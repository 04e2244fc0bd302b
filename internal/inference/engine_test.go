package inference

import (
	"math"
	"testing"

	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/priors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureBundle() *priors.Bundle {
	betaAll := func(a, b float64) map[model.ClassLabel]priors.BetaParams {
		m := map[model.ClassLabel]priors.BetaParams{}
		for _, c := range model.Classes() {
			m[c] = priors.BetaParams{Alpha: a, Beta: b}
		}
		return m
	}
	gammaAll := func(shape, rate float64) map[model.ClassLabel]priors.GammaParams {
		m := map[model.ClassLabel]priors.GammaParams{}
		for _, c := range model.Classes() {
			m[c] = priors.GammaParams{Shape: shape, Rate: rate}
		}
		return m
	}
	dirAll := func(categories []string) map[model.ClassLabel]priors.DirichletParams {
		m := map[model.ClassLabel]priors.DirichletParams{}
		alpha := make([]float64, len(categories))
		for i := range alpha {
			alpha[i] = 1
		}
		for _, c := range model.Classes() {
			m[c] = priors.DirichletParams{Categories: categories, Alpha: alpha}
		}
		return m
	}

	states := []string{string(model.ProcStateRunning), string(model.ProcStateSleeping), string(model.ProcStateZombie), string(model.ProcStateStopped)}
	cats := []string{"test_runner", "unknown", "web_server"}

	return &priors.Bundle{
		Version: "1.0.0",
		ClassPriors: map[model.ClassLabel]float64{
			model.ClassUseful:    0.4,
			model.ClassUsefulBad: 0.2,
			model.ClassAbandoned: 0.3,
			model.ClassZombie:    0.1,
		},
		Families: map[string]priors.FeatureFamily{
			"cpu_occupancy":     {Kind: "beta_binomial", Beta: betaAll(2, 2)},
			"runtime":           {Kind: "gamma", Gamma: gammaAll(2, 0.01)},
			"orphan_context":    {Kind: "beta_bernoulli", Beta: betaAll(1, 3)},
			"tty":               {Kind: "beta_bernoulli", Beta: betaAll(1, 3)},
			"network":           {Kind: "beta_bernoulli", Beta: betaAll(1, 3)},
			"io":                {Kind: "beta_bernoulli", Beta: betaAll(1, 3)},
			"competing_hazards": {Kind: "gamma", Gamma: gammaAll(1, 1)},
			"state_flag":        {Kind: "dirichlet_multinomial", Dirichlet: dirAll(states)},
			"command_category":  {Kind: "dirichlet_multinomial", Dirichlet: dirAll(cats)},
		},
		SafeBayesEta: 1.0,
		Hazard:       0.01,
	}
}

func baseCandidate() model.Candidate {
	return model.Candidate{
		Identity:  model.Identity{PID: 100, StartID: "boot:1:100"},
		StateFlag: model.ProcStateSleeping,
		Features: model.DeterministicFeatures{
			OccupancyRate:   0.0,
			CommandCategory: "test_runner",
		},
	}
}

func TestEvaluatePosteriorSumsToOne(t *testing.T) {
	bundle := fixtureBundle()
	posterior, _, _ := Evaluate(baseCandidate(), bundle)

	var total float64
	for _, p := range posterior.Probabilities {
		total += p
	}
	assert.InDelta(t, 1.0, total, 1e-9)
}

func TestEvaluateIdleCandidateYieldsLedgerAndAbandonedEntry(t *testing.T) {
	bundle := fixtureBundle()
	c := baseCandidate()
	c.Features.RuntimeSec = 7200
	c.Features.IdleRunLength = 7200
	c.PPID = 1

	posterior, ledger, _ := Evaluate(c, bundle)
	assert.NotEmpty(t, ledger)
	assert.Contains(t, posterior.Probabilities, model.ClassAbandoned)
}

func TestEvaluateZombieStateSnapsPosterior(t *testing.T) {
	bundle := fixtureBundle()
	c := baseCandidate()
	c.StateFlag = model.ProcStateZombie

	posterior, _, _ := Evaluate(c, bundle)
	assert.Greater(t, posterior.Probabilities[model.ClassZombie], 0.99)
}

func TestEvaluateUnknownCategoryIsZeroContribution(t *testing.T) {
	bundle := fixtureBundle()
	c := baseCandidate()
	c.Features.CommandCategory = "unknown"

	_, ledger, _ := Evaluate(c, bundle)
	found := false
	for _, term := range ledger {
		if term.Family == "command_category" {
			found = true
			assert.Equal(t, "category=unknown", term.Note)
			for _, v := range term.LogOddsByCls {
				assert.Equal(t, 0.0, v)
			}
		}
	}
	assert.True(t, found)
}

func TestEvaluateSupervisedReparentedZeroesOrphanTerm(t *testing.T) {
	bundle := fixtureBundle()
	c := baseCandidate()
	c.PPID = 1
	c.Features.OrphanFlag = false
	c.Features.OrphanContext = "supervised-reparented"

	_, ledger, _ := Evaluate(c, bundle)
	for _, term := range ledger {
		if term.Family == "orphan_context" {
			for _, v := range term.LogOddsByCls {
				assert.Equal(t, 0.0, v)
			}
		}
	}
}

func TestLedgerConsistencyMatchesReportedPosterior(t *testing.T) {
	bundle := fixtureBundle()
	c := baseCandidate()
	posterior, ledger, _ := Evaluate(c, bundle)

	logScore := map[model.ClassLabel]float64{}
	for _, cls := range model.Classes() {
		logScore[cls] = math.Log(bundle.ClassPriors[cls])
		for _, term := range ledger {
			logScore[cls] += term.LogOddsByCls[cls]
		}
	}
	recombined := normalize(logScore)

	for cls, p := range posterior.Probabilities {
		assert.InDelta(t, recombined[cls], p, 1e-9)
	}
}

func TestUncertaintyDriversNonEmptyForBorderlineCase(t *testing.T) {
	bundle := fixtureBundle()
	c := baseCandidate()
	c.Features.OccupancyRate = 0.5

	_, _, uncertainty := EvaluateWithThreshold(c, bundle, 0.999)
	assert.NotEmpty(t, uncertainty.UncertaintyDrivers)
}

func TestConfidenceBandThresholds(t *testing.T) {
	require.Equal(t, confidenceBand(0.99), confidenceBandExpect(0.99))
	require.Equal(t, confidenceBand(0.5), confidenceBandExpect(0.5))
}

func confidenceBandExpect(p float64) model.ConfidenceBand {
	switch {
	case p >= 0.97:
		return model.ConfidenceVeryHigh
	case p >= 0.90:
		return model.ConfidenceHigh
	case p >= 0.70:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}
