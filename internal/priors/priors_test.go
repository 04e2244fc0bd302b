package priors

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/proctriage/triage/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validBundle() Bundle {
	beta := func(a, b float64) BetaParams { return BetaParams{Alpha: a, Beta: b} }
	betaFam := func() FeatureFamily {
		m := map[model.ClassLabel]BetaParams{}
		for _, c := range model.Classes() {
			m[c] = beta(1, 1)
		}
		return FeatureFamily{Kind: "beta_bernoulli", Beta: m}
	}
	gammaFam := func() FeatureFamily {
		m := map[model.ClassLabel]GammaParams{}
		for _, c := range model.Classes() {
			m[c] = GammaParams{Shape: 2, Rate: 1}
		}
		return FeatureFamily{Kind: "gamma", Gamma: m}
	}
	dirFam := func() FeatureFamily {
		m := map[model.ClassLabel]DirichletParams{}
		for _, c := range model.Classes() {
			m[c] = DirichletParams{Categories: []string{"a", "b"}, Alpha: []float64{1, 1}}
		}
		return FeatureFamily{Kind: "dirichlet_multinomial", Dirichlet: m}
	}

	return Bundle{
		Version: "1.0.0",
		ClassPriors: map[model.ClassLabel]float64{
			model.ClassUseful:    0.4,
			model.ClassUsefulBad: 0.2,
			model.ClassAbandoned: 0.3,
			model.ClassZombie:    0.1,
		},
		Families: map[string]FeatureFamily{
			"cpu_occupancy":     betaFam(),
			"runtime":           gammaFam(),
			"orphan_context":    betaFam(),
			"tty":               betaFam(),
			"network":           betaFam(),
			"io":                betaFam(),
			"competing_hazards": gammaFam(),
			"state_flag":        dirFam(),
			"command_category":  dirFam(),
		},
		SafeBayesEta: 1.0,
		Hazard:       0.01,
	}
}

func writeBundle(t *testing.T, b Bundle) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "priors.json")
	data, err := json.Marshal(b)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestLoadValidBundle(t *testing.T) {
	path := writeBundle(t, validBundle())
	b, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", b.Version)
}

func TestValidateClassPriorsMustSumToOne(t *testing.T) {
	b := validBundle()
	b.ClassPriors[model.ClassUseful] = 0.9
	assert.ErrorContains(t, b.Validate(), "sum to")
}

func TestValidateMissingClass(t *testing.T) {
	b := validBundle()
	delete(b.ClassPriors, model.ClassZombie)
	assert.ErrorContains(t, b.Validate(), "missing class")
}

func TestValidateMissingFamily(t *testing.T) {
	b := validBundle()
	delete(b.Families, "io")
	assert.ErrorContains(t, b.Validate(), `"io"`)
}

func TestValidateNonPositiveConcentration(t *testing.T) {
	b := validBundle()
	fam := b.Families["cpu_occupancy"]
	fam.Beta[model.ClassUseful] = BetaParams{Alpha: 0, Beta: 1}
	b.Families["cpu_occupancy"] = fam
	assert.ErrorContains(t, b.Validate(), "concentrations must be > 0")
}

func TestValidateDirichletLengthMismatch(t *testing.T) {
	b := validBundle()
	fam := b.Families["state_flag"]
	fam.Dirichlet[model.ClassUseful] = DirichletParams{Categories: []string{"a", "b", "c"}, Alpha: []float64{1, 1}}
	b.Families["state_flag"] = fam
	assert.ErrorContains(t, b.Validate(), "does not match")
}

func TestValidateEtaAndHazardRanges(t *testing.T) {
	b := validBundle()
	b.SafeBayesEta = 0
	assert.ErrorContains(t, b.Validate(), "safe_bayes_eta")

	b = validBundle()
	b.Hazard = 1
	assert.ErrorContains(t, b.Validate(), "bocpd_hazard")
}

func TestLoadRejectsInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "priors.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/priors.json")
	assert.Error(t, err)
}
