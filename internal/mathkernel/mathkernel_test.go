package mathkernel

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogSumExp(t *testing.T) {
	cases := []struct {
		name string
		xs   []float64
		want float64
	}{
		{"empty", nil, math.Inf(-1)},
		{"single", []float64{-2}, -2},
		{"two_equal", []float64{0, 0}, math.Log(2)},
		{"all_neg_inf", []float64{math.Inf(-1), math.Inf(-1)}, math.Inf(-1)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := LogSumExp(tc.xs)
			if math.IsInf(tc.want, -1) {
				assert.True(t, math.IsInf(got, -1))
				return
			}
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestNormalizeLogProbsSumsToOne(t *testing.T) {
	in := map[string]float64{"a": -1.0, "b": -2.0, "c": -0.5}
	out := NormalizeLogProbs(in)

	var total float64
	for _, p := range out {
		total += p
	}
	assert.InDelta(t, 1.0, total, 1e-9)
	// class "c" has the largest log-score, so it should have the largest mass.
	assert.Greater(t, out["c"], out["a"])
	assert.Greater(t, out["c"], out["b"])
}

func TestNormalizeLogProbsClampsBelowFloor(t *testing.T) {
	in := map[string]float64{
		"dominant": 0,
		"tiny":     -200, // exp(-200) is far below StabilityFloor
	}
	out := NormalizeLogProbs(in)
	assert.Zero(t, out["tiny"])
	assert.InDelta(t, 1.0, out["dominant"], 1e-9)
}

func TestLogBetaBinomialPMFMatchesBernoulliSymmetry(t *testing.T) {
	// Beta-Binomial(1,1) is uniform over k in [0,n]; symmetric prior means
	// P(k) == P(n-k).
	got := LogBetaBinomialPMF(1, 1, 10, 3)
	sym := LogBetaBinomialPMF(1, 1, 10, 7)
	assert.InDelta(t, got, sym, 1e-9)
}

func TestLogBetaBinomialPMFOutOfRange(t *testing.T) {
	assert.True(t, math.IsInf(LogBetaBinomialPMF(1, 1, 5, 6), -1))
	assert.True(t, math.IsInf(LogBetaBinomialPMF(1, 1, 5, -1), -1))
}

func TestBetaPosteriorUpdate(t *testing.T) {
	a, b := BetaPosterior(1, 1, 10, 7)
	assert.Equal(t, 8.0, a)
	assert.Equal(t, 4.0, b)
}

func TestLogGammaPDFRateIntegratesToOne(t *testing.T) {
	// Numerically integrate the density over a wide range using the
	// trapezoid rule; should land close to 1 for a well-posed shape/rate.
	shape, rate := 3.0, 2.0
	const steps = 20000
	const upper = 30.0
	dx := upper / steps
	sum := 0.0
	for i := 1; i < steps; i++ {
		x := float64(i) * dx
		sum += math.Exp(LogGammaPDFRate(shape, rate, x))
	}
	sum *= dx
	assert.InDelta(t, 1.0, sum, 0.02)
}

func TestLogGammaPDFRateNegativeIsZeroDensity(t *testing.T) {
	assert.True(t, math.IsInf(LogGammaPDFRate(2, 1, -1), -1))
}

func TestGammaPosteriorRateUpdate(t *testing.T) {
	shape, rate := GammaPosteriorRate(2, 1, 5, 12.5)
	assert.Equal(t, 7.0, shape)
	assert.Equal(t, 13.5, rate)
}

func TestLogDirichletMultinomialPMFLengthMismatch(t *testing.T) {
	got := LogDirichletMultinomialPMF([]float64{1, 1}, []int{1, 1, 1})
	assert.True(t, math.IsInf(got, -1))
}

func TestLogDirichletMultinomialPMFUniformSymmetric(t *testing.T) {
	alpha := []float64{1, 1, 1}
	a := LogDirichletMultinomialPMF(alpha, []int{2, 1, 0})
	b := LogDirichletMultinomialPMF(alpha, []int{0, 1, 2})
	assert.InDelta(t, a, b, 1e-9)
}

func TestDirichletPosteriorUpdate(t *testing.T) {
	got := DirichletPosterior([]float64{1, 1, 1}, []int{3, 0, 1})
	require.Len(t, got, 3)
	assert.Equal(t, []float64{4, 1, 2}, got)
}

func TestTemperScalesLogLikelihood(t *testing.T) {
	assert.Equal(t, -5.0, Temper(-10, 0.5))
	assert.Equal(t, -10.0, Temper(-10, 1.0))
}

func TestLogBetaFuncSymmetric(t *testing.T) {
	assert.InDelta(t, LogBetaFunc(2, 5), LogBetaFunc(5, 2), 1e-9)
}
