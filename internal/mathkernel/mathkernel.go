// Package mathkernel implements the log-domain conjugate-prior math the
// Inference Engine is built on: Beta-Binomial, Gamma, and
// Dirichlet-Multinomial log-likelihoods, log_sum_exp normalization, and a
// BOCPD run-length posterior. Every function is pure and deterministic:
// given byte-identical inputs the output is byte-identical across runs and
// platforms, with no RNG and no reduction order that depends on goroutine
// count (spec.md §4.D).
package mathkernel

import "math"

// StabilityFloor is the smallest probability mass the kernel will report;
// anything below it is clamped to avoid underflow noise in downstream
// ratios (spec.md §4.D).
const StabilityFloor = 1.0 / (1 << 52)

// LogSumExp computes log(sum(exp(xs))) with max-shift for numerical
// stability. Returns math.Inf(-1) for an empty or all -Inf input.
func LogSumExp(xs []float64) float64 {
	if len(xs) == 0 {
		return math.Inf(-1)
	}
	max := math.Inf(-1)
	for _, x := range xs {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return math.Inf(-1)
	}
	sum := 0.0
	for _, x := range xs {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}

// NormalizeLogProbs converts unnormalized per-class log-scores into a
// probability map that sums to 1, clamping any mass below StabilityFloor
// and renormalizing so the sum still equals 1 within 1e-9.
func NormalizeLogProbs(logScores map[string]float64) map[string]float64 {
	keys := make([]string, 0, len(logScores))
	vals := make([]float64, 0, len(logScores))
	for k, v := range logScores {
		keys = append(keys, k)
		vals = append(vals, v)
	}
	lse := LogSumExp(vals)

	out := make(map[string]float64, len(logScores))
	var total float64
	for i, k := range keys {
		p := math.Exp(vals[i] - lse)
		if p < StabilityFloor {
			p = 0
		}
		out[k] = p
		total += p
	}
	if total <= 0 {
		return out
	}
	for k := range out {
		out[k] /= total
	}
	return out
}

// logGamma is the natural log of the Gamma function, used throughout the
// Beta/Gamma family log-densities below.
func logGamma(x float64) float64 {
	v, _ := math.Lgamma(x)
	return v
}

// LogBetaFunc computes log B(a, b) = lnΓ(a) + lnΓ(b) - lnΓ(a+b).
func LogBetaFunc(a, b float64) float64 {
	return logGamma(a) + logGamma(b) - logGamma(a+b)
}

// LogBetaBinomialPMF computes log P(k successes in n trials) under a
// Beta(α, β) prior on the success probability, integrated out in closed
// form (the Beta-Binomial compound distribution).
func LogBetaBinomialPMF(alpha, beta float64, n, k int) float64 {
	if k < 0 || k > n {
		return math.Inf(-1)
	}
	logC := logGamma(float64(n)+1) - logGamma(float64(k)+1) - logGamma(float64(n-k)+1)
	return logC + LogBetaFunc(float64(k)+alpha, float64(n-k)+beta) - LogBetaFunc(alpha, beta)
}

// BetaPosterior returns the Beta(α, β) posterior updated by n trials with k
// successes — the conjugate update for a Bernoulli/Binomial family.
func BetaPosterior(alpha, beta float64, n, k int) (postAlpha, postBeta float64) {
	return alpha + float64(k), beta + float64(n-k)
}

// LogGammaPDFRate computes the log-density of Gamma(shape, rate) at x,
// parameterized by rate (not scale), matching the priors bundle's
// "Gamma {shape, rate}" convention.
func LogGammaPDFRate(shape, rate, x float64) float64 {
	if x < 0 {
		return math.Inf(-1)
	}
	if x == 0 {
		if shape < 1 {
			return math.Inf(1)
		}
		if shape > 1 {
			return math.Inf(-1)
		}
		// shape == 1 reduces to Exponential(rate), whose density at 0 is rate.
		return math.Log(rate)
	}
	return shape*math.Log(rate) - logGamma(shape) + (shape-1)*safeLog(x) - rate*x
}

func safeLog(x float64) float64 {
	if x <= 0 {
		return math.Inf(-1)
	}
	return math.Log(x)
}

// GammaPosteriorRate returns the Gamma(shape, rate) posterior after
// observing n events summing to sumX total exposure — the conjugate
// update for a Poisson/exponential rate family.
func GammaPosteriorRate(shape, rate float64, n int, sumX float64) (postShape, postRate float64) {
	return shape + float64(n), rate + sumX
}

// LogDirichletMultinomialPMF computes the log-probability of observing the
// given counts under a Dirichlet(alphaVec) prior on the category
// probabilities, integrated out in closed form. alphaVec and counts must
// have equal, matching length and order.
func LogDirichletMultinomialPMF(alphaVec []float64, counts []int) float64 {
	if len(alphaVec) != len(counts) {
		return math.Inf(-1)
	}
	n := 0
	alpha0 := 0.0
	for i := range counts {
		n += counts[i]
		alpha0 += alphaVec[i]
	}
	logP := logGamma(alpha0) - logGamma(float64(n)+alpha0) + logGamma(float64(n)+1)
	for i, c := range counts {
		logP += logGamma(float64(c)+alphaVec[i]) - logGamma(alphaVec[i]) - logGamma(float64(c)+1)
	}
	return logP
}

// DirichletPosterior returns the Dirichlet(alphaVec) posterior updated by
// the observed category counts.
func DirichletPosterior(alphaVec []float64, counts []int) []float64 {
	out := make([]float64, len(alphaVec))
	for i := range alphaVec {
		c := 0
		if i < len(counts) {
			c = counts[i]
		}
		out[i] = alphaVec[i] + float64(c)
	}
	return out
}

// Temper applies Safe-Bayes tempering: raises a log-likelihood contribution
// to the power eta (equivalently, scales the log value by eta) before it is
// accumulated into the class log-score (spec.md §4.E step 3). eta in (0, 1]
// discounts a family's influence; eta == 1 is untempered.
func Temper(logLikelihood, eta float64) float64 {
	return logLikelihood * eta
}
