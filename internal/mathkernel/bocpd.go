package mathkernel

import "math"

// RunLengthPosterior is a BOCPD (Bayesian Online Change-Point Detection)
// run-length distribution: RunLengthPosterior[r] is the log-probability
// that the current regime has lasted r observations, index 0 meaning "a
// change point just occurred". It is maintained online, one observation at
// a time, and never reallocated below its current length (spec.md §4.D,
// §4.E step 4).
type RunLengthPosterior struct {
	// LogProbs[r] is log P(run length = r | observations so far).
	LogProbs []float64
	// Hazard is the geometric hazard rate λ: the constant per-step
	// probability of a change point, independent of current run length.
	Hazard float64
}

// NewRunLengthPosterior starts a BOCPD run at r=0 with log-probability 0
// (certainty), given a geometric hazard rate in (0, 1).
func NewRunLengthPosterior(hazard float64) *RunLengthPosterior {
	return &RunLengthPosterior{LogProbs: []float64{0}, Hazard: hazard}
}

// Update folds in one new observation's log-predictive-probability under
// each candidate run length (logPredProb[r] = log P(x_t | r_{t-1} = r,
// history)), growing the run-length vector by one and renormalizing.
//
// logPredProb must have the same length as r.LogProbs; logPredProb[r] is
// the likelihood of the new observation given a run of length r ending at
// t-1.
func (r *RunLengthPosterior) Update(logPredProb []float64) {
	n := len(r.LogProbs)
	growthProbs := make([]float64, n+1)

	logHazard := math.Log(r.Hazard)
	logNoHazard := math.Log(1 - r.Hazard)

	// growthProbs[0]: a change point occurred — sum over all prior run
	// lengths of P(run=r) * P(x|r) * hazard.
	changeTerms := make([]float64, n)
	for i := 0; i < n; i++ {
		changeTerms[i] = r.LogProbs[i] + logPredProb[i] + logHazard
	}
	growthProbs[0] = LogSumExp(changeTerms)

	// growthProbs[i+1]: the run grows by one — P(run=i) * P(x|i) * (1-hazard).
	for i := 0; i < n; i++ {
		growthProbs[i+1] = r.LogProbs[i] + logPredProb[i] + logNoHazard
	}

	norm := LogSumExp(growthProbs)
	for i := range growthProbs {
		growthProbs[i] -= norm
	}
	r.LogProbs = growthProbs
}

// MAP returns the most likely current run length and its log-probability.
func (r *RunLengthPosterior) MAP() (runLength int, logProb float64) {
	best := 0
	bestLP := math.Inf(-1)
	for i, lp := range r.LogProbs {
		if lp > bestLP {
			bestLP = lp
			best = i
		}
	}
	return best, bestLP
}

// ChangePointProbability returns P(a change point occurred at the most
// recent step), i.e. the probability mass on run length 0.
func (r *RunLengthPosterior) ChangePointProbability() float64 {
	if len(r.LogProbs) == 0 {
		return 0
	}
	return math.Exp(r.LogProbs[0])
}
