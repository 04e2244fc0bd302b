// Package inference is the Inference Engine (spec.md §4.E): a pure
// function of a Candidate and the active priors bundle that produces a
// Posterior, an evidence ledger, and an uncertainty report. All math
// routes through internal/mathkernel; this package only maps Candidate
// features onto the conjugate-prior families the priors bundle declares.
package inference

import (
	"math"
	"sort"

	"github.com/proctriage/triage/internal/mathkernel"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/priors"
)

// RobustnessThreshold is the default posterior mass a class must retain,
// after removing any single feature family, to be considered robust
// (spec.md §4.E step 7). Configurable by callers via EvaluateWithThreshold.
const RobustnessThreshold = 0.7

// zombieLogOddsBoost is the large, capped log-odds term snapped onto the
// zombie class whenever the Z state flag is observed (spec.md §4.E edge
// case). Capped so it dominates without producing -Inf/+Inf arithmetic.
const zombieLogOddsBoost = 50.0

// Evaluate runs the full posterior computation for one Candidate against
// one priors bundle, at the bundle's configured Safe-Bayes eta.
func Evaluate(c model.Candidate, bundle *priors.Bundle) (model.Posterior, []model.LedgerTerm, model.UncertaintyReport) {
	return EvaluateWithThreshold(c, bundle, RobustnessThreshold)
}

// EvaluateWithThreshold is Evaluate with an explicit robustness threshold,
// exposed for tests and for policy-driven overrides.
func EvaluateWithThreshold(c model.Candidate, bundle *priors.Bundle, robustnessThreshold float64) (model.Posterior, []model.LedgerTerm, model.UncertaintyReport) {
	classes := model.Classes()

	logPrior := map[model.ClassLabel]float64{}
	for _, cls := range classes {
		logPrior[cls] = math.Log(bundle.ClassPriors[cls])
	}

	ledger := computeLedger(c, bundle, classes)

	logScore := map[model.ClassLabel]float64{}
	for _, cls := range classes {
		score := logPrior[cls]
		for _, term := range ledger {
			score += mathkernel.Temper(term.LogOddsByCls[cls], bundle.SafeBayesEta)
		}
		if c.StateFlag == model.ProcStateZombie {
			if cls == model.ClassZombie {
				score += zombieLogOddsBoost
			} else {
				score -= zombieLogOddsBoost
			}
		}
		logScore[cls] = score
	}

	probs := normalize(logScore)
	posterior := model.Posterior{
		Probabilities: probs,
		Confidence:    confidenceBand(maxProb(probs)),
	}

	uncertainty := assessUncertainty(classes, logPrior, ledger, bundle, probs, robustnessThreshold, c)
	return posterior, ledger, uncertainty
}

func normalize(logScore map[model.ClassLabel]float64) map[model.ClassLabel]float64 {
	generic := make(map[string]float64, len(logScore))
	for cls, v := range logScore {
		generic[string(cls)] = v
	}
	normalized := mathkernel.NormalizeLogProbs(generic)
	out := make(map[model.ClassLabel]float64, len(normalized))
	for k, v := range normalized {
		out[model.ClassLabel(k)] = v
	}
	return out
}

func maxProb(probs map[model.ClassLabel]float64) float64 {
	max := 0.0
	for _, p := range probs {
		if p > max {
			max = p
		}
	}
	return max
}

func confidenceBand(maxP float64) model.ConfidenceBand {
	switch {
	case maxP >= 0.97:
		return model.ConfidenceVeryHigh
	case maxP >= 0.90:
		return model.ConfidenceHigh
	case maxP >= 0.70:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// computeLedger accumulates log P(x_f | C) for each independent feature
// family named in spec.md §4.E step 2.
func computeLedger(c model.Candidate, bundle *priors.Bundle, classes []model.ClassLabel) []model.LedgerTerm {
	var ledger []model.LedgerTerm

	if fam, ok := bundle.Families["cpu_occupancy"]; ok {
		const resolution = 100
		k := int(math.Round(c.Features.OccupancyRate * resolution))
		ledger = append(ledger, betaBinomialTerm("cpu_occupancy", fam, classes, resolution, k))
	}
	if fam, ok := bundle.Families["runtime"]; ok {
		ledger = append(ledger, gammaTerm("runtime", fam, classes, 1, c.Features.RuntimeSec))
	}
	if fam, ok := bundle.Families["orphan_context"]; ok {
		if c.Features.OrphanContext == "supervised-reparented" {
			ledger = append(ledger, zeroTerm("orphan_context", classes, "supervised-reparented"))
		} else {
			ledger = append(ledger, bernoulliTerm("orphan_context", fam, classes, c.Features.OrphanFlag))
		}
	}
	if fam, ok := bundle.Families["tty"]; ok {
		ledger = append(ledger, bernoulliTerm("tty", fam, classes, c.Features.HasTTY))
	}
	if fam, ok := bundle.Families["network"]; ok {
		ledger = append(ledger, bernoulliTerm("network", fam, classes, c.Features.NetworkActive))
	}
	if fam, ok := bundle.Families["io"]; ok {
		ledger = append(ledger, bernoulliTerm("io", fam, classes, c.Features.IOActive))
	}
	if fam, ok := bundle.Families["competing_hazards"]; ok {
		ledger = append(ledger, gammaTerm("competing_hazards", fam, classes, 1, float64(c.BlastRadius.ChildCount)))
	}
	if fam, ok := bundle.Families["state_flag"]; ok {
		ledger = append(ledger, dirichletTerm("state_flag", fam, classes, string(c.StateFlag)))
	}
	if fam, ok := bundle.Families["command_category"]; ok {
		if c.Features.CommandCategory == "" || c.Features.CommandCategory == "unknown" {
			ledger = append(ledger, zeroTerm("command_category", classes, "category=unknown"))
		} else {
			ledger = append(ledger, dirichletTerm("command_category", fam, classes, c.Features.CommandCategory))
		}
	}
	// Clamp each term at the kernel's stability floor so a density that is
	// zero for every class (runtime 0 under a shape > 1 Gamma prior) cannot
	// leave every class score at -Inf and the posterior undefined.
	floor := math.Log(mathkernel.StabilityFloor)
	for _, term := range ledger {
		for cls, v := range term.LogOddsByCls {
			if v < floor {
				term.LogOddsByCls[cls] = floor
			}
		}
	}
	return ledger
}

func betaBinomialTerm(name string, fam priors.FeatureFamily, classes []model.ClassLabel, n, k int) model.LedgerTerm {
	byClass := map[model.ClassLabel]float64{}
	for _, cls := range classes {
		p, ok := fam.Beta[cls]
		if !ok {
			continue
		}
		byClass[cls] = mathkernel.LogBetaBinomialPMF(p.Alpha, p.Beta, n, k)
	}
	return model.LedgerTerm{Family: name, LogOddsByCls: byClass}
}

func bernoulliTerm(name string, fam priors.FeatureFamily, classes []model.ClassLabel, observed bool) model.LedgerTerm {
	k := 0
	if observed {
		k = 1
	}
	byClass := map[model.ClassLabel]float64{}
	for _, cls := range classes {
		p, ok := fam.Beta[cls]
		if !ok {
			continue
		}
		byClass[cls] = mathkernel.LogBetaBinomialPMF(p.Alpha, p.Beta, 1, k)
	}
	return model.LedgerTerm{Family: name, LogOddsByCls: byClass}
}

func gammaTerm(name string, fam priors.FeatureFamily, classes []model.ClassLabel, n int, x float64) model.LedgerTerm {
	byClass := map[model.ClassLabel]float64{}
	for _, cls := range classes {
		p, ok := fam.Gamma[cls]
		if !ok {
			continue
		}
		byClass[cls] = mathkernel.LogGammaPDFRate(p.Shape, p.Rate, x)
	}
	return model.LedgerTerm{Family: name, LogOddsByCls: byClass}
}

func dirichletTerm(name string, fam priors.FeatureFamily, classes []model.ClassLabel, observed string) model.LedgerTerm {
	byClass := map[model.ClassLabel]float64{}
	for _, cls := range classes {
		p, ok := fam.Dirichlet[cls]
		if !ok {
			continue
		}
		counts := make([]int, len(p.Categories))
		for i, cat := range p.Categories {
			if cat == observed {
				counts[i] = 1
				break
			}
		}
		byClass[cls] = mathkernel.LogDirichletMultinomialPMF(p.Alpha, counts)
	}
	return model.LedgerTerm{Family: name, LogOddsByCls: byClass}
}

func zeroTerm(name string, classes []model.ClassLabel, note string) model.LedgerTerm {
	byClass := map[model.ClassLabel]float64{}
	for _, cls := range classes {
		byClass[cls] = 0
	}
	return model.LedgerTerm{Family: name, LogOddsByCls: byClass, Note: note}
}

// assessUncertainty names the features whose removal would change the
// argmax class or drop the max posterior below the robustness threshold
// (spec.md §4.E step 7), and reports a decision-robustness score: the max
// posterior mass after the single most influential family is removed.
func assessUncertainty(classes []model.ClassLabel, logPrior map[model.ClassLabel]float64, ledger []model.LedgerTerm, bundle *priors.Bundle, fullPosterior map[model.ClassLabel]float64, threshold float64, c model.Candidate) model.UncertaintyReport {
	fullArgmax := argmax(fullPosterior)
	var drivers []string
	worstRobustness := 1.0

	for i := range ledger {
		without := map[model.ClassLabel]float64{}
		for _, cls := range classes {
			score := logPrior[cls]
			for j, term := range ledger {
				if j == i {
					continue
				}
				score += mathkernel.Temper(term.LogOddsByCls[cls], bundle.SafeBayesEta)
			}
			if c.StateFlag == model.ProcStateZombie {
				if cls == model.ClassZombie {
					score += zombieLogOddsBoost
				} else {
					score -= zombieLogOddsBoost
				}
			}
			without[cls] = score
		}
		probsWithout := normalize(without)
		maxWithout := maxProb(probsWithout)
		if maxWithout < worstRobustness {
			worstRobustness = maxWithout
		}

		changedArgmax := argmax(probsWithout) != fullArgmax
		droppedBelowThreshold := maxWithout < threshold
		if changedArgmax || droppedBelowThreshold {
			drivers = append(drivers, ledger[i].Family)
		}
	}

	sort.Strings(drivers)
	return model.UncertaintyReport{
		ConfidenceLevel:    confidenceBand(maxProb(fullPosterior)),
		UncertaintyDrivers: drivers,
		DecisionRobustness: worstRobustness,
	}
}

func argmax(probs map[model.ClassLabel]float64) model.ClassLabel {
	var best model.ClassLabel
	bestP := -1.0
	for cls, p := range probs {
		if p > bestP {
			bestP = p
			best = cls
		}
	}
	return best
}
