package main

import (
	"context"

	"github.com/proctriage/triage/internal/apperrors"
	"github.com/proctriage/triage/internal/evidence"
	"github.com/proctriage/triage/internal/inference"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/priors"
	"github.com/proctriage/triage/internal/probe"
)

// collectCandidates runs a full scan pass: a quick scan over every visible
// PID, a deep scan over the PIDs that survive it, Evidence Store
// derivation, and Inference Engine scoring (spec.md §4.A-§4.E). A per-PID
// read failure never aborts the pass (4.A): probe.QuickScan/DeepScan
// already turn those into terminal samples, which groupByIdentity drops.
func collectCandidates(ctx context.Context, prober *probe.Prober, priorsBundle *priors.Bundle) ([]model.Candidate, error) {
	quick, err := prober.QuickScan(ctx, probe.DefaultQuickScanConfig())
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCapabilityMissing, "quick scan", err)
	}

	windows := groupByIdentity(quick)

	pids := make([]int32, 0, len(windows))
	for _, w := range windows {
		pids = append(pids, int32(w[0].Identity.PID))
	}

	deep, err := prober.DeepScan(ctx, pids)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeCapabilityMissing, "deep scan", err)
	}
	for _, sm := range deep {
		if sm.Terminal {
			continue
		}
		windows[sm.Identity.StartID] = append(windows[sm.Identity.StartID], sm)
	}

	evStore := evidence.NewStore(priorsBundle.CategorySignatures).WithHazard(priorsBundle.Hazard)

	candidates := make([]model.Candidate, 0, len(windows))
	for _, window := range windows {
		c := evStore.Derive(window)
		posterior, ledger, uncertainty := inference.Evaluate(c, priorsBundle)
		c.Posterior = posterior
		c.Ledger = ledger
		c.Uncertainty = uncertainty
		c.Classification = topClass(posterior.Probabilities)
		candidates = append(candidates, c)
	}
	return candidates, nil
}

// groupByIdentity buckets non-terminal samples by start_id: spec.md §4.C
// requires later samples with a mismatched start_id for the same pid to be
// logged and dropped rather than merged, which Evidence Store's Derive
// already enforces per-window, so bucketing by start_id rather than pid is
// what keeps a PID-reuse race from silently blending two processes' samples.
func groupByIdentity(samples []model.Sample) map[string][]model.Sample {
	windows := make(map[string][]model.Sample)
	for _, sm := range samples {
		if sm.Terminal {
			continue
		}
		windows[sm.Identity.StartID] = append(windows[sm.Identity.StartID], sm)
	}
	return windows
}

// topClass returns the class label with the highest posterior mass.
func topClass(probs map[model.ClassLabel]float64) model.ClassLabel {
	var best model.ClassLabel
	var bestP float64 = -1
	for cls, p := range probs {
		if p > bestP {
			best, bestP = cls, p
		}
	}
	return best
}
