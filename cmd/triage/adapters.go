package main

import (
	"context"
	"strings"

	"github.com/proctriage/triage/internal/executor"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/probe"
	"github.com/proctriage/triage/internal/verifier"
)

// readOneSample re-samples a single PID on demand. Both the Gate
// Evaluator's identity_valid check and the Action Executor's pre-act
// re-read (spec.md §4.H step 1, §4.I) need this same single-PID probe.
func readOneSample(ctx context.Context, prober *probe.Prober, pid int) (model.Sample, bool, error) {
	samples, err := prober.QuickScan(ctx, probe.QuickScanConfig{
		Samples: 1,
		Filter:  probe.Filter{PIDs: []int32{int32(pid)}},
	})
	if err != nil {
		return model.Sample{}, false, err
	}
	if len(samples) == 0 || samples[0].Terminal {
		return model.Sample{}, false, nil
	}
	return samples[0], true, nil
}

// makeIdentityReader adapts the probe to executor.IdentityReader.
func makeIdentityReader(prober *probe.Prober) executor.IdentityReader {
	return func(ctx context.Context, pid int) (model.Identity, bool, error) {
		sm, ok, err := readOneSample(ctx, prober, pid)
		if err != nil || !ok {
			return model.Identity{}, false, err
		}
		return sm.Identity, true, nil
	}
}

// makeVerifierReader adapts the probe to verifier.IdentityReader.
func makeVerifierReader(prober *probe.Prober) verifier.IdentityReader {
	return func(ctx context.Context, pid int) (model.Identity, model.ProcState, bool, error) {
		sm, ok, err := readOneSample(ctx, prober, pid)
		if err != nil || !ok {
			return model.Identity{}, model.ProcStateUnknown, false, err
		}
		return sm.Identity, sm.State, true, nil
	}
}

// makeCommandFinder adapts the probe to verifier.CommandFinder: a full
// quick scan filtered down to samples whose command line contains
// cmdShort, distinguishing a respawn from a true exit (spec.md §4.L).
func makeCommandFinder(prober *probe.Prober) verifier.CommandFinder {
	return func(ctx context.Context, cmdShort string) ([]model.Identity, error) {
		samples, err := prober.QuickScan(ctx, probe.QuickScanConfig{Samples: 1})
		if err != nil {
			return nil, err
		}
		var matches []model.Identity
		for _, sm := range samples {
			if sm.Terminal {
				continue
			}
			if strings.Contains(sm.CmdLine, cmdShort) {
				matches = append(matches, sm.Identity)
			}
		}
		return matches, nil
	}
}
