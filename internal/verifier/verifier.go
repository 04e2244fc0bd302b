// Package verifier is the Verifier (spec.md §4.L): repolls each acted-upon
// identity over a verification window and classifies the outcome against
// the fixed table in spec.md. It depends only on small reader functions
// (mirroring internal/executor's IdentityReader), not on internal/probe
// directly, so it stays trivially testable with fakes.
package verifier

import (
	"context"
	"time"

	"github.com/proctriage/triage/internal/model"
)

// DefaultWindow is the fallback verification window when a target has no
// supervisor (spec.md leaves the supervised default as an open question;
// this is the unsupervised baseline).
const DefaultWindow = 5 * time.Second

// DefaultPollInterval is how often Classify re-reads identity within the
// window.
const DefaultPollInterval = 250 * time.Millisecond

// IdentityReader re-reads one PID's current identity, process state, and
// liveness.
type IdentityReader func(ctx context.Context, pid int) (id model.Identity, state model.ProcState, alive bool, err error)

// CommandFinder returns the identities of currently live processes whose
// short command matches cmdShort, used for respawn detection.
type CommandFinder func(ctx context.Context, cmdShort string) ([]model.Identity, error)

// Verifier polls acted-upon identities to a stable outcome.
type Verifier struct {
	Read          IdentityReader
	FindByCommand CommandFinder
	PollInterval  time.Duration
	Window        time.Duration
}

// New builds a Verifier with spec.md's default window and poll interval.
func New(read IdentityReader, find CommandFinder) *Verifier {
	return &Verifier{Read: read, FindByCommand: find, PollInterval: DefaultPollInterval, Window: DefaultWindow}
}

// Classify polls target (and its blast-radius dependents) until a stable
// outcome emerges or the verification window elapses.
func (v *Verifier) Classify(ctx context.Context, target model.Identity, cmdShort string, dependents []model.Identity) (model.VerifyOutcome, error) {
	window := v.Window
	if window <= 0 {
		window = DefaultWindow
	}
	interval := v.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(window)

	for {
		id, state, alive, err := v.Read(ctx, target.PID)
		if err != nil {
			return "", err
		}

		if !alive {
			return v.classifyGone(ctx, target, cmdShort)
		}
		if id.StartID != target.StartID {
			return model.OutcomePIDReused, nil
		}
		if state == model.ProcStateStopped {
			return model.OutcomeConfirmedStopped, nil
		}
		if cascaded, err := v.anyDependentGone(ctx, dependents); err != nil {
			return "", err
		} else if cascaded {
			return model.OutcomeCascaded, nil
		}

		if !time.Now().Before(deadline) {
			return model.OutcomeStillRunning, nil
		}

		select {
		case <-ctx.Done():
			return model.OutcomeTimeout, nil
		case <-time.After(interval):
		}
	}
}

// classifyGone distinguishes a clean kill from a supervisor respawn: if a
// live process with the same short command but a different start_id now
// exists, the target was respawned rather than confirmed dead.
func (v *Verifier) classifyGone(ctx context.Context, target model.Identity, cmdShort string) (model.VerifyOutcome, error) {
	if v.FindByCommand == nil || cmdShort == "" {
		return model.OutcomeConfirmedDead, nil
	}
	matches, err := v.FindByCommand(ctx, cmdShort)
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if m.StartID != target.StartID {
			return model.OutcomeRespawned, nil
		}
	}
	return model.OutcomeConfirmedDead, nil
}

func (v *Verifier) anyDependentGone(ctx context.Context, dependents []model.Identity) (bool, error) {
	for _, dep := range dependents {
		_, _, alive, err := v.Read(ctx, dep.PID)
		if err != nil {
			return false, err
		}
		if !alive {
			return true, nil
		}
	}
	return false, nil
}
