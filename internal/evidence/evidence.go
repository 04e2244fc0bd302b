// Package evidence is the Evidence Store (spec.md §4.C): it folds a
// per-PID sample stream into a Candidate record, deterministically, given
// only the samples and the active priors bundle's category signature
// table. Command categorization uses go-wildcard glob matching against that
// table, the same matcher the policy package uses for protected-pattern
// classification.
package evidence

import (
	"fmt"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/proctriage/triage/internal/mathkernel"
	"github.com/proctriage/triage/internal/model"
	"github.com/proctriage/triage/internal/priors"
	"github.com/rs/zerolog/log"
)

// Store derives Candidate records from sample windows.
type Store struct {
	categories []priors.CategorySignature
	hazard     float64
}

// NewStore builds a Store bound to the given category signature table. The
// BOCPD hazard rate defaults to 0 (disabled); set it with WithHazard.
func NewStore(categories []priors.CategorySignature) *Store {
	return &Store{categories: categories}
}

// WithHazard sets the geometric hazard rate Derive uses to score each
// window's BOCPD change-point probability (spec.md §4.D). Callers normally
// pass the active priors bundle's Hazard field; leaving it at the zero
// value disables the check (ChangePointProbability stays 0 on every
// Candidate) rather than dividing by a meaningless rate.
func (s *Store) WithHazard(hazard float64) *Store {
	s.hazard = hazard
	return s
}

// Derive folds one PID's ordered, non-terminal sample window into a
// Candidate. samples must share an Identity (same start_id); callers are
// responsible for splitting a stream on identity mismatch before calling
// Derive (spec.md §4.C: "later samples with mismatched start_id for the
// same pid are logged and not merged").
func (s *Store) Derive(samples []model.Sample) model.Candidate {
	if len(samples) == 0 {
		return model.Candidate{}
	}

	first := samples[0]
	identity := first.Identity
	for _, sm := range samples[1:] {
		if sm.Identity.StartID != identity.StartID {
			log.Warn().
				Int("pid", sm.Identity.PID).
				Str("frozen_start_id", identity.StartID).
				Str("observed_start_id", sm.Identity.StartID).
				Msg("evidence: dropping sample with mismatched start_id for frozen identity")
		}
	}
	window := filterMatchingIdentity(samples, identity)

	latest := window[len(window)-1]
	occupancy, nEff := occupancyRate(window)
	idleRun := idleRunLength(window)

	orphanFlag, orphanContext := classifyOrphan(latest)
	category := s.categorize(latest.CmdLine)
	sig := s.lookupSignature(category)
	blastRadius := deriveBlastRadius(sig, latest)

	return model.Candidate{
		Identity:    identity,
		WindowStart: window[0].ObservedAt,
		WindowEnd:   latest.ObservedAt,
		PPID:        latest.PPID,
		CmdShort:    cmdShort(latest.CmdLine),
		CmdFull:     latest.CmdLine,
		StateFlag:   latest.State,
		Features: model.DeterministicFeatures{
			OccupancyRate:   occupancy,
			NEff:            nEff,
			IdleRunLength:   idleRun,
			RuntimeSec:      latest.RuntimeSec,
			OrphanFlag:      orphanFlag,
			OrphanContext:   orphanContext,
			CommandCategory: category,
			HasTTY:          latest.HasTTY,
			NetworkActive:   latest.SocketCount > 0,
			IOActive:        latest.IOBytes > 0,
			ChangePointProbability: s.changePointProbability(window),
		},
		BlastRadius:   blastRadius,
		Reversibility: deriveReversibility(sig, latest, blastRadius),
		Supervisor: model.SupervisorInfo{
			Detected: latest.Supervisor.Type != "" && latest.Supervisor.Type != model.SupervisorNone,
			Type:     latest.Supervisor.Type,
			Unit:     latest.Supervisor.Unit,
		},
	}
}

// lookupSignature returns the category signature backing category, or nil
// for "unknown" or a category the active bundle no longer declares.
func (s *Store) lookupSignature(category string) *priors.CategorySignature {
	for i := range s.categories {
		if s.categories[i].Category == category {
			return &s.categories[i]
		}
	}
	return nil
}

var riskRank = map[model.RiskLevel]int{
	model.RiskNone:     0,
	model.RiskLow:      1,
	model.RiskMedium:   2,
	model.RiskHigh:     3,
	model.RiskCritical: 4,
}

func maxRisk(a, b model.RiskLevel) model.RiskLevel {
	if riskRank[b] > riskRank[a] {
		return b
	}
	return a
}

// deriveBlastRadius starts from the category signature's declared base risk
// (model.RiskMedium when the category is unknown or declares none — the
// conservative default, never RiskNone) and escalates, never relaxes, based
// on what the deep scan actually observed: open write descriptors are the
// strongest signal since losing them risks data, not just restart cost.
func deriveBlastRadius(sig *priors.CategorySignature, latest model.Sample) model.BlastRadius {
	risk := model.RiskMedium
	if sig != nil && sig.BaseRiskLevel != "" {
		risk = sig.BaseRiskLevel
	}
	if len(latest.OpenWriteFiles) > 0 {
		risk = maxRisk(risk, model.RiskHigh)
	}
	if latest.SocketCount > 0 {
		risk = maxRisk(risk, model.RiskMedium)
	}

	return model.BlastRadius{
		MemoryMB:        float64(latest.RSSBytes) / (1 << 20),
		ConnectionCount: latest.SocketCount,
		OpenFiles:       latest.OpenFDCount,
		RiskLevel:       risk,
		Summary:         blastRadiusSummary(risk, latest),
	}
}

func blastRadiusSummary(risk model.RiskLevel, latest model.Sample) string {
	return fmt.Sprintf("risk=%s mem_mb=%.1f conns=%d open_write_fds=%d",
		risk, float64(latest.RSSBytes)/(1<<20), latest.SocketCount, len(latest.OpenWriteFiles))
}

// deriveReversibility reports whether acting on latest can be undone
// without loss. A category signature can only claim reversibility when
// declared; observing an actual open write descriptor always overrides it
// to false, since that's ground truth the signature can't anticipate
// (spec.md §4.C data-at-risk).
func deriveReversibility(sig *priors.CategorySignature, latest model.Sample, blastRadius model.BlastRadius) model.Reversibility {
	reversible := sig != nil && sig.Reversible
	dataAtRisk := len(latest.OpenWriteFiles) > 0
	if dataAtRisk {
		reversible = false
	}

	var recovery []string
	if reversible {
		recovery = append(recovery, "no open write descriptors observed; the process can be restarted from its supervisor without data loss")
	}

	return model.Reversibility{
		Reversible:      reversible,
		DataAtRisk:      dataAtRisk,
		OpenWriteFDs:    append([]string(nil), latest.OpenWriteFiles...),
		RecoveryOptions: recovery,
	}
}

// betaBernoulliRun tracks one candidate run length's Beta-Bernoulli
// sufficient statistics for changePointProbability's predictive model.
type betaBernoulliRun struct {
	alpha, beta float64
}

// changePointProbability runs BOCPD (internal/mathkernel) over window's
// CPU-tick-delta activity sequence ("busy" whenever ticks moved since the
// prior sample) and returns the posterior mass on a change point at the
// latest observation. Each run length keeps its own Beta(1,1)-started
// sufficient statistics, growing by one per observation exactly as
// mathkernel.RunLengthPosterior's run-length vector does, so a process that
// flips from idle to busy (or the reverse) partway through the window
// surfaces a high change-point probability even though its average
// occupancy over the whole window looks unremarkable.
func (s *Store) changePointProbability(window []model.Sample) float64 {
	if s.hazard <= 0 || s.hazard >= 1 || len(window) < 2 {
		return 0
	}

	rlp := mathkernel.NewRunLengthPosterior(s.hazard)
	runs := []betaBernoulliRun{{alpha: 1, beta: 1}}

	for i := 1; i < len(window); i++ {
		busy := 0
		if window[i].CPUTicks != window[i-1].CPUTicks {
			busy = 1
		}

		logPred := make([]float64, len(runs))
		for r, run := range runs {
			logPred[r] = mathkernel.LogBetaBinomialPMF(run.alpha, run.beta, 1, busy)
		}
		rlp.Update(logPred)

		grown := make([]betaBernoulliRun, len(runs)+1)
		grown[0] = betaBernoulliRun{alpha: 1, beta: 1}
		for r, run := range runs {
			if busy == 1 {
				run.alpha++
			} else {
				run.beta++
			}
			grown[r+1] = run
		}
		runs = grown
	}
	return rlp.ChangePointProbability()
}

func filterMatchingIdentity(samples []model.Sample, identity model.Identity) []model.Sample {
	out := make([]model.Sample, 0, len(samples))
	for _, s := range samples {
		if s.Identity.StartID == identity.StartID && !s.Terminal {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return samples[:1]
	}
	return out
}

// occupancyRate derives CPU occupancy from tick deltas across the window
// and reports n_eff, the effective sample count used to weight the
// estimate (spec.md §4.C).
func occupancyRate(window []model.Sample) (occupancy float64, nEff float64) {
	if len(window) < 2 {
		return 0, float64(len(window))
	}
	first, last := window[0], window[len(window)-1]
	elapsed := last.ObservedAt.Sub(first.ObservedAt).Seconds()
	if elapsed <= 0 {
		return 0, float64(len(window))
	}
	// USER_HZ is 100 on Linux; tick delta / (elapsed_sec * HZ) gives the
	// fraction of wall-clock time spent on CPU.
	const clockTicksPerSecond = 100.0
	tickDelta := float64(last.CPUTicks) - float64(first.CPUTicks)
	if tickDelta < 0 {
		tickDelta = 0
	}
	occ := tickDelta / (elapsed * clockTicksPerSecond)
	if occ > 1 {
		occ = 1
	}
	return occ, float64(len(window))
}

// idleRunLength reports how long the process has shown zero CPU ticks
// across the tail of the window, in seconds.
func idleRunLength(window []model.Sample) float64 {
	if len(window) < 2 {
		return 0
	}
	idleSince := window[len(window)-1].ObservedAt
	for i := len(window) - 1; i > 0; i-- {
		if window[i].CPUTicks != window[i-1].CPUTicks {
			break
		}
		idleSince = window[i-1].ObservedAt
	}
	return window[len(window)-1].ObservedAt.Sub(idleSince).Seconds()
}

// classifyOrphan requires PPID=1 *and* no supervisor match; a PID with
// PPID=1 that a supervisor does claim is "supervised-reparented" and
// contributes zero to the orphan Bayes factor (spec.md §4.C).
func classifyOrphan(sample model.Sample) (flag bool, context string) {
	if sample.PPID != 1 {
		return false, ""
	}
	if sample.Supervisor.Type != "" && sample.Supervisor.Type != model.SupervisorNone {
		return false, "supervised-reparented"
	}
	return true, ""
}

func (s *Store) categorize(cmdline string) string {
	normalized := normalize(cmdline)
	for _, sig := range s.categories {
		for _, pattern := range sig.Patterns {
			if wildcard.Match(pattern, normalized) {
				return sig.Category
			}
		}
	}
	return "unknown"
}

// normalize is the deterministic normalization used for command
// categorization: it trims and lowercases the whole command line. It does
// not extract the argv head, so signature patterns are matched against the
// full command line including arguments.
func normalize(cmdline string) string {
	trimmed := strings.TrimSpace(cmdline)
	if trimmed == "" {
		return ""
	}
	return strings.ToLower(trimmed)
}

func cmdShort(cmdline string) string {
	const maxLen = 80
	trimmed := strings.TrimSpace(cmdline)
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return trimmed[:maxLen]
}
