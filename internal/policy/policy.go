// Package policy loads and validates the externally-provided policy
// bundle: the loss matrix, posterior thresholds, blast-radius caps, FDR
// budget settings, protected patterns, and the allowed auto-mitigation set
// that the Decision Engine and Gate Evaluator are configured from
// (spec.md §6). Protected-pattern matching uses the same go-wildcard
// matcher the teacher's agentexec policy uses for command classification.
package policy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/IGLOU-EU/go-wildcard/v2"
	"github.com/proctriage/triage/internal/model"
)

// FDRSettings controls the alpha-investing / FDR online multiple-testing
// budget (spec.md §8 invariant 8).
type FDRSettings struct {
	InitialWealth float64 `json:"initial_wealth"`
	TargetAlpha   float64 `json:"target_alpha"`
	RewardOnAccept float64 `json:"reward_on_accept"`
}

// Bundle is the full policy document.
type Bundle struct {
	Version             string                              `json:"version"`
	LossMatrix          map[model.ActionKind]map[model.ClassLabel]float64 `json:"loss_matrix"`
	PosteriorThresholds map[model.ActionKind]float64         `json:"posterior_thresholds"`
	BlastRadiusCaps     model.BlastRadius                    `json:"blast_radius_caps"`
	FDR                 FDRSettings                          `json:"fdr"`
	ProtectedPatterns   []string                             `json:"protected_patterns"`
	AllowedAutoMitigation []model.ActionKind                 `json:"allowed_auto_mitigation"`
	DROTighteningFactor float64                              `json:"dro_tightening_factor"`
}

// Load reads and validates a policy bundle from path.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("policy: parse %s: %w", path, err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("policy: validate %s: %w", path, err)
	}
	return &b, nil
}

// Validate checks structural invariants: every class has a loss entry for
// every action, thresholds are in [0,1], FDR settings are well-formed.
func (b *Bundle) Validate() error {
	if len(b.LossMatrix) == 0 {
		return fmt.Errorf("loss_matrix is empty")
	}
	for action, row := range b.LossMatrix {
		for _, c := range model.Classes() {
			if _, ok := row[c]; !ok {
				return fmt.Errorf("loss_matrix[%q] missing class %q", action, c)
			}
		}
	}
	for action, th := range b.PosteriorThresholds {
		if th < 0 || th > 1 {
			return fmt.Errorf("posterior_thresholds[%q] = %f out of [0,1]", action, th)
		}
	}
	if b.FDR.InitialWealth <= 0 {
		return fmt.Errorf("fdr.initial_wealth must be > 0")
	}
	if b.FDR.TargetAlpha <= 0 || b.FDR.TargetAlpha >= 1 {
		return fmt.Errorf("fdr.target_alpha = %f must be in (0,1)", b.FDR.TargetAlpha)
	}
	if len(b.AllowedAutoMitigation) == 0 {
		return fmt.Errorf("allowed_auto_mitigation is empty")
	}
	return nil
}

// IsProtected reports whether cmdline matches any configured protected
// pattern, tried against both the full command line and the base name of
// its first word (so "sshd*" covers "/usr/sbin/sshd -D"). PID 1 is always
// protected regardless of pattern match (spec.md §8 invariant 2), which
// callers must check separately.
func (b *Bundle) IsProtected(cmdline string) bool {
	head := ""
	if fields := strings.Fields(cmdline); len(fields) > 0 {
		head = filepath.Base(fields[0])
	}
	for _, pattern := range b.ProtectedPatterns {
		if wildcard.Match(pattern, cmdline) || (head != "" && wildcard.Match(pattern, head)) {
			return true
		}
	}
	return false
}

// IsAutoMitigationAllowed reports whether the given action may be applied
// without requiring an explicit approval step.
func (b *Bundle) IsAutoMitigationAllowed(action model.ActionKind) bool {
	for _, a := range b.AllowedAutoMitigation {
		if a == action {
			return true
		}
	}
	return false
}

// Loss returns the loss L[action, class] the action would incur if the
// target's true class were class.
func (b *Bundle) Loss(action model.ActionKind, class model.ClassLabel) float64 {
	row, ok := b.LossMatrix[action]
	if !ok {
		return 0
	}
	return row[class]
}

// ExpectedLoss computes sum_C posterior[C] * L[action, C] — the expected
// loss the Decision Engine ranks actions by (spec.md §4.F).
func (b *Bundle) ExpectedLoss(action model.ActionKind, posterior map[model.ClassLabel]float64) float64 {
	var total float64
	for class, p := range posterior {
		total += p * b.Loss(action, class)
	}
	return total
}
