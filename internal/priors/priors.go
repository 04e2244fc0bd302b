// Package priors loads and validates the externally-provided priors
// bundle: per-class, per-family conjugate-prior parameters (Beta, Gamma,
// Dirichlet) that the Inference Engine starts every posterior from
// (spec.md §6). Loading is hot-reloadable, grounded on the teacher's
// internal/config fsnotify watcher (internal/config/watcher_fsnotify_test.go).
package priors

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/proctriage/triage/internal/model"
)

// BetaParams parameterizes a Beta(α, β) conjugate prior.
type BetaParams struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// GammaParams parameterizes a Gamma(shape, rate) conjugate prior.
type GammaParams struct {
	Shape float64 `json:"shape"`
	Rate  float64 `json:"rate"`
}

// DirichletParams parameterizes a Dirichlet(α[]) conjugate prior over a
// fixed, ordered category list.
type DirichletParams struct {
	Categories []string  `json:"categories"`
	Alpha      []float64 `json:"alpha"`
}

// FeatureFamily bundles one feature family's per-class prior parameters.
// Only the field matching Kind is meaningful.
type FeatureFamily struct {
	Kind      string                          `json:"kind"` // "beta_binomial" | "beta_bernoulli" | "gamma" | "dirichlet_multinomial"
	Beta      map[model.ClassLabel]BetaParams `json:"beta,omitempty"`
	Gamma     map[model.ClassLabel]GammaParams `json:"gamma,omitempty"`
	Dirichlet map[model.ClassLabel]DirichletParams `json:"dirichlet,omitempty"`
}

// CategorySignature maps one command category to the glob patterns
// (matched with go-wildcard against the trimmed, lowercased full command
// line) that
// identify it, used by the Evidence Store's deterministic command
// categorization (spec.md §4.C). BaseRiskLevel and Reversible are the
// category's declarative blast-radius defaults (spec.md §4.C blast radius);
// the Evidence Store only escalates them per-sample, never relaxes them, so
// an empty/zero-value signature (and the "unknown" category, which has
// none) is the conservative choice rather than a silent no-op.
type CategorySignature struct {
	Category     string          `json:"category"`
	Patterns     []string        `json:"patterns"`
	BaseRiskLevel model.RiskLevel `json:"base_risk_level,omitempty"`
	Reversible   bool            `json:"reversible,omitempty"`
}

// Bundle is the full priors document: class priors plus one FeatureFamily
// per evidence family named in spec.md §4.E step 2.
type Bundle struct {
	Version            string                       `json:"version"`
	ClassPriors        map[model.ClassLabel]float64 `json:"class_priors"`
	Families           map[string]FeatureFamily     `json:"families"`
	SafeBayesEta       float64                      `json:"safe_bayes_eta"`
	Hazard             float64                      `json:"bocpd_hazard"`
	CategorySignatures []CategorySignature          `json:"category_signatures"`
}

// CategoryNames returns the ordered category list, matching the order the
// command_category Dirichlet family declares it in.
func (b *Bundle) CategoryNames() []string {
	fam, ok := b.Families["command_category"]
	if !ok {
		return nil
	}
	for _, c := range model.Classes() {
		if p, ok := fam.Dirichlet[c]; ok {
			return p.Categories
		}
	}
	return nil
}

// RequiredFamilies are the evidence families spec.md §4.E step 2 names.
// Every bundle must define all of them.
var RequiredFamilies = []string{
	"cpu_occupancy", "runtime", "orphan_context", "tty",
	"network", "io", "competing_hazards", "state_flag", "command_category",
}

// Load reads and validates a priors bundle from path.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("priors: read %s: %w", path, err)
	}
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("priors: parse %s: %w", path, err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("priors: validate %s: %w", path, err)
	}
	return &b, nil
}

// Validate checks the invariants spec.md §6 requires: class priors sum to
// 1, all concentrations are positive, and every Dirichlet α length matches
// its declared category count.
func (b *Bundle) Validate() error {
	if len(b.ClassPriors) == 0 {
		return fmt.Errorf("class_priors is empty")
	}
	var sum float64
	for _, c := range model.Classes() {
		p, ok := b.ClassPriors[c]
		if !ok {
			return fmt.Errorf("class_priors missing class %q", c)
		}
		if p < 0 {
			return fmt.Errorf("class_priors[%q] = %f is negative", c, p)
		}
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return fmt.Errorf("class_priors sum to %f, want 1", sum)
	}

	for _, name := range RequiredFamilies {
		fam, ok := b.Families[name]
		if !ok {
			return fmt.Errorf("families missing required family %q", name)
		}
		if err := fam.validate(); err != nil {
			return fmt.Errorf("families[%q]: %w", name, err)
		}
	}

	if b.SafeBayesEta <= 0 || b.SafeBayesEta > 1 {
		return fmt.Errorf("safe_bayes_eta = %f must be in (0, 1]", b.SafeBayesEta)
	}
	if b.Hazard <= 0 || b.Hazard >= 1 {
		return fmt.Errorf("bocpd_hazard = %f must be in (0, 1)", b.Hazard)
	}
	return nil
}

func (f FeatureFamily) validate() error {
	switch f.Kind {
	case "beta_binomial", "beta_bernoulli":
		if len(f.Beta) == 0 {
			return fmt.Errorf("kind %q requires beta params", f.Kind)
		}
		for cls, p := range f.Beta {
			if p.Alpha <= 0 || p.Beta <= 0 {
				return fmt.Errorf("beta[%q] concentrations must be > 0, got alpha=%f beta=%f", cls, p.Alpha, p.Beta)
			}
		}
	case "gamma":
		if len(f.Gamma) == 0 {
			return fmt.Errorf("kind gamma requires gamma params")
		}
		for cls, p := range f.Gamma {
			if p.Shape <= 0 || p.Rate <= 0 {
				return fmt.Errorf("gamma[%q] shape/rate must be > 0, got shape=%f rate=%f", cls, p.Shape, p.Rate)
			}
		}
	case "dirichlet_multinomial":
		if len(f.Dirichlet) == 0 {
			return fmt.Errorf("kind dirichlet_multinomial requires dirichlet params")
		}
		for cls, p := range f.Dirichlet {
			if len(p.Alpha) != len(p.Categories) {
				return fmt.Errorf("dirichlet[%q] alpha length %d does not match categories length %d", cls, len(p.Alpha), len(p.Categories))
			}
			for _, a := range p.Alpha {
				if a <= 0 {
					return fmt.Errorf("dirichlet[%q] concentration %f must be > 0", cls, a)
				}
			}
		}
	default:
		return fmt.Errorf("unknown family kind %q", f.Kind)
	}
	return nil
}
