package fabric

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"symgravity/internal/logging"
	"symgravity/pkg/gravity"
)

// =============================================================================
// Diagnostic Report
// =============================================================================

// suggestionMinSamples is how many recorded residuals a variable needs before
// the report will call out a regression on it.
const suggestionMinSamples = 10

// VariableDiagnostics summarizes one variable's correction quality.
type VariableDiagnostics struct {
	Active         bool    `json:"active"`
	Samples        uint64  `json:"samples"`
	OriginalMAE    float64 `json:"original_mae"`
	CorrectedMAE   float64 `json:"corrected_mae"`
	ImprovementPct float64 `json:"improvement_pct"`
	HistoryLen     int     `json:"history_len"`
}

// PillarContribution ranks one pillar's share of the engine's weight mass.
type PillarContribution struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Share  float64 `json:"share"`
}

// Report is a point-in-time diagnostic view of the whole correction layer.
type Report struct {
	ID              string                         `json:"id"`
	FabricID        string                         `json:"fabric_id"`
	GeneratedAt     time.Time                      `json:"generated_at"`
	ActiveVariables []string                       `json:"active_variables"`
	Variables       map[string]VariableDiagnostics `json:"variables"`
	Contributions   map[string]float64             `json:"pillar_contributions"`
	TopContributors []PillarContribution           `json:"top_contributors"`
	Lambda          float64                        `json:"lambda"`
	Fragility       float64                        `json:"fragility"`
	Stats           gravity.Stats                  `json:"stats"`
	Health          gravity.HealthReport           `json:"health"`
	Shadow          gravity.ShadowStatus           `json:"shadow"`
	Suggestions     []string                       `json:"suggestions,omitempty"`
}

// GenerateDiagnosticReport assembles per-variable error metrics, normalized
// pillar contribution shares, engine health, shadow state, and textual
// suggestions into one report.
func (f *Fabric) GenerateDiagnosticReport() *Report {
	r := &Report{
		ID:              uuid.New().String()[:8],
		FabricID:        f.id,
		GeneratedAt:     time.Now(),
		ActiveVariables: f.Variables(),
		Variables:       f.variableDiagnostics(),
		Lambda:          f.engine.Lambda(),
		Fragility:       f.engine.Fragility(),
		Stats:           f.engine.Stats(),
		Health:          f.engine.Health(),
		Shadow:          f.engine.ShadowStatus(),
	}
	r.Contributions, r.TopContributors = f.contributions()
	r.Suggestions = f.suggestions(r)

	logging.Fabric("fabric %s: report %s generated (%d variables, status=%s)",
		f.id, r.ID, len(r.Variables), r.Health.Status)
	return r
}

// variableDiagnostics covers every variable the fabric has ever seen, active
// or not.
func (f *Fabric) variableDiagnostics() map[string]VariableDiagnostics {
	out := make(map[string]VariableDiagnostics)
	for name := range f.active {
		out[name] = f.diagnoseVariable(name)
	}
	for name := range f.history {
		if _, ok := out[name]; !ok {
			out[name] = f.diagnoseVariable(name)
		}
	}
	for name := range f.errs {
		if _, ok := out[name]; !ok {
			out[name] = f.diagnoseVariable(name)
		}
	}
	return out
}

func (f *Fabric) diagnoseVariable(name string) VariableDiagnostics {
	original, corrected := f.MeanAbsoluteError(name)
	var samples uint64
	if acc, ok := f.errs[name]; ok {
		samples = acc.samples
	}
	return VariableDiagnostics{
		Active:         f.IsActive(name),
		Samples:        samples,
		OriginalMAE:    original,
		CorrectedMAE:   corrected,
		ImprovementPct: f.ImprovementPercentage(name),
		HistoryLen:     len(f.history[name]),
	}
}

// contributions normalizes the engine's per-pillar weight mass into shares
// and ranks the top contributors, largest share first with names breaking
// ties.
func (f *Fabric) contributions() (map[string]float64, []PillarContribution) {
	weights := f.engine.PillarWeights()

	total := 0.0
	for _, w := range weights {
		total += math.Abs(w)
	}

	shares := make(map[string]float64, len(weights))
	ranked := make([]PillarContribution, 0, len(weights))
	for name, w := range weights {
		share := 0.0
		if total > degenerateEpsilon {
			share = math.Abs(w) / total
		}
		shares[name] = share
		ranked = append(ranked, PillarContribution{Name: name, Weight: w, Share: share})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Share != ranked[j].Share {
			return ranked[i].Share > ranked[j].Share
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > f.cfg.TopContributors {
		ranked = ranked[:f.cfg.TopContributors]
	}
	return shares, ranked
}

// suggestions derives the report's textual advice. Order is deterministic:
// pillar dominance, shadow trigger, engine health, then per-variable
// regressions in name order.
func (f *Fabric) suggestions(r *Report) []string {
	var out []string

	for _, c := range r.TopContributors {
		if c.Share > f.cfg.DominanceShare {
			out = append(out, fmt.Sprintf(
				"pillar %q dominates corrections with %.0f%% of weight mass; fold its signal into the causal model directly",
				c.Name, c.Share*100))
		}
	}

	if r.Shadow.ReviewNeeded {
		out = append(out, fmt.Sprintf(
			"corrections explain %.0f%% of residual variance; the causal model needs review",
			r.Shadow.VarianceExplained*100))
	}

	out = append(out, r.Health.Recommendations...)

	names := make([]string, 0, len(r.Variables))
	for name := range r.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d := r.Variables[name]
		if d.Samples >= suggestionMinSamples && d.ImprovementPct < 0 {
			out = append(out, fmt.Sprintf(
				"corrections regress %q by %.1f%%; consider lowering lambda or enabling pruning",
				name, -d.ImprovementPct))
		}
	}
	return out
}
