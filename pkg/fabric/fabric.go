// Package fabric binds a pillar system and a gravity engine to named target
// variables. It gates corrections on an active-variable set, keeps a bounded
// per-variable history of residual points, accumulates error metrics, and
// produces diagnostic reports for the host simulator.
package fabric

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"symgravity/internal/logging"
	"symgravity/pkg/gravity"
	"symgravity/pkg/pillar"
)

// ErrInvalidConfig is returned when fabric construction parameters are out of
// range or the supplied engine cannot serve scalar variables.
var ErrInvalidConfig = errors.New("fabric: invalid config")

// =============================================================================
// Configuration
// =============================================================================

// Config holds the fabric's own knobs. Engine and pillar behavior is
// configured on their respective components.
type Config struct {
	// HistoryCapacity bounds the per-variable residual point history.
	// Oldest points are evicted first.
	HistoryCapacity int `yaml:"history_capacity" json:"history_capacity"`

	// DominanceShare is the normalized weight-mass share above which a
	// single pillar is called out as dominating corrections.
	DominanceShare float64 `yaml:"dominance_share" json:"dominance_share"`

	// TopContributors is how many pillars the diagnostic report ranks.
	TopContributors int `yaml:"top_contributors" json:"top_contributors"`
}

// DefaultConfig returns the standard fabric configuration.
func DefaultConfig() Config {
	return Config{
		HistoryCapacity: 100,
		DominanceShare:  0.5,
		TopContributors: 5,
	}
}

// Validate fails fast on out-of-range parameters.
func (c Config) Validate() error {
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("%w: history capacity must be >= 1, got %d", ErrInvalidConfig, c.HistoryCapacity)
	}
	if c.DominanceShare <= 0 || c.DominanceShare > 1 {
		return fmt.Errorf("%w: dominance share must be in (0,1], got %v", ErrInvalidConfig, c.DominanceShare)
	}
	if c.TopContributors < 1 {
		return fmt.Errorf("%w: top contributors must be >= 1, got %d", ErrInvalidConfig, c.TopContributors)
	}
	return nil
}

// =============================================================================
// Residual Points
// =============================================================================

// ResidualPoint is an immutable record of one correction or observation
// event. Observed is nil for points created at correction time, before ground
// truth arrives.
type ResidualPoint struct {
	Timestamp  time.Time          `json:"timestamp"`
	Variable   string             `json:"variable"`
	Predicted  float64            `json:"predicted"`
	Observed   *float64           `json:"observed,omitempty"`
	Corrected  float64            `json:"corrected"`
	Residual   float64            `json:"residual"`
	Correction float64            `json:"correction"`
	Pillars    map[string]float64 `json:"pillars"`
}

// errorAccumulator tracks cumulative absolute error for one variable, with
// and without gravity applied.
type errorAccumulator struct {
	originalAbs  float64
	correctedAbs float64
	samples      uint64
}

// =============================================================================
// Fabric
// =============================================================================

// Fabric routes predictions for named variables through the gravity engine.
// Only variables registered as active are corrected by the apply paths;
// RecordResidual learns from every variable regardless of membership. All
// methods are synchronous and must be called from a single goroutine.
type Fabric struct {
	id     string
	cfg    Config
	system *pillar.System
	engine *gravity.Engine

	active  map[string]struct{}
	history map[string][]ResidualPoint
	errs    map[string]*errorAccumulator
}

// New builds a fabric over an existing pillar system and engine. The engine
// must be configured for scalar state; vector engines serve multi-dimensional
// callers directly, not through a fabric.
func New(system *pillar.System, engine *gravity.Engine, cfg Config) (*Fabric, error) {
	if system == nil {
		return nil, fmt.Errorf("%w: pillar system is required", ErrInvalidConfig)
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: gravity engine is required", ErrInvalidConfig)
	}
	if dims := engine.Dimensions(); dims != 1 {
		return nil, fmt.Errorf("%w: fabric requires a scalar engine, got %d dimensions", ErrInvalidConfig, dims)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	f := &Fabric{
		id:      uuid.New().String()[:8],
		cfg:     cfg,
		system:  system,
		engine:  engine,
		active:  make(map[string]struct{}),
		history: make(map[string][]ResidualPoint),
		errs:    make(map[string]*errorAccumulator),
	}
	logging.Fabric("fabric %s created (history=%d)", f.id, cfg.HistoryCapacity)
	return f, nil
}

// ID returns the fabric's short instance identifier.
func (f *Fabric) ID() string { return f.id }

// System returns the bound pillar system.
func (f *Fabric) System() *pillar.System { return f.system }

// Engine returns the bound gravity engine.
func (f *Fabric) Engine() *gravity.Engine { return f.engine }

// =============================================================================
// Active Set
// =============================================================================

// RegisterVariable marks a variable as active. Registration is idempotent.
func (f *Fabric) RegisterVariable(name string) {
	if _, ok := f.active[name]; ok {
		return
	}
	f.active[name] = struct{}{}
	logging.FabricDebug("fabric %s: variable %q registered", f.id, name)
}

// UnregisterVariable removes a variable from the active set. Its history and
// error metrics are retained.
func (f *Fabric) UnregisterVariable(name string) {
	if _, ok := f.active[name]; !ok {
		return
	}
	delete(f.active, name)
	logging.FabricDebug("fabric %s: variable %q unregistered", f.id, name)
}

// IsActive reports whether apply calls will correct the named variable.
func (f *Fabric) IsActive(name string) bool {
	_, ok := f.active[name]
	return ok
}

// Variables returns the active set in sorted order.
func (f *Fabric) Variables() []string {
	names := make([]string, 0, len(f.active))
	for name := range f.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// Correction Paths
// =============================================================================

// ApplyCorrection corrects a single prediction. Inactive variables pass
// through unchanged as (0, predicted). A nil basis uses the pillar system's
// current basis vector; a caller-supplied basis must cover every variable of
// one state snapshot to avoid cross-turn contamination.
func (f *Fabric) ApplyCorrection(variable string, predicted float64, basis map[string]float64) (float64, float64) {
	if !f.IsActive(variable) {
		return 0, predicted
	}
	if basis == nil {
		basis = f.system.BasisVector(0)
	}

	corr, err := f.engine.Apply(predicted, basis)
	if err != nil {
		// The constructor pins the engine to scalar state, so this only
		// fires on a hand-rolled fabric. Pass through rather than halt.
		logging.FabricDebug("fabric %s: correction skipped for %q: %v", f.id, variable, err)
		return 0, predicted
	}

	f.append(ResidualPoint{
		Timestamp:  time.Now(),
		Variable:   variable,
		Predicted:  predicted,
		Corrected:  corr.Corrected,
		Correction: corr.Applied,
		Pillars:    copyBasis(basis),
	})
	return corr.Applied, corr.Corrected
}

// BulkApplyCorrection corrects every prediction in one pass using a single
// pillar snapshot, so all corrections of a state vector derive from the same
// basis. Inactive variables pass through unchanged.
func (f *Fabric) BulkApplyCorrection(predictions map[string]float64) map[string]float64 {
	basis := f.system.BasisVector(0)
	out := make(map[string]float64, len(predictions))

	names := make([]string, 0, len(predictions))
	for name := range predictions {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		_, corrected := f.ApplyCorrection(name, predictions[name], basis)
		out[name] = corrected
	}
	return out
}

// RecordResidual folds one observed ground truth into the layer: it computes
// the correction the current weights produce, performs one weight update on
// the realized residual, feeds the shadow trigger, and retains a full
// residual point. Learning happens for every variable, active or not; the
// active set gates only the apply paths.
func (f *Fabric) RecordResidual(variable string, predicted, actual float64) ResidualPoint {
	basis := f.system.BasisVector(0)
	residual := actual - predicted

	corrected := predicted
	correction := 0.0
	if corr, err := f.engine.Apply(predicted, basis); err == nil {
		corrected = corr.Corrected
		correction = corr.Applied
	}

	if err := f.engine.Update(residual, basis); err != nil {
		logging.FabricDebug("fabric %s: update skipped for %q: %v", f.id, variable, err)
	}
	f.engine.RecordShadowSample(residual, actual-corrected)

	observed := actual
	pt := ResidualPoint{
		Timestamp:  time.Now(),
		Variable:   variable,
		Predicted:  predicted,
		Observed:   &observed,
		Corrected:  corrected,
		Residual:   residual,
		Correction: correction,
		Pillars:    copyBasis(basis),
	}
	f.append(pt)

	acc, ok := f.errs[variable]
	if !ok {
		acc = &errorAccumulator{}
		f.errs[variable] = acc
	}
	acc.originalAbs += math.Abs(residual)
	acc.correctedAbs += math.Abs(actual - corrected)
	acc.samples++

	logging.FabricDebug("fabric %s: residual %.4f recorded for %q (corrected err %.4f)",
		f.id, residual, variable, actual-corrected)
	return pt
}

// append retains a point in the variable's bounded history, oldest first out.
func (f *Fabric) append(pt ResidualPoint) {
	pts := append(f.history[pt.Variable], pt)
	if len(pts) > f.cfg.HistoryCapacity {
		pts = pts[len(pts)-f.cfg.HistoryCapacity:]
	}
	f.history[pt.Variable] = pts
}

// History returns a copy of the variable's retained residual points, oldest
// first.
func (f *Fabric) History(variable string) []ResidualPoint {
	pts := f.history[variable]
	out := make([]ResidualPoint, len(pts))
	copy(out, pts)
	return out
}

// =============================================================================
// Error Metrics
// =============================================================================

// MeanAbsoluteError returns the variable's cumulative MAE without and with
// gravity applied. Both are 0 before the first recorded residual.
func (f *Fabric) MeanAbsoluteError(variable string) (float64, float64) {
	acc, ok := f.errs[variable]
	if !ok || acc.samples == 0 {
		return 0, 0
	}
	n := float64(acc.samples)
	return acc.originalAbs / n, acc.correctedAbs / n
}

// ImprovementPercentage reports how much gravity reduced the variable's MAE,
// as a percentage of the uncorrected error. Near-zero uncorrected error
// yields 0 rather than a blow-up.
func (f *Fabric) ImprovementPercentage(variable string) float64 {
	original, corrected := f.MeanAbsoluteError(variable)
	if original < degenerateEpsilon {
		return 0
	}
	return (original - corrected) / original * 100
}

const degenerateEpsilon = 1e-9

func copyBasis(basis map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(basis))
	for k, v := range basis {
		out[k] = v
	}
	return out
}
