// Package gravity implements the residual gravity engine: an online learner
// that maps a pillar-intensity basis vector to a correction ("gravity") for
// causal-model predictions, trained one SGD-with-momentum step at a time from
// realized residuals.
//
// Raw gravity passes a circuit breaker and the applied correction is
// hard-clamped. Lambda can scale itself down as the composite fragility score
// rises, and a shadow trigger watches whether the correction layer is
// explaining suspiciously much of the causal model's error. Instability never
// raises an error; it degrades the correction and surfaces through Health.
//
// Every operation is a synchronous in-memory transform. One engine instance
// belongs to one simulation timeline and one caller at a time.
package gravity

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"symgravity/internal/logging"
	"symgravity/internal/window"
)

const (
	// lambdaFragilityFloor is the minimum factor fragility scaling may
	// shrink the effective lambda to.
	lambdaFragilityFloor = 0.1
	// breakerLambdaPenalty further shrinks the effective lambda on a
	// circuit-breaker trip.
	breakerLambdaPenalty = 0.5
	// fragilityTripCeiling is the trip count that saturates the breaker
	// term of the fragility score.
	fragilityTripCeiling = 10
	// fragilityEpsilon floors the correction-churn denominator.
	fragilityEpsilon = 1e-9
)

// =============================================================================
// Errors
// =============================================================================

// ErrShapeMismatch is the sentinel wrapped by every ShapeError.
var ErrShapeMismatch = errors.New("gravity: shape mismatch")

// ShapeError reports a residual or prediction whose dimensionality disagrees
// with the engine's configured state. It always fails fast; the engine never
// broadcasts across mismatched shapes.
type ShapeError struct {
	Op   string
	Want int
	Got  int
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("gravity: %s: state has %d dimension(s), input has %d", e.Op, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error { return ErrShapeMismatch }

// =============================================================================
// Engine State
// =============================================================================

// Stats holds the engine's cumulative counters. They are part of the
// persisted shape and feed fragility and health scoring.
type Stats struct {
	Updates           uint64  `json:"updates"`
	Corrections       uint64  `json:"corrections"`
	BreakerTrips      uint64  `json:"breaker_trips"`
	Prunes            uint64  `json:"prunes"`
	LambdaAdjustments uint64  `json:"lambda_adjustments"`
	ShadowTriggers    uint64  `json:"shadow_triggers"`
	LastCorrection    float64 `json:"last_correction"`
	PrevCorrection    float64 `json:"prev_correction"`
	LastRawGravity    float64 `json:"last_raw_gravity"`
	AppliedAbsTotal   float64 `json:"applied_abs_total"`
	RawAbsTotal       float64 `json:"raw_abs_total"`
}

// Correction is the outcome of applying gravity to a scalar prediction.
type Correction struct {
	// Applied is the clamped correction added to the prediction.
	Applied float64
	// Corrected is predicted + Applied.
	Corrected float64
	// Raw is the breaker-clamped gravity the correction was scaled from.
	Raw float64
	// EffectiveLambda is the strength actually used, after fragility
	// scaling and any breaker penalty.
	EffectiveLambda float64
	// BreakerTripped reports whether raw gravity exceeded the breaker.
	BreakerTripped bool
}

// VectorCorrection is the outcome of applying gravity to a vector prediction.
type VectorCorrection struct {
	Applied         []float64
	Corrected       []float64
	Raw             []float64
	EffectiveLambda float64
	BreakerTripped  bool
}

// Engine is the online residual learner. It owns a dense weight matrix of
// shape dimensions x pillars, an identically shaped momentum buffer, and the
// rolling windows behind adaptive lambda and the shadow trigger.
type Engine struct {
	cfg Config

	lambda  float64
	pillars []string
	index   map[string]int

	weights  [][]float64
	momentum [][]float64

	residuals *window.Ring

	shadowCausal  *window.Ring
	shadowGravity *window.Ring
	shadowReady   bool
	varExplained  float64
	reviewNeeded  bool

	stats Stats
}

// New constructs an engine from cfg, failing fast on any out-of-range value.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:       cfg,
		lambda:    cfg.Lambda,
		pillars:   make([]string, 0, len(cfg.Pillars)),
		index:     make(map[string]int, len(cfg.Pillars)),
		weights:   make([][]float64, cfg.Dimensions),
		momentum:  make([][]float64, cfg.Dimensions),
		residuals: window.NewRing(max(cfg.ResidualWindow, 1)),
	}
	for d := range e.weights {
		e.weights[d] = make([]float64, 0, len(cfg.Pillars))
		e.momentum[d] = make([]float64, 0, len(cfg.Pillars))
	}
	for _, name := range cfg.Pillars {
		e.admit(name)
	}
	if cfg.Shadow.Enabled {
		e.shadowCausal = window.NewRing(cfg.Shadow.WindowSize)
		e.shadowGravity = window.NewRing(cfg.Shadow.WindowSize)
	}
	logging.EngineDebug("engine ready: dims=%d pillars=%d lambda=%.4f adaptive=%v",
		cfg.Dimensions, len(e.pillars), e.lambda, cfg.AdaptiveLambda)
	return e, nil
}

// admit appends a pillar as the next column of the weight matrix and the
// momentum buffer, keeping their shapes equal.
func (e *Engine) admit(name string) {
	e.index[name] = len(e.pillars)
	e.pillars = append(e.pillars, name)
	for d := range e.weights {
		e.weights[d] = append(e.weights[d], 0)
		e.momentum[d] = append(e.momentum[d], 0)
	}
}

// admitNew registers basis pillars the engine has not seen yet, in sorted
// order so the canonical order is independent of map iteration.
func (e *Engine) admitNew(basis map[string]float64) {
	var fresh []string
	for name := range basis {
		if _, ok := e.index[name]; !ok {
			fresh = append(fresh, name)
		}
	}
	if len(fresh) == 0 {
		return
	}
	sort.Strings(fresh)
	for _, name := range fresh {
		e.admit(name)
	}
	logging.EngineDebug("admitted %d new pillar(s), canonical order now %d wide", len(fresh), len(e.pillars))
}

// =============================================================================
// Gravity Computation
// =============================================================================

// ComputeGravity returns W x s for the given basis vector, one value per
// state dimension. Basis entries for pillars the engine does not know are
// ignored; known pillars missing from the basis contribute zero.
func (e *Engine) ComputeGravity(basis map[string]float64) []float64 {
	out := make([]float64, e.cfg.Dimensions)
	for idx, name := range e.pillars {
		s, ok := basis[name]
		if !ok || s == 0 {
			continue
		}
		for d := range out {
			out[d] += e.weights[d][idx] * s
		}
	}
	return out
}

// ScalarGravity returns the first dimension of ComputeGravity. It is the
// natural accessor for dimensionality-1 engines.
func (e *Engine) ScalarGravity(basis map[string]float64) float64 {
	return e.ComputeGravity(basis)[0]
}

// =============================================================================
// Weight Updates
// =============================================================================

// Update performs one scalar learning step. The engine must be configured
// with dimensionality 1.
func (e *Engine) Update(residual float64, basis map[string]float64) error {
	if e.cfg.Dimensions != 1 {
		return &ShapeError{Op: "update", Want: e.cfg.Dimensions, Got: 1}
	}
	return e.updateVector([]float64{residual}, basis)
}

// UpdateVector performs one learning step against a vector residual whose
// length must equal the configured dimensionality.
func (e *Engine) UpdateVector(residual []float64, basis map[string]float64) error {
	if len(residual) != e.cfg.Dimensions {
		return &ShapeError{Op: "update", Want: e.cfg.Dimensions, Got: len(residual)}
	}
	return e.updateVector(residual, basis)
}

func (e *Engine) updateVector(residual []float64, basis map[string]float64) error {
	e.admitNew(basis)

	alpha := ewmaAlpha(e.cfg.EWMASpan)
	for idx, name := range e.pillars {
		s, ok := basis[name]
		if !ok {
			continue
		}
		for d := range residual {
			old := e.weights[d][idx]
			grad := residual[d]*s - e.cfg.Regularization*old
			m := e.cfg.Momentum*e.momentum[d][idx] + (1-e.cfg.Momentum)*grad
			e.momentum[d][idx] = m
			next := old + e.cfg.LearningRate*m
			if alpha < 1 {
				next = alpha*next + (1-alpha)*old
			}
			e.weights[d][idx] = next
		}
	}

	e.stats.Updates++
	e.residuals.Push(meanAbs(residual))
	e.maybeAdjustLambda()
	e.maybePrune()
	return nil
}

// maybeAdjustLambda nudges the base lambda once the rolling residual window
// is full: a high mean magnitude grows lambda, a low one shrinks it, and the
// result is always clamped into [LambdaMin, LambdaMax].
func (e *Engine) maybeAdjustLambda() {
	if !e.cfg.AdaptiveLambda || !e.residuals.Full() {
		return
	}
	mean := e.residuals.Mean()
	next := e.lambda
	switch {
	case mean > e.cfg.ResidualHighThreshold:
		next *= e.cfg.LambdaIncrease
	case mean < e.cfg.ResidualLowThreshold:
		next *= e.cfg.LambdaDecrease
	default:
		return
	}
	next = clamp(next, e.cfg.LambdaMin, e.cfg.LambdaMax)
	if next == e.lambda {
		return
	}
	e.lambda = next
	e.stats.LambdaAdjustments++
	logging.EngineDebug("adaptive lambda moved to %.4f (window mean |residual| %.4f)", e.lambda, mean)
}

// maybePrune zeroes weights below the pruning threshold once RMS weight mass
// has grown past the fragility threshold.
func (e *Engine) maybePrune() {
	if !e.cfg.PruningEnabled || e.RMSWeight() <= e.cfg.FragilityThreshold {
		return
	}
	pruned := 0
	for d := range e.weights {
		for i, w := range e.weights[d] {
			if w != 0 && math.Abs(w) < e.cfg.PruningThreshold {
				e.weights[d][i] = 0
				pruned++
			}
		}
	}
	if pruned == 0 {
		return
	}
	e.stats.Prunes++
	logging.Engine("pruned %d weight(s) below %.4f (rms %.4f over threshold %.4f)",
		pruned, e.cfg.PruningThreshold, e.RMSWeight(), e.cfg.FragilityThreshold)
}

// =============================================================================
// Correction Application
// =============================================================================

// Apply computes and applies the gravity correction for a scalar prediction.
// The engine must be configured with dimensionality 1. The engine always
// returns a (possibly clamped) correction; instability shows up in Health,
// never as an error here.
func (e *Engine) Apply(predicted float64, basis map[string]float64) (Correction, error) {
	if e.cfg.Dimensions != 1 {
		return Correction{}, &ShapeError{Op: "apply", Want: e.cfg.Dimensions, Got: 1}
	}
	v := e.applyVector([]float64{predicted}, basis)
	return Correction{
		Applied:         v.Applied[0],
		Corrected:       v.Corrected[0],
		Raw:             v.Raw[0],
		EffectiveLambda: v.EffectiveLambda,
		BreakerTripped:  v.BreakerTripped,
	}, nil
}

// ApplyVector computes and applies the gravity correction for a vector
// prediction whose length must equal the configured dimensionality.
func (e *Engine) ApplyVector(predicted []float64, basis map[string]float64) (VectorCorrection, error) {
	if len(predicted) != e.cfg.Dimensions {
		return VectorCorrection{}, &ShapeError{Op: "apply", Want: e.cfg.Dimensions, Got: len(predicted)}
	}
	return e.applyVector(predicted, basis), nil
}

func (e *Engine) applyVector(predicted []float64, basis map[string]float64) VectorCorrection {
	raw := e.ComputeGravity(basis)

	effective := e.lambda
	if e.cfg.AdaptiveLambda {
		effective *= math.Max(lambdaFragilityFloor, 1-e.Fragility())
	}

	tripped := false
	for d, g := range raw {
		if math.Abs(g) > e.cfg.BreakerThreshold {
			raw[d] = clamp(g, -e.cfg.BreakerThreshold, e.cfg.BreakerThreshold)
			tripped = true
		}
	}
	if tripped {
		e.stats.BreakerTrips++
		effective *= breakerLambdaPenalty
		logging.EngineWarn("circuit breaker tripped (trip #%d), lambda penalized to %.4f",
			e.stats.BreakerTrips, effective)
	}

	applied := make([]float64, len(raw))
	corrected := make([]float64, len(raw))
	for d, g := range raw {
		applied[d] = clamp(effective*g, -e.cfg.MaxCorrection, e.cfg.MaxCorrection)
		corrected[d] = predicted[d] + applied[d]
	}

	e.stats.Corrections++
	e.stats.PrevCorrection = e.stats.LastCorrection
	e.stats.LastCorrection = meanOf(applied)
	e.stats.LastRawGravity = meanOf(raw)
	e.stats.AppliedAbsTotal += meanAbs(applied)
	e.stats.RawAbsTotal += meanAbs(raw)

	return VectorCorrection{
		Applied:         applied,
		Corrected:       corrected,
		Raw:             raw,
		EffectiveLambda: effective,
		BreakerTripped:  tripped,
	}
}

// =============================================================================
// Fragility
// =============================================================================

// Fragility returns the composite 0-1 instability score: half from RMS weight
// mass relative to the fragility threshold, three tenths from correction
// churn between the last two corrections, two tenths from breaker trips.
func (e *Engine) Fragility() float64 {
	weightTerm := math.Min(e.RMSWeight()/e.cfg.FragilityThreshold, 1)

	cur, prev := e.stats.LastCorrection, e.stats.PrevCorrection
	churnTerm := math.Abs(cur-prev) / (math.Abs(cur) + math.Abs(prev) + fragilityEpsilon)

	tripTerm := math.Min(float64(e.stats.BreakerTrips)/fragilityTripCeiling, 1)

	return 0.5*weightTerm + 0.3*churnTerm + 0.2*tripTerm
}

// =============================================================================
// Accessors
// =============================================================================

// Dimensions returns the configured state dimensionality.
func (e *Engine) Dimensions() int { return e.cfg.Dimensions }

// Lambda returns the current base correction strength.
func (e *Engine) Lambda() float64 { return e.lambda }

// Stats returns a copy of the cumulative counters.
func (e *Engine) Stats() Stats { return e.stats }

// PillarOrder returns the canonical pillar order as a fresh slice.
func (e *Engine) PillarOrder() []string {
	out := make([]string, len(e.pillars))
	copy(out, e.pillars)
	return out
}

// Weights returns a deep copy of the weight matrix, rows indexed by state
// dimension and columns by the canonical pillar order.
func (e *Engine) Weights() [][]float64 {
	out := make([][]float64, len(e.weights))
	for d := range e.weights {
		out[d] = make([]float64, len(e.weights[d]))
		copy(out[d], e.weights[d])
	}
	return out
}

// PillarWeights returns each known pillar's weight averaged across state
// dimensions; for dimensionality 1 this is the pillar's signed weight.
func (e *Engine) PillarWeights() map[string]float64 {
	out := make(map[string]float64, len(e.pillars))
	for idx, name := range e.pillars {
		var sum float64
		for d := range e.weights {
			sum += e.weights[d][idx]
		}
		out[name] = sum / float64(len(e.weights))
	}
	return out
}

// RMSWeight returns the root-mean-square of all weights, 0 when no pillars
// are known yet.
func (e *Engine) RMSWeight() float64 {
	n := len(e.pillars) * e.cfg.Dimensions
	if n == 0 {
		return 0
	}
	var ss float64
	for d := range e.weights {
		for _, w := range e.weights[d] {
			ss += w * w
		}
	}
	return math.Sqrt(ss / float64(n))
}

// MaxAbsWeight returns the largest absolute weight, 0 when no pillars are
// known yet.
func (e *Engine) MaxAbsWeight() float64 {
	var maxAbs float64
	for d := range e.weights {
		for _, w := range e.weights[d] {
			if a := math.Abs(w); a > maxAbs {
				maxAbs = a
			}
		}
	}
	return maxAbs
}

// =============================================================================
// Small Helpers
// =============================================================================

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func meanAbs(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var s float64
	for _, v := range vs {
		s += math.Abs(v)
	}
	return s / float64(len(vs))
}

func meanOf(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var s float64
	for _, v := range vs {
		s += v
	}
	return s / float64(len(vs))
}
