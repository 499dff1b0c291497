package gravity

import (
	"fmt"

	"symgravity/internal/logging"
)

// =============================================================================
// Persisted Shape
// =============================================================================

// Snapshot is the engine's persisted shape. It carries the learned state and
// the hyperparameters that shaped it; policy knobs that do not alter learned
// state (pruning, shadow tuning, health bounds) stay with the Config supplied
// at restore time. Restoring a snapshot and replaying identical inputs yields
// identical corrections.
type Snapshot struct {
	Lambda           float64     `json:"lambda"`
	Regularization   float64     `json:"regularization"`
	LearningRate     float64     `json:"learning_rate"`
	Momentum         float64     `json:"momentum"`
	BreakerThreshold float64     `json:"circuit_breaker_threshold"`
	Dimensions       int         `json:"dimensions"`
	PillarOrder      []string    `json:"pillar_order"`
	Weights          [][]float64 `json:"weights"`
	MomentumBuffer   [][]float64 `json:"momentum_buffer"`
	Stats            Stats       `json:"stats"`
	ResidualWindow   []float64   `json:"residual_window"`
	ShadowCausal     []float64   `json:"shadow_causal_window"`
	ShadowGravity    []float64   `json:"shadow_gravity_window"`
}

// Snapshot captures the engine's persisted shape with fully copied state.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{
		Lambda:           e.lambda,
		Regularization:   e.cfg.Regularization,
		LearningRate:     e.cfg.LearningRate,
		Momentum:         e.cfg.Momentum,
		BreakerThreshold: e.cfg.BreakerThreshold,
		Dimensions:       e.cfg.Dimensions,
		PillarOrder:      e.PillarOrder(),
		Weights:          e.Weights(),
		MomentumBuffer:   copyMatrix(e.momentum),
		Stats:            e.stats,
		ResidualWindow:   e.residuals.Values(),
	}
	if e.cfg.Shadow.Enabled {
		snap.ShadowCausal = e.shadowCausal.Values()
		snap.ShadowGravity = e.shadowGravity.Values()
	}
	return snap
}

// FromSnapshot rebuilds an engine from a persisted shape. The snapshot's
// hyperparameters override the matching fields of cfg; everything else
// (pruning, shadow, adaptive tuning) comes from cfg as usual. Fails fast on
// an invalid config or a snapshot whose matrices disagree with its declared
// shape.
func FromSnapshot(snap Snapshot, cfg Config) (*Engine, error) {
	cfg.Lambda = snap.Lambda
	cfg.Regularization = snap.Regularization
	cfg.LearningRate = snap.LearningRate
	cfg.Momentum = snap.Momentum
	cfg.BreakerThreshold = snap.BreakerThreshold
	cfg.Dimensions = snap.Dimensions
	cfg.Pillars = nil // the snapshot's order is authoritative

	e, err := New(cfg)
	if err != nil {
		return nil, err
	}

	if err := checkSnapshotShape(snap); err != nil {
		return nil, err
	}
	for _, name := range snap.PillarOrder {
		e.admit(name)
	}
	for d := 0; d < snap.Dimensions; d++ {
		copy(e.weights[d], snap.Weights[d])
		copy(e.momentum[d], snap.MomentumBuffer[d])
	}
	e.stats = snap.Stats

	for _, v := range snap.ResidualWindow {
		e.residuals.Push(v)
	}
	if cfg.Shadow.Enabled {
		for _, v := range snap.ShadowCausal {
			e.shadowCausal.Push(v)
		}
		for _, v := range snap.ShadowGravity {
			e.shadowGravity.Push(v)
		}
		e.refreshShadow()
	}

	logging.Engine("engine restored from snapshot: dims=%d pillars=%d updates=%d",
		snap.Dimensions, len(snap.PillarOrder), snap.Stats.Updates)
	return e, nil
}

// checkSnapshotShape verifies the weight and momentum matrices agree with the
// snapshot's declared dimensionality and pillar order.
func checkSnapshotShape(snap Snapshot) error {
	if snap.Dimensions < 1 {
		return fmt.Errorf("%w: snapshot dimensions must be >= 1, got %d", ErrInvalidConfig, snap.Dimensions)
	}
	if len(snap.Weights) != snap.Dimensions || len(snap.MomentumBuffer) != snap.Dimensions {
		return fmt.Errorf("%w: snapshot has %d weight and %d momentum rows for %d dimension(s)",
			ErrShapeMismatch, len(snap.Weights), len(snap.MomentumBuffer), snap.Dimensions)
	}
	for d := 0; d < snap.Dimensions; d++ {
		if len(snap.Weights[d]) != len(snap.PillarOrder) || len(snap.MomentumBuffer[d]) != len(snap.PillarOrder) {
			return fmt.Errorf("%w: snapshot row %d width disagrees with %d pillar(s)",
				ErrShapeMismatch, d, len(snap.PillarOrder))
		}
	}
	seen := make(map[string]struct{}, len(snap.PillarOrder))
	for _, name := range snap.PillarOrder {
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: snapshot pillar order repeats %q", ErrInvalidConfig, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

func copyMatrix(m [][]float64) [][]float64 {
	out := make([][]float64, len(m))
	for i := range m {
		out[i] = make([]float64, len(m[i]))
		copy(out[i], m[i])
	}
	return out
}
