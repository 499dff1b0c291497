package gravity

import "symgravity/internal/logging"

// =============================================================================
// Shadow-Model Trigger
// =============================================================================

// ShadowStatus is the current state of the shadow-model trigger.
type ShadowStatus struct {
	// Ready reports whether both residual windows have reached the
	// configured minimum sample count. VarianceExplained is only
	// meaningful once Ready is true.
	Ready bool `json:"ready"`
	// Samples is the number of paired samples held (the smaller window
	// when the two ever diverge).
	Samples int `json:"samples"`
	// VarianceExplained is 1 - var(post-gravity residuals) /
	// var(causal-only residuals), or 0 while not ready or while the
	// causal variance sits below its floor. Negative values mean the
	// corrections are adding error.
	VarianceExplained float64 `json:"variance_explained"`
	// ReviewNeeded is the non-blocking flag raised when
	// VarianceExplained exceeds the configured threshold.
	ReviewNeeded bool `json:"review_needed"`
}

// RecordShadowSample feeds one turn's residual pair into the trigger:
// causal is truth minus the uncorrected prediction, corrected is truth minus
// the gravity-corrected prediction. A no-op when the trigger is disabled.
func (e *Engine) RecordShadowSample(causal, corrected float64) {
	if !e.cfg.Shadow.Enabled {
		return
	}
	e.shadowCausal.Push(causal)
	e.shadowGravity.Push(corrected)
	e.evaluateShadow()
}

// evaluateShadow recomputes the trigger state and books a rising edge.
func (e *Engine) evaluateShadow() {
	wasRaised := e.reviewNeeded
	e.refreshShadow()
	if e.reviewNeeded && !wasRaised {
		e.stats.ShadowTriggers++
		logging.ShadowWarn("shadow trigger raised: corrections explain %.1f%% of causal variance (threshold %.1f%%)",
			e.varExplained*100, e.cfg.Shadow.VarianceThreshold*100)
	}
}

// refreshShadow recomputes the cached trigger state from the windows without
// any edge bookkeeping. Restore paths use it directly so an already counted
// trigger is not counted twice.
func (e *Engine) refreshShadow() {
	e.shadowReady = e.shadowCausal.Len() >= e.cfg.Shadow.MinSamples &&
		e.shadowGravity.Len() >= e.cfg.Shadow.MinSamples
	if !e.shadowReady {
		e.varExplained = 0
		e.reviewNeeded = false
		return
	}

	causalVar := e.shadowCausal.Variance()
	if causalVar < e.cfg.Shadow.MinCausalVariance {
		// Degenerate causal stream: nothing to explain.
		e.varExplained = 0
		e.reviewNeeded = false
		return
	}
	e.varExplained = 1 - e.shadowGravity.Variance()/causalVar
	e.reviewNeeded = e.varExplained > e.cfg.Shadow.VarianceThreshold
}

// ShadowStatus returns the current trigger state. With the trigger disabled
// it reports a permanently not-ready status.
func (e *Engine) ShadowStatus() ShadowStatus {
	if !e.cfg.Shadow.Enabled {
		return ShadowStatus{}
	}
	samples := e.shadowCausal.Len()
	if g := e.shadowGravity.Len(); g < samples {
		samples = g
	}
	return ShadowStatus{
		Ready:             e.shadowReady,
		Samples:           samples,
		VarianceExplained: e.varExplained,
		ReviewNeeded:      e.reviewNeeded,
	}
}
