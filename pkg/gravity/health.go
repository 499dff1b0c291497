package gravity

import "fmt"

// =============================================================================
// Health Check
// =============================================================================

// Status is the engine's health classification, most to least severe:
// critical, unhealthy, warning, caution, healthy.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusCaution   Status = "caution"
	StatusWarning   Status = "warning"
	StatusUnhealthy Status = "unhealthy"
	StatusCritical  Status = "critical"
)

const (
	// maxWeightCriticalFactor scales the fragility threshold into the
	// max-weight critical bound.
	maxWeightCriticalFactor = 3.0
	// healthTripWarning is the breaker-trip count that forces a warning.
	healthTripWarning = 5
	// healthFragilityWarning is the fragility score that forces a warning.
	healthFragilityWarning = 0.7
	// healthStallUpdates and healthStallWeight flag an engine whose
	// weights are still near zero after many updates.
	healthStallUpdates = 50
	healthStallWeight  = 1e-6
	// healthEfficiencyCorrections and healthEfficiencyFloor flag an
	// engine whose applied corrections are mostly clamped away.
	healthEfficiencyCorrections = 20
	healthEfficiencyFloor       = 0.1
)

// HealthReport is the engine's self-assessment. Non-healthy statuses carry
// textual recommendations; nothing in the correction path acts on them.
type HealthReport struct {
	Status               Status   `json:"status"`
	Fragility            float64  `json:"fragility"`
	RMSWeight            float64  `json:"rms_weight"`
	MaxAbsWeight         float64  `json:"max_abs_weight"`
	BreakerTrips         uint64   `json:"breaker_trips"`
	Updates              uint64   `json:"updates"`
	CorrectionEfficiency float64  `json:"correction_efficiency"`
	Recommendations      []string `json:"recommendations,omitempty"`
}

// CorrectionEfficiency returns the cumulative ratio of applied correction
// magnitude to raw gravity magnitude. Near 1 means clamps rarely bite; near 0
// means most raw gravity is being clamped or scaled away.
func (e *Engine) CorrectionEfficiency() float64 {
	if e.stats.RawAbsTotal <= fragilityEpsilon {
		return 1
	}
	return e.stats.AppliedAbsTotal / e.stats.RawAbsTotal
}

// Health derives the engine's status from its weight mass, breaker activity,
// fragility, and correction efficiency. Checks run in severity order and the
// first failing one decides the status.
func (e *Engine) Health() HealthReport {
	report := HealthReport{
		Status:               StatusHealthy,
		Fragility:            e.Fragility(),
		RMSWeight:            e.RMSWeight(),
		MaxAbsWeight:         e.MaxAbsWeight(),
		BreakerTrips:         e.stats.BreakerTrips,
		Updates:              e.stats.Updates,
		CorrectionEfficiency: e.CorrectionEfficiency(),
	}

	criticalBound := maxWeightCriticalFactor * e.cfg.FragilityThreshold
	switch {
	case report.MaxAbsWeight > criticalBound:
		report.Status = StatusCritical
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("max |weight| %.3f exceeds the critical bound %.3f; reset the weight matrix or restore a known-good snapshot", report.MaxAbsWeight, criticalBound),
			"lower the learning rate or raise regularization before resuming training")
	case report.RMSWeight > e.cfg.FragilityThreshold:
		report.Status = StatusUnhealthy
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("rms weight %.3f exceeds the fragility threshold %.3f; raise regularization or enable pruning", report.RMSWeight, e.cfg.FragilityThreshold))
	case report.BreakerTrips > healthTripWarning:
		report.Status = StatusWarning
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("circuit breaker tripped %d times; lower lambda, or raise the breaker threshold only if corrections of this size are expected", report.BreakerTrips))
	case report.Fragility > healthFragilityWarning:
		report.Status = StatusWarning
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("fragility %.2f is past the warning level %.2f; scale back lambda until the score settles", report.Fragility, healthFragilityWarning))
	case report.Updates > healthStallUpdates && report.MaxAbsWeight < healthStallWeight:
		report.Status = StatusCaution
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("weights are still near zero after %d updates; check that pillar intensities vary and residuals are being recorded", report.Updates))
	case e.stats.Corrections > healthEfficiencyCorrections && report.CorrectionEfficiency < healthEfficiencyFloor:
		report.Status = StatusCaution
		report.Recommendations = append(report.Recommendations,
			fmt.Sprintf("only %.0f%% of raw gravity survives clamping; lambda, the breaker threshold, and max correction are fighting each other", report.CorrectionEfficiency*100))
	}

	return report
}
