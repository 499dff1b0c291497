// Package pillar implements the symbolic pillar layer of the correction
// system: named, bounded, decaying intensity accumulators and the system that
// schedules their decay and pairwise interactions.
//
// Pillars are the latent indicators whose intensities form the basis vector
// consumed by the gravity engine. A pillar never owns goroutines, files, or
// locks; all mutation is synchronous and caller-serialized.
package pillar

import (
	"time"

	"symgravity/internal/window"
)

// =============================================================================
// Data Points
// =============================================================================

// DataPoint is one weighted observation attached to a pillar. The payload is
// opaque to the correction layer and retained for diagnostics only.
type DataPoint struct {
	Payload any
	Weight  float64
	AddedAt time.Time
}

// =============================================================================
// Pillar
// =============================================================================

// Pillar is a single bounded intensity accumulator. Intensity always stays in
// [0, MaxCapacity]; every mutation records the new intensity in a bounded
// history so look-back basis values and growth diagnostics stay available.
type Pillar struct {
	name        string
	intensity   float64
	velocity    float64
	maxCapacity float64
	weightSum   float64
	dataPoints  []DataPoint
	history     *window.Ring
	lastUpdate  time.Time
}

// NewPillar constructs a pillar with the given starting intensity.
// A maxCapacity at or below zero defaults to 1; intensity is clamped into
// [0, maxCapacity]. historyCapacity bounds the intensity history (minimum 1).
func NewPillar(name string, intensity, maxCapacity float64, historyCapacity int) *Pillar {
	if maxCapacity <= 0 {
		maxCapacity = 1
	}
	p := &Pillar{
		name:        name,
		maxCapacity: maxCapacity,
		history:     window.NewRing(historyCapacity),
	}
	p.observe(clamp(intensity, 0, maxCapacity))
	return p
}

// Name returns the pillar's unique name.
func (p *Pillar) Name() string { return p.name }

// Intensity returns the current intensity.
func (p *Pillar) Intensity() float64 { return p.intensity }

// Velocity returns the intensity delta of the most recent mutation.
func (p *Pillar) Velocity() float64 { return p.velocity }

// MaxCapacity returns the upper intensity bound.
func (p *Pillar) MaxCapacity() float64 { return p.maxCapacity }

// LastUpdate returns the time of the most recent mutation.
func (p *Pillar) LastUpdate() time.Time { return p.lastUpdate }

// DataPoints returns a copy of the retained data points, oldest first.
func (p *Pillar) DataPoints() []DataPoint {
	out := make([]DataPoint, len(p.dataPoints))
	copy(out, p.dataPoints)
	return out
}

// observe moves the pillar to a new intensity, updating velocity, history and
// the last-update time. All mutation paths funnel through here.
func (p *Pillar) observe(intensity float64) {
	p.velocity = intensity - p.intensity
	p.intensity = intensity
	p.history.Push(intensity)
	p.lastUpdate = time.Now()
}

// AddDataPoint appends a weighted observation and recomputes intensity as the
// running weight sum clamped into [0, MaxCapacity]. Negative weights are
// allowed and pull the sum down. The retained data-point list is bounded by
// the history capacity; the running sum is not affected by eviction.
func (p *Pillar) AddDataPoint(payload any, weight float64) {
	if len(p.dataPoints) >= p.history.Cap() {
		p.dataPoints = p.dataPoints[1:]
	}
	p.dataPoints = append(p.dataPoints, DataPoint{Payload: payload, Weight: weight, AddedAt: time.Now()})
	p.weightSum += weight
	p.observe(clamp(p.weightSum, 0, p.maxCapacity))
}

// SetIntensity forces the intensity to value, clamped into [0, MaxCapacity].
func (p *Pillar) SetIntensity(value float64) {
	p.observe(clamp(value, 0, p.maxCapacity))
}

// Decay lowers intensity by rate and returns the amount actually removed.
// The new intensity is clamped into [0, MaxCapacity], so a negative rate
// raises intensity only up to the cap.
func (p *Pillar) Decay(rate float64) float64 {
	next := clamp(p.intensity-rate, 0, p.maxCapacity)
	removed := p.intensity - next
	p.observe(next)
	return removed
}

// BasisValue returns the intensity offset mutations back (offset 0 or below
// is the current intensity). When the history does not reach that far back it
// falls back to the current intensity.
func (p *Pillar) BasisValue(offset int) float64 {
	if offset <= 0 {
		return p.intensity
	}
	if v, ok := p.history.FromEnd(offset); ok {
		return v
	}
	return p.intensity
}

// growthWindow is how many trailing history entries feed GrowthRate.
const growthWindow = 5

// GrowthRate returns the average intensity delta over the last few history
// entries, scaled by 10 and clamped into [-1, 1]. Returns 0 with fewer than
// two entries. Diagnostics only; the engine never consumes it.
func (p *Pillar) GrowthRate() float64 {
	values := p.history.Values()
	if len(values) > growthWindow {
		values = values[len(values)-growthWindow:]
	}
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for i := 1; i < len(values); i++ {
		sum += values[i] - values[i-1]
	}
	avg := sum / float64(len(values)-1)
	return clamp(avg*10, -1, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
