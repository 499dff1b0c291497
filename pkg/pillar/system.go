package pillar

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"symgravity/internal/logging"
)

// ErrInvalidConfig reports an out-of-range system configuration value.
// Construction fails fast; there is no partial system.
var ErrInvalidConfig = errors.New("pillar: invalid config")

// interactionEpsilon gates interaction effects: pairs where either intensity
// is at or below this floor contribute nothing for the step.
const interactionEpsilon = 1e-6

// =============================================================================
// Configuration
// =============================================================================

// SystemConfig holds the pillar-system tuning knobs.
type SystemConfig struct {
	// DefaultMaxCapacity is applied when a pillar is registered or
	// auto-created without an explicit capacity.
	DefaultMaxCapacity float64 `yaml:"default_max_capacity" json:"default_max_capacity"`
	// HistoryCapacity bounds each pillar's intensity history and retained
	// data points.
	HistoryCapacity int `yaml:"history_capacity" json:"history_capacity"`
	// InteractionScale globally scales pairwise interaction effects.
	InteractionScale float64 `yaml:"interaction_scale" json:"interaction_scale"`
	// DecayRate is the per-step decay the host loop is expected to pass to
	// Step. Kept here so one config block describes the whole pillar layer.
	DecayRate float64 `yaml:"decay_rate" json:"decay_rate"`
}

// DefaultSystemConfig returns the standard pillar-system tuning.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		DefaultMaxCapacity: 1.0,
		HistoryCapacity:    50,
		InteractionScale:   0.1,
		DecayRate:          0.01,
	}
}

// Validate reports the first out-of-range field.
func (c SystemConfig) Validate() error {
	if c.DefaultMaxCapacity <= 0 || math.IsNaN(c.DefaultMaxCapacity) || math.IsInf(c.DefaultMaxCapacity, 0) {
		return fmt.Errorf("%w: default_max_capacity must be > 0, got %v", ErrInvalidConfig, c.DefaultMaxCapacity)
	}
	if c.HistoryCapacity < 1 {
		return fmt.Errorf("%w: history_capacity must be >= 1, got %d", ErrInvalidConfig, c.HistoryCapacity)
	}
	if c.InteractionScale < 0 || math.IsNaN(c.InteractionScale) {
		return fmt.Errorf("%w: interaction_scale must be >= 0, got %v", ErrInvalidConfig, c.InteractionScale)
	}
	if c.DecayRate < 0 || math.IsNaN(c.DecayRate) {
		return fmt.Errorf("%w: decay_rate must be >= 0, got %v", ErrInvalidConfig, c.DecayRate)
	}
	return nil
}

// =============================================================================
// System
// =============================================================================

// pairKey is the canonical unordered key for an interaction: a < b always.
type pairKey struct {
	a, b string
}

func canonicalPair(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a: a, b: b}
}

// System is a named collection of pillars with pairwise interactions and
// shared decay scheduling. Pillars are created on first registration and
// never destroyed within a run.
type System struct {
	cfg          SystemConfig
	pillars      map[string]*Pillar
	order        []string
	interactions map[pairKey]float64
}

// NewSystem constructs an empty pillar system, failing fast on an invalid
// configuration.
func NewSystem(cfg SystemConfig) (*System, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &System{
		cfg:          cfg,
		pillars:      make(map[string]*Pillar),
		order:        make([]string, 0, 8),
		interactions: make(map[pairKey]float64),
	}, nil
}

// Register creates the named pillar if absent and returns it. Registration is
// idempotent: an existing pillar is returned unchanged, whatever intensity or
// capacity is passed. A maxCapacity at or below zero takes the configured
// default.
func (s *System) Register(name string, intensity, maxCapacity float64) *Pillar {
	if p, ok := s.pillars[name]; ok {
		return p
	}
	if maxCapacity <= 0 {
		maxCapacity = s.cfg.DefaultMaxCapacity
	}
	p := NewPillar(name, intensity, maxCapacity, s.cfg.HistoryCapacity)
	s.pillars[name] = p
	s.order = append(s.order, name)
	logging.PillarsDebug("registered pillar %q intensity=%.4f capacity=%.2f", name, p.Intensity(), maxCapacity)
	return p
}

// Pillar returns the named pillar if it exists.
func (s *System) Pillar(name string) (*Pillar, bool) {
	p, ok := s.pillars[name]
	return p, ok
}

// Names returns all pillar names in registration order.
func (s *System) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// Count returns the number of registered pillars.
func (s *System) Count() int { return len(s.pillars) }

// SetPillarIntensity sets the named pillar's intensity, auto-creating the
// pillar with defaults when it does not exist yet.
func (s *System) SetPillarIntensity(name string, value float64) {
	s.Register(name, 0, 0).SetIntensity(value)
}

// AddPillarData appends a weighted data point to the named pillar,
// auto-creating it with defaults when it does not exist yet.
func (s *System) AddPillarData(name string, payload any, weight float64) {
	s.Register(name, 0, 0).AddDataPoint(payload, weight)
}

// SetInteraction stores the interaction strength for the unordered pair
// (a, b), clamped into [-1, 1]. Missing pillars are auto-registered.
// Self-interactions are ignored.
func (s *System) SetInteraction(a, b string, strength float64) {
	if a == b {
		logging.PillarsDebug("ignoring self-interaction for %q", a)
		return
	}
	s.Register(a, 0, 0)
	s.Register(b, 0, 0)
	s.interactions[canonicalPair(a, b)] = clamp(strength, -1, 1)
}

// Interaction returns the stored strength for the unordered pair (a, b).
func (s *System) Interaction(a, b string) (float64, bool) {
	v, ok := s.interactions[canonicalPair(a, b)]
	return v, ok
}

// Step advances the system one turn: every pillar decays by decayRate, then
// each recorded interaction adds effect = strength x min(iA, iB) x scale to
// both pillars of the pair. Effects are computed from one post-decay snapshot
// and accumulated before application, so the stored pair order never changes
// the outcome. A negative strength drags both pillars down together.
func (s *System) Step(decayRate float64) {
	for _, name := range s.order {
		s.pillars[name].Decay(decayRate)
	}

	if len(s.interactions) == 0 {
		return
	}

	snapshot := make(map[string]float64, len(s.pillars))
	for name, p := range s.pillars {
		snapshot[name] = p.Intensity()
	}

	deltas := make(map[string]float64)
	for pair, strength := range s.interactions {
		ia, ib := snapshot[pair.a], snapshot[pair.b]
		if ia <= interactionEpsilon || ib <= interactionEpsilon {
			continue
		}
		effect := strength * math.Min(ia, ib) * s.cfg.InteractionScale
		deltas[pair.a] += effect
		deltas[pair.b] += effect
	}

	for name, d := range deltas {
		p := s.pillars[name]
		p.SetIntensity(p.Intensity() + d)
	}
}

// BasisVector returns name -> BasisValue(offset) for every registered pillar.
// This is the engine's input contract; offset 0 is the current snapshot.
func (s *System) BasisVector(offset int) map[string]float64 {
	out := make(map[string]float64, len(s.pillars))
	for name, p := range s.pillars {
		out[name] = p.BasisValue(offset)
	}
	return out
}

// =============================================================================
// Diagnostics
// =============================================================================

// TensionScore sums intensity_a x intensity_b over every pair with a negative
// interaction strength. Reporting only.
func (s *System) TensionScore() float64 {
	var score float64
	for pair, strength := range s.interactions {
		if strength >= 0 {
			continue
		}
		score += s.pillars[pair.a].Intensity() * s.pillars[pair.b].Intensity()
	}
	return score
}

// Dominant returns the pillars with intensity at or above threshold, sorted
// by descending intensity (name ascending on ties).
func (s *System) Dominant(threshold float64) []*Pillar {
	out := make([]*Pillar, 0, len(s.pillars))
	for _, name := range s.order {
		if p := s.pillars[name]; p.Intensity() >= threshold {
			out = append(out, p)
		}
	}
	sortByIntensity(out)
	return out
}

// Top returns the n highest-intensity pillars, sorted by descending intensity
// (name ascending on ties).
func (s *System) Top(n int) []*Pillar {
	if n <= 0 {
		return nil
	}
	out := make([]*Pillar, 0, len(s.pillars))
	for _, name := range s.order {
		out = append(out, s.pillars[name])
	}
	sortByIntensity(out)
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func sortByIntensity(ps []*Pillar) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Intensity() != ps[j].Intensity() {
			return ps[i].Intensity() > ps[j].Intensity()
		}
		return ps[i].Name() < ps[j].Name()
	})
}
