package pillar

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSystem(t *testing.T) *System {
	t.Helper()
	s, err := NewSystem(DefaultSystemConfig())
	require.NoError(t, err)
	return s
}

func TestNewSystemValidation(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*SystemConfig)
	}{
		{"zero capacity", func(c *SystemConfig) { c.DefaultMaxCapacity = 0 }},
		{"negative capacity", func(c *SystemConfig) { c.DefaultMaxCapacity = -1 }},
		{"nan capacity", func(c *SystemConfig) { c.DefaultMaxCapacity = math.NaN() }},
		{"zero history", func(c *SystemConfig) { c.HistoryCapacity = 0 }},
		{"negative scale", func(c *SystemConfig) { c.InteractionScale = -0.1 }},
		{"negative decay", func(c *SystemConfig) { c.DecayRate = -0.01 }},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultSystemConfig()
			tc.mutate(&cfg)
			_, err := NewSystem(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		t.Parallel()
		_, err := NewSystem(DefaultSystemConfig())
		assert.NoError(t, err)
	})
}

func TestRegisterIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t)

	first := s.Register("inflation", 0.3, 1.0)
	second := s.Register("inflation", 0.9, 5.0)

	assert.Same(t, first, second)
	assert.Equal(t, 0.3, first.Intensity())
	assert.Equal(t, 1.0, first.MaxCapacity())
	assert.Equal(t, 1, s.Count())
}

func TestRegisterDefaultCapacity(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t)

	p := s.Register("mood", 0.4, 0)
	assert.Equal(t, DefaultSystemConfig().DefaultMaxCapacity, p.MaxCapacity())
}

func TestUpdateAutoCreates(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t)

	s.SetPillarIntensity("hope", 0.6)
	p, ok := s.Pillar("hope")
	require.True(t, ok)
	assert.Equal(t, 0.6, p.Intensity())

	s.AddPillarData("dread", "headline", 0.25)
	q, ok := s.Pillar("dread")
	require.True(t, ok)
	assert.InDelta(t, 0.25, q.Intensity(), 1e-12)
	assert.Equal(t, []string{"hope", "dread"}, s.Names())
}

func TestSetInteraction(t *testing.T) {
	t.Parallel()

	t.Run("clamps strength", func(t *testing.T) {
		t.Parallel()
		s := newTestSystem(t)
		s.SetInteraction("a", "b", 7)
		v, ok := s.Interaction("a", "b")
		require.True(t, ok)
		assert.Equal(t, 1.0, v)

		s.SetInteraction("a", "b", -7)
		v, _ = s.Interaction("a", "b")
		assert.Equal(t, -1.0, v)
	})

	t.Run("canonical pair key", func(t *testing.T) {
		t.Parallel()
		s := newTestSystem(t)
		s.SetInteraction("b", "a", 0.5)
		v, ok := s.Interaction("a", "b")
		require.True(t, ok)
		assert.Equal(t, 0.5, v)

		// Reversed order overwrites the same entry.
		s.SetInteraction("a", "b", -0.5)
		v, _ = s.Interaction("b", "a")
		assert.Equal(t, -0.5, v)
	})

	t.Run("auto-registers pillars", func(t *testing.T) {
		t.Parallel()
		s := newTestSystem(t)
		s.SetInteraction("x", "y", 0.1)
		_, okX := s.Pillar("x")
		_, okY := s.Pillar("y")
		assert.True(t, okX)
		assert.True(t, okY)
	})

	t.Run("self-interaction ignored", func(t *testing.T) {
		t.Parallel()
		s := newTestSystem(t)
		s.SetInteraction("solo", "solo", 0.9)
		_, ok := s.Interaction("solo", "solo")
		assert.False(t, ok)
	})
}

func TestStepDecaysAllPillars(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t)
	s.Register("a", 0.5, 1.0)
	s.Register("b", 0.05, 1.0)

	s.Step(0.1)

	a, _ := s.Pillar("a")
	b, _ := s.Pillar("b")
	assert.InDelta(t, 0.4, a.Intensity(), 1e-12)
	assert.Equal(t, 0.0, b.Intensity())
}

func TestStepCoMovement(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t)
	s.Register("oil", 0.8, 1.0)
	s.Register("freight", 0.6, 1.0)
	s.SetInteraction("oil", "freight", -1)

	s.Step(0.1)

	// Post-decay snapshot 0.7/0.5; effect = -1 x min x 0.1 = -0.05 on both.
	oil, _ := s.Pillar("oil")
	freight, _ := s.Pillar("freight")
	assert.InDelta(t, 0.65, oil.Intensity(), 1e-12)
	assert.InDelta(t, 0.45, freight.Intensity(), 1e-12)
}

func TestStepPositiveInteractionLiftsBoth(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t)
	s.Register("tech", 0.4, 1.0)
	s.Register("credit", 0.9, 1.0)
	s.SetInteraction("tech", "credit", 1)

	s.Step(0)

	tech, _ := s.Pillar("tech")
	credit, _ := s.Pillar("credit")
	assert.InDelta(t, 0.44, tech.Intensity(), 1e-12)
	assert.InDelta(t, 0.94, credit.Intensity(), 1e-12)
}

func TestStepSkipsDrainedPairs(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t)
	s.Register("alive", 0.8, 1.0)
	s.Register("empty", 0, 1.0)
	s.SetInteraction("alive", "empty", 1)

	s.Step(0)

	alive, _ := s.Pillar("alive")
	empty, _ := s.Pillar("empty")
	assert.Equal(t, 0.8, alive.Intensity())
	assert.Equal(t, 0.0, empty.Intensity())
}

func TestStepEffectsComputedFromOneSnapshot(t *testing.T) {
	t.Parallel()

	build := func(reversed bool) *System {
		s := newTestSystem(t)
		s.Register("a", 0.9, 1.0)
		s.Register("b", 0.8, 1.0)
		s.Register("c", 0.7, 1.0)
		if reversed {
			s.SetInteraction("b", "c", 1)
			s.SetInteraction("a", "b", 1)
		} else {
			s.SetInteraction("a", "b", 1)
			s.SetInteraction("b", "c", 1)
		}
		return s
	}

	for _, reversed := range []bool{false, true} {
		s := build(reversed)
		s.Step(0)
		a, _ := s.Pillar("a")
		b, _ := s.Pillar("b")
		c, _ := s.Pillar("c")
		assert.InDelta(t, 0.98, a.Intensity(), 1e-12, "reversed=%v", reversed)
		assert.InDelta(t, 0.95, b.Intensity(), 1e-12, "reversed=%v", reversed)
		assert.InDelta(t, 0.77, c.Intensity(), 1e-12, "reversed=%v", reversed)
	}
}

func TestBasisVector(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t)
	s.SetPillarIntensity("a", 0.2)
	s.SetPillarIntensity("b", 0.7)
	s.SetPillarIntensity("a", 0.4)

	now := s.BasisVector(0)
	assert.Equal(t, map[string]float64{"a": 0.4, "b": 0.7}, now)

	back := s.BasisVector(1)
	assert.InDelta(t, 0.2, back["a"], 1e-12)
	// b has only [0, 0.7] in history; one step back is the initial zero.
	assert.InDelta(t, 0.0, back["b"], 1e-12)
}

func TestTensionScore(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t)
	s.Register("war", 0.6, 1.0)
	s.Register("trade", 0.5, 1.0)
	s.Register("peace", 0.9, 1.0)
	s.SetInteraction("war", "trade", -0.8)
	s.SetInteraction("war", "peace", 0.4) // positive pairs never count

	assert.InDelta(t, 0.3, s.TensionScore(), 1e-12)
}

func TestDominantAndTop(t *testing.T) {
	t.Parallel()
	s := newTestSystem(t)
	s.Register("low", 0.1, 1.0)
	s.Register("mid", 0.5, 1.0)
	s.Register("high", 0.9, 1.0)
	s.Register("mid2", 0.5, 1.0)

	dominant := s.Dominant(0.5)
	names := make([]string, len(dominant))
	for i, p := range dominant {
		names[i] = p.Name()
	}
	assert.Equal(t, []string{"high", "mid", "mid2"}, names)

	top := s.Top(2)
	require.Len(t, top, 2)
	assert.Equal(t, "high", top[0].Name())
	assert.Equal(t, "mid", top[1].Name())

	assert.Empty(t, s.Top(0))
}
