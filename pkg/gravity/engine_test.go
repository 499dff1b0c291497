package gravity

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// quietConfig is the baseline test tuning: scalar state, no adaptive lambda,
// no shadow trigger, no smoothing, clamps wide enough to stay out of the way.
func quietConfig() Config {
	cfg := DefaultConfig()
	cfg.Shadow.Enabled = false
	return cfg
}

// restoreScalar builds an engine with preset scalar weights through the
// snapshot path, which keeps tests deterministic without running update
// sequences.
func restoreScalar(t *testing.T, cfg Config, pillars []string, weights []float64, stats Stats) *Engine {
	t.Helper()
	momentum := make([]float64, len(weights))
	snap := Snapshot{
		Lambda:           cfg.Lambda,
		Regularization:   cfg.Regularization,
		LearningRate:     cfg.LearningRate,
		Momentum:         cfg.Momentum,
		BreakerThreshold: cfg.BreakerThreshold,
		Dimensions:       1,
		PillarOrder:      pillars,
		Weights:          [][]float64{weights},
		MomentumBuffer:   [][]float64{momentum},
		Stats:            stats,
	}
	e, err := FromSnapshot(snap, cfg)
	require.NoError(t, err)
	return e
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative lambda", func(c *Config) { c.Lambda = -0.1 }},
		{"zero learning rate", func(c *Config) { c.LearningRate = 0 }},
		{"momentum at one", func(c *Config) { c.Momentum = 1 }},
		{"negative regularization", func(c *Config) { c.Regularization = -1 }},
		{"zero breaker", func(c *Config) { c.BreakerThreshold = 0 }},
		{"zero max correction", func(c *Config) { c.MaxCorrection = 0 }},
		{"zero fragility threshold", func(c *Config) { c.FragilityThreshold = 0 }},
		{"zero dimensions", func(c *Config) { c.Dimensions = 0 }},
		{"nan lambda", func(c *Config) { c.Lambda = math.NaN() }},
		{"duplicate pillars", func(c *Config) { c.Pillars = []string{"a", "a"} }},
		{"empty pillar name", func(c *Config) { c.Pillars = []string{""} }},
		{"bad lambda bounds", func(c *Config) { c.AdaptiveLambda = true; c.LambdaMin = 2; c.LambdaMax = 1 }},
		{"adaptive lambda above its bounds", func(c *Config) { c.AdaptiveLambda = true; c.Lambda = 2.0 }},
		{"adaptive lambda below its bounds", func(c *Config) { c.AdaptiveLambda = true; c.Lambda = 0.001 }},
		{"tiny residual window", func(c *Config) { c.AdaptiveLambda = true; c.ResidualWindow = 1 }},
		{"inverted residual thresholds", func(c *Config) {
			c.AdaptiveLambda = true
			c.ResidualHighThreshold = 0.01
			c.ResidualLowThreshold = 0.5
		}},
		{"shadow min samples over window", func(c *Config) { c.Shadow.MinSamples = c.Shadow.WindowSize + 1 }},
		{"shadow threshold over one", func(c *Config) { c.Shadow.VarianceThreshold = 1.5 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			_, err := New(cfg)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	t.Run("defaults are valid", func(t *testing.T) {
		_, err := New(DefaultConfig())
		assert.NoError(t, err)
	})
}

func TestConvergenceToFixedPoint(t *testing.T) {
	// With a constant basis and constant residual r, the gradient zero is
	// W_k = r*s_k/reg, so gravity converges to sum(r*s_k^2)/reg.
	basis := map[string]float64{"bias": 1.0, "signal": 0.5}
	const want = 1.25 // (1*1 + 0.25)/1 for r=+1

	for _, tc := range []struct {
		name     string
		residual float64
		want     float64
	}{
		{"positive residual", 1, want},
		{"negative residual", -1, -want},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := quietConfig()
			cfg.LearningRate = 0.1
			cfg.Momentum = 0.5
			cfg.Regularization = 1.0
			cfg.BreakerThreshold = 10
			cfg.MaxCorrection = 10

			e, err := New(cfg)
			require.NoError(t, err)
			for i := 0; i < 500; i++ {
				require.NoError(t, e.Update(tc.residual, basis))
			}
			assert.InDelta(t, tc.want, e.ScalarGravity(basis), 0.05)
		})
	}
}

func TestBoundedness(t *testing.T) {
	cfg := quietConfig()
	cfg.Lambda = 1.0
	cfg.BreakerThreshold = 1.0
	cfg.MaxCorrection = 0.5
	cfg.LearningRate = 0.5
	cfg.Regularization = 0

	e, err := New(cfg)
	require.NoError(t, err)
	basis := map[string]float64{"surge": 1.0}

	for i := 0; i < 200; i++ {
		require.NoError(t, e.Update(100, basis))
		c, err := e.Apply(3.0, basis)
		require.NoError(t, err)
		assert.LessOrEqual(t, math.Abs(c.Applied), cfg.MaxCorrection)
		assert.LessOrEqual(t, math.Abs(c.Raw), cfg.BreakerThreshold)
	}
	assert.Greater(t, e.Stats().BreakerTrips, uint64(0), "weights this large must trip the breaker")
}

func TestComputeGravityIgnoresUnknownPillars(t *testing.T) {
	cfg := quietConfig()
	cfg.Pillars = []string{"known"}
	e := restoreScalar(t, cfg, []string{"known"}, []float64{2.0}, Stats{})

	withStranger := e.ScalarGravity(map[string]float64{"known": 0.5, "stranger": 99})
	baseline := e.ScalarGravity(map[string]float64{"known": 0.5})
	assert.Equal(t, baseline, withStranger)
	assert.InDelta(t, 1.0, baseline, 1e-12)

	// Reads never grow the canonical order.
	assert.Equal(t, []string{"known"}, e.PillarOrder())
}

func TestMissingPillarContributesZero(t *testing.T) {
	cfg := quietConfig()
	e := restoreScalar(t, cfg, []string{"a", "b"}, []float64{1.5, 4.0}, Stats{})

	got := e.ScalarGravity(map[string]float64{"a": 1.0})
	assert.InDelta(t, 1.5, got, 1e-12)
}

func TestUpdateAdmitsNewPillarsSorted(t *testing.T) {
	cfg := quietConfig()
	cfg.Pillars = []string{"seed"}
	e, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, e.Update(0.5, map[string]float64{"zeta": 1, "alpha": 1, "seed": 1}))
	assert.Equal(t, []string{"seed", "alpha", "zeta"}, e.PillarOrder())
}

func TestShapeMismatch(t *testing.T) {
	cfg := quietConfig()
	cfg.Dimensions = 2
	e, err := New(cfg)
	require.NoError(t, err)

	t.Run("scalar update on vector engine", func(t *testing.T) {
		err := e.Update(1, map[string]float64{"a": 1})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrShapeMismatch)

		var shape *ShapeError
		require.ErrorAs(t, err, &shape)
		assert.Equal(t, 2, shape.Want)
		assert.Equal(t, 1, shape.Got)
	})

	t.Run("wrong vector widths", func(t *testing.T) {
		err := e.UpdateVector([]float64{1, 2, 3}, map[string]float64{"a": 1})
		assert.ErrorIs(t, err, ErrShapeMismatch)

		_, err = e.ApplyVector([]float64{1}, map[string]float64{"a": 1})
		assert.ErrorIs(t, err, ErrShapeMismatch)

		_, err = e.Apply(1, map[string]float64{"a": 1})
		assert.ErrorIs(t, err, ErrShapeMismatch)
	})

	t.Run("matching vector shapes pass", func(t *testing.T) {
		require.NoError(t, e.UpdateVector([]float64{1, -1}, map[string]float64{"a": 1}))
		v, err := e.ApplyVector([]float64{1, 2}, map[string]float64{"a": 1})
		require.NoError(t, err)
		assert.Len(t, v.Applied, 2)
		assert.Len(t, v.Corrected, 2)
	})
}

func TestEWMASmoothing(t *testing.T) {
	basis := map[string]float64{"x": 1.0}

	step := func(span int) float64 {
		cfg := quietConfig()
		cfg.LearningRate = 0.1
		cfg.Momentum = 0.5
		cfg.Regularization = 0
		cfg.EWMASpan = span
		e, err := New(cfg)
		require.NoError(t, err)
		require.NoError(t, e.Update(1, basis))
		return e.Weights()[0][0]
	}

	t.Run("span zero is a no-op", func(t *testing.T) {
		// One raw step: m = 0.5*1 = 0.5, w = 0.1*0.5 = 0.05.
		assert.InDelta(t, 0.05, step(0), 1e-12)
	})

	t.Run("positive span damps the step", func(t *testing.T) {
		// alpha = 2/(9+1) = 0.2, so w = 0.2*0.05.
		assert.InDelta(t, 0.01, step(9), 1e-12)
	})
}

func TestAdaptiveLambda(t *testing.T) {
	newAdaptive := func() *Engine {
		cfg := quietConfig()
		cfg.AdaptiveLambda = true
		cfg.ResidualWindow = 3
		cfg.ResidualHighThreshold = 0.5
		cfg.ResidualLowThreshold = 0.05
		cfg.LambdaIncrease = 1.1
		cfg.LambdaDecrease = 0.9
		cfg.LambdaMin = 0.01
		cfg.LambdaMax = 0.4
		cfg.LearningRate = 1e-9 // keep weights out of the fragility picture
		e, err := New(cfg)
		require.NoError(t, err)
		return e
	}
	basis := map[string]float64{"p": 1.0}

	t.Run("high residuals raise lambda", func(t *testing.T) {
		e := newAdaptive()
		start := e.Lambda()
		for i := 0; i < 5; i++ {
			require.NoError(t, e.Update(1.0, basis))
		}
		assert.Greater(t, e.Lambda(), start)
		assert.Greater(t, e.Stats().LambdaAdjustments, uint64(0))
	})

	t.Run("low residuals shrink lambda", func(t *testing.T) {
		e := newAdaptive()
		start := e.Lambda()
		for i := 0; i < 5; i++ {
			require.NoError(t, e.Update(0.001, basis))
		}
		assert.Less(t, e.Lambda(), start)
	})

	t.Run("no adjustment before the window fills", func(t *testing.T) {
		e := newAdaptive()
		require.NoError(t, e.Update(1.0, basis))
		require.NoError(t, e.Update(1.0, basis))
		assert.Equal(t, uint64(0), e.Stats().LambdaAdjustments)
	})

	t.Run("clamped at the upper bound", func(t *testing.T) {
		e := newAdaptive()
		for i := 0; i < 50; i++ {
			require.NoError(t, e.Update(1.0, basis))
		}
		assert.InDelta(t, 0.4, e.Lambda(), 1e-12)
	})
}

func TestApplyPipeline(t *testing.T) {
	t.Run("plain correction", func(t *testing.T) {
		cfg := quietConfig() // lambda 0.25, breaker 5, max correction 2.5
		e := restoreScalar(t, cfg, []string{"x"}, []float64{2.0}, Stats{})

		c, err := e.Apply(10.0, map[string]float64{"x": 1.0})
		require.NoError(t, err)
		assert.InDelta(t, 2.0, c.Raw, 1e-12)
		assert.InDelta(t, 0.5, c.Applied, 1e-12)
		assert.InDelta(t, 10.5, c.Corrected, 1e-12)
		assert.False(t, c.BreakerTripped)
		assert.InDelta(t, 0.25, c.EffectiveLambda, 1e-12)
	})

	t.Run("breaker clamps and penalizes", func(t *testing.T) {
		cfg := quietConfig()
		e := restoreScalar(t, cfg, []string{"x"}, []float64{10.0}, Stats{})

		c, err := e.Apply(0, map[string]float64{"x": 1.0})
		require.NoError(t, err)
		assert.True(t, c.BreakerTripped)
		assert.InDelta(t, 5.0, c.Raw, 1e-12, "raw gravity clamps to the breaker threshold")
		assert.InDelta(t, 0.125, c.EffectiveLambda, 1e-12, "lambda takes the breaker penalty")
		assert.InDelta(t, 0.625, c.Applied, 1e-12)
		assert.Equal(t, uint64(1), e.Stats().BreakerTrips)
	})

	t.Run("max correction clamp", func(t *testing.T) {
		cfg := quietConfig()
		cfg.Lambda = 1.0
		cfg.MaxCorrection = 0.2
		e := restoreScalar(t, cfg, []string{"x"}, []float64{4.0}, Stats{})

		c, err := e.Apply(1.0, map[string]float64{"x": 1.0})
		require.NoError(t, err)
		assert.InDelta(t, 0.2, c.Applied, 1e-12)
		assert.InDelta(t, 1.2, c.Corrected, 1e-12)
	})
}

func TestFragility(t *testing.T) {
	t.Run("fresh engine scores zero", func(t *testing.T) {
		e, err := New(quietConfig())
		require.NoError(t, err)
		assert.Equal(t, 0.0, e.Fragility())
	})

	t.Run("saturates at one", func(t *testing.T) {
		cfg := quietConfig()
		stats := Stats{LastCorrection: 5, PrevCorrection: -5, BreakerTrips: 50}
		e := restoreScalar(t, cfg, []string{"x"}, []float64{100}, stats)

		f := e.Fragility()
		assert.Greater(t, f, 0.9)
		assert.LessOrEqual(t, f, 1.0)
	})

	t.Run("weight mass alone contributes half", func(t *testing.T) {
		cfg := quietConfig() // fragility threshold 2.0
		e := restoreScalar(t, cfg, []string{"x"}, []float64{2.0}, Stats{})
		assert.InDelta(t, 0.5, e.Fragility(), 1e-9)
	})
}

func TestPruning(t *testing.T) {
	cfg := quietConfig()
	cfg.PruningEnabled = true
	cfg.PruningThreshold = 0.01
	cfg.FragilityThreshold = 0.1

	e := restoreScalar(t, cfg, []string{"big", "tiny"}, []float64{5.0, 0.001}, Stats{})

	// An update with an empty basis touches no weights but still runs the
	// pruning pass.
	require.NoError(t, e.Update(0, map[string]float64{}))

	w := e.Weights()[0]
	assert.Equal(t, 5.0, w[0])
	assert.Equal(t, 0.0, w[1])
	assert.Equal(t, uint64(1), e.Stats().Prunes)
}

func TestPruningStaysOffBelowThreshold(t *testing.T) {
	cfg := quietConfig()
	cfg.PruningEnabled = true
	cfg.PruningThreshold = 0.01
	cfg.FragilityThreshold = 100 // rms never reaches this

	e := restoreScalar(t, cfg, []string{"a", "b"}, []float64{0.5, 0.001}, Stats{})
	require.NoError(t, e.Update(0, map[string]float64{}))

	assert.Equal(t, 0.001, e.Weights()[0][1])
	assert.Equal(t, uint64(0), e.Stats().Prunes)
}

func TestFragilityScalingOfEffectiveLambda(t *testing.T) {
	cfg := quietConfig()
	cfg.AdaptiveLambda = true
	cfg.Lambda = 1.0
	cfg.LambdaMin = 0.01
	cfg.LambdaMax = 2.0

	// Weight mass saturating the fragility weight term and heavy breaker
	// history: fragility 0.5 + 0.2 = 0.7 with no correction churn.
	e := restoreScalar(t, cfg, []string{"x"}, []float64{2.0}, Stats{BreakerTrips: 10})

	c, err := e.Apply(0, map[string]float64{"x": 0.5})
	require.NoError(t, err)
	// effective = 1.0 * max(0.1, 1-0.7) = 0.3
	assert.InDelta(t, 0.3, c.EffectiveLambda, 1e-9)
}

func TestStatsAccumulate(t *testing.T) {
	cfg := quietConfig()
	e, err := New(cfg)
	require.NoError(t, err)
	basis := map[string]float64{"a": 1}

	require.NoError(t, e.Update(0.5, basis))
	require.NoError(t, e.Update(-0.5, basis))
	_, err = e.Apply(1, basis)
	require.NoError(t, err)

	s := e.Stats()
	assert.Equal(t, uint64(2), s.Updates)
	assert.Equal(t, uint64(1), s.Corrections)
}

func TestErrorsNeverPanicOnEmptyState(t *testing.T) {
	e, err := New(quietConfig())
	require.NoError(t, err)

	// No pillars known at all: gravity is zero, correction passes through.
	c, err := e.Apply(7.5, map[string]float64{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, c.Applied)
	assert.Equal(t, 7.5, c.Corrected)
	assert.Equal(t, 0.0, e.RMSWeight())
	assert.Equal(t, 0.0, e.MaxAbsWeight())

	var shape *ShapeError
	assert.False(t, errors.As(err, &shape))
}
