package gravity

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig reports an out-of-range engine configuration value.
// Construction fails fast; there is no partially configured engine.
var ErrInvalidConfig = errors.New("gravity: invalid config")

// =============================================================================
// Configuration
// =============================================================================

// Config holds every tuning knob of the residual gravity engine. All fields
// have working defaults via DefaultConfig; hosts usually override only a few.
type Config struct {
	// Lambda is the global correction strength multiplier.
	Lambda float64 `yaml:"lambda" json:"lambda"`
	// AdaptiveLambda enables both fragility scaling of the effective lambda
	// and mean-residual-driven adjustment of the base lambda.
	AdaptiveLambda bool `yaml:"adaptive_lambda" json:"adaptive_lambda"`
	// LambdaMin and LambdaMax bound the base lambda while adaptive.
	LambdaMin float64 `yaml:"lambda_min" json:"lambda_min"`
	LambdaMax float64 `yaml:"lambda_max" json:"lambda_max"`

	// LearningRate scales each momentum step applied to the weights.
	LearningRate float64 `yaml:"learning_rate" json:"learning_rate"`
	// Momentum is the exponential momentum coefficient (beta).
	Momentum float64 `yaml:"momentum" json:"momentum"`
	// Regularization is the L2 penalty pulling weights toward zero.
	Regularization float64 `yaml:"regularization" json:"regularization"`

	// BreakerThreshold is the circuit-breaker clamp on raw gravity.
	BreakerThreshold float64 `yaml:"circuit_breaker_threshold" json:"circuit_breaker_threshold"`
	// MaxCorrection is the hard clamp on any applied correction.
	MaxCorrection float64 `yaml:"max_correction" json:"max_correction"`

	// PruningEnabled zeroes sub-threshold weights when weight mass grows
	// past the fragility threshold.
	PruningEnabled   bool    `yaml:"pruning_enabled" json:"pruning_enabled"`
	PruningThreshold float64 `yaml:"pruning_threshold" json:"pruning_threshold"`

	// FragilityThreshold is the RMS weight scale that saturates the weight
	// term of the fragility score.
	FragilityThreshold float64 `yaml:"fragility_threshold" json:"fragility_threshold"`

	// EWMASpan smooths post-update weights toward their pre-update values
	// with alpha = 2/(span+1). Zero or negative disables smoothing.
	EWMASpan int `yaml:"ewma_span" json:"ewma_span"`

	// Dimensions is the state dimensionality; scalar state is 1.
	Dimensions int `yaml:"dimensions" json:"dimensions"`
	// Pillars optionally pre-declares the canonical pillar order. Pillars
	// first seen in an update are appended in sorted order.
	Pillars []string `yaml:"pillars" json:"pillars"`

	// ResidualWindow sizes the rolling |residual| window that drives
	// adaptive lambda; adjustment starts once the window is full.
	ResidualWindow        int     `yaml:"residual_window" json:"residual_window"`
	ResidualHighThreshold float64 `yaml:"residual_high_threshold" json:"residual_high_threshold"`
	ResidualLowThreshold  float64 `yaml:"residual_low_threshold" json:"residual_low_threshold"`
	LambdaIncrease        float64 `yaml:"lambda_increase" json:"lambda_increase"`
	LambdaDecrease        float64 `yaml:"lambda_decrease" json:"lambda_decrease"`

	// Shadow configures the shadow-model trigger.
	Shadow ShadowConfig `yaml:"shadow" json:"shadow"`
}

// ShadowConfig tunes the shadow-model trigger comparing causal-only and
// post-gravity residual variance.
type ShadowConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// VarianceThreshold is the variance-explained level that raises the
	// review flag.
	VarianceThreshold float64 `yaml:"variance_threshold" json:"variance_threshold"`
	// WindowSize bounds both residual windows.
	WindowSize int `yaml:"window_size" json:"window_size"`
	// MinSamples gates evaluation: both windows must hold at least this
	// many samples before variance explained is computed.
	MinSamples int `yaml:"min_samples" json:"min_samples"`
	// MinCausalVariance floors the denominator; below it variance
	// explained is defined as zero.
	MinCausalVariance float64 `yaml:"min_causal_variance" json:"min_causal_variance"`
}

// DefaultConfig returns the standard engine tuning: scalar state, moderate
// correction strength, adaptive lambda off, shadow trigger on, EWMA disabled.
func DefaultConfig() Config {
	return Config{
		Lambda:                0.25,
		AdaptiveLambda:        false,
		LambdaMin:             0.01,
		LambdaMax:             1.0,
		LearningRate:          0.05,
		Momentum:              0.9,
		Regularization:        0.01,
		BreakerThreshold:      5.0,
		MaxCorrection:         2.5,
		PruningEnabled:        false,
		PruningThreshold:      0.01,
		FragilityThreshold:    2.0,
		EWMASpan:              0,
		Dimensions:            1,
		ResidualWindow:        20,
		ResidualHighThreshold: 0.5,
		ResidualLowThreshold:  0.05,
		LambdaIncrease:        1.1,
		LambdaDecrease:        0.9,
		Shadow: ShadowConfig{
			Enabled:           true,
			VarianceThreshold: 0.8,
			WindowSize:        100,
			MinSamples:        30,
			MinCausalVariance: 1e-6,
		},
	}
}

// Validate reports the first out-of-range field.
func (c Config) Validate() error {
	if bad(c.Lambda) || c.Lambda < 0 {
		return fmt.Errorf("%w: lambda must be >= 0, got %v", ErrInvalidConfig, c.Lambda)
	}
	if bad(c.LearningRate) || c.LearningRate <= 0 {
		return fmt.Errorf("%w: learning_rate must be > 0, got %v", ErrInvalidConfig, c.LearningRate)
	}
	if bad(c.Momentum) || c.Momentum < 0 || c.Momentum >= 1 {
		return fmt.Errorf("%w: momentum must be in [0, 1), got %v", ErrInvalidConfig, c.Momentum)
	}
	if bad(c.Regularization) || c.Regularization < 0 {
		return fmt.Errorf("%w: regularization must be >= 0, got %v", ErrInvalidConfig, c.Regularization)
	}
	if bad(c.BreakerThreshold) || c.BreakerThreshold <= 0 {
		return fmt.Errorf("%w: circuit_breaker_threshold must be > 0, got %v", ErrInvalidConfig, c.BreakerThreshold)
	}
	if bad(c.MaxCorrection) || c.MaxCorrection <= 0 {
		return fmt.Errorf("%w: max_correction must be > 0, got %v", ErrInvalidConfig, c.MaxCorrection)
	}
	if bad(c.PruningThreshold) || c.PruningThreshold < 0 {
		return fmt.Errorf("%w: pruning_threshold must be >= 0, got %v", ErrInvalidConfig, c.PruningThreshold)
	}
	if bad(c.FragilityThreshold) || c.FragilityThreshold <= 0 {
		return fmt.Errorf("%w: fragility_threshold must be > 0, got %v", ErrInvalidConfig, c.FragilityThreshold)
	}
	if c.Dimensions < 1 {
		return fmt.Errorf("%w: dimensions must be >= 1, got %d", ErrInvalidConfig, c.Dimensions)
	}
	seen := make(map[string]struct{}, len(c.Pillars))
	for _, name := range c.Pillars {
		if name == "" {
			return fmt.Errorf("%w: pillar names must be non-empty", ErrInvalidConfig)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("%w: duplicate pillar %q", ErrInvalidConfig, name)
		}
		seen[name] = struct{}{}
	}
	if c.AdaptiveLambda {
		if bad(c.LambdaMin) || bad(c.LambdaMax) || c.LambdaMin < 0 || c.LambdaMax < c.LambdaMin {
			return fmt.Errorf("%w: lambda bounds must satisfy 0 <= min <= max, got [%v, %v]", ErrInvalidConfig, c.LambdaMin, c.LambdaMax)
		}
		if c.Lambda < c.LambdaMin || c.Lambda > c.LambdaMax {
			return fmt.Errorf("%w: lambda must start within [%v, %v] while adaptive, got %v", ErrInvalidConfig, c.LambdaMin, c.LambdaMax, c.Lambda)
		}
		if c.ResidualWindow < 2 {
			return fmt.Errorf("%w: residual_window must be >= 2, got %d", ErrInvalidConfig, c.ResidualWindow)
		}
		if bad(c.ResidualHighThreshold) || bad(c.ResidualLowThreshold) ||
			c.ResidualLowThreshold < 0 || c.ResidualHighThreshold < c.ResidualLowThreshold {
			return fmt.Errorf("%w: residual thresholds must satisfy 0 <= low <= high, got [%v, %v]", ErrInvalidConfig, c.ResidualLowThreshold, c.ResidualHighThreshold)
		}
		if bad(c.LambdaIncrease) || bad(c.LambdaDecrease) || c.LambdaIncrease <= 0 || c.LambdaDecrease <= 0 {
			return fmt.Errorf("%w: lambda factors must be > 0, got increase=%v decrease=%v", ErrInvalidConfig, c.LambdaIncrease, c.LambdaDecrease)
		}
	}
	if c.Shadow.Enabled {
		if c.Shadow.WindowSize < 2 {
			return fmt.Errorf("%w: shadow window_size must be >= 2, got %d", ErrInvalidConfig, c.Shadow.WindowSize)
		}
		if c.Shadow.MinSamples < 2 || c.Shadow.MinSamples > c.Shadow.WindowSize {
			return fmt.Errorf("%w: shadow min_samples must be in [2, window_size], got %d", ErrInvalidConfig, c.Shadow.MinSamples)
		}
		if bad(c.Shadow.VarianceThreshold) || c.Shadow.VarianceThreshold <= 0 || c.Shadow.VarianceThreshold > 1 {
			return fmt.Errorf("%w: shadow variance_threshold must be in (0, 1], got %v", ErrInvalidConfig, c.Shadow.VarianceThreshold)
		}
		if bad(c.Shadow.MinCausalVariance) || c.Shadow.MinCausalVariance < 0 {
			return fmt.Errorf("%w: shadow min_causal_variance must be >= 0, got %v", ErrInvalidConfig, c.Shadow.MinCausalVariance)
		}
	}
	return nil
}

// bad reports a value no knob may hold, whatever its range.
func bad(v float64) bool {
	return math.IsNaN(v) || math.IsInf(v, 0)
}

// ewmaAlpha converts an EWMA span to its smoothing factor. A span at or
// below zero yields alpha 1, which leaves weights untouched.
func ewmaAlpha(span int) float64 {
	if span <= 0 {
		return 1
	}
	return 2.0 / (float64(span) + 1)
}
