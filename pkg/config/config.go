// Package config composes the per-component configurations into one root,
// loads it from YAML with environment overrides, and builds a wired
// system-engine-fabric stack for the host simulator.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"

	"symgravity/internal/logging"
	"symgravity/pkg/fabric"
	"symgravity/pkg/gravity"
	"symgravity/pkg/pillar"
)

// ErrInvalid is returned when the root configuration cannot be parsed.
// Component-level range errors keep their own sentinels
// (pillar.ErrInvalidConfig, gravity.ErrInvalidConfig, fabric.ErrInvalidConfig).
var ErrInvalid = errors.New("config: invalid")

// Config holds all correction-layer configuration.
type Config struct {
	// Pillar system tuning.
	Pillars pillar.SystemConfig `yaml:"pillars" json:"pillars"`

	// Gravity engine tuning.
	Engine gravity.Config `yaml:"engine" json:"engine"`

	// Fabric tuning.
	Fabric fabric.Config `yaml:"fabric" json:"fabric"`
}

// Default returns the full default configuration.
func Default() *Config {
	return &Config{
		Pillars: pillar.DefaultSystemConfig(),
		Engine:  gravity.DefaultConfig(),
		Fabric:  fabric.DefaultConfig(),
	}
}

// FromYAML parses configuration on top of defaults, applies environment
// overrides, and validates fail-fast.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load loads configuration from a YAML file. A missing file yields defaults,
// still subject to environment overrides and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.ConfigDebug("no config at %s, using defaults", path)
			return FromYAML(nil)
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	logging.Config("config loaded from %s", path)
	return FromYAML(data)
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks every component block, fail-fast on the first error.
func (c *Config) Validate() error {
	if err := c.Pillars.Validate(); err != nil {
		return err
	}
	if err := c.Engine.Validate(); err != nil {
		return err
	}
	return c.Fabric.Validate()
}

// =============================================================================
// Environment Overrides
// =============================================================================

// applyEnvOverrides applies SYMGRAV_* environment variable overrides on top
// of whatever the YAML carried. Unparseable values are logged and skipped.
func (c *Config) applyEnvOverrides() {
	envFloat("SYMGRAV_LAMBDA", &c.Engine.Lambda)
	envFloat("SYMGRAV_LEARNING_RATE", &c.Engine.LearningRate)
	envFloat("SYMGRAV_MOMENTUM", &c.Engine.Momentum)
	envFloat("SYMGRAV_REGULARIZATION", &c.Engine.Regularization)
	envFloat("SYMGRAV_BREAKER_THRESHOLD", &c.Engine.BreakerThreshold)
	envFloat("SYMGRAV_MAX_CORRECTION", &c.Engine.MaxCorrection)
	envBool("SYMGRAV_ADAPTIVE_LAMBDA", &c.Engine.AdaptiveLambda)
	envBool("SYMGRAV_PRUNING_ENABLED", &c.Engine.PruningEnabled)
	envBool("SYMGRAV_SHADOW_ENABLED", &c.Engine.Shadow.Enabled)
	envFloat("SYMGRAV_DECAY_RATE", &c.Pillars.DecayRate)
	envInt("SYMGRAV_HISTORY_CAPACITY", &c.Fabric.HistoryCapacity)
}

func envFloat(key string, dst *float64) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logging.ConfigDebug("ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = f
}

func envBool(key string, dst *bool) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logging.ConfigDebug("ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = b
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		logging.ConfigDebug("ignoring %s=%q: %v", key, v, err)
		return
	}
	*dst = n
}

// =============================================================================
// Stack Builder
// =============================================================================

// Stack is a wired correction layer: one pillar system, one gravity engine,
// and one fabric binding them, all built from a single Config.
type Stack struct {
	System *pillar.System
	Engine *gravity.Engine
	Fabric *fabric.Fabric
}

// Build constructs the full stack. The engine must be scalar for the fabric
// to bind it; vector configurations fail here.
func (c *Config) Build() (*Stack, error) {
	sys, err := pillar.NewSystem(c.Pillars)
	if err != nil {
		return nil, err
	}
	eng, err := gravity.New(c.Engine)
	if err != nil {
		return nil, err
	}
	fab, err := fabric.New(sys, eng, c.Fabric)
	if err != nil {
		return nil, err
	}
	logging.Config("stack built: fabric=%s pillars=%d", fab.ID(), sys.Count())
	return &Stack{System: sys, Engine: eng, Fabric: fab}, nil
}

// Restore builds the stack around an engine rebuilt from a persisted
// snapshot, so a host can resume with previously learned weights.
func (c *Config) Restore(snap gravity.Snapshot) (*Stack, error) {
	sys, err := pillar.NewSystem(c.Pillars)
	if err != nil {
		return nil, err
	}
	eng, err := gravity.FromSnapshot(snap, c.Engine)
	if err != nil {
		return nil, err
	}
	fab, err := fabric.New(sys, eng, c.Fabric)
	if err != nil {
		return nil, err
	}
	logging.Config("stack restored: fabric=%s pillars=%d updates=%d",
		fab.ID(), sys.Count(), snap.Stats.Updates)
	return &Stack{System: sys, Engine: eng, Fabric: fab}, nil
}
