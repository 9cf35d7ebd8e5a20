package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"abkit/domain/experiment"
	"abkit/internal/errors"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration
type Config struct {
	Design     DesignConfig     `yaml:"design"`
	Resample   ResampleConfig   `yaml:"resample"`
	Simulation SimulationConfig `yaml:"simulation"`
	Test       TestConfig       `yaml:"test"`
	Reduction  ReductionConfig  `yaml:"reduction"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
}

// DesignConfig holds the defaults used to size experiments
type DesignConfig struct {
	Alpha float64 `yaml:"alpha" validate:"gt=0,lt=1"`
	Power float64 `yaml:"power" validate:"gt=0,lt=1"`
	// Ratio is treatment size / control size
	Ratio float64 `yaml:"ratio" validate:"gt=0"`
}

// ResampleConfig holds bootstrap settings
type ResampleConfig struct {
	Iterations     int    `yaml:"iterations" validate:"min=1"`
	IntervalMethod string `yaml:"interval_method" validate:"oneof=percentile normal pivotal"`
	// MaxDraws bounds iterations*n for one bootstrap run
	MaxDraws int64 `yaml:"max_draws" validate:"min=1"`
}

// SimulationConfig holds A/A and A/B validation settings
type SimulationConfig struct {
	Iterations       int     `yaml:"iterations" validate:"min=1"`
	TreatmentShare   float64 `yaml:"treatment_share" validate:"gt=0,lt=1"`
	EffectKind       string  `yaml:"effect_kind" validate:"oneof=additive multiplicative"`
	TolerateFailures bool    `yaml:"tolerate_failures"`
}

// TestConfig selects the hypothesis test
type TestConfig struct {
	Kind      string  `yaml:"kind" validate:"oneof=welch proportion mannwhitney bootstrap"`
	Alpha     float64 `yaml:"alpha" validate:"gt=0,lt=1"`
	Sidedness string  `yaml:"sidedness" validate:"oneof=two_sided greater less"`
}

// ReductionConfig selects the variance reduction applied before testing
type ReductionConfig struct {
	Kind        string `yaml:"kind" validate:"oneof=none cuped linearization poststratification"`
	ThetaScope  string `yaml:"theta_scope" validate:"oneof=full control"`
	MeanCentred bool   `yaml:"mean_centred"`
}

// RuntimeConfig holds execution settings shared by all engines
type RuntimeConfig struct {
	// Seed is nil when runs should draw a fresh seed
	Seed               *uint64 `yaml:"seed"`
	RequireDeterminism bool    `yaml:"require_determinism"`
	Workers            int     `yaml:"workers" validate:"min=0"`
	MaxIterations      int     `yaml:"max_iterations" validate:"min=1"`
}

var validate = validator.New()

// Load reads configuration from ABKIT_* environment variables and validates it
func Load() (*Config, error) {
	config := &Config{
		Design:     *loadDesignConfig(),
		Resample:   *loadResampleConfig(),
		Simulation: *loadSimulationConfig(),
		Test:       *loadTestConfig(),
		Reduction:  *loadReductionConfig(),
	}

	runtime, err := loadRuntimeConfig()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load runtime configuration")
	}
	config.Runtime = *runtime

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// LoadFile reads the environment configuration and overlays the YAML file at path.
// Keys missing from the file keep their environment or default value.
func LoadFile(path string) (*Config, error) {
	config, err := Load()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read config file %s", path)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("parse %s: %w", path, err))
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks field constraints and cross-field budgets
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return errors.WithCode(errors.CodeConfigInvalid, fmt.Errorf("configuration validation failed: %w", err))
	}
	if c.Resample.Iterations > c.Runtime.MaxIterations {
		return errors.BudgetExceeded("bootstrap iterations", c.Resample.Iterations, c.Runtime.MaxIterations)
	}
	if c.Simulation.Iterations > c.Runtime.MaxIterations {
		return errors.BudgetExceeded("simulation iterations", c.Simulation.Iterations, c.Runtime.MaxIterations)
	}
	if c.Runtime.RequireDeterminism && c.Runtime.Seed == nil {
		return errors.ConfigInvalid("require_determinism is set but no seed is configured")
	}
	return nil
}

// DesignParams returns design defaults for the given baseline
func (c *Config) DesignParams(mean, variance float64) experiment.DesignParams {
	return experiment.DesignParams{
		Alpha:            c.Design.Alpha,
		Power:            c.Design.Power,
		BaselineMean:     mean,
		BaselineVariance: variance,
		Ratio:            c.Design.Ratio,
		Sidedness:        experiment.Sidedness(c.Test.Sidedness),
	}
}

func loadDesignConfig() *DesignConfig {
	return &DesignConfig{
		Alpha: getEnvFloatOrDefault("ABKIT_ALPHA", 0.05),
		Power: getEnvFloatOrDefault("ABKIT_POWER", 0.8),
		Ratio: getEnvFloatOrDefault("ABKIT_RATIO", 1),
	}
}

func loadResampleConfig() *ResampleConfig {
	return &ResampleConfig{
		Iterations:     getEnvIntOrDefault("ABKIT_BOOTSTRAP_ITERATIONS", 1000),
		IntervalMethod: getEnvOrDefault("ABKIT_INTERVAL_METHOD", string(experiment.IntervalPercentile)),
		MaxDraws:       getEnvInt64OrDefault("ABKIT_MAX_DRAWS", 1<<32),
	}
}

func loadSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		Iterations:       getEnvIntOrDefault("ABKIT_SIMULATION_ITERATIONS", 1000),
		TreatmentShare:   getEnvFloatOrDefault("ABKIT_TREATMENT_SHARE", 0.5),
		EffectKind:       getEnvOrDefault("ABKIT_EFFECT_KIND", string(experiment.EffectAdditive)),
		TolerateFailures: getEnvBoolOrDefault("ABKIT_TOLERATE_FAILURES", false),
	}
}

func loadTestConfig() *TestConfig {
	return &TestConfig{
		Kind:      getEnvOrDefault("ABKIT_TEST", string(experiment.TestWelch)),
		Alpha:     getEnvFloatOrDefault("ABKIT_ALPHA", 0.05),
		Sidedness: getEnvOrDefault("ABKIT_SIDEDNESS", string(experiment.TwoSided)),
	}
}

func loadReductionConfig() *ReductionConfig {
	return &ReductionConfig{
		Kind:        getEnvOrDefault("ABKIT_REDUCTION", string(experiment.ReductionNone)),
		ThetaScope:  getEnvOrDefault("ABKIT_THETA_SCOPE", string(experiment.ScopeControl)),
		MeanCentred: getEnvBoolOrDefault("ABKIT_MEAN_CENTRED", false),
	}
}

func loadRuntimeConfig() (*RuntimeConfig, error) {
	rc := &RuntimeConfig{
		RequireDeterminism: getEnvBoolOrDefault("ABKIT_REQUIRE_DETERMINISM", false),
		Workers:            getEnvIntOrDefault("ABKIT_WORKERS", 0),
		MaxIterations:      getEnvIntOrDefault("ABKIT_MAX_ITERATIONS", 1_000_000),
	}
	if raw := strings.TrimSpace(os.Getenv("ABKIT_SEED")); raw != "" {
		seed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, errors.ConfigInvalid(fmt.Sprintf("ABKIT_SEED %q is not an unsigned integer", raw))
		}
		rc.Seed = &seed
	}
	return rc, nil
}

// Helper functions for environment variable parsing
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64OrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}
