package config

import (
	"os"
	"path/filepath"
	"testing"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.05, cfg.Design.Alpha)
	assert.Equal(t, 0.8, cfg.Design.Power)
	assert.Equal(t, 1000, cfg.Resample.Iterations)
	assert.Equal(t, "percentile", cfg.Resample.IntervalMethod)
	assert.Equal(t, "welch", cfg.Test.Kind)
	assert.Equal(t, "none", cfg.Reduction.Kind)
	assert.Equal(t, "control", cfg.Reduction.ThetaScope)
	assert.Nil(t, cfg.Runtime.Seed)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ABKIT_ALPHA", "0.01")
	t.Setenv("ABKIT_TEST", "mannwhitney")
	t.Setenv("ABKIT_SEED", "42")
	t.Setenv("ABKIT_REQUIRE_DETERMINISM", "true")
	t.Setenv("ABKIT_WORKERS", "3")
	t.Setenv("ABKIT_MAX_DRAWS", "1000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 0.01, cfg.Design.Alpha)
	assert.Equal(t, 0.01, cfg.Test.Alpha)
	assert.Equal(t, "mannwhitney", cfg.Test.Kind)
	require.NotNil(t, cfg.Runtime.Seed)
	assert.Equal(t, uint64(42), *cfg.Runtime.Seed)
	assert.True(t, cfg.Runtime.RequireDeterminism)
	assert.Equal(t, 3, cfg.Runtime.Workers)
	assert.Equal(t, int64(1000), cfg.Resample.MaxDraws)
}

func TestLoadRejectsInvalidEnv(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"alpha out of range", "ABKIT_ALPHA", "1.5"},
		{"unknown test", "ABKIT_TEST", "anova"},
		{"unknown reduction", "ABKIT_REDUCTION", "magic"},
		{"bad seed", "ABKIT_SEED", "-3"},
		{"determinism without seed", "ABKIT_REQUIRE_DETERMINISM", "true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
		})
	}
}

func TestIterationBudget(t *testing.T) {
	t.Setenv("ABKIT_MAX_ITERATIONS", "500")
	_, err := Load()
	require.Error(t, err)
	assert.True(t, core.IsBudgetError(err))
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))
}

func TestLoadFileOverlay(t *testing.T) {
	t.Setenv("ABKIT_POWER", "0.9")
	path := filepath.Join(t.TempDir(), "abkit.yaml")
	content := `
design:
  alpha: 0.1
resample:
  iterations: 5000
  interval_method: pivotal
reduction:
  kind: cuped
  theta_scope: full
runtime:
  seed: 7
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 0.1, cfg.Design.Alpha)
	assert.Equal(t, 0.9, cfg.Design.Power, "keys absent from the file keep the environment value")
	assert.Equal(t, 5000, cfg.Resample.Iterations)
	assert.Equal(t, "pivotal", cfg.Resample.IntervalMethod)
	assert.Equal(t, "cuped", cfg.Reduction.Kind)
	assert.Equal(t, "full", cfg.Reduction.ThetaScope)
	require.NotNil(t, cfg.Runtime.Seed)
	assert.Equal(t, uint64(7), *cfg.Runtime.Seed)

	p := cfg.DesignParams(10, 25)
	assert.Equal(t, 0.1, p.Alpha)
	assert.Equal(t, 25.0, p.BaselineVariance)
	assert.Equal(t, experiment.TwoSided, p.Sidedness)
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("test:\n  kind: [unclosed"), 0o600))
	_, err = LoadFile(path)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	path = filepath.Join(t.TempDir(), "invalid.yaml")
	require.NoError(t, os.WriteFile(path, []byte("test:\n  sidedness: sideways\n"), 0o600))
	_, err = LoadFile(path)
	require.Error(t, err)
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.NotNil(t, cfg)
}
