package testkit

import (
	"testing"

	"abkit/domain/experiment"
	"abkit/internal/analysis"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExperimentGenerator_Basic(t *testing.T) {
	config := DefaultExperimentConfig()
	config.Units = 5000
	config.Effect = 1

	ds, err := NewExperimentGenerator(config).Generate()
	require.NoError(t, err)
	require.NoError(t, ds.Validate())
	assert.Equal(t, 5000, ds.Len())
	assert.Equal(t, []string{MetricClicks, MetricConverted, MetricPreRevenue, MetricRevenue, MetricSessions}, ds.MetricNames())

	revenue, err := ds.Metric(MetricRevenue)
	require.NoError(t, err)
	pre, err := ds.Metric(MetricPreRevenue)
	require.NoError(t, err)
	corr := analysis.Covariance(revenue, pre) / (analysis.StdDev(revenue) * analysis.StdDev(pre))
	assert.Greater(t, corr, 0.6)

	control, treatment, err := ds.SplitByGroup(MetricRevenue)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, analysis.Mean(treatment)-analysis.Mean(control), 0.5)

	sessions, err := ds.Metric(MetricSessions)
	require.NoError(t, err)
	clicks, err := ds.Metric(MetricClicks)
	require.NoError(t, err)
	for i := range sessions {
		assert.GreaterOrEqual(t, sessions[i], 1.0)
		assert.LessOrEqual(t, clicks[i], sessions[i])
	}
}

func TestExperimentGenerator_Reproducible(t *testing.T) {
	config := DefaultExperimentConfig()
	config.Units = 200

	a, err := NewExperimentGenerator(config).Generate()
	require.NoError(t, err)
	b, err := NewExperimentGenerator(config).Generate()
	require.NoError(t, err)

	ra, _ := a.Metric(MetricRevenue)
	rb, _ := b.Metric(MetricRevenue)
	assert.Equal(t, ra, rb)
	assert.Equal(t, a.Groups(), b.Groups())
}

func TestExperimentGenerator_HashSplit(t *testing.T) {
	config := DefaultExperimentConfig()
	config.Units = 100
	config.SplitSalt = "exp-1"

	ds, err := NewExperimentGenerator(config).Generate()
	require.NoError(t, err)
	for _, g := range ds.Groups() {
		assert.NotEqual(t, experiment.GroupUnassigned, g)
	}

	config.Seed = 7
	other, err := NewExperimentGenerator(config).Generate()
	require.NoError(t, err)
	assert.Equal(t, ds.Groups(), other.Groups(), "hash split ignores the seed")
}

func TestExperimentGenerator_Weights(t *testing.T) {
	g := NewExperimentGenerator(DefaultExperimentConfig())
	w := g.Weights()
	assert.InDelta(t, 1.0, w["new"]+w["returning"]+w["loyal"], 1e-12)

	config := DefaultExperimentConfig()
	config.Strata = nil
	assert.Equal(t, map[string]float64{"all": 1}, NewExperimentGenerator(config).Weights())
}

func TestExperimentGenerator_TooSmall(t *testing.T) {
	config := DefaultExperimentConfig()
	config.Units = 1
	_, err := NewExperimentGenerator(config).Generate()
	assert.Error(t, err)
}

func TestSessionLogSumsBackToUnits(t *testing.T) {
	config := DefaultExperimentConfig()
	config.Units = 300
	ds, err := NewExperimentGenerator(config).Generate()
	require.NoError(t, err)

	obs, err := SessionLog(ds)
	require.NoError(t, err)
	sessions, err := ds.Metric(MetricSessions)
	require.NoError(t, err)
	total := 0.0
	for _, s := range sessions {
		total += s
	}
	assert.Len(t, obs.UnitIDs, int(total))
	assert.Len(t, obs.Groups, int(total))

	units, err := obs.ByUnit(experiment.AggregateSum)
	require.NoError(t, err)
	assert.Equal(t, ds.UnitIDs(), units.UnitIDs())
	assert.Equal(t, ds.Groups(), units.Groups())

	for _, name := range []string{MetricRevenue, MetricClicks} {
		want, err := ds.Metric(name)
		require.NoError(t, err)
		got, err := units.Metric(name)
		require.NoError(t, err)
		assert.InDeltaSlice(t, want, got, 1e-9, name)
	}
}

func TestNormalSample(t *testing.T) {
	x := NormalSample(1, 20000, 10, 5)
	assert.InDelta(t, 10, analysis.Mean(x), 0.2)
	assert.InDelta(t, 25, analysis.Variance(x), 1.5)
	assert.Equal(t, x, NormalSample(1, 20000, 10, 5))
}
