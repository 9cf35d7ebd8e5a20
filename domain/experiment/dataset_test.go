package experiment

import (
	"errors"
	"math"
	"testing"

	"abkit/domain/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatasetAddMetricMissingPolicy(t *testing.T) {
	ds := NewSequentialDataset(3)

	err := ds.AddMetric("revenue", []float64{1, math.NaN(), 3}, MissingReject)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrMissingValue))

	require.NoError(t, ds.AddMetric("revenue", []float64{1, math.NaN(), 3}, MissingZero))
	got, err := ds.Metric("revenue")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0, 3}, got)
}

func TestDatasetRejectsRaggedColumns(t *testing.T) {
	ds := NewSequentialDataset(3)
	err := ds.AddMetric("revenue", []float64{1, 2}, MissingReject)
	assert.True(t, errors.Is(err, core.ErrLengthMismatch))

	err = ds.AddLabels("stratum", []string{"a", "", "b"})
	assert.True(t, errors.Is(err, core.ErrMissingValue))
}

func TestDatasetDoesNotAlias(t *testing.T) {
	ds := NewSequentialDataset(2)
	src := []float64{5, 6}
	require.NoError(t, ds.AddMetric("m", src, MissingReject))
	src[0] = 100

	got, _ := ds.Metric("m")
	got[1] = -1
	again, _ := ds.Metric("m")
	assert.Equal(t, []float64{5, 6}, again)
}

func TestSplitByGroup(t *testing.T) {
	ds := NewSequentialDataset(5)
	require.NoError(t, ds.AddMetric("m", []float64{1, 2, 3, 4, 5}, MissingReject))

	_, _, err := ds.SplitByGroup("m")
	require.Error(t, err, "no groups assigned yet")

	require.NoError(t, ds.SetGroups([]Group{GroupControl, GroupTreatment, GroupUnassigned, GroupControl, GroupTreatment}))
	c, tr, err := ds.SplitByGroup("m")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4}, c)
	assert.Equal(t, []float64{2, 5}, tr)

	_, _, err = ds.SplitByGroup("missing")
	assert.True(t, errors.Is(err, core.ErrUnknownColumn))
}

func TestValidateDuplicateUnits(t *testing.T) {
	ds := NewDataset([]core.UnitID{"u1", "u1"})
	assert.Error(t, ds.Validate())
	assert.True(t, errors.Is(NewDataset(nil).Validate(), core.ErrInsufficientData))
}

func TestParseVariants(t *testing.T) {
	k, err := ParseTestKind(" Welch ")
	require.NoError(t, err)
	assert.Equal(t, TestWelch, k)

	_, err = ParseReductionKind("pca")
	assert.True(t, errors.Is(err, core.ErrUnknownVariant))

	e, err := ParseEffectKind("all_percent")
	require.NoError(t, err)
	assert.Equal(t, EffectMultiplicative, e)

	g, err := ParseGroup("B")
	require.NoError(t, err)
	assert.Equal(t, GroupTreatment, g)

	assert.True(t, IntervalPivotal.Valid())
	assert.False(t, Sidedness("sideways").Valid())
}

func TestDesignParamsDefaults(t *testing.T) {
	p := DesignParams{Alpha: 0.05, Power: 0.8, BaselineMean: -20, MDE: 0.1, RelativeMDE: true}
	assert.Equal(t, 1.0, p.GroupRatio())
	assert.Equal(t, TwoSided, p.Sides())
	assert.InDelta(t, 2.0, p.AbsoluteMDE(), 1e-12)
	assert.NoError(t, p.ValidateCommon())

	p.Alpha = 1
	assert.True(t, errors.Is(p.ValidateCommon(), core.ErrInvalidAlpha))
}

func TestWarnings(t *testing.T) {
	var w Warnings
	w.Add(WarningWideInterval, "wide")
	assert.True(t, w.Has(WarningWideInterval))
	assert.False(t, w.Has(WarningZeroVariance))
}
