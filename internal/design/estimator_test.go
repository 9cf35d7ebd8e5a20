package design

import (
	"errors"
	"testing"

	"abkit/domain/core"
	"abkit/domain/experiment"
	apperrors "abkit/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func meanParams() experiment.DesignParams {
	return experiment.DesignParams{
		Alpha:            0.05,
		Power:            0.8,
		BaselineMean:     100,
		BaselineVariance: 25,
		MDE:              1,
	}
}

func TestSampleSizeClosedForm(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*experiment.DesignParams)
		wantC      int
		wantT      int
		wantExactC float64
	}{
		{"two sided", func(p *experiment.DesignParams) {}, 393, 393, 392.444},
		{"one sided", func(p *experiment.DesignParams) { p.Sidedness = experiment.Greater }, 310, 310, 309.128},
		{"ratio 2", func(p *experiment.DesignParams) { p.Ratio = 2 }, 295, 590, 294.333},
		{"relative mde", func(p *experiment.DesignParams) { p.MDE = 0.01; p.RelativeMDE = true }, 393, 393, 392.444},
	}

	est := NewEstimator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := meanParams()
			tt.mutate(&p)
			res, err := est.SampleSize(p)
			require.NoError(t, err)
			assert.False(t, res.Degenerate)
			assert.Equal(t, tt.wantC, res.ControlSize)
			assert.Equal(t, tt.wantT, res.TreatmentSize)
			assert.Equal(t, tt.wantC+tt.wantT, res.TotalSize)
			assert.InDelta(t, tt.wantExactC, res.RequiredControlSize, 1e-3)
			assert.GreaterOrEqual(t, res.Power, p.Power)
		})
	}
}

func TestMDEInvertsSampleSize(t *testing.T) {
	est := NewEstimator()
	p := meanParams()
	p.MDE = 0
	p.SampleSize = 393

	res, err := est.MDE(p)
	require.NoError(t, err)
	assert.LessOrEqual(t, res.MDE, 1.0)
	assert.InDelta(t, 1.0, res.MDE, 1e-3)
	assert.InDelta(t, 0.01, res.RelativeMDE, 1e-5)
}

func TestSampleSizeInvalidInput(t *testing.T) {
	est := NewEstimator()

	p := meanParams()
	p.BaselineVariance = 0
	_, err := est.SampleSize(p)
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrNonPositiveVar))
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))

	p = meanParams()
	p.Alpha = 0
	_, err = est.SampleSize(p)
	assert.True(t, errors.Is(err, core.ErrInvalidAlpha))

	p = meanParams()
	p.SampleSize = 100
	_, err = est.SampleSize(p)
	assert.True(t, errors.Is(err, core.ErrAmbiguousDesign))

	p = meanParams()
	p.BaselineMean = 0
	p.RelativeMDE = true
	_, err = est.SampleSize(p)
	assert.True(t, errors.Is(err, core.ErrZeroBaseline))
}

func TestSampleSizeDegenerate(t *testing.T) {
	est := NewEstimator()

	p := meanParams()
	p.MDE = 0
	res, err := est.SampleSize(p)
	require.NoError(t, err)
	assert.True(t, res.Degenerate)
	assert.NotEmpty(t, res.DegenerateReason)
	assert.Zero(t, res.ControlSize)

	p.MDE = -2
	res, err = est.SampleSize(p)
	require.NoError(t, err)
	assert.True(t, res.Degenerate)

	p.MDE = 1e-9
	res, err = est.SampleSize(p)
	require.NoError(t, err)
	assert.True(t, res.Degenerate, "size beyond int32 is reported, not overflowed")
}

func TestSmallSampleWarning(t *testing.T) {
	p := meanParams()
	p.MDE = 5
	res, err := NewEstimator().SampleSize(p)
	require.NoError(t, err)
	assert.True(t, res.Warnings.Has(experiment.WarningSmallSample))
}

func TestSampleSizeFromMetric(t *testing.T) {
	values := make([]float64, 10)
	for i := range values {
		values[i] = float64(i)
	}
	p := experiment.DesignParams{Alpha: 0.05, Power: 0.9, MDE: 0.03, RelativeMDE: true}

	est := NewEstimator()
	res, err := est.SampleSizeFromMetric(values, nil, p)
	require.NoError(t, err)
	assert.Equal(t, 9513, res.ControlSize)

	// two observations per unit halve the number of units needed
	ids := make([]core.UnitID, 10)
	for i := range ids {
		ids[i] = core.UnitID([]string{"u1", "u2", "u3", "u4", "u5"}[i%5])
	}
	res, err = est.SampleSizeFromMetric(values, ids, p)
	require.NoError(t, err)
	assert.Equal(t, 4757, res.ControlSize)

	_, err = est.SampleSizeFromMetric(values, ids[:3], p)
	assert.True(t, errors.Is(err, core.ErrLengthMismatch))
}

func TestFromMetric(t *testing.T) {
	b, err := FromMetric([]float64{2, 4, 4, 4, 5, 5, 7, 9}, nil)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, b.Mean, 1e-12)
	assert.InDelta(t, 4.0, b.Variance, 1e-12)
	assert.Equal(t, 1.0, b.UnitRatio)

	_, err = FromMetric([]float64{1}, nil)
	assert.True(t, errors.Is(err, core.ErrInsufficientData))
}

func TestProportionSampleSize(t *testing.T) {
	est := NewEstimator()
	p := experiment.DesignParams{Alpha: 0.05, Power: 0.8, BaselineRate: 0.1, MDE: 0.02}

	res, err := est.ProportionSampleSize(p)
	require.NoError(t, err)
	assert.InDelta(t, 3841, res.ControlSize, 1)
	assert.GreaterOrEqual(t, res.Power, 0.8)
	assert.InDelta(t, 0.2, res.RelativeMDE, 1e-9)

	p.MDE = 0
	p.SampleSize = res.ControlSize
	inv, err := est.ProportionMDE(p)
	require.NoError(t, err)
	assert.InDelta(t, 0.02, inv.MDE, 1e-4)
	assert.GreaterOrEqual(t, inv.Power, 0.8-1e-9)

	p = experiment.DesignParams{Alpha: 0.05, Power: 0.8, BaselineRate: 0.95, MDE: 0.1}
	res, err = est.ProportionSampleSize(p)
	require.NoError(t, err)
	assert.True(t, res.Degenerate)

	p.BaselineRate = 1.5
	_, err = est.ProportionSampleSize(p)
	assert.True(t, core.IsInvalidInput(err))
}

func TestProportionMDEUnreachable(t *testing.T) {
	p := experiment.DesignParams{Alpha: 0.05, Power: 0.99, BaselineRate: 0.5, SampleSize: 3}
	res, err := NewEstimator().ProportionMDE(p)
	require.NoError(t, err)
	assert.True(t, res.Degenerate)
}

// The rounded size reaches the target power while one unit fewer falls short.
func TestSampleSizePowerRoundTrip(t *testing.T) {
	est := NewEstimator()
	rapid.Check(t, func(t *rapid.T) {
		p := experiment.DesignParams{
			Alpha:            rapid.Float64Range(0.001, 0.2).Draw(t, "alpha"),
			Power:            rapid.Float64Range(0.5, 0.99).Draw(t, "power"),
			BaselineVariance: rapid.Float64Range(0.01, 100).Draw(t, "variance"),
			MDE:              rapid.Float64Range(0.01, 10).Draw(t, "mde"),
			Ratio:            rapid.Float64Range(0.25, 4).Draw(t, "ratio"),
		}
		if rapid.Bool().Draw(t, "one_sided") {
			p.Sidedness = experiment.Greater
		}

		res, err := est.SampleSize(p)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Degenerate {
			t.Fatalf("unexpected degenerate result: %s", res.DegenerateReason)
		}
		if got := est.Power(p, float64(res.ControlSize)); got < p.Power-1e-9 {
			t.Fatalf("power %v below target %v at n=%d", got, p.Power, res.ControlSize)
		}
		if res.ControlSize > 1 {
			if got := est.Power(p, float64(res.ControlSize-1)); got >= p.Power+1e-9 {
				t.Fatalf("n=%d is not minimal, power %v", res.ControlSize, got)
			}
		}
	})
}
