package resample

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func seed(v uint64) *uint64 { return &v }

func sample(n int, mu, sigma float64, s uint64) []float64 {
	r := rand.New(rand.NewPCG(s, 0))
	out := make([]float64, n)
	for i := range out {
		out[i] = mu + sigma*r.NormFloat64()
	}
	return out
}

func newEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(opts)
	require.NoError(t, err)
	return e
}

func TestBootstrapIsDeterministicAcrossWorkerCounts(t *testing.T) {
	values := sample(300, 10, 2, 1)
	ctx := context.Background()

	a := newEngine(t, Options{Iterations: 500, Seed: seed(42), Workers: 1})
	b := newEngine(t, Options{Iterations: 500, Seed: seed(42), Workers: 8})

	ra, err := a.Bootstrap(ctx, values, Mean)
	require.NoError(t, err)
	rb, err := b.Bootstrap(ctx, values, Mean)
	require.NoError(t, err)

	assert.Equal(t, ra.Lower, rb.Lower)
	assert.Equal(t, ra.Upper, rb.Upper)
	assert.Equal(t, ra.Distribution, rb.Distribution)
	assert.Equal(t, uint64(42), ra.Seed)

	assert.Equal(t, a.Indices(50, 7), b.Indices(50, 7))
	assert.NotEqual(t, a.Indices(50, 7), a.Indices(50, 8))
}

func TestIndicesMatchBootstrapDraws(t *testing.T) {
	values := sample(40, 0, 1, 2)
	e := newEngine(t, Options{Iterations: 20, Seed: seed(9)})

	res, err := e.Bootstrap(context.Background(), values, Mean)
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		idx := e.Indices(len(values), i)
		drawn := make([]float64, len(idx))
		for k, j := range idx {
			drawn[k] = values[j]
		}
		assert.Equal(t, analysis.Mean(drawn), res.Distribution[i])
	}
}

func TestDeterminismRequiresSeed(t *testing.T) {
	_, err := NewEngine(Options{RequireDeterminism: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, core.ErrSeedRequired))
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))

	e, err := NewEngine(Options{})
	require.NoError(t, err)
	res, err := e.Bootstrap(context.Background(), []float64{1, 2, 3}, Mean)
	require.NoError(t, err)
	assert.Equal(t, e.Seed(), res.Seed, "generated seed is reported for reproduction")
}

func TestIterationBudget(t *testing.T) {
	_, err := NewEngine(Options{Iterations: 2000, MaxIterations: 1000})
	require.Error(t, err)
	assert.True(t, core.IsBudgetError(err))
	assert.Equal(t, apperrors.CodeConfigInvalid, apperrors.GetCode(err))

	e := newEngine(t, Options{Iterations: 100, MaxDraws: 1000, Seed: seed(1)})
	_, err = e.Bootstrap(context.Background(), make([]float64, 11), Mean)
	assert.True(t, core.IsBudgetError(err))

	_, err = NewEngine(Options{Iterations: -1})
	assert.True(t, core.IsInvalidInput(err))
}

func TestBootstrapInvalidInput(t *testing.T) {
	e := newEngine(t, Options{Seed: seed(1)})
	_, err := e.Bootstrap(context.Background(), nil, Mean)
	assert.True(t, errors.Is(err, core.ErrInsufficientData))

	_, err = e.Bootstrap(context.Background(), []float64{1, math.NaN()}, Mean)
	assert.True(t, errors.Is(err, core.ErrMissingValue))

	_, err = e.BootstrapDiff(context.Background(), []float64{1}, nil, Mean)
	assert.True(t, errors.Is(err, core.ErrInsufficientData))
}

func TestZeroSpreadWarning(t *testing.T) {
	e := newEngine(t, Options{Iterations: 200, Seed: seed(3)})
	res, err := e.Bootstrap(context.Background(), []float64{4, 4, 4, 4}, Mean)
	require.NoError(t, err)
	assert.True(t, res.Warnings.Has(experiment.WarningZeroResampleVariance))
	assert.Equal(t, 4.0, res.Lower)
	assert.Equal(t, 4.0, res.Upper)
}

func TestWideIntervalWarning(t *testing.T) {
	e := newEngine(t, Options{Iterations: 500, Seed: seed(3)})
	res, err := e.Bootstrap(context.Background(), []float64{1e9, -1e9, 1}, Mean)
	require.NoError(t, err)
	assert.True(t, res.Warnings.Has(experiment.WarningWideInterval))
}

func TestIntervalMethods(t *testing.T) {
	values := sample(200, 5, 3, 4)
	ctx := context.Background()

	pct, err := newEngine(t, Options{Seed: seed(5)}).Bootstrap(ctx, values, Mean)
	require.NoError(t, err)
	piv, err := newEngine(t, Options{Seed: seed(5), Method: experiment.IntervalPivotal}).Bootstrap(ctx, values, Mean)
	require.NoError(t, err)
	nrm, err := newEngine(t, Options{Seed: seed(5), Method: experiment.IntervalNormal}).Bootstrap(ctx, values, Mean)
	require.NoError(t, err)

	assert.InDelta(t, 2*pct.Estimate-pct.Upper, piv.Lower, 1e-12)
	assert.InDelta(t, 2*pct.Estimate-pct.Lower, piv.Upper, 1e-12)
	assert.InDelta(t, nrm.Estimate-nrm.Lower, nrm.Upper-nrm.Estimate, 1e-12)
	for _, r := range []experiment.IntervalResult{pct, piv, nrm} {
		assert.True(t, r.Contains(r.Estimate), "%s interval should contain the estimate", r.Method)
	}

	// a normal-theory standard error of the mean is close to the bootstrap one
	assert.InDelta(t, analysis.StdDev(values)/math.Sqrt(200), pct.StdErr, 0.05)
}

func TestBootstrapDiffDetectsShift(t *testing.T) {
	control := sample(300, 100, 10, 6)
	treatment := sample(300, 105, 10, 7)

	e := newEngine(t, Options{Iterations: 1000, Seed: seed(8)})
	res, err := e.BootstrapDiff(context.Background(), control, treatment, Mean)
	require.NoError(t, err)
	assert.InDelta(t, analysis.Mean(treatment)-analysis.Mean(control), res.Estimate, 1e-9)
	assert.Greater(t, res.Lower, 0.0)
	assert.Less(t, res.PValue, 0.01)
}

func TestNonFiniteStatistic(t *testing.T) {
	e := newEngine(t, Options{Iterations: 10, Seed: seed(1)})
	_, err := e.Bootstrap(context.Background(), []float64{1, 2}, Custom("nan", func([]float64) float64 { return math.NaN() }))
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeNumericalInstability, apperrors.GetCode(err))
}

func TestPValue(t *testing.T) {
	assert.Equal(t, 0.5, PValue([]float64{-1, 1, 2, 3}))
	assert.Equal(t, 0.0, PValue([]float64{1, 2, 3}))
	assert.Equal(t, 1.0, PValue([]float64{0, 0}))
	assert.Equal(t, 1.0, PValue(nil))
}

func TestParseAggregator(t *testing.T) {
	for name, want := range map[string]string{"mean": "mean", "Quantile 95": "quantile95", "median": "median", "sum": "sum"} {
		a, err := ParseAggregator(name)
		require.NoError(t, err)
		assert.Equal(t, want, a.Name)
	}
	_, err := ParseAggregator("mode")
	assert.True(t, errors.Is(err, core.ErrUnknownVariant))

	assert.InDelta(t, 95.0, Quantile95.Fn(func() []float64 {
		v := make([]float64, 101)
		for i := range v {
			v[i] = float64(i)
		}
		return v
	}()), 1e-9)
}

// Shifting and scaling the data shifts and scales the interval the same way.
func TestBootstrapAffineInvariance(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(5, 60).Draw(rt, "n")
		ints := rapid.SliceOfN(rapid.IntRange(-500, 500), n, n).Draw(rt, "x")
		a := rapid.Float64Range(0.1, 10).Draw(rt, "a")
		b := rapid.Float64Range(-100, 100).Draw(rt, "b")
		method := rapid.SampledFrom([]experiment.IntervalMethod{
			experiment.IntervalPercentile, experiment.IntervalNormal, experiment.IntervalPivotal,
		}).Draw(rt, "method")

		x := make([]float64, n)
		y := make([]float64, n)
		for i, v := range ints {
			x[i] = float64(v) / 10
			y[i] = a*x[i] + b
		}

		opts := Options{Iterations: 200, Seed: seed(11), Method: method}
		e1, _ := NewEngine(opts)
		e2, _ := NewEngine(opts)
		r1, err := e1.Bootstrap(context.Background(), x, Mean)
		if err != nil {
			rt.Fatalf("bootstrap x: %v", err)
		}
		r2, err := e2.Bootstrap(context.Background(), y, Mean)
		if err != nil {
			rt.Fatalf("bootstrap y: %v", err)
		}

		tol := 1e-6 * (a*50 + math.Abs(b) + 1)
		if math.Abs(r2.Lower-(a*r1.Lower+b)) > tol || math.Abs(r2.Upper-(a*r1.Upper+b)) > tol {
			rt.Fatalf("interval [%v,%v] is not the image of [%v,%v] under %vx+%v", r2.Lower, r2.Upper, r1.Lower, r1.Upper, a, b)
		}
	})
}
