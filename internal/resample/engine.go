package resample

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"
	"abkit/internal/rng"
	"abkit/internal/workers"
)

const (
	DefaultIterations    = 1000
	DefaultAlpha         = 0.05
	DefaultMaxIterations = 1_000_000
	// DefaultMaxDraws bounds iterations*n, the number of values drawn per run
	DefaultMaxDraws int64 = 1 << 32

	wideIntervalFactor = 1e6
)

// Options configures a resampling engine. Zero values take the defaults above.
type Options struct {
	Iterations         int
	Alpha              float64
	Method             experiment.IntervalMethod
	Seed               *uint64
	RequireDeterminism bool
	Workers            int
	MaxIterations      int
	MaxDraws           int64
}

func (o Options) withDefaults() Options {
	if o.Iterations == 0 {
		o.Iterations = DefaultIterations
	}
	if o.Alpha == 0 {
		o.Alpha = DefaultAlpha
	}
	if o.Method == "" {
		o.Method = experiment.IntervalPercentile
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.MaxDraws == 0 {
		o.MaxDraws = DefaultMaxDraws
	}
	return o
}

func (o Options) validate() error {
	if o.Iterations < 1 {
		return apperrors.InvalidInput(core.NewValidationError("iterations", "must be at least 1"), "bootstrap iterations %d", o.Iterations)
	}
	if !(o.Alpha > 0 && o.Alpha < 1) {
		return apperrors.InvalidInput(core.ErrInvalidAlpha, "bootstrap alpha %v", o.Alpha)
	}
	if !o.Method.Valid() {
		return apperrors.InvalidInput(core.ErrUnknownVariant, "interval method %q", o.Method)
	}
	if o.Iterations > o.MaxIterations {
		return apperrors.BudgetExceeded("bootstrap iterations", o.Iterations, o.MaxIterations)
	}
	return nil
}

// Engine draws bootstrap resamples and turns their statistics into intervals.
// Iteration i always uses the same random stream, so results are identical for a
// given seed regardless of worker count.
type Engine struct {
	opts    Options
	streams *rng.Streams
	pool    *workers.Pool
	dist    *analysis.StatisticalDistributions
	logger  *internal.Logger
}

// NewEngine validates options and prepares the random streams
func NewEngine(opts Options) (*Engine, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	streams, err := rng.New(opts.Seed, opts.RequireDeterminism)
	if err != nil {
		return nil, err
	}
	return &Engine{
		opts:    opts,
		streams: streams,
		pool:    workers.NewPool(opts.Workers),
		dist:    analysis.NewDistributions(),
		logger:  internal.DefaultLogger.With("resample"),
	}, nil
}

// Options returns the effective options
func (e *Engine) Options() Options { return e.opts }

// Seed returns the base seed in use, generated when none was supplied
func (e *Engine) Seed() uint64 { return e.streams.Seed() }

// Indices returns the with-replacement index draw of iteration i for a sample of size n
func (e *Engine) Indices(n, iteration int) []int {
	idx := make([]int, n)
	rng.Draw(e.streams.Stream(rng.LabelBootstrap, iteration), idx, n)
	return idx
}

func checkSample(name string, values []float64) error {
	if len(values) == 0 {
		return apperrors.InvalidInput(core.ErrInsufficientData, "%s sample is empty", name)
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperrors.InvalidInput(core.ErrMissingValue, "%s[%d] is %v", name, i, v)
		}
	}
	return nil
}

func (e *Engine) checkDraws(n int) error {
	draws := int64(e.opts.Iterations) * int64(n)
	if draws > e.opts.MaxDraws {
		return apperrors.BudgetExceeded("bootstrap draws", int(min(draws, math.MaxInt32)), int(min(e.opts.MaxDraws, math.MaxInt32)))
	}
	return nil
}

// resampleInto fills buf with values drawn with replacement by r
func resampleInto(r *rand.Rand, values, buf []float64) {
	n := len(values)
	for k := range buf {
		buf[k] = values[r.IntN(n)]
	}
}

// Bootstrap resamples one sample and returns the interval for stat
func (e *Engine) Bootstrap(ctx context.Context, values []float64, stat Aggregator) (experiment.IntervalResult, error) {
	if err := checkSample("bootstrap", values); err != nil {
		return experiment.IntervalResult{}, err
	}
	if stat.Fn == nil {
		return experiment.IntervalResult{}, apperrors.InvalidInput(nil, "aggregator %q has no function", stat.Name)
	}
	if err := e.checkDraws(len(values)); err != nil {
		return experiment.IntervalResult{}, err
	}

	estimate := stat.Fn(append([]float64(nil), values...))
	distribution := make([]float64, e.opts.Iterations)
	err := e.pool.ForEach(ctx, e.opts.Iterations, func(_ context.Context, i int) error {
		buf := make([]float64, len(values))
		resampleInto(e.streams.Stream(rng.LabelBootstrap, i), values, buf)
		distribution[i] = stat.Fn(buf)
		return nil
	})
	if err != nil {
		return experiment.IntervalResult{}, apperrors.Wrap(err, "bootstrap")
	}

	e.logger.Debug("bootstrap %s: %d iterations over %d values", stat.Name, e.opts.Iterations, len(values))
	return e.interval(estimate, distribution)
}

// BootstrapDiff resamples each arm independently and returns the interval for
// stat(treatment) - stat(control)
func (e *Engine) BootstrapDiff(ctx context.Context, control, treatment []float64, stat Aggregator) (experiment.IntervalResult, error) {
	if err := checkSample("control", control); err != nil {
		return experiment.IntervalResult{}, err
	}
	if err := checkSample("treatment", treatment); err != nil {
		return experiment.IntervalResult{}, err
	}
	if stat.Fn == nil {
		return experiment.IntervalResult{}, apperrors.InvalidInput(nil, "aggregator %q has no function", stat.Name)
	}
	if err := e.checkDraws(len(control) + len(treatment)); err != nil {
		return experiment.IntervalResult{}, err
	}

	estimate := stat.Fn(append([]float64(nil), treatment...)) - stat.Fn(append([]float64(nil), control...))
	distribution := make([]float64, e.opts.Iterations)
	err := e.pool.ForEach(ctx, e.opts.Iterations, func(_ context.Context, i int) error {
		cb := make([]float64, len(control))
		tb := make([]float64, len(treatment))
		resampleInto(e.streams.Stream(rng.LabelBootstrapC, i), control, cb)
		resampleInto(e.streams.Stream(rng.LabelBootstrapT, i), treatment, tb)
		distribution[i] = stat.Fn(tb) - stat.Fn(cb)
		return nil
	})
	if err != nil {
		return experiment.IntervalResult{}, apperrors.Wrap(err, "bootstrap difference")
	}

	e.logger.Debug("bootstrap diff %s: %d iterations, n=%d/%d", stat.Name, e.opts.Iterations, len(control), len(treatment))
	return e.interval(estimate, distribution)
}

// interval summarizes a bootstrap distribution with the configured method
func (e *Engine) interval(estimate float64, distribution []float64) (experiment.IntervalResult, error) {
	for i, v := range distribution {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return experiment.IntervalResult{}, apperrors.New(apperrors.CodeNumericalInstability,
				fmt.Sprintf("statistic is not finite on resample %d", i))
		}
	}

	alpha := e.opts.Alpha
	sorted := analysis.Sorted(distribution)
	qLo := analysis.QuantileSorted(sorted, alpha/2)
	qHi := analysis.QuantileSorted(sorted, 1-alpha/2)
	sd := analysis.StdDev(distribution)

	res := experiment.IntervalResult{
		Estimate:     estimate,
		Method:       e.opts.Method,
		Alpha:        alpha,
		Iterations:   len(distribution),
		StdErr:       sd,
		PValue:       PValue(distribution),
		Seed:         e.streams.Seed(),
		Distribution: distribution,
	}

	switch e.opts.Method {
	case experiment.IntervalNormal:
		z := e.dist.NormalQuantile(1 - alpha/2)
		res.Lower, res.Upper = estimate-z*sd, estimate+z*sd
	case experiment.IntervalPivotal:
		res.Lower, res.Upper = 2*estimate-qHi, 2*estimate-qLo
	default:
		res.Lower, res.Upper = qLo, qHi
	}

	if sd == 0 {
		res.Warnings.Add(experiment.WarningZeroResampleVariance, "every resample gave the same statistic, the interval has zero width")
	}
	if width := res.Upper - res.Lower; estimate != 0 && width > wideIntervalFactor*math.Abs(estimate) {
		res.Warnings.Add(experiment.WarningWideInterval,
			fmt.Sprintf("interval width %.3g exceeds %.0g times the estimate", width, wideIntervalFactor))
	}
	return res, nil
}

// PValue is the two-sided bootstrap p-value for "statistic == 0": twice the smaller
// share of the distribution on either side of zero, capped at 1
func PValue(distribution []float64) float64 {
	if len(distribution) == 0 {
		return 1
	}
	var below, above int
	for _, v := range distribution {
		if v <= 0 {
			below++
		}
		if v >= 0 {
			above++
		}
	}
	p := 2 * float64(min(below, above)) / float64(len(distribution))
	return math.Min(p, 1)
}
