package simulation

import (
	"context"
	"fmt"
	"math"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal"
	apperrors "abkit/internal/errors"
	"abkit/internal/hypothesis"
	"abkit/internal/rng"
	"abkit/internal/workers"
)

const (
	DefaultIterations     = 1000
	DefaultTreatmentShare = 0.5
	DefaultPower          = 0.8
	DefaultMaxIterations  = 1_000_000

	// toleranceSlack is added to the 3-sigma Monte Carlo band when judging a rate
	toleranceSlack = 0.015
)

// Effect is the synthetic effect injected into the treatment arm in A/B mode
type Effect struct {
	Size float64
	Kind experiment.EffectKind
}

// Options configures a Validator. Zero values take the defaults above.
type Options struct {
	Iterations int
	Test       hypothesis.Config
	// SampleSize is the size of each arm; 0 splits the whole dataset by TreatmentShare
	SampleSize     int
	TreatmentShare float64
	Effect         Effect
	// Power is the target the A/B rejection rate is compared with
	Power              float64
	Seed               *uint64
	RequireDeterminism bool
	Workers            int
	MaxIterations      int
	// TolerateFailures excludes errored iterations from the rate instead of aborting.
	// Excluded iterations are always counted in the report.
	TolerateFailures bool
}

func (o Options) withDefaults() Options {
	if o.Iterations == 0 {
		o.Iterations = DefaultIterations
	}
	if o.TreatmentShare == 0 {
		o.TreatmentShare = DefaultTreatmentShare
	}
	if o.Power == 0 {
		o.Power = DefaultPower
	}
	if o.MaxIterations == 0 {
		o.MaxIterations = DefaultMaxIterations
	}
	if o.Effect.Kind == "" {
		o.Effect.Kind = experiment.EffectAdditive
	}
	if o.Test.Kind == "" {
		o.Test.Kind = experiment.TestWelch
	}
	if o.Test.Alpha == 0 {
		o.Test.Alpha = 0.05
	}
	return o
}

func (o Options) validate() error {
	if o.Iterations < 1 {
		return apperrors.InvalidInput(core.NewValidationError("iterations", "must be at least 1"), "simulation iterations %d", o.Iterations)
	}
	if o.Iterations > o.MaxIterations {
		return apperrors.BudgetExceeded("simulation iterations", o.Iterations, o.MaxIterations)
	}
	if o.SampleSize < 0 {
		return apperrors.InvalidInput(core.NewValidationError("sample_size", "must not be negative"), "sample size %d", o.SampleSize)
	}
	if !(o.TreatmentShare > 0 && o.TreatmentShare < 1) {
		return apperrors.InvalidInput(core.NewValidationError("treatment_share", "must be in (0, 1)"), "treatment share %v", o.TreatmentShare)
	}
	if !(o.Power > 0 && o.Power < 1) {
		return apperrors.InvalidInput(core.ErrInvalidPower, "simulation power %v", o.Power)
	}
	if !o.Effect.Kind.Valid() {
		return apperrors.InvalidInput(core.ErrUnknownVariant, "effect kind %q", o.Effect.Kind)
	}
	if math.IsNaN(o.Effect.Size) || math.IsInf(o.Effect.Size, 0) {
		return apperrors.InvalidInput(core.ErrMissingValue, "effect size %v", o.Effect.Size)
	}
	return o.Test.Validate()
}

// Validator repeatedly splits a dataset at random, runs a test on each split and
// reports how often the null was rejected. Each iteration draws a fresh permutation
// from its own stream, so the report depends on the seed only.
type Validator struct {
	opts    Options
	streams *rng.Streams
	pool    *workers.Pool
	logger  *internal.Logger
}

// NewValidator validates options and prepares the random streams
func NewValidator(opts Options) (*Validator, error) {
	opts = opts.withDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}
	streams, err := rng.New(opts.Seed, opts.RequireDeterminism)
	if err != nil {
		return nil, err
	}
	return &Validator{
		opts:    opts,
		streams: streams,
		pool:    workers.NewPool(opts.Workers),
		logger:  internal.DefaultLogger.With("simulation"),
	}, nil
}

// Options returns the effective options
func (v *Validator) Options() Options { return v.opts }

// Seed returns the base seed in use
func (v *Validator) Seed() uint64 { return v.streams.Seed() }

// RunAA estimates the false-positive rate of the configured test
func (v *Validator) RunAA(ctx context.Context, values []float64) (experiment.SimulationReport, error) {
	return v.Run(ctx, experiment.ModeAA, values)
}

// RunAB estimates the power of the configured test against the configured effect
func (v *Validator) RunAB(ctx context.Context, values []float64) (experiment.SimulationReport, error) {
	return v.Run(ctx, experiment.ModeAB, values)
}

type outcome struct {
	pValue float64
	reject bool
	err    error
}

// Run executes Iterations splits in the given mode
func (v *Validator) Run(ctx context.Context, mode experiment.SimulationMode, values []float64) (experiment.SimulationReport, error) {
	if !mode.Valid() {
		return experiment.SimulationReport{}, apperrors.InvalidInput(core.ErrUnknownVariant, "simulation mode %q", mode)
	}
	nC, nT, err := v.armSizes(len(values))
	if err != nil {
		return experiment.SimulationReport{}, err
	}
	for i, x := range values {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return experiment.SimulationReport{}, apperrors.InvalidInput(core.ErrMissingValue, "values[%d] is %v", i, x)
		}
	}

	v.logger.Debug("%s simulation: %d iterations, arms %d/%d, test %s", mode, v.opts.Iterations, nC, nT, v.opts.Test.Kind)

	outcomes := make([]outcome, v.opts.Iterations)
	err = v.pool.ForEach(ctx, v.opts.Iterations, func(ctx context.Context, i int) error {
		o := v.iteration(ctx, mode, values, nC, nT, i)
		outcomes[i] = o
		if o.err != nil && !v.opts.TolerateFailures {
			return fmt.Errorf("iteration %d: %w", i, o.err)
		}
		return nil
	})
	if err != nil {
		return experiment.SimulationReport{}, err
	}
	return v.summarize(mode, outcomes)
}

func (v *Validator) armSizes(n int) (int, int, error) {
	if v.opts.SampleSize > 0 {
		if 2*v.opts.SampleSize > n {
			return 0, 0, apperrors.InvalidInput(core.ErrInsufficientData,
				"two arms of %d need %d units, dataset has %d", v.opts.SampleSize, 2*v.opts.SampleSize, n)
		}
		return v.opts.SampleSize, v.opts.SampleSize, nil
	}
	nT := int(math.Round(float64(n) * v.opts.TreatmentShare))
	nC := n - nT
	if nC < 2 || nT < 2 {
		return 0, 0, apperrors.InvalidInput(core.ErrInsufficientData, "dataset of %d units cannot be split into two arms of at least 2", n)
	}
	return nC, nT, nil
}

// iteration splits a fresh permutation into control and treatment, injects the
// effect in A/B mode and runs the test
func (v *Validator) iteration(ctx context.Context, mode experiment.SimulationMode, values []float64, nC, nT, i int) outcome {
	idx := make([]int, len(values))
	rng.Permute(v.streams.Stream(rng.LabelPermute, i), idx)

	control := make([]float64, nC)
	treatment := make([]float64, nT)
	for j := range control {
		control[j] = values[idx[j]]
	}
	for j := range treatment {
		treatment[j] = values[idx[nC+j]]
	}
	if mode == experiment.ModeAB {
		ApplyEffect(treatment, v.opts.Effect)
	}

	cfg := v.opts.Test
	if cfg.Kind == experiment.TestBootstrap {
		// nested resampling stays serial and gets its own seed per iteration
		seed := core.DeriveSeed(v.streams.Seed(), fmt.Sprintf("%s/%d", rng.LabelBootstrap, i))
		cfg.Seed = &seed
		cfg.Workers = 1
	}
	res, err := hypothesis.Run(ctx, cfg, control, treatment)
	if err != nil {
		return outcome{err: err}
	}
	return outcome{pValue: res.PValue, reject: res.Reject}
}
