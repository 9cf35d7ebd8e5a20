package hypothesis

import (
	"context"
	"math"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"
)

// Config selects and parameterizes a two-sample test
type Config struct {
	Kind      experiment.TestKind
	Alpha     float64
	Sidedness experiment.Sidedness

	// Bootstrap test only
	BootstrapIterations int
	IntervalMethod      experiment.IntervalMethod
	Seed                *uint64
	RequireDeterminism  bool
	Workers             int
	MaxIterations       int
}

func (c Config) sides() experiment.Sidedness {
	if c.Sidedness == "" {
		return experiment.TwoSided
	}
	return c.Sidedness
}

// Validate checks the test selection and its parameters
func (c Config) Validate() error {
	if !c.Kind.Valid() {
		return apperrors.InvalidInput(core.ErrUnknownVariant, "test %q", c.Kind)
	}
	if !(c.Alpha > 0 && c.Alpha < 1) {
		return apperrors.InvalidInput(core.ErrInvalidAlpha, "test alpha %v", c.Alpha)
	}
	if !c.sides().Valid() {
		return apperrors.InvalidInput(core.ErrUnknownVariant, "sidedness %q", c.Sidedness)
	}
	return nil
}

// Test compares a control and a treatment sample
type Test interface {
	Kind() experiment.TestKind
	Description() string
	Run(ctx context.Context, cfg Config, control, treatment []float64) (experiment.TestResult, error)
}

// Runner dispatches to the registered tests
type Runner struct {
	tests  map[experiment.TestKind]Test
	logger *internal.Logger
}

// NewRunner registers the built-in tests
func NewRunner() *Runner {
	r := &Runner{
		tests:  make(map[experiment.TestKind]Test),
		logger: internal.DefaultLogger.With("hypothesis"),
	}
	for _, t := range []Test{NewWelchTest(), NewProportionTest(), NewMannWhitneyTest(), NewBootstrapTest()} {
		r.tests[t.Kind()] = t
	}
	return r
}

var defaultRunner = NewRunner()

// Run executes cfg.Kind with the default runner
func Run(ctx context.Context, cfg Config, control, treatment []float64) (experiment.TestResult, error) {
	return defaultRunner.Run(ctx, cfg, control, treatment)
}

// Run validates inputs and executes the configured test. It only reads its arguments.
func (r *Runner) Run(ctx context.Context, cfg Config, control, treatment []float64) (experiment.TestResult, error) {
	if err := cfg.Validate(); err != nil {
		return experiment.TestResult{}, err
	}
	if err := checkArm("control", control); err != nil {
		return experiment.TestResult{}, err
	}
	if err := checkArm("treatment", treatment); err != nil {
		return experiment.TestResult{}, err
	}

	test, ok := r.tests[cfg.Kind]
	if !ok {
		return experiment.TestResult{}, apperrors.InvalidInput(core.ErrUnknownVariant, "test %q is not registered", cfg.Kind)
	}

	res, err := test.Run(ctx, cfg, control, treatment)
	if err != nil {
		return experiment.TestResult{}, err
	}
	res.Test = cfg.Kind
	res.Sidedness = cfg.sides()
	res.Alpha = cfg.Alpha
	res.ControlSize = len(control)
	res.TreatmentSize = len(treatment)
	res.Reject = !res.Degenerate && res.PValue < cfg.Alpha
	r.logger.Trace("%s: stat=%.4g p=%.4g effect=%.4g", cfg.Kind, res.Statistic, res.PValue, res.Effect)
	return res, nil
}

func checkArm(name string, values []float64) error {
	if len(values) < 2 {
		return apperrors.InvalidInput(core.ErrInsufficientData, "%s arm needs at least 2 observations, got %d", name, len(values))
	}
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperrors.InvalidInput(core.ErrMissingValue, "%s[%d] is %v", name, i, v)
		}
	}
	return nil
}

// relativeEffect is effect/|baseline|, 0 when the baseline is 0
func relativeEffect(effect, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return effect / math.Abs(baseline)
}

// constantArmsPValue handles two arms without variance: equal locations cannot be
// told apart, different ones are separated with certainty if the direction matches
// the alternative
func constantArmsPValue(effect float64, sides experiment.Sidedness) float64 {
	switch {
	case effect == 0:
		return 1
	case sides == experiment.Greater && effect < 0, sides == experiment.Less && effect > 0:
		return 1
	default:
		return 0
	}
}

var dist = analysis.NewDistributions()
