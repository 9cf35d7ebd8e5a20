package hypothesis

import (
	"context"

	"abkit/domain/experiment"
	"abkit/internal/analysis"
	"abkit/internal/resample"
)

// BootstrapTest compares means through the bootstrap distribution of their difference
type BootstrapTest struct{}

// NewBootstrapTest creates a bootstrap test
func NewBootstrapTest() *BootstrapTest {
	return &BootstrapTest{}
}

func (b *BootstrapTest) Kind() experiment.TestKind { return experiment.TestBootstrap }

func (b *BootstrapTest) Description() string {
	return "Bootstrap test on the difference of means, arms resampled independently"
}

// Run draws cfg.BootstrapIterations resamples. One-sided p-values count the share
// of the distribution contradicting the alternative.
func (b *BootstrapTest) Run(ctx context.Context, cfg Config, control, treatment []float64) (experiment.TestResult, error) {
	engine, err := resample.NewEngine(resample.Options{
		Iterations:         cfg.BootstrapIterations,
		Alpha:              cfg.Alpha,
		Method:             cfg.IntervalMethod,
		Seed:               cfg.Seed,
		RequireDeterminism: cfg.RequireDeterminism,
		Workers:            cfg.Workers,
		MaxIterations:      cfg.MaxIterations,
	})
	if err != nil {
		return experiment.TestResult{}, err
	}

	interval, err := engine.BootstrapDiff(ctx, control, treatment, resample.Mean)
	if err != nil {
		return experiment.TestResult{}, err
	}

	res := experiment.TestResult{
		Statistic:      interval.Estimate,
		Effect:         interval.Estimate,
		RelativeEffect: relativeEffect(interval.Estimate, analysis.Mean(control)),
		Interval:       &interval,
		Warnings:       append(experiment.Warnings(nil), interval.Warnings...),
	}

	switch cfg.sides() {
	case experiment.Greater:
		res.PValue = shareAtMost(interval.Distribution, 0)
	case experiment.Less:
		res.PValue = shareAtLeast(interval.Distribution, 0)
	default:
		res.PValue = interval.PValue
	}
	if interval.StdErr == 0 {
		res.PValue = constantArmsPValue(interval.Estimate, cfg.sides())
	}
	return res, nil
}

func shareAtMost(values []float64, x float64) float64 {
	n := 0
	for _, v := range values {
		if v <= x {
			n++
		}
	}
	return float64(n) / float64(len(values))
}

func shareAtLeast(values []float64, x float64) float64 {
	n := 0
	for _, v := range values {
		if v >= x {
			n++
		}
	}
	return float64(n) / float64(len(values))
}
