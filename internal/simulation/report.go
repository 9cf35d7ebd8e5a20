package simulation

import (
	"context"
	"math"
	"sort"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"

	"gonum.org/v1/gonum/floats"
)

var dist = analysis.NewDistributions()

func (v *Validator) summarize(mode experiment.SimulationMode, outcomes []outcome) (experiment.SimulationReport, error) {
	alpha := v.opts.Test.Alpha
	report := experiment.SimulationReport{
		RunID:      core.NewRunID(string(mode)+"/"+string(v.opts.Test.Kind), v.streams.Seed()),
		Mode:       mode,
		Test:       v.opts.Test.Kind,
		Alpha:      alpha,
		Iterations: len(outcomes),
		Seed:       v.streams.Seed(),
		Target:     alpha,
	}
	if mode == experiment.ModeAB {
		report.Target = v.opts.Power
	}

	var firstErr error
	report.PValues = make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		if o.err != nil {
			report.Failed++
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		report.Completed++
		report.PValues = append(report.PValues, o.pValue)
		if o.reject {
			report.Rejections++
		}
	}
	if report.Completed == 0 {
		return experiment.SimulationReport{}, apperrors.Wrap(firstErr, "every simulation iteration failed")
	}
	if report.Failed > 0 {
		report.Warnings.Add(experiment.WarningFailedIterations, "failed iterations are excluded from the rate")
		v.logger.Warn("%d of %d iterations failed: %v", report.Failed, report.Iterations, firstErr)
	}

	n := float64(report.Completed)
	report.Rate = float64(report.Rejections) / n
	report.MCStdErr = math.Sqrt(report.Rate * (1 - report.Rate) / n)
	report.WithinTolerance = math.Abs(report.Rate-report.Target) <= 3*report.MCStdErr+toleranceSlack

	if undersized(mode, report.MCStdErr, report.Target, alpha, n) {
		report.Warnings.Add(experiment.WarningUndersizedSimulation, "Monte Carlo error is too large to judge the rate against the target")
	}

	if mode == experiment.ModeAA {
		u := Uniformity(report.PValues, alpha)
		report.Uniformity = &u
	}

	v.logger.Debug("%s simulation done: rate=%.4f ± %.4f (target %.3f)", mode, report.Rate, report.MCStdErr, report.Target)
	return report, nil
}

// undersized reports whether the Monte Carlo error of the rate is too large to
// compare it with its target. A/A rates are judged against alpha/4, A/B power
// estimates against the tolerance slack.
// A rate of exactly 0 or 1 has zero estimated error, so size is also judged at the target.
func undersized(mode experiment.SimulationMode, mcse, target, alpha, n float64) bool {
	err := math.Max(mcse, math.Sqrt(target*(1-target)/n))
	if mode == experiment.ModeAB {
		return err > toleranceSlack
	}
	return err > alpha/4
}

// Uniformity runs a one-sample Kolmogorov-Smirnov test of p-values against U(0,1)
func Uniformity(pValues []float64, alpha float64) experiment.UniformityCheck {
	n := len(pValues)
	if n == 0 {
		return experiment.UniformityCheck{PValue: 1, Uniform: true}
	}
	sorted := append([]float64(nil), pValues...)
	sort.Float64s(sorted)

	d := 0.0
	for i, p := range sorted {
		d = math.Max(d, math.Max(float64(i+1)/float64(n)-p, p-float64(i)/float64(n)))
	}
	pv := dist.KolmogorovPValue(d, n)
	return experiment.UniformityCheck{Statistic: d, PValue: pv, Uniform: pv >= alpha}
}

// ApplyEffect injects e into arm in place: additive y+size, multiplicative y*(1+size)
func ApplyEffect(arm []float64, e Effect) {
	switch e.Kind {
	case experiment.EffectMultiplicative:
		floats.Scale(1+e.Size, arm)
	default:
		floats.AddConst(e.Size, arm)
	}
}

// EstimateErrors runs an A/A and an A/B simulation of the same design and reports
// the type I and type II error rates. The design is correct when both stay within
// the slack of alpha and 1-power.
func (v *Validator) EstimateErrors(ctx context.Context, values []float64) (experiment.ErrorEstimate, error) {
	aa, err := v.RunAA(ctx, values)
	if err != nil {
		return experiment.ErrorEstimate{}, apperrors.Wrap(err, "A/A simulation")
	}
	ab, err := v.RunAB(ctx, values)
	if err != nil {
		return experiment.ErrorEstimate{}, apperrors.Wrap(err, "A/B simulation")
	}
	est := experiment.ErrorEstimate{
		AA:          aa,
		AB:          ab,
		TypeIError:  aa.Rate,
		TypeIIError: 1 - ab.Rate,
	}
	beta := 1 - v.opts.Power
	est.DesignIsCorrect = est.TypeIError < v.opts.Test.Alpha+toleranceSlack && est.TypeIIError < beta+toleranceSlack
	return est, nil
}
