package variance

import (
	"abkit/domain/core"
	"abkit/domain/experiment"
	apperrors "abkit/internal/errors"
)

// ReductionInput carries the columns a transform may need. Only the columns of the
// selected kind are read.
type ReductionInput struct {
	Values []float64
	Groups []experiment.Group
	Scope  experiment.ThetaScope

	// CUPED
	Covariate []float64

	// Linearization: Values is the numerator
	Denominator []float64
	MeanCentred bool

	// Post-stratification
	Strata  []string
	Weights map[string]float64
}

// Apply runs the selected variance-reduction transform. ReductionNone returns a copy
// of the values. Post-stratification leaves per-unit values unchanged and attaches the
// stratified estimate of the whole column.
func Apply(kind experiment.ReductionKind, in ReductionInput) (experiment.ReductionResult, error) {
	switch kind {
	case experiment.ReductionNone, "":
		if err := checkFinite("metric", in.Values); err != nil {
			return experiment.ReductionResult{}, err
		}
		r := experiment.ReductionResult{Kind: experiment.ReductionNone, Values: append([]float64(nil), in.Values...)}
		fillVarianceSummary(&r, in.Values)
		return r, nil

	case experiment.ReductionCUPED:
		return CUPED(in.Values, in.Covariate, in.Groups, in.Scope)

	case experiment.ReductionLinearization:
		if in.MeanCentred {
			return LinearizeMeanCentred(in.Values, in.Denominator, in.Groups, in.Scope)
		}
		return Linearize(in.Values, in.Denominator, in.Groups, in.Scope)

	case experiment.ReductionPostStratification:
		est, err := PostStratify(in.Values, in.Strata, in.Weights)
		if err != nil {
			return experiment.ReductionResult{}, err
		}
		r := experiment.ReductionResult{
			Kind:             experiment.ReductionPostStratification,
			Values:           append([]float64(nil), in.Values...),
			Stratified:       &est,
			Degenerate:       est.Degenerate,
			DegenerateReason: est.DegenerateReason,
			Warnings:         append(experiment.Warnings(nil), est.Warnings...),
		}
		r.VarianceBefore = est.NaiveVariance
		r.VarianceAfter = est.Variance
		r.VarianceRatio = 1
		if est.NaiveVariance > 0 && !est.Degenerate {
			r.VarianceRatio = est.Variance / est.NaiveVariance
		}
		return r, nil

	default:
		return experiment.ReductionResult{}, apperrors.InvalidInput(core.ErrUnknownVariant, "variance reduction %q", kind)
	}
}
