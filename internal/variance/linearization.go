package variance

import (
	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"
)

// ratioCoefficient validates a ratio metric and returns kappa = sum(num)/sum(den) over
// the reference group, plus the reference group's mean denominator
func ratioCoefficient(num, den []float64, groups []experiment.Group, scope experiment.ThetaScope) (kappa, meanDen float64, resolved experiment.ThetaScope, err error) {
	resolved = scope
	if resolved == "" {
		// control is the natural reference, but a dataset without groups can only use all units
		resolved = experiment.ScopeControl
		if len(groups) == 0 {
			resolved = experiment.ScopeFull
		}
	}
	if !resolved.Valid() {
		return 0, 0, resolved, apperrors.InvalidInput(core.ErrUnknownVariant, "theta scope %q", scope)
	}
	if len(num) != len(den) {
		return 0, 0, resolved, apperrors.InvalidInput(core.NewLengthError("denominator", len(den), len(num)), "linearization")
	}
	if len(num) == 0 {
		return 0, 0, resolved, apperrors.InvalidInput(core.ErrInsufficientData, "linearization of an empty metric")
	}
	if err := checkFinite("numerator", num); err != nil {
		return 0, 0, resolved, err
	}
	if err := checkFinite("denominator", den); err != nil {
		return 0, 0, resolved, err
	}

	ref, err := referenceIndices(len(num), groups, resolved)
	if err != nil {
		return 0, 0, resolved, err
	}
	if len(ref) == 0 {
		return 0, 0, resolved, apperrors.InvalidInput(core.ErrInsufficientData, "linearization reference group is empty")
	}

	denRef := gather(den, ref)
	sumDen := analysis.Sum(denRef)
	if sumDen == 0 {
		return 0, 0, resolved, apperrors.InvalidInput(core.ErrZeroDenominator, "reference group (%s)", resolved)
	}
	kappa = analysis.Sum(gather(num, ref)) / sumDen
	return kappa, sumDen / float64(len(ref)), resolved, nil
}

func allOnes(den []float64) bool {
	for _, d := range den {
		if d != 1 {
			return false
		}
	}
	return true
}

// Linearize turns a ratio-of-sums metric into the per-unit statistic
// l_i = num_i - kappa*den_i. When every denominator is 1 the metric is already a plain
// per-unit mean and the numerator is returned unchanged.
func Linearize(num, den []float64, groups []experiment.Group, scope experiment.ThetaScope) (experiment.ReductionResult, error) {
	kappa, _, resolved, err := ratioCoefficient(num, den, groups, scope)
	if err != nil {
		return experiment.ReductionResult{}, err
	}

	result := experiment.ReductionResult{Kind: experiment.ReductionLinearization, Coefficient: kappa, Scope: resolved}
	if allOnes(den) {
		result.Values = append([]float64(nil), num...)
		fillVarianceSummary(&result, num)
		return result, nil
	}

	out := make([]float64, len(num))
	for i := range num {
		out[i] = num[i] - kappa*den[i]
	}
	result.Values = out
	fillVarianceSummary(&result, ratios(num, den))
	logger.Debug("linearization kappa=%.6g scope=%s", kappa, resolved)
	return result, nil
}

// LinearizeMeanCentred keeps the linearized metric on the ratio's own scale:
// l_i = kappa + (num_i - kappa*den_i)/mean(den_ref). Its reference-group mean equals kappa.
func LinearizeMeanCentred(num, den []float64, groups []experiment.Group, scope experiment.ThetaScope) (experiment.ReductionResult, error) {
	kappa, meanDen, resolved, err := ratioCoefficient(num, den, groups, scope)
	if err != nil {
		return experiment.ReductionResult{}, err
	}

	result := experiment.ReductionResult{Kind: experiment.ReductionLinearization, Coefficient: kappa, Scope: resolved}
	if allOnes(den) {
		result.Values = append([]float64(nil), num...)
		fillVarianceSummary(&result, num)
		return result, nil
	}
	if meanDen == 0 {
		return experiment.ReductionResult{}, apperrors.InvalidInput(core.ErrZeroDenominator, "mean reference denominator")
	}

	out := make([]float64, len(num))
	for i := range num {
		out[i] = kappa + (num[i]-kappa*den[i])/meanDen
	}
	result.Values = out
	fillVarianceSummary(&result, ratios(num, den))
	return result, nil
}

// ratios returns per-unit num/den for units with a non-zero denominator, the naive
// metric whose variance the linearization is compared against
func ratios(num, den []float64) []float64 {
	out := make([]float64, 0, len(num))
	for i := range num {
		if den[i] != 0 {
			out = append(out, num[i]/den[i])
		}
	}
	return out
}
