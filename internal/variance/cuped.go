package variance

import (
	"fmt"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"
)

// CUPED adjusts y with a pre-experiment covariate x: y_i - theta*(x_i - mean(x)), where
// theta = Cov(x, y) / Var(x) is estimated over the units selected by scope (full sample
// when scope is empty). The covariate is centred on its full-sample mean so every arm
// shifts by the same constant.
func CUPED(y, x []float64, groups []experiment.Group, scope experiment.ThetaScope) (experiment.ReductionResult, error) {
	if scope == "" {
		scope = experiment.ScopeFull
	}
	if !scope.Valid() {
		return experiment.ReductionResult{}, apperrors.InvalidInput(core.ErrUnknownVariant, "theta scope %q", scope)
	}
	if len(y) != len(x) {
		return experiment.ReductionResult{}, apperrors.InvalidInput(core.NewLengthError("covariate", len(x), len(y)), "cuped")
	}
	if len(y) < 2 {
		return experiment.ReductionResult{}, apperrors.InvalidInput(core.ErrInsufficientData, "cuped needs at least two units, got %d", len(y))
	}
	if err := checkFinite("metric", y); err != nil {
		return experiment.ReductionResult{}, err
	}
	if err := checkFinite("covariate", x); err != nil {
		return experiment.ReductionResult{}, err
	}

	ref, err := referenceIndices(len(y), groups, scope)
	if err != nil {
		return experiment.ReductionResult{}, err
	}
	if len(ref) < 2 {
		return experiment.ReductionResult{}, apperrors.InvalidInput(core.ErrInsufficientData, "cuped reference group has %d units", len(ref))
	}

	result := experiment.ReductionResult{Kind: experiment.ReductionCUPED, Scope: scope}
	xRef, yRef := gather(x, ref), gather(y, ref)

	varX := analysis.Variance(xRef)
	if varX == 0 {
		result.Values = append([]float64(nil), y...)
		result.Degenerate = true
		result.DegenerateReason = "covariate has zero variance in the reference group"
		result.Warnings.Add(experiment.WarningZeroCovariateVariance, result.DegenerateReason)
		fillVarianceSummary(&result, y)
		logger.Warn("cuped skipped: %s", result.DegenerateReason)
		return result, nil
	}

	theta := analysis.Covariance(xRef, yRef) / varX
	xMean := analysis.Mean(x)

	adjusted := make([]float64, len(y))
	for i := range y {
		adjusted[i] = y[i] - theta*(x[i]-xMean)
	}
	result.Values = adjusted
	result.Coefficient = theta
	fillVarianceSummary(&result, y)
	if result.VarianceBefore > 0 && result.VarianceAfter < 1e-12*result.VarianceBefore {
		result.Warnings.Add(experiment.WarningNearZeroVariance,
			fmt.Sprintf("adjusted variance %.3g is negligible, covariate nearly determines the metric", result.VarianceAfter))
	}

	logger.Debug("cuped theta=%.6g scope=%s variance ratio=%.4f", theta, scope, result.VarianceRatio)
	return result, nil
}
