package variance

import (
	"math"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"
)

var logger = internal.DefaultLogger.With("variance")

// checkFinite rejects NaN and infinite entries of a column
func checkFinite(column string, values []float64) error {
	for i, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return apperrors.InvalidInput(core.ErrMissingValue, "%s[%d] is %v", column, i, v)
		}
	}
	return nil
}

// referenceIndices returns the units used to estimate a coefficient. Full scope uses
// every unit; control scope needs aligned group labels.
func referenceIndices(n int, groups []experiment.Group, scope experiment.ThetaScope) ([]int, error) {
	if scope == experiment.ScopeFull {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	if len(groups) != n {
		return nil, apperrors.InvalidInput(core.NewLengthError("group", len(groups), n), "control-scope coefficient needs group labels")
	}
	idx := make([]int, 0, n/2)
	for i, g := range groups {
		if g == experiment.GroupControl {
			idx = append(idx, i)
		}
	}
	return idx, nil
}

func gather(values []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = values[i]
	}
	return out
}

// fillVarianceSummary records variance before and after a transform
func fillVarianceSummary(r *experiment.ReductionResult, before []float64) {
	r.VarianceBefore = analysis.Variance(before)
	r.VarianceAfter = analysis.Variance(r.Values)
	r.VarianceRatio = 1
	if r.VarianceBefore > 0 {
		r.VarianceRatio = r.VarianceAfter / r.VarianceBefore
	}
}
