package variance

import (
	"math"

	"abkit/domain/core"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"
)

// OutlierMode selects what happens to values outside the allowed bounds
type OutlierMode string

const (
	OutliersDrop OutlierMode = "drop"
	OutliersClip OutlierMode = "clip"
)

// ParseOutlierMode parses "drop" or "clip"
func ParseOutlierMode(s string) (OutlierMode, error) {
	switch OutlierMode(s) {
	case OutliersDrop, OutliersClip:
		return OutlierMode(s), nil
	}
	return "", apperrors.InvalidInput(core.ErrUnknownVariant, "outlier mode %q", s)
}

// OutlierResult is the processed column. Kept maps each output position back to its
// input index so callers can drop the same units from aligned columns.
type OutlierResult struct {
	Values  []float64 `json:"-"`
	Kept    []int     `json:"-"`
	Lower   float64   `json:"lower"`
	Upper   float64   `json:"upper"`
	Removed int       `json:"removed"`
	Clipped int       `json:"clipped"`
}

// ProcessOutliers bounds values to [lower, upper]. Drop removes values outside the
// bounds; clip replaces them with the nearest bound. The input is never modified.
func ProcessOutliers(values []float64, mode OutlierMode, lower, upper float64) (OutlierResult, error) {
	if mode != OutliersDrop && mode != OutliersClip {
		return OutlierResult{}, apperrors.InvalidInput(core.ErrUnknownVariant, "outlier mode %q", mode)
	}
	if math.IsNaN(lower) || math.IsNaN(upper) || lower > upper {
		return OutlierResult{}, apperrors.InvalidInput(core.NewValidationError("bounds", "need lower <= upper"), "outliers [%v, %v]", lower, upper)
	}
	if err := checkFinite("metric", values); err != nil {
		return OutlierResult{}, err
	}

	res := OutlierResult{
		Lower:  lower,
		Upper:  upper,
		Values: make([]float64, 0, len(values)),
		Kept:   make([]int, 0, len(values)),
	}
	for i, v := range values {
		switch {
		case v >= lower && v <= upper:
			res.Values = append(res.Values, v)
		case mode == OutliersDrop:
			res.Removed++
			continue
		case v < lower:
			res.Values = append(res.Values, lower)
			res.Clipped++
		default:
			res.Values = append(res.Values, upper)
			res.Clipped++
		}
		res.Kept = append(res.Kept, i)
	}
	if res.Removed+res.Clipped > 0 {
		logger.Debug("outliers: %d dropped, %d clipped outside [%g, %g]", res.Removed, res.Clipped, lower, upper)
	}
	return res, nil
}

// QuantileBounds returns the lowerQ and upperQ sample quantiles, a common way to pick
// outlier bounds from the data itself
func QuantileBounds(values []float64, lowerQ, upperQ float64) (lower, upper float64, err error) {
	if len(values) == 0 {
		return 0, 0, apperrors.InvalidInput(core.ErrInsufficientData, "quantile bounds of an empty metric")
	}
	if !(lowerQ >= 0 && lowerQ < upperQ && upperQ <= 1) {
		return 0, 0, apperrors.InvalidInput(core.NewValidationError("quantiles", "need 0 <= lower < upper <= 1"), "outlier quantiles")
	}
	sorted := analysis.Sorted(values)
	return analysis.QuantileSorted(sorted, lowerQ), analysis.QuantileSorted(sorted, upperQ), nil
}
