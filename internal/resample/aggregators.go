package resample

import (
	"strings"

	"abkit/domain/core"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"
)

// Aggregator reduces a resampled vector to the statistic of interest
type Aggregator struct {
	Name string
	Fn   func([]float64) float64
}

var (
	Mean       = Aggregator{Name: "mean", Fn: analysis.Mean}
	Median     = Aggregator{Name: "median", Fn: analysis.Median}
	Sum        = Aggregator{Name: "sum", Fn: analysis.Sum}
	Quantile95 = Aggregator{Name: "quantile95", Fn: func(v []float64) float64 { return analysis.Quantile(v, 0.95) }}
)

// Custom wraps a caller-supplied statistic. fn must be a pure function of its input.
func Custom(name string, fn func([]float64) float64) Aggregator {
	return Aggregator{Name: name, Fn: fn}
}

// ParseAggregator resolves a built-in aggregator by name
func ParseAggregator(name string) (Aggregator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "mean":
		return Mean, nil
	case "median":
		return Median, nil
	case "sum":
		return Sum, nil
	case "quantile95", "quantile 95", "p95":
		return Quantile95, nil
	}
	return Aggregator{}, apperrors.InvalidInput(core.ErrUnknownVariant, "aggregator %q", name)
}
