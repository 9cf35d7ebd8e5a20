package analysis

import (
	"math"
	"sort"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean, 0 for an empty slice
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// Variance returns the unbiased sample variance, 0 below two observations
func Variance(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}
	return stat.Variance(data, nil)
}

// PopulationVariance returns the variance with denominator n
func PopulationVariance(data []float64) float64 {
	v, err := stats.PopulationVariance(data)
	if err != nil {
		return 0
	}
	return v
}

// StdDev returns the sample standard deviation
func StdDev(data []float64) float64 {
	return math.Sqrt(Variance(data))
}

// Covariance returns the unbiased sample covariance of two equal-length slices
func Covariance(x, y []float64) float64 {
	if len(x) < 2 || len(x) != len(y) {
		return 0
	}
	return stat.Covariance(x, y, nil)
}

// Sum returns the sum of the slice
func Sum(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return floats.Sum(data)
}

// Median returns the median, 0 for an empty slice
func Median(data []float64) float64 {
	m, err := stats.Median(data)
	if err != nil {
		return 0
	}
	return m
}

// Sorted returns a sorted copy
func Sorted(data []float64) []float64 {
	out := make([]float64, len(data))
	copy(out, data)
	sort.Float64s(out)
	return out
}

// QuantileSorted returns the p-quantile of ascending data, interpolating linearly
// between order statistics at position (n-1)p
func QuantileSorted(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return math.NaN()
	}
	if p <= 0 {
		return sorted[0]
	}
	if p >= 1 {
		return sorted[n-1]
	}
	h := float64(n-1) * p
	lo := int(math.Floor(h))
	hi := lo + 1
	if hi >= n {
		return sorted[n-1]
	}
	frac := h - float64(lo)
	if frac == 0 {
		return sorted[lo]
	}
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// Quantile returns the p-quantile of unsorted data
func Quantile(data []float64, p float64) float64 {
	return QuantileSorted(Sorted(data), p)
}

// Summary holds descriptive statistics of a sample
type Summary struct {
	N        int     `json:"n"`
	Mean     float64 `json:"mean"`
	StdDev   float64 `json:"std_dev"`
	Variance float64 `json:"variance"`
	Min      float64 `json:"min"`
	Max      float64 `json:"max"`
	Median   float64 `json:"median"`
}

// Summarize computes descriptive statistics
func Summarize(data []float64) Summary {
	if len(data) == 0 {
		return Summary{}
	}
	minV, _ := stats.Min(data)
	maxV, _ := stats.Max(data)
	return Summary{
		N:        len(data),
		Mean:     Mean(data),
		StdDev:   StdDev(data),
		Variance: Variance(data),
		Min:      minV,
		Max:      maxV,
		Median:   Median(data),
	}
}
