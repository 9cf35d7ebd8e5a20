package analysis

import (
	"math"

	"abkit/domain/experiment"

	"gonum.org/v1/gonum/stat/distuv"
)

// StatisticalDistributions provides unified access to the reference distributions
// used by sizing, testing and interval construction
type StatisticalDistributions struct{}

// NewDistributions creates a new distributions utility
func NewDistributions() *StatisticalDistributions {
	return &StatisticalDistributions{}
}

// NormalCDF computes cumulative distribution function for standard normal
func (sd *StatisticalDistributions) NormalCDF(x float64) float64 {
	return distuv.UnitNormal.CDF(x)
}

// NormalQuantile computes quantile function for standard normal (inverse CDF)
func (sd *StatisticalDistributions) NormalQuantile(p float64) float64 {
	return distuv.UnitNormal.Quantile(p)
}

// CriticalZ returns the z threshold for alpha; two-sided tests split alpha over both tails
func (sd *StatisticalDistributions) CriticalZ(alpha float64, sides experiment.Sidedness) float64 {
	if sides == experiment.TwoSided || sides == "" {
		return sd.NormalQuantile(1 - alpha/2)
	}
	return sd.NormalQuantile(1 - alpha)
}

// ZPValue converts a z statistic (treatment minus control direction) into a p-value
func (sd *StatisticalDistributions) ZPValue(z float64, sides experiment.Sidedness) float64 {
	if math.IsNaN(z) {
		return 1.0
	}
	switch sides {
	case experiment.Greater:
		return distuv.UnitNormal.Survival(z)
	case experiment.Less:
		return distuv.UnitNormal.CDF(z)
	default:
		return clampProbability(2 * distuv.UnitNormal.Survival(math.Abs(z)))
	}
}

// TTestPValue computes the p-value for a t statistic with (possibly fractional) degrees of freedom
func (sd *StatisticalDistributions) TTestPValue(tStatistic, degreesOfFreedom float64, sides experiment.Sidedness) float64 {
	if degreesOfFreedom <= 0 || math.IsNaN(tStatistic) || math.IsNaN(degreesOfFreedom) {
		return 1.0
	}
	tDist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: degreesOfFreedom}
	switch sides {
	case experiment.Greater:
		return tDist.Survival(tStatistic)
	case experiment.Less:
		return tDist.CDF(tStatistic)
	default:
		return clampProbability(2 * tDist.Survival(math.Abs(tStatistic)))
	}
}

// TQuantile returns the p-quantile of Student's t
func (sd *StatisticalDistributions) TQuantile(p, degreesOfFreedom float64) float64 {
	return distuv.StudentsT{Mu: 0, Sigma: 1, Nu: degreesOfFreedom}.Quantile(p)
}

// ChiSquarePValue computes p-value for chi-square distribution
func (sd *StatisticalDistributions) ChiSquarePValue(chiSquare float64, degreesOfFreedom int) float64 {
	if degreesOfFreedom <= 0 {
		return 1.0
	}
	chiDist := distuv.ChiSquared{K: float64(degreesOfFreedom)}
	return chiDist.Survival(chiSquare)
}

// KolmogorovPValue is the asymptotic p-value of the one-sample Kolmogorov-Smirnov
// statistic d for a sample of size n (Marsaglia-style series with Stephens' correction)
func (sd *StatisticalDistributions) KolmogorovPValue(d float64, n int) float64 {
	if n <= 0 || d <= 0 {
		return 1.0
	}
	sqrtN := math.Sqrt(float64(n))
	lambda := (sqrtN + 0.12 + 0.11/sqrtN) * d
	if lambda < 0.2 {
		return 1.0
	}
	sum := 0.0
	for k := 1; k <= 100; k++ {
		term := math.Exp(-2 * float64(k*k) * lambda * lambda)
		if k%2 == 1 {
			sum += term
		} else {
			sum -= term
		}
		if term < 1e-12 {
			break
		}
	}
	return clampProbability(2 * sum)
}

func clampProbability(p float64) float64 {
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}
