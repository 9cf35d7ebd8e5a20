package analysis

import (
	"math"
	"testing"

	"abkit/domain/experiment"

	"github.com/stretchr/testify/assert"
)

func TestCriticalZ(t *testing.T) {
	sd := NewDistributions()
	assert.InDelta(t, 1.959964, sd.CriticalZ(0.05, experiment.TwoSided), 1e-6)
	assert.InDelta(t, 1.644854, sd.CriticalZ(0.05, experiment.Greater), 1e-6)
	assert.Equal(t, sd.CriticalZ(0.05, ""), sd.CriticalZ(0.05, experiment.TwoSided))
}

func TestZPValueSides(t *testing.T) {
	sd := NewDistributions()
	assert.InDelta(t, 0.05, sd.ZPValue(1.959964, experiment.TwoSided), 1e-6)
	assert.InDelta(t, 0.025, sd.ZPValue(1.959964, experiment.Greater), 1e-6)
	assert.InDelta(t, 0.975, sd.ZPValue(1.959964, experiment.Less), 1e-6)
	assert.Equal(t, 1.0, sd.ZPValue(math.NaN(), experiment.TwoSided))
}

func TestTTestPValue(t *testing.T) {
	sd := NewDistributions()
	// t = 2.228 is the 97.5% point of t(10)
	assert.InDelta(t, 0.05, sd.TTestPValue(2.228139, 10, experiment.TwoSided), 1e-5)
	assert.Equal(t, 1.0, sd.TTestPValue(3, 0, experiment.TwoSided))
	// large df converges to the normal
	assert.InDelta(t, sd.ZPValue(1.5, experiment.TwoSided), sd.TTestPValue(1.5, 1e6, experiment.TwoSided), 1e-5)
}

func TestChiSquarePValue(t *testing.T) {
	sd := NewDistributions()
	assert.InDelta(t, 0.05, sd.ChiSquarePValue(3.841459, 1), 1e-6)
	assert.Equal(t, 1.0, sd.ChiSquarePValue(3, 0))
}

func TestKolmogorovPValue(t *testing.T) {
	sd := NewDistributions()
	// critical value of the asymptotic distribution at 5% is about 1.358/sqrt(n)
	n := 10000
	p := sd.KolmogorovPValue(1.358/math.Sqrt(float64(n)), n)
	assert.InDelta(t, 0.05, p, 0.005)
	assert.Equal(t, 1.0, sd.KolmogorovPValue(0, n))
	assert.Less(t, sd.KolmogorovPValue(0.5, n), 1e-6)
}

func TestQuantileSortedLinear(t *testing.T) {
	data := []float64{1, 2, 3, 4}
	assert.Equal(t, 1.0, QuantileSorted(data, 0))
	assert.Equal(t, 4.0, QuantileSorted(data, 1))
	assert.InDelta(t, 2.5, QuantileSorted(data, 0.5), 1e-12)
	assert.InDelta(t, 1.3, QuantileSorted(data, 0.1), 1e-12)
	assert.True(t, math.IsNaN(QuantileSorted(nil, 0.5)))
}

func TestDescriptive(t *testing.T) {
	data := []float64{2, 4, 4, 4, 5, 5, 7, 9}
	assert.InDelta(t, 5.0, Mean(data), 1e-12)
	assert.InDelta(t, 4.0, PopulationVariance(data), 1e-12)
	assert.InDelta(t, 32.0/7.0, Variance(data), 1e-12)
	assert.InDelta(t, 4.5, Median(data), 1e-12)
	assert.InDelta(t, 40.0, Sum(data), 1e-12)
	assert.Equal(t, 0.0, Variance([]float64{1}))
	assert.InDelta(t, Variance(data), Covariance(data, data), 1e-12)

	s := Summarize(data)
	assert.Equal(t, 8, s.N)
	assert.Equal(t, 2.0, s.Min)
	assert.Equal(t, 9.0, s.Max)
	assert.Equal(t, Summary{}, Summarize(nil))
}
