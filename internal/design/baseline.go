package design

import (
	"math"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"

	"github.com/montanaflynn/stats"
)

// Baseline summarizes a historical metric column for sizing
type Baseline struct {
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"` // population variance of the observations
	// UnitRatio is distinct units per observation; 1 when every unit has one row
	UnitRatio    float64 `json:"unit_ratio"`
	Observations int     `json:"observations"`
	Units        int     `json:"units"`
}

// FromMetric derives a baseline from historical observations. unitIDs may be nil when
// each observation is its own unit; otherwise it must align with values.
func FromMetric(values []float64, unitIDs []core.UnitID) (Baseline, error) {
	if len(values) < 2 {
		return Baseline{}, apperrors.InvalidInput(core.ErrInsufficientData, "baseline needs at least two observations, got %d", len(values))
	}
	if unitIDs != nil && len(unitIDs) != len(values) {
		return Baseline{}, apperrors.InvalidInput(core.NewLengthError("unit_id", len(unitIDs), len(values)), "baseline")
	}
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return Baseline{}, apperrors.InvalidInput(core.ErrMissingValue, "baseline metric")
		}
	}

	mean, err := stats.Mean(values)
	if err != nil {
		return Baseline{}, apperrors.Wrap(err, "baseline mean")
	}
	variance := analysis.PopulationVariance(values)

	units := len(values)
	if unitIDs != nil {
		seen := make(map[core.UnitID]struct{}, len(unitIDs))
		for _, id := range unitIDs {
			seen[id] = struct{}{}
		}
		units = len(seen)
	}

	return Baseline{
		Mean:         mean,
		Variance:     variance,
		UnitRatio:    float64(units) / float64(len(values)),
		Observations: len(values),
		Units:        units,
	}, nil
}

// Apply copies the baseline moments into design parameters
func (b Baseline) Apply(p experiment.DesignParams) experiment.DesignParams {
	p.BaselineMean = b.Mean
	p.BaselineVariance = b.Variance
	return p
}

// SampleSizeFromMetric sizes an experiment from historical observations. The power
// equation yields observations per arm; metrics with several observations per unit
// are converted to units through the unit ratio.
func (e *Estimator) SampleSizeFromMetric(values []float64, unitIDs []core.UnitID, p experiment.DesignParams) (experiment.DesignResult, error) {
	b, err := FromMetric(values, unitIDs)
	if err != nil {
		return experiment.DesignResult{}, err
	}
	p = b.Apply(p)
	if err := validateMeanDesign(p); err != nil {
		return experiment.DesignResult{}, err
	}

	zA, _ := e.zScores(p)
	result := experiment.DesignResult{CriticalValue: zA}
	delta := p.AbsoluteMDE()
	if !(delta > 0) || math.IsInf(delta, 0) {
		result.Degenerate = true
		result.DegenerateReason = "no sample size detects a non-positive effect"
		return result, nil
	}

	exact := b.UnitRatio * e.RequiredControlSize(p, delta)
	e.fillSizes(&result, p, exact, delta)
	if !result.Degenerate {
		result.Power = e.Power(p, float64(result.ControlSize)/b.UnitRatio)
	}
	e.logger.Debug("baseline mean=%.6g var=%.6g unit ratio=%.4f", b.Mean, b.Variance, b.UnitRatio)
	return result, nil
}
