package design

import (
	"fmt"
	"math"

	"abkit/domain/core"
	"abkit/domain/experiment"
	apperrors "abkit/internal/errors"
)

const (
	bisectionSteps = 200
	rateEpsilon    = 1e-12
)

func validateProportionDesign(p experiment.DesignParams) error {
	if err := p.ValidateCommon(); err != nil {
		return apperrors.InvalidInput(err, "invalid design parameters")
	}
	if !(p.BaselineRate > 0 && p.BaselineRate < 1) {
		return apperrors.InvalidInput(core.NewValidationError("baseline_rate", "must lie strictly between 0 and 1"), "proportion design")
	}
	return nil
}

// proportionDelta resolves the absolute rate difference (relative MDE scales the baseline rate)
func proportionDelta(p experiment.DesignParams) float64 {
	if p.RelativeMDE {
		return p.MDE * p.BaselineRate
	}
	return p.MDE
}

// proportionTerms returns the pooled (null) and unpooled (alternative) variance factors
// per control unit for rates p1 (control) and p2 (treatment)
func proportionTerms(p1, p2, ratio float64) (pooled, unpooled float64) {
	pBar := (p1 + ratio*p2) / (1 + ratio)
	pooled = pBar * (1 - pBar) * (1 + 1/ratio)
	unpooled = p1*(1-p1) + p2*(1-p2)/ratio
	return pooled, unpooled
}

func (e *Estimator) proportionExactSize(p experiment.DesignParams, delta float64) float64 {
	zA, zB := e.zScores(p)
	p1 := p.BaselineRate
	pooled, unpooled := proportionTerms(p1, p1+delta, p.GroupRatio())
	num := zA*math.Sqrt(pooled) + zB*math.Sqrt(unpooled)
	return num * num / (delta * delta)
}

// ProportionPower is the power of the two-proportion z-test with nControl control units
func (e *Estimator) ProportionPower(p experiment.DesignParams, nControl float64) float64 {
	delta := proportionDelta(p)
	p1 := p.BaselineRate
	p2 := p1 + delta
	if nControl <= 0 || delta == 0 || p2 <= 0 || p2 >= 1 {
		return 0
	}
	zA, _ := e.zScores(p)
	pooled, unpooled := proportionTerms(p1, p2, p.GroupRatio())
	z := (math.Abs(delta)*math.Sqrt(nControl) - zA*math.Sqrt(pooled)) / math.Sqrt(unpooled)
	return e.dist.NormalCDF(z)
}

// ProportionSampleSize sizes a conversion-rate experiment. The MDE is the increase in
// rate over BaselineRate (relative when RelativeMDE is set).
func (e *Estimator) ProportionSampleSize(p experiment.DesignParams) (experiment.DesignResult, error) {
	if err := validateProportionDesign(p); err != nil {
		return experiment.DesignResult{}, err
	}
	if p.SampleSize != 0 {
		return experiment.DesignResult{}, apperrors.InvalidInput(core.ErrAmbiguousDesign, "sample size is the unknown")
	}

	zA, _ := e.zScores(p)
	result := experiment.DesignResult{CriticalValue: zA}
	delta := proportionDelta(p)
	if !(delta > 0) {
		result.Degenerate = true
		result.DegenerateReason = fmt.Sprintf("no sample size detects a non-positive effect (mde=%v)", delta)
		return result, nil
	}
	if p.BaselineRate+delta >= 1 {
		result.Degenerate = true
		result.DegenerateReason = fmt.Sprintf("treatment rate %.4g is not a probability", p.BaselineRate+delta)
		return result, nil
	}

	exact := e.proportionExactSize(p, delta)
	e.fillSizes(&result, p, exact, delta)
	result.RelativeMDE = delta / p.BaselineRate
	if !result.Degenerate {
		result.Power = e.ProportionPower(p, float64(result.ControlSize))
	}
	return result, nil
}

// ProportionMDE finds the smallest rate increase reaching the target power for the
// given control size. There is no closed form since the variance depends on the effect,
// so the power curve is bisected.
func (e *Estimator) ProportionMDE(p experiment.DesignParams) (experiment.DesignResult, error) {
	if err := validateProportionDesign(p); err != nil {
		return experiment.DesignResult{}, err
	}
	if p.MDE != 0 {
		return experiment.DesignResult{}, apperrors.InvalidInput(core.ErrAmbiguousDesign, "mde is the unknown")
	}

	zA, _ := e.zScores(p)
	result := experiment.DesignResult{CriticalValue: zA}
	if p.SampleSize <= 0 {
		result.Degenerate = true
		result.DegenerateReason = fmt.Sprintf("no effect is detectable with %d units", p.SampleSize)
		return result, nil
	}
	n := float64(p.SampleSize)

	powerAt := func(delta float64) float64 {
		q := p
		q.MDE = delta
		q.RelativeMDE = false
		return e.ProportionPower(q, n)
	}

	lo, hi := 0.0, 1-p.BaselineRate-rateEpsilon
	if powerAt(hi) < p.Power {
		result.Degenerate = true
		result.DegenerateReason = fmt.Sprintf("target power %.3g unreachable with %d units per arm", p.Power, p.SampleSize)
		return result, nil
	}
	for i := 0; i < bisectionSteps && hi-lo > rateEpsilon; i++ {
		mid := (lo + hi) / 2
		if powerAt(mid) >= p.Power {
			hi = mid
		} else {
			lo = mid
		}
	}

	result.ControlSize = p.SampleSize
	result.TreatmentSize = int(math.Ceil(p.GroupRatio() * n))
	result.TotalSize = result.ControlSize + result.TreatmentSize
	result.MDE = hi
	result.RelativeMDE = hi / p.BaselineRate
	result.Power = powerAt(hi)
	addSmallSampleWarning(&result)
	return result, nil
}
