package hypothesis

import (
	"context"
	"math"

	"abkit/domain/core"
	"abkit/domain/experiment"
	apperrors "abkit/internal/errors"
)

// ProportionTest compares conversion rates of 0/1 metrics with a two-proportion z-test.
// The two-sided p-value is read from the equivalent 1-df chi-square statistic.
type ProportionTest struct{}

// NewProportionTest creates a two-proportion z-test
func NewProportionTest() *ProportionTest {
	return &ProportionTest{}
}

func (p *ProportionTest) Kind() experiment.TestKind { return experiment.TestProportion }

func (p *ProportionTest) Description() string {
	return "Two-proportion z-test (chi-square on the 2x2 table) for binary metrics"
}

func successes(name string, values []float64) (float64, error) {
	count := 0.0
	for i, v := range values {
		switch v {
		case 0:
		case 1:
			count++
		default:
			return 0, apperrors.InvalidInput(core.ErrNotBinary, "%s[%d] = %v", name, i, v)
		}
	}
	return count, nil
}

// Run uses the pooled rate for the statistic and unpooled rates for the interval
func (p *ProportionTest) Run(_ context.Context, cfg Config, control, treatment []float64) (experiment.TestResult, error) {
	xC, err := successes("control", control)
	if err != nil {
		return experiment.TestResult{}, err
	}
	xT, err := successes("treatment", treatment)
	if err != nil {
		return experiment.TestResult{}, err
	}

	nC, nT := float64(len(control)), float64(len(treatment))
	rateC, rateT := xC/nC, xT/nT
	effect := rateT - rateC
	res := experiment.TestResult{
		Effect:         effect,
		RelativeEffect: relativeEffect(effect, rateC),
	}

	pooled := (xC + xT) / (nC + nT)
	sePooled := math.Sqrt(pooled * (1 - pooled) * (1/nC + 1/nT))
	seUnpooled := math.Sqrt(rateC*(1-rateC)/nC + rateT*(1-rateT)/nT)
	zCrit := dist.CriticalZ(cfg.Alpha, experiment.TwoSided)

	if sePooled == 0 {
		// every unit converted, or none did
		res.PValue = 1
		res.Interval = &experiment.IntervalResult{Method: experiment.IntervalNormal, Alpha: cfg.Alpha, PValue: 1}
		res.Warnings.Add(experiment.WarningZeroVariance, "both arms have the same constant outcome")
		return res, nil
	}

	z := effect / sePooled
	res.Statistic = z
	res.ChiSquare = z * z
	res.DegreesFreedom = 1
	twoSided := dist.ChiSquarePValue(res.ChiSquare, 1)
	if cfg.sides() == experiment.TwoSided {
		res.PValue = twoSided
	} else {
		res.PValue = dist.ZPValue(z, cfg.sides())
	}

	res.Interval = &experiment.IntervalResult{
		Lower:    effect - zCrit*seUnpooled,
		Upper:    effect + zCrit*seUnpooled,
		Estimate: effect,
		Method:   experiment.IntervalNormal,
		Alpha:    cfg.Alpha,
		StdErr:   seUnpooled,
		PValue:   twoSided,
	}
	if minCount := math.Min(math.Min(xC, nC-xC), math.Min(xT, nT-xT)); minCount < 5 {
		res.Warnings.Add(experiment.WarningSmallSample, "fewer than 5 successes or failures in an arm, the normal approximation is rough")
	}
	return res, nil
}
