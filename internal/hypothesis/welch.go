package hypothesis

import (
	"context"
	"math"

	"abkit/domain/experiment"
	"abkit/internal/analysis"
)

// WelchTest compares means without assuming equal variances
type WelchTest struct{}

// NewWelchTest creates a Welch t-test
func NewWelchTest() *WelchTest {
	return &WelchTest{}
}

func (w *WelchTest) Kind() experiment.TestKind { return experiment.TestWelch }

func (w *WelchTest) Description() string {
	return "Welch's t-test for a difference in means with unequal variances"
}

// Run computes t = (mean_T - mean_C)/se with Welch-Satterthwaite degrees of freedom
func (w *WelchTest) Run(_ context.Context, cfg Config, control, treatment []float64) (experiment.TestResult, error) {
	nC, nT := float64(len(control)), float64(len(treatment))
	meanC, meanT := analysis.Mean(control), analysis.Mean(treatment)
	varC, varT := analysis.Variance(control), analysis.Variance(treatment)

	effect := meanT - meanC
	res := experiment.TestResult{
		Effect:         effect,
		RelativeEffect: relativeEffect(effect, meanC),
	}

	a, b := varC/nC, varT/nT
	se := math.Sqrt(a + b)
	if se == 0 {
		res.PValue = constantArmsPValue(effect, cfg.sides())
		res.Interval = &experiment.IntervalResult{
			Lower: effect, Upper: effect, Estimate: effect,
			Method: experiment.IntervalNormal, Alpha: cfg.Alpha,
		}
		res.Warnings.Add(experiment.WarningZeroVariance, "both arms are constant")
		return res, nil
	}

	df := (a + b) * (a + b) / (a*a/(nC-1) + b*b/(nT-1))
	t := effect / se
	res.Statistic = t
	res.DegreesFreedom = df
	res.PValue = dist.TTestPValue(t, df, cfg.sides())

	half := dist.TQuantile(1-cfg.Alpha/2, df) * se
	res.Interval = &experiment.IntervalResult{
		Lower:    effect - half,
		Upper:    effect + half,
		Estimate: effect,
		Method:   experiment.IntervalNormal,
		Alpha:    cfg.Alpha,
		StdErr:   se,
		PValue:   dist.TTestPValue(t, df, experiment.TwoSided),
	}

	if mean := math.Abs(meanC) + math.Abs(meanT); mean > 0 && se < 1e-12*mean {
		res.Warnings.Add(experiment.WarningNearZeroVariance, "standard error is negligible relative to the means")
	}
	return res, nil
}
