package hypothesis

import (
	"context"
	"errors"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"

	"github.com/aclements/go-moremath/stats"
)

// MannWhitneyTest is the rank-sum test for a location shift
type MannWhitneyTest struct{}

// NewMannWhitneyTest creates a Mann-Whitney U test
func NewMannWhitneyTest() *MannWhitneyTest {
	return &MannWhitneyTest{}
}

func (m *MannWhitneyTest) Kind() experiment.TestKind { return experiment.TestMannWhitney }

func (m *MannWhitneyTest) Description() string {
	return "Mann-Whitney U test for a shift in location, robust to heavy tails"
}

func locationHypothesis(s experiment.Sidedness) stats.LocationHypothesis {
	switch s {
	case experiment.Greater:
		return stats.LocationGreater
	case experiment.Less:
		return stats.LocationLess
	default:
		return stats.LocationDiffers
	}
}

// Run tests treatment against control; the reported effect is the difference of medians
func (m *MannWhitneyTest) Run(_ context.Context, cfg Config, control, treatment []float64) (experiment.TestResult, error) {
	medC := analysis.Median(control)
	effect := analysis.Median(treatment) - medC
	res := experiment.TestResult{
		Effect:         effect,
		RelativeEffect: relativeEffect(effect, medC),
	}

	u, err := stats.MannWhitneyUTest(treatment, control, locationHypothesis(cfg.sides()))
	switch {
	case errors.Is(err, stats.ErrSamplesEqual):
		res.PValue = 1
		res.Degenerate = true
		res.DegenerateReason = "all observations are equal, ranks carry no information"
		res.Warnings.Add(experiment.WarningZeroVariance, res.DegenerateReason)
		return res, nil
	case errors.Is(err, stats.ErrSampleSize):
		return experiment.TestResult{}, apperrors.InvalidInput(core.ErrInsufficientData, "mann-whitney sample size")
	case err != nil:
		return experiment.TestResult{}, apperrors.Wrap(err, "mann-whitney")
	}

	res.Statistic = u.U
	res.PValue = u.P
	return res, nil
}
