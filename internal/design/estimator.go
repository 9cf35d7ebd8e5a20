package design

import (
	"fmt"
	"math"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"
)

// maxGroupSize bounds the per-arm sizes reported as integers
const maxGroupSize = math.MaxInt32

// Estimator solves the two-sample power equation (normal approximation) for either
// the per-arm sample size or the minimal detectable effect
type Estimator struct {
	dist   *analysis.StatisticalDistributions
	logger *internal.Logger
}

// NewEstimator creates an estimator
func NewEstimator() *Estimator {
	return &Estimator{
		dist:   analysis.NewDistributions(),
		logger: internal.DefaultLogger.With("design"),
	}
}

// zScores returns the critical value for alpha and the quantile for power
func (e *Estimator) zScores(p experiment.DesignParams) (zAlpha, zBeta float64) {
	return e.dist.CriticalZ(p.Alpha, p.Sides()), e.dist.NormalQuantile(p.Power)
}

// validateMeanDesign checks the inputs common to mean-metric sizing
func validateMeanDesign(p experiment.DesignParams) error {
	if err := p.ValidateCommon(); err != nil {
		return apperrors.InvalidInput(err, "invalid design parameters")
	}
	if !(p.BaselineVariance > 0) || math.IsInf(p.BaselineVariance, 0) {
		return apperrors.InvalidInput(core.ErrNonPositiveVar, "baseline variance %v", p.BaselineVariance)
	}
	if p.RelativeMDE && p.BaselineMean == 0 {
		return apperrors.InvalidInput(core.ErrZeroBaseline, "relative mde")
	}
	return nil
}

// varianceFactor is Var(mean_T - mean_C) * n_control
func varianceFactor(variance, ratio float64) float64 {
	return variance * (1 + 1/ratio)
}

// RequiredControlSize returns the unrounded control-arm size for an absolute effect delta
func (e *Estimator) RequiredControlSize(p experiment.DesignParams, delta float64) float64 {
	zA, zB := e.zScores(p)
	z := zA + zB
	return z * z * varianceFactor(p.BaselineVariance, p.GroupRatio()) / (delta * delta)
}

// Power returns the power achieved with nControl control units (and ratio*nControl
// treatment units) for the design's MDE
func (e *Estimator) Power(p experiment.DesignParams, nControl float64) float64 {
	delta := math.Abs(p.AbsoluteMDE())
	if nControl <= 0 || delta == 0 || p.BaselineVariance <= 0 {
		return 0
	}
	zA, _ := e.zScores(p)
	se := math.Sqrt(varianceFactor(p.BaselineVariance, p.GroupRatio()) / nControl)
	return e.dist.NormalCDF(delta/se - zA)
}

// SampleSize solves for the per-arm sample size given the MDE
func (e *Estimator) SampleSize(p experiment.DesignParams) (experiment.DesignResult, error) {
	if err := validateMeanDesign(p); err != nil {
		return experiment.DesignResult{}, err
	}
	if p.SampleSize != 0 {
		return experiment.DesignResult{}, apperrors.InvalidInput(core.ErrAmbiguousDesign, "sample size is the unknown")
	}

	zA, _ := e.zScores(p)
	result := experiment.DesignResult{CriticalValue: zA}

	delta := p.AbsoluteMDE()
	if !(delta > 0) || math.IsInf(delta, 0) {
		result.Degenerate = true
		result.DegenerateReason = fmt.Sprintf("no sample size detects a non-positive effect (mde=%v)", delta)
		e.logger.Warn("degenerate design: %s", result.DegenerateReason)
		return result, nil
	}

	exact := e.RequiredControlSize(p, delta)
	e.fillSizes(&result, p, exact, delta)
	if !result.Degenerate {
		result.Power = e.Power(p, float64(result.ControlSize))
	}
	return result, nil
}

// fillSizes rounds an exact control size up and derives the treatment and total sizes
func (e *Estimator) fillSizes(result *experiment.DesignResult, p experiment.DesignParams, exact, delta float64) {
	ratio := p.GroupRatio()
	nControl := math.Ceil(exact)
	nTreatment := math.Ceil(ratio * nControl)
	result.MDE = delta
	result.RequiredControlSize = exact
	if math.IsInf(exact, 0) || math.IsNaN(exact) || nTreatment > maxGroupSize || nControl > maxGroupSize {
		result.Degenerate = true
		result.DegenerateReason = fmt.Sprintf("required sample size %.3g exceeds the representable range", exact)
		e.logger.Warn("degenerate design: %s", result.DegenerateReason)
		return
	}

	result.ControlSize = int(nControl)
	result.TreatmentSize = int(nTreatment)
	result.TotalSize = result.ControlSize + result.TreatmentSize
	result.RelativeMDE = relativeTo(delta, p.BaselineMean)
	addSmallSampleWarning(result)

	e.logger.Debug("sample size: control=%d treatment=%d (exact %.3f) for mde=%.6g", result.ControlSize, result.TreatmentSize, exact, delta)
}

// MDE solves for the minimal detectable effect given the control-arm size
func (e *Estimator) MDE(p experiment.DesignParams) (experiment.DesignResult, error) {
	if err := validateMeanDesign(p); err != nil {
		return experiment.DesignResult{}, err
	}
	if p.MDE != 0 {
		return experiment.DesignResult{}, apperrors.InvalidInput(core.ErrAmbiguousDesign, "mde is the unknown")
	}

	zA, zB := e.zScores(p)
	result := experiment.DesignResult{CriticalValue: zA}
	if p.SampleSize <= 0 {
		result.Degenerate = true
		result.DegenerateReason = fmt.Sprintf("no effect is detectable with %d units", p.SampleSize)
		return result, nil
	}

	n := float64(p.SampleSize)
	ratio := p.GroupRatio()
	delta := (zA + zB) * math.Sqrt(varianceFactor(p.BaselineVariance, ratio)/n)

	result.ControlSize = p.SampleSize
	result.TreatmentSize = int(math.Ceil(ratio * n))
	result.TotalSize = result.ControlSize + result.TreatmentSize
	result.MDE = delta
	result.RelativeMDE = relativeTo(delta, p.BaselineMean)
	result.Power = p.Power
	if zA+zB <= 0 {
		// power below alpha: any positive effect qualifies, the bound is not meaningful
		result.Degenerate = true
		result.DegenerateReason = "power is not above the significance level"
	}
	addSmallSampleWarning(&result)
	return result, nil
}

func relativeTo(delta, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return delta / math.Abs(baseline)
}

func addSmallSampleWarning(r *experiment.DesignResult) {
	if r.ControlSize > 0 && r.ControlSize < 30 {
		r.Warnings.Add(experiment.WarningSmallSample, fmt.Sprintf("%d units per arm is small for the normal approximation", r.ControlSize))
	}
}
