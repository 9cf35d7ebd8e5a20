package experiment

import (
	"math"

	"abkit/domain/core"
)

// ============================================================================
// DESIGN PARAMETERS
// ============================================================================

// DesignParams describes an experiment to be sized. Exactly one of MDE and
// SampleSize is the unknown; the other must be set.
type DesignParams struct {
	Alpha float64 `json:"alpha" yaml:"alpha"`
	Power float64 `json:"power" yaml:"power"`

	BaselineMean     float64 `json:"baseline_mean" yaml:"baseline_mean"`
	BaselineVariance float64 `json:"baseline_variance" yaml:"baseline_variance"`
	// BaselineRate is used instead of mean/variance for proportion metrics
	BaselineRate float64 `json:"baseline_rate,omitempty" yaml:"baseline_rate"`

	MDE         float64 `json:"mde,omitempty" yaml:"mde"`
	RelativeMDE bool    `json:"relative_mde" yaml:"relative_mde"`
	SampleSize  int     `json:"sample_size,omitempty" yaml:"sample_size"` // control units

	// Ratio is treatment size / control size; zero means 1:1
	Ratio     float64   `json:"ratio" yaml:"ratio"`
	Sidedness Sidedness `json:"sidedness" yaml:"sidedness"`
}

// GroupRatio returns the effective treatment/control ratio
func (p DesignParams) GroupRatio() float64 {
	if p.Ratio == 0 {
		return 1
	}
	return p.Ratio
}

// Sides returns the sidedness with the two-sided default applied
func (p DesignParams) Sides() Sidedness {
	if p.Sidedness == "" {
		return TwoSided
	}
	return p.Sidedness
}

// AbsoluteMDE converts a relative MDE into the metric's units
func (p DesignParams) AbsoluteMDE() float64 {
	if p.RelativeMDE {
		return p.MDE * math.Abs(p.BaselineMean)
	}
	return p.MDE
}

// ValidateCommon checks alpha, power, ratio and sidedness
func (p DesignParams) ValidateCommon() error {
	if !(p.Alpha > 0 && p.Alpha < 1) {
		return core.ErrInvalidAlpha
	}
	if !(p.Power > 0 && p.Power < 1) {
		return core.ErrInvalidPower
	}
	if p.Ratio < 0 || math.IsNaN(p.Ratio) || math.IsInf(p.Ratio, 0) {
		return core.NewValidationError("ratio", "group ratio must be positive")
	}
	if !p.Sides().Valid() {
		return core.NewValidationError("sidedness", string(p.Sidedness))
	}
	return nil
}

// ============================================================================
// WARNINGS
// ============================================================================

// WarningCode represents structured warning types
type WarningCode string

const (
	WarningZeroCovariateVariance WarningCode = "ZERO_COVARIATE_VARIANCE" // CUPED covariate is constant
	WarningZeroVariance          WarningCode = "ZERO_VARIANCE"           // both arms constant
	WarningZeroResampleVariance  WarningCode = "ZERO_RESAMPLE_VARIANCE"  // bootstrap distribution has no spread
	WarningWideInterval          WarningCode = "WIDE_INTERVAL"           // interval width dwarfs the estimate
	WarningSingletonStratum      WarningCode = "SINGLETON_STRATUM"       // stratum with one unit, variance unknown
	WarningUncoveredStratum      WarningCode = "UNCOVERED_STRATUM"       // population stratum absent from sample
	WarningUndersizedSimulation  WarningCode = "UNDERSIZED_SIMULATION"   // Monte Carlo error too large to judge the rate
	WarningFailedIterations      WarningCode = "FAILED_ITERATIONS"       // some iterations errored and were excluded
	WarningSmallSample           WarningCode = "SMALL_SAMPLE"            // normal approximation questionable
	WarningNearZeroVariance      WarningCode = "NEAR_ZERO_VARIANCE"      // variance tiny relative to the mean
)

// Warning is a non-fatal note attached to a result
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

// Warnings is an ordered list of warnings
type Warnings []Warning

// Add appends a warning
func (w *Warnings) Add(code WarningCode, message string) {
	*w = append(*w, Warning{Code: code, Message: message})
}

// Has reports whether a warning with the given code is present
func (w Warnings) Has(code WarningCode) bool {
	for _, x := range w {
		if x.Code == code {
			return true
		}
	}
	return false
}

// ============================================================================
// RESULT RECORDS
// ============================================================================

// DesignResult is the output of the sampling estimator
type DesignResult struct {
	ControlSize   int     `json:"control_size"`
	TreatmentSize int     `json:"treatment_size"`
	TotalSize     int     `json:"total_size"`
	MDE           float64 `json:"mde"`            // absolute effect in metric units
	RelativeMDE   float64 `json:"relative_mde"`   // MDE / |baseline mean|, 0 when undefined
	Power         float64 `json:"power"`          // power achieved at the reported sizes
	CriticalValue float64 `json:"critical_value"` // z for the chosen alpha and sidedness
	// RequiredControlSize is the unrounded solution of the power equation
	RequiredControlSize float64 `json:"required_control_size,omitempty"`

	Degenerate       bool     `json:"degenerate"`
	DegenerateReason string   `json:"degenerate_reason,omitempty"`
	Warnings         Warnings `json:"warnings,omitempty"`
}

// IntervalResult is a bootstrap confidence interval
type IntervalResult struct {
	Lower      float64        `json:"lower"`
	Upper      float64        `json:"upper"`
	Estimate   float64        `json:"estimate"`
	Method     IntervalMethod `json:"method"`
	Alpha      float64        `json:"alpha"`
	Iterations int            `json:"iterations"`
	StdErr     float64        `json:"std_err"`
	// PValue is the two-sided bootstrap p-value for "statistic == 0"
	PValue       float64   `json:"p_value"`
	Seed         uint64    `json:"seed"`
	Distribution []float64 `json:"-"`

	Warnings Warnings `json:"warnings,omitempty"`
}

// Contains reports whether x lies inside the interval
func (r IntervalResult) Contains(x float64) bool {
	return x >= r.Lower && x <= r.Upper
}

// TestResult is the output of a hypothesis test
type TestResult struct {
	Test      TestKind  `json:"test"`
	Sidedness Sidedness `json:"sidedness"`
	Alpha     float64   `json:"alpha"`
	Statistic float64   `json:"statistic"`
	PValue    float64   `json:"p_value"`
	Reject    bool      `json:"reject"`
	// Effect is treatment minus control on the test's own scale
	Effect         float64         `json:"effect"`
	RelativeEffect float64         `json:"relative_effect"`
	Interval       *IntervalResult `json:"interval,omitempty"`
	ControlSize    int             `json:"control_size"`
	TreatmentSize  int             `json:"treatment_size"`
	DegreesFreedom float64         `json:"degrees_freedom,omitempty"`
	ChiSquare      float64         `json:"chi_square,omitempty"`

	Degenerate       bool     `json:"degenerate"`
	DegenerateReason string   `json:"degenerate_reason,omitempty"`
	Warnings         Warnings `json:"warnings,omitempty"`
}

// UniformityCheck is a Kolmogorov-Smirnov comparison of p-values against U(0,1)
type UniformityCheck struct {
	Statistic float64 `json:"statistic"`
	PValue    float64 `json:"p_value"`
	Uniform   bool    `json:"uniform"`
}

// SimulationReport is the empirical rejection rate of a repeated split experiment
type SimulationReport struct {
	RunID      core.RunID     `json:"run_id"`
	Mode       SimulationMode `json:"mode"`
	Test       TestKind       `json:"test"`
	Alpha      float64        `json:"alpha"`
	Iterations int            `json:"iterations"`
	Completed  int            `json:"completed"`
	Failed     int            `json:"failed"`
	Rejections int            `json:"rejections"`
	// Rate is the false-positive rate in A/A mode and the empirical power in A/B mode
	Rate            float64          `json:"rate"`
	MCStdErr        float64          `json:"mc_std_err"`
	Target          float64          `json:"target"`
	WithinTolerance bool             `json:"within_tolerance"`
	Uniformity      *UniformityCheck `json:"uniformity,omitempty"`
	Seed            uint64           `json:"seed"`
	PValues         []float64        `json:"-"`

	Warnings Warnings `json:"warnings,omitempty"`
}

// ErrorEstimate combines an A/A and an A/B simulation of the same design
type ErrorEstimate struct {
	AA              SimulationReport `json:"aa"`
	AB              SimulationReport `json:"ab"`
	TypeIError      float64          `json:"type_i_error"`
	TypeIIError     float64          `json:"type_ii_error"`
	DesignIsCorrect bool             `json:"design_is_correct"`
}

// ReductionResult is a variance-reduced metric column, same length and order as the input
type ReductionResult struct {
	Kind   ReductionKind `json:"kind"`
	Values []float64     `json:"-"`
	// Coefficient is theta for CUPED and kappa for linearization
	Coefficient    float64             `json:"coefficient"`
	Scope          ThetaScope          `json:"scope,omitempty"`
	VarianceBefore float64             `json:"variance_before"`
	VarianceAfter  float64             `json:"variance_after"`
	VarianceRatio  float64             `json:"variance_ratio"` // after / before, 1 when unknown
	Stratified     *StratifiedEstimate `json:"stratified,omitempty"`

	Degenerate       bool     `json:"degenerate"`
	DegenerateReason string   `json:"degenerate_reason,omitempty"`
	Warnings         Warnings `json:"warnings,omitempty"`
}

// StratumSummary describes one stratum inside a post-stratified estimate
type StratumSummary struct {
	Label            string  `json:"label"`
	PopulationWeight float64 `json:"population_weight"`
	SampleWeight     float64 `json:"sample_weight"`
	Count            int     `json:"count"`
	Mean             float64 `json:"mean"`
	Variance         float64 `json:"variance"`
}

// StratifiedEstimate is a post-stratified mean and the variance of that mean
type StratifiedEstimate struct {
	Mean            float64          `json:"mean"`
	Variance        float64          `json:"variance"` // variance of the estimator
	NaiveMean       float64          `json:"naive_mean"`
	NaiveVariance   float64          `json:"naive_variance"` // variance of the plain sample mean
	UncoveredWeight float64          `json:"uncovered_weight"`
	Strata          []StratumSummary `json:"strata"`

	Degenerate       bool     `json:"degenerate"`
	DegenerateReason string   `json:"degenerate_reason,omitempty"`
	Warnings         Warnings `json:"warnings,omitempty"`
}
