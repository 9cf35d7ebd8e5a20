package variance

import (
	"fmt"
	"math"
	"sort"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal/analysis"
	apperrors "abkit/internal/errors"
)

const (
	weightTolerance    = 1e-9
	uncoveredTolerance = 1e-6
)

// StratifiedDifference is the post-stratified treatment effect of one experiment
type StratifiedDifference struct {
	Control   experiment.StratifiedEstimate `json:"control"`
	Treatment experiment.StratifiedEstimate `json:"treatment"`
	Effect    float64                       `json:"effect"`
	Variance  float64                       `json:"variance"`
	StdErr    float64                       `json:"std_err"`
	Z         float64                       `json:"z"`
	PValue    float64                       `json:"p_value"`

	Degenerate       bool                `json:"degenerate"`
	DegenerateReason string              `json:"degenerate_reason,omitempty"`
	Warnings         experiment.Warnings `json:"warnings,omitempty"`
}

func validateWeights(weights map[string]float64) error {
	if len(weights) == 0 {
		return apperrors.InvalidInput(core.ErrMissingWeight, "no stratum weights supplied")
	}
	total := 0.0
	for label, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return apperrors.InvalidInput(core.NewValidationError("weight", label), "stratum weight %v", w)
		}
		total += w
	}
	if math.Abs(total-1) > weightTolerance {
		return apperrors.InvalidInput(core.ErrWeightSum, "weights sum to %.12g", total)
	}
	return nil
}

// SampleWeights derives stratum weights from the label frequencies of a reference population
func SampleWeights(strata []string) (map[string]float64, error) {
	if len(strata) == 0 {
		return nil, apperrors.InvalidInput(core.ErrInsufficientData, "no stratum labels")
	}
	counts := make(map[string]int)
	for i, s := range strata {
		if s == "" {
			return nil, apperrors.InvalidInput(core.ErrMissingValue, "stratum label %d is empty", i)
		}
		counts[s]++
	}
	out := make(map[string]float64, len(counts))
	for s, c := range counts {
		out[s] = float64(c) / float64(len(strata))
	}
	return out, nil
}

// PostStratify estimates the population mean as sum_h w_h*mean_h with estimator
// variance sum_h w_h^2*s_h^2/n_h. Population strata missing from the sample are
// reported as uncovered weight and the mean is renormalised over the covered strata.
func PostStratify(values []float64, strata []string, weights map[string]float64) (experiment.StratifiedEstimate, error) {
	if len(values) != len(strata) {
		return experiment.StratifiedEstimate{}, apperrors.InvalidInput(core.NewLengthError("stratum", len(strata), len(values)), "post-stratification")
	}
	if len(values) == 0 {
		return experiment.StratifiedEstimate{}, apperrors.InvalidInput(core.ErrInsufficientData, "post-stratification of an empty metric")
	}
	if err := checkFinite("metric", values); err != nil {
		return experiment.StratifiedEstimate{}, err
	}
	if err := validateWeights(weights); err != nil {
		return experiment.StratifiedEstimate{}, err
	}

	members := make(map[string][]float64)
	for i, s := range strata {
		if _, ok := weights[s]; !ok {
			return experiment.StratifiedEstimate{}, apperrors.InvalidInput(core.ErrMissingWeight, "stratum %q", s)
		}
		members[s] = append(members[s], values[i])
	}

	labels := make([]string, 0, len(weights))
	for s := range weights {
		labels = append(labels, s)
	}
	sort.Strings(labels)

	est := experiment.StratifiedEstimate{
		NaiveMean:     analysis.Mean(values),
		NaiveVariance: analysis.Variance(values) / float64(len(values)),
	}

	covered := 0.0
	for _, s := range labels {
		w := weights[s]
		ys := members[s]
		summary := experiment.StratumSummary{
			Label:            s,
			PopulationWeight: w,
			SampleWeight:     float64(len(ys)) / float64(len(values)),
			Count:            len(ys),
		}
		switch {
		case len(ys) == 0:
			if w > uncoveredTolerance {
				est.UncoveredWeight += w
				est.Warnings.Add(experiment.WarningUncoveredStratum, fmt.Sprintf("stratum %q (weight %.4g) has no sample units", s, w))
			}
		default:
			summary.Mean = analysis.Mean(ys)
			summary.Variance = analysis.Variance(ys)
			if len(ys) == 1 {
				est.Warnings.Add(experiment.WarningSingletonStratum, fmt.Sprintf("stratum %q has one unit, its variance is taken as zero", s))
			}
			covered += w
		}
		est.Strata = append(est.Strata, summary)
	}

	if covered <= 0 {
		est.Degenerate = true
		est.DegenerateReason = "sampled strata carry no population weight"
		logger.Warn("post-stratification degenerate: %s", est.DegenerateReason)
		return est, nil
	}

	for _, st := range est.Strata {
		if st.Count == 0 {
			continue
		}
		share := st.PopulationWeight / covered
		est.Mean += share * st.Mean
		est.Variance += share * share * st.Variance / float64(st.Count)
	}

	if est.UncoveredWeight > uncoveredTolerance {
		est.Degenerate = true
		est.DegenerateReason = fmt.Sprintf("%.4g of the population weight falls in strata absent from the sample", est.UncoveredWeight)
		logger.Warn("post-stratification degenerate: %s", est.DegenerateReason)
	}
	return est, nil
}

// PostStratifiedDifference estimates each arm with PostStratify under the same
// population weights and compares them with a normal approximation
func PostStratifiedDifference(values []float64, strata []string, groups []experiment.Group, weights map[string]float64) (StratifiedDifference, error) {
	if len(groups) != len(values) {
		return StratifiedDifference{}, apperrors.InvalidInput(core.NewLengthError("group", len(groups), len(values)), "post-stratified difference")
	}
	if len(strata) != len(values) {
		return StratifiedDifference{}, apperrors.InvalidInput(core.NewLengthError("stratum", len(strata), len(values)), "post-stratified difference")
	}

	var cv, tv []float64
	var cs, ts []string
	for i, g := range groups {
		switch g {
		case experiment.GroupControl:
			cv, cs = append(cv, values[i]), append(cs, strata[i])
		case experiment.GroupTreatment:
			tv, ts = append(tv, values[i]), append(ts, strata[i])
		}
	}
	if len(cv) == 0 || len(tv) == 0 {
		return StratifiedDifference{}, apperrors.InvalidInput(core.ErrInsufficientData, "both arms need units (control=%d treatment=%d)", len(cv), len(tv))
	}

	control, err := PostStratify(cv, cs, weights)
	if err != nil {
		return StratifiedDifference{}, apperrors.Wrap(err, "control arm")
	}
	treatment, err := PostStratify(tv, ts, weights)
	if err != nil {
		return StratifiedDifference{}, apperrors.Wrap(err, "treatment arm")
	}

	diff := StratifiedDifference{
		Control:   control,
		Treatment: treatment,
		Effect:    treatment.Mean - control.Mean,
		Variance:  treatment.Variance + control.Variance,
		PValue:    1,
	}
	diff.StdErr = math.Sqrt(diff.Variance)
	diff.Warnings = append(diff.Warnings, control.Warnings...)
	diff.Warnings = append(diff.Warnings, treatment.Warnings...)

	if control.Degenerate || treatment.Degenerate {
		diff.Degenerate = true
		diff.DegenerateReason = firstNonEmpty(control.DegenerateReason, treatment.DegenerateReason)
		return diff, nil
	}

	dist := analysis.NewDistributions()
	switch {
	case diff.StdErr > 0:
		diff.Z = diff.Effect / diff.StdErr
		diff.PValue = dist.ZPValue(diff.Z, experiment.TwoSided)
	case diff.Effect != 0:
		diff.PValue = 0
		diff.Warnings.Add(experiment.WarningZeroVariance, "both arms are constant within every stratum")
	default:
		diff.Warnings.Add(experiment.WarningZeroVariance, "both arms are constant within every stratum")
	}
	return diff, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
