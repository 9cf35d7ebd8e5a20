package app

import (
	"context"
	"fmt"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal"
	"abkit/internal/config"
	"abkit/internal/design"
	apperrors "abkit/internal/errors"
	"abkit/internal/hypothesis"
	"abkit/internal/resample"
	"abkit/internal/rng"
	"abkit/internal/simulation"
	"abkit/internal/variance"
	"abkit/ports"
)

// OutlierFilter bounds the metric before any reduction
type OutlierFilter struct {
	Mode  variance.OutlierMode `json:"mode"`
	Lower float64              `json:"lower"`
	Upper float64              `json:"upper"`
}

// EvaluationRequest describes how one metric of a finished experiment is analysed.
// Empty fields take the service configuration.
type EvaluationRequest struct {
	Metric    string                   `json:"metric"`
	Reduction experiment.ReductionKind `json:"reduction,omitempty"`
	Scope     experiment.ThetaScope    `json:"scope,omitempty"`
	// Covariate is the pre-period column for CUPED
	Covariate string `json:"covariate,omitempty"`
	// Denominator turns Metric into the numerator of a ratio metric
	Denominator string `json:"denominator,omitempty"`
	MeanCentred bool   `json:"mean_centred,omitempty"`
	// Strata is the label column for post-stratification; nil Weights use sample shares
	Strata   string             `json:"strata,omitempty"`
	Weights  map[string]float64 `json:"weights,omitempty"`
	Outliers *OutlierFilter     `json:"outliers,omitempty"`

	Test      experiment.TestKind  `json:"test,omitempty"`
	Alpha     float64              `json:"alpha,omitempty"`
	Sidedness experiment.Sidedness `json:"sidedness,omitempty"`
}

// EvaluationResult is the full analysis of one metric
type EvaluationResult struct {
	RunID      core.RunID                     `json:"run_id"`
	Metric     string                         `json:"metric"`
	Units      int                            `json:"units"`
	Outliers   *variance.OutlierResult        `json:"outliers,omitempty"`
	Reduction  experiment.ReductionResult     `json:"reduction"`
	Test       experiment.TestResult          `json:"test"`
	Interval   experiment.IntervalResult      `json:"interval"`
	Stratified *variance.StratifiedDifference `json:"stratified,omitempty"`
	Seed       uint64                         `json:"seed"`
	ConfigHash core.Hash                      `json:"config_hash"`
}

// ExperimentService wires design, variance reduction, testing and simulation
// together with one configuration and one seed source
type ExperimentService struct {
	config    *config.Config
	streams   ports.RNGPort
	estimator *design.Estimator
	runner    *hypothesis.Runner
	logger    *internal.Logger
}

// NewExperimentService creates a service. The seed source follows cfg.Runtime.
func NewExperimentService(cfg *config.Config) (*ExperimentService, error) {
	if cfg == nil {
		return nil, apperrors.ConfigInvalid("experiment service needs a configuration")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	streams, err := rng.New(cfg.Runtime.Seed, cfg.Runtime.RequireDeterminism)
	if err != nil {
		return nil, err
	}
	return &ExperimentService{
		config:    cfg,
		streams:   streams,
		estimator: design.NewEstimator(),
		runner:    hypothesis.NewRunner(),
		logger:    internal.DefaultLogger.With("experiment"),
	}, nil
}

// Seed returns the base seed every engine seed is derived from
func (s *ExperimentService) Seed() uint64 {
	return s.streams.Seed()
}

func (s *ExperimentService) seedFor(label string) *uint64 {
	seed := core.DeriveSeed(s.streams.Seed(), label)
	return &seed
}

func (s *ExperimentService) testConfig(req EvaluationRequest) hypothesis.Config {
	cfg := hypothesis.Config{
		Kind:                experiment.TestKind(s.config.Test.Kind),
		Alpha:               s.config.Test.Alpha,
		Sidedness:           experiment.Sidedness(s.config.Test.Sidedness),
		BootstrapIterations: s.config.Resample.Iterations,
		IntervalMethod:      experiment.IntervalMethod(s.config.Resample.IntervalMethod),
		Seed:                s.seedFor("test/" + req.Metric),
		Workers:             s.config.Runtime.Workers,
		MaxIterations:       s.config.Runtime.MaxIterations,
	}
	if req.Test != "" {
		cfg.Kind = req.Test
	}
	if req.Alpha != 0 {
		cfg.Alpha = req.Alpha
	}
	if req.Sidedness != "" {
		cfg.Sidedness = req.Sidedness
	}
	return cfg
}

// Evaluate runs outlier filtering, the configured reduction, the hypothesis test and
// a bootstrap interval for the difference of means
func (s *ExperimentService) Evaluate(ctx context.Context, ds *experiment.Dataset, req EvaluationRequest) (*EvaluationResult, error) {
	if ds == nil {
		return nil, apperrors.InvalidInput(core.ErrInsufficientData, "no dataset")
	}
	if err := ds.Validate(); err != nil {
		return nil, apperrors.Wrap(err, "invalid dataset")
	}
	if !ds.HasGroups() {
		return nil, apperrors.InvalidInput(core.NewValidationError("group", "dataset has no arm assignment"), "evaluate %s", req.Metric)
	}

	in, outliers, err := s.reductionInput(ds, req)
	if err != nil {
		return nil, err
	}
	kind := req.Reduction
	if kind == "" {
		kind = experiment.ReductionKind(s.config.Reduction.Kind)
	}

	reduced, err := variance.Apply(kind, in)
	if err != nil {
		return nil, apperrors.Wrapf(err, "%s reduction of %s", kind, req.Metric)
	}
	if reduced.Degenerate {
		s.logger.Warn("%s reduction of %s is degenerate: %s", kind, req.Metric, reduced.DegenerateReason)
	}

	control, treatment, err := experiment.SplitValues(reduced.Values, in.Groups)
	if err != nil {
		return nil, err
	}

	cfg := s.testConfig(req)
	test, err := s.runner.Run(ctx, cfg, control, treatment)
	if err != nil {
		return nil, apperrors.Wrapf(err, "%s test on %s", cfg.Kind, req.Metric)
	}

	configHash := core.ComputeConfigHash(map[string]interface{}{
		"test":       cfg.Kind,
		"alpha":      cfg.Alpha,
		"sidedness":  cfg.Sidedness,
		"reduction":  kind,
		"scope":      in.Scope,
		"iterations": cfg.BootstrapIterations,
		"interval":   cfg.IntervalMethod,
		"seed":       s.streams.Seed(),
	})
	result := &EvaluationResult{
		Metric:     req.Metric,
		Units:      len(in.Values),
		Outliers:   outliers,
		Reduction:  reduced,
		Test:       test,
		Seed:       s.streams.Seed(),
		RunID:      core.NewRunID(fmt.Sprintf("evaluate/%s/%s/%s", req.Metric, kind, cfg.Kind), s.streams.Seed()),
		ConfigHash: configHash,
	}

	if test.Interval != nil && test.Interval.Distribution != nil {
		result.Interval = *test.Interval
	} else {
		interval, err := s.bootstrapDiff(ctx, req.Metric, cfg.Alpha, control, treatment)
		if err != nil {
			return nil, err
		}
		result.Interval = interval
	}

	if kind == experiment.ReductionPostStratification {
		diff, err := variance.PostStratifiedDifference(in.Values, in.Strata, in.Groups, in.Weights)
		if err != nil {
			return nil, apperrors.Wrapf(err, "post-stratified difference of %s", req.Metric)
		}
		result.Stratified = &diff
	}

	s.logger.Info("%s: effect=%.4g p=%.4g reject=%v (%s, %s)", req.Metric, test.Effect, test.PValue, test.Reject, kind, cfg.Kind)
	return result, nil
}

func (s *ExperimentService) bootstrapDiff(ctx context.Context, metric string, alpha float64, control, treatment []float64) (experiment.IntervalResult, error) {
	engine, err := resample.NewEngine(resample.Options{
		Iterations:    s.config.Resample.Iterations,
		Alpha:         alpha,
		Method:        experiment.IntervalMethod(s.config.Resample.IntervalMethod),
		Seed:          s.seedFor("interval/" + metric),
		Workers:       s.config.Runtime.Workers,
		MaxIterations: s.config.Runtime.MaxIterations,
		MaxDraws:      s.config.Resample.MaxDraws,
	})
	if err != nil {
		return experiment.IntervalResult{}, err
	}
	return engine.BootstrapDiff(ctx, control, treatment, resample.Mean)
}

// reductionInput gathers the columns req needs, filtering outliers on the metric and
// dropping the same units from every aligned column
func (s *ExperimentService) reductionInput(ds *experiment.Dataset, req EvaluationRequest) (variance.ReductionInput, *variance.OutlierResult, error) {
	values, err := ds.Metric(req.Metric)
	if err != nil {
		return variance.ReductionInput{}, nil, apperrors.InvalidInput(err, "metric %s", req.Metric)
	}
	in := variance.ReductionInput{
		Values:      values,
		Groups:      ds.Groups(),
		Scope:       req.Scope,
		MeanCentred: req.MeanCentred || s.config.Reduction.MeanCentred,
		Weights:     req.Weights,
	}
	if in.Scope == "" {
		in.Scope = experiment.ThetaScope(s.config.Reduction.ThetaScope)
	}
	if req.Covariate != "" {
		if in.Covariate, err = ds.Metric(req.Covariate); err != nil {
			return variance.ReductionInput{}, nil, apperrors.InvalidInput(err, "covariate %s", req.Covariate)
		}
	}
	if req.Denominator != "" {
		if in.Denominator, err = ds.Metric(req.Denominator); err != nil {
			return variance.ReductionInput{}, nil, apperrors.InvalidInput(err, "denominator %s", req.Denominator)
		}
	}
	if req.Strata != "" {
		if in.Strata, err = ds.Labels(req.Strata); err != nil {
			return variance.ReductionInput{}, nil, apperrors.InvalidInput(err, "strata %s", req.Strata)
		}
	}

	var outliers *variance.OutlierResult
	if req.Outliers != nil {
		res, err := variance.ProcessOutliers(values, req.Outliers.Mode, req.Outliers.Lower, req.Outliers.Upper)
		if err != nil {
			return variance.ReductionInput{}, nil, err
		}
		outliers = &res
		in.Values = res.Values
		if res.Removed > 0 {
			in.Groups = keep(in.Groups, res.Kept)
			in.Covariate = keep(in.Covariate, res.Kept)
			in.Denominator = keep(in.Denominator, res.Kept)
			in.Strata = keep(in.Strata, res.Kept)
		}
	}

	if in.Strata != nil && in.Weights == nil {
		if in.Weights, err = variance.SampleWeights(in.Strata); err != nil {
			return variance.ReductionInput{}, nil, err
		}
	}
	return in, outliers, nil
}

func keep[T any](col []T, idx []int) []T {
	if col == nil {
		return nil
	}
	out := make([]T, len(idx))
	for j, i := range idx {
		out[j] = col[i]
	}
	return out
}

// DesignRequest sizes an experiment. BaselineRate selects the proportion formulas;
// a non-zero SampleSize asks for the MDE instead of the size.
type DesignRequest struct {
	experiment.DesignParams
	// Metric, when set, estimates the baseline from this column of the dataset
	Metric string `json:"metric,omitempty"`
}

// Design runs the sampling estimator
func (s *ExperimentService) Design(ds *experiment.Dataset, req DesignRequest) (experiment.DesignResult, error) {
	p := req.DesignParams
	if p.Alpha == 0 {
		p.Alpha = s.config.Design.Alpha
	}
	if p.Power == 0 {
		p.Power = s.config.Design.Power
	}
	if p.Ratio == 0 {
		p.Ratio = s.config.Design.Ratio
	}

	var (
		res experiment.DesignResult
		err error
	)
	switch {
	case req.Metric != "":
		if ds == nil {
			return experiment.DesignResult{}, apperrors.InvalidInput(core.ErrInsufficientData, "metric %s needs a dataset", req.Metric)
		}
		values, merr := ds.Metric(req.Metric)
		if merr != nil {
			return experiment.DesignResult{}, apperrors.InvalidInput(merr, "metric %s", req.Metric)
		}
		res, err = s.estimator.SampleSizeFromMetric(values, ds.UnitIDs(), p)
	case p.BaselineRate != 0 && p.SampleSize > 0:
		res, err = s.estimator.ProportionMDE(p)
	case p.BaselineRate != 0:
		res, err = s.estimator.ProportionSampleSize(p)
	case p.SampleSize > 0:
		res, err = s.estimator.MDE(p)
	default:
		res, err = s.estimator.SampleSize(p)
	}
	if err != nil {
		return experiment.DesignResult{}, err
	}
	if res.Degenerate {
		s.logger.Warn("design is degenerate: %s", res.DegenerateReason)
	}
	return res, nil
}

// ValidationRequest configures an A/A or A/B simulation of a metric
type ValidationRequest struct {
	Metric     string                    `json:"metric"`
	Mode       experiment.SimulationMode `json:"mode"`
	SampleSize int                       `json:"sample_size,omitempty"`
	Effect     simulation.Effect         `json:"effect"`
	Test       experiment.TestKind       `json:"test,omitempty"`
	Iterations int                       `json:"iterations,omitempty"`
}

func (s *ExperimentService) validator(req ValidationRequest) (*simulation.Validator, error) {
	test := s.testConfig(EvaluationRequest{Metric: req.Metric, Test: req.Test})
	test.Seed = nil
	effect := req.Effect
	if effect.Kind == "" {
		effect.Kind = experiment.EffectKind(s.config.Simulation.EffectKind)
	}
	iterations := req.Iterations
	if iterations == 0 {
		iterations = s.config.Simulation.Iterations
	}
	return simulation.NewValidator(simulation.Options{
		Iterations:         iterations,
		Test:               test,
		SampleSize:         req.SampleSize,
		TreatmentShare:     s.config.Simulation.TreatmentShare,
		Effect:             effect,
		Power:              s.config.Design.Power,
		Seed:               s.seedFor("simulation/" + req.Metric),
		RequireDeterminism: s.config.Runtime.RequireDeterminism,
		Workers:            s.config.Runtime.Workers,
		MaxIterations:      s.config.Runtime.MaxIterations,
		TolerateFailures:   s.config.Simulation.TolerateFailures,
	})
}

// Validate simulates repeated splits of a metric column
func (s *ExperimentService) Validate(ctx context.Context, ds *experiment.Dataset, req ValidationRequest) (experiment.SimulationReport, error) {
	values, err := s.metric(ds, req.Metric)
	if err != nil {
		return experiment.SimulationReport{}, err
	}
	v, err := s.validator(req)
	if err != nil {
		return experiment.SimulationReport{}, err
	}
	mode := req.Mode
	if mode == "" {
		mode = experiment.ModeAA
	}
	report, err := v.Run(ctx, mode, values)
	if err != nil {
		return experiment.SimulationReport{}, apperrors.Wrapf(err, "%s simulation of %s", mode, req.Metric)
	}
	if !report.WithinTolerance {
		s.logger.Warn("%s simulation of %s: rate %.4f is outside %.3f ± 3·%.4f", mode, req.Metric, report.Rate, report.Target, report.MCStdErr)
	}
	return report, nil
}

// EstimateErrors runs A/A and A/B simulations of the same design
func (s *ExperimentService) EstimateErrors(ctx context.Context, ds *experiment.Dataset, req ValidationRequest) (experiment.ErrorEstimate, error) {
	values, err := s.metric(ds, req.Metric)
	if err != nil {
		return experiment.ErrorEstimate{}, err
	}
	v, err := s.validator(req)
	if err != nil {
		return experiment.ErrorEstimate{}, err
	}
	return v.EstimateErrors(ctx, values)
}

// UnitLevel collapses an observation log into one row per unit so repeated
// observations of a unit are not tested as independent samples. An empty agg means mean.
func (s *ExperimentService) UnitLevel(obs experiment.Observations, agg experiment.Aggregation) (*experiment.Dataset, error) {
	if agg == "" {
		agg = experiment.AggregateMean
	}
	ds, err := obs.ByUnit(agg)
	if err != nil {
		return nil, apperrors.Wrapf(err, "%s of observations by unit", agg)
	}
	s.logger.Debug("collapsed %d observations into %d units (%s)", len(obs.UnitIDs), ds.Len(), agg)
	return ds, nil
}

func (s *ExperimentService) metric(ds *experiment.Dataset, name string) ([]float64, error) {
	if ds == nil {
		return nil, apperrors.InvalidInput(core.ErrInsufficientData, "no dataset")
	}
	values, err := ds.Metric(name)
	if err != nil {
		return nil, apperrors.InvalidInput(err, "metric %s", name)
	}
	return values, nil
}
