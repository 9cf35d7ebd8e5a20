package testkit

import (
	"fmt"
	"math"
	"math/rand"

	"abkit/domain/core"
	"abkit/domain/experiment"
	"abkit/internal/split"
)

// Column names written by the experiment generator
const (
	MetricRevenue    = "revenue"
	MetricPreRevenue = "pre_revenue"
	MetricConverted  = "converted"
	MetricClicks     = "clicks"
	MetricSessions   = "sessions"
	LabelsSegment    = "segment"
)

// StratumSpec is one population segment and the shift it adds to the metric
type StratumSpec struct {
	Label  string  `json:"label"`
	Weight float64 `json:"weight"`
	Shift  float64 `json:"shift"`
}

// ExperimentConfig configures the synthetic experiment generator
type ExperimentConfig struct {
	Units  int     `json:"units"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	// Effect is added to the treatment arm's revenue
	Effect float64 `json:"effect"`
	// CovariateCorrelation is the correlation of pre_revenue with revenue
	CovariateCorrelation float64       `json:"covariate_correlation"`
	ConversionRate       float64       `json:"conversion_rate"`
	ConversionLift       float64       `json:"conversion_lift"`
	SessionsPerUnit      float64       `json:"sessions_per_unit"`
	ClickThroughRate     float64       `json:"click_through_rate"`
	Strata               []StratumSpec `json:"strata,omitempty"`
	// SplitSalt assigns arms by salted hash; empty assigns at random
	SplitSalt string `json:"split_salt,omitempty"`
	Seed      int64  `json:"seed"`
}

// DefaultExperimentConfig matches the reference design: mean 10, variance 25
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		Units:                1000,
		Mean:                 10,
		StdDev:               5,
		CovariateCorrelation: 0.7,
		ConversionRate:       0.1,
		SessionsPerUnit:      4,
		ClickThroughRate:     0.3,
		Strata: []StratumSpec{
			{Label: "new", Weight: 0.3, Shift: -2},
			{Label: "returning", Weight: 0.5, Shift: 0},
			{Label: "loyal", Weight: 0.2, Shift: 4},
		},
		Seed: 42,
	}
}

// ExperimentGenerator builds reproducible datasets for engine tests and the CLI
type ExperimentGenerator struct {
	config ExperimentConfig
	rng    *rand.Rand
}

// NewExperimentGenerator creates a generator seeded from config.Seed
func NewExperimentGenerator(config ExperimentConfig) *ExperimentGenerator {
	return &ExperimentGenerator{
		config: config,
		rng:    rand.New(rand.NewSource(config.Seed)),
	}
}

// Generate returns a dataset with revenue, pre_revenue, converted, clicks and
// sessions metrics, a segment label and an arm assignment
func (g *ExperimentGenerator) Generate() (*experiment.Dataset, error) {
	n := g.config.Units
	if n < 2 {
		return nil, core.NewValidationError("units", "need at least 2 units")
	}
	ds := experiment.NewSequentialDataset(n)

	var groups []experiment.Group
	if g.config.SplitSalt != "" {
		groups = split.GroupsFor(ds.UnitIDs(), g.config.SplitSalt)
	} else {
		groups = make([]experiment.Group, n)
		for i := range groups {
			groups[i] = experiment.GroupControl
			if g.rng.Float64() < 0.5 {
				groups[i] = experiment.GroupTreatment
			}
		}
	}

	rho := g.config.CovariateCorrelation
	revenue := make([]float64, n)
	pre := make([]float64, n)
	converted := make([]float64, n)
	clicks := make([]float64, n)
	sessions := make([]float64, n)
	segments := make([]string, n)

	for i := 0; i < n; i++ {
		treated := groups[i] == experiment.GroupTreatment
		shift := 0.0
		if len(g.config.Strata) > 0 {
			s := g.pickStratum()
			segments[i] = s.Label
			shift = s.Shift
		} else {
			segments[i] = "all"
		}

		// pre and post share a latent component, so corr(pre, revenue) = rho
		latent := g.rng.NormFloat64()
		noise := g.rng.NormFloat64()
		revenue[i] = g.config.Mean + shift + g.config.StdDev*latent
		pre[i] = g.config.Mean + shift + g.config.StdDev*(rho*latent+math.Sqrt(1-rho*rho)*noise)
		if treated {
			revenue[i] += g.config.Effect
		}

		rate := g.config.ConversionRate
		if treated {
			rate += g.config.ConversionLift
		}
		if g.rng.Float64() < rate {
			converted[i] = 1
		}

		sessions[i] = float64(1 + g.poisson(math.Max(g.config.SessionsPerUnit-1, 0)))
		for k := 0; k < int(sessions[i]); k++ {
			if g.rng.Float64() < g.config.ClickThroughRate {
				clicks[i]++
			}
		}
	}

	columns := []struct {
		name   string
		values []float64
	}{
		{MetricRevenue, revenue},
		{MetricPreRevenue, pre},
		{MetricConverted, converted},
		{MetricClicks, clicks},
		{MetricSessions, sessions},
	}
	for _, c := range columns {
		if err := ds.AddMetric(c.name, c.values, experiment.MissingReject); err != nil {
			return nil, fmt.Errorf("metric %s: %w", c.name, err)
		}
	}
	if err := ds.AddLabels(LabelsSegment, segments); err != nil {
		return nil, err
	}
	if err := ds.SetGroups(groups); err != nil {
		return nil, err
	}
	return ds, nil
}

// SessionLog expands a generated dataset into one row per session. Each session
// carries an equal share of the unit's revenue and at most one click, so summing
// the log by unit recovers the revenue and clicks columns.
func SessionLog(ds *experiment.Dataset) (experiment.Observations, error) {
	revenue, err := ds.Metric(MetricRevenue)
	if err != nil {
		return experiment.Observations{}, err
	}
	clicks, err := ds.Metric(MetricClicks)
	if err != nil {
		return experiment.Observations{}, err
	}
	sessions, err := ds.Metric(MetricSessions)
	if err != nil {
		return experiment.Observations{}, err
	}
	units, groups := ds.UnitIDs(), ds.Groups()

	var out experiment.Observations
	out.Metrics = map[string][]float64{MetricRevenue: nil, MetricClicks: nil}
	for i, id := range units {
		k := int(sessions[i])
		for s := 0; s < k; s++ {
			out.UnitIDs = append(out.UnitIDs, id)
			if groups != nil {
				out.Groups = append(out.Groups, groups[i])
			}
			click := 0.0
			if float64(s) < clicks[i] {
				click = 1
			}
			out.Metrics[MetricRevenue] = append(out.Metrics[MetricRevenue], revenue[i]/float64(k))
			out.Metrics[MetricClicks] = append(out.Metrics[MetricClicks], click)
		}
	}
	return out, nil
}

// Weights returns the configured population weight of each stratum
func (g *ExperimentGenerator) Weights() map[string]float64 {
	if len(g.config.Strata) == 0 {
		return map[string]float64{"all": 1}
	}
	out := make(map[string]float64, len(g.config.Strata))
	for _, s := range g.config.Strata {
		out[s.Label] = s.Weight
	}
	return out
}

func (g *ExperimentGenerator) pickStratum() StratumSpec {
	u := g.rng.Float64()
	acc := 0.0
	for _, s := range g.config.Strata {
		acc += s.Weight
		if u < acc {
			return s
		}
	}
	return g.config.Strata[len(g.config.Strata)-1]
}

// poisson draws by inversion, fine for the small rates used here
func (g *ExperimentGenerator) poisson(lambda float64) int {
	l := math.Exp(-lambda)
	k, p := 0, 1.0
	for {
		p *= g.rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}

// NormalSample draws n values from N(mean, sd^2)
func NormalSample(seed int64, n int, mean, sd float64) []float64 {
	r := rand.New(rand.NewSource(seed))
	out := make([]float64, n)
	for i := range out {
		out[i] = mean + sd*r.NormFloat64()
	}
	return out
}
