package experiment

import (
	"fmt"
	"strings"

	"abkit/domain/core"
)

// Group identifies the arm a unit belongs to
type Group string

const (
	GroupUnassigned Group = ""
	GroupControl    Group = "control"
	GroupTreatment  Group = "treatment"
)

// ParseGroup accepts the arm names used by upstream datasets ("A"/"B", "0"/"1", pilot flags)
func ParseGroup(s string) (Group, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return GroupUnassigned, nil
	case "control", "a", "0":
		return GroupControl, nil
	case "treatment", "pilot", "b", "1":
		return GroupTreatment, nil
	}
	return GroupUnassigned, fmt.Errorf("%w: group %q", core.ErrUnknownVariant, s)
}

// TestKind selects the hypothesis test
type TestKind string

const (
	TestWelch       TestKind = "welch"
	TestProportion  TestKind = "proportion"
	TestMannWhitney TestKind = "mannwhitney"
	TestBootstrap   TestKind = "bootstrap"
)

// ReductionKind selects the variance-reduction transform
type ReductionKind string

const (
	ReductionNone               ReductionKind = "none"
	ReductionCUPED              ReductionKind = "cuped"
	ReductionLinearization      ReductionKind = "linearization"
	ReductionPostStratification ReductionKind = "poststratification"
)

// IntervalMethod selects how a bootstrap distribution becomes an interval
type IntervalMethod string

const (
	IntervalPercentile IntervalMethod = "percentile"
	IntervalNormal     IntervalMethod = "normal"
	IntervalPivotal    IntervalMethod = "pivotal"
)

// EffectKind describes how a synthetic effect is injected into an arm
type EffectKind string

const (
	EffectAdditive       EffectKind = "additive"
	EffectMultiplicative EffectKind = "multiplicative"
)

// Sidedness is the alternative hypothesis direction (treatment relative to control)
type Sidedness string

const (
	TwoSided Sidedness = "two_sided"
	Greater  Sidedness = "greater"
	Less     Sidedness = "less"
)

// ThetaScope selects which units estimate CUPED's theta and linearization's kappa
type ThetaScope string

const (
	ScopeFull    ThetaScope = "full"
	ScopeControl ThetaScope = "control"
)

// SimulationMode selects A/A or synthetic A/B validation
type SimulationMode string

const (
	ModeAA SimulationMode = "aa"
	ModeAB SimulationMode = "ab"
)

var (
	testKinds      = []TestKind{TestWelch, TestProportion, TestMannWhitney, TestBootstrap}
	reductionKinds = []ReductionKind{ReductionNone, ReductionCUPED, ReductionLinearization, ReductionPostStratification}
	methods        = []IntervalMethod{IntervalPercentile, IntervalNormal, IntervalPivotal}
	effectKinds    = []EffectKind{EffectAdditive, EffectMultiplicative}
	sides          = []Sidedness{TwoSided, Greater, Less}
	scopes         = []ThetaScope{ScopeFull, ScopeControl}
	modes          = []SimulationMode{ModeAA, ModeAB}
)

func parseVariant[T ~string](kind, s string, allowed []T) (T, error) {
	v := T(strings.ToLower(strings.TrimSpace(s)))
	for _, a := range allowed {
		if v == a {
			return v, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("%w: %s %q", core.ErrUnknownVariant, kind, s)
}

func validVariant[T comparable](v T, allowed []T) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

func ParseTestKind(s string) (TestKind, error) { return parseVariant("test", s, testKinds) }
func ParseReductionKind(s string) (ReductionKind, error) {
	return parseVariant("variance reduction", s, reductionKinds)
}
func ParseIntervalMethod(s string) (IntervalMethod, error) {
	return parseVariant("interval method", s, methods)
}
func ParseEffectKind(s string) (EffectKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "plus", "add", "all_const":
		return EffectAdditive, nil
	case "multiply", "mul", "all_percent":
		return EffectMultiplicative, nil
	}
	return parseVariant("effect kind", s, effectKinds)
}
func ParseSidedness(s string) (Sidedness, error) { return parseVariant("sidedness", s, sides) }
func ParseThetaScope(s string) (ThetaScope, error) { return parseVariant("theta scope", s, scopes) }
func ParseSimulationMode(s string) (SimulationMode, error) {
	return parseVariant("simulation mode", s, modes)
}

func (k TestKind) Valid() bool       { return validVariant(k, testKinds) }
func (k ReductionKind) Valid() bool  { return validVariant(k, reductionKinds) }
func (m IntervalMethod) Valid() bool { return validVariant(m, methods) }
func (k EffectKind) Valid() bool     { return validVariant(k, effectKinds) }
func (s Sidedness) Valid() bool      { return validVariant(s, sides) }
func (s ThetaScope) Valid() bool     { return validVariant(s, scopes) }
func (m SimulationMode) Valid() bool { return validVariant(m, modes) }
