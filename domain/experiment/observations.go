package experiment

import (
	"fmt"
	"math"
	"sort"

	"abkit/domain/core"
)

// Aggregation collapses the repeated observations of one unit into a single value
type Aggregation string

const (
	AggregateMean Aggregation = "mean"
	AggregateSum  Aggregation = "sum"
)

var aggregations = []Aggregation{AggregateMean, AggregateSum}

func ParseAggregation(s string) (Aggregation, error) {
	return parseVariant("aggregation", s, aggregations)
}

func (a Aggregation) Valid() bool { return validVariant(a, aggregations) }

// AggregateByUnit groups values by unit and reduces each group with agg.
// Units come back in first-seen order, one value each.
func AggregateByUnit(unitIDs []core.UnitID, values []float64, agg Aggregation) ([]core.UnitID, []float64, error) {
	if !agg.Valid() {
		return nil, nil, fmt.Errorf("%w: aggregation %q", core.ErrUnknownVariant, agg)
	}
	if len(values) != len(unitIDs) {
		return nil, nil, core.NewLengthError("values", len(values), len(unitIDs))
	}

	index := make(map[core.UnitID]int)
	var (
		units  []core.UnitID
		sums   []float64
		counts []int
	)
	for i, id := range unitIDs {
		v := values[i]
		if math.IsNaN(v) {
			return nil, nil, fmt.Errorf("%w: observation %d of unit %s", core.ErrMissingValue, i, id)
		}
		k, ok := index[id]
		if !ok {
			k = len(units)
			index[id] = k
			units = append(units, id)
			sums = append(sums, 0)
			counts = append(counts, 0)
		}
		sums[k] += v
		counts[k]++
	}

	if agg == AggregateMean {
		for k := range sums {
			sums[k] /= float64(counts[k])
		}
	}
	return units, sums, nil
}

// Observations is an event-level log with one row per observation and possibly
// many rows per unit. Groups, when set, holds the arm of each row.
type Observations struct {
	UnitIDs []core.UnitID
	Groups  []Group
	Metrics map[string][]float64
}

// ByUnit collapses the log into a unit-level Dataset, units in first-seen order.
// Every unit must carry the same arm on all of its rows.
func (o Observations) ByUnit(agg Aggregation) (*Dataset, error) {
	if len(o.UnitIDs) == 0 {
		return nil, core.ErrInsufficientData
	}

	names := make([]string, 0, len(o.Metrics))
	for name := range o.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var ds *Dataset
	for _, name := range names {
		units, values, err := AggregateByUnit(o.UnitIDs, o.Metrics[name], agg)
		if err != nil {
			return nil, fmt.Errorf("metric %s: %w", name, err)
		}
		if ds == nil {
			ds = NewDataset(units)
		}
		if err := ds.AddMetric(name, values, MissingReject); err != nil {
			return nil, err
		}
	}
	if ds == nil {
		ds = NewDataset(firstSeen(o.UnitIDs))
	}

	if o.Groups != nil {
		groups, err := unitGroups(o.UnitIDs, o.Groups)
		if err != nil {
			return nil, err
		}
		if err := ds.SetGroups(groups); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func firstSeen(unitIDs []core.UnitID) []core.UnitID {
	seen := make(map[core.UnitID]struct{})
	var out []core.UnitID
	for _, id := range unitIDs {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

func unitGroups(unitIDs []core.UnitID, rows []Group) ([]Group, error) {
	if len(rows) != len(unitIDs) {
		return nil, core.NewLengthError("group", len(rows), len(unitIDs))
	}
	byUnit := make(map[core.UnitID]Group)
	var out []Group
	for i, id := range unitIDs {
		g, ok := byUnit[id]
		if !ok {
			byUnit[id] = rows[i]
			out = append(out, rows[i])
			continue
		}
		if g != rows[i] {
			return nil, core.NewValidationError("group", fmt.Sprintf("unit %s is in both %s and %s", id, g, rows[i]))
		}
	}
	return out, nil
}
