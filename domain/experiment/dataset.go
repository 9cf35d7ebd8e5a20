package experiment

import (
	"fmt"
	"math"
	"sort"

	"abkit/domain/core"
)

// MissingPolicy decides what happens to NaN cells when a metric column is added
type MissingPolicy int

const (
	// MissingReject refuses columns with NaN values
	MissingReject MissingPolicy = iota
	// MissingZero replaces NaN values with 0, the sentinel used for "no activity"
	MissingZero
)

// Dataset is the rectangular observation set handed over by the ingestion layer.
// Rows are experimental units in a fixed order; every column has one value per unit.
type Dataset struct {
	unitIDs []core.UnitID
	groups  []Group
	metrics map[string][]float64
	labels  map[string][]string
}

// NewDataset creates an empty dataset over the given units
func NewDataset(unitIDs []core.UnitID) *Dataset {
	ids := make([]core.UnitID, len(unitIDs))
	copy(ids, unitIDs)
	return &Dataset{
		unitIDs: ids,
		metrics: make(map[string][]float64),
		labels:  make(map[string][]string),
	}
}

// NewSequentialDataset creates a dataset of n units named unit_1..unit_n
func NewSequentialDataset(n int) *Dataset {
	ids := make([]core.UnitID, n)
	for i := range ids {
		ids[i] = core.UnitID(fmt.Sprintf("unit_%d", i+1))
	}
	return NewDataset(ids)
}

// Len returns the number of units
func (d *Dataset) Len() int {
	return len(d.unitIDs)
}

// UnitIDs returns a copy of the unit identifiers
func (d *Dataset) UnitIDs() []core.UnitID {
	out := make([]core.UnitID, len(d.unitIDs))
	copy(out, d.unitIDs)
	return out
}

// AddMetric stores a numeric column. The input slice is copied.
func (d *Dataset) AddMetric(name string, values []float64, policy MissingPolicy) error {
	if len(values) != len(d.unitIDs) {
		return core.NewLengthError(name, len(values), len(d.unitIDs))
	}
	col := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			if policy != MissingZero {
				return fmt.Errorf("%w: column %s, unit %s", core.ErrMissingValue, name, d.unitIDs[i])
			}
			v = 0
		}
		col[i] = v
	}
	d.metrics[name] = col
	return nil
}

// AddLabels stores a categorical column such as a stratum assignment
func (d *Dataset) AddLabels(name string, labels []string) error {
	if len(labels) != len(d.unitIDs) {
		return core.NewLengthError(name, len(labels), len(d.unitIDs))
	}
	col := make([]string, len(labels))
	for i, l := range labels {
		if l == "" {
			return fmt.Errorf("%w: column %s, unit %s has no label", core.ErrMissingValue, name, d.unitIDs[i])
		}
		col[i] = l
	}
	d.labels[name] = col
	return nil
}

// SetGroups assigns every unit to an arm
func (d *Dataset) SetGroups(groups []Group) error {
	if len(groups) != len(d.unitIDs) {
		return core.NewLengthError("group", len(groups), len(d.unitIDs))
	}
	g := make([]Group, len(groups))
	copy(g, groups)
	d.groups = g
	return nil
}

// Groups returns a copy of the arm assignment, nil when none was set
func (d *Dataset) Groups() []Group {
	if d.groups == nil {
		return nil
	}
	out := make([]Group, len(d.groups))
	copy(out, d.groups)
	return out
}

// HasGroups reports whether arms were assigned
func (d *Dataset) HasGroups() bool {
	return d.groups != nil
}

// Metric returns a copy of a numeric column
func (d *Dataset) Metric(name string) ([]float64, error) {
	col, ok := d.metrics[name]
	if !ok {
		return nil, fmt.Errorf("%w: metric %s", core.ErrUnknownColumn, name)
	}
	out := make([]float64, len(col))
	copy(out, col)
	return out, nil
}

// Labels returns a copy of a categorical column
func (d *Dataset) Labels(name string) ([]string, error) {
	col, ok := d.labels[name]
	if !ok {
		return nil, fmt.Errorf("%w: labels %s", core.ErrUnknownColumn, name)
	}
	out := make([]string, len(col))
	copy(out, col)
	return out, nil
}

// MetricNames lists numeric columns in sorted order
func (d *Dataset) MetricNames() []string {
	names := make([]string, 0, len(d.metrics))
	for name := range d.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SplitByGroup returns the control and treatment values of a metric, each in unit order
func (d *Dataset) SplitByGroup(metric string) (control, treatment []float64, err error) {
	if d.groups == nil {
		return nil, nil, core.NewValidationError("group", "dataset has no arm assignment")
	}
	col, ok := d.metrics[metric]
	if !ok {
		return nil, nil, fmt.Errorf("%w: metric %s", core.ErrUnknownColumn, metric)
	}
	return SplitValues(col, d.groups)
}

// SplitValues partitions values by arm, skipping unassigned units
func SplitValues(values []float64, groups []Group) (control, treatment []float64, err error) {
	if len(values) != len(groups) {
		return nil, nil, core.NewLengthError("group", len(groups), len(values))
	}
	for i, v := range values {
		switch groups[i] {
		case GroupControl:
			control = append(control, v)
		case GroupTreatment:
			treatment = append(treatment, v)
		}
	}
	return control, treatment, nil
}

// Validate ensures the dataset is rectangular
func (d *Dataset) Validate() error {
	n := len(d.unitIDs)
	if n == 0 {
		return core.ErrInsufficientData
	}
	seen := make(map[core.UnitID]struct{}, n)
	for _, id := range d.unitIDs {
		if _, dup := seen[id]; dup {
			return core.NewValidationError("unit_id", fmt.Sprintf("duplicate unit %s", id))
		}
		seen[id] = struct{}{}
	}
	for name, col := range d.metrics {
		if len(col) != n {
			return core.NewLengthError(name, len(col), n)
		}
	}
	for name, col := range d.labels {
		if len(col) != n {
			return core.NewLengthError(name, len(col), n)
		}
	}
	if d.groups != nil && len(d.groups) != n {
		return core.NewLengthError("group", len(d.groups), n)
	}
	return nil
}
