package features

import (
	"sort"

	"github.com/pkg/errors"
)

// Column names of an aligned per-day table.
const (
	ColumnSteps        = "steps"
	ColumnHeartRate    = "heart_rate"
	ColumnSleepHours   = "sleep_hours"
	ColumnTargetMetric = "target_metric"
)

// FeatureColumns is the column order of every feature matrix built by this package.
var FeatureColumns = []string{ColumnSteps, ColumnHeartRate, ColumnSleepHours}

// RequiredColumns are the columns Prepare needs; anything else in a table is ignored.
var RequiredColumns = []string{ColumnSteps, ColumnHeartRate, ColumnSleepHours, ColumnTargetMetric}

//Observation is one aligned day of behavioural signals together with the metric to forecast.
type Observation struct {
	Steps        int
	HeartRate    float64
	SleepHours   float64
	TargetMetric float64
}

//Table is a column oriented set of per-day records. All columns have the same length.
type Table struct {
	Names   []string
	Columns map[string][]float64
}

//NewTable converts observations into a table with the four required columns.
//Step counts become reals here so that downstream code sees one numeric type.
func NewTable(observations []Observation) Table {
	h := len(observations)
	steps := make([]float64, h)
	heartRate := make([]float64, h)
	sleepHours := make([]float64, h)
	target := make([]float64, h)

	for p, obs := range observations {
		steps[p] = float64(obs.Steps)
		heartRate[p] = obs.HeartRate
		sleepHours[p] = obs.SleepHours
		target[p] = obs.TargetMetric
	}

	return Table{
		Names: append([]string(nil), RequiredColumns...),
		Columns: map[string][]float64{
			ColumnSteps:        steps,
			ColumnHeartRate:    heartRate,
			ColumnSleepHours:   sleepHours,
			ColumnTargetMetric: target,
		},
	}
}

//NewTableFromColumns builds a table from named columns of equal length.
func NewTableFromColumns(columns map[string][]float64) (Table, error) {
	table := Table{Columns: make(map[string][]float64, len(columns))}
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if err := table.AddColumn(name, columns[name]); err != nil {
			return Table{}, err
		}
	}
	return table, nil
}

//Len returns the number of rows.
func (table Table) Len() int {
	for _, name := range table.Names {
		return len(table.Columns[name])
	}
	return 0
}

//Column returns the values of a column and whether it exists.
func (table Table) Column(name string) ([]float64, bool) {
	values, ok := table.Columns[name]
	return values, ok
}

//AddColumn appends a named column. Its length must match the existing columns.
func (table *Table) AddColumn(name string, values []float64) error {
	if table.Columns == nil {
		table.Columns = make(map[string][]float64)
	}
	if _, ok := table.Columns[name]; ok {
		return errors.Errorf("duplicate column %q", name)
	}
	if len(table.Names) > 0 && len(values) != table.Len() {
		return errors.Wrapf(ErrShape, "column %q has %d rows, table has %d", name, len(values), table.Len())
	}
	table.Names = append(table.Names, name)
	table.Columns[name] = values
	return nil
}

//Row returns the observation stored at row p. The table must hold the required columns.
func (table Table) Row(p int) Observation {
	return Observation{
		Steps:        int(table.Columns[ColumnSteps][p]),
		HeartRate:    table.Columns[ColumnHeartRate][p],
		SleepHours:   table.Columns[ColumnSleepHours][p],
		TargetMetric: table.Columns[ColumnTargetMetric][p],
	}
}

//Append concatenates the required columns of two tables, receiver rows first.
//Columns outside RequiredColumns are dropped from the result.
func (table Table) Append(other Table) (Table, error) {
	if err := table.checkRequired(); err != nil {
		return Table{}, err
	}
	if err := other.checkRequired(); err != nil {
		return Table{}, err
	}

	result := Table{Columns: make(map[string][]float64, len(RequiredColumns))}
	for _, name := range RequiredColumns {
		merged := make([]float64, 0, table.Len()+other.Len())
		merged = append(merged, table.Columns[name]...)
		merged = append(merged, other.Columns[name]...)
		result.Names = append(result.Names, name)
		result.Columns[name] = merged
	}
	return result, nil
}

func (table Table) checkRequired() error {
	for _, name := range RequiredColumns {
		if _, ok := table.Columns[name]; !ok {
			return errors.Wrapf(ErrMissingColumn, "column %q", name)
		}
	}
	return nil
}
