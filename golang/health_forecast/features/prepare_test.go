package features

import (
	"bytes"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

func TestPrepareSplitsEightyTwenty(t *testing.T) {
	split, err := Prepare(SyntheticTable(200, 1))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	trainH, trainW := split.XTrain.Dims()
	testH, testW := split.XTest.Dims()
	if trainH != 160 || testH != 40 {
		t.Fatalf("expected 160/40 rows, got %d/%d", trainH, testH)
	}
	if trainW != 3 || testW != 3 {
		t.Fatalf("expected 3 feature columns, got %d/%d", trainW, testW)
	}
	if len(split.YTrain) != trainH || len(split.YTest) != testH {
		t.Fatalf("targets are not aligned with feature rows")
	}

	seen := make(map[int]bool)
	for _, p := range append(append([]int(nil), split.TrainRows...), split.TestRows...) {
		if seen[p] {
			t.Fatalf("row %d appears twice", p)
		}
		seen[p] = true
	}
	if len(seen) != 200 {
		t.Fatalf("expected every row to land in a partition, got %d", len(seen))
	}
}

func TestPrepareIsDeterministic(t *testing.T) {
	table := SyntheticTable(57, 3)
	first, err := Prepare(table)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	second, err := Prepare(SyntheticTable(57, 3))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}

	for p := range first.TestRows {
		if first.TestRows[p] != second.TestRows[p] {
			t.Fatalf("test partitions differ at %d: %d vs %d", p, first.TestRows[p], second.TestRows[p])
		}
	}
	if !mat.Equal(first.XTrain, second.XTrain) || !mat.Equal(first.XTest, second.XTest) {
		t.Fatalf("feature partitions differ between runs")
	}
}

func TestPrepareKeepsColumnOrder(t *testing.T) {
	table := NewTable([]Observation{
		{Steps: 1000, HeartRate: 60, SleepHours: 7, TargetMetric: 1},
		{Steps: 2000, HeartRate: 61, SleepHours: 8, TargetMetric: 2},
		{Steps: 3000, HeartRate: 62, SleepHours: 9, TargetMetric: 3},
	})
	_ = table.AddColumn("calories_goal", []float64{5, 5, 5})

	x, y, err := Extract(table)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	want := mat.NewDense(3, 3, []float64{
		1000, 60, 7,
		2000, 61, 8,
		3000, 62, 9,
	})
	if !mat.Equal(x, want) {
		t.Fatalf("unexpected matrix\n%v", mat.Formatted(x))
	}
	if y[2] != 3 {
		t.Fatalf("unexpected target %v", y)
	}
}

func TestPrepareMissingColumn(t *testing.T) {
	table, err := NewTableFromColumns(map[string][]float64{
		ColumnSteps:        {1, 2},
		ColumnHeartRate:    {60, 70},
		ColumnTargetMetric: {5, 6},
	})
	if err != nil {
		t.Fatalf("table: %v", err)
	}
	_, err = Prepare(table)
	if !errors.Is(err, ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
	if !strings.Contains(err.Error(), ColumnSleepHours) {
		t.Fatalf("error should name the column: %v", err)
	}
}

func TestPrepareEmptyDataset(t *testing.T) {
	if _, err := Prepare(NewTable(nil)); !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
	single := NewTable([]Observation{{Steps: 1, HeartRate: 60, SleepHours: 7, TargetMetric: 1}})
	if _, err := Prepare(single); !errors.Is(err, ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset for a single row, got %v", err)
	}
}

func TestReadTableSkipsTextColumns(t *testing.T) {
	src := "Id,date,steps,heart_rate,sleep_hours,target_metric\n" +
		"15,2016-04-12,8000,70,7.5,2100\n" +
		"15,2016-04-13,6500,75,6.2,1900\n"
	table, err := ReadTable(strings.NewReader(src))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, ok := table.Column("date"); ok {
		t.Fatalf("text column should be skipped")
	}
	if _, ok := table.Column("Id"); !ok {
		t.Fatalf("numeric extra column should be kept")
	}
	if table.Len() != 2 || table.Row(1).Steps != 6500 {
		t.Fatalf("unexpected table %+v", table)
	}
}

func TestReadTableRejectsBadRequiredValue(t *testing.T) {
	src := "steps,heart_rate,sleep_hours,target_metric\n8000,seventy,7.5,2100\n"
	if _, err := ReadTable(strings.NewReader(src)); err == nil {
		t.Fatalf("expected a parse error")
	}
}

func TestAppendKeepsRequiredColumns(t *testing.T) {
	first := SyntheticTable(5, 1)
	_ = first.AddColumn("extra", []float64{1, 2, 3, 4, 5})
	merged, err := first.Append(SyntheticTable(7, 2))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if merged.Len() != 12 {
		t.Fatalf("expected 12 rows, got %d", merged.Len())
	}
	if _, ok := merged.Column("extra"); ok {
		t.Fatalf("extra column should be dropped")
	}
	if merged.Row(5) != SyntheticTable(7, 2).Row(0) {
		t.Fatalf("appended rows are out of order")
	}
}

func TestTableMatrixThroughNpy(t *testing.T) {
	table := SyntheticTable(9, 4)
	m, err := TableMatrix(table)
	if err != nil {
		t.Fatalf("table matrix: %v", err)
	}

	var buf bytes.Buffer
	if err := WriteNpy(&buf, m); err != nil {
		t.Fatalf("write: %v", err)
	}
	restored, err := ReadNpy(&buf)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	back, err := TableFromMatrix(restored)
	if err != nil {
		t.Fatalf("table from matrix: %v", err)
	}
	for p := 0; p < table.Len(); p++ {
		if back.Row(p) != table.Row(p) {
			t.Fatalf("row %d differs: %+v vs %+v", p, back.Row(p), table.Row(p))
		}
	}
}

func TestMatrixFromRowsRejectsRaggedRows(t *testing.T) {
	if _, err := MatrixFromRows([][]float64{{1, 2, 3}, {4, 5}}); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape, got %v", err)
	}
}
