package forecast

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/tarstars/health_forecast/golang/health_forecast/features"
)

func quickConfig() Config {
	config := DefaultConfig()
	config.Epochs = 5
	config.NStages = 30
	return config
}

func trainedEnsemble(t *testing.T, config Config, table features.Table) *Ensemble {
	t.Helper()
	ensemble := New(config)
	if _, err := ensemble.Train(table, nil); err != nil {
		t.Fatalf("train: %v", err)
	}
	return ensemble
}

func sampleRows() *mat.Dense {
	return mat.NewDense(2, 3, []float64{8000, 70, 7.5, 6500, 75, 6.2})
}

func TestPredictBeforeTrain(t *testing.T) {
	ensemble := New(DefaultConfig())
	if _, err := ensemble.Predict(sampleRows()); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if err := ensemble.Save(FileStore{}); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState from save, got %v", err)
	}
	sequence, tree := ensemble.State()
	if sequence != Untrained || tree != Untrained {
		t.Fatalf("unexpected states %v %v", sequence, tree)
	}
}

func TestTrainAndPredictSyntheticScenario(t *testing.T) {
	table := features.SyntheticTable(200, 1)
	ensemble := New(DefaultConfig())
	report, err := ensemble.Train(table, nil)
	if err != nil {
		t.Fatalf("train: %v", err)
	}
	if report.TrainRows != 160 || report.TestRows != 40 {
		t.Fatalf("unexpected partition %d/%d", report.TrainRows, report.TestRows)
	}

	prediction, err := ensemble.Predict(sampleRows())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	target := table.Columns[features.ColumnTargetMetric]
	low, high := floats.Min(target), floats.Max(target)
	if len(prediction) != 2 {
		t.Fatalf("expected 2 predictions, got %d", len(prediction))
	}
	for _, value := range prediction {
		if value < low || value > high {
			t.Fatalf("prediction %g outside the training target range [%g, %g]", value, low, high)
		}
	}

	x, _, err := features.Extract(table)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	all, err := ensemble.Predict(x)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(all) != 200 {
		t.Fatalf("expected 200 predictions, got %d", len(all))
	}
	for p, value := range all {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			t.Fatalf("row %d: non-finite prediction %g", p, value)
		}
	}
}

func TestPredictionIsFixedMixture(t *testing.T) {
	ensemble := trainedEnsemble(t, quickConfig(), features.SyntheticTable(60, 2))
	rows := sampleRows()
	sequence, tree, err := ensemble.Components(rows)
	if err != nil {
		t.Fatalf("components: %v", err)
	}
	prediction, err := ensemble.Predict(rows)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for p := range prediction {
		if want := 0.6*sequence[p] + 0.4*tree[p]; prediction[p] != want {
			t.Fatalf("row %d: %g != %g", p, prediction[p], want)
		}
	}
}

func TestTrainFailureKeepsState(t *testing.T) {
	ensemble := New(quickConfig())
	table := features.SyntheticTable(20, 3)
	delete(table.Columns, features.ColumnSleepHours)
	if _, err := ensemble.Train(table, nil); !errors.Is(err, features.ErrMissingColumn) {
		t.Fatalf("expected ErrMissingColumn, got %v", err)
	}
	if _, err := ensemble.Train(features.Table{Columns: map[string][]float64{
		features.ColumnSteps:        {},
		features.ColumnHeartRate:    {},
		features.ColumnSleepHours:   {},
		features.ColumnTargetMetric: {},
	}}, nil); !errors.Is(err, features.ErrEmptyDataset) {
		t.Fatalf("expected ErrEmptyDataset, got %v", err)
	}
	sequence, tree := ensemble.State()
	if sequence != Untrained || tree != Untrained {
		t.Fatalf("failed training changed state to %v %v", sequence, tree)
	}
}

func TestLoadMissingArtifact(t *testing.T) {
	dir := t.TempDir()
	store := FileStore{
		TreeModel:     filepath.Join(dir, "tree.json"),
		SequenceModel: filepath.Join(dir, "sequence.json"),
	}
	if err := os.WriteFile(store.TreeModel, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ensemble := New(quickConfig())
	if err := ensemble.Load(store); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
	sequence, tree := ensemble.State()
	if sequence != Untrained || tree != Untrained {
		t.Fatalf("partial load: %v %v", sequence, tree)
	}

	if err := New(quickConfig()).Load(NewDiskvStore(filepath.Join(dir, "kv"))); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound from an empty diskv store, got %v", err)
	}
}

func TestLoadMissingArtifactKeepsTrainedModels(t *testing.T) {
	ensemble := trainedEnsemble(t, quickConfig(), features.SyntheticTable(40, 4))
	before, err := ensemble.Predict(sampleRows())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if err := ensemble.Load(NewDiskvStore(t.TempDir())); !errors.Is(err, ErrArtifactNotFound) {
		t.Fatalf("expected ErrArtifactNotFound, got %v", err)
	}
	after, err := ensemble.Predict(sampleRows())
	if err != nil {
		t.Fatalf("predict after failed load: %v", err)
	}
	if !floats.Equal(before, after) {
		t.Fatalf("failed load changed predictions %v -> %v", before, after)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	fileStore, err := StoreConfig{Directory: filepath.Join(dir, "files")}.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	diskvStore, err := StoreConfig{Kind: "diskv", Directory: filepath.Join(dir, "kv")}.Open()
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	table := features.SyntheticTable(50, 5)
	for _, store := range []ArtifactStore{fileStore, diskvStore} {
		trained := New(quickConfig())
		if _, err := trained.Train(table, store); err != nil {
			t.Fatalf("train: %v", err)
		}
		want, err := trained.Predict(sampleRows())
		if err != nil {
			t.Fatalf("predict: %v", err)
		}

		loaded := New(quickConfig())
		if err := loaded.Load(store); err != nil {
			t.Fatalf("load: %v", err)
		}
		got, err := loaded.Predict(sampleRows())
		if err != nil {
			t.Fatalf("predict after load: %v", err)
		}
		if !floats.Equal(want, got) {
			t.Fatalf("%T: loaded predictions %v differ from %v", store, got, want)
		}
		history, ok := loaded.History()
		if !ok || history.Len() != 50 {
			t.Fatalf("%T: expected a 50 row history, got %d (%v)", store, history.Len(), ok)
		}
	}
}

func shifted(table features.Table, offset float64) features.Table {
	target := table.Columns[features.ColumnTargetMetric]
	moved := make([]float64, len(target))
	for p, value := range target {
		moved[p] = value + offset
	}
	table.Columns[features.ColumnTargetMetric] = moved
	return table
}

func TestRetrainReplaceDiscardsPriorModels(t *testing.T) {
	ensemble := trainedEnsemble(t, quickConfig(), features.SyntheticTable(80, 6))
	before, err := ensemble.Predict(sampleRows())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}

	fresh := shifted(features.SyntheticTable(60, 7), 1000)
	if _, err := ensemble.RetrainOn(fresh, Replace, nil); err != nil {
		t.Fatalf("retrain: %v", err)
	}
	after, err := ensemble.Predict(sampleRows())
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for p := range before {
		if math.Abs(after[p]-before[p]) < 100 {
			t.Fatalf("row %d barely moved after retraining: %g -> %g", p, before[p], after[p])
		}
	}
	history, _ := ensemble.History()
	if history.Len() != 60 {
		t.Fatalf("replace retrain should keep only the new rows, got %d", history.Len())
	}
}

func TestRetrainAccumulateGrowsHistory(t *testing.T) {
	ensemble := trainedEnsemble(t, quickConfig(), features.SyntheticTable(40, 8))
	report, err := ensemble.RetrainOn(features.SyntheticTable(10, 9), Accumulate, nil)
	if err != nil {
		t.Fatalf("retrain: %v", err)
	}
	if report.TrainRows+report.TestRows != 50 {
		t.Fatalf("expected 50 rows, got %d", report.TrainRows+report.TestRows)
	}
	history, _ := ensemble.History()
	if history.Len() != 50 {
		t.Fatalf("expected 50 history rows, got %d", history.Len())
	}
	if _, err := ensemble.RetrainOn(features.SyntheticTable(10, 9), RetrainMode(7), nil); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}

func TestParseRetrainMode(t *testing.T) {
	for name, want := range map[string]RetrainMode{"": Replace, "replace": Replace, "accumulate": Accumulate} {
		got, err := ParseRetrainMode(name)
		if err != nil || got != want {
			t.Fatalf("%q: got %v, %v", name, got, err)
		}
	}
	if _, err := ParseRetrainMode("merge"); err == nil {
		t.Fatal("expected an error for an unknown mode")
	}
}
