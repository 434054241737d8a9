package lstm

import (
	"math"
	"math/rand"
	"testing"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/tensor"
)

func linearData(n int, seed int64) (*mat.Dense, []float64) {
	rng := rand.New(rand.NewSource(seed))
	x := mat.NewDense(n, 3, nil)
	y := make([]float64, n)
	for p := 0; p < n; p++ {
		a, b, c := rng.Float64()*10, rng.Float64()*5, rng.Float64()
		x.SetRow(p, []float64{a, b, c})
		y[p] = 2*a - b + 0.5*c
	}
	return x, y
}

func mse(a, b []float64) float64 {
	total := 0.0
	for p := range a {
		total += (a[p] - b[p]) * (a[p] - b[p])
	}
	return total / float64(len(a))
}

func TestPredictBeforeFit(t *testing.T) {
	network, err := New(DefaultParams(3))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if _, err := network.Predict(mat.NewDense(1, 3, nil)); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained, got %v", err)
	}
	if _, err := network.MarshalBinary(); !errors.Is(err, ErrNotTrained) {
		t.Fatalf("expected ErrNotTrained from marshal, got %v", err)
	}
}

func TestInvalidParams(t *testing.T) {
	params := DefaultParams(3)
	params.BatchSize = 0
	if _, err := New(params); err == nil {
		t.Fatal("expected an error for zero batch size")
	}
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	params := DefaultParams(2)
	params.HiddenUnits = 3
	params.Seed = 7
	network, err := New(params)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	sequence := [][]float64{{0.5, -1}, {1.5, 0.25}, {-0.75, 2}}

	grads := newGradients(2, 3)
	_, caches, hLast := network.forward(sequence)
	network.backward(caches, hLast, 1, grads)

	weights := network.weightSlices()
	analytic := grads.slices()
	const eps = 1e-6
	for p, slice := range weights {
		for q := range slice {
			saved := slice[q]
			slice[q] = saved + eps
			up, _, _ := network.forward(sequence)
			slice[q] = saved - eps
			down, _, _ := network.forward(sequence)
			slice[q] = saved

			numeric := (up - down) / (2 * eps)
			if math.Abs(numeric-analytic[p][q]) > 1e-6+1e-4*math.Abs(numeric) {
				t.Fatalf("parameter %d[%d]: analytic %g, numeric %g", p, q, analytic[p][q], numeric)
			}
		}
	}
}

func TestFitReducesError(t *testing.T) {
	x, y := linearData(200, 1)
	params := DefaultParams(3)
	params.HiddenUnits = 16
	params.LearningRate = 0.01
	network, err := New(params)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := network.Fit(x, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	prediction, err := network.Predict(x)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if len(prediction) != 200 {
		t.Fatalf("expected 200 predictions, got %d", len(prediction))
	}
	for _, value := range prediction {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			t.Fatalf("non-finite prediction %g", value)
		}
	}
	variance := stat.Variance(y, nil)
	if got := mse(prediction, y); got > 0.5*variance {
		t.Fatalf("mse %g not below half the target variance %g", got, variance)
	}
}

func TestFitIsDeterministic(t *testing.T) {
	x, y := linearData(40, 3)
	params := DefaultParams(3)
	params.Epochs = 3

	predict := func() []float64 {
		network, err := New(params)
		if err != nil {
			t.Fatalf("new: %v", err)
		}
		if err := network.Fit(x, y); err != nil {
			t.Fatalf("fit: %v", err)
		}
		prediction, err := network.Predict(x)
		if err != nil {
			t.Fatalf("predict: %v", err)
		}
		return prediction
	}
	first, second := predict(), predict()
	for p := range first {
		if first[p] != second[p] {
			t.Fatalf("row %d differs: %g vs %g", p, first[p], second[p])
		}
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	x, y := linearData(30, 5)
	params := DefaultParams(3)
	params.Epochs = 2
	network, err := New(params)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := network.Fit(x, y); err != nil {
		t.Fatalf("fit: %v", err)
	}
	data, err := network.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	restored := &Network{}
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !restored.Trained() || restored.Params().HiddenUnits != 32 {
		t.Fatalf("unexpected restored params %+v", restored.Params())
	}
	want, _ := network.Predict(x)
	got, err := restored.Predict(x)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	for p := range want {
		if want[p] != got[p] {
			t.Fatalf("row %d: %g vs %g", p, want[p], got[p])
		}
	}

	if err := restored.UnmarshalBinary([]byte(`{"input_dim":3,"hidden_units":2,"wx":[1]}`)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for truncated weights, got %v", err)
	}
}

func TestSequenceShapes(t *testing.T) {
	x, y := linearData(20, 9)
	params := DefaultParams(3)
	params.Epochs = 1
	network, err := New(params)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	wrong := tensor.New(tensor.WithShape(20, 3), tensor.Of(tensor.Float64))
	if err := network.FitSequence(wrong, y, nil, nil); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for a 2-d tensor, got %v", err)
	}
	if err := network.Fit(x, y[:10]); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for target mismatch, got %v", err)
	}

	// three steps per sample
	long := tensor.New(tensor.WithShape(20, 3, 3), tensor.Of(tensor.Float64))
	for i := 0; i < 20; i++ {
		for step := 0; step < 3; step++ {
			for q := 0; q < 3; q++ {
				if err := long.SetAt(x.At(i, q)+float64(step), i, step, q); err != nil {
					t.Fatalf("set: %v", err)
				}
			}
		}
	}
	if err := network.FitSequence(long, y, long, y); err != nil {
		t.Fatalf("fit sequence: %v", err)
	}
	prediction, err := network.PredictSequence(long)
	if err != nil {
		t.Fatalf("predict sequence: %v", err)
	}
	if len(prediction) != 20 {
		t.Fatalf("expected 20 predictions, got %d", len(prediction))
	}
	if _, err := network.Predict(mat.NewDense(2, 4, nil)); !errors.Is(err, ErrShape) {
		t.Fatalf("expected ErrShape for wrong feature count, got %v", err)
	}
}
