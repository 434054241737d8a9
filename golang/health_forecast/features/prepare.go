package features

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrMissingColumn = errors.New("missing required column")
	ErrEmptyDataset  = errors.New("empty dataset")
	ErrShape         = errors.New("inconsistent shape")
)

const (
	// TestSize is the share of rows held out for validation.
	TestSize = 0.2
	// SplitSeed makes the held-out partition reproducible for identical input.
	SplitSeed = 42
)

//Split is a train/test partition of a feature matrix and its target.
//TrainRows and TestRows keep the source row index of every partition row.
type Split struct {
	XTrain, XTest *mat.Dense
	YTrain, YTest []float64
	TrainRows     []int
	TestRows      []int
}

//Prepare extracts the feature matrix and the target from a table and splits them 80/20
//with the fixed seed.
func Prepare(table Table) (*Split, error) {
	x, y, err := Extract(table)
	if err != nil {
		return nil, err
	}
	return TrainTestSplit(x, y, TestSize, SplitSeed)
}

//Extract builds the feature matrix in FeatureColumns order and the target vector.
//Values are not validated: NaN in the table ends up in the matrix.
func Extract(table Table) (x *mat.Dense, y []float64, err error) {
	for _, name := range RequiredColumns {
		if _, ok := table.Columns[name]; !ok {
			return nil, nil, errors.Wrapf(ErrMissingColumn, "column %q", name)
		}
	}

	h := len(table.Columns[ColumnTargetMetric])
	for _, name := range FeatureColumns {
		if len(table.Columns[name]) != h {
			return nil, nil, errors.Wrapf(ErrShape, "column %q has %d rows, target has %d", name, len(table.Columns[name]), h)
		}
	}
	if h == 0 {
		return nil, nil, errors.Wrap(ErrEmptyDataset, "no rows to prepare")
	}

	x = mat.NewDense(h, len(FeatureColumns), nil)
	for q, name := range FeatureColumns {
		column := table.Columns[name]
		for p := 0; p < h; p++ {
			x.Set(p, q, column[p])
		}
	}
	y = append([]float64(nil), table.Columns[ColumnTargetMetric]...)
	return x, y, nil
}

//TrainTestSplit shuffles row indices with the given seed and holds out ceil(testSize*h) rows.
func TrainTestSplit(x *mat.Dense, y []float64, testSize float64, seed int64) (*Split, error) {
	if x == nil || len(y) == 0 {
		return nil, errors.Wrap(ErrEmptyDataset, "nothing to split")
	}
	h, _ := x.Dims()
	if h != len(y) {
		return nil, errors.Wrapf(ErrShape, "matrix has %d rows, target has %d", h, len(y))
	}
	if testSize <= 0 || testSize >= 1 {
		return nil, errors.Errorf("test size must be in (0, 1), got %g", testSize)
	}

	testCount := int(math.Ceil(testSize * float64(h)))
	trainCount := h - testCount
	if trainCount == 0 {
		return nil, errors.Wrapf(ErrEmptyDataset, "%d rows leave no training partition", h)
	}

	permutation := rand.New(rand.NewSource(seed)).Perm(h)
	testRows := permutation[:testCount]
	trainRows := permutation[testCount:]

	return &Split{
		XTrain:    selectRows(x, trainRows),
		XTest:     selectRows(x, testRows),
		YTrain:    selectValues(y, trainRows),
		YTest:     selectValues(y, testRows),
		TrainRows: append([]int(nil), trainRows...),
		TestRows:  append([]int(nil), testRows...),
	}, nil
}

//MatrixFromRows packs equally wide rows into a dense matrix.
func MatrixFromRows(rows [][]float64) (*mat.Dense, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.Wrap(ErrEmptyDataset, "no rows")
	}
	w := len(rows[0])
	data := make([]float64, 0, len(rows)*w)
	for p, row := range rows {
		if len(row) != w {
			return nil, errors.Wrapf(ErrShape, "row %d has width %d, expected %d", p, len(row), w)
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(rows), w, data), nil
}

func selectRows(x *mat.Dense, rows []int) *mat.Dense {
	_, w := x.Dims()
	result := mat.NewDense(len(rows), w, nil)
	for p, src := range rows {
		result.SetRow(p, x.RawRowView(src))
	}
	return result
}

func selectValues(values []float64, rows []int) []float64 {
	result := make([]float64, len(rows))
	for p, src := range rows {
		result[p] = values[src]
	}
	return result
}
