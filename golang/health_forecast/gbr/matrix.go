package gbr

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotTrained = errors.New("booster is not trained")
	ErrShape      = errors.New("inconsistent shape")
)

//Matrix contains the features of a data set and its h x 1 target.
type Matrix struct {
	Features    *mat.Dense
	Target      *mat.Dense
	RecordIds   []int
	Description *string
}

//NewMatrix wraps features and a target vector. Record ids enumerate the rows.
func NewMatrix(features *mat.Dense, target []float64) (Matrix, error) {
	if features == nil {
		return Matrix{}, errors.Wrap(ErrShape, "nil features")
	}
	h := Height(features)
	if h == 0 {
		return Matrix{}, errors.Wrap(ErrShape, "no rows")
	}
	if h != len(target) {
		return Matrix{}, errors.Wrapf(ErrShape, "features have %d rows, target has %d", h, len(target))
	}

	m := Matrix{
		Features:  features,
		Target:    mat.NewDense(h, 1, append([]float64(nil), target...)),
		RecordIds: make([]int, h),
	}
	for p := 0; p < h; p++ {
		m.RecordIds[p] = p
	}
	return m, nil
}

//SetDescription sets a description for a Matrix object.
func (m *Matrix) SetDescription(description string) {
	m.Description = &description
}

func (m Matrix) description() string {
	if m.Description == nil {
		return ""
	}
	return *m.Description
}

//Message accumulates the prediction of the newest tree for this data set and reports the RMSE
//of the ensemble built so far.
func (m Matrix) Message(tree Tree, testIndex int, testBiases []*mat.Dense, logger *zerolog.Logger) float64 {
	testBiases[testIndex].Add(testBiases[testIndex], tree.PredictValue(m.Features))
	learningCurveValue := Rmse(m.Target, testBiases[testIndex])
	logger.Debug().
		Str("dataset", m.description()).
		Float64("rmse", learningCurveValue).
		Msg("learning curve")
	return learningCurveValue
}

//Split splits data of receiver by the BestSplit criterion. ok is false when one side is empty.
func (m Matrix) Split(bias *mat.Dense, split BestSplit) (leftMatrix, rightMatrix Matrix, leftBias, rightBias *mat.Dense, ok bool) {
	h, w := m.Features.Dims()
	leftCount := 0
	for p := 0; p < h; p++ {
		if m.Features.At(p, split.featureIndex) < split.threshold {
			leftCount++
		}
	}
	rightCount := h - leftCount
	if leftCount == 0 || rightCount == 0 {
		return Matrix{}, Matrix{}, nil, nil, false
	}

	leftMatrix = Matrix{
		Features:  mat.NewDense(leftCount, w, nil),
		Target:    mat.NewDense(leftCount, 1, nil),
		RecordIds: make([]int, 0, leftCount),
	}
	rightMatrix = Matrix{
		Features:  mat.NewDense(rightCount, w, nil),
		Target:    mat.NewDense(rightCount, 1, nil),
		RecordIds: make([]int, 0, rightCount),
	}
	leftBias = mat.NewDense(leftCount, 1, nil)
	rightBias = mat.NewDense(rightCount, 1, nil)

	leftInd, rightInd := 0, 0
	for p := 0; p < h; p++ {
		if m.Features.At(p, split.featureIndex) < split.threshold {
			leftMatrix.Features.SetRow(leftInd, m.Features.RawRowView(p))
			leftMatrix.Target.Set(leftInd, 0, m.Target.At(p, 0))
			leftMatrix.RecordIds = append(leftMatrix.RecordIds, m.RecordIds[p])
			leftBias.Set(leftInd, 0, bias.At(p, 0))
			leftInd++
		} else {
			rightMatrix.Features.SetRow(rightInd, m.Features.RawRowView(p))
			rightMatrix.Target.Set(rightInd, 0, m.Target.At(p, 0))
			rightMatrix.RecordIds = append(rightMatrix.RecordIds, m.RecordIds[p])
			rightBias.Set(rightInd, 0, bias.At(p, 0))
			rightInd++
		}
	}
	return leftMatrix, rightMatrix, leftBias, rightBias, true
}

//validatedDimensions checks the consistency of dimensions in arrays from the current dataset
//and returns the height (the number of objects) and the width (the number of features).
func (m Matrix) validatedDimensions() (h, w int, err error) {
	if m.Features == nil || m.Target == nil {
		return 0, 0, errors.Wrap(ErrShape, "matrix without features or target")
	}
	h, w = m.Features.Dims()
	targetH, targetW := m.Target.Dims()
	if targetH != h {
		return 0, 0, errors.Wrapf(ErrShape, "the target height %d is not equal to the features height %d", targetH, h)
	}
	if targetW != 1 {
		return 0, 0, errors.Wrapf(ErrShape, "the width of target should be 1 not %d", targetW)
	}
	if len(m.RecordIds) != h {
		return 0, 0, errors.Wrapf(ErrShape, "%d record ids for %d rows", len(m.RecordIds), h)
	}
	return h, w, nil
}
