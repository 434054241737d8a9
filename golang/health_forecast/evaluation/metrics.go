// Package evaluation scores forecasts against held-out targets.
package evaluation

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

var (
	ErrLengthMismatch = errors.New("prediction and target lengths differ")
	ErrEmpty          = errors.New("nothing to evaluate")
)

type RegressionMetrics struct {
	MSE        float64 `json:"mse"`
	MAE        float64 `json:"mae"`
	R2         float64 `json:"r2"`
	NumSamples int     `json:"num_samples"`
}

// RegressionReport computes mean squared error, mean absolute error and the coefficient of
// determination. R2 is reported as 0 when the target is constant.
func RegressionReport(yTrue, yPred []float64) (RegressionMetrics, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return RegressionMetrics{}, err
	}
	n := float64(len(yTrue))
	residual := floats.SubTo(make([]float64, len(yTrue)), yTrue, yPred)
	r2 := stat.RSquaredFrom(yPred, yTrue, nil)
	if math.IsNaN(r2) || math.IsInf(r2, 0) {
		r2 = 0
	}
	return RegressionMetrics{
		MSE:        floats.Dot(residual, residual) / n,
		MAE:        floats.Distance(yTrue, yPred, 1) / n,
		R2:         r2,
		NumSamples: len(yTrue),
	}, nil
}

type ClassificationMetrics struct {
	Accuracy   float64 `json:"accuracy"`
	Precision  float64 `json:"precision"`
	Recall     float64 `json:"recall"`
	F1Score    float64 `json:"f1_score"`
	Threshold  float64 `json:"threshold"`
	NumSamples int     `json:"num_samples"`
}

// ClassificationReport binarises both vectors at threshold (value >= threshold is positive)
// and scores the positive class.
func ClassificationReport(yTrue, yPred []float64, threshold float64) (ClassificationMetrics, error) {
	if err := checkLengths(yTrue, yPred); err != nil {
		return ClassificationMetrics{}, err
	}
	var tp, fp, fn, correct int
	for p := range yTrue {
		actual := yTrue[p] >= threshold
		predicted := yPred[p] >= threshold
		switch {
		case actual && predicted:
			tp++
		case !actual && predicted:
			fp++
		case actual && !predicted:
			fn++
		}
		if actual == predicted {
			correct++
		}
	}

	precision := safeDivide(float64(tp), float64(tp+fp))
	recall := safeDivide(float64(tp), float64(tp+fn))
	return ClassificationMetrics{
		Accuracy:   float64(correct) / float64(len(yTrue)),
		Precision:  precision,
		Recall:     recall,
		F1Score:    safeDivide(2*precision*recall, precision+recall),
		Threshold:  threshold,
		NumSamples: len(yTrue),
	}, nil
}

func checkLengths(yTrue, yPred []float64) error {
	if len(yTrue) != len(yPred) {
		return errors.Wrapf(ErrLengthMismatch, "%d targets, %d predictions", len(yTrue), len(yPred))
	}
	if len(yTrue) == 0 {
		return ErrEmpty
	}
	return nil
}

func safeDivide(numerator, denominator float64) float64 {
	if denominator == 0 {
		return 0
	}
	return numerator / denominator
}
