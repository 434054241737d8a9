package lstm

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// scaler standardises features and target with statistics of the training partition.
type scaler struct {
	FeatureMean []float64 `json:"feature_mean"`
	FeatureStd  []float64 `json:"feature_std"`
	TargetMean  float64   `json:"target_mean"`
	TargetStd   float64   `json:"target_std"`
}

// fitScaler computes per-feature statistics over every step of every sequence.
// data is laid out as (n, steps, features) in row-major order.
func fitScaler(data []float64, features int, target []float64) scaler {
	rows := len(data) / features
	result := scaler{
		FeatureMean: make([]float64, features),
		FeatureStd:  make([]float64, features),
	}
	column := make([]float64, rows)
	for q := 0; q < features; q++ {
		for p := 0; p < rows; p++ {
			column[p] = data[p*features+q]
		}
		result.FeatureMean[q], result.FeatureStd[q] = meanStd(column)
	}
	result.TargetMean, result.TargetStd = meanStd(target)
	return result
}

func meanStd(values []float64) (float64, float64) {
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) || std < 1e-12 {
		std = 1
	}
	return mean, std
}

// sequences splits flat (n, steps, features) data into standardised per-sample step rows.
func (s scaler) sequences(data []float64, n, steps, features int) [][][]float64 {
	result := make([][][]float64, n)
	for i := 0; i < n; i++ {
		result[i] = make([][]float64, steps)
		for t := 0; t < steps; t++ {
			offset := (i*steps + t) * features
			row := make([]float64, features)
			for q := 0; q < features; q++ {
				row[q] = (data[offset+q] - s.FeatureMean[q]) / s.FeatureStd[q]
			}
			result[i][t] = row
		}
	}
	return result
}

func (s scaler) scaleTarget(target []float64) []float64 {
	result := make([]float64, len(target))
	for p, value := range target {
		result[p] = (value - s.TargetMean) / s.TargetStd
	}
	return result
}

func (s scaler) unscaleTarget(value float64) float64 {
	return value*s.TargetStd + s.TargetMean
}
