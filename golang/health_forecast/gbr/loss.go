package gbr

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

//SplitLoss supplies the first and the second derivatives of a pointwise loss
//with respect to the current prediction.
type SplitLoss interface {
	lossDer1(target, bias float64) float64
	lossDer2(target, bias float64) float64
}

//MseLoss is the squared error loss (y - f)^2 / 2.
type MseLoss struct{}

func (MseLoss) lossDer1(target, bias float64) float64 {
	return bias - target
}

func (MseLoss) lossDer2(_, _ float64) float64 {
	return 1
}

//Rmse computes the root mean squared error between two h x 1 matrices.
func Rmse(target, prediction *mat.Dense) float64 {
	h := Height(target)
	if h == 0 {
		return 0
	}
	s := 0.0
	for p := 0; p < h; p++ {
		d := target.At(p, 0) - prediction.At(p, 0)
		s += d * d
	}
	return math.Sqrt(s / float64(h))
}

//Height returns the number of rows of a matrix.
func Height(m mat.Matrix) int {
	h, _ := m.Dims()
	return h
}

//newtonStep returns the optimal leaf weight for accumulated gradient and hessian
//and the change of the second order loss approximation it produces.
func newtonStep(grad, hess, regLambda float64) (weight, deltaLoss float64) {
	denominator := hess + regLambda
	if denominator <= 0 {
		return 0, 0
	}
	weight = -grad / denominator
	deltaLoss = -0.5 * grad * grad / denominator
	return
}
