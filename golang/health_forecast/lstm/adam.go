package lstm

import "math"

// adam keeps first and second moment estimates for every parameter slice.
type adam struct {
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	step         int
	m            [][]float64
	v            [][]float64
}

func newAdam(learningRate float64, params [][]float64) *adam {
	opt := &adam{
		learningRate: learningRate,
		beta1:        0.9,
		beta2:        0.999,
		epsilon:      1e-7,
		m:            make([][]float64, len(params)),
		v:            make([][]float64, len(params)),
	}
	for p, param := range params {
		opt.m[p] = make([]float64, len(param))
		opt.v[p] = make([]float64, len(param))
	}
	return opt
}

// update applies one bias-corrected step in place.
func (opt *adam) update(params, grads [][]float64) {
	opt.step++
	correction1 := 1 - math.Pow(opt.beta1, float64(opt.step))
	correction2 := 1 - math.Pow(opt.beta2, float64(opt.step))

	for p, param := range params {
		m, v, grad := opt.m[p], opt.v[p], grads[p]
		for q := range param {
			m[q] = opt.beta1*m[q] + (1-opt.beta1)*grad[q]
			v[q] = opt.beta2*v[q] + (1-opt.beta2)*grad[q]*grad[q]
			mHat := m[q] / correction1
			vHat := v[q] / correction2
			param[q] -= opt.learningRate * mHat / (math.Sqrt(vHat) + opt.epsilon)
		}
	}
}
