// Package lstm implements a single-layer LSTM regressor with a dense output unit.
//
// Inputs are (batch, steps, features) tensors. A flat feature matrix is treated as a batch of
// one-step sequences, so the same network can consume longer histories unchanged.
package lstm

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

var (
	ErrNotTrained = errors.New("sequence model is not trained")
	ErrShape      = errors.New("inconsistent shape")
)

// Params configures the network and its training loop.
type Params struct {
	InputDim     int
	HiddenUnits  int
	LearningRate float64
	Epochs       int
	BatchSize    int
	Seed         int64
	ShowProgress bool
	Logger       *zerolog.Logger
}

// DefaultParams returns 32 hidden units trained for 30 epochs by Adam(0.001) on mini-batches of 16.
func DefaultParams(inputDim int) Params {
	return Params{
		InputDim:     inputDim,
		HiddenUnits:  32,
		LearningRate: 0.001,
		Epochs:       30,
		BatchSize:    16,
		Seed:         42,
	}
}

func (params Params) validated() (Params, error) {
	switch {
	case params.InputDim <= 0:
		return params, errors.Errorf("input dimension must be positive, got %d", params.InputDim)
	case params.HiddenUnits <= 0:
		return params, errors.Errorf("hidden units must be positive, got %d", params.HiddenUnits)
	case params.LearningRate <= 0:
		return params, errors.Errorf("learning rate must be positive, got %g", params.LearningRate)
	case params.Epochs <= 0:
		return params, errors.Errorf("epochs must be positive, got %d", params.Epochs)
	case params.BatchSize <= 0:
		return params, errors.Errorf("batch size must be positive, got %d", params.BatchSize)
	}
	if params.Logger == nil {
		nop := zerolog.Nop()
		params.Logger = &nop
	}
	return params, nil
}

// Network is an LSTM layer followed by one linear output unit.
// Gate rows of wx, wh and b are ordered input, forget, cell, output.
type Network struct {
	params  Params
	wx      *mat.Dense
	wh      *mat.Dense
	b       *mat.VecDense
	wy      *mat.VecDense
	by      *mat.VecDense
	scaler  scaler
	trained bool
}

// New builds an untrained network.
func New(params Params) (*Network, error) {
	params, err := params.validated()
	if err != nil {
		return nil, err
	}
	network := &Network{params: params}
	network.initWeights(rand.New(rand.NewSource(params.Seed)))
	return network, nil
}

// Trained reports whether the network was fitted or restored from an artifact.
func (network *Network) Trained() bool {
	return network.trained
}

// Params returns the configuration the network was built with.
func (network *Network) Params() Params {
	return network.params
}

func (network *Network) initWeights(rng *rand.Rand) {
	f, h := network.params.InputDim, network.params.HiddenUnits
	network.wx = mat.NewDense(4*h, f, glorot(rng, 4*h*f, f, 4*h))
	network.wh = mat.NewDense(4*h, h, glorot(rng, 4*h*h, h, 4*h))
	network.b = mat.NewVecDense(4*h, nil)
	for k := 0; k < h; k++ {
		network.b.SetVec(h+k, 1)
	}
	network.wy = mat.NewVecDense(h, glorot(rng, h, h, 1))
	network.by = mat.NewVecDense(1, nil)
}

func glorot(rng *rand.Rand, size, fanIn, fanOut int) []float64 {
	limit := math.Sqrt(6 / float64(fanIn+fanOut))
	data := make([]float64, size)
	for p := range data {
		data[p] = (2*rng.Float64() - 1) * limit
	}
	return data
}

type stepCache struct {
	x, hPrev   *mat.VecDense
	cPrev      []float64
	i, f, g, o []float64
	c, tanhC   []float64
}

// forward runs one standardised sequence and returns the scaled output, the per-step caches
// and the last hidden state.
func (network *Network) forward(sequence [][]float64) (float64, []stepCache, *mat.VecDense) {
	hidden := network.params.HiddenUnits
	h := mat.NewVecDense(hidden, nil)
	c := make([]float64, hidden)
	z := mat.NewVecDense(4*hidden, nil)
	recurrent := mat.NewVecDense(4*hidden, nil)
	caches := make([]stepCache, len(sequence))

	for t, xt := range sequence {
		x := mat.NewVecDense(len(xt), xt)
		z.MulVec(network.wx, x)
		recurrent.MulVec(network.wh, h)
		z.AddVec(z, recurrent)
		z.AddVec(z, network.b)
		zd := z.RawVector().Data

		cache := stepCache{
			x: x, hPrev: h, cPrev: c,
			i: make([]float64, hidden), f: make([]float64, hidden),
			g: make([]float64, hidden), o: make([]float64, hidden),
			c: make([]float64, hidden), tanhC: make([]float64, hidden),
		}
		hNext := make([]float64, hidden)
		for k := 0; k < hidden; k++ {
			cache.i[k] = sigmoid(zd[k])
			cache.f[k] = sigmoid(zd[hidden+k])
			cache.g[k] = math.Tanh(zd[2*hidden+k])
			cache.o[k] = sigmoid(zd[3*hidden+k])
			cache.c[k] = cache.f[k]*c[k] + cache.i[k]*cache.g[k]
			cache.tanhC[k] = math.Tanh(cache.c[k])
			hNext[k] = cache.o[k] * cache.tanhC[k]
		}
		caches[t] = cache
		h = mat.NewVecDense(hidden, hNext)
		c = cache.c
	}

	return mat.Dot(network.wy, h) + network.by.AtVec(0), caches, h
}

type gradients struct {
	wx, wh    *mat.Dense
	b, wy, by *mat.VecDense
}

func newGradients(f, hidden int) *gradients {
	return &gradients{
		wx: mat.NewDense(4*hidden, f, nil),
		wh: mat.NewDense(4*hidden, hidden, nil),
		b:  mat.NewVecDense(4*hidden, nil),
		wy: mat.NewVecDense(hidden, nil),
		by: mat.NewVecDense(1, nil),
	}
}

func (grads *gradients) zero() {
	grads.wx.Zero()
	grads.wh.Zero()
	grads.b.Zero()
	grads.wy.Zero()
	grads.by.Zero()
}

func (grads *gradients) slices() [][]float64 {
	return [][]float64{
		grads.wx.RawMatrix().Data,
		grads.wh.RawMatrix().Data,
		grads.b.RawVector().Data,
		grads.wy.RawVector().Data,
		grads.by.RawVector().Data,
	}
}

func (network *Network) weightSlices() [][]float64 {
	return [][]float64{
		network.wx.RawMatrix().Data,
		network.wh.RawMatrix().Data,
		network.b.RawVector().Data,
		network.wy.RawVector().Data,
		network.by.RawVector().Data,
	}
}

// backward accumulates the gradients of one sequence given dy, the loss derivative with respect
// to the output. Gradients flow back through every step.
func (network *Network) backward(caches []stepCache, hLast *mat.VecDense, dy float64, grads *gradients) {
	hidden := network.params.HiddenUnits
	grads.wy.AddScaledVec(grads.wy, dy, hLast)
	grads.by.SetVec(0, grads.by.AtVec(0)+dy)

	dh := mat.NewVecDense(hidden, nil)
	dh.ScaleVec(dy, network.wy)
	dc := make([]float64, hidden)
	dz := mat.NewVecDense(4*hidden, nil)

	for t := len(caches) - 1; t >= 0; t-- {
		cache := caches[t]
		dzd := dz.RawVector().Data
		dhd := dh.RawVector().Data
		for k := 0; k < hidden; k++ {
			do := dhd[k] * cache.tanhC[k]
			dct := dc[k] + dhd[k]*cache.o[k]*(1-cache.tanhC[k]*cache.tanhC[k])
			di := dct * cache.g[k]
			df := dct * cache.cPrev[k]
			dg := dct * cache.i[k]

			dzd[k] = di * cache.i[k] * (1 - cache.i[k])
			dzd[hidden+k] = df * cache.f[k] * (1 - cache.f[k])
			dzd[2*hidden+k] = dg * (1 - cache.g[k]*cache.g[k])
			dzd[3*hidden+k] = do * cache.o[k] * (1 - cache.o[k])
			dc[k] = dct * cache.f[k]
		}

		grads.wx.RankOne(grads.wx, 1, dz, cache.x)
		grads.wh.RankOne(grads.wh, 1, dz, cache.hPrev)
		grads.b.AddVec(grads.b, dz)
		if t > 0 {
			dh.MulVec(network.wh.T(), dz)
		}
	}
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
