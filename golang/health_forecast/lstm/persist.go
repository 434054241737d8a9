package lstm

import (
	"encoding/json"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

type artifact struct {
	InputDim     int       `json:"input_dim"`
	HiddenUnits  int       `json:"hidden_units"`
	LearningRate float64   `json:"learning_rate"`
	Epochs       int       `json:"epochs"`
	BatchSize    int       `json:"batch_size"`
	Seed         int64     `json:"seed"`
	Wx           []float64 `json:"wx"`
	Wh           []float64 `json:"wh"`
	B            []float64 `json:"b"`
	Wy           []float64 `json:"wy"`
	By           float64   `json:"by"`
	Scaler       scaler    `json:"scaler"`
}

// MarshalBinary encodes weights and standardisation statistics as JSON.
func (network *Network) MarshalBinary() ([]byte, error) {
	if !network.trained {
		return nil, ErrNotTrained
	}
	params := network.params
	return json.Marshal(artifact{
		InputDim:     params.InputDim,
		HiddenUnits:  params.HiddenUnits,
		LearningRate: params.LearningRate,
		Epochs:       params.Epochs,
		BatchSize:    params.BatchSize,
		Seed:         params.Seed,
		Wx:           network.wx.RawMatrix().Data,
		Wh:           network.wh.RawMatrix().Data,
		B:            network.b.RawVector().Data,
		Wy:           network.wy.RawVector().Data,
		By:           network.by.AtVec(0),
		Scaler:       network.scaler,
	})
}

// UnmarshalBinary restores a trained network. The logger and progress flag are kept.
func (network *Network) UnmarshalBinary(data []byte) error {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return errors.Wrap(err, "decoding sequence model")
	}
	f, h := a.InputDim, a.HiddenUnits
	if f <= 0 || h <= 0 {
		return errors.Wrapf(ErrShape, "sequence model has %d inputs and %d hidden units", f, h)
	}
	if len(a.Wx) != 4*h*f || len(a.Wh) != 4*h*h || len(a.B) != 4*h || len(a.Wy) != h {
		return errors.Wrap(ErrShape, "sequence model weights do not match its dimensions")
	}
	if len(a.Scaler.FeatureMean) != f || len(a.Scaler.FeatureStd) != f {
		return errors.Wrap(ErrShape, "sequence model scaler does not match its inputs")
	}

	params := network.params
	params.InputDim = f
	params.HiddenUnits = h
	params.LearningRate = a.LearningRate
	params.Epochs = a.Epochs
	params.BatchSize = a.BatchSize
	params.Seed = a.Seed
	params, err := params.validated()
	if err != nil {
		return errors.Wrap(err, "sequence model parameters")
	}

	network.params = params
	network.wx = mat.NewDense(4*h, f, a.Wx)
	network.wh = mat.NewDense(4*h, h, a.Wh)
	network.b = mat.NewVecDense(4*h, a.B)
	network.wy = mat.NewVecDense(h, a.Wy)
	network.by = mat.NewVecDense(1, []float64{a.By})
	network.scaler = a.Scaler
	network.trained = true
	return nil
}
