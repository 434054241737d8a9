package lstm

import (
	"math/rand"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/cheggaaa/pb.v1"
	"gorgonia.org/tensor"
)

// ToSequence reshapes an n x features matrix into an (n, 1, features) tensor.
func ToSequence(x mat.Matrix) (*tensor.Dense, error) {
	h, w := x.Dims()
	if h == 0 || w == 0 {
		return nil, errors.Wrapf(ErrShape, "cannot build a sequence from a %dx%d matrix", h, w)
	}
	sequence := tensor.New(tensor.WithShape(h, 1, w), tensor.Of(tensor.Float64))
	for p := 0; p < h; p++ {
		for q := 0; q < w; q++ {
			if err := sequence.SetAt(x.At(p, q), p, 0, q); err != nil {
				return nil, errors.Wrap(err, "filling sequence tensor")
			}
		}
	}
	return sequence, nil
}

// flatten reads a (n, steps, features) tensor in row-major order.
// At is used instead of the backing slice so that views are handled too.
func flatten(sequence tensor.Tensor, features int) (data []float64, n, steps int, err error) {
	shape := sequence.Shape()
	if len(shape) != 3 {
		return nil, 0, 0, errors.Wrapf(ErrShape, "expected (batch, steps, features), got %v", shape)
	}
	if shape[2] != features {
		return nil, 0, 0, errors.Wrapf(ErrShape, "expected %d features, got %d", features, shape[2])
	}
	n, steps = shape[0], shape[1]
	if n == 0 || steps == 0 {
		return nil, 0, 0, errors.Wrapf(ErrShape, "empty sequence batch %v", shape)
	}
	data = make([]float64, 0, n*steps*features)
	for i := 0; i < n; i++ {
		for t := 0; t < steps; t++ {
			for q := 0; q < features; q++ {
				value, err := sequence.At(i, t, q)
				if err != nil {
					return nil, 0, 0, errors.Wrap(err, "reading sequence tensor")
				}
				number, ok := value.(float64)
				if !ok {
					return nil, 0, 0, errors.Errorf("sequence tensor must hold float64, got %T", value)
				}
				data = append(data, number)
			}
		}
	}
	return data, n, steps, nil
}

// Fit trains on a flat feature matrix treated as one-step sequences.
func (network *Network) Fit(x mat.Matrix, y []float64) error {
	sequence, err := ToSequence(x)
	if err != nil {
		return err
	}
	return network.FitSequence(sequence, y, nil, nil)
}

// FitSequence trains the network from freshly initialised weights, so repeated calls with the
// same seed and data give the same model. When validation data is supplied its loss is logged
// after every epoch.
func (network *Network) FitSequence(sequence tensor.Tensor, y []float64, validation tensor.Tensor, validationY []float64) error {
	params := network.params
	features := params.InputDim
	data, n, steps, err := flatten(sequence, features)
	if err != nil {
		return err
	}
	if n != len(y) {
		return errors.Wrapf(ErrShape, "%d sequences but %d targets", n, len(y))
	}

	var validationSeqs [][][]float64
	var validationData []float64
	var validationN, validationSteps int
	if validation != nil {
		validationData, validationN, validationSteps, err = flatten(validation, features)
		if err != nil {
			return errors.Wrap(err, "validation data")
		}
		if validationN != len(validationY) {
			return errors.Wrapf(ErrShape, "%d validation sequences but %d targets", validationN, len(validationY))
		}
	}

	rng := rand.New(rand.NewSource(params.Seed))
	network.initWeights(rng)
	network.scaler = fitScaler(data, features, y)
	sequences := network.scaler.sequences(data, n, steps, features)
	target := network.scaler.scaleTarget(y)
	if validation != nil {
		validationSeqs = network.scaler.sequences(validationData, validationN, validationSteps, features)
	}

	grads := newGradients(features, params.HiddenUnits)
	opt := newAdam(params.LearningRate, network.weightSlices())

	var bar *pb.ProgressBar
	if params.ShowProgress {
		bar = pb.StartNew(params.Epochs)
		bar.Prefix("epochs ")
	}

	scale := network.scaler.TargetStd * network.scaler.TargetStd
	for epoch := 0; epoch < params.Epochs; epoch++ {
		order := rng.Perm(n)
		epochLoss := 0.0
		for start := 0; start < n; start += params.BatchSize {
			end := start + params.BatchSize
			if end > n {
				end = n
			}
			batch := order[start:end]
			grads.zero()
			for _, i := range batch {
				prediction, caches, hLast := network.forward(sequences[i])
				diff := prediction - target[i]
				epochLoss += diff * diff
				network.backward(caches, hLast, 2*diff/float64(len(batch)), grads)
			}
			opt.update(network.weightSlices(), grads.slices())
		}

		event := params.Logger.Debug().
			Int("epoch", epoch+1).
			Float64("loss", epochLoss/float64(n)*scale)
		if validationSeqs != nil {
			event = event.Float64("val_loss", network.scaledLoss(validationSeqs, network.scaler.scaleTarget(validationY))*scale)
		}
		event.Msg("sequence model epoch")

		if bar != nil {
			bar.Increment()
		}
	}
	if bar != nil {
		bar.Finish()
	}

	network.trained = true
	params.Logger.Info().
		Int("sequences", n).
		Int("steps", steps).
		Int("epochs", params.Epochs).
		Msg("sequence model trained")
	return nil
}

func (network *Network) scaledLoss(sequences [][][]float64, target []float64) float64 {
	loss := 0.0
	for i, sequence := range sequences {
		prediction, _, _ := network.forward(sequence)
		diff := prediction - target[i]
		loss += diff * diff
	}
	return loss / float64(len(sequences))
}

// Predict returns one value per row of a flat feature matrix.
func (network *Network) Predict(x mat.Matrix) ([]float64, error) {
	if !network.trained {
		return nil, ErrNotTrained
	}
	sequence, err := ToSequence(x)
	if err != nil {
		return nil, err
	}
	return network.PredictSequence(sequence)
}

// PredictSequence returns one value per sequence in the batch.
func (network *Network) PredictSequence(sequence tensor.Tensor) ([]float64, error) {
	if !network.trained {
		return nil, ErrNotTrained
	}
	features := network.params.InputDim
	data, n, steps, err := flatten(sequence, features)
	if err != nil {
		return nil, err
	}
	sequences := network.scaler.sequences(data, n, steps, features)
	result := make([]float64, n)
	for i, s := range sequences {
		prediction, _, _ := network.forward(s)
		result[i] = network.scaler.unscaleTarget(prediction)
	}
	return result, nil
}
