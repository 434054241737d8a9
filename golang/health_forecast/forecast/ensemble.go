// Package forecast combines the sequence and tree regressors into one health-metric forecaster.
//
// An Ensemble owns both sub-models. It trains them on the same partition, mixes their outputs
// with fixed weights and persists them through an ArtifactStore. It is meant for a single owner:
// no method is safe to call concurrently with another on the same value.
package forecast

import (
	"bytes"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/tarstars/health_forecast/golang/health_forecast/evaluation"
	"github.com/tarstars/health_forecast/golang/health_forecast/features"
	"github.com/tarstars/health_forecast/golang/health_forecast/gbr"
	"github.com/tarstars/health_forecast/golang/health_forecast/lstm"
)

// Mixture weights. They sum to one and are not learned.
const (
	SequenceWeight = 0.6
	TreeWeight     = 0.4
)

var (
	ErrInvalidState     = errors.New("ensemble is not trained")
	ErrArtifactNotFound = errors.New("artifact not found")
)

type SlotState int

const (
	Untrained SlotState = iota
	Trained
)

func (state SlotState) String() string {
	switch state {
	case Untrained:
		return "untrained"
	case Trained:
		return "trained"
	}
	return "unknown"
}

type treeSlot struct {
	state SlotState
	model *gbr.Booster
}

type sequenceSlot struct {
	state SlotState
	model *lstm.Network
}

// RetrainMode decides which rows a retrain sees.
type RetrainMode int

const (
	// Replace fits on the new rows only.
	Replace RetrainMode = iota
	// Accumulate fits on the training history followed by the new rows.
	Accumulate
)

func (mode RetrainMode) String() string {
	switch mode {
	case Replace:
		return "replace"
	case Accumulate:
		return "accumulate"
	}
	return "unknown"
}

// ParseRetrainMode maps "replace" (or an empty string) and "accumulate" to a RetrainMode.
func ParseRetrainMode(name string) (RetrainMode, error) {
	switch name {
	case "", "replace":
		return Replace, nil
	case "accumulate":
		return Accumulate, nil
	}
	return Replace, errors.Errorf("unknown retrain mode %q", name)
}

type Ensemble struct {
	config   Config
	tree     treeSlot
	sequence sequenceSlot
	history  *features.Table
}

// TrainReport describes one training call. Metrics are computed on the held-out partition.
type TrainReport struct {
	TrainRows int                          `json:"train_rows"`
	TestRows  int                          `json:"test_rows"`
	Sequence  evaluation.RegressionMetrics `json:"sequence"`
	Tree      evaluation.RegressionMetrics `json:"tree"`
	Ensemble  evaluation.RegressionMetrics `json:"ensemble"`
}

// New returns an ensemble with both slots untrained.
func New(config Config) *Ensemble {
	return &Ensemble{config: config}
}

// State reports the state of the sequence and the tree slot.
func (ensemble *Ensemble) State() (sequence, tree SlotState) {
	return ensemble.sequence.state, ensemble.tree.state
}

// History returns the rows of the last successful training, or of the loaded history artifact.
func (ensemble *Ensemble) History() (features.Table, bool) {
	if ensemble.history == nil {
		return features.Table{}, false
	}
	return *ensemble.history, true
}

// TreeModel returns the trained booster.
func (ensemble *Ensemble) TreeModel() (*gbr.Booster, error) {
	switch ensemble.tree.state {
	case Trained:
		return ensemble.tree.model, nil
	default:
		return nil, errors.Wrap(ErrInvalidState, "tree model")
	}
}

// Train splits the table, fits a booster and a freshly initialised sequence network on the
// training partition and, when store is not nil, saves both. Slots change only when both
// fits succeed.
func (ensemble *Ensemble) Train(table features.Table, store ArtifactStore) (*TrainReport, error) {
	logger := ensemble.config.logger()
	split, err := features.Prepare(table)
	if err != nil {
		return nil, errors.Wrap(err, "preparing features")
	}
	history, err := requiredColumns(table)
	if err != nil {
		return nil, err
	}

	treeParams := ensemble.config.treeParams()
	trainMatrix, err := gbr.NewMatrix(split.XTrain, split.YTrain)
	if err != nil {
		return nil, errors.Wrap(err, "tree training matrix")
	}
	trainMatrix.SetDescription("train")
	testMatrix, err := gbr.NewMatrix(split.XTest, split.YTest)
	if err != nil {
		return nil, errors.Wrap(err, "tree test matrix")
	}
	testMatrix.SetDescription("test")
	treeParams.Monitors = []gbr.Matrix{testMatrix}
	booster, err := gbr.NewBooster(trainMatrix, treeParams)
	if err != nil {
		return nil, errors.Wrap(err, "fitting tree model")
	}

	network, err := lstm.New(ensemble.config.sequenceParams())
	if err != nil {
		return nil, errors.Wrap(err, "building sequence model")
	}
	trainSequence, err := lstm.ToSequence(split.XTrain)
	if err != nil {
		return nil, err
	}
	testSequence, err := lstm.ToSequence(split.XTest)
	if err != nil {
		return nil, err
	}
	if err := network.FitSequence(trainSequence, split.YTrain, testSequence, split.YTest); err != nil {
		return nil, errors.Wrap(err, "fitting sequence model")
	}

	ensemble.tree = treeSlot{state: Trained, model: booster}
	ensemble.sequence = sequenceSlot{state: Trained, model: network}
	ensemble.history = &history

	report, err := ensemble.evaluate(split)
	if err != nil {
		return nil, err
	}
	logger.Info().
		Int("train_rows", report.TrainRows).
		Int("test_rows", report.TestRows).
		Float64("sequence_mse", report.Sequence.MSE).
		Float64("tree_mse", report.Tree.MSE).
		Float64("ensemble_mse", report.Ensemble.MSE).
		Msg("ensemble trained")

	if store != nil {
		if err := ensemble.Save(store); err != nil {
			return report, err
		}
	}
	return report, nil
}

func (ensemble *Ensemble) evaluate(split *features.Split) (*TrainReport, error) {
	sequence, tree, err := ensemble.Components(split.XTest)
	if err != nil {
		return nil, err
	}
	report := &TrainReport{TrainRows: len(split.YTrain), TestRows: len(split.YTest)}
	if report.Sequence, err = evaluation.RegressionReport(split.YTest, sequence); err != nil {
		return nil, err
	}
	if report.Tree, err = evaluation.RegressionReport(split.YTest, tree); err != nil {
		return nil, err
	}
	if report.Ensemble, err = evaluation.RegressionReport(split.YTest, mix(sequence, tree)); err != nil {
		return nil, err
	}
	return report, nil
}

// Components returns the raw sequence and tree predictions for every row.
func (ensemble *Ensemble) Components(rows *mat.Dense) (sequence, tree []float64, err error) {
	switch ensemble.sequence.state {
	case Untrained:
		return nil, nil, errors.Wrap(ErrInvalidState, "sequence model untrained")
	case Trained:
		if sequence, err = ensemble.sequence.model.Predict(rows); err != nil {
			return nil, nil, errors.Wrap(err, "sequence prediction")
		}
	}
	switch ensemble.tree.state {
	case Untrained:
		return nil, nil, errors.Wrap(ErrInvalidState, "tree model untrained")
	case Trained:
		if tree, err = ensemble.tree.model.Predict(rows); err != nil {
			return nil, nil, errors.Wrap(err, "tree prediction")
		}
	}
	return sequence, tree, nil
}

// Predict returns SequenceWeight*sequence + TreeWeight*tree for every row of an n x 3 matrix
// in features.FeatureColumns order.
func (ensemble *Ensemble) Predict(rows *mat.Dense) ([]float64, error) {
	sequence, tree, err := ensemble.Components(rows)
	if err != nil {
		return nil, err
	}
	return mix(sequence, tree), nil
}

func mix(sequence, tree []float64) []float64 {
	result := make([]float64, len(sequence))
	for p := range result {
		result[p] = SequenceWeight*sequence[p] + TreeWeight*tree[p]
	}
	return result
}

// RetrainOn is a cold retrain of both sub-models. Replace fits on table alone; Accumulate fits on
// the training history followed by table.
func (ensemble *Ensemble) RetrainOn(table features.Table, mode RetrainMode, store ArtifactStore) (*TrainReport, error) {
	training := table
	switch mode {
	case Replace:
	case Accumulate:
		if ensemble.history != nil {
			merged, err := ensemble.history.Append(table)
			if err != nil {
				return nil, errors.Wrap(err, "accumulating history")
			}
			training = merged
		}
	default:
		return nil, errors.Errorf("unknown retrain mode %d", mode)
	}
	ensemble.config.logger().Info().
		Stringer("mode", mode).
		Int("rows", training.Len()).
		Msg("retraining ensemble")
	return ensemble.Train(training, store)
}

// Save writes both sub-models and, when known, the training history.
func (ensemble *Ensemble) Save(store ArtifactStore) error {
	if ensemble.tree.state != Trained || ensemble.sequence.state != Trained {
		return errors.Wrap(ErrInvalidState, "nothing to save")
	}
	treeData, err := ensemble.tree.model.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encoding tree model")
	}
	sequenceData, err := ensemble.sequence.model.MarshalBinary()
	if err != nil {
		return errors.Wrap(err, "encoding sequence model")
	}
	if err := store.Put(TreeArtifact, treeData); err != nil {
		return err
	}
	if err := store.Put(SequenceArtifact, sequenceData); err != nil {
		return err
	}
	if ensemble.history == nil {
		return nil
	}

	historyMatrix, err := features.TableMatrix(*ensemble.history)
	if err != nil {
		return errors.Wrap(err, "encoding history")
	}
	var buffer bytes.Buffer
	if err := features.WriteNpy(&buffer, historyMatrix); err != nil {
		return errors.Wrap(err, "encoding history")
	}
	return store.Put(HistoryArtifact, buffer.Bytes())
}

// Load replaces both slots with the stored sub-models. If either model artifact is missing it
// returns ErrArtifactNotFound and no slot is modified. The history artifact is optional.
func (ensemble *Ensemble) Load(store ArtifactStore) error {
	for _, name := range []string{TreeArtifact, SequenceArtifact} {
		if !store.Has(name) {
			return errors.Wrapf(ErrArtifactNotFound, "artifact %q", name)
		}
	}

	treeData, err := store.Get(TreeArtifact)
	if err != nil {
		return err
	}
	booster := &gbr.Booster{}
	if err := booster.UnmarshalBinary(treeData); err != nil {
		return errors.Wrap(err, "decoding tree model")
	}

	sequenceData, err := store.Get(SequenceArtifact)
	if err != nil {
		return err
	}
	// dimensions and hyperparameters come from the artifact
	params := lstm.DefaultParams(len(features.FeatureColumns))
	params.Logger = ensemble.config.logger()
	network, err := lstm.New(params)
	if err != nil {
		return err
	}
	if err := network.UnmarshalBinary(sequenceData); err != nil {
		return errors.Wrap(err, "decoding sequence model")
	}

	var history *features.Table
	if store.Has(HistoryArtifact) {
		historyData, err := store.Get(HistoryArtifact)
		if err != nil {
			return err
		}
		historyMatrix, err := features.ReadNpy(bytes.NewReader(historyData))
		if err != nil {
			return errors.Wrap(err, "decoding history")
		}
		table, err := features.TableFromMatrix(historyMatrix)
		if err != nil {
			return errors.Wrap(err, "decoding history")
		}
		history = &table
	}

	ensemble.tree = treeSlot{state: Trained, model: booster}
	ensemble.sequence = sequenceSlot{state: Trained, model: network}
	ensemble.history = history
	ensemble.config.logger().Info().
		Int("trees", len(booster.Trees)).
		Bool("history", history != nil).
		Msg("ensemble loaded")
	return nil
}

func requiredColumns(table features.Table) (features.Table, error) {
	m, err := features.TableMatrix(table)
	if err != nil {
		return features.Table{}, errors.Wrap(err, "recording history")
	}
	return features.TableFromMatrix(m)
}
