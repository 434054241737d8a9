package gbr

import (
	"encoding/json"
	"fmt"
	"io"
	"path"
	"runtime"

	"github.com/goccy/go-graphviz"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

//Booster is the model class. BaseScore is the starting prediction every tree adds to.
type Booster struct {
	BaseScore           float64
	NFeatures           int
	Trees               []Tree
	LearningCurveTitles []string
}

//BoosterParams collect arguments required to construct a booster.
type BoosterParams struct {
	NStages      int
	LearningRate float64
	MaxDepth     int
	RegLambda    float64
	MinLeafSize  int
	LossKind     SplitLoss
	Monitors     []Matrix
	ThreadsNum   int
	Logger       *zerolog.Logger
}

//DefaultBoosterParams returns 200 stages of depth 4 trees shrunk by 0.05.
func DefaultBoosterParams() BoosterParams {
	return BoosterParams{
		NStages:      200,
		LearningRate: 0.05,
		MaxDepth:     4,
		RegLambda:    1e-4,
		MinLeafSize:  1,
		LossKind:     MseLoss{},
		ThreadsNum:   runtime.GOMAXPROCS(0),
	}
}

func (params BoosterParams) validated() (BoosterParams, error) {
	if params.NStages <= 0 {
		return params, errors.Errorf("number of stages must be positive, got %d", params.NStages)
	}
	if params.LearningRate <= 0 {
		return params, errors.Errorf("learning rate must be positive, got %g", params.LearningRate)
	}
	if params.MaxDepth <= 0 {
		return params, errors.Errorf("max depth must be positive, got %d", params.MaxDepth)
	}
	if params.RegLambda < 0 {
		return params, errors.Errorf("regularisation must not be negative, got %g", params.RegLambda)
	}
	if params.MinLeafSize < 1 {
		params.MinLeafSize = 1
	}
	if params.LossKind == nil {
		params.LossKind = MseLoss{}
	}
	if params.Logger == nil {
		nop := zerolog.Nop()
		params.Logger = &nop
	}
	return params, nil
}

//NewBooster fits params.NStages trees to the matrix. Every monitor gets its RMSE recorded
//after each stage.
func NewBooster(matrix Matrix, params BoosterParams) (*Booster, error) {
	params, err := params.validated()
	if err != nil {
		return nil, err
	}
	h, w, err := matrix.validatedDimensions()
	if err != nil {
		return nil, err
	}
	if h == 0 {
		return nil, errors.Wrap(ErrShape, "no rows to fit")
	}

	ebooster := &Booster{
		BaseScore:           stat.Mean(mat.Col(nil, 0, matrix.Target), nil),
		NFeatures:           w,
		Trees:               make([]Tree, 0, params.NStages),
		LearningCurveTitles: make([]string, 0, len(params.Monitors)),
	}

	bias := constantColumn(h, ebooster.BaseScore)

	testBiases := make([]*mat.Dense, len(params.Monitors))
	for testIndex, monitor := range params.Monitors {
		monitorH, monitorW, err := monitor.validatedDimensions()
		if err != nil {
			return nil, errors.Wrapf(err, "monitor %d", testIndex)
		}
		if monitorW != w {
			return nil, errors.Wrapf(ErrShape, "monitor %d has %d features, expected %d", testIndex, monitorW, w)
		}
		ebooster.LearningCurveTitles = append(ebooster.LearningCurveTitles, monitor.description())
		testBiases[testIndex] = constantColumn(monitorH, ebooster.BaseScore)
	}

	for stage := 0; stage < params.NStages; stage++ {
		params.Logger.Debug().Int("tree", stage+1).Msg("building tree")
		tree := NewTree(matrix, bias, params)
		bias.Add(bias, tree.PredictValue(matrix.Features))
		for testIndex, monitor := range params.Monitors {
			learningCurveValue := monitor.Message(tree, testIndex, testBiases, params.Logger)
			tree.Curve = append(tree.Curve, learningCurveValue)
		}
		ebooster.Trees = append(ebooster.Trees, tree)
	}

	params.Logger.Info().
		Int("trees", len(ebooster.Trees)).
		Int("rows", h).
		Float64("train_rmse", Rmse(matrix.Target, bias)).
		Msg("booster fitted")
	return ebooster, nil
}

//PredictValue infers values of the target as an h x 1 matrix. A non-nil treesNumber limits
//the prediction to the first trees of the ensemble.
func (ebooster Booster) PredictValue(features *mat.Dense, treesNumber *int) (*mat.Dense, error) {
	if len(ebooster.Trees) == 0 {
		return nil, ErrNotTrained
	}
	h, w := features.Dims()
	if w != ebooster.NFeatures {
		return nil, errors.Wrapf(ErrShape, "got %d features, the booster was fitted on %d", w, ebooster.NFeatures)
	}

	n := len(ebooster.Trees)
	if treesNumber != nil && *treesNumber >= 0 && *treesNumber < n {
		n = *treesNumber
	}

	prediction := constantColumn(h, ebooster.BaseScore)
	for treeInd := 0; treeInd < n; treeInd++ {
		prediction.Add(prediction, ebooster.Trees[treeInd].PredictValue(features))
	}
	return prediction, nil
}

//Predict returns one value per feature row.
func (ebooster Booster) Predict(features *mat.Dense) ([]float64, error) {
	prediction, err := ebooster.PredictValue(features, nil)
	if err != nil {
		return nil, err
	}
	return mat.Col(nil, 0, prediction), nil
}

//FeatureImportance sums split gains per feature and normalises them to one.
func (ebooster Booster) FeatureImportance() []float64 {
	importance := make([]float64, ebooster.NFeatures)
	total := 0.0
	for _, tree := range ebooster.Trees {
		for _, node := range tree.Nodes {
			if node.IsLeaf() {
				continue
			}
			importance[node.Feature] += node.Gain
			total += node.Gain
		}
	}
	if total > 0 {
		for q := range importance {
			importance[q] /= total
		}
	}
	return importance
}

//MarshalBinary serialises the booster as JSON.
func (ebooster Booster) MarshalBinary() ([]byte, error) {
	modelByteRepr, err := json.MarshalIndent(ebooster, "", "  ")
	return modelByteRepr, errors.Wrap(err, "marshal booster")
}

//UnmarshalBinary restores a booster written by MarshalBinary.
func (ebooster *Booster) UnmarshalBinary(data []byte) error {
	var restored Booster
	if err := json.Unmarshal(data, &restored); err != nil {
		return errors.Wrap(err, "unmarshal booster")
	}
	if len(restored.Trees) == 0 {
		return errors.Wrap(ErrNotTrained, "artifact holds no trees")
	}
	*ebooster = restored
	return nil
}

//RenderTrees draws every tree into picturesDirectory as <dumpPrefix>_<index>.<figureType>.
func (ebooster Booster) RenderTrees(dumpPrefix, figureType, picturesDirectory string) error {
	graphvizType, ok := map[string]graphviz.Format{
		"png": graphviz.PNG,
		"svg": graphviz.SVG,
		"jpg": graphviz.JPG,
	}[figureType]
	if !ok {
		return errors.Errorf("unknown figure type %q", figureType)
	}

	for graphInd, currentTree := range ebooster.Trees {
		filename := fmt.Sprintf("%s_%05d.%s", dumpPrefix, graphInd, figureType)
		graphViz, graph, err := currentTree.DrawGraph()
		if err != nil {
			return errors.Wrapf(err, "tree %d", graphInd)
		}
		err = graphViz.RenderFilename(graph, graphvizType, path.Join(picturesDirectory, filename))
		graph.Close()
		graphViz.Close()
		if err != nil {
			return errors.Wrapf(err, "render tree %d", graphInd)
		}
	}
	return nil
}

type LearningCurvesDump struct {
	Titles []string
	Values [][]float64
}

//DumpLearningCurves writes per-stage monitor values as JSON.
func (ebooster Booster) DumpLearningCurves(destination io.Writer) error {
	var learningCurvesDump LearningCurvesDump

	learningCurvesDump.Titles = ebooster.LearningCurveTitles
	learningCurvesDump.Values = make([][]float64, 0, len(ebooster.Trees))
	for _, currentTree := range ebooster.Trees {
		learningCurvesDump.Values = append(learningCurvesDump.Values, currentTree.Curve)
	}

	bytesResult, err := json.MarshalIndent(learningCurvesDump, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal learning curves")
	}
	_, err = destination.Write(bytesResult)
	return errors.Wrap(err, "write learning curves")
}

func constantColumn(h int, value float64) *mat.Dense {
	data := make([]float64, h)
	for p := range data {
		data[p] = value
	}
	return mat.NewDense(h, 1, data)
}
