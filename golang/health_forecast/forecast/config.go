package forecast

import (
	"runtime"

	"github.com/rs/zerolog"

	"github.com/tarstars/health_forecast/golang/health_forecast/features"
	"github.com/tarstars/health_forecast/golang/health_forecast/gbr"
	"github.com/tarstars/health_forecast/golang/health_forecast/lstm"
)

//Config holds the hyperparameters of both sub-models. It decodes from the JSON config files
//of the command line tool.
type Config struct {
	HiddenUnits  int     `json:"hidden_units"`
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size"`
	LearningRate float64 `json:"learning_rate"`
	Seed         int64   `json:"seed"`
	ShowProgress bool    `json:"show_progress"`

	NStages          int     `json:"n_stages"`
	TreeLearningRate float64 `json:"tree_learning_rate"`
	MaxDepth         int     `json:"max_depth"`
	RegLambda        float64 `json:"reg_lambda"`
	MinLeafSize      int     `json:"min_leaf_size"`
	ThreadsNum       int     `json:"threads_num"`

	Logger *zerolog.Logger `json:"-"`
}

//DefaultConfig returns the sub-model defaults of lstm.DefaultParams and gbr.DefaultBoosterParams.
func DefaultConfig() Config {
	sequence := lstm.DefaultParams(len(features.FeatureColumns))
	tree := gbr.DefaultBoosterParams()
	return Config{
		HiddenUnits:      sequence.HiddenUnits,
		Epochs:           sequence.Epochs,
		BatchSize:        sequence.BatchSize,
		LearningRate:     sequence.LearningRate,
		Seed:             sequence.Seed,
		NStages:          tree.NStages,
		TreeLearningRate: tree.LearningRate,
		MaxDepth:         tree.MaxDepth,
		RegLambda:        tree.RegLambda,
		MinLeafSize:      tree.MinLeafSize,
		ThreadsNum:       runtime.GOMAXPROCS(0),
	}
}

func (config Config) logger() *zerolog.Logger {
	if config.Logger == nil {
		nop := zerolog.Nop()
		return &nop
	}
	return config.Logger
}

func (config Config) sequenceParams() lstm.Params {
	return lstm.Params{
		InputDim:     len(features.FeatureColumns),
		HiddenUnits:  config.HiddenUnits,
		LearningRate: config.LearningRate,
		Epochs:       config.Epochs,
		BatchSize:    config.BatchSize,
		Seed:         config.Seed,
		ShowProgress: config.ShowProgress,
		Logger:       config.logger(),
	}
}

func (config Config) treeParams() gbr.BoosterParams {
	params := gbr.DefaultBoosterParams()
	params.NStages = config.NStages
	params.LearningRate = config.TreeLearningRate
	params.MaxDepth = config.MaxDepth
	params.RegLambda = config.RegLambda
	params.MinLeafSize = config.MinLeafSize
	if config.ThreadsNum > 0 {
		params.ThreadsNum = config.ThreadsNum
	}
	params.Logger = config.logger()
	return params
}
