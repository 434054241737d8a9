package main

import (
	"encoding/json"
	"os"
	"path"
	"strings"

	"github.com/alexflint/go-arg"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"

	"github.com/tarstars/health_forecast/golang/health_forecast/evaluation"
	"github.com/tarstars/health_forecast/golang/health_forecast/features"
	"github.com/tarstars/health_forecast/golang/health_forecast/forecast"
)

type args struct {
	Mode   string `arg:"positional,help:train or predict or evaluate or retrain or graph or demo"`
	Config string `arg:"-c,help:JSON config of the selected mode (default $FORECAST_CONFIG)"`
}

func (args) Description() string {
	return "health_forecast trains and serves the step/heart rate/sleep ensemble forecaster"
}

var logger zerolog.Logger

func decodeConfig(srcConfig string, out interface{}) error {
	if srcConfig == "" {
		return nil
	}
	file, err := os.Open(srcConfig)
	if err != nil {
		return errors.Wrap(err, "open config")
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	decoder.DisallowUnknownFields()
	return errors.Wrapf(decoder.Decode(out), "decode %s", srcConfig)
}

// modelConfig overlays the JSON "model" section on the defaults.
type modelConfig struct {
	forecast.Config
}

func (config *modelConfig) UnmarshalJSON(data []byte) error {
	config.Config = forecast.DefaultConfig()
	return json.Unmarshal(data, &config.Config)
}

// withLogger falls back to the defaults when the config file had no "model" section.
func (config modelConfig) withLogger() forecast.Config {
	result := config.Config
	if result.NStages == 0 {
		result = forecast.DefaultConfig()
	}
	result.Logger = &logger
	return result
}

type TrainConfig struct {
	FileNameData          string               `json:"filename_data"`
	Model                 modelConfig          `json:"model"`
	Store                 forecast.StoreConfig `json:"store"`
	FileNameLearningCurve string               `json:"filename_learning_curve"`
}

func train(srcConfig string) error {
	var trainConfig TrainConfig
	if err := decodeConfig(srcConfig, &trainConfig); err != nil {
		return err
	}
	table, err := features.ReadTableFile(trainConfig.FileNameData)
	if err != nil {
		return err
	}
	store, err := trainConfig.Store.Open()
	if err != nil {
		return err
	}

	ensemble := forecast.New(trainConfig.Model.withLogger())
	report, err := ensemble.Train(table, store)
	if err != nil {
		return err
	}
	if err := dumpLearningCurve(ensemble, trainConfig.FileNameLearningCurve); err != nil {
		return err
	}
	return printJSON(report)
}

func dumpLearningCurve(ensemble *forecast.Ensemble, fileName string) error {
	if fileName == "" {
		return nil
	}
	booster, err := ensemble.TreeModel()
	if err != nil {
		return err
	}
	dst, err := os.Create(fileName)
	if err != nil {
		return errors.Wrap(err, "create learning curve")
	}
	if err := booster.DumpLearningCurves(dst); err != nil {
		dst.Close()
		return err
	}
	return errors.Wrap(dst.Close(), "close learning curve")
}

type PredictConfig struct {
	FileNameFeatures   string               `json:"filename_features"`
	FileNameData       string               `json:"filename_data"`
	FileNamePrediction string               `json:"filename_prediction"`
	Store              forecast.StoreConfig `json:"store"`
}

func predict(srcConfig string) error {
	var predictConfig PredictConfig
	if err := decodeConfig(srcConfig, &predictConfig); err != nil {
		return err
	}
	ensemble, err := loadEnsemble(predictConfig.Store, forecast.DefaultConfig())
	if err != nil {
		return err
	}

	var rows *mat.Dense
	if predictConfig.FileNameFeatures != "" {
		rows, err = features.ReadNpyFile(predictConfig.FileNameFeatures)
	} else {
		var table features.Table
		if table, err = features.ReadTableFile(predictConfig.FileNameData); err == nil {
			rows, _, err = features.Extract(table)
		}
	}
	if err != nil {
		return err
	}

	prediction, err := ensemble.Predict(rows)
	if err != nil {
		return err
	}
	logger.Info().Int("rows", len(prediction)).Str("destination", predictConfig.FileNamePrediction).Msg("predicted")
	if predictConfig.FileNamePrediction == "" {
		return printJSON(prediction)
	}
	return features.WriteNpyFile(predictConfig.FileNamePrediction, features.Column(prediction))
}

type EvaluateConfig struct {
	FileNameData string               `json:"filename_data"`
	Store        forecast.StoreConfig `json:"store"`
	Threshold    float64              `json:"threshold"`
}

type evaluationReport struct {
	Regression     evaluation.RegressionMetrics     `json:"regression"`
	Classification evaluation.ClassificationMetrics `json:"classification"`
}

func evaluate(srcConfig string) error {
	var evaluateConfig EvaluateConfig
	if err := decodeConfig(srcConfig, &evaluateConfig); err != nil {
		return err
	}
	ensemble, err := loadEnsemble(evaluateConfig.Store, forecast.DefaultConfig())
	if err != nil {
		return err
	}
	table, err := features.ReadTableFile(evaluateConfig.FileNameData)
	if err != nil {
		return err
	}
	x, y, err := features.Extract(table)
	if err != nil {
		return err
	}
	prediction, err := ensemble.Predict(x)
	if err != nil {
		return err
	}
	report, err := score(y, prediction, evaluateConfig.Threshold)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func score(y, prediction []float64, threshold float64) (*evaluationReport, error) {
	regression, err := evaluation.RegressionReport(y, prediction)
	if err != nil {
		return nil, err
	}
	classification, err := evaluation.ClassificationReport(y, prediction, threshold)
	if err != nil {
		return nil, err
	}
	return &evaluationReport{Regression: regression, Classification: classification}, nil
}

type RetrainConfig struct {
	FileNameData string               `json:"filename_data"`
	Mode         string               `json:"mode"`
	Model        modelConfig          `json:"model"`
	Store        forecast.StoreConfig `json:"store"`
}

func retrain(srcConfig string) error {
	var retrainConfig RetrainConfig
	if err := decodeConfig(srcConfig, &retrainConfig); err != nil {
		return err
	}
	mode, err := forecast.ParseRetrainMode(retrainConfig.Mode)
	if err != nil {
		return err
	}
	table, err := features.ReadTableFile(retrainConfig.FileNameData)
	if err != nil {
		return err
	}
	store, err := retrainConfig.Store.Open()
	if err != nil {
		return err
	}

	ensemble := forecast.New(retrainConfig.Model.withLogger())
	if err := ensemble.Load(store); err != nil {
		if !errors.Is(err, forecast.ErrArtifactNotFound) {
			return err
		}
		logger.Warn().Err(err).Msg("no stored ensemble, training from scratch")
	}
	report, err := ensemble.RetrainOn(table, mode, store)
	if err != nil {
		return err
	}
	return printJSON(report)
}

type GraphConfig struct {
	Store             forecast.StoreConfig `json:"store"`
	FigureType        string               `json:"figure_type"`
	PicturesDirectory string               `json:"pictures_directory"`
	DumpPrefix        string               `json:"dump_prefix"`
}

func graph(srcConfig string) error {
	var graphConfig GraphConfig
	if err := decodeConfig(srcConfig, &graphConfig); err != nil {
		return err
	}
	ensemble, err := loadEnsemble(graphConfig.Store, forecast.DefaultConfig())
	if err != nil {
		return err
	}
	booster, err := ensemble.TreeModel()
	if err != nil {
		return err
	}
	if graphConfig.FigureType == "" {
		graphConfig.FigureType = "svg"
	}
	if graphConfig.DumpPrefix == "" {
		graphConfig.DumpPrefix = "tree"
	}
	if graphConfig.PicturesDirectory != "" {
		if err := os.MkdirAll(graphConfig.PicturesDirectory, 0o755); err != nil {
			return errors.Wrap(err, "pictures directory")
		}
	}
	return booster.RenderTrees(graphConfig.DumpPrefix, graphConfig.FigureType, graphConfig.PicturesDirectory)
}

type DemoConfig struct {
	Rows      int                  `json:"rows"`
	Seed      int64                `json:"seed"`
	Threshold float64              `json:"threshold"`
	Model     modelConfig          `json:"model"`
	Store     forecast.StoreConfig `json:"store"`
}

// demo trains on synthetic rows, forecasts two sample days and scores the whole table.
func demo(srcConfig string) error {
	demoConfig := DemoConfig{Rows: 200, Seed: 1, Threshold: 50}
	if err := decodeConfig(srcConfig, &demoConfig); err != nil {
		return err
	}

	var store forecast.ArtifactStore
	if demoConfig.Store.Directory != "" {
		var err error
		if store, err = demoConfig.Store.Open(); err != nil {
			return err
		}
	}

	table := features.SyntheticTable(demoConfig.Rows, demoConfig.Seed)
	ensemble := forecast.New(demoConfig.Model.withLogger())
	if _, err := ensemble.Train(table, store); err != nil {
		return err
	}

	sample := mat.NewDense(2, 3, []float64{8000, 70, 7.5, 6500, 75, 6.2})
	forecasts, err := ensemble.Predict(sample)
	if err != nil {
		return err
	}
	for p, value := range forecasts {
		logger.Info().
			Float64("steps", sample.At(p, 0)).
			Float64("heart_rate", sample.At(p, 1)).
			Float64("sleep_hours", sample.At(p, 2)).
			Float64("forecast", value).
			Msg("sample forecast")
	}

	x, y, err := features.Extract(table)
	if err != nil {
		return err
	}
	prediction, err := ensemble.Predict(x)
	if err != nil {
		return err
	}
	report, err := score(y, prediction, demoConfig.Threshold)
	if err != nil {
		return err
	}
	return printJSON(report)
}

func loadEnsemble(storeConfig forecast.StoreConfig, config forecast.Config) (*forecast.Ensemble, error) {
	store, err := storeConfig.Open()
	if err != nil {
		return nil, err
	}
	config.Logger = &logger
	ensemble := forecast.New(config)
	if err := ensemble.Load(store); err != nil {
		return nil, err
	}
	return ensemble, nil
}

func printJSON(value interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return errors.Wrap(encoder.Encode(value), "print result")
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(os.Getenv("FORECAST_LOG_LEVEL")))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().
		Timestamp().
		Str("app", path.Base(os.Args[0])).
		Logger()
}

func main() {
	_ = godotenv.Load()
	logger = newLogger()

	var args args
	arg.MustParse(&args)
	if args.Mode == "" {
		args.Mode = "demo"
	}
	if args.Config == "" {
		args.Config = os.Getenv("FORECAST_CONFIG")
	}

	run, ok := map[string]func(string) error{
		"train":    train,
		"predict":  predict,
		"evaluate": evaluate,
		"retrain":  retrain,
		"graph":    graph,
		"demo":     demo,
	}[args.Mode]
	if !ok {
		logger.Fatal().Str("mode", args.Mode).Msg("unknown mode")
	}
	if err := run(args.Config); err != nil {
		logger.Fatal().Err(err).Str("mode", args.Mode).Msg("run failed")
	}
}
