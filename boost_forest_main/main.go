package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"

	"github.com/sbinet/npyio"
	"github.com/treegrove/boost_forest/bfl"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

var logger *zap.Logger

func decodeConfig(srcConfig string, out interface{}) error {
	file, err := os.Open(srcConfig)
	if err != nil {
		return err
	}
	defer func() { bfl.HandleError(file.Close()) }()

	decoder := json.NewDecoder(file)
	return decoder.Decode(out)
}

//TestConfig names one held-out dataset monitored during training.
type TestConfig struct {
	Description      string `json:"description"`
	FileNameFeatures string `json:"filename_test_features"`
	FileNameTarget   string `json:"filename_test_target"`
}

type TrainConfig struct {
	FileNameTrainFeatures  string       `json:"filename_train_features"`
	FileNameTrainWeights   string       `json:"filename_train_weights"`
	FileNameTrainLabels    string       `json:"filename_train_labels"`
	FileNameModel          string       `json:"filename_model"`
	FileNameLearningCurves string       `json:"filename_learning_curves"`
	Tests                  []TestConfig `json:"tests"`
	NumRounds              int          `json:"num_rounds"`
	MinSplitGain           float64      `json:"min_split_gain"`
	MaxSplitsPerRound      int          `json:"max_splits_per_round"`
	LearningRate           float64      `json:"learning_rate"`
	MinChildWeight         float64      `json:"min_child_weight"`
	Loss                   string       `json:"loss"`
}

func loadMonitors(tests []TestConfig, useLogloss bool) ([]bfl.EvalSet, error) {
	monitors := make([]bfl.EvalSet, 0, len(tests))
	for _, testConfig := range tests {
		features, err := bfl.ReadNpy(testConfig.FileNameFeatures)
		if err != nil {
			return nil, err
		}
		target, err := bfl.ReadNpy(testConfig.FileNameTarget)
		if err != nil {
			return nil, err
		}
		monitors = append(monitors, bfl.EvalSet{
			Description: testConfig.Description,
			Features:    features,
			Target:      target,
			UseLogloss:  useLogloss,
		})
	}
	return monitors, nil
}

func boosterFor(loss string) (bfl.Booster, error) {
	switch loss {
	case "", "mse":
		return bfl.ResidualBooster{}, nil
	case "logloss":
		return bfl.LogitBooster{}, nil
	}
	return nil, fmt.Errorf("unknown loss %q", loss)
}

func train(srcConfig string) error {
	var config TrainConfig
	if err := decodeConfig(srcConfig, &config); err != nil {
		return err
	}

	logger.Info("load train",
		zap.String("features", config.FileNameTrainFeatures),
		zap.String("weights", config.FileNameTrainWeights),
		zap.String("labels", config.FileNameTrainLabels),
	)
	source, err := bfl.ReadMatrixSource(
		config.FileNameTrainFeatures,
		config.FileNameTrainWeights,
		config.FileNameTrainLabels,
	)
	if err != nil {
		return err
	}

	booster, err := boosterFor(config.Loss)
	if err != nil {
		return err
	}

	monitors, err := loadMonitors(config.Tests, config.Loss == "logloss")
	if err != nil {
		return err
	}

	forest := bfl.NewForest()
	trainer, err := bfl.NewTrainer(bfl.TrainerParams{
		NumRounds:         config.NumRounds,
		MinSplitGain:      config.MinSplitGain,
		MaxSplitsPerRound: config.MaxSplitsPerRound,
		Booster:           booster,
		Finder:            bfl.ThresholdFinder{MinChildWeight: config.MinChildWeight},
		Predictors:        bfl.MeanPredictorFactory{LearningRate: config.LearningRate},
		Forest:            forest,
		Observer:          bfl.ZapObserver{Logger: logger},
		Monitors:          monitors,
	})
	if err != nil {
		return err
	}

	if err := trainer.Train(source); err != nil {
		return err
	}

	logger.Info("training finished",
		zap.Int("trees", len(forest.Roots)),
		zap.Int("nodes", len(forest.Nodes)),
		zap.Float64("bias", forest.Bias),
	)

	if config.FileNameLearningCurves != "" {
		if err := trainer.Curves().Dump(config.FileNameLearningCurves); err != nil {
			return err
		}
	}
	return forest.Save(config.FileNameModel)
}

type PredictConfig struct {
	FileNameFeatures   string `json:"filename_features"`
	FileNameModel      string `json:"filename_model"`
	FileNamePrediction string `json:"filename_prediction"`
}

func predict(srcConfig string) error {
	var config PredictConfig
	if err := decodeConfig(srcConfig, &config); err != nil {
		return err
	}

	features, err := bfl.ReadNpy(config.FileNameFeatures)
	if err != nil {
		return err
	}

	forest, err := bfl.LoadForest(config.FileNameModel)
	if err != nil {
		return err
	}

	h, w := features.Dims()
	prediction := mat.NewDense(h, 1, nil)
	row := make([]float64, w)
	for i := 0; i < h; i++ {
		mat.Row(row, i, features)
		prediction.Set(i, 0, forest.Predict(row))
	}

	dst, err := os.Create(config.FileNamePrediction)
	if err != nil {
		return err
	}
	defer func() { bfl.HandleError(dst.Close()) }()
	return npyio.Write(dst, prediction)
}

type LcurveConfig struct {
	FileNameFeatures      string `json:"filename_features"`
	FileNameTarget        string `json:"filename_target"`
	FileNameModel         string `json:"filename_model"`
	FileNameLearningCurve string `json:"filename_learning_curve"`
	Loss                  string `json:"loss"`
}

//lcurve replays a saved model tree by tree against a labeled dataset and
//writes the per-tree loss as an npy column.
func lcurve(srcConfig string) error {
	var config LcurveConfig
	if err := decodeConfig(srcConfig, &config); err != nil {
		return err
	}

	features, err := bfl.ReadNpy(config.FileNameFeatures)
	if err != nil {
		return err
	}
	target, err := bfl.ReadNpy(config.FileNameTarget)
	if err != nil {
		return err
	}
	forest, err := bfl.LoadForest(config.FileNameModel)
	if err != nil {
		return err
	}

	if _, err := boosterFor(config.Loss); err != nil {
		return err
	}
	curve, err := bfl.LearningCurve(forest, features, target, config.Loss == "logloss")
	if err != nil {
		return err
	}
	if len(curve) == 0 {
		return fmt.Errorf("model %s has no trees", config.FileNameModel)
	}
	logger.Info("learning curve computed", zap.Int("trees", len(curve)))

	dst, err := os.Create(config.FileNameLearningCurve)
	if err != nil {
		return err
	}
	defer func() { bfl.HandleError(dst.Close()) }()
	return npyio.Write(dst, mat.NewDense(len(curve), 1, curve))
}

type GraphConfig struct {
	FileNameModel     string `json:"filename_model"`
	FigureType        string `json:"figure_type"`
	PicturesDirectory string `json:"pictures_directory"`
	DumpPrefix        string `json:"dump_prefix"`
}

func graph(srcConfig string) error {
	var config GraphConfig
	if err := decodeConfig(srcConfig, &config); err != nil {
		return err
	}

	forest, err := bfl.LoadForest(config.FileNameModel)
	if err != nil {
		return err
	}
	return forest.RenderTrees(config.DumpPrefix, config.FigureType, config.PicturesDirectory)
}

func main() {
	runMode := flag.String("mode", "train", "you can select either 'train', 'predict', 'lcurve' or 'graph' modes")
	config := flag.String("config", "boost_config.json", "a config file for the run of the program")
	memprofile := flag.String("memprofile", "", "write memory profile to `file`")

	flag.Parse()

	var err error
	logger, err = zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	run, ok := map[string]func(string) error{
		"train":   train,
		"predict": predict,
		"lcurve":  lcurve,
		"graph":   graph,
	}[*runMode]
	if !ok {
		logger.Fatal("unknown mode", zap.String("mode", *runMode))
	}
	if err := run(*config); err != nil {
		logger.Fatal("run failed", zap.String("mode", *runMode), zap.Error(err))
	}

	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			logger.Fatal("could not create memory profile", zap.Error(err))
		}
		defer func() { bfl.HandleError(f.Close()) }()
		runtime.GC()
		if err := pprof.WriteHeapProfile(f); err != nil {
			logger.Fatal("could not write memory profile", zap.Error(err))
		}
	}
}
