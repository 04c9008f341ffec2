package bfl

import (
	"encoding/json"
	"fmt"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
)

//EvalSet is a labeled held-out dataset monitored during training: after
//every boosting round the current model is scored against it and the loss
//appended to the trainer's learning curves.
type EvalSet struct {
	Description string
	Features    *mat.Dense
	Target      *mat.Dense
	//UseLogloss scores the set in logloss space; otherwise RMSE is used.
	UseLogloss bool
}

func (set EvalSet) validate() error {
	if set.Features == nil || set.Target == nil {
		return fmt.Errorf("eval set %q: features and target are both required", set.Description)
	}
	h, _ := set.Features.Dims()
	if th, _ := set.Target.Dims(); th != h {
		return fmt.Errorf("eval set %q: target height %d does not match feature height %d", set.Description, th, h)
	}
	return nil
}

//loss scores the model on the set. Predictions are raw ensemble outputs;
//for logloss they are treated as logits.
func (set EvalSet) loss(model ForestModel) float64 {
	h, w := set.Features.Dims()
	prediction := mat.NewDense(h, 1, nil)
	row := make([]float64, w)
	for i := 0; i < h; i++ {
		mat.Row(row, i, set.Features)
		prediction.Set(i, 0, model.Predict(row))
	}
	if set.UseLogloss {
		return Logloss(set.Target, prediction, true)
	}
	return Rmse(set.Target, prediction)
}

//LearningCurves holds one loss value per monitored set per boosting round.
type LearningCurves struct {
	Titles []string    `json:"titles"`
	Values [][]float64 `json:"values"`
}

//Dump writes the curves as indented JSON.
func (lc *LearningCurves) Dump(fileName string) error {
	raw, err := json.MarshalIndent(lc, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(fileName, raw, 0o644)
}

//Rmse is the root mean squared error between two column vectors.
func Rmse(target, prediction *mat.Dense) float64 {
	h, _ := target.Dims()
	total := 0.0
	for i := 0; i < h; i++ {
		d := prediction.At(i, 0) - target.At(i, 0)
		total += d * d
	}
	return math.Sqrt(total / float64(h))
}

//Logloss is the mean negative log likelihood of 0/1 targets. When
//applySigmoid is set the predictions are logits and squashed first;
//probabilities are clamped away from 0 and 1 to stay finite.
func Logloss(target, prediction *mat.Dense, applySigmoid bool) float64 {
	const eps = 1e-15
	h, _ := target.Dims()
	total := 0.0
	for i := 0; i < h; i++ {
		p := prediction.At(i, 0)
		if applySigmoid {
			p = 1.0 / (1.0 + math.Exp(-p))
		}
		if p < eps {
			p = eps
		}
		if p > 1-eps {
			p = 1 - eps
		}
		y := target.At(i, 0)
		total += y*math.Log(p) + (1-y)*math.Log(1-p)
	}
	return -total / float64(h)
}

//LearningCurve replays a trained forest tree by tree against a labeled
//dataset and returns the loss after each tree, starting from the bias.
func LearningCurve(f *Forest, features, target *mat.Dense, useLogloss bool) ([]float64, error) {
	h, w := features.Dims()
	if th, _ := target.Dims(); th != h {
		return nil, fmt.Errorf("target height %d does not match feature height %d", th, h)
	}

	accumulated := mat.NewDense(h, 1, nil)
	for i := 0; i < h; i++ {
		accumulated.Set(i, 0, f.Bias)
	}

	row := make([]float64, w)
	curve := make([]float64, 0, len(f.Roots))
	for treeIndex := range f.Roots {
		for i := 0; i < h; i++ {
			mat.Row(row, i, features)
			accumulated.Set(i, 0, accumulated.At(i, 0)+f.PredictTree(treeIndex, row))
		}
		if useLogloss {
			curve = append(curve, Logloss(target, accumulated, true))
		} else {
			curve = append(curve, Rmse(target, accumulated))
		}
	}
	return curve, nil
}
