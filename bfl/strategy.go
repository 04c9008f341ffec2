package bfl

import (
	"fmt"
	"math"
)

//Booster assigns each example its boosting target for the round from the
//original supervision and the running ensemble prediction.
type Booster interface {
	Relabel(strongWeight, strongLabel, currentOutput float64) (weakWeight, weakLabel float64)
}

//SplitRule routes a feature vector to one of Arity() outcomes. Only rules
//with exactly two outcomes are applied as tree splits; outcome 0 owns the
//leading child range.
type SplitRule interface {
	Arity() int
	Branch(features []float64) int
}

//EdgePredictor is the learned function attached to one child of a split.
//Its output is added to the running prediction of every example routed to
//that child.
type EdgePredictor interface {
	Predict(features []float64) float64
}

//SplitFinder proposes the single best split for a node given its row range
//and total statistics. Gains from different nodes must share one scale so
//the scheduler's global best-first order is meaningful. A nil candidate
//means no split is worth considering for this node.
type SplitFinder interface {
	FindBest(ds *Dataset, r Range, total Sums) *SplitCandidate
}

//PredictorFactory builds the edge predictor for a freshly created child
//from that child's statistics.
type PredictorFactory interface {
	New(child Sums) EdgePredictor
}

//ResidualBooster targets the least-squares residual: the weak label is the
//distance left between the original label and the current prediction.
type ResidualBooster struct{}

func (ResidualBooster) Relabel(strongWeight, strongLabel, currentOutput float64) (float64, float64) {
	return strongWeight, strongLabel - currentOutput
}

//LogitBooster targets the logistic working response. Strong labels are 0/1;
//the running prediction is a logit. Weights follow the curvature p(1-p) of
//the logloss, floored to keep the working response finite.
type LogitBooster struct{}

const logitCurvatureFloor = 1e-10

func (LogitBooster) Relabel(strongWeight, strongLabel, currentOutput float64) (float64, float64) {
	p := 1.0 / (1.0 + math.Exp(-currentOutput))
	curvature := p * (1 - p)
	if curvature < logitCurvatureFloor {
		curvature = logitCurvatureFloor
	}
	return strongWeight * curvature, (strongLabel - p) / curvature
}

//ThresholdRule sends rows with Feature strictly below Threshold to
//outcome 0 and the rest to outcome 1.
type ThresholdRule struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold"`
}

func (ThresholdRule) Arity() int { return 2 }

func (t ThresholdRule) Branch(features []float64) int {
	if features[t.Feature] < t.Threshold {
		return 0
	}
	return 1
}

func (t ThresholdRule) String() string {
	return fmt.Sprintf("f_%d < %6.5f", t.Feature, t.Threshold)
}

//MeanPredictor contributes a constant value regardless of features.
type MeanPredictor struct {
	Value float64 `json:"value"`
}

func (m MeanPredictor) Predict([]float64) float64 { return m.Value }

func (m MeanPredictor) String() string {
	return fmt.Sprintf("%+6.3f", m.Value)
}

//MeanPredictorFactory emits constant predictors at the child's weighted
//label mean, shrunk by the learning rate.
type MeanPredictorFactory struct {
	LearningRate float64
}

func (f MeanPredictorFactory) New(child Sums) EdgePredictor {
	rate := f.LearningRate
	if rate == 0 {
		rate = 1
	}
	return MeanPredictor{Value: rate * child.Mean()}
}
