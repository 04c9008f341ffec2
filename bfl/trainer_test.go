package bfl

import (
	"errors"
	"math"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

type zeroBooster struct{}

func (zeroBooster) Relabel(float64, float64, float64) (float64, float64) { return 0, 0 }

//recordingObserver keeps everything the trainer reports so tests can check
//scheduling order and bookkeeping invariants after the fact.
type recordingObserver struct {
	biases []float64
	splits []*SplitCandidate
	ranges []NodeRanges
	rounds []int
}

func (o *recordingObserver) RoundStarted(_ int, _ Sums, bias float64) {
	o.biases = append(o.biases, bias)
}

func (o *recordingObserver) SplitApplied(round int, cand *SplitCandidate, ranges NodeRanges) {
	o.rounds = append(o.rounds, round)
	o.splits = append(o.splits, cand)
	o.ranges = append(o.ranges, ranges)
}

func defaultParams(forest ForestModel, observer TraceObserver) TrainerParams {
	return TrainerParams{
		NumRounds:         1,
		MinSplitGain:      0,
		MaxSplitsPerRound: 1,
		Booster:           ResidualBooster{},
		Finder:            ThresholdFinder{},
		Predictors:        MeanPredictorFactory{LearningRate: 1},
		Forest:            forest,
		Observer:          observer,
	}
}

func TestNewTrainerRejectsBadConfiguration(t *testing.T) {
	mutations := map[string]func(*TrainerParams){
		"zero rounds":        func(p *TrainerParams) { p.NumRounds = 0 },
		"negative rounds":    func(p *TrainerParams) { p.NumRounds = -3 },
		"negative gain":      func(p *TrainerParams) { p.MinSplitGain = -0.5 },
		"nan gain":           func(p *TrainerParams) { p.MinSplitGain = math.NaN() },
		"negative split cap": func(p *TrainerParams) { p.MaxSplitsPerRound = -1 },
		"missing booster":    func(p *TrainerParams) { p.Booster = nil },
		"missing finder":     func(p *TrainerParams) { p.Finder = nil },
		"missing predictors": func(p *TrainerParams) { p.Predictors = nil },
		"missing forest":     func(p *TrainerParams) { p.Forest = nil },
	}
	for name, mutate := range mutations {
		params := defaultParams(NewForest(), nil)
		mutate(&params)
		_, err := NewTrainer(params)
		require.ErrorIs(t, err, ErrConfig, name)
	}
}

func TestTrainBiasEqualsWeightedLabelMean(t *testing.T) {
	forest := NewForest()
	observer := &recordingObserver{}
	params := defaultParams(forest, observer)
	params.MaxSplitsPerRound = 0

	trainer, err := NewTrainer(params)
	require.NoError(t, err)

	src := newTestSource(t, 4,
		[]float64{0, 1, 2, 3},
		[]float64{1, 1, 1, 1},
		[]float64{1, 1, 0, 0},
	)
	require.NoError(t, trainer.Train(src))

	require.InDelta(t, 0.5, forest.Bias, 1e-12)
	require.Equal(t, []float64{0.5}, observer.biases)
	require.Empty(t, forest.Nodes)
}

func TestTrainZeroWeightRoundFailsAndLeavesModelUntouched(t *testing.T) {
	forest := NewForest()
	params := defaultParams(forest, nil)
	params.Booster = zeroBooster{}

	trainer, err := NewTrainer(params)
	require.NoError(t, err)

	src := newTestSource(t, 2, []float64{0, 1}, []float64{1, 1}, []float64{0, 1})
	err = trainer.Train(src)
	require.ErrorIs(t, err, ErrInvalidTrainingData)

	require.Equal(t, 0.0, forest.Bias)
	require.Empty(t, forest.Nodes)
	require.Empty(t, forest.Roots)
}

func TestTrainZeroSplitCapNeverGrows(t *testing.T) {
	forest := NewForest()
	observer := &recordingObserver{}
	params := defaultParams(forest, observer)
	params.NumRounds = 3
	params.MaxSplitsPerRound = 0

	trainer, err := NewTrainer(params)
	require.NoError(t, err)

	src := newTestSource(t, 4,
		[]float64{0, 1, 2, 3},
		[]float64{1, 1, 1, 1},
		[]float64{0, 0, 1, 1},
	)
	require.NoError(t, trainer.Train(src))

	require.Empty(t, observer.splits)
	require.Empty(t, forest.Roots)
	require.Empty(t, forest.Nodes)
}

func TestTrainInfiniteGainThresholdStopsAtRootCheck(t *testing.T) {
	forest := NewForest()
	observer := &recordingObserver{}
	params := defaultParams(forest, observer)
	params.NumRounds = 4
	params.MinSplitGain = math.Inf(1)
	params.MaxSplitsPerRound = 10

	trainer, err := NewTrainer(params)
	require.NoError(t, err)

	src := newTestSource(t, 4,
		[]float64{0, 1, 2, 3},
		[]float64{1, 1, 1, 1},
		[]float64{0, 0, 1, 1},
	)
	require.NoError(t, trainer.Train(src))

	require.Empty(t, observer.splits)
	require.Empty(t, forest.Roots)
	require.Len(t, observer.biases, 1)
}

func TestTrainEndToEndSingleSplit(t *testing.T) {
	forest := NewForest()
	observer := &recordingObserver{}
	trainer, err := NewTrainer(defaultParams(forest, observer))
	require.NoError(t, err)

	src := newTestSource(t, 4,
		[]float64{0, 1, 2, 3},
		[]float64{1, 1, 1, 1},
		[]float64{0, 0, 1, 1},
	)
	require.NoError(t, trainer.Train(src))

	require.Len(t, forest.Roots, 1)
	require.Len(t, forest.Interiors, 1)
	require.Len(t, forest.Nodes, 3)
	require.Len(t, observer.splits, 1)

	rule, ok := observer.splits[0].Rule.(ThresholdRule)
	require.True(t, ok)
	require.InDelta(t, 1.5, rule.Threshold, 1e-12)

	ranges := observer.ranges[0]
	require.Equal(t, Range{First: 0, Size: 4}, ranges.Parent)
	require.Equal(t, 2, ranges.Size0)

	// each side lands exactly on its label mean
	require.InDelta(t, 0.0, forest.Predict([]float64{0}), 1e-9)
	require.InDelta(t, 0.0, forest.Predict([]float64{1}), 1e-9)
	require.InDelta(t, 1.0, forest.Predict([]float64{2}), 1e-9)
	require.InDelta(t, 1.0, forest.Predict([]float64{3}), 1e-9)
}

func staircaseSource(t *testing.T) *MatrixSource {
	return newTestSource(t, 8,
		[]float64{0, 1, 2, 3, 4, 5, 6, 7},
		[]float64{1, 1, 1, 1, 1, 1, 1, 1},
		[]float64{0, 1, 2, 3, 4, 5, 6, 7},
	)
}

func TestTrainAppliesSplitsInNonIncreasingGainOrder(t *testing.T) {
	forest := NewForest()
	observer := &recordingObserver{}
	params := defaultParams(forest, observer)
	params.MaxSplitsPerRound = 7

	trainer, err := NewTrainer(params)
	require.NoError(t, err)
	require.NoError(t, trainer.Train(staircaseSource(t)))

	require.Len(t, observer.splits, 7)
	gains := make([]float64, len(observer.splits))
	for i, cand := range observer.splits {
		gains[i] = cand.Gain
	}
	require.True(t, sort.IsSorted(sort.Reverse(sort.Float64Slice(gains))), "gains %v", gains)
}

func TestTrainSplitBookkeepingInvariants(t *testing.T) {
	forest := NewForest()
	observer := &recordingObserver{}
	params := defaultParams(forest, observer)
	params.MaxSplitsPerRound = 7

	trainer, err := NewTrainer(params)
	require.NoError(t, err)
	require.NoError(t, trainer.Train(staircaseSource(t)))

	for i, cand := range observer.splits {
		ranges := observer.ranges[i]
		c0, c1 := ranges.Child(0), ranges.Child(1)

		require.Equal(t, ranges.Parent.Size, c0.Size+c1.Size)
		require.Equal(t, c0.End(), c1.First)
		require.Equal(t, ranges.Parent.First, c0.First)
		require.Equal(t, ranges.Parent.End(), c1.End())

		sum := cand.Stats.Child[0].Add(cand.Stats.Child[1])
		require.InEpsilon(t, cand.Stats.Total.Weight, sum.Weight, 1e-9)
		require.InDelta(t, cand.Stats.Total.WeightedLabel, sum.WeightedLabel, 1e-9)
	}
}

func TestTrainStopsOnceResidualsVanish(t *testing.T) {
	forest := NewForest()
	params := defaultParams(forest, nil)
	params.NumRounds = 5

	trainer, err := NewTrainer(params)
	require.NoError(t, err)

	src := newTestSource(t, 4,
		[]float64{0, 1, 2, 3},
		[]float64{1, 1, 1, 1},
		[]float64{0, 0, 1, 1},
	)
	require.NoError(t, trainer.Train(src))

	// the first round fits the data exactly, the second finds nothing to do
	require.Len(t, forest.Roots, 1)
	require.InDelta(t, 0.0, forest.Predict([]float64{0}), 1e-12)
	require.InDelta(t, 1.0, forest.Predict([]float64{3}), 1e-12)
}

func TestTrainShrinkageSpansRounds(t *testing.T) {
	forest := NewForest()
	params := defaultParams(forest, nil)
	params.NumRounds = 2
	params.Predictors = MeanPredictorFactory{LearningRate: 0.5}

	trainer, err := NewTrainer(params)
	require.NoError(t, err)

	src := newTestSource(t, 4,
		[]float64{0, 1, 2, 3},
		[]float64{1, 1, 1, 1},
		[]float64{0, 0, 1, 1},
	)
	require.NoError(t, trainer.Train(src))

	require.Len(t, forest.Roots, 2)
	require.InDelta(t, 0.125, forest.Predict([]float64{0}), 1e-9)
	require.InDelta(t, 0.875, forest.Predict([]float64{3}), 1e-9)
}

//threeWayRule routes to three children, which no binary tree can host.
type threeWayRule struct{}

func (threeWayRule) Arity() int { return 3 }

func (threeWayRule) Branch(features []float64) int { return int(features[0]) % 3 }

//threeWayFinder proposes a three-way rule for every range it is asked about.
type threeWayFinder struct{}

func (threeWayFinder) FindBest(ds *Dataset, r Range, total Sums) *SplitCandidate {
	return &SplitCandidate{
		Gain:  1.0,
		Range: r,
		Stats: NewNodeStats(total, Sums{Weight: total.Weight / 2, WeightedLabel: total.WeightedLabel / 2}),
		Rule:  threeWayRule{},
	}
}

func TestTrainRejectsNonBinaryRules(t *testing.T) {
	forest := NewForest()
	params := defaultParams(forest, nil)
	params.Finder = threeWayFinder{}

	trainer, err := NewTrainer(params)
	require.NoError(t, err)

	src := newTestSource(t, 4,
		[]float64{0, 1, 2, 3},
		[]float64{1, 1, 1, 1},
		[]float64{0, 0, 1, 1},
	)
	err = trainer.Train(src)
	require.Error(t, err)
	require.Contains(t, err.Error(), "3-way rule cannot be applied as a tree split")

	// the bias shift landed before the bad rule surfaced, nothing else did
	require.InDelta(t, 0.5, forest.Bias, 1e-12)
	require.Empty(t, forest.Interiors)
}

type failingForest struct {
	*Forest
}

func (failingForest) Split(NodeID, SplitRule, [2]EdgePredictor) (int, error) {
	return 0, errors.New("storage rejected the split")
}

func TestTrainPropagatesForestErrors(t *testing.T) {
	params := defaultParams(failingForest{NewForest()}, nil)
	trainer, err := NewTrainer(params)
	require.NoError(t, err)

	src := newTestSource(t, 4,
		[]float64{0, 1, 2, 3},
		[]float64{1, 1, 1, 1},
		[]float64{0, 0, 1, 1},
	)
	require.EqualError(t, trainer.Train(src), "storage rejected the split")
}
