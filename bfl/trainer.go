package bfl

import (
	"fmt"
	"math"
)

//TrainerParams collects everything required to construct a forest trainer:
//the boosting budget, the gain threshold, and the three interchangeable
//strategies plus the model they drive.
type TrainerParams struct {
	//NumRounds is the number of boosting rounds. Must be positive.
	NumRounds int
	//MinSplitGain is the minimum gain a split must exceed to be applied.
	//Must not be negative; +Inf disables growth past the root check.
	MinSplitGain float64
	//MaxSplitsPerRound caps the splits materialized within one round.
	//Zero disables growth entirely.
	MaxSplitsPerRound int

	Booster    Booster
	Finder     SplitFinder
	Predictors PredictorFactory
	Forest     ForestModel

	//Observer optionally traces round starts and applied splits.
	Observer TraceObserver

	//Monitors are held-out datasets scored after every boosting round; the
	//losses accumulate in the trainer's learning curves.
	Monitors []EvalSet
}

//Trainer grows a boosted forest over an in-memory example store. It owns
//the store and the forest model exclusively for the duration of Train;
//execution is single-threaded and synchronous.
type Trainer struct {
	params TrainerParams
	sched  *Scheduler
	curves *LearningCurves
}

//NewTrainer validates the configuration once and rejects it immediately
//instead of clamping.
func NewTrainer(params TrainerParams) (*Trainer, error) {
	if params.NumRounds <= 0 {
		return nil, fmt.Errorf("%w: NumRounds %d, want positive", ErrConfig, params.NumRounds)
	}
	if params.MinSplitGain < 0 || math.IsNaN(params.MinSplitGain) {
		return nil, fmt.Errorf("%w: MinSplitGain %v, want non-negative", ErrConfig, params.MinSplitGain)
	}
	if params.MaxSplitsPerRound < 0 {
		return nil, fmt.Errorf("%w: MaxSplitsPerRound %d, want non-negative", ErrConfig, params.MaxSplitsPerRound)
	}
	if params.Booster == nil || params.Finder == nil || params.Predictors == nil || params.Forest == nil {
		return nil, fmt.Errorf("%w: booster, finder, predictor factory and forest are all required", ErrConfig)
	}

	titles := make([]string, len(params.Monitors))
	for i, set := range params.Monitors {
		if err := set.validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		titles[i] = set.Description
		if titles[i] == "" {
			titles[i] = fmt.Sprintf("test_%d", i)
		}
	}

	return &Trainer{
		params: params,
		sched:  NewScheduler(),
		curves: &LearningCurves{Titles: titles},
	}, nil
}

//Curves returns the per-round monitor losses collected so far. The slice
//grows by one row per completed round; it is empty without monitors.
func (t *Trainer) Curves() *LearningCurves {
	return t.curves
}

//Train consumes the example source once and runs up to NumRounds boosting
//rounds over it. Training stops early, without error, once no split pays
//for itself or growth is disabled; a round with zero total weighted mass
//fails with ErrInvalidTrainingData before the model is touched that round.
func (t *Trainer) Train(source ExampleSource) error {
	ds, err := NewDataset(source)
	if err != nil {
		return err
	}

	for round := 0; round < t.params.NumRounds; round++ {
		proceed, err := t.runRound(ds, round)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}
	return nil
}

func (t *Trainer) runRound(ds *Dataset, round int) (bool, error) {
	var total Sums
	for i := 0; i < ds.Len(); i++ {
		m := ds.MetaAt(i)
		m.WeakWeight, m.WeakLabel = t.params.Booster.Relabel(m.StrongWeight, m.StrongLabel, m.Output)
		total.Accumulate(m.WeakWeight, m.WeakLabel)
	}
	if total.Weight == 0 {
		return false, fmt.Errorf("round %d: %w", round, ErrInvalidTrainingData)
	}

	//The bias absorbs the weighted mean of the round's targets. Folding it
	//out of the weak labels keeps them equal to the mass still unexplained,
	//so edge outputs deeper in the tree stay centered.
	bias := total.Mean()
	t.params.Forest.AddToBias(bias)
	for i := 0; i < ds.Len(); i++ {
		m := ds.MetaAt(i)
		m.Output += bias
		m.WeakLabel -= bias
	}
	total = Sums{Weight: total.Weight, WeightedLabel: total.WeightedLabel - bias*total.Weight}

	if t.params.Observer != nil {
		t.params.Observer.RoundStarted(round, total, bias)
	}

	if t.params.MaxSplitsPerRound == 0 {
		t.evaluateRound(round)
		return false, nil
	}

	root := t.params.Finder.FindBest(ds, ds.FullRange(), total)
	if root == nil || root.Gain <= t.params.MinSplitGain {
		t.evaluateRound(round)
		return false, nil
	}
	root.NodeID = t.params.Forest.NewRootID()

	t.sched.Reset()
	t.sched.Push(root)

	splits := 0
	for t.sched.Len() > 0 {
		cand := t.sched.Pop()

		if err := t.applySplit(ds, cand, round, &splits); err != nil {
			return false, err
		}
		if splits >= t.params.MaxSplitsPerRound {
			break
		}
	}
	t.evaluateRound(round)
	return true, nil
}

//evaluateRound scores every monitor against the model as it stands at the
//end of the round, after the bias shift and any splits it applied.
func (t *Trainer) evaluateRound(round int) {
	if len(t.params.Monitors) == 0 {
		return
	}
	losses := make([]float64, len(t.params.Monitors))
	for i, set := range t.params.Monitors {
		losses[i] = set.loss(t.params.Forest)
	}
	t.curves.Values = append(t.curves.Values, losses)
	if evaluator, ok := t.params.Observer.(RoundEvaluator); ok {
		evaluator.RoundEvaluated(round, t.curves.Titles, losses)
	}
}

func (t *Trainer) applySplit(ds *Dataset, cand *SplitCandidate, round int, splits *int) error {
	if cand.Rule.Arity() != 2 {
		return fmt.Errorf("round %d node %d: %d-way rule cannot be applied as a tree split", round, cand.NodeID, cand.Rule.Arity())
	}

	ranges := NodeRanges{
		Parent: cand.Range,
		Size0: ds.Partition(func(features []float64) bool {
			return cand.Rule.Branch(features) == 0
		}, cand.Range),
	}

	//Apply each child's edge output over its new range. The output moves by
	//the edge contribution and the weak label absorbs it, so the child
	//ranges carry their remaining targets into the candidate searches below.
	var edges [2]EdgePredictor
	var remainder [2]Sums
	for pos := 0; pos < 2; pos++ {
		edges[pos] = t.params.Predictors.New(cand.Stats.Child[pos])
		child := ranges.Child(pos)
		for i := child.First; i < child.End(); i++ {
			m := ds.MetaAt(i)
			delta := edges[pos].Predict(ds.Row(i))
			m.Output += delta
			m.WeakLabel -= delta
			remainder[pos].Accumulate(m.WeakWeight, m.WeakLabel)
		}
	}

	interiorIndex, err := t.params.Forest.Split(cand.NodeID, cand.Rule, edges)
	if err != nil {
		return err
	}
	*splits++

	if t.params.Observer != nil {
		t.params.Observer.SplitApplied(round, cand, ranges)
	}
	if *splits >= t.params.MaxSplitsPerRound {
		return nil
	}

	for pos := 0; pos < 2; pos++ {
		child := t.params.Finder.FindBest(ds, ranges.Child(pos), remainder[pos])
		if child == nil || child.Gain <= t.params.MinSplitGain {
			continue
		}
		child.NodeID = t.params.Forest.ChildID(interiorIndex, pos)
		t.sched.Push(child)
	}
	return nil
}
