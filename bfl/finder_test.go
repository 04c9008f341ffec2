package bfl

import (
	"testing"

	"github.com/stretchr/testify/require"
)

//relabelIdentity copies the strong supervision into the weak fields, the
//state the trainer establishes before the first bias update.
func relabelIdentity(ds *Dataset) Sums {
	var total Sums
	for i := 0; i < ds.Len(); i++ {
		m := ds.MetaAt(i)
		m.WeakWeight, m.WeakLabel = m.StrongWeight, m.StrongLabel
		total.Accumulate(m.WeakWeight, m.WeakLabel)
	}
	return total
}

func TestFindBestSeparatesTwoLevels(t *testing.T) {
	ds := newTestDataset(t, 4,
		[]float64{0, 1, 2, 3},
		[]float64{1, 1, 1, 1},
		[]float64{0, 0, 1, 1},
	)
	total := relabelIdentity(ds)

	cand := ThresholdFinder{}.FindBest(ds, ds.FullRange(), total)
	require.NotNil(t, cand)

	rule, ok := cand.Rule.(ThresholdRule)
	require.True(t, ok)
	require.Equal(t, 0, rule.Feature)
	require.InDelta(t, 1.5, rule.Threshold, 1e-12)
	require.Greater(t, cand.Gain, 0.0)

	require.InDelta(t, 2.0, cand.Stats.Child[0].Weight, 1e-12)
	require.InDelta(t, 0.0, cand.Stats.Child[0].WeightedLabel, 1e-12)
	require.InDelta(t, 2.0, cand.Stats.Child[1].Weight, 1e-12)
	require.InDelta(t, 2.0, cand.Stats.Child[1].WeightedLabel, 1e-12)
}

func TestFindBestChildSumsConserveParent(t *testing.T) {
	ds := newTestDataset(t, 6,
		[]float64{
			0.3, 5,
			1.7, 2,
			0.9, 8,
			2.4, 1,
			1.1, 9,
			0.2, 4,
		},
		[]float64{0.5, 1.5, 1.0, 2.0, 0.25, 1.75},
		[]float64{1.2, -0.7, 3.3, 0.1, -2.2, 0.9},
	)
	total := relabelIdentity(ds)

	cand := ThresholdFinder{}.FindBest(ds, ds.FullRange(), total)
	require.NotNil(t, cand)

	sum := cand.Stats.Child[0].Add(cand.Stats.Child[1])
	require.InEpsilon(t, cand.Stats.Total.Weight, sum.Weight, 1e-9)
	require.InDelta(t, cand.Stats.Total.WeightedLabel, sum.WeightedLabel, 1e-9)
}

func TestFindBestConstantFeatureHasNoSplit(t *testing.T) {
	ds := newTestDataset(t, 4,
		[]float64{7, 7, 7, 7},
		[]float64{1, 1, 1, 1},
		[]float64{0, 1, 0, 1},
	)
	total := relabelIdentity(ds)

	require.Nil(t, ThresholdFinder{}.FindBest(ds, ds.FullRange(), total))
}

func TestFindBestSingleRowHasNoSplit(t *testing.T) {
	ds := newTestDataset(t, 1, []float64{1}, []float64{1}, []float64{1})
	total := relabelIdentity(ds)

	require.Nil(t, ThresholdFinder{}.FindBest(ds, ds.FullRange(), total))
}

func TestFindBestPureNodeHasZeroGain(t *testing.T) {
	ds := newTestDataset(t, 4,
		[]float64{0, 1, 2, 3},
		[]float64{1, 1, 1, 1},
		[]float64{2, 2, 2, 2},
	)
	total := relabelIdentity(ds)

	cand := ThresholdFinder{}.FindBest(ds, ds.FullRange(), total)
	require.NotNil(t, cand)
	require.InDelta(t, 0.0, cand.Gain, 1e-9)
}

func TestFindBestHonorsMinChildWeight(t *testing.T) {
	ds := newTestDataset(t, 4,
		[]float64{0, 1, 2, 3},
		[]float64{1, 1, 1, 1},
		[]float64{0, 0, 0, 10},
	)
	total := relabelIdentity(ds)

	unconstrained := ThresholdFinder{}.FindBest(ds, ds.FullRange(), total)
	require.NotNil(t, unconstrained)
	require.InDelta(t, 2.5, unconstrained.Rule.(ThresholdRule).Threshold, 1e-12)

	constrained := ThresholdFinder{MinChildWeight: 1.5}.FindBest(ds, ds.FullRange(), total)
	require.NotNil(t, constrained)
	require.InDelta(t, 1.5, constrained.Rule.(ThresholdRule).Threshold, 1e-12)
}

func TestFindBestScansRangesIndependently(t *testing.T) {
	ds := newTestDataset(t, 6,
		[]float64{0, 1, 2, 3, 4, 5},
		[]float64{1, 1, 1, 1, 1, 1},
		[]float64{0, 0, 0, 9, 9, 9},
	)
	relabelIdentity(ds)

	var left Sums
	for i := 0; i < 3; i++ {
		m := ds.MetaAt(i)
		left.Accumulate(m.WeakWeight, m.WeakLabel)
	}

	cand := ThresholdFinder{}.FindBest(ds, Range{First: 0, Size: 3}, left)
	require.NotNil(t, cand)
	require.Equal(t, Range{First: 0, Size: 3}, cand.Range)
	require.InDelta(t, 0.0, cand.Gain, 1e-9)
}
