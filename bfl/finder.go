package bfl

import (
	"sort"

	"gorgonia.org/tensor"
)

//ThresholdFinder exhaustively scans every feature of a node's range for the
//best axis-aligned threshold. The gain is the least-squares improvement of
//the two-child fit over the unsplit node, which is non-negative and shares
//one scale across nodes.
type ThresholdFinder struct {
	//MinChildWeight rejects splits leaving either child with less weighted
	//mass than this. Zero only rejects empty children.
	MinChildWeight float64
}

func (f ThresholdFinder) FindBest(ds *Dataset, r Range, total Sums) *SplitCandidate {
	if r.Size < 2 || total.Weight <= 0 {
		return nil
	}

	width := ds.Width()
	order := make([]int, r.Size)

	//prefix[k] holds the statistics of the k+1 smallest rows of the column
	//under scan: weight at (k, 0), weighted label at (k, 1).
	prefix := tensor.New(tensor.WithShape(r.Size, 2), tensor.Of(tensor.Float64))

	var best *SplitCandidate

	for q := 0; q < width; q++ {
		argsortColumn(ds, r, q, order)

		var acc Sums
		for k, row := range order {
			m := ds.MetaAt(row)
			acc.Accumulate(m.WeakWeight, m.WeakLabel)
			HandleError(prefix.SetAt(acc.Weight, k, 0))
			HandleError(prefix.SetAt(acc.WeightedLabel, k, 1))
		}

		for k := 0; k < r.Size-1; k++ {
			lo := ds.Row(order[k])[q]
			hi := ds.Row(order[k+1])[q]
			if lo == hi {
				continue
			}

			leftWeight, err := prefix.At(k, 0)
			HandleError(err)
			leftMass, err := prefix.At(k, 1)
			HandleError(err)

			left := Sums{Weight: leftWeight.(float64), WeightedLabel: leftMass.(float64)}
			right := total.Sub(left)
			if left.Weight <= f.MinChildWeight || right.Weight <= f.MinChildWeight {
				continue
			}

			gain := splitGain(total, left, right)
			if best == nil || gain > best.Gain {
				best = &SplitCandidate{
					Gain:  gain,
					Range: r,
					Stats: NodeStats{Total: total, Child: [2]Sums{left, right}},
					Rule:  ThresholdRule{Feature: q, Threshold: (lo + hi) / 2},
				}
			}
		}
	}

	return best
}

//splitGain is the drop in weighted squared error achieved by fitting each
//child with its own mean instead of one mean for the whole node.
func splitGain(total, left, right Sums) float64 {
	return left.WeightedLabel*left.Mean() +
		right.WeightedLabel*right.Mean() -
		total.WeightedLabel*total.Mean()
}

//argsortColumn fills order with the row positions of r sorted by ascending
//value of feature q. Equal values keep ascending row order so the scan is
//deterministic.
func argsortColumn(ds *Dataset, r Range, q int, order []int) {
	for k := range order {
		order[k] = r.First + k
	}
	sort.SliceStable(order, func(i, j int) bool {
		return ds.Row(order[i])[q] < ds.Row(order[j])[q]
	})
}
