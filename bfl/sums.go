package bfl

//Sums accumulates the weighted label mass of a set of examples.
type Sums struct {
	Weight        float64
	WeightedLabel float64
}

//Accumulate adds one example with the given weak weight and weak label.
func (s *Sums) Accumulate(weight, label float64) {
	s.Weight += weight
	s.WeightedLabel += weight * label
}

//Add returns the union of two disjoint example sets.
func (s Sums) Add(other Sums) Sums {
	return Sums{Weight: s.Weight + other.Weight, WeightedLabel: s.WeightedLabel + other.WeightedLabel}
}

//Sub recovers one child's statistics from the parent minus the sibling.
func (s Sums) Sub(other Sums) Sums {
	return Sums{Weight: s.Weight - other.Weight, WeightedLabel: s.WeightedLabel - other.WeightedLabel}
}

//Mean returns the weighted label mean, or zero for an empty set.
func (s Sums) Mean() float64 {
	if s.Weight == 0 {
		return 0
	}
	return s.WeightedLabel / s.Weight
}

//NodeStats pairs a node's total statistics with the statistics of the
//two children a prospective split would produce.
type NodeStats struct {
	Total Sums
	Child [2]Sums
}

//NewNodeStats derives the second child by differencing so the
//conservation invariant holds by construction.
func NewNodeStats(total, child0 Sums) NodeStats {
	return NodeStats{Total: total, Child: [2]Sums{child0, total.Sub(child0)}}
}
