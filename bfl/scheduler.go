package bfl

import "container/heap"

//SplitCandidate is a prospective split at one tree node: the proposed rule,
//the gain it would realize, the node's identity and row range, and the
//statistics of the node and its two would-be children.
type SplitCandidate struct {
	NodeID NodeID
	Gain   float64
	Range  Range
	Stats  NodeStats
	Rule   SplitRule
}

//candidateHeap implements heap.Interface as a max-heap ordered by gain.
//Equal gains are broken by the lowest node ID so the pop order is
//deterministic regardless of insertion order.
type candidateHeap []*SplitCandidate

func (h candidateHeap) Len() int { return len(h) }

func (h candidateHeap) Less(i, j int) bool {
	if h[i].Gain != h[j].Gain {
		return h[i].Gain > h[j].Gain
	}
	return h[i].NodeID < h[j].NodeID
}

func (h candidateHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *candidateHeap) Push(x any) { *h = append(*h, x.(*SplitCandidate)) }

func (h *candidateHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

//Scheduler drives best-first growth within one boosting round: the pending
//candidate with the highest gain is always expanded next.
type Scheduler struct {
	items candidateHeap
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

//Push schedules a candidate.
func (s *Scheduler) Push(cand *SplitCandidate) {
	heap.Push(&s.items, cand)
}

//Pop removes and returns the highest-gain pending candidate. A popped
//candidate is never retained; each pop commits to applying that split.
func (s *Scheduler) Pop() *SplitCandidate {
	return heap.Pop(&s.items).(*SplitCandidate)
}

//Len returns the number of pending candidates.
func (s *Scheduler) Len() int {
	return len(s.items)
}

//Reset discards all pending candidates. Called at the start of every round
//so one round's candidates never leak into the next. The backing array is
//kept but its slots are cleared so dropped candidates can be collected.
func (s *Scheduler) Reset() {
	for i := range s.items {
		s.items[i] = nil
	}
	s.items = s.items[:0]
}

//Pending returns a copy of the pending candidates in no particular order.
//This is the supported way to inspect the queue for tracing.
func (s *Scheduler) Pending() []*SplitCandidate {
	out := make([]*SplitCandidate, len(s.items))
	copy(out, s.items)
	return out
}
