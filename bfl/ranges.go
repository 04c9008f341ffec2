package bfl

//Range is a contiguous half-open block [First, First+Size) of row positions
//in a Dataset. All rows owned by one tree node occupy exactly one Range.
type Range struct {
	First int
	Size  int
}

//End returns the position one past the last row of the range.
func (r Range) End() int {
	return r.First + r.Size
}

//NodeRanges records how a split divides a parent range into two adjacent
//child blocks: rows [First, First+Size0) go to child 0 and the rest to
//child 1. The children partition the parent with no gap or overlap.
type NodeRanges struct {
	Parent Range
	Size0  int
}

//Child returns the contiguous range owned by the given child.
func (nr NodeRanges) Child(pos int) Range {
	if pos == 0 {
		return Range{First: nr.Parent.First, Size: nr.Size0}
	}
	return Range{First: nr.Parent.First + nr.Size0, Size: nr.Parent.Size - nr.Size0}
}
