package bfl

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

//Meta is the mutable bookkeeping attached to one example. The strong fields
//hold the original supervision, the weak fields the current boosting target,
//and Output the running ensemble prediction.
type Meta struct {
	StrongWeight float64
	StrongLabel  float64
	WeakWeight   float64
	WeakLabel    float64
	Output       float64
}

//ExampleSource is a finite, forward-only sequence of examples. Next returns
//io.EOF once the sequence is exhausted.
type ExampleSource interface {
	Next() (features []float64, weight, label float64, err error)
}

//Dataset is the working example store: a dense feature matrix plus one Meta
//record per row. Rows are relocated in place by contiguous range so that
//every tree node's examples stay physically grouped.
type Dataset struct {
	features *mat.Dense
	meta     []Meta
	scratch  []float64
}

//NewDataset drains an example source exactly once and builds the store.
func NewDataset(src ExampleSource) (*Dataset, error) {
	var raw []float64
	var meta []Meta
	width := 0

	for {
		features, weight, label, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if width == 0 {
			width = len(features)
		}
		if len(features) != width || width == 0 {
			return nil, fmt.Errorf("example %d: feature width %d, want %d", len(meta), len(features), width)
		}
		raw = append(raw, features...)
		meta = append(meta, Meta{StrongWeight: weight, StrongLabel: label})
	}
	if len(meta) == 0 {
		return nil, fmt.Errorf("empty example source: %w", ErrInvalidTrainingData)
	}

	return &Dataset{
		features: mat.NewDense(len(meta), width, raw),
		meta:     meta,
		scratch:  make([]float64, width),
	}, nil
}

//Len returns the number of rows in the store.
func (d *Dataset) Len() int {
	r, _ := d.features.Dims()
	return r
}

//Width returns the number of features per row.
func (d *Dataset) Width() int {
	_, c := d.features.Dims()
	return c
}

//Row returns the feature vector of row i, backed by the store.
func (d *Dataset) Row(i int) []float64 {
	return d.features.RawRowView(i)
}

//MetaAt returns the mutable metadata record of row i.
func (d *Dataset) MetaAt(i int) *Meta {
	return &d.meta[i]
}

//FullRange returns the range covering every row.
func (d *Dataset) FullRange() Range {
	return Range{First: 0, Size: d.Len()}
}

func (d *Dataset) swap(i, j int) {
	if i == j {
		return
	}
	ri, rj := d.features.RawRowView(i), d.features.RawRowView(j)
	copy(d.scratch, ri)
	copy(ri, rj)
	copy(rj, d.scratch)
	d.meta[i], d.meta[j] = d.meta[j], d.meta[i]
}

//Partition repositions rows inside r so that every row satisfying pred
//precedes every row that does not, and returns the number of satisfying
//rows. Rows outside r are never touched.
func (d *Dataset) Partition(pred func(features []float64) bool, r Range) int {
	i, j := r.First, r.End()
	for i < j {
		if pred(d.Row(i)) {
			i++
			continue
		}
		j--
		d.swap(i, j)
	}
	return i - r.First
}

//Sort reorders rows inside r by ascending key. Used for rules with more
//than two outcomes; binary splits go through Partition instead.
func (d *Dataset) Sort(key func(features []float64) float64, r Range) {
	sort.Sort(rangeByKey{d: d, r: r, key: key})
}

//SortByRule groups the rows of r by the rule's branch output.
func (d *Dataset) SortByRule(rule SplitRule, r Range) {
	d.Sort(func(features []float64) float64 {
		return float64(rule.Branch(features))
	}, r)
}

type rangeByKey struct {
	d   *Dataset
	r   Range
	key func([]float64) float64
}

func (v rangeByKey) Len() int { return v.r.Size }

func (v rangeByKey) Less(i, j int) bool {
	return v.key(v.d.Row(v.r.First+i)) < v.key(v.d.Row(v.r.First+j))
}

func (v rangeByKey) Swap(i, j int) {
	v.d.swap(v.r.First+i, v.r.First+j)
}

//MatrixSource adapts dense matrices into an example stream. Weights and
//labels are column vectors with the same height as the feature matrix.
type MatrixSource struct {
	features *mat.Dense
	weights  *mat.Dense
	labels   *mat.Dense
	pos      int
}

func NewMatrixSource(features, weights, labels *mat.Dense) (*MatrixSource, error) {
	h, _ := features.Dims()
	if wh, _ := weights.Dims(); wh != h {
		return nil, fmt.Errorf("weights height %d does not match feature height %d", wh, h)
	}
	if lh, _ := labels.Dims(); lh != h {
		return nil, fmt.Errorf("labels height %d does not match feature height %d", lh, h)
	}
	return &MatrixSource{features: features, weights: weights, labels: labels}, nil
}

func (s *MatrixSource) Next() ([]float64, float64, float64, error) {
	h, w := s.features.Dims()
	if s.pos >= h {
		return nil, 0, 0, io.EOF
	}
	features := make([]float64, w)
	mat.Row(features, s.pos, s.features)
	weight := s.weights.At(s.pos, 0)
	label := s.labels.At(s.pos, 0)
	s.pos++
	return features, weight, label, nil
}

//ReadMatrixSource reads the three components of a data set from npy files
//and unites them into one example stream.
func ReadMatrixSource(fileNameFeatures, fileNameWeights, fileNameLabels string) (*MatrixSource, error) {
	features, err := ReadNpy(fileNameFeatures)
	if err != nil {
		return nil, err
	}
	weights, err := ReadNpy(fileNameWeights)
	if err != nil {
		return nil, err
	}
	labels, err := ReadNpy(fileNameLabels)
	if err != nil {
		return nil, err
	}
	return NewMatrixSource(features, weights, labels)
}

//ReadNpy reads the content of an npy file into a dense matrix.
func ReadNpy(fileName string) (*mat.Dense, error) {
	f, err := os.Open(fileName)
	if err != nil {
		return nil, err
	}
	defer func() { HandleError(f.Close()) }()

	r, err := npyio.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", fileName, err)
	}

	denseMat := &mat.Dense{}
	if err := r.Read(denseMat); err != nil {
		return nil, fmt.Errorf("read %s: %w", fileName, err)
	}
	return denseMat, nil
}
