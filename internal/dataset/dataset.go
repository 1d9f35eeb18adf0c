package dataset

import (
	"fmt"
	"math"
	"sort"
)

// Feature is one stored (index, value) pair of a sparse row. Indices are
// zero-based.
type Feature struct {
	Index int
	Value float64
}

// Dataset is a labelled set of sparse rows.
type Dataset struct {
	Rows        [][]Feature
	Labels      []float64
	NumFeatures int
}

// Len returns the number of points.
func (d *Dataset) Len() int {
	return len(d.Rows)
}

// Dot returns w . row i, where w is indexed by feature.
func (d *Dataset) Dot(i int, w []float64) float64 {
	var s float64
	for _, f := range d.Rows[i] {
		s += w[f.Index] * f.Value
	}
	return s
}

// Validate checks that rows and labels agree and every index is in range.
func (d *Dataset) Validate() error {
	if len(d.Rows) != len(d.Labels) {
		return fmt.Errorf("dataset has %d rows but %d labels", len(d.Rows), len(d.Labels))
	}
	if len(d.Rows) == 0 {
		return fmt.Errorf("dataset is empty")
	}
	if d.NumFeatures <= 0 {
		return fmt.Errorf("dataset has no features")
	}
	for i, row := range d.Rows {
		for _, f := range row {
			if f.Index < 0 || f.Index >= d.NumFeatures {
				return fmt.Errorf("row %d: feature index %d out of range [0,%d)", i, f.Index, d.NumFeatures)
			}
		}
	}
	return nil
}

// Column is the column-major view of one feature: the rows where it is
// non-zero and the corresponding values.
type Column struct {
	Rows   []int
	Values []float64
}

// Transpose returns one Column per feature, used to compute per-feature
// partial gradients without scanning every row.
func (d *Dataset) Transpose() []Column {
	cols := make([]Column, d.NumFeatures)
	for i, row := range d.Rows {
		for _, f := range row {
			c := &cols[f.Index]
			c.Rows = append(c.Rows, i)
			c.Values = append(c.Values, f.Value)
		}
	}
	return cols
}

// BinaryLabels maps labels to -1/+1. The largest label becomes +1. An error
// is returned when there are not exactly two distinct labels.
func (d *Dataset) BinaryLabels() ([]float64, error) {
	classes := distinct(d.Labels)
	if len(classes) != 2 {
		return nil, fmt.Errorf("binary labels required, found %d classes", len(classes))
	}
	out := make([]float64, len(d.Labels))
	for i, y := range d.Labels {
		if y == classes[1] {
			out[i] = 1
		} else {
			out[i] = -1
		}
	}
	return out, nil
}

// ClassLabels maps labels to 0..k-1 in ascending label order and returns k.
func (d *Dataset) ClassLabels() ([]int, int) {
	classes := distinct(d.Labels)
	index := make(map[float64]int, len(classes))
	for i, c := range classes {
		index[c] = i
	}
	out := make([]int, len(d.Labels))
	for i, y := range d.Labels {
		out[i] = index[y]
	}
	return out, len(classes)
}

func distinct(values []float64) []float64 {
	seen := make(map[float64]bool)
	var out []float64
	for _, v := range values {
		if math.IsNaN(v) || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Float64s(out)
	return out
}
