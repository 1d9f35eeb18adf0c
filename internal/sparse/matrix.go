package sparse

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Matrix is a dictionary-of-keys sparse matrix used for gradients that touch
// only a few coordinates. Keys are column-major linear indices.
//
// Matrix satisfies mat.Matrix so it can be passed to gonum routines directly.
type Matrix struct {
	rows, cols int
	entries    map[int]float64
}

var _ mat.Matrix = (*Matrix)(nil)

// New creates an empty r x c sparse matrix.
func New(r, c int) *Matrix {
	if r <= 0 || c <= 0 {
		panic(fmt.Sprintf("sparse: invalid dimensions %dx%d", r, c))
	}
	return &Matrix{
		rows:    r,
		cols:    c,
		entries: make(map[int]float64),
	}
}

// Dims returns the matrix dimensions.
func (m *Matrix) Dims() (r, c int) {
	return m.rows, m.cols
}

// T returns the transpose view.
func (m *Matrix) T() mat.Matrix {
	return mat.Transpose{Matrix: m}
}

func (m *Matrix) key(i, j int) int {
	if i < 0 || i >= m.rows || j < 0 || j >= m.cols {
		panic(fmt.Sprintf("sparse: index (%d,%d) out of range for %dx%d", i, j, m.rows, m.cols))
	}
	return j*m.rows + i
}

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) float64 {
	return m.entries[m.key(i, j)]
}

// Set stores v at (i, j). Storing zero removes the entry.
func (m *Matrix) Set(i, j int, v float64) {
	k := m.key(i, j)
	if v == 0 {
		delete(m.entries, k)
		return
	}
	m.entries[k] = v
}

// Add accumulates v into (i, j).
func (m *Matrix) Add(i, j int, v float64) {
	m.Set(i, j, m.At(i, j)+v)
}

// NNZ returns the number of stored non-zero entries.
func (m *Matrix) NNZ() int {
	return len(m.entries)
}

// Reset removes every entry, keeping the dimensions.
func (m *Matrix) Reset() {
	clear(m.entries)
}

// DoNonZero calls fn for every stored entry in column-major order.
func (m *Matrix) DoNonZero(fn func(i, j int, v float64)) {
	keys := make([]int, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	for _, k := range keys {
		fn(k%m.rows, k/m.rows, m.entries[k])
	}
}

// ColumnNonZero reports whether column j holds any stored entry.
func (m *Matrix) ColumnNonZero(j int) bool {
	for k := range m.entries {
		if k/m.rows == j {
			return true
		}
	}
	return false
}

// Dense returns a dense copy.
func (m *Matrix) Dense() *mat.Dense {
	d := mat.NewDense(m.rows, m.cols, nil)
	for k, v := range m.entries {
		d.Set(k%m.rows, k/m.rows, v)
	}
	return d
}

// AddScaledTo performs dst += alpha*m, touching only the stored entries.
func (m *Matrix) AddScaledTo(dst *mat.Dense, alpha float64) {
	r, c := dst.Dims()
	if r != m.rows || c != m.cols {
		panic(mat.ErrShape)
	}
	for k, v := range m.entries {
		i, j := k%m.rows, k/m.rows
		dst.Set(i, j, dst.At(i, j)+alpha*v)
	}
}
