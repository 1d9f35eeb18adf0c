package sparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestMatrixSetAndAt(t *testing.T) {
	m := New(3, 4)
	m.Set(1, 2, 5)
	m.Set(0, 3, -1)

	assert.Equal(t, 5.0, m.At(1, 2))
	assert.Equal(t, -1.0, m.At(0, 3))
	assert.Equal(t, 0.0, m.At(2, 2))
	assert.Equal(t, 2, m.NNZ())

	m.Set(1, 2, 0)
	assert.Equal(t, 1, m.NNZ(), "setting zero removes the entry")
}

func TestMatrixAdd(t *testing.T) {
	m := New(2, 2)
	m.Add(0, 1, 1.5)
	m.Add(0, 1, 2.5)
	assert.Equal(t, 4.0, m.At(0, 1))

	m.Add(0, 1, -4)
	assert.Equal(t, 0, m.NNZ())
}

func TestMatrixDoNonZeroColumnMajor(t *testing.T) {
	m := New(2, 3)
	m.Set(1, 2, 6)
	m.Set(0, 0, 1)
	m.Set(1, 0, 2)
	m.Set(0, 2, 5)

	var got [][3]float64
	m.DoNonZero(func(i, j int, v float64) {
		got = append(got, [3]float64{float64(i), float64(j), v})
	})

	want := [][3]float64{
		{0, 0, 1},
		{1, 0, 2},
		{0, 2, 5},
		{1, 2, 6},
	}
	assert.Equal(t, want, got)
}

func TestMatrixColumnNonZero(t *testing.T) {
	m := New(3, 3)
	m.Set(2, 1, 7)

	assert.True(t, m.ColumnNonZero(1))
	assert.False(t, m.ColumnNonZero(0))
	assert.False(t, m.ColumnNonZero(2))
}

func TestMatrixDenseAndReset(t *testing.T) {
	m := New(2, 2)
	m.Set(0, 0, 1)
	m.Set(1, 1, 3)

	d := m.Dense()
	assert.True(t, mat.Equal(d, mat.NewDense(2, 2, []float64{1, 0, 0, 3})))
	assert.True(t, mat.Equal(d, m), "sparse matrix is usable as mat.Matrix")

	m.Reset()
	assert.Equal(t, 0, m.NNZ())
	r, c := m.Dims()
	assert.Equal(t, 2, r)
	assert.Equal(t, 2, c)
}

func TestMatrixAddScaledTo(t *testing.T) {
	m := New(1, 3)
	m.Set(0, 1, 2)

	dst := mat.NewDense(1, 3, []float64{1, 1, 1})
	m.AddScaledTo(dst, -0.5)

	assert.Equal(t, []float64{1, 0, 1}, dst.RawRowView(0))
}

func TestMatrixAddScaledToShapeMismatch(t *testing.T) {
	m := New(1, 3)
	require.Panics(t, func() {
		m.AddScaledTo(mat.NewDense(3, 1, nil), 1)
	})
}

func TestMatrixOutOfRange(t *testing.T) {
	m := New(2, 2)
	require.Panics(t, func() { m.Set(2, 0, 1) })
	require.Panics(t, func() { m.At(0, -1) })
	require.Panics(t, func() { New(0, 1) })
}
