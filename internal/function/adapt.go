package function

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Sum adapts a Decomposable objective into a Function by summing its terms.
func Sum(d Decomposable) Function {
	return &sum{d: d}
}

type sum struct {
	d Decomposable
}

func (s *sum) Evaluate(coordinates *mat.Dense) float64 {
	var total float64
	for i := 0; i < s.d.NumFunctions(); i++ {
		total += s.d.EvaluateAt(coordinates, i)
	}
	return total
}

func (s *sum) Gradient(coordinates *mat.Dense, gradient *mat.Dense) {
	r, c := coordinates.Dims()
	term := mat.NewDense(r, c, nil)
	gradient.Zero()
	for i := 0; i < s.d.NumFunctions(); i++ {
		s.d.GradientAt(coordinates, i, term)
		gradient.Add(gradient, term)
	}
}

// CheckGradient compares the analytic gradient of f at coordinates with a
// central finite-difference estimate and returns the largest absolute
// difference. A zero step selects the fd package default.
func CheckGradient(f Function, coordinates *mat.Dense, step float64) float64 {
	r, c := coordinates.Dims()
	x := Flatten(coordinates)

	eval := func(v []float64) float64 {
		return f.Evaluate(mat.NewDense(r, c, v))
	}
	numeric := fd.Gradient(nil, eval, x, &fd.Settings{
		Formula: fd.Central,
		Step:    step,
	})

	analytic := mat.NewDense(r, c, nil)
	f.Gradient(coordinates, analytic)

	var worst float64
	for i, v := range Flatten(analytic) {
		worst = math.Max(worst, math.Abs(v-numeric[i]))
	}
	return worst
}

// Flatten returns a row-major copy of m's elements.
func Flatten(m mat.Matrix) []float64 {
	r, c := m.Dims()
	out := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out = append(out, m.At(i, j))
		}
	}
	return out
}
