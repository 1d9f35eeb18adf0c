package objectives

import (
	"gonum.org/v1/gonum/mat"
)

// Rosenbrock is the classic two-dimensional banana function on a 2x1
// column, minimised at (1, 1).
type Rosenbrock struct{}

func (Rosenbrock) Evaluate(x *mat.Dense) float64 {
	x0, x1 := x.At(0, 0), x.At(1, 0)
	a := x1 - x0*x0
	b := 1 - x0
	return 100*a*a + b*b
}

func (Rosenbrock) Gradient(x *mat.Dense, g *mat.Dense) {
	x0, x1 := x.At(0, 0), x.At(1, 0)
	a := x1 - x0*x0
	g.Set(0, 0, -400*x0*a-2*(1-x0))
	g.Set(1, 0, 200*a)
}

// InitialPoint returns the conventional starting point (-1.2, 1).
func (Rosenbrock) InitialPoint() *mat.Dense {
	return mat.NewDense(2, 1, []float64{-1.2, 1})
}

// GeneralizedRosenbrock is the n-dimensional chained Rosenbrock function on
// an n x 1 column. It decomposes into n-1 terms
//
//	f_i(x) = 100 (x_{i+1} - x_i^2)^2 + (1 - x_i)^2
//
// and is minimised at the all-ones vector.
type GeneralizedRosenbrock struct {
	n int
}

// NewGeneralizedRosenbrock panics when n < 2.
func NewGeneralizedRosenbrock(n int) *GeneralizedRosenbrock {
	if n < 2 {
		panic("objectives: generalized rosenbrock needs at least 2 dimensions")
	}
	return &GeneralizedRosenbrock{n: n}
}

func (r *GeneralizedRosenbrock) NumFunctions() int { return r.n - 1 }

func (r *GeneralizedRosenbrock) EvaluateAt(x *mat.Dense, i int) float64 {
	xi, xn := x.At(i, 0), x.At(i+1, 0)
	a := xn - xi*xi
	b := 1 - xi
	return 100*a*a + b*b
}

func (r *GeneralizedRosenbrock) GradientAt(x *mat.Dense, i int, g *mat.Dense) {
	g.Zero()
	r.addTermGradient(x, i, g)
}

func (r *GeneralizedRosenbrock) addTermGradient(x *mat.Dense, i int, g *mat.Dense) {
	xi, xn := x.At(i, 0), x.At(i+1, 0)
	a := xn - xi*xi
	g.Set(i, 0, g.At(i, 0)-400*xi*a-2*(1-xi))
	g.Set(i+1, 0, g.At(i+1, 0)+200*a)
}

func (r *GeneralizedRosenbrock) Evaluate(x *mat.Dense) float64 {
	var f float64
	for i := 0; i < r.n-1; i++ {
		f += r.EvaluateAt(x, i)
	}
	return f
}

func (r *GeneralizedRosenbrock) Gradient(x *mat.Dense, g *mat.Dense) {
	g.Zero()
	for i := 0; i < r.n-1; i++ {
		r.addTermGradient(x, i, g)
	}
}

// InitialPoint alternates -1.2 and 1.
func (r *GeneralizedRosenbrock) InitialPoint() *mat.Dense {
	x := mat.NewDense(r.n, 1, nil)
	for i := 0; i < r.n; i++ {
		if i%2 == 1 {
			x.Set(i, 0, 1)
		} else {
			x.Set(i, 0, -1.2)
		}
	}
	return x
}
