package objectives

import (
	"math"

	"github.com/cwbudde/policyopt/internal/sparse"
	"gonum.org/v1/gonum/mat"
)

// SGDTest is a three-term separable function on a 3x1 column:
//
//	f_0 = -exp(-|x_0|),  f_1 = x_1^2,  f_2 = x_2^4 + 3 x_2^2
//
// Its minimum is -1 at the origin.
type SGDTest struct{}

func (SGDTest) NumFunctions() int { return 3 }

func (SGDTest) EvaluateAt(x *mat.Dense, i int) float64 {
	switch i {
	case 0:
		return -math.Exp(-math.Abs(x.At(0, 0)))
	case 1:
		v := x.At(1, 0)
		return v * v
	case 2:
		v := x.At(2, 0)
		return v*v*v*v + 3*v*v
	}
	return 0
}

func (SGDTest) GradientAt(x *mat.Dense, i int, g *mat.Dense) {
	g.Zero()
	switch i {
	case 0:
		v := x.At(0, 0)
		if v >= 0 {
			g.Set(0, 0, math.Exp(-v))
		} else {
			g.Set(0, 0, -math.Exp(v))
		}
	case 1:
		g.Set(1, 0, 2*x.At(1, 0))
	case 2:
		v := x.At(2, 0)
		g.Set(2, 0, 4*v*v*v+6*v)
	}
}

func (s SGDTest) Evaluate(x *mat.Dense) float64 {
	return s.EvaluateAt(x, 0) + s.EvaluateAt(x, 1) + s.EvaluateAt(x, 2)
}

func (s SGDTest) Gradient(x *mat.Dense, g *mat.Dense) {
	term := mat.NewDense(3, 1, nil)
	g.Zero()
	for i := 0; i < 3; i++ {
		s.GradientAt(x, i, term)
		g.Add(g, term)
	}
}

func (SGDTest) InitialPoint() *mat.Dense {
	return mat.NewDense(3, 1, []float64{6, -45.6, 6.2})
}

// SparseQuadratic is sum_i (x_i - b_i)^2 over a 1 x n row. Term i and
// feature i both touch only column i, so it satisfies every policy.
type SparseQuadratic struct {
	target []float64
}

func NewSparseQuadratic(target []float64) *SparseQuadratic {
	if len(target) == 0 {
		panic("objectives: sparse quadratic needs a non-empty target")
	}
	return &SparseQuadratic{target: append([]float64(nil), target...)}
}

func (q *SparseQuadratic) NumFunctions() int { return len(q.target) }
func (q *SparseQuadratic) NumFeatures() int  { return len(q.target) }

func (q *SparseQuadratic) EvaluateAt(x *mat.Dense, i int) float64 {
	d := x.At(0, i) - q.target[i]
	return d * d
}

func (q *SparseQuadratic) GradientAt(x *mat.Dense, i int, g *mat.Dense) {
	g.Zero()
	g.Set(0, i, 2*(x.At(0, i)-q.target[i]))
}

func (q *SparseQuadratic) Evaluate(x *mat.Dense) float64 {
	var f float64
	for i := range q.target {
		f += q.EvaluateAt(x, i)
	}
	return f
}

func (q *SparseQuadratic) Gradient(x *mat.Dense, g *mat.Dense) {
	for i := range q.target {
		g.Set(0, i, 2*(x.At(0, i)-q.target[i]))
	}
}

func (q *SparseQuadratic) SparseGradient(x *mat.Dense, i int, g *sparse.Matrix) {
	g.Set(0, i, 2*(x.At(0, i)-q.target[i]))
}

func (q *SparseQuadratic) FeatureGradient(x *mat.Dense, j int, g *sparse.Matrix) {
	q.SparseGradient(x, j, g)
}

func (q *SparseQuadratic) InitialPoint() *mat.Dense {
	return mat.NewDense(1, len(q.target), nil)
}
