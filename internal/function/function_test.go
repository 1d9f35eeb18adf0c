package function

import (
	"errors"
	"testing"

	"github.com/cwbudde/policyopt/internal/sparse"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// squares is f(x) = sum_i (x_i - t_i)^2 over a 1 x n row, one term per column.
type squares struct {
	target []float64
}

func (s squares) NumFunctions() int { return len(s.target) }
func (s squares) NumFeatures() int  { return len(s.target) }

func (s squares) EvaluateAt(x *mat.Dense, i int) float64 {
	d := x.At(0, i) - s.target[i]
	return d * d
}

func (s squares) GradientAt(x *mat.Dense, i int, g *mat.Dense) {
	g.Zero()
	g.Set(0, i, 2*(x.At(0, i)-s.target[i]))
}

func (s squares) Evaluate(x *mat.Dense) float64 {
	var f float64
	for i := range s.target {
		f += s.EvaluateAt(x, i)
	}
	return f
}

func (s squares) Gradient(x *mat.Dense, g *mat.Dense) {
	for i := range s.target {
		g.Set(0, i, 2*(x.At(0, i)-s.target[i]))
	}
}

func (s squares) SparseGradient(x *mat.Dense, i int, g *sparse.Matrix) {
	g.Set(0, i, 2*(x.At(0, i)-s.target[i]))
}

func (s squares) FeatureGradient(x *mat.Dense, j int, g *sparse.Matrix) {
	s.SparseGradient(x, j, g)
}

type onlyEval struct{}

func (onlyEval) Evaluate(*mat.Dense) float64 { return 0 }

func TestPolicies(t *testing.T) {
	assert.Equal(t, AllPolicies, Policies(squares{}))
	assert.Equal(t, []Policy{PolicyEvaluator}, Policies(onlyEval{}))
	assert.Empty(t, Policies(42))
}

func TestSatisfiesUnknownPolicy(t *testing.T) {
	assert.False(t, Satisfies(squares{}, Policy("quantum")))
}

func TestRequire(t *testing.T) {
	require.NoError(t, Require("sgd", squares{}, PolicyDecomposable))

	err := Require("scd", onlyEval{}, PolicyResolvable)
	require.Error(t, err)

	var perr *PolicyError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, PolicyResolvable, perr.Required)
	assert.True(t, errors.Is(err, &PolicyError{}))
	assert.Contains(t, err.Error(), "scd requires a resolvable function")
	assert.Contains(t, err.Error(), "evaluator")
}

func TestPolicyErrorNoPolicies(t *testing.T) {
	err := Require("lbfgs", struct{}{}, PolicyFunction)
	assert.Contains(t, err.Error(), "implements: none")
}

func TestSumMatchesTerms(t *testing.T) {
	s := squares{target: []float64{1, -2, 3}}
	f := Sum(s)

	x := mat.NewDense(1, 3, []float64{0, 0, 0})
	assert.InDelta(t, 14.0, f.Evaluate(x), 1e-12)

	g := mat.NewDense(1, 3, nil)
	f.Gradient(x, g)
	assert.Equal(t, []float64{-2, 4, -6}, g.RawRowView(0))
}

func TestCheckGradient(t *testing.T) {
	s := squares{target: []float64{0.5, 1.5}}
	x := mat.NewDense(1, 2, []float64{3, -1})

	assert.Less(t, CheckGradient(s, x, 0), 1e-6)
	assert.Less(t, CheckGradient(Sum(s), x, 1e-5), 1e-6)
}

type wrongGradient struct{ squares }

func (w wrongGradient) Gradient(x *mat.Dense, g *mat.Dense) {
	w.squares.Gradient(x, g)
	g.Set(0, 0, g.At(0, 0)+1)
}

func TestCheckGradientDetectsError(t *testing.T) {
	w := wrongGradient{squares{target: []float64{0, 0}}}
	x := mat.NewDense(1, 2, []float64{1, 1})

	assert.InDelta(t, 1.0, CheckGradient(w, x, 0), 1e-5)
}

func TestFlatten(t *testing.T) {
	m := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	assert.Equal(t, []float64{1, 2, 3, 4}, Flatten(m))
	assert.Equal(t, []float64{1, 3, 2, 4}, Flatten(m.T()))
}
