// Package function defines the method sets ("policies") that optimizers
// expect from objective-function objects.
//
// Coordinates are always a *mat.Dense decision variable. Gradients are
// written into caller-supplied out-params of the same shape.
//
// An objective may satisfy several policies at once; optimizers only ask for
// the one they need:
//
//	Function      Evaluate + Gradient                 GradientDescent, LBFGS
//	Decomposable  NumFunctions + per-term evaluation  SGD, RMSProp, AdaGrad
//	Sparse        per-term sparse gradients           ParallelSGD
//	Resolvable    per-feature partial gradients       SCD
package function

import (
	"github.com/cwbudde/policyopt/internal/sparse"
	"gonum.org/v1/gonum/mat"
)

// Evaluator is the smallest policy: a loss that can be evaluated.
// Derivative-free optimizers only need this.
type Evaluator interface {
	// Evaluate returns the loss at the given coordinates.
	Evaluate(coordinates *mat.Dense) float64
}

// Function is the basic policy used by full-gradient optimizers.
type Function interface {
	Evaluator

	// Gradient writes the gradient at coordinates into gradient, which has
	// the same shape as coordinates. Every entry is overwritten.
	Gradient(coordinates *mat.Dense, gradient *mat.Dense)
}

// Decomposable is an objective expressible as a sum of separately
// evaluable terms, typically one per data point.
type Decomposable interface {
	// NumFunctions returns the number of terms. For a data-dependent loss
	// this is the number of points in the dataset.
	NumFunctions() int

	// EvaluateAt returns the i-th term at coordinates. Summing over all i
	// yields the full objective.
	EvaluateAt(coordinates *mat.Dense, i int) float64

	// GradientAt writes the gradient of the i-th term into gradient.
	GradientAt(coordinates *mat.Dense, i int, gradient *mat.Dense)
}

// Sparse is a decomposable objective whose per-term gradients are sparse.
// ParallelSGD relies on this sparsity so that concurrent updates rarely
// touch the same coordinates.
type Sparse interface {
	Evaluator

	// NumFunctions returns the number of terms.
	NumFunctions() int

	// SparseGradient writes the gradient of the i-th term into gradient.
	// The caller passes an empty matrix shaped like coordinates.
	SparseGradient(coordinates *mat.Dense, i int, gradient *sparse.Matrix)
}

// Resolvable is an objective that can report partial gradients with
// respect to individual features. Features are laid out column-wise in the
// decision variable, so feature j owns column j.
type Resolvable interface {
	Evaluator

	// NumFeatures returns the number of feature columns in the decision
	// variable.
	NumFeatures() int

	// FeatureGradient writes the partial gradient with respect to feature j
	// into gradient. Only column j may be non-zero.
	FeatureGradient(coordinates *mat.Dense, j int, gradient *sparse.Matrix)
}
