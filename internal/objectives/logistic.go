package objectives

import (
	"fmt"
	"math"

	"github.com/cwbudde/policyopt/internal/dataset"
	"github.com/cwbudde/policyopt/internal/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LogisticRegression is the L2-regularised logistic loss over a sparse
// dataset. The decision variable is a 1 x d row, one column per feature.
//
//	f(w)   = sum_i log(1 + exp(-y_i w.x_i)) + lambda/2 ||w||^2
//	f_i(w) = log(1 + exp(-y_i w.x_i)) + lambda/(2n) ||w||^2
//
// It implements every policy. SparseGradient applies the regulariser only on
// the features present in row i so the gradient stays sparse.
type LogisticRegression struct {
	data   *dataset.Dataset
	y      []float64
	cols   []dataset.Column
	lambda float64
}

// NewLogisticRegression maps the dataset labels to -1/+1.
func NewLogisticRegression(ds *dataset.Dataset, lambda float64) (*LogisticRegression, error) {
	if lambda < 0 {
		return nil, fmt.Errorf("lambda must be non-negative, got %g", lambda)
	}
	y, err := ds.BinaryLabels()
	if err != nil {
		return nil, fmt.Errorf("logistic regression: %w", err)
	}
	return &LogisticRegression{
		data:   ds,
		y:      y,
		cols:   ds.Transpose(),
		lambda: lambda,
	}, nil
}

func (lr *LogisticRegression) NumFunctions() int { return lr.data.Len() }
func (lr *LogisticRegression) NumFeatures() int  { return lr.data.NumFeatures }

func (lr *LogisticRegression) weights(x *mat.Dense) []float64 {
	return x.RawRowView(0)
}

// loss is log(1 + exp(-m)) evaluated without overflow.
func loss(m float64) float64 {
	if m >= 0 {
		return math.Log1p(math.Exp(-m))
	}
	return -m + math.Log1p(math.Exp(m))
}

// coefficient returns d loss_i / d (w.x_i).
func (lr *LogisticRegression) coefficient(w []float64, i int) float64 {
	m := lr.y[i] * lr.data.Dot(i, w)
	return -lr.y[i] / (1 + math.Exp(m))
}

func (lr *LogisticRegression) EvaluateAt(x *mat.Dense, i int) float64 {
	w := lr.weights(x)
	n := float64(lr.data.Len())
	norm := floats.Dot(w, w)
	return loss(lr.y[i]*lr.data.Dot(i, w)) + lr.lambda/(2*n)*norm
}

func (lr *LogisticRegression) GradientAt(x *mat.Dense, i int, g *mat.Dense) {
	w := lr.weights(x)
	n := float64(lr.data.Len())
	grad := g.RawRowView(0)
	floats.ScaleTo(grad, lr.lambda/n, w)
	c := lr.coefficient(w, i)
	for _, f := range lr.data.Rows[i] {
		grad[f.Index] += c * f.Value
	}
}

func (lr *LogisticRegression) Evaluate(x *mat.Dense) float64 {
	w := lr.weights(x)
	f := lr.lambda / 2 * floats.Dot(w, w)
	for i := range lr.data.Rows {
		f += loss(lr.y[i] * lr.data.Dot(i, w))
	}
	return f
}

func (lr *LogisticRegression) Gradient(x *mat.Dense, g *mat.Dense) {
	w := lr.weights(x)
	grad := g.RawRowView(0)
	floats.ScaleTo(grad, lr.lambda, w)
	for i, row := range lr.data.Rows {
		c := lr.coefficient(w, i)
		for _, f := range row {
			grad[f.Index] += c * f.Value
		}
	}
}

func (lr *LogisticRegression) SparseGradient(x *mat.Dense, i int, g *sparse.Matrix) {
	w := lr.weights(x)
	n := float64(lr.data.Len())
	c := lr.coefficient(w, i)
	for _, f := range lr.data.Rows[i] {
		g.Add(0, f.Index, c*f.Value+lr.lambda/n*w[f.Index])
	}
}

func (lr *LogisticRegression) FeatureGradient(x *mat.Dense, j int, g *sparse.Matrix) {
	w := lr.weights(x)
	v := lr.lambda * w[j]
	col := lr.cols[j]
	for k, row := range col.Rows {
		v += lr.coefficient(w, row) * col.Values[k]
	}
	g.Set(0, j, v)
}

func (lr *LogisticRegression) InitialPoint() *mat.Dense {
	return mat.NewDense(1, lr.data.NumFeatures, nil)
}

// Predict returns P(y = +1 | row i) under weights x.
func (lr *LogisticRegression) Predict(x *mat.Dense, i int) float64 {
	return 1 / (1 + math.Exp(-lr.data.Dot(i, lr.weights(x))))
}

// Accuracy returns the fraction of rows classified correctly at threshold 0.5.
func (lr *LogisticRegression) Accuracy(x *mat.Dense) float64 {
	correct := 0
	for i := range lr.data.Rows {
		p := lr.Predict(x, i)
		if (p >= 0.5) == (lr.y[i] > 0) {
			correct++
		}
	}
	return float64(correct) / float64(lr.data.Len())
}
