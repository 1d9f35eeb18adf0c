package objectives

import (
	"fmt"
	"math"

	"github.com/cwbudde/policyopt/internal/dataset"
	"github.com/cwbudde/policyopt/internal/sparse"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// SoftmaxRegression is multinomial logistic regression. The decision
// variable is classes x d: row c holds the weights of class c and feature j
// owns column j.
//
//	f(W) = -1/n sum_i log p(y_i | x_i) + lambda/2 ||W||^2
type SoftmaxRegression struct {
	data    *dataset.Dataset
	y       []int
	classes int
	cols    []dataset.Column
	lambda  float64
}

// NewSoftmaxRegression maps labels to class indices. At least two classes
// are required.
func NewSoftmaxRegression(ds *dataset.Dataset, lambda float64) (*SoftmaxRegression, error) {
	if lambda < 0 {
		return nil, fmt.Errorf("lambda must be non-negative, got %g", lambda)
	}
	y, k := ds.ClassLabels()
	if k < 2 {
		return nil, fmt.Errorf("softmax regression needs at least 2 classes, found %d", k)
	}
	return &SoftmaxRegression{
		data:    ds,
		y:       y,
		classes: k,
		cols:    ds.Transpose(),
		lambda:  lambda,
	}, nil
}

func (s *SoftmaxRegression) NumFunctions() int { return s.data.Len() }
func (s *SoftmaxRegression) NumFeatures() int  { return s.data.NumFeatures }

// NumClasses returns the number of rows of the decision variable.
func (s *SoftmaxRegression) NumClasses() int { return s.classes }

// probabilities fills p with the class posteriors for row i and returns
// log p(y_i).
func (s *SoftmaxRegression) probabilities(x *mat.Dense, i int, p []float64) float64 {
	for c := 0; c < s.classes; c++ {
		p[c] = s.data.Dot(i, x.RawRowView(c))
	}
	lse := floats.LogSumExp(p)
	logTrue := p[s.y[i]] - lse
	for c := range p {
		p[c] = math.Exp(p[c] - lse)
	}
	return logTrue
}

// frobenius2 returns the squared Frobenius norm.
func frobenius2(x *mat.Dense) float64 {
	r, _ := x.Dims()
	var total float64
	for c := 0; c < r; c++ {
		row := x.RawRowView(c)
		total += floats.Dot(row, row)
	}
	return total
}

func (s *SoftmaxRegression) EvaluateAt(x *mat.Dense, i int) float64 {
	n := float64(s.data.Len())
	p := make([]float64, s.classes)
	return -s.probabilities(x, i, p)/n + s.lambda/(2*n)*frobenius2(x)
}

func (s *SoftmaxRegression) GradientAt(x *mat.Dense, i int, g *mat.Dense) {
	n := float64(s.data.Len())
	g.Scale(s.lambda/n, x)
	s.addDataGradient(x, i, g, 1/n, make([]float64, s.classes))
}

func (s *SoftmaxRegression) addDataGradient(x *mat.Dense, i int, g *mat.Dense, scale float64, p []float64) {
	s.probabilities(x, i, p)
	p[s.y[i]]--
	for c := 0; c < s.classes; c++ {
		row := g.RawRowView(c)
		for _, f := range s.data.Rows[i] {
			row[f.Index] += scale * p[c] * f.Value
		}
	}
}

func (s *SoftmaxRegression) Evaluate(x *mat.Dense) float64 {
	n := float64(s.data.Len())
	p := make([]float64, s.classes)
	var nll float64
	for i := range s.data.Rows {
		nll -= s.probabilities(x, i, p)
	}
	return nll/n + s.lambda/2*frobenius2(x)
}

func (s *SoftmaxRegression) Gradient(x *mat.Dense, g *mat.Dense) {
	n := float64(s.data.Len())
	g.Scale(s.lambda, x)
	p := make([]float64, s.classes)
	for i := range s.data.Rows {
		s.addDataGradient(x, i, g, 1/n, p)
	}
}

func (s *SoftmaxRegression) FeatureGradient(x *mat.Dense, j int, g *sparse.Matrix) {
	n := float64(s.data.Len())
	grad := make([]float64, s.classes)
	for c := range grad {
		grad[c] = s.lambda * x.At(c, j)
	}
	p := make([]float64, s.classes)
	col := s.cols[j]
	for k, row := range col.Rows {
		s.probabilities(x, row, p)
		p[s.y[row]]--
		floats.AddScaled(grad, col.Values[k]/n, p)
	}
	for c, v := range grad {
		g.Set(c, j, v)
	}
}

func (s *SoftmaxRegression) InitialPoint() *mat.Dense {
	return mat.NewDense(s.classes, s.data.NumFeatures, nil)
}

// Classify returns the most probable class index for row i.
func (s *SoftmaxRegression) Classify(x *mat.Dense, i int) int {
	p := make([]float64, s.classes)
	s.probabilities(x, i, p)
	return floats.MaxIdx(p)
}

// Accuracy returns the fraction of rows whose most probable class matches
// the label.
func (s *SoftmaxRegression) Accuracy(x *mat.Dense) float64 {
	correct := 0
	for i := range s.data.Rows {
		if s.Classify(x, i) == s.y[i] {
			correct++
		}
	}
	return float64(correct) / float64(s.data.Len())
}
