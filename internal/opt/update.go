package opt

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// UpdatePolicy applies one step of a stochastic optimizer given the
// (mini-batch) gradient.
type UpdatePolicy interface {
	// Initialize prepares per-coordinate state for a rows x cols iterate.
	Initialize(rows, cols int)

	// Update modifies iterate in place.
	Update(iterate *mat.Dense, stepSize float64, gradient *mat.Dense)
}

// VanillaUpdate is iterate -= stepSize * gradient.
type VanillaUpdate struct{}

func (VanillaUpdate) Initialize(int, int) {}

func (VanillaUpdate) Update(iterate *mat.Dense, stepSize float64, gradient *mat.Dense) {
	axpy(iterate, -stepSize, gradient)
}

// MomentumUpdate keeps a velocity:
//
//	v = momentum*v - stepSize*gradient
//	iterate += v
type MomentumUpdate struct {
	Momentum float64
	velocity *mat.Dense
}

func (m *MomentumUpdate) Initialize(rows, cols int) {
	m.velocity = mat.NewDense(rows, cols, nil)
}

func (m *MomentumUpdate) Update(iterate *mat.Dense, stepSize float64, gradient *mat.Dense) {
	m.velocity.Scale(m.Momentum, m.velocity)
	axpy(m.velocity, -stepSize, gradient)
	iterate.Add(iterate, m.velocity)
}

// RMSPropUpdate divides the step by a running root-mean-square of recent
// gradients:
//
//	s = alpha*s + (1-alpha)*g^2
//	iterate -= stepSize * g / (sqrt(s) + epsilon)
type RMSPropUpdate struct {
	Alpha   float64
	Epsilon float64
	meanSq  *mat.Dense
}

func (u *RMSPropUpdate) Initialize(rows, cols int) {
	u.meanSq = mat.NewDense(rows, cols, nil)
}

func (u *RMSPropUpdate) Update(iterate *mat.Dense, stepSize float64, gradient *mat.Dense) {
	r, c := iterate.Dims()
	for i := 0; i < r; i++ {
		x := iterate.RawRowView(i)
		g := gradient.RawRowView(i)
		s := u.meanSq.RawRowView(i)
		for j := 0; j < c; j++ {
			s[j] = u.Alpha*s[j] + (1-u.Alpha)*g[j]*g[j]
			x[j] -= stepSize * g[j] / (math.Sqrt(s[j]) + u.Epsilon)
		}
	}
}

// AdaGradUpdate scales each coordinate by the accumulated squared gradient:
//
//	s += g^2
//	iterate -= stepSize * g / (sqrt(s) + epsilon)
type AdaGradUpdate struct {
	Epsilon float64
	sumSq   *mat.Dense
}

func (u *AdaGradUpdate) Initialize(rows, cols int) {
	u.sumSq = mat.NewDense(rows, cols, nil)
}

func (u *AdaGradUpdate) Update(iterate *mat.Dense, stepSize float64, gradient *mat.Dense) {
	r, c := iterate.Dims()
	for i := 0; i < r; i++ {
		x := iterate.RawRowView(i)
		g := gradient.RawRowView(i)
		s := u.sumSq.RawRowView(i)
		for j := 0; j < c; j++ {
			if g[j] == 0 {
				continue
			}
			s[j] += g[j] * g[j]
			x[j] -= stepSize * g[j] / (math.Sqrt(s[j]) + u.Epsilon)
		}
	}
}
