package opt

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cwbudde/policyopt/internal/function"
	"github.com/cwbudde/policyopt/internal/sparse"
	"gonum.org/v1/gonum/mat"
)

// SCD is stochastic coordinate descent over a Resolvable objective. Each
// iteration updates a single feature column chosen by Descent; the full
// objective is evaluated every UpdateInterval iterations for the
// convergence check.
type SCD struct {
	StepSize       float64
	MaxIterations  int // 0 means no limit
	Tolerance      float64
	UpdateInterval int
	Descent        DescentPolicy
	Callback       Callback
}

// NewSCD returns SCD with step 0.01, 100000 iterations, tolerance 1e-5,
// an update interval of 1000 and random feature selection.
func NewSCD(seed int64) *SCD {
	return &SCD{
		StepSize:       0.01,
		MaxIterations:  100000,
		Tolerance:      1e-5,
		UpdateInterval: 1000,
		Descent:        NewRandomDescent(seed),
	}
}

func (s *SCD) Name() string              { return "scd" }
func (s *SCD) Requires() function.Policy { return function.PolicyResolvable }

func (s *SCD) Minimize(ctx context.Context, objective any, iterate *mat.Dense) (*Result, error) {
	if err := function.Require(s.Name(), objective, s.Requires()); err != nil {
		return nil, err
	}
	return s.Optimize(ctx, objective.(function.Resolvable), iterate)
}

// Optimize runs SCD from iterate, updating it in place.
func (s *SCD) Optimize(ctx context.Context, f function.Resolvable, iterate *mat.Dense) (*Result, error) {
	start := time.Now()
	r, c := iterate.Dims()
	if c != f.NumFeatures() {
		return nil, fmt.Errorf("%s: iterate has %d columns but objective has %d features", s.Name(), c, f.NumFeatures())
	}
	interval := s.UpdateInterval
	if interval < 1 {
		interval = 1
	}
	descent := s.Descent
	if descent == nil {
		descent = CyclicDescent{}
	}

	gradient := sparse.New(r, c)
	tracker := NewConvergenceTracker(ConvergenceConfig{Tolerance: s.Tolerance})
	res := &Result{Coordinates: iterate}

	for i := 0; s.MaxIterations == 0 || i < s.MaxIterations; i++ {
		if cancelled(ctx) {
			res.Status = Cancelled
			return finish(res, start), ctx.Err()
		}

		// Update a single feature column.
		j := descent.DescentFeature(i, iterate, f)
		gradient.Reset()
		f.FeatureGradient(iterate, j, gradient)
		gradient.AddScaledTo(iterate, -s.StepSize)
		res.Iterations = i + 1

		// Evaluate the full objective every interval iterations.
		if i%interval != 0 {
			continue
		}
		res.Objective = f.Evaluate(iterate)
		res.Evaluations++
		s.Callback.report(i, res.Objective, iterate)

		if diverged(res.Objective) {
			slog.Warn("SCD diverged", "iteration", i, "objective", res.Objective)
			res.Status = Diverged
			return finish(res, start), nil
		}
		if tracker.Update(res.Objective) {
			slog.Info("SCD converged", "iteration", i, "objective", res.Objective)
			res.Status = Converged
			return finish(res, start), nil
		}
	}

	slog.Info("SCD reached iteration limit", "max_iterations", s.MaxIterations)
	res.Objective = f.Evaluate(iterate)
	res.Evaluations++
	res.Status = IterationLimit
	return finish(res, start), nil
}
