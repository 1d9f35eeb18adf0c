package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/cwbudde/mayfly"
	"github.com/cwbudde/policyopt/internal/function"
	"gonum.org/v1/gonum/mat"
)

// Mayfly wraps the mayfly swarm optimizer for objectives that only
// implement Evaluate. The search box is [Lower, Upper] in every coordinate;
// the starting iterate only fixes the shape and is overwritten with the
// best position found.
type Mayfly struct {
	MaxIterations  int
	PopulationSize int // mayfly requires at least 20
	Seed           int64
	Lower, Upper   float64
	Callback       Callback
}

// NewMayfly returns Mayfly with 500 iterations, 20 mayflies per
// population and the box [-10, 10].
func NewMayfly(seed int64) *Mayfly {
	return &Mayfly{
		MaxIterations:  500,
		PopulationSize: 20,
		Seed:           seed,
		Lower:          -10,
		Upper:          10,
	}
}

func (m *Mayfly) Name() string              { return "mayfly" }
func (m *Mayfly) Requires() function.Policy { return function.PolicyEvaluator }

func (m *Mayfly) Minimize(ctx context.Context, objective any, iterate *mat.Dense) (*Result, error) {
	if err := function.Require(m.Name(), objective, m.Requires()); err != nil {
		return nil, err
	}
	return m.Optimize(ctx, objective.(function.Evaluator), iterate)
}

// Optimize runs the swarm and writes the global best into iterate.
func (m *Mayfly) Optimize(ctx context.Context, f function.Evaluator, iterate *mat.Dense) (*Result, error) {
	start := time.Now()
	if m.Lower >= m.Upper {
		return nil, fmt.Errorf("%s: lower bound %g must be below upper bound %g", m.Name(), m.Lower, m.Upper)
	}
	r, c := iterate.Dims()

	evaluations := 0
	best := math.Inf(1)
	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(x []float64) float64 {
		// The library has no cancellation hook; make the remaining
		// evaluations cheap once the context is done.
		if ctx.Err() != nil {
			return math.Inf(1)
		}
		evaluations++
		x2 := mat.NewDense(r, c, x)
		v := f.Evaluate(x2)
		if v < best {
			best = v
			m.Callback.report(evaluations, v, x2)
		}
		return v
	}
	config.ProblemSize = r * c
	config.MaxIterations = m.MaxIterations
	config.NPop = m.PopulationSize
	config.LowerBound = m.Lower
	config.UpperBound = m.Upper
	config.Rand = rand.New(rand.NewSource(m.Seed))

	res := &Result{Coordinates: iterate}
	out, err := mayfly.Optimize(config)
	if err := ctx.Err(); err != nil {
		res.Status = Cancelled
		return finish(res, start), err
	}
	if err != nil {
		res.Status = Failure
		return finish(res, start), fmt.Errorf("%s: %w", m.Name(), err)
	}

	iterate.Copy(mat.NewDense(r, c, out.GlobalBest.Position))
	res.Objective = out.GlobalBest.Cost
	res.Iterations = m.MaxIterations
	res.Evaluations = evaluations
	res.Status = IterationLimit
	if diverged(res.Objective) {
		res.Status = Diverged
	}
	slog.Info("Mayfly finished", "iterations", res.Iterations, "evaluations", evaluations, "objective", res.Objective)
	return finish(res, start), nil
}
