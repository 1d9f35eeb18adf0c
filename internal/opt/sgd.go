package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/cwbudde/policyopt/internal/function"
	"gonum.org/v1/gonum/mat"
)

// SGD is (mini-batch) stochastic gradient descent over a Decomposable
// objective. The step rule is pluggable through Update, which also gives
// RMSProp, AdaGrad and momentum SGD.
//
// One iteration processes one batch. The objective is accumulated over an
// epoch as terms are visited; at each epoch boundary it is checked for
// divergence and convergence and the visitation order is reshuffled.
type SGD struct {
	StepSize      float64
	BatchSize     int
	MaxIterations int // 0 means no limit
	Tolerance     float64
	Shuffle       bool
	Seed          int64
	Update        UpdatePolicy
	Callback      Callback

	name string
}

// NewSGD returns vanilla SGD with step 0.01, batch size 1, 100000
// iterations, tolerance 1e-5 and shuffling.
func NewSGD() *SGD {
	return &SGD{
		StepSize:      0.01,
		BatchSize:     1,
		MaxIterations: 100000,
		Tolerance:     1e-5,
		Shuffle:       true,
		Update:        VanillaUpdate{},
		name:          "sgd",
	}
}

// NewMomentumSGD returns SGD with a momentum update.
func NewMomentumSGD(momentum float64) *SGD {
	s := NewSGD()
	s.Update = &MomentumUpdate{Momentum: momentum}
	s.name = "momentum-sgd"
	return s
}

// NewRMSProp returns SGD with the RMSProp update: alpha 0.99 and epsilon
// 1e-8.
func NewRMSProp() *SGD {
	s := NewSGD()
	s.Update = &RMSPropUpdate{Alpha: 0.99, Epsilon: 1e-8}
	s.name = "rmsprop"
	return s
}

// NewAdaGrad returns SGD with the AdaGrad update and epsilon 1e-8.
func NewAdaGrad() *SGD {
	s := NewSGD()
	s.Update = &AdaGradUpdate{Epsilon: 1e-8}
	s.name = "adagrad"
	return s
}

func (s *SGD) Name() string {
	if s.name == "" {
		return "sgd"
	}
	return s.name
}

func (s *SGD) Requires() function.Policy { return function.PolicyDecomposable }

func (s *SGD) Minimize(ctx context.Context, objective any, iterate *mat.Dense) (*Result, error) {
	if err := function.Require(s.Name(), objective, s.Requires()); err != nil {
		return nil, err
	}
	return s.Optimize(ctx, objective.(function.Decomposable), iterate)
}

// Optimize runs SGD from iterate, updating it in place.
func (s *SGD) Optimize(ctx context.Context, f function.Decomposable, iterate *mat.Dense) (*Result, error) {
	start := time.Now()
	n := f.NumFunctions()
	if n <= 0 {
		return nil, fmt.Errorf("%s: objective has no functions", s.Name())
	}
	batchSize := s.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}
	update := s.Update
	if update == nil {
		update = VanillaUpdate{}
	}

	rng := rand.New(rand.NewSource(s.Seed))
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	shuffle := func() {
		if s.Shuffle {
			rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
	}
	shuffle()

	r, c := iterate.Dims()
	gradient := mat.NewDense(r, c, nil)
	term := mat.NewDense(r, c, nil)
	update.Initialize(r, c)

	res := &Result{Coordinates: iterate}

	// The first epoch boundary checks the full objective at the start.
	var overall float64
	for i := 0; i < n; i++ {
		overall += f.EvaluateAt(iterate, i)
	}
	res.Evaluations = n

	tracker := NewConvergenceTracker(ConvergenceConfig{Tolerance: s.Tolerance})
	current := 0
	epoch := 0

	for i := 1; s.MaxIterations == 0 || i != s.MaxIterations; i++ {
		// Epoch boundary: overall holds the terms evaluated right after
		// each update of the epoch, which approximates the objective
		// without an extra full pass.
		if i == 1 || current >= n {
			res.Objective = overall
			s.Callback.report(i-1, overall, iterate)

			if diverged(overall) {
				slog.Warn("SGD diverged", "optimizer", s.Name(), "epoch", epoch, "objective", overall)
				res.Status = Diverged
				return finish(res, start), nil
			}
			if tracker.Update(overall) {
				slog.Info("SGD converged", "optimizer", s.Name(), "epoch", epoch, "iteration", i-1, "objective", overall)
				res.Status = Converged
				return finish(res, start), nil
			}
			slog.Debug("SGD epoch", "optimizer", s.Name(), "epoch", epoch, "objective", overall)

			overall = 0
			current = 0
			epoch++
			if i > 1 {
				shuffle()
			}
		}

		if cancelled(ctx) {
			res.Status = Cancelled
			return finish(res, start), ctx.Err()
		}

		// The last batch of an epoch may be short.
		batch := min(batchSize, n-current)
		if batch == 1 {
			f.GradientAt(iterate, order[current], gradient)
		} else {
			gradient.Zero()
			for k := 0; k < batch; k++ {
				f.GradientAt(iterate, order[current+k], term)
				gradient.Add(gradient, term)
			}
			// Mean gradient of the batch.
			gradient.Scale(1/float64(batch), gradient)
		}
		update.Update(iterate, s.StepSize, gradient)

		for k := 0; k < batch; k++ {
			overall += f.EvaluateAt(iterate, order[current+k])
		}
		res.Evaluations += batch
		res.Iterations = i
		current += batch
	}

	slog.Info("SGD reached iteration limit", "optimizer", s.Name(), "max_iterations", s.MaxIterations)
	// A partial epoch's sum is not comparable; recompute the full objective.
	overall = 0
	for i := 0; i < n; i++ {
		overall += f.EvaluateAt(iterate, i)
	}
	res.Evaluations += n
	res.Objective = overall
	res.Status = IterationLimit
	return finish(res, start), nil
}
