package opt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/cwbudde/policyopt/internal/function"
	"github.com/cwbudde/policyopt/internal/sparse"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

// ParallelSGD is HOGWILD!-style parallel SGD over a Sparse objective.
//
// Each outer iteration evaluates the objective, checks divergence and
// convergence, picks a step from Decay, reshuffles, and then lets Threads
// workers process ThreadShareSize terms each. Workers compute gradients
// concurrently and never coordinate on which coordinates they touch; the
// short sparse write-back is serialised by a RWMutex so reads of the shared
// iterate stay well-defined under the Go memory model.
type ParallelSGD struct {
	MaxIterations   int // 0 means no limit
	Threads         int // 0 means GOMAXPROCS
	ThreadShareSize int // 0 means an even split of all terms
	Tolerance       float64
	Shuffle         bool
	Seed            int64
	Decay           DecayPolicy
	Callback        Callback
}

// NewParallelSGD returns ParallelSGD with a constant step of 0.01, 100000
// iterations, tolerance 1e-5 and shuffling.
func NewParallelSGD() *ParallelSGD {
	return &ParallelSGD{
		MaxIterations: 100000,
		Tolerance:     1e-5,
		Shuffle:       true,
		Decay:         ConstantStep{Step: 0.01},
	}
}

func (p *ParallelSGD) Name() string              { return "parallel-sgd" }
func (p *ParallelSGD) Requires() function.Policy { return function.PolicySparse }

func (p *ParallelSGD) Minimize(ctx context.Context, objective any, iterate *mat.Dense) (*Result, error) {
	if err := function.Require(p.Name(), objective, p.Requires()); err != nil {
		return nil, err
	}
	return p.Optimize(ctx, objective.(function.Sparse), iterate)
}

// Optimize runs ParallelSGD from iterate, updating it in place.
func (p *ParallelSGD) Optimize(ctx context.Context, f function.Sparse, iterate *mat.Dense) (*Result, error) {
	start := time.Now()
	n := f.NumFunctions()
	if n <= 0 {
		return nil, fmt.Errorf("%s: objective has no functions", p.Name())
	}
	threads := p.Threads
	if threads <= 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	// Each worker takes a contiguous slice of the shuffled order.
	share := p.ThreadShareSize
	if share <= 0 {
		share = (n + threads - 1) / threads
	}
	decay := p.Decay
	if decay == nil {
		decay = ConstantStep{Step: 0.01}
	}

	rng := rand.New(rand.NewSource(p.Seed))
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}

	r, c := iterate.Dims()
	tracker := NewConvergenceTracker(ConvergenceConfig{Tolerance: p.Tolerance})
	res := &Result{Coordinates: iterate}
	var mu sync.RWMutex

	slog.Debug("Starting parallel SGD", "threads", threads, "thread_share", share, "functions", n)

	for i := 1; p.MaxIterations == 0 || i != p.MaxIterations; i++ {
		res.Objective = f.Evaluate(iterate)
		res.Evaluations++
		p.Callback.report(i-1, res.Objective, iterate)

		if diverged(res.Objective) {
			slog.Warn("Parallel SGD diverged", "iteration", i, "objective", res.Objective)
			res.Status = Diverged
			return finish(res, start), nil
		}
		if tracker.Update(res.Objective) {
			slog.Info("Parallel SGD converged", "iteration", i, "objective", res.Objective)
			res.Status = Converged
			return finish(res, start), nil
		}

		step := decay.StepSize(i)
		if p.Shuffle {
			rng.Shuffle(n, func(a, b int) { order[a], order[b] = order[b], order[a] })
		}

		// Fan out one epoch. With an explicit ThreadShareSize the shares
		// may not cover every term; the rest waits for a later shuffle.
		g, gctx := errgroup.WithContext(ctx)
		for w := 0; w < threads; w++ {
			lo := w * share
			if lo >= n {
				break
			}
			hi := min(lo+share, n)
			terms := order[lo:hi]

			g.Go(func() error {
				gradient := sparse.New(r, c)
				for _, idx := range terms {
					if err := gctx.Err(); err != nil {
						return err
					}
					gradient.Reset()

					// Gradients are computed concurrently; only the
					// sparse write-back is exclusive.
					mu.RLock()
					f.SparseGradient(iterate, idx, gradient)
					mu.RUnlock()

					mu.Lock()
					gradient.AddScaledTo(iterate, -step)
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				res.Status = Cancelled
				return finish(res, start), ctx.Err()
			}
			res.Status = Failure
			return finish(res, start), err
		}
		res.Iterations = i
	}

	slog.Info("Parallel SGD reached iteration limit", "max_iterations", p.MaxIterations)
	res.Objective = f.Evaluate(iterate)
	res.Evaluations++
	res.Status = IterationLimit
	return finish(res, start), nil
}
