package opt

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/cwbudde/policyopt/internal/dataset"
	"github.com/cwbudde/policyopt/internal/function"
	"github.com/cwbudde/policyopt/internal/objectives"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var target = []float64{1, -2, 0.5, 3}

func assertAtTarget(t *testing.T, x *mat.Dense, delta float64) {
	t.Helper()
	for j, want := range target {
		assert.InDelta(t, want, x.At(0, j), delta, "coordinate %d", j)
	}
}

func TestGradientDescentSparseQuadratic(t *testing.T) {
	f := objectives.NewSparseQuadratic(target)
	x := f.InitialPoint()

	gd := NewGradientDescent()
	gd.StepSize = 0.1
	res, err := gd.Minimize(context.Background(), f, x)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.Same(t, x, res.Coordinates)
	assertAtTarget(t, x, 1e-2)
}

func TestGradientDescentIterationLimit(t *testing.T) {
	f := objectives.NewSparseQuadratic(target)
	gd := NewGradientDescent()
	gd.MaxIterations = 5
	res, err := gd.Minimize(context.Background(), f, f.InitialPoint())
	require.NoError(t, err)
	assert.Equal(t, IterationLimit, res.Status)
	assert.Equal(t, 4, res.Iterations)
}

func TestSGDSparseQuadratic(t *testing.T) {
	f := objectives.NewSparseQuadratic(target)
	x := f.InitialPoint()

	s := NewSGD()
	s.StepSize = 0.1
	s.Seed = 7
	res, err := s.Minimize(context.Background(), f, x)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assertAtTarget(t, x, 1e-2)
	assert.Greater(t, res.Evaluations, f.NumFunctions())
}

func TestSGDMiniBatch(t *testing.T) {
	f := objectives.NewSparseQuadratic(target)
	x := f.InitialPoint()

	s := NewSGD()
	s.StepSize = 0.2
	s.BatchSize = 3
	res, err := s.Minimize(context.Background(), f, x)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assertAtTarget(t, x, 2e-2)
}

func TestSGDDiverges(t *testing.T) {
	f := objectives.SGDTest{}
	s := NewSGD()
	s.StepSize = 0.1
	s.Shuffle = false
	res, err := s.Minimize(context.Background(), f, f.InitialPoint())
	require.NoError(t, err)
	assert.Equal(t, Diverged, res.Status)
}

func TestSGDVariantsReduceObjective(t *testing.T) {
	f := objectives.NewSparseQuadratic(target)
	start := f.Evaluate(f.InitialPoint())

	for _, name := range []string{"sgd", "momentum-sgd", "rmsprop", "adagrad"} {
		t.Run(name, func(t *testing.T) {
			o, err := New(name, Params{StepSize: 0.1, MaxIterations: 2000, Seed: 3}, nil)
			require.NoError(t, err)
			assert.Equal(t, name, o.Name())

			res, err := o.Minimize(context.Background(), f, f.InitialPoint())
			require.NoError(t, err)
			assert.Less(t, res.Objective, start)
		})
	}
}

func TestParallelSGDSparseQuadratic(t *testing.T) {
	f := objectives.NewSparseQuadratic(target)
	x := f.InitialPoint()

	p := NewParallelSGD()
	p.Threads = 4
	p.ThreadShareSize = 1
	p.Decay = ConstantStep{Step: 0.1}
	res, err := p.Minimize(context.Background(), f, x)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assertAtTarget(t, x, 1e-2)
}

const separable = `+1 1:2.0 2:1.0
+1 1:1.5 2:0.5
+1 1:1.0 3:0.2
-1 2:2.0 3:1.0
-1 1:-1.0 3:1.5
-1 1:-0.5 2:1.0
`

func logistic(t *testing.T) *objectives.LogisticRegression {
	t.Helper()
	ds, err := dataset.ReadLIBSVM(strings.NewReader(separable), 1)
	require.NoError(t, err)
	f, err := objectives.NewLogisticRegression(ds, 0.01)
	require.NoError(t, err)
	return f
}

func TestParallelSGDLogisticRegression(t *testing.T) {
	f := logistic(t)
	x := f.InitialPoint()
	start := f.Evaluate(x)

	p := NewParallelSGD()
	p.Threads = 2
	p.MaxIterations = 200
	res, err := p.Minimize(context.Background(), f, x)
	require.NoError(t, err)
	assert.Less(t, res.Objective, start)
	assert.Equal(t, 1.0, f.Accuracy(x))
}

func TestSCDDescentPolicies(t *testing.T) {
	policies := map[string]DescentPolicy{
		"cyclic": CyclicDescent{},
		"greedy": GreedyDescent{},
		"random": NewRandomDescent(11),
	}
	for name, policy := range policies {
		t.Run(name, func(t *testing.T) {
			f := objectives.NewSparseQuadratic(target)
			x := f.InitialPoint()

			s := NewSCD(0)
			s.StepSize = 0.1
			s.UpdateInterval = 10 * len(target)
			s.Descent = policy
			res, err := s.Minimize(context.Background(), f, x)
			require.NoError(t, err)
			assert.Equal(t, Converged, res.Status)
			assertAtTarget(t, x, 5e-2)
		})
	}
}

func TestSCDRejectsShape(t *testing.T) {
	f := objectives.NewSparseQuadratic(target)
	_, err := NewSCD(0).Minimize(context.Background(), f, mat.NewDense(1, 2, nil))
	assert.Error(t, err)
}

func TestGreedyDescentPicksSteepestFeature(t *testing.T) {
	f := objectives.NewSparseQuadratic(target)
	x := mat.NewDense(1, 4, []float64{1, -2, 0.5, 0})
	assert.Equal(t, 3, GreedyDescent{}.DescentFeature(0, x, f))
}

func TestLBFGSRosenbrock(t *testing.T) {
	f := objectives.Rosenbrock{}
	x := f.InitialPoint()

	var reports int
	l := NewLBFGS()
	l.Callback = func(Progress) { reports++ }
	res, err := l.Minimize(context.Background(), f, x)
	require.NoError(t, err)
	assert.Equal(t, Converged, res.Status)
	assert.InDelta(t, 1, x.At(0, 0), 1e-4)
	assert.InDelta(t, 1, x.At(1, 0), 1e-4)
	assert.InDelta(t, 0, res.Objective, 1e-8)
	assert.Positive(t, reports)
}

func TestLBFGSSoftmaxShape(t *testing.T) {
	ds, err := dataset.ReadLIBSVM(strings.NewReader("0 1:1.0\n1 2:1.0\n2 3:1.0\n"), 1)
	require.NoError(t, err)
	f, err := objectives.NewSoftmaxRegression(ds, 0.1)
	require.NoError(t, err)
	x := f.InitialPoint()
	start := f.Evaluate(x)

	res, err := NewLBFGS().Minimize(context.Background(), f, x)
	require.NoError(t, err)
	r, c := x.Dims()
	assert.Equal(t, 3, r)
	assert.Equal(t, 4, c)
	assert.Less(t, res.Objective, start)
	assert.Equal(t, 1.0, f.Accuracy(x))
}

func TestMayflySparseQuadratic(t *testing.T) {
	f := objectives.NewSparseQuadratic(target[:3])
	x := f.InitialPoint()

	m := NewMayfly(42)
	m.MaxIterations = 200
	m.Lower, m.Upper = -5, 5
	res, err := m.Minimize(context.Background(), f, x)
	require.NoError(t, err)
	assert.Less(t, res.Objective, 0.1)
	assert.InDelta(t, res.Objective, f.Evaluate(x), 1e-12)
}

func TestMayflyDeterministic(t *testing.T) {
	f := objectives.NewSparseQuadratic(target[:2])
	run := func() float64 {
		m := NewMayfly(123)
		m.MaxIterations = 50
		res, err := m.Minimize(context.Background(), f, f.InitialPoint())
		require.NoError(t, err)
		return res.Objective
	}
	assert.Equal(t, run(), run())
}

func TestMayflyRejectsEmptyBox(t *testing.T) {
	m := NewMayfly(1)
	m.Lower, m.Upper = 1, 1
	_, err := m.Minimize(context.Background(), objectives.Rosenbrock{}, mat.NewDense(2, 1, nil))
	assert.Error(t, err)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := objectives.NewSparseQuadratic(target)
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			res, err := Dispatch(ctx, name, Params{}, f, f.InitialPoint(), nil)
			assert.ErrorIs(t, err, context.Canceled)
			if res != nil {
				assert.Equal(t, Cancelled, res.Status)
			}
		})
	}
}

func TestDispatchPolicyMismatch(t *testing.T) {
	for _, name := range []string{"sgd", "parallel-sgd", "scd"} {
		_, err := Dispatch(context.Background(), name, Params{}, objectives.Rosenbrock{}, mat.NewDense(2, 1, nil), nil)
		var pe *function.PolicyError
		require.True(t, errors.As(err, &pe), name)
		assert.Equal(t, name, pe.Optimizer)
	}
}

func TestNewUnknown(t *testing.T) {
	_, err := New("newton", Params{}, nil)
	assert.ErrorIs(t, err, ErrUnknownOptimizer)

	_, err = New("scd", Params{Descent: "sideways"}, nil)
	assert.Error(t, err)

	_, err = New("parallel-sgd", Params{Decay: "linear"}, nil)
	assert.Error(t, err)
}

func TestNewAppliesParams(t *testing.T) {
	o, err := New("parallel-sgd", Params{StepSize: 0.5, Decay: "exponential", FirstBackoffEpoch: 2, Beta: 0.5, Threads: 3}, nil)
	require.NoError(t, err)
	p := o.(*ParallelSGD)
	assert.Equal(t, 3, p.Threads)
	assert.Equal(t, 0.5, p.Decay.StepSize(1))
	assert.Equal(t, 0.25, p.Decay.StepSize(2))

	o, err = New("rmsprop", Params{Alpha: 0.9}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0.9, o.(*SGD).Update.(*RMSPropUpdate).Alpha)
	assert.Equal(t, 0.01, o.(*SGD).StepSize)
}

func TestNewNegativeLimits(t *testing.T) {
	o, err := New("gd", Params{MaxIterations: -1, Tolerance: -1}, nil)
	require.NoError(t, err)
	gd := o.(*GradientDescent)
	assert.Equal(t, 0, gd.MaxIterations)
	assert.Equal(t, 0.0, gd.Tolerance)

	o, err = New("sgd", Params{MaxIterations: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, o.(*SGD).MaxIterations)
	assert.Equal(t, 1e-5, o.(*SGD).Tolerance)

	o, err = New("lbfgs", Params{MaxIterations: -5}, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, o.(*LBFGS).MaxIterations)

	o, err = New("mayfly", Params{MaxIterations: -1}, nil)
	require.NoError(t, err)
	assert.Equal(t, 500, o.(*Mayfly).MaxIterations)
}

func TestZeroToleranceRunsToLimit(t *testing.T) {
	f := objectives.NewSparseQuadratic(target)
	res, err := Dispatch(context.Background(), "gd", Params{StepSize: 0.1, MaxIterations: 300, Tolerance: -1}, f, f.InitialPoint(), nil)
	require.NoError(t, err)
	assert.Equal(t, IterationLimit, res.Status)
}

func TestCallbackReportsProgress(t *testing.T) {
	f := objectives.NewSparseQuadratic(target)
	var got []float64
	_, err := Dispatch(context.Background(), "gd", Params{StepSize: 0.1}, f, f.InitialPoint(), func(p Progress) {
		got = append(got, p.Objective)
	})
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.InDelta(t, 14.25, got[0], 1e-12)
	assert.Less(t, got[len(got)-1], got[0])
}

func TestExponentialBackoff(t *testing.T) {
	d := NewExponentialBackoff(10, 1, 0.5)
	assert.Equal(t, 1.0, d.StepSize(1))
	assert.Equal(t, 1.0, d.StepSize(9))
	assert.Equal(t, 0.5, d.StepSize(10))
	assert.Equal(t, 0.5, d.StepSize(29))
	assert.Equal(t, 0.25, d.StepSize(30))

	assert.Panics(t, func() { NewExponentialBackoff(1, 1, 0) })
}

func TestUpdatePolicies(t *testing.T) {
	grad := mat.NewDense(1, 2, []float64{2, 0})

	x := mat.NewDense(1, 2, []float64{1, 1})
	VanillaUpdate{}.Update(x, 0.5, grad)
	assert.Equal(t, []float64{0, 1}, x.RawRowView(0))

	x = mat.NewDense(1, 2, []float64{1, 1})
	m := &MomentumUpdate{Momentum: 0.5}
	m.Initialize(1, 2)
	m.Update(x, 0.5, grad)
	m.Update(x, 0.5, grad)
	assert.InDeltaSlice(t, []float64{-1.5, 1}, x.RawRowView(0), 1e-12)

	x = mat.NewDense(1, 2, []float64{1, 1})
	a := &AdaGradUpdate{}
	a.Initialize(1, 2)
	a.Update(x, 0.5, grad)
	assert.InDeltaSlice(t, []float64{0.5, 1}, x.RawRowView(0), 1e-12)

	x = mat.NewDense(1, 2, []float64{1, 1})
	r := &RMSPropUpdate{Alpha: 0.75, Epsilon: 1e-8}
	r.Initialize(1, 2)
	r.Update(x, 0.5, grad)
	assert.InDeltaSlice(t, []float64{0, 1}, x.RawRowView(0), 1e-6)
}

func TestConvergenceTracker(t *testing.T) {
	c := NewConvergenceTracker(ConvergenceConfig{Tolerance: 0.1, Patience: 2})
	assert.False(t, c.Update(10))
	assert.False(t, c.Update(9.95))
	assert.Equal(t, 1, c.StaleCount())
	assert.False(t, c.Update(5))
	assert.Equal(t, 0, c.StaleCount())
	assert.False(t, c.Update(4.95))
	assert.True(t, c.Update(4.93))
	assert.Equal(t, 4.93, c.Best())
	assert.Len(t, c.History(), 5)

	c.Reset()
	assert.Empty(t, c.History())
	assert.True(t, math.IsInf(c.Best(), 1))
}

func TestConvergenceTrackerRelative(t *testing.T) {
	c := NewConvergenceTracker(ConvergenceConfig{Tolerance: 0.01, Relative: true})
	assert.False(t, c.Update(1000))
	assert.True(t, c.Update(995))
}

func TestStatusText(t *testing.T) {
	text, err := Converged.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "converged", string(text))

	var s Status
	require.NoError(t, s.UnmarshalText([]byte("iteration_limit")))
	assert.Equal(t, IterationLimit, s)
	assert.Error(t, s.UnmarshalText([]byte("bogus")))
}
