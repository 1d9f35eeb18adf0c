package opt

// DecayPolicy picks the step size for each outer iteration of ParallelSGD.
type DecayPolicy interface {
	StepSize(epoch int) float64
}

// ConstantStep always returns Step.
type ConstantStep struct {
	Step float64
}

func (c ConstantStep) StepSize(int) float64 {
	return c.Step
}

// ExponentialBackoff multiplies the step by Beta each time the epoch
// reaches a cutoff. The first cutoff is FirstBackoffEpoch; every later
// cutoff is pushed out by FirstBackoffEpoch/Beta epochs.
type ExponentialBackoff struct {
	FirstBackoffEpoch int
	Step              float64
	Beta              float64

	cutoff float64
}

// NewExponentialBackoff panics when beta is not in (0, 1].
func NewExponentialBackoff(firstBackoffEpoch int, step, beta float64) *ExponentialBackoff {
	if beta <= 0 || beta > 1 {
		panic("opt: exponential backoff beta must be in (0, 1]")
	}
	return &ExponentialBackoff{
		FirstBackoffEpoch: firstBackoffEpoch,
		Step:              step,
		Beta:              beta,
		cutoff:            float64(firstBackoffEpoch),
	}
}

func (e *ExponentialBackoff) StepSize(epoch int) float64 {
	if float64(epoch) >= e.cutoff {
		e.Step *= e.Beta
		e.cutoff += float64(e.FirstBackoffEpoch) / e.Beta
	}
	return e.Step
}
