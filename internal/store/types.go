package store

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/cwbudde/policyopt/internal/config"
	"github.com/cwbudde/policyopt/internal/opt"
	"gonum.org/v1/gonum/mat"
)

// Checkpoint is a saved optimization state that can be resumed later.
//
// Only the coordinates are saved, not optimizer state such as momentum
// velocities, RMSProp averages or the L-BFGS history. A resumed run starts
// the optimizer afresh from the saved coordinates, so it is not an exact
// continuation of the interrupted run.
type Checkpoint struct {
	JobID string `json:"jobId"`

	// Rows and Cols give the shape of the decision variable; Coordinates
	// holds it row-major.
	Rows        int       `json:"rows"`
	Cols        int       `json:"cols"`
	Coordinates []float64 `json:"coordinates"`

	// Objective is the objective at Coordinates, InitialObjective the value
	// at the starting point of the first run.
	Objective        float64 `json:"objective"`
	InitialObjective float64 `json:"initialObjective"`

	Iteration int        `json:"iteration"`
	Status    opt.Status `json:"status"`
	Timestamp time.Time  `json:"timestamp"`

	// Config is the job configuration, checked for compatibility on resume.
	Config config.Job `json:"config"`
}

// CheckpointInfo is checkpoint metadata without the coordinates.
type CheckpointInfo struct {
	JobID     string     `json:"jobId"`
	Objective float64    `json:"objective"`
	Iteration int        `json:"iteration"`
	Status    opt.Status `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
	Function  string     `json:"function"`
	Optimizer string     `json:"optimizer"`
	Rows      int        `json:"rows"`
	Cols      int        `json:"cols"`
}

// NewCheckpoint copies x into a checkpoint stamped with the current time.
func NewCheckpoint(jobID string, x mat.Matrix, objective, initialObjective float64, iteration int, status opt.Status, cfg config.Job) *Checkpoint {
	r, c := x.Dims()
	coords := make([]float64, 0, r*c)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			coords = append(coords, x.At(i, j))
		}
	}
	return &Checkpoint{
		JobID:            jobID,
		Rows:             r,
		Cols:             c,
		Coordinates:      coords,
		Objective:        objective,
		InitialObjective: initialObjective,
		Iteration:        iteration,
		Status:           status,
		Timestamp:        time.Now(),
		Config:           cfg,
	}
}

// Matrix returns a copy of the saved coordinates.
func (c *Checkpoint) Matrix() *mat.Dense {
	return mat.NewDense(c.Rows, c.Cols, append([]float64(nil), c.Coordinates...))
}

// ToInfo strips the coordinates.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:     c.JobID,
		Objective: c.Objective,
		Iteration: c.Iteration,
		Status:    c.Status,
		Timestamp: c.Timestamp,
		Function:  c.Config.Function,
		Optimizer: c.Config.Optimizer,
		Rows:      c.Rows,
		Cols:      c.Cols,
	}
}

// Validate checks the checkpoint for missing or inconsistent fields.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if c.Rows <= 0 || c.Cols <= 0 {
		return &ValidationError{Field: "Rows/Cols", Reason: fmt.Sprintf("shape %dx%d must be positive", c.Rows, c.Cols)}
	}
	if len(c.Coordinates) != c.Rows*c.Cols {
		return &ValidationError{
			Field:  "Coordinates",
			Reason: fmt.Sprintf("length mismatch: expected %d values for %dx%d", c.Rows*c.Cols, c.Rows, c.Cols),
		}
	}
	for _, v := range c.Coordinates {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: "Coordinates", Reason: "must be finite"}
		}
	}
	if math.IsNaN(c.Objective) || math.IsInf(c.Objective, 0) {
		return &ValidationError{Field: "Objective", Reason: "must be finite"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if c.Config.Function == "" {
		return &ValidationError{Field: "Config.Function", Reason: "cannot be empty"}
	}
	if c.Config.Optimizer == "" {
		return &ValidationError{Field: "Config.Optimizer", Reason: "cannot be empty"}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible reports whether the checkpoint can seed a run of cfg: every
// field that defines the objective, and therefore the shape of the
// coordinates, must be the same. The optimizer and its hyperparameters may
// change.
func (c *Checkpoint) IsCompatible(cfg config.Job) error {
	saved := c.Config
	if saved.Function != cfg.Function {
		return &CompatibilityError{Field: "Function", Expected: saved.Function, Actual: cfg.Function}
	}
	if saved.DataPath != cfg.DataPath {
		return &CompatibilityError{Field: "DataPath", Expected: saved.DataPath, Actual: cfg.DataPath}
	}
	if saved.Dimension != cfg.Dimension {
		return &CompatibilityError{
			Field:    "Dimension",
			Expected: fmt.Sprintf("%d", saved.Dimension),
			Actual:   fmt.Sprintf("%d", cfg.Dimension),
		}
	}

	// Bias and lambda change the loss of the data-driven objectives.
	if config.NeedsData(cfg.Function) {
		if !sameBias(saved.Bias, cfg.Bias) {
			return &CompatibilityError{
				Field:    "Bias",
				Expected: fmt.Sprintf("%g", saved.Bias),
				Actual:   fmt.Sprintf("%g", cfg.Bias),
			}
		}
		if saved.Lambda != cfg.Lambda {
			return &CompatibilityError{
				Field:    "Lambda",
				Expected: fmt.Sprintf("%g", saved.Lambda),
				Actual:   fmt.Sprintf("%g", cfg.Lambda),
			}
		}
	}

	// The quadratic's target is explicit or generated from the seed.
	if cfg.Function == config.FunctionSparseQuadratic {
		if !slices.Equal(saved.Target, cfg.Target) {
			return &CompatibilityError{
				Field:    "Target",
				Expected: fmt.Sprintf("%v", saved.Target),
				Actual:   fmt.Sprintf("%v", cfg.Target),
			}
		}
		if len(cfg.Target) == 0 && saved.Seed != cfg.Seed {
			return &CompatibilityError{
				Field:    "Seed",
				Expected: fmt.Sprintf("%d", saved.Seed),
				Actual:   fmt.Sprintf("%d", cfg.Seed),
			}
		}
	}
	return nil
}

// sameBias treats every negative bias as "no bias feature".
func sameBias(a, b float64) bool {
	if a < 0 || b < 0 {
		return a < 0 && b < 0
	}
	return a == b
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
