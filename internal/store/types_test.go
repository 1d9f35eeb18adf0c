package store

import (
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/cwbudde/policyopt/internal/config"
	"github.com/cwbudde/policyopt/internal/opt"
	"gonum.org/v1/gonum/mat"
)

func TestCheckpoint_JSONSerialization(t *testing.T) {
	original := createTestCheckpoint("json-job")
	original.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	for _, key := range []string{`"jobId"`, `"coordinates"`, `"status":"iteration_limit"`, `"optimizer":"parallel-sgd"`} {
		if !strings.Contains(string(data), key) {
			t.Errorf("JSON missing %s: %s", key, data)
		}
	}

	var decoded Checkpoint
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if decoded.Status != original.Status {
		t.Errorf("Status = %v, want %v", decoded.Status, original.Status)
	}
	if !decoded.Timestamp.Equal(original.Timestamp) {
		t.Errorf("Timestamp = %v, want %v", decoded.Timestamp, original.Timestamp)
	}
	if decoded.Rows != 1 || decoded.Cols != 4 || len(decoded.Coordinates) != 4 {
		t.Errorf("Shape not preserved: %dx%d, %d values", decoded.Rows, decoded.Cols, len(decoded.Coordinates))
	}
}

func TestCheckpoint_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Checkpoint)
		field  string
	}{
		{"valid", func(*Checkpoint) {}, ""},
		{"negative objective is fine", func(c *Checkpoint) { c.Objective = -1 }, ""},
		{"empty job id", func(c *Checkpoint) { c.JobID = "" }, "JobID"},
		{"zero rows", func(c *Checkpoint) { c.Rows = 0 }, "Rows/Cols"},
		{"length mismatch", func(c *Checkpoint) { c.Coordinates = c.Coordinates[:3] }, "Coordinates"},
		{"non-finite coordinate", func(c *Checkpoint) { c.Coordinates[1] = math.Inf(1) }, "Coordinates"},
		{"NaN objective", func(c *Checkpoint) { c.Objective = math.NaN() }, "Objective"},
		{"infinite objective", func(c *Checkpoint) { c.Objective = math.Inf(1) }, "Objective"},
		{"negative iteration", func(c *Checkpoint) { c.Iteration = -1 }, "Iteration"},
		{"zero timestamp", func(c *Checkpoint) { c.Timestamp = time.Time{} }, "Timestamp"},
		{"no function", func(c *Checkpoint) { c.Config.Function = "" }, "Config.Function"},
		{"no optimizer", func(c *Checkpoint) { c.Config.Optimizer = "" }, "Config.Optimizer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := createTestCheckpoint("job")
			tt.modify(cp)
			err := cp.Validate()
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Expected valid checkpoint, got %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Field = %s, want %s", verr.Field, tt.field)
			}
		})
	}
}

func TestCheckpoint_IsCompatible(t *testing.T) {
	cp := createTestCheckpoint("job")

	same := testConfig()
	same.Optimizer = "lbfgs"
	same.Params.StepSize = 0.5
	if err := cp.IsCompatible(same); err != nil {
		t.Errorf("Changing the optimizer should stay compatible: %v", err)
	}

	tests := []struct {
		field  string
		modify func(*config.Job)
	}{
		{"Function", func(j *config.Job) { j.Function = config.FunctionSoftmax }},
		{"DataPath", func(j *config.Job) { j.DataPath = "other.svm" }},
		{"Dimension", func(j *config.Job) { j.Dimension = 3 }},
		{"Bias", func(j *config.Job) { j.Bias = -1 }},
		{"Bias", func(j *config.Job) { j.Bias = 2 }},
		{"Lambda", func(j *config.Job) { j.Lambda = 0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			job := testConfig()
			tt.modify(&job)
			var cerr *CompatibilityError
			if err := cp.IsCompatible(job); !errors.As(err, &cerr) {
				t.Fatalf("Expected CompatibilityError, got %v", err)
			} else if cerr.Field != tt.field {
				t.Errorf("Field = %s, want %s", cerr.Field, tt.field)
			}
		})
	}
}

func TestCheckpoint_IsCompatible_Quadratic(t *testing.T) {
	quadratic := func(target []float64, seed int64) config.Job {
		job := config.Defaults()
		job.Function = config.FunctionSparseQuadratic
		job.Dimension = 2
		job.Target = target
		job.Seed = seed
		return job
	}
	explicit := &Checkpoint{Rows: 1, Cols: 2, Coordinates: []float64{1, 2}, Config: quadratic([]float64{1, 2}, 1)}
	seeded := &Checkpoint{Rows: 1, Cols: 2, Coordinates: []float64{1, 2}, Config: quadratic(nil, 1)}

	tests := []struct {
		name  string
		cp    *Checkpoint
		cfg   config.Job
		field string // empty when compatible
	}{
		{"same target", explicit, quadratic([]float64{1, 2}, 1), ""},
		{"seed ignored with target", explicit, quadratic([]float64{1, 2}, 99), ""},
		{"different target", explicit, quadratic([]float64{50, -50}, 1), "Target"},
		{"target dropped", explicit, quadratic(nil, 1), "Target"},
		{"same seed", seeded, quadratic(nil, 1), ""},
		{"different seed", seeded, quadratic(nil, 99), "Seed"},
		{"lambda ignored", seeded, func() config.Job { j := quadratic(nil, 1); j.Lambda = 3; return j }(), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cp.IsCompatible(tt.cfg)
			if tt.field == "" {
				if err != nil {
					t.Fatalf("Expected compatible, got %v", err)
				}
				return
			}
			var cerr *CompatibilityError
			if !errors.As(err, &cerr) {
				t.Fatalf("Expected CompatibilityError, got %v", err)
			}
			if cerr.Field != tt.field {
				t.Errorf("Field = %s, want %s", cerr.Field, tt.field)
			}
		})
	}
}

func TestCheckpoint_ToInfo(t *testing.T) {
	cp := createTestCheckpoint("info-job")
	info := cp.ToInfo()

	if info.JobID != cp.JobID || info.Objective != cp.Objective || info.Iteration != cp.Iteration {
		t.Errorf("Info does not match checkpoint: %+v", info)
	}
	if info.Function != config.FunctionLogistic || info.Optimizer != "parallel-sgd" {
		t.Errorf("Function/Optimizer = %s/%s", info.Function, info.Optimizer)
	}
	if info.Rows != 1 || info.Cols != 4 || info.Status != opt.IterationLimit {
		t.Errorf("Unexpected shape or status: %+v", info)
	}
}

func TestNewCheckpoint(t *testing.T) {
	x := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	cp := NewCheckpoint("new-job", x, 0.5, 2.0, 42, opt.Converged, testConfig())

	if cp.Rows != 2 || cp.Cols != 2 {
		t.Fatalf("Shape = %dx%d", cp.Rows, cp.Cols)
	}
	x.Set(0, 0, 99)
	if cp.Coordinates[0] != 1 {
		t.Error("Checkpoint must copy the coordinates")
	}
	if cp.Matrix().At(1, 0) != 3 {
		t.Errorf("Matrix() is not row-major: %v", cp.Coordinates)
	}
	if cp.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
	if err := cp.Validate(); err != nil {
		t.Errorf("New checkpoint should be valid: %v", err)
	}
}
