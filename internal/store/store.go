package store

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Store persists checkpoints and result artifacts of optimization jobs.
// Implementations must be safe for concurrent use.
//
// Load and Delete return a *NotFoundError (matching ErrNotFound) for
// unknown jobs; other failures are wrapped with context.
type Store interface {
	// SaveCheckpoint atomically saves a checkpoint, replacing any previous
	// one for jobID.
	SaveCheckpoint(jobID string, checkpoint *Checkpoint) error

	// LoadCheckpoint retrieves the checkpoint for jobID.
	LoadCheckpoint(jobID string) (*Checkpoint, error)

	// ListCheckpoints returns metadata for all readable checkpoints.
	ListCheckpoints() ([]CheckpointInfo, error)

	// DeleteCheckpoint removes the checkpoint and every artifact of the job
	// (trace.jsonl, coordinates.csv).
	DeleteCheckpoint(jobID string) error

	// SaveCoordinates writes x as coordinates.csv next to the checkpoint.
	SaveCoordinates(jobID string, x mat.Matrix) error
}

// ValidateJobID rejects IDs that are empty or could name a path outside
// the jobs directory.
func ValidateJobID(jobID string) error {
	if jobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if strings.ContainsAny(jobID, "/\\\x00") || strings.Contains(jobID, "..") || jobID == "." {
		return &ValidationError{Field: "JobID", Reason: fmt.Sprintf("%q is not a valid job ID", jobID)}
	}
	return nil
}

// ErrNotFound is returned when a requested checkpoint does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing checkpoint or trace.
type NotFoundError struct {
	JobID string
}

func (e *NotFoundError) Error() string {
	if e.JobID != "" {
		return "checkpoint not found: " + e.JobID
	}
	return "checkpoint not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
