package backup

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid job state transition")

type State string

const (
	StateNew       State = "NEW"
	StateBuilding  State = "BUILDING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
)

// Job is one backup. Only the agent moves it between states:
// NEW -> BUILDING -> COMPLETED | FAILED.
type Job struct {
	ID       string
	Type     string
	State    State
	Checksum string
	Location string
	Size     int64
}

func NewJob(id, typ string) *Job {
	return &Job{ID: id, Type: typ, State: StateNew}
}

func (j *Job) Terminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

func (j *Job) transition(to State) error {
	switch {
	case j.State == StateNew && to == StateBuilding:
	case j.State == StateBuilding && (to == StateCompleted || to == StateFailed):
	default:
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.State, to)
	}
	j.State = to
	return nil
}

type BackupError struct {
	JobID string
	Err   error
}

func (e *BackupError) Error() string {
	return fmt.Sprintf("backup %s failed: %v", e.JobID, e.Err)
}

func (e *BackupError) Unwrap() error { return e.Err }

type RestoreError struct {
	JobID string
	Err   error
}

func (e *RestoreError) Error() string {
	return fmt.Sprintf("restore of %s failed: %v", e.JobID, e.Err)
}

func (e *RestoreError) Unwrap() error { return e.Err }
