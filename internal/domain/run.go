// internal/domain/run.go
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a run record does not exist.
var ErrRunNotFound = errors.New("run not found")

// RunStatus defines the status of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunRecord is the history entry of one dispatch-and-collect run.
type RunRecord struct {
	ID           string    `json:"id"`
	Status       RunStatus `json:"status"`
	Expected     int       `json:"expected"`
	Processed    int       `json:"processed"`
	DeadLettered int       `json:"dead_lettered"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
	Error        string    `json:"error,omitempty"`
}

// Validate checks if the run record is valid.
func (r *RunRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("run record ID cannot be empty")
	}
	if r.StartedAt.IsZero() {
		return fmt.Errorf("run record start time cannot be zero")
	}
	if r.Status == "" {
		return fmt.Errorf("run record status cannot be empty")
	}
	return nil
}

// RunRepository persists run records.
type RunRepository interface {
	Save(ctx context.Context, record *RunRecord) error
	Get(ctx context.Context, id string) (*RunRecord, error)
	// List returns records newest first.
	List(ctx context.Context, page, pageSize int) ([]*RunRecord, error)
}
