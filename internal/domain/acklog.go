// internal/domain/acklog.go
package domain

import "context"

// Outcome is the terminal result recorded for a task.
type Outcome string

const (
	OutcomeProcessed    Outcome = "processed"
	OutcomeDeadLettered Outcome = "dead_lettered"
)

// AckCounts summarizes the acknowledgment log of one run.
type AckCounts struct {
	Expected     int
	Processed    int
	DeadLettered int
}

// Done is the number of tasks that reached a terminal outcome.
func (c AckCounts) Done() int {
	return c.Processed + c.DeadLettered
}

// AckLog records which task identities of a run reached a terminal outcome.
// Recording is idempotent, so a redelivered result never counts twice and any
// consumer instance can decide completion on its own.
type AckLog interface {
	// Begin sets (or lowers) the number of tasks dispatched for the run.
	Begin(ctx context.Context, runID string, expected int) error
	Expected(ctx context.Context, runID string) (int, error)
	// MarkDone records the outcome of a task and returns how many distinct
	// tasks of the run are now done. The first outcome of a task is kept.
	MarkDone(ctx context.Context, runID, taskID string, outcome Outcome) (int, error)
	Counts(ctx context.Context, runID string) (AckCounts, error)
}
