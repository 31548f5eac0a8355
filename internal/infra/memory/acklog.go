package memory

import (
	"context"
	"sync"

	"minutebars/internal/domain"
)

type runAcks struct {
	expected int
	outcomes map[string]domain.Outcome
}

// AckLog is an in-process domain.AckLog. It only sees the consumers of its own
// process, so it suits a single response consumer per run.
type AckLog struct {
	mu   sync.Mutex
	runs map[string]*runAcks
}

// NewAckLog creates an empty acknowledgment log.
func NewAckLog() *AckLog {
	return &AckLog{runs: make(map[string]*runAcks)}
}

func (l *AckLog) run(runID string) *runAcks {
	r, ok := l.runs[runID]
	if !ok {
		r = &runAcks{outcomes: make(map[string]domain.Outcome)}
		l.runs[runID] = r
	}
	return r
}

func (l *AckLog) Begin(_ context.Context, runID string, expected int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.run(runID).expected = expected
	return nil
}

func (l *AckLog) Expected(_ context.Context, runID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.runs[runID]
	if !ok {
		return 0, domain.ErrRunNotFound
	}
	return r.expected, nil
}

// MarkDone keeps the first outcome recorded for a task.
func (l *AckLog) MarkDone(_ context.Context, runID, taskID string, outcome domain.Outcome) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := l.run(runID)
	if _, ok := r.outcomes[taskID]; !ok {
		r.outcomes[taskID] = outcome
	}
	return len(r.outcomes), nil
}

func (l *AckLog) Counts(_ context.Context, runID string) (domain.AckCounts, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r, ok := l.runs[runID]
	if !ok {
		return domain.AckCounts{}, domain.ErrRunNotFound
	}
	counts := domain.AckCounts{Expected: r.expected}
	for _, o := range r.outcomes {
		switch o {
		case domain.OutcomeDeadLettered:
			counts.DeadLettered++
		default:
			counts.Processed++
		}
	}
	return counts, nil
}
