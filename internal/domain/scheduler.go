package domain

import "context"

// RunTrigger starts one run over the configured assets and blocks until it ends.
type RunTrigger interface {
	Trigger(ctx context.Context) (*RunRecord, error)
}

// RunScheduler triggers runs on a schedule while started.
type RunScheduler interface {
	// Start blocks until Stop is called or ctx is cancelled.
	Start(ctx context.Context) error
	Stop()
}
