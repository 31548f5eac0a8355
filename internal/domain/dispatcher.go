// internal/domain/dispatcher.go
package domain

import "context"

// Dispatcher publishes one fetch task per asset for a run.
type Dispatcher interface {
	// Dispatch returns the number of tasks actually published.
	Dispatch(ctx context.Context, runID string, assets []Asset) (int, error)
}
