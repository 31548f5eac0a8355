// internal/master/run.go
package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"minutebars/internal/domain"
	"minutebars/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DispatchLockName is the lock held for the whole lifetime of a run.
const DispatchLockName = "dispatch"

// WorkerCounter reports how many downloader workers are registered.
type WorkerCounter interface {
	WorkerCount() int
}

// RunnerOptions wires a Runner.
type RunnerOptions struct {
	Queue    domain.TaskQueue
	Sink     domain.BarSink
	Acks     domain.AckLog
	Archive  domain.RawArchive // optional
	Runs     domain.RunRepository
	Locker   domain.Locker
	Workers  WorkerCounter // optional
	URLBase  string
	Consumer ConsumerConfig
}

// Runner executes runs: dispatch every asset, then consume the response
// queue until each dispatched task has a terminal acknowledgment.
type Runner struct {
	opts       RunnerOptions
	dispatcher *Dispatcher
	base       *slog.Logger
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOptions, logger *slog.Logger) *Runner {
	return &Runner{
		opts:       opts,
		dispatcher: NewDispatcher(opts.Queue, opts.Acks, opts.URLBase, logger),
		base:       logger,
		logger:     logger.With("component", "runner"),
		tracer:     otel.Tracer("minutebars-master"),
	}
}

// Run executes one run over assets and returns its final record. A run that
// cannot take the dispatch lock fails with domain.ErrLockNotAcquired and
// leaves no record.
func (r *Runner) Run(ctx context.Context, assets []domain.Asset) (*domain.RunRecord, error) {
	ctx, span := r.tracer.Start(ctx, "runner.Run")
	defer span.End()

	lock, err := r.opts.Locker.Lock(ctx, DispatchLockName)
	if err != nil {
		span.AddEvent("skipped_run", trace.WithAttributes(attribute.String("reason", "lock_not_acquired")))
		return nil, fmt.Errorf("skipped run: %w", err)
	}
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := lock.Unlock(unlockCtx); err != nil {
			r.logger.Error("failed to release dispatch lock", "error", err)
		}
	}()

	record := &domain.RunRecord{
		ID:        uuid.NewString(),
		Status:    domain.RunStatusRunning,
		Expected:  len(assets),
		StartedAt: time.Now().UTC(),
	}
	span.SetAttributes(attribute.String("run.id", record.ID))
	logger := r.logger.With("run_id", record.ID)

	if err := r.opts.Runs.Save(ctx, record); err != nil {
		// The run itself does not depend on its history entry.
		logger.Error("failed to save initial run record", "error", err)
		span.RecordError(err)
	}

	if r.opts.Workers != nil && r.opts.Workers.WorkerCount() == 0 {
		logger.Warn("no downloader workers registered, results will wait until one joins")
	}

	logger.Info("starting run", "assets", len(assets))
	runErr := r.execute(ctx, record.ID, assets)

	counts, err := r.opts.Acks.Counts(context.WithoutCancel(ctx), record.ID)
	if err != nil {
		logger.Error("failed to read final ack counts", "error", err)
	} else {
		record.Expected = counts.Expected
		record.Processed = counts.Processed
		record.DeadLettered = counts.DeadLettered
	}

	record.FinishedAt = time.Now().UTC()
	if runErr != nil {
		record.Status = domain.RunStatusFailed
		record.Error = runErr.Error()
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "run failed")
		logger.Error("run failed", "error", runErr, "processed", record.Processed, "dead_lettered", record.DeadLettered)
	} else {
		record.Status = domain.RunStatusComplete
		span.SetStatus(codes.Ok, "run complete")
		logger.Info("run finished", "processed", record.Processed, "dead_lettered", record.DeadLettered,
			"elapsed", record.FinishedAt.Sub(record.StartedAt))
	}
	metrics.RunsTotal.WithLabelValues(string(record.Status)).Inc()

	if err := r.opts.Runs.Save(context.WithoutCancel(ctx), record); err != nil {
		logger.Error("failed to save final run record", "error", err)
		span.RecordError(err)
	}
	return record, runErr
}

func (r *Runner) execute(ctx context.Context, runID string, assets []domain.Asset) error {
	published, dispatchErr := r.dispatcher.Dispatch(ctx, runID, assets)
	if dispatchErr != nil && published == 0 {
		return dispatchErr
	}
	if dispatchErr != nil {
		// Whatever went out still has to be drained before the run can end.
		r.logger.Warn("dispatch was partial, collecting published tasks", "run_id", runID, "published", published, "error", dispatchErr)
	}

	consumer := NewResponseConsumer(r.opts.Consumer, r.opts.Queue, r.opts.Sink, r.opts.Acks, r.opts.Archive, r.base)
	consumer.ExpectTasks(distinctTaskIDs(assets)[:published])
	if err := consumer.Run(ctx, runID); err != nil {
		return errors.Join(dispatchErr, err)
	}
	return dispatchErr
}
