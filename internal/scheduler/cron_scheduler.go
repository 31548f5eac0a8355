// internal/scheduler/cron_scheduler.go
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"minutebars/internal/domain"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Parser accepts six-field cron expressions with a leading seconds field.
var Parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// cronScheduler only decides when a run starts; the trigger does the work.
type cronScheduler struct {
	cron     *cron.Cron
	schedule string
	trigger  domain.RunTrigger
	logger   *slog.Logger
	tracer   trace.Tracer

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	pendingStop bool
}

// NewCronScheduler creates a scheduler that calls trigger on every tick of
// schedule. A tick that fires while the previous run is still going is skipped.
func NewCronScheduler(schedule string, trigger domain.RunTrigger, logger *slog.Logger) (domain.RunScheduler, error) {
	logger = logger.With("component", "cron-scheduler")
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithParser(Parser),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s := &cronScheduler{
		cron:     c,
		schedule: schedule,
		trigger:  trigger,
		logger:   logger,
		tracer:   otel.Tracer("minutebars-scheduler"),
	}
	if _, err := c.AddJob(schedule, &runJob{scheduler: s}); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the cron loop until Stop or ctx cancellation. A run in progress
// is cancelled and waited for.
func (s *cronScheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.pendingStop {
		// Stop arrived before Start.
		s.pendingStop = false
		s.mu.Unlock()
		cancel()
		return nil
	}
	s.ctx, s.cancel = runCtx, cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.ctx, s.cancel = nil, nil
		s.mu.Unlock()
		cancel()
	}()

	s.logger.Info("cron scheduler started", "schedule", s.schedule)
	s.cron.Start()
	<-runCtx.Done()

	s.logger.Info("cron scheduler stopping...")
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("cron scheduler stopped")
	return ctx.Err()
}

func (s *cronScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		s.pendingStop = true
		return
	}
	s.cancel()
}

func (s *cronScheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

// runJob is the cron.Job registered for the schedule.
type runJob struct {
	scheduler *cronScheduler
}

// Run is called by the cron library on every tick.
func (j *runJob) Run() {
	s := j.scheduler
	ctx, span := s.tracer.Start(s.runContext(), "scheduler.Trigger",
		trace.WithAttributes(attribute.String("schedule", s.schedule)))
	defer span.End()

	s.logger.Info("triggering scheduled run")
	record, err := s.trigger.Trigger(ctx)
	switch {
	case errors.Is(err, domain.ErrLockNotAcquired):
		s.logger.Info("another run holds the dispatch lock, skipping tick")
	case err != nil:
		span.RecordError(err)
		s.logger.Error("scheduled run failed", "error", err)
	default:
		s.logger.Info("scheduled run finished", "run_id", record.ID, "status", record.Status)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
