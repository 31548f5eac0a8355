// internal/master/consumer.go
package master

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"minutebars/internal/decoder"
	"minutebars/internal/domain"
	"minutebars/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a ResponseConsumer.
type State int32

const (
	StateWaiting State = iota
	StateProcessing
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "WAITING"
	case StateProcessing:
		return "PROCESSING"
	case StateComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ConsumerConfig tunes a ResponseConsumer.
type ConsumerConfig struct {
	Prefetch int
	// MaxDeliveries caps redeliveries of one result before it is dead-lettered.
	// Zero disables the cap.
	MaxDeliveries int
}

// ResponseConsumer drains the response queue of one run: it decodes every
// FetchResult, persists the bars and tracks completion in the ack log.
type ResponseConsumer struct {
	cfg     ConsumerConfig
	queue   domain.TaskQueue
	sink    domain.BarSink
	acks    domain.AckLog
	archive domain.RawArchive
	logger  *slog.Logger
	tracer  trace.Tracer

	state atomic.Int32

	mu     sync.Mutex
	runID  string
	tasks  map[string]struct{}
	cancel context.CancelFunc
}

// NewResponseConsumer creates a consumer. archive may be nil.
func NewResponseConsumer(cfg ConsumerConfig, queue domain.TaskQueue, sink domain.BarSink, acks domain.AckLog, archive domain.RawArchive, logger *slog.Logger) *ResponseConsumer {
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &ResponseConsumer{
		cfg:     cfg,
		queue:   queue,
		sink:    sink,
		acks:    acks,
		archive: archive,
		logger:  logger.With("component", "response-consumer"),
		tracer:  otel.Tracer("minutebars-master"),
	}
}

// ExpectTasks names the task identities dispatched for the run. A result that
// carries no runId only counts when its identity is one of them.
func (c *ResponseConsumer) ExpectTasks(taskIDs []string) {
	tasks := make(map[string]struct{}, len(taskIDs))
	for _, id := range taskIDs {
		tasks[id] = struct{}{}
	}
	c.mu.Lock()
	c.tasks = tasks
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *ResponseConsumer) State() State {
	return State(c.state.Load())
}

// Run consumes the response queue until every dispatched task of runID has a
// terminal acknowledgment, or ctx is cancelled. The run's expected count must
// already be recorded in the ack log.
func (c *ResponseConsumer) Run(ctx context.Context, runID string) error {
	expected, err := c.acks.Expected(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load expected count for run %s: %w", runID, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.mu.Lock()
	c.runID = runID
	c.cancel = cancel
	c.mu.Unlock()
	c.state.Store(int32(StateWaiting))
	metrics.RunProgress.WithLabelValues("expected").Set(float64(expected))
	metrics.RunProgress.WithLabelValues("done").Set(0)

	counts, err := c.acks.Counts(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to load ack counts for run %s: %w", runID, err)
	}
	if counts.Done() >= expected {
		c.complete(runID, counts.Done(), expected)
		return nil
	}

	c.logger.Info("waiting for fetch results", "run_id", runID, "expected", expected, "done", counts.Done())
	if err := c.queue.Subscribe(subCtx, domain.QueueResponse, c.cfg.Prefetch, c.Handle); err != nil {
		return fmt.Errorf("response subscription failed: %w", err)
	}
	if c.State() != StateComplete {
		return ctx.Err()
	}
	return nil
}

// Handle processes a single FetchResult delivery. A returned error leaves the
// delivery to be requeued by the subscription.
func (c *ResponseConsumer) Handle(ctx context.Context, d domain.Delivery) error {
	ctx, span := c.tracer.Start(ctx, "consumer.Handle")
	defer span.End()

	if c.State() == StateComplete {
		// Every task of the run is already acknowledged; anything arriving now is
		// a duplicate and is dropped so it cannot pile up.
		metrics.ResultsHandledTotal.WithLabelValues("late").Inc()
		return d.Ack(ctx)
	}
	c.state.Store(int32(StateProcessing))
	defer c.state.CompareAndSwap(int32(StateProcessing), int32(StateWaiting))

	c.mu.Lock()
	runID, tasks := c.runID, c.tasks
	c.mu.Unlock()

	var asset domain.Asset
	if err := json.Unmarshal(d.Body(), &asset); err != nil {
		c.logger.Warn("dropping undecodable fetch result", "error", err, "bytes", len(d.Body()))
		span.RecordError(err)
		if err := c.queue.Publish(ctx, domain.DeadLetterQueue(domain.QueueResponse), d.Body()); err != nil {
			return fmt.Errorf("failed to dead-letter undecodable result: %w", err)
		}
		metrics.ResultsHandledTotal.WithLabelValues("malformed").Inc()
		return d.Ack(ctx)
	}

	taskID := asset.TaskID()
	_, dispatched := tasks[taskID]
	current := asset.RunID == runID || (asset.RunID == "" && dispatched)
	span.SetAttributes(attribute.String("task.id", taskID), attribute.Int("attempt", d.Attempt()))

	if c.cfg.MaxDeliveries > 0 && d.Attempt() > c.cfg.MaxDeliveries {
		return c.deadLetter(ctx, span, d, runID, taskID, current)
	}

	if err := c.persist(ctx, runID, asset); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to persist fetch result")
		c.logger.Error("failed to persist fetch result, requeueing", "task", taskID, "attempt", d.Attempt(), "error", err)
		metrics.ResultsHandledTotal.WithLabelValues("requeued").Inc()
		return err
	}

	if !current {
		c.logger.Warn("acknowledged result of another run", "task", taskID, "result_run_id", asset.RunID, "run_id", runID)
		metrics.ResultsHandledTotal.WithLabelValues("stale").Inc()
		return d.Ack(ctx)
	}

	done, err := c.acks.MarkDone(ctx, runID, taskID, domain.OutcomeProcessed)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to record acknowledgment of %s: %w", taskID, err)
	}
	if err := d.Ack(ctx); err != nil {
		return fmt.Errorf("failed to ack result %s: %w", taskID, err)
	}
	metrics.ResultsHandledTotal.WithLabelValues("processed").Inc()

	return c.checkComplete(ctx, runID, done)
}

func (c *ResponseConsumer) persist(ctx context.Context, runID string, asset domain.Asset) error {
	if c.archive != nil {
		if err := c.archive.Store(ctx, runID, asset); err != nil {
			return fmt.Errorf("failed to archive raw response: %w", err)
		}
	}

	res := decoder.Decode(asset, asset.RawResponse)
	if res.Discarded > 0 {
		metrics.RowsDiscardedTotal.Add(float64(res.Discarded))
		c.logger.Debug("discarded malformed rows", "task", asset.TaskID(), "discarded", res.Discarded)
	}
	if len(res.Bars) == 0 {
		c.logger.Info("fetch result carried no bars", "task", asset.TaskID(), "bytes", len(asset.RawResponse))
		return nil
	}

	if err := c.sink.InsertBars(ctx, res.Bars); err != nil {
		return fmt.Errorf("failed to insert %d bars: %w", len(res.Bars), err)
	}
	metrics.BarsInsertedTotal.Add(float64(len(res.Bars)))
	c.logger.Debug("inserted bars", "task", asset.TaskID(), "bars", len(res.Bars))
	return nil
}

func (c *ResponseConsumer) deadLetter(ctx context.Context, span trace.Span, d domain.Delivery, runID, taskID string, current bool) error {
	c.logger.Error("giving up on fetch result", "task", taskID, "attempt", d.Attempt(), "max_deliveries", c.cfg.MaxDeliveries)
	span.AddEvent("dead_lettered")

	if err := c.queue.Publish(ctx, domain.DeadLetterQueue(domain.QueueResponse), d.Body()); err != nil {
		return fmt.Errorf("failed to dead-letter result %s: %w", taskID, err)
	}
	if !current {
		return d.Ack(ctx)
	}

	done, err := c.acks.MarkDone(ctx, runID, taskID, domain.OutcomeDeadLettered)
	if err != nil {
		return fmt.Errorf("failed to record dead-lettered result %s: %w", taskID, err)
	}
	if err := d.Ack(ctx); err != nil {
		return fmt.Errorf("failed to ack result %s: %w", taskID, err)
	}
	metrics.ResultsHandledTotal.WithLabelValues("dead_lettered").Inc()
	return c.checkComplete(ctx, runID, done)
}

func (c *ResponseConsumer) checkComplete(ctx context.Context, runID string, done int) error {
	// The dispatcher may lower the expectation after a partial publish, so it
	// is read again for every acknowledgment.
	expected, err := c.acks.Expected(ctx, runID)
	if err != nil {
		c.logger.Error("failed to read expected count", "run_id", runID, "error", err)
		return nil
	}
	metrics.RunProgress.WithLabelValues("done").Set(float64(done))
	c.logger.Debug("acknowledged result", "run_id", runID, "done", done, "expected", expected)

	if done >= expected {
		c.complete(runID, done, expected)
	}
	return nil
}

func (c *ResponseConsumer) complete(runID string, done, expected int) {
	c.state.Store(int32(StateComplete))
	c.logger.Info("run complete", "run_id", runID, "done", done, "expected", expected)

	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
