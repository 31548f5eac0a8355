// internal/master/dispatcher.go
package master

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"minutebars/internal/domain"
	"minutebars/internal/metrics"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Dispatcher publishes one fetch task per asset to the url queue.
type Dispatcher struct {
	queue    domain.TaskQueue
	acks     domain.AckLog
	urlBase  string
	validate *validator.Validate
	logger   *slog.Logger
	tracer   trace.Tracer
}

// NewDispatcher creates a new task dispatcher. urlBase may be empty, in which
// case domain.DefaultFetchURLBase is used.
func NewDispatcher(queue domain.TaskQueue, acks domain.AckLog, urlBase string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		queue:    queue,
		acks:     acks,
		urlBase:  urlBase,
		validate: validator.New(),
		logger:   logger.With("component", "dispatcher"),
		tracer:   otel.Tracer("minutebars-master"),
	}
}

// distinctTaskIDs returns the task identities of assets in order, without repeats.
func distinctTaskIDs(assets []domain.Asset) []string {
	ids := make([]string, 0, len(assets))
	seen := make(map[string]struct{}, len(assets))
	for _, a := range assets {
		id := a.TaskID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	return ids
}

// Dispatch publishes a FetchTask for every distinct asset and records how
// many tasks the run expects. An asset repeated under the same task identity
// is sent once. Nothing is published unless every asset is valid.
func (d *Dispatcher) Dispatch(ctx context.Context, runID string, assets []domain.Asset) (int, error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Dispatch")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID), attribute.Int("assets", len(assets)))

	payloads := make([][]byte, 0, len(assets))
	taskIDs := make([]string, 0, len(assets))
	seen := make(map[string]struct{}, len(assets))
	for i, asset := range assets {
		if err := d.validate.Struct(asset); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "invalid asset")
			return 0, fmt.Errorf("invalid asset at index %d (%q): %w", i, asset.Symbol, err)
		}

		taskID := asset.TaskID()
		if _, dup := seen[taskID]; dup {
			d.logger.Warn("skipping duplicate asset", "run_id", runID, "task", taskID, "index", i)
			continue
		}
		seen[taskID] = struct{}{}

		asset.FetchURL = domain.BuildFetchURL(d.urlBase, asset)
		asset.RawResponse = ""
		asset.RunID = runID
		payload, err := json.Marshal(asset)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal fetch task %s: %w", taskID, err)
		}
		payloads = append(payloads, payload)
		taskIDs = append(taskIDs, taskID)
	}

	// 完成判定按任务标识去重计数，expected 必须是去重后的数量
	if err := d.acks.Begin(ctx, runID, len(payloads)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record expected count")
		return 0, fmt.Errorf("failed to record expected count for run %s: %w", runID, err)
	}

	for i, payload := range payloads {
		if err := d.queue.Publish(ctx, domain.QueueURL, payload); err != nil {
			d.logger.Error("failed to publish fetch task", "run_id", runID, "task", taskIDs[i], "published", i, "error", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "publish failed")

			// Lower the expectation so the run can still complete on what went out.
			if berr := d.acks.Begin(ctx, runID, i); berr != nil {
				d.logger.Error("failed to lower expected count", "run_id", runID, "expected", i, "error", berr)
			}
			return i, fmt.Errorf("failed to publish fetch task %s: %w", taskIDs[i], err)
		}
		metrics.TasksDispatchedTotal.Inc()
		d.logger.Debug("dispatched fetch task", "run_id", runID, "task", taskIDs[i])
	}

	d.logger.Info("dispatched run", "run_id", runID, "tasks", len(payloads))
	return len(payloads), nil
}
