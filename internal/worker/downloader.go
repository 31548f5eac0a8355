// internal/worker/downloader.go
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"minutebars/internal/domain"
	"minutebars/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// DownloaderConfig tunes a Downloader.
type DownloaderConfig struct {
	// Concurrency is the number of independent url subscriptions.
	Concurrency int
	Prefetch    int
}

// Downloader turns FetchTasks into FetchResults: it downloads each task's
// fetch URL and publishes the asset, body attached, to the response queue.
type Downloader struct {
	cfg     DownloaderConfig
	queue   domain.TaskQueue
	fetcher domain.Fetcher
	logger  *slog.Logger
	tracer  trace.Tracer
}

// NewDownloader creates a downloader.
func NewDownloader(queue domain.TaskQueue, fetcher domain.Fetcher, cfg DownloaderConfig, logger *slog.Logger) *Downloader {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = 1
	}
	return &Downloader{
		cfg:     cfg,
		queue:   queue,
		fetcher: fetcher,
		logger:  logger.With("component", "downloader"),
		tracer:  otel.Tracer("minutebars-worker"),
	}
}

// Run consumes the url queue until ctx is cancelled or a subscription fails.
func (d *Downloader) Run(ctx context.Context) error {
	d.logger.Info("downloader starting", "concurrency", d.cfg.Concurrency, "prefetch", d.cfg.Prefetch)

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < d.cfg.Concurrency; i++ {
		g.Go(func() error {
			return d.queue.Subscribe(ctx, domain.QueueURL, d.cfg.Prefetch, d.Handle)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("url subscription failed: %w", err)
	}
	d.logger.Info("downloader stopped")
	return nil
}

// Handle serves a single FetchTask.
func (d *Downloader) Handle(ctx context.Context, del domain.Delivery) error {
	ctx, span := d.tracer.Start(ctx, "worker.Handle")
	defer span.End()

	var task domain.Asset
	if err := json.Unmarshal(del.Body(), &task); err != nil {
		d.logger.Warn("dropping undecodable fetch task", "error", err, "bytes", len(del.Body()))
		span.RecordError(err)
		if err := d.queue.Publish(ctx, domain.DeadLetterQueue(domain.QueueURL), del.Body()); err != nil {
			return fmt.Errorf("failed to dead-letter undecodable task: %w", err)
		}
		return del.Ack(ctx)
	}

	logger := d.logger.With("task", task.TaskID(), "run_id", task.RunID)
	span.SetAttributes(attribute.String("task.id", task.TaskID()), attribute.String("fetch.url", task.FetchURL))

	body, err := d.fetcher.Fetch(ctx, task.FetchURL)
	if err != nil {
		// A failed download still answers the task; the consumer sees no bars.
		logger.Warn("fetch failed, publishing empty response", "url", task.FetchURL, "error", err)
		span.RecordError(err)
		metrics.FetchesTotal.WithLabelValues("failed").Inc()
		body = ""
	} else {
		metrics.FetchesTotal.WithLabelValues("success").Inc()
	}

	payload, err := json.Marshal(task.WithResponse(body))
	if err != nil {
		return fmt.Errorf("failed to marshal fetch result: %w", err)
	}
	if err := d.queue.Publish(ctx, domain.QueueResponse, payload); err != nil {
		logger.Error("failed to publish fetch result, requeueing task", "error", err)
		span.SetStatus(codes.Error, "publish failed")
		return err
	}

	logger.Debug("published fetch result", "bytes", len(body))
	return del.Ack(ctx)
}
