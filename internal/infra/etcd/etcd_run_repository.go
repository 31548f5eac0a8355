// internal/infra/etcd/etcd_run_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"

	"minutebars/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	RunHistoryDir = KeyPrefix + "history/"
)

type etcdRunRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdRunRepository creates a new repository for run records backed by etcd.
func NewEtcdRunRepository(client *clientv3.Client, logger *slog.Logger) domain.RunRepository {
	return &etcdRunRepository{
		client: client,
		logger: logger,
		tracer: otel.Tracer("minutebars-etcd-run-repo"),
	}
}

// Save persists a run record under /minutebars/history/{runID}.
func (r *etcdRunRepository) Save(ctx context.Context, record *domain.RunRecord) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.SaveRun")
	defer span.End()

	if err := record.Validate(); err != nil {
		return err
	}

	recordJSON, err := json.Marshal(record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to marshal run record")
		return fmt.Errorf("failed to marshal run record %s to JSON: %w", record.ID, err)
	}

	key := path.Join(RunHistoryDir, record.ID)
	span.SetAttributes(
		attribute.String("run.id", record.ID),
		attribute.String("etcd.key", key),
	)

	_, err = r.client.Put(ctx, key, string(recordJSON))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put run record to etcd")
		return fmt.Errorf("failed to save run record %s to etcd: %w", record.ID, err)
	}
	return nil
}

// Get retrieves a single run record.
func (r *etcdRunRepository) Get(ctx context.Context, id string) (*domain.RunRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", id))

	resp, err := r.client.Get(ctx, path.Join(RunHistoryDir, id))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get run record from etcd")
		return nil, fmt.Errorf("failed to get run record %s from etcd: %w", id, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrRunNotFound
	}

	var record domain.RunRecord
	if err := json.Unmarshal(resp.Kvs[0].Value, &record); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to unmarshal run record")
		return nil, fmt.Errorf("failed to unmarshal run record %s from JSON: %w", id, err)
	}
	return &record, nil
}

// List retrieves run records newest first, with pagination.
func (r *etcdRunRepository) List(ctx context.Context, page, pageSize int) ([]*domain.RunRecord, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListRuns")
	defer span.End()
	span.SetAttributes(
		attribute.Int("page", page),
		attribute.Int("page_size", pageSize),
	)

	resp, err := r.client.Get(ctx, RunHistoryDir,
		clientv3.WithPrefix(),
		clientv3.WithSort(clientv3.SortByCreateRevision, clientv3.SortDescend), // Newest first
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list run records from etcd")
		return nil, fmt.Errorf("failed to list run records from etcd: %w", err)
	}

	records := make([]*domain.RunRecord, 0, pageSize)
	// Etcd Get with Limit is for key-count, not index-based, so pages are cut here.
	startIdx := (page - 1) * pageSize
	endIdx := startIdx + pageSize

	for i, kv := range resp.Kvs {
		if i < startIdx {
			continue
		}
		if i >= endIdx {
			break
		}

		var record domain.RunRecord
		if err := json.Unmarshal(kv.Value, &record); err != nil {
			r.logger.Warn("failed to unmarshal run record from etcd", "key", string(kv.Key), "error", err)
			continue
		}
		records = append(records, &record)
	}
	span.SetAttributes(attribute.Int("records_returned", len(records)))
	return records, nil
}
