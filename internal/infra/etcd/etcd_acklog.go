// internal/infra/etcd/etcd_acklog.go
package etcd

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"minutebars/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunsDir holds one directory per run: an "expected" key and one key per
// acknowledged task under "acks/".
const RunsDir = KeyPrefix + "runs/"

type etcdAckLog struct {
	client *clientv3.Client
	tracer trace.Tracer
}

// NewEtcdAckLog creates an acknowledgment log backed by etcd.
func NewEtcdAckLog(client *clientv3.Client) domain.AckLog {
	return &etcdAckLog{
		client: client,
		tracer: otel.Tracer("minutebars-etcd-acklog"),
	}
}

func expectedKey(runID string) string { return path.Join(RunsDir, runID, "expected") }

func acksPrefix(runID string) string { return path.Join(RunsDir, runID, "acks") + "/" }

func (l *etcdAckLog) Begin(ctx context.Context, runID string, expected int) error {
	ctx, span := l.tracer.Start(ctx, "acklog.etcd.Begin")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID), attribute.Int("expected", expected))

	if _, err := l.client.Put(ctx, expectedKey(runID), strconv.Itoa(expected)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to put expected count")
		return fmt.Errorf("failed to save expected count of run %s: %w", runID, err)
	}
	return nil
}

func (l *etcdAckLog) Expected(ctx context.Context, runID string) (int, error) {
	resp, err := l.client.Get(ctx, expectedKey(runID))
	if err != nil {
		return 0, fmt.Errorf("failed to get expected count of run %s: %w", runID, err)
	}
	if len(resp.Kvs) == 0 {
		return 0, domain.ErrRunNotFound
	}
	n, err := strconv.Atoi(string(resp.Kvs[0].Value))
	if err != nil {
		return 0, fmt.Errorf("corrupt expected count of run %s: %w", runID, err)
	}
	return n, nil
}

// MarkDone writes the task key unless it already exists and counts the run's
// keys in one transaction, so concurrent consumers each see a consistent total
// and the first outcome of a task is kept.
func (l *etcdAckLog) MarkDone(ctx context.Context, runID, taskID string, outcome domain.Outcome) (int, error) {
	ctx, span := l.tracer.Start(ctx, "acklog.etcd.MarkDone")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", runID), attribute.String("task.id", taskID))

	prefix := acksPrefix(runID)
	count := clientv3.OpGet(prefix, clientv3.WithPrefix(), clientv3.WithCountOnly())
	resp, err := l.client.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(prefix+taskID), "=", 0)).
		Then(clientv3.OpPut(prefix+taskID, string(outcome)), count).
		Else(count).
		Commit()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to record acknowledgment")
		return 0, fmt.Errorf("failed to record acknowledgment of %s: %w", taskID, err)
	}
	span.SetAttributes(attribute.Bool("first", resp.Succeeded))
	last := resp.Responses[len(resp.Responses)-1]
	return int(last.GetResponseRange().Count), nil
}

func (l *etcdAckLog) Counts(ctx context.Context, runID string) (domain.AckCounts, error) {
	expected, err := l.Expected(ctx, runID)
	if err != nil {
		return domain.AckCounts{}, err
	}

	resp, err := l.client.Get(ctx, acksPrefix(runID), clientv3.WithPrefix())
	if err != nil {
		return domain.AckCounts{}, fmt.Errorf("failed to list acknowledgments of run %s: %w", runID, err)
	}

	counts := domain.AckCounts{Expected: expected}
	for _, kv := range resp.Kvs {
		if domain.Outcome(kv.Value) == domain.OutcomeDeadLettered {
			counts.DeadLettered++
		} else {
			counts.Processed++
		}
	}
	return counts, nil
}
