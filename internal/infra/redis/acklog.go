// internal/infra/redis/acklog.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"minutebars/internal/domain"

	goredis "github.com/redis/go-redis/v9"
)

// AckLog is a domain.AckLog in Redis: a string holding the expected count and
// a hash of task identity to outcome per run.
type AckLog struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewAckLog creates an ack log. A positive ttl expires a run's keys after
// its last write.
func NewAckLog(client *goredis.Client, ttl time.Duration) *AckLog {
	return &AckLog{client: client, ttl: ttl}
}

func expectedKey(runID string) string { return keyPrefix + "runs:" + runID + ":expected" }
func acksKey(runID string) string     { return keyPrefix + "runs:" + runID + ":acks" }

func (l *AckLog) Begin(ctx context.Context, runID string, expected int) error {
	if err := l.client.Set(ctx, expectedKey(runID), expected, l.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set expected count: %w", err)
	}
	return nil
}

func (l *AckLog) Expected(ctx context.Context, runID string) (int, error) {
	n, err := l.client.Get(ctx, expectedKey(runID)).Int()
	if errors.Is(err, goredis.Nil) {
		return 0, domain.ErrRunNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get expected count: %w", err)
	}
	return n, nil
}

// MarkDone keeps the first outcome recorded for a task.
func (l *AckLog) MarkDone(ctx context.Context, runID, taskID string, outcome domain.Outcome) (int, error) {
	key := acksKey(runID)
	var hlen *goredis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSetNX(ctx, key, taskID, string(outcome))
		if l.ttl > 0 {
			pipe.Expire(ctx, key, l.ttl)
		}
		hlen = pipe.HLen(ctx, key)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to record acknowledgment: %w", err)
	}
	return int(hlen.Val()), nil
}

func (l *AckLog) Counts(ctx context.Context, runID string) (domain.AckCounts, error) {
	expected, err := l.Expected(ctx, runID)
	if err != nil {
		return domain.AckCounts{}, err
	}

	outcomes, err := l.client.HGetAll(ctx, acksKey(runID)).Result()
	if err != nil {
		return domain.AckCounts{}, fmt.Errorf("failed to read acknowledgments: %w", err)
	}

	counts := domain.AckCounts{Expected: expected}
	for _, o := range outcomes {
		if domain.Outcome(o) == domain.OutcomeDeadLettered {
			counts.DeadLettered++
		} else {
			counts.Processed++
		}
	}
	return counts, nil
}
