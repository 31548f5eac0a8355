// internal/infra/redis/queue.go
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"minutebars/internal/domain"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

const payloadField = "payload"

// QueueConfig tunes the stream consumers.
type QueueConfig struct {
	Group string
	// ClaimIdle is how long an entry may stay pending with a silent consumer
	// before another consumer takes it over.
	ClaimIdle time.Duration
	// Block bounds a single blocking read, so cancellation is noticed promptly.
	Block time.Duration
}

// Queue is a domain.TaskQueue on Redis Streams: one stream per queue, one
// consumer group shared by every subscriber.
type Queue struct {
	client *goredis.Client
	cfg    QueueConfig
	logger *slog.Logger
}

// NewQueue creates a stream-backed queue on client.
func NewQueue(client *goredis.Client, cfg QueueConfig, logger *slog.Logger) *Queue {
	if cfg.Group == "" {
		cfg.Group = "minutebars"
	}
	if cfg.ClaimIdle <= 0 {
		cfg.ClaimIdle = time.Minute
	}
	if cfg.Block <= 0 {
		cfg.Block = 2 * time.Second
	}
	return &Queue{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "redis-queue"),
	}
}

func streamKey(queue string) string {
	return keyPrefix + "queue:" + queue
}

// Publish appends payload to the queue's stream.
func (q *Queue) Publish(ctx context.Context, queue string, payload []byte) error {
	err := q.client.XAdd(ctx, &goredis.XAddArgs{
		Stream: streamKey(queue),
		Values: map[string]any{payloadField: payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("redis publish to %s failed: %w", queue, err)
	}
	return nil
}

func (q *Queue) ensureGroup(ctx context.Context, key string) error {
	err := q.client.XGroupCreateMkStream(ctx, key, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("redis group create on %s failed: %w", key, err)
	}
	return nil
}

// Subscribe reads the stream through the consumer group. Each round first
// re-reads this consumer's own pending entries (requeued by Nack), then claims
// entries abandoned by other consumers, and only then reads new ones.
func (q *Queue) Subscribe(ctx context.Context, queue string, prefetch int, h domain.Handler) error {
	key := streamKey(queue)
	if err := q.ensureGroup(ctx, key); err != nil {
		return err
	}
	consumer := queue + "-" + uuid.NewString()
	q.logger.Info("consuming", "stream", key, "group", q.cfg.Group, "consumer", consumer, "prefetch", prefetch)

	for {
		if ctx.Err() != nil {
			return nil
		}

		msgs, err := q.next(ctx, key, consumer, int64(prefetch))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		for _, msg := range msgs {
			if ctx.Err() != nil {
				// Left pending; another consumer claims it after ClaimIdle.
				return nil
			}
			q.handle(ctx, key, consumer, msg, h)
		}
	}
}

func (q *Queue) next(ctx context.Context, key, consumer string, count int64) ([]goredis.XMessage, error) {
	pending, err := q.read(ctx, key, consumer, "0", count, -1)
	if err != nil || len(pending) > 0 {
		return pending, err
	}

	claimed, _, err := q.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   key,
		Group:    q.cfg.Group,
		Consumer: consumer,
		MinIdle:  q.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis autoclaim on %s failed: %w", key, err)
	}
	if len(claimed) > 0 {
		q.logger.Info("claimed abandoned entries", "stream", key, "count", len(claimed))
		return claimed, nil
	}

	return q.read(ctx, key, consumer, ">", count, q.cfg.Block)
}

func (q *Queue) read(ctx context.Context, key, consumer, id string, count int64, block time.Duration) ([]goredis.XMessage, error) {
	streams, err := q.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: consumer,
		Streams:  []string{key, id},
		Count:    count,
		Block:    block,
	}).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis read on %s failed: %w", key, err)
	}

	var msgs []goredis.XMessage
	for _, s := range streams {
		for _, m := range s.Messages {
			// Entries trimmed from the stream come back without values.
			if m.Values == nil {
				if err := q.client.XAck(ctx, key, q.cfg.Group, m.ID).Err(); err != nil {
					q.logger.Warn("failed to ack trimmed entry", "stream", key, "id", m.ID, "error", err)
				}
				continue
			}
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

func (q *Queue) handle(ctx context.Context, key, consumer string, msg goredis.XMessage, h domain.Handler) {
	d := &delivery{
		client:  q.client,
		key:     key,
		group:   q.cfg.Group,
		id:      msg.ID,
		body:    payloadBytes(msg.Values[payloadField]),
		attempt: q.attempt(ctx, key, msg.ID),
	}

	err := h(ctx, d)
	if d.settled {
		return
	}
	var serr error
	if err != nil {
		serr = d.Nack(ctx, true)
	} else {
		serr = d.Ack(ctx)
	}
	if serr != nil {
		q.logger.Error("failed to settle entry", "stream", key, "id", msg.ID, "consumer", consumer, "error", serr)
	}
}

func (q *Queue) attempt(ctx context.Context, key, id string) int {
	pending, err := q.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: key,
		Group:  q.cfg.Group,
		Start:  id,
		End:    id,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return int(pending[0].RetryCount)
}

// Close is a no-op; the client is owned by whoever created it.
func (q *Queue) Close() error { return nil }

func payloadBytes(v any) []byte {
	switch p := v.(type) {
	case string:
		return []byte(p)
	case []byte:
		return p
	default:
		return nil
	}
}

type delivery struct {
	client  *goredis.Client
	key     string
	group   string
	id      string
	body    []byte
	attempt int
	settled bool
}

func (d *delivery) Body() []byte { return d.body }

func (d *delivery) Attempt() int { return d.attempt }

func (d *delivery) Ack(ctx context.Context) error {
	if d.settled {
		return errors.New("delivery already settled")
	}
	d.settled = true
	return d.client.XAck(context.WithoutCancel(ctx), d.key, d.group, d.id).Err()
}

// Nack with requeue leaves the entry pending, so it is read again by this
// consumer's next round. Without requeue it is acknowledged and dropped.
func (d *delivery) Nack(ctx context.Context, requeue bool) error {
	if d.settled {
		return errors.New("delivery already settled")
	}
	d.settled = true
	if requeue {
		return nil
	}
	return d.client.XAck(context.WithoutCancel(ctx), d.key, d.group, d.id).Err()
}
