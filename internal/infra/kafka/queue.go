// internal/infra/kafka/queue.go
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"minutebars/internal/domain"
	"minutebars/internal/infra/connect"

	"github.com/segmentio/kafka-go"
)

// Config holds the Kafka settings.
type Config struct {
	Brokers []string
	// GroupID prefixes the consumer group of every queue.
	GroupID string
	Connect connect.Policy
}

// errRewind asks Subscribe to rejoin the group and resume at the last commit.
var errRewind = errors.New("rewind to last committed offset")

// Queue is a domain.TaskQueue on Kafka: one topic per queue, one consumer
// group per topic. Offsets are committed on Ack; a requeueing Nack rejoins
// the group so consumption resumes from the last commit.
type Queue struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	writers map[string]*kafka.Writer

	attempts *attemptTracker
}

// Dial checks that a broker is reachable, retrying per cfg.Connect.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Queue, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("at least one kafka broker must be configured")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "minutebars"
	}
	logger = logger.With("component", "kafka")

	_, err := connect.Retry(ctx, cfg.Connect, logger, "kafka", func(ctx context.Context) (struct{}, error) {
		conn, err := kafka.DialContext(ctx, "tcp", cfg.Brokers[0])
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, conn.Close()
	})
	if err != nil {
		return nil, err
	}

	logger.Info("connected to kafka", "brokers", cfg.Brokers, "group_id", cfg.GroupID)
	return &Queue{
		cfg:      cfg,
		logger:   logger,
		writers:  make(map[string]*kafka.Writer),
		attempts: newAttemptTracker(),
	}, nil
}

// TopicName maps a queue name to its topic.
func TopicName(queue string) string {
	return "minutebars." + queue
}

func (q *Queue) writer(queue string) *kafka.Writer {
	q.mu.Lock()
	defer q.mu.Unlock()

	w, ok := q.writers[queue]
	if !ok {
		w = &kafka.Writer{
			Addr:                   kafka.TCP(q.cfg.Brokers...),
			Topic:                  TopicName(queue),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
			BatchTimeout:           10 * time.Millisecond,
		}
		q.writers[queue] = w
	}
	return w
}

// Publish writes payload and returns once all in-sync replicas have it.
func (q *Queue) Publish(ctx context.Context, queue string, payload []byte) error {
	if err := q.writer(queue).WriteMessages(ctx, kafka.Message{Value: payload}); err != nil {
		return fmt.Errorf("kafka publish to %s failed: %w", queue, err)
	}
	return nil
}

// Subscribe consumes the queue's topic in the queue's consumer group.
func (q *Queue) Subscribe(ctx context.Context, queue string, prefetch int, h domain.Handler) error {
	for {
		r := kafka.NewReader(kafka.ReaderConfig{
			Brokers:       q.cfg.Brokers,
			GroupID:       q.cfg.GroupID + "." + queue,
			Topic:         TopicName(queue),
			QueueCapacity: prefetch,
			MinBytes:      1,
			MaxBytes:      10e6,
			MaxWait:       500 * time.Millisecond,
			StartOffset:   kafka.FirstOffset,
		})
		q.logger.Info("consuming", "topic", TopicName(queue), "group_id", q.cfg.GroupID+"."+queue)

		err := q.consume(ctx, r, h)
		if cerr := r.Close(); cerr != nil {
			q.logger.Warn("kafka reader close failed", "topic", TopicName(queue), "error", cerr)
		}
		if errors.Is(err, errRewind) {
			continue
		}
		return err
	}
}

func (q *Queue) consume(ctx context.Context, r *kafka.Reader, h domain.Handler) error {
	for {
		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("kafka fetch failed: %w", err)
		}

		d := &delivery{
			reader:  r,
			msg:     msg,
			attempt: q.attempts.next(msg),
			tracker: q.attempts,
		}
		herr := h(ctx, d)
		if !d.settled {
			var serr error
			if herr != nil {
				serr = d.Nack(ctx, true)
			} else {
				serr = d.Ack(ctx)
			}
			if serr != nil {
				q.logger.Error("failed to settle message", "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", serr)
			}
		}

		if d.rewind {
			return errRewind
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// Close flushes and closes every writer.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	var errs []error
	for name, w := range q.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close writer %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

type delivery struct {
	reader  *kafka.Reader
	msg     kafka.Message
	attempt int
	tracker *attemptTracker
	settled bool
	rewind  bool
}

func (d *delivery) Body() []byte { return d.msg.Value }

func (d *delivery) Attempt() int { return d.attempt }

func (d *delivery) Ack(ctx context.Context) error {
	if d.settled {
		return errors.New("delivery already settled")
	}
	d.settled = true
	d.tracker.forget(d.msg)
	return d.reader.CommitMessages(context.WithoutCancel(ctx), d.msg)
}

func (d *delivery) Nack(ctx context.Context, requeue bool) error {
	if d.settled {
		return errors.New("delivery already settled")
	}
	d.settled = true
	if requeue {
		d.rewind = true
		return nil
	}
	d.tracker.forget(d.msg)
	return d.reader.CommitMessages(context.WithoutCancel(ctx), d.msg)
}

// attemptTracker counts deliveries of uncommitted messages. Kafka keeps no
// such count, so it only spans the life of this process.
type attemptTracker struct {
	mu     sync.Mutex
	counts map[string]int
}

func newAttemptTracker() *attemptTracker {
	return &attemptTracker{counts: make(map[string]int)}
}

func messageKey(msg kafka.Message) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

func (t *attemptTracker) next(msg kafka.Message) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := messageKey(msg)
	t.counts[k]++
	return t.counts[k]
}

func (t *attemptTracker) forget(msg kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.counts, messageKey(msg))
}
