// internal/infra/rabbitmq/queue.go
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"minutebars/internal/domain"
	"minutebars/internal/infra/connect"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds the RabbitMQ connection settings.
type Config struct {
	URL string
	// Quorum declares quorum queues. Only quorum queues report how often a
	// message was delivered, which the dead-letter cap relies on.
	Quorum  bool
	Connect connect.Policy
}

// Queue is a domain.TaskQueue over one AMQP connection. Publishing uses a
// dedicated channel in confirm mode; every subscription opens its own channel.
type Queue struct {
	cfg    Config
	conn   *amqp.Connection
	logger *slog.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel

	declMu   sync.Mutex
	declared map[string]bool
}

// Dial connects to RabbitMQ, retrying per cfg.Connect.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Queue, error) {
	logger = logger.With("component", "rabbitmq")

	conn, err := connect.Retry(ctx, cfg.Connect, logger, "rabbitmq", func(context.Context) (*amqp.Connection, error) {
		return amqp.Dial(cfg.URL)
	})
	if err != nil {
		return nil, err
	}

	pubCh, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq channel open failed: %w", err)
	}
	if err := pubCh.Confirm(false); err != nil {
		_ = pubCh.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("rabbitmq confirm mode failed: %w", err)
	}

	logger.Info("connected to rabbitmq", "quorum", cfg.Quorum)
	return &Queue{
		cfg:      cfg,
		conn:     conn,
		logger:   logger,
		pubCh:    pubCh,
		declared: make(map[string]bool),
	}, nil
}

func (q *Queue) declare(ch *amqp.Channel, name string) error {
	q.declMu.Lock()
	defer q.declMu.Unlock()
	if q.declared[name] {
		return nil
	}

	args := amqp.Table{}
	if q.cfg.Quorum {
		args["x-queue-type"] = "quorum"
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
		return fmt.Errorf("rabbitmq queue declare %s failed: %w", name, err)
	}
	q.declared[name] = true
	return nil
}

// Publish sends payload as a persistent message and waits for the broker confirm.
func (q *Queue) Publish(ctx context.Context, queue string, payload []byte) error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()

	if err := q.declare(q.pubCh, queue); err != nil {
		return err
	}

	dc, err := q.pubCh.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         payload,
	})
	if err != nil {
		return fmt.Errorf("rabbitmq publish to %s failed: %w", queue, err)
	}

	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("rabbitmq publish confirm on %s failed: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("rabbitmq broker rejected message on %s", queue)
	}
	return nil
}

// Subscribe consumes queue with manual acks and a Qos of prefetch.
func (q *Queue) Subscribe(ctx context.Context, queue string, prefetch int, h domain.Handler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("rabbitmq channel open failed: %w", err)
	}
	// Closing the channel hands unacknowledged deliveries back to the broker.
	defer ch.Close()

	if err := ch.Qos(prefetch, 0, false); err != nil {
		return fmt.Errorf("rabbitmq qos setup failed: %w", err)
	}
	// Declarations are per connection, so any channel will do.
	if err := q.declare(ch, queue); err != nil {
		return err
	}

	tag := queue + "-" + uuid.NewString()
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq consume %s failed: %w", queue, err)
	}
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))

	q.logger.Info("consuming", "queue", queue, "prefetch", prefetch, "consumer_tag", tag)
	for {
		select {
		case <-ctx.Done():
			return nil
		case amqpErr := <-closed:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("rabbitmq channel closed: %v", amqpErr)
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return errors.New("rabbitmq delivery channel closed")
			}
			if ctx.Err() != nil {
				// Cancelled while this one was buffered; the broker redelivers it.
				return nil
			}
			q.handle(ctx, queue, d, h)
		}
	}
}

func (q *Queue) handle(ctx context.Context, queue string, d amqp.Delivery, h domain.Handler) {
	del := &delivery{d: d}
	err := h(ctx, del)
	if del.settled {
		return
	}

	var serr error
	if err != nil {
		serr = del.Nack(ctx, true)
	} else {
		serr = del.Ack(ctx)
	}
	if serr != nil {
		q.logger.Error("failed to settle delivery", "queue", queue, "delivery_tag", d.DeliveryTag, "error", serr)
	}
}

// Close closes the publisher channel and the connection.
func (q *Queue) Close() error {
	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	_ = q.pubCh.Close()
	return q.conn.Close()
}

type delivery struct {
	d       amqp.Delivery
	settled bool
}

func (d *delivery) Body() []byte { return d.d.Body }

func (d *delivery) Attempt() int {
	return deliveryAttempt(d.d.Headers, d.d.Redelivered)
}

func (d *delivery) Ack(context.Context) error {
	if d.settled {
		return errors.New("delivery already settled")
	}
	d.settled = true
	return d.d.Ack(false)
}

func (d *delivery) Nack(_ context.Context, requeue bool) error {
	if d.settled {
		return errors.New("delivery already settled")
	}
	d.settled = true
	return d.d.Nack(false, requeue)
}

// deliveryAttempt derives the 1-based attempt number. Quorum queues count
// previous deliveries in x-delivery-count; classic queues only flag a redelivery.
func deliveryAttempt(headers amqp.Table, redelivered bool) int {
	switch n := headers["x-delivery-count"].(type) {
	case int64:
		return int(n) + 1
	case int32:
		return int(n) + 1
	case int:
		return n + 1
	}
	if redelivered {
		return 2
	}
	return 1
}
