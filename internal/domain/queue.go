// internal/domain/queue.go
package domain

import "context"

const (
	// QueueURL carries FetchTasks from the dispatcher to the downloaders.
	QueueURL = "url"
	// QueueResponse carries FetchResults from the downloaders to the response consumer.
	QueueResponse = "response"
)

// DeadLetterQueue names the queue that receives messages given up on from queue.
func DeadLetterQueue(queue string) string {
	return queue + ".dead"
}

// Delivery is a single message handed to a Handler. It must be settled exactly
// once with Ack or Nack.
type Delivery interface {
	Body() []byte
	// Attempt is 1 for the first delivery and grows with every redelivery.
	Attempt() int
	Ack(ctx context.Context) error
	Nack(ctx context.Context, requeue bool) error
}

// Handler processes one delivery. A handler that returns without settling the
// delivery gets it acked on a nil error and requeued otherwise.
type Handler func(ctx context.Context, d Delivery) error

// TaskQueue is an ack-based, at-least-once work queue session.
type TaskQueue interface {
	// Publish returns once the broker has accepted the payload.
	Publish(ctx context.Context, queue string, payload []byte) error
	// Subscribe blocks, invoking h sequentially for each delivery, until ctx is
	// cancelled (nil error) or the broker connection fails. prefetch bounds the
	// unacknowledged deliveries held by this subscription.
	Subscribe(ctx context.Context, queue string, prefetch int, h Handler) error
	Close() error
}
