package memory

import (
	"context"
	"errors"
	"sync"

	"minutebars/internal/domain"
)

// ErrClosed is returned by a Queue after Close.
var ErrClosed = errors.New("memory queue closed")

type message struct {
	body       []byte
	deliveries int
}

// Queue is an in-process domain.TaskQueue. Messages are delivered at least
// once: a nacked or unsettled message goes back to the tail of its queue.
type Queue struct {
	mu     sync.Mutex
	ready  map[string][]*message
	wake   chan struct{}
	closed bool
}

// NewQueue creates an empty in-process queue.
func NewQueue() *Queue {
	return &Queue{
		ready: make(map[string][]*message),
		wake:  make(chan struct{}),
	}
}

// Publish appends payload to queue.
func (q *Queue) Publish(ctx context.Context, queue string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body := make([]byte, len(payload))
	copy(body, payload)

	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	q.ready[queue] = append(q.ready[queue], &message{body: body})
	q.signalLocked()
	return nil
}

// Subscribe delivers messages of queue to h one at a time. Deliveries are
// handled inline, so prefetch only needs to be positive.
func (q *Queue) Subscribe(ctx context.Context, queue string, prefetch int, h domain.Handler) error {
	if prefetch <= 0 {
		return errors.New("prefetch must be positive")
	}

	for {
		msg, wake, err := q.next(queue)
		if err != nil {
			return err
		}
		if msg == nil {
			select {
			case <-ctx.Done():
				return nil
			case <-wake:
				continue
			}
		}

		d := &delivery{queue: q, name: queue, msg: msg}
		herr := h(ctx, d)
		if !d.settled() {
			if herr != nil {
				_ = d.Nack(ctx, true)
			} else {
				_ = d.Ack(ctx)
			}
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// Len reports the number of ready messages in queue.
func (q *Queue) Len(queue string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ready[queue])
}

// Drain removes and returns the ready payloads of queue.
func (q *Queue) Drain(queue string) [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	msgs := q.ready[queue]
	delete(q.ready, queue)
	out := make([][]byte, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.body)
	}
	return out
}

// Close stops all subscriptions. Unsettled messages are kept.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		q.signalLocked()
	}
	return nil
}

func (q *Queue) next(queue string) (*message, <-chan struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil, nil, ErrClosed
	}
	msgs := q.ready[queue]
	if len(msgs) == 0 {
		return nil, q.wake, nil
	}
	msg := msgs[0]
	q.ready[queue] = msgs[1:]
	msg.deliveries++
	return msg, nil, nil
}

func (q *Queue) requeue(queue string, msg *message) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.ready[queue] = append(q.ready[queue], msg)
	q.signalLocked()
}

// signalLocked wakes every waiting subscriber.
func (q *Queue) signalLocked() {
	close(q.wake)
	q.wake = make(chan struct{})
}

type delivery struct {
	queue *Queue
	name  string
	msg   *message

	mu   sync.Mutex
	done bool
}

func (d *delivery) Body() []byte { return d.msg.body }

func (d *delivery) Attempt() int { return d.msg.deliveries }

func (d *delivery) Ack(context.Context) error {
	return d.settle(func() {})
}

func (d *delivery) Nack(_ context.Context, requeue bool) error {
	return d.settle(func() {
		if requeue {
			d.queue.requeue(d.name, d.msg)
		}
	})
}

func (d *delivery) settle(fn func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.done {
		return errors.New("delivery already settled")
	}
	d.done = true
	fn()
	return nil
}

func (d *delivery) settled() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done
}
