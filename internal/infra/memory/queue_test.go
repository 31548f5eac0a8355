package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"minutebars/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DeliversInOrderAndAcks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue()
	for _, body := range []string{"a", "b", "c"} {
		require.NoError(t, q.Publish(ctx, "url", []byte(body)))
	}

	var got []string
	err := q.Subscribe(ctx, "url", 1, func(ctx context.Context, d domain.Delivery) error {
		got = append(got, string(d.Body()))
		assert.Equal(t, 1, d.Attempt())
		if len(got) == 3 {
			cancel()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Zero(t, q.Len("url"))
}

func TestQueue_HandlerErrorRequeues(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue()
	require.NoError(t, q.Publish(ctx, "response", []byte("x")))

	var attempts []int
	err := q.Subscribe(ctx, "response", 1, func(ctx context.Context, d domain.Delivery) error {
		attempts = append(attempts, d.Attempt())
		if d.Attempt() < 3 {
			return errors.New("sink unavailable")
		}
		cancel()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, attempts)
	assert.Zero(t, q.Len("response"))
}

func TestQueue_ExplicitNackWithoutRequeueDrops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewQueue()
	require.NoError(t, q.Publish(ctx, "url", []byte("x")))

	err := q.Subscribe(ctx, "url", 1, func(ctx context.Context, d domain.Delivery) error {
		defer cancel()
		require.NoError(t, d.Nack(ctx, false))
		assert.Error(t, d.Ack(ctx), "second settlement must fail")
		return errors.New("ignored, already settled")
	})
	require.NoError(t, err)
	assert.Zero(t, q.Len("url"))
}

func TestQueue_SubscriberWakesOnPublish(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := NewQueue()
	received := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- q.Subscribe(ctx, "url", 1, func(ctx context.Context, d domain.Delivery) error {
			received <- string(d.Body())
			return nil
		})
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Publish(ctx, "url", []byte("late")))

	select {
	case body := <-received:
		assert.Equal(t, "late", body)
	case <-ctx.Done():
		t.Fatal("message was never delivered")
	}

	cancel()
	assert.NoError(t, <-done)
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue()
	require.NoError(t, q.Close())

	err := q.Publish(context.Background(), "url", []byte("x"))
	assert.ErrorIs(t, err, ErrClosed)

	err = q.Subscribe(context.Background(), "url", 1, func(context.Context, domain.Delivery) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestQueue_RejectsNonPositivePrefetch(t *testing.T) {
	err := NewQueue().Subscribe(context.Background(), "url", 0, func(context.Context, domain.Delivery) error { return nil })
	assert.Error(t, err)
}

func TestQueue_PublishCopiesPayload(t *testing.T) {
	q := NewQueue()
	payload := []byte("abc")
	require.NoError(t, q.Publish(context.Background(), "url", payload))
	payload[0] = 'z'

	assert.Equal(t, [][]byte{[]byte("abc")}, q.Drain("url"))
}
