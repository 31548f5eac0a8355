package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"minutebars/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingTrigger struct {
	calls atomic.Int32
	fired chan struct{}
	err   error
}

func (t *countingTrigger) Trigger(ctx context.Context) (*domain.RunRecord, error) {
	t.calls.Add(1)
	select {
	case t.fired <- struct{}{}:
	default:
	}
	if t.err != nil {
		return nil, t.err
	}
	return &domain.RunRecord{ID: "run", Status: domain.RunStatusComplete}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCronScheduler_TriggersUntilStopped(t *testing.T) {
	trigger := &countingTrigger{fired: make(chan struct{}, 1)}
	s, err := NewCronScheduler("* * * * * *", trigger, discard())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()

	select {
	case <-trigger.fired:
	case <-time.After(3 * time.Second):
		t.Fatal("schedule never fired")
	}

	s.Stop()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
	assert.GreaterOrEqual(t, trigger.calls.Load(), int32(1))
}

func TestCronScheduler_LockHeldIsNotFatal(t *testing.T) {
	trigger := &countingTrigger{fired: make(chan struct{}, 1), err: domain.ErrLockNotAcquired}
	s, err := NewCronScheduler("* * * * * *", trigger, discard())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	select {
	case <-trigger.fired:
	case <-time.After(3 * time.Second):
		t.Fatal("schedule never fired")
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewCronScheduler_InvalidSchedule(t *testing.T) {
	_, err := NewCronScheduler("every minute", &countingTrigger{}, discard())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}
