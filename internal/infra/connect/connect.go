// Package connect holds the bounded, fixed-delay retry used when dialing
// brokers and stores at startup.
package connect

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Policy bounds connection attempts.
type Policy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultPolicy retries for a little over a minute.
var DefaultPolicy = Policy{Attempts: 15, Delay: 5 * time.Second}

// Retry calls dial until it succeeds, the attempts are exhausted or ctx is
// done. The last dial error is returned on exhaustion.
func Retry[T any](ctx context.Context, p Policy, logger *slog.Logger, target string, dial func(context.Context) (T, error)) (T, error) {
	var zero T
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for i := 1; i <= attempts; i++ {
		v, err := dial(ctx)
		if err == nil {
			if i > 1 {
				logger.Info("connected after retry", "target", target, "attempt", i)
			}
			return v, nil
		}
		lastErr = err
		if i == attempts {
			break
		}

		logger.Warn("connection failed, retrying", "target", target, "attempt", i, "of", attempts, "delay", p.Delay, "error", err)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	return zero, fmt.Errorf("failed to connect to %s after %d attempts: %w", target, attempts, lastErr)
}
