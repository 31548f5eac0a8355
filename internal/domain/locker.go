// internal/domain/locker.go
package domain

import (
	"context"
	"errors"
)

// ErrLockNotAcquired is returned when a lock is already held elsewhere, for
// example by a dispatcher whose run is still in flight.
var ErrLockNotAcquired = errors.New("lock not acquired")

// Lock represents an acquired lock.
type Lock interface {
	Unlock(ctx context.Context) error
}

// Locker hands out named locks.
type Locker interface {
	// Lock must not block: a held lock yields ErrLockNotAcquired.
	Lock(ctx context.Context, name string) (Lock, error)
}
