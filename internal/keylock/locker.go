// Package keylock serializes work on a single key with a bounded wait.
package keylock

import (
	"context"
	"errors"
	"time"
)

// ErrTimeout is returned when the lock could not be acquired within the wait budget.
var ErrTimeout = errors.New("lock_timeout")

// Release unlocks a previously acquired key. It is safe to call once.
type Release func()

type Locker interface {
	// Acquire blocks for at most wait. It returns ErrTimeout when the budget is spent
	// and the context error when ctx ends first.
	Acquire(ctx context.Context, key string, wait time.Duration) (Release, error)
}
