// Package coord holds the coordination primitives shared by server replicas:
// per-key rate limiting and best-effort named locks. In-process
// implementations serve a single replica; the Redis-backed ones let several
// control-plane processes share budgets and leadership.
package coord

import (
	"context"
	"time"
)

// Limiter decides whether one more event for key fits the budget.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Locker grants named, expiring locks. TryLock never blocks.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, name string) error
}

// NoopLocker always grants the lock. It is used when only one replica runs.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context, string, time.Duration) (bool, error) { return true, nil }

func (NoopLocker) Unlock(context.Context, string) error { return nil }
