package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLockNotObtained is returned when the lock stays held past all retries.
var ErrLockNotObtained = errors.New("platform/cache: lock not obtained")

// Locker serialises critical sections across processes with Redis locks.
type Locker struct {
	client       *redislock.Client
	retryBackoff time.Duration
	maxRetries   int
}

// NewLocker wraps a Redis client. Obtain retries every backoff up to maxRetries times.
func NewLocker(client *redis.Client, backoff time.Duration, maxRetries int) *Locker {
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	return &Locker{client: redislock.New(client), retryBackoff: backoff, maxRetries: maxRetries}
}

// WithLock runs fn while holding key. The lock is released when fn returns.
func (l *Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l == nil || l.client == nil {
		return fn(ctx)
	}
	strategy := redislock.LimitRetry(redislock.LinearBackoff(l.retryBackoff), l.maxRetries)
	lock, err := l.client.Obtain(ctx, key, ttl, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		return fmt.Errorf("%w: %s", ErrLockNotObtained, key)
	}
	if err != nil {
		return fmt.Errorf("platform/cache: obtain lock %s: %w", key, err)
	}
	defer func() {
		_ = lock.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
