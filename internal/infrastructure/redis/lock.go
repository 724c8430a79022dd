package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/andresilva/courier/internal/domain/errors"
	"github.com/andresilva/courier/internal/infrastructure/observability"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const lockPrefix = "lock:"

// Lua script for safe lock release (only owner can release)
var releaseLockScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Locker is the Redis-backed distributed lock. Acquisition writes a
// uniquely-valued key with a fixed lease via SET NX, so the lock
// auto-expires even if the holder crashes. The lease is independent of
// the caller's timeout, which only bounds the acquire step.
type Locker struct {
	client  *redis.Client
	lease   time.Duration
	logger  zerolog.Logger
	metrics *observability.Metrics

	mu   sync.Mutex
	held map[string]string // lock key -> unique owner value
}

// NewLocker creates a Locker with the given lease duration.
func NewLocker(client *redis.Client, lease time.Duration, logger zerolog.Logger, metrics *observability.Metrics) *Locker {
	if lease <= 0 {
		lease = 10 * time.Minute
	}
	return &Locker{
		client:  client,
		lease:   lease,
		logger:  logger,
		metrics: metrics,
		held:    make(map[string]string),
	}
}

// TryAcquire attempts to take the lock. SET NX resolves races in a
// single round trip; there is no separate verify step to lose.
func (l *Locker) TryAcquire(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	lockKey := lockPrefix + key
	value := uuid.New().String()

	ok, err := l.client.SetNX(ctx, lockKey, value, l.lease).Result()
	if err != nil {
		l.metrics.LockAcquisitions.WithLabelValues(key, "error").Inc()
		return false, fmt.Errorf("%w %q: %v", domainErrors.ErrLockAcquisitionFailed, key, err)
	}
	if !ok {
		l.metrics.LockAcquisitions.WithLabelValues(key, "held_elsewhere").Inc()
		l.logger.Debug().Str("key", key).Msg("lock already held by another instance")
		return false, nil
	}
	l.metrics.LockAcquisitions.WithLabelValues(key, "acquired").Inc()

	l.mu.Lock()
	l.held[key] = value
	l.mu.Unlock()

	l.logger.Debug().Str("key", key).Msg("acquired distributed lock")
	return true, nil
}

// Release releases the lock if this locker still owns it. The Lua
// script compares the owner value so an expired-and-reacquired lock is
// never deleted from under its new holder.
func (l *Locker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	value, ok := l.held[key]
	delete(l.held, key)
	l.mu.Unlock()
	if !ok {
		return domainErrors.ErrLockNotHeld
	}

	result, err := releaseLockScript.Run(ctx, l.client, []string{lockPrefix + key}, value).Result()
	if err != nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	if val, ok := result.(int64); !ok || val == 0 {
		// Lease expired before release; nothing to do.
		l.logger.Debug().Str("key", key).Msg("lock already expired at release")
	}
	return nil
}

// ExecuteWithLock acquires, runs fn, and always releases before
// returning. A lock held elsewhere is not an error: it returns
// (false, nil).
func (l *Locker) ExecuteWithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) (bool, error) {
	acquired, err := l.TryAcquire(ctx, key, timeout)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	defer func() {
		if err := l.Release(ctx, key); err != nil {
			l.logger.Error().Err(err).Str("key", key).Msg("release distributed lock")
		}
	}()

	return true, fn(ctx)
}
