package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andresilva/courier/internal/application/delivery"
	domainErrors "github.com/andresilva/courier/internal/domain/errors"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// Locker is an in-process delivery.DistributedLock with the same lease
// semantics as the Redis-backed one. It is only safe for
// single-instance deployments and tests.
type Locker struct {
	leaseDuration time.Duration

	mu     sync.Mutex
	leases map[string]lease
	owners map[string]string // key -> owner token held by this Locker's callers
	seq    int64
}

// NewLocker creates a Locker with the given lease duration.
func NewLocker(leaseDuration time.Duration) *Locker {
	if leaseDuration <= 0 {
		leaseDuration = 10 * time.Minute
	}
	return &Locker{
		leaseDuration: leaseDuration,
		leases:        make(map[string]lease),
		owners:        make(map[string]string),
	}
}

func (l *Locker) TryAcquire(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if cur, ok := l.leases[key]; ok && now.Before(cur.expiresAt) {
		return false, nil
	}

	l.seq++
	owner := fmt.Sprintf("%s-%d", key, l.seq)
	l.leases[key] = lease{owner: owner, expiresAt: now.Add(l.leaseDuration)}
	l.owners[key] = owner
	return true, nil
}

func (l *Locker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	owner, ok := l.owners[key]
	if !ok {
		return domainErrors.ErrLockNotHeld
	}
	delete(l.owners, key)

	// Only delete if the lease was not reacquired after expiry.
	if cur, exists := l.leases[key]; exists && cur.owner == owner {
		delete(l.leases, key)
	}
	return nil
}

func (l *Locker) ExecuteWithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) (bool, error) {
	acquired, err := l.TryAcquire(ctx, key, timeout)
	if err != nil || !acquired {
		return false, err
	}
	defer l.Release(ctx, key) //nolint:errcheck
	return true, fn(ctx)
}

var _ delivery.DistributedLock = (*Locker)(nil)
