package delivery

import (
	"context"
	"time"

	"github.com/andresilva/courier/internal/domain/outbox"
)

type outboxIDKey struct{}

// WithOutboxID returns a context carrying the outbox row id a message
// being scheduled belongs to. Schedulers use it to correlate jobs back
// to their durable rows.
func WithOutboxID(ctx context.Context, outboxID int64) context.Context {
	return context.WithValue(ctx, outboxIDKey{}, outboxID)
}

// OutboxIDFromContext returns the correlated outbox row id, if any.
func OutboxIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(outboxIDKey{}).(int64)
	return id, ok
}

// JobScheduler hands messages to the execution tier and returns an
// opaque job handle. An empty handle means "accepted but not
// trackable" and is treated as a scheduling failure requiring retry.
type JobScheduler interface {
	// ScheduleOnline schedules a rehydrated typed message.
	ScheduleOnline(ctx context.Context, msg Message) (string, error)

	// ScheduleOutboxMessage resolves the stored type tag back to a
	// concrete message, deserializes the payload and delegates to
	// ScheduleOnline. This is the path used by the recurring sweep,
	// which only has the durable row.
	ScheduleOutboxMessage(ctx context.Context, m *outbox.Message) (string, error)
}

// DistributedLock is an advisory, lease-based mutual-exclusion
// primitive shared across service instances. The lease is fixed by the
// implementation and independent of the timeout parameter, which only
// bounds the acquire step; holders must finish well inside the lease
// window since the lock auto-expires and does not renew.
type DistributedLock interface {
	TryAcquire(ctx context.Context, key string, timeout time.Duration) (bool, error)
	Release(ctx context.Context, key string) error

	// ExecuteWithLock acquires, runs fn, and always releases, even when
	// fn returns an error or panics. It returns false when the lock was
	// not acquired; fn's error is returned unchanged.
	ExecuteWithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) (bool, error)
}
