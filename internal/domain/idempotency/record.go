package idempotency

import (
	"context"
	"time"
)

// Record is the dedup registry entry. OutboxID is a non-owning
// back-reference to the outbox row; the outbox row never references
// the record.
type Record struct {
	IdempotencyKey string
	TenantID       string
	OutboxID       int64
	CreatedAt      time.Time
}

// Store guarantees at-most-one successful registration per
// (tenant, idempotency key), with policy-driven expiry.
//
// Store unavailability surfaces as an error, never as a "duplicate":
// callers must be able to distinguish "store down" from "key already
// used".
type Store interface {
	// Add atomically registers (key, tenant) -> outboxID. It returns
	// false without overwriting when a record already exists. The
	// record's TTL is derived from the message type's idempotency
	// policy.
	Add(ctx context.Context, key, tenantID string, outboxID int64, messageName string) (bool, error)

	// Get returns the record for (key, tenant), or nil if absent.
	Get(ctx context.Context, key, tenantID string) (*Record, error)

	// Remove deletes the record for (key, tenant). Used to clean up
	// after a failed enqueue or a dangling key.
	Remove(ctx context.Context, key, tenantID string) error
}
