package outbox

import (
	"context"
)

// MessageStatus is a lightweight projection of a message's state and
// job handle, used for polling.
type MessageStatus struct {
	State State
	JobID string
}

// Response is the projection returned to API callers after an enqueue
// or a status query.
type Response struct {
	OutboxID       int64  `json:"outbox_id"`
	State          State  `json:"state"`
	JobID          string `json:"job_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// Store is the durable record of every outbox message. Every mutating
// operation persists immediately; callers make branching decisions
// based on post-write state.
type Store interface {
	// Add inserts a new message in state Requested and assigns its ID.
	Add(ctx context.Context, m *Message) error

	// Update persists all mutable fields after a state transition.
	Update(ctx context.Context, m *Message) error

	// UpdateBatch persists a set of messages in one round trip. Used by
	// the recurring sweep to bound write amplification.
	UpdateBatch(ctx context.Context, msgs []*Message) error

	// Finish closes a row terminally: sets the expiry timestamp and the
	// soft-delete flag, then persists.
	Finish(ctx context.Context, m *Message) error

	// Get returns the message, or nil if it does not exist.
	Get(ctx context.Context, id int64) (*Message, error)

	// GetStatus returns the state/job-handle projection, or nil if the
	// message does not exist.
	GetStatus(ctx context.Context, id int64) (*MessageStatus, error)

	// GetOutboxResponse returns the public response projection, or nil
	// if the message does not exist.
	GetOutboxResponse(ctx context.Context, id int64) (*Response, error)

	// GetRequested returns up to batchSize messages awaiting (re)delivery:
	// Requested, Queued or Retrying. Used exclusively by the recurring
	// sweep.
	GetRequested(ctx context.Context, batchSize int) ([]*Message, error)
}
