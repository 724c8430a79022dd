package outbox

import (
	"time"

	domainErrors "github.com/andresilva/courier/internal/domain/errors"
)

// State is the lifecycle state of an outbox message.
type State string

const (
	StateRequested  State = "requested"
	StateQueued     State = "queued"
	StateProcessing State = "processing"
	StateRetrying   State = "retrying"
	StateProcessed  State = "processed"
	StateFailed     State = "failed"
	StateExpired    State = "expired"
	StateCanceled   State = "canceled"
	// StateDuplicateIdempotencyKey marks a row orphaned by a lost
	// idempotency-key race detected after persistence.
	StateDuplicateIdempotencyKey State = "duplicate_idempotency_key"
)

// Terminal reports whether no further transitions are allowed from s.
func (s State) Terminal() bool {
	switch s {
	case StateProcessed, StateFailed, StateExpired, StateCanceled, StateDuplicateIdempotencyKey:
		return true
	}
	return false
}

// Message is the unit of durable work handed to the execution tier.
type Message struct {
	ID int64

	// MessageName is the short logical name of the payload type;
	// MessageType is the registered fully-qualified type tag used to
	// rehydrate the payload for scheduling.
	MessageName string
	MessageType string

	// MessageContent is the serialized payload; MessageResponse is the
	// serialized result, if the consumer records one.
	MessageContent  []byte
	MessageResponse []byte

	IdempotencyKey string
	JobID          string

	PublishError    string
	PublishTryCount int
	ProcessError    string
	ProcessTryCount int

	State State

	ExpireDate *time.Time
	IsDeleted  bool

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewMessage creates a message in state Requested, before any
// scheduling attempt.
func NewMessage(name, typeTag string, content []byte, idempotencyKey, createdBy string) *Message {
	now := time.Now().UTC()
	return &Message{
		MessageName:    name,
		MessageType:    typeTag,
		MessageContent: content,
		IdempotencyKey: idempotencyKey,
		State:          StateRequested,
		CreatedBy:      createdBy,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// maxReasonLen matches the publish_error/process_error column width.
// Reasons are truncated here so one oversized driver error cannot fail
// the row update, which inside a batched sweep persist would roll back
// the whole batch.
const maxReasonLen = 500

func truncateReason(reason string) string {
	runes := []rune(reason)
	if len(runes) <= maxReasonLen {
		return reason
	}
	return string(runes[:maxReasonLen])
}

// transition guards state changes: a terminal state is never left.
func (m *Message) transition(to State) error {
	if m.State.Terminal() {
		return domainErrors.ErrMessageAlreadyTerminal
	}
	m.State = to
	m.UpdatedAt = time.Now().UTC()
	return nil
}

// SetState applies an externally-requested state change, honoring the
// terminal guard.
func (m *Message) SetState(to State) error {
	if m.State == to {
		return nil
	}
	return m.transition(to)
}

// MarkQueued records a successful scheduling attempt.
func (m *Message) MarkQueued(jobID string) error {
	if err := m.transition(StateQueued); err != nil {
		return err
	}
	m.JobID = jobID
	m.PublishError = ""
	return nil
}

// RecordPublishFailure records a failed scheduling attempt. The message
// moves to Retrying while attempts remain under maxAttempts, else to
// Failed.
func (m *Message) RecordPublishFailure(reason string, maxAttempts int) error {
	if m.State.Terminal() {
		return domainErrors.ErrMessageAlreadyTerminal
	}
	m.PublishError = truncateReason(reason)
	m.PublishTryCount++
	if m.PublishTryCount >= maxAttempts {
		return m.transition(StateFailed)
	}
	return m.transition(StateRetrying)
}

// MarkDuplicate closes a row that lost an idempotency-key race after
// persistence.
func (m *Message) MarkDuplicate(reason string) error {
	if err := m.transition(StateDuplicateIdempotencyKey); err != nil {
		return err
	}
	m.ProcessError = truncateReason(reason)
	return nil
}

// MarkProcessing records that the execution tier picked the job up.
func (m *Message) MarkProcessing() error {
	return m.transition(StateProcessing)
}

// MarkProcessed records downstream completion with an optional
// serialized response.
func (m *Message) MarkProcessed(response []byte) error {
	if err := m.transition(StateProcessed); err != nil {
		return err
	}
	if len(response) > 0 {
		m.MessageResponse = response
	}
	return nil
}

// RecordProcessFailure records a downstream processing failure. Process
// counters are tracked separately from scheduling counters.
func (m *Message) RecordProcessFailure(reason string, maxAttempts int) error {
	if m.State.Terminal() {
		return domainErrors.ErrMessageAlreadyTerminal
	}
	m.ProcessError = truncateReason(reason)
	m.ProcessTryCount++
	if m.ProcessTryCount >= maxAttempts {
		return m.transition(StateFailed)
	}
	return m.transition(StateQueued)
}
