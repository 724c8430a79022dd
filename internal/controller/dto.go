package controller

import (
	"encoding/json"
	"time"

	"github.com/andresilva/courier/internal/domain/outbox"
)

// --- Request DTOs ---
// These DTOs handle HTTP/JSON concerns (raw payloads, validation tags).
// Controllers convert these into typed messages before calling the
// processor.

// EnqueueRequest holds the input for enqueueing a message.
type EnqueueRequest struct {
	MessageName    string          `json:"message_name" validate:"required"`
	Payload        json.RawMessage `json:"payload" validate:"required"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

// UpdateStatusRequest holds the input for an execution-tier status
// callback.
type UpdateStatusRequest struct {
	State   string          `json:"state" validate:"required,oneof=requested queued processing processed retrying failed expired canceled duplicate_idempotency_key"`
	JobID   string          `json:"job_id,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`
}

// --- Response DTOs ---

// EnqueueResponse represents the enqueue outcome in API responses.
type EnqueueResponse struct {
	OutboxID       int64  `json:"outbox_id"`
	State          string `json:"state"`
	JobID          string `json:"job_id,omitempty"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// StatusResponse represents the current delivery state of a message.
type StatusResponse struct {
	OutboxID int64  `json:"outbox_id"`
	State    string `json:"state"`
	JobID    string `json:"job_id,omitempty"`
}

// MessageResponse represents an outbox message in API responses.
type MessageResponse struct {
	OutboxID        int64           `json:"outbox_id"`
	MessageName     string          `json:"message_name"`
	State           string          `json:"state"`
	JobID           string          `json:"job_id,omitempty"`
	IdempotencyKey  string          `json:"idempotency_key,omitempty"`
	Response        json.RawMessage `json:"response,omitempty"`
	PublishError    string          `json:"publish_error,omitempty"`
	PublishTryCount int             `json:"publish_try_count"`
	ProcessError    string          `json:"process_error,omitempty"`
	ProcessTryCount int             `json:"process_try_count"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// --- Conversion helpers ---

// FromResponse converts a delivery outcome to an API response.
func FromResponse(r *outbox.Response) *EnqueueResponse {
	return &EnqueueResponse{
		OutboxID:       r.OutboxID,
		State:          string(r.State),
		JobID:          r.JobID,
		IdempotencyKey: r.IdempotencyKey,
	}
}

// FromStatus converts a message status to an API response.
func FromStatus(outboxID int64, s *outbox.MessageStatus) *StatusResponse {
	return &StatusResponse{
		OutboxID: outboxID,
		State:    string(s.State),
		JobID:    s.JobID,
	}
}

// FromMessage converts an outbox message to an API response.
func FromMessage(m *outbox.Message) *MessageResponse {
	return &MessageResponse{
		OutboxID:        m.ID,
		MessageName:     m.MessageName,
		State:           string(m.State),
		JobID:           m.JobID,
		IdempotencyKey:  m.IdempotencyKey,
		Response:        json.RawMessage(m.MessageResponse),
		PublishError:    m.PublishError,
		PublishTryCount: m.PublishTryCount,
		ProcessError:    m.ProcessError,
		ProcessTryCount: m.ProcessTryCount,
		CreatedAt:       m.CreatedAt,
		UpdatedAt:       m.UpdatedAt,
	}
}
