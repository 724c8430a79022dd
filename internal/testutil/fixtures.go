package testutil

import (
	"time"

	"github.com/andresilva/courier/internal/domain/outbox"
)

// NewTestMessage builds an outbox message in the given state.
func NewTestMessage(id int64, state outbox.State) *outbox.Message {
	now := time.Now().UTC()
	return &outbox.Message{
		ID:             id,
		MessageName:    "SendInvoice",
		MessageType:    "billing.SendInvoice",
		MessageContent: []byte(`{"invoice_id":"inv-1"}`),
		State:          state,
		CreatedBy:      "system",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}
