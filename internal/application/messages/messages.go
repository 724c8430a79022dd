// Package messages declares the message types this deployment can
// enqueue and execute. Type tags are stable wire identifiers: renaming
// a Go type must not change its tag, or rows already persisted with
// the old tag become undeliverable.
package messages

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/andresilva/courier/internal/application/delivery"
	"github.com/rs/zerolog"
)

// SendEmail asks the execution tier to deliver one email.
type SendEmail struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Key     string `json:"idempotency_key,omitempty"`
}

func (SendEmail) MessageName() string        { return "SendEmail" }
func (SendEmail) MessageKind() delivery.Kind { return delivery.KindCommand }

func (m SendEmail) IdempotencyKey() string { return m.Key }

// DispatchWebhook asks the execution tier to POST a payload to a
// subscriber endpoint.
type DispatchWebhook struct {
	URL     string          `json:"url"`
	Payload json.RawMessage `json:"payload"`
	Key     string          `json:"idempotency_key,omitempty"`
}

func (DispatchWebhook) MessageName() string        { return "DispatchWebhook" }
func (DispatchWebhook) MessageKind() delivery.Kind { return delivery.KindCommand }

func (m DispatchWebhook) IdempotencyKey() string { return m.Key }

// MessageDelivered is the event published when a delivery completes.
type MessageDelivered struct {
	OutboxID int64  `json:"outbox_id"`
	Name     string `json:"name"`
}

func (MessageDelivered) MessageName() string        { return "MessageDelivered" }
func (MessageDelivered) MessageKind() delivery.Kind { return delivery.KindEvent }

// RegisterAll binds every deployable message type into the registry.
// Called once at startup by both binaries so the API and the worker
// agree on the tag set.
func RegisterAll(r *delivery.Registry, logger zerolog.Logger) error {
	if err := delivery.RegisterJSON[SendEmail](r, "courier.SendEmail", delivery.KindCommand,
		func(ctx context.Context, msg delivery.Message) ([]byte, error) {
			cmd, ok := msg.(SendEmail)
			if !ok {
				return nil, fmt.Errorf("unexpected message type %T", msg)
			}
			logger.Info().Str("to", cmd.To).Str("subject", cmd.Subject).Msg("delivering email")
			return json.Marshal(map[string]string{"delivered_to": cmd.To})
		}); err != nil {
		return err
	}

	if err := delivery.RegisterJSON[DispatchWebhook](r, "courier.DispatchWebhook", delivery.KindCommand,
		func(ctx context.Context, msg delivery.Message) ([]byte, error) {
			cmd, ok := msg.(DispatchWebhook)
			if !ok {
				return nil, fmt.Errorf("unexpected message type %T", msg)
			}
			logger.Info().Str("url", cmd.URL).Msg("dispatching webhook")
			return json.Marshal(map[string]string{"dispatched_to": cmd.URL})
		}); err != nil {
		return err
	}

	return delivery.RegisterJSON[MessageDelivered](r, "courier.MessageDelivered", delivery.KindEvent,
		func(ctx context.Context, msg delivery.Message) ([]byte, error) {
			evt, ok := msg.(MessageDelivered)
			if !ok {
				return nil, fmt.Errorf("unexpected message type %T", msg)
			}
			logger.Info().Int64("outbox_id", evt.OutboxID).Str("name", evt.Name).Msg("delivery event observed")
			return nil, nil
		})
}
