package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresilva/courier/internal/application/delivery"
	domainErrors "github.com/andresilva/courier/internal/domain/errors"
	"github.com/andresilva/courier/internal/domain/outbox"
	"github.com/andresilva/courier/internal/infrastructure/observability"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

const (
	CommandStream = "courier:commands"
	EventStream   = "courier:events"
)

// StreamFor maps a message kind to its stream.
func StreamFor(kind delivery.Kind) string {
	if kind == delivery.KindEvent {
		return EventStream
	}
	return CommandStream
}

// StreamScheduler publishes scheduled jobs to Redis Streams. The XADD
// entry ID doubles as the job handle. Publishes go through a circuit
// breaker so a down broker sheds load fast instead of stacking up
// timeouts; a rejected publish surfaces as a scheduling failure and the
// message stays in the outbox for the sweep.
type StreamScheduler struct {
	client   *redis.Client
	registry *delivery.Registry
	breaker  *gobreaker.CircuitBreaker[string]
	logger   zerolog.Logger
	metrics  *observability.Metrics
}

func NewStreamScheduler(
	client *redis.Client,
	registry *delivery.Registry,
	breakerThreshold uint32,
	breakerTimeout time.Duration,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *StreamScheduler {
	if breakerThreshold == 0 {
		breakerThreshold = 10
	}
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}

	s := &StreamScheduler{
		client:   client,
		registry: registry,
		logger:   logger,
		metrics:  metrics,
	}
	s.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "job-scheduler",
		MaxRequests: 3,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("scheduler circuit breaker state changed")
		},
	})
	return s
}

// ScheduleOnline publishes a typed message to its kind's stream and
// returns the stream entry ID as the job handle. The outbox row id is
// taken from the context when present so consumers can correlate the
// job back to its durable row.
func (s *StreamScheduler) ScheduleOnline(ctx context.Context, msg delivery.Message) (string, error) {
	typeTag, ok := s.registry.TypeTag(msg.MessageName())
	if !ok {
		return "", fmt.Errorf("%w: %s", domainErrors.ErrMessageTypeNotRegistered, msg.MessageName())
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("serialize message %s: %w", msg.MessageName(), err)
	}

	outboxID, _ := delivery.OutboxIDFromContext(ctx)

	stream := StreamFor(msg.MessageKind())
	entryID, err := s.breaker.Execute(func() (string, error) {
		return s.client.XAdd(ctx, &redis.XAddArgs{
			Stream: stream,
			Values: map[string]any{
				"outbox_id":    outboxID,
				"message_name": msg.MessageName(),
				"type_tag":     typeTag,
				"payload":      string(payload),
				"timestamp":    time.Now().Unix(),
			},
		}).Result()
	})
	if err != nil {
		return "", fmt.Errorf("publish job to %s: %w", stream, err)
	}
	return entryID, nil
}

// ScheduleOutboxMessage rehydrates the stored payload through the
// registry and delegates to ScheduleOnline with the row id correlated.
func (s *StreamScheduler) ScheduleOutboxMessage(ctx context.Context, m *outbox.Message) (string, error) {
	msg, err := s.registry.Decode(m.MessageType, m.MessageContent)
	if err != nil {
		return "", fmt.Errorf("rehydrate outbox message %d: %w", m.ID, err)
	}
	return s.ScheduleOnline(delivery.WithOutboxID(ctx, m.ID), msg)
}

var _ delivery.JobScheduler = (*StreamScheduler)(nil)
