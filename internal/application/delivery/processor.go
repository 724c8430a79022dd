package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	domainErrors "github.com/andresilva/courier/internal/domain/errors"
	"github.com/andresilva/courier/internal/domain/idempotency"
	"github.com/andresilva/courier/internal/domain/outbox"
	"github.com/andresilva/courier/internal/domain/tenant"
	"github.com/andresilva/courier/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// MessageProcessor is the only entry point application code uses to get
// a message durably recorded and handed to the execution tier.
type MessageProcessor interface {
	// Enqueue routes to the idempotent path when the message carries a
	// non-empty idempotency key, otherwise to the non-idempotent path.
	Enqueue(ctx context.Context, msg Message) (*outbox.Response, error)

	// EnqueueWithKey enqueues with an explicit idempotency key:
	// identical key always yields the identical visible result.
	EnqueueWithKey(ctx context.Context, msg Message, idempotencyKey string) (*outbox.Response, error)

	// EnqueueNonIdempotent always creates a distinct row.
	EnqueueNonIdempotent(ctx context.Context, msg Message) (*outbox.Response, error)

	GetMessage(ctx context.Context, outboxID int64) (*outbox.Response, error)
	GetStatus(ctx context.Context, outboxID int64) (*outbox.MessageStatus, error)

	// UpdateStatus is used by the execution tier to report outcomes
	// back into the outbox row. Content is only set if not already
	// present.
	UpdateStatus(ctx context.Context, outboxID int64, state outbox.State, jobID string, content []byte) error
}

// Processor composes the outbox store, the idempotency registry and
// the job scheduler. All I/O is sequential within one logical call; no
// background work happens here.
type Processor struct {
	store              outbox.Store
	idemStore          idempotency.Store
	scheduler          JobScheduler
	registry           *Registry
	maxPublishAttempts int
	logger             zerolog.Logger
	metrics            *observability.Metrics
}

// NewProcessor creates a Processor. maxPublishAttempts bounds the
// Retrying sub-loop; zero or negative falls back to 3.
func NewProcessor(
	store outbox.Store,
	idemStore idempotency.Store,
	scheduler JobScheduler,
	registry *Registry,
	maxPublishAttempts int,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Processor {
	if maxPublishAttempts <= 0 {
		maxPublishAttempts = 3
	}
	return &Processor{
		store:              store,
		idemStore:          idemStore,
		scheduler:          scheduler,
		registry:           registry,
		maxPublishAttempts: maxPublishAttempts,
		logger:             logger,
		metrics:            metrics,
	}
}

func (p *Processor) Enqueue(ctx context.Context, msg Message) (*outbox.Response, error) {
	if im, ok := msg.(IdempotentMessage); ok && im.IdempotencyKey() != "" {
		return p.EnqueueWithKey(ctx, msg, im.IdempotencyKey())
	}
	return p.EnqueueNonIdempotent(ctx, msg)
}

func (p *Processor) EnqueueWithKey(ctx context.Context, msg Message, idempotencyKey string) (*outbox.Response, error) {
	start := time.Now()
	tenantID, ok := tenant.FromContext(ctx)
	if !ok {
		return nil, domainErrors.ErrTenantRequired
	}

	existing, err := p.idemStore.Get(ctx, idempotencyKey, tenantID)
	if err != nil {
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}
	if existing != nil {
		resp, err := p.store.GetOutboxResponse(ctx, existing.OutboxID)
		if err != nil {
			return nil, fmt.Errorf("resolve deduplicated outbox row: %w", err)
		}
		if resp != nil {
			p.metrics.DedupHits.Inc()
			p.metrics.EnqueueTotal.WithLabelValues("idempotent", "deduplicated").Inc()
			return resp, nil
		}
		// The key points at a row that no longer exists. Clean it up and
		// proceed as a fresh enqueue.
		p.logger.Warn().
			Str("tenant_id", tenantID).
			Int64("outbox_id", existing.OutboxID).
			Msg("removing dangling idempotency key")
		if err := p.idemStore.Remove(ctx, idempotencyKey, tenantID); err != nil {
			return nil, fmt.Errorf("remove dangling idempotency key: %w", err)
		}
	}

	resp, err := p.persistAndSchedule(ctx, msg, idempotencyKey, tenantID)
	p.observeEnqueue("idempotent", start, err)
	return resp, err
}

func (p *Processor) EnqueueNonIdempotent(ctx context.Context, msg Message) (*outbox.Response, error) {
	start := time.Now()
	resp, err := p.persistAndSchedule(ctx, msg, "", "")
	p.observeEnqueue("non_idempotent", start, err)
	return resp, err
}

// persistAndSchedule implements the two-phase persist-register-schedule
// ordering: the outbox row always exists before the dedup key
// references it, and a duplicate-key race is detected after
// persistence so the losing request still returns a coherent answer.
func (p *Processor) persistAndSchedule(ctx context.Context, msg Message, idempotencyKey, tenantID string) (*outbox.Response, error) {
	typeTag, ok := p.registry.TypeTag(msg.MessageName())
	if !ok {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrMessageTypeNotRegistered, msg.MessageName())
	}

	content, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("serialize message %s: %w", msg.MessageName(), err)
	}

	createdBy := tenantID
	if createdBy == "" {
		createdBy = "system"
	}
	m := outbox.NewMessage(msg.MessageName(), typeTag, content, idempotencyKey, createdBy)

	if err := p.store.Add(ctx, m); err != nil {
		return nil, fmt.Errorf("persist outbox message: %w", err)
	}

	if idempotencyKey != "" {
		added, err := p.idemStore.Add(ctx, idempotencyKey, tenantID, m.ID, m.MessageName)
		if err != nil {
			return nil, fmt.Errorf("register idempotency key: %w", err)
		}
		if !added {
			return p.resolveDuplicate(ctx, m, idempotencyKey, tenantID)
		}
	}

	p.schedule(ctx, msg, m)

	if err := p.store.Update(ctx, m); err != nil {
		return nil, fmt.Errorf("persist outbox state: %w", err)
	}

	return &outbox.Response{
		OutboxID:       m.ID,
		State:          m.State,
		JobID:          m.JobID,
		IdempotencyKey: m.IdempotencyKey,
	}, nil
}

// resolveDuplicate converges a lost registration race to the winner's
// outcome. The just-created row is closed either way so the sweep never
// re-delivers an orphan.
func (p *Processor) resolveDuplicate(ctx context.Context, m *outbox.Message, idempotencyKey, tenantID string) (*outbox.Response, error) {
	p.metrics.DuplicateRaces.Inc()

	reason := fmt.Sprintf("duplicate idempotency key %s for tenant %s", idempotencyKey, tenantID)
	if err := m.MarkDuplicate(reason); err != nil {
		return nil, err
	}
	if err := p.store.Finish(ctx, m); err != nil {
		return nil, fmt.Errorf("close duplicate outbox row: %w", err)
	}

	winner, err := p.idemStore.Get(ctx, idempotencyKey, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve race winner: %w", err)
	}
	if winner != nil {
		resp, err := p.store.GetOutboxResponse(ctx, winner.OutboxID)
		if err != nil {
			return nil, fmt.Errorf("resolve race winner response: %w", err)
		}
		if resp != nil {
			p.logger.Info().
				Str("tenant_id", tenantID).
				Int64("winner_outbox_id", winner.OutboxID).
				Int64("orphan_outbox_id", m.ID).
				Msg("idempotency race lost, returning winner response")
			return resp, nil
		}
	}

	return nil, fmt.Errorf("%w: %s", domainErrors.ErrDuplicateIdempotencyKey, reason)
}

// schedule attempts to hand the message to the execution tier and
// records the outcome as a state transition, never as an error to the
// caller: a durably recorded message that is not yet delivered must not
// look like total failure.
func (p *Processor) schedule(ctx context.Context, msg Message, m *outbox.Message) {
	jobID, err := p.scheduler.ScheduleOnline(WithOutboxID(ctx, m.ID), msg)
	if err == nil && jobID != "" {
		if mErr := m.MarkQueued(jobID); mErr != nil {
			p.logger.Error().Err(mErr).Int64("outbox_id", m.ID).Msg("mark queued")
		}
		return
	}

	reason := domainErrors.ErrEmptyJobHandle.Error()
	if err != nil {
		reason = err.Error()
	}
	p.metrics.SchedulerFailures.WithLabelValues("enqueue").Inc()
	p.logger.Warn().
		Int64("outbox_id", m.ID).
		Str("reason", reason).
		Int("attempt", m.PublishTryCount+1).
		Msg("scheduling attempt failed")
	if mErr := m.RecordPublishFailure(reason, p.maxPublishAttempts); mErr != nil {
		p.logger.Error().Err(mErr).Int64("outbox_id", m.ID).Msg("record publish failure")
	}
}

func (p *Processor) GetMessage(ctx context.Context, outboxID int64) (*outbox.Response, error) {
	m, err := p.store.Get(ctx, outboxID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, domainErrors.ErrMessageNotFound
	}
	return &outbox.Response{
		OutboxID:       m.ID,
		State:          m.State,
		JobID:          m.JobID,
		IdempotencyKey: m.IdempotencyKey,
	}, nil
}

func (p *Processor) GetStatus(ctx context.Context, outboxID int64) (*outbox.MessageStatus, error) {
	status, err := p.store.GetStatus(ctx, outboxID)
	if err != nil {
		return nil, err
	}
	if status == nil {
		return nil, domainErrors.ErrMessageNotFound
	}
	return status, nil
}

func (p *Processor) UpdateStatus(ctx context.Context, outboxID int64, state outbox.State, jobID string, content []byte) error {
	m, err := p.store.Get(ctx, outboxID)
	if err != nil {
		return err
	}
	if m == nil {
		return domainErrors.ErrMessageNotFound
	}

	if err := m.SetState(state); err != nil {
		return err
	}
	if jobID != "" {
		m.JobID = jobID
	}
	if len(content) > 0 && len(m.MessageContent) == 0 {
		m.MessageContent = content
	}

	return p.store.Update(ctx, m)
}

func (p *Processor) observeEnqueue(mode string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	p.metrics.EnqueueTotal.WithLabelValues(mode, result).Inc()
	p.metrics.EnqueueDuration.WithLabelValues(mode).Observe(time.Since(start).Seconds())
}

var _ MessageProcessor = (*Processor)(nil)
