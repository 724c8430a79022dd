package delivery

import (
	"context"
	"time"

	"github.com/andresilva/courier/internal/domain/outbox"
	"github.com/andresilva/courier/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// Job is a scheduled unit of work read back from the execution tier's
// queue.
type Job struct {
	// StreamID is the queue-side handle used to acknowledge the job.
	StreamID string
	// Stream names the queue the job came from.
	Stream   string
	OutboxID int64
	TypeTag  string
	Payload  []byte
}

// JobSource supplies scheduled jobs to the runner.
type JobSource interface {
	Read(ctx context.Context) ([]Job, error)
	Ack(ctx context.Context, stream, streamID string) error
}

// JobClaimer recovers jobs that were read by a consumer which died
// before acknowledging them.
type JobClaimer interface {
	ReclaimIdle(ctx context.Context, minIdle time.Duration) ([]Job, error)
}

// Runner executes scheduled jobs: it marks the outbox row Processing,
// dispatches to the registered handler, and records the terminal
// outcome. Delivery is at-least-once; jobs are acknowledged only after
// the outcome is persisted.
type Runner struct {
	store              outbox.Store
	registry           *Registry
	source             JobSource
	maxProcessAttempts int
	logger             zerolog.Logger
	metrics            *observability.Metrics
}

// NewRunner creates a Runner.
func NewRunner(
	store outbox.Store,
	registry *Registry,
	source JobSource,
	maxProcessAttempts int,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *Runner {
	if maxProcessAttempts <= 0 {
		maxProcessAttempts = 3
	}
	return &Runner{
		store:              store,
		registry:           registry,
		source:             source,
		maxProcessAttempts: maxProcessAttempts,
		logger:             logger,
		metrics:            metrics,
	}
}

// Run consumes jobs until ctx is done.
func (r *Runner) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		jobs, err := r.source.Read(ctx)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to read jobs")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		for _, job := range jobs {
			r.process(ctx, job)
		}
	}
}

// ReclaimLoop periodically takes over jobs stuck pending on a dead
// consumer and processes them here. Processing a job twice is safe:
// rows already terminal are just re-acknowledged.
func (r *Runner) ReclaimLoop(ctx context.Context, claimer JobClaimer, interval, minIdle time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		jobs, err := claimer.ReclaimIdle(ctx, minIdle)
		if err != nil {
			r.logger.Error().Err(err).Msg("reclaim idle jobs")
			continue
		}
		if len(jobs) > 0 {
			r.logger.Info().Int("count", len(jobs)).Msg("reclaimed idle jobs")
		}
		for _, job := range jobs {
			r.process(ctx, job)
		}
	}
}

func (r *Runner) process(ctx context.Context, job Job) {
	start := time.Now()
	defer func() {
		r.metrics.ConsumerDuration.WithLabelValues(job.Stream).Observe(time.Since(start).Seconds())
	}()

	m, err := r.store.Get(ctx, job.OutboxID)
	if err != nil {
		r.logger.Error().Err(err).Int64("outbox_id", job.OutboxID).Msg("load outbox row")
		return
	}
	if m == nil {
		// Row archived or gone; nothing to do for this job.
		r.logger.Warn().Int64("outbox_id", job.OutboxID).Msg("job references missing outbox row")
		r.ack(ctx, job)
		return
	}
	if m.State.Terminal() {
		r.ack(ctx, job)
		return
	}

	if err := m.MarkProcessing(); err != nil {
		r.logger.Error().Err(err).Int64("outbox_id", m.ID).Msg("mark processing")
		r.ack(ctx, job)
		return
	}
	if err := r.store.Update(ctx, m); err != nil {
		r.logger.Error().Err(err).Int64("outbox_id", m.ID).Msg("persist processing state")
		return
	}

	response, handleErr := r.handle(ctx, m)
	if handleErr != nil {
		r.metrics.ConsumerMessages.WithLabelValues(job.Stream, "failed").Inc()
		r.logger.Error().Err(handleErr).Int64("outbox_id", m.ID).Msg("job handler failed")
		if err := m.RecordProcessFailure(handleErr.Error(), r.maxProcessAttempts); err != nil {
			r.logger.Error().Err(err).Int64("outbox_id", m.ID).Msg("record process failure")
		}
	} else {
		r.metrics.ConsumerMessages.WithLabelValues(job.Stream, "success").Inc()
		if err := m.MarkProcessed(response); err != nil {
			r.logger.Error().Err(err).Int64("outbox_id", m.ID).Msg("mark processed")
		}
	}

	if err := r.store.Update(ctx, m); err != nil {
		r.logger.Error().Err(err).Int64("outbox_id", m.ID).Msg("persist job outcome")
		return
	}
	r.ack(ctx, job)
}

func (r *Runner) handle(ctx context.Context, m *outbox.Message) ([]byte, error) {
	handler, err := r.registry.Handler(m.MessageType)
	if err != nil {
		return nil, err
	}
	msg, err := r.registry.Decode(m.MessageType, m.MessageContent)
	if err != nil {
		return nil, err
	}
	return handler(ctx, msg)
}

func (r *Runner) ack(ctx context.Context, job Job) {
	if err := r.source.Ack(ctx, job.Stream, job.StreamID); err != nil {
		r.logger.Error().Err(err).Str("stream_id", job.StreamID).Msg("ack job")
	}
}
