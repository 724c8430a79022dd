package delivery

import (
	"context"
	"errors"
	"time"

	domainErrors "github.com/andresilva/courier/internal/domain/errors"
	"github.com/andresilva/courier/internal/domain/outbox"
	"github.com/andresilva/courier/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// SweepLockKey guards the sweep across all service instances.
const SweepLockKey = "process_outbox_sweep"

// SweepConfig bounds a sweep tick.
type SweepConfig struct {
	BatchSize          int
	Deadline           time.Duration
	LockTimeout        time.Duration
	MaxPublishAttempts int
	Interval           time.Duration
}

// RecurringSweep is the periodic reconciliation pass that rescues
// messages which never got scheduled (a request crashed between
// persist and schedule) or need a retry. Only one instance sweeps at a
// time; the distributed lock is the sole mechanism preventing two
// ticks from double-scheduling the same batch.
type RecurringSweep struct {
	store     outbox.Store
	scheduler JobScheduler
	lock      DistributedLock
	cfg       SweepConfig
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

// NewRecurringSweep creates a sweep with the given bounds.
func NewRecurringSweep(
	store outbox.Store,
	scheduler JobScheduler,
	lock DistributedLock,
	cfg SweepConfig,
	logger zerolog.Logger,
	metrics *observability.Metrics,
) *RecurringSweep {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 15
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 30 * time.Second
	}
	if cfg.MaxPublishAttempts <= 0 {
		cfg.MaxPublishAttempts = 3
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &RecurringSweep{
		store:     store,
		scheduler: scheduler,
		lock:      lock,
		cfg:       cfg,
		logger:    logger,
		metrics:   metrics,
	}
}

// Start runs sweep ticks on a fixed schedule until ctx is done.
func (s *RecurringSweep) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if err := s.Run(ctx); err != nil {
			s.logger.Error().Err(err).Msg("sweep tick failed")
		}
	}
}

// Run executes a single sweep tick under the distributed lock. When
// the lock is held elsewhere, the tick exits immediately; that is not
// an error.
func (s *RecurringSweep) Run(ctx context.Context) error {
	s.logger.Info().Msg("beginning to process outbox messages")

	acquired, err := s.lock.ExecuteWithLock(ctx, SweepLockKey, s.cfg.LockTimeout, s.processBatch)
	if !acquired {
		s.logger.Info().Msg("could not acquire distributed lock - another instance is already processing outbox messages")
		s.metrics.SweepRuns.WithLabelValues("skipped").Inc()
		return nil
	}
	if err != nil {
		s.metrics.SweepRuns.WithLabelValues("error").Inc()
		return err
	}
	s.metrics.SweepRuns.WithLabelValues("completed").Inc()
	return nil
}

// processBatch does the work of one tick. A hard deadline, independent
// of the lock lease, bounds the fetch and scheduling phases; the final
// persist runs outside the deadline so committed scheduling outcomes
// are never lost to it.
func (s *RecurringSweep) processBatch(ctx context.Context) error {
	start := time.Now()
	defer func() {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.Deadline)
	defer cancel()

	msgs, err := s.store.GetRequested(tickCtx, s.cfg.BatchSize)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			s.logger.Warn().Msg("outbox processing was cancelled due to timeout")
			return nil
		}
		s.logger.Error().Err(err).Msg("error occurred while fetching outbox messages")
		return err
	}
	s.metrics.SweepBatchSize.Observe(float64(len(msgs)))
	if len(msgs) == 0 {
		s.logger.Info().Msg("completed processing outbox messages - nothing to process")
		return nil
	}

	s.logger.Info().Int("count", len(msgs)).Msg("start processing outbox messages")

	var (
		successCount int
		failedCount  int
		failedIDs    []int64
		touched      []*outbox.Message
	)

	for _, m := range msgs {
		jobID, err := s.scheduler.ScheduleOutboxMessage(tickCtx, m)
		if err != nil && tickCtx.Err() != nil {
			// Deadline hit mid-batch: stop scheduling, keep what we have.
			// Rows not reached stay as they were and are picked up next
			// tick.
			s.logger.Warn().Msg("outbox processing was cancelled due to timeout")
			break
		}

		switch {
		case err == nil && jobID != "":
			if mErr := m.MarkQueued(jobID); mErr != nil {
				s.logger.Error().Err(mErr).Int64("outbox_id", m.ID).Msg("mark queued")
				continue
			}
			successCount++
			s.logger.Debug().Int64("outbox_id", m.ID).Str("job_id", jobID).Msg("scheduled outbox message")
		default:
			reason := domainErrors.ErrEmptyJobHandle.Error()
			if err != nil {
				reason = err.Error()
			}
			s.metrics.SchedulerFailures.WithLabelValues("sweep").Inc()
			if mErr := m.RecordPublishFailure(reason, s.cfg.MaxPublishAttempts); mErr != nil {
				s.logger.Error().Err(mErr).Int64("outbox_id", m.ID).Msg("record publish failure")
				continue
			}
			failedCount++
			failedIDs = append(failedIDs, m.ID)
			s.logger.Warn().Int64("outbox_id", m.ID).Str("reason", reason).Msg("failed to schedule outbox message")
		}
		touched = append(touched, m)
	}

	// Batched persist, outside the tick deadline: one row's failure is
	// already isolated above, and committed outcomes survive a timeout.
	if len(touched) > 0 {
		if err := s.store.UpdateBatch(ctx, touched); err != nil {
			s.logger.Error().Err(err).Msg("persist sweep updates")
			return err
		}
	}

	s.metrics.SweepMessages.WithLabelValues("success").Add(float64(successCount))
	s.metrics.SweepMessages.WithLabelValues("failed").Add(float64(failedCount))

	s.logger.Info().
		Int("success", successCount).
		Int("failed", failedCount).
		Int("total", len(msgs)).
		Msg("completed processing outbox messages")
	if len(failedIDs) > 0 {
		s.logger.Warn().Ints64("failed_ids", failedIDs).Msg("sweep scheduling failures")
	}

	return nil
}
