package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andresilva/courier/internal/application/delivery"
	"github.com/andresilva/courier/internal/application/messages"
	"github.com/andresilva/courier/internal/bootstrap"
	"github.com/andresilva/courier/internal/domain/idempotency"
	infraRedis "github.com/andresilva/courier/internal/infrastructure/redis"
	"github.com/andresilva/courier/internal/repository/postgres"
	"golang.org/x/sync/errgroup"
)

const idempotencyCleanupInterval = time.Hour

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "courier-worker", "courier_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	deliveryCfg := app.Config.Delivery

	// --- Message registry ---
	registry := delivery.NewRegistry()
	if err := messages.RegisterAll(registry, app.Logger); err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to register message types")
	}

	// --- Stores, scheduler, lock ---
	hasher := idempotency.NewKeyHasher(deliveryCfg.IdempotencyHashSalt)
	policies := idempotency.NewPolicyRegistry(deliveryCfg.DefaultIdempotencyDays)
	outboxStore := postgres.NewOutboxRepository(app.Pool)
	idemStore := postgres.NewIdempotencyRepository(app.Pool, hasher, policies)
	scheduler := infraRedis.NewStreamScheduler(
		app.Redis,
		registry,
		deliveryCfg.CircuitBreakerThreshold,
		deliveryCfg.CircuitBreakerTimeout,
		app.Logger,
		app.Metrics,
	)
	lock := infraRedis.NewLocker(app.Redis, deliveryCfg.LockLease, app.Logger, app.Metrics)

	// --- Recurring sweep ---
	sweep := delivery.NewRecurringSweep(outboxStore, scheduler, lock, delivery.SweepConfig{
		BatchSize:          deliveryCfg.SweepBatchSize,
		Deadline:           deliveryCfg.SweepDeadline,
		LockTimeout:        deliveryCfg.LockWaitTimeout,
		MaxPublishAttempts: deliveryCfg.MaxPublishAttempts,
		Interval:           deliveryCfg.SweepInterval,
	}, app.Logger, app.Metrics)

	// --- Job consumer ---
	source := infraRedis.NewStreamSource(
		app.Redis,
		deliveryCfg.ConsumerGroup,
		app.Config.InstanceID,
		deliveryCfg.ConsumerBatchSize,
		deliveryCfg.ConsumerBlockDuration,
	)
	if err := source.CreateGroups(ctx); err != nil {
		app.Logger.Fatal().Err(err).Msg("Failed to create consumer groups")
	}
	runner := delivery.NewRunner(outboxStore, registry, source, deliveryCfg.MaxPublishAttempts, app.Logger, app.Metrics)

	app.Logger.Info().
		Str("group", deliveryCfg.ConsumerGroup).
		Str("consumer", app.Config.InstanceID).
		Msg("Worker started, listening for messages...")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Recurring sweep (lock-guarded across instances).
	g.Go(func() error {
		return sweep.Start(gCtx)
	})

	// 2. Job consumer (reads from Redis Streams).
	g.Go(func() error {
		return runner.Run(gCtx)
	})

	// Recover jobs stuck pending on crashed consumers.
	g.Go(func() error {
		return runner.ReclaimLoop(gCtx, source, deliveryCfg.ReclaimInterval, deliveryCfg.ReclaimMinIdle)
	})

	// 3. Expired idempotency key cleanup. The redis backend expires
	// keys natively, so only the relational store needs a reaper.
	if deliveryCfg.IdempotencyBackend == "postgres" {
		g.Go(func() error {
			return runIdempotencyCleanup(gCtx, app, idemStore)
		})
	}

	// 4. Wait for shutdown signal.
	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down worker...")
			cancel()
			return nil
		}
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}

func runIdempotencyCleanup(ctx context.Context, app *bootstrap.App, idemStore *postgres.IdempotencyRepository) error {
	ticker := time.NewTicker(idempotencyCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		removed, err := idemStore.Cleanup(ctx)
		if err != nil {
			app.Logger.Error().Err(err).Msg("Failed to clean up expired idempotency keys")
			continue
		}
		if removed > 0 {
			app.Logger.Info().Int64("removed", removed).Msg("Cleaned up expired idempotency keys")
		}
	}
}
