package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresilva/courier/internal/application/delivery"
	"github.com/andresilva/courier/internal/application/messages"
	"github.com/andresilva/courier/internal/bootstrap"
	"github.com/andresilva/courier/internal/controller"
	"github.com/andresilva/courier/internal/domain/idempotency"
	infraRedis "github.com/andresilva/courier/internal/infrastructure/redis"
	"github.com/andresilva/courier/internal/repository/postgres"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.New(ctx, "courier-api", "courier")
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

	// --- Idempotency ---
	hasher := idempotency.NewKeyHasher(deliveryCfg.IdempotencyHashSalt)
	policies := idempotency.NewPolicyRegistry(deliveryCfg.DefaultIdempotencyDays)
	policies.Register(messages.DispatchWebhook{}.MessageName(), idempotency.Policy{TTLDays: 7})

	// --- Stores and scheduler ---
	outboxStore := postgres.NewOutboxRepository(app.Pool)
	var idemStore idempotency.Store
	switch deliveryCfg.IdempotencyBackend {
	case "redis":
		idemStore = infraRedis.NewIdempotencyStore(app.Redis, hasher, policies)
	default:
		idemStore = postgres.NewIdempotencyRepository(app.Pool, hasher, policies)
	}
	scheduler := infraRedis.NewStreamScheduler(
		app.Redis,
		registry,
		deliveryCfg.CircuitBreakerThreshold,
		deliveryCfg.CircuitBreakerTimeout,
		app.Logger,
		app.Metrics,
	)

	processor := delivery.NewTracedProcessor(delivery.NewProcessor(
		outboxStore,
		idemStore,
		scheduler,
		registry,
		deliveryCfg.MaxPublishAttempts,
		app.Logger,
		app.Metrics,
	))

	router := controller.NewRouter(controller.RouterDeps{
		Pool:        app.Pool,
		RedisClient: app.Redis,
		Processor:   processor,
		Registry:    registry,
		Store:       outboxStore,
		Metrics:     app.Metrics,
		ServerCfg:   app.Config.Server,
	})

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		case <-quit:
			app.Logger.Info().Msg("Shutting down server...")
		}

		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
		defer cancelShutdown()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error().Err(err).Msg("Server forced to shutdown")
		}
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		app.Logger.Error().Err(err).Msg("Server error")
	}
	app.Logger.Info().Msg("Server exited")
}
