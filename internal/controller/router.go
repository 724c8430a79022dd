package controller

import (
	"time"

	"github.com/andresilva/courier/internal/application/delivery"
	"github.com/andresilva/courier/internal/config"
	"github.com/andresilva/courier/internal/domain/outbox"
	"github.com/andresilva/courier/internal/infrastructure/observability"
	customMW "github.com/andresilva/courier/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type RouterDeps struct {
	Pool        *pgxpool.Pool
	RedisClient *redis.Client
	Processor   delivery.MessageProcessor
	Registry    *delivery.Registry
	Store       outbox.Store
	Metrics     *observability.Metrics
	ServerCfg   config.ServerConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.ServerCfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", customMW.TenantHeader},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.ServerCfg.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	outboxH := NewOutboxController(deps.Processor, deps.Registry, deps.Store)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(customMW.Tenant(deps.ServerCfg.JWTSecret))
		r.Use(customMW.RateLimit(deps.ServerCfg.RateLimitPerMinute))

		r.Route("/outbox/messages", func(r chi.Router) {
			r.With(customMW.IdempotencyKey()).Post("/", outboxH.Enqueue)
			r.Get("/{id}", outboxH.GetMessage)
			r.Get("/{id}/status", outboxH.GetStatus)
			r.Put("/{id}/status", outboxH.UpdateStatus)
		})
	})

	return r
}
