package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Enqueue metrics
	EnqueueTotal    *prometheus.CounterVec
	EnqueueDuration *prometheus.HistogramVec
	DedupHits       prometheus.Counter
	DuplicateRaces  prometheus.Counter

	// Scheduler metrics
	SchedulerFailures *prometheus.CounterVec

	// Sweep metrics
	SweepRuns      *prometheus.CounterVec
	SweepMessages  *prometheus.CounterVec
	SweepDuration  prometheus.Histogram
	SweepBatchSize prometheus.Histogram

	// Lock metrics
	LockAcquisitions *prometheus.CounterVec

	// Consumer metrics
	ConsumerMessages *prometheus.CounterVec
	ConsumerDuration *prometheus.HistogramVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		EnqueueTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enqueue_total",
				Help:      "Total number of enqueue calls by mode and result",
			},
			[]string{"mode", "result"},
		),
		EnqueueDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "enqueue_duration_seconds",
				Help:      "Enqueue call duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"mode"},
		),
		DedupHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dedup_hits_total",
				Help:      "Total number of enqueue calls answered from the idempotency registry",
			},
		),
		DuplicateRaces: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicate_key_races_total",
				Help:      "Total number of idempotency-key races detected after persistence",
			},
		),
		SchedulerFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_failures_total",
				Help:      "Total number of failed scheduling attempts by origin",
			},
			[]string{"origin"},
		),
		SweepRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_runs_total",
				Help:      "Total number of sweep ticks by outcome",
			},
			[]string{"outcome"},
		),
		SweepMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sweep_messages_total",
				Help:      "Total number of messages handled by the sweep by result",
			},
			[]string{"result"},
		),
		SweepDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_duration_seconds",
				Help:      "Sweep tick duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		SweepBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sweep_batch_size",
				Help:      "Number of messages fetched per sweep tick",
				Buckets:   []float64{0, 1, 5, 10, 15, 25, 50},
			},
		),
		LockAcquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lock_acquisitions_total",
				Help:      "Total number of distributed lock acquisition attempts by result",
			},
			[]string{"key", "result"},
		),
		ConsumerMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "consumer_messages_total",
				Help:      "Total number of jobs consumed by result",
			},
			[]string{"stream", "result"},
		),
		ConsumerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "consumer_processing_duration_seconds",
				Help:      "Job processing duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stream"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
	}

	// Register all collectors
	factory.MustRegister(
		m.EnqueueTotal,
		m.EnqueueDuration,
		m.DedupHits,
		m.DuplicateRaces,
		m.SchedulerFailures,
		m.SweepRuns,
		m.SweepMessages,
		m.SweepDuration,
		m.SweepBatchSize,
		m.LockAcquisitions,
		m.ConsumerMessages,
		m.ConsumerDuration,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
	)

	return m
}
