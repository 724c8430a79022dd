// Package retry wraps avast/retry-go with the bounded exponential
// backoff the infrastructure connect paths use.
package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

// Config bounds a retried operation. The delay doubles per attempt up
// to MaxDelay.
type Config struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultConfig suits waiting out a slow-starting backend: five
// attempts spread over roughly half a minute.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// Do runs fn until it succeeds, attempts are exhausted, or ctx is
// done. Only the last error is returned.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	return retry.Do(
		fn,
		retry.Context(ctx),
		retry.Attempts(cfg.MaxAttempts),
		retry.Delay(cfg.InitialDelay),
		retry.MaxDelay(cfg.MaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}
