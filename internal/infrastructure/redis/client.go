package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/andresilva/courier/internal/config"
	"github.com/andresilva/courier/pkg/retry"
	"github.com/redis/go-redis/v9"
)

// NewClient creates a new Redis client with configurable retry logic
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	})

	retryCfg := retry.Config{
		MaxAttempts:  uint(max(cfg.ConnectRetries, 1)),
		InitialDelay: cfg.ConnectRetryDelay,
		MaxDelay:     30 * time.Second,
	}
	if retryCfg.InitialDelay <= 0 {
		retryCfg.InitialDelay = time.Second
	}

	if err := retry.Do(ctx, retryCfg, func() error {
		return client.Ping(ctx).Err()
	}); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return client, nil
}
