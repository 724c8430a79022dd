package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/andresilva/courier/internal/domain/idempotency"
	"github.com/redis/go-redis/v9"
)

// IdempotencyStore is the cache-backed idempotency.Store. SET NX gives
// a true atomic insert-if-absent in a single round trip; concurrent
// registrations resolve to exactly one winner.
type IdempotencyStore struct {
	client   *redis.Client
	hasher   *idempotency.KeyHasher
	policies *idempotency.PolicyRegistry
}

func NewIdempotencyStore(client *redis.Client, hasher *idempotency.KeyHasher, policies *idempotency.PolicyRegistry) *IdempotencyStore {
	return &IdempotencyStore{client: client, hasher: hasher, policies: policies}
}

func (s *IdempotencyStore) cacheKey(key, tenantID string) string {
	return fmt.Sprintf("idempotency:%s:%s", tenantID, s.hasher.ShortHash(tenantID, key))
}

func (s *IdempotencyStore) Add(ctx context.Context, key, tenantID string, outboxID int64, messageName string) (bool, error) {
	record := idempotency.Record{
		IdempotencyKey: s.hasher.ShortHash(tenantID, key),
		TenantID:       tenantID,
		OutboxID:       outboxID,
		CreatedAt:      time.Now().UTC(),
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return false, fmt.Errorf("marshal idempotency record: %w", err)
	}

	var ttl time.Duration // zero means no expiry
	if d, expires := s.policies.TTLFor(messageName); expires {
		ttl = d
	}

	ok, err := s.client.SetNX(ctx, s.cacheKey(key, tenantID), payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("add idempotency key: %w", err)
	}
	return ok, nil
}

func (s *IdempotencyStore) Get(ctx context.Context, key, tenantID string) (*idempotency.Record, error) {
	payload, err := s.client.Get(ctx, s.cacheKey(key, tenantID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // not found
		}
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}

	record := &idempotency.Record{}
	if err := json.Unmarshal(payload, record); err != nil {
		return nil, fmt.Errorf("unmarshal idempotency record: %w", err)
	}
	return record, nil
}

func (s *IdempotencyStore) Remove(ctx context.Context, key, tenantID string) error {
	if err := s.client.Del(ctx, s.cacheKey(key, tenantID)).Err(); err != nil {
		return fmt.Errorf("remove idempotency key: %w", err)
	}
	return nil
}

var _ idempotency.Store = (*IdempotencyStore)(nil)
