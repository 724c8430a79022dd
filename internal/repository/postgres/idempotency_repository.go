package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andresilva/courier/internal/domain/idempotency"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IdempotencyRepository is the relational idempotency.Store. The unique
// index on (tenant_id, idempotency_key) resolves concurrent Adds
// deterministically to exactly one winner.
type IdempotencyRepository struct {
	pool     *pgxpool.Pool
	hasher   *idempotency.KeyHasher
	policies *idempotency.PolicyRegistry
}

func NewIdempotencyRepository(pool *pgxpool.Pool, hasher *idempotency.KeyHasher, policies *idempotency.PolicyRegistry) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool, hasher: hasher, policies: policies}
}

func (r *IdempotencyRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

// Add registers (key, tenant) -> outboxID if absent. The conflict
// clause makes the insert atomic: the losing writer sees zero rows
// affected, never an error. An expired row does not count as a holder;
// it is overwritten in the same statement so a key replayed after its
// TTL lapses wins without waiting for the cleanup reaper.
func (r *IdempotencyRepository) Add(ctx context.Context, key, tenantID string, outboxID int64, messageName string) (bool, error) {
	hashed := r.hasher.ShortHash(tenantID, key)

	var expiresAt *time.Time
	if ttl, expires := r.policies.TTLFor(messageName); expires {
		t := time.Now().UTC().Add(ttl)
		expiresAt = &t
	}

	tag, err := r.db(ctx).Exec(ctx,
		`INSERT INTO idempotency_keys (tenant_id, idempotency_key, outbox_id, created_at, expires_at)
		 VALUES ($1, $2, $3, NOW(), $4)
		 ON CONFLICT (tenant_id, idempotency_key) DO UPDATE
		   SET outbox_id = EXCLUDED.outbox_id, created_at = NOW(), expires_at = EXCLUDED.expires_at
		   WHERE idempotency_keys.expires_at IS NOT NULL AND idempotency_keys.expires_at <= NOW()`,
		tenantID, hashed, outboxID, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("add idempotency key: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *IdempotencyRepository) Get(ctx context.Context, key, tenantID string) (*idempotency.Record, error) {
	hashed := r.hasher.ShortHash(tenantID, key)

	rec := &idempotency.Record{}
	err := r.db(ctx).QueryRow(ctx,
		`SELECT tenant_id, idempotency_key, outbox_id, created_at
		 FROM idempotency_keys
		 WHERE tenant_id = $1 AND idempotency_key = $2
		   AND (expires_at IS NULL OR expires_at > NOW())`,
		tenantID, hashed,
	).Scan(&rec.TenantID, &rec.IdempotencyKey, &rec.OutboxID, &rec.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil // not found
		}
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return rec, nil
}

func (r *IdempotencyRepository) Remove(ctx context.Context, key, tenantID string) error {
	hashed := r.hasher.ShortHash(tenantID, key)
	_, err := r.db(ctx).Exec(ctx,
		`DELETE FROM idempotency_keys WHERE tenant_id = $1 AND idempotency_key = $2`,
		tenantID, hashed,
	)
	if err != nil {
		return fmt.Errorf("remove idempotency key: %w", err)
	}
	return nil
}

// Cleanup deletes expired records. Run periodically by the worker.
func (r *IdempotencyRepository) Cleanup(ctx context.Context) (int64, error) {
	tag, err := r.db(ctx).Exec(ctx, `DELETE FROM idempotency_keys WHERE expires_at < NOW()`)
	if err != nil {
		return 0, fmt.Errorf("cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ idempotency.Store = (*IdempotencyRepository)(nil)
