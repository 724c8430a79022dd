//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/andresilva/courier/internal/domain/idempotency"
	"github.com/andresilva/courier/internal/domain/outbox"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPool starts a disposable PostgreSQL container, applies the
// migrations, and returns a connected pool. The container is terminated
// via t.Cleanup.
func setupPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("courier_test"),
		tcpostgres.WithUsername("test"),
		tcpostgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, container.Terminate(context.Background()))
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	m, err := migrate.New("file://../../../migrations", dsn)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	m.Close()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return pool
}

func newIdempotencyRepo(pool *pgxpool.Pool) *IdempotencyRepository {
	hasher := idempotency.NewKeyHasher("test-salt")
	policies := idempotency.NewPolicyRegistry(30)
	return NewIdempotencyRepository(pool, hasher, policies)
}

func TestIntegration_OutboxRepository_AddAndGet(t *testing.T) {
	pool := setupPool(t)
	repo := NewOutboxRepository(pool)
	ctx := context.Background()

	msg := outbox.NewMessage("SendEmail", "courier.SendEmail", []byte(`{"to":"a@b.c"}`), "key-1", "tester")
	require.NoError(t, repo.Add(ctx, msg))
	require.NotZero(t, msg.ID)

	got, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "SendEmail", got.MessageName)
	assert.Equal(t, "courier.SendEmail", got.MessageType)
	assert.Equal(t, outbox.StateRequested, got.State)
	assert.Equal(t, "key-1", got.IdempotencyKey)
	assert.Equal(t, "tester", got.CreatedBy)
	assert.False(t, got.IsDeleted)
}

func TestIntegration_OutboxRepository_GetMissing(t *testing.T) {
	pool := setupPool(t)
	repo := NewOutboxRepository(pool)

	got, err := repo.Get(context.Background(), 99999)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestIntegration_OutboxRepository_UpdateLifecycle(t *testing.T) {
	pool := setupPool(t)
	repo := NewOutboxRepository(pool)
	ctx := context.Background()

	msg := outbox.NewMessage("SendEmail", "courier.SendEmail", []byte(`{}`), "", "tester")
	require.NoError(t, repo.Add(ctx, msg))

	require.NoError(t, msg.MarkQueued("1700000000000-0"))
	require.NoError(t, repo.Update(ctx, msg))

	status, err := repo.GetStatus(ctx, msg.ID)
	require.NoError(t, err)
	require.NotNil(t, status)
	assert.Equal(t, outbox.StateQueued, status.State)
	assert.Equal(t, "1700000000000-0", status.JobID)

	require.NoError(t, msg.MarkProcessing())
	require.NoError(t, msg.MarkProcessed([]byte(`{"ok":true}`)))
	require.NoError(t, repo.Finish(ctx, msg))

	got, err := repo.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, outbox.StateProcessed, got.State)
	assert.True(t, got.IsDeleted)
	assert.NotNil(t, got.ExpireDate)
	assert.JSONEq(t, `{"ok":true}`, string(got.MessageResponse))
}

func TestIntegration_OutboxRepository_GetRequestedSkipsClosedRows(t *testing.T) {
	pool := setupPool(t)
	repo := NewOutboxRepository(pool)
	ctx := context.Background()

	pending := outbox.NewMessage("SendEmail", "courier.SendEmail", []byte(`{}`), "", "tester")
	require.NoError(t, repo.Add(ctx, pending))

	done := outbox.NewMessage("SendEmail", "courier.SendEmail", []byte(`{}`), "", "tester")
	require.NoError(t, repo.Add(ctx, done))
	require.NoError(t, done.MarkQueued("j-1"))
	require.NoError(t, done.MarkProcessing())
	require.NoError(t, done.MarkProcessed(nil))
	require.NoError(t, repo.Finish(ctx, done))

	msgs, err := repo.GetRequested(ctx, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, pending.ID, msgs[0].ID)
}

func TestIntegration_OutboxRepository_UpdateBatch(t *testing.T) {
	pool := setupPool(t)
	repo := NewOutboxRepository(pool)
	ctx := context.Background()

	var msgs []*outbox.Message
	for i := 0; i < 3; i++ {
		m := outbox.NewMessage("SendEmail", "courier.SendEmail", []byte(`{}`), "", "tester")
		require.NoError(t, repo.Add(ctx, m))
		require.NoError(t, m.MarkQueued("batch-job"))
		msgs = append(msgs, m)
	}
	require.NoError(t, repo.UpdateBatch(ctx, msgs))

	for _, m := range msgs {
		status, err := repo.GetStatus(ctx, m.ID)
		require.NoError(t, err)
		assert.Equal(t, outbox.StateQueued, status.State)
	}
}

func TestIntegration_IdempotencyRepository_AddIsAtOnce(t *testing.T) {
	pool := setupPool(t)
	repo := newIdempotencyRepo(pool)
	ctx := context.Background()

	added, err := repo.Add(ctx, "order-42", "tenant-a", 1, "SendEmail")
	require.NoError(t, err)
	assert.True(t, added)

	// Second registration of the same key loses.
	added, err = repo.Add(ctx, "order-42", "tenant-a", 2, "SendEmail")
	require.NoError(t, err)
	assert.False(t, added)

	rec, err := repo.Get(ctx, "order-42", "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(1), rec.OutboxID)

	// Same key under another tenant is independent.
	added, err = repo.Add(ctx, "order-42", "tenant-b", 3, "SendEmail")
	require.NoError(t, err)
	assert.True(t, added)
}

func TestIntegration_IdempotencyRepository_ExpiredKeyIsReclaimed(t *testing.T) {
	pool := setupPool(t)
	repo := newIdempotencyRepo(pool)
	hasher := idempotency.NewKeyHasher("test-salt")
	ctx := context.Background()

	hashed := hasher.ShortHash("tenant-a", "order-7")
	_, err := pool.Exec(ctx,
		`INSERT INTO idempotency_keys (tenant_id, idempotency_key, outbox_id, expires_at)
		 VALUES ('tenant-a', $1, 5, NOW() - INTERVAL '1 minute')`, hashed)
	require.NoError(t, err)

	// The stale registration must not block a fresh one, or the replay
	// would be rejected as a duplicate until the reaper runs.
	added, err := repo.Add(ctx, "order-7", "tenant-a", 6, "SendEmail")
	require.NoError(t, err)
	assert.True(t, added, "an expired registration must lose to a fresh one")

	rec, err := repo.Get(ctx, "order-7", "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(6), rec.OutboxID)
}

func TestIntegration_IdempotencyRepository_RemoveAndCleanup(t *testing.T) {
	pool := setupPool(t)
	repo := newIdempotencyRepo(pool)
	ctx := context.Background()

	added, err := repo.Add(ctx, "order-1", "tenant-a", 1, "SendEmail")
	require.NoError(t, err)
	require.True(t, added)

	require.NoError(t, repo.Remove(ctx, "order-1", "tenant-a"))

	rec, err := repo.Get(ctx, "order-1", "tenant-a")
	require.NoError(t, err)
	assert.Nil(t, rec)

	// An already-expired record is invisible to Get and reaped by Cleanup.
	_, err = pool.Exec(ctx,
		`INSERT INTO idempotency_keys (tenant_id, idempotency_key, outbox_id, expires_at)
		 VALUES ('tenant-a', 'stale-hash', 9, NOW() - INTERVAL '1 hour')`)
	require.NoError(t, err)

	removed, err := repo.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
}
