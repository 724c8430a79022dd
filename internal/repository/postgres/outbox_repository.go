package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/andresilva/courier/internal/domain/outbox"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const outboxColumns = `id, message_name, message_type, message_content, message_response,
	idempotency_key, job_id, publish_error, publish_try_count, process_error, process_try_count,
	state, expire_date, is_deleted, created_by, created_at, updated_at`

// OutboxRepository is the pgx-backed outbox.Store. Every mutation
// commits immediately; callers rely on post-write state.
type OutboxRepository struct {
	pool *pgxpool.Pool
	tx   *TxManager
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool, tx: NewTxManager(pool)}
}

func (r *OutboxRepository) db(ctx context.Context) DBTX {
	return ConnFromCtx(ctx, r.pool)
}

func (r *OutboxRepository) Add(ctx context.Context, m *outbox.Message) error {
	err := r.db(ctx).QueryRow(ctx,
		`INSERT INTO outbox_messages
		   (message_name, message_type, message_content, message_response, idempotency_key, job_id,
		    publish_error, publish_try_count, process_error, process_try_count, state,
		    expire_date, is_deleted, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, NULLIF($9, ''), $10, $11, $12, $13, $14, $15, $16)
		 RETURNING id`,
		m.MessageName, m.MessageType, m.MessageContent, nullBytes(m.MessageResponse),
		m.IdempotencyKey, m.JobID, m.PublishError, m.PublishTryCount,
		m.ProcessError, m.ProcessTryCount, string(m.State),
		m.ExpireDate, m.IsDeleted, m.CreatedBy, m.CreatedAt, m.UpdatedAt,
	).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

func (r *OutboxRepository) Update(ctx context.Context, m *outbox.Message) error {
	m.UpdatedAt = time.Now().UTC()
	_, err := r.db(ctx).Exec(ctx,
		`UPDATE outbox_messages SET
		   message_content = $2, message_response = $3, idempotency_key = NULLIF($4, ''),
		   job_id = NULLIF($5, ''), publish_error = NULLIF($6, ''), publish_try_count = $7,
		   process_error = NULLIF($8, ''), process_try_count = $9, state = $10,
		   expire_date = $11, is_deleted = $12, updated_at = $13
		 WHERE id = $1`,
		m.ID, m.MessageContent, nullBytes(m.MessageResponse), m.IdempotencyKey,
		m.JobID, m.PublishError, m.PublishTryCount, m.ProcessError, m.ProcessTryCount,
		string(m.State), m.ExpireDate, m.IsDeleted, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update outbox message: %w", err)
	}
	return nil
}

// UpdateBatch persists the sweep's row updates in a single transaction.
func (r *OutboxRepository) UpdateBatch(ctx context.Context, msgs []*outbox.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	return r.tx.WithTransaction(ctx, func(txCtx context.Context) error {
		for _, m := range msgs {
			if err := r.Update(txCtx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// Finish closes a row terminally: expiry timestamp plus soft delete.
func (r *OutboxRepository) Finish(ctx context.Context, m *outbox.Message) error {
	now := time.Now().UTC()
	m.ExpireDate = &now
	m.IsDeleted = true
	return r.Update(ctx, m)
}

func (r *OutboxRepository) Get(ctx context.Context, id int64) (*outbox.Message, error) {
	row := r.db(ctx).QueryRow(ctx,
		`SELECT `+outboxColumns+` FROM outbox_messages WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get outbox message: %w", err)
	}
	return m, nil
}

func (r *OutboxRepository) GetStatus(ctx context.Context, id int64) (*outbox.MessageStatus, error) {
	var (
		state string
		jobID *string
	)
	err := r.db(ctx).QueryRow(ctx,
		`SELECT state, job_id FROM outbox_messages WHERE id = $1`, id,
	).Scan(&state, &jobID)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get outbox status: %w", err)
	}
	return &outbox.MessageStatus{State: outbox.State(state), JobID: deref(jobID)}, nil
}

func (r *OutboxRepository) GetOutboxResponse(ctx context.Context, id int64) (*outbox.Response, error) {
	var (
		state          string
		jobID          *string
		idempotencyKey *string
	)
	resp := &outbox.Response{}
	err := r.db(ctx).QueryRow(ctx,
		`SELECT id, state, job_id, idempotency_key FROM outbox_messages WHERE id = $1`, id,
	).Scan(&resp.OutboxID, &state, &jobID, &idempotencyKey)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get outbox response: %w", err)
	}
	resp.State = outbox.State(state)
	resp.JobID = deref(jobID)
	resp.IdempotencyKey = deref(idempotencyKey)
	return resp, nil
}

// GetRequested returns messages awaiting (re)delivery for the sweep.
// SKIP LOCKED keeps a stuck row from blocking the whole batch.
func (r *OutboxRepository) GetRequested(ctx context.Context, batchSize int) ([]*outbox.Message, error) {
	if batchSize <= 0 {
		batchSize = 10
	}
	rows, err := r.db(ctx).Query(ctx,
		`SELECT `+outboxColumns+`
		 FROM outbox_messages
		 WHERE state IN ('requested', 'queued', 'retrying') AND NOT is_deleted
		 ORDER BY created_at ASC
		 LIMIT $1
		 FOR UPDATE SKIP LOCKED`, batchSize,
	)
	if err != nil {
		return nil, fmt.Errorf("get requested outbox messages: %w", err)
	}
	defer rows.Close()

	var msgs []*outbox.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func scanMessage(row pgx.Row) (*outbox.Message, error) {
	m := &outbox.Message{}
	var (
		response       []byte
		idempotencyKey *string
		jobID          *string
		publishError   *string
		processError   *string
		state          string
	)
	err := row.Scan(
		&m.ID, &m.MessageName, &m.MessageType, &m.MessageContent, &response,
		&idempotencyKey, &jobID, &publishError, &m.PublishTryCount,
		&processError, &m.ProcessTryCount, &state,
		&m.ExpireDate, &m.IsDeleted, &m.CreatedBy, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	m.MessageResponse = response
	m.IdempotencyKey = deref(idempotencyKey)
	m.JobID = deref(jobID)
	m.PublishError = deref(publishError)
	m.ProcessError = deref(processError)
	m.State = outbox.State(state)
	return m, nil
}

func nullBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
