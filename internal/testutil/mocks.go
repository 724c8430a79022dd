package testutil

import (
	"context"
	"sync"

	"github.com/andresilva/courier/internal/domain/idempotency"
	"github.com/andresilva/courier/internal/domain/outbox"
)

// --- Outbox Store Mock ---

// MockOutboxStore is an in-memory outbox.Store. Behavior can be
// overridden per method via the *Func fields.
type MockOutboxStore struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*outbox.Message

	AddFunc               func(ctx context.Context, m *outbox.Message) error
	UpdateFunc            func(ctx context.Context, m *outbox.Message) error
	UpdateBatchFunc       func(ctx context.Context, msgs []*outbox.Message) error
	FinishFunc            func(ctx context.Context, m *outbox.Message) error
	GetFunc               func(ctx context.Context, id int64) (*outbox.Message, error)
	GetStatusFunc         func(ctx context.Context, id int64) (*outbox.MessageStatus, error)
	GetOutboxResponseFunc func(ctx context.Context, id int64) (*outbox.Response, error)
	GetRequestedFunc      func(ctx context.Context, batchSize int) ([]*outbox.Message, error)
}

func NewMockOutboxStore() *MockOutboxStore {
	return &MockOutboxStore{rows: make(map[int64]*outbox.Message)}
}

func (m *MockOutboxStore) Add(ctx context.Context, msg *outbox.Message) error {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg.ID = m.nextID
	cp := *msg
	m.rows[msg.ID] = &cp
	return nil
}

func (m *MockOutboxStore) Update(ctx context.Context, msg *outbox.Message) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, msg)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.rows[msg.ID] = &cp
	return nil
}

func (m *MockOutboxStore) UpdateBatch(ctx context.Context, msgs []*outbox.Message) error {
	if m.UpdateBatchFunc != nil {
		return m.UpdateBatchFunc(ctx, msgs)
	}
	for _, msg := range msgs {
		if err := m.Update(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockOutboxStore) Finish(ctx context.Context, msg *outbox.Message) error {
	if m.FinishFunc != nil {
		return m.FinishFunc(ctx, msg)
	}
	msg.IsDeleted = true
	return m.Update(ctx, msg)
}

func (m *MockOutboxStore) Get(ctx context.Context, id int64) (*outbox.Message, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.IsDeleted {
		return nil, nil
	}
	cp := *row
	return &cp, nil
}

func (m *MockOutboxStore) GetStatus(ctx context.Context, id int64) (*outbox.MessageStatus, error) {
	if m.GetStatusFunc != nil {
		return m.GetStatusFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok || row.IsDeleted {
		return nil, nil
	}
	return &outbox.MessageStatus{State: row.State, JobID: row.JobID}, nil
}

func (m *MockOutboxStore) GetOutboxResponse(ctx context.Context, id int64) (*outbox.Response, error) {
	if m.GetOutboxResponseFunc != nil {
		return m.GetOutboxResponseFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return nil, nil
	}
	return &outbox.Response{
		OutboxID:       row.ID,
		State:          row.State,
		JobID:          row.JobID,
		IdempotencyKey: row.IdempotencyKey,
	}, nil
}

func (m *MockOutboxStore) GetRequested(ctx context.Context, batchSize int) ([]*outbox.Message, error) {
	if m.GetRequestedFunc != nil {
		return m.GetRequestedFunc(ctx, batchSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*outbox.Message
	for _, row := range m.rows {
		if row.IsDeleted {
			continue
		}
		switch row.State {
		case outbox.StateRequested, outbox.StateQueued, outbox.StateRetrying:
			cp := *row
			result = append(result, &cp)
			if len(result) == batchSize {
				return result, nil
			}
		}
	}
	return result, nil
}

// Row returns the stored row (test helper, no context needed).
func (m *MockOutboxStore) Row(id int64) *outbox.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id]
}

// --- Idempotency Store Mock ---

// MockIdempotencyStore is an in-memory idempotency.Store with
// insert-if-absent semantics matching the real backends.
type MockIdempotencyStore struct {
	mu      sync.Mutex
	records map[string]*idempotency.Record

	AddFunc    func(ctx context.Context, key, tenantID string, outboxID int64, messageName string) (bool, error)
	GetFunc    func(ctx context.Context, key, tenantID string) (*idempotency.Record, error)
	RemoveFunc func(ctx context.Context, key, tenantID string) error
}

func NewMockIdempotencyStore() *MockIdempotencyStore {
	return &MockIdempotencyStore{records: make(map[string]*idempotency.Record)}
}

func recordKey(key, tenantID string) string {
	return tenantID + ":" + key
}

func (m *MockIdempotencyStore) Add(ctx context.Context, key, tenantID string, outboxID int64, messageName string) (bool, error) {
	if m.AddFunc != nil {
		return m.AddFunc(ctx, key, tenantID, outboxID, messageName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := recordKey(key, tenantID)
	if _, exists := m.records[k]; exists {
		return false, nil
	}
	m.records[k] = &idempotency.Record{
		IdempotencyKey: key,
		TenantID:       tenantID,
		OutboxID:       outboxID,
	}
	return true, nil
}

func (m *MockIdempotencyStore) Get(ctx context.Context, key, tenantID string) (*idempotency.Record, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, key, tenantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[recordKey(key, tenantID)]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *MockIdempotencyStore) Remove(ctx context.Context, key, tenantID string) error {
	if m.RemoveFunc != nil {
		return m.RemoveFunc(ctx, key, tenantID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, recordKey(key, tenantID))
	return nil
}

var (
	_ outbox.Store      = (*MockOutboxStore)(nil)
	_ idempotency.Store = (*MockIdempotencyStore)(nil)
)
