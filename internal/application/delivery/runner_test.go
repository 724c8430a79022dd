package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/andresilva/courier/internal/domain/outbox"
	"github.com/andresilva/courier/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu    sync.Mutex
	acked []string
}

func (f *fakeSource) Read(ctx context.Context) ([]Job, error) {
	return nil, nil
}

func (f *fakeSource) Ack(ctx context.Context, stream, streamID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, streamID)
	return nil
}

func (f *fakeSource) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

func newTestRunner(store outbox.Store, handle HandleFunc, source JobSource) *Runner {
	return NewRunner(store, newTestRegistry(handle), source, 3, testLogger(), newTestMetrics())
}

func queuedMessage(t *testing.T, store *testutil.MockOutboxStore) *outbox.Message {
	t.Helper()
	m := outbox.NewMessage("SendInvoice", "billing.SendInvoice", []byte(`{"invoice_id":"inv-1"}`), "", "system")
	require.NoError(t, store.Add(context.Background(), m))
	require.NoError(t, m.MarkQueued("job-1"))
	require.NoError(t, store.Update(context.Background(), m))
	return m
}

func jobFor(m *outbox.Message) Job {
	return Job{
		StreamID: "1-0",
		Stream:   "courier:commands",
		OutboxID: m.ID,
		TypeTag:  m.MessageType,
		Payload:  m.MessageContent,
	}
}

func TestRunner_ProcessSuccess(t *testing.T) {
	store := testutil.NewMockOutboxStore()
	source := &fakeSource{}
	r := newTestRunner(store, func(ctx context.Context, msg Message) ([]byte, error) {
		return []byte(`{"sent":true}`), nil
	}, source)

	m := queuedMessage(t, store)
	r.process(context.Background(), jobFor(m))

	row := store.Row(m.ID)
	assert.Equal(t, outbox.StateProcessed, row.State)
	assert.JSONEq(t, `{"sent":true}`, string(row.MessageResponse))
	assert.Equal(t, []string{"1-0"}, source.ackedIDs(), "job is acked after the outcome persists")
}

func TestRunner_ProcessFailureRequeues(t *testing.T) {
	store := testutil.NewMockOutboxStore()
	source := &fakeSource{}
	r := newTestRunner(store, func(ctx context.Context, msg Message) ([]byte, error) {
		return nil, errors.New("smtp unavailable")
	}, source)

	m := queuedMessage(t, store)
	r.process(context.Background(), jobFor(m))

	row := store.Row(m.ID)
	assert.Equal(t, outbox.StateQueued, row.State, "a failed attempt goes back to queued for redelivery")
	assert.Equal(t, 1, row.ProcessTryCount)
	assert.Equal(t, "smtp unavailable", row.ProcessError)
}

func TestRunner_ProcessFailureExhaustsToFailed(t *testing.T) {
	store := testutil.NewMockOutboxStore()
	source := &fakeSource{}
	r := newTestRunner(store, func(ctx context.Context, msg Message) ([]byte, error) {
		return nil, errors.New("smtp unavailable")
	}, source)

	m := queuedMessage(t, store)
	for i := 0; i < 3; i++ {
		r.process(context.Background(), jobFor(m))
	}

	row := store.Row(m.ID)
	assert.Equal(t, outbox.StateFailed, row.State)
	assert.Equal(t, 3, row.ProcessTryCount)
}

func TestRunner_MissingRowIsAcked(t *testing.T) {
	store := testutil.NewMockOutboxStore()
	source := &fakeSource{}
	r := newTestRunner(store, nil, source)

	r.process(context.Background(), Job{StreamID: "1-0", Stream: "courier:commands", OutboxID: 999})

	assert.Equal(t, []string{"1-0"}, source.ackedIDs(), "jobs for missing rows are dropped, not redelivered")
}

type fakeClaimer struct {
	mu   sync.Mutex
	jobs []Job
}

func (f *fakeClaimer) ReclaimIdle(ctx context.Context, minIdle time.Duration) ([]Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	jobs := f.jobs
	f.jobs = nil
	return jobs, nil
}

func TestRunner_ReclaimLoopProcessesIdleJobs(t *testing.T) {
	store := testutil.NewMockOutboxStore()
	source := &fakeSource{}
	r := newTestRunner(store, func(ctx context.Context, msg Message) ([]byte, error) {
		return nil, nil
	}, source)

	m := queuedMessage(t, store)
	claimer := &fakeClaimer{jobs: []Job{jobFor(m)}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.ReclaimLoop(ctx, claimer, time.Millisecond, time.Minute)
	}()

	require.Eventually(t, func() bool {
		return len(source.ackedIDs()) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	row := store.Row(m.ID)
	assert.Equal(t, outbox.StateProcessed, row.State)
}

func TestRunner_TerminalRowIsAcked(t *testing.T) {
	store := testutil.NewMockOutboxStore()
	source := &fakeSource{}
	handled := false
	r := newTestRunner(store, func(ctx context.Context, msg Message) ([]byte, error) {
		handled = true
		return nil, nil
	}, source)

	m := queuedMessage(t, store)
	require.NoError(t, m.MarkProcessed(nil))
	require.NoError(t, store.Update(context.Background(), m))

	r.process(context.Background(), jobFor(m))

	assert.False(t, handled, "redelivered jobs for terminal rows must not re-execute")
	assert.Equal(t, []string{"1-0"}, source.ackedIDs())
}
