package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/andresilva/courier/internal/domain/outbox"
	"github.com/andresilva/courier/internal/infrastructure/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// sendInvoice is the message type used throughout these tests.
type sendInvoice struct {
	InvoiceID string `json:"invoice_id"`
	Key       string `json:"-"`
}

func (sendInvoice) MessageName() string { return "SendInvoice" }
func (sendInvoice) MessageKind() Kind   { return KindCommand }

func (m sendInvoice) IdempotencyKey() string { return m.Key }

// invoicePaid is a plain event without an idempotency key.
type invoicePaid struct {
	InvoiceID string `json:"invoice_id"`
}

func (invoicePaid) MessageName() string { return "InvoicePaid" }
func (invoicePaid) MessageKind() Kind   { return KindEvent }

func newTestRegistry(handle HandleFunc) *Registry {
	r := NewRegistry()
	if err := RegisterJSON[sendInvoice](r, "billing.SendInvoice", KindCommand, handle); err != nil {
		panic(err)
	}
	if err := RegisterJSON[invoicePaid](r, "billing.InvoicePaid", KindEvent, handle); err != nil {
		panic(err)
	}
	return r
}

func newTestMetrics() *observability.Metrics {
	return observability.NewMetrics("courier_test", prometheus.NewRegistry())
}

// fakeScheduler records scheduling attempts and can be programmed to
// fail a fixed number of times before succeeding.
type fakeScheduler struct {
	mu        sync.Mutex
	calls     int
	failFirst int
	failErr   error
	emptyID   bool

	scheduledOutboxIDs []int64
}

func (f *fakeScheduler) ScheduleOnline(ctx context.Context, msg Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		if f.failErr != nil {
			return "", f.failErr
		}
		return "", nil
	}
	if f.emptyID {
		return "", nil
	}
	if id, ok := OutboxIDFromContext(ctx); ok {
		f.scheduledOutboxIDs = append(f.scheduledOutboxIDs, id)
	}
	return fmt.Sprintf("job-%d", f.calls), nil
}

func (f *fakeScheduler) ScheduleOutboxMessage(ctx context.Context, m *outbox.Message) (string, error) {
	return f.ScheduleOnline(WithOutboxID(ctx, m.ID), sendInvoice{})
}

func (f *fakeScheduler) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeLock is an in-test DistributedLock whose availability is set by
// the test.
type fakeLock struct {
	mu       sync.Mutex
	held     bool
	acquires int
	skipped  int
}

func (f *fakeLock) TryAcquire(ctx context.Context, key string, timeout time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.held {
		f.skipped++
		return false, nil
	}
	f.held = true
	f.acquires++
	return true, nil
}

func (f *fakeLock) Release(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.held = false
	return nil
}

func (f *fakeLock) ExecuteWithLock(ctx context.Context, key string, timeout time.Duration, fn func(ctx context.Context) error) (bool, error) {
	acquired, err := f.TryAcquire(ctx, key, timeout)
	if err != nil || !acquired {
		return false, err
	}
	defer f.Release(ctx, key) //nolint:errcheck
	return true, fn(ctx)
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}
