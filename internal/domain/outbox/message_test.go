package outbox

import (
	"strings"
	"testing"

	domainErrors "github.com/andresilva/courier/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessage(t *testing.T) {
	m := NewMessage("SendInvoice", "courier.commands.SendInvoice", []byte(`{"invoice_id":"inv_42"}`), "order-42", "api")

	require.NotNil(t, m)
	assert.Equal(t, "SendInvoice", m.MessageName)
	assert.Equal(t, "courier.commands.SendInvoice", m.MessageType)
	assert.Equal(t, StateRequested, m.State)
	assert.Equal(t, "order-42", m.IdempotencyKey)
	assert.Equal(t, 0, m.PublishTryCount)
	assert.Equal(t, 0, m.ProcessTryCount)
	assert.Empty(t, m.JobID)
	assert.False(t, m.CreatedAt.IsZero())
	assert.False(t, m.IsDeleted)
}

func TestMarkQueued(t *testing.T) {
	m := NewMessage("SendInvoice", "courier.commands.SendInvoice", nil, "", "api")

	err := m.MarkQueued("job-123")
	require.NoError(t, err)
	assert.Equal(t, StateQueued, m.State)
	assert.Equal(t, "job-123", m.JobID)
}

func TestRecordPublishFailure_RetriesThenFails(t *testing.T) {
	m := NewMessage("SendInvoice", "courier.commands.SendInvoice", nil, "", "api")
	const maxAttempts = 3

	require.NoError(t, m.RecordPublishFailure("broker down", maxAttempts))
	assert.Equal(t, StateRetrying, m.State)
	assert.Equal(t, 1, m.PublishTryCount)

	require.NoError(t, m.RecordPublishFailure("broker down", maxAttempts))
	assert.Equal(t, StateRetrying, m.State)
	assert.Equal(t, 2, m.PublishTryCount)

	require.NoError(t, m.RecordPublishFailure("broker down", maxAttempts))
	assert.Equal(t, StateFailed, m.State)
	assert.Equal(t, 3, m.PublishTryCount)
	assert.Equal(t, "broker down", m.PublishError)

	// Failed is terminal: a fourth attempt must not resurrect the row.
	err := m.RecordPublishFailure("broker down", maxAttempts)
	assert.ErrorIs(t, err, domainErrors.ErrMessageAlreadyTerminal)
	assert.Equal(t, StateFailed, m.State)
	assert.Equal(t, 3, m.PublishTryCount)
}

func TestFailureReasons_TruncatedToColumnWidth(t *testing.T) {
	long := strings.Repeat("x", 600)

	m := NewMessage("SendInvoice", "courier.commands.SendInvoice", nil, "", "api")
	require.NoError(t, m.RecordPublishFailure(long, 3))
	assert.Len(t, m.PublishError, 500)

	m = NewMessage("SendInvoice", "courier.commands.SendInvoice", nil, "", "api")
	require.NoError(t, m.MarkQueued("job-1"))
	require.NoError(t, m.MarkProcessing())
	require.NoError(t, m.RecordProcessFailure(long, 3))
	assert.Len(t, m.ProcessError, 500)

	m = NewMessage("SendInvoice", "courier.commands.SendInvoice", nil, "order-1", "api")
	require.NoError(t, m.MarkDuplicate(long))
	assert.Len(t, m.ProcessError, 500)
}

func TestTerminalStates_AreMonotonic(t *testing.T) {
	terminal := []State{StateProcessed, StateFailed, StateExpired, StateCanceled, StateDuplicateIdempotencyKey}

	for _, s := range terminal {
		t.Run(string(s), func(t *testing.T) {
			m := NewMessage("SendInvoice", "courier.commands.SendInvoice", nil, "", "api")
			m.State = s

			assert.True(t, s.Terminal())
			assert.ErrorIs(t, m.MarkQueued("job-1"), domainErrors.ErrMessageAlreadyTerminal)
			assert.ErrorIs(t, m.MarkProcessing(), domainErrors.ErrMessageAlreadyTerminal)
			assert.ErrorIs(t, m.SetState(StateQueued), domainErrors.ErrMessageAlreadyTerminal)
			assert.Equal(t, s, m.State)
		})
	}
}

func TestNonTerminalStates(t *testing.T) {
	for _, s := range []State{StateRequested, StateQueued, StateProcessing, StateRetrying} {
		assert.False(t, s.Terminal(), "state %s should not be terminal", s)
	}
}

func TestMarkDuplicate(t *testing.T) {
	m := NewMessage("SendInvoice", "courier.commands.SendInvoice", nil, "order-42", "api")

	err := m.MarkDuplicate("duplicate idempotency key order-42 for tenant acme")
	require.NoError(t, err)
	assert.Equal(t, StateDuplicateIdempotencyKey, m.State)
	assert.Contains(t, m.ProcessError, "order-42")
}

func TestMarkProcessed_RecordsResponseOnce(t *testing.T) {
	m := NewMessage("SendInvoice", "courier.commands.SendInvoice", nil, "", "api")
	require.NoError(t, m.MarkQueued("job-1"))
	require.NoError(t, m.MarkProcessing())

	require.NoError(t, m.MarkProcessed([]byte(`{"ok":true}`)))
	assert.Equal(t, StateProcessed, m.State)
	assert.JSONEq(t, `{"ok":true}`, string(m.MessageResponse))
}

func TestRecordProcessFailure_SeparateCounter(t *testing.T) {
	m := NewMessage("SendInvoice", "courier.commands.SendInvoice", nil, "", "api")
	require.NoError(t, m.MarkQueued("job-1"))
	require.NoError(t, m.MarkProcessing())

	require.NoError(t, m.RecordProcessFailure("handler blew up", 3))
	assert.Equal(t, StateQueued, m.State)
	assert.Equal(t, 1, m.ProcessTryCount)
	assert.Equal(t, 0, m.PublishTryCount)
	assert.Equal(t, "handler blew up", m.ProcessError)
}

func TestSetState_NoopOnSameState(t *testing.T) {
	m := NewMessage("SendInvoice", "courier.commands.SendInvoice", nil, "", "api")
	require.NoError(t, m.SetState(StateRequested))
	assert.Equal(t, StateRequested, m.State)
}
