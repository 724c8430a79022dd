package delivery

import (
	"context"
	"testing"

	domainErrors "github.com/andresilva/courier/internal/domain/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndDecode(t *testing.T) {
	r := newTestRegistry(nil)

	tag, ok := r.TypeTag("SendInvoice")
	require.True(t, ok)
	assert.Equal(t, "billing.SendInvoice", tag)

	msg, err := r.Decode(tag, []byte(`{"invoice_id":"inv-7"}`))
	require.NoError(t, err)

	cmd, ok := msg.(sendInvoice)
	require.True(t, ok)
	assert.Equal(t, "inv-7", cmd.InvoiceID)
	assert.Equal(t, KindCommand, cmd.MessageKind())
}

func TestRegistry_DuplicateTag(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterJSON[sendInvoice](r, "billing.SendInvoice", KindCommand, nil))

	err := RegisterJSON[sendInvoice](r, "billing.SendInvoice", KindCommand, nil)
	assert.Error(t, err, "duplicate tags must fail at startup")
}

func TestRegistry_UnknownTag(t *testing.T) {
	r := NewRegistry()

	_, err := r.Decode("billing.Unknown", []byte(`{}`))
	assert.ErrorIs(t, err, domainErrors.ErrMessageTypeNotRegistered)

	_, err = r.Handler("billing.Unknown")
	assert.ErrorIs(t, err, domainErrors.ErrMessageTypeNotRegistered)

	_, ok := r.TypeTag("Unknown")
	assert.False(t, ok)
}

func TestRegistry_DecodeInvalidPayload(t *testing.T) {
	r := newTestRegistry(nil)

	_, err := r.Decode("billing.SendInvoice", []byte(`not json`))
	assert.Error(t, err)
}

func TestRegistry_HandlerWithoutHandle(t *testing.T) {
	r := newTestRegistry(nil)

	_, err := r.Handler("billing.SendInvoice")
	assert.ErrorIs(t, err, domainErrors.ErrMessageTypeNotRegistered, "registration without a handler is schedule-only")
}

func TestRegistry_HandlerRoundTrip(t *testing.T) {
	handled := false
	r := newTestRegistry(func(ctx context.Context, msg Message) ([]byte, error) {
		handled = true
		return []byte(`{"ok":true}`), nil
	})

	handler, err := r.Handler("billing.SendInvoice")
	require.NoError(t, err)

	resp, err := handler(context.Background(), sendInvoice{InvoiceID: "inv-7"})
	require.NoError(t, err)
	assert.True(t, handled)
	assert.JSONEq(t, `{"ok":true}`, string(resp))
}

func TestOutboxIDContext(t *testing.T) {
	ctx := context.Background()

	_, ok := OutboxIDFromContext(ctx)
	assert.False(t, ok)

	id, ok := OutboxIDFromContext(WithOutboxID(ctx, 42))
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
}
