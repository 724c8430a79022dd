package idempotency

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyHasher_Deterministic(t *testing.T) {
	h := NewKeyHasher("")

	first := h.Hash("acme", "order-42")
	second := h.Hash("acme", "order-42")

	assert.Equal(t, first, second)
	assert.Len(t, first, 64)
	assert.True(t, IsValidHashFormat(first))
}

func TestKeyHasher_TenantScoped(t *testing.T) {
	h := NewKeyHasher("")

	assert.NotEqual(t, h.Hash("acme", "order-42"), h.Hash("globex", "order-42"))
	assert.NotEqual(t, h.Hash("acme", "order-42"), h.Hash("acme", "order-43"))
}

func TestKeyHasher_SaltChangesDigest(t *testing.T) {
	a := NewKeyHasher("salt-a")
	b := NewKeyHasher("salt-b")

	assert.NotEqual(t, a.Hash("acme", "order-42"), b.Hash("acme", "order-42"))
}

func TestKeyHasher_ShortHash(t *testing.T) {
	h := NewKeyHasher("")

	short := h.ShortHash("acme", "order-42")
	require.Len(t, short, ShortKeyLength)
	assert.Equal(t, h.Hash("acme", "order-42")[:ShortKeyLength], short)
	assert.True(t, IsValidHashFormat(short))
}

func TestIsValidHashFormat(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		valid bool
	}{
		{"lowercase hex", "abc123def456", true},
		{"empty", "", false},
		{"uppercase", "ABC123", false},
		{"raw business key", "order-42", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidHashFormat(tt.key))
		})
	}
}
