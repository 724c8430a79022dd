package idempotency

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DefaultHashSalt is the fixed salt mixed into hashed keys. The hash
// parameters are versionless: lookups must produce the same transform
// as registrations, forever.
const DefaultHashSalt = "CourierIdempotency"

// ShortKeyLength bounds the stored key size for index efficiency.
const ShortKeyLength = 16

// KeyHasher derives storage keys from caller-supplied idempotency keys.
// The raw business identifier never reaches the index: the key is
// combined with the tenant id and a fixed salt, then hashed.
type KeyHasher struct {
	salt string
}

// NewKeyHasher creates a hasher with the given salt. An empty salt
// falls back to DefaultHashSalt.
func NewKeyHasher(salt string) *KeyHasher {
	if salt == "" {
		salt = DefaultHashSalt
	}
	return &KeyHasher{salt: salt}
}

// Hash returns the full hex-encoded SHA-256 digest of salt:tenant:key.
func (h *KeyHasher) Hash(tenantID, idempotencyKey string) string {
	salted := fmt.Sprintf("%s:%s:%s", h.salt, tenantID, idempotencyKey)
	sum := sha256.Sum256([]byte(salted))
	return hex.EncodeToString(sum[:])
}

// ShortHash returns the first ShortKeyLength characters of Hash.
func (h *KeyHasher) ShortHash(tenantID, idempotencyKey string) string {
	return h.Hash(tenantID, idempotencyKey)[:ShortKeyLength]
}

// IsValidHashFormat reports whether key looks like a lowercase hex
// digest produced by this hasher.
func IsValidHashFormat(key string) bool {
	if key == "" {
		return false
	}
	for _, c := range key {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
