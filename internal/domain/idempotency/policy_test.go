package idempotency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPolicyRegistry_DefaultPolicy(t *testing.T) {
	r := NewPolicyRegistry(0)

	p := r.PolicyFor("UnknownMessage")
	assert.Equal(t, DefaultTTLDays, p.TTLDays)
	assert.False(t, p.Unlimited())

	ttl, expires := r.TTLFor("UnknownMessage")
	assert.True(t, expires)
	assert.Equal(t, 30*24*time.Hour, ttl)
}

func TestPolicyRegistry_DeclaredPolicy(t *testing.T) {
	r := NewPolicyRegistry(0)
	r.Register("SendInvoice", Policy{TTLDays: 7})

	ttl, expires := r.TTLFor("SendInvoice")
	assert.True(t, expires)
	assert.Equal(t, 7*24*time.Hour, ttl)
}

func TestPolicyRegistry_UnlimitedPolicy(t *testing.T) {
	r := NewPolicyRegistry(0)
	r.Register("RegisterAccount", Policy{TTLDays: UnlimitedTTL})

	p := r.PolicyFor("RegisterAccount")
	assert.True(t, p.Unlimited())
	assert.Equal(t, time.Duration(0), p.TTL())

	_, expires := r.TTLFor("RegisterAccount")
	assert.False(t, expires)
}

func TestPolicyRegistry_CustomDefault(t *testing.T) {
	r := NewPolicyRegistry(90)

	ttl, expires := r.TTLFor("Whatever")
	assert.True(t, expires)
	assert.Equal(t, 90*24*time.Hour, ttl)
}
