package idempotency

import (
	"sync"
	"time"
)

// UnlimitedTTL marks records that never expire.
const UnlimitedTTL = -1

// DefaultTTLDays applies to message types without a declared policy.
const DefaultTTLDays = 30

// Policy declares how long dedup records for a message type live.
type Policy struct {
	TTLDays int
}

// Unlimited reports whether records under this policy never expire.
func (p Policy) Unlimited() bool {
	return p.TTLDays == UnlimitedTTL
}

// TTL returns the policy TTL as a duration, or zero when unlimited.
func (p Policy) TTL() time.Duration {
	if p.Unlimited() {
		return 0
	}
	return time.Duration(p.TTLDays) * 24 * time.Hour
}

// PolicyRegistry maps message names to idempotency policies. Policies
// are registered at startup, alongside message-type registration, not
// resolved at call time.
type PolicyRegistry struct {
	mu          sync.RWMutex
	policies    map[string]Policy
	defaultDays int
}

// NewPolicyRegistry creates a registry with the given default TTL in
// days for undeclared message types. Zero picks DefaultTTLDays.
func NewPolicyRegistry(defaultDays int) *PolicyRegistry {
	if defaultDays == 0 {
		defaultDays = DefaultTTLDays
	}
	return &PolicyRegistry{
		policies:    make(map[string]Policy),
		defaultDays: defaultDays,
	}
}

// Register declares the policy for a message name. Last registration
// wins.
func (r *PolicyRegistry) Register(messageName string, p Policy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[messageName] = p
}

// PolicyFor returns the declared policy for a message name, or the
// default policy when none was declared.
func (r *PolicyRegistry) PolicyFor(messageName string) Policy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.policies[messageName]; ok {
		return p
	}
	return Policy{TTLDays: r.defaultDays}
}

// TTLFor returns the TTL duration for a message name and whether the
// records expire at all.
func (r *PolicyRegistry) TTLFor(messageName string) (time.Duration, bool) {
	p := r.PolicyFor(messageName)
	if p.Unlimited() {
		return 0, false
	}
	return p.TTL(), true
}
