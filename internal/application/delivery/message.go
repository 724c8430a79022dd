package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	domainErrors "github.com/andresilva/courier/internal/domain/errors"
)

// Kind distinguishes commands (routed to a single runner) from events
// (fanned out to subscribers).
type Kind string

const (
	KindCommand Kind = "command"
	KindEvent   Kind = "event"
)

// Message is a typed command or event handed to the delivery tier.
type Message interface {
	// MessageName is the short logical name, e.g. "SendInvoice".
	MessageName() string
	// MessageKind selects the execution-tier entry point.
	MessageKind() Kind
}

// IdempotentMessage is a message that carries its own idempotency key.
type IdempotentMessage interface {
	Message
	IdempotencyKey() string
}

// DecodeFunc rehydrates a stored payload back into its typed message.
type DecodeFunc func(data []byte) (Message, error)

// HandleFunc executes a message on the worker side and returns an
// optional serialized response.
type HandleFunc func(ctx context.Context, msg Message) ([]byte, error)

// registration binds a stable type tag to its decoder and handler.
type registration struct {
	name   string
	kind   Kind
	decode DecodeFunc
	handle HandleFunc
}

// Registry maps stable string type tags to decoders and handlers. It is
// populated at startup so the mapping is statically auditable; the
// sweep path resolves stored type tags through it instead of any
// dynamic type lookup.
type Registry struct {
	mu     sync.RWMutex
	byTag  map[string]registration
	byName map[string]string
}

// NewRegistry creates an empty message registry.
func NewRegistry() *Registry {
	return &Registry{
		byTag:  make(map[string]registration),
		byName: make(map[string]string),
	}
}

// Register binds a type tag to a message name, kind, decoder and
// optional handler. It returns an error on duplicate tags so wiring
// mistakes fail at startup.
func (r *Registry) Register(typeTag, name string, kind Kind, decode DecodeFunc, handle HandleFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byTag[typeTag]; exists {
		return fmt.Errorf("message type %q already registered", typeTag)
	}
	r.byTag[typeTag] = registration{name: name, kind: kind, decode: decode, handle: handle}
	r.byName[name] = typeTag
	return nil
}

// Decode rehydrates a stored payload for the given type tag.
func (r *Registry) Decode(typeTag string, data []byte) (Message, error) {
	r.mu.RLock()
	reg, ok := r.byTag[typeTag]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrMessageTypeNotRegistered, typeTag)
	}
	return reg.decode(data)
}

// Handler returns the handler registered for the given type tag.
func (r *Registry) Handler(typeTag string) (HandleFunc, error) {
	r.mu.RLock()
	reg, ok := r.byTag[typeTag]
	r.mu.RUnlock()
	if !ok || reg.handle == nil {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrMessageTypeNotRegistered, typeTag)
	}
	return reg.handle, nil
}

// TypeTag returns the registered type tag for a message name.
func (r *Registry) TypeTag(name string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tag, ok := r.byName[name]
	return tag, ok
}

// RegisterJSON registers a JSON-serialized message type using a
// factory for the concrete type.
func RegisterJSON[T Message](r *Registry, typeTag string, kind Kind, handle HandleFunc) error {
	var zero T
	return r.Register(typeTag, zero.MessageName(), kind, func(data []byte) (Message, error) {
		var msg T
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("decode %s: %w", typeTag, err)
		}
		return msg, nil
	}, handle)
}
