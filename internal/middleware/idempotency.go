package middleware

import (
	"context"
	"net/http"
)

// IdempotencyKeyHeader is the request header carrying the caller's
// idempotency key.
const IdempotencyKeyHeader = "Idempotency-Key"

type idempotencyKeyCtx struct{}

// IdempotencyKey extracts the Idempotency-Key header into the request
// context. Deduplication itself happens in the enqueue path, against
// the durable key registry, not here: replaying a stored HTTP response
// would bypass the outbox state machine.
func IdempotencyKey() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get(IdempotencyKeyHeader); key != "" {
				r = r.WithContext(context.WithValue(r.Context(), idempotencyKeyCtx{}, key))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IdempotencyKeyFromContext returns the header-supplied idempotency
// key, if any.
func IdempotencyKeyFromContext(ctx context.Context) (string, bool) {
	key, ok := ctx.Value(idempotencyKeyCtx{}).(string)
	return key, ok
}
