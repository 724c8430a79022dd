package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/andresilva/courier/internal/domain/tenant"
	"github.com/go-chi/httprate"
)

// RateLimit throttles per tenant, falling back to client IP for
// untenanted requests. Must be mounted after Tenant.
func RateLimit(requestsPerMinute int) func(http.Handler) http.Handler {
	return httprate.Limit(
		requestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id, ok := tenant.FromContext(r.Context()); ok {
				return "tenant:" + id, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded",
				"code":  "rate_limit",
			})
		}),
	)
}
