package middleware

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Tracing instruments requests with otelhttp, using chi's matched
// route pattern as the span name so span cardinality stays bounded.
func Tracing() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// The route pattern is only available after chi has matched,
			// so the otelhttp handler is built per request.
			rctx := chi.RouteContext(r.Context())
			operation := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
			if rctx != nil && rctx.RoutePattern() != "" {
				operation = fmt.Sprintf("%s %s", r.Method, rctx.RoutePattern())
			}

			otelhttp.NewHandler(next, operation).ServeHTTP(w, r)
		})
	}
}
