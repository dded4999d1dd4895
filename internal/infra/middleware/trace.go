package middleware

import (
	"net/http"

	"dispatch-ai/internal/infra/tracer"
)

// TraceContext continues the caller's trace when the request carries W3C
// traceparent/tracestate headers.
func TraceContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(tracer.Extract(r.Context(), r.Header)))
	})
}
