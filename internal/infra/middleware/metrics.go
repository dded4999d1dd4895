package middleware

import (
	"net/http"
	"strconv"

	"dispatch-ai/internal/infra/metrics"
)

// Instrument counts requests to route by method and status. route is the
// registered pattern, not the raw path, to keep label cardinality bounded.
func Instrument(m *metrics.Metrics, route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			m.IncHTTPRequest(r.Method, route, strconv.Itoa(rec.status))
		})
	}
}
