package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAttempt("inference", "m", "success", time.Second)
		m.IncRetry("chat")
		m.IncFallback("bot")
		m.IncGeneration("bot", "success")
		m.IncControlPath("skipped")
		m.ObserveBatch(3)
		m.SetControlReachable(true)
		m.AddTokens("m", 10)
		m.IncHTTPRequest("GET", "/healthz", "200")
	})
}

func TestCounters(t *testing.T) {
	m := New()

	m.ObserveAttempt("inference", "org/m1", "retryable", 200*time.Millisecond)
	m.ObserveAttempt("inference", "org/m1", "success", 100*time.Millisecond)
	m.IncRetry("inference")
	m.IncFallback("documentation")
	m.IncFallback("documentation")
	m.IncGeneration("documentation", "success")
	m.AddTokens("org/m1", 12)
	m.AddTokens("org/m1", 0)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.attempts.WithLabelValues("inference", "org/m1", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.retries.WithLabelValues("inference")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.fallbacks.WithLabelValues("documentation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.generations.WithLabelValues("documentation", "success")))
	assert.Equal(t, 12.0, testutil.ToFloat64(m.tokens.WithLabelValues("org/m1")))
}

func TestControlReachableGauge(t *testing.T) {
	m := New()
	m.SetControlReachable(true)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.controlUp))
	m.SetControlReachable(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.controlUp))
}

func TestHandlerExposition(t *testing.T) {
	m := New()
	m.IncGeneration("booking-assistant", "exhausted")
	m.ObserveBatch(7)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	out := string(body)
	assert.True(t, strings.Contains(out, `dispatchai_gateway_generations_total{bot="booking-assistant",status="exhausted"} 1`), out)
	assert.Contains(t, out, "dispatchai_gateway_batch_prompts_count 1")
	assert.Contains(t, out, "go_goroutines")
}

func TestNewUsesPrivateRegistry(t *testing.T) {
	// Two instances must not collide on registration.
	require.NotPanics(t, func() {
		_ = New()
		_ = New()
	})
}
