package middleware

import (
	"bytes"
	"context"
	"crypto/tls"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.opentelemetry.io/otel/trace"

	"dispatch-ai/internal/infra/config"
	"dispatch-ai/internal/infra/metrics"
	"dispatch-ai/internal/infra/tracer"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	handler := SecurityHeaders(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	expectedHeaders := map[string]string{
		"X-Frame-Options":         "DENY",
		"X-Content-Type-Options":  "nosniff",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
		"Referrer-Policy":         "no-referrer",
		"Cache-Control":           "no-store",
	}
	for header, expectedValue := range expectedHeaders {
		if got := w.Header().Get(header); got != expectedValue {
			t.Errorf("Header %s = %q, want %q", header, got, expectedValue)
		}
	}

	if hsts := w.Header().Get("Strict-Transport-Security"); hsts != "" {
		t.Errorf("HSTS header should not be set without TLS, got: %q", hsts)
	}
}

func TestSecurityHeaders_HSTS_WithTLS(t *testing.T) {
	handler := SecurityHeaders(okHandler())

	req := httptest.NewRequest("GET", "/test", nil)
	req.TLS = &tls.ConnectionState{}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	expectedHSTS := "max-age=31536000; includeSubDomains"
	if got := w.Header().Get("Strict-Transport-Security"); got != expectedHSTS {
		t.Errorf("HSTS = %q, want %q", got, expectedHSTS)
	}
}

func serveFrom(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_AllowsNormalTraffic(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Rate: 1, Burst: 10})
	handler := rl.Middleware(okHandler())

	for i := 0; i < 10; i++ {
		if w := serveFrom(handler, "192.168.1.1:12345"); w.Code != http.StatusOK {
			t.Errorf("Request %d: got status %d, want %d", i+1, w.Code, http.StatusOK)
		}
	}
}

func TestRateLimit_BlocksExcessiveTraffic(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Rate: 0.1, Burst: 3})
	handler := rl.Middleware(okHandler())

	successCount, blockedCount := 0, 0
	var last *httptest.ResponseRecorder
	for i := 0; i < 10; i++ {
		w := serveFrom(handler, "192.168.1.1:12345")
		switch w.Code {
		case http.StatusOK:
			successCount++
		case http.StatusTooManyRequests:
			blockedCount++
			last = w
		}
	}

	if successCount != 3 {
		t.Errorf("Expected 3 successful requests, got %d", successCount)
	}
	if blockedCount != 7 {
		t.Errorf("Expected 7 blocked requests, got %d", blockedCount)
	}
	if last == nil {
		t.Fatal("no blocked response recorded")
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("blocked response should carry Retry-After")
	}
	if !strings.Contains(last.Body.String(), `"code":"RATE_LIMIT"`) {
		t.Errorf("body = %s, want RATE_LIMIT code", last.Body.String())
	}
}

func TestRateLimit_SeparatesClientsByIP(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Rate: 0.1, Burst: 2})
	handler := rl.Middleware(okHandler())

	client1Blocked := false
	for i := 0; i < 3; i++ {
		if w := serveFrom(handler, "192.168.1.1:12345"); w.Code == http.StatusTooManyRequests {
			client1Blocked = true
		}
	}

	client2Success := 0
	for i := 0; i < 2; i++ {
		if w := serveFrom(handler, "192.168.1.2:12345"); w.Code == http.StatusOK {
			client2Success++
		}
	}

	if !client1Blocked {
		t.Error("Client 1 should have been rate limited")
	}
	if client2Success != 2 {
		t.Errorf("Client 2 should have 2 successful requests, got %d", client2Success)
	}
}

func TestRateLimit_EvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{Rate: 1, Burst: 1})
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.limiterFor("10.0.0.1")
	rl.limiterFor("10.0.0.2")

	now = now.Add(clientIdleTTL / 2)
	rl.limiterFor("10.0.0.2")

	now = now.Add(clientIdleTTL/2 + time.Second)
	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.clients["10.0.0.1"]; ok {
		t.Error("idle client should be evicted")
	}
	if _, ok := rl.clients["10.0.0.2"]; !ok {
		t.Error("recent client should be kept")
	}
}

func TestClientIP_SpoofingPrevention(t *testing.T) {
	tests := []struct {
		name           string
		remoteAddr     string
		xForwardedFor  string
		xRealIP        string
		trustedProxies []string
		wantIP         string
	}{
		{
			name:           "untrusted source with XFF",
			remoteAddr:     "1.2.3.4:12345",
			xForwardedFor:  "8.8.8.8",
			trustedProxies: []string{"192.168.1.1"},
			wantIP:         "1.2.3.4",
		},
		{
			name:          "no trusted proxies with XFF",
			remoteAddr:    "1.2.3.4:12345",
			xForwardedFor: "8.8.8.8",
			wantIP:        "1.2.3.4",
		},
		{
			name:           "trusted proxy with XFF chain",
			remoteAddr:     "192.168.1.1:12345",
			xForwardedFor:  "203.0.113.1, 198.51.100.1",
			trustedProxies: []string{"192.168.1.1"},
			wantIP:         "203.0.113.1",
		},
		{
			name:           "trusted proxy with X-Real-IP",
			remoteAddr:     "192.168.1.1:12345",
			xRealIP:        "203.0.113.9",
			trustedProxies: []string{"192.168.1.1"},
			wantIP:         "203.0.113.9",
		},
		{
			name:       "IPv6 peer",
			remoteAddr: "[2001:db8::1]:443",
			wantIP:     "2001:db8::1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/test", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xForwardedFor != "" {
				req.Header.Set("X-Forwarded-For", tt.xForwardedFor)
			}
			if tt.xRealIP != "" {
				req.Header.Set("X-Real-IP", tt.xRealIP)
			}
			trusted := make(map[string]bool)
			for _, p := range tt.trustedProxies {
				trusted[p] = true
			}

			if got := ClientIP(req, trusted); got != tt.wantIP {
				t.Errorf("ClientIP() = %q, want %q", got, tt.wantIP)
			}
		})
	}
}

func TestRateLimit_CleanupGoroutineStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	runtime.GC()
	time.Sleep(10 * time.Millisecond)
	before := runtime.NumGoroutine()

	handler := RateLimit(ctx, config.RateLimitConfig{Rate: 1, Burst: 10})(okHandler())
	serveFrom(handler, "192.168.1.1:12345")

	cancel()
	time.Sleep(100 * time.Millisecond)
	runtime.GC()
	time.Sleep(50 * time.Millisecond)

	if after := runtime.NumGoroutine(); after > before+2 {
		t.Errorf("Potential goroutine leak: before=%d, after=%d", before, after)
	}
}

func TestAccessLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := AccessLog(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	serveFrom(handler, "10.0.0.1:1")

	out := buf.String()
	if !strings.Contains(out, "status=418") || !strings.Contains(out, "path=/test") {
		t.Errorf("access log missing fields: %s", out)
	}
}

func TestRecover(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	handler := Recover(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("kaboom")
	}))

	w := serveFrom(handler, "10.0.0.1:1")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
	if !strings.Contains(buf.String(), "kaboom") {
		t.Errorf("panic not logged: %s", buf.String())
	}
}

func TestInstrument(t *testing.T) {
	m := metrics.New()
	handler := Instrument(m, "POST /api/v1/bots/{bot}/generate")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	serveFrom(handler, "10.0.0.1:1")
	serveFrom(handler, "10.0.0.1:1")

	expected := `
# HELP dispatchai_http_requests_total HTTP API requests by route and status.
# TYPE dispatchai_http_requests_total counter
dispatchai_http_requests_total{method="GET",route="POST /api/v1/bots/{bot}/generate",status="502"} 2
`
	if err := testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "dispatchai_http_requests_total"); err != nil {
		t.Error(err)
	}
}

func TestTraceContext(t *testing.T) {
	if _, err := tracer.Setup(context.Background(), config.TracerConfig{}); err != nil {
		t.Fatalf("tracer.Setup: %v", err)
	}

	var got trace.SpanContext
	handler := TraceContext(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = trace.SpanContextFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/bots/b/generate", nil)
	req.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !got.IsValid() || got.TraceID().String() != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("trace context not extracted: %v", got)
	}

	got = trace.SpanContext{}
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if got.IsValid() {
		t.Error("request without traceparent should carry no span context")
	}
}
