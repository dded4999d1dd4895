package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"dispatch-ai/internal/infra/config"
)

// SecurityHeaders adds OWASP-recommended security headers to all responses.
// The API only serves JSON, so the content policy forbids everything.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Cache-Control", "no-store")

		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

// clientIdleTTL is how long an idle client's limiter is kept.
const clientIdleTTL = 3 * time.Minute

// RateLimiter is a per-client-IP token bucket.
type RateLimiter struct {
	limit          rate.Limit
	burst          int
	trustedProxies map[string]bool

	mu      sync.Mutex
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter builds a limiter from config. X-Forwarded-For and X-Real-IP
// are honoured only when the TCP peer is one of cfg.TrustedProxies.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	trusted := make(map[string]bool, len(cfg.TrustedProxies))
	for _, ip := range cfg.TrustedProxies {
		trusted[strings.TrimSpace(ip)] = true
	}
	return &RateLimiter{
		limit:          rate.Limit(cfg.Rate),
		burst:          cfg.Burst,
		trustedProxies: trusted,
		clients:        make(map[string]*client),
		now:            time.Now,
	}
}

// Run evicts idle clients every minute until ctx is cancelled.
func (rl *RateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.evict()
		case <-ctx.Done():
			return
		}
	}
}

func (rl *RateLimiter) evict() {
	cutoff := rl.now().Add(-clientIdleTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for ip, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, ip)
		}
	}
}

func (rl *RateLimiter) limiterFor(ip string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	c, ok := rl.clients[ip]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[ip] = c
	}
	c.lastSeen = rl.now()
	return c.limiter
}

// Middleware rejects requests over the client's budget with 429 and a
// Retry-After header.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limiter := rl.limiterFor(ClientIP(r, rl.trustedProxies))

		res := limiter.Reserve()
		if !res.OK() {
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMIT")
			return
		}
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded", "RATE_LIMIT")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RateLimit is a convenience wrapper: it starts the eviction loop on ctx and
// returns the middleware.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) func(http.Handler) http.Handler {
	rl := NewRateLimiter(cfg)
	go rl.Run(ctx)
	return rl.Middleware
}

// ClientIP extracts the client IP. Proxy headers are trusted only when the
// direct peer is in trustedProxies, which prevents X-Forwarded-For spoofing.
func ClientIP(r *http.Request, trustedProxies map[string]bool) string {
	directIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(directIP); err == nil {
		directIP = host
	}

	if len(trustedProxies) == 0 || !trustedProxies[directIP] {
		return directIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	return directIP
}

func writeJSONError(w http.ResponseWriter, status int, msg, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":` + strconv.Quote(msg) + `,"code":` + strconv.Quote(code) + `}`))
}
