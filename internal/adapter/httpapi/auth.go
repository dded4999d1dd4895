package httpapi

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/config"
)

// ClientInfo identifies an authenticated API client.
type ClientInfo struct {
	Name string
}

type authEntry struct {
	token []byte
	info  *ClientInfo
}

// StaticTokenAuth authenticates clients against a static token list
// using constant-time comparison to prevent timing attacks.
type StaticTokenAuth struct {
	entries []authEntry
}

// NewStaticTokenAuth builds an authenticator from the configured tokens.
// Entries with an empty token are ignored.
func NewStaticTokenAuth(tokens []config.TokenConfig) *StaticTokenAuth {
	a := &StaticTokenAuth{entries: make([]authEntry, 0, len(tokens))}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		a.entries = append(a.entries, authEntry{
			token: []byte(t.Token),
			info:  &ClientInfo{Name: t.Name},
		})
	}
	return a
}

// Enabled reports whether any token is configured. With no tokens the API
// is open.
func (s *StaticTokenAuth) Enabled() bool { return len(s.entries) > 0 }

// Authenticate returns client info if the token is valid.
func (s *StaticTokenAuth) Authenticate(token string) (*ClientInfo, error) {
	tokenBytes := []byte(token)
	var match *ClientInfo
	// Compare against every entry so timing does not reveal the match position.
	for _, e := range s.entries {
		if subtle.ConstantTimeCompare(tokenBytes, e.token) == 1 && match == nil {
			match = e.info
		}
	}
	if match == nil {
		return nil, domain.ErrAuthInvalid
	}
	return match, nil
}

type clientKey struct{}

// ClientFrom returns the authenticated client stored in ctx, if any.
func ClientFrom(ctx context.Context) (*ClientInfo, bool) {
	c, ok := ctx.Value(clientKey{}).(*ClientInfo)
	return c, ok
}

// RequireToken rejects requests without a valid "Authorization: Bearer"
// header. It passes everything through when auth is not enabled.
func RequireToken(auth *StaticTokenAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if auth == nil || !auth.Enabled() {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dispatch-ai"`)
				writeError(w, http.StatusUnauthorized, domain.ErrAuthInvalid)
				return
			}
			info, err := auth.Authenticate(strings.TrimSpace(token))
			if err != nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dispatch-ai", error="invalid_token"`)
				writeError(w, http.StatusUnauthorized, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), clientKey{}, info)))
		})
	}
}
