package httpapi

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/config"
)

func TestStaticTokenAuthValid(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{
		{Token: "secret-123", Name: "dispatch-ui"},
		{Token: "secret-456", Name: "reporting"},
	})

	info, err := auth.Authenticate("secret-456")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if info.Name != "reporting" {
		t.Errorf("Name = %q", info.Name)
	}
}

func TestStaticTokenAuthInvalid(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{{Token: "secret-123", Name: "dispatch-ui"}})

	_, err := auth.Authenticate("wrong-token")
	if !errors.Is(err, domain.ErrAuthInvalid) {
		t.Errorf("err = %v, want ErrAuthInvalid", err)
	}
}

func TestStaticTokenAuthEmpty(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{{Token: "", Name: "blank"}})
	if auth.Enabled() {
		t.Error("blank tokens must not enable auth")
	}
	if _, err := auth.Authenticate(""); err == nil {
		t.Fatal("expected error for empty token list")
	}
}

func TestRequireTokenStoresClient(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{{Token: "tok", Name: "cli"}})

	var got string
	h := RequireToken(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := ClientFrom(r.Context()); ok {
			got = c.Name
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got != "cli" {
		t.Errorf("client = %q, want cli", got)
	}
}

func TestRequireTokenRejectsOtherSchemes(t *testing.T) {
	auth := NewStaticTokenAuth([]config.TokenConfig{{Token: "tok", Name: "cli"}})
	h := RequireToken(auth)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic tok")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestRequireTokenDisabledPassesThrough(t *testing.T) {
	h := RequireToken(NewStaticTokenAuth(nil))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}
