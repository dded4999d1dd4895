package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/config"
	"dispatch-ai/internal/infra/metrics"
	"dispatch-ai/internal/usecase"
)

type fakeGenerator struct {
	fn func(bot, prompt, task string) (*domain.GenerationResult, error)
}

func (f *fakeGenerator) GenerateForBot(_ context.Context, bot, prompt, task string) (*domain.GenerationResult, error) {
	return f.fn(bot, prompt, task)
}

type fakeBatch struct {
	fn func(bot string, prompts []string, task string) ([]domain.GenerationResult, error)
}

func (f *fakeBatch) GenerateBatch(_ context.Context, bot string, prompts []string, task string) ([]domain.GenerationResult, error) {
	return f.fn(bot, prompts, task)
}

type fakeCatalog struct{}

func (fakeCatalog) ListFor(bot string) []domain.ModelDescriptor {
	return []domain.ModelDescriptor{
		{ID: bot + "-primary", Provider: domain.ProviderChatGenerative, BackendModelID: "chat-1", MaxOutputTokens: 10, Priority: 1},
		{ID: "fallback", Provider: domain.ProviderGenericInference, BackendModelID: "org/fb", MaxOutputTokens: 10, Priority: 2},
	}
}

func (c fakeCatalog) PrimaryFor(bot string) domain.ModelDescriptor { return c.ListFor(bot)[0] }

type fakeHealth struct{ st usecase.ReachabilityStatus }

func (f fakeHealth) Status() usecase.ReachabilityStatus { return f.st }

func newTestServer(t *testing.T, deps Deps, cfg config.ServerConfig) *httptest.Server {
	t.Helper()
	if deps.Generator == nil {
		deps.Generator = &fakeGenerator{fn: func(bot, prompt, task string) (*domain.GenerationResult, error) {
			res := domain.NewGenerationResult("echo: "+prompt, "model-x")
			return &res, nil
		}}
	}
	if deps.Batch == nil {
		deps.Batch = &fakeBatch{fn: func(bot string, prompts []string, task string) ([]domain.GenerationResult, error) {
			out := make([]domain.GenerationResult, len(prompts))
			for i, p := range prompts {
				out[i] = domain.NewGenerationResult(strings.ToUpper(p), "model-x")
			}
			return out, nil
		}}
	}
	if deps.Catalog == nil {
		deps.Catalog = fakeCatalog{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	srv := NewServer(deps, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ts := httptest.NewServer(srv.Handler(ctx))
	t.Cleanup(ts.Close)
	return ts
}

func post(t *testing.T, url, token, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestGenerateEndpoint(t *testing.T) {
	var gotBot, gotTask string
	gen := &fakeGenerator{fn: func(bot, prompt, task string) (*domain.GenerationResult, error) {
		gotBot, gotTask = bot, task
		res := domain.NewGenerationResult("generated text", "org/model")
		return &res, nil
	}}
	ts := newTestServer(t, Deps{Generator: gen}, config.ServerConfig{})

	resp := post(t, ts.URL+"/api/v1/bots/documentation/generate", "", `{"prompt":"write docs","task_tag":"readme"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))

	res := decode[domain.GenerationResult](t, resp)
	assert.Equal(t, "generated text", res.Text)
	assert.Equal(t, "org/model", res.ModelUsed)
	assert.Equal(t, len("generated text")/4, res.EstimatedTokens)
	assert.Equal(t, "documentation", gotBot)
	assert.Equal(t, "readme", gotTask)
}

func TestGenerateEndpointExhaustion(t *testing.T) {
	gen := &fakeGenerator{fn: func(bot, prompt, task string) (*domain.GenerationResult, error) {
		return nil, &domain.ExhaustionError{
			BotIdentity: bot,
			Tried:       3,
			Failures:    []domain.CandidateFailure{{ModelID: "a", Reason: "provider error"}},
		}
	}}
	ts := newTestServer(t, Deps{Generator: gen}, config.ServerConfig{})

	resp := post(t, ts.URL+"/api/v1/bots/invoice-notes/generate", "", `{"prompt":"x"}`)
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)

	body := decode[errorResponse](t, resp)
	assert.Equal(t, domain.CodeCandidatesExhausted, body.Code)
	assert.Contains(t, body.Error, `"invoice-notes"`)
}

func TestGenerateEndpointInvalidInput(t *testing.T) {
	gen := &fakeGenerator{fn: func(bot, prompt, task string) (*domain.GenerationResult, error) {
		return nil, domain.NewDomainError("Gateway.GenerateForBot", domain.ErrInvalidInput, "prompt is empty")
	}}
	ts := newTestServer(t, Deps{Generator: gen}, config.ServerConfig{})

	resp := post(t, ts.URL+"/api/v1/bots/b/generate", "", `{"prompt":"  "}`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, domain.CodeInvalidInput, decode[errorResponse](t, resp).Code)
}

func TestGenerateEndpointBadJSON(t *testing.T) {
	ts := newTestServer(t, Deps{}, config.ServerConfig{})

	for _, body := range []string{`not json`, `{"prompt":"x","extra":1}`} {
		resp := post(t, ts.URL+"/api/v1/bots/b/generate", "", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body %s", body)
	}
}

func TestGenerateEndpointMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, Deps{}, config.ServerConfig{})

	resp, err := http.Get(ts.URL + "/api/v1/bots/b/generate")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestBatchEndpoint(t *testing.T) {
	ts := newTestServer(t, Deps{}, config.ServerConfig{})

	resp := post(t, ts.URL+"/api/v1/bots/b/batch", "", `{"prompts":["one","two","three"]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[batchResponse](t, resp)
	require.Len(t, body.Results, 3)
	assert.Equal(t, "ONE", body.Results[0].Text)
	assert.Equal(t, "THREE", body.Results[2].Text)
}

func TestBatchEndpointTooManyPrompts(t *testing.T) {
	ts := newTestServer(t, Deps{}, config.ServerConfig{})

	prompts := make([]string, maxBatchPrompts+1)
	for i := range prompts {
		prompts[i] = "p"
	}
	raw, err := json.Marshal(batchRequest{Prompts: prompts})
	require.NoError(t, err)

	resp := post(t, ts.URL+"/api/v1/bots/b/batch", "", string(raw))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestModelsEndpoint(t *testing.T) {
	ts := newTestServer(t, Deps{}, config.ServerConfig{})

	resp, err := http.Get(ts.URL + "/api/v1/bots/email-composer/models")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[modelsResponse](t, resp)
	assert.Equal(t, "email-composer", body.Bot)
	require.Len(t, body.Models, 2)
	assert.Equal(t, "email-composer-primary", body.Models[0].ID)
	assert.Equal(t, domain.ProviderChatGenerative, body.Models[0].Provider)
	assert.Equal(t, "org/fb", body.Models[1].BackendModelID)
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t, Deps{}, config.ServerConfig{})
	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()

	body := decode[healthResponse](t, resp)
	assert.Equal(t, "ok", body.Status)
	assert.Nil(t, body.ControlReachable)

	checked := time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC)
	health := fakeHealth{st: usecase.ReachabilityStatus{Checked: true, Reachable: true, CheckedAt: checked}}
	ts = newTestServer(t, Deps{Health: health}, config.ServerConfig{})
	resp2, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp2.Body.Close()

	body = decode[healthResponse](t, resp2)
	require.NotNil(t, body.ControlReachable)
	assert.True(t, *body.ControlReachable)
	require.NotNil(t, body.CheckedAt)
	assert.True(t, checked.Equal(*body.CheckedAt))
}

func TestAuthRequiredWhenTokensConfigured(t *testing.T) {
	cfg := config.ServerConfig{Auth: config.AuthConfig{Tokens: []config.TokenConfig{{Token: "s3cret", Name: "ops"}}}}
	ts := newTestServer(t, Deps{}, cfg)

	resp := post(t, ts.URL+"/api/v1/bots/b/generate", "", `{"prompt":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("WWW-Authenticate"))

	resp = post(t, ts.URL+"/api/v1/bots/b/generate", "wrong", `{"prompt":"x"}`)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, domain.CodeAuthInvalid, decode[errorResponse](t, resp).Code)

	resp = post(t, ts.URL+"/api/v1/bots/b/generate", "s3cret", `{"prompt":"x"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays open for probes.
	h, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer h.Body.Close()
	assert.Equal(t, http.StatusOK, h.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	m := metrics.New()
	ts := newTestServer(t, Deps{Metrics: m}, config.ServerConfig{})

	post(t, ts.URL+"/api/v1/bots/b/generate", "", `{"prompt":"x"}`)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `dispatchai_http_requests_total{method="POST",route="POST /api/v1/bots/{bot}/generate",status="200"} 1`)
}

func TestMetricsEndpointAbsentWithoutRegistry(t *testing.T) {
	ts := newTestServer(t, Deps{}, config.ServerConfig{})
	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRateLimitApplied(t *testing.T) {
	cfg := config.ServerConfig{RateLimit: config.RateLimitConfig{Rate: 1, Burst: 1}}
	ts := newTestServer(t, Deps{}, cfg)

	first := post(t, ts.URL+"/api/v1/bots/b/generate", "", `{"prompt":"x"}`)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	second := post(t, ts.URL+"/api/v1/bots/b/generate", "", `{"prompt":"x"}`)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{&domain.ExhaustionError{BotIdentity: "b"}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{context.Canceled, http.StatusServiceUnavailable},
		{domain.ErrAuthInvalid, http.StatusUnauthorized},
		{io.EOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}
