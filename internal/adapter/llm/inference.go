package llm

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/config"
)

const (
	defaultInferenceBaseURL = "https://api-inference.huggingface.co"

	// defaultLoadingWait applies when a 503 carries no usable Retry-After.
	defaultLoadingWait = 10 * time.Second
)

// inferenceRequest is the generic-inference wire body, shared with the
// control-protocol adapter.
type inferenceRequest struct {
	Model      string              `json:"model,omitempty"`
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceParameters struct {
	MaxNewTokens   int     `json:"max_new_tokens"`
	Temperature    float64 `json:"temperature"`
	ReturnFullText bool    `json:"return_full_text"`
}

func newInferenceRequest(model domain.ModelDescriptor, prompt string) inferenceRequest {
	return inferenceRequest{
		Inputs: prompt,
		Parameters: inferenceParameters{
			MaxNewTokens:   model.MaxOutputTokens,
			Temperature:    model.Temperature,
			ReturnFullText: false,
		},
	}
}

// InferenceAdapter calls a generic text-generation REST endpoint, one URL
// per model.
type InferenceAdapter struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewInferenceAdapter creates the generic-inference adapter. The bearer token
// is the API key, falling back to the read token.
func NewInferenceAdapter(cfg config.EndpointConfig, creds config.CredentialsConfig, logger *slog.Logger) *InferenceAdapter {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultInferenceBaseURL
	}
	token := creds.APIKey
	if token == "" {
		token = creds.ReadToken
	}

	return &InferenceAdapter{
		baseURL: baseURL,
		token:   token,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.Adapter.
func (a *InferenceAdapter) Name() string { return "inference" }

// Invoke implements domain.Adapter.
func (a *InferenceAdapter) Invoke(ctx context.Context, model domain.ModelDescriptor, req domain.GenerationRequest) domain.AttemptOutcome {
	ctx, span := startAttemptSpan(ctx, a.Name(), model, req)
	defer span.End()

	endpoint := a.baseURL + "/models/" + escapeModelPath(model.BackendModelID)
	res, err := doJSONRequest(ctx, a.client, endpoint, newInferenceRequest(model, req.Prompt), bearer(a.token))
	if err != nil {
		return finishAttempt(ctx, span, a.logger, a.Name(), model, req, transportFailure(ctx, err))
	}

	return finishAttempt(ctx, span, a.logger, a.Name(), model, req, classifyInference(res, model, req.Prompt))
}

// classifyInference maps a generic-inference response to an outcome:
// 2xx decodes, 503 is retryable after Retry-After, anything else is permanent.
func classifyInference(res *httpResult, model domain.ModelDescriptor, prompt string) domain.AttemptOutcome {
	switch {
	case res.ok():
		text, err := decodeInferenceText(res.body, prompt)
		if err != nil {
			return domain.Permanent(err)
		}
		return domain.Succeeded(domain.NewGenerationResult(text, model.BackendModelID))
	case res.status == http.StatusServiceUnavailable:
		wait := parseRetryAfter(res.header.Get("Retry-After"), defaultLoadingWait)
		return domain.Retryable(statusError(domain.ErrModelLoading, res.status, res.body), wait)
	default:
		return domain.Permanent(statusError(domain.ErrProviderError, res.status, res.body))
	}
}

// escapeModelPath escapes each segment of an "org/name" model path.
func escapeModelPath(id string) string {
	parts := strings.Split(id, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

var _ domain.Adapter = (*InferenceAdapter)(nil)
