package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/config"
)

const (
	defaultChatBaseURL = "https://generativelanguage.googleapis.com"

	// chatRateLimitWait is the fixed backoff after a 429.
	chatRateLimitWait = 5 * time.Second
)

// ChatAdapter calls a chat-style generateContent endpoint that takes the API
// key as a query parameter.
type ChatAdapter struct {
	apiKey  string
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewChatAdapter creates the chat-generative adapter.
func NewChatAdapter(cfg config.EndpointConfig, creds config.CredentialsConfig, logger *slog.Logger) *ChatAdapter {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultChatBaseURL
	}

	return &ChatAdapter{
		apiKey:  creds.ChatAPIKey,
		baseURL: baseURL,
		client:  NewHTTPClient(cfg),
		logger:  logger,
	}
}

// Name implements domain.Adapter.
func (a *ChatAdapter) Name() string { return "chat" }

// Configured reports whether an API key is present.
func (a *ChatAdapter) Configured() bool { return a.apiKey != "" }

// Invoke implements domain.Adapter. A missing API key fails permanently
// before any network call.
func (a *ChatAdapter) Invoke(ctx context.Context, model domain.ModelDescriptor, req domain.GenerationRequest) domain.AttemptOutcome {
	ctx, span := startAttemptSpan(ctx, a.Name(), model, req)
	defer span.End()

	if a.apiKey == "" {
		err := fmt.Errorf("%w: chat api key", domain.ErrConfigMissing)
		return finishAttempt(ctx, span, a.logger, a.Name(), model, req, domain.Permanent(err))
	}

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		a.baseURL, url.PathEscape(model.BackendModelID), url.QueryEscape(a.apiKey))

	res, err := doJSONRequest(ctx, a.client, endpoint, toChatRequest(model, req.Prompt), nil)
	if err != nil {
		// The URL embeds the key; keep it out of the reason.
		return finishAttempt(ctx, span, a.logger, a.Name(), model, req, transportFailure(ctx, redactKey(err, a.apiKey)))
	}

	var out domain.AttemptOutcome
	switch {
	case res.ok():
		out = domain.Succeeded(domain.NewGenerationResult(chatCandidateText(res.body), model.BackendModelID))
	case res.status == http.StatusTooManyRequests:
		out = domain.Retryable(statusError(domain.ErrRateLimit, res.status, res.body), chatRateLimitWait)
	default:
		out = domain.Permanent(statusError(domain.ErrProviderError, res.status, res.body))
	}
	return finishAttempt(ctx, span, a.logger, a.Name(), model, req, out)
}

// --- chat wire types ---

type chatRequest struct {
	Contents         []chatContent        `json:"contents"`
	GenerationConfig chatGenerationConfig `json:"generationConfig"`
}

type chatContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []chatPart `json:"parts"`
}

type chatPart struct {
	Text string `json:"text"`
}

type chatGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

func toChatRequest(model domain.ModelDescriptor, prompt string) chatRequest {
	return chatRequest{
		Contents: []chatContent{{
			Role:  "user",
			Parts: []chatPart{{Text: prompt}},
		}},
		GenerationConfig: chatGenerationConfig{
			Temperature:     model.Temperature,
			MaxOutputTokens: model.MaxOutputTokens,
		},
	}
}

// redactKey replaces the API key in err's message.
func redactKey(err error, key string) error {
	if key == "" {
		return err
	}
	msg := err.Error()
	for _, k := range []string{key, url.QueryEscape(key)} {
		msg = strings.ReplaceAll(msg, k, "REDACTED")
	}
	return fmt.Errorf("%s", msg)
}

var _ domain.Adapter = (*ChatAdapter)(nil)
