package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/config"
	"dispatch-ai/internal/infra/tracer"
)

const (
	defaultControlBaseURL = "https://huggingface.co/mcp"
	defaultProbeTimeout   = 5 * time.Second
)

// ControlAdapter reaches models through a session-oriented control server:
// a reachability probe first, then the generation call on /inference.
type ControlAdapter struct {
	baseURL      string
	token        string
	probeTimeout time.Duration
	client       *http.Client
	logger       *slog.Logger
}

// NewControlAdapter creates the control-protocol adapter. The bearer token is
// the read token, falling back to the API key.
func NewControlAdapter(cfg config.ControlConfig, creds config.CredentialsConfig, logger *slog.Logger) *ControlAdapter {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultControlBaseURL
	}
	token := creds.ReadToken
	if token == "" {
		token = creds.APIKey
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}

	return &ControlAdapter{
		baseURL:      baseURL,
		token:        token,
		probeTimeout: probeTimeout,
		client:       NewHTTPClient(cfg.EndpointConfig),
		logger:       logger,
	}
}

// Name implements domain.Adapter.
func (a *ControlAdapter) Name() string { return "control" }

// Configured reports whether a token is available for the control server.
func (a *ControlAdapter) Configured() bool { return a.token != "" }

// BaseURL returns the control server endpoint.
func (a *ControlAdapter) BaseURL() string { return a.baseURL }

// Probe checks that the control server is reachable. A 401 counts as
// reachable: the server exists and only wants credentials.
func (a *ControlAdapter) Probe(ctx context.Context) error {
	ctx, span := tracer.StartSpan(ctx, tracer.SpanProbe)
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, a.probeTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL, nil)
	if err != nil {
		tracer.RecordError(span, err)
		return fmt.Errorf("%w: create probe: %v", domain.ErrUnreachable, err)
	}
	for k, v := range bearer(a.token) {
		httpReq.Header.Set(k, v)
	}

	res, err := do(a.client, httpReq)
	if err != nil {
		err = fmt.Errorf("%w: probe %s: %v", domain.ErrUnreachable, a.baseURL, err)
		tracer.RecordError(span, err)
		return err
	}
	span.SetAttributes(tracer.IntAttr("http.status_code", res.status))

	if res.ok() || res.status == http.StatusUnauthorized {
		tracer.SetOK(span)
		return nil
	}
	err = statusError(domain.ErrUnreachable, res.status, res.body)
	tracer.RecordError(span, err)
	return err
}

// Invoke implements domain.Adapter. An unreachable server fails permanently
// without attempting generation; otherwise the response is handled exactly
// like a generic-inference response.
func (a *ControlAdapter) Invoke(ctx context.Context, model domain.ModelDescriptor, req domain.GenerationRequest) domain.AttemptOutcome {
	ctx, span := startAttemptSpan(ctx, a.Name(), model, req)
	defer span.End()

	if err := a.Probe(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return finishAttempt(ctx, span, a.logger, a.Name(), model, req, domain.Permanent(err))
	}

	body := newInferenceRequest(model, req.Prompt)
	body.Model = model.BackendModelID

	res, err := doJSONRequest(ctx, a.client, a.baseURL+"/inference", body, bearer(a.token))
	if err != nil {
		return finishAttempt(ctx, span, a.logger, a.Name(), model, req, transportFailure(ctx, err))
	}
	return finishAttempt(ctx, span, a.logger, a.Name(), model, req, classifyInference(res, model, req.Prompt))
}

var _ domain.Adapter = (*ControlAdapter)(nil)
