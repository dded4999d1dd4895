package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/tracer"
)

// maxResponseBody is the maximum response body size we read from upstream APIs.
const maxResponseBody = 10 * 1024 * 1024 // 10 MB

// maxLoggedBody caps how much of an error body ends up in reasons and logs.
const maxLoggedBody = 512

// httpResult is a fully read upstream response.
type httpResult struct {
	status int
	header http.Header
	body   []byte
}

func (r *httpResult) ok() bool { return r.status >= 200 && r.status < 300 }

// doJSONRequest marshals payload, POSTs it and reads the body (with limit).
// Unlike a typical client helper it does not map non-2xx statuses to errors:
// each adapter classifies statuses itself. A returned error is always a
// transport-level failure.
func doJSONRequest(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) (*httpResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	return do(client, httpReq)
}

func do(client *http.Client, req *http.Request) (*httpResult, error) {
	httpResp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &httpResult{
		status: httpResp.StatusCode,
		header: httpResp.Header,
		body:   respBody,
	}, nil
}

// transportFailure converts a transport error into an outcome. Context
// cancellation is surfaced as-is so the gateway can stop immediately.
func transportFailure(ctx context.Context, err error) domain.AttemptOutcome {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return domain.Permanent(ctxErr)
	}
	return domain.Permanent(fmt.Errorf("%w: %v", domain.ErrUnreachable, err))
}

// statusError builds a permanent-failure reason carrying status and body.
func statusError(sentinel error, status int, body []byte) error {
	return fmt.Errorf("%w: status %d: %s", sentinel, status, truncate(body, maxLoggedBody))
}

// truncate returns at most n bytes of b as a string.
func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= n {
		return s
	}
	return s[:n] + "...(truncated)"
}

// parseRetryAfter reads a Retry-After header given in whole seconds.
// Absent, malformed or negative values yield fallback.
func parseRetryAfter(v string, fallback time.Duration) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return fallback
	}
	return time.Duration(secs) * time.Second
}

// bearer returns an Authorization header map, or nil when token is empty.
func bearer(token string) map[string]string {
	if token == "" {
		return nil
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

// startAttemptSpan opens the per-attempt span shared by every adapter.
func startAttemptSpan(ctx context.Context, adapter string, model domain.ModelDescriptor, req domain.GenerationRequest) (context.Context, trace.Span) {
	return tracer.StartSpan(ctx, tracer.SpanAttempt,
		trace.WithAttributes(tracer.ModelAttrs(adapter, model)...),
		trace.WithAttributes(tracer.RequestAttrs(req)...),
	)
}

// finishAttempt records the outcome on span and logs it at debug level.
func finishAttempt(ctx context.Context, span trace.Span, logger *slog.Logger, adapter string, model domain.ModelDescriptor, req domain.GenerationRequest, out domain.AttemptOutcome) domain.AttemptOutcome {
	span.SetAttributes(tracer.StringAttr("llm.outcome", out.Kind.String()))
	if out.OK() {
		span.SetAttributes(tracer.IntAttr("llm.estimated_tokens", out.Result.EstimatedTokens))
		tracer.SetOK(span)
	} else {
		tracer.RecordError(span, out.Err)
	}

	logger.DebugContext(ctx, "llm attempt completed",
		"adapter", adapter,
		"model", model.BackendModelID,
		"request_id", req.RequestID,
		"outcome", out.Kind.String(),
		"error", out.Reason(),
	)
	return out
}
