package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/trace"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/metrics"
	"dispatch-ai/internal/infra/tracer"
)

// ControlAdapter is the optional control-protocol path tried before the
// regular candidate loop.
type ControlAdapter interface {
	domain.Adapter
	Configured() bool
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Gateway resolves a bot identity to its candidate models and walks them in
// order until one produces text. It is safe for concurrent use.
type Gateway struct {
	catalog   domain.ModelCatalog
	inference domain.Adapter
	chat      domain.Adapter
	control   ControlAdapter // nil = no control path

	maxRetryWait time.Duration // 0 = uncapped
	sleep        SleepFunc
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

// NewGateway creates a Gateway. The control adapter, metrics and retry cap are
// optional and can be set after construction.
func NewGateway(catalog domain.ModelCatalog, inference, chat domain.Adapter, logger *slog.Logger) *Gateway {
	return &Gateway{
		catalog:   catalog,
		inference: inference,
		chat:      chat,
		sleep:     sleepContext,
		logger:    logger,
	}
}

// SetControl enables the control-protocol first attempt.
func (g *Gateway) SetControl(c ControlAdapter) { g.control = c }

// SetMetrics attaches a metrics sink.
func (g *Gateway) SetMetrics(m *metrics.Metrics) { g.metrics = m }

// SetMaxRetryWait caps the backoff before a retry. Zero leaves it uncapped.
func (g *Gateway) SetMaxRetryWait(d time.Duration) { g.maxRetryWait = d }

// SetSleep replaces the backoff sleep (tests).
func (g *Gateway) SetSleep(fn SleepFunc) { g.sleep = fn }

// GenerateForBot produces text for prompt using botIdentity's candidate list.
// The first successful candidate wins. When every candidate fails the error
// is a *domain.ExhaustionError.
func (g *Gateway) GenerateForBot(ctx context.Context, botIdentity, prompt, taskTag string) (*domain.GenerationResult, error) {
	if strings.TrimSpace(prompt) == "" {
		g.metrics.IncGeneration(botIdentity, "invalid")
		return nil, domain.NewDomainError("Gateway.GenerateForBot", domain.ErrInvalidInput, "prompt is empty")
	}

	req := domain.GenerationRequest{
		RequestID:   newRequestID(),
		BotIdentity: botIdentity,
		Prompt:      prompt,
		TaskTag:     taskTag,
	}

	ctx, span := tracer.StartSpan(ctx, tracer.SpanGenerate,
		trace.WithAttributes(tracer.RequestAttrs(req)...),
	)
	defer span.End()

	logger := g.logger.With("request_id", req.RequestID, "bot", botIdentity, "task", taskTag)

	result, err := g.generate(ctx, req, logger)
	if err != nil {
		tracer.RecordError(span, err)
		g.metrics.IncGeneration(botIdentity, generationStatus(err))
		return nil, err
	}

	span.SetAttributes(
		tracer.StringAttr("gateway.model_used", result.ModelUsed),
		tracer.IntAttr("gateway.estimated_tokens", result.EstimatedTokens),
	)
	tracer.SetOK(span)
	g.metrics.IncGeneration(botIdentity, "success")
	g.metrics.AddTokens(result.ModelUsed, result.EstimatedTokens)
	return result, nil
}

func (g *Gateway) generate(ctx context.Context, req domain.GenerationRequest, logger *slog.Logger) (*domain.GenerationResult, error) {
	candidates := g.catalog.ListFor(req.BotIdentity)

	if g.useControl(candidates) {
		top := candidates[0]
		out := g.invoke(ctx, g.control, top, req)
		if out.OK() {
			g.metrics.IncControlPath("success")
			logger.InfoContext(ctx, "generation served via control path", "model", top.BackendModelID)
			return &out.Result, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		g.metrics.IncControlPath("failure")
		logger.WarnContext(ctx, "control path failed, falling back to candidates",
			"model", top.BackendModelID,
			"error", out.Reason(),
		)
	}

	failures := make([]domain.CandidateFailure, 0, len(candidates))
	for i, model := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		out := g.tryCandidate(ctx, model, req, logger)
		if out.OK() {
			if i > 0 {
				logger.InfoContext(ctx, "generation served by fallback candidate",
					"model", model.BackendModelID,
					"position", i+1,
				)
			}
			return &out.Result, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		failures = append(failures, domain.CandidateFailure{ModelID: model.ID, Reason: out.Reason()})
		g.metrics.IncFallback(req.BotIdentity)
		logger.WarnContext(ctx, "candidate failed",
			"model", model.BackendModelID,
			"provider", string(model.Provider),
			"position", i+1,
			"error", out.Reason(),
		)
	}

	return nil, &domain.ExhaustionError{
		BotIdentity: req.BotIdentity,
		Tried:       len(candidates),
		Failures:    failures,
	}
}

// useControl reports whether the control path applies to this candidate list.
func (g *Gateway) useControl(candidates []domain.ModelDescriptor) bool {
	if g.control == nil || !g.control.Configured() || len(candidates) == 0 {
		return false
	}
	return candidates[0].Provider != domain.ProviderChatGenerative
}

// adapterFor dispatches on the candidate's provider kind.
func (g *Gateway) adapterFor(model domain.ModelDescriptor) domain.Adapter {
	switch model.Provider {
	case domain.ProviderChatGenerative:
		return g.chat
	default:
		return g.inference
	}
}

// tryCandidate invokes one candidate, retrying once after a retryable
// outcome. A second retryable outcome is treated as permanent.
func (g *Gateway) tryCandidate(ctx context.Context, model domain.ModelDescriptor, req domain.GenerationRequest, logger *slog.Logger) domain.AttemptOutcome {
	adapter := g.adapterFor(model)

	out := g.invoke(ctx, adapter, model, req)
	if out.Kind != domain.OutcomeRetryable {
		return out
	}

	wait := out.Wait
	if g.maxRetryWait > 0 && wait > g.maxRetryWait {
		wait = g.maxRetryWait
	}
	logger.InfoContext(ctx, "transient failure, retrying once",
		"model", model.BackendModelID,
		"wait", wait,
		"error", out.Reason(),
	)
	g.metrics.IncRetry(adapter.Name())

	if err := g.sleep(ctx, wait); err != nil {
		return domain.Permanent(err)
	}

	retry := g.invoke(ctx, adapter, model, req)
	if retry.Kind == domain.OutcomeRetryable {
		return domain.Permanent(fmt.Errorf("still unavailable after retry: %w", retry.Err))
	}
	return retry
}

// invoke runs one adapter call and records it.
func (g *Gateway) invoke(ctx context.Context, adapter domain.Adapter, model domain.ModelDescriptor, req domain.GenerationRequest) domain.AttemptOutcome {
	start := time.Now()
	out := adapter.Invoke(ctx, model, req)
	g.metrics.ObserveAttempt(adapter.Name(), model.ID, out.Kind.String(), time.Since(start))
	return out
}

func generationStatus(err error) string {
	switch {
	case errors.Is(err, domain.ErrCandidatesExhausted):
		return "exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// idEntropy is shared by all callers; ids stay unique across concurrent
// batch items within one millisecond.
var (
	idMu      sync.Mutex
	idEntropy = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
)

func newRequestID() string {
	idMu.Lock()
	defer idMu.Unlock()
	return ulid.MustNew(ulid.Now(), idEntropy).String()
}

var _ domain.Generator = (*Gateway)(nil)
