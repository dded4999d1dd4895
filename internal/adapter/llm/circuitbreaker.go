package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// errAttemptFailed carries a non-success outcome through the breaker.
type errAttemptFailed struct {
	outcome domain.AttemptOutcome
}

func (e *errAttemptFailed) Error() string { return e.outcome.Reason() }

// BreakerAdapter wraps an adapter with one circuit breaker per model ID.
// When a model fails repeatedly its circuit opens and further calls fail
// permanently without reaching the network, so the gateway moves straight
// on to the next candidate.
type BreakerAdapter struct {
	inner    domain.Adapter
	settings gobreaker.Settings
	logger   *slog.Logger

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker[domain.AttemptOutcome]
}

// NewBreakerAdapter wraps inner. Zero-valued cfg fields use defaults.
func NewBreakerAdapter(inner domain.Adapter, cfg config.CircuitBreakerConfig, logger *slog.Logger) *BreakerAdapter {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	return &BreakerAdapter{
		inner: inner,
		settings: gobreaker.Settings{
			MaxRequests: 1, // allow 1 probe in half-open state
			Interval:    interval,
			Timeout:     timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= maxFailures
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("circuit breaker state change",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
			IsSuccessful: func(err error) bool {
				// Cancellation is not counted against the model.
				return err == nil || errors.Is(err, context.Canceled)
			},
		},
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[domain.AttemptOutcome]),
	}
}

func (b *BreakerAdapter) breakerFor(modelID string) *gobreaker.CircuitBreaker[domain.AttemptOutcome] {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[modelID]
	if !ok {
		s := b.settings
		s.Name = b.inner.Name() + ":" + modelID
		cb = gobreaker.NewCircuitBreaker[domain.AttemptOutcome](s)
		b.breakers[modelID] = cb
	}
	return cb
}

// Invoke implements domain.Adapter. Calls are routed through the model's breaker.
func (b *BreakerAdapter) Invoke(ctx context.Context, model domain.ModelDescriptor, req domain.GenerationRequest) domain.AttemptOutcome {
	out, err := b.breakerFor(model.ID).Execute(func() (domain.AttemptOutcome, error) {
		out := b.inner.Invoke(ctx, model, req)
		if !out.OK() {
			if errors.Is(out.Err, context.Canceled) {
				return out, out.Err
			}
			return out, &errAttemptFailed{outcome: out}
		}
		return out, nil
	})
	if err == nil {
		return out
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		b.logger.DebugContext(ctx, "circuit open, skipping model",
			"adapter", b.inner.Name(),
			"model", model.ID,
			"request_id", req.RequestID,
		)
		return domain.Permanent(fmt.Errorf("%w: model %q: %v", domain.ErrCircuitOpen, model.ID, err))
	}

	var failed *errAttemptFailed
	if errors.As(err, &failed) {
		return failed.outcome
	}
	return out
}

// Name implements domain.Adapter.
func (b *BreakerAdapter) Name() string { return b.inner.Name() }

// State returns the breaker state for a model (closed if never called).
func (b *BreakerAdapter) State(modelID string) gobreaker.State {
	b.mu.Lock()
	cb, ok := b.breakers[modelID]
	b.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

var _ domain.Adapter = (*BreakerAdapter)(nil)
