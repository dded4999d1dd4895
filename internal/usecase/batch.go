package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/metrics"
	"dispatch-ai/internal/infra/tracer"
)

// DefaultBatchSize is the chunk size used when none is configured.
const DefaultBatchSize = 5

// BatchRunner fans prompts out to a Generator in fixed-size chunks. Calls
// inside a chunk run concurrently; the next chunk starts only after the whole
// previous chunk has finished.
type BatchRunner struct {
	gen     domain.Generator
	size    int
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBatchRunner creates a BatchRunner. A non-positive size uses DefaultBatchSize.
func NewBatchRunner(gen domain.Generator, size int, logger *slog.Logger) *BatchRunner {
	if size <= 0 {
		size = DefaultBatchSize
	}
	return &BatchRunner{gen: gen, size: size, logger: logger}
}

// SetMetrics attaches a metrics sink.
func (b *BatchRunner) SetMetrics(m *metrics.Metrics) { b.metrics = m }

// GenerateBatch returns one result per prompt, in input order. The first
// failure fails the whole batch and no partial results are returned.
func (b *BatchRunner) GenerateBatch(ctx context.Context, botIdentity string, prompts []string, taskTag string) ([]domain.GenerationResult, error) {
	if len(prompts) == 0 {
		return []domain.GenerationResult{}, nil
	}

	ctx, span := tracer.StartSpan(ctx, tracer.SpanBatch,
		trace.WithAttributes(
			tracer.StringAttr("gateway.bot", botIdentity),
			tracer.StringAttr("gateway.task", taskTag),
			tracer.IntAttr("batch.prompts", len(prompts)),
			tracer.IntAttr("batch.chunk_size", b.size),
		),
	)
	defer span.End()
	b.metrics.ObserveBatch(len(prompts))

	results := make([]domain.GenerationResult, len(prompts))
	for start := 0; start < len(prompts); start += b.size {
		end := min(start+b.size, len(prompts))

		if err := b.runChunk(ctx, botIdentity, prompts, taskTag, start, end, results); err != nil {
			tracer.RecordError(span, err)
			b.logger.WarnContext(ctx, "batch failed",
				"bot", botIdentity,
				"task", taskTag,
				"chunk_start", start,
				"error", err,
			)
			return nil, err
		}
	}

	tracer.SetOK(span)
	b.logger.DebugContext(ctx, "batch completed", "bot", botIdentity, "task", taskTag, "prompts", len(prompts))
	return results, nil
}

// runChunk generates prompts[start:end] concurrently into results.
func (b *BatchRunner) runChunk(ctx context.Context, botIdentity string, prompts []string, taskTag string, start, end int, results []domain.GenerationResult) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := start; i < end; i++ {
		g.Go(func() error {
			res, err := b.gen.GenerateForBot(gctx, botIdentity, prompts[i], taskTag)
			if err != nil {
				return fmt.Errorf("prompt %d: %w", i, err)
			}
			results[i] = *res
			return nil
		})
	}
	return g.Wait()
}

var _ domain.BatchGenerator = (*BatchRunner)(nil)
