package main

import (
	"context"
	"fmt"
	"log/slog"

	"dispatch-ai/internal/adapter/llm"
	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/config"
	"dispatch-ai/internal/infra/logger"
	"dispatch-ai/internal/infra/metrics"
	"dispatch-ai/internal/infra/tracer"
	"dispatch-ai/internal/usecase"
)

// components holds everything a command may need. One gateway per process.
type components struct {
	cfg      *config.Config
	log      *slog.Logger
	metrics  *metrics.Metrics
	registry *llm.Registry
	gateway  *usecase.Gateway
	batch    *usecase.BatchRunner
	control  *llm.ControlAdapter         // nil when the control path is disabled
	monitor  *usecase.ReachabilityMonitor // nil when disabled or unscheduled
}

// bootstrap loads config, sets up logging and tracing, and builds the
// components. The returned cleanup flushes the tracer and closes the log.
func bootstrap(ctx context.Context, args cliArgs) (*components, func(), error) {
	cfg, err := config.Load(args.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		logCloser()
		return nil, nil, fmt.Errorf("tracer: %w", err)
	}

	c, err := build(cfg, log)
	if err != nil {
		tracerShutdown(ctx)
		logCloser()
		return nil, nil, err
	}

	cleanup := func() {
		if err := tracerShutdown(context.Background()); err != nil {
			log.Warn("tracer shutdown", "error", err)
		}
		logCloser()
	}
	return c, cleanup, nil
}

// build wires the registry, adapters, gateway, batch runner and
// reachability monitor from cfg.
func build(cfg *config.Config, log *slog.Logger) (*components, error) {
	// 1. Model registry
	registry, err := llm.NewRegistry(llm.CatalogFromConfig(cfg.Catalog))
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}

	// 2. Provider adapters
	var inference domain.Adapter = llm.NewInferenceAdapter(
		cfg.Providers.Inference, cfg.Credentials, logger.Component(log, "llm.inference"))
	chatAdapter := llm.NewChatAdapter(
		cfg.Providers.Chat, cfg.Credentials, logger.Component(log, "llm.chat"))
	var chat domain.Adapter = chatAdapter

	if !chatAdapter.Configured() {
		log.Info("chat api key not set, chat-generative candidates will be skipped")
	}

	// Wrap with circuit breakers if enabled (per model).
	cb := cfg.Gateway.CircuitBreaker
	if cb.Enabled {
		inference = llm.NewBreakerAdapter(inference, cb, logger.Component(log, "llm.breaker"))
		chat = llm.NewBreakerAdapter(chat, cb, logger.Component(log, "llm.breaker"))
		log.Info("llm circuit breaker enabled",
			"max_failures", cb.MaxFailures,
			"timeout", cb.Timeout,
			"interval", cb.Interval,
		)
	}

	m := metrics.New()

	// 3. Gateway
	gw := usecase.NewGateway(registry, inference, chat, logger.Component(log, "gateway"))
	gw.SetMaxRetryWait(cfg.Gateway.MaxRetryWait)
	gw.SetMetrics(m)

	c := &components{
		cfg:      cfg,
		log:      log,
		metrics:  m,
		registry: registry,
		gateway:  gw,
	}

	// 4. Control path and reachability monitor
	if ctl := cfg.Providers.Control; ctl.Enabled {
		c.control = llm.NewControlAdapter(ctl, cfg.Credentials, logger.Component(log, "llm.control"))
		gw.SetControl(c.control)
		if !c.control.Configured() {
			log.Info("control path enabled but no token set, it will be skipped")
		}

		if ctl.ProbeSchedule != "" {
			sched, err := config.ParseSchedule(ctl.ProbeSchedule)
			if err != nil {
				return nil, fmt.Errorf("probe schedule: %w", err)
			}
			c.monitor = usecase.NewReachabilityMonitor(c.control, sched, logger.Component(log, "monitor"))
			c.monitor.SetMetrics(m)
		}
	}

	// 5. Batch runner
	c.batch = usecase.NewBatchRunner(gw, cfg.Gateway.BatchSize, logger.Component(log, "batch"))
	c.batch.SetMetrics(m)

	return c, nil
}
