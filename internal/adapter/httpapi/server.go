package httpapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"dispatch-ai/internal/domain"
	"dispatch-ai/internal/infra/config"
	"dispatch-ai/internal/infra/metrics"
	"dispatch-ai/internal/infra/middleware"
	"dispatch-ai/internal/usecase"
)

// Route patterns.
const (
	RouteGenerate = "POST /api/v1/bots/{bot}/generate"
	RouteBatch    = "POST /api/v1/bots/{bot}/batch"
	RouteModels   = "GET /api/v1/bots/{bot}/models"
	RouteHealth   = "GET /healthz"
	RouteMetrics  = "GET /metrics"
)

// HealthReporter exposes the latest control-server probe result.
type HealthReporter interface {
	Status() usecase.ReachabilityStatus
}

// Deps are the services the API serves. Health and Metrics are optional.
type Deps struct {
	Generator domain.Generator
	Batch     domain.BatchGenerator
	Catalog   domain.ModelCatalog
	Health    HealthReporter
	Metrics   *metrics.Metrics
}

// Server is the HTTP front end for the gateway.
type Server struct {
	deps   Deps
	auth   *StaticTokenAuth
	cfg    config.ServerConfig
	logger *slog.Logger

	mu        sync.Mutex
	httpSrv   *http.Server
	boundAddr string
}

// NewServer creates a server. Nothing listens until Start.
func NewServer(deps Deps, cfg config.ServerConfig, logger *slog.Logger) *Server {
	return &Server{
		deps:   deps,
		auth:   NewStaticTokenAuth(cfg.Auth.Tokens),
		cfg:    cfg,
		logger: logger,
	}
}

// Handler builds the full middleware chain. ctx bounds the rate limiter's
// background eviction loop.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()

	api := func(route string, h http.HandlerFunc) {
		mux.Handle(route, middleware.Instrument(s.deps.Metrics, route)(RequireToken(s.auth)(h)))
	}
	open := func(route string, h http.Handler) {
		mux.Handle(route, middleware.Instrument(s.deps.Metrics, route)(h))
	}

	api(RouteGenerate, s.handleGenerate)
	api(RouteBatch, s.handleBatch)
	api(RouteModels, s.handleModels)
	open(RouteHealth, http.HandlerFunc(s.handleHealth))
	if s.deps.Metrics != nil {
		open(RouteMetrics, s.deps.Metrics.Handler())
	}

	var h http.Handler = mux
	if s.cfg.RateLimit.Rate > 0 {
		h = middleware.RateLimit(ctx, s.cfg.RateLimit)(h)
	}
	h = middleware.SecurityHeaders(h)
	h = middleware.AccessLog(s.logger)(h)
	h = middleware.TraceContext(h)
	h = middleware.Recover(s.logger)(h)
	return h
}

// Start listens on the configured address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("httpapi listen: %w", err)
	}

	srv := &http.Server{
		Handler:           s.Handler(ctx),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	s.mu.Lock()
	s.httpSrv = srv
	s.boundAddr = listener.Addr().String()
	s.mu.Unlock()

	s.logger.Info("http api started", "addr", listener.Addr().String(), "auth", s.auth.Enabled())

	go func() {
		<-ctx.Done()
		if err := s.Stop(context.Background()); err != nil {
			s.logger.Warn("http api shutdown", "error", err)
		}
	}()

	if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("httpapi serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpSrv
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// BoundAddr returns the actual listen address. Only valid after Start.
func (s *Server) BoundAddr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.boundAddr
}
