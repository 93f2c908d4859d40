// Package api serves the backtest job API.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/newthinker/tradesim/internal/api/handler"
	"github.com/newthinker/tradesim/internal/api/middleware"
	"github.com/newthinker/tradesim/internal/api/response"
	"github.com/newthinker/tradesim/internal/metrics"
	"github.com/newthinker/tradesim/internal/strategy"
)

// Server represents the HTTP server for the job API.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
	mux        *http.ServeMux
	backtests  *handler.BacktestHandler
}

// Config holds server configuration
type Config struct {
	Host   string
	Port   int
	APIKey string
}

// Dependencies are the components the routes delegate to. Metrics is
// optional; when set, /metrics is served and requests are recorded.
type Dependencies struct {
	Backtests  *handler.BacktestHandler
	Strategies *strategy.Registry
	Metrics    *metrics.Registry
}

// NewServer creates a new HTTP server
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) (*Server, error) {
	if deps.Backtests == nil || deps.Strategies == nil {
		return nil, errors.New("backtest handler and strategy registry are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mux := http.NewServeMux()
	s := &Server{
		logger:    logger,
		mux:       mux,
		backtests: deps.Backtests,
	}
	s.setupRoutes(cfg, deps)

	var h http.Handler = mux
	h = middleware.RequestLogger(logger)(h)
	if deps.Metrics != nil {
		h = metrics.HTTPMiddleware(deps.Metrics)(h)
	}

	s.httpServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// setupRoutes configures all HTTP routes. Everything under /api/v1 sits
// behind the API key.
func (s *Server) setupRoutes(cfg Config, deps Dependencies) {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
	if deps.Metrics != nil {
		s.mux.Handle("GET /metrics", deps.Metrics.Exposition())
	}

	auth := middleware.APIKeyAuth(cfg.APIKey)
	v1 := func(pattern string, h http.HandlerFunc) {
		s.mux.Handle(pattern, auth(h))
	}
	v1("GET /api/v1/strategies", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, http.StatusOK, map[string]any{"strategies": deps.Strategies.Names()})
	})
	v1("POST /api/v1/backtests", deps.Backtests.Create)
	v1("GET /api/v1/backtests", deps.Backtests.List)
	v1("GET /api/v1/backtests/{id}", func(w http.ResponseWriter, r *http.Request) {
		deps.Backtests.GetStatus(w, r, r.PathValue("id"))
	})
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests, then waits for running jobs until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	err := s.httpServer.Shutdown(ctx)
	if jobErr := s.backtests.Shutdown(ctx); jobErr != nil && err == nil {
		err = fmt.Errorf("waiting for jobs: %w", jobErr)
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
