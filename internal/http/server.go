// Package http serves the metrics, status and health endpoints of the run service.
package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Server represents the HTTP server for metrics and status endpoints.
type Server struct {
	server *http.Server
	logger zerolog.Logger
}

// NewServer creates a new HTTP server. Metrics are served from gatherer.
func NewServer(addr string, gatherer prometheus.Gatherer, status *StatusHandler, logger zerolog.Logger) *Server {
	return &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      NewHandler(gatherer, status),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger.With().Str("component", "http").Logger(),
	}
}

// NewHandler returns the routes of the server.
func NewHandler(gatherer prometheus.Gatherer, status *StatusHandler) http.Handler {
	mux := http.NewServeMux()

	// Register handlers
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/status", status)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return mux
}

// Start starts the HTTP server and blocks until it is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}
