// Package server exposes the run's Prometheus metrics over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server serves /metrics and /healthz.
type Server struct {
	httpServer *http.Server
}

// NewServer prepares a server listening on httpAddr. Nothing is bound until
// Run.
func NewServer(httpAddr string) *Server {
	s := &Server{}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	// Recovery must be outer-most to catch everything.
	var handler http.Handler = mux
	handler = s.ObserveMiddleware(handler)
	handler = s.RecoveryMiddleware(handler)

	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Run blocks serving requests until Shutdown.
func (s *Server) Run() error {
	slog.Info("[SERVER] metrics endpoint listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server startup failed: %w", err)
	}
	return nil
}

// Shutdown stops the HTTP server, waiting up to 5s for open requests.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		slog.Error("[SERVER] shutdown error", "error", err)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}
