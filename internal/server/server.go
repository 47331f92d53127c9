// Package server exposes the job engine over HTTP and WebSocket: job
// submission, polling projections, chunk replay, and a live push feed.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chyon8/AI-consultant-sub001/internal/jobs"
	"github.com/chyon8/AI-consultant-sub001/internal/metrics"
	"github.com/chyon8/AI-consultant-sub001/internal/service"
)

// keepAliveInterval is how often idle websocket connections are pinged so
// intermediaries do not reclaim them.
const keepAliveInterval = 10 * time.Second

// Server wires the registry, job service, and metrics behind an http.Server
// with lifecycle management.
type Server struct {
	registry *jobs.Registry
	service  *service.Service
	metrics  *metrics.Collector
	logger   *slog.Logger
	http     *http.Server
	upgrader websocket.Upgrader
}

// New creates a server listening on addr.
func New(addr string, registry *jobs.Registry, svc *service.Service, collector *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		registry: registry,
		service:  svc,
		metrics:  collector,
		logger:   logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // same-origin in prod, proxy in dev
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	s.http = &http.Server{
		Addr:         addr,
		Handler:      LoggingMiddleware(logger)(s.routes()),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 0, // streaming responses stay open indefinitely
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/jobs", s.handleCreateJob)
	mux.HandleFunc("GET /api/jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /api/jobs/{id}/chunks", s.handleGetChunks)
	mux.HandleFunc("POST /api/jobs/{id}/cancel", s.handleCancelJob)
	mux.HandleFunc("GET /api/sessions/{sessionId}/jobs", s.handleSessionJobs)
	mux.HandleFunc("GET /ws/jobs/{id}", s.handleJobStream)
	mux.HandleFunc("GET /api/metrics", s.handleMetrics)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok\n"))
	})

	return mux
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run starts serving and blocks until the listener fails or is shut down.
func (s *Server) Run() error {
	s.logger.Info("http server listening", "addr", s.http.Addr)
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
