// Package web exposes the HTTP API: session CRUD, streaming turns over
// SSE, approval decisions, the audit query endpoint, and operational
// endpoints (health, metrics).
package web

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/steward/internal/audit"
	"github.com/haasonsaas/steward/internal/chat"
	"github.com/haasonsaas/steward/internal/observability"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// ReadHeaderTimeout guards against slowloris clients. Default: 5s
	ReadHeaderTimeout time.Duration
}

// Server is the HTTP front end.
type Server struct {
	config  *Config
	chat    *chat.Service
	auditor audit.Sink
	metrics *observability.Metrics
	logger  *slog.Logger

	httpServer *http.Server
	listener   net.Listener
}

// NewServer creates the HTTP server. The metrics argument may be nil.
func NewServer(config *Config, chatService *chat.Service, auditor audit.Sink, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if config == nil {
		config = &Config{}
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = 5 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:  config,
		chat:    chatService,
		auditor: auditor,
		metrics: metrics,
		logger:  logger,
	}
}

// Handler builds the full route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	api := http.NewServeMux()
	api.HandleFunc("POST /sessions", s.handleCreateSession)
	api.HandleFunc("GET /sessions", s.handleListSessions)
	api.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	api.HandleFunc("GET /sessions/{id}/messages", s.handleGetHistory)
	api.HandleFunc("POST /sessions/{id}/archive", s.handleArchiveSession)
	api.HandleFunc("POST /sessions/{id}/messages", s.handleSendMessage)
	api.HandleFunc("GET /sessions/{id}/approvals", s.handleListApprovals)
	api.HandleFunc("POST /sessions/{id}/approvals/{token}", s.handleDecideApproval)
	api.HandleFunc("GET /admin/audit", s.handleQueryAudit)
	mux.Handle("/", requireUser(api))

	var handler http.Handler = mux
	handler = metricsMiddleware(s.metrics)(handler)
	handler = loggingMiddleware(s.logger)(handler)
	return handler
}

// Start begins serving in a background goroutine.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server error", "error", err)
		}
	}()

	s.logger.Info("http server listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, useful when Port is 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests and stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
