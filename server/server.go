// Package server exposes the message router over HTTP and MCP.
//
//	GET  /health                  liveness
//	GET  /api/messages            registered message types
//	POST /api/messages/{type}     dispatch one message, JSON in and out
//	GET  /metrics                 Prometheus
//	     /mcp                     MCP streamable HTTP, one tool per message
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hazyhaar/a11yfix/connectivity"
)

// maxMessageBody bounds a message payload.
const maxMessageBody = 64 << 10

// Server serves one connectivity.Router.
type Server struct {
	router   *connectivity.Router
	logger   *slog.Logger
	gatherer prometheus.Gatherer
	mcp      *mcp.Server
	handler  http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Server) { s.logger = l } }

// WithGatherer replaces the default Prometheus registry for /metrics.
func WithGatherer(g prometheus.Gatherer) Option { return func(s *Server) { s.gatherer = g } }

// New builds the HTTP handler and the MCP server for router. Message types
// registered later are reachable over HTTP but not listed as MCP tools.
func New(router *connectivity.Router, opts ...Option) *Server {
	s := &Server{
		router:   router,
		logger:   slog.Default(),
		gatherer: prometheus.DefaultGatherer,
	}
	for _, o := range opts {
		o(s)
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: "a11yfix", Version: "1.0.0"}, nil)
	s.registerTools()
	s.handler = s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.handler }

// MCP returns the MCP server, for transports other than HTTP.
func (s *Server) MCP() *mcp.Server { return s.mcp }

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(headToGet, securityHeaders, s.requestLogger)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/api/messages", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string][]string{"types": s.router.Types()})
	})
	r.Post("/api/messages/{type}", s.handleMessage)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	mcpHandler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	r.Handle("/mcp", mcpHandler)
	r.Handle("/mcp/*", mcpHandler)
	return r
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	msgType := chi.URLParam(r, "type")
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	out, err := s.router.Call(r.Context(), msgType, payload)
	if err != nil {
		var unknown *connectivity.ErrUnknownMessage
		if errors.As(err, &unknown) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		requestLogger(r.Context(), s.logger).Error("server: message failed", "type", msgType, "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server: listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: listen %s: %w", addr, err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	s.logger.Info("server: stopped")
	return nil
}
