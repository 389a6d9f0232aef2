// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package server exposes the chat pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kadirpekel/agenthub/pkg/config"
	"github.com/kadirpekel/agenthub/pkg/llms"
	"github.com/kadirpekel/agenthub/pkg/pipeline"
	"github.com/kadirpekel/agenthub/pkg/rag"
)

const (
	defaultPort         = 8080
	defaultReadTimeout  = 30 * time.Second
	defaultWriteTimeout = 120 * time.Second
	shutdownTimeout     = 10 * time.Second

	maxRequestBody = 1 << 20
)

// ReloadFunc re-reads configuration and swaps the tenant snapshot.
// Wired by the caller; the server only triggers it.
type ReloadFunc func(ctx context.Context) error

// Server serves the chat endpoint, health, reload, and metrics.
type Server struct {
	pipeline   *pipeline.Pipeline
	reload     ReloadFunc
	httpServer *http.Server
	logger     *slog.Logger
}

// Option configures the server.
type Option func(*Server)

// WithReload enables POST /v1/reload.
func WithReload(fn ReloadFunc) Option {
	return func(s *Server) {
		s.reload = fn
	}
}

func New(cfg config.ServerConfig, p *pipeline.Pipeline, logger *slog.Logger, opts ...Option) (*Server, error) {
	if p == nil {
		return nil, fmt.Errorf("server requires a pipeline")
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		pipeline: p,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	port := cfg.Port
	if port == 0 {
		port = defaultPort
	}
	readTimeout := defaultReadTimeout
	if cfg.ReadTimeout > 0 {
		readTimeout = time.Duration(cfg.ReadTimeout) * time.Second
	}
	writeTimeout := defaultWriteTimeout
	if cfg.WriteTimeout > 0 {
		writeTimeout = time.Duration(cfg.WriteTimeout) * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, port),
		Handler:      s.routes(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s, nil
}

// Address returns the listen address.
func (s *Server) Address() string {
	return s.httpServer.Addr
}

// Handler returns the HTTP handler, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())
	r.Post("/v1/chat", s.handleChat)
	r.Post("/v1/reload", s.handleReload)

	return r
}

// Start serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req pipeline.ChatRequest
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	resp, err := s.pipeline.Handle(r.Context(), req)
	if err != nil {
		s.writeChatError(w, r, req, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeChatError maps pipeline failures to status codes. Isolation
// violations are deliberately reported without detail.
func (s *Server) writeChatError(w http.ResponseWriter, r *http.Request, req pipeline.ChatRequest, err error) {
	switch {
	case errors.Is(err, pipeline.ErrUnknownTenant):
		writeError(w, http.StatusNotFound, "unknown tenant")
	case errors.Is(err, pipeline.ErrAgentNotAvailable):
		writeError(w, http.StatusForbidden, "agent not available")
	case rag.IsIsolationError(err):
		s.logger.Error("isolation violation surfaced to chat endpoint",
			"tenant", req.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	case errors.Is(err, llms.ErrGenerationExhausted):
		writeError(w, http.StatusBadGateway, "upstream model unavailable")
	case errors.Is(err, context.Canceled):
		// Client went away; chi's writer tolerates the stale write.
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	default:
		s.logger.Error("chat request failed", "tenant", req.TenantID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if s.reload == nil {
		writeError(w, http.StatusNotImplemented, "reload not configured")
		return
	}
	if err := s.reload(r.Context()); err != nil {
		s.logger.Error("config reload failed", "error", err)
		writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("reload rejected: %v", err))
		return
	}
	s.logger.Info("configuration reloaded")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

// requestLogger logs each request with its duration and status.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
