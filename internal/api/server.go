// Package api exposes the inbox engine over a local HTTP API.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"inboxsync/internal/backend"
	"inboxsync/internal/config"
	"inboxsync/internal/inbox"
)

// Engine defines the engine operations the API needs.
type Engine interface {
	Snapshot() inbox.Snapshot
	LoadMessages(ctx context.Context, opts inbox.LoadOptions) (inbox.LoadResult, error)
	ModifyLabels(ctx context.Context, ids, add, remove []string) error
	Reclassify(ctx context.Context, force bool, ids ...string) error
	Classification(id string) (*backend.Classification, inbox.RequestEntry)
	SaveSettings(ctx context.Context, s backend.Settings) (backend.Settings, error)
	SetActive(active bool)
	Disconnect(ctx context.Context) error
}

var _ Engine = (*inbox.Engine)(nil)

// Server represents the HTTP API server.
type Server struct {
	cfg         config.ServerConfig
	engine      Engine
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server.
func NewServer(cfg config.ServerConfig, engine Engine, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		engine: engine,
		logger: logger,
	}
	s.router = s.setupRouter()
	return s
}

func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// 10 req/sec with burst of 20
	s.rateLimiter = NewRateLimiter(10, 20)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/inbox", s.handleInbox)
		r.Post("/inbox/load", s.handleLoad)
		r.Post("/inbox/labels", s.handleLabels)
		r.Post("/inbox/classify/{id}", s.handleClassify)

		r.Put("/settings", s.handleSettings)
		r.Put("/visibility", s.handleVisibility)
		r.Post("/account/disconnect", s.handleDisconnect)
	})

	return r
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	addr := s.cfg.Addr
	if addr == "" {
		addr = "127.0.0.1:8765"
	}
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.logger.Info("starting API server", "addr", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
