// Package api exposes CoverageNavigator over HTTP.
//
// It serves the stateless eligibility chat endpoint and a session API that
// drives the screener, document upload, assessment and session chat of
// flow.Manager.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/CoverageNavigator/internal/assistant"
	"github.com/BTreeMap/CoverageNavigator/internal/flow"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultCORSOrigin allows every origin.
	DefaultCORSOrigin = "*"
	// DefaultMaxUploadBytes caps a multipart document upload.
	DefaultMaxUploadBytes int64 = 10 << 20

	corsAllowHeaders = "authorization, x-client-info, apikey, content-type"
	corsAllowMethods = "GET, POST, PUT, DELETE, OPTIONS"

	shutdownTimeout = 30 * time.Second
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	CORSOrigin     string
	MaxUploadBytes int64
	Asker          assistant.Asker
	Metrics        http.Handler
}

// Option is a functional option for configuring the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithCORSOrigin sets the Access-Control-Allow-Origin value.
func WithCORSOrigin(origin string) Option {
	return func(o *Opts) { o.CORSOrigin = origin }
}

// WithMaxUploadBytes caps the size of a document upload request.
func WithMaxUploadBytes(n int64) Option {
	return func(o *Opts) { o.MaxUploadBytes = n }
}

// WithAsker sets the assistant used by the stateless chat endpoint. When
// unset the session asker of the manager is used.
func WithAsker(a assistant.Asker) Option {
	return func(o *Opts) { o.Asker = a }
}

// WithMetricsHandler mounts h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(o *Opts) { o.Metrics = h }
}

// Server routes HTTP requests to the session manager and the assistant.
type Server struct {
	opts    Opts
	manager *flow.Manager
	asker   assistant.Asker
	router  chi.Router
	now     func() time.Time
}

// NewServer creates a Server over m.
func NewServer(m *flow.Manager, opts ...Option) (*Server, error) {
	if m == nil {
		return nil, errors.New("api: session manager is required")
	}
	cfg := Opts{Addr: DefaultAddr, CORSOrigin: DefaultCORSOrigin, MaxUploadBytes: DefaultMaxUploadBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.CORSOrigin == "" {
		cfg.CORSOrigin = DefaultCORSOrigin
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	s := &Server{opts: cfg, manager: m, asker: cfg.Asker, now: time.Now}
	if s.asker == nil {
		s.asker = m.Deps().Asker
	}
	s.router = s.routes()
	slog.Debug("Server.NewServer: created", "addr", cfg.Addr, "cors_origin", cfg.CORSOrigin, "metrics", cfg.Metrics != nil)
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(corsMiddleware(s.opts.CORSOrigin))

	r.Get("/healthz", s.healthHandler)
	if s.opts.Metrics != nil {
		r.Handle("/metrics", s.opts.Metrics)
	}

	r.Post("/eligibility-chat", s.eligibilityChatHandler)
	r.Get("/schema", s.schemaHandler)

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", s.createSessionHandler)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getSessionHandler)
			r.Delete("/", s.resetSessionHandler)
			r.Post("/start", s.startHandler)
			r.Put("/answers/{key}", s.setFieldHandler)
			r.Put("/answers/{key}/options/{value}", s.setOptionHandler)
			r.Post("/advance", s.advanceHandler)
			r.Post("/retreat", s.retreatHandler)
			r.Post("/back", s.backHandler)
			r.Post("/documents", s.uploadHandler)
			r.Post("/documents/{docID}/events", s.documentEventHandler)
			r.Post("/assessment", s.assessmentHandler)
			r.Get("/context", s.contextHandler)
			r.Post("/chat/open", s.openChatHandler)
			r.Post("/chat/close", s.closeChatHandler)
			r.Post("/chat/messages", s.sendChatHandler)
		})
	})
	return r
}

// corsMiddleware adds permissive CORS headers and answers pre-flight
// requests with an empty 204.
func corsMiddleware(origin string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Headers", corsAllowHeaders)
			h.Set("Access-Control-Allow-Methods", corsAllowMethods)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		// Chat requests wait on the completion service.
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("api server shutdown failed: %w", err)
	}
	return nil
}
