// Package server exposes the debate operations as a small JSON API. Each
// browser gets its own conversation, identified by a session cookie.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/r3d91ll/llm-chat-simulator/internal/engine"
	"github.com/r3d91ll/llm-chat-simulator/internal/store"
)

// SessionCookie holds the opaque session id.
const SessionCookie = "chatsim_session"

// DefaultTurns is the auto-turn budget when a seed request omits it.
const DefaultTurns = 4

const maxBodyBytes = 1 << 20

// ProviderStatus reports on the completion backend.
type ProviderStatus interface {
	IsAvailable(ctx context.Context) bool
	Model() string
}

// Config holds Server configuration.
type Config struct {
	Addr          string
	SessionTTL    time.Duration
	SweepInterval time.Duration
	Logger        *slog.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:          "127.0.0.1:48080",
		SessionTTL:    store.DefaultTTL,
		SweepInterval: 10 * time.Minute,
	}
}

// Server serves the JSON API.
type Server struct {
	svc      *engine.Service
	provider ProviderStatus
	cfg      Config
	logger   *slog.Logger
	mux      *http.ServeMux
}

// New creates a Server.
func New(svc *engine.Service, provider ProviderStatus, cfg Config) *Server {
	defaults := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = defaults.Addr
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = defaults.SessionTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Server{
		svc:      svc,
		provider: provider,
		cfg:      cfg,
		logger:   cfg.Logger.With("component", "server"),
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/conversation", s.handleConversation)
	s.mux.HandleFunc("POST /api/send", s.handleSend)
	s.mux.HandleFunc("POST /api/tick", s.handleTick)
	s.mux.HandleFunc("PUT /api/personas", s.handlePersonas)
	s.mux.HandleFunc("PUT /api/max-tokens", s.handleMaxTokens)
	s.mux.HandleFunc("POST /api/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/health", s.handleHealth)
}

// Handler returns the root handler with request logging.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go s.janitor(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// janitor purges expired sessions until ctx ends.
func (s *Server) janitor(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.svc.Sweep(ctx); err != nil {
				s.logger.Warn("session sweep failed", "error", err)
			}
		}
	}
}

// sessionID returns the caller's session id, issuing a cookie if the request
// has none or carries a malformed one.
func (s *Server) sessionID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}

	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   int(s.cfg.SessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
	})
	return id
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.status >= 500 {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
