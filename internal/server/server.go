// Package server provides the HTTP surface the bridge exposes: REST
// handlers for orders, alerts and evaluations, an SSE event stream, a
// health endpoint, and (stub) an MCP tool-registration proxy.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/aristath/ibkr-bridge/internal/events"
	"github.com/aristath/ibkr-bridge/internal/ibkr"
	"github.com/aristath/ibkr-bridge/internal/loops"
	"github.com/aristath/ibkr-bridge/internal/persistence"
	"github.com/aristath/ibkr-bridge/internal/risk"
	"github.com/aristath/ibkr-bridge/internal/scoring"
	"github.com/aristath/ibkr-bridge/internal/trailing"
)

// Config bundles every collaborator the server's handlers need: a flat,
// pre-built struct handed to New. The server wires handlers to
// already-constructed singletons, it never constructs them itself.
type Config struct {
	Port    int
	APIKey  string
	DevMode bool
	Log     zerolog.Logger

	Store persistence.Store
	Bus   *events.Bus

	Connection *ibkr.Connection
	Dispatcher *ibkr.Dispatcher

	Gate    *risk.Gate
	Session *risk.Session

	TrailingBook     *trailing.Book
	TrailingExecutor *trailing.Executor

	Ensemble *scoring.Ensemble
	AutoEval *loops.AutoEval
}

// Server owns the chi router and the underlying http.Server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config

	startupTime time.Time
}

// New builds a Server and wires its routes. It does not start listening —
// call Start for that.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		cfg:         cfg,
		startupTime: time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the SSE stream route holds connections open indefinitely
		IdleTimeout:  60 * time.Second,
	}

	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
	if s.cfg.APIKey != "" {
		s.router.Use(s.apiKeyMiddleware)
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/events/stream", s.newEventsStreamHandler().ServeHTTP)

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", s.handlePlaceOrder)
			r.Get("/{brokerID}", s.handleGetOrder)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", s.handleIngestAlert)
			r.Get("/", s.handleRecentAlerts)
		})

		r.Route("/evaluations", func(r chi.Router) {
			r.Post("/", s.handleEvaluate)
			r.Get("/signals", s.handleRecentSignals)
			r.Get("/weights", s.handleWeightsExport)
		})

		r.Route("/risk", func(r chi.Router) {
			r.Get("/session", s.handleSessionSnapshot)
			r.Post("/session/unlock", s.handleSessionUnlock)
			r.Get("/config", s.handleRiskConfigExport)
		})

		r.Route("/trailing", func(r chi.Router) {
			r.Get("/positions", s.handleTrailingPositions)
		})

		s.setupMCPRoutes(r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request handled")
	})
}

func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer "+s.cfg.APIKey {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Start begins serving. It blocks until the listener returns, so callers
// run it in its own goroutine.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("server starting")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests within ctx's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
