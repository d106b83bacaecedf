// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the "wiring" layer. It connects the storage adapter,
// repositories, services, handlers and middleware, and decides:
// - Which URL patterns map to which handler functions
// - What middleware runs on which routes
// - How the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	storage.Adapter → sqlstore.Store → AuthService / TrackerService → handlers
//	broadcast.Hub   → TrackerService (publish) and StreamHandler (subscribe)
//
// This is the "composition root" pattern: all dependencies are wired in one
// place (New/setupRoutes), rather than scattered across the codebase.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/nutrition-tracker/internal/auth"
	"github.com/sakif/nutrition-tracker/internal/broadcast"
	"github.com/sakif/nutrition-tracker/internal/handler"
	"github.com/sakif/nutrition-tracker/internal/metrics"
	"github.com/sakif/nutrition-tracker/internal/middleware"
	"github.com/sakif/nutrition-tracker/internal/repository/sqlstore"
	"github.com/sakif/nutrition-tracker/internal/service"
	"github.com/sakif/nutrition-tracker/internal/storage"
)

// Config holds server configuration. main.go fills it from the environment.
type Config struct {
	Port    int
	Storage storage.Config

	JWTSecret    string
	SessionTTL   time.Duration // 0 means auth.DefaultSessionTTL
	CookieSecure bool

	// Credential routes are throttled per client IP.
	LoginRatePerSec float64
	LoginBurst      int

	// BcryptCost overrides the hashing cost; tests set it to the minimum.
	BcryptCost int
}

// Server represents the HTTP server and all its dependencies.
//
// RESOURCE MANAGEMENT:
// The Server owns the storage adapter and the broadcast hub. On shutdown the
// hub is closed first, so every open stream gets a close frame, and the
// adapter last, once no request can reach it.
type Server struct {
	router  *chi.Mux
	config  Config
	logger  *slog.Logger
	store   *storage.Adapter
	hub     *broadcast.Hub
	tokens  *auth.TokenService
	limiter *middleware.RateLimiter
	stop    chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// New opens storage, prepares the schema and wires every route.
func New(cfg Config, logger *slog.Logger) (*Server, error) {
	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("server: configuring sessions: %w", err)
	}

	// === OPEN STORAGE ===
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := storage.Open(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("server: opening storage: %w", err)
	}
	if err := store.InitializeSchema(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		router:  chi.NewRouter(),
		config:  cfg,
		logger:  logger,
		store:   store,
		hub:     broadcast.NewHub(broadcast.DefaultBuffer, logger),
		tokens:  tokens,
		limiter: middleware.NewRateLimiter(cfg.LoginRatePerSec, cfg.LoginBurst, logger),
		stop:    make(chan struct{}),
	}
	s.limiter.StartCleanup(time.Minute, s.stop)
	s.setupRoutes()

	return s, nil
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
// POST   /api/auth/register   → create account, set session cookie   (rate-limited)
// POST   /api/auth/login      → check credentials, set session cookie (rate-limited)
// POST   /api/auth/logout     → clear session cookie                  (rate-limited)
// GET    /api/auth/me         → signed-in account                     [auth]
// GET    /api/user/data       → {stats, logs}                         [auth]
// POST   /api/user/weight     → replace current weight                [auth]
// POST   /api/logs            → append a log entry and publish it     [auth]
// GET    /api/stream          → websocket of the account's events     [auth]
// GET    /healthz             → storage ping
// GET    /metrics             → Prometheus
//
// MIDDLEWARE ORDER MATTERS:
// 1. RequestID: assigns unique ID to each request (for tracing)
// 2. RealIP: extracts real client IP from proxy headers (the rate limiter keys on it)
// 3. InstrumentHandler: Prometheus request counts and latency
// 4. Logger: logs each request with timing info
// 5. Recoverer: catches panics and returns 500 instead of crashing
func (s *Server) setupRoutes() {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(metrics.InstrumentHandler)
	s.router.Use(middleware.Logger(s.logger))
	s.router.Use(chimiddleware.Recoverer)

	// === DEPENDENCY CHAIN ===
	// The services receive repository interfaces; the handlers receive the
	// services behind small interfaces of their own. Nothing above sqlstore
	// knows which backend is configured.
	repos := sqlstore.New(s.store)

	creds := auth.NewCredentials()
	if s.config.BcryptCost > 0 {
		creds = auth.NewCredentialsWithCost(s.config.BcryptCost)
	}

	authService := service.NewAuthService(repos.Accounts(), s.tokens, creds, s.logger)
	trackerService := service.NewTrackerService(repos.Stats(), repos.Entries(), s.hub, s.logger)

	authHandler := handler.NewAuthHandler(authService, s.tokens.TTL(), s.config.CookieSecure, s.logger)
	trackerHandler := handler.NewTrackerHandler(trackerService, s.logger)
	streamHandler := handler.NewStreamHandler(s.hub, s.logger)

	s.router.Get("/healthz", s.handleHealth)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				r.Use(s.limiter.Handler)
				r.Post("/register", authHandler.HandleRegister)
				r.Post("/login", authHandler.HandleLogin)
				r.Post("/logout", authHandler.HandleLogout)
			})
			r.With(auth.RequireAuth(s.tokens)).Get("/me", authHandler.HandleMe)
		})

		// Everything below needs a valid session.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(s.tokens))
			r.Get("/user/data", trackerHandler.HandleData)
			r.Post("/user/weight", trackerHandler.HandleWeight)
			r.Post("/logs", trackerHandler.HandleAppend)
			r.Get("/stream", streamHandler.HandleStream)
		})
	})
}

// handleHealth reports 200 while the storage backend answers a ping.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	w.Header().Set("Content-Type", "application/json")
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, `{"status":"unavailable","backend":%q}`, s.store.Backend())
		return
	}
	fmt.Fprintf(w, `{"status":"ok","backend":%q}`, s.store.Backend())
}

// Handler exposes the router, e.g. for httptest servers.
func (s *Server) Handler() http.Handler { return s.router }

// Close releases the hub, the limiter's cleanup loop and the storage pool.
// Start calls it on shutdown; tests that never Start call it directly.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.hub.Close()
		s.closeErr = s.store.Close()
	})
	return s.closeErr
}

// Start starts the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
// 1. Close the hub so open websocket streams end with a close frame
// 2. Stop accepting new HTTP connections
// 3. Wait for in-flight requests to finish (30s timeout)
// 4. Close the storage pool (sqlite flushes its WAL, postgres connections end)
//
// Streams are hijacked connections that http.Server.Shutdown does not wait
// for, which is why the hub goes first.
func (s *Server) Start() error {
	defer s.Close()

	// Create the HTTP server with sensible timeouts. WriteTimeout does not
	// apply to /api/stream: the handler sets its own deadline per frame.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to receive OS signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Channel to receive server errors
	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", s.config.Port)),
			slog.String("backend", string(s.store.Backend())),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		s.hub.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
