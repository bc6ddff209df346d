// Package server exposes the ledger, alert registry and price cache over
// HTTP and streams ledger events over a websocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/tradekeeper/internal/auth"
	"github.com/alanyoungcy/tradekeeper/internal/domain"
	"github.com/alanyoungcy/tradekeeper/internal/metrics"
	"github.com/alanyoungcy/tradekeeper/internal/server/handler"
	"github.com/alanyoungcy/tradekeeper/internal/server/middleware"
	"github.com/alanyoungcy/tradekeeper/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	RateLimit       int // requests per RateLimitWindow per client IP; 0 disables
	RateLimitWindow time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
}

// Handlers aggregates the HTTP handlers registered on the mux.
type Handlers struct {
	Health *handler.HealthHandler
	Status *handler.StatusHandler
	Auth   *handler.AuthHandler
	Orders *handler.OrderHandler
	Alerts *handler.AlertHandler
	Stats  *handler.StatsHandler
	Prices *handler.PriceHandler
}

// Deps are the cross-cutting collaborators of the middleware chain.
// Limiter and Metrics are optional.
type Deps struct {
	Tokens  middleware.TokenVerifier
	Limiter domain.RateLimiter
	Metrics *metrics.Metrics
}

// Server is the HTTP + websocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in logging, CORS and
// rate limiting. Authenticated routes are wrapped individually.
func NewServer(cfg Config, h Handlers, hub *ws.Hub, deps Deps, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	Routes(mux, h, hub, deps)

	var root http.Handler = mux
	if deps.Limiter != nil && cfg.RateLimit > 0 {
		root = middleware.RateLimit(deps.Limiter, cfg.RateLimit, cfg.RateLimitWindow, logger)(root)
	}
	root = middleware.CORS(cfg.CORSOrigins)(root)
	root = middleware.Logging(logger, deps.Metrics)(root)

	readTimeout, writeTimeout := cfg.ReadTimeout, cfg.WriteTimeout
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 30 * time.Second
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           root,
			ReadTimeout:       readTimeout,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger.With(slog.String("component", "http_server")),
	}
}

// Routes registers the API on mux.
func Routes(mux *http.ServeMux, h Handlers, hub *ws.Hub, deps Deps) {
	user := func(fn http.HandlerFunc) http.Handler {
		return middleware.Authenticate(deps.Tokens)(fn)
	}
	keeper := func(fn http.HandlerFunc) http.Handler {
		return middleware.Authenticate(deps.Tokens)(middleware.RequireRole(auth.RoleKeeper)(fn))
	}

	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)

	mux.HandleFunc("GET /api/auth/challenge", h.Auth.Challenge)
	mux.HandleFunc("POST /api/auth/login", h.Auth.Login)

	mux.Handle("POST /api/orders", user(h.Orders.Create))
	mux.Handle("GET /api/orders", user(h.Orders.List))
	mux.HandleFunc("GET /api/orders/pending/count", h.Orders.PendingCount)
	mux.Handle("GET /api/orders/{id}", user(h.Orders.Get))
	mux.Handle("DELETE /api/orders/{id}", user(h.Orders.Cancel))
	mux.Handle("POST /api/orders/{id}/execute", user(h.Orders.Execute))

	mux.Handle("POST /api/alerts", user(h.Alerts.Create))
	mux.Handle("GET /api/alerts", user(h.Alerts.List))
	mux.Handle("GET /api/alerts/{id}", user(h.Alerts.Get))
	mux.Handle("DELETE /api/alerts/{id}", user(h.Alerts.Delete))
	mux.Handle("POST /api/alerts/{id}/trigger", user(h.Alerts.Trigger))

	mux.HandleFunc("GET /api/stats/users/{owner}", h.Stats.User)
	mux.HandleFunc("GET /api/stats/protocol", h.Stats.Protocol)

	mux.HandleFunc("GET /api/prices", h.Prices.List)
	mux.HandleFunc("GET /api/tokens", h.Prices.Tokens)
	mux.HandleFunc("GET /api/prices/{token}", h.Prices.Get)
	mux.Handle("POST /api/prices", keeper(h.Prices.Update))
	mux.Handle("POST /api/prices/batch", keeper(h.Prices.Batch))

	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}
	if hub != nil {
		mux.HandleFunc("GET /ws", hub.HandleWS)
	}
}

// Handler returns the root handler, for tests.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
