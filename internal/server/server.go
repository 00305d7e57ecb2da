package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dashbite/apigw/internal/core"
	"github.com/dashbite/apigw/internal/handler"
	"github.com/dashbite/apigw/internal/model"
	"github.com/dashbite/apigw/internal/ratelimit"
	"github.com/dashbite/apigw/internal/server/middleware"
	"github.com/dashbite/apigw/internal/service"
	"github.com/dashbite/apigw/internal/store"
	"github.com/dashbite/apigw/internal/webhook"
)

// Config holds the HTTP server configuration.
type Config struct {
	Host            string
	Port            int
	ShutdownTimeout time.Duration
	CORSOrigins     []string
	MaxBodySize     int64 // bytes
	IPPerMinute     int
	SweepInterval   time.Duration
	JWTExpiry       time.Duration
	Version         string
}

// DefaultConfig returns a Config with sensible production defaults.
func DefaultConfig() Config {
	return Config{
		Host:            "0.0.0.0",
		Port:            8080,
		ShutdownTimeout: 30 * time.Second,
		CORSOrigins:     []string{"*"},
		MaxBodySize:     1 << 20, // 1MB
		IPPerMinute:     60,
		SweepInterval:   time.Minute,
		JWTExpiry:       time.Hour,
		Version:         "dev",
	}
}

// Deps are the long-lived components the server routes to. The server owns
// their shutdown order but not their construction.
type Deps struct {
	Store         *store.Store
	Auth          *service.AuthService
	Keys          *service.KeyManager
	Usage         *service.UsageTracker
	Audit         *service.AuditLogger
	Registry      *webhook.Registry
	Dispatcher    *webhook.Dispatcher
	Core          *core.Client
	IPCounter     *ratelimit.Counter
	AlcoholWindow core.AlcoholWindow
}

// Server is the top-level HTTP server for the gateway.
type Server struct {
	cfg        Config
	deps       Deps
	router     chi.Router
	httpServer *http.Server
	logger     *slog.Logger
}

// New creates a new Server, wires up all routes and middleware, and returns
// it ready to listen. Call ListenAndServe to start accepting connections.
func New(cfg Config, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.IPCounter == nil {
		deps.IPCounter = ratelimit.NewCounter(cfg.IPPerMinute, time.Minute, ratelimit.WithLogger(logger))
	}
	s := &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	r := chi.NewRouter()
	d := s.deps

	// --- Global middleware ---
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type",
			middleware.HeaderAPIKey, middleware.HeaderAPISecret, "X-Requested-With", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID",
			middleware.HeaderRateLimitLimit, middleware.HeaderRateLimitRemaining, middleware.HeaderRateLimitReset},
		MaxAge: 300,
	}))
	r.Use(chimw.Compress(5))

	// --- Probes, metrics and docs (no auth required) ---
	r.Get("/healthz", handler.Healthz)
	r.Get("/readyz", handler.Readyz(d.Store))
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/openapi.json", handler.NewOpenAPIHandler(s.cfg.Version).ServeDocument)

	sysHandler := handler.NewSystemHandler(d.Store, d.Auth, d.Keys, d.Audit, d.Dispatcher, s.cfg.JWTExpiry, s.logger)
	gwHandler := handler.NewGatewayHandler(d.Core, d.Store, d.Dispatcher, d.AlcoholWindow, s.logger)
	whHandler := handler.NewWebhookHandler(d.Registry, s.cfg.MaxBodySize)
	adminHandler := handler.NewAdminHandler(d.Store, d.Keys, d.Registry, d.Audit)
	gate := middleware.NewGate(d.Keys, d.Usage, d.Audit, s.logger)

	// --- API routes ---
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(s.cfg.IPPerMinute, d.IPCounter))
		r.Use(chimw.RequestSize(s.cfg.MaxBodySize))

		// Owner-facing management APIs
		r.Route("/system", func(r chi.Router) {
			r.Post("/owner/session", sysHandler.Login)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Authenticate(d.Auth))

				r.Get("/owner/session", sysHandler.Session)
				r.Delete("/owner/session", sysHandler.Logout)

				r.Get("/api-key", sysHandler.ListAPIKeys)
				r.Post("/api-key", sysHandler.CreateAPIKey)
				r.Get("/api-key/{keyId}", sysHandler.GetAPIKey)
				r.Delete("/api-key/{keyId}", sysHandler.DeactivateAPIKey)
				r.Post("/api-key/{keyId}/rotate", sysHandler.RotateAPIKey)
				r.Get("/api-key/{keyId}/audit-logs", sysHandler.KeyAuditLogs)

				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireSuperAdmin())
					r.Get("/owner", sysHandler.ListOwners)
					r.Post("/owner", sysHandler.CreateOwner)
					r.Put("/api-key/{keyId}/tier", sysHandler.ChangeTier)
					r.Post("/events", sysHandler.PublishEvent)
				})
			})
		})

		// Signed callbacks authenticate by signature alone
		r.Post("/callbacks/{webhookId}", whHandler.Callback)

		// Third-party reads: the public key suffices
		r.Group(func(r chi.Router) {
			r.Use(gate.Require(middleware.SecretOptional))
			r.Use(middleware.RequireScopes(model.ScopeRead))

			r.Get("/restaurants", gwHandler.ListRestaurants)
			r.Get("/restaurants/{id}", gwHandler.GetRestaurant)
			r.Get("/restaurants/{id}/menu", gwHandler.GetMenu)
			r.Get("/orders/{id}", gwHandler.GetOrder)
			r.Get("/drivers", gwHandler.ListDrivers)
			r.Get("/tax", gwHandler.GetTax)
			r.Get("/nfts", gwHandler.ListNFTs)
			r.Get("/me", gwHandler.Me)
		})

		// Third-party writes
		r.Group(func(r chi.Router) {
			r.Use(gate.Require(middleware.SecretRequired))
			r.Use(middleware.RequireScopes(model.ScopeWrite))

			r.Post("/orders/inbound", gwHandler.CreateInboundOrder)
			r.Patch("/orders/{id}/status", gwHandler.UpdateOrderStatus)
		})

		// Webhook subscriptions
		r.Group(func(r chi.Router) {
			r.Use(gate.Require(middleware.SecretRequired))
			r.Use(middleware.RequireScopes(model.ScopeWebhook))

			r.Get("/webhooks", whHandler.List)
			r.Post("/webhooks", whHandler.Create)
			r.Get("/webhooks/{webhookId}", whHandler.Get)
			r.Put("/webhooks/{webhookId}", whHandler.Update)
			r.Delete("/webhooks/{webhookId}", whHandler.Delete)
			r.Get("/webhooks/{webhookId}/deliveries", whHandler.Deliveries)
		})

		// Platform-wide views for admin keys
		r.Group(func(r chi.Router) {
			r.Use(gate.Require(middleware.SecretRequired))
			r.Use(middleware.RequireScopes(model.ScopeAdmin))

			r.Get("/admin/keys", adminHandler.ListKeys)
			r.Get("/admin/webhooks", adminHandler.ListWebhooks)
			r.Get("/admin/inbound-orders", adminHandler.ListInboundOrders)
			r.Get("/admin/audit-logs", adminHandler.ListAuditLogs)
		})
	})

	s.router = r
}

// ListenAndServe starts the HTTP server and blocks until a SIGINT or SIGTERM
// is received. It then shuts down in order: HTTP requests drain, the audit
// logger flushes, in-flight webhook deliveries finish, and the IP limiter's
// sweeper stops. Pending webhook retries are dropped.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Listen for shutdown signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go s.deps.IPCounter.Run(sweepCtx, s.cfg.SweepInterval)
	s.deps.Audit.Start()

	// Start server in background goroutine
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server listen: %w", err)
	case <-ctx.Done():
		s.logger.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops the server and its background workers within ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if err := s.deps.Audit.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("audit flush: %w", err))
	}
	if err := s.deps.Dispatcher.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("webhook drain: %w", err))
	}
	s.logger.Info("server stopped")
	return errors.Join(errs...)
}

// Router returns the underlying Chi router, useful for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// ServeHTTP implements http.Handler, delegating to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
