package api

import (
	"net/http"

	"github.com/ayo6706/account-cqrs/internal/api/handler"
	"github.com/ayo6706/account-cqrs/internal/api/middleware"
	"github.com/ayo6706/account-cqrs/internal/api/problem"
	"github.com/ayo6706/account-cqrs/internal/api/spec"
	"github.com/ayo6706/account-cqrs/internal/config"
	"github.com/ayo6706/account-cqrs/internal/idempotency"
	"github.com/ayo6706/account-cqrs/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"
)

// Services groups what the HTTP layer drives.
type Services struct {
	Dispatcher     *service.Dispatcher
	Queries        *service.QueryService
	Replay         *service.ReplayService
	Reconciliation *service.ReconciliationService
	Projection     handler.ProjectionState
}

type Router struct {
	cfg       *config.Config
	logger    *zap.Logger
	db        *pgxpool.Pool
	redis     redis.Cmdable
	idemStore *idempotency.Store
	auth      *middleware.Authenticator
	services  Services
}

// NewRouter wires handlers. db and redis may be nil when the deployment runs
// without them.
func NewRouter(cfg *config.Config, logger *zap.Logger, db *pgxpool.Pool, redisClient redis.Cmdable, idemStore *idempotency.Store, services Services) *Router {
	if logger == nil {
		logger = zap.L()
	}
	problem.SetBaseURL(cfg.ProblemBaseURL)
	return &Router{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		redis:     redisClient,
		idemStore: idemStore,
		auth:      middleware.NewAuthenticator(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience),
		services:  services,
	}
}

// Authenticator returns the token validator used by protected routes.
func (api *Router) Authenticator() *middleware.Authenticator {
	return api.auth
}

func (api *Router) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.TraceMiddleware)
	r.Use(middleware.LoggingMiddleware(api.logger))
	r.Use(middleware.RecoverMiddleware(api.logger))
	r.Use(middleware.MetricsMiddleware)

	healthHandler := handler.NewHealthHandler(api.db, api.redis, api.services.Projection)
	commandHandler := handler.NewCommandHandler(api.services.Dispatcher, api.logger)
	queryHandler := handler.NewQueryHandler(api.services.Queries, api.logger)
	adminHandler := handler.NewAdminHandler(api.services.Replay, api.services.Reconciliation, api.logger)
	idempotent := middleware.IdempotencyMiddleware(api.idemStore, api.logger)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusNotFound, "route/not-found", "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.RespondError(w, r, http.StatusMethodNotAllowed, "route/method-not-allowed", "method not allowed")
	})

	// Public routes
	r.Group(func(r chi.Router) {
		r.Use(middleware.PublicRateLimiter(api.cfg.PublicRateLimitRPS))
		r.Get("/health/live", healthHandler.Live)
		r.Get("/health/ready", healthHandler.Ready)
		r.Handle("/metrics", promhttp.Handler())
		r.Get(spec.Path, spec.OpenAPIHandler())
		r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL(spec.Path)))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(api.auth.Middleware)
		r.Use(middleware.AuthRateLimiter(api.cfg.AuthRateLimitRPS))

		r.Route("/v1/accounts", func(r chi.Router) {
			r.Get("/", queryHandler.ListAccounts)
			r.With(idempotent).Post("/", commandHandler.CreateAccount)
			r.Get("/watch", queryHandler.WatchAll)

			r.Route("/{id}", func(r chi.Router) {
				r.With(idempotent).Post("/credit", commandHandler.Credit)
				r.With(idempotent).Post("/debit", commandHandler.Debit)
				r.With(idempotent).Put("/status", commandHandler.UpdateStatus)
				r.Get("/statement", queryHandler.GetStatement)
				r.Get("/events", commandHandler.Events)
				r.Get("/watch", queryHandler.WatchAccount)
			})
		})

		r.Route("/v1/admin", func(r chi.Router) {
			r.Use(middleware.RequireRole(middleware.RoleAdmin))
			r.Post("/replay", adminHandler.Replay)
			r.Post("/reconcile", adminHandler.Reconcile)
		})
	})

	return r
}
