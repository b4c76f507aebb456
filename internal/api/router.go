// Package api provides the HTTP API for RunnerVision.
package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/runnervision/runnervision/internal/api/handler"
	"github.com/runnervision/runnervision/internal/api/middleware"
	"github.com/runnervision/runnervision/internal/auth"
	"github.com/runnervision/runnervision/internal/featureflags"
	"github.com/runnervision/runnervision/internal/provider/resilience"
)

// Orchestrator is what the API needs from the recommendation pipeline.
type Orchestrator interface {
	handler.Recommender
	handler.Planner
}

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version            string
	BuildTime          string
	Logger             zerolog.Logger
	ServiceName        string
	RequireTLS         bool
	Metrics            *middleware.Metrics
	Orchestrator       Orchestrator
	Registry           *resilience.Registry
	Database           handler.Pinger
	FeatureFlagService *featureflags.Service
	TokenService       *auth.TokenService
	// RateLimits falls back to middleware.DefaultRateLimits for unset budgets.
	RateLimits         middleware.RateLimits
}

// NewRouter creates a new chi router with all API routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "runnervision-api"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID) // Generate/propagate request ID first
	r.Use(middleware.Tracing(middleware.TracingConfig{
		ServiceName: serviceName,
		SkipPaths:   []string{"/v1/ops/health", "/v1/ops/ready"},
	}))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware()) // HTTP metrics
	}
	r.Use(middleware.Logger(cfg.Logger))         // Structured logging
	r.Use(middleware.Recovery(cfg.Logger))       // Panic recovery
	r.Use(chimiddleware.RealIP)                  // Real IP extraction
	r.Use(middleware.SecurityHeaders)            // Security headers (HSTS, CSP, etc.)
	r.Use(middleware.RequireTLS(cfg.RequireTLS)) // TLS enforcement behind a proxy
	r.Use(middleware.ContentTypeJSON)            // JSON content type

	opsHandler := handler.NewOpsHandler(handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Database:  cfg.Database,
		Registry:  cfg.Registry,
		Flags:     cfg.FeatureFlagService,
	})
	recommendationHandler := handler.NewRecommendationHandler(cfg.Orchestrator, cfg.Logger)
	planHandler := handler.NewPlanHandler(cfg.Orchestrator)
	featureFlagsHandler := handler.NewFeatureFlagsHandler(cfg.FeatureFlagService, cfg.Logger)

	limits := cfg.RateLimits.WithDefaults()
	operator := func(scope string) func(chi.Router) {
		return func(r chi.Router) {
			r.Use(middleware.OperatorAuth(cfg.TokenService, scope))
			r.Use(middleware.RateLimitByOperator(limits.Admin))
		}
	}

	expensiveRateLimit := middleware.RateLimitByIP(limits.Recommend)
	standardRateLimit := middleware.RateLimitByIP(limits.Standard)

	r.Route("/v1", func(r chi.Router) {
		// Recommendations fan out to every provider - strict rate limiting
		r.With(expensiveRateLimit, middleware.RequireJSON).Post("/recommendations", recommendationHandler.Recommend)

		r.With(standardRateLimit).Get("/plan", planHandler.GetPlan)

		r.Route("/ops", func(r chi.Router) {
			r.Get("/health", opsHandler.HealthCheck)
			r.Get("/ready", opsHandler.ReadinessCheck)
			r.Group(func(r chi.Router) {
				operator(auth.ScopeStatus)(r)
				r.Get("/status", opsHandler.SystemStatus)
			})
		})

		r.Route("/admin/feature-flags", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				operator(auth.ScopeFlagsRead)(r)
				r.Get("/", featureFlagsHandler.ListFeatureFlags)
			})
			r.Group(func(r chi.Router) {
				operator(auth.ScopeFlagsWrite)(r)
				r.With(middleware.RequireJSON).Put("/", featureFlagsHandler.UpsertFeatureFlags)
				r.Post("/invalidate", featureFlagsHandler.InvalidateCache)
				r.Delete("/{key}", featureFlagsHandler.DeleteFeatureFlag)
			})
		})
	})

	return r
}
