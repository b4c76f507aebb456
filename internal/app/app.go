// Package app wires the RunnerVision components from configuration. The API server, the
// worker and the CLI all start from Build.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/runnervision/runnervision/internal/api"
	"github.com/runnervision/runnervision/internal/api/middleware"
	"github.com/runnervision/runnervision/internal/auth"
	"github.com/runnervision/runnervision/internal/closure"
	"github.com/runnervision/runnervision/internal/closure/georss"
	"github.com/runnervision/runnervision/internal/closure/nycdot"
	"github.com/runnervision/runnervision/internal/config"
	"github.com/runnervision/runnervision/internal/database"
	"github.com/runnervision/runnervision/internal/featureflags"
	"github.com/runnervision/runnervision/internal/intent"
	"github.com/runnervision/runnervision/internal/llm"
	"github.com/runnervision/runnervision/internal/orchestrator"
	"github.com/runnervision/runnervision/internal/provider/resilience"
	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/internal/routing/openrouteservice"
	"github.com/runnervision/runnervision/internal/safety"
	"github.com/runnervision/runnervision/internal/safety/nycopendata"
	"github.com/runnervision/runnervision/internal/synthesis"
	"github.com/runnervision/runnervision/internal/weather"
	"github.com/runnervision/runnervision/internal/weather/openweathermap"
	"github.com/runnervision/runnervision/internal/worker"
	"github.com/runnervision/runnervision/pkg/polyline"
)

// App holds the wired components. Optional capabilities are nil when not configured.
type App struct {
	Config       config.Config
	Logger       zerolog.Logger
	Registry     *resilience.Registry
	Orchestrator *orchestrator.Orchestrator
	Flags        *featureflags.Service
	Tokens       *auth.TokenService
	Weather      *weather.Service
	Closures     *closure.Service

	// DB is set when a postgres store is configured.
	DB *pgxpool.Pool

	closers []func() error
}

// Offline returns cfg with every network dependency replaced by a local one: synthetic
// routes, no weather or closure vendor, an empty in-memory incident store, template
// explanations and in-memory flags.
func Offline(cfg config.Config) config.Config {
	cfg.Routing.Provider = "synthetic"
	cfg.Weather.Provider = "none"
	cfg.Safety.Store = "memory"
	cfg.Closures.Feed = "none"
	cfg.LLM.Provider = "none"
	cfg.Flags.Store = "memory"
	return cfg
}

// Build wires every component named by cfg. On error, anything already opened is closed.
func Build(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: resilience.NewRegistry(),
	}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg, logger := a.Config, a.Logger

	if cfg.UsesPostgres() {
		pool, err := database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		a.DB = pool
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
	}

	var err error
	if a.Flags, err = a.buildFlags(ctx); err != nil {
		return err
	}

	a.Tokens = auth.NewTokenService(auth.TokenConfig{
		SigningKey: cfg.Auth.OperatorTokenKey,
		Issuer:     cfg.Auth.Issuer,
		TTL:        cfg.Auth.TokenTTL.Duration,
	})

	gen, err := llm.New(ctx, llm.Config{
		Provider: cfg.LLM.Provider,
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
		Timeout:  cfg.LLM.Timeout.Duration,
	})
	if err != nil && !errors.Is(err, llm.ErrNotConfigured) {
		return fmt.Errorf("llm: %w", err)
	}

	ocfg := orchestrator.Config{
		Classifier:        intent.NewKeywordClassifier(),
		KeywordClassifier: intent.NewKeywordClassifier(),
		Generator:         a.buildGenerator(),
		Synthesizer:       synthesis.New(synthesis.Config{Logger: logger}),
		Flags:             a.Flags,
		Timeouts:          timeouts(cfg.Orchestrator.Timeouts),
		DefaultTargetKm:   cfg.Orchestrator.DefaultTargetKm,
		DefaultStart: &polyline.Coordinate{
			Lat: cfg.Orchestrator.DefaultStart.Lat,
			Lon: cfg.Orchestrator.DefaultStart.Lon,
		},
		Logger: logger,
	}
	if gen != nil {
		if cfg.LLM.Classify {
			ocfg.Classifier = intent.NewLLMClassifier(gen)
		}
		if cfg.LLM.Explain {
			ocfg.Synthesizer = synthesis.New(synthesis.Config{
				Explainer: synthesis.NewLLMExplainer(gen),
				Logger:    logger,
			})
		}
	}

	if len(cfg.Orchestrator.Plan) > 0 {
		if ocfg.Policy, err = orchestrator.ParsePlanPolicy(cfg.Orchestrator.Plan); err != nil {
			return fmt.Errorf("orchestrator plan: %w", err)
		}
	}

	scorer, err := a.buildSafety(ctx)
	if err != nil {
		return err
	}
	if scorer != nil {
		ocfg.Safety = scorer
	}

	if a.Weather = a.buildWeather(); a.Weather != nil {
		ocfg.Weather = a.Weather
	}
	if a.Closures = a.buildClosures(); a.Closures != nil {
		ocfg.Closures = a.Closures
	}

	if a.Orchestrator, err = orchestrator.New(ocfg); err != nil {
		return err
	}

	logger.Info().
		Str("classifier", ocfg.Classifier.Name()).
		Str("routing", cfg.Routing.Provider).
		Str("weather", cfg.Weather.Provider).
		Str("safety", cfg.Safety.Store).
		Str("closures", cfg.Closures.Feed).
		Str("flags", cfg.Flags.Store).
		Bool("operator_tokens", a.Tokens.Enabled()).
		Msg("runnervision wired")

	return nil
}

func (a *App) buildFlags(ctx context.Context) (*featureflags.Service, error) {
	var repo featureflags.Repository
	switch a.Config.Flags.Store {
	case "postgres":
		pg := featureflags.NewPostgresRepository(a.DB)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		repo = pg
	default:
		repo = featureflags.NewInMemoryRepository()
	}
	return featureflags.NewService(featureflags.ServiceConfig{
		Repository: repo,
		Logger:     a.Logger,
		CacheTTL:   a.Config.Flags.CacheTTL.Duration,
	}), nil
}

func (a *App) buildGenerator() *routing.Generator {
	cfg := a.Config.Routing

	var provider routing.Provider
	switch cfg.Provider {
	case "openrouteservice":
		provider = openrouteservice.NewClient(openrouteservice.ClientConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Timeout:  cfg.CallTimeout.Duration,
			Shape:    openrouteservice.Shape(cfg.Shape),
			Registry: a.Registry,
			Logger:   a.Logger,
		})
	default:
		provider = routing.NewSyntheticProvider()
	}

	return routing.NewGenerator(routing.GeneratorConfig{
		Provider: routing.NewCachingProvider(routing.CacheConfig{
			Provider: provider,
			Logger:   a.Logger,
			CacheTTL: cfg.CacheTTL.Duration,
		}),
		Count:           cfg.Candidates,
		Tolerance:       cfg.Tolerance,
		MaxAdjustments:  cfg.MaxAdjustments,
		CallTimeout:     cfg.CallTimeout.Duration,
		RateLimit:       rate.Limit(cfg.RatePerSecond),
		Burst:           cfg.Burst,
		Profile:         routing.Profile(cfg.Profile),
		DefaultTargetKm: a.Config.Orchestrator.DefaultTargetKm,
		Logger:          a.Logger,
	})
}

func (a *App) buildSafety(ctx context.Context) (*safety.Scorer, error) {
	cfg := a.Config.Safety

	var store safety.IncidentStore
	switch cfg.Store {
	case "none":
		return nil, nil
	case "postgres":
		pg := safety.NewPostgresStore(a.DB)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		store = pg
	case "sqlite":
		lite, err := safety.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("incident store: %w", err)
		}
		a.closers = append(a.closers, lite.Close)
		store = lite
	case "nycopendata":
		store = nycopendata.NewClient(nycopendata.ClientConfig{
			AppToken: cfg.AppToken,
			Registry: a.Registry,
			Logger:   a.Logger,
		})
	default:
		store = safety.NewMemoryStore()
	}

	return safety.NewScorer(safety.ScorerConfig{
		Store:        store,
		BufferMeters: cfg.BufferMeters,
		WindowDays:   cfg.WindowDays,
		Logger:       a.Logger,
	}), nil
}

func (a *App) buildWeather() *weather.Service {
	cfg := a.Config.Weather
	if cfg.Provider != "openweathermap" {
		return nil
	}
	return weather.NewService(weather.ServiceConfig{
		Provider: openweathermap.NewClient(openweathermap.ClientConfig{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Registry: a.Registry,
			Logger:   a.Logger,
		}),
		Logger:   a.Logger,
		CacheTTL: cfg.CacheTTL.Duration,
	})
}

func (a *App) buildClosures() *closure.Service {
	cfg := a.Config.Closures

	var feed closure.Feed
	switch cfg.Feed {
	case "nycdot":
		feed = nycdot.NewClient(nycdot.ClientConfig{
			AppToken: cfg.AppToken,
			BaseURL:  cfg.URL,
			Registry: a.Registry,
			Logger:   a.Logger,
		})
	case "georss":
		feed = georss.New(georss.Config{
			URL:      cfg.URL,
			Registry: a.Registry,
			Logger:   a.Logger,
		})
	case "static":
		feed = closure.NewStaticFeed()
	default:
		return nil
	}

	return closure.NewService(closure.ServiceConfig{
		Feed: feed,
		Filter: closure.FilterConfig{
			SampleMeters:    cfg.SampleMeters,
			ProximityMeters: cfg.ProximityMeters,
			Threshold:       cfg.Threshold,
		},
		Logger:   a.Logger,
		CacheTTL: cfg.CacheTTL.Duration,
	})
}

// Router builds the HTTP API over the wired components.
func (a *App) Router(version, buildTime string, metrics *middleware.Metrics) http.Handler {
	rc := api.RouterConfig{
		Version:            version,
		BuildTime:          buildTime,
		Logger:             a.Logger,
		RequireTLS:         a.Config.Server.RequireTLS,
		Metrics:            metrics,
		Orchestrator:       a.Orchestrator,
		Registry:           a.Registry,
		FeatureFlagService: a.Flags,
		TokenService:       a.Tokens,
		RateLimits: middleware.RateLimits{
			Recommend: middleware.PerMinute(a.Config.Server.RateLimits.Recommend),
			Standard:  middleware.PerMinute(a.Config.Server.RateLimits.Standard),
			Admin:     middleware.PerMinute(a.Config.Server.RateLimits.Admin),
		},
	}
	if a.DB != nil {
		rc.Database = a.DB
	}
	return api.NewRouter(rc)
}

// WarmupJob builds the cache warmup job over the configured weather and closure services.
func (a *App) WarmupJob() *worker.WarmupJob {
	cfg := worker.WarmupJobConfig{
		Config: worker.WarmupConfig{
			Spots:       worker.SpotsFromConfig(a.Config.Worker.Spots),
			Concurrency: a.Config.Worker.Concurrency,
		},
		Logger: a.Logger,
	}
	if a.Weather != nil {
		cfg.Weather = a.Weather
	}
	if a.Closures != nil {
		cfg.Closures = a.Closures
	}
	return worker.NewWarmupJob(cfg)
}

// Close releases stores and connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}

func timeouts(t config.TimeoutsConfig) orchestrator.Timeouts {
	return orchestrator.Timeouts{
		Classification: t.Classification.Duration,
		Stage:          t.Stage.Duration,
		Safety:         t.Safety.Duration,
		Weather:        t.Weather.Duration,
		Closures:       t.Closures.Duration,
		Annotation:     t.Annotation.Duration,
		Explanation:    t.Explanation.Duration,
		Request:        t.Request.Duration,
	}
}
