package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/runnervision/runnervision/internal/telemetry"
	"github.com/runnervision/runnervision/pkg/polyline"
)

const instrumentationName = "github.com/runnervision/runnervision/internal/worker"

// WeatherWarmer refreshes cached weather for points.
type WeatherWarmer interface {
	Warm(ctx context.Context, points []polyline.Coordinate) int
}

// ClosureWarmer refreshes cached closures for an area.
type ClosureWarmer interface {
	Warm(ctx context.Context, bbox polyline.Bounds) error
}

// WarmupJob refreshes the weather and closure caches for the configured spots.
type WarmupJob struct {
	config   WarmupConfig
	logger   zerolog.Logger
	weather  WeatherWarmer
	closures ClosureWarmer

	spotsWarmed metric.Int64Counter
	spotsFailed metric.Int64Counter
	duration    metric.Float64Histogram

	mu   sync.RWMutex
	last *WarmupResult
}

// WarmupJobConfig holds configuration for creating a WarmupJob.
type WarmupJobConfig struct {
	Config WarmupConfig
	Logger zerolog.Logger

	// Weather and Closures are optional; a nil warmer is skipped.
	Weather  WeatherWarmer
	Closures ClosureWarmer

	// Meter defaults to the global meter provider.
	Meter metric.Meter
}

// NewWarmupJob creates a new warmup job.
func NewWarmupJob(cfg WarmupJobConfig) *WarmupJob {
	config := cfg.Config
	defaults := DefaultWarmupConfig()
	if len(config.Spots) == 0 {
		config.Spots = defaults.Spots
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}

	meter := cfg.Meter
	if meter == nil {
		meter = telemetry.Meter(instrumentationName)
	}
	// Instrument creation only fails on invalid names; the returned no-op instruments are safe.
	warmed, _ := meter.Int64Counter("worker.warmup.spots_warmed",
		metric.WithDescription("Spots whose caches were refreshed"))
	failed, _ := meter.Int64Counter("worker.warmup.spots_failed",
		metric.WithDescription("Spots where a provider refresh failed"))
	duration, _ := meter.Float64Histogram("worker.warmup.duration",
		metric.WithDescription("Duration of a warmup run"),
		metric.WithUnit("s"))

	return &WarmupJob{
		config:      config,
		logger:      cfg.Logger,
		weather:     cfg.Weather,
		closures:    cfg.Closures,
		spotsWarmed: warmed,
		spotsFailed: failed,
		duration:    duration,
	}
}

// Config returns the job configuration after defaults.
func (j *WarmupJob) Config() WarmupConfig {
	return j.config
}

// WarmupResult contains the result of one warmup run.
type WarmupResult struct {
	StartTime     time.Time
	Duration      time.Duration
	TotalSpots    int
	Successful    int
	Failed        int
	WeatherPoints int
	Errors        []WarmupError
}

// WarmupError is one failed refresh.
type WarmupError struct {
	Provider string
	Spot     string
	Error    string
}

// Run warms every configured spot.
func (j *WarmupJob) Run(ctx context.Context) *WarmupResult {
	return j.RunSpots(ctx, j.config.Spots)
}

// RunSpots warms spots with at most Concurrency spots in flight. A cancelled context stops
// spots that have not started; their absence shows in Successful+Failed < TotalSpots.
func (j *WarmupJob) RunSpots(ctx context.Context, spots []Spot) *WarmupResult {
	ctx, span := telemetry.Tracer(instrumentationName).Start(ctx, "worker.warmup")
	defer span.End()
	span.SetAttributes(attribute.Int("worker.spots", len(spots)))

	result := &WarmupResult{
		StartTime:  time.Now(),
		TotalSpots: len(spots),
	}

	j.logger.Info().
		Int("spots", len(spots)).
		Int("concurrency", j.config.Concurrency).
		Msg("starting cache warmup")

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)
	for _, spot := range spots {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			sr := j.warmSpot(gctx, spot)

			mu.Lock()
			defer mu.Unlock()
			result.WeatherPoints += sr.weatherPoints
			result.Errors = append(result.Errors, sr.errors...)
			if len(sr.errors) == 0 {
				result.Successful++
			} else {
				result.Failed++
			}
			return nil
		})
	}
	_ = g.Wait() // spot failures are collected, never returned

	result.Duration = time.Since(result.StartTime)

	j.spotsWarmed.Add(ctx, int64(result.Successful))
	j.spotsFailed.Add(ctx, int64(result.Failed))
	j.duration.Record(ctx, result.Duration.Seconds())
	if result.Failed > 0 {
		span.SetStatus(codes.Error, "spot refresh failed")
	}

	j.mu.Lock()
	j.last = result
	j.mu.Unlock()

	j.logger.Info().
		Dur("duration", result.Duration).
		Int("successful", result.Successful).
		Int("failed", result.Failed).
		Int("weather_points", result.WeatherPoints).
		Msg("cache warmup completed")

	return result
}

// LastResult returns the most recent run, or nil before the first one.
func (j *WarmupJob) LastResult() *WarmupResult {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.last
}

type spotResult struct {
	weatherPoints int
	errors        []WarmupError
}

func (j *WarmupJob) warmSpot(ctx context.Context, spot Spot) spotResult {
	ctx, cancel := context.WithTimeout(ctx, j.config.Timeout)
	defer cancel()

	var sr spotResult

	if j.weather != nil {
		points := spot.Points()
		sr.weatherPoints = j.weather.Warm(ctx, points)
		if sr.weatherPoints == 0 && len(points) > 0 {
			sr.errors = append(sr.errors, WarmupError{
				Provider: "weather",
				Spot:     spot.Name,
				Error:    "no point refreshed",
			})
		}
	}

	if j.closures != nil {
		if err := j.closures.Warm(ctx, spot.Bounds()); err != nil {
			sr.errors = append(sr.errors, WarmupError{
				Provider: "closures",
				Spot:     spot.Name,
				Error:    err.Error(),
			})
		}
	}

	for _, e := range sr.errors {
		j.logger.Warn().
			Str("spot", e.Spot).
			Str("provider", e.Provider).
			Str("error", e.Error).
			Msg("spot warmup failed")
	}
	return sr
}

// ErrTooManyFailures is returned when most spots failed to warm.
var ErrTooManyFailures = errors.New("too many warmup failures")
