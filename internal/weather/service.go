// Package weather checks current running conditions once per request.
package weather

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/runnervision/runnervision/pkg/polyline"
)

// Provider defines the interface for weather data providers.
type Provider interface {
	// GetCurrentWeather fetches current weather for a location.
	GetCurrentWeather(ctx context.Context, lat, lon float64) (*Observation, error)

	// Name returns the provider name for logging.
	Name() string
}

// Service defaults.
const (
	DefaultCacheTTL        = 10 * time.Minute
	DefaultCacheGridSize   = 0.1 // degrees, about 11 km of latitude
	DefaultStaleIfErrorTTL = time.Hour
	DefaultWarmConcurrency = 4
)

// ServiceConfig holds configuration for the weather service.
type ServiceConfig struct {
	Provider Provider
	Logger   zerolog.Logger

	// CacheTTL is how long an observation is served without asking the provider.
	CacheTTL time.Duration

	// CacheGridSize is the cache cell edge in degrees. Points in one cell
	// share an observation.
	CacheGridSize float64

	// StaleIfErrorTTL is how long past its fetch an observation may still be
	// served while the provider is failing.
	StaleIfErrorTTL time.Duration

	// WarmConcurrency bounds parallel provider calls during Warm.
	WarmConcurrency int
}

// Service serves observations from a per-cell cache in front of a Provider.
// Concurrent misses for one cell share a single provider call.
type Service struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	gridSize        float64
	staleIfErrorTTL time.Duration
	warmConcurrency int

	fetches singleflight.Group

	mu          sync.RWMutex
	cells       map[cell]cachedObservation
	lastCleanup time.Time
}

// cell is a cache grid square, identified by its south-west corner index.
type cell struct {
	lat, lon int64
}

func (c cell) String() string {
	return fmt.Sprintf("%d:%d", c.lat, c.lon)
}

type cachedObservation struct {
	observation *Observation
	fetchedAt   time.Time
}

// NewService creates a new weather service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.CacheGridSize <= 0 {
		cfg.CacheGridSize = DefaultCacheGridSize
	}
	if cfg.StaleIfErrorTTL <= 0 {
		cfg.StaleIfErrorTTL = DefaultStaleIfErrorTTL
	}
	if cfg.WarmConcurrency <= 0 {
		cfg.WarmConcurrency = DefaultWarmConcurrency
	}

	return &Service{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cfg.CacheTTL,
		gridSize:        cfg.CacheGridSize,
		staleIfErrorTTL: cfg.StaleIfErrorTTL,
		warmConcurrency: cfg.WarmConcurrency,
		cells:           make(map[cell]cachedObservation),
	}
}

// Check returns the graded conditions at location for a run starting at at. On failure it
// returns UnknownSnapshot together with the error, so callers can always use the snapshot.
func (s *Service) Check(ctx context.Context, location polyline.Coordinate, at time.Time) (Snapshot, error) {
	if at.IsZero() {
		at = time.Now()
	}
	obs, err := s.observe(ctx, location.Lat, location.Lon, at)
	if err != nil {
		return UnknownSnapshot(), err
	}
	return Assess(obs), nil
}

// GetCurrentWeather returns the observation for a location, from cache when fresh.
func (s *Service) GetCurrentWeather(ctx context.Context, lat, lon float64) (*Observation, error) {
	return s.observe(ctx, lat, lon, time.Now())
}

// Warm refreshes every distinct cell the points fall in, ignoring freshness.
// It returns how many of the points sit in a cell that was refreshed.
func (s *Service) Warm(ctx context.Context, points []polyline.Coordinate) int {
	byCell := make(map[cell][]polyline.Coordinate)
	for _, p := range points {
		if validateCoordinates(p.Lat, p.Lon) != nil {
			continue
		}
		c := s.cellOf(p.Lat, p.Lon)
		byCell[c] = append(byCell[c], p)
	}

	var warmed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.warmConcurrency)
	for c, members := range byCell {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			p := members[0]
			if _, err := s.fetch(gctx, c, p.Lat, p.Lon, time.Now()); err != nil {
				s.logger.Warn().
					Err(err).
					Str("cell", c.String()).
					Msg("failed to warm weather cell")
				return nil
			}
			warmed.Add(int64(len(members)))
			return nil
		})
	}
	_ = g.Wait()

	return int(warmed.Load())
}

// Name returns the provider name.
func (s *Service) Name() string {
	return s.provider.Name()
}

func (s *Service) cellOf(lat, lon float64) cell {
	return cell{
		lat: int64(math.Floor(lat / s.gridSize)),
		lon: int64(math.Floor(lon / s.gridSize)),
	}
}

func (s *Service) observe(ctx context.Context, lat, lon float64, now time.Time) (*Observation, error) {
	if err := validateCoordinates(lat, lon); err != nil {
		return nil, err
	}

	c := s.cellOf(lat, lon)
	s.mu.RLock()
	cached, ok := s.cells[c]
	s.mu.RUnlock()
	if ok && now.Before(cached.fetchedAt.Add(s.cacheTTL)) {
		return cached.observation, nil
	}

	return s.fetch(ctx, c, lat, lon, now)
}

// fetch calls the provider for cell c, falling back to a stale observation
// while it is inside the stale window.
func (s *Service) fetch(ctx context.Context, c cell, lat, lon float64, now time.Time) (*Observation, error) {
	v, err, _ := s.fetches.Do(c.String(), func() (any, error) {
		s.logger.Debug().
			Str("cell", c.String()).
			Str("provider", s.provider.Name()).
			Msg("fetching weather from provider")

		obs, err := s.provider.GetCurrentWeather(ctx, lat, lon)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		s.cells[c] = cachedObservation{observation: obs, fetchedAt: now}
		s.cleanupLocked(now)
		s.mu.Unlock()
		return obs, nil
	})
	if err == nil {
		return v.(*Observation), nil
	}

	s.mu.RLock()
	cached, ok := s.cells[c]
	s.mu.RUnlock()
	if ok && now.Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
		s.logger.Warn().
			Err(err).
			Time("fetched_at", cached.fetchedAt).
			Msg("serving stale weather after provider error")
		return cached.observation, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, ctxErr)
	}
	return nil, fmt.Errorf("%w: %w", ErrProviderUnavailable, err)
}

// cleanupLocked drops observations past the stale window, at most every five minutes.
func (s *Service) cleanupLocked(now time.Time) {
	if now.Sub(s.lastCleanup) < 5*time.Minute {
		return
	}
	s.lastCleanup = now

	for c, cached := range s.cells {
		if now.After(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.cells, c)
		}
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cells = make(map[cell]cachedObservation)
}

// CacheStats contains cache statistics.
type CacheStats struct {
	WeatherEntries      int
	WeatherFreshEntries int
	Provider            string
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := time.Now()
	stats := CacheStats{WeatherEntries: len(s.cells), Provider: s.provider.Name()}
	for _, c := range s.cells {
		if now.Before(c.fetchedAt.Add(s.cacheTTL)) {
			stats.WeatherFreshEntries++
		}
	}
	return stats
}

func validateCoordinates(lat, lon float64) error {
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return ErrInvalidCoordinates
	}
	return nil
}
