package routing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// CacheConfig holds configuration for the caching provider.
type CacheConfig struct {
	// Provider is the wrapped routing provider.
	Provider Provider

	// Logger for cache operations.
	Logger zerolog.Logger

	// CacheTTL is how long to cache routes (default: 30 minutes).
	// Street networks change slowly, so routes stay valid for a while.
	CacheTTL time.Duration

	// CacheGridSize is the size of cache grid cells in degrees (default: 0.001 ~ 110m).
	// Starts within the same grid cell share cached routes.
	CacheGridSize float64

	// StaleIfErrorTTL allows serving stale routes on provider errors (default: 6 hours).
	StaleIfErrorTTL time.Duration

	// CleanupInterval is how often to clean up expired entries (default: 5 minutes).
	CleanupInterval time.Duration
}

// CachingProvider decorates a Provider with a grid cache.
type CachingProvider struct {
	provider        Provider
	logger          zerolog.Logger
	cacheTTL        time.Duration
	cacheGridSize   float64
	staleIfErrorTTL time.Duration
	cleanupInterval time.Duration

	mu          sync.RWMutex
	cache       map[string]*cachedRoute
	lastCleanup time.Time
}

type cachedRoute struct {
	route     *Route
	fetchedAt time.Time
	expiresAt time.Time
}

// NewCachingProvider wraps cfg.Provider.
func NewCachingProvider(cfg CacheConfig) *CachingProvider {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 30 * time.Minute
	}

	cacheGridSize := cfg.CacheGridSize
	if cacheGridSize == 0 {
		cacheGridSize = 0.001
	}

	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = 6 * time.Hour
	}

	cleanupInterval := cfg.CleanupInterval
	if cleanupInterval == 0 {
		cleanupInterval = 5 * time.Minute
	}

	return &CachingProvider{
		provider:        cfg.Provider,
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		cacheGridSize:   cacheGridSize,
		staleIfErrorTTL: staleIfErrorTTL,
		cleanupInterval: cleanupInterval,
		cache:           make(map[string]*cachedRoute),
	}
}

// Name returns the wrapped provider's name.
func (p *CachingProvider) Name() string {
	return p.provider.Name()
}

// ComputeRoute returns a cached route when one is fresh.
func (p *CachingProvider) ComputeRoute(ctx context.Context, req RouteRequest) (*Route, error) {
	key := p.cacheKey(req)

	p.mu.RLock()
	if cached, ok := p.cache[key]; ok && time.Now().Before(cached.expiresAt) {
		p.mu.RUnlock()
		p.logger.Debug().Str("cache_key", key).Msg("cache hit for route")
		return cached.route, nil
	}
	p.mu.RUnlock()

	return p.fetch(ctx, req, key)
}

func (p *CachingProvider) fetch(ctx context.Context, req RouteRequest, key string) (*Route, error) {
	route, err := p.provider.ComputeRoute(ctx, req)

	p.mu.Lock()
	defer p.mu.Unlock()

	if err != nil {
		if cached, ok := p.cache[key]; ok && time.Now().Before(cached.fetchedAt.Add(p.staleIfErrorTTL)) {
			p.logger.Warn().
				Err(err).
				Time("fetched_at", cached.fetchedAt).
				Str("cache_key", key).
				Msg("serving stale route due to provider error")
			return cached.route, nil
		}
		return nil, err
	}

	now := time.Now()
	p.cache[key] = &cachedRoute{route: route, fetchedAt: now, expiresAt: now.Add(p.cacheTTL)}
	p.cleanupIfNeeded(now)
	return route, nil
}

// cacheKey quantizes the start to the grid, the bearing to whole degrees and the distance
// to 10 m. Format: {profile}:{lat},{lon}:{bearing}:{meters}.
func (p *CachingProvider) cacheKey(req RouteRequest) string {
	gridLat := math.Floor(req.Start.Lat/p.cacheGridSize) * p.cacheGridSize
	gridLon := math.Floor(req.Start.Lon/p.cacheGridSize) * p.cacheGridSize
	return fmt.Sprintf("%s:%.3f,%.3f:%.0f:%.0f",
		req.Profile, gridLat, gridLon,
		math.Round(req.BearingDegrees),
		math.Round(req.DistanceKm*100)*10,
	)
}

func (p *CachingProvider) cleanupIfNeeded(now time.Time) {
	if now.Sub(p.lastCleanup) < p.cleanupInterval {
		return
	}
	p.lastCleanup = now

	expired := 0
	for key, cached := range p.cache {
		if now.After(cached.fetchedAt.Add(p.staleIfErrorTTL)) {
			delete(p.cache, key)
			expired++
		}
	}
	if expired > 0 {
		p.logger.Debug().Int("expired_entries", expired).Msg("cleaned up expired route cache entries")
	}
}

// InvalidateCache clears all cached routes.
func (p *CachingProvider) InvalidateCache() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]*cachedRoute)
}

// CacheStats contains cache statistics.
type CacheStats struct {
	TotalEntries int
	FreshEntries int
	StaleEntries int
	Provider     string
}

// CacheStats returns cache statistics.
func (p *CachingProvider) CacheStats() CacheStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	now := time.Now()
	stats := CacheStats{TotalEntries: len(p.cache), Provider: p.provider.Name()}
	for _, c := range p.cache {
		if now.Before(c.expiresAt) {
			stats.FreshEntries++
		} else if now.Before(c.fetchedAt.Add(p.staleIfErrorTTL)) {
			stats.StaleEntries++
		}
	}
	return stats
}
