package closure

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/pkg/polyline"
)

// Feed is a source of active street closures.
type Feed interface {
	// ActiveClosures returns closures intersecting bbox that are in effect now.
	ActiveClosures(ctx context.Context, bbox polyline.Bounds) ([]Closure, error)

	// Name returns the feed name for logging.
	Name() string
}

// ServiceConfig holds configuration for the closure service.
type ServiceConfig struct {
	// Feed is the closure data source.
	Feed Feed

	// Filter controls overlap matching.
	Filter FilterConfig

	// Logger for service operations.
	Logger zerolog.Logger

	// CacheTTL is how long fetched closures are reused (default: 5 minutes).
	CacheTTL time.Duration

	// TileSize is the grid cell size in degrees that requested boxes are snapped to (default: 0.02).
	TileSize float64

	// StaleIfErrorTTL allows serving stale closures on feed errors (default: 1 hour).
	StaleIfErrorTTL time.Duration

	// Now overrides the clock (tests).
	Now func() time.Time
}

// Service answers closure queries for candidate sets, caching feed results per snapped box.
type Service struct {
	feed            Feed
	filter          FilterConfig
	logger          zerolog.Logger
	cacheTTL        time.Duration
	tileSize        float64
	staleIfErrorTTL time.Duration
	now             func() time.Time

	mu    sync.RWMutex
	cache map[string]*cachedClosures
}

type cachedClosures struct {
	closures  []Closure
	fetchedAt time.Time
	expiresAt time.Time
}

// NewService creates a new closure service.
func NewService(cfg ServiceConfig) *Service {
	cacheTTL := cfg.CacheTTL
	if cacheTTL == 0 {
		cacheTTL = 5 * time.Minute
	}
	tileSize := cfg.TileSize
	if tileSize == 0 {
		tileSize = 0.02
	}
	staleIfErrorTTL := cfg.StaleIfErrorTTL
	if staleIfErrorTTL == 0 {
		staleIfErrorTTL = time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Service{
		feed:            cfg.Feed,
		filter:          cfg.Filter.withDefaults(),
		logger:          cfg.Logger,
		cacheTTL:        cacheTTL,
		tileSize:        tileSize,
		staleIfErrorTTL: staleIfErrorTTL,
		now:             now,
		cache:           make(map[string]*cachedClosures),
	}
}

// Name returns the feed name.
func (s *Service) Name() string {
	return s.feed.Name()
}

// Annotate fetches the closures around all candidates once and matches every candidate
// against them. Feed failures are returned as *AnnotationUnavailableError.
func (s *Service) Annotate(ctx context.Context, candidates []routing.Candidate) (map[int]Annotation, error) {
	if len(candidates) == 0 {
		return map[int]Annotation{}, nil
	}

	bbox := routing.Bounds(candidates).Expand(s.filter.ProximityMeters)
	closures, err := s.ActiveClosures(ctx, bbox)
	if err != nil {
		return nil, &AnnotationUnavailableError{Feed: s.feed.Name(), Err: err}
	}

	annotations := s.filter.Filter(candidates, closures)

	blocked := 0
	for _, a := range annotations {
		if a.Blocked {
			blocked++
		}
	}
	s.logger.Debug().
		Int("closures", len(closures)).
		Int("candidates", len(candidates)).
		Int("blocked", blocked).
		Msg("annotated candidates with closures")

	return annotations, nil
}

// ActiveClosures returns deduplicated closures intersecting bbox and active now.
func (s *Service) ActiveClosures(ctx context.Context, bbox polyline.Bounds) ([]Closure, error) {
	if !validBounds(bbox) {
		return nil, ErrInvalidBounds
	}

	now := s.now()
	tile := s.snap(bbox)
	key := tileKey(tile)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()

	var all []Closure
	if ok && now.Before(cached.expiresAt) {
		all = cached.closures
	} else {
		var err error
		all, err = s.fetch(ctx, tile, key, now)
		if err != nil {
			return nil, err
		}
	}

	out := make([]Closure, 0, len(all))
	for _, c := range all {
		if c.Active(now) && c.Bounds().Intersects(bbox) {
			out = append(out, c)
		}
	}
	return out, nil
}

// Warm refreshes the cached closures for bbox.
func (s *Service) Warm(ctx context.Context, bbox polyline.Bounds) error {
	if !validBounds(bbox) {
		return ErrInvalidBounds
	}
	tile := s.snap(bbox)
	_, err := s.fetch(ctx, tile, tileKey(tile), s.now())
	return err
}

// fetch queries the feed for tile and stores the result. The call runs without the lock.
func (s *Service) fetch(ctx context.Context, tile polyline.Bounds, key string, now time.Time) ([]Closure, error) {
	s.logger.Debug().
		Str("tile", key).
		Str("feed", s.feed.Name()).
		Msg("fetching closures from feed")

	closures, err := s.feed.ActiveClosures(ctx, tile)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.logger.Error().Err(err).Str("tile", key).Msg("failed to fetch closures")

		if cached, ok := s.cache[key]; ok && now.Before(cached.fetchedAt.Add(s.staleIfErrorTTL)) {
			s.logger.Warn().
				Time("fetched_at", cached.fetchedAt).
				Msg("serving stale closure data due to feed error")
			return cached.closures, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, ctxErr)
		}
		return nil, fmt.Errorf("%w: %w", ErrFeedUnavailable, err)
	}

	closures = Dedupe(closures)
	s.cache[key] = &cachedClosures{
		closures:  closures,
		fetchedAt: now,
		expiresAt: now.Add(s.cacheTTL),
	}
	s.cleanup(now)
	return closures, nil
}

// snap grows bbox outward to the tile grid so nearby requests share one feed call.
func (s *Service) snap(b polyline.Bounds) polyline.Bounds {
	return polyline.Bounds{
		MinLat: math.Floor(b.MinLat/s.tileSize) * s.tileSize,
		MinLon: math.Floor(b.MinLon/s.tileSize) * s.tileSize,
		MaxLat: math.Ceil(b.MaxLat/s.tileSize) * s.tileSize,
		MaxLon: math.Ceil(b.MaxLon/s.tileSize) * s.tileSize,
	}
}

func (s *Service) cleanup(now time.Time) {
	for key, c := range s.cache {
		if now.After(c.fetchedAt.Add(s.staleIfErrorTTL)) {
			delete(s.cache, key)
		}
	}
}

// InvalidateCache clears all cached data.
func (s *Service) InvalidateCache() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cachedClosures)
}

// CacheStats returns cache statistics.
func (s *Service) CacheStats() CacheStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := CacheStats{Tiles: len(s.cache), Feed: s.feed.Name()}
	for _, c := range s.cache {
		stats.Closures += len(c.closures)
	}
	return stats
}

// CacheStats contains cache statistics.
type CacheStats struct {
	Tiles    int
	Closures int
	Feed     string
}

func tileKey(b polyline.Bounds) string {
	return fmt.Sprintf("%.4f,%.4f:%.4f,%.4f", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

func validBounds(b polyline.Bounds) bool {
	return b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon &&
		b.MinLat >= -90 && b.MaxLat <= 90 && b.MinLon >= -180 && b.MaxLon <= 180
}
