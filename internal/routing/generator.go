package routing

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/runnervision/runnervision/pkg/polyline"
)

// GeneratorConfig holds configuration for the candidate generator.
type GeneratorConfig struct {
	// Provider computes the individual routes.
	Provider Provider

	// Count is the number of candidates, one per evenly spaced bearing (default: 8).
	Count int

	// Tolerance is the accepted relative distance error (default: 0.15).
	Tolerance float64

	// MaxAdjustments is how many times a route outside the band is re-requested with a
	// rescaled distance (default: 2).
	MaxAdjustments int

	// CallTimeout bounds each provider call (default: 4 seconds).
	CallTimeout time.Duration

	// RateLimit paces provider calls across all candidates (default: 10/s, burst 4).
	RateLimit rate.Limit
	Burst     int

	// Profile is the routing profile (default: foot-walking).
	Profile Profile

	// DefaultTargetKm is used when no positive target is given (default: 5.0).
	DefaultTargetKm float64

	Logger zerolog.Logger
}

// Generator fans route requests out over the configured bearings.
type Generator struct {
	provider        Provider
	count           int
	tolerance       float64
	maxAdjustments  int
	callTimeout     time.Duration
	profile         Profile
	defaultTargetKm float64
	limiter         *rate.Limiter
	logger          zerolog.Logger
}

// NewGenerator creates a candidate generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	count := cfg.Count
	if count <= 0 || count > len(compass) {
		count = len(compass)
	}

	tolerance := cfg.Tolerance
	if tolerance <= 0 || tolerance >= 1 {
		tolerance = 0.15
	}

	maxAdjustments := cfg.MaxAdjustments
	if maxAdjustments < 0 {
		maxAdjustments = 0
	} else if maxAdjustments == 0 {
		maxAdjustments = 2
	}

	callTimeout := cfg.CallTimeout
	if callTimeout == 0 {
		callTimeout = 4 * time.Second
	}

	limit := cfg.RateLimit
	if limit == 0 {
		limit = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 4
	}

	profile := cfg.Profile
	if profile == "" {
		profile = ProfileWalk
	}

	defaultTarget := cfg.DefaultTargetKm
	if defaultTarget <= 0 {
		defaultTarget = 5.0
	}

	return &Generator{
		provider:        cfg.Provider,
		count:           count,
		tolerance:       tolerance,
		maxAdjustments:  maxAdjustments,
		callTimeout:     callTimeout,
		profile:         profile,
		defaultTargetKm: defaultTarget,
		limiter:         rate.NewLimiter(limit, burst),
		logger:          cfg.Logger,
	}
}

// DefaultTargetKm is the distance used when a request has none.
func (g *Generator) DefaultTargetKm() float64 {
	return g.defaultTargetKm
}

// Tolerance is the accepted relative distance error.
func (g *Generator) Tolerance() float64 {
	return g.tolerance
}

type bearingResult struct {
	candidate *Candidate
	attempts  int
	err       error
}

// Generate returns the candidates that landed within the tolerance band, sorted by ID. It
// fails with *NoRouteError when none did.
func (g *Generator) Generate(ctx context.Context, start Coordinate, targetKm float64) ([]Candidate, error) {
	if targetKm <= 0 {
		targetKm = g.defaultTargetKm
	}
	if !start.Valid() {
		return nil, &NoRouteError{Start: start, TargetKm: targetKm, Cause: ErrInvalidCoordinates}
	}

	results := make(chan bearingResult, g.count)
	var wg sync.WaitGroup
	step := 360.0 / float64(g.count)
	for i := 0; i < g.count; i++ {
		wg.Add(1)
		go func(id int, bearing float64) {
			defer wg.Done()
			results <- g.generateOne(ctx, id, start, bearing, targetKm)
		}(i+1, float64(i)*step)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		candidates []Candidate
		attempts   int
		lastErr    error
	)
	for r := range results {
		attempts += r.attempts
		if r.err != nil {
			lastErr = r.err
			continue
		}
		if r.candidate != nil {
			candidates = append(candidates, *r.candidate)
		}
	}

	if len(candidates) == 0 {
		g.logger.Warn().
			Err(lastErr).
			Float64("lat", start.Lat).
			Float64("lon", start.Lon).
			Float64("target_km", targetKm).
			Str("provider", g.provider.Name()).
			Msg("no route candidates generated")
		return nil, &NoRouteError{Start: start, TargetKm: targetKm, Attempts: attempts, Cause: lastErr}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID < candidates[j].ID })
	g.logger.Debug().
		Int("candidates", len(candidates)).
		Int("attempts", attempts).
		Float64("target_km", targetKm).
		Msg("route candidates generated")
	return candidates, nil
}

func (g *Generator) generateOne(ctx context.Context, id int, start Coordinate, bearing, targetKm float64) bearingResult {
	requested := targetKm
	var res bearingResult

	for adjust := 0; adjust <= g.maxAdjustments; adjust++ {
		if err := g.limiter.Wait(ctx); err != nil {
			res.err = err
			return res
		}

		res.attempts++
		route, err := g.compute(ctx, RouteRequest{
			Start:          start,
			BearingDegrees: bearing,
			DistanceKm:     requested,
			Profile:        g.profile,
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				g.logger.Debug().Err(err).Int("candidate_id", id).Msg("route request failed")
			}
			res.err = err
			return res
		}

		lengthKm := route.DistanceMeters / 1000
		if lengthKm <= 0 {
			lengthKm = polyline.Length(route.Geometry) / 1000
		}
		if len(route.Geometry) < 2 || lengthKm <= 0 {
			res.err = &Error{Provider: g.provider.Name(), Code: "EMPTY_ROUTE", Message: "route has no geometry", Err: ErrNoRoute}
			return res
		}

		if math.Abs(lengthKm-targetKm) <= g.tolerance*targetKm {
			res.candidate = &Candidate{
				ID:             id,
				Geometry:       route.Geometry,
				LengthKm:       lengthKm,
				Direction:      DirectionFor(bearing),
				BearingDegrees: bearing,
			}
			return res
		}
		requested *= targetKm / lengthKm
	}

	g.logger.Debug().
		Int("candidate_id", id).
		Float64("bearing", bearing).
		Msg("route outside tolerance band, dropped")
	return res
}

func (g *Generator) compute(ctx context.Context, req RouteRequest) (*Route, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()
	return g.provider.ComputeRoute(ctx, req)
}
