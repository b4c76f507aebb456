// Package worker provides background job processing for RunnerVision.
package worker

import (
	"time"

	"github.com/runnervision/runnervision/internal/config"
	"github.com/runnervision/runnervision/pkg/polyline"
)

// Spot is a popular start area whose provider caches are kept warm.
type Spot struct {
	Name   string
	Center polyline.Coordinate

	// RadiusMeters covers the loops that start at Center.
	RadiusMeters float64
}

// Bounds returns the box covering the spot's radius.
func (s Spot) Bounds() polyline.Bounds {
	return polyline.BoundsOf([]polyline.Coordinate{s.Center}).Expand(s.RadiusMeters)
}

// Points returns the center plus one point at half the radius on each compass bearing, where
// loops from the spot spend most of their distance.
func (s Spot) Points() []polyline.Coordinate {
	points := []polyline.Coordinate{s.Center}
	if s.RadiusMeters <= 0 {
		return points
	}
	for _, bearing := range []float64{0, 90, 180, 270} {
		points = append(points, polyline.Destination(s.Center, bearing, s.RadiusMeters/2))
	}
	return points
}

// WarmupConfig holds configuration for the cache warmup job.
type WarmupConfig struct {
	// Spots are the areas to warm. If empty, uses DefaultSpots.
	Spots []Spot

	// Concurrency is the number of spots warmed at once.
	// Default: 4
	Concurrency int

	// Timeout bounds the work for one spot.
	// Default: 20 seconds
	Timeout time.Duration
}

// DefaultWarmupConfig returns the default warmup configuration.
func DefaultWarmupConfig() WarmupConfig {
	return WarmupConfig{
		Spots:       SpotsFromConfig(config.Default().Worker.Spots),
		Concurrency: 4,
		Timeout:     20 * time.Second,
	}
}

// SpotsFromConfig converts configured spots.
func SpotsFromConfig(spots []config.Spot) []Spot {
	out := make([]Spot, 0, len(spots))
	for _, s := range spots {
		out = append(out, Spot{
			Name:         s.Name,
			Center:       polyline.Coordinate{Lat: s.Lat, Lon: s.Lon},
			RadiusMeters: s.RadiusMeters,
		})
	}
	return out
}

// Select returns the spots named, in configured order. No names selects every spot.
func (c WarmupConfig) Select(names []string) []Spot {
	if len(names) == 0 {
		return c.Spots
	}
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}
	var out []Spot
	for _, s := range c.Spots {
		if want[s.Name] {
			out = append(out, s)
		}
	}
	return out
}
