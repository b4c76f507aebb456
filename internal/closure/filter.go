package closure

import (
	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/pkg/polyline"
)

// Filter defaults.
const (
	DefaultSampleMeters    = 10.0
	DefaultProximityMeters = 15.0
	DefaultThreshold       = 0.05
)

// FilterConfig controls how much overlap blocks a candidate.
type FilterConfig struct {
	// SampleMeters is the spacing of the points checked along each candidate.
	SampleMeters float64

	// ProximityMeters is how close a point must be to a closure segment to count as covered.
	ProximityMeters float64

	// Threshold is the covered share of the route above which the candidate is blocked.
	Threshold float64
}

// DefaultFilterConfig returns the default filter settings.
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		SampleMeters:    DefaultSampleMeters,
		ProximityMeters: DefaultProximityMeters,
		Threshold:       DefaultThreshold,
	}
}

// withDefaults fills unset fields. The zero FilterConfig means the defaults, including the
// threshold; a partially set config keeps an explicit zero threshold.
func (c FilterConfig) withDefaults() FilterConfig {
	if c == (FilterConfig{}) {
		return DefaultFilterConfig()
	}
	if c.SampleMeters <= 0 {
		c.SampleMeters = DefaultSampleMeters
	}
	if c.ProximityMeters <= 0 {
		c.ProximityMeters = DefaultProximityMeters
	}
	if c.Threshold < 0 {
		c.Threshold = DefaultThreshold
	}
	return c
}

// Filter annotates every candidate against closures using the default settings.
func Filter(candidates []routing.Candidate, closures []Closure) map[int]Annotation {
	return DefaultFilterConfig().Filter(candidates, closures)
}

// Filter annotates every candidate against closures. Every candidate gets an annotation.
// It is a pure function of its inputs.
func (c FilterConfig) Filter(candidates []routing.Candidate, closures []Closure) map[int]Annotation {
	c = c.withDefaults()
	out := make(map[int]Annotation, len(candidates))
	for i := range candidates {
		out[candidates[i].ID] = c.annotate(&candidates[i], closures)
	}
	return out
}

func (c FilterConfig) annotate(candidate *routing.Candidate, closures []Closure) Annotation {
	ann := Annotation{CandidateID: candidate.ID}
	if len(candidate.Geometry) == 0 {
		return ann
	}

	reach := polyline.BoundsOf(candidate.Geometry).Expand(c.ProximityMeters)
	nearby := make([]*Closure, 0, len(closures))
	for i := range closures {
		if closures[i].HasGeometry() && closures[i].Bounds().Intersects(reach) {
			nearby = append(nearby, &closures[i])
		}
	}
	if len(nearby) == 0 {
		return ann
	}

	samples := polyline.Sample(candidate.Geometry, c.SampleMeters)
	covered := 0
	hit := make(map[string]struct{})
	for _, p := range samples {
		inside := false
		for _, cl := range nearby {
			if c.covers(cl, p) {
				hit[cl.ID] = struct{}{}
				inside = true
			}
		}
		if inside {
			covered++
		}
	}

	ann.OverlapFraction = float64(covered) / float64(len(samples))
	ann.Blocked = ann.OverlapFraction > c.Threshold
	ann.ClosureIDs = sortedIDs(hit)
	return ann
}

func (c FilterConfig) covers(cl *Closure, p polyline.Coordinate) bool {
	for _, seg := range cl.Segments {
		if polyline.DistanceToLine(p, seg) <= c.ProximityMeters {
			return true
		}
	}
	for _, ring := range cl.Polygons {
		if len(ring) >= 3 && polyline.InPolygon(p, ring) {
			return true
		}
	}
	return false
}
