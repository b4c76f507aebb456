package safety

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/pkg/polyline"
)

// Scoring defaults.
const (
	DefaultBufferMeters   = 100.0
	DefaultWindowDays     = 60
	DefaultInjuryWeight   = 0.5
	DefaultFatalityWeight = 3.0

	// minLengthKm keeps very short candidates from dividing by almost nothing.
	minLengthKm = 0.1
)

// ScorerConfig holds configuration for the safety scorer.
type ScorerConfig struct {
	// Store is the incident source.
	Store IncidentStore

	// BufferMeters is how close an incident must be to the route to count (default: 100).
	BufferMeters float64

	// WindowDays is the trailing crash window (default: 60).
	WindowDays int

	// InjuryWeight is added to an incident's weight per injury (default: 0.5).
	InjuryWeight float64

	// FatalityWeight is added to an incident's weight per fatality (default: 3.0).
	FatalityWeight float64

	Logger zerolog.Logger
}

// Scorer computes relative crash risk for a candidate set.
type Scorer struct {
	store          IncidentStore
	bufferMeters   float64
	windowDays     int
	injuryWeight   float64
	fatalityWeight float64
	logger         zerolog.Logger
}

// NewScorer creates a scorer.
func NewScorer(cfg ScorerConfig) *Scorer {
	buffer := cfg.BufferMeters
	if buffer <= 0 {
		buffer = DefaultBufferMeters
	}
	window := cfg.WindowDays
	if window <= 0 {
		window = DefaultWindowDays
	}
	injury := cfg.InjuryWeight
	if injury <= 0 {
		injury = DefaultInjuryWeight
	}
	fatality := cfg.FatalityWeight
	if fatality <= 0 {
		fatality = DefaultFatalityWeight
	}

	return &Scorer{
		store:          cfg.Store,
		bufferMeters:   buffer,
		windowDays:     window,
		injuryWeight:   injury,
		fatalityWeight: fatality,
		logger:         cfg.Logger,
	}
}

// Name returns the store name.
func (s *Scorer) Name() string {
	return s.store.Name()
}

// WindowDays returns the crash window in days.
func (s *Scorer) WindowDays() int {
	return s.windowDays
}

// Score annotates every candidate with its crash risk. The store is queried once for the
// union of all candidates. Store failures return *AnnotationUnavailableError.
func (s *Scorer) Score(ctx context.Context, candidates []routing.Candidate) (map[int]Annotation, error) {
	if len(candidates) == 0 {
		return map[int]Annotation{}, nil
	}

	start := time.Now()
	bbox := routing.Bounds(candidates).Expand(s.bufferMeters)
	incidents, err := s.store.QueryIncidents(ctx, bbox, s.windowDays)
	if err != nil {
		return nil, &AnnotationUnavailableError{Store: s.store.Name(), Err: err}
	}

	out := make(map[int]Annotation, len(candidates))
	raw := make(map[int]float64, len(candidates))
	maxRaw := 0.0
	for i := range candidates {
		ann, risk := s.score(&candidates[i], incidents)
		out[ann.CandidateID] = ann
		raw[ann.CandidateID] = risk
		maxRaw = math.Max(maxRaw, risk)
	}

	if maxRaw > 0 {
		for id, ann := range out {
			ann.RiskScore = raw[id] / maxRaw
			out[id] = ann
		}
	}

	s.logger.Debug().
		Int("incidents", len(incidents)).
		Int("candidates", len(candidates)).
		Dur("duration", time.Since(start)).
		Msg("scored candidates")

	return out, nil
}

// score returns the annotation without the normalized score, plus the raw weighted risk
// per km.
func (s *Scorer) score(c *routing.Candidate, incidents []Incident) (Annotation, float64) {
	ann := Annotation{CandidateID: c.ID}
	if len(c.Geometry) == 0 {
		return ann, 0
	}

	reach := polyline.BoundsOf(c.Geometry).Expand(s.bufferMeters)
	weighted := 0.0
	for i := range incidents {
		inc := &incidents[i]
		if !reach.Contains(inc.Location) {
			continue
		}
		if polyline.DistanceToLine(inc.Location, c.Geometry) > s.bufferMeters {
			continue
		}
		ann.CrashCount++
		ann.Injuries += inc.Injuries
		ann.Fatalities += inc.Fatalities
		weighted += s.weight(inc)
	}

	lengthKm := c.LengthKm
	if lengthKm <= 0 {
		lengthKm = polyline.Length(c.Geometry) / 1000
	}
	return ann, weighted / math.Max(lengthKm, minLengthKm)
}

func (s *Scorer) weight(inc *Incident) float64 {
	return 1 + s.injuryWeight*float64(inc.Injuries) + s.fatalityWeight*float64(inc.Fatalities)
}
