// Package routing generates directional running route candidates around a start point.
package routing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/runnervision/runnervision/pkg/polyline"
)

// Sentinel errors for routing operations.
var (
	// ErrProviderUnavailable indicates the routing provider is down or the circuit breaker is open.
	ErrProviderUnavailable = errors.New("routing provider unavailable")
	// ErrNoRoute indicates no candidate could be produced for the request.
	ErrNoRoute = errors.New("no route found")
	// ErrRateLimitExceeded indicates the API quota has been exceeded.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	// ErrInvalidCoordinates indicates the provided coordinates are invalid or out of range.
	ErrInvalidCoordinates = errors.New("invalid coordinates")
)

// Coordinate is a WGS84 point.
type Coordinate = polyline.Coordinate

// Profile is a routing profile understood by the provider.
type Profile string

const (
	// ProfileWalk is the foot-walking profile, used for running routes.
	ProfileWalk Profile = "foot-walking"
	// ProfileHike is the foot-hiking profile, which prefers trails.
	ProfileHike Profile = "foot-hiking"
)

// RouteRequest asks for one out-and-back route heading along Bearing.
type RouteRequest struct {
	Start          Coordinate
	BearingDegrees float64
	DistanceKm     float64
	Profile        Profile
}

// Route is a provider answer.
type Route struct {
	Geometry        []Coordinate
	DistanceMeters  float64
	DurationSeconds float64
	Provider        string
}

// Provider computes one route for a bearing and distance.
type Provider interface {
	ComputeRoute(ctx context.Context, req RouteRequest) (*Route, error)
	Name() string
}

// Direction is a compass direction.
type Direction string

const (
	DirectionN  Direction = "N"
	DirectionNE Direction = "NE"
	DirectionE  Direction = "E"
	DirectionSE Direction = "SE"
	DirectionS  Direction = "S"
	DirectionSW Direction = "SW"
	DirectionW  Direction = "W"
	DirectionNW Direction = "NW"
)

var compass = [...]Direction{
	DirectionN, DirectionNE, DirectionE, DirectionSE,
	DirectionS, DirectionSW, DirectionW, DirectionNW,
}

// DirectionFor returns the nearest eight-point compass direction for a bearing.
func DirectionFor(bearing float64) Direction {
	b := math.Mod(bearing, 360)
	if b < 0 {
		b += 360
	}
	return compass[int(math.Round(b/45))%len(compass)]
}

// Candidate is one proposed route. Candidates are created once by the generator and never
// modified afterwards; stages annotate them in their own maps keyed by ID.
type Candidate struct {
	ID             int          `json:"id"`
	Geometry       []Coordinate `json:"geometry"`
	LengthKm       float64      `json:"length_km"`
	Direction      Direction    `json:"direction"`
	BearingDegrees float64      `json:"bearing_degrees"`
}

// Bounds returns the union bounding box of candidates.
func Bounds(candidates []Candidate) polyline.Bounds {
	lines := make([][]Coordinate, 0, len(candidates))
	for i := range candidates {
		lines = append(lines, candidates[i].Geometry)
	}
	return polyline.BoundsOf(lines...)
}

// IDs returns the candidate ids in order.
func IDs(candidates []Candidate) []int {
	ids := make([]int, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].ID
	}
	return ids
}

// Error provides detailed error information from the routing provider.
type Error struct {
	Provider string // Provider that generated the error
	Code     string // Error code from the provider
	Message  string // Human-readable error message
	Err      error  // Underlying error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if the error is transient and the request can be retried.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrProviderUnavailable) || errors.Is(e.Err, ErrRateLimitExceeded)
}

// NoRouteError reports that generation produced no candidate. It matches ErrNoRoute and the
// last provider error with errors.Is.
type NoRouteError struct {
	Start    Coordinate
	TargetKm float64
	Attempts int
	Cause    error
}

func (e *NoRouteError) Error() string {
	msg := fmt.Sprintf("no route from %.5f,%.5f for %.2f km after %d attempts",
		e.Start.Lat, e.Start.Lon, e.TargetKm, e.Attempts)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *NoRouteError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrNoRoute}
	}
	return []error{ErrNoRoute, e.Cause}
}
