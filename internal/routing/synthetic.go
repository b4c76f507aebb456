package routing

import (
	"context"
	"fmt"

	"github.com/runnervision/runnervision/pkg/polyline"
)

// SyntheticProvider draws straight out-and-back routes without calling out. Stretch scales
// every route, standing in for street networks that are longer than the crow flies.
type SyntheticProvider struct {
	Stretch float64
	Points  int
}

// NewSyntheticProvider returns a provider with no stretch and 20 points per leg.
func NewSyntheticProvider() *SyntheticProvider {
	return &SyntheticProvider{Stretch: 1, Points: 20}
}

// Name returns "synthetic".
func (p *SyntheticProvider) Name() string {
	return "synthetic"
}

// ComputeRoute returns start → turnaround → start, with the turnaround placed half of the
// (stretched) distance along the bearing.
func (p *SyntheticProvider) ComputeRoute(ctx context.Context, req RouteRequest) (*Route, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !req.Start.Valid() {
		return nil, &Error{Provider: p.Name(), Code: "INVALID_START", Message: "invalid start coordinates", Err: ErrInvalidCoordinates}
	}
	if req.DistanceKm <= 0 {
		return nil, &Error{Provider: p.Name(), Code: "INVALID_DISTANCE", Message: fmt.Sprintf("distance %.2f km", req.DistanceKm), Err: ErrNoRoute}
	}

	stretch := p.Stretch
	if stretch <= 0 {
		stretch = 1
	}
	points := p.Points
	if points < 2 {
		points = 2
	}

	legMeters := req.DistanceKm * 1000 * stretch / 2
	out := make([]Coordinate, 0, 2*points+1)
	out = append(out, req.Start)
	for i := 1; i <= points; i++ {
		out = append(out, polyline.Destination(req.Start, req.BearingDegrees, legMeters*float64(i)/float64(points)))
	}
	for i := points - 1; i >= 0; i-- {
		out = append(out, out[i])
	}

	return &Route{
		Geometry:       out,
		DistanceMeters: polyline.Length(out),
		Provider:       p.Name(),
	}, nil
}
