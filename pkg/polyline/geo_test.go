package polyline

import (
	"math"
	"testing"
)

func TestDestination_RoundTripDistance(t *testing.T) {
	start := Coordinate{Lat: 40.7580, Lon: -73.9855}
	for _, bearing := range []float64{0, 45, 90, 135, 180, 225, 270, 315} {
		dest := Destination(start, bearing, 2500)
		if d := Distance(start, dest); math.Abs(d-2500) > 1 {
			t.Errorf("bearing %.0f: expected 2500 m, got %.2f", bearing, d)
		}
	}

	north := Destination(start, 0, 1000)
	if north.Lat <= start.Lat || math.Abs(north.Lon-start.Lon) > 1e-9 {
		t.Errorf("expected due north, got %+v", north)
	}
}

func TestDistanceToSegment(t *testing.T) {
	a := Coordinate{Lat: 40.0, Lon: -74.0}
	b := Destination(a, 90, 1000)
	mid := Destination(a, 90, 500)
	off := Destination(mid, 0, 50)

	if d := DistanceToSegment(off, a, b); math.Abs(d-50) > 0.5 {
		t.Errorf("expected ~50 m perpendicular distance, got %.2f", d)
	}

	beyond := Destination(b, 90, 200)
	if d := DistanceToSegment(beyond, a, b); math.Abs(d-200) > 1 {
		t.Errorf("expected ~200 m to the nearest endpoint, got %.2f", d)
	}
}

func TestDistanceToLine_Empty(t *testing.T) {
	if !math.IsInf(DistanceToLine(Coordinate{}, nil), 1) {
		t.Error("expected +Inf for empty line")
	}
}

func TestInPolygon(t *testing.T) {
	square := []Coordinate{{Lat: 0, Lon: 0}, {Lat: 0, Lon: 1}, {Lat: 1, Lon: 1}, {Lat: 1, Lon: 0}}
	if !InPolygon(Coordinate{Lat: 0.5, Lon: 0.5}, square) {
		t.Error("expected centre to be inside")
	}
	if InPolygon(Coordinate{Lat: 1.5, Lon: 0.5}, square) {
		t.Error("expected point above to be outside")
	}
}

func TestBounds(t *testing.T) {
	b := BoundsOf(
		[]Coordinate{{Lat: 40.1, Lon: -74.2}, {Lat: 40.3, Lon: -74.0}},
		[]Coordinate{{Lat: 40.0, Lon: -74.1}},
	)
	want := Bounds{MinLat: 40.0, MinLon: -74.2, MaxLat: 40.3, MaxLon: -74.0}
	if b != want {
		t.Fatalf("expected %+v, got %+v", want, b)
	}

	grown := b.Expand(1000)
	if !grown.Contains(Destination(Coordinate{Lat: 40.3, Lon: -74.1}, 0, 900)) {
		t.Error("expected expanded box to contain a point 900 m north of the edge")
	}
	if !b.Intersects(grown) || b.Intersects(Bounds{MinLat: 41, MinLon: -74, MaxLat: 42, MaxLon: -73}) {
		t.Error("unexpected intersection result")
	}
	if (BoundsOf() != Bounds{}) {
		t.Error("expected zero bounds for no points")
	}
}
