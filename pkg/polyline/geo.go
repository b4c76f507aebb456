package polyline

import "math"

const earthRadiusMeters = 6371000.0

func rad(deg float64) float64 { return deg * math.Pi / 180 }
func deg(r float64) float64   { return r * 180 / math.Pi }

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b Coordinate) float64 {
	dLat := rad(b.Lat - a.Lat)
	dLon := rad(b.Lon - a.Lon)
	s1 := math.Sin(dLat / 2)
	s2 := math.Sin(dLon / 2)
	h := s1*s1 + math.Cos(rad(a.Lat))*math.Cos(rad(b.Lat))*s2*s2
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Destination returns the point reached by travelling distanceMeters from start on the
// given initial bearing (degrees clockwise from north).
func Destination(start Coordinate, bearingDegrees, distanceMeters float64) Coordinate {
	delta := distanceMeters / earthRadiusMeters
	theta := rad(bearingDegrees)
	phi1 := rad(start.Lat)
	lambda1 := rad(start.Lon)

	phi2 := math.Asin(math.Sin(phi1)*math.Cos(delta) + math.Cos(phi1)*math.Sin(delta)*math.Cos(theta))
	lambda2 := lambda1 + math.Atan2(
		math.Sin(theta)*math.Sin(delta)*math.Cos(phi1),
		math.Cos(delta)-math.Sin(phi1)*math.Sin(phi2),
	)

	lon := math.Mod(deg(lambda2)+540, 360) - 180
	return Coordinate{Lat: deg(phi2), Lon: lon}
}

// DistanceToSegment returns the distance in meters from p to the segment a-b. It projects
// onto a local equirectangular plane centred on p, which is accurate at route scale.
func DistanceToSegment(p, a, b Coordinate) float64 {
	kx := earthRadiusMeters * math.Cos(rad(p.Lat)) * math.Pi / 180
	ky := earthRadiusMeters * math.Pi / 180

	ax, ay := (a.Lon-p.Lon)*kx, (a.Lat-p.Lat)*ky
	bx, by := (b.Lon-p.Lon)*kx, (b.Lat-p.Lat)*ky
	dx, dy := bx-ax, by-ay

	t := 0.0
	if l2 := dx*dx + dy*dy; l2 > 0 {
		t = -(ax*dx + ay*dy) / l2
		t = math.Max(0, math.Min(1, t))
	}
	cx, cy := ax+t*dx, ay+t*dy
	return math.Hypot(cx, cy)
}

// DistanceToLine returns the smallest distance in meters from p to any segment of line.
// It returns +Inf for an empty line.
func DistanceToLine(p Coordinate, line []Coordinate) float64 {
	switch len(line) {
	case 0:
		return math.Inf(1)
	case 1:
		return Distance(p, line[0])
	}
	best := math.Inf(1)
	for i := 1; i < len(line); i++ {
		if d := DistanceToSegment(p, line[i-1], line[i]); d < best {
			best = d
		}
	}
	return best
}

// InPolygon reports whether p lies inside the ring (even-odd rule). The ring may or may
// not repeat its first vertex.
func InPolygon(p Coordinate, ring []Coordinate) bool {
	inside := false
	for i, j := 0, len(ring)-1; i < len(ring); j, i = i, i+1 {
		a, b := ring[i], ring[j]
		if (a.Lat > p.Lat) != (b.Lat > p.Lat) &&
			p.Lon < (b.Lon-a.Lon)*(p.Lat-a.Lat)/(b.Lat-a.Lat)+a.Lon {
			inside = !inside
		}
	}
	return inside
}

// Bounds is an axis-aligned lat/lon box.
type Bounds struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// BoundsOf returns the box enclosing all given lines. The zero Bounds is returned when no
// points are given.
func BoundsOf(lines ...[]Coordinate) Bounds {
	b := Bounds{MinLat: math.Inf(1), MinLon: math.Inf(1), MaxLat: math.Inf(-1), MaxLon: math.Inf(-1)}
	n := 0
	for _, line := range lines {
		for _, c := range line {
			b.MinLat = math.Min(b.MinLat, c.Lat)
			b.MinLon = math.Min(b.MinLon, c.Lon)
			b.MaxLat = math.Max(b.MaxLat, c.Lat)
			b.MaxLon = math.Max(b.MaxLon, c.Lon)
			n++
		}
	}
	if n == 0 {
		return Bounds{}
	}
	return b
}

// Expand grows the box by meters on every side.
func (b Bounds) Expand(meters float64) Bounds {
	dLat := deg(meters / earthRadiusMeters)
	midLat := (b.MinLat + b.MaxLat) / 2
	cos := math.Max(math.Cos(rad(midLat)), 1e-6)
	dLon := dLat / cos
	return Bounds{
		MinLat: math.Max(-90, b.MinLat-dLat),
		MinLon: math.Max(-180, b.MinLon-dLon),
		MaxLat: math.Min(90, b.MaxLat+dLat),
		MaxLon: math.Min(180, b.MaxLon+dLon),
	}
}

// Contains reports whether c lies inside the box, edges included.
func (b Bounds) Contains(c Coordinate) bool {
	return c.Lat >= b.MinLat && c.Lat <= b.MaxLat && c.Lon >= b.MinLon && c.Lon <= b.MaxLon
}

// Intersects reports whether the two boxes overlap.
func (b Bounds) Intersects(o Bounds) bool {
	return b.MinLat <= o.MaxLat && o.MinLat <= b.MaxLat && b.MinLon <= o.MaxLon && o.MinLon <= b.MaxLon
}

// Center returns the midpoint of the box.
func (b Bounds) Center() Coordinate {
	return Coordinate{Lat: (b.MinLat + b.MaxLat) / 2, Lon: (b.MinLon + b.MaxLon) / 2}
}
