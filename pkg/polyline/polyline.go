// Package polyline encodes and decodes Google encoded polylines (precision 1e5, the format
// returned by OpenRouteService) and measures route geometry.
package polyline

import (
	"errors"
	"math"
)

// ErrMalformed is returned when an encoded polyline ends in the middle of a value.
var ErrMalformed = errors.New("malformed polyline")

const precision = 1e5

// Coordinate is a WGS84 point.
type Coordinate struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate lies within the WGS84 range.
func (c Coordinate) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}

// Decode turns an encoded polyline into coordinates. An empty string decodes to nil.
func Decode(encoded string) ([]Coordinate, error) {
	if encoded == "" {
		return nil, nil
	}

	coords := make([]Coordinate, 0, len(encoded)/4)
	var lat, lon int
	for i := 0; i < len(encoded); {
		dLat, next, ok := readValue(encoded, i)
		if !ok {
			return nil, ErrMalformed
		}
		dLon, next, ok := readValue(encoded, next)
		if !ok {
			return nil, ErrMalformed
		}
		i = next
		lat += dLat
		lon += dLon
		coords = append(coords, Coordinate{Lat: float64(lat) / precision, Lon: float64(lon) / precision})
	}
	return coords, nil
}

func readValue(s string, i int) (value, next int, ok bool) {
	var result, shift int
	for i < len(s) {
		b := int(s[i]) - 63
		i++
		result |= (b & 0x1f) << shift
		shift += 5
		if b < 0x20 {
			if result&1 != 0 {
				return ^(result >> 1), i, true
			}
			return result >> 1, i, true
		}
	}
	return 0, i, false
}

// Encode turns coordinates into an encoded polyline.
func Encode(coords []Coordinate) string {
	if len(coords) == 0 {
		return ""
	}

	buf := make([]byte, 0, len(coords)*6)
	var prevLat, prevLon int
	for _, c := range coords {
		lat := int(math.Round(c.Lat * precision))
		lon := int(math.Round(c.Lon * precision))
		buf = writeValue(buf, lat-prevLat)
		buf = writeValue(buf, lon-prevLon)
		prevLat, prevLon = lat, lon
	}
	return string(buf)
}

func writeValue(buf []byte, v int) []byte {
	u := v << 1
	if v < 0 {
		u = ^u
	}
	for u >= 0x20 {
		buf = append(buf, byte((u&0x1f)|0x20)+63)
		u >>= 5
	}
	return append(buf, byte(u)+63)
}

// Length returns the length of the line in meters.
func Length(coords []Coordinate) float64 {
	var total float64
	for i := 1; i < len(coords); i++ {
		total += Distance(coords[i-1], coords[i])
	}
	return total
}

// Sample returns points spaced intervalMeters apart along the line, always including
// both endpoints. A non-positive interval returns the input unchanged.
func Sample(coords []Coordinate, intervalMeters float64) []Coordinate {
	if len(coords) == 0 {
		return nil
	}
	if intervalMeters <= 0 || len(coords) == 1 {
		return coords
	}

	out := []Coordinate{coords[0]}
	carried := 0.0
	for i := 1; i < len(coords); i++ {
		a, b := coords[i-1], coords[i]
		seg := Distance(a, b)
		if seg == 0 {
			continue
		}
		offset := intervalMeters - carried
		for offset <= seg {
			f := offset / seg
			out = append(out, Coordinate{
				Lat: a.Lat + f*(b.Lat-a.Lat),
				Lon: a.Lon + f*(b.Lon-a.Lon),
			})
			offset += intervalMeters
		}
		carried = seg - (offset - intervalMeters)
	}

	if last := coords[len(coords)-1]; out[len(out)-1] != last {
		out = append(out, last)
	}
	return out
}
