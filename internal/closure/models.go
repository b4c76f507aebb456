// Package closure reports which route candidates run through active street closures.
package closure

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/runnervision/runnervision/pkg/polyline"
)

// Domain errors.
var (
	ErrFeedUnavailable = errors.New("closure feed unavailable")
	ErrInvalidBounds   = errors.New("invalid bounding box")
)

// Closure is one active street closure. A closure carries line segments, polygons or both.
type Closure struct {
	ID       string                  `json:"id"`
	Street   string                  `json:"street,omitempty"`
	Reason   string                  `json:"reason,omitempty"`
	Source   string                  `json:"source,omitempty"`
	StartsAt *time.Time              `json:"starts_at,omitempty"`
	EndsAt   *time.Time              `json:"ends_at,omitempty"`
	Segments [][]polyline.Coordinate `json:"segments,omitempty"`
	Polygons [][]polyline.Coordinate `json:"polygons,omitempty"`
}

// Active reports whether the closure is in effect at t. Missing dates are open-ended.
func (c Closure) Active(t time.Time) bool {
	if c.StartsAt != nil && t.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && !t.Before(*c.EndsAt) {
		return false
	}
	return true
}

// Bounds returns the bounding box of all geometry of the closure.
func (c Closure) Bounds() polyline.Bounds {
	lines := make([][]polyline.Coordinate, 0, len(c.Segments)+len(c.Polygons))
	lines = append(lines, c.Segments...)
	lines = append(lines, c.Polygons...)
	return polyline.BoundsOf(lines...)
}

// HasGeometry reports whether the closure can be matched against a route.
func (c Closure) HasGeometry() bool {
	for _, s := range c.Segments {
		if len(s) > 0 {
			return true
		}
	}
	for _, p := range c.Polygons {
		if len(p) >= 3 {
			return true
		}
	}
	return false
}

// DedupeKey identifies the same closure reported more than once: same street, same start day.
// Closures without a street fall back to their id.
func (c Closure) DedupeKey() string {
	street := strings.ToLower(strings.TrimSpace(c.Street))
	if street == "" {
		return "id:" + c.ID
	}
	start := ""
	if c.StartsAt != nil {
		start = c.StartsAt.UTC().Format("2006-01-02")
	}
	return street + "_" + start
}

// Dedupe drops repeated closures, keeping the first occurrence, and merges their geometry.
func Dedupe(closures []Closure) []Closure {
	index := make(map[string]int, len(closures))
	out := make([]Closure, 0, len(closures))
	for _, c := range closures {
		key := c.DedupeKey()
		if i, ok := index[key]; ok {
			out[i].Segments = append(out[i].Segments, c.Segments...)
			out[i].Polygons = append(out[i].Polygons, c.Polygons...)
			continue
		}
		index[key] = len(out)
		out = append(out, c)
	}
	return out
}

// Annotation is the closure verdict for one candidate. A missing annotation means the
// candidate was not checked; Blocked=false means it was checked and found clear.
type Annotation struct {
	CandidateID     int      `json:"candidate_id"`
	Blocked         bool     `json:"blocked"`
	OverlapFraction float64  `json:"overlap_fraction"`
	ClosureIDs      []string `json:"closure_ids,omitempty"`
}

func sortedIDs(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// AnnotationUnavailableError is returned when closure data could not be obtained.
type AnnotationUnavailableError struct {
	Feed string
	Err  error
}

func (e *AnnotationUnavailableError) Error() string {
	return fmt.Sprintf("closure annotation unavailable (%s): %v", e.Feed, e.Err)
}

func (e *AnnotationUnavailableError) Unwrap() error {
	return e.Err
}

// Error represents a closure feed error.
type Error struct {
	Feed    string
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Feed + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Feed + ": " + e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the error might succeed on retry.
func (e *Error) IsRetryable() bool {
	return errors.Is(e.Err, ErrFeedUnavailable)
}
