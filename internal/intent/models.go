// Package intent turns a free-text running request into a structured Intent that drives the
// execution plan.
package intent

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/runnervision/runnervision/pkg/polyline"
)

// Classification errors.
var (
	ErrEmptyQuery      = errors.New("query is empty or too short")
	ErrInvalidResponse = errors.New("invalid classifier response")
)

// MinQueryLength is the shortest trimmed query accepted.
const MinQueryLength = 3

// MaxDistanceKm bounds parsed distances; anything outside (0, MaxDistanceKm] is dropped.
const MaxDistanceKm = 50.0

// Query is one incoming request.
type Query struct {
	Text       string
	ReceivedAt time.Time
	Start      *polyline.Coordinate
}

// Complexity classes the query.
type Complexity string

const (
	ComplexitySimple        Complexity = "SIMPLE"
	ComplexitySafetyFocused Complexity = "SAFETY_FOCUSED"
	ComplexityConstrained   Complexity = "CONSTRAINED"
)

// Valid reports whether c is a known complexity.
func (c Complexity) Valid() bool {
	switch c {
	case ComplexitySimple, ComplexitySafetyFocused, ComplexityConstrained:
		return true
	}
	return false
}

// ParseComplexity parses a complexity name.
func ParseComplexity(s string) (Complexity, error) {
	c := Complexity(s)
	if !c.Valid() {
		return "", fmt.Errorf("unknown complexity %q", s)
	}
	return c, nil
}

// Emphasis is what the runner cares about most.
type Emphasis string

const (
	EmphasisNone   Emphasis = "NONE"
	EmphasisSafety Emphasis = "SAFETY"
)

// Avoidance is one thing the runner wants to stay away from.
type Avoidance string

const (
	AvoidConstruction Avoidance = "CONSTRUCTION"
	AvoidHighCrash    Avoidance = "HIGH_CRASH"
	AvoidBusyRoads    Avoidance = "BUSY_ROADS"
)

func (a Avoidance) valid() bool {
	switch a {
	case AvoidConstruction, AvoidHighCrash, AvoidBusyRoads:
		return true
	}
	return false
}

// Intent is the structured reading of one query. Build it with New so Complexity stays
// consistent with Avoid and Emphasis.
type Intent struct {
	Complexity       Complexity  `json:"complexity"`
	TargetDistanceKm *float64    `json:"target_distance_km"`
	Avoid            []Avoidance `json:"avoid"`
	Emphasis         Emphasis    `json:"emphasis"`
}

// New builds an intent, deduplicating and sorting avoid and deriving the complexity:
// any avoidance makes it CONSTRAINED, otherwise safety emphasis makes it SAFETY_FOCUSED.
func New(target *float64, emphasis Emphasis, avoid ...Avoidance) Intent {
	set := make([]Avoidance, 0, len(avoid))
	for _, a := range avoid {
		if !slices.Contains(set, a) {
			set = append(set, a)
		}
	}
	slices.Sort(set)
	if emphasis == "" {
		emphasis = EmphasisNone
	}

	complexity := ComplexitySimple
	switch {
	case len(set) > 0:
		complexity = ComplexityConstrained
	case emphasis == EmphasisSafety:
		complexity = ComplexitySafetyFocused
	}

	return Intent{
		Complexity:       complexity,
		TargetDistanceKm: target,
		Avoid:            set,
		Emphasis:         emphasis,
	}
}

// Default is the intent used when classification fails.
func Default() Intent {
	return New(nil, EmphasisNone)
}

// Avoids reports whether a is in the avoid set.
func (i Intent) Avoids(a Avoidance) bool {
	return slices.Contains(i.Avoid, a)
}

// Target returns the requested distance or fallback when none was given.
func (i Intent) Target(fallback float64) float64 {
	if i.TargetDistanceKm == nil {
		return fallback
	}
	return *i.TargetDistanceKm
}

// ClassificationError reports a query that could not be classified.
type ClassificationError struct {
	Classifier string
	Err        error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classify (%s): %v", e.Classifier, e.Err)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

func validDistance(km float64) bool {
	return km > 0 && km <= MaxDistanceKm
}
