// Package safety scores route candidates by recent crash history near their geometry.
package safety

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/runnervision/runnervision/pkg/polyline"
)

// Domain errors.
var (
	ErrStoreUnavailable = errors.New("incident store unavailable")
	ErrInvalidBounds    = errors.New("invalid bounding box")
)

// Incident is one geocoded crash.
type Incident struct {
	ID         string              `json:"id"`
	OccurredAt time.Time           `json:"occurred_at"`
	Location   polyline.Coordinate `json:"location"`
	Injuries   int                 `json:"injuries"`
	Fatalities int                 `json:"fatalities"`
}

// IncidentStore reads crash records. Stores only read; ingestion happens elsewhere.
type IncidentStore interface {
	// QueryIncidents returns incidents inside bbox from the last windowDays days.
	QueryIncidents(ctx context.Context, bbox polyline.Bounds, windowDays int) ([]Incident, error)

	// Name returns the store name for logging.
	Name() string
}

// Annotation is the crash risk of one candidate. RiskScore is relative to the other
// candidates of the same request: 1 is the riskiest, 0 the safest.
type Annotation struct {
	CandidateID int     `json:"candidate_id"`
	RiskScore   float64 `json:"risk_score"`
	CrashCount  int     `json:"crash_count"`
	Injuries    int     `json:"injuries"`
	Fatalities  int     `json:"fatalities"`
}

// AnnotationUnavailableError is returned when the incident store could not be read.
type AnnotationUnavailableError struct {
	Store string
	Err   error
}

func (e *AnnotationUnavailableError) Error() string {
	return fmt.Sprintf("safety annotation unavailable (%s): %v", e.Store, e.Err)
}

func (e *AnnotationUnavailableError) Unwrap() error {
	return e.Err
}

// since returns the start of a window of days ending at now.
func since(now time.Time, windowDays int) time.Time {
	return now.AddDate(0, 0, -windowDays)
}

func validBounds(b polyline.Bounds) bool {
	return b.MinLat <= b.MaxLat && b.MinLon <= b.MaxLon &&
		b.MinLat >= -90 && b.MaxLat <= 90 && b.MinLon >= -180 && b.MaxLon <= 180
}
