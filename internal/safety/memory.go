package safety

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/runnervision/runnervision/pkg/polyline"
)

// MemoryStore is an in-memory IncidentStore for tests and the offline CLI.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents []Incident
	err       error
	now       func() time.Time
}

// NewMemoryStore creates a store holding incidents.
func NewMemoryStore(incidents ...Incident) *MemoryStore {
	return &MemoryStore{incidents: incidents, now: time.Now}
}

// WithClock overrides the clock used for the window.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// Add appends incidents.
func (m *MemoryStore) Add(incidents ...Incident) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.incidents = append(m.incidents, incidents...)
}

// Fail makes every following query return err. A nil err restores normal answers.
func (m *MemoryStore) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Name returns "memory".
func (m *MemoryStore) Name() string {
	return "memory"
}

// QueryIncidents returns incidents inside bbox within the window, newest first.
func (m *MemoryStore) QueryIncidents(ctx context.Context, bbox polyline.Bounds, windowDays int) ([]Incident, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !validBounds(bbox) {
		return nil, ErrInvalidBounds
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.err != nil {
		return nil, m.err
	}

	from := since(m.now(), windowDays)
	out := make([]Incident, 0, len(m.incidents))
	for _, inc := range m.incidents {
		if inc.OccurredAt.Before(from) || !bbox.Contains(inc.Location) {
			continue
		}
		out = append(out, inc)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	return out, nil
}
