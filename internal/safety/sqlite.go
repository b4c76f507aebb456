package safety

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/runnervision/runnervision/pkg/polyline"
)

// sqliteTime is fixed width so stored dates compare correctly as text.
const sqliteTime = "2006-01-02T15:04:05.000Z"

// SQLiteStore is an IncidentStore on a local SQLite file with the same crashes schema as
// PostgresStore. Use ":memory:" for tests.
type SQLiteStore struct {
	db     *sql.DB
	limit  int
	now    func() time.Time
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens or creates the database at path and ensures the schema exists.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection keeps ":memory:" databases shared across calls.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS crashes (
			collision_id TEXT PRIMARY KEY,
			crash_date TEXT NOT NULL,
			latitude REAL NOT NULL,
			longitude REAL NOT NULL,
			injuries INTEGER NOT NULL DEFAULT 0,
			fatalities INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	if _, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_crashes_location
		ON crashes(latitude, longitude)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create index: %w", err)
	}

	return &SQLiteStore{db: db, limit: DefaultQueryLimit, now: time.Now}, nil
}

// WithClock overrides the clock used for the window.
func (s *SQLiteStore) WithClock(now func() time.Time) *SQLiteStore {
	s.now = now
	return s
}

// Name returns "sqlite".
func (s *SQLiteStore) Name() string {
	return "sqlite"
}

// Insert upserts incidents. It exists for local data loading and tests.
func (s *SQLiteStore) Insert(ctx context.Context, incidents ...Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreUnavailable
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, inc := range incidents {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO crashes (collision_id, crash_date, latitude, longitude, injuries, fatalities)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(collision_id) DO UPDATE SET
				crash_date = excluded.crash_date,
				latitude = excluded.latitude,
				longitude = excluded.longitude,
				injuries = excluded.injuries,
				fatalities = excluded.fatalities
		`, inc.ID, inc.OccurredAt.UTC().Format(sqliteTime),
			inc.Location.Lat, inc.Location.Lon, inc.Injuries, inc.Fatalities); err != nil {
			return fmt.Errorf("insert incident %s: %w", inc.ID, err)
		}
	}

	return tx.Commit()
}

// QueryIncidents returns incidents inside bbox within the window, newest first.
func (s *SQLiteStore) QueryIncidents(ctx context.Context, bbox polyline.Bounds, windowDays int) ([]Incident, error) {
	if !validBounds(bbox) {
		return nil, ErrInvalidBounds
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, ErrStoreUnavailable
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT collision_id, crash_date, latitude, longitude, injuries, fatalities
		FROM crashes
		WHERE latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
		  AND crash_date >= ?
		ORDER BY crash_date DESC
		LIMIT ?
	`, bbox.MinLat, bbox.MaxLat, bbox.MinLon, bbox.MaxLon,
		since(s.now(), windowDays).UTC().Format(sqliteTime), s.limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		var (
			inc      Incident
			occurred string
		)
		if err := rows.Scan(&inc.ID, &occurred, &inc.Location.Lat, &inc.Location.Lon, &inc.Injuries, &inc.Fatalities); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		inc.OccurredAt, _ = time.Parse(sqliteTime, occurred)
		incidents = append(incidents, inc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return incidents, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true
	return s.db.Close()
}
