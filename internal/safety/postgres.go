package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/runnervision/runnervision/pkg/polyline"
)

// DefaultQueryLimit caps the incidents returned by one query.
const DefaultQueryLimit = 5000

// PostgresStore is a PostgreSQL implementation of IncidentStore backed by the crashes table:
//
//	crashes(collision_id TEXT PRIMARY KEY, crash_date TIMESTAMPTZ, latitude DOUBLE PRECISION,
//	        longitude DOUBLE PRECISION, injuries INT, fatalities INT)
type PostgresStore struct {
	pool  *pgxpool.Pool
	limit int
	now   func() time.Time
}

// NewPostgresStore creates a new PostgreSQL incident store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, limit: DefaultQueryLimit, now: time.Now}
}

// Name returns "postgres".
func (s *PostgresStore) Name() string {
	return "postgres"
}

// QueryIncidents returns incidents inside bbox within the window, newest first.
func (s *PostgresStore) QueryIncidents(ctx context.Context, bbox polyline.Bounds, windowDays int) ([]Incident, error) {
	if !validBounds(bbox) {
		return nil, ErrInvalidBounds
	}

	query := `
		SELECT collision_id, crash_date, latitude, longitude,
		       COALESCE(injuries, 0), COALESCE(fatalities, 0)
		FROM crashes
		WHERE latitude BETWEEN $1 AND $2
		  AND longitude BETWEEN $3 AND $4
		  AND crash_date >= $5
		ORDER BY crash_date DESC
		LIMIT $6
	`

	rows, err := s.pool.Query(ctx, query,
		bbox.MinLat, bbox.MaxLat, bbox.MinLon, bbox.MaxLon,
		since(s.now(), windowDays), s.limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		var inc Incident
		if err := rows.Scan(
			&inc.ID,
			&inc.OccurredAt,
			&inc.Location.Lat,
			&inc.Location.Lon,
			&inc.Injuries,
			&inc.Fatalities,
		); err != nil {
			return nil, fmt.Errorf("scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	return incidents, nil
}

// Ping checks the connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// EnsureSchema creates the crashes table and its lookup index when they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS crashes (
			collision_id TEXT PRIMARY KEY,
			crash_date   TIMESTAMPTZ NOT NULL,
			latitude     DOUBLE PRECISION NOT NULL,
			longitude    DOUBLE PRECISION NOT NULL,
			injuries     INT,
			fatalities   INT
		);
		CREATE INDEX IF NOT EXISTS crashes_location_date
			ON crashes (latitude, longitude, crash_date);
	`)
	if err != nil {
		return fmt.Errorf("create crashes: %w", err)
	}
	return nil
}
