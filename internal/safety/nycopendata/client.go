// Package nycopendata provides a safety.IncidentStore backed by the NYC Open Data motor
// vehicle collisions dataset (Socrata).
package nycopendata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnervision/runnervision/internal/provider/resilience"
	"github.com/runnervision/runnervision/internal/safety"
	"github.com/runnervision/runnervision/pkg/polyline"
)

const (
	// ProviderName identifies this incident source.
	ProviderName = "nycopendata"

	// DefaultBaseURL is the NYC Open Data API base URL.
	DefaultBaseURL = "https://data.cityofnewyork.us"

	// DefaultDataset is "Motor Vehicle Collisions - Crashes".
	DefaultDataset = "h9gi-nx95"

	// DefaultLimit caps rows per query.
	DefaultLimit = 5000
)

// ClientConfig holds configuration for the NYC Open Data client.
type ClientConfig struct {
	// AppToken is the Socrata application token (optional).
	AppToken string

	// BaseURL is the API base URL (optional).
	BaseURL string

	// Dataset is the dataset identifier (optional).
	Dataset string

	// Limit caps rows per query (optional).
	Limit int

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient resilience.Doer

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Now overrides the clock (tests).
	Now func() time.Time

	Logger zerolog.Logger
}

// Client queries crashes from NYC Open Data.
type Client struct {
	appToken   string
	baseURL    string
	dataset    string
	limit      int
	httpClient resilience.Doer
	now        func() time.Time
	logger     zerolog.Logger
}

// NewClient creates a new NYC Open Data client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	dataset := cfg.Dataset
	if dataset == "" {
		dataset = DefaultDataset
	}
	limit := cfg.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(ProviderName)
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}

	return &Client{
		appToken:   cfg.AppToken,
		baseURL:    strings.TrimRight(baseURL, "/"),
		dataset:    dataset,
		limit:      limit,
		httpClient: httpClient,
		now:        now,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// QueryIncidents returns geocoded crashes inside bbox from the last windowDays days.
func (c *Client) QueryIncidents(ctx context.Context, bbox polyline.Bounds, windowDays int) ([]safety.Incident, error) {
	from := c.now().UTC().AddDate(0, 0, -windowDays)
	where := fmt.Sprintf(
		"crash_date >= '%s' AND latitude between %s and %s AND longitude between %s and %s",
		from.Format("2006-01-02T00:00:00"),
		formatCoord(bbox.MinLat), formatCoord(bbox.MaxLat),
		formatCoord(bbox.MinLon), formatCoord(bbox.MaxLon),
	)

	q := url.Values{}
	q.Set("$select", "collision_id,crash_date,crash_time,latitude,longitude,number_of_persons_injured,number_of_persons_killed")
	q.Set("$where", where)
	q.Set("$order", "crash_date DESC")
	q.Set("$limit", strconv.Itoa(c.limit))

	endpoint := fmt.Sprintf("%s/resource/%s.json?%s", c.baseURL, c.dataset, q.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.appToken != "" {
		req.Header.Set("X-App-Token", c.appToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", safety.ErrStoreUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status code: %d", safety.ErrStoreUnavailable, resp.StatusCode)
	}

	var rows []crashRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	incidents := make([]safety.Incident, 0, len(rows))
	for i := range rows {
		inc, ok := rows[i].toIncident()
		if !ok {
			continue
		}
		incidents = append(incidents, inc)
	}

	c.logger.Debug().
		Int("rows", len(rows)).
		Int("incidents", len(incidents)).
		Msg("received crash records")

	return incidents, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// crashRow is one row of the collisions dataset. Socrata returns numbers as strings.
type crashRow struct {
	CollisionID string `json:"collision_id"`
	CrashDate   string `json:"crash_date"`
	CrashTime   string `json:"crash_time"`
	Latitude    string `json:"latitude"`
	Longitude   string `json:"longitude"`
	Injured     string `json:"number_of_persons_injured"`
	Killed      string `json:"number_of_persons_killed"`
}

func (r *crashRow) toIncident() (safety.Incident, bool) {
	lat, err1 := strconv.ParseFloat(r.Latitude, 64)
	lon, err2 := strconv.ParseFloat(r.Longitude, 64)
	loc := polyline.Coordinate{Lat: lat, Lon: lon}
	// Ungeocoded rows carry no coordinates or 0,0.
	if err1 != nil || err2 != nil || !loc.Valid() || (lat == 0 && lon == 0) {
		return safety.Incident{}, false
	}

	occurred, err := time.ParseInLocation("2006-01-02T15:04:05.000", r.CrashDate, time.UTC)
	if err != nil {
		return safety.Incident{}, false
	}
	if clock, err := time.Parse("15:04", r.CrashTime); err == nil {
		occurred = occurred.Add(time.Duration(clock.Hour())*time.Hour + time.Duration(clock.Minute())*time.Minute)
	}

	injured, _ := strconv.Atoi(r.Injured)
	killed, _ := strconv.Atoi(r.Killed)

	return safety.Incident{
		ID:         r.CollisionID,
		OccurredAt: occurred,
		Location:   loc,
		Injuries:   injured,
		Fatalities: killed,
	}, true
}
