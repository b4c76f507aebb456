// Package nycdot provides a closure.Feed backed by the NYC DOT street closure dataset on
// NYC Open Data (Socrata).
package nycdot

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

	"github.com/runnervision/runnervision/internal/closure"
	"github.com/runnervision/runnervision/internal/provider/resilience"
	"github.com/runnervision/runnervision/pkg/polyline"
)

const (
	// FeedName identifies this closure feed.
	FeedName = "nycdot"

	// DefaultBaseURL is the NYC Open Data API base URL.
	DefaultBaseURL = "https://data.cityofnewyork.us"

	// DefaultDataset is the "Street Closures due to construction activities by Block" dataset.
	DefaultDataset = "i6b5-j7bu"

	// DefaultLimit caps the rows returned per query.
	DefaultLimit = 1000

	socrataTime = "2006-01-02T15:04:05"
)

// ClientConfig holds configuration for the NYC DOT client.
type ClientConfig struct {
	// AppToken is the Socrata application token (optional, raises rate limits).
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

	// Logger for client operations.
	Logger zerolog.Logger
}

// Client is a NYC DOT street closure client.
type Client struct {
	appToken   string
	baseURL    string
	dataset    string
	limit      int
	httpClient resilience.Doer
	now        func() time.Time
	logger     zerolog.Logger
}

// NewClient creates a new NYC DOT client.
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
		clientCfg := resilience.DefaultClientConfig(FeedName)
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

// Name returns the feed name.
func (c *Client) Name() string {
	return FeedName
}

// ActiveClosures returns closures inside bbox whose work has not ended yet.
func (c *Client) ActiveClosures(ctx context.Context, bbox polyline.Bounds) ([]closure.Closure, error) {
	now := c.now().UTC()
	where := fmt.Sprintf(
		"work_end_date > '%s' AND within_box(the_geom, %s, %s, %s, %s)",
		now.Format(socrataTime),
		formatCoord(bbox.MaxLat), formatCoord(bbox.MinLon),
		formatCoord(bbox.MinLat), formatCoord(bbox.MaxLon),
	)

	q := url.Values{}
	q.Set("$where", where)
	q.Set("$limit", strconv.Itoa(c.limit))
	q.Set("$order", "work_start_date")

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
		return nil, &closure.Error{
			Feed:    FeedName,
			Code:    "REQUEST_FAILED",
			Message: "failed to reach closure feed",
			Err:     closure.ErrFeedUnavailable,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &closure.Error{
			Feed:    FeedName,
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: fmt.Sprintf("closure feed returned status %d", resp.StatusCode),
			Err:     closure.ErrFeedUnavailable,
		}
	}

	var rows []closureRow
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	closures := make([]closure.Closure, 0, len(rows))
	for i := range rows {
		cl, ok := rows[i].toClosure()
		if !ok {
			continue
		}
		closures = append(closures, cl)
	}

	c.logger.Debug().
		Int("rows", len(rows)).
		Int("closures", len(closures)).
		Msg("received street closures")

	return closures, nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

// closureRow is one row of the Socrata dataset.
type closureRow struct {
	SegmentID      string    `json:"segmentid"`
	OnStreetName   string    `json:"onstreetname"`
	FromStreetName string    `json:"fromstreetname"`
	ToStreetName   string    `json:"tostreetname"`
	WorkStartDate  string    `json:"work_start_date"`
	WorkEndDate    string    `json:"work_end_date"`
	Purpose        string    `json:"purpose"`
	Geometry       *geometry `json:"the_geom"`
}

type geometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

func (r *closureRow) toClosure() (closure.Closure, bool) {
	if r.Geometry == nil {
		return closure.Closure{}, false
	}
	segments, err := r.Geometry.lines()
	if err != nil || len(segments) == 0 {
		return closure.Closure{}, false
	}

	id := r.SegmentID
	if id == "" {
		id = strings.Join([]string{r.OnStreetName, r.FromStreetName, r.ToStreetName, r.WorkStartDate}, "|")
	}

	reason := r.Purpose
	if r.FromStreetName != "" && r.ToStreetName != "" {
		reason = strings.TrimSpace(fmt.Sprintf("%s (%s to %s)", r.Purpose, r.FromStreetName, r.ToStreetName))
	}

	return closure.Closure{
		ID:       id,
		Street:   r.OnStreetName,
		Reason:   reason,
		Source:   FeedName,
		StartsAt: parseTime(r.WorkStartDate),
		EndsAt:   parseTime(r.WorkEndDate),
		Segments: segments,
	}, true
}

// lines converts GeoJSON LineString and MultiLineString geometry; other types are ignored.
func (g *geometry) lines() ([][]polyline.Coordinate, error) {
	switch g.Type {
	case "LineString":
		var pts [][]float64
		if err := json.Unmarshal(g.Coordinates, &pts); err != nil {
			return nil, err
		}
		return [][]polyline.Coordinate{toCoords(pts)}, nil
	case "MultiLineString":
		var parts [][][]float64
		if err := json.Unmarshal(g.Coordinates, &parts); err != nil {
			return nil, err
		}
		out := make([][]polyline.Coordinate, 0, len(parts))
		for _, p := range parts {
			if line := toCoords(p); len(line) > 0 {
				out = append(out, line)
			}
		}
		return out, nil
	default:
		return nil, nil
	}
}

// toCoords converts GeoJSON [lon, lat] pairs.
func toCoords(pts [][]float64) []polyline.Coordinate {
	out := make([]polyline.Coordinate, 0, len(pts))
	for _, p := range pts {
		if len(p) < 2 {
			continue
		}
		out = append(out, polyline.Coordinate{Lat: p[1], Lon: p[0]})
	}
	return out
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000", socrataTime, time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return &t
		}
	}
	return nil
}
