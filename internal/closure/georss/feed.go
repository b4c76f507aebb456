// Package georss provides a closure.Feed for RSS or Atom advisory feeds that tag items with
// GeoRSS simple geometry (georss:line, georss:polygon, georss:point).
package georss

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/rs/zerolog"

	"github.com/runnervision/runnervision/internal/closure"
	"github.com/runnervision/runnervision/internal/provider/resilience"
	"github.com/runnervision/runnervision/pkg/polyline"
)

// FeedName identifies this closure feed.
const FeedName = "georss"

// Config holds configuration for a GeoRSS feed.
type Config struct {
	// URL is the feed location (required).
	URL string

	// MaxAge drops items published longer ago than this (optional, 0 keeps all).
	MaxAge time.Duration

	// HTTPClient is the HTTP client to use (optional).
	// If nil, uses a resilient client with defaults.
	HTTPClient resilience.Doer

	// Registry is the provider registry for health tracking (optional).
	Registry *resilience.Registry

	// Now overrides the clock (tests).
	Now func() time.Time

	Logger zerolog.Logger
}

// Feed reads closures from a GeoRSS-tagged feed.
type Feed struct {
	url        string
	maxAge     time.Duration
	httpClient resilience.Doer
	parser     *gofeed.Parser
	now        func() time.Time
	logger     zerolog.Logger
}

// New creates a GeoRSS feed.
func New(cfg Config) *Feed {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		clientCfg := resilience.DefaultClientConfig(FeedName)
		clientCfg.Registry = cfg.Registry
		clientCfg.Logger = cfg.Logger
		httpClient = resilience.NewClient(clientCfg)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Feed{
		url:        cfg.URL,
		maxAge:     cfg.MaxAge,
		httpClient: httpClient,
		parser:     gofeed.NewParser(),
		now:        now,
		logger:     cfg.Logger,
	}
}

// Name returns the feed name.
func (f *Feed) Name() string {
	return FeedName
}

// ActiveClosures downloads the feed and returns the items with geometry inside bbox.
func (f *Feed) ActiveClosures(ctx context.Context, bbox polyline.Bounds) ([]closure.Closure, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &closure.Error{
			Feed:    FeedName,
			Code:    "REQUEST_FAILED",
			Message: "failed to reach advisory feed",
			Err:     closure.ErrFeedUnavailable,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &closure.Error{
			Feed:    FeedName,
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: fmt.Sprintf("advisory feed returned status %d", resp.StatusCode),
			Err:     closure.ErrFeedUnavailable,
		}
	}

	feed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, &closure.Error{
			Feed:    FeedName,
			Code:    "PARSE_FAILED",
			Message: "advisory feed could not be parsed",
			Err:     err,
		}
	}

	now := f.now()
	out := make([]closure.Closure, 0, len(feed.Items))
	for _, it := range feed.Items {
		var published *time.Time
		switch {
		case it.PublishedParsed != nil:
			published = it.PublishedParsed
		case it.UpdatedParsed != nil:
			published = it.UpdatedParsed
		}
		if f.maxAge > 0 && published != nil && now.Sub(*published) > f.maxAge {
			continue
		}

		cl := closure.Closure{
			ID:       itemID(it),
			Street:   strings.TrimSpace(it.Title),
			Reason:   strings.TrimSpace(it.Description),
			Source:   strings.TrimSpace(feed.Title),
			StartsAt: published,
		}
		cl.Segments, cl.Polygons = geometryOf(it.Extensions)
		if !cl.HasGeometry() || !cl.Bounds().Intersects(bbox) {
			continue
		}
		out = append(out, cl)
	}

	f.logger.Debug().
		Int("items", len(feed.Items)).
		Int("closures", len(out)).
		Msg("parsed advisory feed")

	return out, nil
}

func itemID(it *gofeed.Item) string {
	switch {
	case it.GUID != "":
		return it.GUID
	case it.Link != "":
		return it.Link
	default:
		return it.Title
	}
}

// geometryOf reads georss elements. Points become single-point segments so they are matched
// by proximity like any other segment.
func geometryOf(extensions ext.Extensions) (segments, polygons [][]polyline.Coordinate) {
	geo, ok := extensions["georss"]
	if !ok {
		return nil, nil
	}
	for _, e := range geo["line"] {
		if line := parsePosList(e.Value); len(line) >= 2 {
			segments = append(segments, line)
		}
	}
	for _, e := range geo["point"] {
		if pt := parsePosList(e.Value); len(pt) == 1 {
			segments = append(segments, pt)
		}
	}
	for _, e := range geo["polygon"] {
		if ring := parsePosList(e.Value); len(ring) >= 3 {
			polygons = append(polygons, ring)
		}
	}
	return segments, polygons
}

// parsePosList parses "lat lon lat lon ...". Malformed lists yield nil.
func parsePosList(s string) []polyline.Coordinate {
	fields := strings.Fields(s)
	if len(fields) == 0 || len(fields)%2 != 0 {
		return nil
	}
	out := make([]polyline.Coordinate, 0, len(fields)/2)
	for i := 0; i < len(fields); i += 2 {
		lat, err1 := strconv.ParseFloat(fields[i], 64)
		lon, err2 := strconv.ParseFloat(fields[i+1], 64)
		c := polyline.Coordinate{Lat: lat, Lon: lon}
		if err1 != nil || err2 != nil || !c.Valid() {
			return nil
		}
		out = append(out, c)
	}
	return out
}
