package closure_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnervision/runnervision/internal/closure"
	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/pkg/polyline"
)

var midtown = polyline.Coordinate{Lat: 40.7580, Lon: -73.9855}

// outAndBack builds a candidate running legMeters along bearing and back.
func outAndBack(id int, bearing, legMeters float64) routing.Candidate {
	turn := polyline.Destination(midtown, bearing, legMeters)
	geom := []polyline.Coordinate{midtown, turn, midtown}
	return routing.Candidate{
		ID:             id,
		Geometry:       geom,
		LengthKm:       polyline.Length(geom) / 1000,
		Direction:      routing.DirectionFor(bearing),
		BearingDegrees: bearing,
	}
}

func segment(bearing, fromMeters, toMeters float64) []polyline.Coordinate {
	return []polyline.Coordinate{
		polyline.Destination(midtown, bearing, fromMeters),
		polyline.Destination(midtown, bearing, toMeters),
	}
}

func TestFilter_BlocksCandidateAlongClosure(t *testing.T) {
	north := outAndBack(1, 0, 1000)
	east := outAndBack(3, 90, 1000)
	closures := []closure.Closure{
		{ID: "c1", Street: "Broadway", Segments: [][]polyline.Coordinate{segment(0, 0, 1000)}},
	}

	got := closure.Filter([]routing.Candidate{north, east}, closures)
	require.Len(t, got, 2)

	assert.True(t, got[1].Blocked)
	assert.InDelta(t, 1.0, got[1].OverlapFraction, 0.01)
	assert.Equal(t, []string{"c1"}, got[1].ClosureIDs)

	// East only touches the closure at the shared start point.
	assert.False(t, got[3].Blocked)
	assert.Greater(t, got[3].OverlapFraction, 0.0)
	assert.Less(t, got[3].OverlapFraction, closure.DefaultThreshold)
	assert.Equal(t, 3, got[3].CandidateID)
}

func TestFilter_PolygonClosure(t *testing.T) {
	north := outAndBack(1, 0, 1000)
	a := polyline.Destination(midtown, 0, 800)
	b := polyline.Destination(midtown, 0, 1200)
	ring := []polyline.Coordinate{
		{Lat: a.Lat, Lon: a.Lon - 0.001},
		{Lat: a.Lat, Lon: a.Lon + 0.001},
		{Lat: b.Lat, Lon: b.Lon + 0.001},
		{Lat: b.Lat, Lon: b.Lon - 0.001},
	}
	closures := []closure.Closure{{ID: "zone", Polygons: [][]polyline.Coordinate{ring}}}

	got := closure.Filter([]routing.Candidate{north}, closures)
	assert.True(t, got[1].Blocked)
	assert.InDelta(t, 0.2, got[1].OverlapFraction, 0.02)
	assert.Equal(t, []string{"zone"}, got[1].ClosureIDs)
}

func TestFilter_ThresholdIsConfigurable(t *testing.T) {
	north := outAndBack(1, 0, 1000)
	closures := []closure.Closure{
		{ID: "short", Segments: [][]polyline.Coordinate{segment(0, 400, 500)}},
	}

	strict := closure.Filter([]routing.Candidate{north}, closures)
	assert.True(t, strict[1].Blocked)

	lenient := closure.FilterConfig{Threshold: 0.5}.Filter([]routing.Candidate{north}, closures)
	assert.False(t, lenient[1].Blocked)
	assert.Equal(t, strict[1].OverlapFraction, lenient[1].OverlapFraction)
}

func TestFilter_NoClosuresMeansConfirmedClear(t *testing.T) {
	candidates := []routing.Candidate{outAndBack(1, 0, 500), outAndBack(2, 45, 500)}

	got := closure.Filter(candidates, nil)
	require.Len(t, got, 2)
	for id, ann := range got {
		assert.Equal(t, id, ann.CandidateID)
		assert.False(t, ann.Blocked)
		assert.Zero(t, ann.OverlapFraction)
		assert.Empty(t, ann.ClosureIDs)
	}
}

func TestFilter_IgnoresDistantClosures(t *testing.T) {
	far := polyline.Destination(midtown, 180, 5000)
	closures := []closure.Closure{
		{ID: "far", Segments: [][]polyline.Coordinate{{far, polyline.Destination(far, 90, 300)}}},
	}

	got := closure.Filter([]routing.Candidate{outAndBack(1, 0, 1000)}, closures)
	assert.False(t, got[1].Blocked)
	assert.Zero(t, got[1].OverlapFraction)
}

func TestFilter_IsDeterministic(t *testing.T) {
	candidates := []routing.Candidate{outAndBack(1, 0, 1000), outAndBack(5, 180, 1000)}
	closures := []closure.Closure{
		{ID: "b", Segments: [][]polyline.Coordinate{segment(0, 100, 600)}},
		{ID: "a", Segments: [][]polyline.Coordinate{segment(0, 500, 900)}},
	}

	first := closure.Filter(candidates, closures)
	second := closure.Filter(candidates, closures)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"a", "b"}, first[1].ClosureIDs)
}

func TestClosure_ActiveAndDedupe(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	start := now.Add(-48 * time.Hour)
	ended := now.Add(-time.Hour)
	later := now.Add(time.Hour)

	assert.True(t, closure.Closure{}.Active(now))
	assert.False(t, closure.Closure{EndsAt: &ended}.Active(now))
	assert.False(t, closure.Closure{StartsAt: &later}.Active(now))
	assert.True(t, closure.Closure{StartsAt: &start, EndsAt: &later}.Active(now))

	a := closure.Closure{ID: "1", Street: "BROADWAY", StartsAt: &start, Segments: [][]polyline.Coordinate{segment(0, 0, 100)}}
	b := closure.Closure{ID: "2", Street: "Broadway ", StartsAt: &start, Segments: [][]polyline.Coordinate{segment(0, 100, 200)}}
	c := closure.Closure{ID: "3", Street: "7th Ave", StartsAt: &start}

	got := closure.Dedupe([]closure.Closure{a, b, c})
	require.Len(t, got, 2)
	assert.Equal(t, "1", got[0].ID)
	assert.Len(t, got[0].Segments, 2)
	assert.Equal(t, "3", got[1].ID)
}

func newService(feed closure.Feed, now *time.Time) *closure.Service {
	return closure.NewService(closure.ServiceConfig{
		Feed:     feed,
		Logger:   zerolog.Nop(),
		CacheTTL: time.Minute,
		Now:      func() time.Time { return *now },
	})
}

func TestService_AnnotateQueriesFeedOnceAndCaches(t *testing.T) {
	now := time.Now()
	feed := closure.NewStaticFeed(closure.Closure{
		ID: "c1", Street: "Broadway", Segments: [][]polyline.Coordinate{segment(0, 0, 1000)},
	})
	svc := newService(feed, &now)
	candidates := []routing.Candidate{outAndBack(1, 0, 1000), outAndBack(3, 90, 1000)}

	got, err := svc.Annotate(context.Background(), candidates)
	require.NoError(t, err)
	assert.True(t, got[1].Blocked)
	assert.False(t, got[3].Blocked)
	assert.Equal(t, 1, feed.Calls())

	_, err = svc.Annotate(context.Background(), candidates)
	require.NoError(t, err)
	assert.Equal(t, 1, feed.Calls(), "second request should be served from cache")

	stats := svc.CacheStats()
	assert.Equal(t, 1, stats.Tiles)
	assert.Equal(t, 1, stats.Closures)
	assert.Equal(t, "static", stats.Feed)

	svc.InvalidateCache()
	_, err = svc.Annotate(context.Background(), candidates)
	require.NoError(t, err)
	assert.Equal(t, 2, feed.Calls())
}

func TestService_FeedFailure(t *testing.T) {
	now := time.Now()
	feed := closure.NewStaticFeed()
	feed.Fail(errors.New("boom"))
	svc := newService(feed, &now)

	got, err := svc.Annotate(context.Background(), []routing.Candidate{outAndBack(1, 0, 500)})
	require.Error(t, err)
	assert.Nil(t, got)

	var unavailable *closure.AnnotationUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, "static", unavailable.Feed)
	assert.ErrorIs(t, err, closure.ErrFeedUnavailable)
}

func TestService_ServesStaleOnError(t *testing.T) {
	now := time.Now()
	feed := closure.NewStaticFeed(closure.Closure{
		ID: "c1", Segments: [][]polyline.Coordinate{segment(0, 0, 1000)},
	})
	svc := newService(feed, &now)
	candidates := []routing.Candidate{outAndBack(1, 0, 1000)}

	_, err := svc.Annotate(context.Background(), candidates)
	require.NoError(t, err)

	now = now.Add(10 * time.Minute)
	feed.Fail(errors.New("feed down"))

	got, err := svc.Annotate(context.Background(), candidates)
	require.NoError(t, err)
	assert.True(t, got[1].Blocked)
	assert.Equal(t, 2, feed.Calls())
}

func TestService_DropsEndedClosures(t *testing.T) {
	now := time.Now()
	ended := now.Add(-time.Minute)
	feed := closure.NewStaticFeed(closure.Closure{
		ID: "old", EndsAt: &ended, Segments: [][]polyline.Coordinate{segment(0, 0, 1000)},
	})
	svc := newService(feed, &now)

	got, err := svc.Annotate(context.Background(), []routing.Candidate{outAndBack(1, 0, 1000)})
	require.NoError(t, err)
	assert.False(t, got[1].Blocked)
}

func TestService_EmptyCandidateSet(t *testing.T) {
	now := time.Now()
	feed := closure.NewStaticFeed()
	svc := newService(feed, &now)

	got, err := svc.Annotate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, feed.Calls())
}

func TestService_InvalidBounds(t *testing.T) {
	now := time.Now()
	svc := newService(closure.NewStaticFeed(), &now)

	_, err := svc.ActiveClosures(context.Background(), polyline.Bounds{MinLat: 10, MaxLat: 5})
	assert.ErrorIs(t, err, closure.ErrInvalidBounds)
}
