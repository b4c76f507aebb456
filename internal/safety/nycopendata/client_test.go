package nycopendata_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnervision/runnervision/internal/provider/resilience"
	"github.com/runnervision/runnervision/internal/safety"
	"github.com/runnervision/runnervision/internal/safety/nycopendata"
	"github.com/runnervision/runnervision/pkg/polyline"
)

const crashesFixture = `[
  {"collision_id": "4711001", "crash_date": "2026-04-28T00:00:00.000", "crash_time": "8:15",
   "latitude": "40.7591", "longitude": "-73.9850",
   "number_of_persons_injured": "2", "number_of_persons_killed": "0"},
  {"collision_id": "4711002", "crash_date": "2026-04-20T00:00:00.000", "crash_time": "23:40",
   "latitude": "40.7570", "longitude": "-73.9870",
   "number_of_persons_injured": "0", "number_of_persons_killed": "1"},
  {"collision_id": "4711003", "crash_date": "2026-04-19T00:00:00.000", "crash_time": "10:00",
   "number_of_persons_injured": "1", "number_of_persons_killed": "0"},
  {"collision_id": "4711004", "crash_date": "2026-04-18T00:00:00.000", "crash_time": "10:00",
   "latitude": "0", "longitude": "0"}
]`

var box = polyline.Bounds{MinLat: 40.75, MinLon: -73.99, MaxLat: 40.77, MaxLon: -73.98}

func TestClient_QueryIncidents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/resource/h9gi-nx95.json", r.URL.Path)
		where := r.URL.Query().Get("$where")
		assert.Contains(t, where, "crash_date >= '2026-03-02T00:00:00'")
		assert.Contains(t, where, "latitude between 40.750000 and 40.770000")
		assert.Contains(t, where, "longitude between -73.990000 and -73.980000")
		assert.Equal(t, "crash_date DESC", r.URL.Query().Get("$order"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(crashesFixture))
	}))
	defer server.Close()

	client := nycopendata.NewClient(nycopendata.ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: server.Client(),
		Now:        func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC) },
	})

	incidents, err := client.QueryIncidents(context.Background(), box, 60)
	require.NoError(t, err)
	require.Len(t, incidents, 2, "ungeocoded rows are skipped")

	first := incidents[0]
	assert.Equal(t, "4711001", first.ID)
	assert.Equal(t, polyline.Coordinate{Lat: 40.7591, Lon: -73.9850}, first.Location)
	assert.Equal(t, 2, first.Injuries)
	assert.Equal(t, time.Date(2026, 4, 28, 8, 15, 0, 0, time.UTC), first.OccurredAt)

	assert.Equal(t, 1, incidents[1].Fatalities)
	assert.Equal(t, 23, incidents[1].OccurredAt.Hour())
}

func TestClient_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := resilience.DefaultClientConfig("test")
	cfg.MaxRetries = 0

	client := nycopendata.NewClient(nycopendata.ClientConfig{
		BaseURL:    server.URL,
		HTTPClient: resilience.NewClient(cfg),
	})

	_, err := client.QueryIncidents(context.Background(), box, 60)
	require.Error(t, err)
	assert.ErrorIs(t, err, safety.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "500")
}

func TestClient_ContextCancellation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	client := nycopendata.NewClient(nycopendata.ClientConfig{BaseURL: server.URL, HTTPClient: server.Client()})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.QueryIncidents(ctx, box, 60)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClient_Name(t *testing.T) {
	assert.Equal(t, "nycopendata", nycopendata.NewClient(nycopendata.ClientConfig{}).Name())
}
