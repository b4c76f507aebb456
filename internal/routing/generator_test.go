package routing_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnervision/runnervision/internal/routing"
)

var centralPark = routing.Coordinate{Lat: 40.7580, Lon: -73.9855}

// mockProvider delegates to a synthetic provider and can fail selected bearings.
type mockProvider struct {
	mu       sync.Mutex
	inner    *routing.SyntheticProvider
	failAll  error
	failFor  map[float64]error
	requests []routing.RouteRequest
}

func newMockProvider(stretch float64) *mockProvider {
	return &mockProvider{
		inner:   &routing.SyntheticProvider{Stretch: stretch, Points: 10},
		failFor: make(map[float64]error),
	}
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) ComputeRoute(ctx context.Context, req routing.RouteRequest) (*routing.Route, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	err := m.failAll
	if e, ok := m.failFor[req.BearingDegrees]; ok {
		err = e
	}
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return m.inner.ComputeRoute(ctx, req)
}

func (m *mockProvider) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

func newGenerator(p routing.Provider) *routing.Generator {
	return routing.NewGenerator(routing.GeneratorConfig{
		Provider:  p,
		RateLimit: 1000,
		Burst:     100,
		Logger:    zerolog.Nop(),
	})
}

func TestGenerator_EightCandidatesWithCompassIDs(t *testing.T) {
	gen := newGenerator(newMockProvider(1))

	candidates, err := gen.Generate(context.Background(), centralPark, 5)
	require.NoError(t, err)
	require.Len(t, candidates, 8)

	want := []routing.Direction{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}
	for i, c := range candidates {
		assert.Equal(t, i+1, c.ID)
		assert.Equal(t, want[i], c.Direction)
		assert.Equal(t, float64(i)*45, c.BearingDegrees)
		assert.InDelta(t, 5.0, c.LengthKm, 0.75)
		assert.Equal(t, centralPark, c.Geometry[0])
	}
}

func TestGenerator_RescalesOutOfBandRoutes(t *testing.T) {
	provider := newMockProvider(1.4)
	gen := newGenerator(provider)

	candidates, err := gen.Generate(context.Background(), centralPark, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 8)
	for _, c := range candidates {
		assert.InDelta(t, 10.0, c.LengthKm, 1.5)
	}
	assert.Equal(t, 16, provider.requestCount(), "one rescale per bearing")
}

func TestGenerator_DropsCandidatesThatNeverFit(t *testing.T) {
	gen := routing.NewGenerator(routing.GeneratorConfig{
		Provider:       lengthFixed{km: 9},
		MaxAdjustments: -1,
		RateLimit:      1000,
		Burst:          100,
		Logger:         zerolog.Nop(),
	})

	_, err := gen.Generate(context.Background(), centralPark, 5)
	var noRoute *routing.NoRouteError
	require.ErrorAs(t, err, &noRoute)
	assert.ErrorIs(t, err, routing.ErrNoRoute)
	assert.Equal(t, 8, noRoute.Attempts)
}

// lengthFixed always answers with a route of the same length.
type lengthFixed struct{ km float64 }

func (l lengthFixed) Name() string { return "fixed" }

func (l lengthFixed) ComputeRoute(ctx context.Context, req routing.RouteRequest) (*routing.Route, error) {
	return routing.NewSyntheticProvider().ComputeRoute(ctx, routing.RouteRequest{
		Start:          req.Start,
		BearingDegrees: req.BearingDegrees,
		DistanceKm:     l.km,
	})
}

func TestGenerator_PartialFailureKeepsSurvivors(t *testing.T) {
	provider := newMockProvider(1)
	provider.failFor[0] = &routing.Error{Provider: "mock", Code: "NO_ROUTE", Err: routing.ErrNoRoute}
	provider.failFor[180] = &routing.Error{Provider: "mock", Code: "SERVER_500", Err: routing.ErrProviderUnavailable}

	candidates, err := newGenerator(provider).Generate(context.Background(), centralPark, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 6, 7, 8}, routing.IDs(candidates))
}

func TestGenerator_AllFailIsNoRoute(t *testing.T) {
	provider := newMockProvider(1)
	provider.failAll = &routing.Error{Provider: "mock", Code: "SERVER_503", Err: routing.ErrProviderUnavailable}

	_, err := newGenerator(provider).Generate(context.Background(), centralPark, 5)
	assert.ErrorIs(t, err, routing.ErrNoRoute)
	assert.ErrorIs(t, err, routing.ErrProviderUnavailable)
}

func TestGenerator_InvalidStart(t *testing.T) {
	provider := newMockProvider(1)
	_, err := newGenerator(provider).Generate(context.Background(), routing.Coordinate{Lat: 120}, 5)

	assert.ErrorIs(t, err, routing.ErrNoRoute)
	assert.ErrorIs(t, err, routing.ErrInvalidCoordinates)
	assert.Zero(t, provider.requestCount())
}

func TestGenerator_DefaultTarget(t *testing.T) {
	gen := newGenerator(newMockProvider(1))
	assert.Equal(t, 5.0, gen.DefaultTargetKm())

	candidates, err := gen.Generate(context.Background(), centralPark, 0)
	require.NoError(t, err)
	for _, c := range candidates {
		assert.InDelta(t, 5.0, c.LengthKm, 0.75)
	}
}

// slowProvider blocks until the call context ends.
type slowProvider struct{ calls atomic.Int32 }

func (s *slowProvider) Name() string { return "slow" }

func (s *slowProvider) ComputeRoute(ctx context.Context, _ routing.RouteRequest) (*routing.Route, error) {
	s.calls.Add(1)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestGenerator_CallTimeout(t *testing.T) {
	gen := routing.NewGenerator(routing.GeneratorConfig{
		Provider:    &slowProvider{},
		CallTimeout: 20 * time.Millisecond,
		RateLimit:   1000,
		Burst:       100,
		Logger:      zerolog.Nop(),
	})

	start := time.Now()
	_, err := gen.Generate(context.Background(), centralPark, 5)
	assert.ErrorIs(t, err, routing.ErrNoRoute)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDirectionFor(t *testing.T) {
	assert.Equal(t, routing.DirectionN, routing.DirectionFor(0))
	assert.Equal(t, routing.DirectionN, routing.DirectionFor(350))
	assert.Equal(t, routing.DirectionE, routing.DirectionFor(91))
	assert.Equal(t, routing.DirectionNW, routing.DirectionFor(-45))
}

func TestNoRouteError_Message(t *testing.T) {
	err := &routing.NoRouteError{Start: centralPark, TargetKm: 5, Attempts: 8, Cause: errors.New("boom")}
	assert.Contains(t, err.Error(), "no route from 40.75800,-73.98550 for 5.00 km after 8 attempts: boom")
}
