package routing_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnervision/runnervision/internal/routing"
)

func TestCachingProvider_HitAndGrid(t *testing.T) {
	inner := newMockProvider(1)
	cache := routing.NewCachingProvider(routing.CacheConfig{Provider: inner, Logger: zerolog.Nop()})

	start := routing.Coordinate{Lat: 40.7585, Lon: -73.9855}
	req := routing.RouteRequest{Start: start, BearingDegrees: 90, DistanceKm: 5, Profile: routing.ProfileWalk}
	first, err := cache.ComputeRoute(context.Background(), req)
	require.NoError(t, err)

	nearby := req
	nearby.Start.Lat += 0.0001
	second, err := cache.ComputeRoute(context.Background(), nearby)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, inner.requestCount())

	other := req
	other.BearingDegrees = 135
	_, err = cache.ComputeRoute(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, 2, inner.requestCount())

	stats := cache.CacheStats()
	assert.Equal(t, 2, stats.TotalEntries)
	assert.Equal(t, 2, stats.FreshEntries)
	assert.Equal(t, "mock", stats.Provider)
}

func TestCachingProvider_StaleIfError(t *testing.T) {
	inner := newMockProvider(1)
	cache := routing.NewCachingProvider(routing.CacheConfig{
		Provider: inner,
		CacheTTL: time.Millisecond,
		Logger:   zerolog.Nop(),
	})

	req := routing.RouteRequest{Start: centralPark, BearingDegrees: 0, DistanceKm: 5}
	fresh, err := cache.ComputeRoute(context.Background(), req)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	inner.failAll = errors.New("provider down")

	stale, err := cache.ComputeRoute(context.Background(), req)
	require.NoError(t, err)
	assert.Same(t, fresh, stale)

	cache.InvalidateCache()
	_, err = cache.ComputeRoute(context.Background(), req)
	assert.Error(t, err)
}
