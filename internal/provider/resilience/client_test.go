package resilience_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnervision/runnervision/internal/provider/resilience"
)

// fastConfig keeps backoff short and the breaker closed unless a test trips it.
func fastConfig(name string, retries uint64) resilience.ClientConfig {
	cb := resilience.DefaultCircuitBreakerConfig(name)
	cb.ReadyToTrip = func(counts gobreaker.Counts) bool { return counts.Requests >= 100 }
	return resilience.ClientConfig{
		Name:            name,
		Timeout:         2 * time.Second,
		MaxRetries:      retries,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     20 * time.Millisecond,
		CircuitBreaker:  &cb,
	}
}

// upstream answers attempt n (starting at 1) with statusFor(n) and counts attempts.
type upstream struct {
	*httptest.Server
	attempts atomic.Int32
}

func newUpstream(t *testing.T, statusFor func(n int32) int) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(statusFor(u.attempts.Add(1)))
	}))
	t.Cleanup(u.Close)
	return u
}

func always(status int) func(int32) int {
	return func(int32) int { return status }
}

func get(t *testing.T, ctx context.Context, c *resilience.Client, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	require.NoError(t, err)
	resp, err := c.Do(req)
	if resp != nil {
		t.Cleanup(func() { resp.Body.Close() })
	}
	return resp, err
}

func TestClient_StatusHandling(t *testing.T) {
	tests := []struct {
		name         string
		retries      uint64
		statusFor    func(int32) int
		wantStatus   int
		wantAttempts int32
	}{
		{name: "success", statusFor: always(http.StatusOK), wantStatus: http.StatusOK, wantAttempts: 1},
		{
			name:    "retries server errors",
			retries: 4,
			statusFor: func(n int32) int {
				if n < 3 {
					return http.StatusBadGateway
				}
				return http.StatusOK
			},
			wantStatus:   http.StatusOK,
			wantAttempts: 3,
		},
		{
			name:         "hands back the last 5xx",
			retries:      1,
			statusFor:    always(http.StatusServiceUnavailable),
			wantStatus:   http.StatusServiceUnavailable,
			wantAttempts: 2,
		},
		{
			name:         "client errors are final",
			retries:      3,
			statusFor:    always(http.StatusNotFound),
			wantStatus:   http.StatusNotFound,
			wantAttempts: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := newUpstream(t, tt.statusFor)
			client := resilience.NewClient(fastConfig("status", tt.retries))

			resp, err := get(t, context.Background(), client, u.URL)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Equal(t, tt.wantAttempts, u.attempts.Load())
		})
	}
}

func TestClient_OpenCircuitFailsFast(t *testing.T) {
	u := newUpstream(t, always(http.StatusInternalServerError))

	cfg := fastConfig("trip", 0)
	cfg.CircuitBreaker.ReadyToTrip = resilience.DefaultReadyToTrip
	client := resilience.NewClient(cfg)

	for range 5 {
		_, _ = get(t, context.Background(), client, u.URL)
	}
	require.Equal(t, gobreaker.StateOpen, client.State())

	before := u.attempts.Load()
	_, err := get(t, context.Background(), client, u.URL)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, before, u.attempts.Load(), "open breaker must not reach the server")
}

func TestClient_HonoursContextDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := resilience.NewClient(fastConfig("deadline", 0))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := get(t, ctx, client, server.URL)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestClient_Name(t *testing.T) {
	assert.Equal(t, "nycdot", resilience.NewClient(fastConfig("nycdot", 0)).Name())
}

func TestDefaultClientConfig(t *testing.T) {
	cfg := resilience.DefaultClientConfig("stage")
	assert.Equal(t, "stage", cfg.Name)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, uint64(2), cfg.MaxRetries)
	require.NotNil(t, cfg.CircuitBreaker)
	assert.Equal(t, 30*time.Second, cfg.CircuitBreaker.Timeout)
}

func TestDefaultReadyToTrip(t *testing.T) {
	tests := []struct {
		name   string
		counts gobreaker.Counts
		want   bool
	}{
		{"too few requests", gobreaker.Counts{Requests: 4, TotalFailures: 4}, false},
		{"low failure rate", gobreaker.Counts{Requests: 10, TotalFailures: 4}, false},
		{"half failing", gobreaker.Counts{Requests: 10, TotalFailures: 5}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, resilience.DefaultReadyToTrip(tt.counts))
		})
	}
}
