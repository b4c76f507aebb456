package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnervision/runnervision/internal/api"
	"github.com/runnervision/runnervision/internal/api/models"
	"github.com/runnervision/runnervision/internal/auth"
	"github.com/runnervision/runnervision/internal/featureflags"
	"github.com/runnervision/runnervision/internal/intent"
	"github.com/runnervision/runnervision/internal/orchestrator"
	"github.com/runnervision/runnervision/internal/provider/resilience"
	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/internal/synthesis"
	"github.com/runnervision/runnervision/pkg/polyline"
)

const testSigningKey = "test-secret-key-for-testing-only"

type fakeOrchestrator struct {
	rec       *synthesis.Recommendation
	err       error
	gotText   string
	gotStart  *polyline.Coordinate
	callCount int
}

func (f *fakeOrchestrator) HandleQuery(_ context.Context, text string, start *polyline.Coordinate) (*synthesis.Recommendation, error) {
	f.callCount++
	f.gotText = text
	f.gotStart = start
	if f.err != nil {
		return nil, f.err
	}
	return f.rec, nil
}

func (f *fakeOrchestrator) PlanFor(_ context.Context, i intent.Intent) orchestrator.StageSet {
	return orchestrator.DefaultPlanPolicy().Plan(i)
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type fixture struct {
	router   http.Handler
	orch     *fakeOrchestrator
	flags    *featureflags.Service
	tokens   *auth.TokenService
	registry *resilience.Registry
}

func newFixture(t *testing.T, mutate ...func(*api.RouterConfig)) *fixture {
	t.Helper()

	f := &fixture{
		orch: &fakeOrchestrator{rec: &synthesis.Recommendation{
			ChosenCandidateID:  3,
			RankedCandidateIDs: []int{3, 2, 1},
			Explanation:        "Route 3 is closest to 5 km.",
			ExplanationSource:  synthesis.SourceTemplate,
			Warnings:           []string{},
			RankedBy:           synthesis.RankedByDistance,
			TargetKm:           5,
		}},
		flags: featureflags.NewService(featureflags.ServiceConfig{
			Repository: featureflags.NewInMemoryRepository(),
			Logger:     zerolog.Nop(),
		}),
		tokens: auth.NewTokenService(auth.TokenConfig{
			SigningKey: testSigningKey,
			Issuer:     "runnervision",
		}),
		registry: resilience.NewRegistry(),
	}

	cfg := api.RouterConfig{
		Version:            "test",
		BuildTime:          "2026-01-01T00:00:00Z",
		Logger:             zerolog.New(io.Discard),
		Orchestrator:       f.orch,
		Registry:           f.registry,
		FeatureFlagService: f.flags,
		TokenService:       f.tokens,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.router = api.NewRouter(cfg)
	return f
}

func (f *fixture) token(t *testing.T, scopes ...string) string {
	t.Helper()
	token, _, err := f.tokens.Issue("ops@runnervision", scopes, time.Hour)
	require.NoError(t, err)
	return token
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func postJSON(t *testing.T, path string, body any) *http.Request {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeProblem(t *testing.T, w *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	var p models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	return p
}

func TestRouter_HealthCheck(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	var health models.Health
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "test", health.Details["version"])
}

func TestRouter_ReadinessCheck(t *testing.T) {
	t.Run("no database", func(t *testing.T) {
		w := newFixture(t).do(httptest.NewRequest(http.MethodGet, "/v1/ops/ready", http.NoBody))
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("database down", func(t *testing.T) {
		f := newFixture(t, func(c *api.RouterConfig) { c.Database = fakePinger{err: errors.New("connection refused")} })
		w := f.do(httptest.NewRequest(http.MethodGet, "/v1/ops/ready", http.NoBody))

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		var health models.Health
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
		assert.Equal(t, models.HealthStatusFail, health.Status)
		assert.Equal(t, "connection refused", health.Details["database"])
	})

	t.Run("database up", func(t *testing.T) {
		f := newFixture(t, func(c *api.RouterConfig) { c.Database = fakePinger{} })
		w := f.do(httptest.NewRequest(http.MethodGet, "/v1/ops/ready", http.NoBody))
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestRouter_SystemStatus(t *testing.T) {
	f := newFixture(t)
	breaker := resilience.NewCircuitBreaker[[]byte](resilience.DefaultCircuitBreakerConfig("openweathermap"), zerolog.Nop())
	f.registry.Register("openweathermap", breaker)
	f.registry.RecordFailure("openweathermap", errors.New("status 503"))
	require.NoError(t, f.flags.SetFlag(context.Background(), &featureflags.Flag{
		Key: featureflags.FlagExplanationsGeneratedDisabled, Value: true,
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+f.token(t, auth.ScopeStatus))
	w := f.do(req)

	require.Equal(t, http.StatusOK, w.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusOK, status.Status)
	assert.Equal(t, "test", status.Version)
	assert.GreaterOrEqual(t, status.UptimeSeconds, int64(0))
	assert.False(t, status.StartedAt.Time().IsZero())
	require.Len(t, status.Providers, 1)
	assert.Equal(t, "openweathermap", status.Providers[0].Provider)
	assert.Equal(t, "closed", status.Providers[0].CircuitState)
	require.NotNil(t, status.Providers[0].Message)
	assert.Equal(t, "status 503", *status.Providers[0].Message)
	assert.NotNil(t, status.Providers[0].LastFailureAt)
	assert.Equal(t, []string{featureflags.FlagExplanationsGeneratedDisabled}, status.ActiveDegradationFlags)
}

func TestRouter_SystemStatus_RequiresOperatorToken(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/ops/status", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+f.token(t, auth.ScopeFlagsRead))
	w = f.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, models.ProblemTypeForbidden, decodeProblem(t, w).Type)
}

func TestRouter_Recommend(t *testing.T) {
	f := newFixture(t)

	w := f.do(postJSON(t, "/v1/recommendations", map[string]any{
		"query": "  Give me a 5km route  ",
		"start": map[string]float64{"lat": 40.7812, "lon": -73.9665},
	}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Give me a 5km route", f.orch.gotText)
	require.NotNil(t, f.orch.gotStart)
	assert.Equal(t, polyline.Coordinate{Lat: 40.7812, Lon: -73.9665}, *f.orch.gotStart)

	var rec synthesis.Recommendation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rec))
	assert.Equal(t, 3, rec.ChosenCandidateID)
	assert.Equal(t, []int{3, 2, 1}, rec.RankedCandidateIDs)
}

func TestRouter_Recommend_WithoutStart(t *testing.T) {
	f := newFixture(t)

	w := f.do(postJSON(t, "/v1/recommendations", map[string]any{"query": "easy loop"}))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Nil(t, f.orch.gotStart)
}

func TestRouter_Recommend_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		field string
	}{
		{"short query", `{"query":"hi"}`, "query"},
		{"blank query", `{"query":"    "}`, "query"},
		{"latitude out of range", `{"query":"5k please","start":{"lat":91,"lon":0}}`, "start.lat"},
		{"longitude out of range", `{"query":"5k please","start":{"lat":0,"lon":-181}}`, "start.lon"},
		{"unknown field", `{"query":"5k please","distance":5}`, ""},
		{"malformed json", `{"query":`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			req := httptest.NewRequest(http.MethodPost, "/v1/recommendations", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			w := f.do(req)

			assert.Equal(t, http.StatusBadRequest, w.Code)
			p := decodeProblem(t, w)
			assert.Equal(t, models.ProblemTypeValidation, p.Type)
			if tt.field != "" {
				require.NotEmpty(t, p.Errors)
				assert.Equal(t, tt.field, p.Errors[0].Field)
			}
			assert.Zero(t, f.orch.callCount)
		})
	}
}

func TestRouter_Recommend_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		typ    string
	}{
		{
			"no route",
			&orchestrator.Error{Kind: orchestrator.KindNoRoute, State: orchestrator.StateClassified, Err: routing.ErrNoRoute},
			http.StatusUnprocessableEntity, models.ProblemTypeNoRoute,
		},
		{
			"cancelled",
			&orchestrator.Error{Kind: orchestrator.KindCancelled, State: orchestrator.StateAnnotating, Err: context.Canceled},
			http.StatusServiceUnavailable, models.ProblemTypeUnavailable,
		},
		{
			"invalid start",
			&orchestrator.Error{Kind: orchestrator.KindInvalidQuery, State: orchestrator.StateReceived, Err: orchestrator.ErrInvalidStart},
			http.StatusBadRequest, models.ProblemTypeValidation,
		},
		{
			"internal",
			&orchestrator.Error{Kind: orchestrator.KindInternal, State: orchestrator.StateMerged, Err: errors.New("boom")},
			http.StatusInternalServerError, models.ProblemTypeInternal,
		},
		{
			"untyped",
			errors.New("boom"),
			http.StatusInternalServerError, models.ProblemTypeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.orch.err = tt.err

			w := f.do(postJSON(t, "/v1/recommendations", map[string]string{"query": "I need a safe route"}))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, tt.typ, decodeProblem(t, w).Type)
		})
	}
}

func TestRouter_Recommend_RejectsNonJSON(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/recommendations", strings.NewReader("query=5k"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	w := f.do(req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestRouter_Plan(t *testing.T) {
	f := newFixture(t)

	w := f.do(httptest.NewRequest(http.MethodGet, "/v1/plan?complexity=simple", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	var plan models.PlanResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &plan))
	assert.Equal(t, "SIMPLE", plan.Complexity)
	assert.Equal(t, []string{"weather"}, plan.Stages)

	w = f.do(httptest.NewRequest(http.MethodGet, "/v1/plan", http.NoBody))
	require.Equal(t, http.StatusOK, w.Code)
	var list models.PlanListResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Plans, 3)
	assert.Equal(t, "SAFETY_FOCUSED", list.Plans[1].Complexity)
	assert.Equal(t, []string{"safety", "weather", "closures"}, list.Plans[1].Stages)

	w = f.do(httptest.NewRequest(http.MethodGet, "/v1/plan?complexity=EPIC", http.NoBody))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_FeatureFlags(t *testing.T) {
	f := newFixture(t)
	readToken := f.token(t, auth.ScopeFlagsRead)
	writeToken := f.token(t, auth.ScopeFlagsRead, auth.ScopeFlagsWrite)

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/feature-flags", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+readToken)
	w := f.do(req)
	require.Equal(t, http.StatusOK, w.Code)

	var list featureflags.FlagList
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Items, 3)
	assert.Equal(t, featureflags.FlagExplanationsGeneratedDisabled, list.Items[0].Key)

	body := `{"updates":[{"key":"plan_force_full","value":true}],"reason":"incident drill"}`

	req = httptest.NewRequest(http.MethodPut, "/v1/admin/feature-flags", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+readToken)
	w = f.do(req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	req = httptest.NewRequest(http.MethodPut, "/v1/admin/feature-flags", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+writeToken)
	req.Header.Set("Content-Type", "application/json")
	w = f.do(req)
	require.Equal(t, http.StatusNoContent, w.Code)
	assert.True(t, f.flags.PlanForceFull(context.Background()))
	assert.Equal(t, "ops@runnervision", f.flags.GetFlag(context.Background(), featureflags.FlagPlanForceFull).UpdatedBy)

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/feature-flags/invalidate", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+writeToken)
	w = f.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)

	req = httptest.NewRequest(http.MethodDelete, "/v1/admin/feature-flags/plan_force_full", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+writeToken)
	w = f.do(req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.False(t, f.flags.PlanForceFull(context.Background()))

	req = httptest.NewRequest(http.MethodDelete, "/v1/admin/feature-flags/plan_force_full", http.NoBody)
	req.Header.Set("Authorization", "Bearer "+writeToken)
	w = f.do(req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_FeatureFlags_Validation(t *testing.T) {
	f := newFixture(t)
	token := f.token(t, auth.ScopeFlagsWrite)

	for _, body := range []string{
		`{"updates":[]}`,
		`{"updates":[{"key":" ","value":true}]}`,
		`{"updates":[{"key":"traffic_enabled","value":true}]}`,
		`{"updates":[{"key":"plan_force_full","value":"sometimes"}]}`,
		`not json`,
	} {
		req := httptest.NewRequest(http.MethodPut, "/v1/admin/feature-flags", strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		w := f.do(req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestRouter_FeatureFlags_ReadOnly(t *testing.T) {
	f := newFixture(t, func(c *api.RouterConfig) {
		c.FeatureFlagService = featureflags.NewService(featureflags.ServiceConfig{Logger: zerolog.Nop()})
	})

	req := httptest.NewRequest(http.MethodPut, "/v1/admin/feature-flags",
		strings.NewReader(`{"updates":[{"key":"plan_force_full","value":true}]}`))
	req.Header.Set("Authorization", "Bearer "+f.token(t, auth.ScopeFlagsWrite))
	w := f.do(req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	w := newFixture(t).do(httptest.NewRequest(http.MethodGet, "/v1/routes:compute", http.NoBody))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_SecurityHeaders(t *testing.T) {
	w := newFixture(t).do(httptest.NewRequest(http.MethodGet, "/v1/ops/health", http.NoBody))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
}
