package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnervision/runnervision/internal/api/models"
)

func TestProblemConstructors(t *testing.T) {
	tests := []struct {
		name       string
		problem    *models.Problem
		wantType   string
		wantTitle  string
		wantStatus int
	}{
		{"bad request", models.NewBadRequest("req_1", "query is empty", nil),
			models.ProblemTypeValidation, "Validation error", http.StatusBadRequest},
		{"unauthorized", models.NewUnauthorized("req_1", "token expired"),
			models.ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized},
		{"forbidden", models.NewForbidden("req_1", "token does not grant flags:write"),
			models.ProblemTypeForbidden, "Forbidden", http.StatusForbidden},
		{"not found", models.NewNotFound("req_1", "flag not found"),
			models.ProblemTypeNotFound, "Not found", http.StatusNotFound},
		{"no route", models.NewNoRoute("req_1", "no loop near start"),
			models.ProblemTypeNoRoute, "No route", http.StatusUnprocessableEntity},
		{"media type", models.NewUnsupportedMediaType("req_1", "send JSON"),
			models.ProblemTypeUnsupportedType, "Unsupported media type", http.StatusUnsupportedMediaType},
		{"rate limited", models.NewTooManyRequests("req_1", "slow down"),
			models.ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests},
		{"internal", models.NewInternalError("req_1", "orchestrator failed"),
			models.ProblemTypeInternal, "Internal server error", http.StatusInternalServerError},
		{"unavailable", models.NewServiceUnavailable("req_1", "deadline passed"),
			models.ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.problem.Type)
			assert.Equal(t, tt.wantTitle, tt.problem.Title)
			assert.Equal(t, tt.wantStatus, tt.problem.Status)
			assert.Equal(t, "req_1", tt.problem.TraceID)
			assert.NotEmpty(t, tt.problem.Detail)
		})
	}
}

func TestNewTLSRequired(t *testing.T) {
	p := models.NewTLSRequired("req_tls")

	assert.Equal(t, http.StatusForbidden, p.Status)
	assert.Equal(t, "TLS required", p.Title)
	assert.Equal(t, "This endpoint requires HTTPS", p.Detail)
}

func TestNewProblem_UnknownTypeIsInternal(t *testing.T) {
	p := models.NewProblem("https://example.com/problems/other", "req_1", "")

	assert.Equal(t, "https://example.com/problems/other", p.Type)
	assert.Equal(t, http.StatusInternalServerError, p.Status)
	assert.Equal(t, "500 Internal server error", p.Error())
}

func TestProblem_Error(t *testing.T) {
	var err error = models.NewNoRoute("req_1", "every candidate crossed a closure")
	assert.EqualError(t, err, "422 No route: every candidate crossed a closure")
}

func TestProblem_Write(t *testing.T) {
	p := models.NewBadRequest("req_write", "invalid start", []models.FieldError{
		{Field: "start.lat", Message: "must be between -90 and 90", Code: "OUT_OF_RANGE"},
	}).WithInstance("/v1/recommendations")

	rec := httptest.NewRecorder()
	p.Write(rec)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req_write", rec.Header().Get("X-Request-Id"))

	var got models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, *p, got)
}

func TestProblem_WriteWithoutTraceID(t *testing.T) {
	rec := httptest.NewRecorder()
	models.NewInternalError("", "boom").Write(rec)

	assert.Empty(t, rec.Header().Get("X-Request-Id"))

	var raw map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &raw))
	assert.Contains(t, raw, "traceId", "traceId is always present")
	assert.NotContains(t, raw, "errors")
	assert.NotContains(t, raw, "instance")
}
