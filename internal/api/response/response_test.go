package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnervision/runnervision/internal/api/middleware"
	"github.com/runnervision/runnervision/internal/api/models"
	"github.com/runnervision/runnervision/internal/api/response"
)

// serve runs write behind the RequestID middleware with a fixed request ID.
func serve(method, path, body string, write http.HandlerFunc) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Request-Id", "req_resp")
	rec := httptest.NewRecorder()
	middleware.RequestID(write).ServeHTTP(rec, req)
	return rec
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) models.Problem {
	t.Helper()
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	var p models.Problem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestJSON(t *testing.T) {
	rec := serve(http.MethodGet, "/v1/plan", "", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"complexity": "SIMPLE"})
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "req_resp", rec.Header().Get("X-Request-Id"))
	assert.JSONEq(t, `{"complexity":"SIMPLE"}`, rec.Body.String())
}

func TestJSON_NilBodyAndNoRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	response.JSON(rec, httptest.NewRequest(http.MethodGet, "/v1/plan", http.NoBody), http.StatusAccepted, nil)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
	assert.Empty(t, rec.Header().Get("X-Request-Id"))
}

func TestNoContent(t *testing.T) {
	rec := serve(http.MethodDelete, "/v1/admin/feature-flags/x", "", response.NoContent)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "req_resp", rec.Header().Get("X-Request-Id"))
	assert.Empty(t, rec.Body.String())
}

func TestProblemHelpers(t *testing.T) {
	tests := []struct {
		name   string
		write  http.HandlerFunc
		status int
		typ    string
	}{
		{"bad request", func(w http.ResponseWriter, r *http.Request) {
			response.BadRequest(w, r, "query too short", []models.FieldError{{Field: "query", Message: "too short"}})
		}, http.StatusBadRequest, models.ProblemTypeValidation},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			response.NotFound(w, r, "flag not found")
		}, http.StatusNotFound, models.ProblemTypeNotFound},
		{"no route", func(w http.ResponseWriter, r *http.Request) {
			response.NoRoute(w, r, "no route near start")
		}, http.StatusUnprocessableEntity, models.ProblemTypeNoRoute},
		{"internal", func(w http.ResponseWriter, r *http.Request) {
			response.InternalError(w, r, "something went wrong")
		}, http.StatusInternalServerError, models.ProblemTypeInternal},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) {
			response.ServiceUnavailable(w, r, "request cancelled")
		}, http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(http.MethodPost, "/v1/recommendations", "", tt.write)

			assert.Equal(t, tt.status, rec.Code)
			p := decodeProblem(t, rec)
			assert.Equal(t, tt.typ, p.Type)
			assert.Equal(t, tt.status, p.Status)
			assert.Equal(t, "/v1/recommendations", p.Instance)
			assert.Equal(t, "req_resp", p.TraceID)
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Query string `json:"query"`
	}

	tests := []struct {
		name       string
		body       string
		maxBytes   int64
		wantOK     bool
		wantDetail string
	}{
		{name: "valid", body: `{"query":"easy 5k"}`, wantOK: true},
		{name: "empty", body: ``, wantDetail: "request body is empty"},
		{name: "malformed", body: `{"query":`, wantDetail: "invalid JSON body"},
		{name: "unknown field", body: `{"query":"5k","pace":"fast"}`, wantDetail: "invalid JSON body"},
		{name: "trailing object", body: `{"query":"5k"}{"query":"10k"}`, wantDetail: "invalid JSON body"},
		{name: "too large", body: `{"query":"` + strings.Repeat("a", 64) + `"}`, maxBytes: 32, wantDetail: "request body exceeds 32 bytes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got payload
			var ok bool
			rec := serve(http.MethodPost, "/v1/recommendations", tt.body, func(w http.ResponseWriter, r *http.Request) {
				ok = response.DecodeJSON(w, r, &got, tt.maxBytes)
			})

			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, "easy 5k", got.Query)
				assert.Equal(t, http.StatusOK, rec.Code, "nothing written on success")
				return
			}
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.wantDetail, decodeProblem(t, rec).Detail)
		})
	}
}
