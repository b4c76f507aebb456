package handler

import (
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/runnervision/runnervision/internal/api/middleware"
	"github.com/runnervision/runnervision/internal/api/models"
	"github.com/runnervision/runnervision/internal/api/response"
	"github.com/runnervision/runnervision/internal/featureflags"
)

// FeatureFlagsHandler handles feature flag endpoints.
type FeatureFlagsHandler struct {
	service *featureflags.Service
	logger  zerolog.Logger
}

// NewFeatureFlagsHandler creates a new FeatureFlagsHandler.
func NewFeatureFlagsHandler(service *featureflags.Service, logger zerolog.Logger) *FeatureFlagsHandler {
	return &FeatureFlagsHandler{service: service, logger: logger}
}

// ListFeatureFlags handles GET /v1/admin/feature-flags - list all feature flags.
func (h *FeatureFlagsHandler) ListFeatureFlags(w http.ResponseWriter, r *http.Request) {
	flags := h.service.GetAllFlags(r.Context())

	list := featureflags.FlagList{Items: make([]featureflags.Flag, 0, len(flags))}
	for _, f := range flags {
		if f != nil {
			list.Items = append(list.Items, *f)
		}
	}
	slices.SortFunc(list.Items, func(a, b featureflags.Flag) int {
		return strings.Compare(a.Key, b.Key)
	})

	response.JSON(w, r, http.StatusOK, list)
}

// UpsertFeatureFlags handles PUT /v1/admin/feature-flags - update feature flags.
func (h *FeatureFlagsHandler) UpsertFeatureFlags(w http.ResponseWriter, r *http.Request) {
	var req featureflags.FlagUpdateRequest
	if !response.DecodeJSON(w, r, &req, response.DefaultMaxBody) {
		return
	}

	if len(req.Updates) == 0 {
		response.BadRequest(w, r, "at least one update is required", []models.FieldError{
			{Field: "updates", Message: "required", Code: "REQUIRED"},
		})
		return
	}

	operator := middleware.GetSubject(r.Context())
	flags := make([]*featureflags.Flag, 0, len(req.Updates))
	var fieldErrors []models.FieldError
	for i, u := range req.Updates {
		if strings.TrimSpace(u.Key) == "" {
			fieldErrors = append(fieldErrors, models.FieldError{
				Field:   fmt.Sprintf("updates[%d].key", i),
				Message: "required",
				Code:    "REQUIRED",
			})
			continue
		}
		if err := featureflags.Validate(u.Key, u.Value); err != nil {
			code := "INVALID_VALUE"
			if errors.Is(err, featureflags.ErrUnknownFlag) {
				code = "UNKNOWN_FLAG"
			}
			fieldErrors = append(fieldErrors, models.FieldError{
				Field:   fmt.Sprintf("updates[%d]", i),
				Message: err.Error(),
				Code:    code,
			})
			continue
		}
		flags = append(flags, &featureflags.Flag{Key: u.Key, Value: u.Value, UpdatedBy: operator})
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "request validation failed", fieldErrors)
		return
	}

	if err := h.service.SetFlags(r.Context(), flags); err != nil {
		if errors.Is(err, featureflags.ErrReadOnly) {
			response.ServiceUnavailable(w, r, "feature flags are read-only in this deployment")
			return
		}
		h.logger.Error().Err(err).Msg("failed to update feature flags")
		response.InternalError(w, r, "failed to update feature flags")
		return
	}

	keys := make([]string, len(flags))
	for i, f := range flags {
		keys[i] = f.Key
	}
	h.logger.Info().
		Str("operator", operator).
		Strs("flags", keys).
		Str("reason", req.Reason).
		Msg("feature flags updated")

	response.NoContent(w, r)
}

// DeleteFeatureFlag handles DELETE /v1/admin/feature-flags/{key} - drop a stored
// value so the built-in default applies again.
func (h *FeatureFlagsHandler) DeleteFeatureFlag(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	err := h.service.DeleteFlag(r.Context(), key)
	switch {
	case err == nil:
	case featureflags.IsNotFound(err):
		response.NotFound(w, r, fmt.Sprintf("feature flag %q has no stored value", key))
		return
	case errors.Is(err, featureflags.ErrReadOnly):
		response.ServiceUnavailable(w, r, "feature flags are read-only in this deployment")
		return
	default:
		h.logger.Error().Err(err).Str("flag", key).Msg("failed to delete feature flag")
		response.InternalError(w, r, "failed to delete feature flag")
		return
	}

	h.logger.Info().
		Str("operator", middleware.GetSubject(r.Context())).
		Str("flag", key).
		Msg("feature flag reset to default")

	response.NoContent(w, r)
}

// InvalidateCache handles POST /v1/admin/feature-flags/invalidate - invalidate flag cache.
func (h *FeatureFlagsHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	h.service.InvalidateCache()
	response.NoContent(w, r)
}
