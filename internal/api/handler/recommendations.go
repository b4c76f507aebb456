package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/runnervision/runnervision/internal/api/middleware"
	"github.com/runnervision/runnervision/internal/api/models"
	"github.com/runnervision/runnervision/internal/api/response"
	"github.com/runnervision/runnervision/internal/orchestrator"
	"github.com/runnervision/runnervision/internal/synthesis"
	"github.com/runnervision/runnervision/pkg/polyline"
)

// maxRequestBody caps the recommendation request body.
const maxRequestBody = 16 << 10

// Recommender answers a free-text running query.
type Recommender interface {
	HandleQuery(ctx context.Context, text string, start *polyline.Coordinate) (*synthesis.Recommendation, error)
}

// RecommendationHandler handles POST /v1/recommendations.
type RecommendationHandler struct {
	recommender Recommender
	logger      zerolog.Logger
}

// NewRecommendationHandler creates a new RecommendationHandler.
func NewRecommendationHandler(recommender Recommender, logger zerolog.Logger) *RecommendationHandler {
	return &RecommendationHandler{recommender: recommender, logger: logger}
}

// Recommend handles POST /v1/recommendations.
func (h *RecommendationHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	var input models.RecommendationRequest
	if !response.DecodeJSON(w, r, &input, maxRequestBody) {
		return
	}

	if fieldErrors := validateRecommendation(&input); len(fieldErrors) > 0 {
		response.BadRequest(w, r, "request validation failed", fieldErrors)
		return
	}

	var start *polyline.Coordinate
	if input.Start != nil {
		c := input.Start.Coordinate()
		start = &c
	}

	rec, err := h.recommender.HandleQuery(r.Context(), input.Query, start)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	response.JSON(w, r, http.StatusOK, rec)
}

func validateRecommendation(input *models.RecommendationRequest) []models.FieldError {
	var errs []models.FieldError

	input.Query = strings.TrimSpace(input.Query)
	if utf8.RuneCountInString(input.Query) < models.MinQueryLength {
		errs = append(errs, models.FieldError{
			Field:   "query",
			Message: "must be at least 3 characters",
			Code:    "TOO_SHORT",
		})
	}

	if input.Start != nil {
		if input.Start.Lat < -90 || input.Start.Lat > 90 {
			errs = append(errs, models.FieldError{Field: "start.lat", Message: "must be between -90 and 90", Code: "OUT_OF_RANGE"})
		}
		if input.Start.Lon < -180 || input.Start.Lon > 180 {
			errs = append(errs, models.FieldError{Field: "start.lon", Message: "must be between -180 and 180", Code: "OUT_OF_RANGE"})
		}
	}

	return errs
}

func (h *RecommendationHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := h.logger.With().
		Str("request_id", middleware.GetRequestID(r.Context())).
		Err(err).
		Logger()

	var oerr *orchestrator.Error
	if !errors.As(err, &oerr) {
		log.Error().Msg("recommendation failed")
		response.InternalError(w, r, "failed to build recommendation")
		return
	}

	switch oerr.Kind {
	case orchestrator.KindNoRoute:
		log.Info().Msg("no route for query")
		response.NoRoute(w, r, "no candidate route could be generated for this start point")
	case orchestrator.KindCancelled:
		log.Warn().Msg("recommendation cancelled")
		response.ServiceUnavailable(w, r, "request cancelled before a recommendation was ready")
	case orchestrator.KindInvalidQuery:
		detail := "invalid query"
		if oerr.Err != nil {
			detail = oerr.Err.Error()
		}
		response.BadRequest(w, r, detail, nil)
	default:
		log.Error().Str("state", string(oerr.State)).Msg("recommendation failed")
		response.InternalError(w, r, "failed to build recommendation")
	}
}
