package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/runnervision/runnervision/internal/api/models"
	"github.com/runnervision/runnervision/internal/api/response"
	"github.com/runnervision/runnervision/internal/intent"
	"github.com/runnervision/runnervision/internal/orchestrator"
)

// Planner reports the annotation stages an intent would run.
type Planner interface {
	PlanFor(ctx context.Context, i intent.Intent) orchestrator.StageSet
}

var complexities = []intent.Complexity{
	intent.ComplexitySimple,
	intent.ComplexitySafetyFocused,
	intent.ComplexityConstrained,
}

// PlanHandler handles GET /v1/plan.
type PlanHandler struct {
	planner Planner
}

// NewPlanHandler creates a new PlanHandler.
func NewPlanHandler(planner Planner) *PlanHandler {
	return &PlanHandler{planner: planner}
}

// GetPlan handles GET /v1/plan?complexity=SIMPLE. Without a complexity it lists
// the plan for every class.
func (h *PlanHandler) GetPlan(w http.ResponseWriter, r *http.Request) {
	raw := strings.TrimSpace(r.URL.Query().Get("complexity"))
	if raw == "" {
		out := models.PlanListResponse{Plans: make([]models.PlanResponse, 0, len(complexities))}
		for _, c := range complexities {
			out.Plans = append(out.Plans, h.plan(r.Context(), c))
		}
		response.JSON(w, r, http.StatusOK, out)
		return
	}

	c, err := intent.ParseComplexity(strings.ToUpper(raw))
	if err != nil {
		response.BadRequest(w, r, err.Error(), []models.FieldError{
			{Field: "complexity", Message: "must be SIMPLE, SAFETY_FOCUSED or CONSTRAINED", Code: "INVALID_ENUM"},
		})
		return
	}

	response.JSON(w, r, http.StatusOK, h.plan(r.Context(), c))
}

func (h *PlanHandler) plan(ctx context.Context, c intent.Complexity) models.PlanResponse {
	return models.PlanResponse{
		Complexity: string(c),
		Stages:     h.planner.PlanFor(ctx, intent.Intent{Complexity: c}).Strings(),
	}
}
