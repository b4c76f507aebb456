package models

// MinQueryLength is the shortest query the API accepts, in characters.
const MinQueryLength = 3

// RecommendationRequest is the body of POST /v1/recommendations.
type RecommendationRequest struct {
	Query string `json:"query"`
	Start *Point `json:"start,omitempty"`
}

// PlanResponse describes which annotation stages a complexity runs.
type PlanResponse struct {
	Complexity string   `json:"complexity"`
	Stages     []string `json:"stages"`
}

// PlanListResponse is returned when no complexity is requested.
type PlanListResponse struct {
	Plans []PlanResponse `json:"plans"`
}
