// Package synthesis ranks annotated candidates and explains the choice.
package synthesis

import (
	"errors"
	"fmt"
	"time"

	"github.com/runnervision/runnervision/internal/closure"
	"github.com/runnervision/runnervision/internal/intent"
	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/internal/safety"
	"github.com/runnervision/runnervision/internal/weather"
)

// ErrNoCandidates is returned when there is nothing to rank.
var ErrNoCandidates = errors.New("no candidates to rank")

// Warnings added by ranking.
const (
	WarnAllBlocked     = "no unblocked candidates; closures ignored"
	WarnRiskUnverified = "risk ranking unverified: safety data unavailable"
)

// RiskEstimatedWarning reports how many candidates were ranked on an estimated risk.
func RiskEstimatedWarning(estimated, total int) string {
	return fmt.Sprintf("risk estimated for %d of %d candidates", estimated, total)
}

// RankedBy names the ranking key.
type RankedBy string

const (
	RankedByRisk     RankedBy = "risk"
	RankedByDistance RankedBy = "distance"
)

// Source says where the explanation text came from.
type Source string

const (
	SourceGenerated Source = "generated"
	SourceTemplate  Source = "template"
)

// Input is everything known about one request when ranking starts. Nil maps mean the
// stage did not run or failed; they are never read as "no risk" or "no closures".
type Input struct {
	Intent     intent.Intent
	Candidates []routing.Candidate
	Safety     map[int]safety.Annotation
	Weather    weather.Snapshot
	Closures   map[int]closure.Annotation

	// TargetKm is the distance used when the intent names none.
	TargetKm float64

	// Warnings collected before ranking, in order.
	Warnings []string
}

// Ranking is the deterministic order of the eligible candidates.
type Ranking struct {
	IDs      []int
	By       RankedBy
	Excluded []int
	Warnings []string
}

// Recommendation is the final answer for one query.
type Recommendation struct {
	RequestID          string                     `json:"request_id,omitempty"`
	ChosenCandidateID  int                        `json:"chosen_candidate_id"`
	RankedCandidateIDs []int                      `json:"ranked_candidate_ids"`
	Explanation        string                     `json:"explanation"`
	ExplanationSource  Source                     `json:"explanation_source"`
	Warnings           []string                   `json:"warnings"`
	RankedBy           RankedBy                   `json:"ranked_by"`
	Intent             intent.Intent              `json:"intent"`
	TargetKm           float64                    `json:"target_km"`
	Weather            weather.Snapshot           `json:"weather"`
	Candidates         []routing.Candidate        `json:"candidates"`
	Safety             map[int]safety.Annotation  `json:"safety,omitempty"`
	Closures           map[int]closure.Annotation `json:"closures,omitempty"`
	Plan               []string                   `json:"plan,omitempty"`
	CreatedAt          time.Time                  `json:"created_at"`
}

// Chosen returns the chosen candidate.
func (r *Recommendation) Chosen() (routing.Candidate, bool) {
	for _, c := range r.Candidates {
		if c.ID == r.ChosenCandidateID {
			return c, true
		}
	}
	return routing.Candidate{}, false
}

// SynthesisError reports a failed explanation call. The ranking is unaffected.
type SynthesisError struct {
	Explainer string
	Err       error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("explain (%s): %v", e.Explainer, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}
