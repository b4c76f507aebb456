package synthesis_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnervision/runnervision/internal/closure"
	"github.com/runnervision/runnervision/internal/intent"
	"github.com/runnervision/runnervision/internal/llm"
	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/internal/safety"
	"github.com/runnervision/runnervision/internal/synthesis"
	"github.com/runnervision/runnervision/internal/weather"
)

func km(v float64) *float64 { return &v }

func candidate(id int, lengthKm float64) routing.Candidate {
	return routing.Candidate{
		ID:             id,
		LengthKm:       lengthKm,
		BearingDegrees: float64(id-1) * 45,
		Direction:      routing.DirectionFor(float64(id-1) * 45),
	}
}

func fourCandidates() []routing.Candidate {
	return []routing.Candidate{
		candidate(1, 5.4),
		candidate(2, 4.9),
		candidate(3, 5.1),
		candidate(4, 4.6),
	}
}

func TestRank_ByDistance(t *testing.T) {
	in := synthesis.Input{
		Intent:     intent.New(km(5), intent.EmphasisNone),
		Candidates: fourCandidates(),
		TargetKm:   3,
	}

	r := synthesis.Rank(in)
	assert.Equal(t, synthesis.RankedByDistance, r.By)
	// 2 and 3 are both 0.1 km off; the lower id wins.
	assert.Equal(t, []int{2, 3, 1, 4}, r.IDs)
	assert.Empty(t, r.Warnings)
}

func TestRank_EqualKeysOrderByIDNotInput(t *testing.T) {
	in := synthesis.Input{
		Intent:     intent.New(km(5), intent.EmphasisNone),
		Candidates: []routing.Candidate{candidate(7, 5.5), candidate(5, 5.0), candidate(2, 4.5)},
	}

	r := synthesis.Rank(in)
	assert.Equal(t, []int{5, 2, 7}, r.IDs)
}

func TestRank_DefaultTargetWhenIntentHasNone(t *testing.T) {
	in := synthesis.Input{
		Intent:     intent.Default(),
		Candidates: fourCandidates(),
		TargetKm:   4.5,
	}

	r := synthesis.Rank(in)
	assert.Equal(t, 4, r.IDs[0])
}

func TestRank_ExcludesBlocked(t *testing.T) {
	in := synthesis.Input{
		Intent:     intent.New(km(5), intent.EmphasisNone),
		Candidates: fourCandidates(),
		Closures: map[int]closure.Annotation{
			2: {CandidateID: 2, Blocked: true, OverlapFraction: 0.4},
			3: {CandidateID: 3, Blocked: false},
		},
	}

	r := synthesis.Rank(in)
	assert.Equal(t, []int{3, 1, 4}, r.IDs)
	assert.Equal(t, []int{2}, r.Excluded)
	assert.Len(t, r.IDs, len(in.Candidates)-1)
}

func TestRank_SafetyEmphasisUsesRisk(t *testing.T) {
	in := synthesis.Input{
		Intent:     intent.New(km(5), intent.EmphasisSafety),
		Candidates: fourCandidates(),
		Safety: map[int]safety.Annotation{
			1: {CandidateID: 1, RiskScore: 0.1},
			2: {CandidateID: 2, RiskScore: 1.0},
			3: {CandidateID: 3, RiskScore: 0.1},
			4: {CandidateID: 4, RiskScore: 0.6},
		},
	}

	r := synthesis.Rank(in)
	assert.Equal(t, synthesis.RankedByRisk, r.By)
	assert.Equal(t, []int{1, 3, 4, 2}, r.IDs)
	assert.Empty(t, r.Warnings)
}

func TestRank_UnknownRiskIsMedianOfKnown(t *testing.T) {
	in := synthesis.Input{
		Intent:     intent.New(nil, intent.EmphasisSafety),
		Candidates: fourCandidates(),
		Safety: map[int]safety.Annotation{
			1: {CandidateID: 1, RiskScore: 0.2},
			2: {CandidateID: 2, RiskScore: 0.4},
			4: {CandidateID: 4, RiskScore: 0.9},
		},
	}

	r := synthesis.Rank(in)
	// Candidate 3 is estimated at 0.4 and ties with 2; the lower id goes first.
	assert.Equal(t, []int{1, 2, 3, 4}, r.IDs)
	assert.Equal(t, []string{"risk estimated for 1 of 4 candidates"}, r.Warnings)
}

func TestRank_NoSafetyDataUnderSafetyEmphasis(t *testing.T) {
	in := synthesis.Input{
		Intent:     intent.New(nil, intent.EmphasisSafety),
		Candidates: fourCandidates(),
	}

	r := synthesis.Rank(in)
	assert.Equal(t, []int{1, 2, 3, 4}, r.IDs)
	assert.Equal(t, []string{synthesis.WarnRiskUnverified}, r.Warnings)
}

func TestRank_AllBlockedFallsBackToRisk(t *testing.T) {
	candidates := fourCandidates()
	closures := make(map[int]closure.Annotation, len(candidates))
	for _, c := range candidates {
		closures[c.ID] = closure.Annotation{CandidateID: c.ID, Blocked: true}
	}
	in := synthesis.Input{
		Intent:     intent.New(km(5), intent.EmphasisNone, intent.AvoidConstruction),
		Candidates: candidates,
		Closures:   closures,
		Safety: map[int]safety.Annotation{
			1: {CandidateID: 1, RiskScore: 0.7},
			2: {CandidateID: 2, RiskScore: 0.3},
			3: {CandidateID: 3, RiskScore: 0.0},
			4: {CandidateID: 4, RiskScore: 1.0},
		},
	}

	r := synthesis.Rank(in)
	assert.Equal(t, synthesis.RankedByRisk, r.By)
	assert.Equal(t, []int{3, 2, 1, 4}, r.IDs)
	assert.Empty(t, r.Excluded)
	assert.Contains(t, r.Warnings, synthesis.WarnAllBlocked)
}

func TestRank_IsIdempotentAndOrderIndependent(t *testing.T) {
	in := synthesis.Input{
		Intent:     intent.New(km(5), intent.EmphasisSafety),
		Candidates: fourCandidates(),
		Safety: map[int]safety.Annotation{
			1: {CandidateID: 1, RiskScore: 0.5},
			3: {CandidateID: 3, RiskScore: 0.5},
		},
		Closures: map[int]closure.Annotation{4: {CandidateID: 4, Blocked: true}},
	}

	first := synthesis.Rank(in)
	second := synthesis.Rank(in)
	assert.Equal(t, first, second)

	reversed := in
	reversed.Candidates = []routing.Candidate{in.Candidates[3], in.Candidates[2], in.Candidates[1], in.Candidates[0]}
	assert.Equal(t, first.IDs, synthesis.Rank(reversed).IDs)
}

func TestRank_Empty(t *testing.T) {
	r := synthesis.Rank(synthesis.Input{})
	assert.Empty(t, r.IDs)
}

func newSynth(explainer synthesis.Explainer) *synthesis.Synthesizer {
	return synthesis.New(synthesis.Config{Explainer: explainer, Logger: zerolog.Nop()})
}

func TestSynthesize_Generated(t *testing.T) {
	gen := llm.NewStatic("Run route 2 north-east; it is closest to 5 km.")
	s := newSynth(synthesis.NewLLMExplainer(gen))

	rec, err := s.Synthesize(context.Background(), synthesis.Input{
		Intent:     intent.New(km(5), intent.EmphasisNone),
		Candidates: fourCandidates(),
		Weather:    weather.UnknownSnapshot(),
		Warnings:   []string{"weather unavailable"},
	})
	require.NoError(t, err)

	assert.Equal(t, 2, rec.ChosenCandidateID)
	assert.Equal(t, rec.ChosenCandidateID, rec.RankedCandidateIDs[0])
	assert.Equal(t, synthesis.SourceGenerated, rec.ExplanationSource)
	assert.Equal(t, "Run route 2 north-east; it is closest to 5 km.", rec.Explanation)
	assert.Equal(t, []string{"weather unavailable"}, rec.Warnings)
	assert.Equal(t, 5.0, rec.TargetKm)

	chosen, ok := rec.Chosen()
	require.True(t, ok)
	assert.Equal(t, 4.9, chosen.LengthKm)

	calls := gen.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].System, "running safety expert")
	assert.Equal(t, 0.3, calls[0].Temperature)
	assert.Contains(t, calls[0].Prompt, `"ranked_by": "distance"`)
	assert.Contains(t, calls[0].Prompt, "weather unavailable")
	assert.Less(t, strings.Index(calls[0].Prompt, `"id": 2`), strings.Index(calls[0].Prompt, `"id": 3`))
}

func TestSynthesize_ExplainerFailureKeepsRanking(t *testing.T) {
	gen := llm.NewStatic("").Fail(errors.New("quota exceeded"))
	s := newSynth(synthesis.NewLLMExplainer(gen))
	in := synthesis.Input{
		Intent:     intent.New(km(5), intent.EmphasisNone),
		Candidates: fourCandidates(),
		Weather:    weather.UnknownSnapshot(),
	}

	rec, err := s.Synthesize(context.Background(), in)
	require.Error(t, err)

	var synthErr *synthesis.SynthesisError
	require.ErrorAs(t, err, &synthErr)
	assert.Equal(t, "llm:static", synthErr.Explainer)
	assert.Equal(t, []int{2, 3, 1, 4}, rec.RankedCandidateIDs)
	assert.Empty(t, rec.Explanation)

	templated, err := s.Templated(in)
	require.NoError(t, err)
	assert.Equal(t, rec.RankedCandidateIDs, templated.RankedCandidateIDs)
	assert.Equal(t, synthesis.SourceTemplate, templated.ExplanationSource)
	assert.NotEmpty(t, templated.Explanation)
}

func TestSynthesize_EmptyAnswerIsFailure(t *testing.T) {
	gen := llm.Func(func(context.Context, llm.Request) (string, error) { return "   ", nil })
	s := newSynth(synthesis.NewLLMExplainer(gen))

	_, err := s.Synthesize(context.Background(), synthesis.Input{Candidates: fourCandidates(), TargetKm: 5})
	assert.ErrorIs(t, err, llm.ErrEmptyResponse)
}

func TestSynthesize_NoCandidates(t *testing.T) {
	s := newSynth(nil)
	_, err := s.Synthesize(context.Background(), synthesis.Input{})
	assert.ErrorIs(t, err, synthesis.ErrNoCandidates)

	_, err = s.Templated(synthesis.Input{})
	assert.ErrorIs(t, err, synthesis.ErrNoCandidates)
}

func TestSynthesize_TemplateExplainerIsTemplateSource(t *testing.T) {
	s := newSynth(nil)
	assert.Equal(t, "template", s.ExplainerName())

	rec, err := s.Synthesize(context.Background(), synthesis.Input{Candidates: fourCandidates(), TargetKm: 5})
	require.NoError(t, err)
	assert.Equal(t, synthesis.SourceTemplate, rec.ExplanationSource)
}

func TestTemplate(t *testing.T) {
	temp := 31.0
	ranked := []routing.Candidate{candidate(3, 5.1), candidate(1, 5.4)}

	text := synthesis.Template(synthesis.ExplainInput{
		Ranked:   ranked,
		RankedBy: synthesis.RankedByRisk,
		TargetKm: 5,
		Safety:   map[int]safety.Annotation{3: {CandidateID: 3, CrashCount: 2}},
		Closures: map[int]closure.Annotation{3: {CandidateID: 3}},
		Weather: weather.Snapshot{
			Condition:    weather.ConditionClear,
			TemperatureC: &temp,
			Description:  "clear sky",
			RiskLevel:    weather.RiskModerate,
			Advisory:     true,
		},
		Warnings: []string{"closure data unavailable"},
	})

	assert.Contains(t, text, "Route 3 heads E for 5.1 km")
	assert.Contains(t, text, "lowest crash risk of the 2 options (2 recent crashes nearby)")
	assert.Contains(t, text, "No active closures block it.")
	assert.Contains(t, text, "Weather advisory: clear sky.")
	assert.Contains(t, text, "Alternatives in order: 1.")
	assert.Contains(t, text, "Note: closure data unavailable.")

	assert.Equal(t, "No route could be recommended.", synthesis.Template(synthesis.ExplainInput{}))
}
