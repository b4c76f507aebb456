package synthesis

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/runnervision/runnervision/internal/routing"
)

// Config holds configuration for the synthesizer.
type Config struct {
	// Explainer writes the explanation. Nil uses TemplateExplainer.
	Explainer Explainer

	Logger zerolog.Logger
}

// Synthesizer turns annotated candidates into a Recommendation.
type Synthesizer struct {
	explainer Explainer
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates a synthesizer.
func New(cfg Config) *Synthesizer {
	explainer := cfg.Explainer
	if explainer == nil {
		explainer = TemplateExplainer{}
	}
	return &Synthesizer{explainer: explainer, logger: cfg.Logger, now: time.Now}
}

// ExplainerName returns the name of the configured explainer.
func (s *Synthesizer) ExplainerName() string {
	return s.explainer.Name()
}

// Synthesize ranks the candidates and asks the explainer for text. When the explainer fails
// the ranked Recommendation is still returned, without explanation, together with a
// *SynthesisError; callers fall back to Templated.
func (s *Synthesizer) Synthesize(ctx context.Context, in Input) (Recommendation, error) {
	rec, explainIn, err := s.rank(in)
	if err != nil {
		return Recommendation{}, err
	}

	text, err := s.explainer.Explain(ctx, explainIn)
	if err != nil {
		s.logger.Warn().Err(err).Str("explainer", s.explainer.Name()).Msg("explanation failed")
		var synthErr *SynthesisError
		if !errors.As(err, &synthErr) {
			err = &SynthesisError{Explainer: s.explainer.Name(), Err: err}
		}
		return rec, err
	}

	rec.Explanation = text
	rec.ExplanationSource = SourceGenerated
	if _, ok := s.explainer.(TemplateExplainer); ok {
		rec.ExplanationSource = SourceTemplate
	}
	return rec, nil
}

// Templated ranks the candidates and explains them with the template. It makes no external
// call and only fails when there is nothing to rank.
func (s *Synthesizer) Templated(in Input) (Recommendation, error) {
	rec, explainIn, err := s.rank(in)
	if err != nil {
		return Recommendation{}, err
	}
	rec.Explanation = Template(explainIn)
	rec.ExplanationSource = SourceTemplate
	return rec, nil
}

func (s *Synthesizer) rank(in Input) (Recommendation, ExplainInput, error) {
	if len(in.Candidates) == 0 {
		return Recommendation{}, ExplainInput{}, ErrNoCandidates
	}

	ranking := Rank(in)
	byID := make(map[int]routing.Candidate, len(in.Candidates))
	for _, c := range in.Candidates {
		byID[c.ID] = c
	}
	ranked := make([]routing.Candidate, 0, len(ranking.IDs))
	for _, id := range ranking.IDs {
		ranked = append(ranked, byID[id])
	}

	warnings := make([]string, 0, len(in.Warnings)+len(ranking.Warnings))
	warnings = append(warnings, in.Warnings...)
	warnings = append(warnings, ranking.Warnings...)

	target := in.Intent.Target(in.TargetKm)
	rec := Recommendation{
		ChosenCandidateID:  ranking.IDs[0],
		RankedCandidateIDs: ranking.IDs,
		Warnings:           warnings,
		RankedBy:           ranking.By,
		Intent:             in.Intent,
		TargetKm:           target,
		Weather:            in.Weather,
		Candidates:         in.Candidates,
		Safety:             in.Safety,
		Closures:           in.Closures,
		CreatedAt:          s.now(),
	}

	explainIn := ExplainInput{
		Intent:   in.Intent,
		Ranked:   ranked,
		RankedBy: ranking.By,
		TargetKm: target,
		Safety:   in.Safety,
		Closures: in.Closures,
		Weather:  in.Weather,
		Warnings: warnings,
	}

	s.logger.Debug().
		Ints("ranked", ranking.IDs).
		Ints("excluded", ranking.Excluded).
		Str("ranked_by", string(ranking.By)).
		Msg("ranked candidates")

	return rec, explainIn, nil
}
