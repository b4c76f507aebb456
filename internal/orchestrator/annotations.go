package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/runnervision/runnervision/internal/closure"
	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/internal/safety"
	"github.com/runnervision/runnervision/internal/weather"
)

// Warnings recorded by the orchestrator.
const (
	WarnSafetyUnavailable   = "safety data unavailable"
	WarnWeatherUnavailable  = "weather unavailable"
	WarnClosuresUnavailable = "closure data unavailable"
	WarnClassification      = "intent classification unavailable; using defaults"
	WarnTemplateExplanation = "explanation generated from template"
)

var unavailable = map[Stage]string{
	StageSafety:   WarnSafetyUnavailable,
	StageWeather:  WarnWeatherUnavailable,
	StageClosures: WarnClosuresUnavailable,
}

// SkippedByTimeout is the warning for a stage cut off by the annotation deadline.
func SkippedByTimeout(s Stage) string {
	return string(s) + " skipped-by-timeout"
}

// Outcome is how a stage ended.
type Outcome string

const (
	OutcomeOK         Outcome = "ok"
	OutcomeFailed     Outcome = "failed"
	OutcomeTimeout    Outcome = "timeout"
	OutcomeCutOff     Outcome = "skipped-by-timeout"
	OutcomeNotPlanned Outcome = "not-planned"
)

// StageOutcome records one stage of a run.
type StageOutcome struct {
	Stage    Stage         `json:"stage"`
	Outcome  Outcome       `json:"outcome"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// Annotations is the merged, read-only result of the annotation phase. Nil maps mean the
// stage did not produce data.
type Annotations struct {
	Safety   map[int]safety.Annotation
	Weather  weather.Snapshot
	Closures map[int]closure.Annotation
	Warnings []string
	Outcomes []StageOutcome
}

// stageOutput is the result slot a stage fills. Each stage writes only its own field.
type stageOutput struct {
	safety   map[int]safety.Annotation
	weather  weather.Snapshot
	closures map[int]closure.Annotation
}

// reduce merges per-stage results in AllStages order. Annotations for ids outside
// candidates are dropped.
func reduce(plan StageSet, candidates []routing.Candidate, results map[string]Result[stageOutput], pending []string) Annotations {
	known := make(map[int]bool, len(candidates))
	for _, c := range candidates {
		known[c.ID] = true
	}
	cutOff := make(map[string]bool, len(pending))
	for _, name := range pending {
		cutOff[name] = true
	}

	ann := Annotations{Weather: weather.UnknownSnapshot()}
	for _, stage := range AllStages {
		if !plan.Has(stage) {
			ann.Outcomes = append(ann.Outcomes, StageOutcome{Stage: stage, Outcome: OutcomeNotPlanned})
			continue
		}
		if cutOff[string(stage)] {
			ann.Warnings = append(ann.Warnings, SkippedByTimeout(stage))
			ann.Outcomes = append(ann.Outcomes, StageOutcome{Stage: stage, Outcome: OutcomeCutOff})
			continue
		}

		res := results[string(stage)]
		outcome := StageOutcome{Stage: stage, Outcome: OutcomeOK, Duration: res.Duration()}
		if res.Err != nil {
			outcome.Outcome = OutcomeFailed
			if errors.Is(res.Err, context.DeadlineExceeded) {
				outcome.Outcome = OutcomeTimeout
			}
			outcome.Error = res.Err.Error()
			ann.Warnings = append(ann.Warnings, unavailable[stage])
			ann.Outcomes = append(ann.Outcomes, outcome)
			continue
		}
		ann.Outcomes = append(ann.Outcomes, outcome)

		switch stage {
		case StageSafety:
			ann.Safety = make(map[int]safety.Annotation, len(res.Value.safety))
			for id, a := range res.Value.safety {
				if known[id] {
					ann.Safety[id] = a
				}
			}
		case StageWeather:
			ann.Weather = res.Value.weather
			if w := ann.Weather.Warning(); ann.Weather.Advisory && w != "" {
				ann.Warnings = append(ann.Warnings, w)
			}
		case StageClosures:
			ann.Closures = make(map[int]closure.Annotation, len(res.Value.closures))
			for id, a := range res.Value.closures {
				if known[id] {
					ann.Closures[id] = a
				}
			}
		}
	}
	return ann
}
