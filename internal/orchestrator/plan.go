package orchestrator

import (
	"fmt"
	"slices"
	"strings"

	"github.com/runnervision/runnervision/internal/intent"
)

// Stage names an annotation stage.
type Stage string

const (
	StageSafety   Stage = "safety"
	StageWeather  Stage = "weather"
	StageClosures Stage = "closures"
)

// AllStages lists the annotation stages in merge order.
var AllStages = StageSet{StageSafety, StageWeather, StageClosures}

// ParseStage parses a stage name.
func ParseStage(s string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(AllStages, stage) {
		return "", fmt.Errorf("unknown stage %q", s)
	}
	return stage, nil
}

// StageSet is an ordered set of stages. Members always appear in AllStages order.
type StageSet []Stage

// NewStageSet returns the set of stages, deduplicated and in merge order.
func NewStageSet(stages ...Stage) StageSet {
	out := make(StageSet, 0, len(AllStages))
	for _, s := range AllStages {
		if slices.Contains(stages, s) {
			out = append(out, s)
		}
	}
	return out
}

// Has reports whether s is planned.
func (ss StageSet) Has(s Stage) bool {
	return slices.Contains(ss, s)
}

// Strings returns the stage names.
func (ss StageSet) Strings() []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// PlanPolicy maps a complexity to the stages run for it.
type PlanPolicy map[intent.Complexity]StageSet

// DefaultPlanPolicy runs only weather for simple queries and everything otherwise.
func DefaultPlanPolicy() PlanPolicy {
	return PlanPolicy{
		intent.ComplexitySimple:        NewStageSet(StageWeather),
		intent.ComplexitySafetyFocused: AllStages,
		intent.ComplexityConstrained:   AllStages,
	}
}

// ParsePlanPolicy builds a policy from complexity names to stage names. Complexities not
// named keep their default.
func ParsePlanPolicy(raw map[string][]string) (PlanPolicy, error) {
	policy := DefaultPlanPolicy()
	for name, stageNames := range raw {
		complexity, err := intent.ParseComplexity(strings.ToUpper(name))
		if err != nil {
			return nil, err
		}
		stages := make([]Stage, 0, len(stageNames))
		for _, sn := range stageNames {
			stage, err := ParseStage(sn)
			if err != nil {
				return nil, fmt.Errorf("plan for %s: %w", complexity, err)
			}
			stages = append(stages, stage)
		}
		policy[complexity] = NewStageSet(stages...)
	}
	return policy, nil
}

// Plan returns the stages to run for i. Complexities missing from the policy run every
// stage.
func (p PlanPolicy) Plan(i intent.Intent) StageSet {
	if set, ok := p[i.Complexity]; ok {
		return NewStageSet(set...)
	}
	return NewStageSet(AllStages...)
}

// Plan applies the default policy.
func Plan(i intent.Intent) StageSet {
	return DefaultPlanPolicy().Plan(i)
}
