// Package orchestrator runs one query through classification, candidate generation, the
// planned annotation stages and synthesis.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/runnervision/runnervision/internal/closure"
	"github.com/runnervision/runnervision/internal/featureflags"
	"github.com/runnervision/runnervision/internal/intent"
	"github.com/runnervision/runnervision/internal/routing"
	"github.com/runnervision/runnervision/internal/safety"
	"github.com/runnervision/runnervision/internal/synthesis"
	"github.com/runnervision/runnervision/internal/telemetry"
	"github.com/runnervision/runnervision/internal/weather"
	"github.com/runnervision/runnervision/pkg/polyline"
)

const instrumentationName = "github.com/runnervision/runnervision/internal/orchestrator"

// DefaultStart is used when a query has no start location.
var DefaultStart = polyline.Coordinate{Lat: 40.7580, Lon: -73.9855}

// CandidateGenerator produces the candidate set for a request.
type CandidateGenerator interface {
	Generate(ctx context.Context, start polyline.Coordinate, targetKm float64) ([]routing.Candidate, error)
}

// SafetyScorer annotates candidates with crash risk.
type SafetyScorer interface {
	Score(ctx context.Context, candidates []routing.Candidate) (map[int]safety.Annotation, error)
}

// WeatherChecker grades current conditions at a location.
type WeatherChecker interface {
	Check(ctx context.Context, location polyline.Coordinate, at time.Time) (weather.Snapshot, error)
}

// ClosureAnnotator marks candidates blocked by active closures.
type ClosureAnnotator interface {
	Annotate(ctx context.Context, candidates []routing.Candidate) (map[int]closure.Annotation, error)
}

// Synthesizer ranks and explains.
type Synthesizer interface {
	Synthesize(ctx context.Context, in synthesis.Input) (synthesis.Recommendation, error)
	Templated(in synthesis.Input) (synthesis.Recommendation, error)
}

// Timeouts bounds each phase of a request. Zero values take the defaults.
type Timeouts struct {
	Classification time.Duration // default 3s
	Stage          time.Duration // default 4s, for stages without their own value
	Safety         time.Duration // default 5s
	Weather        time.Duration
	Closures       time.Duration
	Annotation     time.Duration // budget for the whole annotation phase, default 8s
	Explanation    time.Duration // default 6s
	Request        time.Duration // overall deadline, default 12s
}

// DefaultTimeouts returns the default timeouts.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Classification: 3 * time.Second,
		Stage:          4 * time.Second,
		Safety:         5 * time.Second,
		Annotation:     8 * time.Second,
		Explanation:    6 * time.Second,
		Request:        12 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Classification <= 0 {
		t.Classification = d.Classification
	}
	if t.Stage <= 0 {
		t.Stage = d.Stage
	}
	if t.Safety <= 0 {
		t.Safety = d.Safety
	}
	if t.Weather <= 0 {
		t.Weather = t.Stage
	}
	if t.Closures <= 0 {
		t.Closures = t.Stage
	}
	if t.Annotation <= 0 {
		t.Annotation = d.Annotation
	}
	if t.Explanation <= 0 {
		t.Explanation = d.Explanation
	}
	if t.Request <= 0 {
		t.Request = d.Request
	}
	return t
}

func (t Timeouts) stage(s Stage) time.Duration {
	switch s {
	case StageSafety:
		return t.Safety
	case StageWeather:
		return t.Weather
	case StageClosures:
		return t.Closures
	}
	return t.Stage
}

// Config holds the capabilities and policy of an orchestrator.
type Config struct {
	// Classifier is the primary intent classifier (required).
	Classifier intent.Classifier

	// KeywordClassifier replaces Classifier while the intent_llm_disabled flag is on
	// (default: intent.KeywordClassifier).
	KeywordClassifier intent.Classifier

	Generator   CandidateGenerator // required
	Safety      SafetyScorer
	Weather     WeatherChecker
	Closures    ClosureAnnotator
	Synthesizer Synthesizer // required

	// Policy decides which stages run (default: DefaultPlanPolicy).
	Policy PlanPolicy

	// Flags are consulted once per request (optional).
	Flags *featureflags.Service

	Timeouts Timeouts

	// DefaultTargetKm is used when the intent names no distance (default: 5.0).
	DefaultTargetKm float64

	// DefaultStart is used when the query has no start (default: midtown Manhattan).
	DefaultStart *polyline.Coordinate

	Logger zerolog.Logger
	Tracer trace.Tracer
	Meter  metric.Meter

	// Now returns the current time (default: time.Now).
	Now func() time.Time
}

// Orchestrator executes runs. It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	classifier        intent.Classifier
	keywordClassifier intent.Classifier
	generator         CandidateGenerator
	safety            SafetyScorer
	weather           WeatherChecker
	closures          ClosureAnnotator
	synthesizer       Synthesizer
	policy            PlanPolicy
	flags             *featureflags.Service
	timeouts          Timeouts
	defaultTargetKm   float64
	defaultStart      polyline.Coordinate
	logger            zerolog.Logger
	tracer            trace.Tracer
	now               func() time.Time

	stageDuration metric.Float64Histogram
	stageOutcome  metric.Int64Counter
	requestTotal  metric.Int64Counter
}

// New creates an orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Classifier == nil {
		return nil, errors.New("orchestrator: classifier is required")
	}
	if cfg.Generator == nil {
		return nil, errors.New("orchestrator: generator is required")
	}
	if cfg.Synthesizer == nil {
		return nil, errors.New("orchestrator: synthesizer is required")
	}

	keyword := cfg.KeywordClassifier
	if keyword == nil {
		keyword = intent.NewKeywordClassifier()
	}

	policy := cfg.Policy
	if policy == nil {
		policy = DefaultPlanPolicy()
	}

	target := cfg.DefaultTargetKm
	if target <= 0 {
		target = 5.0
	}

	start := DefaultStart
	if cfg.DefaultStart != nil {
		start = *cfg.DefaultStart
	}

	tracer := cfg.Tracer
	if tracer == nil {
		tracer = telemetry.Tracer(instrumentationName)
	}
	meter := cfg.Meter
	if meter == nil {
		meter = telemetry.Meter(instrumentationName)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	o := &Orchestrator{
		classifier:        cfg.Classifier,
		keywordClassifier: keyword,
		generator:         cfg.Generator,
		safety:            cfg.Safety,
		weather:           cfg.Weather,
		closures:          cfg.Closures,
		synthesizer:       cfg.Synthesizer,
		policy:            policy,
		flags:             cfg.Flags,
		timeouts:          cfg.Timeouts.withDefaults(),
		defaultTargetKm:   target,
		defaultStart:      start,
		logger:            cfg.Logger,
		tracer:            tracer,
		now:               now,
	}

	var err error
	o.stageDuration, err = meter.Float64Histogram(
		"runnervision.stage.duration",
		metric.WithDescription("Duration of annotation stages in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	o.stageOutcome, err = meter.Int64Counter(
		"runnervision.stage.outcome",
		metric.WithDescription("Annotation stage outcomes"),
		metric.WithUnit("{stage}"),
	)
	if err != nil {
		return nil, err
	}
	o.requestTotal, err = meter.Int64Counter(
		"runnervision.request.total",
		metric.WithDescription("Recommendation requests by terminal state"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	return o, nil
}

// Policy returns the plan policy in use.
func (o *Orchestrator) Policy() PlanPolicy {
	return o.policy
}

// PlanFor returns the stages a request with intent i would run, honoring feature flags.
func (o *Orchestrator) PlanFor(ctx context.Context, i intent.Intent) StageSet {
	if o.flags.PlanForceFull(ctx) {
		return NewStageSet(AllStages...)
	}
	plan := o.policy.Plan(i)
	available := make([]Stage, 0, len(plan))
	for _, s := range plan {
		if o.hasStage(s) {
			available = append(available, s)
		}
	}
	return NewStageSet(available...)
}

func (o *Orchestrator) hasStage(s Stage) bool {
	switch s {
	case StageSafety:
		return o.safety != nil
	case StageWeather:
		return o.weather != nil
	case StageClosures:
		return o.closures != nil
	}
	return false
}

// HandleQuery answers one query. It returns either a complete recommendation or an *Error;
// never both.
func (o *Orchestrator) HandleQuery(ctx context.Context, text string, start *polyline.Coordinate) (*synthesis.Recommendation, error) {
	run, err := o.Run(ctx, intent.Query{Text: text, ReceivedAt: o.now(), Start: start})
	if err != nil {
		return nil, err
	}
	return run.Recommendation, nil
}

// Run is the record of one request.
type Run struct {
	ID          string
	Query       intent.Query
	Intent      intent.Intent
	Start       polyline.Coordinate
	TargetKm    float64
	Plan        StageSet
	Candidates  []routing.Candidate
	Annotations Annotations
	Warnings    []string

	Recommendation *synthesis.Recommendation
	Err            error

	machine StateMachine
}

// State returns the current state.
func (r *Run) State() State {
	return r.machine.Current()
}

// History returns the recorded transitions.
func (r *Run) History() []Transition {
	return r.machine.History()
}

// Run executes q and returns the run record. On failure the run is in FAILED, holds no
// candidates or recommendation and the returned error is an *Error.
func (o *Orchestrator) Run(parent context.Context, q intent.Query) (*Run, error) {
	if q.ReceivedAt.IsZero() {
		q.ReceivedAt = o.now()
	}
	run := &Run{ID: uuid.NewString(), Query: q, machine: newStateMachine()}
	log := o.logger.With().Str("request_id", run.ID).Logger()

	ctx, span := o.tracer.Start(parent, "orchestrator.Run",
		trace.WithAttributes(attribute.String("request.id", run.ID)))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, o.timeouts.Request)
	defer cancel()

	fail := func(kind Kind, err error) (*Run, error) {
		state := run.State()
		run.Candidates = nil
		run.Annotations = Annotations{}
		run.Recommendation = nil
		run.Err = &Error{Kind: kind, State: state, RequestID: run.ID, Err: err}
		_ = run.machine.advance(StateFailed, o.now())

		span.RecordError(run.Err)
		span.SetStatus(codes.Error, string(kind))
		o.requestTotal.Add(ctx, 1, metric.WithAttributes(
			attribute.String("state", string(StateFailed)),
			attribute.String("kind", string(kind)),
		))
		log.Warn().Err(err).Str("kind", string(kind)).Str("state", string(state)).Msg("recommendation failed")
		return run, run.Err
	}
	cancelled := func() bool { return parent.Err() != nil }

	run.Start = o.defaultStart
	if q.Start != nil {
		if !q.Start.Valid() {
			return fail(KindInvalidQuery, ErrInvalidStart)
		}
		run.Start = *q.Start
	}

	// RECEIVED -> CLASSIFIED
	run.Intent = o.classify(ctx, q, run, log)
	if cancelled() {
		return fail(KindCancelled, parent.Err())
	}
	o.mustAdvance(run, StateClassified)
	run.TargetKm = run.Intent.Target(o.defaultTargetKm)
	span.SetAttributes(
		attribute.String("intent.complexity", string(run.Intent.Complexity)),
		attribute.Float64("intent.target_km", run.TargetKm),
	)

	// CLASSIFIED -> CANDIDATES_READY
	genCtx, genSpan := o.tracer.Start(ctx, "orchestrator.generate")
	candidates, err := o.generator.Generate(genCtx, run.Start, run.TargetKm)
	genSpan.End()
	if cancelled() {
		return fail(KindCancelled, parent.Err())
	}
	if err != nil {
		return fail(KindNoRoute, err)
	}
	if len(candidates) == 0 {
		return fail(KindNoRoute, &routing.NoRouteError{Start: run.Start, TargetKm: run.TargetKm})
	}
	run.Candidates = candidates
	o.mustAdvance(run, StateCandidatesReady)

	// CANDIDATES_READY -> ANNOTATING -> MERGED
	run.Plan = o.PlanFor(ctx, run.Intent)
	o.mustAdvance(run, StateAnnotating)
	run.Annotations = o.annotate(ctx, run, log)
	if cancelled() {
		return fail(KindCancelled, parent.Err())
	}
	run.Warnings = append(run.Warnings, run.Annotations.Warnings...)
	o.mustAdvance(run, StateMerged)

	// MERGED -> DONE
	rec, err := o.synthesize(ctx, run, log)
	if cancelled() {
		return fail(KindCancelled, parent.Err())
	}
	if err != nil {
		if errors.Is(err, synthesis.ErrNoCandidates) {
			return fail(KindNoRoute, err)
		}
		return fail(KindInternal, err)
	}
	rec.RequestID = run.ID
	rec.Plan = run.Plan.Strings()
	run.Recommendation = &rec
	o.mustAdvance(run, StateDone)

	o.requestTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", string(StateDone)),
		attribute.String("complexity", string(run.Intent.Complexity)),
	))
	log.Info().
		Str("complexity", string(run.Intent.Complexity)).
		Strs("plan", rec.Plan).
		Int("candidates", len(run.Candidates)).
		Int("chosen", rec.ChosenCandidateID).
		Str("ranked_by", string(rec.RankedBy)).
		Str("explanation_source", string(rec.ExplanationSource)).
		Strs("warnings", rec.Warnings).
		Dur("duration", o.now().Sub(q.ReceivedAt)).
		Msg("recommendation completed")
	return run, nil
}

func (o *Orchestrator) mustAdvance(run *Run, to State) {
	if err := run.machine.advance(to, o.now()); err != nil {
		// Unreachable unless Run itself is wrong.
		panic(err)
	}
}

func (o *Orchestrator) classify(ctx context.Context, q intent.Query, run *Run, log zerolog.Logger) intent.Intent {
	classifier := o.classifier
	if o.flags.IntentLLMDisabled(ctx) {
		classifier = o.keywordClassifier
	}

	cctx, cancel := context.WithTimeout(ctx, o.timeouts.Classification)
	defer cancel()
	cctx, span := o.tracer.Start(cctx, "orchestrator.classify",
		trace.WithAttributes(attribute.String("classifier", classifier.Name())))
	defer span.End()

	in, err := classifier.Classify(cctx, q)
	if err != nil {
		span.RecordError(err)
		log.Warn().Err(err).Str("classifier", classifier.Name()).Msg("classification failed, using default intent")
		run.Warnings = append(run.Warnings, WarnClassification)
		return intent.Default()
	}
	return in
}

func (o *Orchestrator) annotate(ctx context.Context, run *Run, log zerolog.Logger) Annotations {
	candidates := run.Candidates
	tasks := make([]Task[stageOutput], 0, len(run.Plan))
	for _, stage := range run.Plan {
		tasks = append(tasks, Task[stageOutput]{
			Name:    string(stage),
			Timeout: o.timeouts.stage(stage),
			Run:     o.stageFunc(stage, run, candidates),
		})
	}

	// Context deadlines run on the wall clock, never on the injected one.
	deadline := time.Now().Add(o.timeouts.Annotation)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	results, pending := FanOut(ctx, deadline, tasks)
	ann := reduce(run.Plan, candidates, results, pending)

	for _, oc := range ann.Outcomes {
		if oc.Outcome == OutcomeNotPlanned {
			continue
		}
		attrs := metric.WithAttributes(
			attribute.String("stage", string(oc.Stage)),
			attribute.String("outcome", string(oc.Outcome)),
		)
		o.stageOutcome.Add(ctx, 1, attrs)
		o.stageDuration.Record(ctx, oc.Duration.Seconds(), attrs)

		ev := log.Debug()
		if oc.Outcome != OutcomeOK {
			ev = log.Warn().Str("error", oc.Error)
		}
		ev.Str("stage", string(oc.Stage)).
			Str("status", string(oc.Outcome)).
			Dur("duration", oc.Duration).
			Msg("stage finished")
	}
	return ann
}

func (o *Orchestrator) stageFunc(stage Stage, run *Run, candidates []routing.Candidate) func(context.Context) (stageOutput, error) {
	traced := func(ctx context.Context, fn func(context.Context) (stageOutput, error)) (stageOutput, error) {
		ctx, span := o.tracer.Start(ctx, "orchestrator.stage."+string(stage))
		defer span.End()
		out, err := fn(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return out, err
	}

	switch stage {
	case StageSafety:
		return func(ctx context.Context) (stageOutput, error) {
			return traced(ctx, func(ctx context.Context) (stageOutput, error) {
				scores, err := o.safety.Score(ctx, candidates)
				return stageOutput{safety: scores}, err
			})
		}
	case StageWeather:
		return func(ctx context.Context) (stageOutput, error) {
			return traced(ctx, func(ctx context.Context) (stageOutput, error) {
				snap, err := o.weather.Check(ctx, run.Start, run.Query.ReceivedAt)
				return stageOutput{weather: snap}, err
			})
		}
	default:
		return func(ctx context.Context) (stageOutput, error) {
			return traced(ctx, func(ctx context.Context) (stageOutput, error) {
				ann, err := o.closures.Annotate(ctx, candidates)
				return stageOutput{closures: ann}, err
			})
		}
	}
}

func (o *Orchestrator) synthesize(ctx context.Context, run *Run, log zerolog.Logger) (synthesis.Recommendation, error) {
	in := synthesis.Input{
		Intent:     run.Intent,
		Candidates: run.Candidates,
		Safety:     run.Annotations.Safety,
		Weather:    run.Annotations.Weather,
		Closures:   run.Annotations.Closures,
		TargetKm:   o.defaultTargetKm,
		Warnings:   run.Warnings,
	}

	if o.flags.ExplanationsGeneratedDisabled(ctx) {
		return o.synthesizer.Templated(in)
	}
	if ctx.Err() != nil {
		log.Warn().Msg("request deadline passed, using template explanation")
		return o.templated(in)
	}

	ectx, cancel := context.WithTimeout(ctx, o.timeouts.Explanation)
	defer cancel()
	ectx, span := o.tracer.Start(ectx, "orchestrator.synthesize")
	defer span.End()

	rec, err := o.synthesizer.Synthesize(ectx, in)
	var synthErr *synthesis.SynthesisError
	if errors.As(err, &synthErr) {
		span.RecordError(err)
		return o.templated(in)
	}
	return rec, err
}

func (o *Orchestrator) templated(in synthesis.Input) (synthesis.Recommendation, error) {
	rec, err := o.synthesizer.Templated(in)
	if err != nil {
		return rec, err
	}
	rec.Warnings = append(rec.Warnings, WarnTemplateExplanation)
	return rec, nil
}
