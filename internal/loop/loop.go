// Package loop drives a run from goal to result: one planning request, then
// for each milestone a bounded sequence of patch, apply and verify attempts.
//
// The run aborts only when the completion provider fails or the plan is
// unusable. Everything else (unparseable patch responses, changes the patch
// tool rejects, failing checks) is recovered locally, logged and published on
// the event bus, and the loop moves on.
package loop

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Iron-Ham/patchloop/internal/ai"
	"github.com/Iron-Ham/patchloop/internal/apply"
	"github.com/Iron-Ham/patchloop/internal/config"
	"github.com/Iron-Ham/patchloop/internal/errors"
	"github.com/Iron-Ham/patchloop/internal/event"
	"github.com/Iron-Ham/patchloop/internal/extract"
	"github.com/Iron-Ham/patchloop/internal/logging"
	"github.com/Iron-Ham/patchloop/internal/plan"
	"github.com/Iron-Ham/patchloop/internal/prompt"
	"github.com/Iron-Ham/patchloop/internal/repo"
	"github.com/Iron-Ham/patchloop/internal/retry"
	"github.com/Iron-Ham/patchloop/internal/verify"
)

const tracerName = "github.com/Iron-Ham/patchloop/internal/loop"

// Task is what a run is asked to do.
type Task struct {
	Goal        string
	Root        string
	Constraints []string

	// Commands are the verification commands. Empty selects
	// verify.DefaultCommands for Root.
	Commands []string
}

// Controller runs the propose, modify, verify loop. A Controller runs one
// task at a time; Run called while another run is in progress returns
// errors.ErrRunInProgress.
type Controller struct {
	provider ai.Provider
	applier  *apply.Applier
	verifier *verify.Runner
	logger   *logging.Logger
	bus      *event.Bus
	tracer   trace.Tracer

	maxIterations   int
	verifyBudget    time.Duration
	contextMaxFiles int
	contextMaxChars int

	runID string
	state State
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *logging.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBus publishes loop events to bus.
func WithBus(bus *event.Bus) Option {
	return func(c *Controller) { c.bus = bus }
}

// WithApplier sets the change applier.
func WithApplier(a *apply.Applier) Option {
	return func(c *Controller) {
		if a != nil {
			c.applier = a
		}
	}
}

// WithVerifier sets the verification runner.
func WithVerifier(v *verify.Runner) Option {
	return func(c *Controller) {
		if v != nil {
			c.verifier = v
		}
	}
}

// WithTracer sets the tracer. The default comes from the global
// OpenTelemetry provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithConfig applies the loop section of the configuration.
func WithConfig(cfg config.LoopConfig) Option {
	return func(c *Controller) {
		c.maxIterations = cfg.MaxIterations
		if cfg.VerifyBudgetSeconds > 0 {
			c.verifyBudget = cfg.VerifyBudget()
		}
		if cfg.ContextMaxFiles > 0 {
			c.contextMaxFiles = cfg.ContextMaxFiles
		}
		if cfg.ContextMaxChars > 0 {
			c.contextMaxChars = cfg.ContextMaxChars
		}
	}
}

// New creates a Controller that sends prompts to provider.
func New(provider ai.Provider, opts ...Option) *Controller {
	c := &Controller{
		provider:        provider,
		logger:          logging.NopLogger(),
		tracer:          otel.Tracer(tracerName),
		maxIterations:   10,
		verifyBudget:    120 * time.Second,
		contextMaxFiles: 50,
		contextMaxChars: 8000,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.applier == nil {
		c.applier = apply.New(apply.WithLogger(c.logger), apply.WithBus(c.bus))
	}
	if c.verifier == nil {
		c.verifier = verify.New(verify.WithLogger(c.logger), verify.WithBus(c.bus))
	}
	return c
}

// State returns the current state.
func (c *Controller) State() State {
	return c.state
}

// run carries the mutable state of one Run call.
type run struct {
	task     Task
	log      *logging.Logger
	snippets string
	commands []string
	budget   *retry.Budget
	tracker  *retry.Tracker
	changed  []string
}

// Run executes task to completion. It returns a *errors.LoopError when the
// run aborts; a run whose milestones never pass verification still returns
// a Result.
func (c *Controller) Run(ctx context.Context, task Task) (*Result, error) {
	if c.state != "" && !c.state.Terminal() {
		return nil, errors.Wrapf(errors.ErrRunInProgress, "run %s is %s", c.runID, c.state)
	}
	c.runID = uuid.NewString()
	c.state = ""
	r := &run{
		task:    task,
		log:     c.logger.WithRun(c.runID),
		budget:  retry.NewBudget(c.maxIterations),
		tracker: retry.NewTracker(),
	}

	ctx, span := c.tracer.Start(ctx, "loop.Run", trace.WithAttributes(
		attribute.String("run.id", c.runID),
		attribute.String("run.goal", task.Goal),
		attribute.Int("run.max_iterations", c.maxIterations),
	))
	defer span.End()

	r.log.Info("run started", "goal", task.Goal, "root", task.Root, "max_iterations", c.maxIterations)

	c.transition(r, StatePlanning)
	listing := repo.GatherContext(task.Root, c.contextMaxFiles)
	p, err := c.plan(ctx, r, listing)
	if err != nil {
		return nil, c.abort(r, span, err)
	}

	r.snippets = repo.Truncate(listing, c.contextMaxChars)
	r.commands = task.Commands
	if len(r.commands) == 0 {
		r.commands = verify.DefaultCommands(task.Root)
	}
	r.log.Info("plan accepted",
		"plan_id", p.ID,
		"milestones", len(p.Milestones),
		"synthetic", p.Synthetic,
		"commands", r.commands)

	c.transition(r, StateMilestoneIteration)
	for _, m := range p.Ordered() {
		if err := c.milestone(ctx, r, m); err != nil {
			return nil, c.abort(r, span, err)
		}
	}

	c.transition(r, StateDone)
	res := &Result{
		RunID:              c.runID,
		Summary:            "Run completed for goal: " + task.Goal,
		PlanID:             p.ID,
		AcceptanceCriteria: p.AcceptanceCriteria,
		TestStrategy:       p.TestStrategy,
		FilesChanged:       dedupe(r.changed),
		TestsRun:           r.commands,
		KnownLimitations:   []string{},
		FollowUps:          []string{},
		Milestones:         r.tracker.States(),
	}
	if res.AcceptanceCriteria == nil {
		res.AcceptanceCriteria = []string{}
	}

	span.SetAttributes(
		attribute.Int("run.attempts", r.budget.Used()),
		attribute.Int("run.budget_remaining", r.budget.Remaining()),
		attribute.Int("run.files_changed", len(res.FilesChanged)),
	)
	span.SetStatus(codes.Ok, "")
	r.log.Info("run finished",
		"attempts", r.budget.Used(),
		"files_changed", res.FilesChanged,
		"failed_milestones", r.tracker.FailedMilestones())
	return res, nil
}

// plan requests, extracts and decodes the plan.
func (c *Controller) plan(ctx context.Context, r *run, listing string) (*plan.Plan, error) {
	ctx, span := c.tracer.Start(ctx, "loop.Plan")
	defer span.End()
	log := r.log.WithPhase(phasePlan)

	text, err := prompt.Plan(prompt.PlanData{
		Goal:        r.task.Goal,
		Constraints: r.task.Constraints,
		Context:     listing,
	})
	if err != nil {
		return nil, errors.NewLoopError(ReasonPlanFailed, err).WithDetail(reasonPromptRendering).WithPhase(phasePlan)
	}

	response, err := c.provider.Complete(ctx, text)
	if err != nil {
		span.RecordError(err)
		return nil, errors.NewLoopError(ReasonPlanFailed, providerError(c.provider, err)).
			WithDetail(err.Error()).
			WithPhase(phasePlan)
	}

	unusable := func(reason string, cause error) error {
		log.Warn("plan response unusable", "reason", reason)
		c.bus.Publish(event.NewResponseUnusableEvent(phasePlan, "", reason, truncate(response, 200)))
		return errors.NewLoopError(ReasonPlanUnusable, cause).
			WithDetail(response).
			WithRawResponse(response).
			WithPhase(phasePlan)
	}

	raw, ok := extract.Object(response)
	if !ok {
		return nil, unusable(reasonNoObject, fmt.Errorf("%w: %w", errors.ErrPlanUnusable, errors.ErrNoObject))
	}
	if reason, marked := extract.ErrorMarker(raw); marked {
		return nil, unusable(reason, errors.ErrPlanUnusable)
	}
	p, err := plan.Parse(raw, r.task.Goal)
	if err != nil {
		return nil, unusable(err.Error(), err)
	}

	span.SetAttributes(attribute.String("plan.id", p.ID), attribute.Int("plan.milestones", len(p.Milestones)))
	return p, nil
}

// milestone runs attempts for m until one of them stops it or the budget
// runs out.
func (c *Controller) milestone(ctx context.Context, r *run, m plan.Milestone) error {
	id := c.uniqueID(r, m.ScopeID())
	r.tracker.GetOrCreateState(id, c.maxIterations)
	log := r.log.WithMilestone(id)

	ctx, span := c.tracer.Start(ctx, "loop.Milestone", trace.WithAttributes(
		attribute.String("milestone.id", id),
		attribute.String("milestone.scope", m.Scope()),
	))
	defer span.End()

	for r.tracker.ShouldRetry(id) {
		if !r.budget.Take() {
			r.tracker.Finish(id, retry.StopBudgetExhausted)
			break
		}
		attempt := r.tracker.RecordAttempt(id)

		c.transition(r, StateAttempt)
		c.bus.Publish(event.NewAttemptStartedEvent(id, m.Scope(), attempt, r.budget.Used(), r.budget.Max()))
		log.WithAttempt(r.budget.Used()).Info("attempt started",
			"milestone_attempt", attempt,
			"budget_remaining", r.budget.Remaining())

		stop, err := c.attempt(ctx, r, id, m)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "patch request failed")
			return err
		}
		c.transition(r, StateMilestoneIteration)
		if stop != "" {
			r.tracker.Finish(id, stop)
			break
		}
	}
	r.tracker.Finish(id, retry.StopAttemptsExhausted)

	state := r.tracker.GetState(id)
	span.SetAttributes(
		attribute.Int("milestone.attempts", state.Attempts),
		attribute.Bool("milestone.passed", state.Passed),
		attribute.String("milestone.stop_reason", string(state.StopReason)),
	)
	log.Info("milestone finished",
		"attempts", state.Attempts,
		"passed", state.Passed,
		"stop_reason", string(state.StopReason))
	c.bus.Publish(event.NewMilestoneFinishedEvent(id, state.Attempts, state.Passed, string(state.StopReason)))
	return nil
}

// attempt runs one patch, apply, verify pass. A non-empty StopReason ends
// the milestone; an error aborts the run.
func (c *Controller) attempt(ctx context.Context, r *run, id string, m plan.Milestone) (retry.StopReason, error) {
	log := r.log.WithMilestone(id).WithAttempt(r.budget.Used())

	text, err := prompt.Patch(prompt.PatchData{Scope: m.Scope(), Snippets: r.snippets})
	if err != nil {
		return "", errors.NewLoopError(ReasonPatchFailed, err).
			WithDetail(reasonPromptRendering).
			WithMilestone(id).
			WithPhase(phasePatch)
	}

	response, err := c.provider.Complete(ctx, text)
	if err != nil {
		return "", errors.NewLoopError(ReasonPatchFailed, providerError(c.provider, err)).
			WithDetail(err.Error()).
			WithMilestone(id).
			WithPhase(phasePatch)
	}

	raw, ok := extract.Object(response)
	if !ok {
		c.unusable(r, log, id, reasonNoObject, response)
		return "", nil
	}
	if reason, marked := extract.ErrorMarker(raw); marked {
		c.unusable(r, log, id, reason, response)
		return "", nil
	}

	patch := apply.ParseResponse(raw)
	if len(patch.Diffs) == 0 {
		log.Info("patch response has no diffs", "summary", patch.Summary)
		return retry.StopNoChanges, nil
	}

	applied := c.applier.Apply(ctx, r.task.Root, patch.Diffs)
	r.changed = append(r.changed, applied.Changed...)
	r.tracker.RecordChangeCount(id, len(applied.Changed))
	log.Info("patch applied",
		"summary", truncate(patch.Summary, 200),
		"changed", applied.Changed,
		"skipped", len(applied.Skipped))

	outcome := c.verifier.Run(ctx, r.task.Root, r.commands, c.verifyBudget)
	if outcome.Passed {
		log.WithPhase(phaseVerify).Info("verification passed")
		return retry.StopVerified, nil
	}
	if f := outcome.FirstFailure; f != nil {
		r.tracker.SetLastFailure(id, fmt.Sprintf("%s: %s", f.Command, f.FailureSummary))
		log.WithPhase(phaseVerify).Info("verification failed",
			"command", f.Command,
			"failure_summary", f.FailureSummary,
			"next_action", string(outcome.NextAction))
	}
	if !outcome.NextAction.Retryable() {
		return retry.StopNotRetryable, nil
	}
	return "", nil
}

func (c *Controller) unusable(r *run, log *logging.Logger, id, reason, response string) {
	r.tracker.RecordUnusable(id, reason)
	log.Warn("patch response unusable", "reason", reason)
	c.bus.Publish(event.NewResponseUnusableEvent(phasePatch, id, reason, truncate(response, 200)))
}

func (c *Controller) abort(r *run, span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	// A provider failure that aborted the run may still succeed on a rerun.
	severity := errors.GetSeverity(err)
	args := []any{
		"error", err.Error(),
		"severity", severity.String(),
		"retryable", errors.IsRetryable(errors.Unwrap(err)),
	}
	if severity >= errors.SeverityError {
		r.log.Error("run aborted", args...)
	} else {
		r.log.Warn("run aborted", args...)
	}
	c.transition(r, StateAborted)
	return err
}

// transition moves to the next state, publishing the change.
func (c *Controller) transition(r *run, next State) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	r.log.Debug("loop state changed", "old_state", string(prev), "state", string(next))
	c.bus.Publish(event.NewStateChangedEvent(c.runID, string(prev), string(next)))
}

// uniqueID returns id, suffixed when an earlier milestone already used it.
func (c *Controller) uniqueID(r *run, id string) string {
	if r.tracker.GetState(id) == nil {
		return id
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", id, n)
		if r.tracker.GetState(candidate) == nil {
			return candidate
		}
	}
}

// providerError makes sure a provider failure carries ErrProviderFailed.
func providerError(p ai.Provider, err error) error {
	if errors.Is(err, errors.ErrProviderFailed) {
		return err
	}
	return errors.NewProviderError(string(p.Name()), err)
}

func truncate(s string, n int) string {
	return repo.Truncate(s, n)
}
