// Package planner runs the bounded debugging agent: it plans a short list of
// actions, executes them in order, reviews the evidence and re-plans at most
// a fixed number of times.
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"codask/internal/detector"
	"codask/internal/ir"
	"codask/internal/knowledge"
	"codask/internal/retrieval"
	"codask/internal/retry"
	"codask/internal/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Retriever is the narrow context assembly used by retrieve steps.
type Retriever interface {
	Assemble(ctx context.Context, query string, opts retrieval.Options) (retrieval.Bundle, error)
}

// Units is the code unit store as seen by the agent; implemented by catalog.Catalog.
type Units interface {
	Unit(id string) (ir.CodeUnit, bool)
	Issues(unitID string) []ir.Issue
	ByName(name string) []ir.CodeUnit
}

type Config struct {
	MaxSteps   int
	MaxReplans int
	Retrieve   retrieval.Options
	Policy     retry.Policy
}

func DefaultConfig() Config {
	return Config{
		MaxSteps:   8,
		MaxReplans: 1,
		Retrieve:   retrieval.Options{K: 4, Hops: 1, Budget: 6000},
		Policy:     retry.DefaultPolicy(),
	}
}

type Agent struct {
	cfg       Config
	retriever Retriever
	units     Units
	generator knowledge.Generator
	detector  detector.Detector
	prompts   knowledge.PromptBuilder
	logger    *slog.Logger
}

// NewAgent builds an agent. generator may be nil, in which case the
// heuristic plan is used and propose_fix steps fail.
func NewAgent(cfg Config, r Retriever, units Units, gen knowledge.Generator, det detector.Detector, logger *slog.Logger) *Agent {
	if cfg.MaxSteps < 1 {
		cfg.MaxSteps = DefaultConfig().MaxSteps
	}
	if cfg.MaxReplans < 0 {
		cfg.MaxReplans = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{cfg: cfg, retriever: r, units: units, generator: gen, detector: det, logger: logger}
}

// run is the mutable working set of one execution.
type run struct {
	exec     *Execution
	bundle   retrieval.Bundle
	mentions []string
	round    int
	logger   *slog.Logger
}

// Run executes the agent for query, starting from the turn's context bundle.
// The returned execution is always in a terminal state with its full trace.
func (a *Agent) Run(ctx context.Context, query string, bundle retrieval.Bundle, mentions []string) *Execution {
	exec := &Execution{
		ID:        uuid.NewString(),
		Query:     query,
		State:     StatePlanning,
		StartedAt: time.Now(),
	}
	ctx, span := telemetry.Tracer("planner").Start(ctx, "planner.Run")
	defer span.End()
	span.SetAttributes(attribute.String("plan.id", exec.ID))

	r := &run{
		exec:     exec,
		bundle:   bundle,
		mentions: mentions,
		logger:   a.logger.With("plan_id", exec.ID),
	}

	if err := a.loop(ctx, r); err != nil {
		// Only reachable through an illegal transition.
		exec.State = StateFailed
		exec.Err = err
	}
	if exec.Err != nil {
		exec.Error = exec.Err.Error()
		span.RecordError(exec.Err)
		span.SetStatus(codes.Error, string(exec.State))
	}
	exec.FinishedAt = time.Now()
	span.SetAttributes(
		attribute.String("plan.state", string(exec.State)),
		attribute.Int("plan.steps", len(exec.Steps)),
		attribute.Int("plan.replans", exec.Replans),
	)
	telemetry.PlanOutcomes.WithLabelValues(string(exec.State)).Inc()
	r.logger.Info("plan finished", "state", exec.State, "steps", len(exec.Steps), "replans", exec.Replans)
	return exec
}

func (a *Agent) loop(ctx context.Context, r *run) error {
	exec := r.exec
	hint := ""
	for {
		// planning
		if err := ctx.Err(); err != nil {
			exec.Err = err
			a.conclude(r, a.review(r))
			return exec.transition(StateCancelled)
		}
		proposed, source := a.plan(ctx, r, hint)
		exec.PlanSource = source
		if err := a.admit(r, proposed); err != nil {
			return err
		}
		if exec.State.Terminal() {
			a.conclude(r, a.review(r))
			return nil
		}
		if err := exec.transition(StateExecuting); err != nil {
			return err
		}

		// executing
		for {
			step := exec.nextPending()
			if step == nil {
				break
			}
			if err := ctx.Err(); err != nil {
				exec.Err = err
				a.conclude(r, a.review(r))
				return exec.transition(StateCancelled)
			}
			if err := a.execute(ctx, r, step); err != nil {
				a.conclude(r, a.review(r))
				if ctx.Err() != nil {
					exec.Err = ctx.Err()
					return exec.transition(StateCancelled)
				}
				exec.Err = err
				return exec.transition(StateFailed)
			}
		}
		if exec.Truncated > 0 {
			r.logger.Warn("plan exceeded step budget", "max_steps", a.cfg.MaxSteps, "truncated", exec.Truncated)
			a.conclude(r, a.review(r))
			return exec.transition(StateAborted)
		}
		if err := exec.transition(StateReviewing); err != nil {
			return err
		}

		// reviewing
		missing := a.review(r)
		if missing.ok || exec.Replans >= a.cfg.MaxReplans {
			a.conclude(r, missing)
			return exec.transition(StateCompleted)
		}
		if len(exec.Steps) >= a.cfg.MaxSteps {
			a.conclude(r, missing)
			return exec.transition(StateAborted)
		}
		exec.Replans++
		r.round++
		hint = missing.hint()
		r.logger.Info("replanning", "reason", hint)
		if err := exec.transition(StatePlanning); err != nil {
			return err
		}
	}
}

// plan asks the model for a plan and falls back to the heuristic one.
func (a *Agent) plan(ctx context.Context, r *run, hint string) ([]ProposedStep, string) {
	fallback := func() []ProposedStep {
		if r.round == 0 {
			return HeuristicPlan(r.exec.Query, r.bundle, r.mentions)
		}
		return correctivePlan(r.exec.Query, a.review(r).names, r.bundle)
	}
	if a.generator == nil {
		return fallback(), "heuristic"
	}
	prompt := a.prompts.BuildPlanPrompt(r.exec.Query, r.bundle.Render(), a.cfg.MaxSteps-len(r.exec.Steps), hint)
	text, err := retry.Do(ctx, a.cfg.Policy, func(ctx context.Context) (string, error) {
		return a.generator.Generate(ctx, prompt)
	})
	if err != nil {
		r.logger.Warn("plan generation failed, using heuristic plan", "error", err)
		return fallback(), "heuristic"
	}
	steps, err := ParsePlan(text)
	if err != nil {
		r.logger.Warn("model plan rejected, using heuristic plan", "error", err)
		return fallback(), "heuristic"
	}
	return steps, "model"
}

// admit appends planned steps to the execution as pending, within the step budget.
func (a *Agent) admit(r *run, proposed []ProposedStep) error {
	exec := r.exec
	steps, dropped := sanitize(proposed)
	if dropped > 0 {
		r.logger.Warn("dropped plan steps with invalid dependencies", "dropped", dropped)
	}
	if len(steps) == 0 {
		exec.Err = fmt.Errorf("planning produced no executable steps")
		return exec.transition(StateFailed)
	}

	base := len(exec.Steps)
	room := a.cfg.MaxSteps - base
	if room <= 0 {
		exec.Truncated += len(steps)
		return exec.transition(StateAborted)
	}
	if len(steps) > room {
		exec.Truncated += len(steps) - room
		steps = steps[:room]
	}
	for _, s := range steps {
		deps := make([]int, 0, len(s.DependsOn))
		for _, d := range s.DependsOn {
			deps = append(deps, base+d)
		}
		exec.Steps = append(exec.Steps, Step{
			Index:     len(exec.Steps),
			Round:     r.round,
			Action:    s.Action,
			Input:     s.Input,
			DependsOn: deps,
			Status:    StepPending,
		})
	}
	return nil
}

// execute runs one step. Steps only read results of strictly earlier, finished steps.
func (a *Agent) execute(ctx context.Context, r *run, step *Step) error {
	exec := r.exec
	for _, d := range step.DependsOn {
		if d >= step.Index || exec.Steps[d].Status != StepDone {
			return a.fail(step, fmt.Errorf("dependency %d is not done", d))
		}
	}

	ctx, span := telemetry.Tracer("planner").Start(ctx, "planner.step."+string(step.Action))
	defer span.End()
	span.SetAttributes(attribute.Int("step.index", step.Index), attribute.String("step.input", step.Input))

	step.Status = StepRunning
	logger := r.logger.With("step", step.Index, "action", step.Action)
	logger.Debug("running step", "input", step.Input)

	var err error
	switch step.Action {
	case ActionRetrieve:
		err = a.retrieve(ctx, r, step)
	case ActionInspectUnit:
		err = a.inspect(r, step)
	case ActionProposeFix:
		err = a.proposeFix(ctx, r, step)
	case ActionVerify:
		err = a.verify(r, step)
	default:
		err = fmt.Errorf("unknown action %q", step.Action)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "step failed")
		logger.Warn("step failed", "error", err)
		return a.fail(step, err)
	}
	step.Status = StepDone
	telemetry.PlanSteps.WithLabelValues(string(step.Action), string(StepDone)).Inc()
	return nil
}

func (a *Agent) fail(step *Step, err error) error {
	step.Status = StepFailed
	step.Error = err.Error()
	telemetry.PlanSteps.WithLabelValues(string(step.Action), string(StepFailed)).Inc()
	return &PlanStepError{Step: step.Index, Action: step.Action, Err: err}
}

// coverage is the outcome of a review.
type coverage struct {
	ok    bool
	names []string
	empty bool
}

func (c coverage) hint() string {
	if c.empty {
		return "no code units were found or inspected"
	}
	return "the request names " + strings.Join(c.names, ", ") + " but they were not inspected"
}

// review checks that the evidence gathered so far addresses the query.
func (a *Agent) review(r *run) coverage {
	found := false
	inspected := make(map[string]bool)
	for _, s := range r.exec.Steps {
		if s.Status != StepDone {
			continue
		}
		if len(s.UnitIDs) > 0 && (s.Action == ActionRetrieve || s.Action == ActionInspectUnit) {
			found = true
		}
		if s.Action == ActionInspectUnit {
			for _, id := range s.UnitIDs {
				if u, ok := a.units.Unit(id); ok {
					inspected[u.Name] = true
				}
			}
		}
	}
	if !found {
		return coverage{empty: true}
	}
	if len(r.mentions) == 0 {
		return coverage{ok: true}
	}
	var missing []string
	for _, name := range r.mentions {
		if inspected[name] {
			return coverage{ok: true}
		}
		missing = append(missing, name)
	}
	return coverage{names: missing}
}

func (a *Agent) conclude(r *run, c coverage) {
	exec := r.exec
	concl := Conclusion{Addressed: c.ok, Missing: c.names}
	seen := make(map[string]bool)
	for _, s := range exec.Steps {
		if s.Status != StepDone {
			continue
		}
		if s.Action == ActionInspectUnit {
			for _, id := range s.UnitIDs {
				if !seen[id] {
					seen[id] = true
					concl.Inspected = append(concl.Inspected, id)
				}
			}
		}
		if s.Fix != nil {
			concl.Fixes = append(concl.Fixes, *s.Fix)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d steps done", len(exec.Done()), len(exec.Steps))
	if len(concl.Inspected) > 0 {
		fmt.Fprintf(&sb, "; inspected %d unit(s)", len(concl.Inspected))
	}
	for _, f := range concl.Fixes {
		fmt.Fprintf(&sb, "; fix proposed at %s", f.Location)
	}
	for _, s := range exec.Steps {
		if s.Verification != nil {
			fmt.Fprintf(&sb, "; verification %s", s.Verification.Status)
		}
	}
	if exec.Truncated > 0 {
		fmt.Fprintf(&sb, "; %d step(s) cut by the step limit", exec.Truncated)
	}
	if !c.ok {
		sb.WriteString("; evidence incomplete: " + c.hint())
	}
	concl.Summary = sb.String()
	exec.Conclusion = concl
}

// IsStepError reports whether err is a PlanStepError.
func IsStepError(err error) bool {
	var pe *PlanStepError
	return errors.As(err, &pe)
}
