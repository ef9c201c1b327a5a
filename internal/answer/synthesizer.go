// Package answer turns a context bundle and an optional plan trace into the
// final reply. Evidence is rendered deterministically; only the phrasing is
// delegated to the generation model.
package answer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"codask/internal/ir"
	"codask/internal/knowledge"
	"codask/internal/planner"
	"codask/internal/retrieval"
	"codask/internal/retry"
	"codask/internal/telemetry"
)

const DefaultHistoryWindow = 10

// Answer is the reply of one turn.
type Answer struct {
	Text             string             `json:"text"`
	Evidence         string             `json:"evidence"`
	Sources          []ir.UnitRef       `json:"sources"`
	Plan             *planner.Execution `json:"plan,omitempty"`
	GenerationFailed bool               `json:"generation_failed,omitempty"`
	Degraded         bool               `json:"degraded,omitempty"`
}

// Request is everything a reply is grounded on.
type Request struct {
	Query   string
	Bundle  retrieval.Bundle
	Plan    *planner.Execution
	History []knowledge.Exchange
	// Degraded marks a turn whose retrieval failed.
	Degraded bool
}

type Synthesizer struct {
	generator knowledge.Generator
	prompts   knowledge.PromptBuilder
	policy    retry.Policy
	window    int
	logger    *slog.Logger
}

type Option func(*Synthesizer)

func WithPolicy(p retry.Policy) Option {
	return func(s *Synthesizer) { s.policy = p }
}

// WithHistoryWindow bounds how many earlier exchanges reach the prompt.
func WithHistoryWindow(n int) Option {
	return func(s *Synthesizer) { s.window = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Synthesizer) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewSynthesizer(gen knowledge.Generator, opts ...Option) *Synthesizer {
	s := &Synthesizer{generator: gen, policy: retry.DefaultPolicy(), window: DefaultHistoryWindow, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Synthesize always returns an answer. When the model cannot be reached the
// rendered evidence is kept and GenerationFailed is set.
func (s *Synthesizer) Synthesize(ctx context.Context, req Request) Answer {
	evidence := Evidence(req.Bundle, req.Plan, req.Degraded)
	ans := Answer{
		Evidence: evidence,
		Sources:  req.Bundle.Refs(),
		Plan:     req.Plan,
		Degraded: req.Degraded,
	}

	history := req.History
	if s.window >= 0 && len(history) > s.window {
		history = history[len(history)-s.window:]
	}

	text, err := s.generate(ctx, s.prompts.BuildAnswerPrompt(req.Query, evidence, history))
	if err != nil {
		s.logger.Warn("answer generation failed, returning evidence only", "error", err)
		telemetry.GenerationFailures.Inc()
		ans.GenerationFailed = true
		ans.Text = Fallback(req.Bundle, req.Plan, req.Degraded)
		return ans
	}
	ans.Text = text
	return ans
}

func (s *Synthesizer) generate(ctx context.Context, prompt string) (string, error) {
	if s.generator == nil {
		return "", &knowledge.GenerationError{Provider: "none", Err: errors.New("no generation model configured")}
	}
	text, err := retry.Do(ctx, s.policy, func(ctx context.Context) (string, error) {
		return s.generator.Generate(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", &knowledge.GenerationError{Provider: "model", Err: knowledge.ErrEmptyResponse}
	}
	return strings.TrimSpace(text), nil
}

// Evidence renders the bundle and plan trace. Equal inputs give equal text.
func Evidence(b retrieval.Bundle, plan *planner.Execution, degraded bool) string {
	var sb strings.Builder
	switch {
	case degraded && b.Empty():
		sb.WriteString("(repository context unavailable: retrieval failed)\n")
	case b.Empty():
		sb.WriteString("(no matching code units)\n")
	default:
		fmt.Fprintf(&sb, "## Context (%d units, %d/%d chars", len(b.Entries), b.Used, b.Budget)
		if b.Dropped > 0 {
			fmt.Fprintf(&sb, ", %d dropped", b.Dropped)
		}
		sb.WriteString(")\n\n")
		sb.WriteString(b.Render())
	}
	if plan != nil {
		sb.WriteString("\n")
		sb.WriteString(RenderPlan(plan))
	}
	return sb.String()
}

// RenderPlan writes a plan trace step by step.
func RenderPlan(exec *planner.Execution) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Plan %s: %s", exec.ID, exec.State)
	if exec.Replans > 0 {
		fmt.Fprintf(&sb, " (%d replan)", exec.Replans)
	}
	sb.WriteString("\n")
	for _, s := range exec.Steps {
		fmt.Fprintf(&sb, "%d. [%s] %s(%s)", s.Index+1, s.Status, s.Action, s.Input)
		if len(s.DependsOn) > 0 {
			deps := make([]string, 0, len(s.DependsOn))
			for _, d := range s.DependsOn {
				deps = append(deps, fmt.Sprint(d+1))
			}
			fmt.Fprintf(&sb, " after %s", strings.Join(deps, ","))
		}
		sb.WriteString("\n")
		if s.Result != "" {
			sb.WriteString(indent(s.Result))
		}
		if s.Fix != nil && s.Fix.Text != "" {
			sb.WriteString(indent(s.Fix.Text))
		}
		if s.Error != "" {
			sb.WriteString(indent("error: " + s.Error))
		}
	}
	if exec.Conclusion.Summary != "" {
		fmt.Fprintf(&sb, "Conclusion: %s\n", exec.Conclusion.Summary)
	}
	return sb.String()
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "   " + l
	}
	return strings.Join(lines, "\n") + "\n"
}

// Fallback is the short reply used when the model could not phrase one.
func Fallback(b retrieval.Bundle, plan *planner.Execution, degraded bool) string {
	var sb strings.Builder
	sb.WriteString("The language model is unavailable, so this reply lists the gathered evidence only.")
	if degraded {
		sb.WriteString(" Repository retrieval also failed for this question.")
	}
	if !b.Empty() {
		sb.WriteString("\nRelevant units:")
		for _, e := range b.Entries {
			fmt.Fprintf(&sb, "\n- %s (%s)", e.Unit.Name, e.Unit.Location())
			if len(e.Issues) > 0 {
				fmt.Fprintf(&sb, ": %d issue(s), worst %s", len(e.Issues), e.Issues[0].Severity)
			}
		}
	}
	if plan != nil {
		fmt.Fprintf(&sb, "\nPlan %s: %s", plan.State, plan.Conclusion.Summary)
	}
	return sb.String()
}
