package planner

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"codask/internal/ir"
	"codask/internal/knowledge"
	"codask/internal/retrieval"
	"codask/internal/retry"
)

func (a *Agent) retrieve(ctx context.Context, r *run, step *Step) error {
	query := step.Input
	if query == "" {
		query = r.exec.Query
	}
	b, err := a.retriever.Assemble(ctx, query, a.cfg.Retrieve)
	if err != nil {
		return err
	}
	step.UnitIDs = b.UnitIDs()
	r.bundle = retrieval.Merge(r.bundle, b, max(r.bundle.Budget, b.Budget))

	if len(b.Entries) == 0 {
		step.Result = "no matching units"
		return nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "found %d unit(s):", len(b.Entries))
	for _, e := range b.Entries {
		fmt.Fprintf(&sb, "\n- %s %s (%.2f, %s)", e.Unit.Name, e.Unit.Location(), e.Ref.Score, e.Ref.Source)
	}
	step.Result = sb.String()
	return nil
}

func (a *Agent) inspect(r *run, step *Step) error {
	u, err := a.resolve(r, step.Input)
	if err != nil {
		return err
	}
	issues := a.units.Issues(u.ID)
	step.UnitIDs = []string{u.ID}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s (%s) %s\n", u.Name, u.Kind, u.Location())
	if u.Signature != "" {
		fmt.Fprintf(&sb, "signature: %s\n", u.Signature)
	}
	fmt.Fprintf(&sb, "```%s\n%s\n```\n", u.Language, u.Content)
	if len(issues) == 0 {
		sb.WriteString("issues: none\n")
	}
	for _, line := range issueLines(issues) {
		fmt.Fprintf(&sb, "- %s\n", line)
	}
	step.Result = sb.String()
	return nil
}

func (a *Agent) proposeFix(ctx context.Context, r *run, step *Step) error {
	u, err := a.resolve(r, step.Input)
	if err != nil {
		return err
	}
	if a.generator == nil {
		return fmt.Errorf("no generation model configured")
	}
	issues := a.units.Issues(u.ID)
	loc := ir.Location{FilePath: u.FilePath, StartLine: u.StartLine, EndLine: u.EndLine}
	prompt := a.prompts.BuildFixPrompt(r.exec.Query, loc.String(), u.Content, issueLines(issues))

	text, err := retry.Do(ctx, a.cfg.Policy, func(ctx context.Context) (string, error) {
		return a.generator.Generate(ctx, prompt)
	})
	if err != nil {
		return err
	}
	patch, _ := knowledge.ExtractCodeBlock(text)
	step.UnitIDs = []string{u.ID}
	step.Fix = &Fix{UnitID: u.ID, Location: loc, Text: strings.TrimSpace(text), Patch: patch}
	step.Result = fmt.Sprintf("fix proposed for %s at %s", u.Name, loc)
	return nil
}

// verify re-runs the detector on the patched unit of the latest earlier fix.
// Without a patch or a detector the outcome is unavailable, never a pass.
func (a *Agent) verify(r *run, step *Step) error {
	u, err := a.resolve(r, step.Input)
	if err != nil {
		return err
	}
	step.UnitIDs = []string{u.ID}
	v := &Verification{UnitID: u.ID, Status: VerifyUnavailable}
	step.Verification = v

	fix := latestFix(r.exec.Steps[:step.Index], u.ID)
	switch {
	case fix == nil:
		v.Reason = "no fix was proposed for this unit"
	case fix.Patch == "":
		v.Reason = "the proposed fix has no replacement code"
	case a.detector == nil:
		v.Reason = "no issue detector configured"
	}
	if v.Reason != "" {
		step.Result = "verification unavailable: " + v.Reason
		return nil
	}

	patched := u
	patched.Content = fix.Patch
	patched.EndLine = u.StartLine + strings.Count(fix.Patch, "\n")

	before := make(map[string]bool)
	for _, is := range a.units.Issues(u.ID) {
		before[is.Rule] = is.Category != ir.CategoryDuplication
	}
	after := make(map[string]bool)
	for _, is := range a.detector.Detect(patched) {
		after[is.Rule] = true
	}

	rules := make([]string, 0, len(before)+len(after))
	for rule := range before {
		rules = append(rules, rule)
	}
	for rule := range after {
		if _, ok := before[rule]; !ok {
			rules = append(rules, rule)
		}
	}
	sort.Strings(rules)

	overall := VerifyUnavailable
	for _, rule := range rules {
		checkable, known := before[rule]
		var st VerifyStatus
		switch {
		case known && !checkable:
			st = VerifyUnavailable
		case known && after[rule]:
			st = VerifyStillPresent
		case known:
			st = VerifyResolved
		default:
			st = VerifyIntroduced
		}
		v.Checks = append(v.Checks, RuleCheck{Rule: rule, Status: st})
		switch {
		case st == VerifyStillPresent || st == VerifyIntroduced:
			overall = VerifyStillPresent
		case st == VerifyResolved && overall == VerifyUnavailable:
			overall = VerifyResolved
		}
	}
	if len(before) == 0 && len(after) == 0 {
		v.Reason = "no issues recorded before or after the fix"
	} else if overall == VerifyUnavailable {
		v.Reason = "no detector-checkable issue on the unit"
	}
	v.Status = overall

	var sb strings.Builder
	fmt.Fprintf(&sb, "verification %s for %s", v.Status, u.Location())
	for _, c := range v.Checks {
		fmt.Fprintf(&sb, "\n- %s: %s", c.Rule, c.Status)
	}
	step.Result = sb.String()
	return nil
}

func latestFix(steps []Step, unitID string) *Fix {
	for i := len(steps) - 1; i >= 0; i-- {
		if steps[i].Status == StepDone && steps[i].Fix != nil && steps[i].Fix.UnitID == unitID {
			return steps[i].Fix
		}
	}
	return nil
}

// resolve maps a step input (unit id or name) to a stored unit. Ambiguous
// names prefer the unit ranked first in the current evidence.
func (a *Agent) resolve(r *run, input string) (ir.CodeUnit, error) {
	input = strings.TrimSpace(strings.Trim(input, "`"))
	if input == "" {
		return ir.CodeUnit{}, fmt.Errorf("%w: empty reference", ErrUnknownUnit)
	}
	if u, ok := a.units.Unit(input); ok {
		return u, nil
	}
	name := strings.TrimSuffix(input, "()")
	if i := strings.LastIndex(name, "."); i != -1 {
		name = name[i+1:]
	}
	candidates := a.units.ByName(name)
	switch len(candidates) {
	case 0:
		return ir.CodeUnit{}, fmt.Errorf("%w: %s", ErrUnknownUnit, input)
	case 1:
		return candidates[0], nil
	}
	for _, e := range r.bundle.Entries {
		for _, c := range candidates {
			if c.ID == e.Unit.ID {
				return c, nil
			}
		}
	}
	return candidates[0], nil
}
