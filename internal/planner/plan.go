package planner

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"codask/internal/ir"
	"codask/internal/knowledge"
	"codask/internal/retrieval"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const planSchemaURL = "mem://codask/plan.schema.json"

const planSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["steps"],
  "properties": {
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["action"],
        "properties": {
          "action": {"enum": ["retrieve", "inspect_unit", "propose_fix", "verify"]},
          "input": {"type": "string"},
          "depends_on": {"type": "array", "items": {"type": "integer", "minimum": 0}}
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadPlanSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(planSchemaURL, strings.NewReader(planSchema)); err != nil {
			schemaErr = err
			return
		}
		compiledSchema, schemaErr = compiler.Compile(planSchemaURL)
	})
	return compiledSchema, schemaErr
}

// ProposedStep is one step as planned, before it is admitted to an execution.
type ProposedStep struct {
	Action    Action `json:"action"`
	Input     string `json:"input"`
	DependsOn []int  `json:"depends_on,omitempty"`
}

type planDoc struct {
	Steps []ProposedStep `json:"steps"`
}

// ParsePlan extracts, schema-checks and decodes a model-written plan.
func ParsePlan(text string) ([]ProposedStep, error) {
	raw := knowledge.ExtractJSON(text)
	if raw == "" {
		return nil, fmt.Errorf("no JSON object in plan output")
	}
	schema, err := loadPlanSchema()
	if err != nil {
		return nil, fmt.Errorf("load plan schema: %w", err)
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return nil, fmt.Errorf("plan does not match schema: %w", err)
	}
	var doc planDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	return doc.Steps, nil
}

// sanitize drops steps whose dependencies are not strictly earlier, and any
// step that depends on a dropped one. Indices are rewritten to the kept order.
func sanitize(steps []ProposedStep) (kept []ProposedStep, dropped int) {
	remap := make(map[int]int, len(steps))
	for i, s := range steps {
		ok := s.Action.Valid()
		var deps []int
		for _, d := range s.DependsOn {
			nd, seen := remap[d]
			if d >= i || !seen {
				ok = false
				break
			}
			deps = append(deps, nd)
		}
		if !ok {
			dropped++
			continue
		}
		remap[i] = len(kept)
		s.Input = strings.TrimSpace(s.Input)
		s.DependsOn = deps
		kept = append(kept, s)
	}
	return kept, dropped
}

// HeuristicPlan is the deterministic plan used when no valid model plan is
// available: retrieve, then inspect, fix and verify the most relevant unit.
func HeuristicPlan(query string, bundle retrieval.Bundle, mentioned []string) []ProposedStep {
	steps := []ProposedStep{{Action: ActionRetrieve, Input: query}}
	target := pickTarget(bundle, mentioned)
	if target == "" {
		return steps
	}
	return append(steps,
		ProposedStep{Action: ActionInspectUnit, Input: target, DependsOn: []int{0}},
		ProposedStep{Action: ActionProposeFix, Input: target, DependsOn: []int{1}},
		ProposedStep{Action: ActionVerify, Input: target, DependsOn: []int{2}},
	)
}

// pickTarget prefers a unit named in the query, then the unit with the most
// severe issue, then the top-ranked unit.
func pickTarget(bundle retrieval.Bundle, mentioned []string) string {
	for _, name := range mentioned {
		for _, e := range bundle.Entries {
			if e.Unit.Name == name {
				return e.Unit.ID
			}
		}
	}
	best, bestRank := "", 0
	for _, e := range bundle.Entries {
		for _, is := range e.Issues {
			if r := is.Severity.Rank(); r > bestRank {
				best, bestRank = e.Unit.ID, r
			}
		}
	}
	if best != "" {
		return best
	}
	if len(mentioned) > 0 {
		return mentioned[0]
	}
	if len(bundle.Entries) > 0 {
		return bundle.Entries[0].Unit.ID
	}
	return ""
}

// correctivePlan inspects what the review found missing, or retrieves again
// when nothing was found at all.
func correctivePlan(query string, missing []string, bundle retrieval.Bundle) []ProposedStep {
	if len(missing) == 0 {
		steps := []ProposedStep{{Action: ActionRetrieve, Input: query}}
		if len(bundle.Entries) > 0 {
			steps = append(steps, ProposedStep{Action: ActionInspectUnit, Input: bundle.Entries[0].Unit.ID})
		}
		return steps
	}
	steps := make([]ProposedStep, 0, len(missing))
	for _, name := range missing {
		steps = append(steps, ProposedStep{Action: ActionInspectUnit, Input: name})
	}
	return steps
}

func issueLines(issues []ir.Issue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, fmt.Sprintf("[%s] %s: %s (%s)", is.Severity, is.Rule, is.Message, is.Location))
	}
	return out
}
