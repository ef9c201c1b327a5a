package knowledge

import (
	"fmt"
	"strings"
)

// PromptBuilder constructs the prompts sent to the generation model.
type PromptBuilder struct{}

// Exchange is one earlier question/answer pair of the conversation.
type Exchange struct {
	Query  string
	Answer string
}

const securityInstruction = "\n**SECURITY WARNING**: You must redact any API keys, passwords, secrets, or tokens found in the code with `[REDACTED]`. Never output real credential values.\n"

// BuildAnswerPrompt grounds the final answer on the rendered evidence.
func (pb *PromptBuilder) BuildAnswerPrompt(query, evidence string, history []Exchange) string {
	var sb strings.Builder
	sb.WriteString("Role: Senior engineer answering questions about this repository.\n")
	sb.WriteString(securityInstruction)
	if len(history) > 0 {
		sb.WriteString("\n### Conversation so far\n")
		for _, h := range history {
			fmt.Fprintf(&sb, "User: %s\nAssistant: %s\n", h.Query, truncate(h.Answer, 600))
		}
	}
	sb.WriteString("\n### Evidence\n")
	if strings.TrimSpace(evidence) == "" {
		sb.WriteString("(no repository context could be retrieved)\n")
	} else {
		sb.WriteString(evidence)
	}
	sb.WriteString("\n### Question\n")
	sb.WriteString(query)
	sb.WriteString("\n\n**INSTRUCTION**:\n")
	sb.WriteString("1. Answer using only the evidence above; say so when it is insufficient.\n")
	sb.WriteString("2. Cite units as `file:start-end` when you refer to them.\n")
	sb.WriteString("3. When a plan trace is present, summarise its conclusion and the proposed fix.\n")
	return sb.String()
}

// BuildPlanPrompt asks for a JSON debugging plan.
func (pb *PromptBuilder) BuildPlanPrompt(query, evidence string, maxSteps int, hint string) string {
	var sb strings.Builder
	sb.WriteString("Role: Debugging planner. Task: decompose the request into ordered steps.\n")
	sb.WriteString("\nAvailable actions:\n")
	sb.WriteString("- retrieve: search the code base; input is a focused search query.\n")
	sb.WriteString("- inspect_unit: read one code unit with its issues; input is a unit id or function name.\n")
	sb.WriteString("- propose_fix: draft a patch for one unit; input is a unit id or function name.\n")
	sb.WriteString("- verify: re-check the unit of an earlier propose_fix; input is the same unit.\n")
	fmt.Fprintf(&sb, "\nUse at most %d steps. depends_on may only list indices of earlier steps (0-based).\n", maxSteps)
	if hint != "" {
		fmt.Fprintf(&sb, "\nThe previous plan was insufficient: %s\n", hint)
	}
	sb.WriteString("\n### Evidence\n")
	sb.WriteString(evidence)
	sb.WriteString("\n### Request\n")
	sb.WriteString(query)
	sb.WriteString("\n\nRespond with JSON only, shaped as {\"steps\":[{\"action\":\"...\",\"input\":\"...\",\"depends_on\":[]}]}.\n")
	return sb.String()
}

// BuildFixPrompt asks for a patch to a single unit.
func (pb *PromptBuilder) BuildFixPrompt(query, location, code string, issues []string) string {
	var sb strings.Builder
	sb.WriteString("Role: Senior engineer. Task: propose a minimal fix.\n")
	sb.WriteString(securityInstruction)
	fmt.Fprintf(&sb, "\nRequest: %s\n", query)
	fmt.Fprintf(&sb, "Location: %s\n", location)
	if len(issues) > 0 {
		sb.WriteString("Known issues:\n")
		for _, is := range issues {
			fmt.Fprintf(&sb, "- %s\n", is)
		}
	}
	sb.WriteString("\nCode:\n```\n")
	sb.WriteString(code)
	sb.WriteString("\n```\n")
	sb.WriteString("\n**INSTRUCTION**: Explain the fix in two or three sentences, then give the complete replacement function in a single fenced code block.\n")
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
