// Package detector flags pattern-based issues on code units.
package detector

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"codask/internal/ir"
)

// Detector produces the findings for a single code unit.
type Detector interface {
	Detect(unit ir.CodeUnit) []ir.Issue
}

// Rule is a regular-expression security check.
type Rule struct {
	Name       string
	Severity   ir.Severity
	Pattern    *regexp.Regexp
	Languages  []string // empty means every language
	Message    string
	Suggestion string
}

func (r Rule) appliesTo(lang string) bool {
	if len(r.Languages) == 0 {
		return true
	}
	for _, l := range r.Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Thresholds configures the complexity checks.
type Thresholds struct {
	LengthMedium     int
	LengthHigh       int
	CyclomaticMedium int
	CyclomaticHigh   int
	MaxNesting       int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		LengthMedium:     200,
		LengthHigh:       500,
		CyclomaticMedium: 10,
		CyclomaticHigh:   15,
		MaxNesting:       3,
	}
}

// DefaultRules returns the built-in security rule set.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "eval_exec",
			Severity:   ir.SeverityHigh,
			Pattern:    regexp.MustCompile(`\b(eval|exec)\s*\(`),
			Languages:  []string{"python", "javascript"},
			Message:    "Use of eval/exec: arbitrary code can be executed.",
			Suggestion: "Use a dedicated parser such as ast.literal_eval instead of evaluating strings.",
		},
		{
			Name:       "sql_injection",
			Severity:   ir.SeverityHigh,
			Pattern:    regexp.MustCompile(`(?i)["'\x60]\s*(select|insert|update|delete)\b[^"'\x60]*["'\x60]\s*\+`),
			Message:    "Potential SQL injection: query text is built by string concatenation.",
			Suggestion: "Use parameterized queries or prepared statements.",
		},
		{
			Name:       "weak_crypto",
			Severity:   ir.SeverityMedium,
			Pattern:    regexp.MustCompile(`\b(md5|sha1)\.(New|Sum)\b|\b(md5|sha1)\s*\(`),
			Message:    "Weak cryptographic hash: MD5 and SHA1 are vulnerable to collisions.",
			Suggestion: "Use SHA-256 or stronger.",
		},
		{
			Name:       "hardcoded_secret",
			Severity:   ir.SeverityHigh,
			Pattern:    regexp.MustCompile(`(?i)(api[_-]?key|password|secret|token)\s*:?=\s*["'\x60][^"'\x60]+["'\x60]`),
			Message:    "Hardcoded secret detected.",
			Suggestion: "Load secrets from the environment or a secret manager.",
		},
		{
			Name:       "command_exec",
			Severity:   ir.SeverityHigh,
			Pattern:    regexp.MustCompile(`exec\.Command\(\s*"(sh|bash)"\s*,\s*"-c"`),
			Languages:  []string{"go"},
			Message:    "Shell command execution with a composed command line.",
			Suggestion: "Invoke the binary directly with a fixed argument list.",
		},
		{
			Name:       "inner_html",
			Severity:   ir.SeverityHigh,
			Pattern:    regexp.MustCompile(`\.innerHTML\s*=|document\.write\s*\(|new\s+Function\s*\(`),
			Languages:  []string{"javascript", "typescript"},
			Message:    "Unsafe DOM or dynamic code API.",
			Suggestion: "Use textContent or safe templating APIs.",
		},
	}
}

// PatternDetector implements Detector with regular expressions and simple metrics.
type PatternDetector struct {
	rules      []Rule
	thresholds Thresholds
}

func NewPatternDetector() *PatternDetector {
	return &PatternDetector{rules: DefaultRules(), thresholds: DefaultThresholds()}
}

// WithThresholds returns a copy using t for the complexity checks.
func (d *PatternDetector) WithThresholds(t Thresholds) *PatternDetector {
	return &PatternDetector{rules: d.rules, thresholds: t}
}

// Detect runs security, complexity and documentation checks. Findings are
// ordered by severity (high first) and then rule name.
func (d *PatternDetector) Detect(unit ir.CodeUnit) []ir.Issue {
	var issues []ir.Issue
	issues = append(issues, d.security(unit)...)
	issues = append(issues, d.complexity(unit)...)
	issues = append(issues, d.documentation(unit)...)
	sortIssues(issues)
	return issues
}

func (d *PatternDetector) security(unit ir.CodeUnit) []ir.Issue {
	var issues []ir.Issue
	for _, r := range d.rules {
		if !r.appliesTo(unit.Language) {
			continue
		}
		loc := r.Pattern.FindStringIndex(unit.Content)
		if loc == nil {
			continue
		}
		line := unit.StartLine + strings.Count(unit.Content[:loc[0]], "\n")
		issues = append(issues, newIssue(unit, ir.CategorySecurity, r.Severity, r.Name, r.Message, r.Suggestion,
			ir.Location{FilePath: unit.FilePath, StartLine: line, EndLine: line}))
	}
	return issues
}

func (d *PatternDetector) complexity(unit ir.CodeUnit) []ir.Issue {
	var issues []ir.Issue
	loc := unitLocation(unit)

	length := unit.EndLine - unit.StartLine + 1
	if length > d.thresholds.LengthMedium {
		sev := ir.SeverityMedium
		if length > d.thresholds.LengthHigh {
			sev = ir.SeverityHigh
		}
		issues = append(issues, newIssue(unit, ir.CategoryComplexity, sev, "function_length",
			fmt.Sprintf("Function too long (%d lines).", length),
			"Break the function into smaller, focused functions.", loc))
	}

	if cc := CyclomaticComplexity(unit.Content); cc > d.thresholds.CyclomaticMedium {
		sev := ir.SeverityMedium
		if cc > d.thresholds.CyclomaticHigh {
			sev = ir.SeverityHigh
		}
		issues = append(issues, newIssue(unit, ir.CategoryComplexity, sev, "cyclomatic_complexity",
			fmt.Sprintf("High cyclomatic complexity (%d).", cc),
			"Simplify control flow with early returns or extracted helpers.", loc))
	}

	if depth := NestingDepth(unit.Language, unit.Content); depth > d.thresholds.MaxNesting {
		issues = append(issues, newIssue(unit, ir.CategoryComplexity, ir.SeverityMedium, "nesting_depth",
			fmt.Sprintf("Excessive nesting depth (%d).", depth),
			"Reduce nesting with guard clauses or extracted functions.", loc))
	}
	return issues
}

func (d *PatternDetector) documentation(unit ir.CodeUnit) []ir.Issue {
	if unit.DocSummary != "" || !isPublic(unit.Language, unit.Name) {
		return nil
	}
	return []ir.Issue{newIssue(unit, ir.CategoryDocumentation, ir.SeverityLow, "missing_doc",
		fmt.Sprintf("Function %q is missing documentation.", unit.Name),
		"Add a doc comment or docstring describing behaviour and parameters.", unitLocation(unit))}
}

func isPublic(lang, name string) bool {
	if name == "" {
		return false
	}
	switch lang {
	case "go":
		return unicode.IsUpper([]rune(name)[0])
	case "python":
		if strings.HasPrefix(name, "__") && strings.HasSuffix(name, "__") {
			return false
		}
		return !strings.HasPrefix(name, "_")
	}
	return true
}

var decisionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bif\b`),
	regexp.MustCompile(`\belif\b`),
	regexp.MustCompile(`\bcase\b`),
	regexp.MustCompile(`\bfor\b`),
	regexp.MustCompile(`\bwhile\b`),
	regexp.MustCompile(`\bexcept\b`),
	regexp.MustCompile(`\bcatch\b`),
	regexp.MustCompile(`\band\b`),
	regexp.MustCompile(`\bor\b`),
	regexp.MustCompile(`&&`),
	regexp.MustCompile(`\|\|`),
}

// CyclomaticComplexity approximates McCabe complexity by counting decision keywords.
func CyclomaticComplexity(code string) int {
	cc := 1
	for _, p := range decisionPatterns {
		cc += len(p.FindAllStringIndex(code, -1))
	}
	return cc
}

// NestingDepth reports how deeply blocks nest inside the function body.
// Brace languages count braces; Python counts indentation levels.
func NestingDepth(lang, code string) int {
	if lang == "python" {
		return indentDepth(code)
	}
	depth, max := 0, 0
	for _, r := range code {
		switch r {
		case '{':
			depth++
			if depth > max {
				max = depth
			}
		case '}':
			depth--
		}
	}
	// The function body itself is not nesting.
	if max > 0 {
		max--
	}
	return max
}

func indentDepth(code string) int {
	lines := strings.Split(code, "\n")
	if len(lines) < 2 {
		return 0
	}
	base := leadingSpaces(lines[0])
	unit := 0
	var indents []int
	for _, l := range lines[1:] {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := leadingSpaces(l) - base
		if n <= 0 {
			continue
		}
		if unit == 0 || n < unit {
			unit = n
		}
		indents = append(indents, n)
	}
	if unit == 0 {
		return 0
	}
	max := 0
	for _, n := range indents {
		if lvl := n/unit - 1; lvl > max {
			max = lvl
		}
	}
	return max
}

func leadingSpaces(s string) int {
	n := 0
	for _, r := range s {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

func unitLocation(unit ir.CodeUnit) ir.Location {
	return ir.Location{FilePath: unit.FilePath, StartLine: unit.StartLine, EndLine: unit.EndLine}
}

func newIssue(unit ir.CodeUnit, cat ir.Category, sev ir.Severity, rule, msg, suggestion string, loc ir.Location) ir.Issue {
	return ir.Issue{
		ID:         ir.IssueID(unit.ID, rule),
		UnitID:     unit.ID,
		Category:   cat,
		Severity:   sev,
		Rule:       rule,
		Message:    msg,
		Suggestion: suggestion,
		Location:   loc,
	}
}

func sortIssues(issues []ir.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		if ri, rj := issues[i].Severity.Rank(), issues[j].Severity.Rank(); ri != rj {
			return ri > rj
		}
		return issues[i].Rule < issues[j].Rule
	})
}
