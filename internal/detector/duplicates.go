package detector

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"codask/internal/ir"
)

// minDuplicateLines keeps trivial bodies (a bare return) from being reported.
const minDuplicateLines = 3

// Duplicates reports every unit whose normalised body is shared with at least one other unit.
func Duplicates(units []ir.CodeUnit) []ir.Issue {
	groups := make(map[string][]ir.CodeUnit)
	var order []string
	for _, u := range units {
		body := normalizeBody(u.Content)
		if strings.Count(body, "\n")+1 < minDuplicateLines {
			continue
		}
		sum := sha256.Sum256([]byte(body))
		key := hex.EncodeToString(sum[:])
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], u)
	}

	var issues []ir.Issue
	for _, key := range order {
		group := groups[key]
		if len(group) < 2 {
			continue
		}
		for _, u := range group {
			var others []string
			for _, o := range group {
				if o.ID != u.ID {
					others = append(others, o.Location())
				}
			}
			sort.Strings(others)
			issues = append(issues, newIssue(u, ir.CategoryDuplication, ir.SeverityMedium, "duplicate_function",
				fmt.Sprintf("Duplicate function body, also found in: %s", strings.Join(others, ", ")),
				"Extract the shared logic into one helper.", unitLocation(u)))
		}
	}
	return issues
}

// DetectAll runs d over every unit and appends the cross-unit duplicate pass.
func DetectAll(d Detector, units []ir.CodeUnit) []ir.Issue {
	var issues []ir.Issue
	for _, u := range units {
		issues = append(issues, d.Detect(u)...)
	}
	return append(issues, Duplicates(units)...)
}

// normalizeBody drops the signature line, comments, docstrings and blank lines,
// and collapses whitespace, so that renamed copies hash identically.
func normalizeBody(code string) string {
	lines := strings.Split(code, "\n")
	if len(lines) > 0 {
		lines = lines[1:]
	}
	var out []string
	inDoc := false
	for _, l := range lines {
		s := strings.TrimSpace(l)
		if s == "" {
			continue
		}
		if strings.HasPrefix(s, `"""`) || strings.HasPrefix(s, "'''") {
			quote := s[:3]
			closed := len(s) >= 6 && strings.HasSuffix(s, quote)
			if !inDoc && !closed {
				inDoc = true
			} else if inDoc {
				inDoc = false
			}
			continue
		}
		if inDoc {
			if strings.Contains(s, `"""`) || strings.Contains(s, "'''") {
				inDoc = false
			}
			continue
		}
		if strings.HasPrefix(s, "//") || strings.HasPrefix(s, "#") {
			continue
		}
		out = append(out, strings.Join(strings.Fields(s), " "))
	}
	return strings.Join(out, "\n")
}
