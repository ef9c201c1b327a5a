// Package analysis maps a diff onto the indexed code units.
package analysis

import (
	"sort"

	"codask/internal/catalog"
	"codask/internal/git"
	"codask/internal/graph"
	"codask/internal/ir"
)

// ImpactReport lists the units a change touches and the units that call them.
type ImpactReport struct {
	Direct   []ir.CodeUnit `json:"direct"`
	Indirect []ir.CodeUnit `json:"indirect"`
	// Issues are the open findings of the directly touched units.
	Issues []ir.Issue `json:"issues"`
	// Unindexed are changed files with no units in the snapshot.
	Unindexed []string `json:"unindexed,omitempty"`
}

// Analyzer performs impact analysis on the dependency graph.
type Analyzer struct {
	units *catalog.Catalog
	g     *graph.Graph
}

func NewAnalyzer(units *catalog.Catalog, g *graph.Graph) *Analyzer {
	return &Analyzer{units: units, g: g}
}

// Impact walks up to hops levels of callers from every touched unit.
func (a *Analyzer) Impact(changes []git.ChangedFile, hops int) ImpactReport {
	var report ImpactReport
	direct := make(map[string]bool)

	for _, ch := range changes {
		units := a.units.ByFile(ch.Path)
		if len(units) == 0 {
			report.Unindexed = append(report.Unindexed, ch.Path)
			continue
		}
		for _, u := range units {
			if direct[u.ID] || !touches(u, ch.ChangedLines) {
				continue
			}
			direct[u.ID] = true
			report.Direct = append(report.Direct, u)
			report.Issues = append(report.Issues, a.units.Issues(u.ID)...)
		}
	}

	if hops < 1 {
		hops = 1
	}
	seen := make(map[string]bool, len(direct))
	for id := range direct {
		seen[id] = true
	}
	frontier := sortedIDs(direct)
	for level := 0; level < hops && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			for _, caller := range a.g.GetDependents(id) {
				if seen[caller] {
					continue
				}
				seen[caller] = true
				if u, ok := a.units.Unit(caller); ok {
					report.Indirect = append(report.Indirect, u)
					next = append(next, caller)
				}
			}
		}
		sort.Strings(next)
		frontier = next
	}

	byID := func(us []ir.CodeUnit) func(i, j int) bool {
		return func(i, j int) bool { return us[i].ID < us[j].ID }
	}
	sort.Slice(report.Direct, byID(report.Direct))
	sort.Slice(report.Indirect, byID(report.Indirect))
	catalog.SortIssues(report.Issues)
	return report
}

func touches(u ir.CodeUnit, lines []int) bool {
	for _, l := range lines {
		if l >= u.StartLine && l <= u.EndLine {
			return true
		}
	}
	return false
}

func sortedIDs(m map[string]bool) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
