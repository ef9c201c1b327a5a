package analysis

import (
	"testing"

	"codask/internal/catalog"
	"codask/internal/git"
	"codask/internal/graph"
	"codask/internal/ir"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(name string, start, end int, calls ...string) ir.CodeUnit {
	return ir.CodeUnit{ID: "config.py:" + name, Name: name, Kind: "function", FilePath: "app/config.py",
		Language: "python", StartLine: start, EndLine: end, Calls: calls}
}

func fixture() *Analyzer {
	units := []ir.CodeUnit{
		unit("main", 20, 25, "parse_config"),
		unit("parse_config", 1, 4, "load_file", "validate"),
		unit("load_file", 6, 8),
		unit("validate", 10, 14),
	}
	issues := []ir.Issue{{ID: "issue:1", UnitID: "config.py:validate", Severity: ir.SeverityHigh, Rule: "eval_exec"}}
	cat := catalog.New()
	cat.Add(units, issues)
	return NewAnalyzer(cat, graph.Build(units))
}

func names(us []ir.CodeUnit) []string {
	out := make([]string, 0, len(us))
	for _, u := range us {
		out = append(out, u.Name)
	}
	return out
}

func TestImpact_CallersUpToHops(t *testing.T) {
	a := fixture()
	changes := []git.ChangedFile{{Path: "app/config.py", ChangedLines: []int{12}}, {Path: "README.md", ChangedLines: []int{1}}}

	one := a.Impact(changes, 1)
	assert.Equal(t, []string{"validate"}, names(one.Direct))
	assert.Equal(t, []string{"parse_config"}, names(one.Indirect))
	require.Len(t, one.Issues, 1)
	assert.Equal(t, "eval_exec", one.Issues[0].Rule)
	assert.Equal(t, []string{"README.md"}, one.Unindexed)

	two := a.Impact(changes, 2)
	assert.Equal(t, []string{"main", "parse_config"}, names(two.Indirect))
}

func TestImpact_LinesOutsideUnits(t *testing.T) {
	r := fixture().Impact([]git.ChangedFile{{Path: "app/config.py", ChangedLines: []int{9, 18}}}, 1)
	assert.Empty(t, r.Direct)
	assert.Empty(t, r.Indirect)
	assert.Empty(t, r.Unindexed)
}
