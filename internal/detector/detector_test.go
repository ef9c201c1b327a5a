package detector

import (
	"strings"
	"testing"

	"codask/internal/ir"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(lang, name, content string, start int) ir.CodeUnit {
	end := start + strings.Count(content, "\n")
	r := ir.ByteRange{Start: start * 10, End: start*10 + len(content)}
	return ir.CodeUnit{
		ID:        ir.UnitID("pkg/file."+lang, name, r),
		FilePath:  "pkg/file." + lang,
		Language:  lang,
		Name:      name,
		ByteRange: r,
		StartLine: start,
		EndLine:   end,
		Content:   content,
	}
}

func rules(issues []ir.Issue) []string {
	var out []string
	for _, is := range issues {
		out = append(out, is.Rule)
	}
	return out
}

func TestPatternDetector_Security(t *testing.T) {
	d := NewPatternDetector()

	t.Run("python eval and secret", func(t *testing.T) {
		u := unit("python", "_load", "def _load(s):\n    api_key = \"abc123\"\n    return eval(s)\n", 10)
		issues := d.Detect(u)
		assert.ElementsMatch(t, []string{"eval_exec", "hardcoded_secret"}, rules(issues))
		for _, is := range issues {
			assert.Equal(t, ir.SeverityHigh, is.Severity)
			assert.Equal(t, u.ID, is.UnitID)
			assert.Equal(t, ir.IssueID(u.ID, is.Rule), is.ID)
		}
	})

	t.Run("location points at matching line", func(t *testing.T) {
		u := unit("go", "query", "func query(db *sql.DB, id string) {\n\tdb.Exec(\"SELECT * FROM t WHERE id=\" + id)\n}", 20)
		issues := d.Detect(u)
		require.Contains(t, rules(issues), "sql_injection")
		for _, is := range issues {
			if is.Rule == "sql_injection" {
				assert.Equal(t, 21, is.Location.StartLine)
				assert.Equal(t, "pkg/file.go", is.Location.FilePath)
			}
		}
	})

	t.Run("go weak hash", func(t *testing.T) {
		u := unit("go", "hash", "func hash(b []byte) []byte {\n\ts := md5.Sum(b)\n\treturn s[:]\n}", 1)
		assert.Contains(t, rules(d.Detect(u)), "weak_crypto")
	})

	t.Run("language filter", func(t *testing.T) {
		u := unit("go", "run", "func run() {\n\texec(\"x\")\n}", 1)
		assert.NotContains(t, rules(d.Detect(u)), "eval_exec")
	})
}

func TestPatternDetector_Documentation(t *testing.T) {
	d := NewPatternDetector()

	exported := unit("go", "Serve", "func Serve() {\n}", 1)
	issues := d.Detect(exported)
	require.Len(t, issues, 1)
	assert.Equal(t, ir.CategoryDocumentation, issues[0].Category)
	assert.Equal(t, ir.SeverityLow, issues[0].Severity)

	exported.DocSummary = "Serve starts the server."
	assert.Empty(t, d.Detect(exported))

	assert.Empty(t, d.Detect(unit("go", "serve", "func serve() {\n}", 1)))
	assert.Empty(t, d.Detect(unit("python", "__init__", "def __init__(self):\n    pass", 1)))
	assert.Len(t, d.Detect(unit("python", "load", "def load():\n    pass", 1)), 1)
}

func TestPatternDetector_Complexity(t *testing.T) {
	d := NewPatternDetector().WithThresholds(Thresholds{
		LengthMedium: 5, LengthHigh: 8, CyclomaticMedium: 3, CyclomaticHigh: 5, MaxNesting: 2,
	})

	code := `func walk(xs []int) int {
	n := 0
	for _, x := range xs {
		if x > 0 {
			if x%2 == 0 && x > 10 {
				n++
			}
		}
	}
	return n
}`
	u := unit("go", "walk", code, 1)
	u.DocSummary = "walk counts."
	issues := d.Detect(u)

	got := make(map[string]ir.Severity)
	for _, is := range issues {
		got[is.Rule] = is.Severity
	}
	assert.Equal(t, ir.SeverityHigh, got["function_length"])
	assert.Equal(t, ir.SeverityMedium, got["cyclomatic_complexity"])
	assert.Equal(t, ir.SeverityMedium, got["nesting_depth"])

	for i := 1; i < len(issues); i++ {
		assert.GreaterOrEqual(t, issues[i-1].Severity.Rank(), issues[i].Severity.Rank())
	}
}

func TestCyclomaticComplexity(t *testing.T) {
	assert.Equal(t, 1, CyclomaticComplexity("func f() {}"))
	assert.Equal(t, 4, CyclomaticComplexity("if a && b { } else if c { }"))
	assert.Equal(t, 3, CyclomaticComplexity("if a and b:\n    pass"))
}

func TestNestingDepth(t *testing.T) {
	assert.Equal(t, 0, NestingDepth("go", "func f() {\n}"))
	assert.Equal(t, 2, NestingDepth("go", "func f() {\n\tif a {\n\t\tfor {\n\t\t}\n\t}\n}"))
	py := "def f(x):\n    if x:\n        for y in x:\n            pass\n"
	assert.Equal(t, 2, NestingDepth("python", py))
}

func TestDuplicates(t *testing.T) {
	body := "\n\tx := load()\n\t// tidy\n\tx = clean(x)\n\treturn save(x)\n}"
	a := unit("go", "SaveA", "func SaveA() error {"+body, 1)
	b := unit("go", "SaveB", "func SaveB() error {"+body, 40)
	b.FilePath = "other/file.go"
	c := unit("go", "Tiny", "func Tiny() {\n\treturn\n}", 80)
	d := unit("go", "TinyToo", "func TinyToo() {\n\treturn\n}", 90)

	issues := Duplicates([]ir.CodeUnit{a, b, c, d})
	require.Len(t, issues, 2, "trivial bodies are not reported")
	assert.Equal(t, a.ID, issues[0].UnitID)
	assert.Equal(t, ir.CategoryDuplication, issues[0].Category)
	assert.Contains(t, issues[0].Message, "other/file.go")
	assert.Equal(t, b.ID, issues[1].UnitID)
}

func TestDetectAll(t *testing.T) {
	u := unit("go", "Serve", "func Serve() {\n}", 1)
	issues := DetectAll(NewPatternDetector(), []ir.CodeUnit{u})
	assert.Equal(t, []string{"missing_doc"}, rules(issues))
}
