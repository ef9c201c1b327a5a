package retrieval

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"codask/internal/ir"
)

// Entry is one unit made visible to the reasoning layer, with its issues.
type Entry struct {
	Ref    ir.UnitRef  `json:"ref"`
	Unit   ir.CodeUnit `json:"unit"`
	Issues []ir.Issue  `json:"issues,omitempty"`
}

// Render is the deterministic text of an entry. Its length is what the
// bundle budget is charged for.
func (e Entry) Render() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "### %s (%s) %s\n", e.Unit.Name, e.Unit.Kind, e.Unit.Location())
	fmt.Fprintf(&sb, "retrieved: %s score=%.3f", e.Ref.Source, e.Ref.Score)
	if e.Ref.Hop > 0 {
		fmt.Fprintf(&sb, " hop=%d", e.Ref.Hop)
	}
	sb.WriteString("\n")
	if e.Unit.DocSummary != "" {
		fmt.Fprintf(&sb, "doc: %s\n", e.Unit.DocSummary)
	}
	if len(e.Unit.Calls) > 0 {
		fmt.Fprintf(&sb, "calls: %s\n", strings.Join(e.Unit.Calls, ", "))
	}
	fmt.Fprintf(&sb, "```%s\n%s\n```\n", e.Unit.Language, e.Unit.Content)
	for _, is := range e.Issues {
		fmt.Fprintf(&sb, "- [%s/%s] %s: %s (%s)\n", is.Severity, is.Category, is.Rule, is.Message, is.Location)
	}
	return sb.String()
}

// Size is the character count of Render.
func (e Entry) Size() int {
	return utf8.RuneCountInString(e.Render())
}

// Bundle is the bounded context of one turn. Bundles are values: every
// operation that changes context returns a new one.
type Bundle struct {
	Query   string  `json:"query"`
	Entries []Entry `json:"entries"`
	Budget  int     `json:"budget"`
	Used    int     `json:"used"`
	Dropped int     `json:"dropped"`
}

func (b Bundle) Empty() bool { return len(b.Entries) == 0 }

// UnitIDs lists the bundle's unit ids in rank order.
func (b Bundle) UnitIDs() []string {
	ids := make([]string, 0, len(b.Entries))
	for _, e := range b.Entries {
		ids = append(ids, e.Unit.ID)
	}
	return ids
}

func (b Bundle) Refs() []ir.UnitRef {
	refs := make([]ir.UnitRef, 0, len(b.Entries))
	for _, e := range b.Entries {
		refs = append(refs, e.Ref)
	}
	return refs
}

func (b Bundle) Contains(unitID string) bool {
	for _, e := range b.Entries {
		if e.Unit.ID == unitID {
			return true
		}
	}
	return false
}

// Mentions reports whether the bundle holds a unit with this name or file path.
func (b Bundle) Mentions(nameOrFile string) bool {
	for _, e := range b.Entries {
		if e.Unit.Name == nameOrFile || e.Unit.FilePath == nameOrFile {
			return true
		}
	}
	return false
}

// Render concatenates entry renderings in rank order.
func (b Bundle) Render() string {
	var sb strings.Builder
	for _, e := range b.Entries {
		sb.WriteString(e.Render())
		sb.WriteString("\n")
	}
	return sb.String()
}

// Clone deep-copies the entry slice so callers can keep a bundle across turns.
func (b Bundle) Clone() Bundle {
	out := b
	out.Entries = make([]Entry, len(b.Entries))
	for i, e := range b.Entries {
		e.Issues = append([]ir.Issue(nil), e.Issues...)
		out.Entries[i] = e
	}
	return out
}

// Merge unions two bundles by unit id keeping the better-ranked ref, then
// re-ranks and re-truncates to budget.
func Merge(prev, fresh Bundle, budget int) Bundle {
	byID := make(map[string]Entry, len(prev.Entries)+len(fresh.Entries))
	for _, src := range [][]Entry{prev.Entries, fresh.Entries} {
		for _, e := range src {
			cur, ok := byID[e.Unit.ID]
			if !ok || better(e.Ref, cur.Ref) {
				byID[e.Unit.ID] = e
			}
		}
	}
	entries := make([]Entry, 0, len(byID))
	for _, id := range sortedKeys(byID) {
		entries = append(entries, byID[id])
	}
	query := fresh.Query
	if query == "" {
		query = prev.Query
	}
	return pack(query, entries, budget)
}

// pack ranks entries and admits them greedily until the first one that
// does not fit.
func pack(query string, entries []Entry, budget int) Bundle {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Ref.Score != entries[j].Ref.Score {
			return entries[i].Ref.Score > entries[j].Ref.Score
		}
		return entries[i].Unit.ID < entries[j].Unit.ID
	})

	b := Bundle{Query: query, Budget: budget}
	for i, e := range entries {
		size := e.Size()
		if b.Used+size > budget {
			b.Dropped = len(entries) - i
			break
		}
		b.Used += size
		b.Entries = append(b.Entries, e)
	}
	return b
}

// better decides dedupe ties: higher score, then vector over graph, then fewer hops.
func better(a, b ir.UnitRef) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Source != b.Source {
		return a.Source == ir.SourceVector
	}
	return a.Hop < b.Hop
}

func sortedKeys[T any](m map[string]T) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
