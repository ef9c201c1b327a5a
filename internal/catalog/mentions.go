package catalog

import (
	"regexp"
	"sort"
	"strings"
)

var (
	backticked   = regexp.MustCompile("`([^`]+)`")
	callLike     = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\(`)
	snakeOrCamel = regexp.MustCompile(`\b([a-z][a-z0-9]*(?:_[a-z0-9]+)+|[a-z]+[A-Z][A-Za-z0-9]*|_[A-Za-z0-9_]+)\b`)
	sourceFile   = regexp.MustCompile(`[\w./-]+\.(?:go|py|js|ts|java|rb|rs|c|cc|cpp|h)\b`)
)

// Mentions are the code identifiers and files a free-text query names
// explicitly and that exist in the catalog.
type Mentions struct {
	Names []string
	Files []string
}

func (m Mentions) Empty() bool { return len(m.Names) == 0 && len(m.Files) == 0 }

// Identifiers extracts the identifier-shaped tokens of a query: backticked
// text, call syntax, snake_case and camelCase words, and source file paths.
func Identifiers(query string) (names, files []string) {
	nameSet := make(map[string]bool)
	fileSet := make(map[string]bool)

	for _, f := range sourceFile.FindAllString(query, -1) {
		fileSet[strings.Trim(f, "./")] = true
	}
	addName := func(s string) {
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "()"))
		if s == "" {
			return
		}
		if sourceFile.MatchString(s) {
			fileSet[strings.Trim(s, "./")] = true
			return
		}
		if i := strings.LastIndex(s, "."); i != -1 {
			s = s[i+1:]
		}
		nameSet[s] = true
	}
	for _, m := range backticked.FindAllStringSubmatch(query, -1) {
		addName(m[1])
	}
	for _, m := range callLike.FindAllStringSubmatch(query, -1) {
		addName(m[1])
	}
	stripped := sourceFile.ReplaceAllString(query, " ")
	for _, m := range snakeOrCamel.FindAllStringSubmatch(stripped, -1) {
		addName(m[1])
	}

	names = make([]string, 0, len(nameSet))
	for n := range nameSet {
		names = append(names, n)
	}
	files = make([]string, 0, len(fileSet))
	for f := range fileSet {
		files = append(files, f)
	}
	sort.Strings(names)
	sort.Strings(files)
	return names, files
}

// Mentions resolves the identifiers of query against the catalog. Unknown
// names and files are dropped.
func (c *Catalog) Mentions(query string) Mentions {
	names, files := Identifiers(query)
	var m Mentions
	for _, n := range names {
		if c.HasName(n) {
			m.Names = append(m.Names, n)
		}
	}
	for _, f := range files {
		if resolved, ok := c.FileFor(f); ok {
			m.Files = append(m.Files, resolved)
		}
	}
	return m
}
