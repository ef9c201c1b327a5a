package extractor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"codask/internal/ir"

	sitter "github.com/smacker/go-tree-sitter"
)

// Extractor orchestrates the extraction process using language-specific extractors.
type Extractor struct {
	langExtractor LanguageExtractor
	langName      string
}

// NewExtractor creates a new extractor for a given language.
func NewExtractor(lang string) (*Extractor, error) {
	var langExt LanguageExtractor
	switch lang {
	case "go":
		langExt = &GoExtractor{}
	case "python":
		langExt = &PythonExtractor{}
	default:
		return nil, fmt.Errorf("unsupported language: %s", lang)
	}
	return &Extractor{langExtractor: langExt, langName: lang}, nil
}

// Language returns the language this extractor handles.
func (e *Extractor) Language() string {
	return e.langName
}

// LanguageForPath maps a file extension to a supported language, or "".
func LanguageForPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".go":
		return "go"
	case ".py":
		return "python"
	}
	return ""
}

// ExtractFromFile parses a single source file and extracts all function-level code units.
func (e *Extractor) ExtractFromFile(path string) ([]ir.CodeUnit, error) {
	sourceCode, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}
	return e.ExtractSource(context.Background(), path, sourceCode)
}

// ExtractSource extracts units from an in-memory source buffer.
func (e *Extractor) ExtractSource(ctx context.Context, path string, sourceCode []byte) ([]ir.CodeUnit, error) {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(e.langExtractor.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, sourceCode)
	if err != nil {
		return nil, fmt.Errorf("failed to parse file %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	packageName := e.langExtractor.PackageName(root, sourceCode, path)
	imports := e.langExtractor.Imports(root, sourceCode)

	query, err := sitter.NewQuery([]byte(e.langExtractor.GetQuery()), e.langExtractor.GetLanguage())
	if err != nil {
		return nil, fmt.Errorf("failed to create query: %w", err)
	}
	defer query.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, root)

	var units []ir.CodeUnit
	seen := make(map[string]bool)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			unit := e.langExtractor.ExtractUnit(c.Node, sourceCode, path, packageName)
			if unit == nil || seen[unit.ID] {
				continue
			}
			seen[unit.ID] = true
			unit.Language = e.langName
			unit.Imports = imports
			calls, err := e.extractCalls(c.Node, sourceCode)
			if err != nil {
				return nil, err
			}
			unit.Calls = calls
			units = append(units, *unit)
		}
	}

	sort.Slice(units, func(i, j int) bool {
		return units[i].ByteRange.Start < units[j].ByteRange.Start
	})
	return units, nil
}

// extractCalls collects the distinct callee names inside a function node, in source order.
func (e *Extractor) extractCalls(fn *sitter.Node, sourceCode []byte) ([]string, error) {
	query, err := sitter.NewQuery([]byte(e.langExtractor.CallQuery()), e.langExtractor.GetLanguage())
	if err != nil {
		return nil, fmt.Errorf("failed to create call query: %w", err)
	}
	defer query.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, fn)

	var calls []string
	seen := make(map[string]bool)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			name := e.langExtractor.CalleeName(c.Node, sourceCode)
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			calls = append(calls, name)
		}
	}
	return calls, nil
}

func newUnit(node *sitter.Node, sourceCode []byte, path, name, kind string) *ir.CodeUnit {
	r := ir.ByteRange{Start: int(node.StartByte()), End: int(node.EndByte())}
	return &ir.CodeUnit{
		ID:        ir.UnitID(path, name, r),
		FilePath:  path,
		Name:      name,
		Kind:      kind,
		ByteRange: r,
		StartLine: int(node.StartPoint().Row + 1),
		EndLine:   int(node.EndPoint().Row + 1),
		Content:   node.Content(sourceCode),
	}
}

// summarize keeps the first paragraph of a doc comment.
func summarize(doc string) string {
	doc = strings.TrimSpace(doc)
	if doc == "" {
		return ""
	}
	if idx := strings.Index(doc, "\n\n"); idx != -1 {
		doc = doc[:idx]
	}
	return strings.Join(strings.Fields(doc), " ")
}
