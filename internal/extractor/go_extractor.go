package extractor

import (
	"strings"

	"codask/internal/ir"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
)

// GoExtractor implements LanguageExtractor for Go.
type GoExtractor struct{}

var goBuiltins = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true, "copy": true,
	"delete": true, "imag": true, "len": true, "make": true, "max": true, "min": true, "new": true,
	"panic": true, "print": true, "println": true, "real": true, "recover": true,
}

func (g *GoExtractor) Name() string { return "go" }

func (g *GoExtractor) GetLanguage() *sitter.Language {
	return golang.GetLanguage()
}

func (g *GoExtractor) GetQuery() string {
	return `
		(function_declaration) @func
		(method_declaration) @func
	`
}

func (g *GoExtractor) CallQuery() string {
	return `(call_expression function: (_) @callee)`
}

func (g *GoExtractor) ExtractUnit(node *sitter.Node, sourceCode []byte, filepath string, packageName string) *ir.CodeUnit {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := nameNode.Content(sourceCode)

	kind := "function"
	if node.Type() == "method_declaration" {
		kind = "method"
	}

	unit := newUnit(node, sourceCode, filepath, name, kind)
	unit.Package = packageName
	unit.DocSummary = summarize(g.extractDocComment(node, sourceCode))

	if bodyNode := node.ChildByFieldName("body"); bodyNode != nil {
		unit.Signature = strings.TrimSpace(string(sourceCode[node.StartByte():bodyNode.StartByte()]))
	} else {
		unit.Signature = strings.TrimSpace(unit.Content)
	}
	return unit
}

// CalleeName resolves `foo(...)` to foo and `x.y.Foo(...)` to Foo. Builtins and
// conversions through parenthesised types are ignored.
func (g *GoExtractor) CalleeName(node *sitter.Node, sourceCode []byte) string {
	switch node.Type() {
	case "identifier":
		name := node.Content(sourceCode)
		if goBuiltins[name] {
			return ""
		}
		return name
	case "selector_expression":
		if field := node.ChildByFieldName("field"); field != nil {
			return field.Content(sourceCode)
		}
	case "generic_type", "index_expression":
		if inner := node.NamedChild(0); inner != nil {
			return g.CalleeName(inner, sourceCode)
		}
	}
	return ""
}

func (g *GoExtractor) PackageName(root *sitter.Node, sourceCode []byte, filepath string) string {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() != "package_clause" {
			continue
		}
		if id := child.NamedChild(0); id != nil {
			return id.Content(sourceCode)
		}
	}
	return ""
}

func (g *GoExtractor) Imports(root *sitter.Node, sourceCode []byte) []string {
	query, err := sitter.NewQuery([]byte(`(import_spec path: (_) @path)`), golang.GetLanguage())
	if err != nil {
		return nil
	}
	defer query.Close()
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, root)

	var imports []string
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			path := strings.Trim(c.Node.Content(sourceCode), "\"`")
			if path != "" {
				imports = append(imports, path)
			}
		}
	}
	return imports
}

func (g *GoExtractor) extractDocComment(node *sitter.Node, sourceCode []byte) string {
	var commentLines []string
	currentNode := node
	for {
		prevSibling := currentNode.PrevSibling()
		if prevSibling == nil || (currentNode.StartPoint().Row-prevSibling.EndPoint().Row > 1) {
			break
		}
		if prevSibling.Type() != "comment" {
			break
		}
		commentLines = append([]string{prevSibling.Content(sourceCode)}, commentLines...)
		currentNode = prevSibling
	}
	return cleanDocComment(strings.Join(commentLines, "\n"))
}

func cleanDocComment(rawComment string) string {
	if rawComment == "" {
		return ""
	}
	lines := strings.Split(rawComment, "\n")
	var cleaned []string
	for _, l := range lines {
		l = strings.TrimSpace(l)
		l = strings.TrimPrefix(l, "//")
		l = strings.TrimPrefix(l, "/*")
		l = strings.TrimSuffix(l, "*/")
		cleaned = append(cleaned, strings.TrimSpace(l))
	}
	return strings.Join(cleaned, "\n")
}
