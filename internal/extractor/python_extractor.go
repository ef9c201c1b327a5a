package extractor

import (
	"path/filepath"
	"strings"

	"codask/internal/ir"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// PythonExtractor implements LanguageExtractor for Python.
type PythonExtractor struct{}

var pythonBuiltins = map[string]bool{
	"print": true, "len": true, "range": true, "str": true, "int": true, "float": true, "bool": true,
	"list": true, "dict": true, "set": true, "tuple": true, "isinstance": true, "super": true,
	"enumerate": true, "zip": true, "open": true, "getattr": true, "setattr": true, "hasattr": true,
	"sorted": true, "min": true, "max": true, "sum": true, "any": true, "all": true, "type": true,
}

func (p *PythonExtractor) Name() string { return "python" }

func (p *PythonExtractor) GetLanguage() *sitter.Language {
	return python.GetLanguage()
}

func (p *PythonExtractor) GetQuery() string {
	return `(function_definition) @func`
}

func (p *PythonExtractor) CallQuery() string {
	return `(call function: (_) @callee)`
}

func (p *PythonExtractor) ExtractUnit(node *sitter.Node, sourceCode []byte, filepath string, packageName string) *ir.CodeUnit {
	nameNode := node.ChildByFieldName("name")
	if nameNode == nil {
		return nil
	}
	name := nameNode.Content(sourceCode)

	kind := "function"
	if p.enclosingClass(node) != nil {
		kind = "method"
	}

	unit := newUnit(node, sourceCode, filepath, name, kind)
	unit.Package = packageName

	bodyNode := node.ChildByFieldName("body")
	if bodyNode != nil {
		sig := strings.TrimSpace(string(sourceCode[node.StartByte():bodyNode.StartByte()]))
		unit.Signature = strings.TrimSuffix(sig, ":")
		unit.DocSummary = summarize(p.docstring(bodyNode, sourceCode))
	} else {
		unit.Signature = strings.TrimSpace(unit.Content)
	}
	return unit
}

func (p *PythonExtractor) enclosingClass(node *sitter.Node) *sitter.Node {
	parent := node.Parent()
	if parent != nil && parent.Type() == "decorated_definition" {
		parent = parent.Parent()
	}
	if parent == nil || parent.Type() != "block" {
		return nil
	}
	if cls := parent.Parent(); cls != nil && cls.Type() == "class_definition" {
		return cls
	}
	return nil
}

func (p *PythonExtractor) docstring(body *sitter.Node, sourceCode []byte) string {
	first := body.NamedChild(0)
	if first == nil || first.Type() != "expression_statement" {
		return ""
	}
	str := first.NamedChild(0)
	if str == nil || str.Type() != "string" {
		return ""
	}
	raw := str.Content(sourceCode)
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if strings.HasPrefix(raw, q) && strings.HasSuffix(raw, q) && len(raw) >= 2*len(q) {
			return strings.TrimSpace(raw[len(q) : len(raw)-len(q)])
		}
	}
	return strings.TrimSpace(raw)
}

func (p *PythonExtractor) CalleeName(node *sitter.Node, sourceCode []byte) string {
	switch node.Type() {
	case "identifier":
		name := node.Content(sourceCode)
		if pythonBuiltins[name] {
			return ""
		}
		return name
	case "attribute":
		if attr := node.ChildByFieldName("attribute"); attr != nil {
			return attr.Content(sourceCode)
		}
	}
	return ""
}

// PackageName uses the module name derived from the file name.
func (p *PythonExtractor) PackageName(root *sitter.Node, sourceCode []byte, path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func (p *PythonExtractor) Imports(root *sitter.Node, sourceCode []byte) []string {
	query, err := sitter.NewQuery([]byte(`
		(import_statement name: (_) @mod)
		(import_from_statement module_name: (_) @mod)
	`), python.GetLanguage())
	if err != nil {
		return nil
	}
	defer query.Close()
	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(query, root)

	var imports []string
	seen := make(map[string]bool)
	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		for _, c := range m.Captures {
			mod := c.Node.Content(sourceCode)
			if idx := strings.Index(mod, " as "); idx != -1 {
				mod = mod[:idx]
			}
			mod = strings.TrimSpace(mod)
			if mod == "" || seen[mod] {
				continue
			}
			seen[mod] = true
			imports = append(imports, mod)
		}
	}
	return imports
}
