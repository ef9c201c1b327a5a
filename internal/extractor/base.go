package extractor

import (
	"codask/internal/ir"

	sitter "github.com/smacker/go-tree-sitter"
)

// LanguageExtractor defines the interface that each language parser must implement.
type LanguageExtractor interface {
	// Name is the language tag stored on every unit (e.g. "go").
	Name() string
	GetLanguage() *sitter.Language
	// GetQuery captures every function-level node as @func.
	GetQuery() string
	// CallQuery captures the callee expression of every call as @callee.
	CallQuery() string
	ExtractUnit(node *sitter.Node, sourceCode []byte, filepath string, packageName string) *ir.CodeUnit
	CalleeName(node *sitter.Node, sourceCode []byte) string
	PackageName(root *sitter.Node, sourceCode []byte, filepath string) string
	Imports(root *sitter.Node, sourceCode []byte) []string
}
