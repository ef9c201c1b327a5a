package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// ByteRange is a half-open [Start, End) byte span inside a source file.
type ByteRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r ByteRange) Len() int {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// CodeUnit is a parsed, addressable function-level slice of source.
// Units are immutable once extracted; everything downstream refers to them by ID.
type CodeUnit struct {
	ID         string    `json:"id"`
	FilePath   string    `json:"file_path"`
	Language   string    `json:"language"`
	Package    string    `json:"package,omitempty"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"` // function, method
	ByteRange  ByteRange `json:"byte_range"`
	StartLine  int       `json:"start_line"`
	EndLine    int       `json:"end_line"`
	Signature  string    `json:"signature"`
	DocSummary string    `json:"doc_summary,omitempty"`
	Content    string    `json:"content"`
	Calls      []string  `json:"calls,omitempty"`
	Imports    []string  `json:"imports,omitempty"`
}

// Location renders "path:start-end".
func (u CodeUnit) Location() string {
	return fmt.Sprintf("%s:%d-%d", u.FilePath, u.StartLine, u.EndLine)
}

// UnitID builds the stable identity of a unit from (file path, name, byte range).
func UnitID(filePath, name string, r ByteRange) string {
	fingerprint := strings.Join([]string{
		filepath.ToSlash(filePath),
		name,
		fmt.Sprintf("%d-%d", r.Start, r.End),
	}, "|")
	sum := sha256.Sum256([]byte(fingerprint))
	return fmt.Sprintf("%s:%s:%s", filepath.Base(filePath), name, hex.EncodeToString(sum[:8]))
}

type Category string

const (
	CategorySecurity      Category = "security"
	CategoryComplexity    Category = "complexity"
	CategoryDocumentation Category = "documentation"
	CategoryDuplication   Category = "duplication"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	}
	return 0
}

// Location points at the lines an issue or a proposed fix refers to.
type Location struct {
	FilePath  string `json:"file_path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

func (l Location) String() string {
	return fmt.Sprintf("%s:%d-%d", l.FilePath, l.StartLine, l.EndLine)
}

// Issue is a finding attached to exactly one code unit.
type Issue struct {
	ID         string   `json:"id"`
	UnitID     string   `json:"unit_id"`
	Category   Category `json:"category"`
	Severity   Severity `json:"severity"`
	Rule       string   `json:"rule"`
	Message    string   `json:"message"`
	Suggestion string   `json:"suggestion,omitempty"`
	Location   Location `json:"location"`
}

// IssueID derives a deterministic issue id from its unit and rule.
func IssueID(unitID, rule string) string {
	sum := sha256.Sum256([]byte(unitID + "|" + rule))
	return "issue:" + hex.EncodeToString(sum[:8])
}

type EdgeKind string

const (
	EdgeCalls   EdgeKind = "calls"
	EdgeImports EdgeKind = "imports"
)

// Edge is a directed dependency between two units. Cycles are allowed.
type Edge struct {
	From string   `json:"from"`
	To   string   `json:"to"`
	Kind EdgeKind `json:"kind"`
}

type RefSource string

const (
	SourceVector RefSource = "vector"
	SourceGraph  RefSource = "graph-expansion"
)

// UnitRef is a transient retrieval hit.
type UnitRef struct {
	UnitID string    `json:"unit_id"`
	Score  float64   `json:"score"`
	Source RefSource `json:"source"`
	Hop    int       `json:"hop,omitempty"`
}
