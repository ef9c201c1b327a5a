package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"codask/internal/graph"
	"codask/internal/ir"
)

// Chunk is the embeddable view of a code unit or an issue.
type Chunk struct {
	ID           string   `json:"id"`
	UnitID       string   `json:"unit_id"`
	Kind         string   `json:"kind"`
	Name         string   `json:"name"`
	Package      string   `json:"package"`
	FilePath     string   `json:"file_path"`
	Description  string   `json:"description"`
	Signature    string   `json:"signature"`
	Dependencies []string `json:"dependencies,omitempty"`
	UsedBy       []string `json:"used_by,omitempty"`
}

// ToEmbeddableText converts the structured chunk into a single string optimized for embedding models.
func (c Chunk) ToEmbeddableText() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Symbol: %s (%s) in package %s\n", c.Name, c.Kind, c.Package)
	fmt.Fprintf(&sb, "File: %s\n", c.FilePath)
	if c.Description != "" {
		fmt.Fprintf(&sb, "Context: %s\n", c.Description)
	}
	if c.Signature != "" {
		fmt.Fprintf(&sb, "Definition: %s\n", c.Signature)
	}
	if len(c.Dependencies) > 0 {
		fmt.Fprintf(&sb, "Depends on: %s\n", strings.Join(c.Dependencies, ", "))
	}
	if len(c.UsedBy) > 0 {
		fmt.Fprintf(&sb, "Used by: %s\n", strings.Join(c.UsedBy, ", "))
	}
	return sb.String()
}

// Engine turns units and issues into vectors and writes them to an Indexer.
type Engine struct {
	embedder Embedder
	index    Indexer
	logger   *slog.Logger
}

func NewEngine(em Embedder, idx Indexer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{embedder: em, index: idx, logger: logger}
}

// UnitChunk builds the chunk of a unit; g may be nil.
func UnitChunk(u ir.CodeUnit, g *graph.Graph) Chunk {
	c := Chunk{
		ID:          u.ID,
		UnitID:      u.ID,
		Kind:        u.Kind,
		Name:        u.Name,
		Package:     u.Package,
		FilePath:    u.FilePath,
		Description: u.DocSummary,
		Signature:   u.Signature,
	}
	if g != nil {
		c.Dependencies = nodeNames(g, g.GetDependencies(u.ID))
		c.UsedBy = nodeNames(g, g.GetDependents(u.ID))
	}
	return c
}

// IssueChunk builds the chunk of an issue, described in terms of its unit.
func IssueChunk(is ir.Issue, u ir.CodeUnit) Chunk {
	return Chunk{
		ID:          is.ID,
		UnitID:      is.UnitID,
		Kind:        "issue:" + string(is.Category),
		Name:        u.Name,
		Package:     u.Package,
		FilePath:    is.Location.FilePath,
		Description: fmt.Sprintf("[%s] %s %s", is.Severity, is.Message, is.Suggestion),
		Signature:   u.Signature,
	}
}

func nodeNames(g *graph.Graph, ids []string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, id := range ids {
		n, ok := g.Nodes[id]
		if !ok || seen[n.Name] {
			continue
		}
		seen[n.Name] = true
		names = append(names, n.Name)
	}
	return names
}

// IndexAll embeds every unit and issue into the units and issues namespaces.
func (e *Engine) IndexAll(ctx context.Context, units []ir.CodeUnit, issues []ir.Issue, g *graph.Graph) error {
	if e.embedder == nil || e.index == nil {
		return fmt.Errorf("embedder or indexer not initialized")
	}

	byID := make(map[string]ir.CodeUnit, len(units))
	unitChunks := make([]Chunk, 0, len(units))
	for _, u := range units {
		byID[u.ID] = u
		unitChunks = append(unitChunks, UnitChunk(u, g))
	}
	if err := e.indexChunks(ctx, NamespaceUnits, unitChunks); err != nil {
		return err
	}

	issueChunks := make([]Chunk, 0, len(issues))
	for _, is := range issues {
		u, ok := byID[is.UnitID]
		if !ok {
			e.logger.Warn("issue without unit skipped", "issue_id", is.ID, "unit_id", is.UnitID)
			continue
		}
		issueChunks = append(issueChunks, IssueChunk(is, u))
	}
	return e.indexChunks(ctx, NamespaceIssues, issueChunks)
}

func (e *Engine) indexChunks(ctx context.Context, namespace string, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	texts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		texts = append(texts, c.ToEmbeddableText())
	}

	vectors, err := e.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: got %d, expected %d", len(vectors), len(chunks))
	}

	items := make([]VectorItem, 0, len(chunks))
	for i, chunk := range chunks {
		items = append(items, VectorItem{Chunk: chunk, Embedding: vectors[i]})
	}
	e.logger.Info("indexed chunks", "namespace", namespace, "count", len(items))
	return e.index.Add(ctx, namespace, items)
}
