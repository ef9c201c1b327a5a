// Package index runs the analysis pipeline: crawl, extract, detect, link,
// persist and embed. It also rebuilds the query-time stores from a snapshot.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"codask/internal/catalog"
	"codask/internal/crawler"
	"codask/internal/detector"
	"codask/internal/graph"
	"codask/internal/ir"
	"codask/internal/knowledge"
	"codask/internal/storage"
)

// Indexer orchestrates one analysis run.
type Indexer struct {
	crawler  *crawler.Crawler
	detector detector.Detector
	store    storage.SnapshotStore
	engine   *knowledge.Engine
	logger   *slog.Logger
}

// NewIndexer creates a new indexer. engine may be nil to skip embeddings.
func NewIndexer(c *crawler.Crawler, det detector.Detector, store storage.SnapshotStore, engine *knowledge.Engine, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{crawler: c, detector: det, store: store, engine: engine, logger: logger}
}

// Result summarises an analysis run.
type Result struct {
	Snapshot storage.Snapshot
	Graph    *graph.Graph
	Embedded bool
	Elapsed  time.Duration
}

// Run analyses root and replaces the stored snapshot.
func (i *Indexer) Run(ctx context.Context, root string) (Result, error) {
	start := time.Now()
	abs, err := filepath.Abs(root)
	if err != nil {
		return Result{}, fmt.Errorf("resolve root: %w", err)
	}

	units, err := i.scan(ctx, abs)
	if err != nil {
		return Result{}, err
	}
	i.logger.Info("units extracted", "root", abs, "units", len(units))

	issues := detector.DetectAll(i.detector, units)
	i.logger.Info("issues detected", "issues", len(issues))

	g := graph.Build(units)
	stats := g.Stats()
	i.logger.Info("graph linked", "nodes", stats.Nodes, "edges", stats.Edges, "unresolved", len(g.Unresolved))

	snap := storage.Snapshot{
		Root:      abs,
		IndexedAt: time.Now().UTC(),
		Units:     units,
		Issues:    issues,
		Edges:     g.Edges,
	}
	if err := i.store.SaveSnapshot(ctx, snap); err != nil {
		return Result{}, fmt.Errorf("save snapshot: %w", err)
	}

	res := Result{Snapshot: snap, Graph: g}
	if i.engine != nil {
		if err := i.engine.IndexAll(ctx, units, issues, g); err != nil {
			return res, fmt.Errorf("embed units: %w", err)
		}
		res.Embedded = true
	} else {
		i.logger.Warn("no embedder configured, vector search will be empty")
	}
	res.Elapsed = time.Since(start)
	return res, nil
}

// scan extracts every unit under root with paths made relative to it.
func (i *Indexer) scan(ctx context.Context, root string) ([]ir.CodeUnit, error) {
	var units []ir.CodeUnit
	err := i.crawler.ScanProject(ctx, root, func(u ir.CodeUnit) {
		if rel, err := filepath.Rel(root, u.FilePath); err == nil {
			u.FilePath = filepath.ToSlash(rel)
		}
		units = append(units, u)
	})
	if err != nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}
	sort.Slice(units, func(a, b int) bool { return units[a].ID < units[b].ID })
	return units, nil
}

// Loaded is the read-only query-time view of a snapshot.
type Loaded struct {
	Root      string
	IndexedAt time.Time
	Catalog   *catalog.Catalog
	Graph     *graph.Graph
}

// Load rebuilds the catalog and graph from the stored snapshot.
func Load(ctx context.Context, store storage.SnapshotStore, logger *slog.Logger) (*Loaded, error) {
	if logger == nil {
		logger = slog.Default()
	}
	snap, err := store.LoadSnapshot(ctx)
	if errors.Is(err, storage.ErrNoSnapshot) {
		return nil, fmt.Errorf("%w: run the index command first", err)
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	cat := catalog.New()
	if orphans := cat.Add(snap.Units, snap.Issues); orphans > 0 {
		logger.Warn("issues referencing unknown units skipped", "count", orphans)
	}
	return &Loaded{
		Root:      snap.Root,
		IndexedAt: snap.IndexedAt,
		Catalog:   cat,
		Graph:     graph.FromEdges(snap.Units, snap.Edges),
	}, nil
}
