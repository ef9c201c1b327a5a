package storage

import (
	"context"
	"time"

	"codask/internal/ir"
	"codask/internal/knowledge"
	"codask/internal/session"
)

// Snapshot is the persisted result of one analysis run.
type Snapshot struct {
	Root      string
	IndexedAt time.Time
	Units     []ir.CodeUnit
	Issues    []ir.Issue
	Edges     []ir.Edge
}

// SnapshotStore persists the code unit store and the dependency graph.
type SnapshotStore interface {
	// SaveSnapshot replaces the stored units, issues, edges and vectors.
	SaveSnapshot(ctx context.Context, snap Snapshot) error

	LoadSnapshot(ctx context.Context) (Snapshot, error)
}

// Store combines snapshot, vector and session persistence.
type Store interface {
	SnapshotStore
	knowledge.Indexer
	session.Store
	Close() error
}
