package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"codask/internal/ir"
	"codask/internal/knowledge"
	"codask/internal/retrieval"
	"codask/internal/session"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testUnit(id, name, file string, start, end int) ir.CodeUnit {
	return ir.CodeUnit{
		ID: id, Name: name, FilePath: file, Language: "go", Package: "main", Kind: "function",
		StartLine: start, EndLine: end, ByteRange: ir.ByteRange{Start: start * 10, End: end * 10},
		Signature: "func " + name + "()", Content: "func " + name + "() {}",
		Calls: []string{"helper"}, Imports: []string{"fmt"},
	}
}

func TestSQLiteStore_LoadSnapshotBeforeIndex(t *testing.T) {
	_, err := openStore(t).LoadSnapshot(context.Background())
	assert.ErrorIs(t, err, ErrNoSnapshot)
}

func TestSQLiteStore_SnapshotRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	a := testUnit("a", "FuncA", "file_a.go", 1, 10)
	b := testUnit("b", "FuncB", "file_b.go", 1, 10)
	issue := ir.Issue{
		ID: "issue:1", UnitID: "a", Category: ir.CategorySecurity, Severity: ir.SeverityHigh, Rule: "hardcoded_secret",
		Message: "secret", Location: ir.Location{FilePath: "file_a.go", StartLine: 3, EndLine: 3},
	}
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{
		Root: "/repo", IndexedAt: at,
		Units:  []ir.CodeUnit{b, a},
		Issues: []ir.Issue{issue},
		Edges:  []ir.Edge{{From: "a", To: "b", Kind: ir.EdgeCalls}},
	}))

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "/repo", snap.Root)
	assert.True(t, at.Equal(snap.IndexedAt))
	assert.Equal(t, []ir.CodeUnit{a, b}, snap.Units)
	assert.Equal(t, []ir.Issue{issue}, snap.Issues)
	assert.Equal(t, []ir.Edge{{From: "a", To: "b", Kind: ir.EdgeCalls}}, snap.Edges)
}

func TestSQLiteStore_SnapshotReplacesPrevious(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	a := testUnit("a", "FuncA", "file_a.go", 1, 10)
	b := testUnit("b", "FuncB", "file_b.go", 1, 10)
	c := testUnit("c", "FuncC", "file_c.go", 1, 10)
	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{Units: []ir.CodeUnit{a, b}, Edges: []ir.Edge{{From: "a", To: "b", Kind: ir.EdgeCalls}}}))
	require.NoError(t, store.Add(ctx, knowledge.NamespaceUnits, []knowledge.VectorItem{
		{Chunk: knowledge.Chunk{ID: "a", UnitID: "a"}, Embedding: []float32{1, 0}},
	}))

	require.NoError(t, store.SaveSnapshot(ctx, Snapshot{Units: []ir.CodeUnit{b, c}, Edges: []ir.Edge{{From: "c", To: "b", Kind: ir.EdgeCalls}}}))

	snap, err := store.LoadSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap.Units, 2)
	assert.Equal(t, "b", snap.Units[0].ID)
	assert.Equal(t, "c", snap.Units[1].ID)
	assert.Equal(t, []ir.Edge{{From: "c", To: "b", Kind: ir.EdgeCalls}}, snap.Edges)

	counts, err := store.VectorCount(ctx)
	require.NoError(t, err)
	assert.Empty(t, counts, "vectors of the previous snapshot are cleared")
}

func TestSQLiteStore_NearestNeighbors(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	require.NoError(t, store.Add(ctx, knowledge.NamespaceUnits, []knowledge.VectorItem{
		{Chunk: knowledge.Chunk{ID: "a", UnitID: "a"}, Embedding: []float32{1, 0, 0}},
		{Chunk: knowledge.Chunk{ID: "b", UnitID: "b"}, Embedding: []float32{0.8, 0.2, 0}},
		{Chunk: knowledge.Chunk{ID: "c", UnitID: "c"}, Embedding: []float32{0, 0, 1}},
	}))
	require.NoError(t, store.Add(ctx, knowledge.NamespaceIssues, []knowledge.VectorItem{
		{Chunk: knowledge.Chunk{ID: "issue:1", UnitID: "c"}, Embedding: []float32{1, 0, 0}},
	}))

	hits, err := store.NearestNeighbors(ctx, knowledge.NamespaceUnits, []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "a", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-6)
	assert.Equal(t, "b", hits[1].ID)

	issueHits, err := store.NearestNeighbors(ctx, knowledge.NamespaceIssues, []float32{1, 0, 0}, 5)
	require.NoError(t, err)
	require.Len(t, issueHits, 1)
	assert.Equal(t, "issue:1", issueHits[0].ID)
	assert.Equal(t, "c", issueHits[0].UnitID)

	counts, err := store.VectorCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{knowledge.NamespaceUnits: 3, knowledge.NamespaceIssues: 1}, counts)
}

func TestSQLiteStore_Sessions(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.Load(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	st := session.State{ID: "s1", CreatedAt: created, LastActive: created}
	first := session.Turn{
		Index: 0, Query: "what does parse_config call?", Mode: session.ModeRefresh, Answer: "load_file",
		Bundle:      retrieval.Bundle{Query: "what does parse_config call?", Budget: 100},
		Fingerprint: session.Fingerprint{Query: "what does parse_config call?", Embedding: []float32{0.5, 0.5}},
		At:          created,
	}
	st.Turns = append(st.Turns, first)
	require.NoError(t, store.Append(ctx, st, first))

	second := session.Turn{Index: 1, Query: "and its caller?", Mode: session.ModeMerge, Fingerprint: session.Fingerprint{Query: "and its caller?"}, At: created.Add(time.Minute)}
	st.LastActive = second.At
	require.NoError(t, store.Append(ctx, st, second))
	assert.Error(t, store.Append(ctx, st, second), "turns are append-only")

	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, loaded.Turns, 2)
	assert.Equal(t, first.Query, loaded.Turns[0].Query)
	assert.Equal(t, []float32{0.5, 0.5}, loaded.Turns[0].Fingerprint.Embedding)
	assert.Equal(t, session.ModeMerge, loaded.Turns[1].Mode)
	require.NotNil(t, loaded.LastFingerprint)
	assert.Equal(t, "and its caller?", loaded.LastFingerprint.Query)
	assert.True(t, created.Equal(loaded.CreatedAt))
	assert.True(t, second.At.Equal(loaded.LastActive))

	ids, err := store.SessionIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)

	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Load(ctx, "s1")
	assert.ErrorIs(t, err, session.ErrNotFound)
	assert.ErrorIs(t, store.Delete(ctx, "s1"), session.ErrNotFound)
}

func TestSQLiteStore_CorruptSessionTimestamp(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	st := session.State{ID: "s1", CreatedAt: now, LastActive: now}
	require.NoError(t, store.Append(ctx, st, session.Turn{Index: 0, Query: "q", At: now}))
	_, err := store.db.ExecContext(ctx, "UPDATE sessions SET last_active = 'yesterday' WHERE id = ?", "s1")
	require.NoError(t, err)

	_, err = store.Load(ctx, "s1")
	require.Error(t, err)
	assert.NotErrorIs(t, err, session.ErrNotFound)
	assert.ErrorContains(t, err, "last_active")
}

func TestSQLiteStore_BacksSessionManager(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	m := session.NewManager(session.WithStore(store))
	_, err := m.Do(ctx, "s1", func(ctx context.Context, st session.State) (*session.Turn, error) {
		return &session.Turn{Query: "q1", Answer: "a1"}, nil
	})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	restored := session.NewManager(session.WithStore(store))
	defer restored.Close()
	hist, err := restored.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "a1", hist[0].Answer)
}
