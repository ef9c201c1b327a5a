package storage

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"codask/internal/ir"
	"codask/internal/knowledge"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoSnapshot is returned by LoadSnapshot before the first analysis run.
var ErrNoSnapshot = errors.New("no analysis snapshot stored; run `codask index` first")

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates or opens a SQLite database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// Serialise access; sqlite allows one writer and ":memory:" is per connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS units (
			id TEXT PRIMARY KEY,
			name TEXT,
			package TEXT,
			kind TEXT,
			language TEXT,
			file_path TEXT,
			start_line INTEGER,
			end_line INTEGER,
			start_byte INTEGER,
			end_byte INTEGER,
			signature TEXT,
			doc_summary TEXT,
			content TEXT,
			details JSON
		);`,
		`CREATE TABLE IF NOT EXISTS issues (
			id TEXT PRIMARY KEY,
			unit_id TEXT,
			category TEXT,
			severity TEXT,
			rule TEXT,
			message TEXT,
			suggestion TEXT,
			file_path TEXT,
			start_line INTEGER,
			end_line INTEGER
		);`,
		`CREATE TABLE IF NOT EXISTS edges (
			from_id TEXT,
			to_id TEXT,
			kind TEXT,
			PRIMARY KEY (from_id, to_id, kind)
		);`,
		`CREATE TABLE IF NOT EXISTS vectors (
			namespace TEXT,
			id TEXT,
			unit_id TEXT,
			chunk JSON,
			embedding BLOB,
			PRIMARY KEY (namespace, id)
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			created_at TEXT,
			last_active TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT REFERENCES sessions(id) ON DELETE CASCADE,
			idx INTEGER,
			payload JSON,
			PRIMARY KEY (session_id, idx)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_units_file ON units(file_path);`,
		`CREATE INDEX IF NOT EXISTS idx_issues_unit ON issues(unit_id);`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}
	return nil
}

// unitDetails holds the list-valued unit fields.
type unitDetails struct {
	Calls   []string `json:"calls,omitempty"`
	Imports []string `json:"imports,omitempty"`
}

// --- SnapshotStore Implementation ---

func (s *SQLiteStore) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"units", "issues", "edges", "vectors"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	unitStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO units (id, name, package, kind, language, file_path, start_line, end_line, start_byte, end_byte, signature, doc_summary, content, details)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer unitStmt.Close()
	for _, u := range snap.Units {
		details, err := json.Marshal(unitDetails{Calls: u.Calls, Imports: u.Imports})
		if err != nil {
			return err
		}
		if _, err := unitStmt.ExecContext(ctx, u.ID, u.Name, u.Package, u.Kind, u.Language, u.FilePath,
			u.StartLine, u.EndLine, u.ByteRange.Start, u.ByteRange.End, u.Signature, u.DocSummary, u.Content, details); err != nil {
			return fmt.Errorf("save unit %s: %w", u.ID, err)
		}
	}

	issueStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO issues (id, unit_id, category, severity, rule, message, suggestion, file_path, start_line, end_line)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer issueStmt.Close()
	for _, is := range snap.Issues {
		if _, err := issueStmt.ExecContext(ctx, is.ID, is.UnitID, is.Category, is.Severity, is.Rule, is.Message,
			is.Suggestion, is.Location.FilePath, is.Location.StartLine, is.Location.EndLine); err != nil {
			return fmt.Errorf("save issue %s: %w", is.ID, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO edges (from_id, to_id, kind) VALUES (?, ?, ?)
		ON CONFLICT(from_id, to_id, kind) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer edgeStmt.Close()
	for _, e := range snap.Edges {
		if _, err := edgeStmt.ExecContext(ctx, e.From, e.To, e.Kind); err != nil {
			return err
		}
	}

	indexedAt := snap.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}
	for k, v := range map[string]string{"root": snap.Root, "indexed_at": indexedAt.UTC().Format(time.RFC3339Nano)} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO meta (key, value) VALUES (?, ?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value
		`, k, v); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadSnapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	var indexedAt string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'indexed_at'").Scan(&indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return snap, ErrNoSnapshot
	}
	if err != nil {
		return snap, err
	}
	if snap.IndexedAt, err = time.Parse(time.RFC3339Nano, indexedAt); err != nil {
		return snap, fmt.Errorf("decode indexed_at: %w", err)
	}
	err = s.db.QueryRowContext(ctx, "SELECT value FROM meta WHERE key = 'root'").Scan(&snap.Root)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return snap, fmt.Errorf("failed to read root: %w", err)
	}

	if snap.Units, err = s.loadUnits(ctx); err != nil {
		return snap, err
	}
	if snap.Issues, err = s.loadIssues(ctx); err != nil {
		return snap, err
	}
	if snap.Edges, err = s.loadEdges(ctx); err != nil {
		return snap, err
	}
	return snap, nil
}

func (s *SQLiteStore) loadUnits(ctx context.Context) ([]ir.CodeUnit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, package, kind, language, file_path, start_line, end_line, start_byte, end_byte, signature, doc_summary, content, details
		FROM units ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query units: %w", err)
	}
	defer rows.Close()

	var units []ir.CodeUnit
	for rows.Next() {
		var u ir.CodeUnit
		var details []byte
		if err := rows.Scan(&u.ID, &u.Name, &u.Package, &u.Kind, &u.Language, &u.FilePath, &u.StartLine, &u.EndLine,
			&u.ByteRange.Start, &u.ByteRange.End, &u.Signature, &u.DocSummary, &u.Content, &details); err != nil {
			return nil, fmt.Errorf("failed to scan unit: %w", err)
		}
		if len(details) > 0 {
			var d unitDetails
			if err := json.Unmarshal(details, &d); err == nil {
				u.Calls, u.Imports = d.Calls, d.Imports
			}
		}
		units = append(units, u)
	}
	return units, rows.Err()
}

func (s *SQLiteStore) loadIssues(ctx context.Context) ([]ir.Issue, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unit_id, category, severity, rule, message, suggestion, file_path, start_line, end_line
		FROM issues ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query issues: %w", err)
	}
	defer rows.Close()

	var issues []ir.Issue
	for rows.Next() {
		var is ir.Issue
		if err := rows.Scan(&is.ID, &is.UnitID, &is.Category, &is.Severity, &is.Rule, &is.Message, &is.Suggestion,
			&is.Location.FilePath, &is.Location.StartLine, &is.Location.EndLine); err != nil {
			return nil, fmt.Errorf("failed to scan issue: %w", err)
		}
		issues = append(issues, is)
	}
	return issues, rows.Err()
}

func (s *SQLiteStore) loadEdges(ctx context.Context) ([]ir.Edge, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT from_id, to_id, kind FROM edges ORDER BY from_id, to_id, kind")
	if err != nil {
		return nil, fmt.Errorf("failed to query edges: %w", err)
	}
	defer rows.Close()

	var edges []ir.Edge
	for rows.Next() {
		var e ir.Edge
		if err := rows.Scan(&e.From, &e.To, &e.Kind); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// --- knowledge.Indexer Implementation ---

func (s *SQLiteStore) Add(ctx context.Context, namespace string, items []knowledge.VectorItem) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vectors (namespace, id, unit_id, chunk, embedding) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(namespace, id) DO UPDATE SET unit_id=excluded.unit_id, chunk=excluded.chunk, embedding=excluded.embedding
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		chunkJSON, err := json.Marshal(item.Chunk)
		if err != nil {
			return err
		}
		buf := new(bytes.Buffer)
		if err := binary.Write(buf, binary.LittleEndian, item.Embedding); err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, namespace, item.Chunk.ID, item.Chunk.UnitID, chunkJSON, buf.Bytes()); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// NearestNeighbors scans the namespace and ranks by exact cosine similarity.
func (s *SQLiteStore) NearestNeighbors(ctx context.Context, namespace string, queryVector []float32, topK int) ([]knowledge.Neighbor, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, unit_id, embedding FROM vectors WHERE namespace = ?", namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []knowledge.Neighbor
	for rows.Next() {
		var n knowledge.Neighbor
		var blob []byte
		if err := rows.Scan(&n.ID, &n.UnitID, &blob); err != nil {
			return nil, err
		}
		embedding := make([]float32, len(blob)/4)
		if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &embedding); err != nil {
			continue
		}
		n.Score = knowledge.Cosine(queryVector, embedding)
		hits = append(hits, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return knowledge.TopK(hits, topK), nil
}

// VectorCount reports the number of stored vectors per namespace.
func (s *SQLiteStore) VectorCount(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT namespace, COUNT(*) FROM vectors GROUP BY namespace")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var ns string
		var n int
		if err := rows.Scan(&ns, &n); err != nil {
			return nil, err
		}
		out[ns] = n
	}
	return out, rows.Err()
}
