package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"codask/internal/session"
)

// --- session.Store Implementation ---

func (s *SQLiteStore) Load(ctx context.Context, id string) (session.State, error) {
	var created, active string
	err := s.db.QueryRowContext(ctx, "SELECT created_at, last_active FROM sessions WHERE id = ?", id).Scan(&created, &active)
	if err == sql.ErrNoRows {
		return session.State{}, session.ErrNotFound
	}
	if err != nil {
		return session.State{}, err
	}
	st := session.State{ID: id}
	if st.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return session.State{}, fmt.Errorf("decode created_at of session %s: %w", id, err)
	}
	if st.LastActive, err = time.Parse(time.RFC3339Nano, active); err != nil {
		return session.State{}, fmt.Errorf("decode last_active of session %s: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx, "SELECT payload FROM turns WHERE session_id = ? ORDER BY idx", id)
	if err != nil {
		return session.State{}, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return session.State{}, err
		}
		var t session.Turn
		if err := json.Unmarshal(payload, &t); err != nil {
			return session.State{}, fmt.Errorf("decode turn of session %s: %w", id, err)
		}
		st.Turns = append(st.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return session.State{}, err
	}
	if last, ok := st.LastTurn(); ok {
		fp := last.Fingerprint
		st.LastFingerprint = &fp
	}
	return st, nil
}

// Append upserts the session row and inserts the turn. Existing turns are
// never overwritten.
func (s *SQLiteStore) Append(ctx context.Context, st session.State, turn session.Turn) error {
	payload, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("encode turn: %w", err)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO sessions (id, created_at, last_active) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET last_active=excluded.last_active
	`, st.ID, st.CreatedAt.UTC().Format(time.RFC3339Nano), st.LastActive.UTC().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO turns (session_id, idx, payload) VALUES (?, ?, ?)", st.ID, turn.Index, payload); err != nil {
		return fmt.Errorf("insert turn %d: %w", turn.Index, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, "DELETE FROM turns WHERE session_id = ?", id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM sessions WHERE id = ?", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return session.ErrNotFound
	}
	return tx.Commit()
}

// SessionIDs lists stored sessions, most recently active first.
func (s *SQLiteStore) SessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM sessions ORDER BY last_active DESC, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
