// Package session owns per-session conversation state. Each session is a
// single logical actor: its turns run one at a time on a dedicated lane,
// while different sessions proceed in parallel.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"codask/internal/telemetry"
)

const sweepTimeout = 10 * time.Second

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session manager closed")
)

// Store persists sessions across restarts. Load returns ErrNotFound for
// unknown ids.
type Store interface {
	Load(ctx context.Context, id string) (State, error)
	Append(ctx context.Context, st State, turn Turn) error
	Delete(ctx context.Context, id string) error
}

type entry struct {
	lane chan struct{}

	mu      sync.RWMutex
	state   State
	loaded  bool
	evicted bool
}

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool

	store  Store
	idle   time.Duration
	now    func() time.Time
	logger *slog.Logger

	stop chan struct{}
	done chan struct{}
}

type Option func(*Manager)

func WithStore(s Store) Option {
	return func(m *Manager) { m.store = s }
}

// WithIdleTimeout expires sessions idle for longer than d, including their
// stored copy. Zero disables expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idle = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*entry),
		now:      time.Now,
		logger:   slog.Default(),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.idle > 0 {
		go m.janitor()
	} else {
		close(m.done)
	}
	return m
}

// TurnFunc computes a turn from a snapshot of the session. Returning a nil
// turn leaves the session unchanged.
type TurnFunc func(ctx context.Context, snapshot State) (*Turn, error)

// Do runs fn on the session's lane and appends the turn it returns. The
// append is skipped when ctx was cancelled while fn ran.
func (m *Manager) Do(ctx context.Context, id string, fn TurnFunc) (State, error) {
	e, err := m.acquire(ctx, id, true)
	if err != nil {
		return State{}, err
	}
	defer m.release(e)

	e.mu.RLock()
	snapshot := e.state.Clone()
	e.mu.RUnlock()

	turn, err := fn(ctx, snapshot)
	if err != nil {
		return snapshot, err
	}
	if turn == nil {
		return snapshot, nil
	}
	if err := ctx.Err(); err != nil {
		m.logger.Info("discarding turn of cancelled request", "session_id", id)
		return snapshot, err
	}

	now := m.now()
	t := *turn
	t.Index = len(snapshot.Turns)
	if t.At.IsZero() {
		t.At = now
	}

	next := snapshot
	next.Turns = append(next.Turns, t)
	fp := t.Fingerprint
	next.LastFingerprint = &fp
	next.LastActive = now

	if m.store != nil {
		if err := m.store.Append(ctx, next, t); err != nil {
			return snapshot, fmt.Errorf("persist turn: %w", err)
		}
	}
	e.mu.Lock()
	e.state = next
	e.mu.Unlock()
	return next.Clone(), nil
}

// History returns a copy of the session's turns, oldest first.
func (m *Manager) History(ctx context.Context, id string) ([]Turn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := m.sessions[id]
	m.mu.Unlock()
	if ok {
		e.mu.RLock()
		loaded, evicted := e.loaded, e.evicted
		turns := append([]Turn(nil), e.state.Turns...)
		e.mu.RUnlock()
		if loaded && !evicted {
			return turns, nil
		}
	}

	e, err := m.acquire(ctx, id, false)
	if err != nil {
		return nil, err
	}
	defer m.release(e)
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Turn(nil), e.state.Turns...), nil
}

// Reset clears a session's history. Resetting an unknown session is a no-op.
func (m *Manager) Reset(ctx context.Context, id string) error {
	e, err := m.acquire(ctx, id, true)
	if err != nil {
		return err
	}
	defer m.release(e)

	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("delete session: %w", err)
		}
	}
	now := m.now()
	e.mu.Lock()
	e.state = State{ID: id, CreatedAt: now, LastActive: now}
	e.mu.Unlock()
	m.logger.Info("session reset", "session_id", id)
	return nil
}

// Len is the number of sessions held in memory.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// acquire takes the lane of id, loading the session on first use. With
// create unset an unknown session yields ErrNotFound.
func (m *Manager) acquire(ctx context.Context, id string, create bool) (*entry, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		e, ok := m.sessions[id]
		if !ok {
			e = &entry{lane: make(chan struct{}, 1)}
			m.sessions[id] = e
			telemetry.ActiveSessions.Set(float64(len(m.sessions)))
		}
		m.mu.Unlock()

		select {
		case e.lane <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if e.evicted {
			<-e.lane
			continue
		}
		if e.loaded {
			return e, nil
		}

		st, err := m.load(ctx, id)
		if err == nil && m.expired(st) {
			err = m.expire(ctx, id)
		}
		if errors.Is(err, ErrNotFound) && create {
			now := m.now()
			st, err = State{ID: id, CreatedAt: now, LastActive: now}, nil
		}
		if err != nil {
			m.drop(id, e)
			<-e.lane
			return nil, err
		}
		e.mu.Lock()
		e.state = st
		e.loaded = true
		e.mu.Unlock()
		return e, nil
	}
}

func (m *Manager) release(e *entry) {
	<-e.lane
}

func (m *Manager) load(ctx context.Context, id string) (State, error) {
	if m.store == nil {
		return State{}, ErrNotFound
	}
	st, err := m.store.Load(ctx, id)
	if err != nil {
		return State{}, err
	}
	m.logger.Debug("session restored", "session_id", id, "turns", len(st.Turns))
	return st, nil
}

func (m *Manager) expired(st State) bool {
	return m.idle > 0 && st.LastActive.Before(m.now().Add(-m.idle))
}

// expire deletes the persisted copy of an idle session and reports it as
// ErrNotFound. The caller holds the session's lane.
func (m *Manager) expire(ctx context.Context, id string) error {
	if m.store != nil {
		if err := m.store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("expire session: %w", err)
		}
	}
	m.logger.Debug("session expired", "session_id", id)
	return ErrNotFound
}

// drop removes e from the map; the caller holds its lane.
func (m *Manager) drop(id string, e *entry) {
	e.mu.Lock()
	e.evicted = true
	e.mu.Unlock()
	m.mu.Lock()
	if m.sessions[id] == e {
		delete(m.sessions, id)
	}
	telemetry.ActiveSessions.Set(float64(len(m.sessions)))
	m.mu.Unlock()
}

// Sweep expires sessions idle for longer than the idle timeout, in memory
// and in the store, and returns how many were expired. Sessions with a turn
// in flight are skipped.
func (m *Manager) Sweep() int {
	if m.idle <= 0 {
		return 0
	}
	ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
	defer cancel()

	m.mu.Lock()
	candidates := make(map[string]*entry, len(m.sessions))
	for id, e := range m.sessions {
		candidates[id] = e
	}
	m.mu.Unlock()

	evicted := 0
	for id, e := range candidates {
		select {
		case e.lane <- struct{}{}:
		default:
			continue
		}
		e.mu.RLock()
		stale := e.loaded && m.expired(e.state)
		e.mu.RUnlock()
		if stale {
			if err := m.expire(ctx, id); !errors.Is(err, ErrNotFound) {
				m.logger.Warn("failed to delete expired session", "session_id", id, "error", err)
			}
			m.drop(id, e)
			evicted++
		}
		<-e.lane
	}
	return evicted
}

func (m *Manager) janitor() {
	defer close(m.done)
	interval := m.idle / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if n := m.Sweep(); n > 0 {
				m.logger.Info("expired idle sessions", "count", n)
			}
		}
	}
}

// Close stops the janitor and rejects further calls.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	close(m.stop)
	<-m.done
	return nil
}
