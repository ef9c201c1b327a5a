package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu       sync.Mutex
	sessions map[string]State
	appends  int
	failNext error
}

func newMemStore() *memStore { return &memStore{sessions: make(map[string]State)} }

func (s *memStore) Load(ctx context.Context, id string) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.sessions[id]
	if !ok {
		return State{}, ErrNotFound
	}
	return st.Clone(), nil
}

func (s *memStore) Append(ctx context.Context, st State, turn Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}
	s.appends++
	s.sessions[st.ID] = st.Clone()
	return nil
}

func (s *memStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func answer(q string) TurnFunc {
	return func(ctx context.Context, st State) (*Turn, error) {
		return &Turn{Query: q, Answer: "re: " + q, Mode: ModeRefresh, Fingerprint: Fingerprint{Query: q, Embedding: []float32{1}}}, nil
	}
}

func TestManager_AppendOnly(t *testing.T) {
	m := NewManager()
	defer m.Close()
	ctx := context.Background()

	_, err := m.Do(ctx, "s1", answer("first"))
	require.NoError(t, err)
	st, err := m.Do(ctx, "s1", answer("second"))
	require.NoError(t, err)

	require.Len(t, st.Turns, 2)
	assert.Equal(t, 0, st.Turns[0].Index)
	assert.Equal(t, 1, st.Turns[1].Index)
	require.NotNil(t, st.LastFingerprint)
	assert.Equal(t, "second", st.LastFingerprint.Query)

	hist, err := m.History(ctx, "s1")
	require.NoError(t, err)
	hist[0].Answer = "tampered"

	again, err := m.History(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "re: first", again[0].Answer)
	assert.Equal(t, "first", again[0].Query)
}

func TestManager_SnapshotIsIsolated(t *testing.T) {
	m := NewManager()
	defer m.Close()
	ctx := context.Background()
	_, err := m.Do(ctx, "s1", answer("first"))
	require.NoError(t, err)

	_, err = m.Do(ctx, "s1", func(ctx context.Context, st State) (*Turn, error) {
		st.Turns[0].Query = "rewritten"
		return nil, nil
	})
	require.NoError(t, err)

	hist, _ := m.History(ctx, "s1")
	assert.Equal(t, "first", hist[0].Query)
}

func TestManager_SerializesTurnsPerSession(t *testing.T) {
	m := NewManager()
	defer m.Close()

	var inFlight, maxInFlight atomic.Int32
	slow := func(ctx context.Context, st State) (*Turn, error) {
		n := inFlight.Add(1)
		for {
			cur := maxInFlight.Load()
			if n <= cur || maxInFlight.CompareAndSwap(cur, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return &Turn{Query: "q"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Do(context.Background(), "shared", slow)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, maxInFlight.Load())
	hist, err := m.History(context.Background(), "shared")
	require.NoError(t, err)
	require.Len(t, hist, 10)
	for i, turn := range hist {
		assert.Equal(t, i, turn.Index)
	}
}

func TestManager_SessionsRunInParallel(t *testing.T) {
	m := NewManager()
	defer m.Close()

	release := make(chan struct{})
	started := make(chan struct{}, 2)
	block := func(ctx context.Context, st State) (*Turn, error) {
		started <- struct{}{}
		<-release
		return &Turn{Query: "q"}, nil
	}

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, _ = m.Do(context.Background(), id, block)
		}(id)
	}
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("sessions did not run concurrently")
		}
	}
	close(release)
	wg.Wait()
}

func TestManager_CancelledTurnIsDiscarded(t *testing.T) {
	m := NewManager()
	defer m.Close()
	ctx, cancel := context.WithCancel(context.Background())

	_, err := m.Do(ctx, "s1", func(ctx context.Context, st State) (*Turn, error) {
		cancel()
		return &Turn{Query: "late"}, nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	hist, err := m.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestManager_TurnErrorLeavesStateUntouched(t *testing.T) {
	m := NewManager()
	defer m.Close()
	boom := errors.New("boom")
	_, err := m.Do(context.Background(), "s1", func(ctx context.Context, st State) (*Turn, error) {
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)
	hist, err := m.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestManager_HistoryUnknown(t *testing.T) {
	m := NewManager()
	defer m.Close()
	_, err := m.History(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, m.Len())
}

func TestManager_Reset(t *testing.T) {
	store := newMemStore()
	m := NewManager(WithStore(store))
	defer m.Close()
	ctx := context.Background()

	_, err := m.Do(ctx, "s1", answer("first"))
	require.NoError(t, err)
	require.NoError(t, m.Reset(ctx, "s1"))

	hist, err := m.History(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, hist)
	_, err = store.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, m.Reset(ctx, "never-seen"))
}

func TestManager_RestoresFromStore(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	m1 := NewManager(WithStore(store))
	_, err := m1.Do(ctx, "s1", answer("before restart"))
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2 := NewManager(WithStore(store))
	defer m2.Close()
	hist, err := m2.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "before restart", hist[0].Query)

	st, err := m2.Do(ctx, "s1", func(ctx context.Context, st State) (*Turn, error) {
		require.NotNil(t, st.LastFingerprint)
		assert.Equal(t, "before restart", st.LastFingerprint.Query)
		return &Turn{Query: "after"}, nil
	})
	require.NoError(t, err)
	assert.Len(t, st.Turns, 2)
	assert.Equal(t, 2, store.appends)
}

func TestManager_PersistFailureKeepsMemoryUnchanged(t *testing.T) {
	store := newMemStore()
	store.failNext = errors.New("disk full")
	m := NewManager(WithStore(store))
	defer m.Close()

	_, err := m.Do(context.Background(), "s1", answer("q"))
	assert.Error(t, err)
	hist, err := m.History(context.Background(), "s1")
	require.NoError(t, err)
	assert.Empty(t, hist)
}

func TestManager_IdleExpiry(t *testing.T) {
	var mu sync.Mutex
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	store := newMemStore()
	m := NewManager(WithStore(store), WithIdleTimeout(30*time.Minute), WithClock(clock))
	defer m.Close()
	ctx := context.Background()

	_, err := m.Do(ctx, "old", answer("q"))
	require.NoError(t, err)
	advance(20 * time.Minute)
	_, err = m.Do(ctx, "fresh", answer("q"))
	require.NoError(t, err)
	advance(15 * time.Minute)

	assert.Equal(t, 1, m.Sweep())
	assert.Equal(t, 1, m.Len())
	_, err = m.History(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = m.History(ctx, "fresh")
	assert.NoError(t, err)

	_, err = store.Load(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Load(ctx, "fresh")
	assert.NoError(t, err)
}

func TestManager_StoredSessionExpiresOnLoad(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	store := newMemStore()
	ctx := context.Background()

	first := NewManager(WithStore(store), WithClock(func() time.Time { return now }))
	_, err := first.Do(ctx, "s1", answer("q"))
	require.NoError(t, err)
	require.NoError(t, first.Close())

	later := func() time.Time { return now.Add(2 * time.Hour) }
	m := NewManager(WithStore(store), WithIdleTimeout(time.Hour), WithClock(later))
	defer m.Close()

	_, err = m.History(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Load(ctx, "s1")
	assert.ErrorIs(t, err, ErrNotFound)

	snap, err := m.Do(ctx, "s1", answer("again"))
	require.NoError(t, err)
	require.Len(t, snap.Turns, 1)
	assert.Equal(t, "again", snap.Turns[0].Query)
}

func TestManager_Closed(t *testing.T) {
	m := NewManager(WithIdleTimeout(time.Hour))
	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	_, err := m.Do(context.Background(), "s1", answer("q"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = m.History(context.Background(), "s1")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestStateRecent(t *testing.T) {
	st := State{Turns: []Turn{{Query: "a"}, {Query: "b"}, {Query: "c"}}}
	assert.Equal(t, []Turn{{Query: "b"}, {Query: "c"}}, st.Recent(2))
	assert.Len(t, st.Recent(10), 3)
	assert.Nil(t, st.Recent(0))
}
