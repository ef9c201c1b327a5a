package vectorindex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"codask/internal/ir"
	"codask/internal/knowledge"
	"codask/internal/retry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	calls atomic.Int32
	fail  int32
	delay time.Duration
}

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	n := f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if n <= f.fail {
		return nil, errors.New("upstream unavailable")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if t == "config" {
			out[i] = []float32{1, 0}
		} else {
			out[i] = []float32{0, 1}
		}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }

type brokenIndexer struct{}

func (brokenIndexer) Add(context.Context, string, []knowledge.VectorItem) error { return nil }
func (brokenIndexer) NearestNeighbors(context.Context, string, []float32, int) ([]knowledge.Neighbor, error) {
	return nil, errors.New("index offline")
}

func fastPolicy() retry.Policy {
	return retry.Policy{Timeout: time.Second, Retries: 1, Backoff: time.Millisecond}
}

func seeded(t *testing.T) *knowledge.MemoryIndex {
	t.Helper()
	mem := knowledge.NewMemoryIndex()
	require.NoError(t, mem.Add(context.Background(), knowledge.NamespaceUnits, []knowledge.VectorItem{
		{Chunk: knowledge.Chunk{ID: "u1", UnitID: "u1"}, Embedding: []float32{1, 0}},
		{Chunk: knowledge.Chunk{ID: "u2", UnitID: "u2"}, Embedding: []float32{0, 1}},
	}))
	require.NoError(t, mem.Add(context.Background(), knowledge.NamespaceIssues, []knowledge.VectorItem{
		{Chunk: knowledge.Chunk{ID: "issue:1", UnitID: "u2"}, Embedding: []float32{1, 0}},
	}))
	return mem
}

func TestSearchUnits(t *testing.T) {
	ix := New(&fakeEmbedder{}, seeded(t), WithPolicy(fastPolicy()))

	refs, err := ix.SearchUnits(context.Background(), "config", 1)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "u1", refs[0].UnitID)
	assert.Equal(t, ir.SourceVector, refs[0].Source)
	assert.InDelta(t, 1.0, refs[0].Score, 1e-9)
	assert.EqualValues(t, 1, ix.SearchCalls())
}

func TestSearchIssuesMapsToUnit(t *testing.T) {
	ix := New(&fakeEmbedder{}, seeded(t), WithPolicy(fastPolicy()))

	refs, err := ix.SearchIssues(context.Background(), "config", 5)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	assert.Equal(t, "u2", refs[0].UnitID)
}

func TestEmbedRetriesOnceAndCaches(t *testing.T) {
	em := &fakeEmbedder{fail: 1}
	ix := New(em, seeded(t), WithPolicy(fastPolicy()))

	v, err := ix.Embed(context.Background(), "config")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, v)
	assert.EqualValues(t, 2, em.calls.Load())

	_, err = ix.Embed(context.Background(), "config")
	require.NoError(t, err)
	assert.EqualValues(t, 2, em.calls.Load(), "second lookup is served from cache")
}

func TestEmbedCollapsesConcurrentRequests(t *testing.T) {
	em := &fakeEmbedder{delay: 50 * time.Millisecond}
	ix := New(em, seeded(t), WithPolicy(fastPolicy()), WithCacheSize(0))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ix.Embed(context.Background(), "same question")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Less(t, em.calls.Load(), int32(8))
}

type gatedEmbedder struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	g.once.Do(func() { close(g.started) })
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
	}
	return [][]float32{{0, 1}}, nil
}

func (g *gatedEmbedder) Dimension() int { return 2 }

func TestEmbedCallerCancelDoesNotFailOthers(t *testing.T) {
	em := &gatedEmbedder{started: make(chan struct{}), release: make(chan struct{})}
	ix := New(em, seeded(t), WithPolicy(fastPolicy()), WithCacheSize(0))

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := ix.Embed(ctxA, "shared question")
		errA <- err
	}()
	<-em.started

	type result struct {
		v   []float32
		err error
	}
	resB := make(chan result, 1)
	go func() {
		v, err := ix.Embed(context.Background(), "shared question")
		resB <- result{v, err}
	}()
	time.Sleep(20 * time.Millisecond)

	cancelA()
	err := <-errA
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	close(em.release)
	b := <-resB
	require.NoError(t, b.err)
	assert.Equal(t, []float32{0, 1}, b.v)
}

func TestRetrievalErrors(t *testing.T) {
	ix := New(&fakeEmbedder{fail: 10}, seeded(t), WithPolicy(fastPolicy()))
	_, err := ix.SearchUnits(context.Background(), "config", 3)
	require.Error(t, err)
	assert.True(t, IsRetrievalError(err))

	ix = New(&fakeEmbedder{}, brokenIndexer{}, WithPolicy(fastPolicy()))
	_, err = ix.SearchUnits(context.Background(), "config", 3)
	var re *RetrievalError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, "search", re.Op)
	assert.Equal(t, knowledge.NamespaceUnits, re.Namespace)
}

func TestCacheEviction(t *testing.T) {
	em := &fakeEmbedder{}
	ix := New(em, seeded(t), WithPolicy(fastPolicy()), WithCacheSize(1))

	_, _ = ix.Embed(context.Background(), "a")
	_, _ = ix.Embed(context.Background(), "b")
	_, _ = ix.Embed(context.Background(), "a")
	assert.EqualValues(t, 3, em.calls.Load())
}

func TestSimilarity(t *testing.T) {
	ix := New(&fakeEmbedder{}, seeded(t))
	assert.InDelta(t, 1.0, ix.Similarity([]float32{1, 1}, []float32{2, 2}), 1e-9)
	assert.InDelta(t, 0.0, ix.Similarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}
