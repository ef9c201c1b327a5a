// Package vectorindex adapts an embedder and a nearest-neighbour index into
// the unit and issue searches the retrieval layer consumes.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"codask/internal/ir"
	"codask/internal/knowledge"
	"codask/internal/retry"
	"codask/internal/telemetry"

	"golang.org/x/sync/singleflight"
)

const defaultCacheSize = 256

// RetrievalError reports that the vector index or the embedder could not be reached.
type RetrievalError struct {
	Op        string
	Namespace string
	Err       error
}

func (e *RetrievalError) Error() string {
	if e.Namespace != "" {
		return fmt.Sprintf("retrieval %s on %q failed: %v", e.Op, e.Namespace, e.Err)
	}
	return fmt.Sprintf("retrieval %s failed: %v", e.Op, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// IsRetrievalError reports whether err carries a RetrievalError.
func IsRetrievalError(err error) bool {
	var re *RetrievalError
	return errors.As(err, &re)
}

// Index is the vector-search facade used at query time.
type Index struct {
	embedder knowledge.Embedder
	indexer  knowledge.Indexer
	policy   retry.Policy
	logger   *slog.Logger

	flight singleflight.Group

	mu        sync.Mutex
	cache     map[string][]float32
	cacheKeys []string
	cacheSize int

	searches atomic.Int64
	embeds   atomic.Int64
}

type Option func(*Index)

func WithPolicy(p retry.Policy) Option {
	return func(ix *Index) { ix.policy = p }
}

func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// WithCacheSize bounds the query-embedding cache; zero disables it.
func WithCacheSize(n int) Option {
	return func(ix *Index) { ix.cacheSize = n }
}

func New(em knowledge.Embedder, idx knowledge.Indexer, opts ...Option) *Index {
	ix := &Index{
		embedder:  em,
		indexer:   idx,
		policy:    retry.DefaultPolicy(),
		logger:    slog.Default(),
		cache:     make(map[string][]float32),
		cacheSize: defaultCacheSize,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Embed returns the embedding of one query text. Concurrent calls for the same
// text share a single upstream request.
func (ix *Index) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := ix.cached(text); ok {
		return v, nil
	}
	// The shared call outlives any single caller; each caller still stops
	// waiting on its own cancellation.
	shared := context.WithoutCancel(ctx)
	ch := ix.flight.DoChan(text, func() (any, error) {
		ix.embeds.Add(1)
		vecs, err := retry.Do(shared, ix.policy, func(ctx context.Context) ([][]float32, error) {
			return ix.embedder.Embed(ctx, []string{text})
		})
		if err != nil {
			return nil, err
		}
		if len(vecs) != 1 || len(vecs[0]) == 0 {
			return nil, knowledge.ErrEmptyResponse
		}
		ix.store(text, vecs[0])
		return vecs[0], nil
	})
	select {
	case <-ctx.Done():
		return nil, &RetrievalError{Op: "embed", Err: ctx.Err()}
	case res := <-ch:
		if res.Err != nil {
			return nil, &RetrievalError{Op: "embed", Err: res.Err}
		}
		return res.Val.([]float32), nil
	}
}

func (ix *Index) cached(text string) ([]float32, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	v, ok := ix.cache[text]
	return v, ok
}

func (ix *Index) store(text string, v []float32) {
	if ix.cacheSize <= 0 {
		return
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.cache[text]; ok {
		return
	}
	if len(ix.cacheKeys) >= ix.cacheSize {
		oldest := ix.cacheKeys[0]
		ix.cacheKeys = ix.cacheKeys[1:]
		delete(ix.cache, oldest)
	}
	ix.cache[text] = v
	ix.cacheKeys = append(ix.cacheKeys, text)
}

// Search embeds query and returns the k nearest entries of namespace as unit refs.
func (ix *Index) Search(ctx context.Context, namespace, query string, k int) ([]ir.UnitRef, error) {
	vec, err := ix.Embed(ctx, query)
	if err != nil {
		telemetry.RetrievalCalls.WithLabelValues(namespace, "error").Inc()
		return nil, err
	}
	return ix.SearchVector(ctx, namespace, vec, k)
}

// SearchVector runs a nearest-neighbour search for an already computed embedding.
func (ix *Index) SearchVector(ctx context.Context, namespace string, vec []float32, k int) ([]ir.UnitRef, error) {
	if k <= 0 {
		return nil, nil
	}
	ix.searches.Add(1)
	hits, err := retry.Do(ctx, ix.policy, func(ctx context.Context) ([]knowledge.Neighbor, error) {
		return ix.indexer.NearestNeighbors(ctx, namespace, vec, k)
	})
	if err != nil {
		telemetry.RetrievalCalls.WithLabelValues(namespace, "error").Inc()
		return nil, &RetrievalError{Op: "search", Namespace: namespace, Err: err}
	}
	telemetry.RetrievalCalls.WithLabelValues(namespace, "ok").Inc()

	refs := make([]ir.UnitRef, 0, len(hits))
	for _, h := range hits {
		unitID := h.UnitID
		if unitID == "" {
			unitID = h.ID
		}
		refs = append(refs, ir.UnitRef{UnitID: unitID, Score: h.Score, Source: ir.SourceVector})
	}
	ix.logger.Debug("vector search", "namespace", namespace, "k", k, "hits", len(refs))
	return refs, nil
}

func (ix *Index) SearchUnits(ctx context.Context, query string, k int) ([]ir.UnitRef, error) {
	return ix.Search(ctx, knowledge.NamespaceUnits, query, k)
}

// SearchIssues returns issue hits mapped to the unit each issue belongs to.
func (ix *Index) SearchIssues(ctx context.Context, query string, k int) ([]ir.UnitRef, error) {
	return ix.Search(ctx, knowledge.NamespaceIssues, query, k)
}

// Similarity is the cosine similarity of two embeddings.
func (ix *Index) Similarity(a, b []float32) float64 {
	return knowledge.Cosine(a, b)
}

// SearchCalls counts nearest-neighbour searches issued so far.
func (ix *Index) SearchCalls() int64 { return ix.searches.Load() }

// EmbedCalls counts upstream embedding requests issued so far.
func (ix *Index) EmbedCalls() int64 { return ix.embeds.Load() }
