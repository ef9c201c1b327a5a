package knowledge

import (
	"context"
	"math"
	"sort"
	"sync"
)

// MemoryIndex is an in-process Indexer with exact cosine search.
type MemoryIndex struct {
	mu    sync.RWMutex
	items map[string]map[string]VectorItem
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{items: make(map[string]map[string]VectorItem)}
}

func (m *MemoryIndex) Add(ctx context.Context, namespace string, items []VectorItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ns, ok := m.items[namespace]
	if !ok {
		ns = make(map[string]VectorItem)
		m.items[namespace] = ns
	}
	for _, it := range items {
		ns[it.Chunk.ID] = it
	}
	return nil
}

// Delete removes ids from a namespace.
func (m *MemoryIndex) Delete(ctx context.Context, namespace string, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.items[namespace], id)
	}
	return nil
}

func (m *MemoryIndex) Len(namespace string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items[namespace])
}

func (m *MemoryIndex) NearestNeighbors(ctx context.Context, namespace string, queryVector []float32, topK int) ([]Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	hits := make([]Neighbor, 0, len(m.items[namespace]))
	for id, it := range m.items[namespace] {
		hits = append(hits, Neighbor{ID: id, UnitID: it.Chunk.UnitID, Score: Cosine(queryVector, it.Embedding)})
	}
	m.mu.RUnlock()
	return TopK(hits, topK), nil
}

// TopK sorts hits by score descending (id ascending on ties) and keeps k.
func TopK(hits []Neighbor, k int) []Neighbor {
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if k >= 0 && len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// Cosine returns the cosine similarity of a and b, or 0 when undefined.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
