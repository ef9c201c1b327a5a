package knowledge

import (
	"context"
	"errors"
	"fmt"
)

// Vector namespaces populated by the analysis run.
const (
	NamespaceUnits  = "units"
	NamespaceIssues = "issues"
)

// Embedder defines the interface for converting text to vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Generator phrases text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// VectorItem represents a chunk paired with its embedding.
type VectorItem struct {
	Chunk     Chunk
	Embedding []float32
}

// Neighbor is a nearest-neighbour hit: the chunk id, the unit it describes and its cosine score.
type Neighbor struct {
	ID     string  `json:"id"`
	UnitID string  `json:"unit_id"`
	Score  float64 `json:"score"`
}

// Indexer manages the storage and retrieval of VectorItems per namespace.
type Indexer interface {
	Add(ctx context.Context, namespace string, items []VectorItem) error
	NearestNeighbors(ctx context.Context, namespace string, queryVector []float32, topK int) ([]Neighbor, error)
}

// ErrEmptyResponse is returned when a model answers with no text.
var ErrEmptyResponse = errors.New("empty response from model")

// GenerationError reports that the external text generation call failed.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s generation failed: %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }
