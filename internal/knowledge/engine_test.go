package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"codask/internal/graph"
	"codask/internal/ir"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockEmbedder struct {
	dim   int
	calls int
}

func (m *mockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	m.calls++
	results := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, m.dim)
		v[i%m.dim] = 1
		results[i] = v
	}
	return results, nil
}

func (m *mockEmbedder) Dimension() int { return m.dim }

func TestEngine_IndexAll(t *testing.T) {
	a := ir.CodeUnit{ID: "a", Name: "ProcessOrder", Kind: "function", Package: "logic", FilePath: "logic/order.go",
		Signature: "func ProcessOrder(o Order) error", DocSummary: "ProcessOrder handles orders.", Calls: []string{"Save"}}
	b := ir.CodeUnit{ID: "b", Name: "Save", Kind: "function", Package: "logic", FilePath: "logic/save.go"}
	issue := ir.Issue{ID: "issue:1", UnitID: "a", Category: ir.CategorySecurity, Severity: ir.SeverityHigh,
		Message: "Hardcoded secret detected.", Location: ir.Location{FilePath: "logic/order.go", StartLine: 3, EndLine: 3}}
	orphan := ir.Issue{ID: "issue:2", UnitID: "missing"}

	g := graph.Build([]ir.CodeUnit{a, b})
	embedder := &mockEmbedder{dim: 8}
	index := NewMemoryIndex()
	engine := NewEngine(embedder, index, nil)

	require.NoError(t, engine.IndexAll(context.Background(), []ir.CodeUnit{a, b}, []ir.Issue{issue, orphan}, g))

	assert.Equal(t, 2, index.Len(NamespaceUnits))
	assert.Equal(t, 1, index.Len(NamespaceIssues))
	assert.Equal(t, 2, embedder.calls)
}

func TestEngine_NotInitialized(t *testing.T) {
	err := NewEngine(nil, nil, nil).IndexAll(context.Background(), nil, nil, nil)
	assert.Error(t, err)
}

func TestChunks(t *testing.T) {
	a := ir.CodeUnit{ID: "a", Name: "ProcessOrder", Kind: "function", Package: "logic", FilePath: "logic/order.go",
		Signature: "func ProcessOrder(o Order) error", DocSummary: "ProcessOrder handles orders.", Calls: []string{"Save"}}
	b := ir.CodeUnit{ID: "b", Name: "Save", Kind: "function", Package: "logic", FilePath: "logic/save.go"}
	g := graph.Build([]ir.CodeUnit{a, b})

	t.Run("unit chunk carries graph context", func(t *testing.T) {
		chunk := UnitChunk(a, g)
		assert.Equal(t, []string{"Save"}, chunk.Dependencies)
		text := chunk.ToEmbeddableText()
		assert.Contains(t, text, "Symbol: ProcessOrder (function)")
		assert.Contains(t, text, "Depends on: Save")
		assert.Contains(t, UnitChunk(b, g).ToEmbeddableText(), "Used by: ProcessOrder")
	})

	t.Run("issue chunk points at its unit", func(t *testing.T) {
		is := ir.Issue{ID: "issue:1", UnitID: "a", Category: ir.CategoryComplexity, Severity: ir.SeverityMedium,
			Message: "Too long.", Location: ir.Location{FilePath: "logic/order.go"}}
		chunk := IssueChunk(is, a)
		assert.Equal(t, "issue:1", chunk.ID)
		assert.Equal(t, "a", chunk.UnitID)
		assert.Contains(t, chunk.ToEmbeddableText(), "[medium] Too long.")
	})
}

func TestMemoryIndex_NearestNeighbors(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex()
	require.NoError(t, idx.Add(ctx, NamespaceUnits, []VectorItem{
		{Chunk: Chunk{ID: "x"}, Embedding: []float32{1, 0}},
		{Chunk: Chunk{ID: "y"}, Embedding: []float32{0.7, 0.7}},
		{Chunk: Chunk{ID: "w"}, Embedding: []float32{0.7, 0.7}},
		{Chunk: Chunk{ID: "z"}, Embedding: []float32{0, 1}},
	}))

	hits, err := idx.NearestNeighbors(ctx, NamespaceUnits, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, "x", hits[0].ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
	assert.Equal(t, "w", hits[1].ID, "ties break on id")
	assert.Equal(t, "y", hits[2].ID)

	hits, err = idx.NearestNeighbors(ctx, NamespaceIssues, []float32{1, 0}, 3)
	require.NoError(t, err)
	assert.Empty(t, hits)

	require.NoError(t, idx.Delete(ctx, NamespaceUnits, []string{"x"}))
	assert.Equal(t, 3, idx.Len(NamespaceUnits))
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 2}, []float32{2, 4}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{1, 2}))
}

func TestExtractHelpers(t *testing.T) {
	code, ok := ExtractCodeBlock("Fix:\n```go\nfunc A() {}\n```\ndone")
	require.True(t, ok)
	assert.Equal(t, "func A() {}", code)

	_, ok = ExtractCodeBlock("no code here")
	assert.False(t, ok)

	assert.Equal(t, `{"steps":[]}`, ExtractJSON("```json\n{\"steps\":[]}\n```"))
	assert.Equal(t, "", ExtractJSON("nothing"))
}

func TestGenerationError(t *testing.T) {
	var err error = &GenerationError{Provider: "gemini", Err: ErrEmptyResponse}
	var genErr *GenerationError
	assert.True(t, errors.As(err, &genErr))
	assert.ErrorIs(t, err, ErrEmptyResponse)
	assert.Contains(t, err.Error(), "gemini")
}

func TestOllamaGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req ollamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		if req.Prompt == "fail" {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(ollamaGenerateResponse{Response: "answer: " + req.Prompt})
	}))
	defer srv.Close()

	gen := NewOllamaGenerator("llama3", srv.URL)
	out, err := gen.Generate(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "answer: hi", out)

	_, err = gen.Generate(context.Background(), "fail")
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "ollama", genErr.Provider)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		out := ollamaEmbedResponse{}
		for range req.Input {
			out.Embeddings = append(out.Embeddings, []float32{1, 2, 3})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	em := NewOllamaEmbedder("nomic-embed-text", 0, srv.URL)
	vecs, err := em.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vecs, 2)
	assert.Equal(t, 3, em.Dimension())
}

func TestFactories(t *testing.T) {
	_, err := NewEmbedder(context.Background(), EmbedderOptions{Provider: "nope"})
	assert.Error(t, err)
	_, err = NewGenerator(context.Background(), GeneratorOptions{Provider: "nope"})
	assert.Error(t, err)

	gen, err := NewGenerator(context.Background(), GeneratorOptions{Provider: "OpenAI", APIKey: "k"})
	require.NoError(t, err)
	assert.IsType(t, &OpenAIGenerator{}, gen)
}

func TestPromptBuilder(t *testing.T) {
	pb := &PromptBuilder{}
	p := pb.BuildAnswerPrompt("what calls load?", "EVIDENCE", []Exchange{{Query: "q1", Answer: "a1"}})
	assert.Contains(t, p, "EVIDENCE")
	assert.Contains(t, p, "User: q1")
	assert.Contains(t, pb.BuildAnswerPrompt("q", "", nil), "no repository context")
	assert.Contains(t, pb.BuildPlanPrompt("q", "ev", 5, "inspect more"), "at most 5 steps")
	assert.Contains(t, pb.BuildFixPrompt("q", "a.go:1-3", "func A() {}", []string{"[high] eval"}), "a.go:1-3")
}
