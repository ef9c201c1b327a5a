package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"codask/internal/retry"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

// GeminiEmbedder implements Embedder using Google's Gemini API. Batches are
// paced to stay under the free-tier request quota.
type GeminiEmbedder struct {
	client    *genai.Client
	model     string
	dimension int
	batches   batcher
}

func NewGeminiEmbedder(ctx context.Context, apiKey string, modelName string, dim int) (*GeminiEmbedder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiEmbedder{
		client:    client,
		model:     modelName,
		dimension: dim,
		batches: batcher{
			size:      50,
			limiter:   rate.NewLimiter(rate.Every(700*time.Millisecond), 1),
			policy:    retry.Policy{Retries: 5, Backoff: 6 * time.Second},
			retryable: isRateLimitError,
		},
	}, nil
}

func (g *GeminiEmbedder) Dimension() int { return g.dimension }

func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var cfg *genai.EmbedContentConfig
	if g.dimension > 0 {
		dim := int32(g.dimension)
		cfg = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}
	vecs, err := g.batches.run(ctx, texts, func(ctx context.Context, batch []string) ([][]float32, error) {
		contents := make([]*genai.Content, 0, len(batch))
		for _, text := range batch {
			contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))
		}
		res, err := g.client.Models.EmbedContent(ctx, g.model, contents, cfg)
		if err != nil {
			return nil, err
		}
		out := make([][]float32, 0, len(res.Embeddings))
		for _, emb := range res.Embeddings {
			out = append(out, emb.Values)
		}
		return out, nil
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	return vecs, nil
}

// isRateLimitError reports quota errors, the only ones worth waiting out.
func isRateLimitError(err error) bool {
	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests
	}
	s := err.Error()
	return strings.Contains(s, "429") || strings.Contains(s, "RESOURCE_EXHAUSTED") || strings.Contains(s, "quota")
}
