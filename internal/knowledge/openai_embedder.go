package knowledge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"codask/internal/retry"

	"github.com/sashabaranov/go-openai"
)

// OpenAIEmbedder implements Embedder with the OpenAI embeddings API (or any compatible server).
type OpenAIEmbedder struct {
	client    *openai.Client
	apiKey    string
	model     string
	dimension int
	batches   batcher
}

func newOpenAIClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if u := strings.TrimRight(strings.TrimSpace(baseURL), "/"); u != "" {
		u = strings.TrimSuffix(u, "/embeddings")
		u = strings.TrimSuffix(u, "/chat/completions")
		if !strings.HasSuffix(u, "/v1") {
			u += "/v1"
		}
		cfg.BaseURL = u
	}
	return openai.NewClientWithConfig(cfg)
}

func NewOpenAIEmbedder(apiKey, model string, dim int, baseURL string) *OpenAIEmbedder {
	if strings.TrimSpace(model) == "" {
		model = string(openai.SmallEmbedding3)
	}
	return &OpenAIEmbedder{
		client:    newOpenAIClient(apiKey, baseURL),
		apiKey:    apiKey,
		model:     model,
		dimension: dim,
		batches: batcher{
			size:      64,
			policy:    retry.Policy{Retries: 5, Backoff: 3 * time.Second},
			retryable: isRetryableOpenAIError,
		},
	}
}

func (o *OpenAIEmbedder) Dimension() int { return o.dimension }

func (o *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if strings.TrimSpace(o.apiKey) == "" {
		return nil, errors.New("openai api key is required")
	}
	vecs, err := o.batches.run(ctx, texts, o.embedBatch)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	return vecs, nil
}

// embedBatch orders the reply by the index the server reports.
func (o *OpenAIEmbedder) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{Input: batch, Model: openai.EmbeddingModel(o.model)}
	if o.dimension > 0 {
		req.Dimensions = o.dimension
	}
	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(batch))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(batch) {
			out[item.Index] = item.Embedding
		}
	}
	for i := range out {
		if len(out[i]) == 0 {
			return nil, retry.Permanent(fmt.Errorf("embedding missing at index %d", i))
		}
	}
	return out, nil
}

func isRetryableOpenAIError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	// Transport errors (connection reset, timeouts) are worth another try.
	return !errors.Is(err, context.Canceled)
}
