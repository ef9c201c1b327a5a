package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"codask/internal/retry"

	"golang.org/x/time/rate"
)

const ollamaDefaultURL = "http://127.0.0.1:11434"

// OllamaEmbedder talks to a local Ollama server's /api/embed endpoint.
type OllamaEmbedder struct {
	client    *http.Client
	model     string
	dimension int
	endpoint  string
	batches   batcher
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func ollamaEndpoint(baseURL, path string) string {
	url := strings.TrimSpace(baseURL)
	if url == "" {
		url = ollamaDefaultURL
	}
	url = strings.TrimRight(url, "/")
	if !strings.HasSuffix(url, path) {
		url += path
	}
	return url
}

func NewOllamaEmbedder(model string, dim int, baseURL string) *OllamaEmbedder {
	return &OllamaEmbedder{
		client: &http.Client{
			Timeout: 90 * time.Second,
		},
		model:     model,
		dimension: dim,
		endpoint:  ollamaEndpoint(baseURL, "/api/embed"),
		batches: batcher{
			size:    64,
			limiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
			policy:  retry.Policy{Retries: 1, Backoff: time.Second},
		},
	}
}

func (o *OllamaEmbedder) Dimension() int { return o.dimension }

func (o *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if strings.TrimSpace(o.model) == "" {
		return nil, errors.New("ollama embedding model is required")
	}
	out, err := o.batches.run(ctx, texts, func(ctx context.Context, batch []string) ([][]float32, error) {
		var parsed ollamaEmbedResponse
		if err := postJSON(ctx, o.client, o.endpoint, ollamaEmbedRequest{Model: o.model, Input: batch}, &parsed); err != nil {
			return nil, err
		}
		return parsed.Embeddings, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	// A local model reports its width with the first reply.
	if o.dimension <= 0 && len(out) > 0 {
		o.dimension = len(out[0])
	}
	return out, nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("request failed (%d): %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return json.Unmarshal(raw, out)
}
