package knowledge

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// OllamaGenerator uses /api/generate without streaming.
type OllamaGenerator struct {
	client   *http.Client
	model    string
	endpoint string
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func NewOllamaGenerator(model, baseURL string) *OllamaGenerator {
	return &OllamaGenerator{
		client:   &http.Client{Timeout: 180 * time.Second},
		model:    model,
		endpoint: ollamaEndpoint(baseURL, "/api/generate"),
	}
}

func (o *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var parsed ollamaGenerateResponse
	req := ollamaGenerateRequest{
		Model:   o.model,
		Prompt:  prompt,
		Options: map[string]any{"temperature": 0.1},
	}
	if err := postJSON(ctx, o.client, o.endpoint, req, &parsed); err != nil {
		return "", &GenerationError{Provider: "ollama", Err: err}
	}
	if strings.TrimSpace(parsed.Response) == "" {
		return "", &GenerationError{Provider: "ollama", Err: ErrEmptyResponse}
	}
	return cleanMarkdownOutput(parsed.Response), nil
}
