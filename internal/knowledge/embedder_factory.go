package knowledge

import (
	"context"
	"fmt"
	"strings"
)

type EmbedderOptions struct {
	Provider  string
	APIKey    string
	Model     string
	Dimension int
	BaseURL   string
}

func NewEmbedder(ctx context.Context, opts EmbedderOptions) (Embedder, error) {
	switch normalizeProvider(opts.Provider) {
	case "gemini":
		return NewGeminiEmbedder(ctx, opts.APIKey, opts.Model, opts.Dimension)
	case "openai":
		return NewOpenAIEmbedder(opts.APIKey, opts.Model, opts.Dimension, opts.BaseURL), nil
	case "ollama":
		return NewOllamaEmbedder(opts.Model, opts.Dimension, opts.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported embedder provider: %s", opts.Provider)
	}
}

type GeneratorOptions struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

func NewGenerator(ctx context.Context, opts GeneratorOptions) (Generator, error) {
	switch normalizeProvider(opts.Provider) {
	case "gemini":
		return NewGeminiGenerator(ctx, opts.APIKey, opts.Model)
	case "openai":
		return NewOpenAIGenerator(opts.APIKey, opts.Model, opts.BaseURL), nil
	case "ollama":
		return NewOllamaGenerator(opts.Model, opts.BaseURL), nil
	default:
		return nil, fmt.Errorf("unsupported generator provider: %s", opts.Provider)
	}
}

func normalizeProvider(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "gemini"
	}
	return p
}
