package knowledge

import (
	"context"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIGenerator implements Generator with chat completions.
type OpenAIGenerator struct {
	client *openai.Client
	apiKey string
	model  string
}

func NewOpenAIGenerator(apiKey, model, baseURL string) *OpenAIGenerator {
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIGenerator{
		client: newOpenAIClient(apiKey, baseURL),
		apiKey: apiKey,
		model:  model,
	}
}

func (s *OpenAIGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(s.apiKey) == "" {
		return "", &GenerationError{Provider: "openai", Err: fmt.Errorf("openai api key is required")}
	}

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You are a precise assistant for questions about a source code repository."},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return "", &GenerationError{Provider: "openai", Err: err}
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", &GenerationError{Provider: "openai", Err: ErrEmptyResponse}
	}
	return cleanMarkdownOutput(resp.Choices[0].Message.Content), nil
}
