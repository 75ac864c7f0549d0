package provider

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Default base URLs for the OpenAI-compatible services the factory knows.
// Mistral and OpenRouter both speak the Chat Completions API.
var compatibleBaseURLs = map[string]string{
	"mistral":    "https://api.mistral.ai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

// OpenAICompatible adapts any Chat Completions service to the Provider
// interface using the OpenAI-compatible SDK.
type OpenAICompatible struct {
	client      *openai.Client
	name        string
	model       string
	temperature float32
	maxTokens   int
}

// NewOpenAICompatible builds an adapter for cfg. An API key is required; the
// base URL defaults per provider name, so `provider: mistral` with only a key
// and model is a complete configuration.
func NewOpenAICompatible(cfg Config) (*OpenAICompatible, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("provider: api_key is required")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	switch {
	case cfg.BaseURL != "":
		oc.BaseURL = cfg.BaseURL
	case compatibleBaseURLs[cfg.Provider] != "":
		oc.BaseURL = compatibleBaseURLs[cfg.Provider]
	}

	model := cfg.Model
	if model == "" {
		model = "mistral-medium"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2000
	}

	return &OpenAICompatible{
		client:      openai.NewClientWithConfig(oc),
		name:        cfg.Provider,
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
	}, nil
}

// Generate sends the prompt as a single user message and returns the first
// choice's content verbatim. An empty choice list is returned as empty text,
// not an error — reply validation belongs to the runner.
func (p *OpenAICompatible) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("provider: %s completion: %w", p.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// Describe reports the adapter identity.
func (p *OpenAICompatible) Describe() Info {
	return Info{Provider: p.name, Model: p.model, Version: "1.0.0"}
}
