// Package provider defines the uniform interface over text-generation
// backends and ships the deterministic mock used for development and tests.
// Real backends are adapters behind the same interface; they surface
// transport failures as errors but never fail on malformed reply bodies —
// defensive parsing is the runner's concern.
package provider

import (
	"context"
	"log/slog"
)

// Info identifies a backend for audit metadata.
type Info struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Version  string `json:"version"`
}

// Provider is the uniform generation contract.
type Provider interface {
	// Generate produces the raw text reply for a rendered prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// Describe reports the backend identity.
	Describe() Info
}

// Config selects and parameterizes a backend. It mirrors the roster
// document's provider block.
type Config struct {
	Provider    string  `yaml:"provider"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// New builds the backend selected by cfg.Provider: "mock", "ollama", or any
// OpenAI-compatible service ("openai", "mistral", "openrouter"). Unknown
// providers and misconfigured real backends fall back to the mock so the
// runtime always has a working generation path.
func New(cfg Config, logger *slog.Logger) Provider {
	switch cfg.Provider {
	case "", "mock":
		return NewMock()
	case "ollama":
		return NewOllama(cfg.BaseURL, cfg.Model)
	case "openai", "mistral", "openrouter":
		p, err := NewOpenAICompatible(cfg)
		if err != nil {
			logger.Warn("provider: falling back to mock", "provider", cfg.Provider, "error", err)
			return NewMock()
		}
		return p
	default:
		logger.Warn("provider: unknown provider, using mock", "provider", cfg.Provider)
		return NewMock()
	}
}
