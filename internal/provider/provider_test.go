package provider_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techzombie4u/agentrun/internal/provider"
	"github.com/techzombie4u/agentrun/internal/testutil"
)

func TestMockIsDeterministicAndCounts(t *testing.T) {
	m := provider.NewMockWithDelay(0)

	first, err := m.Generate(context.Background(), "prompt one")
	require.NoError(t, err)
	second, err := m.Generate(context.Background(), "prompt one")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.EqualValues(t, 2, m.Calls())

	var reply struct {
		Verdict    string   `json:"verdict"`
		Confidence float64  `json:"confidence"`
		Reasons    []string `json:"reasons"`
	}
	require.NoError(t, json.Unmarshal([]byte(first), &reply))
	assert.Equal(t, "HOLD", reply.Verdict)
	assert.InDelta(t, 75.5, reply.Confidence, 0.001)
	assert.NotEmpty(t, reply.Reasons)
}

func TestMockGenerateObservesCancellation(t *testing.T) {
	m := provider.NewMock()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Generate(ctx, "prompt")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFactoryFallsBackToMock(t *testing.T) {
	logger := testutil.TestLogger()

	tests := []struct {
		name string
		cfg  provider.Config
	}{
		{"empty config", provider.Config{}},
		{"unknown provider", provider.Config{Provider: "quantum"}},
		{"openai without key", provider.Config{Provider: "openai"}},
		{"mistral without key", provider.Config{Provider: "mistral"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := provider.New(tt.cfg, logger)
			assert.Equal(t, "mock", p.Describe().Provider)
		})
	}
}

func TestFactorySelectsConfiguredBackends(t *testing.T) {
	logger := testutil.TestLogger()

	p := provider.New(provider.Config{Provider: "mistral", APIKey: "k", Model: "mistral-medium"}, logger)
	assert.Equal(t, "mistral", p.Describe().Provider)
	assert.Equal(t, "mistral-medium", p.Describe().Model)

	p = provider.New(provider.Config{Provider: "ollama", Model: "llama3"}, logger)
	assert.Equal(t, "ollama", p.Describe().Provider)
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama3", req.Model)
		_ = json.NewEncoder(w).Encode(map[string]string{"response": `{"verdict":"BUY"}`})
	}))
	defer srv.Close()

	p := provider.NewOllama(srv.URL, "llama3")
	text, err := p.Generate(context.Background(), "analyze this")
	require.NoError(t, err)
	assert.Equal(t, `{"verdict":"BUY"}`, text)
}

func TestOllamaGenerateServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := provider.NewOllama(srv.URL, "llama3")
	_, err := p.Generate(context.Background(), "analyze this")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOpenAICompatibleGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": `{"verdict":"SELL"}`}},
			},
		})
	}))
	defer srv.Close()

	p, err := provider.NewOpenAICompatible(provider.Config{
		Provider: "openai",
		APIKey:   "test-key",
		BaseURL:  srv.URL + "/v1",
		Model:    "gpt-4o-mini",
	})
	require.NoError(t, err)

	text, err := p.Generate(context.Background(), "analyze this")
	require.NoError(t, err)
	assert.Equal(t, `{"verdict":"SELL"}`, text)
}
