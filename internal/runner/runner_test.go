package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/techzombie4u/agentrun/internal/flags"
	"github.com/techzombie4u/agentrun/internal/model"
	"github.com/techzombie4u/agentrun/internal/provider"
	"github.com/techzombie4u/agentrun/internal/ratelimit"
	"github.com/techzombie4u/agentrun/internal/registry"
	"github.com/techzombie4u/agentrun/internal/testutil"
)

const testRoster = `
llm:
  provider: mock
agents:
  sentiment:
    purpose: Analyze market sentiment from recent news and indicators
    inputs: [context]
    outputs: [verdict, confidence, reasons]
    constraints:
      latency_ms: 5000
      token_cap: 1000
      redactions: [credentials, pii]
    safety:
      disallow_pii: true
      disallow_position_sizing: true
    run_policy: schedulable
`

type fixture struct {
	runner  *Runner
	flags   *flags.Store
	limiter *ratelimit.WindowLimiter
}

func newFixture(t *testing.T, roster string, prov provider.Provider) fixture {
	t.Helper()
	dir := t.TempDir()

	rosterPath := filepath.Join(dir, "agents.yaml")
	require.NoError(t, os.WriteFile(rosterPath, []byte(roster), 0o644))

	logger := testutil.TestLogger()
	store := flags.Open(filepath.Join(dir, "flags.json"), flags.Defaults(registry.DefaultRoster()), logger)
	limiter := ratelimit.NewWindowLimiter()

	reg := registry.New(rosterPath, store, limiter, logger)
	reg.Load()

	return fixture{
		runner:  New(reg, limiter, prov, logger),
		flags:   store,
		limiter: limiter,
	}
}

func sampleInput() model.AgentInput {
	return model.AgentInput{
		Context:   map[string]any{"symbol": "RELIANCE", "trend": "sideways"},
		Timeframe: "5D",
		Product:   "equities",
	}
}

func TestRunSuccessAttachesMetadata(t *testing.T) {
	f := newFixture(t, testRoster, provider.NewMockWithDelay(0))
	input := sampleInput()

	out := f.runner.Run(context.Background(), "sentiment", input)

	assert.Equal(t, model.VerdictHold, out.Verdict)
	assert.Equal(t, 75.5, out.Confidence)
	assert.NotEmpty(t, out.Reasons)

	assert.Equal(t, "sentiment", out.Metadata["agent_name"])
	assert.Equal(t, input.Hash(), out.Metadata["input_hash"])
	assert.NotEmpty(t, out.Metadata["timestamp"])
	assert.Contains(t, out.Metadata, "execution_time_ms")

	info, ok := out.Metadata["provider_info"].(provider.Info)
	require.True(t, ok)
	assert.Equal(t, "mock", info.Provider)

	// Backend-supplied metadata survives alongside the pipeline's.
	assert.Equal(t, "mock-v1.0", out.Metadata["model_version"])
}

func TestRunUnknownAgent(t *testing.T) {
	f := newFixture(t, testRoster, provider.NewMockWithDelay(0))

	out := f.runner.Run(context.Background(), "nope", sampleInput())

	assert.Equal(t, model.VerdictError, out.Verdict)
	assert.Equal(t, 0.0, out.Confidence)
	assert.Equal(t, true, out.Metadata["error"])
	assert.Equal(t, "agent_error", out.Metadata["error_type"])
	require.Len(t, out.Reasons, 1)
	assert.Contains(t, out.Reasons[0], "not found")
}

func TestRunDisabledAgent(t *testing.T) {
	f := newFixture(t, testRoster, provider.NewMockWithDelay(0))
	f.flags.Set(flags.AgentFlag("sentiment"), false)

	out := f.runner.Run(context.Background(), "sentiment", sampleInput())

	assert.Equal(t, model.VerdictError, out.Verdict)
	assert.Equal(t, true, out.Metadata["error"])
	assert.Contains(t, out.Reasons[0], "not enabled")
}

func TestRunRateLimited(t *testing.T) {
	f := newFixture(t, testRoster, provider.NewMockWithDelay(0))
	f.limiter.SetLimit("sentiment", 1)

	first := f.runner.Run(context.Background(), "sentiment", sampleInput())
	assert.Equal(t, model.VerdictHold, first.Verdict)

	second := f.runner.Run(context.Background(), "sentiment", sampleInput())
	assert.Equal(t, model.VerdictError, second.Verdict)
	assert.Equal(t, "rate_limit", second.Metadata["error_type"])
	assert.Contains(t, second.Reasons[0], "rate limit")
}

func TestRunLatencyBudgetExceeded(t *testing.T) {
	roster := strings.Replace(testRoster, "latency_ms: 5000", "latency_ms: 10", 1)
	f := newFixture(t, roster, provider.NewMockWithDelay(50*time.Millisecond))

	out := f.runner.Run(context.Background(), "sentiment", sampleInput())

	assert.Equal(t, model.VerdictError, out.Verdict)
	assert.Equal(t, "timeout", out.Metadata["error_type"])
	assert.Contains(t, out.Reasons[0], "budget")
}

func TestLatencyBudgetCoversProviderCallOnly(t *testing.T) {
	f := newFixture(t, testRoster, provider.NewMockWithDelay(0))

	// Time spent in the pipeline before the provider call does not count
	// against the latency budget, only the call itself does.
	stale := time.Now().Add(-time.Hour)
	out, err := f.runner.pipeline(context.Background(), "sentiment", sampleInput(), stale)

	require.NoError(t, err)
	assert.Equal(t, model.VerdictHold, out.Verdict)
}

func TestRunSafetyRejection(t *testing.T) {
	f := newFixture(t, testRoster, provider.NewMockWithDelay(0))
	input := model.AgentInput{
		Context: map[string]any{"request": "increase leverage on the account"},
	}

	out := f.runner.Run(context.Background(), "sentiment", input)

	assert.Equal(t, model.VerdictError, out.Verdict)
	assert.Contains(t, out.Reasons[0], "safety")
}

type failingProvider struct{}

func (failingProvider) Generate(context.Context, string) (string, error) {
	return "", errors.New("backend unavailable")
}

func (failingProvider) Describe() provider.Info {
	return provider.Info{Provider: "stub", Model: "stub", Version: "0"}
}

func TestRunProviderFailure(t *testing.T) {
	f := newFixture(t, testRoster, failingProvider{})

	out := f.runner.Run(context.Background(), "sentiment", sampleInput())

	assert.Equal(t, model.VerdictError, out.Verdict)
	assert.Equal(t, "agent_error", out.Metadata["error_type"])
	assert.Contains(t, out.Reasons[0], "provider call failed")
}

func TestParseReplyDirectJSON(t *testing.T) {
	out := parseReply(`{"verdict": "BUY", "confidence": 82, "reasons": ["momentum"], "risk_flags": ["volatility"]}`)

	assert.Equal(t, model.VerdictBuy, out.Verdict)
	assert.Equal(t, 82.0, out.Confidence)
	assert.Equal(t, []string{"momentum"}, out.Reasons)
	assert.Equal(t, []string{"volatility"}, out.RiskFlags)
	assert.Equal(t, []string{}, out.Insights)
}

func TestParseReplyEmbeddedObject(t *testing.T) {
	raw := "Sure! Here is my analysis:\n```json\n" +
		`{"verdict": "SELL", "confidence": 64.5, "reasons": ["overbought"]}` +
		"\n```\nLet me know if you need more."

	out := parseReply(raw)

	assert.Equal(t, model.VerdictSell, out.Verdict)
	assert.Equal(t, 64.5, out.Confidence)
	assert.Equal(t, []string{"overbought"}, out.Reasons)
}

func TestParseReplyNonJSONFallsBack(t *testing.T) {
	out := parseReply("the market looks fine to me")

	assert.Equal(t, model.VerdictAnalyze, out.Verdict)
	assert.Equal(t, 50.0, out.Confidence)
	assert.Equal(t, []string{"Response could not be parsed as JSON"}, out.Reasons)
	require.Len(t, out.Insights, 1)
	assert.Contains(t, out.Insights[0], "the market looks fine")
}

func TestParseReplyLongRawTextIsBounded(t *testing.T) {
	raw := strings.Repeat("x", 500)

	out := parseReply(raw)

	require.Len(t, out.Insights, 1)
	assert.Equal(t, 203, len(out.Insights[0]))
	assert.True(t, strings.HasSuffix(out.Insights[0], "..."))
}

func TestParseReplyDefaultsAndClamping(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		verdict    model.Verdict
		confidence float64
		reasons    []string
	}{
		{
			name:       "missing verdict defaults to ANALYZE",
			raw:        `{"confidence": 70}`,
			verdict:    model.VerdictAnalyze,
			confidence: 70,
			reasons:    []string{"No specific reasons provided"},
		},
		{
			name:       "unknown verdict coerced to ANALYZE",
			raw:        `{"verdict": "SHRUG", "confidence": 40}`,
			verdict:    model.VerdictAnalyze,
			confidence: 40,
			reasons:    []string{"No specific reasons provided"},
		},
		{
			name:       "confidence clamped to 100",
			raw:        `{"verdict": "BUY", "confidence": 250}`,
			verdict:    model.VerdictBuy,
			confidence: 100,
			reasons:    []string{"No specific reasons provided"},
		},
		{
			name:       "numeric string confidence accepted",
			raw:        `{"verdict": "HOLD", "confidence": "33.5"}`,
			verdict:    model.VerdictHold,
			confidence: 33.5,
			reasons:    []string{"No specific reasons provided"},
		},
		{
			name:       "missing confidence defaults to 50",
			raw:        `{"verdict": "HOLD", "reasons": ["steady"]}`,
			verdict:    model.VerdictHold,
			confidence: 50,
			reasons:    []string{"steady"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			out := parseReply(tc.raw)
			assert.Equal(t, tc.verdict, out.Verdict)
			assert.Equal(t, tc.confidence, out.Confidence)
			assert.Equal(t, tc.reasons, out.Reasons)
		})
	}
}

func TestBalancedObjectSkipsBracesInStrings(t *testing.T) {
	span, ok := balancedObject(`noise {"note": "a } inside", "n": 1} trailing`)
	require.True(t, ok)
	assert.Equal(t, `{"note": "a } inside", "n": 1}`, span)
}

func TestRenderPromptShape(t *testing.T) {
	spec := model.AgentSpec{Name: "sentiment", Purpose: "Analyze sentiment"}
	prompt := renderPrompt("sentiment", spec, map[string]any{"context": map[string]any{"symbol": "TCS"}})

	assert.Contains(t, prompt, `"sentiment"`)
	assert.Contains(t, prompt, "Analyze sentiment")
	assert.Contains(t, prompt, "BUY/SELL/HOLD/ANALYZE/ERROR")
	assert.Contains(t, prompt, `"symbol": "TCS"`)
	assert.True(t, strings.HasSuffix(prompt, "Provide your analysis as valid JSON only:"))
}
