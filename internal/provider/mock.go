package provider

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"
)

// Mock is the deterministic backend: it returns a fixed, well-formed
// structured reply after a short simulated delay and counts calls. It is the
// mandatory default backend and the fallback for unconfigured adapters.
type Mock struct {
	delay time.Duration
	calls atomic.Int64
}

// NewMock creates a mock backend with a 100ms simulated delay.
func NewMock() *Mock {
	return &Mock{delay: 100 * time.Millisecond}
}

// NewMockWithDelay creates a mock backend with an explicit delay. Tests use a
// zero delay.
func NewMockWithDelay(delay time.Duration) *Mock {
	return &Mock{delay: delay}
}

// Generate returns the fixed structured reply. The delay is interruptible by
// context cancellation.
func (m *Mock) Generate(ctx context.Context, prompt string) (string, error) {
	m.calls.Add(1)

	if m.delay > 0 {
		timer := time.NewTimer(m.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}

	reply := map[string]any{
		"verdict":    "HOLD",
		"confidence": 75.5,
		"reasons": []string{
			"Market conditions are neutral",
			"Technical indicators show mixed signals",
			"No significant catalysts identified",
		},
		"insights": []string{
			"Consider monitoring for breakout patterns",
			"Volume trends suggest consolidation phase",
		},
		"actions": []string{
			"Monitor key support/resistance levels",
			"Review watchlist weightings",
		},
		"risk_flags": []string{},
		"metadata": map[string]any{
			"model_version":      "mock-v1.0",
			"processing_time_ms": m.delay.Milliseconds(),
			"token_count":        len(prompt) / 4,
		},
	}
	raw, err := json.MarshalIndent(reply, "", "  ")
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Describe reports the mock identity.
func (m *Mock) Describe() Info {
	return Info{Provider: "mock", Model: "mock-model", Version: "1.0.0"}
}

// Calls returns how many times Generate has been invoked.
func (m *Mock) Calls() int64 {
	return m.calls.Load()
}
