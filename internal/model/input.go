// Package model defines the shared contracts of the agent execution runtime:
// the input/output/spec value types, the job and stored-result shapes, and the
// error taxonomy. It has no dependencies on other runtime packages.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// AgentInput is the structured context payload handed to an agent.
// Treated as immutable after construction; the sanitizer operates on a deep
// copy, never on the original.
type AgentInput struct {
	Context         map[string]any   `json:"context"`
	KPI             map[string]any   `json:"kpi,omitempty"`
	Predictions     []map[string]any `json:"predictions,omitempty"`
	Timeframe       string           `json:"timeframe,omitempty"`
	Product         string           `json:"product,omitempty"`
	MarketDate      string           `json:"market_date,omitempty"`
	Pinned          []string         `json:"pinned,omitempty"`
	ConfigOverrides map[string]any   `json:"config_overrides,omitempty"`
}

// AsMap converts the input to a generic mapping for sanitization and prompt
// rendering. The conversion round-trips through JSON so nested values share
// no memory with the receiver.
func (in AgentInput) AsMap() (map[string]any, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("model: marshal input: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("model: unmarshal input: %w", err)
	}
	return m, nil
}

// InputFromMap rebuilds an AgentInput from a generic mapping, typically one
// returned by the sanitizer. Unknown keys are dropped.
func InputFromMap(m map[string]any) (AgentInput, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return AgentInput{}, fmt.Errorf("model: marshal map: %w", err)
	}
	var in AgentInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return AgentInput{}, fmt.Errorf("model: unmarshal map: %w", err)
	}
	return in, nil
}

// Hash returns a stable hex digest of the input's canonical serialization.
// encoding/json emits map keys in sorted order, so equal inputs hash equally
// regardless of construction order. Used for traceability and deduplication.
func (in AgentInput) Hash() string {
	raw, err := json.Marshal(in)
	if err != nil {
		return "unknown"
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
