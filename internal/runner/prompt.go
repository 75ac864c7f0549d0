package runner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/techzombie4u/agentrun/internal/model"
)

// replySchema is the response shape described to the provider. Rendered with
// MarshalIndent so keys come out in a stable sorted order.
var replySchema = map[string]any{
	"verdict":    "string (BUY/SELL/HOLD/ANALYZE/ERROR)",
	"confidence": "number (0-100)",
	"reasons":    []string{"list of reasoning points"},
	"insights":   []string{"list of insights"},
	"actions":    []string{"list of suggested actions"},
	"risk_flags": []string{"list of identified risks"},
}

// renderPrompt assembles the provider prompt: agent identity and purpose, the
// expected JSON reply shape, and the sanitized input payload. If the payload
// cannot be rendered it falls back to a bare analysis request.
func renderPrompt(agentName string, spec model.AgentSpec, payload map[string]any) string {
	schema, _ := json.MarshalIndent(replySchema, "", "  ")

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		raw, _ := json.Marshal(payload)
		return fmt.Sprintf("Analyze: %s", raw)
	}

	parts := []string{
		fmt.Sprintf("You are an AI agent named %q with the following purpose:", agentName),
		spec.Purpose,
		"",
		"Your task is to analyze the provided data and return a JSON response with the following structure:",
		string(schema),
		"",
		"Input data:",
		string(data),
		"",
		"Provide your analysis as valid JSON only:",
	}
	return strings.Join(parts, "\n")
}
