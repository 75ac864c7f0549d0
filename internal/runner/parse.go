package runner

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/techzombie4u/agentrun/internal/model"
)

// parseReply turns raw provider text into an output. It degrades rather than
// fails: a direct JSON parse is attempted first, then the first balanced
// {...} span is extracted from surrounding prose, and if neither yields an
// object the raw text is folded into an ANALYZE verdict.
func parseReply(raw string) model.AgentOutput {
	trimmed := strings.TrimSpace(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(trimmed), &data); err != nil {
		span, ok := balancedObject(trimmed)
		if ok {
			if err := json.Unmarshal([]byte(span), &data); err != nil {
				data = nil
			}
		}
	}
	if data == nil {
		data = map[string]any{
			"verdict":    string(model.VerdictAnalyze),
			"confidence": 50.0,
			"reasons":    []any{"Response could not be parsed as JSON"},
			"insights":   []any{preview(raw)},
		}
	}

	verdict := model.Verdict(stringField(data, "verdict", string(model.VerdictAnalyze)))
	if !model.ValidVerdict(verdict) {
		verdict = model.VerdictAnalyze
	}

	out := model.AgentOutput{
		Verdict:    verdict,
		Confidence: numberField(data, "confidence", 50),
		Reasons:    stringsField(data, "reasons", []string{"No specific reasons provided"}),
		Insights:   stringsField(data, "insights", nil),
		Actions:    stringsField(data, "actions", nil),
		RiskFlags:  stringsField(data, "risk_flags", nil),
	}.Normalize()
	if meta, ok := data["metadata"].(map[string]any); ok {
		for k, v := range meta {
			out.Metadata[k] = v
		}
	}
	return out
}

// balancedObject returns the first {...} span in s whose braces balance,
// skipping braces inside JSON string literals.
func balancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}

// preview bounds raw text for inclusion in insights.
func preview(raw string) string {
	if len(raw) > 200 {
		return raw[:200] + "..."
	}
	return raw
}

func stringField(data map[string]any, key, def string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return def
}

// numberField accepts JSON numbers and numeric strings, which lenient
// providers sometimes emit for confidence values.
func numberField(data map[string]any, key string, def float64) float64 {
	switch v := data[key].(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func stringsField(data map[string]any, key string, def []string) []string {
	raw, ok := data[key].([]any)
	if !ok {
		return def
	}
	items := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			items = append(items, s)
		} else {
			items = append(items, fmt.Sprint(v))
		}
	}
	return items
}
