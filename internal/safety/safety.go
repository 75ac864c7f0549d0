// Package safety implements the pre-provider sanitization pass: credential
// and PII redaction, approximate token-budget enforcement, and the denylist
// safety check. All functions are pure — they deep-copy their input and never
// mutate the caller's payload.
package safety

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/techzombie4u/agentrun/internal/model"
)

// Redaction markers substituted into sanitized payloads.
const (
	RedactedMarker    = "[REDACTED]"
	PIIRedactedMarker = "[PII_REDACTED]"
	TruncationMarker  = "... truncated"
)

// Redaction policy names accepted in an agent spec's constraints.redactions.
const (
	RedactCredentials  = "credentials"
	RedactAPIKeys      = "api_keys"
	RedactPII          = "pii"
	RedactPersonalInfo = "personal_info"
)

// piiPatterns match string leaves that must never reach a provider: email
// addresses, 10-12 digit numbers (phone/account numbers), API-key-shaped
// tokens, and long alphanumeric tokens. All case-insensitive.
var piiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	regexp.MustCompile(`\b\d{10,12}\b`),
	regexp.MustCompile(`(?i)\bAPI[_\s]*KEY[_\s]*[:\s]*[A-Za-z0-9]{20,}\b`),
	regexp.MustCompile(`(?i)\b[A-Z0-9]{20,}\b`),
}

// dangerousTerms is the fixed denylist of operationally dangerous terms
// scanned by Check. Matching is case-insensitive over the serialized payload.
var dangerousTerms = []string{
	"delete", "drop", "truncate", "remove", "kill",
	"leverage", "margin", "position_size", "account",
}

// Sanitize deep-copies payload and applies the requested redactions:
// credential redaction replaces any field whose name contains "key", "token",
// or "secret" (case-insensitive, recursing into nested maps and lists); PII
// redaction rewrites matching substrings of every string leaf. Sanitize never
// fails — on a non-serializable payload it returns the input unchanged.
func Sanitize(payload map[string]any, redactions []string) map[string]any {
	out, err := deepCopy(payload)
	if err != nil {
		return payload
	}

	if requested(redactions, RedactCredentials, RedactAPIKeys) {
		out = redactCredentials(out).(map[string]any)
	}
	if requested(redactions, RedactPII, RedactPersonalInfo) {
		out = redactPII(out).(map[string]any)
	}
	return out
}

// EnforceSize bounds payload to an approximate token budget (4 characters per
// token). When the serialized payload exceeds the budget, top-level list
// fields longer than 10 entries are cut to their first 10 plus a truncation
// marker. Degrades gracefully; never fails.
func EnforceSize(payload map[string]any, maxTokens int) map[string]any {
	raw, err := json.Marshal(payload)
	if err != nil || len(raw) <= maxTokens*4 {
		return payload
	}

	out, err := deepCopy(payload)
	if err != nil {
		return payload
	}
	for key, value := range out {
		if list, ok := value.([]any); ok && len(list) > 10 {
			out[key] = append(list[:10:10], TruncationMarker)
		}
	}
	return out
}

// Check scans the serialized payload for denylisted terms and reports whether
// it is safe to forward. Returns false when a term is present and the policy
// disallows it, or when the payload cannot even be serialized (fail-closed).
func Check(payload map[string]any, policy model.Safety) bool {
	raw, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	if !policy.DisallowPositionSizing {
		return true
	}
	haystack := strings.ToLower(string(raw))
	for _, term := range dangerousTerms {
		if strings.Contains(haystack, term) {
			return false
		}
	}
	return true
}

func requested(redactions []string, names ...string) bool {
	for _, r := range redactions {
		for _, n := range names {
			if r == n {
				return true
			}
		}
	}
	return false
}

func redactCredentials(v any) any {
	switch val := v.(type) {
	case map[string]any:
		for key, sub := range val {
			lower := strings.ToLower(key)
			if strings.Contains(lower, "key") || strings.Contains(lower, "token") || strings.Contains(lower, "secret") {
				val[key] = RedactedMarker
				continue
			}
			val[key] = redactCredentials(sub)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = redactCredentials(item)
		}
		return val
	default:
		return v
	}
}

func redactPII(v any) any {
	switch val := v.(type) {
	case string:
		for _, pattern := range piiPatterns {
			val = pattern.ReplaceAllString(val, PIIRedactedMarker)
		}
		return val
	case map[string]any:
		for key, sub := range val {
			val[key] = redactPII(sub)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = redactPII(item)
		}
		return val
	default:
		return v
	}
}

// deepCopy round-trips through JSON so the result shares no memory with the
// input. Values must be JSON-serializable, which holds for anything built
// from model.AgentInput.AsMap.
func deepCopy(m map[string]any) (map[string]any, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
