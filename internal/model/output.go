package model

// Verdict is the closed enumeration of agent conclusions.
type Verdict string

const (
	VerdictBuy     Verdict = "BUY"
	VerdictSell    Verdict = "SELL"
	VerdictHold    Verdict = "HOLD"
	VerdictAnalyze Verdict = "ANALYZE"
	VerdictError   Verdict = "ERROR"
)

// ValidVerdict reports whether v is one of the closed enumeration values.
func ValidVerdict(v Verdict) bool {
	switch v {
	case VerdictBuy, VerdictSell, VerdictHold, VerdictAnalyze, VerdictError:
		return true
	}
	return false
}

// AgentOutput is the structured result of one agent execution.
// Construct with NewOutput (or ErrorOutput) so the invariants hold: confidence
// stays within [0,100] and the list fields are never nil.
type AgentOutput struct {
	Verdict    Verdict        `json:"verdict"`
	Confidence float64        `json:"confidence"`
	Reasons    []string       `json:"reasons"`
	Insights   []string       `json:"insights"`
	Actions    []string       `json:"actions"`
	RiskFlags  []string       `json:"risk_flags"`
	Metadata   map[string]any `json:"metadata"`
}

// NewOutput builds an AgentOutput with normalized fields: confidence clamped
// to [0,100] and nil slices replaced with empty ones.
func NewOutput(verdict Verdict, confidence float64, reasons []string) AgentOutput {
	return AgentOutput{
		Verdict:    verdict,
		Confidence: ClampConfidence(confidence),
		Reasons:    orEmpty(reasons),
		Insights:   []string{},
		Actions:    []string{},
		RiskFlags:  []string{},
		Metadata:   map[string]any{},
	}
}

// ErrorOutput builds the terminal ERROR-verdict output produced when any
// pipeline step fails. The reason is user-facing; metadata carries the
// machine-readable error marker.
func ErrorOutput(reason string) AgentOutput {
	out := NewOutput(VerdictError, 0, []string{reason})
	out.Metadata["error"] = true
	return out
}

// Normalize enforces the output invariants in place: clamped confidence,
// non-nil list fields, non-nil metadata. Returns the receiver for chaining.
func (o AgentOutput) Normalize() AgentOutput {
	o.Confidence = ClampConfidence(o.Confidence)
	o.Reasons = orEmpty(o.Reasons)
	o.Insights = orEmpty(o.Insights)
	o.Actions = orEmpty(o.Actions)
	o.RiskFlags = orEmpty(o.RiskFlags)
	if o.Metadata == nil {
		o.Metadata = map[string]any{}
	}
	return o
}

// ClampConfidence bounds a confidence value to [0, 100].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
