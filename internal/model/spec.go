package model

// RunPolicy controls how an agent may be scheduled.
type RunPolicy string

const (
	// RunPolicyManualOnly restricts an agent to explicit enqueue calls.
	RunPolicyManualOnly RunPolicy = "manual_only"
	// RunPolicySchedulable additionally allows periodic and event triggers.
	RunPolicySchedulable RunPolicy = "schedulable"
)

// Constraints bound an agent's execution. Zero values mean "use the runtime
// default" (10s latency budget, 1000-token cap, no redactions).
type Constraints struct {
	LatencyMS  int      `json:"latency_ms"`
	TokenCap   int      `json:"token_cap"`
	Redactions []string `json:"redactions,omitempty"`
}

// Safety is the per-agent safety policy evaluated before provider calls.
type Safety struct {
	DisallowPII            bool `json:"disallow_pii"`
	DisallowPositionSizing bool `json:"disallow_position_sizing"`
}

// AgentSpec is an agent's configuration-derived specification. It is built
// once at registry load time and never mutated afterwards; hot reload swaps
// whole spec maps rather than editing specs in place.
type AgentSpec struct {
	Name        string      `json:"name"`
	Enabled     bool        `json:"enabled"`
	Purpose     string      `json:"purpose"`
	Inputs      []string    `json:"inputs"`
	Outputs     []string    `json:"outputs"`
	Constraints Constraints `json:"constraints"`
	Safety      Safety      `json:"safety"`
	RunPolicy   RunPolicy   `json:"run_policy"`
}

// SpecConfig is the raw per-agent configuration block. Pointer fields
// distinguish "absent" from zero so SpecFromConfig can substitute defaults.
type SpecConfig struct {
	Enabled     *bool
	Purpose     string
	Inputs      []string
	Outputs     []string
	Constraints Constraints
	Safety      Safety
	RunPolicy   RunPolicy
}

// SpecFromConfig builds an AgentSpec from a configuration block, substituting
// documented defaults for missing optional fields: enabled=true and
// run_policy=manual_only. It is a pure constructor with no side effects.
func SpecFromConfig(name string, cfg SpecConfig) AgentSpec {
	spec := AgentSpec{
		Name:        name,
		Enabled:     true,
		Purpose:     cfg.Purpose,
		Inputs:      cfg.Inputs,
		Outputs:     cfg.Outputs,
		Constraints: cfg.Constraints,
		Safety:      cfg.Safety,
		RunPolicy:   RunPolicyManualOnly,
	}
	if cfg.Enabled != nil {
		spec.Enabled = *cfg.Enabled
	}
	if cfg.RunPolicy != "" {
		spec.RunPolicy = cfg.RunPolicy
	}
	return spec
}

// LatencyBudgetMS returns the agent's latency budget, defaulting to 10000 ms.
func (s AgentSpec) LatencyBudgetMS() int {
	if s.Constraints.LatencyMS > 0 {
		return s.Constraints.LatencyMS
	}
	return 10000
}

// TokenCap returns the agent's token cap, defaulting to 1000 tokens.
func (s AgentSpec) TokenCap() int {
	if s.Constraints.TokenCap > 0 {
		return s.Constraints.TokenCap
	}
	return 1000
}
