// Package registry loads agent specifications from the YAML roster document
// and answers enablement queries. Loading never fails the process: a missing
// or unreadable roster falls back to a fixed default roster with permissive
// specs. Enablement is fail-closed — the spec's own enabled flag AND the
// enable_agent_<name> feature toggle must both be true.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/goccy/go-yaml"

	"github.com/techzombie4u/agentrun/internal/flags"
	"github.com/techzombie4u/agentrun/internal/model"
	"github.com/techzombie4u/agentrun/internal/provider"
	"github.com/techzombie4u/agentrun/internal/ratelimit"
)

// DefaultRoster is the agent set used when no roster document is available.
func DefaultRoster() []string {
	return []string{"dev", "trainer", "equity", "options", "comm", "new", "sentiment"}
}

// document is the on-disk roster shape.
type document struct {
	LLM    provider.Config        `yaml:"llm"`
	Agents map[string]agentConfig `yaml:"agents"`
}

type agentConfig struct {
	Enabled     *bool             `yaml:"enabled"`
	Purpose     string            `yaml:"purpose"`
	Inputs      []string          `yaml:"inputs"`
	Outputs     []string          `yaml:"outputs"`
	Constraints constraintsConfig `yaml:"constraints"`
	Safety      safetyConfig      `yaml:"safety"`
	RunPolicy   string            `yaml:"run_policy"`
}

type constraintsConfig struct {
	LatencyMS  int      `yaml:"latency_ms"`
	TokenCap   int      `yaml:"token_cap"`
	Redactions []string `yaml:"redactions"`
}

type safetyConfig struct {
	DisallowPII            bool `yaml:"disallow_pii"`
	DisallowPositionSizing bool `yaml:"disallow_position_sizing"`
}

// Registry holds the loaded agent specs. Read-mostly: Load swaps the whole
// spec map under the write lock, queries take the read lock.
type Registry struct {
	path    string
	flags   flags.Source
	limiter ratelimit.Limiter
	logger  *slog.Logger

	mu          sync.RWMutex
	specs       map[string]model.AgentSpec
	providerCfg provider.Config
}

// New creates a registry reading the roster at path. The registry is empty
// until Load is called.
func New(path string, fl flags.Source, limiter ratelimit.Limiter, logger *slog.Logger) *Registry {
	return &Registry{
		path:    path,
		flags:   fl,
		limiter: limiter,
		logger:  logger,
		specs:   make(map[string]model.AgentSpec),
	}
}

// Load reads the roster document, builds one spec per configured agent, and
// registers each agent's admission budget from the agents_rate_limit_qpm
// flag. Calling Load again hot-reloads the roster. Load never returns an
// error for a missing or malformed document — it installs the default roster
// instead, because the runtime must always be able to start.
func (r *Registry) Load() {
	doc, err := r.readDocument()
	if err != nil {
		r.logger.Warn("registry: roster unavailable, using default roster", "path", r.path, "error", err)
		r.installDefaults()
		return
	}

	specs := make(map[string]model.AgentSpec, len(doc.Agents))
	for name, cfg := range doc.Agents {
		specs[name] = model.SpecFromConfig(name, model.SpecConfig{
			Enabled: cfg.Enabled,
			Purpose: cfg.Purpose,
			Inputs:  cfg.Inputs,
			Outputs: cfg.Outputs,
			Constraints: model.Constraints{
				LatencyMS:  cfg.Constraints.LatencyMS,
				TokenCap:   cfg.Constraints.TokenCap,
				Redactions: cfg.Constraints.Redactions,
			},
			Safety: model.Safety{
				DisallowPII:            cfg.Safety.DisallowPII,
				DisallowPositionSizing: cfg.Safety.DisallowPositionSizing,
			},
			RunPolicy: model.RunPolicy(cfg.RunPolicy),
		})
	}
	if len(specs) == 0 {
		r.logger.Warn("registry: roster has no agents, using default roster", "path", r.path)
		r.installDefaults()
		return
	}

	qpm := r.flags.IntValue(flags.RateLimitFlag, ratelimit.DefaultQPM)
	for name := range specs {
		r.limiter.SetLimit(name, qpm)
	}

	r.mu.Lock()
	r.specs = specs
	r.providerCfg = doc.LLM
	r.mu.Unlock()

	r.logger.Info("registry: loaded agent specifications", "count", len(specs), "qpm", qpm)
}

func (r *Registry) readDocument() (document, error) {
	if r.path == "" {
		return document{}, fmt.Errorf("no roster path configured")
	}
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return document{}, fmt.Errorf("read roster: %w", err)
	}
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return document{}, fmt.Errorf("parse roster: %w", err)
	}
	return doc, nil
}

// installDefaults builds the permissive fallback roster. Safety defaults are
// restrictive (PII and position sizing disallowed) even though everything
// else is permissive.
func (r *Registry) installDefaults() {
	specs := make(map[string]model.AgentSpec)
	for _, name := range DefaultRoster() {
		specs[name] = model.AgentSpec{
			Name:        name,
			Enabled:     true,
			Purpose:     fmt.Sprintf("Default %s agent", name),
			Inputs:      []string{"context"},
			Outputs:     []string{"verdict", "confidence", "reasons"},
			Constraints: model.Constraints{LatencyMS: 10000, TokenCap: 1000},
			Safety:      model.Safety{DisallowPII: true, DisallowPositionSizing: true},
			RunPolicy:   model.RunPolicyManualOnly,
		}
	}

	qpm := r.flags.IntValue(flags.RateLimitFlag, ratelimit.DefaultQPM)
	for name := range specs {
		r.limiter.SetLimit(name, qpm)
	}

	r.mu.Lock()
	r.specs = specs
	r.providerCfg = provider.Config{Provider: "mock"}
	r.mu.Unlock()
}

// Spec returns the specification for name.
func (r *Registry) Spec(name string) (model.AgentSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.specs[name]
	return spec, ok
}

// IsEnabled reports whether name is registered, enabled in its spec, AND
// enabled by the enable_agent_<name> feature toggle.
func (r *Registry) IsEnabled(name string) bool {
	spec, ok := r.Spec(name)
	if !ok {
		return false
	}
	return spec.Enabled && r.flags.IsEnabled(flags.AgentFlag(name))
}

// EnabledAgents returns the sorted names of all enabled agents.
func (r *Registry) EnabledAgents() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.specs))
	for name := range r.specs {
		names = append(names, name)
	}
	r.mu.RUnlock()

	enabled := names[:0]
	for _, name := range names {
		if r.IsEnabled(name) {
			enabled = append(enabled, name)
		}
	}
	sort.Strings(enabled)
	return enabled
}

// AllSpecs returns a copy of every loaded spec, keyed by agent name.
func (r *Registry) AllSpecs() map[string]model.AgentSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]model.AgentSpec, len(r.specs))
	for name, spec := range r.specs {
		out[name] = spec
	}
	return out
}

// ProviderConfig returns the roster's provider selection block. The zero
// value selects the mock backend.
func (r *Registry) ProviderConfig() provider.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providerCfg
}
