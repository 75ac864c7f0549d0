// Package runner executes a single agent synchronously through the full
// safety pipeline: enablement check, rate admission, sanitization, safety
// check, prompt rendering, provider invocation under a latency budget, and
// defensive response parsing.
//
// Run never returns an error. Every failure path is captured as data and
// converted to an ERROR-verdict output at the pipeline boundary, so a queued
// job can never crash the worker.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/techzombie4u/agentrun/internal/model"
	"github.com/techzombie4u/agentrun/internal/provider"
	"github.com/techzombie4u/agentrun/internal/ratelimit"
	"github.com/techzombie4u/agentrun/internal/registry"
	"github.com/techzombie4u/agentrun/internal/safety"
)

// Runner drives the synchronous execution pipeline.
type Runner struct {
	registry *registry.Registry
	limiter  ratelimit.Limiter
	provider provider.Provider
	logger   *slog.Logger
}

// New wires a runner from its collaborators.
func New(reg *registry.Registry, limiter ratelimit.Limiter, prov provider.Provider, logger *slog.Logger) *Runner {
	return &Runner{
		registry: reg,
		limiter:  limiter,
		provider: prov,
		logger:   logger,
	}
}

// Run executes the named agent against input and always returns a well-formed
// output: on any failure the verdict is ERROR, confidence is 0, the reason is
// human-readable, and metadata.error is true. The wall-clock execution time
// is recorded on success and failure alike.
func (r *Runner) Run(ctx context.Context, agentName string, input model.AgentInput) model.AgentOutput {
	start := time.Now()

	out, err := r.pipeline(ctx, agentName, input, start)
	if err != nil {
		r.logger.Error("runner: agent execution failed", "agent", agentName, "error", err)
		out = model.ErrorOutput(fmt.Sprintf("Agent execution failed: %v", err))
		out.Metadata["error_type"] = errorKind(err)
		out.Metadata["execution_time_ms"] = time.Since(start).Milliseconds()
		return out
	}
	return out
}

// pipeline runs the ordered steps, short-circuiting on the first failure.
func (r *Runner) pipeline(ctx context.Context, agentName string, input model.AgentInput, start time.Time) (model.AgentOutput, error) {
	// 1. Agent must be registered and enabled (spec flag AND feature toggle).
	spec, ok := r.registry.Spec(agentName)
	if !ok {
		return model.AgentOutput{}, model.AgentErrorf("agent %s not found", agentName)
	}
	if !r.registry.IsEnabled(agentName) {
		return model.AgentOutput{}, model.AgentErrorf("agent %s is not enabled", agentName)
	}

	// 2. Rate admission.
	if !r.limiter.Admit(agentName) {
		return model.AgentOutput{}, fmt.Errorf("%w: agent %s", model.ErrAgentRateLimit, agentName)
	}

	// 3. Sanitize. Degrades, never fails: a payload that cannot be converted
	// is replaced by an empty one rather than passed through unsanitized.
	sanitized := r.sanitize(input, spec)

	// 4. Safety check against the agent's safety policy.
	if !safety.Check(sanitized, spec.Safety) {
		return model.AgentOutput{}, model.AgentErrorf("input failed safety checks")
	}

	// 5. Render the provider prompt.
	prompt := renderPrompt(agentName, spec, sanitized)

	// 6. Invoke the provider and enforce the latency budget. The budget
	// covers the provider call only, and is checked after the call returns:
	// a late reply is reported as a timeout but the call itself is not
	// preempted.
	callStart := time.Now()
	reply, err := r.provider.Generate(ctx, prompt)
	if err != nil {
		return model.AgentOutput{}, model.AgentErrorf("provider call failed: %v", err)
	}
	budget := time.Duration(spec.LatencyBudgetMS()) * time.Millisecond
	if elapsed := time.Since(callStart); elapsed > budget {
		return model.AgentOutput{}, fmt.Errorf("%w: execution took %dms, budget %dms",
			model.ErrAgentTimeout, elapsed.Milliseconds(), budget.Milliseconds())
	}

	// 7. Parse defensively. Never fails; degrades to a best-effort ANALYZE.
	out := parseReply(reply)

	// 8. Attach execution telemetry.
	out.Metadata["agent_name"] = agentName
	out.Metadata["execution_time_ms"] = time.Since(start).Milliseconds()
	out.Metadata["input_hash"] = input.Hash()
	out.Metadata["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	out.Metadata["provider_info"] = r.provider.Describe()

	return out, nil
}

// sanitize applies the agent's redaction list and token cap to a deep copy
// of the input payload.
func (r *Runner) sanitize(input model.AgentInput, spec model.AgentSpec) map[string]any {
	payload, err := input.AsMap()
	if err != nil {
		r.logger.Warn("runner: input conversion failed, skipping sanitization", "agent", spec.Name, "error", err)
		return map[string]any{}
	}
	payload = safety.Sanitize(payload, spec.Constraints.Redactions)
	return safety.EnforceSize(payload, spec.TokenCap())
}

// errorKind classifies err for the output's machine-readable metadata.
func errorKind(err error) string {
	switch {
	case errors.Is(err, model.ErrAgentTimeout):
		return "timeout"
	case errors.Is(err, model.ErrAgentRateLimit):
		return "rate_limit"
	case errors.Is(err, model.ErrAgentValidation):
		return "validation"
	default:
		return "agent_error"
	}
}
