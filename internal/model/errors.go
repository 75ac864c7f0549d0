package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the agent failure taxonomy. Callers classify failures
// with errors.Is; every more specific kind also matches ErrAgent.
var (
	// ErrAgent is the base error for all agent execution failures.
	ErrAgent = errors.New("agent error")

	// ErrAgentTimeout reports that an execution exceeded its latency budget.
	ErrAgentTimeout = fmt.Errorf("%w: timeout", ErrAgent)

	// ErrAgentRateLimit reports that an agent was denied admission by its
	// rate budget.
	ErrAgentRateLimit = fmt.Errorf("%w: rate limit exceeded", ErrAgent)

	// ErrAgentValidation reports invalid agent input or output.
	ErrAgentValidation = fmt.Errorf("%w: validation failed", ErrAgent)
)

// AgentErrorf wraps ErrAgent with a formatted message.
func AgentErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAgent, fmt.Sprintf(format, args...))
}
