package model

import (
	"fmt"
	"time"
)

// Job is a queued execution request. Jobs are transient: they exist only
// between enqueue and worker completion, and are never persisted — only the
// resulting output is.
type Job struct {
	ID       string
	Agent    string
	Scope    string
	Input    AgentInput
	QueuedAt time.Time
}

// NewJob builds a job with an id derived from agent, scope, and the
// submission epoch second. Two jobs for the same (agent, scope) submitted in
// the same second share an id; the queue still executes both, in order.
func NewJob(agent, scope string, input AgentInput, now time.Time) Job {
	return Job{
		ID:       fmt.Sprintf("%s_%s_%d", agent, scope, now.Unix()),
		Agent:    agent,
		Scope:    scope,
		Input:    input,
		QueuedAt: now,
	}
}
