// Package outputs persists agent execution results. Every execution is
// written twice: once under its (agent, date, scope) partition and once as
// the last-write-wins "latest" record for (agent, scope). Records are never
// deleted here — retention is an external concern.
//
// Two backends ship with the runtime: a SQLite store for durable deployments
// and an in-memory store for embedding and tests.
package outputs

import (
	"context"
	"errors"
	"time"

	"github.com/techzombie4u/agentrun/internal/model"
)

// ErrNotFound reports that no record exists for the requested (agent, scope).
var ErrNotFound = errors.New("outputs: not found")

// Stats summarizes an agent's stored executions.
type Stats struct {
	TotalRuns     int        `json:"total_runs"`
	LastRun       *time.Time `json:"last_run,omitempty"`
	SuccessRate   float64    `json:"success_rate"`
	AvgConfidence float64    `json:"avg_confidence"`
}

// Repository is the persistence contract for execution results.
type Repository interface {
	// Save stamps output with audit metadata and writes both the
	// date-partitioned record and the latest pointer. It reports true only
	// when both writes succeed; failures are logged, never propagated.
	Save(ctx context.Context, agent, scope string, output model.AgentOutput) bool

	// LoadLatest returns the latest record for (agent, scope), or
	// ErrNotFound.
	LoadLatest(ctx context.Context, agent, scope string) (model.StoredResult, error)

	// ListRuns returns up to limit run summaries for (agent, scope),
	// most recent first.
	ListRuns(ctx context.Context, agent, scope string, limit int) ([]model.RunSummary, error)

	// AgentStats summarizes all stored executions for agent.
	AgentStats(ctx context.Context, agent string) (Stats, error)

	// Close releases backend resources.
	Close() error
}
