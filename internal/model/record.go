package model

import (
	"time"

	"github.com/google/uuid"
)

// RecordVersion is the schema version stamped on every stored result record.
const RecordVersion = "1.0"

// StoredResult wraps an AgentOutput with the audit metadata persisted by the
// output repository. One record is written per (agent, date, scope) execution
// plus one last-write-wins "latest" record per (agent, scope).
type StoredResult struct {
	ID           uuid.UUID   `json:"id"`
	Agent        string      `json:"agent"`
	Scope        string      `json:"scope"`
	Date         string      `json:"date"` // YYYYMMDD partition key, local time
	TimestampUTC time.Time   `json:"timestamp_utc"`
	Timestamp    time.Time   `json:"timestamp"` // local wall clock at write time
	Payload      AgentOutput `json:"payload"`
	Version      string      `json:"version"`
}

// NewStoredResult stamps an output with audit metadata at time now.
func NewStoredResult(agent, scope string, output AgentOutput, now time.Time) StoredResult {
	return StoredResult{
		ID:           uuid.New(),
		Agent:        agent,
		Scope:        scope,
		Date:         now.Format("20060102"),
		TimestampUTC: now.UTC(),
		Timestamp:    now,
		Payload:      output.Normalize(),
		Version:      RecordVersion,
	}
}

// RunSummary is the bounded-history view of one stored result.
type RunSummary struct {
	Agent      string    `json:"agent"`
	Scope      string    `json:"scope"`
	Date       string    `json:"date"`
	Timestamp  time.Time `json:"timestamp"`
	Verdict    Verdict   `json:"verdict"`
	Confidence float64   `json:"confidence"`
}
