package outputs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/techzombie4u/agentrun/internal/model"
)

// SQLiteStore implements Repository on an embedded SQLite database.
// The date-partitioned table keys on (agent, date, scope) — a re-run for the
// same partition overwrites the earlier record, mirroring the one-file-per
// partition layout of the persisted state contract. The latest table keys on
// (agent, scope) and is unconditionally overwritten on every save.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS agent_outputs (
	id              TEXT NOT NULL,
	agent           TEXT NOT NULL,
	scope           TEXT NOT NULL,
	date            TEXT NOT NULL,
	timestamp_utc   TEXT NOT NULL,
	timestamp_local TEXT NOT NULL,
	verdict         TEXT NOT NULL,
	confidence      REAL NOT NULL,
	payload         TEXT NOT NULL,
	version         TEXT NOT NULL,
	PRIMARY KEY (agent, date, scope)
);
CREATE TABLE IF NOT EXISTS agent_outputs_latest (
	agent  TEXT NOT NULL,
	scope  TEXT NOT NULL,
	record TEXT NOT NULL,
	PRIMARY KEY (agent, scope)
);
CREATE INDEX IF NOT EXISTS idx_agent_outputs_agent_scope
	ON agent_outputs (agent, scope, date DESC);
`

// OpenSQLite opens (creating if needed) the result store at path and ensures
// the schema exists. Use ":memory:" for an ephemeral store.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", url.PathEscape(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("outputs: open sqlite: %w", err)
	}
	// SQLite allows one writer at a time; a single connection avoids
	// SQLITE_BUSY between the partition write and the latest write.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("outputs: create schema: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger, now: time.Now}, nil
}

// Save writes the date-partitioned record, then overwrites the latest
// pointer. Both writes must succeed for Save to report true; a failure on
// either is logged and absorbed.
func (s *SQLiteStore) Save(ctx context.Context, agent, scope string, output model.AgentOutput) bool {
	rec := model.NewStoredResult(agent, scope, output, s.now())

	payload, err := json.Marshal(rec.Payload)
	if err != nil {
		s.logger.Error("outputs: marshal payload failed", "agent", agent, "scope", scope, "error", err)
		return false
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO agent_outputs
			(id, agent, scope, date, timestamp_utc, timestamp_local, verdict, confidence, payload, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Agent, rec.Scope, rec.Date,
		rec.TimestampUTC.Format(time.RFC3339Nano), rec.Timestamp.Format(time.RFC3339Nano),
		string(rec.Payload.Verdict), rec.Payload.Confidence, string(payload), rec.Version,
	)
	if err != nil {
		s.logger.Error("outputs: partition write failed", "agent", agent, "scope", scope, "error", err)
		return false
	}

	record, err := json.Marshal(rec)
	if err != nil {
		s.logger.Error("outputs: marshal record failed", "agent", agent, "scope", scope, "error", err)
		return false
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO agent_outputs_latest (agent, scope, record)
		VALUES (?, ?, ?)`,
		rec.Agent, rec.Scope, string(record),
	)
	if err != nil {
		s.logger.Error("outputs: latest write failed", "agent", agent, "scope", scope, "error", err)
		return false
	}

	s.logger.Info("outputs: saved", "agent", agent, "scope", scope, "verdict", rec.Payload.Verdict)
	return true
}

// LoadLatest returns the latest record for (agent, scope).
func (s *SQLiteStore) LoadLatest(ctx context.Context, agent, scope string) (model.StoredResult, error) {
	var raw string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM agent_outputs_latest WHERE agent = ? AND scope = ?`,
		agent, scope,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return model.StoredResult{}, ErrNotFound
	}
	if err != nil {
		return model.StoredResult{}, fmt.Errorf("outputs: load latest: %w", err)
	}

	var rec model.StoredResult
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return model.StoredResult{}, fmt.Errorf("outputs: decode latest: %w", err)
	}
	return rec, nil
}

// ListRuns returns up to limit run summaries, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context, agent, scope string, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT date, timestamp_local, verdict, confidence
		FROM agent_outputs
		WHERE agent = ? AND scope = ?
		ORDER BY date DESC, timestamp_utc DESC
		LIMIT ?`,
		agent, scope, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("outputs: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []model.RunSummary
	for rows.Next() {
		var (
			date, stamp, verdict string
			confidence           float64
		)
		if err := rows.Scan(&date, &stamp, &verdict, &confidence); err != nil {
			return nil, fmt.Errorf("outputs: scan run: %w", err)
		}
		ts, err := time.Parse(time.RFC3339Nano, stamp)
		if err != nil {
			return nil, fmt.Errorf("outputs: parse timestamp: %w", err)
		}
		runs = append(runs, model.RunSummary{
			Agent:      agent,
			Scope:      scope,
			Date:       date,
			Timestamp:  ts,
			Verdict:    model.Verdict(verdict),
			Confidence: confidence,
		})
	}
	return runs, rows.Err()
}

// AgentStats summarizes every stored execution for agent across all scopes.
func (s *SQLiteStore) AgentStats(ctx context.Context, agent string) (Stats, error) {
	var (
		total      int
		lastRun    sql.NullString
		successes  sql.NullFloat64
		confidence sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       MAX(timestamp_utc),
		       SUM(CASE WHEN verdict != 'ERROR' THEN 1.0 ELSE 0.0 END),
		       AVG(confidence)
		FROM agent_outputs WHERE agent = ?`,
		agent,
	).Scan(&total, &lastRun, &successes, &confidence)
	if err != nil {
		return Stats{}, fmt.Errorf("outputs: agent stats: %w", err)
	}

	stats := Stats{TotalRuns: total}
	if total == 0 {
		return stats, nil
	}
	if lastRun.Valid {
		if ts, err := time.Parse(time.RFC3339Nano, lastRun.String); err == nil {
			stats.LastRun = &ts
		}
	}
	if successes.Valid {
		stats.SuccessRate = successes.Float64 / float64(total) * 100
	}
	if confidence.Valid {
		stats.AvgConfidence = confidence.Float64
	}
	return stats, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
