package outputs

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/techzombie4u/agentrun/internal/model"
)

// MemoryStore implements Repository in process memory. Used by embedders that
// do not need durability and throughout the test suite.
type MemoryStore struct {
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	byPart map[partKey]model.StoredResult // (agent, date, scope) partition
	latest map[scopeKey]model.StoredResult
}

type partKey struct{ agent, date, scope string }
type scopeKey struct{ agent, scope string }

// NewMemoryStore creates an empty in-memory result store.
func NewMemoryStore(logger *slog.Logger) *MemoryStore {
	return &MemoryStore{
		logger: logger,
		now:    time.Now,
		byPart: make(map[partKey]model.StoredResult),
		latest: make(map[scopeKey]model.StoredResult),
	}
}

// Save stores the date-partitioned record and overwrites the latest pointer.
func (s *MemoryStore) Save(_ context.Context, agent, scope string, output model.AgentOutput) bool {
	rec := model.NewStoredResult(agent, scope, output, s.now())

	s.mu.Lock()
	s.byPart[partKey{agent, rec.Date, scope}] = rec
	s.latest[scopeKey{agent, scope}] = rec
	s.mu.Unlock()

	s.logger.Info("outputs: saved", "agent", agent, "scope", scope, "verdict", rec.Payload.Verdict)
	return true
}

// LoadLatest returns the latest record for (agent, scope).
func (s *MemoryStore) LoadLatest(_ context.Context, agent, scope string) (model.StoredResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.latest[scopeKey{agent, scope}]
	if !ok {
		return model.StoredResult{}, ErrNotFound
	}
	return rec, nil
}

// ListRuns returns up to limit run summaries, most recent first.
func (s *MemoryStore) ListRuns(_ context.Context, agent, scope string, limit int) ([]model.RunSummary, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	var recs []model.StoredResult
	for key, rec := range s.byPart {
		if key.agent == agent && key.scope == scope {
			recs = append(recs, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(recs, func(i, j int) bool {
		return recs[i].TimestampUTC.After(recs[j].TimestampUTC)
	})
	if len(recs) > limit {
		recs = recs[:limit]
	}

	runs := make([]model.RunSummary, len(recs))
	for i, rec := range recs {
		runs[i] = model.RunSummary{
			Agent:      agent,
			Scope:      scope,
			Date:       rec.Date,
			Timestamp:  rec.Timestamp,
			Verdict:    rec.Payload.Verdict,
			Confidence: rec.Payload.Confidence,
		}
	}
	return runs, nil
}

// AgentStats summarizes every stored execution for agent across all scopes.
func (s *MemoryStore) AgentStats(_ context.Context, agent string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats Stats
	var confidenceSum float64
	var successes int
	for key, rec := range s.byPart {
		if key.agent != agent {
			continue
		}
		stats.TotalRuns++
		confidenceSum += rec.Payload.Confidence
		if rec.Payload.Verdict != model.VerdictError {
			successes++
		}
		if stats.LastRun == nil || rec.TimestampUTC.After(*stats.LastRun) {
			ts := rec.TimestampUTC
			stats.LastRun = &ts
		}
	}
	if stats.TotalRuns > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.TotalRuns) * 100
		stats.AvgConfidence = confidenceSum / float64(stats.TotalRuns)
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error { return nil }
