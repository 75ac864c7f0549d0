// Package flags implements the runtime's feature-toggle surface: a JSON-file
// backed store of named flags with in-memory defaults. The runtime reads
// enable_agents_framework (global kill switch), enable_agent_<name> (per
// agent), and agents_rate_limit_qpm (default admission budget).
package flags

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// Well-known flag names.
const (
	FrameworkFlag = "enable_agents_framework"
	RateLimitFlag = "agents_rate_limit_qpm"
)

// AgentFlag returns the per-agent enablement flag name.
func AgentFlag(agent string) string {
	return "enable_agent_" + agent
}

// Source is the read side of the toggle surface. Both the registry and the
// orchestrator depend on this interface, not on the file store.
type Source interface {
	// IsEnabled reports whether a boolean flag is set and true.
	// Unknown flags are disabled (fail-closed).
	IsEnabled(name string) bool

	// IntValue returns a numeric flag, or def when the flag is absent or
	// not numeric.
	IntValue(name string, def int) int
}

// Store is a mutable, optionally file-persisted flag store.
type Store struct {
	mu     sync.RWMutex
	values map[string]any
	path   string // empty: in-memory only
	logger *slog.Logger
}

// Open loads flags from the JSON file at path, seeding it with defaults when
// it does not exist. An empty path yields a purely in-memory store. Open
// never fails: an unreadable file logs a warning and falls back to defaults.
func Open(path string, defaults map[string]any, logger *slog.Logger) *Store {
	s := &Store{
		values: make(map[string]any, len(defaults)),
		path:   path,
		logger: logger,
	}
	for k, v := range defaults {
		s.values[k] = v
	}

	if path == "" {
		return s
	}

	raw, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := s.persist(); err != nil {
			logger.Warn("flags: seed file failed", "path", path, "error", err)
		}
	case err != nil:
		logger.Warn("flags: read failed, using defaults", "path", path, "error", err)
	default:
		var loaded map[string]any
		if err := json.Unmarshal(raw, &loaded); err != nil {
			logger.Warn("flags: parse failed, using defaults", "path", path, "error", err)
			break
		}
		for k, v := range loaded {
			s.values[k] = v
		}
	}
	return s
}

// IsEnabled reports whether name is set to true. Absent flags are disabled.
func (s *Store) IsEnabled(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name].(bool)
	return ok && v
}

// IntValue returns the numeric flag name, or def when absent. JSON numbers
// decode as float64 and are accepted alongside native ints.
func (s *Store) IntValue(name string, def int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch v := s.values[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

// Set stores a flag value and persists the store when file-backed.
// Persistence failures are logged, not returned: a toggle flip must never
// fail the caller.
func (s *Store) Set(name string, value any) {
	s.mu.Lock()
	s.values[name] = value
	s.mu.Unlock()

	if s.path == "" {
		return
	}
	if err := s.persist(); err != nil {
		s.logger.Warn("flags: persist failed", "path", s.path, "error", err)
	}
}

// All returns a copy of every flag, for the runtime's config surface.
func (s *Store) All() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

func (s *Store) persist() error {
	s.mu.RLock()
	raw, err := json.MarshalIndent(s.values, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("flags: marshal: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("flags: mkdir: %w", err)
		}
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("flags: write: %w", err)
	}
	return nil
}

// Defaults returns the flag set a fresh installation starts with: the
// framework enabled, every agent in roster enabled, and the default admission
// budget.
func Defaults(roster []string) map[string]any {
	d := map[string]any{
		FrameworkFlag: true,
		RateLimitFlag: 6,
	}
	for _, agent := range roster {
		d[AgentFlag(agent)] = true
	}
	return d
}
