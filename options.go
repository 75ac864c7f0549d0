package agentrun

import (
	"log/slog"

	"github.com/techzombie4u/agentrun/internal/outputs"
	"github.com/techzombie4u/agentrun/internal/provider"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported — callers use the With* functions.
type resolvedOptions struct {
	logger        *slog.Logger
	version       string
	rosterPath    string
	flagsPath     string
	outputsDB     *string
	queueCapacity int
	provider      provider.Provider
	repository    outputs.Repository
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in logs and provider metadata.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithRosterPath overrides the agent roster location from config
// (AGENTRUN_ROSTER env var).
func WithRosterPath(path string) Option {
	return func(o *resolvedOptions) { o.rosterPath = path }
}

// WithFlagsPath overrides the feature flag store location from config
// (AGENTRUN_FLAGS env var).
func WithFlagsPath(path string) Option {
	return func(o *resolvedOptions) { o.flagsPath = path }
}

// WithOutputsDB overrides the SQLite database path from config
// (AGENTRUN_OUTPUTS_DB env var). An empty path selects the in-memory store.
func WithOutputsDB(path string) Option {
	return func(o *resolvedOptions) { o.outputsDB = &path }
}

// WithQueueCapacity overrides the job queue capacity from config
// (AGENTRUN_QUEUE_CAPACITY env var).
func WithQueueCapacity(n int) Option {
	return func(o *resolvedOptions) { o.queueCapacity = n }
}

// WithProvider replaces the roster-configured generation backend. Embedders
// use this to plug in their own provider implementation.
func WithProvider(p provider.Provider) Option {
	return func(o *resolvedOptions) { o.provider = p }
}

// WithRepository replaces the configured output repository.
func WithRepository(r outputs.Repository) Option {
	return func(o *resolvedOptions) { o.repository = r }
}
