// Package config loads and validates runtime configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all runtime configuration.
type Config struct {
	// Data paths.
	RosterPath string // Agent roster YAML; a missing file selects the built-in default roster.
	FlagsPath  string // Feature flag JSON store.
	OutputsDB  string // SQLite database for execution results; empty selects the in-memory store.

	// Provider overrides. When set, these take precedence over the roster's
	// llm block so an operator can switch backends without editing the roster.
	ProviderName    string
	ProviderModel   string
	ProviderBaseURL string
	ProviderAPIKey  string

	// Queue and scheduling.
	QueueCapacity   int
	EnableScheduler bool

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel      string
	ShutdownGrace time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		RosterPath:      envStr("AGENTRUN_ROSTER", "config/agents.yaml"),
		FlagsPath:       envStr("AGENTRUN_FLAGS", "data/feature_flags.json"),
		OutputsDB:       envStr("AGENTRUN_OUTPUTS_DB", "data/agent_outputs.db"),
		ProviderName:    envStr("AGENTRUN_PROVIDER", ""),
		ProviderModel:   envStr("AGENTRUN_PROVIDER_MODEL", ""),
		ProviderBaseURL: envStr("AGENTRUN_PROVIDER_BASE_URL", ""),
		ProviderAPIKey:  envStr("AGENTRUN_PROVIDER_API_KEY", ""),
		QueueCapacity:   envInt("AGENTRUN_QUEUE_CAPACITY", 256),
		EnableScheduler: envBool("AGENTRUN_ENABLE_SCHEDULER", true),
		OTELEndpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:    envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:     envStr("OTEL_SERVICE_NAME", "agentrun"),
		LogLevel:        envStr("AGENTRUN_LOG_LEVEL", "info"),
		ShutdownGrace:   envDuration("AGENTRUN_SHUTDOWN_GRACE", 10*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that configuration values are usable.
func (c Config) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("config: AGENTRUN_QUEUE_CAPACITY must be positive")
	}
	if c.FlagsPath == "" {
		return fmt.Errorf("config: AGENTRUN_FLAGS is required")
	}
	if c.ShutdownGrace <= 0 {
		return fmt.Errorf("config: AGENTRUN_SHUTDOWN_GRACE must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
