// Package config provides the configuration schema and loader for the
// render worker: environment variables are the primary source (per the
// external-interfaces contract), with an optional YAML overlay file for
// tunables that are awkward to express as env vars.
package config

import "time"

// Config is the root configuration loaded once at startup.
type Config struct {
	Server       ServerConfig
	Environments EnvironmentsConfig
	TTS          TTSConfig
	Worker       WorkerConfig
	Storage      StorageConfig
}

// ServerConfig holds the HTTP server's network and logging settings.
type ServerConfig struct {
	// Port the health/metrics HTTP server listens on.
	Port int

	// LogLevel controls slog verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel string
}

// EnvironmentsConfig holds the DEV binding (always required) and an
// optional PROD binding.
type EnvironmentsConfig struct {
	Dev  EnvironmentConfig
	Prod *EnvironmentConfig
}

// EnvironmentConfig is one queue binding: a database connection and the
// lease/retry tunables that may be overridden per environment via the YAML
// overlay.
type EnvironmentConfig struct {
	Name             string
	DatabaseURL      string
	ServiceRoleKey   string
	LeaseTTL         time.Duration
	MaxAttempts      int
	RenderBucketBase string
	MusicBucketBase  string
}

// TTSConfig holds the API credentials for whichever TTS providers are
// configured. A provider with an empty key is not registered; a payload
// naming it fails fast with TTSProviderError rather than a nil adapter.
type TTSConfig struct {
	OpenAIAPIKey     string
	ElevenLabsAPIKey string
}

// WorkerConfig holds the dispatch-loop tunables.
type WorkerConfig struct {
	PollInterval    time.Duration
	MaxJobsPerCycle int
}

// StorageConfig holds the default bucket base URLs used when an
// environment does not override them.
type StorageConfig struct {
	RenderBucketBaseURL string
	MusicBucketBaseURL  string
}

// Defaults for tunables not explicitly set by env var or YAML overlay.
const (
	DefaultPort            = 3002
	DefaultLogLevel        = "info"
	DefaultPollInterval    = 300 * time.Second
	DefaultMaxJobsPerCycle = 5
	DefaultLeaseTTL        = 15 * time.Minute
	DefaultMaxAttempts     = 3
)
