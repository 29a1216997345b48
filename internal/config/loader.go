package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// validLogLevels lists the slog level names accepted in server.log_level.
var validLogLevels = []string{"debug", "info", "warn", "error"}

// overlay is the shape of the optional YAML tunables file. It only carries
// settings that are awkward to express as a single env var; everything else
// is env-var only. None of its fields has an env var counterpart, so
// applying it after the env vars are read never overrides an env var.
type overlay struct {
	Environments struct {
		Dev  environmentOverlay `yaml:"dev"`
		Prod environmentOverlay `yaml:"prod"`
	} `yaml:"environments"`
}

type environmentOverlay struct {
	LeaseTTL    string `yaml:"lease_ttl"`
	MaxAttempts int    `yaml:"max_attempts"`
}

// Load builds a [Config] from environment variables, optionally layering in
// tunables from the YAML file named by RENDERWORKER_CONFIG_FILE if that
// variable is set. A set variable naming a file that cannot be opened is an
// error.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:     envInt("PORT", envInt("WORKER_PORT", DefaultPort)),
			LogLevel: envString("LOG_LEVEL", DefaultLogLevel),
		},
		TTS: TTSConfig{
			OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
			ElevenLabsAPIKey: os.Getenv("ELEVENLABS_API_KEY"),
		},
		Worker: WorkerConfig{
			PollInterval:    envDurationMS("POLL_INTERVAL_MS", DefaultPollInterval),
			MaxJobsPerCycle: envInt("MAX_JOBS_PER_CYCLE", DefaultMaxJobsPerCycle),
		},
		Storage: StorageConfig{
			RenderBucketBaseURL: os.Getenv("RENDER_BUCKET_BASE_URL"),
			MusicBucketBaseURL:  os.Getenv("MUSIC_BUCKET_BASE_URL"),
		},
	}

	cfg.Environments.Dev = EnvironmentConfig{
		Name:             "dev",
		DatabaseURL:      firstNonEmpty(os.Getenv("SUPABASE_DEV_URL"), os.Getenv("SUPABASE_URL")),
		ServiceRoleKey:   firstNonEmpty(os.Getenv("SUPABASE_DEV_SERVICE_ROLE_KEY"), os.Getenv("SUPABASE_SERVICE_ROLE_KEY")),
		LeaseTTL:         DefaultLeaseTTL,
		MaxAttempts:      DefaultMaxAttempts,
		RenderBucketBase: cfg.Storage.RenderBucketBaseURL,
		MusicBucketBase:  cfg.Storage.MusicBucketBaseURL,
	}

	if prodURL := os.Getenv("SUPABASE_PROD_URL"); prodURL != "" {
		cfg.Environments.Prod = &EnvironmentConfig{
			Name:             "prod",
			DatabaseURL:      prodURL,
			ServiceRoleKey:   os.Getenv("SUPABASE_PROD_SERVICE_ROLE_KEY"),
			LeaseTTL:         DefaultLeaseTTL,
			MaxAttempts:      DefaultMaxAttempts,
			RenderBucketBase: cfg.Storage.RenderBucketBaseURL,
			MusicBucketBase:  cfg.Storage.MusicBucketBaseURL,
		}
	}

	if path := os.Getenv("RENDERWORKER_CONFIG_FILE"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config: overlay file %q not found: %w", path, err)
			}
			return nil, fmt.Errorf("config: open overlay %q: %w", path, err)
		}
		defer f.Close()
		if err := applyOverlay(cfg, f); err != nil {
			return nil, fmt.Errorf("config: overlay %q: %w", path, err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyOverlay decodes YAML tunables from r and merges them into cfg.
// Fields left zero in the overlay do not override the defaults already set.
func applyOverlay(cfg *Config, r io.Reader) error {
	var ov overlay
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ov); err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("decode yaml: %w", err)
	}

	mergeEnvironmentOverlay(&cfg.Environments.Dev, ov.Environments.Dev)
	if cfg.Environments.Prod != nil {
		mergeEnvironmentOverlay(cfg.Environments.Prod, ov.Environments.Prod)
	}
	return nil
}

func mergeEnvironmentOverlay(target *EnvironmentConfig, ov environmentOverlay) {
	if ov.LeaseTTL != "" {
		if d, err := time.ParseDuration(ov.LeaseTTL); err == nil {
			target.LeaseTTL = d
		}
	}
	if ov.MaxAttempts > 0 {
		target.MaxAttempts = ov.MaxAttempts
	}
}

// Validate checks that cfg contains a coherent, runnable set of values. It
// returns a joined error listing every failure found rather than stopping
// at the first.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !slices.Contains(validLogLevels, cfg.Server.LogLevel) {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: %v", cfg.Server.LogLevel, validLogLevels))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d is out of range [1, 65535]", cfg.Server.Port))
	}

	if cfg.Environments.Dev.DatabaseURL == "" {
		errs = append(errs, errors.New("environments.dev: SUPABASE_DEV_URL (or SUPABASE_URL) is required"))
	}
	if cfg.Environments.Dev.ServiceRoleKey == "" {
		errs = append(errs, errors.New("environments.dev: SUPABASE_DEV_SERVICE_ROLE_KEY (or SUPABASE_SERVICE_ROLE_KEY) is required"))
	}
	if cfg.Environments.Prod != nil && cfg.Environments.Prod.ServiceRoleKey == "" {
		errs = append(errs, errors.New("environments.prod: SUPABASE_PROD_URL is set but SUPABASE_PROD_SERVICE_ROLE_KEY is missing"))
	}

	if cfg.TTS.OpenAIAPIKey == "" && cfg.TTS.ElevenLabsAPIKey == "" {
		errs = append(errs, errors.New("at least one of OPENAI_API_KEY or ELEVENLABS_API_KEY is required"))
	}

	if cfg.Worker.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("worker.poll_interval %s must be positive", cfg.Worker.PollInterval))
	}
	if cfg.Worker.MaxJobsPerCycle <= 0 {
		errs = append(errs, fmt.Errorf("worker.max_jobs_per_cycle %d must be positive", cfg.Worker.MaxJobsPerCycle))
	}

	return errors.Join(errs...)
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envDurationMS(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
