// Command renderworker is the main entry point for the meditation-track
// render worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/meridianaudio/renderworker/internal/audioproc"
	"github.com/meridianaudio/renderworker/internal/config"
	"github.com/meridianaudio/renderworker/internal/observe"
	"github.com/meridianaudio/renderworker/internal/pipeline"
	"github.com/meridianaudio/renderworker/internal/queue"
	"github.com/meridianaudio/renderworker/internal/tts"
	"github.com/meridianaudio/renderworker/internal/tts/elevenlabs"
	"github.com/meridianaudio/renderworker/internal/tts/openai"
	"github.com/meridianaudio/renderworker/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "renderworker: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("renderworker starting",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"prod_configured", cfg.Environments.Prod != nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "renderworker"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "error", err)
		return 1
	}
	defer shutdownTelemetry(context.Background())
	metrics := observe.DefaultMetrics()

	audioDriver := audioproc.New()
	if err := audioDriver.Detect(ctx); err != nil {
		slog.Error("ffmpeg/ffprobe not available", "error", err)
		return 1
	}

	ttsRegistry, err := buildTTSRegistry(cfg, audioDriver)
	if err != nil {
		slog.Error("failed to build tts registry", "error", err)
		return 1
	}

	environments, err := buildEnvironments(ctx, cfg, audioDriver, ttsRegistry, metrics)
	if err != nil {
		slog.Error("failed to build environments", "error", err)
		return 1
	}
	for _, env := range environments {
		defer env.Queue.(*queue.Client).Close()
	}

	app := worker.New(environments, cfg.Worker.PollInterval,
		worker.WithHTTPAddr(fmt.Sprintf(":%d", cfg.Server.Port)))

	slog.Info("worker ready — press Ctrl+C to shut down", "environments", len(environments))

	if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "error", err)
		return 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := app.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildTTSRegistry registers one provider per configured API key. At least
// one is guaranteed present by config.Validate.
func buildTTSRegistry(cfg *config.Config, audioDriver *audioproc.Driver) (*tts.Registry, error) {
	var providers []tts.Provider

	if cfg.TTS.OpenAIAPIKey != "" {
		p, err := openai.New(cfg.TTS.OpenAIAPIKey)
		if err != nil {
			return nil, fmt.Errorf("build openai provider: %w", err)
		}
		providers = append(providers, p)
		slog.Info("tts provider registered", "provider", "openai")
	}

	if cfg.TTS.ElevenLabsAPIKey != "" {
		p, err := elevenlabs.New(cfg.TTS.ElevenLabsAPIKey, audioDriver)
		if err != nil {
			return nil, fmt.Errorf("build elevenlabs provider: %w", err)
		}
		providers = append(providers, p)
		slog.Info("tts provider registered", "provider", "elevenlabs")
	}

	return tts.NewRegistry(providers...), nil
}

// buildEnvironments connects the DEV queue (always present) and the PROD
// queue (only if configured), each wrapped in its own pipeline sharing the
// audio driver and TTS registry. PROD is returned first so App dispatches
// it ahead of DEV within every activation, per §4.F.
func buildEnvironments(ctx context.Context, cfg *config.Config, audioDriver *audioproc.Driver, ttsRegistry *tts.Registry, metrics *observe.Metrics) ([]*worker.Environment, error) {
	var environments []*worker.Environment

	if cfg.Environments.Prod != nil {
		env, err := buildEnvironment(ctx, cfg.Environments.Prod, cfg.Worker.MaxJobsPerCycle, audioDriver, ttsRegistry, metrics)
		if err != nil {
			return nil, fmt.Errorf("build prod environment: %w", err)
		}
		environments = append(environments, env)
	}

	devEnv, err := buildEnvironment(ctx, &cfg.Environments.Dev, cfg.Worker.MaxJobsPerCycle, audioDriver, ttsRegistry, metrics)
	if err != nil {
		return nil, fmt.Errorf("build dev environment: %w", err)
	}
	environments = append(environments, devEnv)

	return environments, nil
}

func buildEnvironment(ctx context.Context, envCfg *config.EnvironmentConfig, maxJobsPerCycle int, audioDriver *audioproc.Driver, ttsRegistry *tts.Registry, metrics *observe.Metrics) (*worker.Environment, error) {
	client, err := queue.New(ctx, envCfg.DatabaseURL,
		queue.WithLeaseTTL(envCfg.LeaseTTL),
		queue.WithMaxAttempts(envCfg.MaxAttempts),
		queue.WithRenderBucketBaseURL(envCfg.RenderBucketBase),
		queue.WithMusicBucketBaseURL(envCfg.MusicBucketBase),
	)
	if err != nil {
		return nil, err
	}

	pl := &pipeline.Pipeline{
		Audio:       audioDriver,
		TTS:         ttsRegistry,
		Queue:       client,
		Metrics:     metrics,
		Environment: envCfg.Name,
	}

	return &worker.Environment{
		Name:            envCfg.Name,
		Queue:           client,
		Pipeline:        pl,
		MaxJobsPerCycle: maxJobsPerCycle,
	}, nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
