// Package pipeline implements the deterministic, staged render pipeline
// that turns one queued job into a finished, uploaded meditation track:
// voice synthesis, Solfeggio tone, binaural beat, prepared background
// music, mixing, fading, loudness normalization, and upload.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/meridianaudio/renderworker/internal/audioproc"
	"github.com/meridianaudio/renderworker/internal/observe"
	"github.com/meridianaudio/renderworker/internal/payload"
	"github.com/meridianaudio/renderworker/internal/queue"
	"github.com/meridianaudio/renderworker/internal/tts"
)

// minVoiceTargetSec is the floor applied to voiceTargetSec: a voice layer
// is never looped, trimmed, or padded to less than this many seconds.
const minVoiceTargetSec = 30

// outputFormat is the container/codec extension used for every intermediate
// file and the final uploaded artifact.
const outputFormat = "m4a"

// QueueStore is the subset of *queue.Client the pipeline needs to persist
// progress and the terminal outcome. Narrowed to an interface so tests can
// supply a fake instead of a live Postgres connection.
type QueueStore interface {
	UpdateProgress(ctx context.Context, jobID string, percent int, stageLabel string) error
	Complete(ctx context.Context, jobID string, resultJSON json.RawMessage) error
	Fail(ctx context.Context, jobID string, errMessage string) error
	FinalizeTrack(ctx context.Context, trackID, storagePath string, durationMs int64) error
	UploadRender(ctx context.Context, localPath, trackID, format string) (*queue.UploadResult, error)
	DownloadBackgroundMusic(ctx context.Context, musicURL, localPath string) bool
}

// AudioDriver is the subset of *audioproc.Driver the pipeline needs.
// Narrowed to an interface for the same reason as QueueStore.
type AudioDriver interface {
	EncodePCM(ctx context.Context, pcmData []byte, channels int, outputPath string) error
	Mix(ctx context.Context, inputs []audioproc.MixInput, outputPath string) error
	Normalize(ctx context.Context, inputPath string, targetLufs float64, outputPath string) error
	Fade(ctx context.Context, inputPath string, fadeInMs, fadeOutMs int, outputPath string) error
	Trim(ctx context.Context, inputPath string, durationSec float64, outputPath string) error
	Silence(ctx context.Context, durationSec float64, outputPath string) error
	Concat(ctx context.Context, paths []string, outputPath string) error
	PrepareBackgroundMusic(ctx context.Context, inputPath string, targetSec float64, fadeInMs, fadeOutMs int, outputPath string) error
	LoopVoice(ctx context.Context, voicePath string, targetSec, pauseSec float64, tempDir, outputPath string) error
	Probe(ctx context.Context, path string) (int64, error)
}

// layer is one contributor to the final mix: a file and the gain to apply
// to it. Tone layers (Solfeggio, binaural) bake their amplitude into the
// generated PCM and carry gain 0 here.
type layer struct {
	path   string
	gainDB float64
}

// Pipeline renders one job at a time through the full staged state
// machine. A single Pipeline is shared across every job an environment's
// dispatch loop processes; it holds no per-job state outside Run's stack,
// so it is safe to share across the two environment bindings too.
type Pipeline struct {
	Audio       AudioDriver
	TTS         *tts.Registry
	Queue       QueueStore
	Metrics     *observe.Metrics
	Environment string

	// TempBaseDir is the parent directory per-job temp directories are
	// created under. Defaults to os.TempDir() when empty.
	TempBaseDir string
}

func (p *Pipeline) tempBase() string {
	if p.TempBaseDir != "" {
		return p.TempBaseDir
	}
	return os.TempDir()
}

// Run drives job through every stage, reporting progress to Queue as each
// checkpoint is reached. On success it uploads the render, finalizes the
// track, marks the job completed, and returns nil. On failure it marks the
// job failed with the triggering error's message and returns that same
// error so the caller can log and count it.
//
// The job's temp directory is created after validation and removed before
// Run returns, regardless of outcome.
func (p *Pipeline) Run(ctx context.Context, job *queue.Job) error {
	if err := payload.Validate(&job.Payload); err != nil {
		return p.fail(ctx, job, err)
	}
	pl := job.Payload.WithDefaults()
	durationSec := pl.DurationSec()
	p.checkpoint(ctx, job.ID, 5, "validate")

	tmpDir, err := os.MkdirTemp(p.tempBase(), "render-job-*")
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("pipeline: create temp dir: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	var layers []layer

	if pl.Script != "" && pl.Voice != nil {
		voicePath, err := p.renderVoice(ctx, tmpDir, &pl, durationSec)
		if err != nil {
			if p.Metrics != nil {
				p.Metrics.RecordTTSProviderError(ctx, pl.Voice.Provider)
			}
			return p.fail(ctx, job, err)
		}
		layers = append(layers, layer{voicePath, pl.Gains.VoiceDB})
		p.checkpoint(ctx, job.ID, 20, "voice")
	}

	if pl.BackgroundMusic != nil && pl.BackgroundMusic.URL != "" {
		p.checkpoint(ctx, job.ID, 25, "background_music")
		musicPath, ok, err := p.renderBackgroundMusic(ctx, job, tmpDir, &pl, durationSec)
		if err != nil {
			if p.Metrics != nil {
				p.Metrics.RecordAudioProcessError(ctx, "prepare_background_music")
			}
			return p.fail(ctx, job, err)
		}
		if ok {
			layers = append(layers, layer{musicPath, pl.Gains.MusicDB})
		}
		p.checkpoint(ctx, job.ID, 30, "background_music")
	}

	if pl.Solfeggio != nil && pl.Solfeggio.Enabled {
		p.checkpoint(ctx, job.ID, 35, "solfeggio")
		solPath, err := p.renderSolfeggio(ctx, tmpDir, &pl, durationSec)
		if err != nil {
			if p.Metrics != nil {
				p.Metrics.RecordAudioProcessError(ctx, "encode_pcm_solfeggio")
			}
			return p.fail(ctx, job, err)
		}
		layers = append(layers, layer{solPath, 0})
		p.checkpoint(ctx, job.ID, 40, "solfeggio")
	}

	if pl.Binaural != nil && pl.Binaural.Enabled {
		p.checkpoint(ctx, job.ID, 45, "binaural")
		binPath, err := p.renderBinaural(ctx, tmpDir, &pl, durationSec)
		if err != nil {
			if p.Metrics != nil {
				p.Metrics.RecordAudioProcessError(ctx, "encode_pcm_binaural")
			}
			return p.fail(ctx, job, err)
		}
		layers = append(layers, layer{binPath, 0})
		p.checkpoint(ctx, job.ID, 50, "binaural")
	}

	p.checkpoint(ctx, job.ID, 55, "mix")
	if len(layers) == 0 {
		return p.fail(ctx, job, &NoLayersError{JobID: job.ID})
	}
	mixInputs := make([]audioproc.MixInput, len(layers))
	for i, l := range layers {
		mixInputs[i] = audioproc.MixInput{Path: l.path, GainDB: l.gainDB}
	}
	mixedPath := filepath.Join(tmpDir, "mixed."+outputFormat)
	if err := p.Audio.Mix(ctx, mixInputs, mixedPath); err != nil {
		if p.Metrics != nil {
			p.Metrics.RecordAudioProcessError(ctx, "mix")
		}
		return p.fail(ctx, job, err)
	}
	p.checkpoint(ctx, job.ID, 70, "mix")

	p.checkpoint(ctx, job.ID, 75, "fade")
	fadedPath := filepath.Join(tmpDir, "faded."+outputFormat)
	if err := p.Audio.Fade(ctx, mixedPath, pl.Fade.InMs, pl.Fade.OutMs, fadedPath); err != nil {
		if p.Metrics != nil {
			p.Metrics.RecordAudioProcessError(ctx, "fade")
		}
		return p.fail(ctx, job, err)
	}
	p.checkpoint(ctx, job.ID, 80, "fade")

	p.checkpoint(ctx, job.ID, 85, "normalize")
	finalPath := filepath.Join(tmpDir, "final."+outputFormat)
	if err := p.Audio.Normalize(ctx, fadedPath, pl.Safety.TargetLufs, finalPath); err != nil {
		if p.Metrics != nil {
			p.Metrics.RecordAudioProcessError(ctx, "normalize")
		}
		return p.fail(ctx, job, err)
	}
	p.checkpoint(ctx, job.ID, 90, "normalize")

	uploadResult, err := p.Queue.UploadRender(ctx, finalPath, job.TrackID, outputFormat)
	if err != nil {
		return p.fail(ctx, job, err)
	}
	p.checkpoint(ctx, job.ID, 95, "upload")

	durationMs, err := p.Audio.Probe(ctx, finalPath)
	if err != nil {
		return p.fail(ctx, job, err)
	}
	if err := p.Queue.FinalizeTrack(ctx, job.TrackID, uploadResult.StoragePath, durationMs); err != nil {
		return p.fail(ctx, job, err)
	}

	resultJSON, err := json.Marshal(map[string]any{
		"url":         uploadResult.URL,
		"storagePath": uploadResult.StoragePath,
		"durationMs":  durationMs,
	})
	if err != nil {
		return p.fail(ctx, job, fmt.Errorf("pipeline: marshal result: %w", err))
	}
	if err := p.Queue.Complete(ctx, job.ID, resultJSON); err != nil {
		if p.Metrics != nil {
			p.Metrics.RecordQueueError(ctx, "complete")
		}
		return err
	}
	if p.Metrics != nil {
		p.Metrics.RecordJobProcessed(ctx, p.Environment, "completed")
	}
	return nil
}

// fail persists job as failed with cause's message and returns cause, so
// the caller both sees the failure propagated and knows it has already
// been recorded.
func (p *Pipeline) fail(ctx context.Context, job *queue.Job, cause error) error {
	if err := p.Queue.Fail(ctx, job.ID, cause.Error()); err != nil {
		if p.Metrics != nil {
			p.Metrics.RecordQueueError(ctx, "fail")
		}
		observe.Logger(ctx).Error("failed to persist job failure", "job_id", job.ID, "cause", cause, "error", err)
	}
	if p.Metrics != nil {
		p.Metrics.RecordJobProcessed(ctx, p.Environment, "failed")
	}
	return cause
}

// checkpoint reports progress best-effort: a failure to persist it is
// logged and counted, never treated as a job failure.
func (p *Pipeline) checkpoint(ctx context.Context, jobID string, percent int, stage string) {
	if err := p.Queue.UpdateProgress(ctx, jobID, percent, stage); err != nil {
		if p.Metrics != nil {
			p.Metrics.RecordQueueError(ctx, "update_progress")
		}
		observe.Logger(ctx).Warn("update progress failed", "job_id", jobID, "stage", stage, "percent", percent, "error", err)
	}
}

// voiceTargetSec computes the floor-clamped voice layer duration per the
// pipeline's stage-1 rule.
func voiceTargetSec(durationSec, startDelaySec float64) float64 {
	return math.Max(durationSec-startDelaySec, minVoiceTargetSec)
}
