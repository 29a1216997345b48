package worker

import (
	"context"
	"encoding/json"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/meridianaudio/renderworker/internal/audioproc"
	"github.com/meridianaudio/renderworker/internal/payload"
	"github.com/meridianaudio/renderworker/internal/pipeline"
	"github.com/meridianaudio/renderworker/internal/queue"
	"github.com/meridianaudio/renderworker/internal/tts"
)

// fakeDriver is a minimal AudioDriver stand-in: every call writes a
// placeholder file and never errors, just enough to drive a job to
// completion without ffmpeg.
type fakeDriver struct{}

func writePlaceholder(path string) error { return os.WriteFile(path, []byte("x"), 0o644) }

func (fakeDriver) EncodePCM(ctx context.Context, pcmData []byte, channels int, outputPath string) error {
	return writePlaceholder(outputPath)
}
func (fakeDriver) Mix(ctx context.Context, inputs []audioproc.MixInput, outputPath string) error {
	return writePlaceholder(outputPath)
}
func (fakeDriver) Normalize(ctx context.Context, inputPath string, targetLufs float64, outputPath string) error {
	return writePlaceholder(outputPath)
}
func (fakeDriver) Fade(ctx context.Context, inputPath string, fadeInMs, fadeOutMs int, outputPath string) error {
	return writePlaceholder(outputPath)
}
func (fakeDriver) Trim(ctx context.Context, inputPath string, durationSec float64, outputPath string) error {
	return writePlaceholder(outputPath)
}
func (fakeDriver) Silence(ctx context.Context, durationSec float64, outputPath string) error {
	return writePlaceholder(outputPath)
}
func (fakeDriver) Concat(ctx context.Context, paths []string, outputPath string) error {
	return writePlaceholder(outputPath)
}
func (fakeDriver) PrepareBackgroundMusic(ctx context.Context, inputPath string, targetSec float64, fadeInMs, fadeOutMs int, outputPath string) error {
	return writePlaceholder(outputPath)
}
func (fakeDriver) LoopVoice(ctx context.Context, voicePath string, targetSec, pauseSec float64, tempDir, outputPath string) error {
	return writePlaceholder(outputPath)
}
func (fakeDriver) Probe(ctx context.Context, path string) (int64, error) { return 5000, nil }

type fakeTTSProvider struct{}

func (fakeTTSProvider) Name() string { return "openai" }
func (fakeTTSProvider) Synthesize(ctx context.Context, req tts.SynthesisRequest, outputPath string) (tts.SynthesisResult, error) {
	if err := writePlaceholder(outputPath); err != nil {
		return tts.SynthesisResult{}, err
	}
	return tts.SynthesisResult{AudioPath: outputPath}, nil
}

// fakeEnvQueue implements Queue over an in-memory slice of pending jobs.
type fakeEnvQueue struct {
	mu        sync.Mutex
	pending   []*queue.Job
	completed []string
	failed    []string
	dequeues  int
}

func (f *fakeEnvQueue) DequeueOne(ctx context.Context) (*queue.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dequeues++
	if len(f.pending) == 0 {
		return nil, queue.ErrNoPendingJob
	}
	job := f.pending[0]
	f.pending = f.pending[1:]
	return job, nil
}

func (f *fakeEnvQueue) SubscribeInserts(ctx context.Context, pollInterval time.Duration, callback func(queue.JobInserted)) func() {
	return func() {}
}

func (f *fakeEnvQueue) UpdateProgress(ctx context.Context, jobID string, percent int, stage string) error {
	return nil
}

func (f *fakeEnvQueue) Complete(ctx context.Context, jobID string, resultJSON json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, jobID)
	return nil
}

func (f *fakeEnvQueue) Fail(ctx context.Context, jobID string, errMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, jobID)
	return nil
}

func (f *fakeEnvQueue) FinalizeTrack(ctx context.Context, trackID, storagePath string, durationMs int64) error {
	return nil
}

func (f *fakeEnvQueue) UploadRender(ctx context.Context, localPath, trackID, format string) (*queue.UploadResult, error) {
	return &queue.UploadResult{URL: "https://renders.example/" + trackID, StoragePath: "tracks/" + trackID + "/rendered." + format}, nil
}

func (f *fakeEnvQueue) DownloadBackgroundMusic(ctx context.Context, musicURL, localPath string) bool {
	return true
}

func voiceOnlyJob(id string) *queue.Job {
	return &queue.Job{
		ID:      id,
		TrackID: "track-" + id,
		Payload: payload.Payload{
			Script:      "hello",
			Voice:       &payload.Voice{Provider: "openai", ID: "alloy"},
			DurationMin: 1,
			LoopMode:    true,
		},
	}
}

func newTestEnvironment(name string, maxJobsPerCycle int) (*Environment, *fakeEnvQueue) {
	q := &fakeEnvQueue{}
	pl := &pipeline.Pipeline{
		Audio:       fakeDriver{},
		TTS:         tts.NewRegistry(fakeTTSProvider{}),
		Queue:       q,
		Environment: name,
		TempBaseDir: os.TempDir(),
	}
	env := &Environment{Name: name, Queue: q, Pipeline: pl, MaxJobsPerCycle: maxJobsPerCycle}
	return env, q
}

func TestEnvironment_ProcessDrainsUpToMaxJobsPerCycle(t *testing.T) {
	env, q := newTestEnvironment("dev", 2)
	q.pending = []*queue.Job{voiceOnlyJob("a"), voiceOnlyJob("b"), voiceOnlyJob("c")}

	env.process(context.Background())

	if len(q.completed) != 2 {
		t.Fatalf("expected exactly 2 jobs completed (MaxJobsPerCycle=2), got %d: %v", len(q.completed), q.completed)
	}
	if len(q.pending) != 1 {
		t.Fatalf("expected 1 job left pending, got %d", len(q.pending))
	}
	status := env.snapshot()
	if status.TotalProcessed != 2 {
		t.Errorf("snapshot.TotalProcessed = %d, want 2", status.TotalProcessed)
	}
}

func TestEnvironment_ProcessStopsOnEmptyQueue(t *testing.T) {
	env, q := newTestEnvironment("dev", 5)
	q.pending = []*queue.Job{voiceOnlyJob("only")}

	env.process(context.Background())

	if q.dequeues != 2 {
		t.Errorf("expected 2 dequeue attempts (1 job + 1 empty check), got %d", q.dequeues)
	}
	if len(q.completed) != 1 {
		t.Fatalf("expected 1 job completed, got %d", len(q.completed))
	}
}

func TestEnvironment_ProcessGuardCoalescesConcurrentActivations(t *testing.T) {
	env, q := newTestEnvironment("dev", 10)
	q.pending = []*queue.Job{voiceOnlyJob("a")}

	if !env.tryEnter() {
		t.Fatal("expected first tryEnter to succeed")
	}
	defer env.exit()

	// A concurrent activation arriving while processing is already in
	// flight must be coalesced away rather than dequeuing anything.
	env.process(context.Background())

	if q.dequeues != 0 {
		t.Errorf("expected no dequeue attempts while already processing, got %d", q.dequeues)
	}
}

func TestEnvironment_Snapshot_TracksFailures(t *testing.T) {
	env, q := newTestEnvironment("dev", 5)
	invalidJob := &queue.Job{ID: "bad", TrackID: "track-bad", Payload: payload.Payload{DurationMin: 5}}
	q.pending = []*queue.Job{invalidJob}

	env.process(context.Background())

	if len(q.failed) != 1 {
		t.Fatalf("expected job to be marked failed, got completed=%v failed=%v", q.completed, q.failed)
	}
	status := env.snapshot()
	if status.TotalFailed != 1 {
		t.Errorf("snapshot.TotalFailed = %d, want 1", status.TotalFailed)
	}
}
