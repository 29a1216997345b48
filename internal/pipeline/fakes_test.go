package pipeline_test

import (
	"context"
	"encoding/json"
	"os"

	"github.com/meridianaudio/renderworker/internal/audioproc"
	"github.com/meridianaudio/renderworker/internal/queue"
	"github.com/meridianaudio/renderworker/internal/tts"
)

// fakeDriver is a minimal stand-in for *audioproc.Driver: every operation
// writes a placeholder file to outputPath and records that it ran, so tests
// can assert on stage sequencing without a real encoder binary.
type fakeDriver struct {
	calls   []string
	failOn  map[string]error
	probeMs int64

	lastMixInputs []audioproc.MixInput
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{failOn: make(map[string]error), probeMs: 5000}
}

func (f *fakeDriver) record(op string) error {
	f.calls = append(f.calls, op)
	return f.failOn[op]
}

func (f *fakeDriver) write(outputPath string) error {
	return os.WriteFile(outputPath, []byte("audio"), 0o644)
}

func (f *fakeDriver) EncodePCM(ctx context.Context, pcmData []byte, channels int, outputPath string) error {
	if err := f.record("encode_pcm"); err != nil {
		return err
	}
	return f.write(outputPath)
}

func (f *fakeDriver) Mix(ctx context.Context, inputs []audioproc.MixInput, outputPath string) error {
	f.lastMixInputs = inputs
	if err := f.record("mix"); err != nil {
		return err
	}
	return f.write(outputPath)
}

func (f *fakeDriver) Normalize(ctx context.Context, inputPath string, targetLufs float64, outputPath string) error {
	if err := f.record("normalize"); err != nil {
		return err
	}
	return f.write(outputPath)
}

func (f *fakeDriver) Fade(ctx context.Context, inputPath string, fadeInMs, fadeOutMs int, outputPath string) error {
	if err := f.record("fade"); err != nil {
		return err
	}
	return f.write(outputPath)
}

func (f *fakeDriver) Trim(ctx context.Context, inputPath string, durationSec float64, outputPath string) error {
	if err := f.record("trim"); err != nil {
		return err
	}
	return f.write(outputPath)
}

func (f *fakeDriver) Silence(ctx context.Context, durationSec float64, outputPath string) error {
	if err := f.record("silence"); err != nil {
		return err
	}
	return f.write(outputPath)
}

func (f *fakeDriver) Concat(ctx context.Context, paths []string, outputPath string) error {
	if err := f.record("concat"); err != nil {
		return err
	}
	return f.write(outputPath)
}

func (f *fakeDriver) PrepareBackgroundMusic(ctx context.Context, inputPath string, targetSec float64, fadeInMs, fadeOutMs int, outputPath string) error {
	if err := f.record("prepare_music"); err != nil {
		return err
	}
	return f.write(outputPath)
}

func (f *fakeDriver) LoopVoice(ctx context.Context, voicePath string, targetSec, pauseSec float64, tempDir, outputPath string) error {
	if err := f.record("loop_voice"); err != nil {
		return err
	}
	return f.write(outputPath)
}

func (f *fakeDriver) Probe(ctx context.Context, path string) (int64, error) {
	if err := f.record("probe"); err != nil {
		return 0, err
	}
	return f.probeMs, nil
}

// progressCall records one UpdateProgress invocation.
type progressCall struct {
	percent int
	stage   string
}

// fakeQueueStore is a minimal stand-in for *queue.Client.
type fakeQueueStore struct {
	progress []progressCall

	completed      bool
	completeResult json.RawMessage

	failed      bool
	failMessage string

	uploadResult *queue.UploadResult
	uploadErr    error

	downloadOK bool

	finalizeErr error
}

func newFakeQueueStore() *fakeQueueStore {
	return &fakeQueueStore{downloadOK: true}
}

func (f *fakeQueueStore) UpdateProgress(ctx context.Context, jobID string, percent int, stage string) error {
	f.progress = append(f.progress, progressCall{percent, stage})
	return nil
}

func (f *fakeQueueStore) Complete(ctx context.Context, jobID string, resultJSON json.RawMessage) error {
	f.completed = true
	f.completeResult = resultJSON
	return nil
}

func (f *fakeQueueStore) Fail(ctx context.Context, jobID string, errMessage string) error {
	f.failed = true
	f.failMessage = errMessage
	return nil
}

func (f *fakeQueueStore) FinalizeTrack(ctx context.Context, trackID, storagePath string, durationMs int64) error {
	return f.finalizeErr
}

func (f *fakeQueueStore) UploadRender(ctx context.Context, localPath, trackID, format string) (*queue.UploadResult, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	if f.uploadResult != nil {
		return f.uploadResult, nil
	}
	return &queue.UploadResult{URL: "https://renders.example/tracks/" + trackID, StoragePath: "tracks/" + trackID + "/rendered." + format}, nil
}

func (f *fakeQueueStore) DownloadBackgroundMusic(ctx context.Context, musicURL, localPath string) bool {
	if !f.downloadOK {
		return false
	}
	return os.WriteFile(localPath, []byte("music"), 0o644) == nil
}

// fakeTTSProvider is a minimal stand-in for a tts.Provider implementation.
type fakeTTSProvider struct {
	name string
	err  error
}

func (f *fakeTTSProvider) Name() string { return f.name }

func (f *fakeTTSProvider) Synthesize(ctx context.Context, req tts.SynthesisRequest, outputPath string) (tts.SynthesisResult, error) {
	if f.err != nil {
		return tts.SynthesisResult{}, f.err
	}
	if err := os.WriteFile(outputPath, []byte("voice"), 0o644); err != nil {
		return tts.SynthesisResult{}, err
	}
	return tts.SynthesisResult{AudioPath: outputPath}, nil
}
