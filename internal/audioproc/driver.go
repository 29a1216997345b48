// Package audioproc is a thin synchronous driver over an external audio
// processing tool (ffmpeg/ffprobe-compatible), used to encode, mix, fade,
// normalize, trim, and concatenate the intermediate files a render job
// produces. Every operation invokes exactly one subprocess and fails with
// [AudioProcessError] on a non-zero exit, propagating the captured stderr
// tail.
package audioproc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

const (
	stderrTailBytes = 4096

	encodeBitrate    = "192k"
	sampleRateHz     = 44100
	stereoChannels   = 2
	masteringTruePk  = -1.5
	masteringLRA     = 11.0
	loudnormFilterID = "libfilter"
)

// Option configures a Driver.
type Option func(*Driver)

// WithToolPath overrides the path to the ffmpeg-equivalent binary. Defaults
// to the FFMPEG_PATH environment variable, or "ffmpeg" if unset.
func WithToolPath(path string) Option {
	return func(d *Driver) { d.toolPath = path }
}

// WithProbePath overrides the path to the ffprobe-equivalent binary.
// Defaults to the FFPROBE_PATH environment variable, or "ffprobe" if unset.
func WithProbePath(path string) Option {
	return func(d *Driver) { d.probePath = path }
}

// Driver invokes an external audio processing tool to perform the render
// pipeline's encode/mix/normalize/trim/concat operations. It holds no
// per-job state; a single Driver is shared across concurrently running
// jobs since every operation spawns its own subprocess.
type Driver struct {
	toolPath  string
	probePath string
}

// New creates a Driver, reading tool paths from FFMPEG_PATH/FFPROBE_PATH
// when not overridden via options.
func New(opts ...Option) *Driver {
	d := &Driver{
		toolPath:  envOr("FFMPEG_PATH", "ffmpeg"),
		probePath: envOr("FFPROBE_PATH", "ffprobe"),
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Detect verifies both the encode and probe tools are reachable. Called
// once at worker startup per the capability-detection design note; a
// render job is never the first place a missing tool is discovered.
func (d *Driver) Detect(ctx context.Context) error {
	if _, err := exec.LookPath(d.toolPath); err != nil {
		if !isAbsExecutable(d.toolPath) {
			return &ErrToolNotFound{Path: d.toolPath}
		}
	}
	if _, err := exec.LookPath(d.probePath); err != nil {
		if !isAbsExecutable(d.probePath) {
			return &ErrToolNotFound{Path: d.probePath}
		}
	}
	return nil
}

func isAbsExecutable(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// run executes the tool with args, returning captured stdout. On non-zero
// exit it returns an [AudioProcessError] carrying the stderr tail.
func (d *Driver) run(ctx context.Context, op string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, d.toolPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, &AudioProcessError{
			Op:       op,
			ExitCode: cmd.ProcessState.ExitCode(),
			Stderr:   tail(stderr.String(), stderrTailBytes),
		}
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

// EncodePCM pipes raw little-endian 16-bit PCM bytes through the tool's
// stdin and writes a compressed, 192kbit/s, 44.1kHz, stereo file at
// outputPath. This is the raw-PCM-pipe path the design notes call for
// instead of assuming a synthesis filter is present in the tool build.
func (d *Driver) EncodePCM(ctx context.Context, pcmData []byte, channels int, outputPath string) error {
	args := []string{
		"-y",
		"-f", "s16le",
		"-ar", strconv.Itoa(sampleRateHz),
		"-ac", strconv.Itoa(channels),
		"-i", "pipe:0",
		"-ac", strconv.Itoa(stereoChannels),
		"-ar", strconv.Itoa(sampleRateHz),
		"-b:a", encodeBitrate,
		outputPath,
	}
	cmd := exec.CommandContext(ctx, d.toolPath, args...)
	cmd.Stdin = bytes.NewReader(pcmData)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &AudioProcessError{Op: "encode_pcm", ExitCode: cmd.ProcessState.ExitCode(), Stderr: tail(stderr.String(), stderrTailBytes)}
	}
	return nil
}

// Encode re-encodes an existing file to the track artifact format:
// 192kbit/s, 44.1kHz, stereo.
func (d *Driver) Encode(ctx context.Context, inputPath, outputPath string) error {
	args := []string{
		"-y", "-i", inputPath,
		"-ac", strconv.Itoa(stereoChannels),
		"-ar", strconv.Itoa(sampleRateHz),
		"-b:a", encodeBitrate,
		outputPath,
	}
	_, err := d.run(ctx, "encode", args)
	return err
}

// MixInput is one input file to a mixing operation, with its gain in dB
// applied before summation. Tone layers are passed with GainDB=0 since
// their amplitude is already baked into the generated PCM.
type MixInput struct {
	Path   string
	GainDB float64
}

// Mix combines the given inputs into a single stereo file whose duration is
// the longest input's duration, applying each input's gain before summing.
// A single-input mix degenerates to a gain+format pass rather than an amix
// graph, matching the spec's degenerate case.
func (d *Driver) Mix(ctx context.Context, inputs []MixInput, outputPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("audioproc: mix: no inputs")
	}
	if len(inputs) == 1 {
		args := []string{
			"-y", "-i", inputs[0].Path,
			"-filter:a", fmt.Sprintf("volume=%.4fdB,aformat=channel_layouts=stereo", inputs[0].GainDB),
			"-ar", strconv.Itoa(sampleRateHz),
			outputPath,
		}
		_, err := d.run(ctx, "mix", args)
		return err
	}

	args := []string{"-y"}
	var filterParts []string
	for i, in := range inputs {
		args = append(args, "-i", in.Path)
		filterParts = append(filterParts, fmt.Sprintf("[%d:a]volume=%.4fdB,aformat=channel_layouts=stereo[a%d]", i, in.GainDB, i))
	}
	var labels strings.Builder
	for i := range inputs {
		fmt.Fprintf(&labels, "[a%d]", i)
	}
	filterComplex := strings.Join(filterParts, ";") +
		fmt.Sprintf(";%samix=inputs=%d:duration=longest:normalize=0[mixed]", labels.String(), len(inputs))

	args = append(args,
		"-filter_complex", filterComplex,
		"-map", "[mixed]",
		"-ar", strconv.Itoa(sampleRateHz),
		outputPath,
	)
	_, err := d.run(ctx, "mix", args)
	return err
}

// loudnormStats is the subset of the loudnorm filter's JSON measurement
// output needed to drive the second normalization pass.
type loudnormStats struct {
	InputI      string `json:"input_i"`
	InputTP     string `json:"input_tp"`
	InputLRA    string `json:"input_lra"`
	InputThresh string `json:"input_thresh"`
	TargetOff   string `json:"target_offset"`
}

// Normalize performs two-pass EBU R128 loudness normalization to
// targetLufs, with a true-peak ceiling of -1.5 dBTP and an LRA target of
// 11, the mastering-stage ceiling recorded in DESIGN.md.
func (d *Driver) Normalize(ctx context.Context, inputPath string, targetLufs float64, outputPath string) error {
	measureFilter := fmt.Sprintf("loudnorm=I=%.2f:TP=%.2f:LRA=%.2f:print_format=json",
		targetLufs, masteringTruePk, masteringLRA)

	args := []string{
		"-y", "-i", inputPath,
		"-filter:a", measureFilter,
		"-f", "null", "-",
	}
	// The JSON stats are written to stderr by the filter; run captures
	// stderr into the AudioProcessError path on failure, so measure
	// directly here to also capture it on success.
	cmd := exec.CommandContext(ctx, d.toolPath, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &AudioProcessError{Op: "normalize_measure", ExitCode: cmd.ProcessState.ExitCode(), Stderr: tail(stderr.String(), stderrTailBytes)}
	}

	stats, err := parseLoudnormStats(stderr.String())
	if err != nil {
		return fmt.Errorf("audioproc: normalize: parse measurement: %w", err)
	}

	applyFilter := fmt.Sprintf(
		"loudnorm=I=%.2f:TP=%.2f:LRA=%.2f:measured_I=%s:measured_TP=%s:measured_LRA=%s:measured_thresh=%s:offset=%s:linear=true",
		targetLufs, masteringTruePk, masteringLRA,
		stats.InputI, stats.InputTP, stats.InputLRA, stats.InputThresh, stats.TargetOff,
	)
	applyArgs := []string{
		"-y", "-i", inputPath,
		"-filter:a", applyFilter,
		"-ar", strconv.Itoa(sampleRateHz),
		outputPath,
	}
	_, err = d.run(ctx, "normalize_apply", applyArgs)
	return err
}

func parseLoudnormStats(stderr string) (loudnormStats, error) {
	start := strings.LastIndex(stderr, "{")
	end := strings.LastIndex(stderr, "}")
	if start < 0 || end < start {
		return loudnormStats{}, fmt.Errorf("no loudnorm JSON block found in output")
	}
	var stats loudnormStats
	if err := json.Unmarshal([]byte(stderr[start:end+1]), &stats); err != nil {
		return loudnormStats{}, err
	}
	return stats, nil
}

// Fade applies a linear fade-in of fadeInMs from the start and a fade-out
// of fadeOutMs ending exactly at the file's end.
func (d *Driver) Fade(ctx context.Context, inputPath string, fadeInMs, fadeOutMs int, outputPath string) error {
	durationMs, err := d.Probe(ctx, inputPath)
	if err != nil {
		return err
	}
	fadeOutStartSec := math.Max(0, float64(durationMs-int64(fadeOutMs))/1000)
	filter := fmt.Sprintf("afade=t=in:st=0:d=%.3f,afade=t=out:st=%.3f:d=%.3f",
		float64(fadeInMs)/1000, fadeOutStartSec, float64(fadeOutMs)/1000)

	args := []string{"-y", "-i", inputPath, "-filter:a", filter, outputPath}
	_, err = d.run(ctx, "fade", args)
	return err
}

// Trim cuts inputPath down to exactly durationSec seconds.
func (d *Driver) Trim(ctx context.Context, inputPath string, durationSec float64, outputPath string) error {
	args := []string{
		"-y", "-i", inputPath,
		"-filter:a", fmt.Sprintf("atrim=0:%.4f,asetpts=PTS-STARTPTS", durationSec),
		outputPath,
	}
	_, err := d.run(ctx, "trim", args)
	return err
}

// Silence generates durationSec seconds of digital silence as a stereo
// file at SampleRate.
func (d *Driver) Silence(ctx context.Context, durationSec float64, outputPath string) error {
	args := []string{
		"-y",
		"-f", "lavfi",
		"-i", fmt.Sprintf("anullsrc=r=%d:cl=stereo", sampleRateHz),
		"-t", fmt.Sprintf("%.4f", durationSec),
		outputPath,
	}
	_, err := d.run(ctx, "silence", args)
	return err
}

// Tempo changes the playback rate of inputPath by factor without altering
// pitch, using the tool's tempo filter. factor must be in [0.5, 2.0]; a
// provider needing a wider range chains Tempo calls, since the filter
// itself only accepts that span per call.
func (d *Driver) Tempo(ctx context.Context, inputPath string, factor float64, outputPath string) error {
	if factor < 0.5 || factor > 2.0 {
		return fmt.Errorf("audioproc: tempo: factor %.4f out of range [0.5, 2.0]", factor)
	}
	args := []string{
		"-y", "-i", inputPath,
		"-filter:a", fmt.Sprintf("atempo=%.4f", factor),
		outputPath,
	}
	_, err := d.run(ctx, "tempo", args)
	return err
}

// Concat joins paths in order using a sample-accurate filter-graph concat,
// never a stream copy, so that the discontinuities a naive concat would
// leave at segment boundaries (the artifact the voice-loop operation must
// avoid) never appear.
func (d *Driver) Concat(ctx context.Context, paths []string, outputPath string) error {
	if len(paths) == 0 {
		return fmt.Errorf("audioproc: concat: no inputs")
	}
	if len(paths) == 1 {
		return d.Encode(ctx, paths[0], outputPath)
	}

	args := []string{"-y"}
	for _, p := range paths {
		args = append(args, "-i", p)
	}
	var inputLabels strings.Builder
	for i := range paths {
		fmt.Fprintf(&inputLabels, "[%d:a]", i)
	}
	filter := fmt.Sprintf("%sconcat=n=%d:v=0:a=1[out]", inputLabels.String(), len(paths))
	args = append(args, "-filter_complex", filter, "-map", "[out]", outputPath)

	_, err := d.run(ctx, "concat", args)
	return err
}

// PrepareBackgroundMusic produces exactly targetSec seconds of background
// music with the given fades. If the source is already at least targetSec
// long it is trimmed; otherwise it is looped via the tool's native
// stream-loop mechanism (not a decoded-segment crossfade, to avoid
// audible loop-seam artifacts) and truncated to targetSec.
func (d *Driver) PrepareBackgroundMusic(ctx context.Context, inputPath string, targetSec float64, fadeInMs, fadeOutMs int, outputPath string) error {
	durationMs, err := d.Probe(ctx, inputPath)
	if err != nil {
		return err
	}
	sourceSec := float64(durationMs) / 1000

	var args []string
	if sourceSec >= targetSec {
		args = []string{
			"-y", "-i", inputPath,
			"-filter:a", fmt.Sprintf("atrim=0:%.4f,asetpts=PTS-STARTPTS", targetSec),
			outputPath,
		}
	} else {
		args = []string{
			"-y",
			"-stream_loop", "-1",
			"-i", inputPath,
			"-t", fmt.Sprintf("%.4f", targetSec),
			outputPath,
		}
	}
	basePath := outputPath + ".base.m4a"
	args[len(args)-1] = basePath
	if _, err := d.run(ctx, "prepare_music_base", args); err != nil {
		return err
	}
	defer os.Remove(basePath)
	return d.Fade(ctx, basePath, fadeInMs, fadeOutMs, outputPath)
}

// LoopVoice repeats voicePath with pauseSec silence between repetitions
// until the result is at least targetSec long, then trims to exactly
// targetSec. If the source is already long enough it is trimmed directly,
// never looped. tempDir holds the intermediate silence file.
func (d *Driver) LoopVoice(ctx context.Context, voicePath string, targetSec, pauseSec float64, tempDir, outputPath string) error {
	durationMs, err := d.Probe(ctx, voicePath)
	if err != nil {
		return err
	}
	voiceSec := float64(durationMs) / 1000

	if voiceSec >= targetSec {
		return d.Trim(ctx, voicePath, targetSec, outputPath)
	}

	cycle := voiceSec + pauseSec
	repeats := int(math.Ceil(targetSec / cycle))
	if repeats < 1 {
		repeats = 1
	}

	silencePath := tempDir + "/loop_silence.m4a"
	if err := d.Silence(ctx, pauseSec, silencePath); err != nil {
		return err
	}

	pattern := make([]string, 0, repeats*2)
	for i := 0; i < repeats; i++ {
		pattern = append(pattern, voicePath, silencePath)
	}

	concatPath := tempDir + "/loop_concat.m4a"
	if err := d.Concat(ctx, pattern, concatPath); err != nil {
		return err
	}
	return d.Trim(ctx, concatPath, targetSec, outputPath)
}

// probeFormat is the subset of ffprobe's -show_format JSON output used by
// Probe.
type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		Channels int `json:"channels"`
	} `json:"streams"`
}

// Probe returns the duration of path in milliseconds.
func (d *Driver) Probe(ctx context.Context, path string) (int64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-show_entries", "stream=channels",
		"-of", "json",
		path,
	}
	cmd := exec.CommandContext(ctx, d.probePath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return 0, &AudioProcessError{Op: "probe", ExitCode: cmd.ProcessState.ExitCode(), Stderr: tail(stderr.String(), stderrTailBytes)}
	}

	var pf probeFormat
	if err := json.Unmarshal(stdout.Bytes(), &pf); err != nil {
		return 0, fmt.Errorf("audioproc: probe: parse: %w", err)
	}
	durationSec, err := strconv.ParseFloat(pf.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("audioproc: probe: parse duration: %w", err)
	}
	return int64(durationSec * 1000), nil
}

// ProbeChannels returns the channel count and whether the stream is
// stereo.
func (d *Driver) ProbeChannels(ctx context.Context, path string) (channels int, isStereo bool, err error) {
	args := []string{
		"-v", "error",
		"-show_entries", "stream=channels",
		"-of", "json",
		path,
	}
	cmd := exec.CommandContext(ctx, d.probePath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if runErr := cmd.Run(); runErr != nil {
		return 0, false, &AudioProcessError{Op: "probe_channels", ExitCode: cmd.ProcessState.ExitCode(), Stderr: tail(stderr.String(), stderrTailBytes)}
	}
	var pf probeFormat
	if jsonErr := json.Unmarshal(stdout.Bytes(), &pf); jsonErr != nil {
		return 0, false, fmt.Errorf("audioproc: probe_channels: parse: %w", jsonErr)
	}
	if len(pf.Streams) == 0 {
		return 0, false, fmt.Errorf("audioproc: probe_channels: no audio streams found")
	}
	ch := pf.Streams[0].Channels
	return ch, ch == stereoChannels, nil
}
