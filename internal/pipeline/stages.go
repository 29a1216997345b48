package pipeline

import (
	"context"
	"path/filepath"

	"github.com/meridianaudio/renderworker/internal/observe"
	"github.com/meridianaudio/renderworker/internal/payload"
	"github.com/meridianaudio/renderworker/internal/pcm"
	"github.com/meridianaudio/renderworker/internal/queue"
	"github.com/meridianaudio/renderworker/internal/tts"
)

// renderVoice synthesizes the voice line, stretches it to voiceTargetSec,
// and prepends a start-delay silence when requested. loopMode true repeats
// the synthesized line with pauseSec gaps to fill the target; loopMode
// false never repeats speech content, instead padding a single trailing
// silence onto a voice that falls short.
func (p *Pipeline) renderVoice(ctx context.Context, tmpDir string, pl *payload.Payload, durationSec float64) (string, error) {
	provider, err := p.TTS.Resolve(pl.Voice.Provider)
	if err != nil {
		return "", err
	}

	rawPath := filepath.Join(tmpDir, "voice_raw."+outputFormat)
	_, err = provider.Synthesize(ctx, tts.SynthesisRequest{
		Text: pl.Script,
		Voice: tts.Voice{
			Provider: pl.Voice.Provider,
			VoiceID:  pl.Voice.ID,
			Model:    pl.Voice.Model,
			Speed:    pl.Voice.Speed,
		},
	}, rawPath)
	if err != nil {
		return "", err
	}

	target := voiceTargetSec(durationSec, pl.StartDelaySec)
	stretchedPath := filepath.Join(tmpDir, "voice_stretched."+outputFormat)

	if pl.LoopMode {
		if err := p.Audio.LoopVoice(ctx, rawPath, target, pl.PauseSec, tmpDir, stretchedPath); err != nil {
			return "", err
		}
	} else {
		if err := p.padVoiceWithoutLooping(ctx, rawPath, target, tmpDir, stretchedPath); err != nil {
			return "", err
		}
	}

	if pl.StartDelaySec <= 0 {
		return stretchedPath, nil
	}

	silencePath := filepath.Join(tmpDir, "voice_delay_silence."+outputFormat)
	if err := p.Audio.Silence(ctx, pl.StartDelaySec, silencePath); err != nil {
		return "", err
	}
	delayedPath := filepath.Join(tmpDir, "voice_delayed."+outputFormat)
	if err := p.Audio.Concat(ctx, []string{silencePath, stretchedPath}, delayedPath); err != nil {
		return "", err
	}
	return delayedPath, nil
}

// padVoiceWithoutLooping trims voicePath to targetSec when it is already
// long enough, else pads it with exactly one trailing silence to reach
// targetSec — the no-looping tie-break for a payload with loopMode false.
func (p *Pipeline) padVoiceWithoutLooping(ctx context.Context, voicePath string, targetSec float64, tmpDir, outputPath string) error {
	durationMs, err := p.Audio.Probe(ctx, voicePath)
	if err != nil {
		return err
	}
	voiceSec := float64(durationMs) / 1000
	if voiceSec >= targetSec {
		return p.Audio.Trim(ctx, voicePath, targetSec, outputPath)
	}

	silencePath := filepath.Join(tmpDir, "voice_pad_silence."+outputFormat)
	if err := p.Audio.Silence(ctx, targetSec-voiceSec, silencePath); err != nil {
		return err
	}
	return p.Audio.Concat(ctx, []string{voicePath, silencePath}, outputPath)
}

// renderBackgroundMusic downloads and prepares the background music layer.
// A download failure is not fatal: it is logged and counted as a warning,
// and the caller drops the layer. A failure preparing an already-downloaded
// file is fatal, since at that point the layer is a processing failure
// rather than a missing-source one.
func (p *Pipeline) renderBackgroundMusic(ctx context.Context, job *queue.Job, tmpDir string, pl *payload.Payload, durationSec float64) (path string, ok bool, err error) {
	rawPath := filepath.Join(tmpDir, "music_raw.bin")
	if !p.Queue.DownloadBackgroundMusic(ctx, pl.BackgroundMusic.URL, rawPath) {
		if p.Metrics != nil {
			p.Metrics.RecordLayerDownloadWarning(ctx, p.Environment)
		}
		observe.Logger(ctx).Warn("background music download failed; dropping layer",
			"job_id", job.ID, "url", pl.BackgroundMusic.URL)
		return "", false, nil
	}

	preparedPath := filepath.Join(tmpDir, "music_prepared."+outputFormat)
	if err := p.Audio.PrepareBackgroundMusic(ctx, rawPath, durationSec, pl.Fade.InMs, pl.Fade.OutMs, preparedPath); err != nil {
		return "", false, err
	}
	return preparedPath, true, nil
}

// renderSolfeggio generates the Solfeggio tone layer: a mono sine at the
// requested frequency, duplicated byte-for-byte into both stereo channels.
func (p *Pipeline) renderSolfeggio(ctx context.Context, tmpDir string, pl *payload.Payload, durationSec float64) (string, error) {
	volumeDB := pl.Solfeggio.ResolveVolumeDB(pl.Gains.SolfeggioDB)
	mono := pcm.SineMono(pl.Solfeggio.HzValue, durationSec, pcm.DBToLinear(volumeDB))
	stereo := pcm.MonoToStereo(mono)

	outputPath := filepath.Join(tmpDir, "solfeggio."+outputFormat)
	if err := p.Audio.EncodePCM(ctx, stereo, 2, outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}

// renderBinaural generates the binaural beat layer: independent left/right
// sine tones straddling the carrier frequency by half the beat frequency.
func (p *Pipeline) renderBinaural(ctx context.Context, tmpDir string, pl *payload.Payload, durationSec float64) (string, error) {
	beatHz := pl.Binaural.ResolveBeatHz()
	carrierHz := pl.Binaural.ResolveCarrierHz()
	leftHz := carrierHz - beatHz/2
	rightHz := carrierHz + beatHz/2

	volumeDB := pl.Binaural.ResolveVolumeDB(pl.Gains.BinauralDB)
	stereo := pcm.SineStereoIndependent(leftHz, rightHz, durationSec, pcm.DBToLinear(volumeDB))

	outputPath := filepath.Join(tmpDir, "binaural."+outputFormat)
	if err := p.Audio.EncodePCM(ctx, stereo, 2, outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}
