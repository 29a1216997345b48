package tts

import "time"

// Voice selects which provider voice to synthesize with and how. Speed is
// applied natively when the provider supports it; providers that don't
// must have their caller apply a post-hoc tempo-only stretch.
type Voice struct {
	Provider string
	VoiceID  string
	Model    string
	Speed    float64
}

// SynthesisRequest is the input to Synthesize: the text to speak and the
// voice to speak it with.
type SynthesisRequest struct {
	Text  string
	Voice Voice
}

// SynthesisResult is a completed synthesis: a compressed stereo audio file
// on disk plus an estimated duration for telemetry. The pipeline always
// re-probes the actual duration rather than trusting EstimatedDuration.
type SynthesisResult struct {
	AudioPath         string
	EstimatedDuration time.Duration
}

// EstimateDuration approximates spoken duration from word count at 150
// words per minute, adjusted by speed. Used only for telemetry; the
// pipeline re-probes the real duration after synthesis.
func EstimateDuration(wordCount int, speed float64) time.Duration {
	if speed <= 0 {
		speed = 1.0
	}
	minutes := float64(wordCount) / 150.0 / speed
	return time.Duration(minutes * float64(time.Minute))
}
