// Package openai provides a TTS provider backed by the OpenAI Audio Speech
// API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/meridianaudio/renderworker/internal/tts"
)

const defaultModel = "tts-1"

// config holds optional configuration for the provider.
type config struct {
	baseURL string
	timeout time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// Provider implements tts.Provider using the OpenAI Audio Speech API.
type Provider struct {
	client       oai.Client
	defaultModel string
}

// New constructs a new OpenAI TTS Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, defaultModel: defaultModel}, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "openai" }

// Synthesize renders req.Text with the OpenAI Audio Speech API and writes
// the resulting MP3 to outputPath. Speed is passed through natively —
// OpenAI accepts 0.25 to 4.0 — so no post-hoc tempo stretch is ever
// needed for this provider.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest, outputPath string) (tts.SynthesisResult, error) {
	if req.Voice.VoiceID == "" {
		return tts.SynthesisResult{}, &tts.TTSProviderError{Provider: p.Name(), Cause: fmt.Errorf("voice id must not be empty")}
	}
	model := req.Voice.Model
	if model == "" {
		model = p.defaultModel
	}
	speed := req.Voice.Speed
	if speed == 0 {
		speed = 1.0
	}

	params := oai.AudioSpeechNewParams{
		Model: oai.SpeechModel(model),
		Input: req.Text,
		Voice: oai.AudioSpeechNewParamsVoice(req.Voice.VoiceID),
		Speed: param.NewOpt(speed),
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return tts.SynthesisResult{}, &tts.TTSProviderError{Provider: p.Name(), Voice: req.Voice.VoiceID, Cause: err}
	}
	defer resp.Body.Close()

	out, err := os.Create(outputPath)
	if err != nil {
		return tts.SynthesisResult{}, fmt.Errorf("openai: create output file: %w", err)
	}
	defer out.Close()

	if _, err := out.ReadFrom(resp.Body); err != nil {
		return tts.SynthesisResult{}, fmt.Errorf("openai: write output: %w", err)
	}

	return tts.SynthesisResult{
		AudioPath:         outputPath,
		EstimatedDuration: tts.EstimateDuration(wordCount(req.Text), speed),
	}, nil
}

func wordCount(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		isSpace := r == ' ' || r == '\n' || r == '\t' || r == '\r'
		if !isSpace && !inWord {
			n++
			inWord = true
		} else if isSpace {
			inWord = false
		}
	}
	return n
}
