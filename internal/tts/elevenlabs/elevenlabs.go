// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// non-streaming text-to-speech REST endpoint. It implements tts.Provider.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"strings"

	"github.com/meridianaudio/renderworker/internal/audioproc"
	"github.com/meridianaudio/renderworker/internal/tts"
)

// synthEndpointFmt is a var rather than a const so tests can redirect it
// at an httptest server.
var synthEndpointFmt = "https://api.elevenlabs.io/v1/text-to-speech/%s"

const (
	defaultModel = "eleven_multilingual_v2"

	// ElevenLabs has no native speaking-rate parameter; any requested
	// speed other than 1.0 is applied as a post-hoc tempo stretch.
	nativeSpeed = 1.0
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the default ElevenLabs model ID used when the request
// does not specify one.
func WithModel(model string) Option {
	return func(p *Provider) { p.defaultModel = model }
}

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// Provider implements tts.Provider backed by the ElevenLabs REST API.
type Provider struct {
	apiKey       string
	defaultModel string
	httpClient   *http.Client
	stretcher    *audioproc.Driver
}

// New creates an ElevenLabs Provider. apiKey must be non-empty. stretcher
// performs the post-hoc tempo stretch applied when a requested speed
// cannot be honored natively.
func New(apiKey string, stretcher *audioproc.Driver, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		defaultModel: defaultModel,
		httpClient:   &http.Client{},
		stretcher:    stretcher,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Name implements tts.Provider.
func (p *Provider) Name() string { return "elevenlabs" }

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthRequestBody struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// Synthesize renders req.Text with the ElevenLabs REST API and writes the
// resulting MP3 to outputPath, applying a tempo-only stretch afterward if
// a non-default speed was requested.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest, outputPath string) (tts.SynthesisResult, error) {
	if req.Voice.VoiceID == "" {
		return tts.SynthesisResult{}, &tts.TTSProviderError{Provider: p.Name(), Cause: errors.New("voice id must not be empty")}
	}
	model := req.Voice.Model
	if model == "" {
		model = p.defaultModel
	}

	rawPath := outputPath
	speed := req.Voice.Speed
	if speed != 0 && speed != nativeSpeed {
		rawPath = outputPath + ".raw.mp3"
	}

	if err := p.synthesizeRaw(ctx, req.Text, req.Voice.VoiceID, model, rawPath); err != nil {
		return tts.SynthesisResult{}, err
	}

	if rawPath != outputPath {
		defer os.Remove(rawPath)
		if err := p.applyTempo(ctx, rawPath, speed, outputPath); err != nil {
			return tts.SynthesisResult{}, fmt.Errorf("elevenlabs: tempo stretch: %w", err)
		}
	}

	return tts.SynthesisResult{
		AudioPath:         outputPath,
		EstimatedDuration: tts.EstimateDuration(wordCount(req.Text), speed),
	}, nil
}

// applyTempo stretches inputPath by factor and writes outputPath. The
// underlying tempo filter only accepts [0.5, 2.0] per pass, so a factor
// outside that range is applied across two chained passes.
func (p *Provider) applyTempo(ctx context.Context, inputPath string, factor float64, outputPath string) error {
	if factor >= 0.5 && factor <= 2.0 {
		return p.stretcher.Tempo(ctx, inputPath, factor, outputPath)
	}

	first := math.Sqrt(factor)
	intermediatePath := outputPath + ".stage1.mp3"
	if err := p.stretcher.Tempo(ctx, inputPath, first, intermediatePath); err != nil {
		return err
	}
	defer os.Remove(intermediatePath)
	return p.stretcher.Tempo(ctx, intermediatePath, factor/first, outputPath)
}

func (p *Provider) synthesizeRaw(ctx context.Context, text, voiceID, model, outputPath string) error {
	body := synthRequestBody{
		Text:    text,
		ModelID: model,
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	url := fmt.Sprintf(synthEndpointFmt, voiceID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("elevenlabs: build request: %w", err)
	}
	httpReq.Header.Set("xi-api-key", p.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/mpeg")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return &tts.TTSProviderError{Provider: p.Name(), Voice: voiceID, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return &tts.TTSProviderError{
			Provider: p.Name(),
			Voice:    voiceID,
			Cause:    fmt.Errorf("http %d: %s", resp.StatusCode, string(msg)),
		}
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return fmt.Errorf("elevenlabs: create output file: %w", err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("elevenlabs: write output: %w", err)
	}
	return nil
}

func wordCount(text string) int {
	return len(strings.Fields(text))
}
