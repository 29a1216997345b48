// Package tts defines the Provider interface over text-to-speech backends.
//
// A Provider turns text plus a voice selection into a complete compressed
// audio file on disk. Unlike a streaming synthesis API, a Provider never
// returns partial audio — the render pipeline needs a finished file it can
// probe, loop, and mix, not a stream to consume incrementally.
package tts

import (
	"context"
	"fmt"
)

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use; multiple render jobs
// may synthesize voice lines at once.
type Provider interface {
	// Name identifies this provider, matching the `voice.provider` value
	// in a render payload (e.g. "openai", "elevenlabs").
	Name() string

	// Synthesize renders req.Text with req.Voice and writes the result to
	// outputPath as a compressed stereo audio file. Providers with no
	// native speed control apply a post-hoc tempo-only stretch via the
	// caller-supplied stretcher when req.Voice.Speed != 1.0.
	Synthesize(ctx context.Context, req SynthesisRequest, outputPath string) (SynthesisResult, error)
}

// TTSProviderError wraps a provider failure: an HTTP non-2xx response, a
// missing credential, or an unknown voice id. The adapter never retries
// internally; retry policy belongs to the pipeline.
type TTSProviderError struct {
	Provider string
	Voice    string
	Cause    error
}

func (e *TTSProviderError) Error() string {
	return fmt.Sprintf("tts: provider %q voice %q: %v", e.Provider, e.Voice, e.Cause)
}

func (e *TTSProviderError) Unwrap() error {
	return e.Cause
}

// Registry resolves a provider name to its Provider implementation.
type Registry struct {
	providers map[string]Provider
}

// NewRegistry builds a Registry from the given providers, keyed by their
// own Name().
func NewRegistry(providers ...Provider) *Registry {
	r := &Registry{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Name()] = p
	}
	return r
}

// Resolve returns the provider registered under name, or an error if none
// is registered — e.g. because the corresponding API key was absent at
// startup.
func (r *Registry) Resolve(name string) (Provider, error) {
	p, ok := r.providers[name]
	if !ok {
		return nil, &TTSProviderError{Provider: name, Cause: fmt.Errorf("no provider registered for %q", name)}
	}
	return p, nil
}
