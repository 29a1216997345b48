// Package payload defines the fully-typed render payload a queued job
// carries, and validates it before the pipeline runs a single stage.
package payload

// Voice selects a TTS provider, voice, and speaking rate for the voice
// layer. A nil Voice on Payload means no voice layer is rendered.
type Voice struct {
	Provider string  `json:"provider"`
	ID       string  `json:"id"`
	Model    string  `json:"model,omitempty"`
	Speed    float64 `json:"speed"`
}

// BackgroundMusic names a music track to download and loop under the
// voice and tone layers.
type BackgroundMusic struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Solfeggio configures the Solfeggio tone layer.
type Solfeggio struct {
	Enabled  bool    `json:"enabled"`
	HzValue  float64 `json:"hz"`
	VolumeDB float64 `json:"volume_db"`
}

// ResolveVolumeDB returns the amplitude to bake into the generated PCM: the
// layer's own volume_db if set, else the mix-stage solfeggioDb gain.
func (s Solfeggio) ResolveVolumeDB(gainsSolfeggioDB float64) float64 {
	if s.VolumeDB != 0 {
		return s.VolumeDB
	}
	return gainsSolfeggioDB
}

// Band is a named binaural frequency band with its default beat
// frequency, used when Binaural.Band is set instead of an explicit
// CarrierHz/BeatHz pair.
type Band string

const (
	BandDelta Band = "delta"
	BandTheta Band = "theta"
	BandAlpha Band = "alpha"
	BandBeta  Band = "beta"
	BandGamma Band = "gamma"
)

// bandBeatHz is the default beat frequency for each named band.
var bandBeatHz = map[Band]float64{
	BandDelta: 2,
	BandTheta: 6,
	BandAlpha: 10,
	BandBeta:  20,
	BandGamma: 40,
}

const defaultBeatHz = 10 // alpha, used when neither band nor explicit beatHz is given

// defaultCarrierHz is used when Binaural.CarrierHz is unset, matching the
// carrier frequency used in the binaural L/R distinction test case.
const defaultCarrierHz = 200

// Binaural configures the binaural beat layer, either by named band or by
// an explicit carrier/beat frequency pair.
type Binaural struct {
	Enabled   bool    `json:"enabled"`
	Band      Band    `json:"band,omitempty"`
	CarrierHz float64 `json:"carrierHz,omitempty"`
	BeatHz    float64 `json:"beatHz,omitempty"`
	VolumeDB  float64 `json:"volume_db"`
}

// ResolveBeatHz returns the beat frequency to use: the explicit value if
// set, else the named band's default, else the alpha-band default.
func (b Binaural) ResolveBeatHz() float64 {
	if b.BeatHz != 0 {
		return b.BeatHz
	}
	if hz, ok := bandBeatHz[b.Band]; ok {
		return hz
	}
	return defaultBeatHz
}

// ResolveCarrierHz returns the carrier frequency to use: the explicit value
// if set, else the package default.
func (b Binaural) ResolveCarrierHz() float64 {
	if b.CarrierHz != 0 {
		return b.CarrierHz
	}
	return defaultCarrierHz
}

// ResolveVolumeDB returns the amplitude to bake into the generated PCM: the
// layer's own volume_db if set, else the mix-stage binauralDb gain, else the
// carrier default — the last rung matters only when both are absent, since
// Payload.WithDefaults already fills in a non-zero binauralDb gain.
func (b Binaural) ResolveVolumeDB(gainsBinauralDB float64) float64 {
	if b.VolumeDB != 0 {
		return b.VolumeDB
	}
	if gainsBinauralDB != 0 {
		return gainsBinauralDB
	}
	return DefaultCarrierDB
}

// Gains holds the per-layer mix gains in dB. Zero-valued fields are
// replaced with the package defaults by Payload.WithDefaults.
type Gains struct {
	VoiceDB     float64 `json:"voiceDb"`
	MusicDB     float64 `json:"musicDb"`
	SolfeggioDB float64 `json:"solfeggioDb"`
	BinauralDB  float64 `json:"binauralDb"`
}

// Default gain and carrier values in dB, per the data model's gain
// defaults table.
const (
	DefaultVoiceDB     = -1.0
	DefaultMusicDB     = -10.0
	DefaultSolfeggioDB = -18.0
	DefaultBinauralDB  = -20.0
	DefaultCarrierDB   = -24.0
)

// Fade holds the master fade durations in milliseconds.
type Fade struct {
	InMs  int `json:"inMs"`
	OutMs int `json:"outMs"`
}

const (
	DefaultFadeInMs  = 1000
	DefaultFadeOutMs = 1500
)

// Safety holds mastering-stage targets.
type Safety struct {
	TargetLufs float64 `json:"targetLufs"`
}

const DefaultTargetLufs = -16.0

// Payload is the fully-typed, validated render request. It is the single
// value the render pipeline consumes — no downstream code touches raw
// JSON.
type Payload struct {
	Script          string           `json:"script"`
	Voice           *Voice           `json:"voice,omitempty"`
	DurationMin     float64          `json:"durationMin"`
	Duration        float64          `json:"duration,omitempty"` // legacy synonym for DurationMin, used when durationMin is absent
	PauseSec        float64          `json:"pauseSec"`
	LoopMode        bool             `json:"loopMode"`
	StartDelaySec   float64          `json:"startDelaySec"`
	BackgroundMusic *BackgroundMusic `json:"backgroundMusic,omitempty"`
	Solfeggio       *Solfeggio       `json:"solfeggio,omitempty"`
	Binaural        *Binaural        `json:"binaural,omitempty"`
	Gains           Gains            `json:"gains"`
	Fade            Fade             `json:"fade"`
	Safety          Safety           `json:"safety"`
}

// ResolvedDurationMin returns DurationMin if set, else the legacy Duration
// field, else the package default of 5 minutes. Callers should normalize
// once and reuse the result, since every layer of a job must render to the
// same length to mix correctly.
func (p *Payload) ResolvedDurationMin() float64 {
	if p.DurationMin > 0 {
		return p.DurationMin
	}
	if p.Duration > 0 {
		return p.Duration
	}
	return 5
}

// DurationSec returns the payload's total render duration in seconds,
// applying the same durationMin/duration/default precedence as
// [Payload.ResolvedDurationMin].
func (p *Payload) DurationSec() float64 {
	return p.ResolvedDurationMin() * 60
}

// WithDefaults returns a copy of p with zero-valued tunables replaced by
// their package defaults. Validate should run before WithDefaults so that
// an out-of-range explicit value is rejected rather than silently
// defaulted.
func (p Payload) WithDefaults() Payload {
	if p.Gains.VoiceDB == 0 {
		p.Gains.VoiceDB = DefaultVoiceDB
	}
	if p.Gains.MusicDB == 0 {
		p.Gains.MusicDB = DefaultMusicDB
	}
	if p.Gains.SolfeggioDB == 0 {
		p.Gains.SolfeggioDB = DefaultSolfeggioDB
	}
	if p.Gains.BinauralDB == 0 {
		p.Gains.BinauralDB = DefaultBinauralDB
	}
	if p.Fade.InMs == 0 {
		p.Fade.InMs = DefaultFadeInMs
	}
	if p.Fade.OutMs == 0 {
		p.Fade.OutMs = DefaultFadeOutMs
	}
	if p.Safety.TargetLufs == 0 {
		p.Safety.TargetLufs = DefaultTargetLufs
	}
	return p
}
