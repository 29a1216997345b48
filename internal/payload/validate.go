package payload

import (
	"errors"
	"fmt"
	"slices"
)

// validSolfeggioHz lists the only Solfeggio frequencies a job may request.
var validSolfeggioHz = []float64{174, 285, 396, 417, 528, 639, 741, 852, 963}

// PayloadInvalidError reports every validation rule a payload violated.
// A job failing this check never reaches the pipeline.
type PayloadInvalidError struct {
	Violations []error
}

func (e *PayloadInvalidError) Error() string {
	return fmt.Sprintf("payload: invalid: %v", errors.Join(e.Violations...))
}

func (e *PayloadInvalidError) Unwrap() []error {
	return e.Violations
}

// Validate checks p against every enumerated rule, collecting all
// violations rather than stopping at the first. A non-nil error is always
// a *PayloadInvalidError.
func Validate(p *Payload) error {
	var violations []error

	hasSource := p.Script != "" && p.Voice != nil
	hasSource = hasSource || p.BackgroundMusic != nil
	hasSource = hasSource || (p.Solfeggio != nil && p.Solfeggio.Enabled)
	hasSource = hasSource || (p.Binaural != nil && p.Binaural.Enabled)
	if !hasSource {
		violations = append(violations, errors.New("at least one of voice, backgroundMusic, solfeggio, or binaural must be present and enabled"))
	}

	if p.DurationMin != 0 && (p.DurationMin < 1 || p.DurationMin > 30) {
		violations = append(violations, fmt.Errorf("durationMin %v is out of range [1, 30]", p.DurationMin))
	}

	if p.Voice != nil {
		if p.Voice.Provider != "openai" && p.Voice.Provider != "elevenlabs" {
			violations = append(violations, fmt.Errorf("voice.provider %q must be one of {openai, elevenlabs}", p.Voice.Provider))
		}
		if p.Voice.ID == "" {
			violations = append(violations, errors.New("voice.id is required when voice is present"))
		}
		if p.Voice.Speed != 0 && (p.Voice.Speed < 0.25 || p.Voice.Speed > 4.0) {
			violations = append(violations, fmt.Errorf("voice.speed %v is out of range [0.25, 4.0]", p.Voice.Speed))
		}
	}

	if p.Solfeggio != nil && p.Solfeggio.Enabled {
		if !slices.Contains(validSolfeggioHz, p.Solfeggio.HzValue) {
			violations = append(violations, fmt.Errorf("solfeggio.hz %v is not one of the enumerated Solfeggio frequencies", p.Solfeggio.HzValue))
		}
	}

	if p.Binaural != nil && p.Binaural.Enabled {
		if p.Binaural.CarrierHz != 0 && (p.Binaural.CarrierHz < 100 || p.Binaural.CarrierHz > 1000) {
			violations = append(violations, fmt.Errorf("binaural.carrierHz %v is out of range [100, 1000]", p.Binaural.CarrierHz))
		}
		if p.Binaural.BeatHz != 0 && (p.Binaural.BeatHz < 1 || p.Binaural.BeatHz > 100) {
			violations = append(violations, fmt.Errorf("binaural.beatHz %v is out of range [1, 100]", p.Binaural.BeatHz))
		}
	}

	if p.PauseSec != 0 && (p.PauseSec < 1 || p.PauseSec > 30) {
		violations = append(violations, fmt.Errorf("pauseSec %v is out of range [1, 30]", p.PauseSec))
	}
	if p.StartDelaySec < 0 || p.StartDelaySec > 60 {
		violations = append(violations, fmt.Errorf("startDelaySec %v is out of range [0, 60]", p.StartDelaySec))
	}

	if len(violations) == 0 {
		return nil
	}
	return &PayloadInvalidError{Violations: violations}
}
