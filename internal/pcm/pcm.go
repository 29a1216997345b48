// Package pcm generates raw 16-bit signed little-endian PCM waveforms used
// as the tone layers of a rendered track (Solfeggio and binaural beats). It
// has no concept of compressed audio formats or files; callers encode the
// byte slices it returns with the audioproc package.
package pcm

import (
	"encoding/binary"
	"math"
)

// SampleRate is the fixed sample rate every generated waveform uses, chosen
// to match the track artifact contract in the data model (44.1kHz stereo).
const SampleRate = 44100

// DBToLinear converts a decibel value to a linear amplitude multiplier,
// db_to_linear(db) = 10^(db/20).
func DBToLinear(db float64) float64 {
	return math.Pow(10, db/20)
}

// SineMono generates a single-channel sine wave at freqHz for durationSec
// seconds at SampleRate, returning interleaved 16-bit little-endian PCM.
// amplitude must be in [0, 1]; the caller is responsible for passing a
// sane value, there is no programmer-error recovery here.
func SineMono(freqHz, durationSec, amplitude float64) []byte {
	n := int(durationSec * SampleRate)
	out := make([]byte, n*2)
	for i := 0; i < n; i++ {
		s := sampleAt(freqHz, amplitude, i, SampleRate)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// SineStereoIndependent generates an interleaved stereo sine wave with
// independent left and right frequencies and phases — the binaural beat
// primitive. Each channel is synthesized from sample index 0, so the two
// channels never share phase; this must never degenerate into duplicating
// one channel onto the other.
func SineStereoIndependent(leftHz, rightHz, durationSec, amplitude float64) []byte {
	n := int(durationSec * SampleRate)
	out := make([]byte, n*4) // 2 channels * 2 bytes
	for i := 0; i < n; i++ {
		l := sampleAt(leftHz, amplitude, i, SampleRate)
		r := sampleAt(rightHz, amplitude, i, SampleRate)
		binary.LittleEndian.PutUint16(out[i*4:], uint16(l))
		binary.LittleEndian.PutUint16(out[i*4+2:], uint16(r))
	}
	return out
}

// MonoToStereo duplicates a mono 16-bit PCM buffer byte-for-byte into both
// channels of an interleaved stereo buffer. Used for the Solfeggio layer,
// which is generated mono and then doubled rather than independently
// synthesized per channel (unlike the binaural primitive).
func MonoToStereo(mono []byte) []byte {
	out := make([]byte, len(mono)*2)
	for i := 0; i+1 < len(mono); i += 2 {
		copy(out[i*2:i*2+2], mono[i:i+2])
		copy(out[i*2+2:i*2+4], mono[i:i+2])
	}
	return out
}

// sampleAt computes round(amplitude * 32767 * sin(2*pi*freq*i/sampleRate))
// clamped to the int16 range.
func sampleAt(freqHz, amplitude float64, i, sampleRate int) int16 {
	v := amplitude * 32767 * math.Sin(2*math.Pi*freqHz*float64(i)/float64(sampleRate))
	r := math.Round(v)
	if r > 32767 {
		r = 32767
	}
	if r < -32768 {
		r = -32768
	}
	return int16(r)
}

// DecodeInt16LE decodes an interleaved little-endian 16-bit PCM buffer into
// per-sample int16 values. Used by tests that need to verify generated
// waveforms (e.g. via FFT) rather than by production code.
func DecodeInt16LE(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// Deinterleave splits an interleaved stereo int16 sample slice into
// independent left and right channel slices.
func Deinterleave(samples []int16) (left, right []int16) {
	left = make([]int16, len(samples)/2)
	right = make([]int16, len(samples)/2)
	for i := 0; i < len(samples)/2; i++ {
		left[i] = samples[i*2]
		right[i] = samples[i*2+1]
	}
	return left, right
}
