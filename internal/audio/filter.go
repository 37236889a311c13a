package audio

import (
	"fmt"
	"log"
	"math"
)

const (
	// DefaultLowPassCutoff isolates bass and kick content for beat tracking
	DefaultLowPassCutoff = 800.0
	// DefaultLowPassQ is the resonance in dB, as used by Web Audio biquads
	DefaultLowPassQ = 1.0
)

// FilterError reports a low-pass failure. The preprocessor recovers from it
// by analyzing the unfiltered signal.
type FilterError struct {
	Reason string
}

func (e *FilterError) Error() string {
	return "low-pass filter: " + e.Reason
}

// PreprocessOptions controls the preprocessing stage
type PreprocessOptions struct {
	ApplyLowPass bool
	CutoffHz     float64
	Q            float64
}

// Biquad is a second-order IIR section (RBJ cookbook, normalised by a0)
type Biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// NewLowPass designs a low-pass biquad. q is in dB, matching the Web Audio
// BiquadFilterNode lowpass convention.
func NewLowPass(sampleRate int, cutoffHz, q float64) (*Biquad, error) {
	if sampleRate <= 0 {
		return nil, &FilterError{Reason: fmt.Sprintf("invalid sample rate %d", sampleRate)}
	}
	if math.IsNaN(cutoffHz) || math.IsInf(cutoffHz, 0) || cutoffHz <= 0 {
		return nil, &FilterError{Reason: fmt.Sprintf("invalid cutoff %v Hz", cutoffHz)}
	}
	if math.IsNaN(q) || math.IsInf(q, 0) {
		return nil, &FilterError{Reason: fmt.Sprintf("invalid Q %v", q)}
	}
	nyquist := float64(sampleRate) / 2
	if cutoffHz >= nyquist {
		return nil, &FilterError{Reason: fmt.Sprintf("cutoff %.0f Hz is not below Nyquist (%.0f Hz)", cutoffHz, nyquist)}
	}

	w0 := 2 * math.Pi * cutoffHz / float64(sampleRate)
	cosW0 := math.Cos(w0)
	alpha := math.Sin(w0) / (2 * math.Pow(10, q/20))

	a0 := 1 + alpha
	return &Biquad{
		b0: (1 - cosW0) / 2 / a0,
		b1: (1 - cosW0) / a0,
		b2: (1 - cosW0) / 2 / a0,
		a1: -2 * cosW0 / a0,
		a2: (1 - alpha) / a0,
	}, nil
}

// Process filters in into a new slice (transposed direct form II).
func (f *Biquad) Process(in []float64) []float64 {
	out := make([]float64, len(in))
	var z1, z2 float64
	for i, x := range in {
		y := f.b0*x + z1
		z1 = f.b1*x - f.a1*y + z2
		z2 = f.b2*x - f.a2*y
		out[i] = y
	}
	return out
}

// LowPass filters every channel of sig and returns a new Signal
func LowPass(sig *Signal, cutoffHz, q float64) (*Signal, error) {
	filter, err := NewLowPass(sig.SampleRate, cutoffHz, q)
	if err != nil {
		return nil, err
	}

	channels := make([][]float64, len(sig.Channels))
	for ch, samples := range sig.Channels {
		out := filter.Process(samples)
		for _, v := range out {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, &FilterError{Reason: fmt.Sprintf("non-finite output on channel %d", ch)}
			}
		}
		channels[ch] = out
	}
	return &Signal{Channels: channels, SampleRate: sig.SampleRate}, nil
}

// Preprocess optionally low-passes sig (per channel, before mixdown) and
// mixes it to mono. The returned flag reports whether filtering happened.
func Preprocess(sig *Signal, opts PreprocessOptions) (Mono, bool) {
	if !opts.ApplyLowPass {
		return Mixdown(sig), false
	}

	cutoff := opts.CutoffHz
	if cutoff == 0 {
		cutoff = DefaultLowPassCutoff
	}
	q := opts.Q
	if q == 0 {
		q = DefaultLowPassQ
	}

	filtered, err := LowPass(sig, cutoff, q)
	if err != nil {
		log.Printf("[ANALYSIS] Warning: %v, analyzing unfiltered audio", err)
		return Mixdown(sig), false
	}
	return Mixdown(filtered), true
}
