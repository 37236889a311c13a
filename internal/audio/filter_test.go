package audio

import (
	"errors"
	"math"
	"testing"
)

func sine(freq float64, sampleRate int, seconds float64, amp float64) []float64 {
	n := int(float64(sampleRate) * seconds)
	out := make([]float64, n)
	for i := range out {
		out[i] = amp * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return out
}

func rms(samples []float64) float64 {
	var sum float64
	for _, s := range samples {
		sum += s * s
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func TestLowPassAttenuation(t *testing.T) {
	tests := []struct {
		name    string
		freq    float64
		minRMS  float64
		maxRMS  float64
	}{
		{"passband", 100, 0.6, 0.8},
		{"stopband", 5000, 0, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sig := &Signal{Channels: [][]float64{sine(tt.freq, 44100, 1, 1)}, SampleRate: 44100}
			filtered, err := LowPass(sig, DefaultLowPassCutoff, DefaultLowPassQ)
			if err != nil {
				t.Fatalf("LowPass failed: %v", err)
			}
			// Skip the transient at the start
			tail := filtered.Channels[0][22050:]
			got := rms(tail)
			if got < tt.minRMS || got > tt.maxRMS {
				t.Errorf("Expected RMS in [%v, %v], got %v", tt.minRMS, tt.maxRMS, got)
			}
		})
	}
}

func TestLowPassDoesNotMutateInput(t *testing.T) {
	in := sine(5000, 8000*4, 0.1, 1)
	orig := append([]float64(nil), in...)
	sig := &Signal{Channels: [][]float64{in}, SampleRate: 32000}

	if _, err := LowPass(sig, 800, 1); err != nil {
		t.Fatalf("LowPass failed: %v", err)
	}
	for i := range in {
		if in[i] != orig[i] {
			t.Fatalf("Input sample %d changed", i)
		}
	}
}

func TestNewLowPassInvalid(t *testing.T) {
	tests := []struct {
		name       string
		sampleRate int
		cutoff     float64
		q          float64
	}{
		{"zero sample rate", 0, 800, 1},
		{"cutoff above nyquist", 1000, 800, 1},
		{"negative cutoff", 44100, -5, 1},
		{"nan cutoff", 44100, math.NaN(), 1},
		{"inf q", 44100, 800, math.Inf(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLowPass(tt.sampleRate, tt.cutoff, tt.q)
			var filterErr *FilterError
			if !errors.As(err, &filterErr) {
				t.Errorf("Expected FilterError, got %v", err)
			}
		})
	}
}

func TestPreprocess(t *testing.T) {
	stereo := &Signal{
		Channels:   [][]float64{sine(100, 44100, 0.5, 1), sine(100, 44100, 0.5, 0.5)},
		SampleRate: 44100,
	}

	t.Run("no filter", func(t *testing.T) {
		mono, applied := Preprocess(stereo, PreprocessOptions{})
		if applied {
			t.Error("Expected filter not applied")
		}
		if len(mono.Samples) != stereo.Len() {
			t.Errorf("Expected %d samples, got %d", stereo.Len(), len(mono.Samples))
		}
	})

	t.Run("filter applied", func(t *testing.T) {
		mono, applied := Preprocess(stereo, PreprocessOptions{ApplyLowPass: true})
		if !applied {
			t.Error("Expected filter applied")
		}
		if mono.SampleRate != 44100 {
			t.Errorf("Expected sample rate 44100, got %d", mono.SampleRate)
		}
	})

	t.Run("filter failure falls back", func(t *testing.T) {
		lowRate := &Signal{Channels: [][]float64{{0.1, 0.2, 0.3, 0.4}}, SampleRate: 1000}
		mono, applied := Preprocess(lowRate, PreprocessOptions{ApplyLowPass: true, CutoffHz: 800})
		if applied {
			t.Error("Expected filterApplied=false when the filter cannot run")
		}
		if len(mono.Samples) != 4 || mono.Samples[2] != 0.3 {
			t.Errorf("Expected unfiltered samples, got %v", mono.Samples)
		}
	})
}
