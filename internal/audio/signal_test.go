package audio

import (
	"testing"
	"time"
)

func TestMixdown(t *testing.T) {
	tests := []struct {
		name     string
		channels [][]float64
		want     []float64
	}{
		{"mono passthrough", [][]float64{{0.5, -0.5, 1}}, []float64{0.5, -0.5, 1}},
		{"stereo average", [][]float64{{1, 0, -1}, {0, 0, 1}}, []float64{0.5, 0, 0}},
		{"uneven lengths", [][]float64{{1, 1, 1}, {1, 1}}, []float64{1, 1}},
		{"no channels", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mono := Mixdown(&Signal{Channels: tt.channels, SampleRate: 8000})
			if len(mono.Samples) != len(tt.want) {
				t.Fatalf("Expected %d samples, got %d", len(tt.want), len(mono.Samples))
			}
			for i := range tt.want {
				if mono.Samples[i] != tt.want[i] {
					t.Errorf("Sample %d: expected %v, got %v", i, tt.want[i], mono.Samples[i])
				}
			}
		})
	}
}

func TestSignalDuration(t *testing.T) {
	sig := &Signal{Channels: [][]float64{make([]float64, 22050)}, SampleRate: 44100}
	if got := sig.Duration(); got != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", got)
	}

	if got := (&Signal{}).Duration(); got != 0 {
		t.Errorf("Expected 0 duration for empty signal, got %v", got)
	}
}
