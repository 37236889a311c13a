// Package audio decodes uploaded audio bytes into PCM signals and prepares
// them for analysis (optional low-pass filtering and channel mixdown).
package audio

import "time"

// Signal is a decoded, multi-channel PCM signal with samples in roughly [-1, 1].
// A Signal is never mutated after the decoder returns it.
type Signal struct {
	Channels   [][]float64
	SampleRate int
}

// NumChannels returns the number of channels
func (s *Signal) NumChannels() int {
	return len(s.Channels)
}

// Len returns the number of samples per channel
func (s *Signal) Len() int {
	if len(s.Channels) == 0 {
		return 0
	}
	n := len(s.Channels[0])
	for _, ch := range s.Channels[1:] {
		if len(ch) < n {
			n = len(ch)
		}
	}
	return n
}

// Duration derives the signal duration from its sample count
func (s *Signal) Duration() time.Duration {
	if s.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(s.Len()) / float64(s.SampleRate) * float64(time.Second))
}

// Mono is a single-channel signal
type Mono struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the duration of the mono signal
func (m Mono) Duration() time.Duration {
	if m.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(m.Samples)) / float64(m.SampleRate) * float64(time.Second))
}

// Mixdown averages all channels into one. A single-channel signal is
// returned without copying; callers must treat the samples as read-only.
func Mixdown(sig *Signal) Mono {
	if sig == nil || len(sig.Channels) == 0 {
		return Mono{}
	}
	if len(sig.Channels) == 1 {
		return Mono{Samples: sig.Channels[0], SampleRate: sig.SampleRate}
	}

	n := sig.Len()
	numCh := float64(len(sig.Channels))
	mono := make([]float64, n)
	for _, ch := range sig.Channels {
		for i := 0; i < n; i++ {
			mono[i] += ch[i] / numCh
		}
	}
	return Mono{Samples: mono, SampleRate: sig.SampleRate}
}
