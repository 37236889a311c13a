package analysis

import (
	"fmt"
	"math"
	"math/rand"
	"sync"

	"github.com/wavhaven/wavhaven/analyzerd/internal/audio"
)

// KeyGuesser supplies the filler key of the degraded estimator
type KeyGuesser func() (tonic int, mode Mode)

// RandomKeyGuesser draws a uniformly random key from r
func RandomKeyGuesser(r *rand.Rand) KeyGuesser {
	var mu sync.Mutex
	return func() (int, Mode) {
		mu.Lock()
		defer mu.Unlock()
		tonic := r.Intn(12)
		if r.Float64() > 0.5 {
			return tonic, Major
		}
		return tonic, Minor
	}
}

// FixedKeyGuesser always returns the same key
func FixedKeyGuesser(tonic int, mode Mode) KeyGuesser {
	return func() (int, Mode) { return tonic, mode }
}

const (
	fallbackHop           = 1024
	fallbackPeakThreshold = 0.5
)

// FallbackEstimate is the output of the degraded estimator
type FallbackEstimate struct {
	BPM          int
	Key          string
	Energy       float64
	EnergyLevel  EnergyLevel
	Loudness     float64
	Danceability float64
}

// FallbackEstimator is the coarse estimator used when the primary frame
// analysis fails: peak picking on raw samples and a guessed key.
type FallbackEstimator struct {
	tempo    TempoConfig
	guessKey KeyGuesser
}

// NewFallbackEstimator creates a fallback estimator
func NewFallbackEstimator(tempo TempoConfig, guessKey KeyGuesser) *FallbackEstimator {
	if guessKey == nil {
		guessKey = FixedKeyGuesser(0, Major)
	}
	return &FallbackEstimator{tempo: tempo, guessKey: guessKey}
}

// Estimate runs the degraded estimator over mono
func (f *FallbackEstimator) Estimate(mono audio.Mono) (*FallbackEstimate, error) {
	if mono.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", mono.SampleRate)
	}

	// Peaks are picked over raw sample indices while frameRate counts hops,
	// so intervals and the minimum peak distance are not in the same units.
	// The folded bpm is only a coarse guess and DefaultBPM covers the case of
	// too few peaks. Keep the units as they are: degraded results are
	// expected to match this estimate.
	frameRate := float64(mono.SampleRate) / fallbackHop
	peaks := FindPeaks(mono.Samples, frameRate, fallbackPeakThreshold, f.tempo.MinPeakDistanceSec)
	intervals := PeakIntervals(peaks)

	bpm := DefaultBPM
	if len(intervals) > 0 {
		if detected, ok := BPMFromIntervals(intervals, frameRate, f.tempo); ok {
			bpm = detected
		}
	}

	tonic, mode := f.guessKey()

	energy := math.Min(1, computeMeanSquare(mono.Samples))
	level := EnergyMedium
	switch {
	case energy < 0.01:
		level = EnergyLow
	case energy > 0.05:
		level = EnergyHigh
	}

	danceability := 0.1
	switch {
	case bpm > 110 && bpm < 130:
		danceability = 0.5
	case bpm > 90 && bpm < 150:
		danceability = 0.3
	}

	return &FallbackEstimate{
		BPM:          bpm,
		Key:          KeyLabel(tonic, mode),
		Energy:       energy,
		EnergyLevel:  level,
		Loudness:     clamp(energy*500, 0, 100),
		Danceability: danceability,
	}, nil
}

// fallbackTags are the fixed placeholder tags of the degraded path
func fallbackTags() Tags {
	return Tags{
		Genres:           []string{"unknown"},
		GenreConfidences: map[string]float64{"fallback": 0.1},
		Moods:            []string{"unknown"},
		MoodConfidences:  map[string]float64{"neutral": 0.1},
	}
}
