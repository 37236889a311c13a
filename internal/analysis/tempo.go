package analysis

import (
	"math"

	"github.com/montanaflynn/stats"
	"gonum.org/v1/gonum/stat"
)

// TempoConfig holds the peak-picking and folding parameters
type TempoConfig struct {
	PeakThreshold      float64 // minimum energy-difference for a peak
	MinPeakDistanceSec float64 // minimum spacing between accepted peaks
	MinBPM             float64
	MaxBPM             float64
	MinIntervals       int // fewer intervals than this yields no tempo
}

// DefaultTempoConfig returns the standard onset-peak parameters
func DefaultTempoConfig() TempoConfig {
	return TempoConfig{
		PeakThreshold:      0.08,
		MinPeakDistanceSec: 0.05,
		MinBPM:             70,
		MaxBPM:             180,
		MinIntervals:       3,
	}
}

// TempoEstimate is the result of tempo detection
type TempoEstimate struct {
	Detected  bool
	BPM       int
	Intervals []float64 // inter-peak intervals in frames
}

// EstimateTempo peak-picks the first difference of the energy sequence
func EstimateTempo(energies []float64, frameRate float64, cfg TempoConfig) TempoEstimate {
	if len(energies) < 2 || frameRate <= 0 {
		return TempoEstimate{}
	}

	diff := make([]float64, len(energies)-1)
	for k := 1; k < len(energies); k++ {
		diff[k-1] = math.Abs(energies[k] - energies[k-1])
	}

	intervals := PeakIntervals(FindPeaks(diff, frameRate, cfg.PeakThreshold, cfg.MinPeakDistanceSec))
	est := TempoEstimate{Intervals: intervals}
	if bpm, ok := BPMFromIntervals(intervals, frameRate, cfg); ok {
		est.BPM = bpm
		est.Detected = true
	}
	return est
}

// FindPeaks returns indices i where data[i] exceeds threshold, is a strict
// local maximum, is not exceeded anywhere in [i-minDist, i+minDist), and is
// more than minDist frames after the previously accepted peak.
func FindPeaks(data []float64, frameRate, threshold, minDistanceSec float64) []int {
	minDist := int(math.Floor(frameRate * minDistanceSec))
	if minDist < 1 {
		minDist = 1
	}

	var peaks []int
	for i := 1; i < len(data)-1; i++ {
		if data[i] <= threshold || data[i] <= data[i-1] || data[i] <= data[i+1] {
			continue
		}

		isLocalMax := true
		lo := max(0, i-minDist)
		hi := min(len(data), i+minDist)
		for j := lo; j < hi; j++ {
			if j != i && data[j] > data[i] {
				isLocalMax = false
				break
			}
		}
		if !isLocalMax {
			continue
		}

		if len(peaks) == 0 || i-peaks[len(peaks)-1] > minDist {
			peaks = append(peaks, i)
		}
	}
	return peaks
}

// PeakIntervals returns the distances between consecutive peaks
func PeakIntervals(peaks []int) []float64 {
	if len(peaks) < 2 {
		return nil
	}
	intervals := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		intervals = append(intervals, float64(peaks[i]-peaks[i-1]))
	}
	return intervals
}

// BPMFromIntervals converts the median interval to beats per minute and
// folds it into [MinBPM, MaxBPM] by octave doubling/halving.
func BPMFromIntervals(intervals []float64, frameRate float64, cfg TempoConfig) (int, bool) {
	minIntervals := cfg.MinIntervals
	if minIntervals <= 0 {
		minIntervals = 3
	}
	if len(intervals) < minIntervals || frameRate <= 0 {
		return 0, false
	}

	median, err := stats.Median(intervals)
	if err != nil || median <= 0 {
		return 0, false
	}

	bpm := 60 / (median / frameRate)
	for bpm < cfg.MinBPM && bpm > 0 {
		bpm *= 2
	}
	for bpm > cfg.MaxBPM {
		bpm /= 2
	}
	if math.IsNaN(bpm) || math.IsInf(bpm, 0) {
		return 0, false
	}
	return int(math.Round(bpm)), true
}

// RhythmRegularity returns 1 - stddev/mean of the intervals, or 0 with
// fewer than two intervals.
func RhythmRegularity(intervals []float64) float64 {
	if len(intervals) <= 1 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(intervals, nil)
	if mean <= 0 {
		return 0
	}
	return 1 - std/mean
}
