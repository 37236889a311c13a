package analysis

import (
	"errors"
	"fmt"
)

// Source records which stage produced the authoritative bpm/key
type Source string

const (
	SourceFilename  Source = "filename"
	SourceEstimated Source = "estimated"
	SourceFallback  Source = "fallback"
	SourceError     Source = "error"
)

// Stage is a state of a single analysis run
type Stage string

const (
	StageIdle       Stage = "idle"
	StageDecoding   Stage = "decoding"
	StageExtracting Stage = "extracting"
	StageEstimating Stage = "estimating"
	StageAssembled  Stage = "assembled"
	StageFailed     Stage = "failed"
)

// Terminal reports whether no further transitions follow s
func (s Stage) Terminal() bool {
	return s == StageAssembled || s == StageFailed
}

// Result is the outcome of one analysis. Pointer fields are nil when unknown.
type Result struct {
	BPM *int    `json:"bpm"`
	Key *string `json:"key"`

	// Raw estimator outputs, kept for diagnostics even when the filename wins
	EstimatedBPM  *int     `json:"estimatedBpm"`
	EstimatedKey  *string  `json:"estimatedKey"`
	KeyConfidence *float64 `json:"keyConfidence"`

	Energy       *float64     `json:"energy"`
	EnergyLevel  *EnergyLevel `json:"energyLevel"`
	Danceability *float64     `json:"danceability"`
	Loudness     *float64     `json:"loudness"`

	Genres           []string           `json:"genres"`
	GenreConfidences map[string]float64 `json:"genreConfidences"`
	Moods            []string           `json:"moods"`
	MoodConfidences  map[string]float64 `json:"moodConfidences"`

	Source        Source  `json:"source"`
	FilterApplied bool    `json:"filterApplied"`
	Degraded      bool    `json:"degraded"`
	DurationSec   float64 `json:"durationSec,omitempty"`
	Frames        int     `json:"frames,omitempty"`
}

// errorResult is returned alongside fatal errors
func errorResult() *Result {
	return &Result{
		Genres:           []string{},
		GenreConfidences: map[string]float64{},
		Moods:            []string{},
		MoodConfidences:  map[string]float64{},
		Source:           SourceError,
	}
}

// EstimationError reports that the primary estimator failed. When the
// fallback estimator also failed, Fallback holds its error.
type EstimationError struct {
	Err      error
	Fallback error
}

func (e *EstimationError) Error() string {
	if e.Fallback != nil {
		return fmt.Sprintf("estimation failed: %v (fallback: %v)", e.Err, e.Fallback)
	}
	return fmt.Sprintf("estimation failed: %v", e.Err)
}

func (e *EstimationError) Unwrap() error {
	return e.Err
}

// errPanic marks estimator panics converted to errors
var errPanic = errors.New("estimator panicked")

func ptr[T any](v T) *T {
	return &v
}
