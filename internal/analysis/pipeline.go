package analysis

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/wavhaven/wavhaven/analyzerd/internal/audio"
)

// SignalDecoder turns uploaded bytes into a Signal
type SignalDecoder interface {
	Decode(ctx context.Context, data []byte, filename string) (*audio.Signal, error)
}

// FrameAnalyzer computes the per-frame feature sequence of a mono signal
type FrameAnalyzer interface {
	Extract(mono audio.Mono) (*FrameSequence, error)
}

// Options are the per-call analysis options
type Options struct {
	ApplyLowPassFilter bool `json:"applyLowPassFilter"`

	// OnStage observes stage transitions. It runs on the analyzing goroutine.
	OnStage func(Stage) `json:"-"`
}

// AnalyzerConfig holds the tunable parts of the pipeline
type AnalyzerConfig struct {
	Tempo      TempoConfig
	LowPassHz  float64
	LowPassQ   float64
	Tagger     *Tagger
	KeyGuesser KeyGuesser
}

// Analyzer runs the full pipeline: decode, preprocess, extract, estimate,
// assemble. It holds no per-call state and is safe for concurrent use.
type Analyzer struct {
	decoder  SignalDecoder
	frames   FrameAnalyzer
	tempo    TempoConfig
	lowPass  audio.PreprocessOptions
	tagger   *Tagger
	fallback *FallbackEstimator
}

// NewAnalyzer wires an analyzer
func NewAnalyzer(decoder SignalDecoder, frames FrameAnalyzer, cfg AnalyzerConfig) *Analyzer {
	tempo := cfg.Tempo
	if tempo == (TempoConfig{}) {
		tempo = DefaultTempoConfig()
	}
	tagger := cfg.Tagger
	if tagger == nil {
		tagger = NewTagger()
	}
	return &Analyzer{
		decoder:  decoder,
		frames:   frames,
		tempo:    tempo,
		lowPass:  audio.PreprocessOptions{CutoffHz: cfg.LowPassHz, Q: cfg.LowPassQ},
		tagger:   tagger,
		fallback: NewFallbackEstimator(tempo, cfg.KeyGuesser),
	}
}

// primaryEstimate collects everything the frame-based path computes
type primaryEstimate struct {
	frames      int
	key         KeyEstimate
	tempo       TempoEstimate
	avgEnergy   float64
	normEnergy  float64
	avgRMS      float64
	avgFlatness float64
	regularity  float64
}

// Analyze runs the pipeline on data. Decode failures return a Result with
// Source "error" together with a *audio.DecodeError. If the primary
// estimator fails the degraded estimator is used and no error is returned.
func (a *Analyzer) Analyze(ctx context.Context, data []byte, filename string, opts Options) (*Result, error) {
	stage := func(s Stage) {
		if opts.OnStage != nil {
			opts.OnStage(s)
		}
	}
	fail := func(err error) (*Result, error) {
		stage(StageFailed)
		return errorResult(), err
	}

	hints := ParseFilename(filename)

	stage(StageDecoding)
	sig, err := a.decoder.Decode(ctx, data, filename)
	if err != nil {
		var decErr *audio.DecodeError
		if !errors.As(err, &decErr) {
			err = &audio.DecodeError{Format: audio.FormatUnknown, Err: err}
		}
		log.Printf("[ANALYSIS] Decode failed for %q: %v", filename, err)
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	preprocess := a.lowPass
	preprocess.ApplyLowPass = opts.ApplyLowPassFilter
	mono, filtered := audio.Preprocess(sig, preprocess)

	stage(StageExtracting)
	est, err := a.estimate(mono, func() { stage(StageEstimating) })
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fail(ctxErr)
		}
		log.Printf("[ANALYSIS] Primary estimator failed for %q, using fallback: %v", filename, err)
		stage(StageEstimating)
		fb, fbErr := a.runFallback(audio.Mixdown(sig))
		if fbErr != nil {
			return fail(&EstimationError{Err: err, Fallback: fbErr})
		}
		result := assembleFallback(hints, fb)
		result.DurationSec = sig.Duration().Seconds()
		stage(StageAssembled)
		return result, nil
	}

	result := a.assemble(hints, est)
	result.FilterApplied = filtered
	result.DurationSec = sig.Duration().Seconds()
	stage(StageAssembled)
	return result, nil
}

// estimate runs the frame-based estimators, converting panics to errors
func (a *Analyzer) estimate(mono audio.Mono, onExtracted func()) (est *primaryEstimate, err error) {
	defer func() {
		if r := recover(); r != nil {
			est = nil
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()

	seq, err := a.frames.Extract(mono)
	if err != nil {
		return nil, fmt.Errorf("feature extraction: %w", err)
	}
	if seq == nil {
		return nil, fmt.Errorf("feature extraction returned no sequence")
	}
	onExtracted()

	energies := seq.Energies()
	rms := make([]float64, len(seq.Frames))
	flatness := make([]float64, len(seq.Frames))
	for i, f := range seq.Frames {
		rms[i] = f.RMS
		flatness[i] = f.Flatness
	}

	avgFlatness := 0.5
	if len(flatness) > 0 {
		avgFlatness = average(flatness)
	}

	tempo := EstimateTempo(energies, seq.FrameRate, a.tempo)
	return &primaryEstimate{
		frames:      len(seq.Frames),
		key:         EstimateKey(seq.Frames),
		tempo:       tempo,
		avgEnergy:   average(energies),
		normEnergy:  NormalizedAverageEnergy(energies),
		avgRMS:      average(rms),
		avgFlatness: avgFlatness,
		regularity:  RhythmRegularity(tempo.Intervals),
	}, nil
}

func (a *Analyzer) runFallback(mono audio.Mono) (fb *FallbackEstimate, err error) {
	defer func() {
		if r := recover(); r != nil {
			fb = nil
			err = fmt.Errorf("%w: %v", errPanic, r)
		}
	}()
	return a.fallback.Estimate(mono)
}

// assemble merges filename hints with the primary estimates. Filename
// values win per field; the estimates stay in the diagnostic fields.
// A primary run that detected neither bpm nor key is labelled fallback.
func (a *Analyzer) assemble(hints FilenameHints, est *primaryEstimate) *Result {
	result := &Result{
		Source: SourceEstimated,
		Frames: est.frames,
	}
	if !est.tempo.Detected && !est.key.Detected {
		result.Source = SourceFallback
	}

	if est.tempo.Detected {
		result.EstimatedBPM = ptr(est.tempo.BPM)
	}
	result.KeyConfidence = ptr(est.key.Confidence)
	if est.key.Detected {
		result.EstimatedKey = ptr(est.key.Label())
	}

	result.BPM = result.EstimatedBPM
	result.Key = result.EstimatedKey
	if hints.HasBPM {
		result.BPM = ptr(hints.BPM)
	}
	if hints.Key != "" {
		result.Key = ptr(hints.Key)
	}
	if hints.Used() {
		result.Source = SourceFilename
	}

	bpm := DefaultBPM
	if result.BPM != nil {
		bpm = *result.BPM
	}
	var key string
	if result.Key != nil {
		key = *result.Key
	}

	level := ClassifyEnergy(est.normEnergy)
	danceability := Danceability(bpm, est.regularity, level, est.avgEnergy, est.avgFlatness)
	tags := a.tagger.Tag(TagInput{
		BPM:          bpm,
		Key:          key,
		EnergyLevel:  level,
		Danceability: danceability,
	})

	result.Energy = ptr(est.avgEnergy)
	result.EnergyLevel = ptr(level)
	result.Danceability = ptr(danceability)
	result.Loudness = ptr(Loudness(est.avgRMS))
	result.Genres = tags.Genres
	result.GenreConfidences = tags.GenreConfidences
	result.Moods = tags.Moods
	result.MoodConfidences = tags.MoodConfidences
	return result
}

func assembleFallback(hints FilenameHints, fb *FallbackEstimate) *Result {
	tags := fallbackTags()
	result := &Result{
		BPM:              ptr(fb.BPM),
		Key:              ptr(fb.Key),
		Energy:           ptr(fb.Energy),
		EnergyLevel:      ptr(fb.EnergyLevel),
		Danceability:     ptr(fb.Danceability),
		Loudness:         ptr(fb.Loudness),
		Genres:           tags.Genres,
		GenreConfidences: tags.GenreConfidences,
		Moods:            tags.Moods,
		MoodConfidences:  tags.MoodConfidences,
		Source:           SourceFallback,
		Degraded:         true,
	}
	if hints.HasBPM {
		result.BPM = ptr(hints.BPM)
	}
	if hints.Key != "" {
		result.Key = ptr(hints.Key)
	}
	if hints.Used() {
		result.Source = SourceFilename
	}
	return result
}
