// Package analysis extracts per-frame features from audio and estimates
// key, tempo, and heuristic genre/mood tags for uploaded tracks.
package analysis

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/mjibson/go-dsp/window"
	"github.com/wavhaven/wavhaven/analyzerd/internal/audio"
	"gonum.org/v1/gonum/dsp/fourier"
)

const (
	// DefaultFrameSize is the analysis window length in samples
	DefaultFrameSize = 4096
	// DefaultHopSize is the distance between consecutive frames
	DefaultHopSize = 1024

	// Chroma only folds bins inside this range; below it the FFT can't
	// resolve semitones and above it harmonics dominate.
	DefaultChromaMinHz = 55.0
	DefaultChromaMaxHz = 5000.0

	minFrameSize = 256
)

// ErrExtractorClosed is returned by Extract after Close
var ErrExtractorClosed = errors.New("feature extractor is closed")

// FrameFeatures holds the features of one analysis window
type FrameFeatures struct {
	Energy   float64     // mean(x^2), clamped to [0, 1]
	RMS      float64     // sqrt(mean(x^2))
	Chroma   [12]float64 // squared magnitude per pitch class, unnormalized
	Flatness float64     // geometric / arithmetic mean of the magnitude spectrum
	ZCR      float64     // fraction of adjacent-sample sign changes
}

// FrameSequence is the ordered list of frame features for one signal
type FrameSequence struct {
	Frames     []FrameFeatures
	FrameRate  float64 // frames per second of audio (sampleRate / hop)
	SampleRate int
	Skipped    int // frames dropped for non-finite samples
}

// Energies returns the energy column
func (s *FrameSequence) Energies() []float64 {
	out := make([]float64, len(s.Frames))
	for i, f := range s.Frames {
		out[i] = f.Energy
	}
	return out
}

// ExtractorConfig configures frame extraction
type ExtractorConfig struct {
	FrameSize   int
	HopSize     int
	ChromaMinHz float64
	ChromaMaxHz float64
}

// DefaultExtractorConfig returns the standard 4096/1024 framing
func DefaultExtractorConfig() ExtractorConfig {
	return ExtractorConfig{
		FrameSize:   DefaultFrameSize,
		HopSize:     DefaultHopSize,
		ChromaMinHz: DefaultChromaMinHz,
		ChromaMaxHz: DefaultChromaMaxHz,
	}
}

// Validate checks the framing parameters
func (c ExtractorConfig) Validate() error {
	if c.FrameSize < minFrameSize || c.FrameSize&(c.FrameSize-1) != 0 {
		return fmt.Errorf("frame size must be a power of two >= %d, got %d", minFrameSize, c.FrameSize)
	}
	if c.HopSize <= 0 || c.HopSize > c.FrameSize {
		return fmt.Errorf("hop size must be in (0, %d], got %d", c.FrameSize, c.HopSize)
	}
	if c.ChromaMinHz <= 0 || c.ChromaMaxHz <= c.ChromaMinHz {
		return fmt.Errorf("invalid chroma range [%v, %v] Hz", c.ChromaMinHz, c.ChromaMaxHz)
	}
	return nil
}

// Extractor computes FrameSequences. It owns the window and a pool of FFT
// workspaces, so a single Extractor can serve concurrent analyses.
type Extractor struct {
	cfg    ExtractorConfig
	window []float64
	pool   sync.Pool
	closed atomic.Bool
}

// workspace is the per-call FFT state. gonum's FFT keeps scratch
// buffers internally, so each call needs its own plan.
type workspace struct {
	fft       *fourier.FFT
	windowed  []float64
	coeffs    []complex128
	magnitude []float64

	// bin -> pitch class for pitchRate, -1 outside the chroma range
	pitchRate  int
	pitchClass []int
}

// NewExtractor creates an extractor
func NewExtractor(cfg ExtractorConfig) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Extractor{
		cfg:    cfg,
		window: window.Blackman(cfg.FrameSize),
	}
	e.pool.New = func() any {
		return &workspace{
			fft:       fourier.NewFFT(cfg.FrameSize),
			windowed:  make([]float64, cfg.FrameSize),
			coeffs:    make([]complex128, cfg.FrameSize/2+1),
			magnitude: make([]float64, cfg.FrameSize/2),
		}
	}
	return e, nil
}

// Config returns the extractor configuration
func (e *Extractor) Config() ExtractorConfig {
	return e.cfg
}

// Close releases the extractor. Extract fails afterwards.
func (e *Extractor) Close() error {
	e.closed.Store(true)
	return nil
}

// Extract slides the analysis window over mono and computes per-frame features
func (e *Extractor) Extract(mono audio.Mono) (*FrameSequence, error) {
	if e.closed.Load() {
		return nil, ErrExtractorClosed
	}
	if mono.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", mono.SampleRate)
	}

	ws := e.acquire(mono.SampleRate)
	defer e.release(ws)

	size := e.cfg.FrameSize
	hop := e.cfg.HopSize
	seq := &FrameSequence{
		FrameRate:  float64(mono.SampleRate) / float64(hop),
		SampleRate: mono.SampleRate,
	}
	if len(mono.Samples) >= size {
		seq.Frames = make([]FrameFeatures, 0, (len(mono.Samples)-size)/hop+1)
	}

	for i := 0; i+size <= len(mono.Samples); i += hop {
		frame := mono.Samples[i : i+size]
		if !allFinite(frame) {
			seq.Skipped++
			continue
		}
		seq.Frames = append(seq.Frames, e.processFrame(ws, frame))
	}

	return seq, nil
}

func (e *Extractor) acquire(sampleRate int) *workspace {
	ws := e.pool.Get().(*workspace)
	if ws.pitchRate != sampleRate {
		ws.pitchClass = pitchClassMap(e.cfg, sampleRate)
		ws.pitchRate = sampleRate
	}
	return ws
}

func (e *Extractor) release(ws *workspace) {
	e.pool.Put(ws)
}

// processFrame analyzes a single frame
func (e *Extractor) processFrame(ws *workspace, frame []float64) FrameFeatures {
	for i, s := range frame {
		ws.windowed[i] = s * e.window[i]
	}
	ws.coeffs = ws.fft.Coefficients(ws.coeffs, ws.windowed)
	for i := range ws.magnitude {
		ws.magnitude[i] = math.Hypot(real(ws.coeffs[i]), imag(ws.coeffs[i]))
	}

	meanSquare := computeMeanSquare(frame)
	return FrameFeatures{
		Energy:   math.Min(1, meanSquare),
		RMS:      math.Sqrt(meanSquare),
		Chroma:   computeChroma(ws.magnitude, ws.pitchClass),
		Flatness: computeSpectralFlatness(ws.magnitude),
		ZCR:      computeZCR(frame),
	}
}

// pitchClassMap folds FFT bins onto pitch classes via the MIDI note number
func pitchClassMap(cfg ExtractorConfig, sampleRate int) []int {
	bins := cfg.FrameSize / 2
	binHz := float64(sampleRate) / float64(cfg.FrameSize)

	classes := make([]int, bins)
	for k := range classes {
		freq := float64(k) * binHz
		if k == 0 || freq < cfg.ChromaMinHz || freq > cfg.ChromaMaxHz {
			classes[k] = -1
			continue
		}
		midi := int(math.Round(12*math.Log2(freq/440) + 69))
		classes[k] = ((midi % 12) + 12) % 12
	}
	return classes
}

func computeChroma(magnitude []float64, classes []int) [12]float64 {
	var chroma [12]float64
	for k, pc := range classes {
		if pc < 0 {
			continue
		}
		chroma[pc] += magnitude[k] * magnitude[k]
	}
	return chroma
}

// computeSpectralFlatness computes the ratio of geometric to arithmetic mean
func computeSpectralFlatness(spectrum []float64) float64 {
	const floor = 1e-10

	var logSum, sum float64
	for _, v := range spectrum {
		sum += v
		logSum += math.Log(math.Max(v, floor))
	}
	n := float64(len(spectrum))
	if n == 0 || sum <= 0 {
		return 0
	}
	flatness := math.Exp(logSum/n) / (sum / n)
	return math.Min(1, flatness)
}

// computeZCR computes zero crossing rate
func computeZCR(frame []float64) float64 {
	if len(frame) < 2 {
		return 0
	}
	var crossings int
	for i := 1; i < len(frame); i++ {
		if (frame[i] >= 0 && frame[i-1] < 0) || (frame[i] < 0 && frame[i-1] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame)-1)
}

func computeMeanSquare(frame []float64) float64 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		sum += s * s
	}
	return sum / float64(len(frame))
}

func allFinite(frame []float64) bool {
	for _, s := range frame {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return false
		}
	}
	return true
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
