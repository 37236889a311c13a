// Package engine assembles the analysis pipeline from configuration.
package engine

import (
	"fmt"
	"log"
	"math/rand"
	"time"

	"github.com/wavhaven/wavhaven/analyzerd/internal/analysis"
	"github.com/wavhaven/wavhaven/analyzerd/internal/audio"
	"github.com/wavhaven/wavhaven/analyzerd/internal/config"
)

// Engine holds the pipeline components shared by every analysis
type Engine struct {
	Decoder   *audio.Decoder
	Extractor *analysis.Extractor
	Analyzer  *analysis.Analyzer
}

// New builds the decoder, extractor and analyzer described by cfg.
// A missing ffmpeg is not fatal; only WAV and MP3 are decoded then.
func New(cfg *config.Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	decoderCfg := audio.DecoderConfig{
		MaxDuration: time.Duration(cfg.Decoder.MaxDurationSec) * time.Second,
	}
	if cfg.Decoder.UseFFmpeg {
		ffmpeg, err := audio.NewFFmpegDecoder(cfg.Decoder.FFmpegPath, cfg.Decoder.FFprobePath)
		if err != nil {
			log.Printf("[DECODER] Warning: %v, decoding WAV and MP3 only", err)
		} else {
			decoderCfg.FFmpeg = ffmpeg
		}
	}
	decoder := audio.NewDecoder(decoderCfg)

	a := cfg.Analysis
	extractor, err := analysis.NewExtractor(analysis.ExtractorConfig{
		FrameSize:   a.FrameSize,
		HopSize:     a.HopSize,
		ChromaMinHz: a.ChromaMinHz,
		ChromaMaxHz: a.ChromaMaxHz,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create extractor: %w", err)
	}

	tempo := analysis.DefaultTempoConfig()
	tempo.PeakThreshold = a.PeakThreshold
	tempo.MinPeakDistanceSec = a.MinPeakDistanceSec
	tempo.MinBPM = a.MinBPM
	tempo.MaxBPM = a.MaxBPM

	var guessKey analysis.KeyGuesser
	if a.RandomFallbackKey {
		guessKey = analysis.RandomKeyGuesser(rand.New(rand.NewSource(time.Now().UnixNano())))
	}

	analyzer := analysis.NewAnalyzer(decoder, extractor, analysis.AnalyzerConfig{
		Tempo:      tempo,
		LowPassHz:  a.LowPassCutoffHz,
		LowPassQ:   a.LowPassQ,
		KeyGuesser: guessKey,
	})

	return &Engine{
		Decoder:   decoder,
		Extractor: extractor,
		Analyzer:  analyzer,
	}, nil
}

// Close releases the extractor
func (e *Engine) Close() error {
	return e.Extractor.Close()
}

// SimilarityWeights converts the configured weights
func SimilarityWeights(cfg *config.Config) analysis.SimilarityWeights {
	return analysis.SimilarityWeights{
		Tempo:  cfg.Similarity.Tempo,
		Key:    cfg.Similarity.Key,
		Energy: cfg.Similarity.Energy,
		Genre:  cfg.Similarity.Genre,
	}
}

// WorkerConfig converts the configured pool settings
func WorkerConfig(cfg *config.Config, store *analysis.ResultStore, onUpdate func(analysis.Job)) analysis.WorkerConfig {
	return analysis.WorkerConfig{
		MaxWorkers: cfg.Worker.MaxWorkers,
		QueueSize:  cfg.Worker.QueueSize,
		Throttle:   time.Duration(cfg.Worker.ThrottleMs) * time.Millisecond,
		Store:      store,
		OnUpdate:   onUpdate,
	}
}
