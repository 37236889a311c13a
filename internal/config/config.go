// Package config handles daemon configuration file management.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// FileName is the configuration file inside the config directory
const FileName = "config.yaml"

// Config represents the daemon configuration
type Config struct {
	Analysis   AnalysisConfig   `yaml:"analysis" json:"analysis"`
	Similarity SimilarityConfig `yaml:"similarity" json:"similarity"`
	Decoder    DecoderConfig    `yaml:"decoder" json:"decoder"`
	Worker     WorkerConfig     `yaml:"worker" json:"worker"`
	Store      StoreConfig      `yaml:"store" json:"store"`
	Server     ServerConfig     `yaml:"server" json:"server"`
	Library    LibraryConfig    `yaml:"library" json:"library"`
}

// AnalysisConfig contains the frame analysis and estimator parameters
type AnalysisConfig struct {
	FrameSize          int     `yaml:"frameSize" json:"frameSize"`
	HopSize            int     `yaml:"hopSize" json:"hopSize"`
	PeakThreshold      float64 `yaml:"peakThreshold" json:"peakThreshold"`
	MinPeakDistanceSec float64 `yaml:"minPeakDistanceSec" json:"minPeakDistanceSec"`
	MinBPM             float64 `yaml:"minBPM" json:"minBPM"`
	MaxBPM             float64 `yaml:"maxBPM" json:"maxBPM"`
	LowPassCutoffHz    float64 `yaml:"lowPassCutoffHz" json:"lowPassCutoffHz"`
	LowPassQ           float64 `yaml:"lowPassQ" json:"lowPassQ"`
	ChromaMinHz        float64 `yaml:"chromaMinHz" json:"chromaMinHz"`
	ChromaMaxHz        float64 `yaml:"chromaMaxHz" json:"chromaMaxHz"`

	// RandomFallbackKey draws the degraded estimator's key at random
	// instead of always reporting C major
	RandomFallbackKey bool `yaml:"randomFallbackKey" json:"randomFallbackKey"`
}

// SimilarityConfig weights the similar-tracks score
type SimilarityConfig struct {
	Tempo  float64 `yaml:"tempo" json:"tempo"`
	Key    float64 `yaml:"key" json:"key"`
	Energy float64 `yaml:"energy" json:"energy"`
	Genre  float64 `yaml:"genre" json:"genre"`
}

// DecoderConfig contains decoding settings
type DecoderConfig struct {
	// UseFFmpeg enables the ffmpeg fallback for formats the native decoders reject
	UseFFmpeg   bool   `yaml:"useFFmpeg" json:"useFFmpeg"`
	FFmpegPath  string `yaml:"ffmpegPath" json:"ffmpegPath"`
	FFprobePath string `yaml:"ffprobePath" json:"ffprobePath"`

	// MaxDurationSec caps how much audio is decoded (default: 600)
	MaxDurationSec int `yaml:"maxDurationSec" json:"maxDurationSec"`
}

// WorkerConfig contains worker pool settings
type WorkerConfig struct {
	// MaxWorkers is the number of concurrent analyses (0 = NumCPU - 1)
	MaxWorkers int `yaml:"maxWorkers" json:"maxWorkers"`
	QueueSize  int `yaml:"queueSize" json:"queueSize"`
	ThrottleMs int `yaml:"throttleMs" json:"throttleMs"`
}

// StoreConfig contains result store settings
type StoreConfig struct {
	// DataDir is where the result database lives. Empty keeps results in memory.
	DataDir string `yaml:"dataDir" json:"dataDir"`
}

// ServerConfig contains IPC settings
type ServerConfig struct {
	SocketPath string `yaml:"socketPath" json:"socketPath"`
}

// LibraryConfig lists directories of audio files to analyze
type LibraryConfig struct {
	Paths       []string `yaml:"paths" json:"paths"`
	ScanOnStart bool     `yaml:"scanOnStart" json:"scanOnStart"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Analysis: AnalysisConfig{
			FrameSize:          4096,
			HopSize:            1024,
			PeakThreshold:      0.08,
			MinPeakDistanceSec: 0.05,
			MinBPM:             70,
			MaxBPM:             180,
			LowPassCutoffHz:    800,
			LowPassQ:           1,
			ChromaMinHz:        55,
			ChromaMaxHz:        5000,
		},
		Similarity: SimilarityConfig{
			Tempo:  0.35,
			Key:    0.25,
			Energy: 0.20,
			Genre:  0.20,
		},
		Decoder: DecoderConfig{
			UseFFmpeg:      true,
			FFmpegPath:     "ffmpeg",
			FFprobePath:    "ffprobe",
			MaxDurationSec: 600,
		},
		Worker: WorkerConfig{
			QueueSize: 256,
		},
		Library: LibraryConfig{
			Paths: []string{},
		},
	}
}

// Validate rejects configurations the analyzer cannot run with
func (c *Config) Validate() error {
	var errs []error
	a := c.Analysis

	if a.FrameSize < 256 || a.FrameSize&(a.FrameSize-1) != 0 {
		errs = append(errs, fmt.Errorf("analysis.frameSize must be a power of two >= 256, got %d", a.FrameSize))
	}
	if a.HopSize <= 0 || a.HopSize > a.FrameSize {
		errs = append(errs, fmt.Errorf("analysis.hopSize must be in (0, frameSize], got %d", a.HopSize))
	}
	if a.PeakThreshold < 0 || !finite(a.PeakThreshold) {
		errs = append(errs, fmt.Errorf("analysis.peakThreshold must be >= 0, got %v", a.PeakThreshold))
	}
	if a.MinPeakDistanceSec < 0 || !finite(a.MinPeakDistanceSec) {
		errs = append(errs, fmt.Errorf("analysis.minPeakDistanceSec must be >= 0, got %v", a.MinPeakDistanceSec))
	}
	if a.MinBPM <= 0 || a.MaxBPM < 2*a.MinBPM {
		errs = append(errs, fmt.Errorf("analysis bpm range [%v, %v] must span at least an octave", a.MinBPM, a.MaxBPM))
	}
	if a.LowPassCutoffHz <= 0 || !finite(a.LowPassCutoffHz) {
		errs = append(errs, fmt.Errorf("analysis.lowPassCutoffHz must be > 0, got %v", a.LowPassCutoffHz))
	}
	if !finite(a.LowPassQ) {
		errs = append(errs, fmt.Errorf("analysis.lowPassQ must be finite"))
	}
	if a.ChromaMinHz <= 0 || a.ChromaMaxHz <= a.ChromaMinHz {
		errs = append(errs, fmt.Errorf("analysis chroma range [%v, %v] is empty", a.ChromaMinHz, a.ChromaMaxHz))
	}

	s := c.Similarity
	if s.Tempo < 0 || s.Key < 0 || s.Energy < 0 || s.Genre < 0 {
		errs = append(errs, fmt.Errorf("similarity weights must be >= 0"))
	}
	if c.Decoder.MaxDurationSec < 0 {
		errs = append(errs, fmt.Errorf("decoder.maxDurationSec must be >= 0, got %d", c.Decoder.MaxDurationSec))
	}
	if c.Worker.MaxWorkers < 0 || c.Worker.QueueSize < 0 || c.Worker.ThrottleMs < 0 {
		errs = append(errs, fmt.Errorf("worker settings must be >= 0"))
	}

	return errors.Join(errs...)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Manager handles loading and saving configuration
type Manager struct {
	mu         sync.RWMutex
	configDir  string
	configPath string
	config     *Config
}

// NewManager creates a new configuration manager
func NewManager(configDir string) *Manager {
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, FileName),
		config:     DefaultConfig(),
	}
}

// Load reads the configuration from disk, writing the defaults if no file exists
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		m.mu.Lock()
		m.config = DefaultConfig()
		m.mu.Unlock()
		return m.Save()
	}
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	config := DefaultConfig() // Start with defaults
	if err := yaml.Unmarshal(data, config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	return nil
}

// Save writes the configuration to disk
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	m.mu.RLock()
	data, err := yaml.Marshal(m.config)
	m.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c := *m.config
	c.Library.Paths = append([]string(nil), m.config.Library.Paths...)
	return &c
}

// GetPath returns the config file path
func (m *Manager) GetPath() string {
	return m.configPath
}

// Update validates and stores config, then saves it
func (m *Manager) Update(config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.config = config
	m.mu.Unlock()
	return m.Save()
}

// AddLibraryPath adds a library path
func (m *Manager) AddLibraryPath(path string) error {
	m.mu.Lock()
	for _, p := range m.config.Library.Paths {
		if p == path {
			m.mu.Unlock()
			return nil // Already exists
		}
	}
	m.config.Library.Paths = append(m.config.Library.Paths, path)
	m.mu.Unlock()
	return m.Save()
}

// RemoveLibraryPath removes a library path
func (m *Manager) RemoveLibraryPath(path string) error {
	m.mu.Lock()
	paths := make([]string, 0, len(m.config.Library.Paths))
	for _, p := range m.config.Library.Paths {
		if p != path {
			paths = append(paths, p)
		}
	}
	m.config.Library.Paths = paths
	m.mu.Unlock()
	return m.Save()
}
