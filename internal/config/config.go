// Package config defines the engine's configuration types and the on-disk
// manager that loads and saves them.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// StepPattern selects the DTW recurrence weighting.
type StepPattern string

const (
	StepSymmetric1 StepPattern = "symmetric1"
	StepSymmetric2 StepPattern = "symmetric2"
)

// DistanceNormalization selects how a raw DTW accumulated cost is scaled.
type DistanceNormalization string

const (
	NormPathLength DistanceNormalization = "path_length"
	NormSeqSum     DistanceNormalization = "seq_sum"
	NormNone       DistanceNormalization = "none"
)

// WindowType selects the analysis window applied before the FFT.
type WindowType string

const (
	WindowHann    WindowType = "hann"
	WindowHamming WindowType = "hamming"
)

// VadConfig controls the voice-activity state machine (§4.4).
type VadConfig struct {
	EnergyThreshold      float64 `json:"energyThreshold"`
	SilencePeakThreshold float64 `json:"silencePeakThreshold"`
	WindowMs             float64 `json:"windowMs"`
	MinSoundMs           float64 `json:"minSoundMs"`
	MinSilenceMs         float64 `json:"minSilenceMs"`
	HangoverMs           float64 `json:"hangoverMs"`
}

// DefaultVadConfig returns reasonable defaults for speech/call-length audio.
func DefaultVadConfig() VadConfig {
	return VadConfig{
		EnergyThreshold:      1e-4,
		SilencePeakThreshold: 0.02,
		WindowMs:             20,
		MinSoundMs:           60,
		MinSilenceMs:         200,
		HangoverMs:           100,
	}
}

// DtwConfig controls the DTW comparator (§4.6).
type DtwConfig struct {
	BandRadiusFrames      int                   `json:"bandRadiusFrames"`
	StepPattern           StepPattern           `json:"stepPattern"`
	DistanceNormalization DistanceNormalization `json:"distanceNormalization"`
}

// DefaultDtwConfig returns the spec's documented defaults.
func DefaultDtwConfig() DtwConfig {
	return DtwConfig{
		BandRadiusFrames:      0,
		StepPattern:           StepSymmetric2,
		DistanceNormalization: NormPathLength,
	}
}

// EngineConfig is the immutable configuration a session is constructed
// from (§3). Zero values are never valid; use DefaultEngineConfig and
// override fields, then call Validate.
type EngineConfig struct {
	SampleRateHz float64    `json:"sampleRateHz"`
	FrameSize    int        `json:"frameSize"`
	HopSize      int        `json:"hopSize"`
	MfccCoeffs   int        `json:"mfccCoeffs"`
	MelFilters   int        `json:"melFilters"`
	LowHz        float64    `json:"lowHz"`
	HighHz       float64    `json:"highHz"`
	WindowType   WindowType `json:"windowType"`
	Vad          VadConfig  `json:"vad"`
	Dtw          DtwConfig  `json:"dtw"`
}

// DefaultEngineConfig returns the config used throughout §8's end-to-end
// scenarios: 44.1kHz, 512-sample frames, 256-sample hop, 13 MFCCs over 26
// mel filters spanning 20Hz-Nyquist.
func DefaultEngineConfig(sampleRateHz float64) EngineConfig {
	return EngineConfig{
		SampleRateHz: sampleRateHz,
		FrameSize:    512,
		HopSize:      256,
		MfccCoeffs:   13,
		MelFilters:   26,
		LowHz:        20,
		HighHz:       sampleRateHz / 2,
		WindowType:   WindowHamming,
		Vad:          DefaultVadConfig(),
		Dtw:          DefaultDtwConfig(),
	}
}

// Validate checks invariant 1 from §3: hop_size <= frame_size,
// mfcc_coeffs <= mel_filters, low_hz < high_hz <= sample_rate/2.
func (c EngineConfig) Validate() error {
	if c.SampleRateHz <= 0 {
		return fmt.Errorf("sampleRateHz must be positive, got %v", c.SampleRateHz)
	}
	if c.FrameSize <= 0 || c.FrameSize&(c.FrameSize-1) != 0 {
		return fmt.Errorf("frameSize must be a positive power of two, got %d", c.FrameSize)
	}
	if c.HopSize <= 0 || c.HopSize > c.FrameSize {
		return fmt.Errorf("hopSize must be in (0, frameSize], got %d (frameSize=%d)", c.HopSize, c.FrameSize)
	}
	if c.MelFilters <= 0 {
		return fmt.Errorf("melFilters must be positive, got %d", c.MelFilters)
	}
	if c.MfccCoeffs <= 0 || c.MfccCoeffs > c.MelFilters {
		return fmt.Errorf("mfccCoeffs must be in (0, melFilters], got %d (melFilters=%d)", c.MfccCoeffs, c.MelFilters)
	}
	if c.LowHz < 0 || c.LowHz >= c.HighHz {
		return fmt.Errorf("lowHz must be < highHz, got low=%v high=%v", c.LowHz, c.HighHz)
	}
	if c.HighHz > c.SampleRateHz/2 {
		return fmt.Errorf("highHz must be <= sampleRate/2, got high=%v nyquist=%v", c.HighHz, c.SampleRateHz/2)
	}
	if c.WindowType != WindowHann && c.WindowType != WindowHamming {
		return fmt.Errorf("unknown windowType %q", c.WindowType)
	}
	switch c.Dtw.StepPattern {
	case StepSymmetric1, StepSymmetric2:
	default:
		return fmt.Errorf("unknown dtw.stepPattern %q", c.Dtw.StepPattern)
	}
	switch c.Dtw.DistanceNormalization {
	case NormPathLength, NormSeqSum, NormNone:
	default:
		return fmt.Errorf("unknown dtw.distanceNormalization %q", c.Dtw.DistanceNormalization)
	}
	return nil
}

// Manager loads and saves an EngineConfig from a JSON file: load-or-default
// on first run, then saves by overwriting the file in place (not atomic).
type Manager struct {
	configDir  string
	configPath string
	config     EngineConfig
}

// NewManager creates a configuration manager rooted at configDir.
func NewManager(configDir string, sampleRateHz float64) *Manager {
	return &Manager{
		configDir:  configDir,
		configPath: filepath.Join(configDir, "engine.json"),
		config:     DefaultEngineConfig(sampleRateHz),
	}
}

// Load reads the configuration from disk, writing defaults if absent.
func (m *Manager) Load() error {
	if err := os.MkdirAll(m.configDir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	if _, err := os.Stat(m.configPath); os.IsNotExist(err) {
		return m.Save()
	}

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	cfg := m.config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	m.config = cfg
	return nil
}

// Save writes the configuration to disk.
func (m *Manager) Save() error {
	if err := os.MkdirAll(m.configDir, 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() EngineConfig {
	return m.config
}

// Update replaces the configuration and persists it.
func (m *Manager) Update(cfg EngineConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.config = cfg
	return m.Save()
}
