package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for pipeline tuning
// parameters. Fields are pointers so a partial JSON file only overrides the
// values it names; everything else falls back to the Get* defaults.
type TuningConfig struct {
	// Stream and windowing params
	EEGSampleRateHz    *float64 `json:"eeg_sample_rate_hz,omitempty"`
	EEGWindowSeconds   *float64 `json:"eeg_window_seconds,omitempty"`
	EEGWindowOverlap   *float64 `json:"eeg_window_overlap,omitempty"`
	PhysioSampleRateHz *float64 `json:"physio_sample_rate_hz,omitempty"`
	PhysioWindowSecs   *float64 `json:"physio_window_seconds,omitempty"`
	RetentionSeconds   *float64 `json:"retention_seconds,omitempty"`
	TickInterval       *string  `json:"tick_interval,omitempty"` // duration string like "500ms"
	StallTimeout       *string  `json:"stall_timeout,omitempty"` // duration string like "10s"

	// Preprocessing params
	BandpassLowHz        *float64 `json:"bandpass_low_hz,omitempty"`
	BandpassHighHz       *float64 `json:"bandpass_high_hz,omitempty"`
	NotchHz              *float64 `json:"notch_hz,omitempty"`
	ArtifactThresholdUV  *float64 `json:"artifact_threshold_uv,omitempty"`
	ArtifactQualityLimit *float64 `json:"artifact_quality_limit,omitempty"`

	// Classification and fusion params
	LabelSet            *string  `json:"label_set,omitempty"`       // "threeclass" or "ekman"
	FusionStrategy      *string  `json:"fusion_strategy,omitempty"` // "late", "early", "hybrid"
	FusionEEGWeight     *float64 `json:"fusion_eeg_weight,omitempty"`
	FusionPhysioWeight  *float64 `json:"fusion_physio_weight,omitempty"`
	LowQualityWeight    *float64 `json:"low_quality_weight,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	AgreementCount      *int     `json:"agreement_count,omitempty"`

	// Fail-safe rule table thresholds
	HighHeartRateBPM  *float64 `json:"high_heart_rate_bpm,omitempty"`
	LowHeartRateBPM   *float64 `json:"low_heart_rate_bpm,omitempty"`
	HighBreathRateBPM *float64 `json:"high_breath_rate_bpm,omitempty"`
	LowBreathRateBPM  *float64 `json:"low_breath_rate_bpm,omitempty"`
	HeartRateStdBPM   *float64 `json:"heart_rate_std_bpm,omitempty"`
	HeartRateStepBPM  *float64 `json:"heart_rate_step_bpm,omitempty"`
}

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from
// DefaultConfigPath. It searches for the file in the current directory and
// common parent directories. Panics if the file cannot be loaded, intended
// for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/emotion/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	if c.EEGSampleRateHz != nil && *c.EEGSampleRateHz <= 0 {
		return fmt.Errorf("eeg_sample_rate_hz must be positive, got %f", *c.EEGSampleRateHz)
	}

	if c.EEGWindowOverlap != nil {
		if *c.EEGWindowOverlap < 0 || *c.EEGWindowOverlap >= 1 {
			return fmt.Errorf("eeg_window_overlap must be in [0, 1), got %f", *c.EEGWindowOverlap)
		}
	}

	if c.ConfidenceThreshold != nil {
		if *c.ConfidenceThreshold < 0 || *c.ConfidenceThreshold > 1 {
			return fmt.Errorf("confidence_threshold must be between 0 and 1, got %f", *c.ConfidenceThreshold)
		}
	}

	if c.AgreementCount != nil && *c.AgreementCount < 1 {
		return fmt.Errorf("agreement_count must be at least 1, got %d", *c.AgreementCount)
	}

	if c.LabelSet != nil {
		switch *c.LabelSet {
		case "threeclass", "ekman":
		default:
			return fmt.Errorf("label_set must be \"threeclass\" or \"ekman\", got %q", *c.LabelSet)
		}
	}

	if c.FusionStrategy != nil {
		switch *c.FusionStrategy {
		case "late", "early", "hybrid":
		default:
			return fmt.Errorf("fusion_strategy must be \"late\", \"early\" or \"hybrid\", got %q", *c.FusionStrategy)
		}
	}

	if c.TickInterval != nil && *c.TickInterval != "" {
		if _, err := time.ParseDuration(*c.TickInterval); err != nil {
			return fmt.Errorf("invalid tick_interval '%s': %w", *c.TickInterval, err)
		}
	}

	if c.StallTimeout != nil && *c.StallTimeout != "" {
		if _, err := time.ParseDuration(*c.StallTimeout); err != nil {
			return fmt.Errorf("invalid stall_timeout '%s': %w", *c.StallTimeout, err)
		}
	}

	if c.BandpassLowHz != nil && c.BandpassHighHz != nil {
		if *c.BandpassLowHz >= *c.BandpassHighHz {
			return fmt.Errorf("bandpass_low_hz (%f) must be below bandpass_high_hz (%f)",
				*c.BandpassLowHz, *c.BandpassHighHz)
		}
	}

	return nil
}

// GetEEGSampleRateHz returns the EEG sampling rate or the default.
func (c *TuningConfig) GetEEGSampleRateHz() float64 {
	if c.EEGSampleRateHz == nil {
		return 256.0 // Muse headband default
	}
	return *c.EEGSampleRateHz
}

// GetEEGWindowSeconds returns the EEG window length or the default.
func (c *TuningConfig) GetEEGWindowSeconds() float64 {
	if c.EEGWindowSeconds == nil {
		return 2.0
	}
	return *c.EEGWindowSeconds
}

// GetEEGWindowOverlap returns the EEG window overlap fraction or the default.
func (c *TuningConfig) GetEEGWindowOverlap() float64 {
	if c.EEGWindowOverlap == nil {
		return 0.5
	}
	return *c.EEGWindowOverlap
}

// GetPhysioSampleRateHz returns the HR/BR sampling rate or the default.
func (c *TuningConfig) GetPhysioSampleRateHz() float64 {
	if c.PhysioSampleRateHz == nil {
		return 1.0
	}
	return *c.PhysioSampleRateHz
}

// GetPhysioWindowSeconds returns the physiological window length or the default.
func (c *TuningConfig) GetPhysioWindowSeconds() float64 {
	if c.PhysioWindowSecs == nil {
		return 3.0
	}
	return *c.PhysioWindowSecs
}

// GetRetentionSeconds returns the stream retention horizon or the default.
func (c *TuningConfig) GetRetentionSeconds() float64 {
	if c.RetentionSeconds == nil {
		return 10.0
	}
	return *c.RetentionSeconds
}

// GetTickInterval parses and returns the TickInterval as a time.Duration.
func (c *TuningConfig) GetTickInterval() time.Duration {
	if c.TickInterval == nil || *c.TickInterval == "" {
		return 500 * time.Millisecond // default
	}
	d, err := time.ParseDuration(*c.TickInterval)
	if err != nil {
		return 500 * time.Millisecond // default on parse error
	}
	return d
}

// GetStallTimeout parses and returns the StallTimeout as a time.Duration.
func (c *TuningConfig) GetStallTimeout() time.Duration {
	if c.StallTimeout == nil || *c.StallTimeout == "" {
		return 10 * time.Second // default: one retention horizon
	}
	d, err := time.ParseDuration(*c.StallTimeout)
	if err != nil {
		return 10 * time.Second // default on parse error
	}
	return d
}

// GetBandpassLowHz returns the band-pass low cut or the default.
func (c *TuningConfig) GetBandpassLowHz() float64 {
	if c.BandpassLowHz == nil {
		return 0.5
	}
	return *c.BandpassLowHz
}

// GetBandpassHighHz returns the band-pass high cut or the default.
func (c *TuningConfig) GetBandpassHighHz() float64 {
	if c.BandpassHighHz == nil {
		return 50.0
	}
	return *c.BandpassHighHz
}

// GetNotchHz returns the power-line notch frequency or the default.
func (c *TuningConfig) GetNotchHz() float64 {
	if c.NotchHz == nil {
		return 50.0
	}
	return *c.NotchHz
}

// GetArtifactThresholdUV returns the artifact amplitude threshold or the default.
func (c *TuningConfig) GetArtifactThresholdUV() float64 {
	if c.ArtifactThresholdUV == nil {
		return 100.0
	}
	return *c.ArtifactThresholdUV
}

// GetArtifactQualityLimit returns the artifact fraction above which a window
// is tagged low quality, or the default.
func (c *TuningConfig) GetArtifactQualityLimit() float64 {
	if c.ArtifactQualityLimit == nil {
		return 0.5
	}
	return *c.ArtifactQualityLimit
}

// GetLabelSet returns the configured label set name or the default.
func (c *TuningConfig) GetLabelSet() string {
	if c.LabelSet == nil {
		return "threeclass"
	}
	return *c.LabelSet
}

// GetFusionStrategy returns the configured fusion strategy or the default.
func (c *TuningConfig) GetFusionStrategy() string {
	if c.FusionStrategy == nil {
		return "late"
	}
	return *c.FusionStrategy
}

// GetFusionEEGWeight returns the late-fusion EEG weight or the default.
func (c *TuningConfig) GetFusionEEGWeight() float64 {
	if c.FusionEEGWeight == nil {
		return 0.5
	}
	return *c.FusionEEGWeight
}

// GetFusionPhysioWeight returns the late-fusion physio weight or the default.
func (c *TuningConfig) GetFusionPhysioWeight() float64 {
	if c.FusionPhysioWeight == nil {
		return 0.5
	}
	return *c.FusionPhysioWeight
}

// GetLowQualityWeight returns the down-weighting factor applied to a
// low-quality modality during late fusion, or the default.
func (c *TuningConfig) GetLowQualityWeight() float64 {
	if c.LowQualityWeight == nil {
		return 0.25
	}
	return *c.LowQualityWeight
}

// GetConfidenceThreshold returns the decision confidence threshold or the default.
func (c *TuningConfig) GetConfidenceThreshold() float64 {
	if c.ConfidenceThreshold == nil {
		return 0.6
	}
	return *c.ConfidenceThreshold
}

// GetAgreementCount returns the consecutive-agreement requirement or the default.
func (c *TuningConfig) GetAgreementCount() int {
	if c.AgreementCount == nil {
		return 3
	}
	return *c.AgreementCount
}

// GetHighHeartRateBPM returns the fail-safe high heart rate threshold or the default.
func (c *TuningConfig) GetHighHeartRateBPM() float64 {
	if c.HighHeartRateBPM == nil {
		return 100.0
	}
	return *c.HighHeartRateBPM
}

// GetLowHeartRateBPM returns the fail-safe low heart rate threshold or the default.
func (c *TuningConfig) GetLowHeartRateBPM() float64 {
	if c.LowHeartRateBPM == nil {
		return 60.0
	}
	return *c.LowHeartRateBPM
}

// GetHighBreathRateBPM returns the fail-safe high breathing rate threshold or the default.
func (c *TuningConfig) GetHighBreathRateBPM() float64 {
	if c.HighBreathRateBPM == nil {
		return 20.0
	}
	return *c.HighBreathRateBPM
}

// GetLowBreathRateBPM returns the fail-safe low breathing rate threshold or the default.
func (c *TuningConfig) GetLowBreathRateBPM() float64 {
	if c.LowBreathRateBPM == nil {
		return 12.0
	}
	return *c.LowBreathRateBPM
}

// GetHeartRateStdBPM returns the short-term HR variability threshold or the default.
func (c *TuningConfig) GetHeartRateStdBPM() float64 {
	if c.HeartRateStdBPM == nil {
		return 8.0
	}
	return *c.HeartRateStdBPM
}

// GetHeartRateStepBPM returns the sudden HR step threshold or the default.
func (c *TuningConfig) GetHeartRateStepBPM() float64 {
	if c.HeartRateStepBPM == nil {
		return 15.0
	}
	return *c.HeartRateStepBPM
}
