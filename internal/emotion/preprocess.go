package emotion

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// Canonical EEG frequency bands (Hz).
var eegBands = []struct {
	name string
	low  float64
	high float64
}{
	{"delta", 0.5, 4},
	{"theta", 4, 8},
	{"alpha", 8, 13},
	{"beta", 13, 30},
	{"gamma", 30, 50},
}

const (
	// Statistical features per channel: mean, std, variance, min, max,
	// median, p25, p75, skewness, kurtosis, zero-crossing rate.
	statFeaturesPerChannel = 11

	// HR/BR features: mean, std, range, sudden increases, sudden decreases.
	physioFeaturesPerStream = 5
)

// EEGFeatureDim returns the deterministic EEG feature vector length for a
// channel count. The emotion model's input shape depends on this.
func EEGFeatureDim(channels int) int {
	return channels * (len(eegBands) + statFeaturesPerChannel)
}

// EEGFeaturesPerChannel returns the per-channel feature count.
func EEGFeaturesPerChannel() int {
	return len(eegBands) + statFeaturesPerChannel
}

// PhysioFeatureDim is the physiological feature vector length (HR + BR).
const PhysioFeatureDim = 2 * physioFeaturesPerStream

// PreprocessorConfig holds the signal-conditioning parameters.
type PreprocessorConfig struct {
	EEGSampleRateHz      float64
	BandpassLowHz        float64
	BandpassHighHz       float64
	NotchHz              float64
	ArtifactThresholdUV  float64
	ArtifactQualityLimit float64

	// Sudden-change thresholds for the physiological feature counts.
	HRSuddenDeltaBPM float64
	BRSuddenDelta    float64
}

// DefaultPreprocessorConfig returns the standard Muse-headband tuning.
func DefaultPreprocessorConfig() PreprocessorConfig {
	return PreprocessorConfig{
		EEGSampleRateHz:      256,
		BandpassLowHz:        0.5,
		BandpassHighHz:       50,
		NotchHz:              50,
		ArtifactThresholdUV:  100,
		ArtifactQualityLimit: 0.5,
		HRSuddenDeltaBPM:     5,
		BRSuddenDelta:        2,
	}
}

// Preprocessor cleans raw EEG windows and extracts feature vectors for
// classification. Filters are designed once at construction; processing a
// given window twice yields bit-identical output.
type Preprocessor struct {
	cfg      PreprocessorConfig
	bandpass iirFilter
	notch    iirFilter
}

// NewPreprocessor designs the filter bank for the given configuration.
func NewPreprocessor(cfg PreprocessorConfig) (*Preprocessor, error) {
	nyquist := cfg.EEGSampleRateHz / 2

	high := cfg.BandpassHighHz
	if high >= nyquist {
		high = 0.99 * nyquist
	}
	bandpass, err := butterBandpass(4, cfg.BandpassLowHz, high, cfg.EEGSampleRateHz)
	if err != nil {
		return nil, fmt.Errorf("design bandpass: %w", err)
	}

	p := &Preprocessor{cfg: cfg, bandpass: bandpass}

	// The notch is skipped entirely when the power-line frequency is at
	// or above Nyquist (low sample rates).
	if cfg.NotchHz < nyquist {
		width := 0.01 * nyquist
		notch, err := butterBandstop(2, cfg.NotchHz-width, cfg.NotchHz+width, cfg.EEGSampleRateHz)
		if err != nil {
			return nil, fmt.Errorf("design notch: %w", err)
		}
		p.notch = notch
	}

	return p, nil
}

// ProcessEEG runs the full conditioning chain on an EEG window and returns
// its feature vector: per channel, mean band power for the five canonical
// bands followed by eleven statistical features. Windows whose artifact
// fraction exceeds the configured ceiling are tagged LowQuality but still
// produce a vector.
func (p *Preprocessor) ProcessEEG(w Window) (FeatureVector, error) {
	if w.Modality != ModalityEEG {
		return FeatureVector{}, fmt.Errorf("%w: got %s window", ErrUnknownModality, w.Modality)
	}
	if len(w.Data) == 0 || w.SamplesPerChan == 0 {
		return FeatureVector{}, fmt.Errorf("empty EEG window")
	}

	channels := len(w.Data)
	features := make([]float64, 0, EEGFeatureDim(channels))
	var flagged, totalSamples int

	for _, raw := range w.Data {
		// Band-pass then notch, zero-phase.
		clean := p.bandpass.filtFilt(raw)
		if p.notch.b != nil {
			clean = p.notch.filtFilt(clean)
		}

		// Artifact rejection: linear interpolation across samples that
		// exceed the amplitude threshold.
		n := interpolateArtifacts(clean, p.cfg.ArtifactThresholdUV)
		flagged += n
		totalSamples += len(clean)

		// Per-channel zero-mean unit-variance normalisation.
		normalize(clean)

		freqs, psd := welchPSD(clean, w.SampleRateHz, welchSegmentLength(len(clean)))
		for _, band := range eegBands {
			features = append(features, bandPower(freqs, psd, band.low, band.high))
		}
		features = append(features, channelStats(clean)...)
	}

	artifactFraction := 0.0
	if totalSamples > 0 {
		artifactFraction = float64(flagged) / float64(totalSamples)
	}

	return FeatureVector{
		Modality:           ModalityEEG,
		WindowEndUnixNanos: w.EndUnixNanos,
		Values:             features,
		ArtifactFraction:   artifactFraction,
		LowQuality:         artifactFraction > p.cfg.ArtifactQualityLimit,
	}, nil
}

// ProcessPhysio derives the 10-dimensional physiological feature vector
// from aligned heart-rate and breathing-rate windows.
func (p *Preprocessor) ProcessPhysio(w Window) (FeatureVector, error) {
	if w.Modality != ModalityPhysio {
		return FeatureVector{}, fmt.Errorf("%w: got %s window", ErrUnknownModality, w.Modality)
	}
	if len(w.Data) != 2 {
		return FeatureVector{}, fmt.Errorf("physio window needs HR and BR rows, got %d", len(w.Data))
	}

	features := make([]float64, 0, PhysioFeatureDim)
	features = append(features, rateStats(w.Data[0], p.cfg.HRSuddenDeltaBPM)...)
	features = append(features, rateStats(w.Data[1], p.cfg.BRSuddenDelta)...)

	return FeatureVector{
		Modality:           ModalityPhysio,
		WindowEndUnixNanos: w.EndUnixNanos,
		Values:             features,
	}, nil
}

// welchSegmentLength mirrors the conventional nperseg choice of
// min(256, n/4) with a floor suitable for short windows.
func welchSegmentLength(n int) int {
	seg := n / 4
	if seg > 256 {
		seg = 256
	}
	if seg < 8 {
		seg = n
	}
	return seg
}

// interpolateArtifacts replaces samples whose magnitude exceeds threshold
// with a linear interpolation between the nearest clean neighbours, and
// returns the number of samples replaced.
func interpolateArtifacts(x []float64, threshold float64) int {
	flagged := 0
	clean := make([]int, 0, len(x))
	for i, v := range x {
		if math.Abs(v) > threshold {
			flagged++
		} else {
			clean = append(clean, i)
		}
	}
	if flagged == 0 || len(clean) < 2 {
		// Nothing to fix, or too little clean signal to anchor an
		// interpolation; leave the data as-is and rely on the quality tag.
		return flagged
	}

	for i := range x {
		if math.Abs(x[i]) <= threshold {
			continue
		}
		// Nearest clean index at or after i.
		j := sort.SearchInts(clean, i)
		switch {
		case j == 0:
			x[i] = x[clean[0]]
		case j == len(clean):
			x[i] = x[clean[len(clean)-1]]
		default:
			lo, hi := clean[j-1], clean[j]
			t := float64(i-lo) / float64(hi-lo)
			x[i] = x[lo] + t*(x[hi]-x[lo])
		}
	}
	return flagged
}

// normalize applies zero-mean unit-variance scaling in place. A flat
// channel is left centred at zero.
func normalize(x []float64) {
	mean, std := stat.MeanStdDev(x, nil)
	if std == 0 || math.IsNaN(std) {
		for i := range x {
			x[i] -= mean
		}
		return
	}
	for i := range x {
		x[i] = (x[i] - mean) / std
	}
}

// channelStats computes the eleven per-channel statistical features.
func channelStats(x []float64) []float64 {
	sorted := make([]float64, len(x))
	copy(sorted, x)
	sort.Float64s(sorted)

	mean, std := stat.MeanStdDev(x, nil)
	variance := stat.Variance(x, nil)
	skew := stat.Skew(x, nil)
	kurtosis := stat.ExKurtosis(x, nil)
	if math.IsNaN(skew) {
		skew = 0
	}
	if math.IsNaN(kurtosis) {
		kurtosis = 0
	}

	return []float64{
		mean,
		std,
		variance,
		sorted[0],
		sorted[len(sorted)-1],
		stat.Quantile(0.5, stat.Empirical, sorted, nil),
		stat.Quantile(0.25, stat.Empirical, sorted, nil),
		stat.Quantile(0.75, stat.Empirical, sorted, nil),
		skew,
		kurtosis,
		zeroCrossingRate(x),
	}
}

// zeroCrossingRate returns the fraction of consecutive sample pairs whose
// signs differ.
func zeroCrossingRate(x []float64) float64 {
	if len(x) < 2 {
		return 0
	}
	crossings := 0
	for i := 1; i < len(x); i++ {
		if (x[i-1] >= 0) != (x[i] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(x)-1)
}

// rateStats computes mean, std, range and sudden increase/decrease counts
// for one physiological rate series.
func rateStats(x []float64, suddenDelta float64) []float64 {
	if len(x) == 0 {
		return make([]float64, physioFeaturesPerStream)
	}

	mean, std := stat.MeanStdDev(x, nil)
	if math.IsNaN(std) {
		std = 0
	}

	min, max := x[0], x[0]
	for _, v := range x[1:] {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}

	var increases, decreases float64
	for i := 1; i < len(x); i++ {
		diff := x[i] - x[i-1]
		if diff > suddenDelta {
			increases++
		}
		if diff < -suddenDelta {
			decreases++
		}
	}

	return []float64{mean, std, max - min, increases, decreases}
}
