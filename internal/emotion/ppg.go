package emotion

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// PPG-derived heart rate constants, tuned for Muse-class wearables.
const (
	ppgBandLowHz      = 0.5  // heart rate band lower edge (30 BPM)
	ppgBandHighHz     = 4.0  // heart rate band upper edge (240 BPM)
	ppgMinPeakGapSecs = 0.4  // refractory distance between beats (150 BPM max)
	ppgMinIBISecs     = 0.33 // inter-beat intervals outside this range are
	ppgMaxIBISecs     = 1.5  // treated as detection noise
	ppgMinValidBPM    = 40
	ppgMaxValidBPM    = 180
)

// DeriveHeartRate estimates BPM from a raw PPG segment sampled at fs Hz
// using band-pass filtering and peak detection over inter-beat intervals.
// ok is false when the segment is too short or no plausible rhythm is found.
func DeriveHeartRate(ppg []float64, fs float64) (bpm float64, ok bool) {
	if len(ppg) < 128 || fs <= 2*ppgBandHighHz {
		return 0, false
	}

	filter, err := butterBandpass(2, ppgBandLowHz, ppgBandHighHz, fs)
	if err != nil {
		return 0, false
	}
	filtered := filter.filtFilt(ppg)

	_, std := stat.MeanStdDev(filtered, nil)
	if std == 0 || math.IsNaN(std) {
		return 0, false
	}

	minDistance := int(fs * ppgMinPeakGapSecs)
	peaks := findPeaks(filtered, minDistance, std*0.3)
	if len(peaks) < 3 {
		return 0, false
	}

	intervals := make([]float64, 0, len(peaks)-1)
	for i := 1; i < len(peaks); i++ {
		intervals = append(intervals, float64(peaks[i]-peaks[i-1])/fs)
	}
	return bpmFromIntervals(intervals)
}

// bpmFromIntervals averages the plausible inter-beat intervals into a BPM
// estimate. Plausible intervals must form a strict majority of the
// detected intervals; a rhythm whose beats mostly fall outside the
// range is a detection failure, not a slow heart, and averaging only the
// survivors would report a harmonic of the true rate.
func bpmFromIntervals(intervals []float64) (float64, bool) {
	var sum float64
	var valid int
	for _, interval := range intervals {
		if interval > ppgMinIBISecs && interval < ppgMaxIBISecs {
			sum += interval
			valid++
		}
	}
	if valid == 0 || 2*valid <= len(intervals) {
		return 0, false
	}

	bpm := 60.0 / (sum / float64(valid))
	if bpm < ppgMinValidBPM || bpm > ppgMaxValidBPM {
		return 0, false
	}
	return bpm, true
}

// findPeaks locates local maxima with at least the given prominence, then
// greedily enforces a minimum distance keeping taller peaks first.
func findPeaks(x []float64, minDistance int, minProminence float64) []int {
	var candidates []int
	for i := 1; i < len(x)-1; i++ {
		if x[i] > x[i-1] && x[i] >= x[i+1] {
			if peakProminence(x, i) >= minProminence {
				candidates = append(candidates, i)
			}
		}
	}
	if len(candidates) == 0 || minDistance < 2 {
		return candidates
	}

	// Tallest-first selection, as conventional peak pickers do.
	byHeight := make([]int, len(candidates))
	copy(byHeight, candidates)
	sort.Slice(byHeight, func(i, j int) bool { return x[byHeight[i]] > x[byHeight[j]] })

	kept := make([]bool, len(x))
	var selected []int
	for _, p := range byHeight {
		tooClose := false
		for _, s := range selected {
			if abs(p-s) < minDistance {
				tooClose = true
				break
			}
		}
		if !tooClose {
			selected = append(selected, p)
			kept[p] = true
		}
	}

	var peaks []int
	for _, p := range candidates {
		if kept[p] {
			peaks = append(peaks, p)
		}
	}
	return peaks
}

// peakProminence measures how far the peak rises above the higher of the
// two valleys separating it from taller terrain (or the signal edges).
func peakProminence(x []float64, peak int) float64 {
	leftMin := x[peak]
	for i := peak - 1; i >= 0; i-- {
		if x[i] > x[peak] {
			break
		}
		if x[i] < leftMin {
			leftMin = x[i]
		}
	}

	rightMin := x[peak]
	for i := peak + 1; i < len(x); i++ {
		if x[i] > x[peak] {
			break
		}
		if x[i] < rightMin {
			rightMin = x[i]
		}
	}

	base := leftMin
	if rightMin > base {
		base = rightMin
	}
	return x[peak] - base
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// PPGConverter accumulates raw PPG samples and emits derived heart-rate
// samples for the physiological stream. It buffers roughly a minute of
// signal and recomputes every two seconds of signal time, mirroring the
// live monitor this pipeline ingests from.
type PPGConverter struct {
	fs       float64
	buf      []float64
	maxLen   int
	lastCalc int64 // signal time of the previous estimate, unix nanos
	emit     func(Sample)
}

// NewPPGConverter creates a converter for a PPG stream at fs Hz. Derived
// heart-rate samples are delivered through emit.
func NewPPGConverter(fs float64, emit func(Sample)) *PPGConverter {
	return &PPGConverter{
		fs:     fs,
		maxLen: int(fs * 60),
		emit:   emit,
	}
}

// Push appends one raw PPG sample and emits a heart-rate sample whenever a
// fresh estimate is due.
func (c *PPGConverter) Push(s Sample) {
	c.buf = append(c.buf, s.Value)
	if len(c.buf) > c.maxLen {
		c.buf = c.buf[len(c.buf)-c.maxLen:]
	}

	const recalcNanos = int64(2 * 1e9)
	if len(c.buf) < 128 || s.TSUnixNanos-c.lastCalc < recalcNanos {
		return
	}
	c.lastCalc = s.TSUnixNanos

	if bpm, ok := DeriveHeartRate(c.buf, c.fs); ok {
		c.emit(Sample{TSUnixNanos: s.TSUnixNanos, Value: bpm})
	}
}
