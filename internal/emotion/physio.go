package emotion

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// PhysioSummary is the short-term rolling physiological picture consumed by
// the fail-safe rule table. It is derived directly from the HR/BR channel
// streams, independently of the full physiological feature vector.
type PhysioSummary struct {
	HeartRateBPM   float64 // mean HR over the most recent window
	HeartRateStd   float64 // short-term HR variability over that window
	HeartRateSlope float64 // change in mean HR versus the preceding window
	BreathRateBPM  float64 // mean BR over the most recent window

	// Valid is false until at least one full HR window has accumulated;
	// the rule table never fires on an invalid summary.
	Valid bool
}

// SummarizePhysio computes the rolling summary from the buffered HR and BR
// streams. windowSamples is the physiological window size in samples; the
// slope compares the newest window against the one before it when enough
// history exists.
func SummarizePhysio(hr, br *ChannelStream, windowSamples int) PhysioSummary {
	if hr == nil || windowSamples < 1 {
		return PhysioSummary{}
	}

	hrValues, _ := hr.Tail(2 * windowSamples)
	if len(hrValues) < windowSamples {
		return PhysioSummary{}
	}

	current := hrValues[len(hrValues)-windowSamples:]
	mean, std := stat.MeanStdDev(current, nil)
	if math.IsNaN(std) {
		std = 0
	}

	summary := PhysioSummary{
		HeartRateBPM: mean,
		HeartRateStd: std,
		Valid:        true,
	}

	if len(hrValues) >= 2*windowSamples {
		previous := hrValues[:windowSamples]
		summary.HeartRateSlope = mean - stat.Mean(previous, nil)
	}

	if br != nil {
		if brValues, _ := br.Tail(windowSamples); len(brValues) > 0 {
			summary.BreathRateBPM = stat.Mean(brValues, nil)
		}
	}

	return summary
}
