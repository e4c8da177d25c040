// Package emotion implements the real-time multi-modal emotion inference
// pipeline: ring-buffered channel streams, sliding-window construction,
// EEG and physiological preprocessing, neural classification, modality
// fusion, and the stability/fail-safe decision engine.
package emotion

import "time"

// StreamID names one physical channel stream, e.g. "eeg/TP9" or "physio/hr".
type StreamID string

// Well-known stream identifiers. EEG channel streams are derived from the
// configured channel names via EEGStreamID.
const (
	StreamHeartRate  StreamID = "physio/hr"
	StreamBreathRate StreamID = "physio/br"
	StreamPPG        StreamID = "physio/ppg"
)

// EEGStreamID returns the stream identifier for an EEG channel name
// (10-20 system position, e.g. "TP9").
func EEGStreamID(channel string) StreamID {
	return StreamID("eeg/" + channel)
}

// Modality tags data and predictions with their signal source.
type Modality string

const (
	ModalityEEG    Modality = "eeg"
	ModalityPhysio Modality = "physio"
	ModalityFused  Modality = "fused"
)

// Sample is one timestamped scalar reading from a single stream.
// Immutable once recorded.
type Sample struct {
	TSUnixNanos int64
	Value       float64
}

// Window is a fixed-length slice of one or more channel streams aligned by
// position, tagged with a modality. Read-only once built.
type Window struct {
	Modality       Modality
	Channels       []string    // channel names, row order of Data
	Data           [][]float64 // [channel][sample]
	SampleRateHz   float64
	StartUnixNanos int64
	EndUnixNanos   int64
	SamplesPerChan int
}

// FeatureVector is a fixed-dimension numeric vector derived from a Window.
type FeatureVector struct {
	Modality           Modality
	WindowEndUnixNanos int64
	Values             []float64

	// LowQuality marks a window whose artifact fraction exceeded the
	// configured ceiling. The vector is still usable; the decision
	// engine discounts it.
	LowQuality       bool
	ArtifactFraction float64
}

// Prediction is a probability distribution over the configured label set.
// Probs are non-negative and sum to 1 within floating-point tolerance.
type Prediction struct {
	Modality   Modality
	Probs      []float64
	TopIndex   int
	Confidence float64 // max probability
	LowQuality bool    // carried over from the source feature vector
}

// Top returns the most probable label under the given label set.
func (p Prediction) Top(set LabelSet) Label {
	if p.TopIndex < 0 || p.TopIndex >= len(set.Labels) {
		return LabelUnknown
	}
	return set.Labels[p.TopIndex]
}

// Label is one member of a label set, or LabelUnknown.
type Label string

// LabelUnknown is the initial committed label for label sets without a
// neutral member.
const LabelUnknown Label = "UNKNOWN"

// Three-class labels (lightweight pipeline).
const (
	LabelPositive Label = "POSITIVE"
	LabelNegative Label = "NEGATIVE"
	LabelNeutral  Label = "NEUTRAL"
)

// Ekman six-class labels (multi-modal pipeline).
const (
	LabelHappiness Label = "happiness"
	LabelSadness   Label = "sadness"
	LabelAnger     Label = "anger"
	LabelSurprise  Label = "surprise"
	LabelFear      Label = "fear"
	LabelDisgust   Label = "disgust"
)

// LabelSet is a closed, ordered emotion label taxonomy. The two supported
// variants are not interchangeable at runtime: classifier output dims and
// the fail-safe rule table are re-specified per variant.
type LabelSet struct {
	Name    string
	Labels  []Label
	Neutral Label // initial committed label; LabelUnknown when the set has no neutral member
}

// Size returns the number of labels in the set.
func (s LabelSet) Size() int { return len(s.Labels) }

// Index returns the position of l in the set, or -1.
func (s LabelSet) Index(l Label) int {
	for i, candidate := range s.Labels {
		if candidate == l {
			return i
		}
	}
	return -1
}

// ThreeClassLabels returns the POSITIVE/NEGATIVE/NEUTRAL label set.
func ThreeClassLabels() LabelSet {
	return LabelSet{
		Name:    "threeclass",
		Labels:  []Label{LabelPositive, LabelNegative, LabelNeutral},
		Neutral: LabelNeutral,
	}
}

// EkmanLabels returns Ekman's six basic emotions. The set has no neutral
// member, so the committed label initialises to UNKNOWN.
func EkmanLabels() LabelSet {
	return LabelSet{
		Name: "ekman",
		Labels: []Label{
			LabelHappiness,
			LabelSadness,
			LabelAnger,
			LabelSurprise,
			LabelFear,
			LabelDisgust,
		},
		Neutral: LabelUnknown,
	}
}

// LabelSetByName resolves a configured label set name.
func LabelSetByName(name string) (LabelSet, bool) {
	switch name {
	case "threeclass":
		return ThreeClassLabels(), true
	case "ekman":
		return EkmanLabels(), true
	}
	return LabelSet{}, false
}

// EmotionState is the committed decision state. Mutated only by the
// decision engine; reset when processing stops.
type EmotionState struct {
	Label               Label
	Confidence          float64
	PendingLabel        Label
	PendingCount        int
	LastChangeUnixNanos int64

	// Stale is set by the engine when every input stream has stalled;
	// the committed label is held but should not be trusted as current.
	Stale bool
}

// LabelEvent is emitted once per committed label change.
type LabelEvent struct {
	EventID     string  `json:"event_id"`
	Label       Label   `json:"label"`
	Confidence  float64 `json:"confidence"`
	TSUnixNanos int64   `json:"ts_unix_nanos"`

	// FailSafe records whether the committed label was produced by the
	// physiological rule table rather than the classifier path.
	FailSafe bool `json:"fail_safe"`
}

// Time returns the event timestamp as a time.Time.
func (e LabelEvent) Time() time.Time { return time.Unix(0, e.TSUnixNanos) }
