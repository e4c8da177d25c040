package emotion

import "github.com/google/uuid"

// Confidence levels assigned to rule-table decisions. Classifier-path
// confidences are taken from the model distribution directly.
const (
	confidenceHigh   = 0.85
	confidenceMedium = 0.70
	confidenceLow    = 0.50
)

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Rule is one physiological fail-safe pattern. Rules are evaluated in
// table order; the first match wins.
type Rule struct {
	Name       string
	Label      Label
	Confidence float64
	Match      func(PhysioSummary) bool
}

// RuleTable is the ordered fail-safe rule set for one label-set variant.
type RuleTable struct {
	rules []Rule
}

// Evaluate returns the first matching rule's label and confidence. An
// invalid summary never matches.
func (t *RuleTable) Evaluate(s PhysioSummary) (Label, float64, bool) {
	if t == nil || !s.Valid {
		return LabelUnknown, 0, false
	}
	for _, r := range t.rules {
		if r.Match(s) {
			return r.Label, clampConfidence(r.Confidence), true
		}
	}
	return LabelUnknown, 0, false
}

// RuleThresholds parameterises the physiological rule tables.
type RuleThresholds struct {
	HighHeartRateBPM  float64
	LowHeartRateBPM   float64
	HighBreathRateBPM float64
	LowBreathRateBPM  float64
	HeartRateStdBPM   float64
	HeartRateStepBPM  float64
}

// DefaultRuleThresholds returns adult resting-baseline thresholds.
func DefaultRuleThresholds() RuleThresholds {
	return RuleThresholds{
		HighHeartRateBPM:  100,
		LowHeartRateBPM:   60,
		HighBreathRateBPM: 20,
		LowBreathRateBPM:  12,
		HeartRateStdBPM:   8,
		HeartRateStepBPM:  15,
	}
}

// EkmanRuleTable builds the fail-safe table for the six-class label set.
func EkmanRuleTable(t RuleThresholds) *RuleTable {
	return &RuleTable{rules: []Rule{
		{
			Name:       "fear",
			Label:      LabelFear,
			Confidence: confidenceHigh,
			Match: func(s PhysioSummary) bool {
				return s.HeartRateBPM > t.HighHeartRateBPM && s.HeartRateStd > t.HeartRateStdBPM
			},
		},
		{
			Name:       "anger",
			Label:      LabelAnger,
			Confidence: confidenceMedium,
			Match: func(s PhysioSummary) bool {
				return s.HeartRateBPM > t.HighHeartRateBPM &&
					s.BreathRateBPM > t.HighBreathRateBPM &&
					s.HeartRateSlope <= t.HeartRateStepBPM
			},
		},
		{
			Name:       "sadness",
			Label:      LabelSadness,
			Confidence: confidenceMedium,
			Match: func(s PhysioSummary) bool {
				return s.HeartRateBPM < t.LowHeartRateBPM && s.BreathRateBPM < t.LowBreathRateBPM
			},
		},
		{
			Name:       "surprise",
			Label:      LabelSurprise,
			Confidence: confidenceMedium,
			Match: func(s PhysioSummary) bool {
				return s.HeartRateSlope > t.HeartRateStepBPM
			},
		},
	}}
}

// ThreeClassRuleTable builds the fail-safe table for the three-class label
// set. High-arousal patterns map to NEGATIVE; a calm low/low baseline maps
// to NEUTRAL.
func ThreeClassRuleTable(t RuleThresholds) *RuleTable {
	return &RuleTable{rules: []Rule{
		{
			Name:       "high-arousal",
			Label:      LabelNegative,
			Confidence: confidenceMedium,
			Match: func(s PhysioSummary) bool {
				if s.HeartRateSlope > t.HeartRateStepBPM {
					return true
				}
				return s.HeartRateBPM > t.HighHeartRateBPM &&
					(s.HeartRateStd > t.HeartRateStdBPM || s.BreathRateBPM > t.HighBreathRateBPM)
			},
		},
		{
			Name:       "calm-baseline",
			Label:      LabelNeutral,
			Confidence: confidenceLow,
			Match: func(s PhysioSummary) bool {
				return s.HeartRateBPM < t.LowHeartRateBPM && s.BreathRateBPM < t.LowBreathRateBPM
			},
		},
	}}
}

// RuleTableForSet resolves the fail-safe table for a label set.
func RuleTableForSet(set LabelSet, t RuleThresholds) *RuleTable {
	if set.Name == "ekman" {
		return EkmanRuleTable(t)
	}
	return ThreeClassRuleTable(t)
}

// DecisionEngine turns per-cycle candidate labels into committed label
// changes. A candidate must repeat for the configured agreement count
// before it displaces the committed label; fail-safe candidates pass
// through the same gate so a single noisy physiological window cannot
// flip the output.
type DecisionEngine struct {
	set       LabelSet
	threshold float64
	agreement int
	rules     *RuleTable

	state           EmotionState
	pendingFailSafe bool
}

// NewDecisionEngine creates a decision engine for the label set. The
// committed label initialises to the set's neutral member (UNKNOWN for
// sets without one).
func NewDecisionEngine(set LabelSet, threshold float64, agreement int, rules *RuleTable) *DecisionEngine {
	if agreement < 1 {
		agreement = 1
	}
	d := &DecisionEngine{
		set:       set,
		threshold: threshold,
		agreement: agreement,
		rules:     rules,
	}
	d.Reset()
	return d
}

// Reset restores the initial committed state.
func (d *DecisionEngine) Reset() {
	d.state = EmotionState{Label: d.set.Neutral}
	d.pendingFailSafe = false
}

// State returns a copy of the committed decision state.
func (d *DecisionEngine) State() EmotionState { return d.state }

// SetStale marks or clears the stale flag on the committed state.
func (d *DecisionEngine) SetStale(stale bool) { d.state.Stale = stale }

// Step processes one classification cycle. pred may be nil when no model
// produced a distribution this cycle. The returned event is valid only
// when changed is true, which happens exactly once per committed label
// change.
func (d *DecisionEngine) Step(pred *Prediction, summary PhysioSummary, nowUnixNanos int64) (LabelEvent, bool) {
	candidate, confidence, failSafe, ok := d.selectCandidate(pred, summary)
	if !ok {
		// Nothing confident enough and no rule fired: hold the committed
		// label. Holding is a candidate like any other, so it breaks a
		// pending streak through the agreement gate below.
		candidate, confidence, failSafe = d.state.Label, d.state.Confidence, false
	}

	if candidate == d.state.Label {
		d.state.Confidence = confidence
		d.state.PendingLabel = ""
		d.state.PendingCount = 0
		d.pendingFailSafe = false
		return LabelEvent{}, false
	}

	if candidate == d.state.PendingLabel {
		d.state.PendingCount++
	} else {
		d.state.PendingLabel = candidate
		d.state.PendingCount = 1
	}
	d.pendingFailSafe = failSafe

	if d.state.PendingCount < d.agreement {
		return LabelEvent{}, false
	}

	d.state.Label = candidate
	d.state.Confidence = confidence
	d.state.PendingLabel = ""
	d.state.PendingCount = 0
	d.state.LastChangeUnixNanos = nowUnixNanos

	event := LabelEvent{
		EventID:     uuid.NewString(),
		Label:       candidate,
		Confidence:  confidence,
		TSUnixNanos: nowUnixNanos,
		FailSafe:    d.pendingFailSafe,
	}
	d.pendingFailSafe = false
	return event, true
}

// selectCandidate picks this cycle's candidate label. A confident,
// clean-input classifier distribution wins outright; the rule table is the
// fallback for the cycles the classifier cannot be trusted: no prediction,
// sub-threshold confidence, or low-quality input.
func (d *DecisionEngine) selectCandidate(pred *Prediction, summary PhysioSummary) (Label, float64, bool, bool) {
	if pred != nil && !pred.LowQuality && pred.Confidence >= d.threshold {
		if label := pred.Top(d.set); label != LabelUnknown {
			return label, clampConfidence(pred.Confidence), false, true
		}
	}
	if label, confidence, matched := d.rules.Evaluate(summary); matched {
		return label, confidence, true, true
	}
	return LabelUnknown, 0, false, false
}
