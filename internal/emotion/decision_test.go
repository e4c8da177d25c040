package emotion

import (
	"testing"
)

func classifierPrediction(set LabelSet, label Label, confidence float64) *Prediction {
	probs := make([]float64, set.Size())
	idx := set.Index(label)
	rest := (1 - confidence) / float64(set.Size()-1)
	for i := range probs {
		probs[i] = rest
	}
	probs[idx] = confidence
	p := newPrediction(ModalityFused, probs, false)
	return &p
}

func newTestDecision(set LabelSet) *DecisionEngine {
	return NewDecisionEngine(set, 0.6, 3, RuleTableForSet(set, DefaultRuleThresholds()))
}

func TestDecisionInitialState(t *testing.T) {
	if got := newTestDecision(ThreeClassLabels()).State().Label; got != LabelNeutral {
		t.Errorf("threeclass initial label = %s, want NEUTRAL", got)
	}
	if got := newTestDecision(EkmanLabels()).State().Label; got != LabelUnknown {
		t.Errorf("ekman initial label = %s, want UNKNOWN", got)
	}
}

func TestDecisionBelowThresholdNeverCommits(t *testing.T) {
	set := ThreeClassLabels()
	d := newTestDecision(set)

	for i := 0; i < 10; i++ {
		if _, changed := d.Step(classifierPrediction(set, LabelPositive, 0.5), PhysioSummary{}, int64(i)); changed {
			t.Fatal("committed on a sub-threshold prediction")
		}
	}
	if got := d.State().Label; got != LabelNeutral {
		t.Errorf("label = %s, want NEUTRAL held", got)
	}
}

func TestDecisionAgreementGate(t *testing.T) {
	set := ThreeClassLabels()
	d := newTestDecision(set)

	// A, B, B, B with agreement 3: the change commits on the third B.
	steps := []Label{LabelPositive, LabelNegative, LabelNegative, LabelNegative}
	var committed []Label
	for i, label := range steps {
		if ev, changed := d.Step(classifierPrediction(set, label, 0.9), PhysioSummary{}, int64(i)); changed {
			committed = append(committed, ev.Label)
			if ev.TSUnixNanos != int64(i) {
				t.Errorf("event timestamp = %d, want %d", ev.TSUnixNanos, i)
			}
		}
	}

	if len(committed) != 1 || committed[0] != LabelNegative {
		t.Fatalf("committed = %v, want exactly [NEGATIVE]", committed)
	}
	state := d.State()
	if state.Label != LabelNegative || state.PendingCount != 0 {
		t.Errorf("state = %+v, want NEGATIVE with cleared pending", state)
	}
}

func TestDecisionAgreementResetOnDisagreement(t *testing.T) {
	set := ThreeClassLabels()
	d := newTestDecision(set)

	// Alternating candidates never accumulate agreement.
	for i := 0; i < 10; i++ {
		label := LabelPositive
		if i%2 == 1 {
			label = LabelNegative
		}
		if _, changed := d.Step(classifierPrediction(set, label, 0.9), PhysioSummary{}, int64(i)); changed {
			t.Fatal("committed on an unstable candidate streak")
		}
	}
}

func TestDecisionRepeatedCommitEmitsOnce(t *testing.T) {
	set := ThreeClassLabels()
	d := newTestDecision(set)

	events := 0
	for i := 0; i < 10; i++ {
		if _, changed := d.Step(classifierPrediction(set, LabelPositive, 0.9), PhysioSummary{}, int64(i)); changed {
			events++
		}
	}
	if events != 1 {
		t.Errorf("emitted %d events for one label change, want 1", events)
	}
}

func TestDecisionFailSafeFear(t *testing.T) {
	set := EkmanLabels()
	d := newTestDecision(set)

	// Racing, erratic heart rate while the classifier is uncertain. The
	// fail-safe candidate still passes the agreement gate, then commits as
	// a fail-safe event.
	summary := PhysioSummary{HeartRateBPM: 130, HeartRateStd: 12, BreathRateBPM: 18, Valid: true}

	var event LabelEvent
	committed := false
	for i := 0; i < 3; i++ {
		if ev, changed := d.Step(classifierPrediction(set, LabelHappiness, 0.4), summary, int64(i)); changed {
			event, committed = ev, true
		}
	}

	if !committed {
		t.Fatal("fear fail-safe never committed")
	}
	if event.Label != LabelFear {
		t.Errorf("committed %s, want fear", event.Label)
	}
	if !event.FailSafe {
		t.Error("event not flagged fail-safe")
	}
	if event.Confidence != confidenceHigh {
		t.Errorf("confidence = %g, want %g", event.Confidence, confidenceHigh)
	}
}

func TestDecisionConfidentClassifierBeatsRules(t *testing.T) {
	set := EkmanLabels()
	d := newTestDecision(set)

	// The rule table is a fallback: a confident clean prediction wins even
	// while a fear pattern is present in the vitals.
	summary := PhysioSummary{HeartRateBPM: 130, HeartRateStd: 12, BreathRateBPM: 18, Valid: true}

	var event LabelEvent
	committed := false
	for i := 0; i < 3; i++ {
		if ev, changed := d.Step(classifierPrediction(set, LabelHappiness, 0.95), summary, int64(i)); changed {
			event, committed = ev, true
		}
	}

	if !committed {
		t.Fatal("confident classifier never committed")
	}
	if event.Label != LabelHappiness {
		t.Errorf("committed %s, want happiness", event.Label)
	}
	if event.FailSafe {
		t.Error("classifier commit flagged fail-safe")
	}
}

func TestDecisionLowQualityRoutesToRules(t *testing.T) {
	set := EkmanLabels()
	d := newTestDecision(set)

	lowQuality := func(label Label, confidence float64) *Prediction {
		p := classifierPrediction(set, label, confidence)
		p.LowQuality = true
		return p
	}

	// Calm vitals, no rule fires: a confident but low-quality prediction
	// must not commit through the classifier path.
	calm := PhysioSummary{HeartRateBPM: 72, BreathRateBPM: 15, Valid: true}
	for i := 0; i < 5; i++ {
		if _, changed := d.Step(lowQuality(LabelDisgust, 0.95), calm, int64(i)); changed {
			t.Fatal("low-quality prediction committed")
		}
	}
	if got := d.State().Label; got != LabelUnknown {
		t.Errorf("label = %s, want UNKNOWN held", got)
	}

	// Same low-quality prediction with a fear pattern: the rule table
	// carries the decision.
	fearful := PhysioSummary{HeartRateBPM: 130, HeartRateStd: 12, BreathRateBPM: 18, Valid: true}
	committed := false
	for i := 0; i < 3; i++ {
		if ev, changed := d.Step(lowQuality(LabelDisgust, 0.95), fearful, int64(i)); changed {
			committed = true
			if ev.Label != LabelFear || !ev.FailSafe {
				t.Errorf("event = %+v, want fail-safe fear", ev)
			}
		}
	}
	if !committed {
		t.Error("rule table never committed on low-quality input")
	}
}

func TestDecisionHoldBreaksPendingStreak(t *testing.T) {
	set := ThreeClassLabels()
	d := newTestDecision(set)

	confident := classifierPrediction(set, LabelNegative, 0.9)
	uncertain := classifierPrediction(set, LabelNegative, 0.3)

	// Two cycles toward NEGATIVE, then a hold cycle: the streak resets, so
	// the next agreeing cycle must not commit.
	for i, pred := range []*Prediction{confident, confident, uncertain, confident} {
		if _, changed := d.Step(pred, PhysioSummary{}, int64(i)); changed {
			t.Fatal("committed across a hold cycle")
		}
	}
	if got := d.State().PendingCount; got != 1 {
		t.Errorf("pending count = %d after hold, want 1 (streak restarted)", got)
	}
	if got := d.State().Label; got != LabelNeutral {
		t.Errorf("label = %s, want NEUTRAL held", got)
	}
}

func TestDecisionFailSafeInvalidSummaryIgnored(t *testing.T) {
	set := EkmanLabels()
	d := newTestDecision(set)

	summary := PhysioSummary{HeartRateBPM: 130, HeartRateStd: 12} // Valid false
	for i := 0; i < 5; i++ {
		if _, changed := d.Step(nil, summary, int64(i)); changed {
			t.Fatal("committed from an invalid physio summary")
		}
	}
}

func TestEkmanRuleTableOrdering(t *testing.T) {
	rt := EkmanRuleTable(DefaultRuleThresholds())

	cases := []struct {
		name    string
		summary PhysioSummary
		want    Label
	}{
		{"fear", PhysioSummary{HeartRateBPM: 120, HeartRateStd: 10, BreathRateBPM: 22, Valid: true}, LabelFear},
		{"anger", PhysioSummary{HeartRateBPM: 110, HeartRateStd: 3, BreathRateBPM: 25, Valid: true}, LabelAnger},
		{"sadness", PhysioSummary{HeartRateBPM: 52, HeartRateStd: 2, BreathRateBPM: 10, Valid: true}, LabelSadness},
		{"surprise", PhysioSummary{HeartRateBPM: 90, HeartRateSlope: 20, BreathRateBPM: 16, Valid: true}, LabelSurprise},
	}
	for _, tc := range cases {
		label, _, matched := rt.Evaluate(tc.summary)
		if !matched || label != tc.want {
			t.Errorf("%s: got %s (matched=%v), want %s", tc.name, label, matched, tc.want)
		}
	}

	// Calm baseline matches nothing in the ekman table.
	if _, _, matched := rt.Evaluate(PhysioSummary{HeartRateBPM: 70, BreathRateBPM: 15, Valid: true}); matched {
		t.Error("calm baseline matched an ekman rule")
	}
}

func TestThreeClassRuleTable(t *testing.T) {
	rt := ThreeClassRuleTable(DefaultRuleThresholds())

	label, _, matched := rt.Evaluate(PhysioSummary{HeartRateBPM: 120, HeartRateStd: 10, BreathRateBPM: 18, Valid: true})
	if !matched || label != LabelNegative {
		t.Errorf("high arousal: got %s (matched=%v), want NEGATIVE", label, matched)
	}

	label, _, matched = rt.Evaluate(PhysioSummary{HeartRateBPM: 55, BreathRateBPM: 10, Valid: true})
	if !matched || label != LabelNeutral {
		t.Errorf("calm baseline: got %s (matched=%v), want NEUTRAL", label, matched)
	}

	if _, _, matched = rt.Evaluate(PhysioSummary{HeartRateBPM: 72, BreathRateBPM: 15, Valid: true}); matched {
		t.Error("ordinary vitals matched a rule")
	}
}

func TestDecisionReset(t *testing.T) {
	set := ThreeClassLabels()
	d := newTestDecision(set)

	for i := 0; i < 3; i++ {
		d.Step(classifierPrediction(set, LabelPositive, 0.9), PhysioSummary{}, int64(i))
	}
	if d.State().Label != LabelPositive {
		t.Fatal("setup commit failed")
	}

	d.Reset()
	state := d.State()
	if state.Label != LabelNeutral || state.PendingCount != 0 || state.Confidence != 0 {
		t.Errorf("state after reset = %+v", state)
	}
}
