package emotion

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/feelscape/emotion-engine/internal/config"
	"github.com/feelscape/emotion-engine/internal/monitoring"
	"github.com/feelscape/emotion-engine/internal/timeutil"
)

// DefaultEEGChannels are the Muse headband electrode positions.
var DefaultEEGChannels = []string{"TP9", "AF7", "AF8", "TP10"}

const (
	// Muse PPG sensor rate, used when deriving heart rate from raw PPG.
	ppgSampleRateHz = 64.0

	// Committed label changes kept in memory for the monitor page.
	historyLimit = 256

	// Capacity of the label-event channel. When a consumer falls behind,
	// the oldest undelivered event is dropped in favour of the newest.
	eventChannelCap = 64
)

// EngineOptions carries optional overrides for NewEngine. Zero values fall
// back to sensible defaults: the real clock, the Muse channel layout, and
// deterministically initialised models.
type EngineOptions struct {
	Clock       timeutil.Clock
	EEGChannels []string

	// Model overrides, typically restored from the artifact store.
	EEGModel    Model
	PhysioModel Model
	FusedModel  Model
}

// Engine is the real-time pipeline: it owns the window buffer, the
// preprocessor, the models, the fuser and the decision engine, and drives
// them from a tick loop. Producers feed it with AddSample from any
// goroutine; consumers read Events and Snapshot.
type Engine struct {
	cfg      *config.TuningConfig
	clock    timeutil.Clock
	set      LabelSet
	strategy FusionStrategy

	buffer *WindowBuffer
	pre    *Preprocessor

	eegModel    Model
	physioModel Model
	fusedModel  Model
	fuser       *Fuser

	physioWindowSamples int
	sessionID           string

	ppgMu sync.Mutex
	ppg   *PPGConverter

	// mu guards the decision engine and event history; ticks and snapshot
	// readers contend here, sample producers do not.
	mu       sync.Mutex
	decision *DecisionEngine
	history  []LabelEvent

	events chan LabelEvent
}

// NewEngine builds a pipeline from the tuning configuration.
func NewEngine(cfg *config.TuningConfig, opts EngineOptions) (*Engine, error) {
	set, ok := LabelSetByName(cfg.GetLabelSet())
	if !ok {
		return nil, fmt.Errorf("unknown label set %q", cfg.GetLabelSet())
	}

	strategy := FusionStrategy(cfg.GetFusionStrategy())
	switch strategy {
	case FusionLate, FusionEarly, FusionHybrid:
	default:
		return nil, fmt.Errorf("unknown fusion strategy %q", strategy)
	}

	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	channels := opts.EEGChannels
	if len(channels) == 0 {
		channels = DefaultEEGChannels
	}

	eegRate := cfg.GetEEGSampleRateHz()
	eegWindow := int(eegRate * cfg.GetEEGWindowSeconds())
	eegStep := int(float64(eegWindow) * (1 - cfg.GetEEGWindowOverlap()))
	if eegStep < 1 {
		eegStep = 1
	}

	physioRate := cfg.GetPhysioSampleRateHz()
	physioWindow := int(physioRate * cfg.GetPhysioWindowSeconds())
	if physioWindow < 1 {
		physioWindow = 1
	}

	eegIDs := make([]StreamID, len(channels))
	for i, ch := range channels {
		eegIDs[i] = EEGStreamID(ch)
	}

	buffer, err := NewWindowBuffer(clock,
		StreamGroup{
			Modality:      ModalityEEG,
			ChannelNames:  channels,
			StreamIDs:     eegIDs,
			SampleRateHz:  eegRate,
			WindowSamples: eegWindow,
			StepSamples:   eegStep,
			Capacity:      int(eegRate * cfg.GetRetentionSeconds()),
		},
		StreamGroup{
			Modality:      ModalityPhysio,
			ChannelNames:  []string{"hr", "br"},
			StreamIDs:     []StreamID{StreamHeartRate, StreamBreathRate},
			SampleRateHz:  physioRate,
			WindowSamples: physioWindow,
			StepSamples:   physioWindow,
			Capacity:      int(physioRate * cfg.GetRetentionSeconds()),
		},
	)
	if err != nil {
		return nil, err
	}

	pre, err := NewPreprocessor(PreprocessorConfig{
		EEGSampleRateHz:      eegRate,
		BandpassLowHz:        cfg.GetBandpassLowHz(),
		BandpassHighHz:       cfg.GetBandpassHighHz(),
		NotchHz:              cfg.GetNotchHz(),
		ArtifactThresholdUV:  cfg.GetArtifactThresholdUV(),
		ArtifactQualityLimit: cfg.GetArtifactQualityLimit(),
		HRSuddenDeltaBPM:     5,
		BRSuddenDelta:        2,
	})
	if err != nil {
		return nil, err
	}

	eegModel := opts.EEGModel
	if eegModel == nil {
		eegModel = NewEEGNet(len(channels), set.Size())
	}
	physioModel := opts.PhysioModel
	if physioModel == nil {
		physioModel = NewPhysioNet(set.Size())
	}
	fusedModel := opts.FusedModel
	if fusedModel == nil {
		switch strategy {
		case FusionEarly:
			fusedModel = NewEarlyFusionNet(EEGFeatureDim(len(channels)), PhysioFeatureDim, set.Size())
		case FusionHybrid:
			fusedModel = NewHybridNet(len(channels), set.Size())
		}
	}

	thresholds := RuleThresholds{
		HighHeartRateBPM:  cfg.GetHighHeartRateBPM(),
		LowHeartRateBPM:   cfg.GetLowHeartRateBPM(),
		HighBreathRateBPM: cfg.GetHighBreathRateBPM(),
		LowBreathRateBPM:  cfg.GetLowBreathRateBPM(),
		HeartRateStdBPM:   cfg.GetHeartRateStdBPM(),
		HeartRateStepBPM:  cfg.GetHeartRateStepBPM(),
	}

	e := &Engine{
		cfg:                 cfg,
		clock:               clock,
		set:                 set,
		strategy:            strategy,
		buffer:              buffer,
		pre:                 pre,
		eegModel:            eegModel,
		physioModel:         physioModel,
		fusedModel:          fusedModel,
		fuser:               NewFuser(cfg.GetFusionEEGWeight(), cfg.GetFusionPhysioWeight(), cfg.GetLowQualityWeight()),
		physioWindowSamples: physioWindow,
		sessionID:           uuid.NewString(),
		decision: NewDecisionEngine(set, cfg.GetConfidenceThreshold(), cfg.GetAgreementCount(),
			RuleTableForSet(set, thresholds)),
		events: make(chan LabelEvent, eventChannelCap),
	}
	e.ppg = NewPPGConverter(ppgSampleRateHz, func(s Sample) {
		e.buffer.Push(StreamHeartRate, s)
	})
	return e, nil
}

// SessionID returns the identifier assigned to this engine instance.
func (e *Engine) SessionID() string { return e.sessionID }

// Labels returns the label set the engine classifies into.
func (e *Engine) Labels() LabelSet { return e.set }

// AddSample feeds one sensor reading into the pipeline. Safe for concurrent
// use and never blocks on processing; raw PPG samples are converted to
// heart-rate samples internally.
func (e *Engine) AddSample(id StreamID, s Sample) {
	if id == StreamPPG {
		e.ppgMu.Lock()
		e.ppg.Push(s)
		e.ppgMu.Unlock()
		return
	}
	e.buffer.Push(id, s)
}

// Events returns the label-change channel. Exactly one event is delivered
// per committed label change; when the consumer lags far behind, the oldest
// undelivered events are dropped.
func (e *Engine) Events() <-chan LabelEvent { return e.events }

// Snapshot returns the current committed decision state.
func (e *Engine) Snapshot() EmotionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decision.State()
}

// History returns a copy of the recent committed label changes, oldest
// first.
func (e *Engine) History() []LabelEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]LabelEvent, len(e.history))
	copy(out, e.history)
	return out
}

// RecentHeartRate returns up to n of the newest heart-rate samples for the
// monitor page.
func (e *Engine) RecentHeartRate(n int) (values []float64, tsUnixNanos []int64) {
	stream := e.buffer.Stream(StreamHeartRate)
	if stream == nil {
		return nil, nil
	}
	return stream.Tail(n)
}

// Run drives the tick loop until the context is cancelled, then resets all
// processing state. Always returns nil.
func (e *Engine) Run(ctx context.Context) error {
	ticker := e.clock.NewTicker(e.cfg.GetTickInterval())
	defer ticker.Stop()

	monitoring.Logf("emotion engine started: session=%s labels=%s fusion=%s tick=%s",
		e.sessionID, e.set.Name, e.strategy, e.cfg.GetTickInterval())

	for {
		select {
		case <-ctx.Done():
			e.Reset()
			monitoring.Logf("emotion engine stopped: session=%s", e.sessionID)
			return nil
		case <-ticker.C():
			e.Tick()
		}
	}
}

// Reset discards buffered samples and decision state. The session ID is
// retained.
func (e *Engine) Reset() {
	e.buffer.Reset()
	e.mu.Lock()
	e.decision.Reset()
	e.mu.Unlock()
	e.ppgMu.Lock()
	e.ppg = NewPPGConverter(ppgSampleRateHz, func(s Sample) {
		e.buffer.Push(StreamHeartRate, s)
	})
	e.ppgMu.Unlock()
}

// Tick runs one processing cycle: build any ready windows, classify, fuse,
// and advance the decision engine. Exported so tests and replay tooling can
// pace the pipeline without the wall clock.
func (e *Engine) Tick() {
	now := e.clock.Now().UnixNano()

	eegFV := e.processWindow(ModalityEEG)
	physioFV := e.processWindow(ModalityPhysio)

	var eegPred, physioPred *Prediction
	if eegFV != nil {
		eegPred = e.predict(e.eegModel, *eegFV)
	}
	if physioFV != nil {
		physioPred = e.predict(e.physioModel, *physioFV)
	}

	combined := e.combine(eegFV, physioFV, eegPred, physioPred)

	summary := SummarizePhysio(
		e.buffer.Stream(StreamHeartRate),
		e.buffer.Stream(StreamBreathRate),
		e.physioWindowSamples,
	)

	timeout := e.cfg.GetStallTimeout()
	allStalled := e.buffer.Stalled(ModalityEEG, timeout) && e.buffer.Stalled(ModalityPhysio, timeout)

	e.mu.Lock()
	defer e.mu.Unlock()

	e.decision.SetStale(allStalled)
	if allStalled {
		return
	}

	if event, changed := e.decision.Step(combined, summary, now); changed {
		e.emit(event)
	}
}

func (e *Engine) processWindow(modality Modality) *FeatureVector {
	w, ok := e.buffer.TryBuildWindow(modality)
	if !ok {
		return nil
	}

	var fv FeatureVector
	var err error
	switch modality {
	case ModalityEEG:
		fv, err = e.pre.ProcessEEG(w)
	case ModalityPhysio:
		fv, err = e.pre.ProcessPhysio(w)
	default:
		return nil
	}
	if err != nil {
		monitoring.Logf("preprocess %s window: %v", modality, err)
		return nil
	}
	return &fv
}

func (e *Engine) predict(m Model, fv FeatureVector) *Prediction {
	if m == nil {
		return nil
	}
	pred, err := m.Predict(fv)
	if err != nil {
		monitoring.Logf("predict %s: %v", m.Modality(), err)
		return nil
	}
	return &pred
}

// combine resolves this cycle's single decision-engine input from the
// per-modality results under the configured fusion strategy. Early and
// hybrid strategies degrade to the available single modality when only one
// produced a window.
func (e *Engine) combine(eegFV, physioFV *FeatureVector, eegPred, physioPred *Prediction) *Prediction {
	switch e.strategy {
	case FusionEarly, FusionHybrid:
		if eegFV != nil && physioFV != nil && e.fusedModel != nil {
			return e.predict(e.fusedModel, ConcatFeatures(*eegFV, *physioFV))
		}
		if eegPred != nil {
			return eegPred
		}
		return physioPred
	default:
		if fused, ok := e.fuser.Fuse(eegPred, physioPred); ok {
			return &fused
		}
		return nil
	}
}

// emit appends to the history and delivers the event, dropping the oldest
// queued event if the channel is full. Callers hold e.mu.
func (e *Engine) emit(event LabelEvent) {
	e.history = append(e.history, event)
	if len(e.history) > historyLimit {
		e.history = e.history[len(e.history)-historyLimit:]
	}

	select {
	case e.events <- event:
	default:
		select {
		case <-e.events:
		default:
		}
		select {
		case e.events <- event:
		default:
		}
	}

	monitoring.Logf("label change: session=%s label=%s confidence=%.2f failsafe=%v",
		e.sessionID, event.Label, event.Confidence, event.FailSafe)
}
