package emotion

import (
	"fmt"
	"math/rand"
)

// Model maps a feature vector to a probability distribution over the label
// set it was constructed for. Implementations are not safe for concurrent
// use; the engine serialises predictions on its tick loop.
type Model interface {
	Modality() Modality
	InputDim() int
	Predict(fv FeatureVector) (Prediction, error)

	// Weights and SetWeights round-trip the full parameter vector for the
	// artifact store. SetWeights rejects a vector of the wrong length.
	Weights() []float64
	SetWeights(w []float64) error
}

// Untrained models are initialised from fixed seeds so a fresh process
// produces reproducible (if meaningless) distributions until an artifact
// is loaded.
const (
	eegInitSeed    = 101
	physioInitSeed = 211
	earlyInitSeed  = 307
	hybridInitSeed = 401
)

func checkInput(fv FeatureVector, modality Modality, dim int) error {
	if fv.Modality != modality {
		return fmt.Errorf("%w: model expects %s, got %s", ErrUnknownModality, modality, fv.Modality)
	}
	if len(fv.Values) != dim {
		return fmt.Errorf("%w: expected %d values, got %d", ErrDimensionMismatch, dim, len(fv.Values))
	}
	return nil
}

func newPrediction(modality Modality, probs []float64, lowQuality bool) Prediction {
	top := 0
	for i, p := range probs {
		if p > probs[top] {
			top = i
		}
	}
	return Prediction{
		Modality:   modality,
		Probs:      probs,
		TopIndex:   top,
		Confidence: probs[top],
		LowQuality: lowQuality,
	}
}

// EEGNet classifies EEG feature vectors. The per-channel feature block is
// treated as a short sequence: spatial attention across channels, three
// convolution/pooling stages, temporal attention pooling, then a dense
// head.
type EEGNet struct {
	channels int
	perChan  int
	classes  int

	spatial             *spatialAttention
	conv1, conv2, conv3 *conv1dLayer
	temporal            *temporalAttention
	fc1, fc2            *denseLayer
}

// NewEEGNet builds an EEG classifier for the given channel count and number
// of output classes, deterministically initialised.
func NewEEGNet(channels, classes int) *EEGNet {
	rng := rand.New(rand.NewSource(eegInitSeed))
	return &EEGNet{
		channels: channels,
		perChan:  EEGFeaturesPerChannel(),
		classes:  classes,
		spatial:  newSpatialAttention(channels, rng),
		conv1:    newConv1dLayer(channels, 32, 7, rng),
		conv2:    newConv1dLayer(32, 64, 5, rng),
		conv3:    newConv1dLayer(64, 128, 3, rng),
		temporal: newTemporalAttention(128, rng),
		fc1:      newDenseLayer(128, 64, rng),
		fc2:      newDenseLayer(64, classes, rng),
	}
}

func (n *EEGNet) Modality() Modality { return ModalityEEG }

func (n *EEGNet) InputDim() int { return n.channels * n.perChan }

// embed runs the network up to the penultimate 128-dimensional
// representation, shared with HybridNet.
func (n *EEGNet) embed(values []float64) []float64 {
	x := make([][]float64, n.channels)
	for c := range x {
		x[c] = values[c*n.perChan : (c+1)*n.perChan]
	}

	x = n.spatial.forward(x)
	x = n.conv1.forward(x)
	reluMapInPlace(x)
	x = maxPool1d(x)
	x = n.conv2.forward(x)
	reluMapInPlace(x)
	x = maxPool1d(x)
	x = n.conv3.forward(x)
	reluMapInPlace(x)
	x = maxPool1d(x)

	return n.temporal.forward(x)
}

func (n *EEGNet) Predict(fv FeatureVector) (Prediction, error) {
	if err := checkInput(fv, ModalityEEG, n.InputDim()); err != nil {
		return Prediction{}, err
	}
	h := n.fc1.forward(n.embed(fv.Values))
	reluInPlace(h)
	probs := softmax(n.fc2.forward(h))
	return newPrediction(ModalityEEG, probs, fv.LowQuality), nil
}

func (n *EEGNet) paramSlices() [][]float64 {
	var params [][]float64
	params = append(params, n.spatial.params()...)
	params = append(params, n.conv1.params()...)
	params = append(params, n.conv2.params()...)
	params = append(params, n.conv3.params()...)
	params = append(params, n.temporal.params()...)
	params = append(params, n.fc1.params()...)
	params = append(params, n.fc2.params()...)
	return params
}

func (n *EEGNet) Weights() []float64 { return flattenParams(n.paramSlices()) }

func (n *EEGNet) SetWeights(w []float64) error { return loadParams(n.paramSlices(), w) }

// PhysioNet classifies the 10-dimensional physiological feature vector
// through a small dense stack.
type PhysioNet struct {
	classes       int
	fc1, fc2, fc3 *denseLayer
	head          *denseLayer
}

// NewPhysioNet builds the physiological classifier, deterministically
// initialised.
func NewPhysioNet(classes int) *PhysioNet {
	rng := rand.New(rand.NewSource(physioInitSeed))
	return &PhysioNet{
		classes: classes,
		fc1:     newDenseLayer(PhysioFeatureDim, 64, rng),
		fc2:     newDenseLayer(64, 32, rng),
		fc3:     newDenseLayer(32, 16, rng),
		head:    newDenseLayer(16, classes, rng),
	}
}

func (n *PhysioNet) Modality() Modality { return ModalityPhysio }

func (n *PhysioNet) InputDim() int { return PhysioFeatureDim }

// embed returns the penultimate 16-dimensional representation, shared with
// HybridNet.
func (n *PhysioNet) embed(values []float64) []float64 {
	h := n.fc1.forward(values)
	reluInPlace(h)
	h = n.fc2.forward(h)
	reluInPlace(h)
	h = n.fc3.forward(h)
	reluInPlace(h)
	return h
}

func (n *PhysioNet) Predict(fv FeatureVector) (Prediction, error) {
	if err := checkInput(fv, ModalityPhysio, n.InputDim()); err != nil {
		return Prediction{}, err
	}
	probs := softmax(n.head.forward(n.embed(fv.Values)))
	return newPrediction(ModalityPhysio, probs, fv.LowQuality), nil
}

func (n *PhysioNet) paramSlices() [][]float64 {
	var params [][]float64
	params = append(params, n.fc1.params()...)
	params = append(params, n.fc2.params()...)
	params = append(params, n.fc3.params()...)
	params = append(params, n.head.params()...)
	return params
}

func (n *PhysioNet) Weights() []float64 { return flattenParams(n.paramSlices()) }

func (n *PhysioNet) SetWeights(w []float64) error { return loadParams(n.paramSlices(), w) }

// EarlyFusionNet classifies the concatenation of raw EEG and physiological
// feature vectors in a single dense stack.
type EarlyFusionNet struct {
	eegDim, physioDim int
	classes           int
	fc1, fc2, head    *denseLayer
}

// NewEarlyFusionNet builds the early-fusion classifier for the given input
// dimensions, deterministically initialised.
func NewEarlyFusionNet(eegDim, physioDim, classes int) *EarlyFusionNet {
	rng := rand.New(rand.NewSource(earlyInitSeed))
	in := eegDim + physioDim
	return &EarlyFusionNet{
		eegDim:    eegDim,
		physioDim: physioDim,
		classes:   classes,
		fc1:       newDenseLayer(in, 128, rng),
		fc2:       newDenseLayer(128, 64, rng),
		head:      newDenseLayer(64, classes, rng),
	}
}

func (n *EarlyFusionNet) Modality() Modality { return ModalityFused }

func (n *EarlyFusionNet) InputDim() int { return n.eegDim + n.physioDim }

func (n *EarlyFusionNet) Predict(fv FeatureVector) (Prediction, error) {
	if err := checkInput(fv, ModalityFused, n.InputDim()); err != nil {
		return Prediction{}, err
	}
	h := n.fc1.forward(fv.Values)
	reluInPlace(h)
	h = n.fc2.forward(h)
	reluInPlace(h)
	probs := softmax(n.head.forward(h))
	return newPrediction(ModalityFused, probs, fv.LowQuality), nil
}

func (n *EarlyFusionNet) paramSlices() [][]float64 {
	var params [][]float64
	params = append(params, n.fc1.params()...)
	params = append(params, n.fc2.params()...)
	params = append(params, n.head.params()...)
	return params
}

func (n *EarlyFusionNet) Weights() []float64 { return flattenParams(n.paramSlices()) }

func (n *EarlyFusionNet) SetWeights(w []float64) error { return loadParams(n.paramSlices(), w) }

// HybridNet fuses the penultimate representations of an EEGNet and a
// PhysioNet through a shared dense head.
type HybridNet struct {
	eeg            *EEGNet
	physio         *PhysioNet
	classes        int
	fc1, fc2, head *denseLayer
}

// NewHybridNet builds a hybrid-fusion classifier over fresh branch
// networks, deterministically initialised.
func NewHybridNet(channels, classes int) *HybridNet {
	rng := rand.New(rand.NewSource(hybridInitSeed))
	return &HybridNet{
		eeg:     NewEEGNet(channels, classes),
		physio:  NewPhysioNet(classes),
		classes: classes,
		fc1:     newDenseLayer(128+16, 128, rng),
		fc2:     newDenseLayer(128, 64, rng),
		head:    newDenseLayer(64, classes, rng),
	}
}

func (n *HybridNet) Modality() Modality { return ModalityFused }

func (n *HybridNet) InputDim() int { return n.eeg.InputDim() + n.physio.InputDim() }

// Predict expects the concatenation of EEG then physio feature values, as
// produced by ConcatFeatures.
func (n *HybridNet) Predict(fv FeatureVector) (Prediction, error) {
	if err := checkInput(fv, ModalityFused, n.InputDim()); err != nil {
		return Prediction{}, err
	}

	eegEmbed := n.eeg.embed(fv.Values[:n.eeg.InputDim()])
	physioEmbed := n.physio.embed(fv.Values[n.eeg.InputDim():])

	joint := make([]float64, 0, len(eegEmbed)+len(physioEmbed))
	joint = append(joint, eegEmbed...)
	joint = append(joint, physioEmbed...)

	h := n.fc1.forward(joint)
	reluInPlace(h)
	h = n.fc2.forward(h)
	reluInPlace(h)
	probs := softmax(n.head.forward(h))
	return newPrediction(ModalityFused, probs, fv.LowQuality), nil
}

func (n *HybridNet) paramSlices() [][]float64 {
	var params [][]float64
	params = append(params, n.eeg.paramSlices()...)
	params = append(params, n.physio.paramSlices()...)
	params = append(params, n.fc1.params()...)
	params = append(params, n.fc2.params()...)
	params = append(params, n.head.params()...)
	return params
}

func (n *HybridNet) Weights() []float64 { return flattenParams(n.paramSlices()) }

func (n *HybridNet) SetWeights(w []float64) error { return loadParams(n.paramSlices(), w) }

// ConcatFeatures joins aligned EEG and physio feature vectors into the
// fused vector consumed by early and hybrid fusion models. Quality flags
// are merged: the fused vector is low quality when either input is.
func ConcatFeatures(eeg, physio FeatureVector) FeatureVector {
	values := make([]float64, 0, len(eeg.Values)+len(physio.Values))
	values = append(values, eeg.Values...)
	values = append(values, physio.Values...)

	end := eeg.WindowEndUnixNanos
	if physio.WindowEndUnixNanos > end {
		end = physio.WindowEndUnixNanos
	}

	return FeatureVector{
		Modality:           ModalityFused,
		WindowEndUnixNanos: end,
		Values:             values,
		LowQuality:         eeg.LowQuality || physio.LowQuality,
		ArtifactFraction:   eeg.ArtifactFraction,
	}
}
