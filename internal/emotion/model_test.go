package emotion

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomFeatures(modality Modality, dim int) FeatureVector {
	values := make([]float64, dim)
	for i := range values {
		values[i] = math.Sin(float64(i) * 0.7)
	}
	return FeatureVector{Modality: modality, Values: values}
}

func assertDistribution(t *testing.T, p Prediction, classes int) {
	t.Helper()
	if len(p.Probs) != classes {
		t.Fatalf("distribution size = %d, want %d", len(p.Probs), classes)
	}
	var sum float64
	for i, prob := range p.Probs {
		if prob < 0 || prob > 1 || math.IsNaN(prob) {
			t.Fatalf("probs[%d] = %g, want in [0, 1]", i, prob)
		}
		sum += prob
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("distribution sums to %g, want 1", sum)
	}
	if p.Confidence != p.Probs[p.TopIndex] {
		t.Errorf("confidence %g != probs[top] %g", p.Confidence, p.Probs[p.TopIndex])
	}
}

func TestEEGNetPredict(t *testing.T) {
	net := NewEEGNet(4, 6)

	pred, err := net.Predict(randomFeatures(ModalityEEG, net.InputDim()))
	require.NoError(t, err)
	assertDistribution(t, pred, 6)
	if pred.Modality != ModalityEEG {
		t.Errorf("modality = %s, want eeg", pred.Modality)
	}

	// Fresh nets share the seed, so predictions are reproducible.
	again, err := NewEEGNet(4, 6).Predict(randomFeatures(ModalityEEG, net.InputDim()))
	require.NoError(t, err)
	require.Equal(t, pred.Probs, again.Probs)
}

func TestEEGNetRejectsBadInput(t *testing.T) {
	net := NewEEGNet(4, 3)

	_, err := net.Predict(randomFeatures(ModalityEEG, 10))
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("short input error = %v, want ErrDimensionMismatch", err)
	}

	_, err = net.Predict(randomFeatures(ModalityPhysio, net.InputDim()))
	if !errors.Is(err, ErrUnknownModality) {
		t.Errorf("wrong modality error = %v, want ErrUnknownModality", err)
	}
}

func TestPhysioNetPredict(t *testing.T) {
	net := NewPhysioNet(3)
	pred, err := net.Predict(randomFeatures(ModalityPhysio, PhysioFeatureDim))
	require.NoError(t, err)
	assertDistribution(t, pred, 3)
}

func TestEarlyFusionNetPredict(t *testing.T) {
	net := NewEarlyFusionNet(EEGFeatureDim(4), PhysioFeatureDim, 6)
	pred, err := net.Predict(randomFeatures(ModalityFused, net.InputDim()))
	require.NoError(t, err)
	assertDistribution(t, pred, 6)
}

func TestHybridNetPredict(t *testing.T) {
	net := NewHybridNet(4, 6)
	pred, err := net.Predict(randomFeatures(ModalityFused, net.InputDim()))
	require.NoError(t, err)
	assertDistribution(t, pred, 6)
}

func TestWeightsRoundTrip(t *testing.T) {
	for _, m := range []Model{
		NewEEGNet(4, 3),
		NewPhysioNet(3),
		NewEarlyFusionNet(EEGFeatureDim(4), PhysioFeatureDim, 3),
		NewHybridNet(4, 3),
	} {
		weights := m.Weights()
		input := randomFeatures(m.Modality(), m.InputDim())
		before, err := m.Predict(input)
		require.NoError(t, err)

		// Scramble, then restore.
		scrambled := make([]float64, len(weights))
		for i := range scrambled {
			scrambled[i] = 0.1
		}
		require.NoError(t, m.SetWeights(scrambled))
		require.NoError(t, m.SetWeights(weights))

		after, err := m.Predict(input)
		require.NoError(t, err)
		require.Equal(t, before.Probs, after.Probs, "%T weights did not round-trip", m)

		// Wrong length is refused.
		require.Error(t, m.SetWeights(weights[:len(weights)-1]))
	}
}

func TestPredictionLowQualityCarriedOver(t *testing.T) {
	net := NewPhysioNet(3)
	fv := randomFeatures(ModalityPhysio, PhysioFeatureDim)
	fv.LowQuality = true
	pred, err := net.Predict(fv)
	require.NoError(t, err)
	if !pred.LowQuality {
		t.Error("low-quality flag dropped by prediction")
	}
}

func TestConcatFeatures(t *testing.T) {
	eeg := FeatureVector{Modality: ModalityEEG, Values: []float64{1, 2}, WindowEndUnixNanos: 5, LowQuality: true}
	physio := FeatureVector{Modality: ModalityPhysio, Values: []float64{3}, WindowEndUnixNanos: 9}

	fused := ConcatFeatures(eeg, physio)
	require.Equal(t, []float64{1, 2, 3}, fused.Values)
	if fused.Modality != ModalityFused {
		t.Errorf("modality = %s, want fused", fused.Modality)
	}
	if fused.WindowEndUnixNanos != 9 {
		t.Errorf("window end = %d, want 9", fused.WindowEndUnixNanos)
	}
	if !fused.LowQuality {
		t.Error("low-quality flag not merged")
	}
}
