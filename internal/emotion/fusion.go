package emotion

// FusionStrategy names one of the supported fusion modes. Early and hybrid
// strategies run a single fused model over concatenated features; late
// fusion combines per-modality probability distributions here.
type FusionStrategy string

const (
	FusionLate   FusionStrategy = "late"
	FusionEarly  FusionStrategy = "early"
	FusionHybrid FusionStrategy = "hybrid"
)

// Fuser combines per-modality predictions under the late-fusion strategy.
// Missing modalities degrade to pass-through; low-quality modalities are
// down-weighted rather than discarded so a noisy headband still
// contributes signal.
type Fuser struct {
	eegWeight        float64
	physioWeight     float64
	lowQualityWeight float64
}

// NewFuser creates a late fuser. lowQualityWeight multiplies a modality's
// base weight when its feature vector was tagged low quality; zero excludes
// low-quality modalities outright.
func NewFuser(eegWeight, physioWeight, lowQualityWeight float64) *Fuser {
	return &Fuser{
		eegWeight:        eegWeight,
		physioWeight:     physioWeight,
		lowQualityWeight: lowQualityWeight,
	}
}

// Fuse combines the available predictions into one fused distribution.
// Either input may be nil when its modality produced no window this cycle.
// ok is false when neither modality contributed.
func (f *Fuser) Fuse(eeg, physio *Prediction) (Prediction, bool) {
	type weighted struct {
		pred   *Prediction
		weight float64
	}

	var inputs []weighted
	if eeg != nil {
		w := f.eegWeight
		if eeg.LowQuality {
			w *= f.lowQualityWeight
		}
		if w > 0 {
			inputs = append(inputs, weighted{eeg, w})
		}
	}
	if physio != nil {
		w := f.physioWeight
		if physio.LowQuality {
			w *= f.lowQualityWeight
		}
		if w > 0 {
			inputs = append(inputs, weighted{physio, w})
		}
	}

	// Everything excluded by weight but something predicted: fall back to
	// an unweighted combine so a decision can still be made.
	if len(inputs) == 0 {
		if eeg != nil {
			inputs = append(inputs, weighted{eeg, 1})
		}
		if physio != nil {
			inputs = append(inputs, weighted{physio, 1})
		}
	}
	if len(inputs) == 0 {
		return Prediction{}, false
	}

	classes := len(inputs[0].pred.Probs)
	probs := make([]float64, classes)
	var totalWeight float64
	lowQuality := false
	for _, in := range inputs {
		if len(in.pred.Probs) != classes {
			return Prediction{}, false
		}
		for i, p := range in.pred.Probs {
			probs[i] += in.weight * p
		}
		totalWeight += in.weight
		// Any tainted contributor taints the fused output; the decision
		// engine needs the flag to route around the classifier path.
		lowQuality = lowQuality || in.pred.LowQuality
	}
	for i := range probs {
		probs[i] /= totalWeight
	}

	fused := newPrediction(ModalityFused, probs, lowQuality)
	return fused, true
}
