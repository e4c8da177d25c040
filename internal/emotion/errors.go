package emotion

import "errors"

// Sentinel errors. Data absence is deliberately not an error: window
// construction reports "not ready" through a boolean instead.
var (
	// ErrDimensionMismatch indicates a feature vector whose length does
	// not match the model's fixed input shape. Fatal for that modality's
	// prediction this cycle; the pipeline degrades rather than crashes.
	ErrDimensionMismatch = errors.New("feature vector dimension mismatch")

	// ErrUnknownModality indicates data tagged with a modality the
	// receiving component is not configured for.
	ErrUnknownModality = errors.New("unknown modality")

	// ErrNoModel indicates the artifact store holds no weights for the
	// requested modality and label-set variant.
	ErrNoModel = errors.New("no model artifact")
)
