package emotion

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Network building blocks. All layers expose their parameters as slices
// into live storage so a network can flatten them for the artifact store
// and load them back in place.

type denseLayer struct {
	in, out int
	w       *mat.Dense // out x in
	b       *mat.VecDense
}

func newDenseLayer(in, out int, rng *rand.Rand) *denseLayer {
	scale := math.Sqrt(2.0 / float64(in))
	data := make([]float64, in*out)
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
	return &denseLayer{
		in:  in,
		out: out,
		w:   mat.NewDense(out, in, data),
		b:   mat.NewVecDense(out, nil),
	}
}

func (l *denseLayer) forward(x []float64) []float64 {
	var y mat.VecDense
	y.MulVec(l.w, mat.NewVecDense(l.in, x))
	y.AddVec(&y, l.b)
	out := make([]float64, l.out)
	for i := range out {
		out[i] = y.AtVec(i)
	}
	return out
}

func (l *denseLayer) params() [][]float64 {
	return [][]float64{l.w.RawMatrix().Data, l.b.RawVector().Data}
}

// conv1dLayer is a 1-D convolution with same padding over the time axis.
// Input and output are [channel][time].
type conv1dLayer struct {
	inCh, outCh, kernel int
	w                   *mat.Dense // outCh x inCh*kernel
	b                   []float64
}

func newConv1dLayer(inCh, outCh, kernel int, rng *rand.Rand) *conv1dLayer {
	fanIn := inCh * kernel
	scale := math.Sqrt(2.0 / float64(fanIn))
	data := make([]float64, outCh*fanIn)
	for i := range data {
		data[i] = rng.NormFloat64() * scale
	}
	return &conv1dLayer{
		inCh:   inCh,
		outCh:  outCh,
		kernel: kernel,
		w:      mat.NewDense(outCh, fanIn, data),
		b:      make([]float64, outCh),
	}
}

func (l *conv1dLayer) forward(x [][]float64) [][]float64 {
	steps := len(x[0])
	pad := l.kernel / 2

	out := make([][]float64, l.outCh)
	for o := range out {
		out[o] = make([]float64, steps)
	}

	patch := make([]float64, l.inCh*l.kernel)
	for t := 0; t < steps; t++ {
		for c := 0; c < l.inCh; c++ {
			for k := 0; k < l.kernel; k++ {
				idx := t - pad + k
				if idx < 0 || idx >= steps {
					patch[c*l.kernel+k] = 0
				} else {
					patch[c*l.kernel+k] = x[c][idx]
				}
			}
		}
		var y mat.VecDense
		y.MulVec(l.w, mat.NewVecDense(len(patch), patch))
		for o := 0; o < l.outCh; o++ {
			out[o][t] = y.AtVec(o) + l.b[o]
		}
	}
	return out
}

func (l *conv1dLayer) params() [][]float64 {
	return [][]float64{l.w.RawMatrix().Data, l.b}
}

// spatialAttention reweights channels by a learned softmax over per-channel
// means, preserving overall magnitude.
type spatialAttention struct {
	channels int
	fc1, fc2 *denseLayer
}

func newSpatialAttention(channels int, rng *rand.Rand) *spatialAttention {
	hidden := channels / 2
	if hidden < 1 {
		hidden = 1
	}
	return &spatialAttention{
		channels: channels,
		fc1:      newDenseLayer(channels, hidden, rng),
		fc2:      newDenseLayer(hidden, channels, rng),
	}
}

func (a *spatialAttention) forward(x [][]float64) [][]float64 {
	means := make([]float64, a.channels)
	for c, row := range x {
		var sum float64
		for _, v := range row {
			sum += v
		}
		means[c] = sum / float64(len(row))
	}

	h := a.fc1.forward(means)
	reluInPlace(h)
	weights := softmax(a.fc2.forward(h))

	out := make([][]float64, len(x))
	for c, row := range x {
		scaled := make([]float64, len(row))
		gain := weights[c] * float64(a.channels)
		for t, v := range row {
			scaled[t] = v * gain
		}
		out[c] = scaled
	}
	return out
}

func (a *spatialAttention) params() [][]float64 {
	return append(a.fc1.params(), a.fc2.params()...)
}

// temporalAttention pools a [feature][time] map into a single feature
// vector using learned softmax weights over time steps.
type temporalAttention struct {
	features int
	fc1, fc2 *denseLayer
}

func newTemporalAttention(features int, rng *rand.Rand) *temporalAttention {
	hidden := features / 2
	if hidden < 1 {
		hidden = 1
	}
	return &temporalAttention{
		features: features,
		fc1:      newDenseLayer(features, hidden, rng),
		fc2:      newDenseLayer(hidden, 1, rng),
	}
}

func (a *temporalAttention) forward(x [][]float64) []float64 {
	steps := len(x[0])

	scores := make([]float64, steps)
	frame := make([]float64, a.features)
	for t := 0; t < steps; t++ {
		for f := 0; f < a.features; f++ {
			frame[f] = x[f][t]
		}
		h := a.fc1.forward(frame)
		tanhInPlace(h)
		scores[t] = a.fc2.forward(h)[0]
	}
	alpha := softmax(scores)

	pooled := make([]float64, a.features)
	for f := 0; f < a.features; f++ {
		var sum float64
		for t := 0; t < steps; t++ {
			sum += alpha[t] * x[f][t]
		}
		pooled[f] = sum
	}
	return pooled
}

func (a *temporalAttention) params() [][]float64 {
	return append(a.fc1.params(), a.fc2.params()...)
}

// maxPool1d halves the time axis, keeping the larger of each adjacent pair.
// An odd trailing step is kept as-is.
func maxPool1d(x [][]float64) [][]float64 {
	steps := len(x[0])
	outSteps := (steps + 1) / 2
	out := make([][]float64, len(x))
	for c, row := range x {
		pooled := make([]float64, outSteps)
		for t := 0; t < outSteps; t++ {
			v := row[2*t]
			if 2*t+1 < steps && row[2*t+1] > v {
				v = row[2*t+1]
			}
			pooled[t] = v
		}
		out[c] = pooled
	}
	return out
}

func reluInPlace(x []float64) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

func reluMapInPlace(x [][]float64) {
	for _, row := range x {
		reluInPlace(row)
	}
}

func tanhInPlace(x []float64) {
	for i, v := range x {
		x[i] = math.Tanh(v)
	}
}

// softmax returns a numerically stable probability distribution.
func softmax(x []float64) []float64 {
	max := x[0]
	for _, v := range x[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(x))
	var sum float64
	for i, v := range x {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// flattenParams copies a list of parameter slices into one vector.
func flattenParams(params [][]float64) []float64 {
	var total int
	for _, p := range params {
		total += len(p)
	}
	flat := make([]float64, 0, total)
	for _, p := range params {
		flat = append(flat, p...)
	}
	return flat
}

// loadParams copies a flat vector back into the parameter slices. The
// vector length must match exactly.
func loadParams(params [][]float64, flat []float64) error {
	var total int
	for _, p := range params {
		total += len(p)
	}
	if len(flat) != total {
		return ErrDimensionMismatch
	}
	offset := 0
	for _, p := range params {
		copy(p, flat[offset:offset+len(p)])
		offset += len(p)
	}
	return nil
}
