package emotion

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Digital IIR filter in direct transfer-function form, a[0] normalised to 1.
type iirFilter struct {
	b []float64
	a []float64
}

// butterBandpass designs an order-n Butterworth band-pass filter for the
// given corner frequencies, matching the analog-prototype + bilinear
// transform construction used by scientific DSP packages.
func butterBandpass(order int, lowHz, highHz, fs float64) (iirFilter, error) {
	if err := checkBand(order, lowHz, highHz, fs); err != nil {
		return iirFilter{}, err
	}

	// Pre-warp corner frequencies for the bilinear transform.
	fs2 := 2.0 * fs
	wl := fs2 * math.Tan(math.Pi*lowHz/fs)
	wh := fs2 * math.Tan(math.Pi*highHz/fs)
	w0 := math.Sqrt(wl * wh)
	bw := wh - wl

	z, p, k := butterPrototype(order)
	z, p, k = lp2bp(z, p, k, w0, bw)
	z, p, k = bilinear(z, p, k, fs)
	return zpk2tf(z, p, k), nil
}

// butterBandstop designs an order-n Butterworth band-stop (notch) filter.
func butterBandstop(order int, lowHz, highHz, fs float64) (iirFilter, error) {
	if err := checkBand(order, lowHz, highHz, fs); err != nil {
		return iirFilter{}, err
	}

	fs2 := 2.0 * fs
	wl := fs2 * math.Tan(math.Pi*lowHz/fs)
	wh := fs2 * math.Tan(math.Pi*highHz/fs)
	w0 := math.Sqrt(wl * wh)
	bw := wh - wl

	z, p, k := butterPrototype(order)
	z, p, k = lp2bs(z, p, k, w0, bw)
	z, p, k = bilinear(z, p, k, fs)
	return zpk2tf(z, p, k), nil
}

func checkBand(order int, lowHz, highHz, fs float64) error {
	nyquist := fs / 2
	if order < 1 {
		return fmt.Errorf("filter order must be at least 1, got %d", order)
	}
	if lowHz <= 0 || highHz <= lowHz {
		return fmt.Errorf("invalid band %g-%g Hz", lowHz, highHz)
	}
	if highHz >= nyquist {
		return fmt.Errorf("high cut %g Hz at or above Nyquist %g Hz", highHz, nyquist)
	}
	return nil
}

// butterPrototype returns the zeros, poles and gain of the analog
// Butterworth low-pass prototype with cutoff 1 rad/s.
func butterPrototype(order int) (z, p []complex128, k float64) {
	p = make([]complex128, order)
	for i := 0; i < order; i++ {
		theta := math.Pi * float64(2*i+order+1) / float64(2*order)
		p[i] = cmplx.Exp(complex(0, theta))
	}
	return nil, p, 1.0
}

// lp2bp transforms a low-pass prototype to band-pass around w0 with
// bandwidth bw.
func lp2bp(z, p []complex128, k float64, w0, bw float64) ([]complex128, []complex128, float64) {
	degree := len(p) - len(z)

	transform := func(roots []complex128) []complex128 {
		out := make([]complex128, 0, 2*len(roots))
		for _, r := range roots {
			s := r * complex(bw/2, 0)
			d := cmplx.Sqrt(s*s - complex(w0*w0, 0))
			out = append(out, s+d, s-d)
		}
		return out
	}

	zOut := transform(z)
	for i := 0; i < degree; i++ {
		zOut = append(zOut, 0)
	}
	pOut := transform(p)
	kOut := k * math.Pow(bw, float64(degree))
	return zOut, pOut, kOut
}

// lp2bs transforms a low-pass prototype to band-stop around w0 with
// bandwidth bw.
func lp2bs(z, p []complex128, k float64, w0, bw float64) ([]complex128, []complex128, float64) {
	degree := len(p) - len(z)

	transform := func(roots []complex128) []complex128 {
		out := make([]complex128, 0, 2*len(roots))
		for _, r := range roots {
			s := complex(bw/2, 0) / r
			d := cmplx.Sqrt(s*s - complex(w0*w0, 0))
			out = append(out, s+d, s-d)
		}
		return out
	}

	// Gain correction: k * real(prod(-z)/prod(-p)) before transforming.
	num := complex(1, 0)
	for _, zi := range z {
		num *= -zi
	}
	den := complex(1, 0)
	for _, pi := range p {
		den *= -pi
	}
	kOut := k * real(num/den)

	zOut := transform(z)
	for i := 0; i < degree; i++ {
		zOut = append(zOut, complex(0, w0), complex(0, -w0))
	}
	pOut := transform(p)
	return zOut, pOut, kOut
}

// bilinear maps analog zeros/poles into the z-plane at sample rate fs.
func bilinear(z, p []complex128, k float64, fs float64) ([]complex128, []complex128, float64) {
	fs2 := complex(2.0*fs, 0)
	degree := len(p) - len(z)

	zOut := make([]complex128, 0, len(p))
	pOut := make([]complex128, len(p))
	num := complex(1, 0)
	den := complex(1, 0)

	for _, zi := range z {
		zOut = append(zOut, (fs2+zi)/(fs2-zi))
		num *= fs2 - zi
	}
	for i, pi := range p {
		pOut[i] = (fs2 + pi) / (fs2 - pi)
		den *= fs2 - pi
	}
	// Analog zeros at infinity map to z = -1.
	for i := 0; i < degree; i++ {
		zOut = append(zOut, -1)
	}

	kOut := k * real(num/den)
	return zOut, pOut, kOut
}

// zpk2tf expands zeros/poles/gain into transfer-function coefficients.
func zpk2tf(z, p []complex128, k float64) iirFilter {
	b := polyFromRoots(z)
	a := polyFromRoots(p)

	bf := make([]float64, len(b))
	for i, c := range b {
		bf[i] = real(c) * k
	}
	af := make([]float64, len(a))
	for i, c := range a {
		af[i] = real(c)
	}
	return iirFilter{b: bf, a: af}
}

// polyFromRoots multiplies out (x - r0)(x - r1)... into coefficients,
// highest order first.
func polyFromRoots(roots []complex128) []complex128 {
	coeffs := []complex128{1}
	for _, r := range roots {
		next := make([]complex128, len(coeffs)+1)
		for i, c := range coeffs {
			next[i] += c
			next[i+1] -= c * r
		}
		coeffs = next
	}
	return coeffs
}

// lfilter applies the filter in direct form II transposed.
func (f iirFilter) lfilter(x []float64) []float64 {
	n := len(f.b)
	if len(f.a) > n {
		n = len(f.a)
	}
	b := make([]float64, n)
	copy(b, f.b)
	a := make([]float64, n)
	copy(a, f.a)

	// Normalise so a[0] == 1.
	if a[0] != 1 && a[0] != 0 {
		for i := range b {
			b[i] /= a[0]
		}
		for i := n - 1; i >= 0; i-- {
			a[i] /= a[0]
		}
	}

	if n < 2 {
		y := make([]float64, len(x))
		for i, xi := range x {
			y[i] = b[0] * xi
		}
		return y
	}

	d := make([]float64, n-1)
	y := make([]float64, len(x))
	for i, xi := range x {
		yi := b[0]*xi + d[0]
		for j := 0; j < n-2; j++ {
			d[j] = b[j+1]*xi + d[j+1] - a[j+1]*yi
		}
		d[n-2] = b[n-1]*xi - a[n-1]*yi
		y[i] = yi
	}
	return y
}

// filtFilt applies the filter forward and backward for zero phase
// distortion, with odd-reflection padding at both ends to suppress edge
// transients.
func (f iirFilter) filtFilt(x []float64) []float64 {
	order := len(f.a)
	if len(f.b) > order {
		order = len(f.b)
	}
	padlen := 3 * (order - 1)
	if padlen >= len(x) {
		padlen = len(x) - 1
	}
	if padlen < 0 {
		padlen = 0
	}

	ext := make([]float64, 0, len(x)+2*padlen)
	for i := padlen; i >= 1; i-- {
		ext = append(ext, 2*x[0]-x[i])
	}
	ext = append(ext, x...)
	last := len(x) - 1
	for i := 1; i <= padlen; i++ {
		ext = append(ext, 2*x[last]-x[last-i])
	}

	y := f.lfilter(ext)
	reverse(y)
	y = f.lfilter(y)
	reverse(y)

	out := make([]float64, len(x))
	copy(out, y[padlen:padlen+len(x)])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// welchPSD estimates the one-sided power spectral density of x by Welch's
// method: Hann-windowed segments with 50% overlap, mean-detrended, averaged
// periodograms. Returns frequencies in Hz and density in power per Hz.
func welchPSD(x []float64, fs float64, nperseg int) (freqs, psd []float64) {
	if nperseg > len(x) {
		nperseg = len(x)
	}
	if nperseg < 2 {
		return nil, nil
	}

	window := make([]float64, nperseg)
	var windowPower float64
	for i := range window {
		window[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(nperseg-1)))
		windowPower += window[i] * window[i]
	}
	scale := 1.0 / (fs * windowPower)

	step := nperseg / 2
	if step < 1 {
		step = 1
	}

	fft := fourier.NewFFT(nperseg)
	nbins := nperseg/2 + 1
	psd = make([]float64, nbins)
	segments := 0

	buf := make([]float64, nperseg)
	for start := 0; start+nperseg <= len(x); start += step {
		seg := x[start : start+nperseg]

		var mean float64
		for _, v := range seg {
			mean += v
		}
		mean /= float64(nperseg)

		for i, v := range seg {
			buf[i] = (v - mean) * window[i]
		}

		coeffs := fft.Coefficients(nil, buf)
		for i := 0; i < nbins; i++ {
			p := real(coeffs[i])*real(coeffs[i]) + imag(coeffs[i])*imag(coeffs[i])
			p *= scale
			// One-sided spectrum doubles every bin except DC and Nyquist.
			if i != 0 && !(nperseg%2 == 0 && i == nbins-1) {
				p *= 2
			}
			psd[i] += p
		}
		segments++
	}
	if segments == 0 {
		return nil, nil
	}
	for i := range psd {
		psd[i] /= float64(segments)
	}

	freqs = make([]float64, nbins)
	for i := range freqs {
		freqs[i] = float64(i) * fs / float64(nperseg)
	}
	return freqs, psd
}

// bandPower returns the mean PSD within [lowHz, highHz] inclusive, or zero
// when no bin falls inside the band.
func bandPower(freqs, psd []float64, lowHz, highHz float64) float64 {
	var sum float64
	var count int
	for i, f := range freqs {
		if f >= lowHz && f <= highHz {
			sum += psd[i]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
