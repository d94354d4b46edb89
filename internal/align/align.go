package align

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Algorithm tags surfaced in offset results so callers can tell how a value
// was produced.
const (
	AlgorithmCrossCorrelation = "CrossCorrelation"
	AlgorithmFallback         = "Fallback"
)

// Fallback constants: offset jobs must always produce a usable result, so
// any processing failure degrades to this safe default instead of failing
// the job. 10s matches the typical lead-in before contributors start singing.
const (
	FallbackOffsetSeconds = 10.0
	FallbackConfidence    = 0.5
)

// silenceRMS is the energy floor below which a track counts as silent.
const silenceRMS = 1e-6

// Signal is an equal-rate mono PCM sample sequence.
type Signal struct {
	Samples    []float64
	SampleRate int
}

// Result is the outcome of one offset detection. OffsetSeconds is the
// magnitude of the shift — sign is not surfaced because clips are assumed
// to start at or after the reference start.
type Result struct {
	OffsetSeconds float64
	Confidence    float64
	Algorithm     string
}

// FallbackResult is returned whenever correlation cannot be computed.
func FallbackResult() Result {
	return Result{
		OffsetSeconds: FallbackOffsetSeconds,
		Confidence:    FallbackConfidence,
		Algorithm:     AlgorithmFallback,
	}
}

// Detect computes the time offset of cand against ref by locating the peak
// of their full cross-correlation.
//
// The confidence score normalizes the peak by the candidate length and both
// signals' RMS energy, clamped to [0,1]. A near-silent track on either side
// forces confidence to 0 — the offset is still reported (degenerate case,
// not an error).
func Detect(ref, cand *Signal) (Result, error) {
	if ref == nil || cand == nil || len(ref.Samples) == 0 || len(cand.Samples) == 0 {
		return Result{}, fmt.Errorf("empty signal")
	}
	if ref.SampleRate != cand.SampleRate {
		return Result{}, fmt.Errorf("sample rate mismatch: %d vs %d", ref.SampleRate, cand.SampleRate)
	}

	corr := CrossCorrelate(ref.Samples, cand.Samples)

	best := 0
	for k := range corr {
		if corr[k] > corr[best] {
			best = k
		}
	}

	// Index best covers lags -(U-1)..(M-1); only the magnitude of the shift
	// is meaningful downstream.
	lag := best - (len(cand.Samples) - 1)
	offset := math.Abs(float64(lag)) / float64(ref.SampleRate)

	confidence := 0.0
	refRMS := rms(ref.Samples)
	candRMS := rms(cand.Samples)
	if refRMS > silenceRMS && candRMS > silenceRMS {
		confidence = corr[best] / (float64(len(cand.Samples)) * candRMS * refRMS)
		confidence = clamp01(confidence)
	}

	return Result{
		OffsetSeconds: offset,
		Confidence:    confidence,
		Algorithm:     AlgorithmCrossCorrelation,
	}, nil
}

// CrossCorrelate returns the full linear cross-correlation of ref and cand:
// corr[k] = sum_j ref[j]*cand[j-(k-(U-1))], for k in [0, M+U-2].
//
// Computed as a convolution of ref with the reversed candidate via real FFT
// with zero padding to the next power of two, so long tracks stay tractable
// (a direct product over a 60s x 30s pair at 16kHz would not be).
func CrossCorrelate(ref, cand []float64) []float64 {
	m := len(ref)
	u := len(cand)
	full := m + u - 1

	n := nextPow2(full)
	fft := fourier.NewFFT(n)

	a := make([]float64, n)
	copy(a, ref)

	b := make([]float64, n)
	for i, v := range cand {
		b[u-1-i] = v
	}

	fa := fft.Coefficients(nil, a)
	fb := fft.Coefficients(nil, b)
	for i := range fa {
		fa[i] *= fb[i]
	}

	// gonum's inverse transform is unnormalized.
	out := fft.Sequence(nil, fa)
	scale := 1 / float64(n)

	corr := make([]float64, full)
	for i := range corr {
		corr[i] = out[i] * scale
	}
	return corr
}

func rms(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
