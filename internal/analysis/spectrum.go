// SPDX-License-Identifier: MIT
/*
Package analysis measures rendered output in the frequency domain.

A Spectrum holds a reusable gonum FFT and window. Analyze windows one frame of
samples, transforms it and keeps the magnitudes, after which the dominant
frequency and the energy per band can be read. Analyze does not allocate, so
a Spectrum can be driven frame by frame over a long capture.
*/
package analysis

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	applog "instrument/internal/log"
	"instrument/pkg/bitint"
)

// WindowFunc selects the window applied before the transform.
type WindowFunc int

const (
	BartlettHann WindowFunc = iota
	Blackman
	BlackmanNuttall
	Hann
	Hamming
	Lanczos
	Nuttall
)

var (
	ErrFFTSize    = errors.New("fft size must be a power of 2")
	ErrSampleRate = errors.New("sample rate must be positive")
)

// Spectrum is a single-goroutine FFT analyzer.
type Spectrum struct {
	fft        *fourier.FFT
	size       int
	sampleRate float64
	window     []float64
	input      []float64
	coeffs     []complex128
	magnitude  []float64
}

// NewSpectrum creates an analyzer for frames of size samples.
func NewSpectrum(size int, sampleRate float64, w WindowFunc) (*Spectrum, error) {
	if !bitint.IsPowerOfTwo(size) {
		return nil, fmt.Errorf("%w, got %d", ErrFFTSize, size)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w, got %f", ErrSampleRate, sampleRate)
	}

	coeffs := make([]float64, size)
	applyWindow(coeffs, w)

	bins := size/2 + 1
	return &Spectrum{
		fft:        fourier.NewFFT(size),
		size:       size,
		sampleRate: sampleRate,
		window:     coeffs,
		input:      make([]float64, size),
		coeffs:     make([]complex128, bins),
		magnitude:  make([]float64, bins),
	}, nil
}

// Analyze transforms one frame. Shorter input is zero padded, longer input is
// truncated to the frame size.
func (s *Spectrum) Analyze(samples []float32) {
	for i := range s.input {
		if i < len(samples) {
			s.input[i] = float64(samples[i]) * s.window[i]
		} else {
			s.input[i] = 0
		}
	}
	s.fft.Coefficients(s.coeffs, s.input)
	for i, c := range s.coeffs {
		s.magnitude[i] = cmplx.Abs(c)
	}
}

// Magnitudes returns the magnitudes of the last frame. The slice is reused by
// the next Analyze.
func (s *Spectrum) Magnitudes() []float64 {
	return s.magnitude
}

// FrequencyForBin returns the center frequency of bin i in Hz.
func (s *Spectrum) FrequencyForBin(i int) float64 {
	if i < 0 || i >= len(s.magnitude) {
		return 0
	}
	return float64(i) * s.sampleRate / float64(s.size)
}

// Size returns the frame size.
func (s *Spectrum) Size() int { return s.size }

// DominantFrequency returns the frequency of the strongest bin above DC,
// refined by parabolic interpolation over its neighbours. It returns 0 for a
// silent frame.
func (s *Spectrum) DominantFrequency() float64 {
	peak, best := 0, 0.0
	for i := 1; i < len(s.magnitude); i++ {
		if s.magnitude[i] > best {
			peak, best = i, s.magnitude[i]
		}
	}
	if peak == 0 {
		return 0
	}

	// Fit on log magnitudes; a windowed peak is close to a parabola there.
	offset := 0.0
	if peak < len(s.magnitude)-1 && s.magnitude[peak-1] > 0 && s.magnitude[peak+1] > 0 {
		a := math.Log(s.magnitude[peak-1])
		b := math.Log(best)
		c := math.Log(s.magnitude[peak+1])
		if d := a - 2*b + c; d != 0 {
			offset = 0.5 * (a - c) / d
		}
	}
	return (float64(peak) + offset) * s.sampleRate / float64(s.size)
}

// ParseWindowFunc converts a case-insensitive name to a WindowFunc. Unknown
// names return Hann and an error.
func ParseWindowFunc(name string) (WindowFunc, error) {
	switch strings.ToLower(name) {
	case "bartletthann":
		return BartlettHann, nil
	case "blackman":
		return Blackman, nil
	case "blackmannuttall":
		return BlackmanNuttall, nil
	case "hann", "hanning":
		return Hann, nil
	case "hamming":
		return Hamming, nil
	case "lanczos":
		return Lanczos, nil
	case "nuttall":
		return Nuttall, nil
	default:
		return Hann, fmt.Errorf("unknown window function: %q", name)
	}
}

func applyWindow(coeffs []float64, w WindowFunc) {
	for i := range coeffs {
		coeffs[i] = 1
	}
	switch w {
	case BartlettHann:
		window.BartlettHann(coeffs)
	case Blackman:
		window.Blackman(coeffs)
	case BlackmanNuttall:
		window.BlackmanNuttall(coeffs)
	case Hann:
		window.Hann(coeffs)
	case Hamming:
		window.Hamming(coeffs)
	case Lanczos:
		window.Lanczos(coeffs)
	case Nuttall:
		window.Nuttall(coeffs)
	default:
		applog.Warnf("Analysis: Unknown window function %d, using Hann", w)
		window.Hann(coeffs)
	}
}

// rms is used by Summarize for the level column.
func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, x := range samples {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
