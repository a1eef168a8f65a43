// Package spectral implements the window-and-FFT kernel (§4.2): it applies
// the configured analysis window and produces a real power spectrum from a
// time-domain frame, one pre-allocated FFT plan per Kernel. A session does
// not share one plan: its MFCC extractor, harmonic analyzer and cadence
// analyzer each build their own Kernel.
package spectral

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"

	"github.com/huntmaster/engine/internal/config"
)

// ErrInvalidAudio is returned when a frame contains a NaN or infinite
// sample.
var ErrInvalidAudio = fmt.Errorf("spectral: sample is NaN or infinite")

// Kernel windows a frame and computes its power spectrum using a single
// pre-allocated real FFT plan.
type Kernel struct {
	fft       *fourier.FFT
	window    []float64 // window coefficients, length frameSize
	frameSize int

	// scratch buffers reused across calls to avoid per-frame allocation
	windowed []float64
}

// New builds a kernel for frames of length frameSize using the given
// window type. Hamming is the spec default.
func New(frameSize int, wt config.WindowType) (*Kernel, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("spectral: frameSize must be positive, got %d", frameSize)
	}

	coeffs := make([]float64, frameSize)
	for i := range coeffs {
		coeffs[i] = 1
	}
	switch wt {
	case config.WindowHann:
		window.Hann(coeffs)
	case config.WindowHamming, "":
		window.Hamming(coeffs)
	default:
		return nil, fmt.Errorf("spectral: unknown window type %q", wt)
	}

	return &Kernel{
		fft:       fourier.NewFFT(frameSize),
		window:    coeffs,
		frameSize: frameSize,
		windowed:  make([]float64, frameSize),
	}, nil
}

// PowerSpectrum windows frame and returns |X[k]|^2 for k in
// [0, frameSize/2], i.e. length frameSize/2+1. DC and Nyquist bins are
// real. A constant (zero-variance) frame yields an all-zero spectrum
// without error, matching the engine's silence-frame contract.
func (k *Kernel) PowerSpectrum(frame []float32) ([]float64, error) {
	if len(frame) != k.frameSize {
		return nil, fmt.Errorf("spectral: frame length %d != kernel frameSize %d", len(frame), k.frameSize)
	}

	var mean float64
	for _, s := range frame {
		f := float64(s)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, ErrInvalidAudio
		}
		mean += f
	}
	mean /= float64(len(frame))

	var variance float64
	for _, s := range frame {
		d := float64(s) - mean
		variance += d * d
	}
	if variance < 1e-20 {
		return make([]float64, k.frameSize/2+1), nil
	}

	for i, s := range frame {
		k.windowed[i] = float64(s) * k.window[i]
	}

	coeffs := k.fft.Coefficients(nil, k.windowed)
	spectrum := make([]float64, k.frameSize/2+1)
	for i, c := range coeffs {
		re, im := real(c), imag(c)
		spectrum[i] = re*re + im*im
	}
	return spectrum, nil
}

// FrameSize returns the configured analysis frame length.
func (k *Kernel) FrameSize() int {
	return k.frameSize
}
