// Package mfcc implements the MFCC extractor (§4.3): mel filterbank, log
// compression, and an orthonormal DCT-II, plus a per-frame log-energy
// scalar. The session's level component is computed from a trailing RMS
// window and does not read this scalar.
package mfcc

import (
	"fmt"
	"math"

	"github.com/huntmaster/engine/internal/config"
	"github.com/huntmaster/engine/internal/spectral"
)

// epsilon floors mel-band energy before the log compression (§4.3).
const epsilon = 1e-10

// Vector is a single frame's MFCC coefficients plus its scalar log-energy.
type Vector struct {
	Coeffs    []float64
	LogEnergy float64
}

// Extractor computes MFCC vectors from raw PCM frames via its own
// spectral.Kernel.
type Extractor struct {
	kernel     *spectral.Kernel
	melFilters [][]float64 // [melFilters][frameSize/2+1]
	numCoeffs  int
	numFilters int
}

// New builds an extractor for the given engine configuration.
func New(cfg config.EngineConfig) (*Extractor, error) {
	if cfg.MfccCoeffs > cfg.MelFilters {
		return nil, fmt.Errorf("mfcc: mfccCoeffs (%d) must be <= melFilters (%d)", cfg.MfccCoeffs, cfg.MelFilters)
	}

	kernel, err := spectral.New(cfg.FrameSize, cfg.WindowType)
	if err != nil {
		return nil, fmt.Errorf("mfcc: %w", err)
	}

	filters := buildMelFilterbank(cfg.MelFilters, cfg.FrameSize, cfg.SampleRateHz, cfg.LowHz, cfg.HighHz)

	return &Extractor{
		kernel:     kernel,
		melFilters: filters,
		numCoeffs:  cfg.MfccCoeffs,
		numFilters: cfg.MelFilters,
	}, nil
}

// Extract computes the MFCC vector and log-energy for one frame.
func (e *Extractor) Extract(frame []float32) (Vector, error) {
	spectrum, err := e.kernel.PowerSpectrum(frame)
	if err != nil {
		return Vector{}, err
	}

	melEnergies := make([]float64, e.numFilters)
	var totalEnergy float64
	for i := 0; i < e.numFilters; i++ {
		filter := e.melFilters[i]
		var energy float64
		for j := 0; j < len(spectrum) && j < len(filter); j++ {
			energy += spectrum[j] * filter[j]
		}
		totalEnergy += energy
		melEnergies[i] = math.Log(epsilon + energy)
	}

	var frameEnergy float64
	for _, s := range frame {
		fs := float64(s)
		frameEnergy += fs * fs
	}

	return Vector{
		Coeffs:    dctII(melEnergies, e.numCoeffs),
		LogEnergy: math.Log(epsilon + frameEnergy),
	}, nil
}

// FrameSize returns the configured analysis frame length.
func (e *Extractor) FrameSize() int {
	return e.kernel.FrameSize()
}

// dctII applies an orthonormally-scaled DCT-II, keeping the first
// numCoeffs output coefficients. The zeroth coefficient is scaled by an
// extra 1/sqrt(2), per the standard orthonormal convention.
func dctII(in []float64, numCoeffs int) []float64 {
	n := len(in)
	out := make([]float64, numCoeffs)
	scale := math.Sqrt(2.0 / float64(n))

	for k := 0; k < numCoeffs; k++ {
		var sum float64
		for j := 0; j < n; j++ {
			sum += in[j] * math.Cos(math.Pi/float64(n)*(float64(j)+0.5)*float64(k))
		}
		out[k] = scale * sum
		if k == 0 {
			out[k] *= 1.0 / math.Sqrt2
		}
	}
	return out
}

// buildMelFilterbank creates numFilters triangular filters spaced evenly
// on the mel scale between lowHz and highHz, each of length
// frameSize/2+1, matching the FFT kernel's power-spectrum output.
func buildMelFilterbank(numFilters, frameSize int, sampleRateHz, lowHz, highHz float64) [][]float64 {
	hzToMel := func(hz float64) float64 { return 2595 * math.Log10(1+hz/700) }
	melToHz := func(mel float64) float64 { return 700 * (math.Pow(10, mel/2595) - 1) }

	lowMel := hzToMel(lowHz)
	highMel := hzToMel(highHz)

	melPoints := make([]float64, numFilters+2)
	for i := range melPoints {
		melPoints[i] = lowMel + float64(i)*(highMel-lowMel)/float64(numFilters+1)
	}

	specSize := frameSize/2 + 1
	binPoints := make([]int, numFilters+2)
	for i, mel := range melPoints {
		hz := melToHz(mel)
		bin := int(math.Floor(hz * float64(frameSize) / sampleRateHz))
		if bin > specSize-1 {
			bin = specSize - 1
		}
		binPoints[i] = bin
	}

	filters := make([][]float64, numFilters)
	for i := 0; i < numFilters; i++ {
		filters[i] = make([]float64, specSize)

		for j := binPoints[i]; j < binPoints[i+1] && j < specSize; j++ {
			if binPoints[i+1] != binPoints[i] {
				filters[i][j] = float64(j-binPoints[i]) / float64(binPoints[i+1]-binPoints[i])
			}
		}
		for j := binPoints[i+1]; j < binPoints[i+2] && j < specSize; j++ {
			if binPoints[i+2] != binPoints[i+1] {
				filters[i][j] = float64(binPoints[i+2]-j) / float64(binPoints[i+2]-binPoints[i+1])
			}
		}
	}

	return filters
}
