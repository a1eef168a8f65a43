// Package harmonic implements the per-frame spectral/harmonic analyzer
// (§4.9): centroid, bandwidth, rolloff, zero-crossing rate, and a
// harmonic-to-noise ratio from peak-picking at integer multiples of a
// spectrally-estimated fundamental, plus bounded qualitative
// brightness/roughness/resonance derivations.
package harmonic

import (
	"math"

	"github.com/huntmaster/engine/internal/config"
	"github.com/huntmaster/engine/internal/spectral"
)

// FrameResult is one frame's harmonic/spectral descriptor set.
type FrameResult struct {
	Centroid   float64
	Bandwidth  float64
	Rolloff    float64
	Zcr        float64
	Hnr        float64 // ratio, not dB; 0 when no harmonic peak is found
	Brightness float64 // [0,1], monotone in Centroid
	Roughness  float64 // [0,1], monotone in spectral flux
	Resonance  float64 // [0,1], monotone in Hnr
}

// Stats aggregates FrameResult over a session at finalization.
type Stats struct {
	MeanCentroid   float64
	MeanBandwidth  float64
	MeanRolloff    float64
	MeanZcr        float64
	MeanHnr        float64
	MeanBrightness float64
	MeanRoughness  float64
	MeanResonance  float64
	FrameCount     int
}

const rolloffFraction = 0.85

// Analyzer computes harmonic/spectral descriptors from raw PCM frames,
// maintaining its own FFT kernel (the FrameObserver contract hands it
// only a raw frame, not a precomputed spectrum).
type Analyzer struct {
	sampleRateHz float64
	kernel       *spectral.Kernel
	maxF0Hz      float64

	prevSpectrum []float64
	sum          Stats
}

// New builds an analyzer for the given engine configuration.
func New(cfg config.EngineConfig) (*Analyzer, error) {
	kernel, err := spectral.New(cfg.FrameSize, cfg.WindowType)
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		sampleRateHz: cfg.SampleRateHz,
		kernel:       kernel,
		maxF0Hz:      math.Min(2000, cfg.HighHz),
	}, nil
}

// Process computes descriptors for one frame. frame must be
// kernel.FrameSize() long.
func (a *Analyzer) Process(frame []float64) (FrameResult, error) {
	f32 := make([]float32, len(frame))
	for i, v := range frame {
		f32[i] = float32(v)
	}

	spectrum, err := a.kernel.PowerSpectrum(f32)
	if err != nil {
		return FrameResult{}, err
	}

	freqPerBin := a.sampleRateHz / float64(a.kernel.FrameSize())

	centroid := spectralCentroid(spectrum, freqPerBin)
	bandwidth := spectralBandwidth(spectrum, freqPerBin, centroid)
	rolloff := spectralRolloff(spectrum, freqPerBin, rolloffFraction)
	zcr := zeroCrossingRate(frame)
	flux := spectralFlux(spectrum, a.prevSpectrum)

	f0 := estimateF0(spectrum, freqPerBin, a.maxF0Hz)
	hnr := harmonicToNoiseRatio(spectrum, freqPerBin, f0)

	result := FrameResult{
		Centroid:   centroid,
		Bandwidth:  bandwidth,
		Rolloff:    rolloff,
		Zcr:        zcr,
		Hnr:        hnr,
		Brightness: clamp01(centroid / (a.sampleRateHz / 2)),
		Roughness:  clamp01(flux / (flux + 1)),
		Resonance:  clamp01(hnr / (hnr + 1)),
	}

	a.prevSpectrum = spectrum
	a.accumulate(result)
	return result, nil
}

// FeedFrame satisfies internal/session.FrameObserver.
func (a *Analyzer) FeedFrame(frame []float64, sampleRate float64) {
	a.Process(frame)
}

// Finalize satisfies internal/session.FrameObserver, returning Stats.
func (a *Analyzer) Finalize() any {
	return a.meanStats()
}

// Reset satisfies internal/session.FrameObserver.
func (a *Analyzer) Reset() {
	a.prevSpectrum = nil
	a.sum = Stats{}
}

func (a *Analyzer) accumulate(r FrameResult) {
	a.sum.MeanCentroid += r.Centroid
	a.sum.MeanBandwidth += r.Bandwidth
	a.sum.MeanRolloff += r.Rolloff
	a.sum.MeanZcr += r.Zcr
	a.sum.MeanHnr += r.Hnr
	a.sum.MeanBrightness += r.Brightness
	a.sum.MeanRoughness += r.Roughness
	a.sum.MeanResonance += r.Resonance
	a.sum.FrameCount++
}

func (a *Analyzer) meanStats() Stats {
	n := a.sum.FrameCount
	if n == 0 {
		return Stats{}
	}
	f := float64(n)
	return Stats{
		MeanCentroid:   a.sum.MeanCentroid / f,
		MeanBandwidth:  a.sum.MeanBandwidth / f,
		MeanRolloff:    a.sum.MeanRolloff / f,
		MeanZcr:        a.sum.MeanZcr / f,
		MeanHnr:        a.sum.MeanHnr / f,
		MeanBrightness: a.sum.MeanBrightness / f,
		MeanRoughness:  a.sum.MeanRoughness / f,
		MeanResonance:  a.sum.MeanResonance / f,
		FrameCount:     n,
	}
}

func spectralCentroid(spectrum []float64, freqPerBin float64) float64 {
	var weightedSum, sum float64
	for i, mag := range spectrum {
		freq := float64(i) * freqPerBin
		weightedSum += freq * mag
		sum += mag
	}
	if sum == 0 {
		return 0
	}
	return weightedSum / sum
}

func spectralBandwidth(spectrum []float64, freqPerBin, centroid float64) float64 {
	var weightedSum, sum float64
	for i, mag := range spectrum {
		freq := float64(i) * freqPerBin
		d := freq - centroid
		weightedSum += d * d * mag
		sum += mag
	}
	if sum == 0 {
		return 0
	}
	return math.Sqrt(weightedSum / sum)
}

func spectralRolloff(spectrum []float64, freqPerBin, fraction float64) float64 {
	var total float64
	for _, mag := range spectrum {
		total += mag
	}
	threshold := total * fraction

	var cum float64
	for i, mag := range spectrum {
		cum += mag
		if cum >= threshold {
			return float64(i) * freqPerBin
		}
	}
	return float64(len(spectrum)) * freqPerBin
}

func zeroCrossingRate(frame []float64) float64 {
	var crossings int
	for i := 1; i < len(frame); i++ {
		if (frame[i] >= 0) != (frame[i-1] >= 0) {
			crossings++
		}
	}
	return float64(crossings) / float64(len(frame))
}

func spectralFlux(spectrum, prev []float64) float64 {
	if prev == nil {
		return 0
	}
	var flux float64
	for i := 0; i < len(spectrum) && i < len(prev); i++ {
		d := spectrum[i] - prev[i]
		if d > 0 {
			flux += d * d
		}
	}
	return math.Sqrt(flux)
}

// estimateF0 picks the strongest spectral peak below maxF0Hz as a cheap
// fundamental estimate for harmonic peak-picking; this is deliberately
// simpler than the YIN tracker (internal/pitch) since it only needs to
// locate harmonics within this frame's own spectrum.
func estimateF0(spectrum []float64, freqPerBin, maxF0Hz float64) float64 {
	maxBin := int(maxF0Hz / freqPerBin)
	if maxBin >= len(spectrum) {
		maxBin = len(spectrum) - 1
	}

	bestBin := 0
	bestMag := 0.0
	for i := 1; i <= maxBin; i++ {
		if spectrum[i] > bestMag {
			bestMag = spectrum[i]
			bestBin = i
		}
	}
	if bestBin == 0 || bestMag == 0 {
		return 0
	}
	return float64(bestBin) * freqPerBin
}

// harmonicToNoiseRatio sums power at integer multiples of f0 against
// the remaining spectral power.
func harmonicToNoiseRatio(spectrum []float64, freqPerBin, f0 float64) float64 {
	if f0 <= 0 {
		return 0
	}

	var harmonicPower, totalPower float64
	for i, mag := range spectrum {
		totalPower += mag
		freq := float64(i) * freqPerBin
		ratio := freq / f0
		nearest := math.Round(ratio)
		if nearest >= 1 && math.Abs(ratio-nearest) < 0.05 {
			harmonicPower += mag
		}
	}

	noisePower := totalPower - harmonicPower
	if noisePower <= 0 {
		return harmonicPower // effectively all-harmonic; avoid divide-by-zero
	}
	return harmonicPower / noisePower
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
