// Package cadence implements the onset/tempo analyzer (§4.10): spectral
// flux onset detection against a causal adaptive threshold, tempo via
// autocorrelation of the onset envelope, and a rhythm-complexity score
// from the entropy of inter-onset intervals.
package cadence

import (
	"math"

	"github.com/huntmaster/engine/internal/config"
	"github.com/huntmaster/engine/internal/spectral"
)

const (
	thresholdWindowFrames = 20
	thresholdMargin       = 1.5
	minTempoBpm           = 40
	maxTempoBpm           = 240
	entropyHistogramBins  = 10
)

// Stats summarizes a session's onset/tempo history at finalization.
type Stats struct {
	TempoBpm         float64
	BeatTimesS       []float64
	BeatStrengths    []float64
	RhythmComplexity float64 // [0,1]
}

// Analyzer tracks spectral flux across frames to detect onsets and
// derive tempo/rhythm statistics.
type Analyzer struct {
	sampleRateHz float64
	hopSize      int
	kernel       *spectral.Kernel

	prevSpectrum []float64
	fluxHistory  []float64
	frameIndex   int

	beatTimesS    []float64
	beatStrengths []float64
}

// New builds an analyzer for the given engine configuration.
func New(cfg config.EngineConfig) (*Analyzer, error) {
	kernel, err := spectral.New(cfg.FrameSize, cfg.WindowType)
	if err != nil {
		return nil, err
	}
	return &Analyzer{
		sampleRateHz: cfg.SampleRateHz,
		hopSize:      cfg.HopSize,
		kernel:       kernel,
	}, nil
}

// FeedFrame satisfies internal/session.FrameObserver.
func (a *Analyzer) FeedFrame(frame []float64, sampleRate float64) {
	f32 := make([]float32, len(frame))
	for i, v := range frame {
		f32[i] = float32(v)
	}

	spectrum, err := a.kernel.PowerSpectrum(f32)
	if err != nil {
		return
	}

	flux := spectralFlux(spectrum, a.prevSpectrum)
	a.fluxHistory = append(a.fluxHistory, flux)

	if a.isOnset(flux) {
		timeS := float64(a.frameIndex*a.hopSize) / a.sampleRateHz
		a.beatTimesS = append(a.beatTimesS, timeS)
		a.beatStrengths = append(a.beatStrengths, flux)
	}

	a.prevSpectrum = spectrum
	a.frameIndex++
}

// Finalize satisfies internal/session.FrameObserver, returning Stats.
func (a *Analyzer) Finalize() any {
	return Stats{
		TempoBpm:         a.estimateTempo(),
		BeatTimesS:       append([]float64(nil), a.beatTimesS...),
		BeatStrengths:    append([]float64(nil), a.beatStrengths...),
		RhythmComplexity: rhythmComplexity(a.beatTimesS),
	}
}

// Reset satisfies internal/session.FrameObserver.
func (a *Analyzer) Reset() {
	a.prevSpectrum = nil
	a.fluxHistory = nil
	a.frameIndex = 0
	a.beatTimesS = nil
	a.beatStrengths = nil
}

// isOnset applies a causal adaptive threshold: the median of the
// trailing window plus a fixed margin, with the current flux also
// required to be a local peak versus the immediately preceding value.
func (a *Analyzer) isOnset(flux float64) bool {
	n := len(a.fluxHistory)
	if n < 2 {
		return false
	}

	start := n - 1 - thresholdWindowFrames
	if start < 0 {
		start = 0
	}
	window := a.fluxHistory[start : n-1]
	if len(window) == 0 {
		return false
	}

	threshold := median(window) + thresholdMargin
	return flux > threshold && flux > a.fluxHistory[n-2]
}

func (a *Analyzer) estimateTempo() float64 {
	if len(a.fluxHistory) < 10 {
		return 0
	}

	hopDurationS := float64(a.hopSize) / a.sampleRateHz
	minLag := int(60.0 / maxTempoBpm / hopDurationS)
	maxLag := int(60.0 / minTempoBpm / hopDurationS)
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= len(a.fluxHistory) {
		maxLag = len(a.fluxHistory) - 1
	}
	if minLag >= maxLag {
		return 0
	}

	bestLag := minLag
	bestCorr := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		var corr float64
		for i := 0; i < len(a.fluxHistory)-lag; i++ {
			corr += a.fluxHistory[i] * a.fluxHistory[i+lag]
		}
		if corr > bestCorr {
			bestCorr = corr
			bestLag = lag
		}
	}
	if bestCorr == 0 {
		return 0
	}
	return 60.0 / (float64(bestLag) * hopDurationS)
}

// rhythmComplexity is the Shannon entropy of the inter-onset-interval
// distribution, normalized to [0,1] by the maximum possible entropy for
// the chosen histogram resolution.
func rhythmComplexity(beatTimesS []float64) float64 {
	if len(beatTimesS) < 3 {
		return 0
	}

	intervals := make([]float64, 0, len(beatTimesS)-1)
	for i := 1; i < len(beatTimesS); i++ {
		intervals = append(intervals, beatTimesS[i]-beatTimesS[i-1])
	}

	lo, hi := intervals[0], intervals[0]
	for _, v := range intervals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	if hi == lo {
		return 0
	}

	bins := make([]int, entropyHistogramBins)
	for _, v := range intervals {
		idx := int((v - lo) / (hi - lo) * float64(entropyHistogramBins))
		if idx >= entropyHistogramBins {
			idx = entropyHistogramBins - 1
		}
		bins[idx]++
	}

	var entropy float64
	total := float64(len(intervals))
	for _, count := range bins {
		if count == 0 {
			continue
		}
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}

	maxEntropy := math.Log2(float64(entropyHistogramBins))
	if maxEntropy == 0 {
		return 0
	}
	return clamp01(entropy / maxEntropy)
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

func median(xs []float64) float64 {
	sorted := append([]float64(nil), xs...)
	insertionSort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func stddev(xs []float64) float64 {
	var sum float64
	for _, v := range xs {
		sum += v
	}
	mean := sum / float64(len(xs))

	var variance float64
	for _, v := range xs {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(xs)))
}

func insertionSort(xs []float64) {
	for i := 1; i < len(xs); i++ {
		v := xs[i]
		j := i - 1
		for j >= 0 && xs[j] > v {
			xs[j+1] = xs[j]
			j--
		}
		xs[j+1] = v
	}
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
