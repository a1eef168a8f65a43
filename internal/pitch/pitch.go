// Package pitch implements the YIN fundamental-frequency tracker (§4.8):
// a per-frame difference function with cumulative mean normalization,
// an absolute threshold search, and parabolic interpolation, plus a
// sliding pitch contour used at finalization for vibrato statistics.
package pitch

import "math"

// defaultThreshold is YIN's absolute threshold on the normalized
// difference function; 0.1-0.15 is the range the original YIN paper
// recommends for speech-like signals.
const defaultThreshold = 0.15

// Config parameterizes a Tracker for one session.
type Config struct {
	SampleRateHz   float64
	HopSize        int // samples between consecutive FeedFrame calls
	MinFrequencyHz float64
	MaxFrequencyHz float64
	Threshold      float64
}

// DefaultConfig covers typical wildlife-call fundamentals (50Hz-4kHz).
func DefaultConfig(sampleRateHz float64, hopSize int) Config {
	return Config{
		SampleRateHz:   sampleRateHz,
		HopSize:        hopSize,
		MinFrequencyHz: 50,
		MaxFrequencyHz: 4000,
		Threshold:      defaultThreshold,
	}
}

// FrameResult is one frame's pitch estimate. FrequencyHz is 0 for an
// unvoiced frame.
type FrameResult struct {
	FrequencyHz float64
	Confidence  float64
}

// Stats summarizes a session's full pitch contour at finalization.
type Stats struct {
	MeanHz            float64
	StdHz             float64
	MinHz             float64
	MaxHz             float64
	VoicedFrameCount  int
	VibratoRateHz     float64 // 0 if no vibrato detected
	VibratoExtentHz   float64
	VibratoRegularity float64 // [0,1], normalized autocorrelation peak
}

// Tracker runs YIN per frame and accumulates a voiced-frequency contour.
type Tracker struct {
	cfg      Config
	minTau   int
	maxTau   int
	contour  []float64 // voiced frequencies only, in arrival order
}

// New builds a tracker. Frames shorter than 2*maxTau are treated as
// unvoiced without error (§4.8 failure contract).
func New(cfg Config) *Tracker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = defaultThreshold
	}
	maxTau := int(cfg.SampleRateHz / cfg.MinFrequencyHz)
	minTau := int(cfg.SampleRateHz / cfg.MaxFrequencyHz)
	if minTau < 1 {
		minTau = 1
	}
	return &Tracker{cfg: cfg, minTau: minTau, maxTau: maxTau}
}

// Process runs YIN on one raw (non-MFCC) frame. It never blocks scoring
// and never returns an error; a frame too short to analyze is simply
// unvoiced.
func (t *Tracker) Process(frame []float64) FrameResult {
	if len(frame) < 2*t.maxTau {
		return FrameResult{}
	}

	diff := t.differenceFunction(frame)
	cmndf := cumulativeMeanNormalize(diff)

	tau, ok := absoluteThreshold(cmndf, t.minTau, t.cfg.Threshold)
	if !ok {
		return FrameResult{}
	}

	refinedTau := parabolicInterpolate(cmndf, tau)
	if refinedTau <= 0 {
		return FrameResult{}
	}

	freq := t.cfg.SampleRateHz / refinedTau
	confidence := clamp01(1 - cmndf[tau])
	return FrameResult{FrequencyHz: freq, Confidence: confidence}
}

// FeedFrame satisfies internal/session.FrameObserver.
func (t *Tracker) FeedFrame(frame []float64, sampleRate float64) {
	r := t.Process(frame)
	if r.FrequencyHz > 0 {
		t.contour = append(t.contour, r.FrequencyHz)
	}
}

// Finalize satisfies internal/session.FrameObserver, returning Stats.
func (t *Tracker) Finalize() any {
	return t.computeStats()
}

// ContourMeanHz returns the mean of the voiced-frequency contour
// accumulated so far, or 0 if no voiced frame has arrived yet. Unlike
// Finalize, this may be called mid-session (the realtime scorer's
// pitch_component needs a running mean, not just a final one).
func (t *Tracker) ContourMeanHz() float64 {
	if len(t.contour) == 0 {
		return 0
	}
	var sum float64
	for _, f := range t.contour {
		sum += f
	}
	return sum / float64(len(t.contour))
}

// Reset satisfies internal/session.FrameObserver.
func (t *Tracker) Reset() {
	t.contour = t.contour[:0]
}

func (t *Tracker) computeStats() Stats {
	if len(t.contour) == 0 {
		return Stats{}
	}

	mean, std, lo, hi := meanStdRange(t.contour)
	rate, extent, regularity := vibratoStats(t.contour, mean, t.cfg.SampleRateHz/float64(t.cfg.HopSize))

	return Stats{
		MeanHz:            mean,
		StdHz:             std,
		MinHz:             lo,
		MaxHz:             hi,
		VoicedFrameCount:  len(t.contour),
		VibratoRateHz:     rate,
		VibratoExtentHz:   extent,
		VibratoRegularity: regularity,
	}
}

// differenceFunction computes YIN's d(tau) for tau in [0, maxTau].
func (t *Tracker) differenceFunction(frame []float64) []float64 {
	d := make([]float64, t.maxTau+1)
	w := len(frame) - t.maxTau
	for tau := 0; tau <= t.maxTau; tau++ {
		var sum float64
		for j := 0; j < w; j++ {
			diff := frame[j] - frame[j+tau]
			sum += diff * diff
		}
		d[tau] = sum
	}
	return d
}

// cumulativeMeanNormalize applies YIN's step 2: d'(0)=1,
// d'(tau) = d(tau) / ((1/tau) * sum_{j=1}^{tau} d(j)).
func cumulativeMeanNormalize(d []float64) []float64 {
	cmndf := make([]float64, len(d))
	cmndf[0] = 1
	var runningSum float64
	for tau := 1; tau < len(d); tau++ {
		runningSum += d[tau]
		if runningSum == 0 {
			cmndf[tau] = 1
			continue
		}
		cmndf[tau] = d[tau] * float64(tau) / runningSum
	}
	return cmndf
}

// absoluteThreshold finds the smallest tau >= minTau where cmndf dips
// below threshold, then walks forward to the bottom of that dip. If no
// tau dips below threshold it reports false, and the caller treats the
// frame as unvoiced.
func absoluteThreshold(cmndf []float64, minTau int, threshold float64) (int, bool) {
	for tau := minTau; tau < len(cmndf)-1; tau++ {
		if cmndf[tau] < threshold {
			for tau+1 < len(cmndf) && cmndf[tau+1] < cmndf[tau] {
				tau++
			}
			return tau, true
		}
	}
	return 0, false
}

// parabolicInterpolate refines the integer tau estimate using its two
// neighbors, returning a fractional period.
func parabolicInterpolate(cmndf []float64, tau int) float64 {
	if tau <= 0 || tau >= len(cmndf)-1 {
		return float64(tau)
	}
	s0, s1, s2 := cmndf[tau-1], cmndf[tau], cmndf[tau+1]
	denom := 2*s1 - s2 - s0
	if denom == 0 {
		return float64(tau)
	}
	adjustment := (s2 - s0) / (2 * denom)
	return float64(tau) + adjustment
}

func meanStdRange(xs []float64) (mean, std, lo, hi float64) {
	lo, hi = xs[0], xs[0]
	var sum float64
	for _, x := range xs {
		sum += x
		if x < lo {
			lo = x
		}
		if x > hi {
			hi = x
		}
	}
	mean = sum / float64(len(xs))

	var variance float64
	for _, x := range xs {
		d := x - mean
		variance += d * d
	}
	variance /= float64(len(xs))
	std = math.Sqrt(variance)
	return
}

// vibratoStats estimates vibrato rate/extent/regularity via
// autocorrelation of the detrended contour, searching lags
// corresponding to 3-10Hz (the physiological vibrato range).
// Regularity is the normalized autocorrelation peak at that lag —
// the "normalized peak of the contour-autocorrelation sidelobe"
// definition the spec explicitly allows (§9 open question).
func vibratoStats(contour []float64, mean, contourSampleRateHz float64) (rateHz, extentHz, regularity float64) {
	n := len(contour)
	detrended := make([]float64, n)
	for i, x := range contour {
		detrended[i] = x - mean
	}

	autocorr0 := dot(detrended, detrended)
	if autocorr0 == 0 {
		return 0, 0, 0
	}

	minLag := int(contourSampleRateHz / 10) // 10Hz fastest vibrato
	maxLag := int(contourSampleRateHz / 3)  // 3Hz slowest vibrato
	if minLag < 1 {
		minLag = 1
	}
	if maxLag >= n {
		maxLag = n - 1
	}
	if minLag >= maxLag {
		return 0, 0, 0
	}

	bestLag := 0
	bestCorr := 0.0
	for lag := minLag; lag <= maxLag; lag++ {
		c := dot(detrended[:n-lag], detrended[lag:])
		if c > bestCorr {
			bestCorr = c
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return 0, 0, 0
	}

	rateHz = contourSampleRateHz / float64(bestLag)
	extentHz = math.Sqrt(autocorr0/float64(n)) * math.Sqrt2
	regularity = clamp01(bestCorr / autocorr0)
	return
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
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
