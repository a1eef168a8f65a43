// Package vad implements the three-state voice-activity detector (§4.4):
// Silent, Candidate, and Active, with hysteresis so brief dips below
// threshold don't fragment a call into many short segments.
package vad

import (
	"math"

	"github.com/huntmaster/engine/internal/config"
)

// State is the detector's current segment classification.
type State int

const (
	StateSilent State = iota
	StateCandidate
	StateActive
)

// Tag is emitted once per processed frame.
type Tag int

const (
	TagSilent Tag = iota
	TagActiveBegin
	TagActive
	TagActiveEnd
)

// IsActive reports whether a tag's frame belongs to an active segment and
// should therefore feed MFCC extraction and the user-feature sequence.
func (t Tag) IsActive() bool {
	return t == TagActiveBegin || t == TagActive || t == TagActiveEnd
}

// Detector tracks the Silent/Candidate/Active state machine across a
// stream of fixed-duration frames.
type Detector struct {
	cfg             config.VadConfig
	frameDurationMs float64

	state       State
	candidateMs float64 // cumulative above-threshold duration since entering Candidate
	silenceMs   float64 // cumulative below-threshold duration since the segment last saw signal
}

// New builds a detector for frames of frameSize samples at sampleRateHz.
// The frame itself serves as the VAD analysis window; window_ms documents
// the intended scale but the slicer's frame/hop already fixes the window.
func New(cfg config.VadConfig, frameSize int, sampleRateHz float64) *Detector {
	return &Detector{
		cfg:             cfg,
		frameDurationMs: 1000 * float64(frameSize) / sampleRateHz,
		state:           StateSilent,
	}
}

// Process classifies one frame and advances the state machine.
func (d *Detector) Process(frame []float32) Tag {
	var sumSq float64
	var peak float64
	for _, s := range frame {
		f := float64(s)
		sumSq += f * f
		if a := math.Abs(f); a > peak {
			peak = a
		}
	}
	energy := sumSq / float64(len(frame))
	above := energy > d.cfg.EnergyThreshold || peak > d.cfg.SilencePeakThreshold

	switch d.state {
	case StateSilent:
		if above {
			d.state = StateCandidate
			d.candidateMs = d.frameDurationMs
		}
		return TagSilent

	case StateCandidate:
		if !above {
			d.state = StateSilent
			d.candidateMs = 0
			return TagSilent
		}
		d.candidateMs += d.frameDurationMs
		if d.candidateMs >= d.cfg.MinSoundMs {
			d.state = StateActive
			d.silenceMs = 0
			return TagActiveBegin
		}
		return TagSilent

	case StateActive:
		if above {
			d.silenceMs = 0
			return TagActive
		}
		d.silenceMs += d.frameDurationMs
		if d.silenceMs > d.cfg.HangoverMs && d.silenceMs >= d.cfg.MinSilenceMs {
			d.state = StateSilent
			d.candidateMs = 0
			d.silenceMs = 0
			return TagActiveEnd
		}
		return TagActive

	default:
		return TagSilent
	}
}

// State returns the detector's current state.
func (d *Detector) State() State {
	return d.state
}

// Reset returns the detector to its initial Silent state.
func (d *Detector) Reset() {
	d.state = StateSilent
	d.candidateMs = 0
	d.silenceMs = 0
}
