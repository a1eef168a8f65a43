// Package session implements the per-session lifecycle state machine
// (§3, §4.11): it owns one session's ring, MFCC extractor, VAD, the
// three enhanced frame observers (pitch/harmonic/cadence), and the
// scoring loop that ties them to a DTW comparison against an attached
// MasterCall.
package session

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/huntmaster/engine/internal/cadence"
	"github.com/huntmaster/engine/internal/config"
	"github.com/huntmaster/engine/internal/dtw"
	"github.com/huntmaster/engine/internal/harmonic"
	"github.com/huntmaster/engine/internal/mfcc"
	"github.com/huntmaster/engine/internal/pitch"
	"github.com/huntmaster/engine/internal/ring"
	"github.com/huntmaster/engine/internal/scorer"
	"github.com/huntmaster/engine/internal/vad"
)

// FeatureVersion identifies the current MFCC/feature pipeline. A
// MasterCall computed under a different version should be treated as
// stale by callers that persist it (e.g. across a feature-cache
// upgrade).
const FeatureVersion = "v1"

// LifecycleState is a session's position in the Created/Running/
// Finalized/Destroyed state machine (§3).
type LifecycleState int

const (
	StateCreated LifecycleState = iota
	StateRunning
	StateFinalized
	StateDestroyed
)

func (s LifecycleState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateFinalized:
		return "finalized"
	case StateDestroyed:
		return "destroyed"
	default:
		return "unknown"
	}
}

// Sentinel errors a caller can match with errors.Is. Ring/MFCC-level
// errors (Overflow, InvalidAudio) propagate through unwrapped from
// their originating package.
var (
	ErrBadState       = errors.New("session: operation invalid for current lifecycle state")
	ErrConfigMismatch = errors.New("session: master's sample rate does not match the session's engine config")
)

// FrameObserver is the capability shared by the three enhanced
// analyzers (pitch, harmonic, cadence): they observe every frame
// unconditionally and never block the scoring loop.
type FrameObserver interface {
	FeedFrame(frame []float64, sampleRate float64)
	Finalize() any
	Reset()
}

// MasterCall is an immutable, shared-read-only master-call feature
// sequence (§3). Sessions hold a pointer to one; lifetime/refcounting
// is the engine facade's responsibility (C12), not this package's.
type MasterCall struct {
	ID             string
	FeatureVersion string
	MfccSequence   [][]float64
	DurationS      float64
	SampleRateHz   float64
	RMS            float64 // whole-call RMS, used as the scorer's level denominator
	MeanPitchHz    float64 // NaN if no voiced frame was found
	ContentHash    string
}

// BuildMasterCall runs the full analysis pipeline (ring slicing, MFCC
// extraction, pitch tracking) over raw master PCM to produce a
// MasterCall. The engine facade calls this on a cache miss; on a cache
// hit it can instead populate MfccSequence directly from a
// cache.Entry, still tagging the result with this same metadata shape.
func BuildMasterCall(id string, cfg config.EngineConfig, pcm []float32) (*MasterCall, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, fmt.Errorf("session: master %q has no samples", id)
	}

	r, err := ring.New(cfg.FrameSize, cfg.HopSize, len(pcm)+2*cfg.FrameSize)
	if err != nil {
		return nil, err
	}
	if _, err := r.Append(pcm); err != nil {
		return nil, err
	}

	extractor, err := mfcc.New(cfg)
	if err != nil {
		return nil, err
	}
	pitchTracker := pitch.New(pitch.DefaultConfig(cfg.SampleRateHz, cfg.HopSize))

	var sequence [][]float64
	for {
		frame, ok := r.PullFrame()
		if !ok {
			break
		}
		vec, err := extractor.Extract(frame)
		if err != nil {
			continue // dropped, per §7 propagation policy
		}
		sequence = append(sequence, vec.Coeffs)

		f64 := make([]float64, len(frame))
		for i, s := range frame {
			f64[i] = float64(s)
		}
		pitchTracker.FeedFrame(f64, cfg.SampleRateHz)
	}

	meanPitch := pitchTracker.ContourMeanHz()
	if meanPitch == 0 {
		meanPitch = math.NaN()
	}

	return &MasterCall{
		ID:             id,
		FeatureVersion: FeatureVersion,
		MfccSequence:   sequence,
		DurationS:      float64(len(pcm)) / cfg.SampleRateHz,
		SampleRateHz:   cfg.SampleRateHz,
		RMS:            rms(pcm),
		MeanPitchHz:    meanPitch,
		ContentHash:    contentHash(id, pcm),
	}, nil
}

func rms(pcm []float32) float64 {
	var sum float64
	for _, s := range pcm {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(pcm)))
}

// contentHash follows the teacher's computeFileHash shape (size +
// first/last 64KB), adapted from file bytes to raw PCM samples.
func contentHash(id string, pcm []float32) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%d", id, len(pcm))

	const window = 16384 // 64KB of float32 samples
	writeSamples := func(samples []float32) {
		buf := make([]byte, 4)
		for _, s := range samples {
			binary.LittleEndian.PutUint32(buf, math.Float32bits(s))
			h.Write(buf)
		}
	}

	if len(pcm) <= 2*window {
		writeSamples(pcm)
	} else {
		writeSamples(pcm[:window])
		writeSamples(pcm[len(pcm)-window:])
	}

	return hex.EncodeToString(h.Sum(nil))[:16]
}

// EnhancedProfile is produced on finalization, aggregating the three
// enhanced analyzers' final stats (§3).
type EnhancedProfile struct {
	Pitch          pitch.Stats
	Harmonic       harmonic.Stats
	Cadence        cadence.Stats
	OverallScore   scorer.Snapshot
	FeatureVersion int
	AnalyzedAtUnix int64
}

// Session is the mutable per-session state described in §3. It is not
// safe for concurrent use; the engine facade (C12) enforces exclusive
// single-session access.
type Session struct {
	id     int64
	cfg    config.EngineConfig
	master *MasterCall

	ring  *ring.Ring
	mfcc  *mfcc.Extractor
	vad   *vad.Detector
	score *scorer.Scorer

	pitchTracker     *pitch.Tracker
	harmonicAnalyzer *harmonic.Analyzer
	cadenceAnalyzer  *cadence.Analyzer

	userFeatures    [][]float64
	samplesAnalyzed int
	activeFrameSeq  int64
	sequenceNumber  int64
	lifecycle       LifecycleState

	level *levelMeter

	lastDtwFrameSeq int64
	lastRawDistance float64
	lastPathLength  int
	haveDtw         bool

	lastScore *scorer.Snapshot
}

// New constructs a session from a validated engine config. The session
// is immediately Running with no attached master (see the note at the
// lifecycle field's initialization below).
func New(id int64, cfg config.EngineConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r, err := ring.New(cfg.FrameSize, cfg.HopSize, 0)
	if err != nil {
		return nil, err
	}
	extractor, err := mfcc.New(cfg)
	if err != nil {
		return nil, err
	}
	harmonicAnalyzer, err := harmonic.New(cfg)
	if err != nil {
		return nil, err
	}
	cadenceAnalyzer, err := cadence.New(cfg)
	if err != nil {
		return nil, err
	}

	return &Session{
		id:               id,
		cfg:              cfg,
		ring:             r,
		mfcc:             extractor,
		vad:              vad.New(cfg.Vad, cfg.FrameSize, cfg.SampleRateHz),
		score:            scorer.New(scorer.DefaultWeights()),
		pitchTracker:     pitch.New(pitch.DefaultConfig(cfg.SampleRateHz, cfg.HopSize)),
		harmonicAnalyzer: harmonicAnalyzer,
		cadenceAnalyzer:  cadenceAnalyzer,
		level:            newLevelMeter(int(cfg.SampleRateHz)),
		// There is no separate "start" operation in this engine's
		// facade surface (§4.11 lists attach_master/append_pcm/
		// drain_and_score/finalize/reset/destroy only), so Created is
		// instantaneous: a session is immediately ready to accept
		// append_pcm and drain_and_score once constructed.
		lifecycle:       StateRunning,
		lastRawDistance: math.Inf(1),
	}, nil
}

// ID returns the session's opaque, monotone identifier.
func (s *Session) ID() int64 { return s.id }

// Lifecycle returns the session's current lifecycle state.
func (s *Session) Lifecycle() LifecycleState { return s.lifecycle }

// LastScore returns the most recently produced snapshot, or nil if
// DrainAndScore has never run.
func (s *Session) LastScore() *scorer.Snapshot { return s.lastScore }

// SequenceNumber returns the last-emitted ScoreSnapshot's sequence
// number (monotone per processed chunk, §3).
func (s *Session) SequenceNumber() int64 { return s.sequenceNumber }

// SamplesAnalyzed returns the running count of samples that have
// contributed to the user-feature sequence so far.
func (s *Session) SamplesAnalyzed() int { return s.samplesAnalyzed }

// Master returns the session's attached MasterCall, or nil if none has
// been attached yet.
func (s *Session) Master() *MasterCall { return s.master }

// AttachMaster binds a MasterCall to the session (invariant 4: once
// set, immutable for the session's lifetime).
func (s *Session) AttachMaster(master *MasterCall) error {
	if s.lifecycle == StateFinalized || s.lifecycle == StateDestroyed {
		return ErrBadState
	}
	if s.master != nil {
		return ErrBadState
	}
	if master.SampleRateHz != s.cfg.SampleRateHz {
		return ErrConfigMismatch
	}

	s.master = master
	return nil
}

// AppendPCM appends samples into the session's ring (§4.11). Only a
// Running session accepts appends.
func (s *Session) AppendPCM(samples []float32) (int, error) {
	if s.lifecycle != StateRunning {
		return 0, ErrBadState
	}
	return s.ring.Append(samples)
}

// DrainAndScore is the central scheduling point (§4.11): it pulls
// every available frame from the ring, routes it through VAD, feeds
// active frames to MFCC and the user-feature sequence, feeds every
// frame to the three enhanced observers, and invokes the scorer.
func (s *Session) DrainAndScore() (scorer.Snapshot, error) {
	if s.lifecycle != StateRunning {
		return scorer.Snapshot{}, ErrBadState
	}

	for {
		frame, ok := s.ring.PullFrame()
		if !ok {
			break
		}
		s.processFrame(frame)
	}

	snap := s.computeScore()

	// sequence_number must strictly increase on every emitted snapshot
	// (§3, §5, P1), independent of the scorer's own recompute-rate-limit
	// decision: a drain that lands entirely in a Candidate/Silent VAD
	// span (activeFrameSeq unchanged) still returns a cached snapshot
	// from the scorer, so the per-call counter lives here instead.
	s.sequenceNumber++
	snap.SequenceNumber = s.sequenceNumber

	s.lastScore = &snap
	return snap, nil
}

func (s *Session) processFrame(frame []float32) {
	tag := s.vad.Process(frame)

	f64 := make([]float64, len(frame))
	for i, v := range frame {
		f64[i] = float64(v)
	}
	s.pitchTracker.FeedFrame(f64, s.cfg.SampleRateHz)
	s.harmonicAnalyzer.FeedFrame(f64, s.cfg.SampleRateHz)
	s.cadenceAnalyzer.FeedFrame(f64, s.cfg.SampleRateHz)

	if !tag.IsActive() {
		return
	}

	vec, err := s.mfcc.Extract(frame)
	if err != nil {
		return // dropped per §7: frame skipped, session stays usable
	}
	s.userFeatures = append(s.userFeatures, vec.Coeffs)
	s.samplesAnalyzed += s.cfg.HopSize
	s.activeFrameSeq++

	hop := frame[len(frame)-s.cfg.HopSize:]
	s.level.push(hop)
}

func (s *Session) computeScore() scorer.Snapshot {
	if s.activeFrameSeq > s.lastDtwFrameSeq || !s.haveDtw {
		s.runDTW()
	}

	in := scorer.Inputs{
		RawDistance:       s.lastRawDistance,
		PathLength:        s.lastPathLength,
		RmsUser:           s.level.rms(),
		DurationUserS:     float64(s.samplesAnalyzed) / s.cfg.SampleRateHz,
		MeanPitchUserHz:   s.pitchTracker.ContourMeanHz(),
		SamplesAnalyzed:   s.samplesAnalyzed,
		SampleRateHz:      s.cfg.SampleRateHz,
		FrameSize:         s.cfg.FrameSize,
		MeanPitchMasterHz: math.NaN(),
	}
	if in.MeanPitchUserHz == 0 {
		in.MeanPitchUserHz = math.NaN()
	}
	if s.master != nil {
		in.RmsMaster = s.master.RMS
		in.DurationMasterS = s.master.DurationS
		in.MeanPitchMasterHz = s.master.MeanPitchHz
	}

	return s.score.Update(s.activeFrameSeq, in, time.Now().UnixMilli())
}

func (s *Session) runDTW() {
	if s.master == nil || len(s.userFeatures) == 0 {
		s.lastRawDistance = math.Inf(1)
		s.lastPathLength = 0
	} else {
		rawCfg := s.cfg.Dtw
		rawCfg.DistanceNormalization = config.NormNone
		result := dtw.DistanceAligned(rawCfg, s.master.MfccSequence, s.userFeatures)
		s.lastRawDistance = result.Distance
		s.lastPathLength = len(result.Path)
	}
	s.lastDtwFrameSeq = s.activeFrameSeq
	s.haveDtw = true
}

// Finalize transitions the session to StateFinalized and returns an
// EnhancedProfile aggregating the three enhanced analyzers' final
// stats plus a final scoring pass.
func (s *Session) Finalize() (EnhancedProfile, error) {
	if s.lifecycle != StateRunning {
		return EnhancedProfile{}, ErrBadState
	}

	final := s.computeScore()
	profile := EnhancedProfile{
		Pitch:          s.pitchTracker.Finalize().(pitch.Stats),
		Harmonic:       s.harmonicAnalyzer.Finalize().(harmonic.Stats),
		Cadence:        s.cadenceAnalyzer.Finalize().(cadence.Stats),
		OverallScore:   final,
		FeatureVersion: 1,
		AnalyzedAtUnix: time.Now().Unix(),
	}

	s.lifecycle = StateFinalized
	return profile, nil
}

// Reset returns a Running or Finalized session to a fresh state: ring,
// VAD, MFCC user-feature history, and all three enhanced observers are
// cleared, but the attached master is preserved. The session is Running
// afterward (a Finalized session moves back to Running), ready for a new
// take against the same master. A Destroyed session is rejected.
func (s *Session) Reset() error {
	if s.lifecycle == StateDestroyed {
		return ErrBadState
	}

	s.ring.Reset()
	s.vad.Reset()
	s.pitchTracker.Reset()
	s.harmonicAnalyzer.Reset()
	s.cadenceAnalyzer.Reset()
	s.level.reset()
	s.score.Reset()

	s.userFeatures = nil
	s.samplesAnalyzed = 0
	s.activeFrameSeq = 0
	s.sequenceNumber = 0
	s.lastDtwFrameSeq = 0
	s.lastRawDistance = math.Inf(1)
	s.lastPathLength = 0
	s.haveDtw = false
	s.lastScore = nil

	if s.lifecycle == StateFinalized {
		s.lifecycle = StateRunning
	}
	return nil
}

// Destroy releases the session's buffers and moves it to
// StateDestroyed. Idempotent: destroying an already-destroyed session
// is a no-op.
func (s *Session) Destroy() {
	if s.lifecycle == StateDestroyed {
		return
	}
	s.ring.Reset()
	s.userFeatures = nil
	s.lifecycle = StateDestroyed
}

// levelMeter tracks a trailing fixed-sample-count RMS window in O(1)
// per pushed sample, used for the scorer's level_component.
type levelMeter struct {
	buf    []float64 // squared samples
	idx    int
	filled int
	sum    float64
}

func newLevelMeter(windowSamples int) *levelMeter {
	if windowSamples <= 0 {
		windowSamples = 1
	}
	return &levelMeter{buf: make([]float64, windowSamples)}
}

func (m *levelMeter) push(samples []float32) {
	for _, s := range samples {
		sq := float64(s) * float64(s)
		m.sum += sq - m.buf[m.idx]
		m.buf[m.idx] = sq
		m.idx = (m.idx + 1) % len(m.buf)
		if m.filled < len(m.buf) {
			m.filled++
		}
	}
}

func (m *levelMeter) rms() float64 {
	if m.filled == 0 {
		return 0
	}
	return math.Sqrt(m.sum / float64(m.filled))
}

func (m *levelMeter) reset() {
	for i := range m.buf {
		m.buf[i] = 0
	}
	m.idx = 0
	m.filled = 0
	m.sum = 0
}
