// Package engine implements the process-wide facade (§4.12): a scoped
// Engine value owning a session registry and a loaded-master registry,
// replacing the reference implementation's process-wide singleton per
// §9's design note. Sessions are addressed by a monotone SessionId; a
// master call is addressed by its caller-chosen master_id string and is
// refcounted so unload_master is rejected while any session still
// attaches it.
package engine

import (
	"fmt"
	"log"
	"math"
	"sync"
	"sync/atomic"

	"github.com/huntmaster/engine/internal/cache"
	"github.com/huntmaster/engine/internal/config"
	"github.com/huntmaster/engine/internal/session"
)

// SessionId is the handle returned by CreateSession. It is monotone
// within one Engine's lifetime and never reused.
type SessionId int64

// loadedMaster is a cache-backed master call plus the count of live
// sessions currently attached to it.
type loadedMaster struct {
	master   *session.MasterCall
	refcount int
}

// Engine owns a session registry and a master-call registry. The zero
// value is not usable; construct with New. All exported methods are
// safe for concurrent use by multiple goroutines (§5: "parallel across
// sessions"); a given session's own methods are not safe to call from
// two goroutines at once — that exclusivity is the caller's
// responsibility, mirrored on the facade by the per-session lock
// guarding with_session below.
type Engine struct {
	cfg   config.EngineConfig
	cache *cache.Store

	nextID int64

	mu       sync.RWMutex
	sessions map[SessionId]*sessionEntry

	mastersMu sync.Mutex
	masters   map[string]*loadedMaster
}

// sessionEntry pairs a session with the lock that enforces §5's
// single-threaded-per-session rule at the facade boundary.
type sessionEntry struct {
	mu sync.Mutex
	s  *session.Session
}

// New constructs an Engine bound to one EngineConfig and one
// feature-cache directory. cfg is validated immediately (KindInvalidConfig).
func New(cfg config.EngineConfig, cacheDir string) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &Error{Kind: KindInvalidConfig, Op: "engine.new", Err: err}
	}
	store, err := cache.NewStore(cacheDir)
	if err != nil {
		return nil, &Error{Kind: KindInternal, Op: "engine.new", Err: err}
	}
	return &Engine{
		cfg:      cfg,
		cache:    store,
		sessions: make(map[SessionId]*sessionEntry),
		masters:  make(map[string]*loadedMaster),
	}, nil
}

// CreateSession allocates a new session against the engine's config and
// registers it under a freshly minted SessionId.
func (e *Engine) CreateSession() (SessionId, error) {
	s, err := session.New(atomic.AddInt64(&e.nextID, 1), e.cfg)
	if err != nil {
		return 0, &Error{Kind: KindInternal, Op: "engine.create_session", Err: err}
	}
	id := SessionId(s.ID())

	e.mu.Lock()
	e.sessions[id] = &sessionEntry{s: s}
	e.mu.Unlock()
	return id, nil
}

// DestroySession tears down a session and releases its master-call
// reference, if any. Destroying an unknown id is a no-op error
// (KindNotFound), not a panic.
func (e *Engine) DestroySession(id SessionId) error {
	e.mu.Lock()
	entry, ok := e.sessions[id]
	if ok {
		delete(e.sessions, id)
	}
	e.mu.Unlock()
	if !ok {
		return &Error{Kind: KindNotFound, Op: "engine.destroy_session"}
	}

	entry.mu.Lock()
	master := entry.s.Master()
	entry.s.Destroy()
	entry.mu.Unlock()

	if master != nil {
		e.releaseMaster(master.ID)
	}
	return nil
}

// WithSession runs op against the session identified by id, holding that
// session's exclusive lock for the duration. This is the facade's single
// choke point for the "no operation on a given session may be invoked
// from two threads concurrently" rule in §5.
func (e *Engine) WithSession(id SessionId, op func(*session.Session) error) error {
	e.mu.RLock()
	entry, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return &Error{Kind: KindNotFound, Op: "engine.with_session"}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if err := op(entry.s); err != nil {
		return wrapSessionErr("engine.with_session", err)
	}
	return nil
}

// LoadMaster resolves master_id from the feature cache if present and
// fingerprint-matching, else computes it from pcm and stores it back.
// The resulting MasterCall is retained in the engine's master registry
// with a refcount of zero until a session attaches it.
func (e *Engine) LoadMaster(masterID string, pcm []float32) error {
	e.mastersMu.Lock()
	defer e.mastersMu.Unlock()

	if _, ok := e.masters[masterID]; ok {
		return nil // already loaded; re-loading is idempotent (scenario 5, P3)
	}

	fp := cache.Fingerprint(e.cfg)
	if entry, ok := e.cache.Load(masterID, fp); ok {
		e.masters[masterID] = &loadedMaster{master: masterCallFromCacheEntry(masterID, e.cfg, entry)}
		return nil
	}

	master, err := session.BuildMasterCall(masterID, e.cfg, pcm)
	if err != nil {
		return &Error{Kind: KindInvalidAudio, Op: "engine.load_master", Err: err}
	}
	if err := e.cache.Store(masterID, masterCallToCacheEntry(e.cfg, master)); err != nil {
		// A write failure does not invalidate the in-memory master; the
		// engine degrades to recomputing on next process start.
		log.Printf("[ENGINE] warning: failed to persist master_id=%s to cache: %v", masterID, err)
	}
	e.masters[masterID] = &loadedMaster{master: master}
	return nil
}

// UnloadMaster drops an engine-held master reference. Rejected
// (KindBadState) while any live session is attached to it.
func (e *Engine) UnloadMaster(masterID string) error {
	e.mastersMu.Lock()
	defer e.mastersMu.Unlock()

	lm, ok := e.masters[masterID]
	if !ok {
		return &Error{Kind: KindNotFound, Op: "engine.unload_master"}
	}
	if lm.refcount > 0 {
		return &Error{Kind: KindBadState, Op: "engine.unload_master", Err: fmt.Errorf("master_id=%s still referenced by %d session(s)", masterID, lm.refcount)}
	}
	delete(e.masters, masterID)
	return nil
}

// AttachMasterToSession attaches a previously loaded master to a
// session and increments its refcount, atomically with the session's
// own attach — this is the one operation where the facade must hold
// both a session lock and the master registry lock, always in that
// order (session, then masters) to avoid lock-ordering inversions.
func (e *Engine) AttachMasterToSession(id SessionId, masterID string) error {
	e.mu.RLock()
	entry, ok := e.sessions[id]
	e.mu.RUnlock()
	if !ok {
		return &Error{Kind: KindNotFound, Op: "engine.attach_master"}
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	e.mastersMu.Lock()
	lm, ok := e.masters[masterID]
	if !ok {
		e.mastersMu.Unlock()
		return &Error{Kind: KindNotFound, Op: "engine.attach_master"}
	}
	master := lm.master
	e.mastersMu.Unlock()

	if err := entry.s.AttachMaster(master); err != nil {
		return wrapSessionErr("engine.attach_master", err)
	}

	e.mastersMu.Lock()
	lm.refcount++
	e.mastersMu.Unlock()
	return nil
}

func (e *Engine) releaseMaster(masterID string) {
	e.mastersMu.Lock()
	defer e.mastersMu.Unlock()
	if lm, ok := e.masters[masterID]; ok && lm.refcount > 0 {
		lm.refcount--
	}
}

func masterCallToCacheEntry(cfg config.EngineConfig, m *session.MasterCall) *cache.Entry {
	coeffCount := cfg.MfccCoeffs
	coeffs := make([]float32, 0, len(m.MfccSequence)*coeffCount)
	for _, frame := range m.MfccSequence {
		for _, c := range frame {
			coeffs = append(coeffs, float32(c))
		}
	}
	return &cache.Entry{
		FrameCount:   len(m.MfccSequence),
		CoeffCount:   coeffCount,
		SampleRateHz: float32(cfg.SampleRateHz),
		Fingerprint:  cache.Fingerprint(cfg),
		Coefficients: coeffs,
	}
}

// masterCallFromCacheEntry reconstructs a MasterCall from a cache.Entry,
// which stores only the MFCC sequence (§6's wire format has no field for
// RMS or pitch). MeanPitchHz is set to NaN rather than left at its zero
// value so the scorer correctly treats pitch as unavailable rather than
// as a literal 0Hz master (see scorer.compute's pitch_component, which
// would otherwise collapse to 0 for every cache-resolved master).
// DurationS is reconstructed from frame_count/hop_size/frame_size rather
// than left at 0, which would otherwise zero out timing_component too.
func masterCallFromCacheEntry(masterID string, cfg config.EngineConfig, e *cache.Entry) *session.MasterCall {
	seq := make([][]float64, e.FrameCount)
	for i := range seq {
		row := make([]float64, e.CoeffCount)
		for j := range row {
			row[j] = float64(e.Coefficients[i*e.CoeffCount+j])
		}
		seq[i] = row
	}

	var durationS float64
	if e.FrameCount > 0 {
		durationS = float64((e.FrameCount-1)*cfg.HopSize+cfg.FrameSize) / cfg.SampleRateHz
	}

	return &session.MasterCall{
		ID:            masterID,
		FeatureVersion: session.FeatureVersion,
		MfccSequence:  seq,
		DurationS:     durationS,
		SampleRateHz:  cfg.SampleRateHz,
		MeanPitchHz:   math.NaN(),
	}
}
