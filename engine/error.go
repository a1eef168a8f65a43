package engine

import (
	"errors"
	"fmt"

	"github.com/huntmaster/engine/internal/ring"
	"github.com/huntmaster/engine/internal/session"
)

// Kind classifies a facade-level failure (§7). It is the engine
// package's own taxonomy; internal/session and internal/ring use local
// sentinel errors instead, wrapped into a Kind at this boundary to
// avoid an import cycle (session cannot import engine, which imports
// session).
type Kind int

const (
	KindInvalidConfig Kind = iota
	KindBadState
	KindNotFound
	KindConfigMismatch
	KindInvalidAudio
	KindOverflow
	KindCacheCorrupt
	KindCancelled
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindInvalidConfig:
		return "invalid_config"
	case KindBadState:
		return "bad_state"
	case KindNotFound:
		return "not_found"
	case KindConfigMismatch:
		return "config_mismatch"
	case KindInvalidAudio:
		return "invalid_audio"
	case KindOverflow:
		return "overflow"
	case KindCacheCorrupt:
		return "cache_corrupt"
	case KindCancelled:
		return "cancelled"
	default:
		return "internal"
	}
}

// Error is the one error type that crosses the engine package boundary.
// Op names the facade or session operation that failed, e.g.
// "session.append_pcm". Err is the wrapped cause, possibly nil.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrBadState) etc. work by comparing Kind
// against a sentinel's Kind, not by identity — sentinels below are
// themselves *Error values with a nil Err and matching Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is callers, in the shape of the teacher's
// auth.ErrClientNotFound.
var (
	ErrInvalidConfig  = &Error{Kind: KindInvalidConfig}
	ErrBadState       = &Error{Kind: KindBadState}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrConfigMismatch = &Error{Kind: KindConfigMismatch}
	ErrInvalidAudio   = &Error{Kind: KindInvalidAudio}
	ErrOverflow       = &Error{Kind: KindOverflow}
	ErrCacheCorrupt   = &Error{Kind: KindCacheCorrupt}
	ErrCancelled      = &Error{Kind: KindCancelled}
	ErrInternal       = &Error{Kind: KindInternal}
)

// wrapSessionErr maps internal/session and internal/ring sentinel
// errors onto the public Kind taxonomy at the facade boundary (§7
// propagation: "BadState and InvalidConfig are always surfaced").
func wrapSessionErr(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrBadState):
		return &Error{Kind: KindBadState, Op: op, Err: err}
	case errors.Is(err, session.ErrConfigMismatch):
		return &Error{Kind: KindConfigMismatch, Op: op, Err: err}
	case errors.Is(err, ring.ErrOverflow):
		return &Error{Kind: KindOverflow, Op: op, Err: err}
	case errors.Is(err, ring.ErrInvalidAudio):
		return &Error{Kind: KindInvalidAudio, Op: op, Err: err}
	default:
		return &Error{Kind: KindInternal, Op: op, Err: err}
	}
}
