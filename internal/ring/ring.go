// Package ring implements the PCM ring buffer and overlapping frame slicer
// described in the engine's §4.1 contract: callers append arbitrarily sized
// chunks of PCM, the slicer hands back fixed-size, hop-spaced analysis
// frames without ever returning a partially overwritten frame.
package ring

import (
	"fmt"
	"math"
)

// ErrOverflow is returned by Append when writing the given samples would
// overwrite a region of the ring still needed by an unpulled frame. Callers
// recover by draining (pulling/processing frames) and retrying the append.
var ErrOverflow = fmt.Errorf("ring: append would overwrite unread backlog")

// ErrInvalidAudio is returned by Append when a sample is NaN or infinite.
// The ring is left completely unmodified.
var ErrInvalidAudio = fmt.Errorf("ring: sample is NaN or infinite")

// Ring is a single-producer/single-consumer circular buffer of float32 PCM
// samples with a frame-sized, hop-spaced read cursor. It is not safe for
// concurrent use — the engine's concurrency model (§5) gives each session
// exclusive single-threaded access to its own ring.
type Ring struct {
	buf       []float32
	capacity  int
	frameSize int
	hopSize   int

	written int64 // total samples ever appended
	cursor  int64 // sample index of the next frame's first sample
}

// New creates a ring sized to hold at least 2*frameSize samples. capacity,
// if given, overrides the minimum; it must still be >= 2*frameSize.
func New(frameSize, hopSize, capacity int) (*Ring, error) {
	if frameSize <= 0 {
		return nil, fmt.Errorf("ring: frameSize must be positive, got %d", frameSize)
	}
	if hopSize <= 0 || hopSize > frameSize {
		return nil, fmt.Errorf("ring: hopSize must be in (0, frameSize], got %d (frameSize=%d)", hopSize, frameSize)
	}
	if capacity <= 0 {
		capacity = 2 * frameSize
	}
	if capacity < 2*frameSize {
		return nil, fmt.Errorf("ring: capacity must be >= 2*frameSize, got %d (frameSize=%d)", capacity, frameSize)
	}

	return &Ring{
		buf:       make([]float32, capacity),
		capacity:  capacity,
		frameSize: frameSize,
		hopSize:   hopSize,
	}, nil
}

// Append adds samples to the ring. It returns the number of samples
// accepted (always len(samples) on success — partial appends never
// happen) or an error. On ErrOverflow or ErrInvalidAudio the ring is left
// completely unmodified.
func (r *Ring) Append(samples []float32) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}

	for _, s := range samples {
		if math.IsNaN(float64(s)) || math.IsInf(float64(s), 0) {
			return 0, ErrInvalidAudio
		}
	}

	// The read cursor marks the oldest sample any future frame still
	// needs; anything before it may be overwritten. Writing past
	// cursor+capacity would clobber a sample no frame has consumed yet.
	if r.written+int64(len(samples))-r.cursor > int64(r.capacity) {
		return 0, ErrOverflow
	}

	for i, s := range samples {
		r.buf[(r.written+int64(i))%int64(r.capacity)] = s
	}
	r.written += int64(len(samples))

	return len(samples), nil
}

// PullFrame returns the next overlapping analysis frame and advances the
// read cursor by hopSize, or (nil, false) if fewer than frameSize samples
// are currently available. The returned slice is a fresh copy — safe to
// retain past the next Append/PullFrame call.
func (r *Ring) PullFrame() ([]float32, bool) {
	available := r.written - r.cursor
	if available < int64(r.frameSize) {
		return nil, false
	}

	frame := make([]float32, r.frameSize)
	for i := 0; i < r.frameSize; i++ {
		frame[i] = r.buf[(r.cursor+int64(i))%int64(r.capacity)]
	}
	r.cursor += int64(r.hopSize)

	return frame, true
}

// Pending returns the number of appended-but-not-yet-framed samples.
func (r *Ring) Pending() int64 {
	return r.written - r.cursor
}

// Reset discards all buffered samples and rewinds the cursor, without
// reallocating the backing array.
func (r *Ring) Reset() {
	r.written = 0
	r.cursor = 0
	for i := range r.buf {
		r.buf[i] = 0
	}
}
