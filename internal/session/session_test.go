package session

import (
	"errors"
	"math"
	"testing"

	"github.com/huntmaster/engine/internal/config"
)

func testCfg() config.EngineConfig {
	return config.DefaultEngineConfig(44100)
}

func sinePCM(freqHz, sampleRateHz float64, durationS float64, amplitude float64) []float32 {
	n := int(durationS * sampleRateHz)
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(amplitude * math.Sin(2*math.Pi*freqHz*float64(i)/sampleRateHz))
	}
	return out
}

func TestNewSessionStartsRunning(t *testing.T) {
	s, err := New(1, testCfg())
	if err != nil {
		t.Fatal(err)
	}
	// No separate "start" operation exists in this engine's facade
	// surface, so a freshly constructed session is immediately Running.
	if s.Lifecycle() != StateRunning {
		t.Fatalf("lifecycle = %v, want Running", s.Lifecycle())
	}
}

func TestAppendPcmAcceptedWhileRunning(t *testing.T) {
	s, err := New(1, testCfg())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendPCM(make([]float32, 128)); err != nil {
		t.Fatal(err)
	}
	if s.Lifecycle() != StateRunning {
		t.Fatalf("lifecycle = %v, want Running", s.Lifecycle())
	}
}

func TestAppendPcmRejectedAfterDestroy(t *testing.T) {
	s, err := New(1, testCfg())
	if err != nil {
		t.Fatal(err)
	}
	s.Destroy()
	if _, err := s.AppendPCM(make([]float32, 128)); !errors.Is(err, ErrBadState) {
		t.Fatalf("err = %v, want ErrBadState", err)
	}
}

func TestAppendPcmRejectsNaN(t *testing.T) {
	s, err := New(1, testCfg())
	if err != nil {
		t.Fatal(err)
	}
	bad := make([]float32, 16)
	bad[3] = float32(math.NaN())
	if _, err := s.AppendPCM(bad); err == nil {
		t.Fatal("expected an error for NaN samples")
	}
	if s.ring.Pending() != 0 {
		t.Fatalf("ring pending = %d, want 0 (unmodified on InvalidAudio)", s.ring.Pending())
	}
}

func TestAttachMasterRejectsSampleRateMismatch(t *testing.T) {
	s, err := New(1, testCfg())
	if err != nil {
		t.Fatal(err)
	}
	master := &MasterCall{ID: "m1", SampleRateHz: 16000}
	if err := s.AttachMaster(master); !errors.Is(err, ErrConfigMismatch) {
		t.Fatalf("err = %v, want ErrConfigMismatch", err)
	}
}

func TestAttachMasterTwiceRejected(t *testing.T) {
	s, err := New(1, testCfg())
	if err != nil {
		t.Fatal(err)
	}
	master := &MasterCall{ID: "m1", SampleRateHz: 44100}
	if err := s.AttachMaster(master); err != nil {
		t.Fatal(err)
	}
	if err := s.AttachMaster(master); !errors.Is(err, ErrBadState) {
		t.Fatalf("err = %v, want ErrBadState on re-attach", err)
	}
}

func TestDrainAndScoreOnFreshSessionYieldsZeroSnapshot(t *testing.T) {
	// A freshly constructed session is already Running (there is no
	// separate "start" op), so draining before any PCM arrives should
	// succeed with a zero snapshot rather than reject.
	s, err := New(1, testCfg())
	if err != nil {
		t.Fatal(err)
	}
	snap, err := s.DrainAndScore()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Overall != 0 {
		t.Fatalf("overall = %v, want 0 with no frames appended", snap.Overall)
	}
}

func TestDrainAndScoreRejectedAfterDestroy(t *testing.T) {
	s, err := New(1, testCfg())
	if err != nil {
		t.Fatal(err)
	}
	s.Destroy()
	if _, err := s.DrainAndScore(); !errors.Is(err, ErrBadState) {
		t.Fatalf("err = %v, want ErrBadState", err)
	}
}

func TestSelfMatchYieldsHighOverallScore(t *testing.T) {
	cfg := testCfg()
	pcm := sinePCM(440, cfg.SampleRateHz, 1.0, 0.5)

	master, err := BuildMasterCall("m1", cfg, pcm)
	if err != nil {
		t.Fatal(err)
	}

	s, err := New(1, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AttachMaster(master); err != nil {
		t.Fatal(err)
	}

	// Chunk size must stay under the session ring's default capacity
	// (2*frame_size) so a single AppendPCM call never overflows on its
	// own; draining between appends is what keeps the backlog bounded.
	chunk := 512
	for i := 0; i < len(pcm); i += chunk {
		end := i + chunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if _, err := s.AppendPCM(pcm[i:end]); err != nil {
			t.Fatal(err)
		}
		if _, err := s.DrainAndScore(); err != nil {
			t.Fatal(err)
		}
	}

	profile, err := s.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if profile.OverallScore.Overall < 0.9 {
		t.Fatalf("overall = %v, want a strong self-match", profile.OverallScore.Overall)
	}
	if profile.OverallScore.MfccComponent < 0.9 {
		t.Fatalf("mfcc component = %v, want a strong self-match", profile.OverallScore.MfccComponent)
	}
}

func TestSequenceNumberStrictlyIncreases(t *testing.T) {
	cfg := testCfg()
	pcm := sinePCM(440, cfg.SampleRateHz, 1.0, 0.5)
	master, err := BuildMasterCall("m1", cfg, pcm)
	if err != nil {
		t.Fatal(err)
	}

	s, err := New(1, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AttachMaster(master); err != nil {
		t.Fatal(err)
	}

	var lastSeq int64
	chunk := 512
	for i := 0; i < len(pcm); i += chunk {
		end := i + chunk
		if end > len(pcm) {
			end = len(pcm)
		}
		if _, err := s.AppendPCM(pcm[i:end]); err != nil {
			t.Fatal(err)
		}
		snap, err := s.DrainAndScore()
		if err != nil {
			t.Fatal(err)
		}
		if snap.SequenceNumber <= lastSeq {
			t.Fatalf("sequence number %d did not increase past %d", snap.SequenceNumber, lastSeq)
		}
		lastSeq = snap.SequenceNumber
	}
}

func TestEmptyUserSequenceYieldsZeroScore(t *testing.T) {
	cfg := testCfg()
	pcm := sinePCM(440, cfg.SampleRateHz, 1.0, 0.5)
	master, err := BuildMasterCall("m1", cfg, pcm)
	if err != nil {
		t.Fatal(err)
	}

	s, err := New(1, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AttachMaster(master); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendPCM(make([]float32, 16)); err != nil {
		t.Fatal(err)
	}

	snap, err := s.DrainAndScore()
	if err != nil {
		t.Fatal(err)
	}
	if snap.Overall != 0 {
		t.Fatalf("overall = %v, want 0 with no active frames yet", snap.Overall)
	}
	if snap.Confidence != 0 {
		t.Fatalf("confidence = %v, want 0", snap.Confidence)
	}
	if snap.Reliable {
		t.Fatal("expected reliable=false with zero samples analyzed")
	}
}

func TestOverflowThenRetrySucceeds(t *testing.T) {
	cfg := testCfg()
	s, err := New(1, cfg)
	if err != nil {
		t.Fatal(err)
	}

	huge := make([]float32, 100*cfg.FrameSize)
	if _, err := s.AppendPCM(huge); err == nil {
		t.Fatal("expected an overflow error appending far more than ring capacity in one call")
	}

	if _, err := s.DrainAndScore(); err != nil {
		t.Fatal(err)
	}

	small := make([]float32, cfg.FrameSize)
	if _, err := s.AppendPCM(small); err != nil {
		t.Fatalf("retry after drain should succeed, got %v", err)
	}
}

func TestResetPreservesAttachedMaster(t *testing.T) {
	cfg := testCfg()
	master := &MasterCall{ID: "m1", SampleRateHz: cfg.SampleRateHz, RMS: 0.1, MeanPitchHz: 440}

	s, err := New(1, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.AttachMaster(master); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendPCM(make([]float32, cfg.FrameSize)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.DrainAndScore(); err != nil {
		t.Fatal(err)
	}

	if err := s.Reset(); err != nil {
		t.Fatal(err)
	}
	if s.Master() == nil {
		t.Fatal("expected master to survive Reset")
	}
	if s.SamplesAnalyzed() != 0 {
		t.Fatalf("samples analyzed after reset = %d, want 0", s.SamplesAnalyzed())
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	s, err := New(1, testCfg())
	if err != nil {
		t.Fatal(err)
	}
	s.Destroy()
	s.Destroy()
	if s.Lifecycle() != StateDestroyed {
		t.Fatalf("lifecycle = %v, want Destroyed", s.Lifecycle())
	}
}

func TestFinalizeRejectedTwice(t *testing.T) {
	cfg := testCfg()
	s, err := New(1, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AppendPCM(make([]float32, cfg.FrameSize)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Finalize(); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Finalize(); !errors.Is(err, ErrBadState) {
		t.Fatalf("err = %v, want ErrBadState on second finalize", err)
	}
}

func TestBuildMasterCallComputesMetadata(t *testing.T) {
	cfg := testCfg()
	pcm := sinePCM(440, cfg.SampleRateHz, 1.0, 0.5)

	master, err := BuildMasterCall("m1", cfg, pcm)
	if err != nil {
		t.Fatal(err)
	}
	if len(master.MfccSequence) == 0 {
		t.Fatal("expected a non-empty MFCC sequence")
	}
	if math.Abs(master.DurationS-1.0) > 1e-6 {
		t.Fatalf("duration = %v, want ~1.0", master.DurationS)
	}
	if master.RMS <= 0 {
		t.Fatal("expected a positive RMS for a non-silent sine")
	}
	if master.ContentHash == "" {
		t.Fatal("expected a non-empty content hash")
	}
}
