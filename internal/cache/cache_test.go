package cache

import (
	"os"
	"testing"

	"github.com/huntmaster/engine/internal/config"
)

func TestStoreAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	entry := &Entry{
		FrameCount:   2,
		CoeffCount:   3,
		SampleRateHz: 44100,
		Fingerprint:  0xdeadbeef,
		Coefficients: []float32{1, 2, 3, 4, 5, 6},
	}

	if err := s.Store("master-a", entry); err != nil {
		t.Fatal(err)
	}

	got, ok := s.Load("master-a", 0xdeadbeef)
	if !ok {
		t.Fatal("expected a hit after Store")
	}
	if got.FrameCount != entry.FrameCount || got.CoeffCount != entry.CoeffCount {
		t.Fatalf("dims = (%d,%d), want (%d,%d)", got.FrameCount, got.CoeffCount, entry.FrameCount, entry.CoeffCount)
	}
	for i := range entry.Coefficients {
		if got.Coefficients[i] != entry.Coefficients[i] {
			t.Fatalf("coeff[%d] = %v, want %v", i, got.Coefficients[i], entry.Coefficients[i])
		}
	}
}

func TestLoadMissingIsMiss(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Load("nonexistent", 1); ok {
		t.Fatal("expected miss for nonexistent master_id")
	}
}

func TestLoadFingerprintMismatchIsMiss(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	entry := &Entry{FrameCount: 1, CoeffCount: 1, SampleRateHz: 44100, Fingerprint: 1, Coefficients: []float32{0.5}}
	if err := s.Store("m", entry); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Load("m", 2); ok {
		t.Fatal("expected miss when fingerprint differs")
	}
}

func TestLoadCorruptFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(s.path("broken"), []byte("not a cache file"), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Load("broken", 0); ok {
		t.Fatal("expected miss for a corrupted file")
	}
}

func TestLoadTruncatedBodyIsMiss(t *testing.T) {
	dir := t.TempDir()
	s, err := NewStore(dir)
	if err != nil {
		t.Fatal(err)
	}

	entry := &Entry{FrameCount: 10, CoeffCount: 13, SampleRateHz: 44100, Fingerprint: 7, Coefficients: make([]float32, 10*13)}
	if err := s.Store("truncated", entry); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(s.path("truncated"))
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.path("truncated"), data[:len(data)-8], 0o600); err != nil {
		t.Fatal(err)
	}

	if _, ok := s.Load("truncated", 7); ok {
		t.Fatal("expected miss for a truncated file")
	}
}

func TestFingerprintStableAcrossIrrelevantFields(t *testing.T) {
	cfg := config.DefaultEngineConfig(44100)
	a := Fingerprint(cfg)

	cfg.Vad.EnergyThreshold = 0.999
	cfg.Dtw.BandRadiusFrames = 50
	b := Fingerprint(cfg)

	if a != b {
		t.Fatalf("fingerprint changed with vad/dtw-only edits: %v != %v", a, b)
	}
}

func TestFingerprintChangesWithRelevantFields(t *testing.T) {
	cfg := config.DefaultEngineConfig(44100)
	a := Fingerprint(cfg)

	cfg.MfccCoeffs = cfg.MfccCoeffs - 1
	b := Fingerprint(cfg)

	if a == b {
		t.Fatal("expected fingerprint to change when mfccCoeffs changes")
	}
}
