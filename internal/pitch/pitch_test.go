package pitch

import (
	"math"
	"testing"
)

func sineFrame(freqHz, sampleRateHz float64, n int) []float64 {
	frame := make([]float64, n)
	for i := range frame {
		frame[i] = math.Sin(2 * math.Pi * freqHz * float64(i) / sampleRateHz)
	}
	return frame
}

func TestProcessDetectsKnownFrequency(t *testing.T) {
	const sampleRate = 44100.0
	cfg := DefaultConfig(sampleRate, 256)
	tr := New(cfg)

	frame := sineFrame(440, sampleRate, 2048)
	r := tr.Process(frame)

	if r.FrequencyHz == 0 {
		t.Fatal("expected a voiced frame for a clean 440Hz sine")
	}
	if math.Abs(r.FrequencyHz-440) > 5 {
		t.Fatalf("frequency = %v, want close to 440", r.FrequencyHz)
	}
	if r.Confidence < 0.5 {
		t.Fatalf("confidence = %v, want >= 0.5 for a clean tone", r.Confidence)
	}
}

func TestProcessShortFrameIsUnvoiced(t *testing.T) {
	const sampleRate = 44100.0
	cfg := DefaultConfig(sampleRate, 256)
	tr := New(cfg)

	frame := make([]float64, 10) // far shorter than 2*maxTau
	r := tr.Process(frame)
	if r.FrequencyHz != 0 {
		t.Fatalf("frequency = %v, want 0 (unvoiced) for a too-short frame", r.FrequencyHz)
	}
}

func TestProcessSilenceIsUnvoiced(t *testing.T) {
	const sampleRate = 44100.0
	cfg := DefaultConfig(sampleRate, 256)
	tr := New(cfg)

	frame := make([]float64, 2048) // all zero
	r := tr.Process(frame)
	if r.FrequencyHz != 0 {
		t.Fatalf("frequency = %v, want 0 for silence", r.FrequencyHz)
	}
}

func TestFeedFrameAccumulatesContourAndFinalizeSummarizes(t *testing.T) {
	const sampleRate = 44100.0
	cfg := DefaultConfig(sampleRate, 256)
	tr := New(cfg)

	for i := 0; i < 20; i++ {
		tr.FeedFrame(sineFrame(440, sampleRate, 2048), sampleRate)
	}

	stats := tr.Finalize().(Stats)
	if stats.VoicedFrameCount == 0 {
		t.Fatal("expected voiced frames to accumulate into the contour")
	}
	if math.Abs(stats.MeanHz-440) > 10 {
		t.Fatalf("mean pitch = %v, want close to 440", stats.MeanHz)
	}
}

func TestResetClearsContour(t *testing.T) {
	const sampleRate = 44100.0
	cfg := DefaultConfig(sampleRate, 256)
	tr := New(cfg)

	tr.FeedFrame(sineFrame(440, sampleRate, 2048), sampleRate)
	tr.Reset()

	stats := tr.Finalize().(Stats)
	if stats.VoicedFrameCount != 0 {
		t.Fatalf("voiced frame count after reset = %d, want 0", stats.VoicedFrameCount)
	}
}
