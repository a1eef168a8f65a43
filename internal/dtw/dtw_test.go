package dtw

import (
	"math"
	"testing"

	"github.com/huntmaster/engine/internal/config"
)

func vec(v ...float64) []float64 { return v }

func TestEmptySequenceIsInfinite(t *testing.T) {
	cfg := config.DefaultDtwConfig()
	a := [][]float64{vec(1, 2)}

	if d := Distance(cfg, nil, a); !math.IsInf(d, 1) {
		t.Fatalf("Distance(nil, a) = %v, want +Inf", d)
	}
	if d := Distance(cfg, a, nil); !math.IsInf(d, 1) {
		t.Fatalf("Distance(a, nil) = %v, want +Inf", d)
	}

	res := DistanceAligned(cfg, nil, a)
	if !math.IsInf(res.Distance, 1) || len(res.Path) != 0 {
		t.Fatalf("DistanceAligned(nil, a) = %+v, want +Inf distance and empty path", res)
	}
}

func TestIdenticalSequenceIsZero(t *testing.T) {
	cfg := config.DefaultDtwConfig()
	cfg.DistanceNormalization = config.NormNone
	seq := [][]float64{vec(1, 2, 3), vec(4, 5, 6), vec(7, 8, 9)}

	if d := Distance(cfg, seq, seq); d != 0 {
		t.Fatalf("Distance(seq, seq) = %v, want 0", d)
	}
}

func TestSymmetric1IsSymmetric(t *testing.T) {
	cfg := config.DefaultDtwConfig()
	cfg.StepPattern = config.StepSymmetric1
	cfg.DistanceNormalization = config.NormNone

	a := [][]float64{vec(0, 0), vec(1, 0), vec(2, 1), vec(3, 3)}
	b := [][]float64{vec(0, 0), vec(1, 1), vec(4, 4)}

	ab := Distance(cfg, a, b)
	ba := Distance(cfg, b, a)

	if math.Abs(ab-ba) > 1e-9 {
		t.Fatalf("Distance(a,b) = %v, Distance(b,a) = %v, want equal under symmetric1", ab, ba)
	}
}

func TestBandingMakesFarOffDiagonalInfinite(t *testing.T) {
	cfg := config.DefaultDtwConfig()
	cfg.BandRadiusFrames = 1
	cfg.DistanceNormalization = config.NormNone

	// user is a long flat sequence unrelated to a short master so any
	// alignment is forced far off the diagonal for a tiny band.
	master := [][]float64{vec(0)}
	user := make([][]float64, 20)
	for i := range user {
		user[i] = vec(float64(i))
	}

	d := Distance(cfg, master, user)
	if !math.IsInf(d, 1) {
		t.Fatalf("Distance with tight band = %v, want +Inf (no feasible path)", d)
	}
}

func TestUnboundedBandIsFinite(t *testing.T) {
	cfg := config.DefaultDtwConfig()
	cfg.BandRadiusFrames = 0 // unbounded
	cfg.DistanceNormalization = config.NormNone

	master := [][]float64{vec(0)}
	user := make([][]float64, 20)
	for i := range user {
		user[i] = vec(float64(i))
	}

	if d := Distance(cfg, master, user); math.IsInf(d, 1) {
		t.Fatal("Distance with unbounded band should be finite")
	}
}

func TestDistanceAlignedPathIsMonotoneAndReachesCorners(t *testing.T) {
	cfg := config.DefaultDtwConfig()
	a := [][]float64{vec(0), vec(1), vec(2)}
	b := [][]float64{vec(0), vec(1)}

	res := DistanceAligned(cfg, a, b)
	if len(res.Path) == 0 {
		t.Fatal("expected a non-empty path")
	}
	first, last := res.Path[0], res.Path[len(res.Path)-1]
	if first.I != 0 || first.J != 0 {
		t.Fatalf("path must start at (0,0), got %+v", first)
	}
	if last.I != len(a)-1 || last.J != len(b)-1 {
		t.Fatalf("path must end at (%d,%d), got %+v", len(a)-1, len(b)-1, last)
	}
	for k := 1; k < len(res.Path); k++ {
		if res.Path[k].I < res.Path[k-1].I || res.Path[k].J < res.Path[k-1].J {
			t.Fatalf("path must be non-decreasing in both indices: %+v then %+v", res.Path[k-1], res.Path[k])
		}
	}
}

func TestNormalizationModesDiffer(t *testing.T) {
	a := [][]float64{vec(0), vec(1), vec(2), vec(3)}
	b := [][]float64{vec(0), vec(3)}

	none := config.DefaultDtwConfig()
	none.DistanceNormalization = config.NormNone
	dNone := Distance(none, a, b)

	pathLen := config.DefaultDtwConfig()
	pathLen.DistanceNormalization = config.NormPathLength
	dPath := Distance(pathLen, a, b)

	seqSum := config.DefaultDtwConfig()
	seqSum.DistanceNormalization = config.NormSeqSum
	dSeq := Distance(seqSum, a, b)

	if dNone == dPath || dNone == dSeq {
		t.Fatalf("normalized distances should differ from the raw distance: none=%v path=%v seq=%v", dNone, dPath, dSeq)
	}
}
