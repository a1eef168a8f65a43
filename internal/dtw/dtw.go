// Package dtw implements the banded Dynamic Time Warping comparator
// (§4.6): squared-Euclidean local cost, a configurable step pattern, an
// optional Sakoe-Chiba band, and optional distance normalization.
package dtw

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/huntmaster/engine/internal/config"
)

// Point is one (master_index, user_index) step of an alignment path.
type Point struct {
	I, J int
}

// Result is a distance plus, when requested, its alignment path.
type Result struct {
	Distance float64
	Path     []Point
}

// Distance returns only the accumulated DTW distance, computed with two
// rolling rows in O(min(len(master), len(user))) space.
func Distance(cfg config.DtwConfig, master, user [][]float64) float64 {
	if len(master) == 0 || len(user) == 0 {
		return math.Inf(1)
	}

	wVert, wDiag, wHoriz := weights(cfg.StepPattern)

	// Keep the inner (row) dimension the smaller sequence for space; the
	// recurrence is symmetric under swapping master/user because the
	// vertical and horizontal weights are always equal.
	outer, inner := master, user
	swapped := false
	if len(master) < len(user) {
		outer, inner = user, master
		swapped = true
	}
	M, N := len(outer), len(inner)
	ratio := float64(M) / float64(N)
	if swapped {
		// preserve the original i*(M/N) ratio against the true master axis
		ratio = float64(len(user)) / float64(len(master))
	}

	prev := make([]float64, N+1)
	curr := make([]float64, N+1)
	prevLen := make([]int, N+1)
	currLen := make([]int, N+1)
	for j := range prev {
		prev[j] = math.Inf(1)
	}
	prev[0] = 0
	for j := 1; j <= N; j++ {
		prevLen[j] = j // row 0: only horizontal moves are reachable
	}

	for i := 1; i <= M; i++ {
		curr[0] = math.Inf(1)
		currLen[0] = i // column 0: only vertical moves are reachable
		for j := 1; j <= N; j++ {
			if outOfBand(i-1, j-1, ratio, cfg.BandRadiusFrames) {
				curr[j] = math.Inf(1)
				currLen[j] = 0
				continue
			}

			var d float64
			if swapped {
				d = squaredEuclidean(inner[j-1], outer[i-1])
			} else {
				d = squaredEuclidean(outer[i-1], inner[j-1])
			}

			vert := prev[j] + wVert*d
			diag := prev[j-1] + wDiag*d
			horiz := curr[j-1] + wHoriz*d

			switch {
			case diag <= vert && diag <= horiz:
				curr[j] = d + diag
				currLen[j] = prevLen[j-1] + 1
			case vert <= horiz:
				curr[j] = d + vert
				currLen[j] = prevLen[j] + 1
			default:
				curr[j] = d + horiz
				currLen[j] = currLen[j-1] + 1
			}
		}
		prev, curr = curr, prev
		prevLen, currLen = currLen, prevLen
	}

	dist := prev[N]
	return normalize(dist, prevLen[N], M, N, cfg.DistanceNormalization)
}

// DistanceAligned returns the accumulated distance and its alignment
// path, using a full O(M*N) cost matrix so the path can be
// reconstructed. Callers who only need the scalar distance should use
// Distance instead.
func DistanceAligned(cfg config.DtwConfig, master, user [][]float64) Result {
	M, N := len(master), len(user)
	if M == 0 || N == 0 {
		return Result{Distance: math.Inf(1)}
	}

	wVert, wDiag, wHoriz := weights(cfg.StepPattern)
	ratio := float64(M) / float64(N)

	d := make([][]float64, M+1)
	for i := range d {
		d[i] = make([]float64, N+1)
		for j := range d[i] {
			d[i][j] = math.Inf(1)
		}
	}
	d[0][0] = 0

	for i := 1; i <= M; i++ {
		for j := 1; j <= N; j++ {
			if outOfBand(i-1, j-1, ratio, cfg.BandRadiusFrames) {
				continue
			}
			local := squaredEuclidean(master[i-1], user[j-1])
			d[i][j] = local + min3(
				d[i-1][j]+wVert*local,
				d[i-1][j-1]+wDiag*local,
				d[i][j-1]+wHoriz*local,
			)
		}
	}

	path := backtrack(d, master, user, wVert, wDiag, wHoriz)
	return Result{
		Distance: normalize(d[M][N], len(path), M, N, cfg.DistanceNormalization),
		Path:     path,
	}
}

func backtrack(d [][]float64, master, user [][]float64, wVert, wDiag, wHoriz float64) []Point {
	i, j := len(master), len(user)
	path := []Point{{I: i - 1, J: j - 1}}

	for i > 1 || j > 1 {
		switch {
		case i == 1:
			j--
		case j == 1:
			i--
		default:
			local := squaredEuclidean(master[i-1], user[j-1])
			vert := d[i-1][j] + wVert*local
			diag := d[i-1][j-1] + wDiag*local
			horiz := d[i][j-1] + wHoriz*local

			switch {
			case diag <= vert && diag <= horiz:
				i--
				j--
			case vert <= horiz:
				i--
			default:
				j--
			}
		}
		path = append(path, Point{I: i - 1, J: j - 1})
	}

	// path was built backward from the end; reverse it.
	for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
		path[l], path[r] = path[r], path[l]
	}
	return path
}

func squaredEuclidean(a, b []float64) float64 {
	diff := make([]float64, len(a))
	copy(diff, a)
	floats.Sub(diff, b)
	return floats.Dot(diff, diff)
}

func weights(pattern config.StepPattern) (vert, diag, horiz float64) {
	if pattern == config.StepSymmetric1 {
		return 1, 1, 1
	}
	return 1, 2, 1 // symmetric2, and the default
}

// outOfBand reports whether cell (i, j) (0-based) falls outside the
// Sakoe-Chiba band. radius <= 0 means unbounded.
func outOfBand(i, j int, ratio float64, radius int) bool {
	if radius <= 0 {
		return false
	}
	return math.Abs(float64(i)*ratio-float64(j)) > float64(radius)
}

// normalize applies the configured distance normalization. pathLen is the
// actual number of alignment steps (<= m+n, since a diagonal step
// advances both sequences at once); seq_sum instead always divides by the
// raw sum of the two sequence lengths, which is why the two modes
// diverge whenever the optimal path takes diagonal steps.
func normalize(dist float64, pathLen, m, n int, norm config.DistanceNormalization) float64 {
	if math.IsInf(dist, 1) {
		return dist
	}
	switch norm {
	case config.NormPathLength:
		return dist / float64(max(1, pathLen))
	case config.NormSeqSum:
		return dist / float64(max(1, m+n))
	default:
		return dist
	}
}

func min3(a, b, c float64) float64 {
	m := a
	if b < m {
		m = b
	}
	if c < m {
		m = c
	}
	return m
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
