// Package initializer implements the two-view initializer: parallel
// RANSAC over homography and fundamental-matrix models, model selection by
// score ratio, pose recovery by cheirality/parallax disambiguation, and
// optional 3D line-segment triangulation.
package initializer

import (
	"math/rand"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/plslam/geometry"
	"github.com/viam-labs/plslam/logging"
)

// Result is the outcome of a successful Initialize call.
type Result struct {
	Rotation        *mat.Dense
	Translation     r3.Vector
	Points3D        []r3.Vector
	Triangulated    []bool
	Lines3D         [][2]r3.Vector
	LineTriangulated []bool
	UsedHomography  bool
	RH              float64
}

// Initializer drives the two-view bootstrap over a fixed reference frame.
type Initializer struct {
	cfg    *Config
	logger logging.Logger
}

// New constructs an Initializer with the given config and logger.
func New(cfg *Config, logger logging.Logger) *Initializer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Initializer{cfg: cfg, logger: logger}
}

// Initialize attempts to bootstrap a 3D map from point correspondences
// between a reference frame (p1) and a current frame (p2), optionally
// triangulating 3D line segments from lineMatches. It returns (nil, err)
// only for malformed input (e.g. too few matches); all other failure modes
// (degenerate geometry, ambiguous disambiguation, insufficient parallax)
// are reported as (nil, nil) per the fail-clean policy of this system --
// the caller is expected to retry with a new frame pair.
func (ini *Initializer) Initialize(
	p1, p2 []geometry.PointFeature,
	matches []geometry.Match,
	k geometry.CameraIntrinsics,
	l1, l2 []geometry.LineFeature,
	lineMatches []geometry.Match,
) (*Result, error) {
	if len(matches) < 8 {
		return nil, errors.Errorf("initializer requires at least 8 matches, got %d", len(matches))
	}

	sets := sampleMinimalSets(rand.New(rand.NewSource(0)), len(matches), ini.cfg.MaxIterations)

	var (
		wg                       sync.WaitGroup
		hBest                    *mat.Dense
		hScore                   float64
		hInliers                 []bool
		fBest                    *mat.Dense
		fScore                   float64
		fInliers                 []bool
	)
	wg.Add(2)
	utils.PanicCapturingGo(func() {
		defer wg.Done()
		hBest, hScore, hInliers = findHomography(p1, p2, matches, sets, ini.cfg.Sigma)
	})
	utils.PanicCapturingGo(func() {
		defer wg.Done()
		fBest, fScore, fInliers = findFundamental(p1, p2, matches, sets, ini.cfg.Sigma)
	})
	wg.Wait()

	if hBest == nil || fBest == nil || (hScore+fScore) == 0 {
		ini.logger.Warn("initializer: both H and F estimation degenerate")
		return nil, nil
	}

	rH := hScore / (hScore + fScore)

	var (
		r            *mat.Dense
		t            r3.Vector
		pts          []r3.Vector
		triangulated []bool
		ok           bool
		usedH        bool
	)

	if rH > ini.cfg.RHThreshold {
		usedH = true
		r, t, pts, triangulated, ok = ini.reconstructH(hBest, hInliers, p1, p2, matches, k)
	} else {
		r, t, pts, triangulated, ok = ini.reconstructF(fBest, fInliers, p1, p2, matches, k)
	}
	if !ok {
		ini.logger.Infow("initializer: reconstruction failed", "rH", rH, "usedHomography", usedH)
		return nil, nil
	}

	res := &Result{
		Rotation:       r,
		Translation:    t,
		Points3D:       pts,
		Triangulated:   triangulated,
		UsedHomography: usedH,
		RH:             rH,
	}

	if len(lineMatches) > 0 {
		lines3D, lineOK := ini.reconstructLine(l1, l2, lineMatches, k, r, t)
		res.Lines3D = lines3D
		res.LineTriangulated = lineOK
	}

	return res, nil
}

// sampleMinimalSets precomputes `iterations` 8-sample index subsets over
// [0, n), each holding 8 distinct indices (different subsets may overlap), using swap-and-pop sampling from a single seeded RNG, matching
// the deterministic-reproducibility design note: the same seed always
// produces the same RANSAC samples for a given match count.
func sampleMinimalSets(rng *rand.Rand, n, iterations int) [][8]int {
	sets := make([][8]int, iterations)
	for it := 0; it < iterations; it++ {
		available := make([]int, n)
		for i := range available {
			available[i] = i
		}
		var sample [8]int
		for j := 0; j < 8; j++ {
			idx := rng.Intn(len(available))
			sample[j] = available[idx]
			available[idx] = available[len(available)-1]
			available = available[:len(available)-1]
		}
		sets[it] = sample
	}
	return sets
}

func gatherPoints(feats []geometry.PointFeature, matches []geometry.Match, sample [8]int, useIdx1 bool) []r2.Point {
	out := make([]r2.Point, 8)
	for i, s := range sample {
		idx := matches[s].Idx1
		if !useIdx1 {
			idx = matches[s].Idx2
		}
		out[i] = feats[idx].Point
	}
	return out
}

func findHomography(p1, p2 []geometry.PointFeature, matches []geometry.Match, sets [][8]int, sigma float64) (*mat.Dense, float64, []bool) {
	var best *mat.Dense
	var bestScore float64
	var bestInliers []bool

	for _, sample := range sets {
		s1 := gatherPoints(p1, matches, sample, true)
		s2 := gatherPoints(p2, matches, sample, false)

		n1, t1 := geometry.Normalize(s1)
		n2, t2 := geometry.Normalize(s2)

		hn := geometry.ComputeH21(n1, n2)
		if hn == nil {
			continue
		}

		var t2Inv mat.Dense
		if err := t2Inv.Inverse(t2); err != nil {
			continue
		}
		var h21 mat.Dense
		h21.Mul(&t2Inv, hn)
		h21.Mul(&h21, t1)

		var h12 mat.Dense
		if err := h12.Inverse(&h21); err != nil {
			continue
		}

		score, inliers := geometry.CheckHomography(&h21, &h12, p1, p2, matches, sigma)
		if best == nil || score > bestScore {
			best = mat.DenseCopyOf(&h21)
			bestScore = score
			bestInliers = inliers
		}
	}
	return best, bestScore, bestInliers
}

func findFundamental(p1, p2 []geometry.PointFeature, matches []geometry.Match, sets [][8]int, sigma float64) (*mat.Dense, float64, []bool) {
	var best *mat.Dense
	var bestScore float64
	var bestInliers []bool

	for _, sample := range sets {
		s1 := gatherPoints(p1, matches, sample, true)
		s2 := gatherPoints(p2, matches, sample, false)

		n1, t1 := geometry.Normalize(s1)
		n2, t2 := geometry.Normalize(s2)

		fn := geometry.ComputeF21(n1, n2)
		if fn == nil {
			continue
		}

		var f21 mat.Dense
		f21.Mul(transposeOf(t2), fn)
		f21.Mul(&f21, t1)

		score, inliers := geometry.CheckFundamental(&f21, p1, p2, matches, sigma)
		if best == nil || score > bestScore {
			best = mat.DenseCopyOf(&f21)
			bestScore = score
			bestInliers = inliers
		}
	}
	return best, bestScore, bestInliers
}

func transposeOf(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(c, r, nil)
	out.Copy(m.T())
	return out
}
