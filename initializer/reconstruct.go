package initializer

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/plslam/geometry"
)

const (
	minGoodAbsolute   = 50
	cosParallaxLimit  = 0.99998
	reprojThFactor    = 4.0 // times sigma^2
	ambiguityFraction = 0.70
	hSecondBestFrac   = 0.75
)

type poseHypothesis struct {
	r *mat.Dense
	t r3.Vector
}

// reconstructF recovers (R, t) from the best fundamental-matrix hypothesis
// by enumerating the four sign combinations of DecomposeE and disambiguating
// via CheckRT.
func (ini *Initializer) reconstructF(
	f *mat.Dense,
	inliers []bool,
	p1, p2 []geometry.PointFeature,
	matches []geometry.Match,
	k geometry.CameraIntrinsics,
) (*mat.Dense, r3.Vector, []r3.Vector, []bool, bool) {
	kMat := intrinsicsMat(k)
	var e, tmp mat.Dense
	tmp.Mul(transposeOf(kMat), f)
	e.Mul(&tmp, kMat)

	r1, r2m, tCol := geometry.DecomposeE(&e)
	if r1 == nil {
		return nil, r3.Vector{}, nil, nil, false
	}
	t := r3.Vector{X: tCol.At(0, 0), Y: tCol.At(1, 0), Z: tCol.At(2, 0)}
	negT := r3.Vector{X: -t.X, Y: -t.Y, Z: -t.Z}

	hyps := []poseHypothesis{
		{r1, t}, {r2m, t}, {r1, negT}, {r2m, negT},
	}

	return ini.selectBestHypothesis(hyps, inliers, p1, p2, matches, k)
}

// reconstructH recovers (R, t) from the best homography hypothesis by
// enumerating DecomposeH's up-to-eight (R, t, n) hypotheses.
func (ini *Initializer) reconstructH(
	h *mat.Dense,
	inliers []bool,
	p1, p2 []geometry.PointFeature,
	matches []geometry.Match,
	k geometry.CameraIntrinsics,
) (*mat.Dense, r3.Vector, []r3.Vector, []bool, bool) {
	kMat := intrinsicsMat(k)
	decomps := geometry.DecomposeH(h, kMat)
	if decomps == nil {
		return nil, r3.Vector{}, nil, nil, false
	}

	hyps := make([]poseHypothesis, len(decomps))
	for i, d := range decomps {
		hyps[i] = poseHypothesis{d.R, r3.Vector{X: d.T.At(0, 0), Y: d.T.At(1, 0), Z: d.T.At(2, 0)}}
	}

	return ini.selectBestHypothesisH(hyps, inliers, p1, p2, matches, k)
}

// selectBestHypothesis implements ReconstructF's disambiguation rule: reject
// if the best hypothesis doesn't clear max(0.9*N, 50) good triangulations,
// reject if more than one hypothesis reaches 70% of the best (ambiguous),
// otherwise require minParallax degrees of parallax on the winner.
func (ini *Initializer) selectBestHypothesis(
	hyps []poseHypothesis,
	inliers []bool,
	p1, p2 []geometry.PointFeature,
	matches []geometry.Match,
	k geometry.CameraIntrinsics,
) (*mat.Dense, r3.Vector, []r3.Vector, []bool, bool) {
	type counted struct {
		nGood    int
		points   []r3.Vector
		flags    []bool
		parallax float64
		hyp      poseHypothesis
	}

	results := make([]counted, len(hyps))
	nInliers := countTrue(inliers)
	for i, h := range hyps {
		nGood, pts, flags, parallax := ini.checkRT(h.r, h.t, p1, p2, matches, inliers, k)
		results[i] = counted{nGood, pts, flags, parallax, h}
	}

	bestIdx := 0
	for i := range results {
		if results[i].nGood > results[bestIdx].nGood {
			bestIdx = i
		}
	}
	maxGood := results[bestIdx].nGood

	minGood := int(0.9 * float64(nInliers))
	if minGood < minGoodAbsolute {
		minGood = minGoodAbsolute
	}
	if maxGood < minGood {
		return nil, r3.Vector{}, nil, nil, false
	}

	similarCount := 0
	for _, res := range results {
		if float64(res.nGood) >= ambiguityFraction*float64(maxGood) {
			similarCount++
		}
	}
	if similarCount > 1 {
		return nil, r3.Vector{}, nil, nil, false
	}

	if results[bestIdx].parallax < ini.cfg.MinParallaxDeg {
		return nil, r3.Vector{}, nil, nil, false
	}

	best := results[bestIdx]
	return best.hyp.r, best.hyp.t, best.points, best.flags, true
}

// selectBestHypothesisH implements ReconstructH's disambiguation rule:
// accept iff the second-best count is below 75% of the best, the best
// clears minGoodAbsolute and 90% of N, and parallax clears the minimum.
func (ini *Initializer) selectBestHypothesisH(
	hyps []poseHypothesis,
	inliers []bool,
	p1, p2 []geometry.PointFeature,
	matches []geometry.Match,
	k geometry.CameraIntrinsics,
) (*mat.Dense, r3.Vector, []r3.Vector, []bool, bool) {
	type counted struct {
		nGood    int
		points   []r3.Vector
		flags    []bool
		parallax float64
		hyp      poseHypothesis
	}

	nInliers := countTrue(inliers)
	results := make([]counted, len(hyps))
	for i, h := range hyps {
		nGood, pts, flags, parallax := ini.checkRT(h.r, h.t, p1, p2, matches, inliers, k)
		results[i] = counted{nGood, pts, flags, parallax, h}
	}

	bestIdx, secondIdx := -1, -1
	for i := range results {
		if bestIdx == -1 || results[i].nGood > results[bestIdx].nGood {
			secondIdx = bestIdx
			bestIdx = i
		} else if secondIdx == -1 || results[i].nGood > results[secondIdx].nGood {
			secondIdx = i
		}
	}
	best := results[bestIdx]

	secondBest := 0
	if secondIdx >= 0 {
		secondBest = results[secondIdx].nGood
	}

	minGood := int(0.9 * float64(nInliers))
	if float64(secondBest) >= hSecondBestFrac*float64(best.nGood) {
		return nil, r3.Vector{}, nil, nil, false
	}
	if best.nGood < minGoodAbsolute || best.nGood <= minGood {
		return nil, r3.Vector{}, nil, nil, false
	}
	if best.parallax < ini.cfg.MinParallaxDeg {
		return nil, r3.Vector{}, nil, nil, false
	}

	return best.hyp.r, best.hyp.t, best.points, best.flags, true
}

// checkRT triangulates every inlier match under hypothesis (r, t), rejecting
// those that fail cheirality or reprojection, and returns the count of
// surviving ("good") triangulations, their 3D positions, a per-match good
// flag, and the robust-percentile parallax angle in degrees.
func (ini *Initializer) checkRT(
	r *mat.Dense,
	t r3.Vector,
	p1, p2 []geometry.PointFeature,
	matches []geometry.Match,
	inliers []bool,
	k geometry.CameraIntrinsics,
) (int, []r3.Vector, []bool, float64) {
	kMat := intrinsicsMat(k)

	p1proj := mat.NewDense(3, 4, nil)
	p1proj.Copy(kMat)

	rt := mat.NewDense(3, 4, nil)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			rt.Set(row, col, r.At(row, col))
		}
	}
	rt.Set(0, 3, t.X)
	rt.Set(1, 3, t.Y)
	rt.Set(2, 3, t.Z)
	var p2proj mat.Dense
	p2proj.Mul(kMat, rt)

	o1 := r3.Vector{}
	o2 := cameraCenter(r, t)

	points := make([]r3.Vector, len(matches))
	flags := make([]bool, len(matches))
	cosParallaxes := make([]float64, 0, len(matches))

	nGood := 0
	sigma2 := ini.cfg.Sigma * ini.cfg.Sigma
	reprojTh := reprojThFactor * sigma2

	for i, m := range matches {
		if !inliers[i] {
			continue
		}
		kp1 := p1[m.Idx1].Point
		kp2 := p2[m.Idx2].Point

		x3D := geometry.TriangulatePoint(kp1, kp2, p1proj, &p2proj)
		if math.IsNaN(x3D.X) || math.IsInf(x3D.X, 0) || math.IsNaN(x3D.Y) || math.IsNaN(x3D.Z) {
			continue
		}

		v1 := x3D.Sub(o1)
		v2 := x3D.Sub(o2)
		cosParallax := v1.Dot(v2) / (v1.Norm() * v2.Norm())

		z1 := x3D.Z
		if z1 <= 0 && cosParallax < cosParallaxLimit {
			continue
		}
		r2vec := applyPose(r, t, x3D)
		z2 := r2vec.Z
		if z2 <= 0 && cosParallax < cosParallaxLimit {
			continue
		}

		err1 := reprojErr(kp1, x3D, p1proj)
		if err1 > reprojTh {
			continue
		}
		err2 := reprojErr(kp2, x3D, &p2proj)
		if err2 > reprojTh {
			continue
		}

		points[i] = x3D
		flags[i] = true
		nGood++
		if cosParallax < cosParallaxLimit {
			cosParallaxes = append(cosParallaxes, cosParallax)
		}
	}

	parallaxDeg := 0.0
	if len(cosParallaxes) > 0 {
		sort.Float64s(cosParallaxes)
		idx := 50
		if idx > len(cosParallaxes)-1 {
			idx = len(cosParallaxes) - 1
		}
		parallaxDeg = math.Acos(cosParallaxes[idx]) * 180.0 / math.Pi
	}

	return nGood, points, flags, parallaxDeg
}

func applyPose(r *mat.Dense, t r3.Vector, x r3.Vector) r3.Vector {
	xv := mat.NewDense(3, 1, []float64{x.X, x.Y, x.Z})
	var rx mat.Dense
	rx.Mul(r, xv)
	return r3.Vector{X: rx.At(0, 0) + t.X, Y: rx.At(1, 0) + t.Y, Z: rx.At(2, 0) + t.Z}
}

func cameraCenter(r *mat.Dense, t r3.Vector) r3.Vector {
	// C = -R^T * t
	rt := transposeOf(r)
	tv := mat.NewDense(3, 1, []float64{t.X, t.Y, t.Z})
	var c mat.Dense
	c.Mul(rt, tv)
	return r3.Vector{X: -c.At(0, 0), Y: -c.At(1, 0), Z: -c.At(2, 0)}
}

func reprojErr(kp r2.Point, x3D r3.Vector, p *mat.Dense) float64 {
	xv := mat.NewDense(4, 1, []float64{x3D.X, x3D.Y, x3D.Z, 1})
	var proj mat.Dense
	proj.Mul(p, xv)
	w := proj.At(2, 0)
	u := proj.At(0, 0) / w
	v := proj.At(1, 0) / w
	du := u - kp.X
	dv := v - kp.Y
	return du*du + dv*dv
}

func intrinsicsMat(k geometry.CameraIntrinsics) *mat.Dense {
	kk := k.K()
	data := make([]float64, 9)
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			data[r*3+c] = kk[r][c]
		}
	}
	return mat.NewDense(3, 3, data)
}

func countTrue(flags []bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
