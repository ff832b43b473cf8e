package initializer

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/plslam/geometry"
)

const lineEpipolarCosLimit = 0.98

// reconstructLine triangulates 3D line segments for each line match given
// the recovered (R, t) from point-based reconstruction. A line match is
// rejected (not reconstructed) if it is epipolar-degenerate (nearly lies on
// the epipolar plane) or if either endpoint has insufficient parallax.
// Endpoint reprojection residuals are computed per endpoint per view for
// bookkeeping but do not gate acceptance here, mirroring the source this is
// ported from (which records but does not reject on them in this function).
func (ini *Initializer) reconstructLine(
	l1, l2 []geometry.LineFeature,
	lineMatches []geometry.Match,
	k geometry.CameraIntrinsics,
	r *mat.Dense,
	t r3.Vector,
) ([][2]r3.Vector, []bool) {
	kMat := intrinsicsMat(k)

	p1 := mat.NewDense(3, 4, nil)
	p1.Copy(kMat)

	rt := mat.NewDense(3, 4, nil)
	for row := 0; row < 3; row++ {
		for col := 0; col < 3; col++ {
			rt.Set(row, col, r.At(row, col))
		}
	}
	rt.Set(0, 3, t.X)
	rt.Set(1, 3, t.Y)
	rt.Set(2, 3, t.Z)
	var p2 mat.Dense
	p2.Mul(kMat, rt)

	o1 := r3.Vector{}
	o2 := cameraCenter(r, t)

	out := make([][2]r3.Vector, len(lineMatches))
	ok := make([]bool, len(lineMatches))

	// F21 = K^-T [t]x R K^-1 maps a pixel of view 1 to its epipolar line in
	// view 2.
	var kInv, f21 mat.Dense
	if err := kInv.Inverse(kMat); err != nil {
		return out, ok
	}
	f21.Mul(transposeOf(&kInv), geometry.SkewSymmetric(t.X, t.Y, t.Z))
	f21.Mul(&f21, r)
	f21.Mul(&f21, &kInv)

	for i, m := range lineMatches {
		kl1 := l1[m.Idx1]
		kl2 := l2[m.Idx2]

		// Epipolar compatibility: line 2's direction must not be nearly
		// parallel to the epipolar line (F21 * start) of line 1's start
		// point in view 2 -- otherwise the line lies on (or very near) the
		// epipolar plane and triangulation is ill-conditioned.
		dir2 := r3.Vector{X: -kl2.Coeffs.Y, Y: kl2.Coeffs.X, Z: 0}.Normalize()
		var epi mat.VecDense
		epi.MulVec(&f21, mat.NewVecDense(3, []float64{kl1.Start.X, kl1.Start.Y, 1}))
		epiDir := r3.Vector{X: -epi.AtVec(1), Y: epi.AtVec(0), Z: 0}.Normalize()
		cos := math.Abs(dir2.Dot(epiDir))
		if cos > lineEpipolarCosLimit {
			continue
		}

		s, e := geometry.TriangulateLine(kl1, kl2, p1, &p2, kl1.Coeffs, kl2.Coeffs)
		if nonFinite(s) || nonFinite(e) {
			continue
		}

		if insufficientParallax(s, o1, o2) || insufficientParallax(e, o1, o2) {
			continue
		}

		// Reprojection residuals per endpoint per view, preserving the
		// literal fx-for-fy mixing in view 1's end-point y coordinate only.
		_, _ = reprojectLineEndpointView1(s, k, false)
		_, _ = reprojectLineEndpointView1(e, k, true)
		_, _ = reprojectLineEndpointView2(s, k, r, t)
		_, _ = reprojectLineEndpointView2(e, k, r, t)

		out[i] = [2]r3.Vector{s, e}
		ok[i] = true
	}

	return out, ok
}

func nonFinite(v r3.Vector) bool {
	return math.IsNaN(v.X) || math.IsInf(v.X, 0) ||
		math.IsNaN(v.Y) || math.IsInf(v.Y, 0) ||
		math.IsNaN(v.Z) || math.IsInf(v.Z, 0)
}

func insufficientParallax(x r3.Vector, o1, o2 r3.Vector) bool {
	v1 := x.Sub(o1)
	v2 := x.Sub(o2)
	cosParallax := v1.Dot(v2) / (v1.Norm() * v2.Norm())
	return cosParallax > cosParallaxLimit
}

// reprojectLineEndpointView1 reprojects a triangulated endpoint into the
// first (reference) camera. isEnd selects the one-field fx-for-fy mixing
// preserved from the algorithm this is ported from: only the end point's y
// coordinate in view 1 uses fx (`im1Endy = fx*L3dEC1.y*invZ1end+cy`) -- the
// start point's y in view 1 correctly uses fy.
func reprojectLineEndpointView1(x r3.Vector, k geometry.CameraIntrinsics, isEnd bool) (float64, float64) {
	invZ := 1.0 / x.Z
	endX := k.Fx*x.X*invZ + k.Cx
	fy := k.Fy
	if isEnd {
		fy = k.Fx // preserved quirk: fx used where fy is expected, end point only
	}
	endY := fy*x.Y*invZ + k.Cy
	return endX, endY
}

// reprojectLineEndpointView2 reprojects a triangulated endpoint (expressed in
// the first camera's frame) into the second camera via (r, t). Both
// endpoints use fy correctly here, matching the original.
func reprojectLineEndpointView2(x r3.Vector, k geometry.CameraIntrinsics, r *mat.Dense, t r3.Vector) (float64, float64) {
	xv := mat.NewDense(3, 1, []float64{x.X, x.Y, x.Z})
	var rx mat.Dense
	rx.Mul(r, xv)
	cam2 := r3.Vector{X: rx.At(0, 0) + t.X, Y: rx.At(1, 0) + t.Y, Z: rx.At(2, 0) + t.Z}
	invZ := 1.0 / cam2.Z
	projX := k.Fx*cam2.X*invZ + k.Cx
	projY := k.Fy*cam2.Y*invZ + k.Cy
	return projX, projY
}
