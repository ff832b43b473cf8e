package localmapping

import (
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/plslam/geometry"
	"github.com/viam-labs/plslam/slammap"
)

const (
	minBaselineRatio  = 0.01
	reprojChiSqThresh = 5.991
	scaleRatioFactor  = 1.5

	lineDegenerateCos = 0.0087
	// lineParallelCosLim rejects a candidate line match whose endpoint's
	// epipolar line in the matched view runs nearly parallel to the matched
	// line's own direction there, per LocalMapping.cc's
	// CreateNewMapLinesConstraint.
	lineParallelCosLim = 0.996
	lineParallaxCosLim = 0.99998
	lineMinDepthFrac   = 0.3
	lineReprojChiSq    = 3.84
	lineOverlapFrac    = 0.85
)

// topCovisible returns up to n neighbor keyframes of kf ordered by
// descending covisibility weight.
func topCovisible(m *slammap.Map, kf *slammap.KeyFrame, n int) []*slammap.KeyFrame {
	type weighted struct {
		kf     *slammap.KeyFrame
		weight int
	}
	var candidates []weighted
	for nid, w := range kf.Covisibility() {
		neighbor, ok := m.KeyFrame(nid)
		if !ok || neighbor.IsBad() {
			continue
		}
		candidates = append(candidates, weighted{neighbor, w})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].weight > candidates[j].weight })
	if len(candidates) > n {
		candidates = candidates[:n]
	}
	out := make([]*slammap.KeyFrame, len(candidates))
	for i, c := range candidates {
		out[i] = c.kf
	}
	return out
}

// relativePose returns (R12, t12) such that X_cam1 = R12*X_cam2 + t12, per
// ComputeF12's convention: R12 = R1w*R2w^T, t12 = -R12*t2w + t1w.
func relativePose(kf1, kf2 *slammap.KeyFrame) (*mat.Dense, r3.Vector) {
	p1 := kf1.Pose()
	p2 := kf2.Pose()

	var r12 mat.Dense
	r12.Mul(p1.Rotation, p2.Rotation.T())

	t2w := mat.NewDense(3, 1, []float64{p2.Translation.X, p2.Translation.Y, p2.Translation.Z})
	var r12t2w mat.Dense
	r12t2w.Mul(&r12, t2w)

	t12 := r3.Vector{
		X: -r12t2w.At(0, 0) + p1.Translation.X,
		Y: -r12t2w.At(1, 0) + p1.Translation.Y,
		Z: -r12t2w.At(2, 0) + p1.Translation.Z,
	}
	out := mat.NewDense(3, 3, nil)
	out.Copy(&r12)
	return out, t12
}

func intrinsicsMatrix(k geometry.CameraIntrinsics) *mat.Dense {
	kk := k.K()
	return mat.NewDense(3, 3, []float64{
		kk[0][0], kk[0][1], kk[0][2],
		kk[1][0], kk[1][1], kk[1][2],
		kk[2][0], kk[2][1], kk[2][2],
	})
}

// projectionKF2RelativeToKF1 builds P2 = K2*[R21|t21], the projection that
// takes a point expressed in kf1's camera frame to kf2's pixel coordinates,
// where R21/t21 invert the (R12,t12) convention above (X_cam2 = R21*X_cam1 + t21).
func projectionKF2RelativeToKF1(kf1, kf2 *slammap.KeyFrame) *mat.Dense {
	r12, t12 := relativePose(kf1, kf2)

	var r21 mat.Dense
	r21.CloneFrom(r12.T())

	t21v := mat.NewDense(3, 1, []float64{t12.X, t12.Y, t12.Z})
	var r21t mat.Dense
	r21t.Mul(&r21, t21v)
	t21 := r3.Vector{X: -r21t.At(0, 0), Y: -r21t.At(1, 0), Z: -r21t.At(2, 0)}

	k2 := intrinsicsMatrix(kf2.Intrinsics)
	ext := mat.NewDense(3, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			ext.Set(i, j, r21.At(i, j))
		}
	}
	ext.Set(0, 3, t21.X)
	ext.Set(1, 3, t21.Y)
	ext.Set(2, 3, t21.Z)

	var p mat.Dense
	p.Mul(k2, ext)
	out := mat.NewDense(3, 4, nil)
	out.Copy(&p)
	return out
}

func projectionIdentity(k geometry.CameraIntrinsics) *mat.Dense {
	km := intrinsicsMatrix(k)
	ext := mat.NewDense(3, 4, []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0})
	var p mat.Dense
	p.Mul(km, ext)
	out := mat.NewDense(3, 4, nil)
	out.Copy(&p)
	return out
}

// camToWorld maps a point expressed in kf's camera frame into world
// coordinates: X_world = R^T*(X_cam - t).
func camToWorld(kf *slammap.KeyFrame, xCam r3.Vector) r3.Vector {
	pose := kf.Pose()
	d := xCam.Sub(pose.Translation)
	dv := mat.NewDense(3, 1, []float64{d.X, d.Y, d.Z})
	var out mat.Dense
	out.Mul(pose.Rotation.T(), dv)
	return r3.Vector{X: out.At(0, 0), Y: out.At(1, 0), Z: out.At(2, 0)}
}

func worldToCam(kf *slammap.KeyFrame, xWorld r3.Vector) r3.Vector {
	pose := kf.Pose()
	xv := mat.NewDense(3, 1, []float64{xWorld.X, xWorld.Y, xWorld.Z})
	var rx mat.Dense
	rx.Mul(pose.Rotation, xv)
	return r3.Vector{
		X: rx.At(0, 0) + pose.Translation.X,
		Y: rx.At(1, 0) + pose.Translation.Y,
		Z: rx.At(2, 0) + pose.Translation.Z,
	}
}

func finiteVec(v r3.Vector) bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsNaN(v.Z) &&
		!math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0) && !math.IsInf(v.Z, 0)
}

func sigmaLevel(kf *slammap.KeyFrame, idx int) float64 {
	if idx < 0 || idx >= len(kf.Points) {
		return 1.0
	}
	s := kf.Points[idx].ScaleSigma2
	if s <= 0 {
		return 1.0
	}
	return s
}

func reprojChiSq(kf *slammap.KeyFrame, kp geometry.PointFeature, worldPoint r3.Vector) float64 {
	xCam := worldToCam(kf, worldPoint)
	if xCam.Z <= 0 {
		return math.Inf(1)
	}
	k := kf.Intrinsics
	u := k.Fx*xCam.X/xCam.Z + k.Cx
	v := k.Fy*xCam.Y/xCam.Z + k.Cy
	du := u - kp.Point.X
	dv := v - kp.Point.Y
	return du*du + dv*dv
}

// createNewMapPoints triangulates new MapPoints between kf and each of its
// top-nn covisible neighbors.
func (lm *LocalMapper) createNewMapPoints(kf *slammap.KeyFrame) {
	depth := lm.m.MedianSceneDepth(kf)
	if depth <= 0 {
		return
	}
	center1 := kf.Pose().CameraCenter()

	p1 := projectionIdentity(kf.Intrinsics)

	for _, kf2 := range topCovisible(lm.m, kf, lm.cfg.PointNeighbors) {
		center2 := kf2.Pose().CameraCenter()
		baseline := center1.Sub(center2).Norm()
		if baseline/depth < minBaselineRatio {
			continue
		}

		f12 := ComputeF12(kf, kf2)
		matches := lm.matcher.SearchForTriangulation(kf, kf2, f12)
		p2 := projectionKF2RelativeToKF1(kf, kf2)

		for _, match := range matches {
			if match.Idx1 >= len(kf.Points) || match.Idx2 >= len(kf2.Points) {
				continue
			}
			kp1 := kf.Points[match.Idx1]
			kp2 := kf2.Points[match.Idx2]

			xCam1 := geometry.TriangulatePoint(kp1.Point, kp2.Point, p1, p2)
			if !finiteVec(xCam1) || xCam1.Z <= 0 {
				continue
			}
			xCam2 := worldToCam(kf2, camToWorld(kf, xCam1))
			if xCam2.Z <= 0 {
				continue
			}
			worldPoint := camToWorld(kf, xCam1)
			if !finiteVec(worldPoint) {
				continue
			}

			if reprojChiSq(kf, kp1, worldPoint) > reprojChiSqThresh*sigmaLevel(kf, match.Idx1) {
				continue
			}
			if reprojChiSq(kf2, kp2, worldPoint) > reprojChiSqThresh*sigmaLevel(kf2, match.Idx2) {
				continue
			}

			dist1 := worldPoint.Sub(center1).Norm()
			dist2 := worldPoint.Sub(center2).Norm()
			if dist1 <= 0 || dist2 <= 0 {
				continue
			}
			scale1 := scaleAt(kf, match.Idx1)
			scale2 := scaleAt(kf2, match.Idx2)
			scaleRatio := scale2 / scale1
			distRatio := dist2 / dist1
			lo := scaleRatio / scaleRatioFactor
			hi := scaleRatio * scaleRatioFactor
			if distRatio < lo || distRatio > hi {
				continue
			}

			mp := slammap.NewMapPoint(lm.m.NextMapPointID(), worldPoint, kf.ID)
			lm.m.AddMapPoint(mp)
			mp.AddObservation(kf.ID, match.Idx1)
			mp.AddObservation(kf2.ID, match.Idx2)
			kf.AddMapPointObservation(match.Idx1, mp.ID)
			kf2.AddMapPointObservation(match.Idx2, mp.ID)

			lm.recentMu.Lock()
			lm.recentAddedPoints = append(lm.recentAddedPoints, mp.ID)
			lm.recentMu.Unlock()
		}
	}
}

// lineWorldDirection intersects the back-projected planes of l2 (seen from
// kf2) and l3 (seen from kf3) to recover the world-space line direction a
// genuine 3D line through those two sightings would need to have, used only
// as a degeneracy probe against l1's own direction.
func lineWorldDirection(kf2, kf3 *slammap.KeyFrame, l2, l3 geometry.LineFeature) (r3.Vector, bool) {
	n2 := planeNormalCam(kf2, l2)
	n3 := planeNormalCam(kf3, l3)
	d := n2.Cross(n3)
	if d.Norm() < 1e-12 {
		return r3.Vector{}, false
	}
	return d.Normalize(), true
}

// planeNormalCam returns the normal (in world coordinates) of the plane
// through the camera center and the observed line, formed from the line's
// homogeneous coefficients back-projected through the intrinsics.
func planeNormalCam(kf *slammap.KeyFrame, l geometry.LineFeature) r3.Vector {
	k := kf.Intrinsics
	a, b, c := l.Coeffs.X, l.Coeffs.Y, l.Coeffs.Z
	// K^T * line gives the plane normal in the camera's normalized-ray
	// coordinates for a line expressed in pixel coordinates.
	camNormal := r3.Vector{X: a * k.Fx, Y: b * k.Fy, Z: a*k.Cx + b*k.Cy + c}

	pose := kf.Pose()
	nv := mat.NewDense(3, 1, []float64{camNormal.X, camNormal.Y, camNormal.Z})
	var worldN mat.Dense
	worldN.Mul(pose.Rotation.T(), nv)
	return r3.Vector{X: worldN.At(0, 0), Y: worldN.At(1, 0), Z: worldN.At(2, 0)}
}

func lineTripleGeometryOK(l1, l2, l3 geometry.LineFeature, kf2, kf3 *slammap.KeyFrame) bool {
	dir, ok := lineWorldDirection(kf2, kf3, l2, l3)
	if !ok {
		return false
	}
	l1dir := l1.End.Sub(l1.Start)
	l1n := r3.Vector{X: l1dir.X, Y: l1dir.Y, Z: 0}.Normalize()
	cos := math.Abs(l1n.Dot(dir))
	return cos < lineDegenerateCos
}

// triangulateLineTriple triangulates a MapLine's endpoints using kf as the
// reference frame and kf2/kf3 as the constraining views.
func triangulateLineTriple(kf, kf2, kf3 *slammap.KeyFrame, l1, l2, l3 geometry.LineFeature) (r3.Vector, r3.Vector, bool) {
	p1 := projectionIdentity(kf.Intrinsics)
	p2 := projectionKF2RelativeToKF1(kf, kf2)
	p3 := projectionKF2RelativeToKF1(kf, kf3)

	l2Line := lineCoeffsFromEndpoints(l2.Start, l2.End)
	l3Line := lineCoeffsFromEndpoints(l3.Start, l3.End)

	sCam := geometry.TriangulateLineThreeView(l1.Start, p1, p2, p3, l2Line, l3Line)
	eCam := geometry.TriangulateLineThreeView(l1.End, p1, p2, p3, l2Line, l3Line)
	if !finiteVec(sCam) || !finiteVec(eCam) {
		return r3.Vector{}, r3.Vector{}, false
	}
	if sCam.Z <= 0 || eCam.Z <= 0 {
		return r3.Vector{}, r3.Vector{}, false
	}

	s := camToWorld(kf, sCam)
	e := camToWorld(kf, eCam)
	return s, e, true
}

func lineCoeffsFromEndpoints(s, e r2.Point) r3.Vector {
	a := e.Y - s.Y
	b := s.X - e.X
	c := -(a*s.X + b*s.Y)
	return r3.Vector{X: a, Y: b, Z: c}
}

func lineQualityOK(kf, kf2, kf3 *slammap.KeyFrame, l1, l2, l3 geometry.LineFeature, s, e r3.Vector, medianDepth float64) bool {
	center := kf.Pose().CameraCenter()
	ds := s.Sub(center).Norm()
	de := e.Sub(center).Norm()
	if ds < lineMinDepthFrac*medianDepth || de < lineMinDepthFrac*medianDepth {
		return false
	}
	if s.Sub(e).Norm() > medianDepth {
		return false
	}

	views := []*slammap.KeyFrame{kf, kf2, kf3}
	sufficientParallax := 0
	for _, k := range views {
		camS := worldToCam(k, s)
		camE := worldToCam(k, e)
		if camS.Z <= 0 || camE.Z <= 0 {
			return false
		}
		dirCos := math.Abs(camS.Normalize().Dot(camE.Normalize()))
		if dirCos < lineParallaxCosLim {
			sufficientParallax++
		}
	}
	if sufficientParallax < 2 {
		return false
	}

	obs := []geometry.LineFeature{l1, l2, l3}
	for i, k := range views {
		if !lineReprojectionOK(k, obs[i], s, e) {
			return false
		}
		if !lineOverlapOK(k, obs[i], s, e) {
			return false
		}
	}
	return true
}

// lineReprojectionOK checks that both reprojected endpoints lie within the
// line-level reprojection chi-square threshold of the observed line
// equation.
func lineReprojectionOK(kf *slammap.KeyFrame, observed geometry.LineFeature, s, e r3.Vector) bool {
	sigma := 1.0
	if observed.Octave >= 0 {
		sigma = observed.ScaleSigma2
		if sigma <= 0 {
			sigma = 1.0
		}
	}
	for _, w := range []r3.Vector{s, e} {
		cam := worldToCam(kf, w)
		if cam.Z <= 0 {
			return false
		}
		k := kf.Intrinsics
		u := k.Fx*cam.X/cam.Z + k.Cx
		v := k.Fy*cam.Y/cam.Z + k.Cy
		a, b, c := observed.Coeffs.X, observed.Coeffs.Y, observed.Coeffs.Z
		d := a*u + b*v + c
		if d*d > lineReprojChiSq*sigma {
			return false
		}
	}
	return true
}

// lineOverlapOK checks that the reprojected segment and the observed segment
// overlap by at least lineOverlapFrac of each other's extent along the
// dominant axis.
func lineOverlapOK(kf *slammap.KeyFrame, observed geometry.LineFeature, s, e r3.Vector) bool {
	camS := worldToCam(kf, s)
	camE := worldToCam(kf, e)
	if camS.Z <= 0 || camE.Z <= 0 {
		return false
	}
	k := kf.Intrinsics
	projS := r2.Point{X: k.Fx*camS.X/camS.Z + k.Cx, Y: k.Fy*camS.Y/camS.Z + k.Cy}
	projE := r2.Point{X: k.Fx*camE.X/camE.Z + k.Cx, Y: k.Fy*camE.Y/camE.Z + k.Cy}

	yDominant := math.Abs(observed.Angle) > math.Pi/4 && math.Abs(observed.Angle) < 3*math.Pi/4

	var oLo, oHi, pLo, pHi float64
	if yDominant {
		oLo, oHi = minMax(observed.Start.Y, observed.End.Y)
		pLo, pHi = minMax(projS.Y, projE.Y)
	} else {
		oLo, oHi = minMax(observed.Start.X, observed.End.X)
		pLo, pHi = minMax(projS.X, projE.X)
	}

	overlapLo := math.Max(oLo, pLo)
	overlapHi := math.Min(oHi, pHi)
	overlap := math.Max(0, overlapHi-overlapLo)

	oExtent := oHi - oLo
	pExtent := pHi - pLo
	if oExtent <= 0 || pExtent <= 0 {
		return false
	}
	return overlap >= lineOverlapFrac*oExtent && overlap >= lineOverlapFrac*pExtent
}

func minMax(a, b float64) (float64, float64) {
	if a < b {
		return a, b
	}
	return b, a
}

// lineEpipolarParallel rejects a candidate line match whose endpoint, mapped
// through f21 into the matched view's epipolar line, runs nearly parallel
// (|cos| > lineParallelCosLim) to the matched line's own observed direction
// there -- a configuration too close to degenerate to usefully constrain
// triangulation. f21 must map a point in the reference view to its epipolar
// line in the matched view: l2 = f21*x1.
func lineEpipolarParallel(f21 *mat.Dense, endpoint r2.Point, matched geometry.LineFeature) bool {
	x := mat.NewDense(3, 1, []float64{endpoint.X, endpoint.Y, 1})
	var epi mat.Dense
	epi.Mul(f21, x)
	a, b := epi.At(0, 0), epi.At(1, 0)
	epiNorm := math.Hypot(a, b)
	if epiNorm < 1e-12 {
		return true
	}

	lineDir := matched.End.Sub(matched.Start)
	lineNorm := math.Hypot(lineDir.X, lineDir.Y)
	if lineNorm < 1e-12 {
		return true
	}

	cos := (-b*lineDir.X + a*lineDir.Y) / (epiNorm * lineNorm)
	return math.Abs(cos) > lineParallelCosLim
}

// createNewMapLinesConstraint generalizes point creation to line segments
// using three keyframes simultaneously: kf, and two of its top-nn
// covisibility neighbors.
func (lm *LocalMapper) createNewMapLinesConstraint(kf *slammap.KeyFrame) {
	depth := lm.m.MedianSceneDepth(kf)
	if depth <= 0 {
		return
	}

	neighbors := topCovisible(lm.m, kf, lm.cfg.LineNeighbors)
	if len(neighbors) < 2 {
		return
	}

	for i := 0; i < len(neighbors); i++ {
		kf2 := neighbors[i]
		lineMatches12 := lm.matcher.SearchLineForTriangulation(kf, kf2)
		if len(lineMatches12) == 0 {
			continue
		}
		f21To2 := ComputeF12(kf2, kf)

		for j := i + 1; j < len(neighbors); j++ {
			kf3 := neighbors[j]
			lineMatches13 := lm.matcher.SearchLineForTriangulation(kf, kf3)
			if len(lineMatches13) == 0 {
				continue
			}
			f21To3 := ComputeF12(kf3, kf)

			idx13 := make(map[int]int, len(lineMatches13))
			for _, m := range lineMatches13 {
				idx13[m.Idx1] = m.Idx2
			}

			for _, m12 := range lineMatches12 {
				idx3, ok := idx13[m12.Idx1]
				if !ok {
					continue
				}
				if m12.Idx1 >= len(kf.Lines) || m12.Idx2 >= len(kf2.Lines) || idx3 >= len(kf3.Lines) {
					continue
				}

				l1 := kf.Lines[m12.Idx1]
				l2 := kf2.Lines[m12.Idx2]
				l3 := kf3.Lines[idx3]

				if lineEpipolarParallel(f21To2, l1.Start, l2) || lineEpipolarParallel(f21To2, l1.End, l2) {
					continue
				}
				if lineEpipolarParallel(f21To3, l1.Start, l3) || lineEpipolarParallel(f21To3, l1.End, l3) {
					continue
				}

				if !lineTripleGeometryOK(l1, l2, l3, kf2, kf3) {
					continue
				}

				s, e, ok := triangulateLineTriple(kf, kf2, kf3, l1, l2, l3)
				if !ok {
					continue
				}

				if !lineQualityOK(kf, kf2, kf3, l1, l2, l3, s, e, depth) {
					continue
				}

				ml := slammap.NewMapLine(lm.m.NextMapLineID(), s, e, kf.ID)
				lm.m.AddMapLine(ml)
				ml.AddObservation(kf.ID, m12.Idx1)
				ml.AddObservation(kf2.ID, m12.Idx2)
				ml.AddObservation(kf3.ID, idx3)
				kf.AddMapLineObservation(m12.Idx1, ml.ID)
				kf2.AddMapLineObservation(m12.Idx2, ml.ID)
				kf3.AddMapLineObservation(idx3, ml.ID)

				lm.recentMu.Lock()
				lm.recentAddedLines = append(lm.recentAddedLines, ml.ID)
				lm.recentMu.Unlock()
			}
		}
	}
}

// ComputeF12 computes the fundamental matrix relating kf2's pixels to kf1's:
// R12 = R1w*R2w^T, t12 = -R12*t2w + t1w, F = K1^-T * [t12]x * R12 * K2^-1.
func ComputeF12(kf1, kf2 *slammap.KeyFrame) *mat.Dense {
	r12, t12 := relativePose(kf1, kf2)

	k1 := intrinsicsMatrix(kf1.Intrinsics)
	k2 := intrinsicsMatrix(kf2.Intrinsics)

	var k1Inv, k2Inv mat.Dense
	if err := k1Inv.Inverse(k1); err != nil {
		return mat.NewDense(3, 3, nil)
	}
	if err := k2Inv.Inverse(k2); err != nil {
		return mat.NewDense(3, 3, nil)
	}

	skew := geometry.SkewSymmetric(t12.X, t12.Y, t12.Z)

	var tr mat.Dense
	tr.Mul(skew, r12)

	var lhs mat.Dense
	lhs.Mul(k1Inv.T(), &tr)

	var f mat.Dense
	f.Mul(&lhs, &k2Inv)
	out := mat.NewDense(3, 3, nil)
	out.Copy(&f)
	return out
}
