package geometry

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// TriangulatePoint reconstructs the 3D point observed as kp1 in the camera
// with projection matrix p1 and as kp2 in the camera with projection matrix
// p2, via a 4x4 homogeneous DLT solved by SVD. The returned point may be
// non-finite if the configuration is degenerate; callers check with
// math.IsNaN/IsInf before using it.
func TriangulatePoint(kp1, kp2 r2.Point, p1, p2 *mat.Dense) r3.Vector {
	a := mat.NewDense(4, 4, nil)
	setRowScaled(a, 0, p1, 2, kp1.X, p1, 0)
	setRowScaled(a, 1, p1, 2, kp1.Y, p1, 1)
	setRowScaled(a, 2, p2, 2, kp2.X, p2, 0)
	setRowScaled(a, 3, p2, 2, kp2.Y, p2, 1)

	svd := svdFull(a)
	if svd == nil {
		return r3.Vector{X: nan(), Y: nan(), Z: nan()}
	}
	last := svd.V.ColView(3)
	w := last.AtVec(3)
	return r3.Vector{X: last.AtVec(0) / w, Y: last.AtVec(1) / w, Z: last.AtVec(2) / w}
}

// setRowScaled fills row `row` of a with (coord * pScaleRow(rowScale) - pBaseRow(rowBase)).
func setRowScaled(a *mat.Dense, row int, pScale *mat.Dense, rowScale int, coord float64, pBase *mat.Dense, rowBase int) {
	for c := 0; c < 4; c++ {
		a.Set(row, c, coord*pScale.At(rowScale, c)-pBase.At(rowBase, c))
	}
}

// TriangulateLine reconstructs the 3D endpoints (S, E) of a line observed as
// kl1 in frame 1 and kl2 in frame 2, given projection matrices p1, p2 and
// the per-view implicit line coefficients l1, l2 (a, b, c with a^2+b^2=1).
//
// Each endpoint is solved independently from a 4x4 system whose first two
// rows are the plane-membership constraints l1^T*P1 and l2^T*P2 (the
// endpoint must lie on both back-projected line planes) and whose last two
// rows are the point-in-image DLT rows for that endpoint in frame 1 (the
// endpoint must also project to the correct pixel in frame 1). This is an
// asymmetric construction -- frame 2's pixel location of the endpoint never
// directly constrains the system, only its line equation does -- matching
// the source algorithm this is ported from.
func TriangulateLine(kl1, kl2 LineFeature, p1, p2 *mat.Dense, l1, l2 r3.Vector) (s, e r3.Vector) {
	return triangulateLineEndpoint(kl1.Start, p1, p2, l1, l2),
		triangulateLineEndpoint(kl1.End, p1, p2, l1, l2)
}

func triangulateLineEndpoint(pt1 r2.Point, p1, p2 *mat.Dense, l1, l2 r3.Vector) r3.Vector {
	a := mat.NewDense(4, 4, nil)

	planeRow := func(row int, l r3.Vector, p *mat.Dense) {
		for c := 0; c < 4; c++ {
			a.Set(row, c, l.X*p.At(0, c)+l.Y*p.At(1, c)+l.Z*p.At(2, c))
		}
	}
	planeRow(0, l1, p1)
	planeRow(1, l2, p2)
	setRowScaled(a, 2, p1, 2, pt1.X, p1, 0)
	setRowScaled(a, 3, p1, 2, pt1.Y, p1, 1)

	svd := svdFull(a)
	if svd == nil {
		return r3.Vector{X: nan(), Y: nan(), Z: nan()}
	}
	last := svd.V.ColView(3)
	w := last.AtVec(3)
	return r3.Vector{X: last.AtVec(0) / w, Y: last.AtVec(1) / w, Z: last.AtVec(2) / w}
}

// TriangulateLineThreeView reconstructs one 3D endpoint of a line observed
// directly (as pt1) in the reference frame with projection p1, and only
// through its line equations l2, l3 in two further frames with projections
// p2, p3. This is the three-keyframe construction Local Mapping uses for
// CreateNewMapLinesConstraint: two plane-membership rows (l2^T*p2, l3^T*p3)
// plus two point-in-image DLT rows for pt1 in the reference frame.
func TriangulateLineThreeView(pt1 r2.Point, p1, p2, p3 *mat.Dense, l2, l3 r3.Vector) r3.Vector {
	a := mat.NewDense(4, 4, nil)

	planeRow := func(row int, l r3.Vector, p *mat.Dense) {
		for c := 0; c < 4; c++ {
			a.Set(row, c, l.X*p.At(0, c)+l.Y*p.At(1, c)+l.Z*p.At(2, c))
		}
	}
	planeRow(0, l2, p2)
	planeRow(1, l3, p3)
	setRowScaled(a, 2, p1, 2, pt1.X, p1, 0)
	setRowScaled(a, 3, p1, 2, pt1.Y, p1, 1)

	svd := svdFull(a)
	if svd == nil {
		return r3.Vector{X: nan(), Y: nan(), Z: nan()}
	}
	last := svd.V.ColView(3)
	w := last.AtVec(3)
	return r3.Vector{X: last.AtVec(0) / w, Y: last.AtVec(1) / w, Z: last.AtVec(2) / w}
}

func nan() float64 {
	var z float64
	return z / z
}
