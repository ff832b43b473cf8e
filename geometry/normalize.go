package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// Normalize translates points so their centroid is at the origin, then
// scales each axis independently so the mean absolute deviation along that
// axis equals 1. It returns the transformed points and the 3x3 similarity T
// such that T * [x, y, 1]^T == [x_norm, y_norm, 1]^T for every input point.
//
// This is a per-axis mean-absolute-deviation normalization (not the
// isotropic mean-Euclidean-distance normalization some multi-view-geometry
// references use) to match the original ORB-SLAM-derived implementation
// this package is ported from.
func Normalize(pts []r2.Point) ([]r2.Point, *mat.Dense) {
	n := float64(len(pts))

	var meanX, meanY float64
	for _, p := range pts {
		meanX += p.X
		meanY += p.Y
	}
	meanX /= n
	meanY /= n

	centered := make([]r2.Point, len(pts))
	var devX, devY float64
	for i, p := range pts {
		centered[i] = r2.Point{X: p.X - meanX, Y: p.Y - meanY}
		devX += math.Abs(centered[i].X)
		devY += math.Abs(centered[i].Y)
	}
	devX /= n
	devY /= n

	sX := 1.0 / devX
	sY := 1.0 / devY

	out := make([]r2.Point, len(pts))
	for i, p := range centered {
		out[i] = r2.Point{X: p.X * sX, Y: p.Y * sY}
	}

	T := eye(3)
	T.Set(0, 0, sX)
	T.Set(1, 1, sY)
	T.Set(0, 2, -meanX*sX)
	T.Set(1, 2, -meanY*sY)

	return out, T
}
