// Package geometry implements the pure numerical core of the two-view
// initializer and local mapper: point/line normalization, homography and
// fundamental matrix estimation, essential/homography decomposition, and
// point/line triangulation. Nothing in this package allocates goroutines,
// logs, or returns errors for bad numerical input — callers check results
// with math.IsNaN/IsInf, matching the fail-clean policy of the system this
// is part of.
package geometry

import (
	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
)

// PointFeature is an undistorted 2D point feature observed in a single frame.
type PointFeature struct {
	Point  r2.Point
	Octave int
	// ScaleSigma2 is the per-octave scale-level variance used to weight
	// reprojection thresholds (sigma^2 * scale factor at Octave).
	ScaleSigma2 float64
}

// LineFeature is an undistorted 2D line-segment feature observed in a single
// frame. Coeffs is the implicit line (a, b, c) with a^2+b^2=1 such that
// a*x + b*y + c = 0 for points on the line.
type LineFeature struct {
	Start, End  r2.Point
	Coeffs      r3.Vector
	Octave      int
	Angle       float64
	ScaleSigma2 float64
}

// Match is an ordered pair of feature indices: idx in frame 1, idx in frame 2.
type Match struct {
	Idx1, Idx2 int
}

// CameraIntrinsics holds the pinhole intrinsics used throughout the geometry
// kernel. Mirrors the fields of rimage/transform's PinholeCameraIntrinsics.
type CameraIntrinsics struct {
	Fx, Fy, Cx, Cy float64
}

// InvFx and InvFy are the inverse focal lengths, used when back-projecting
// pixels to normalized camera rays.
func (k CameraIntrinsics) InvFx() float64 { return 1.0 / k.Fx }
func (k CameraIntrinsics) InvFy() float64 { return 1.0 / k.Fy }

// K returns the 3x3 calibration matrix.
func (k CameraIntrinsics) K() [3][3]float64 {
	return [3][3]float64{
		{k.Fx, 0, k.Cx},
		{0, k.Fy, k.Cy},
		{0, 0, 1},
	}
}
