// Package localmapping implements the background keyframe-ingestion loop:
// processing new keyframes, culling low-quality map elements, triangulating
// new points/lines from covisible neighbors, fusing duplicate observations,
// orchestrating local bundle adjustment, and culling redundant keyframes.
package localmapping

import (
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/plslam/geometry"
	"github.com/viam-labs/plslam/slammap"
)

// FeatureMatcher is the external collaborator that matches descriptors
// between keyframes. A concrete ORB/LSD-backed implementation is out of
// scope for this module; only fakes implementing this interface exist in
// this repo's tests.
type FeatureMatcher interface {
	// SearchForTriangulation returns candidate point matches between kf1 and
	// kf2 constrained by the epipolar geometry F12.
	SearchForTriangulation(kf1, kf2 *slammap.KeyFrame, f12 *mat.Dense) []geometry.Match
	// SearchLineForTriangulation returns candidate line matches between kf1
	// and kf2.
	SearchLineForTriangulation(kf1, kf2 *slammap.KeyFrame) []geometry.Match
	// Fuse projects candidates into kf and returns the number of new
	// observations added or merges performed.
	Fuse(kf *slammap.KeyFrame, candidates []*slammap.MapPoint) int
	// FuseLines is the MapLine analogue of Fuse.
	FuseLines(kf *slammap.KeyFrame, candidates []*slammap.MapLine) int
}

// AbortFlag is a cooperative cancellation flag checked by a BundleAdjuster
// at iteration boundaries, and set by the LocalMapper when a new keyframe
// arrives or a stop is requested.
type AbortFlag struct {
	v atomic.Bool
}

// Set raises the flag.
func (f *AbortFlag) Set() { f.v.Store(true) }

// Clear lowers the flag.
func (f *AbortFlag) Clear() { f.v.Store(false) }

// Get reads the flag.
func (f *AbortFlag) Get() bool { return f.v.Load() }

// BundleAdjuster is the external nonlinear-least-squares solver that
// refines a local window of keyframe poses and the map elements they
// observe.
type BundleAdjuster interface {
	LocalBundleAdjustmentWithLine(kf *slammap.KeyFrame, abort *AbortFlag, m *slammap.Map) error
}

// LoopCloser is the external loop-closure detector.
type LoopCloser interface {
	InsertKeyFrame(kf *slammap.KeyFrame)
}
