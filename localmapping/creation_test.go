package localmapping

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/plslam/geometry"
	"github.com/viam-labs/plslam/logging"
	"github.com/viam-labs/plslam/slammap"
)

// TestCreateNewMapPointsTriangulatesMatch sets up two keyframes with a known
// baseline and a single matched feature pair whose pixel coordinates were
// computed by projecting a known 3D point, then checks the triangulated
// MapPoint lands back near that point.
func TestCreateNewMapPointsTriangulatesMatch(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	scales := []float64{1.0}

	pose1 := identityPose()
	pose2 := slammap.Pose{Rotation: identity3(), Translation: r3.Vector{X: -1}}

	kf1 := slammap.NewKeyFrame(m.NextKeyFrameID(),
		[]geometry.PointFeature{{Point: r2.Point{X: 340, Y: 250}, Octave: 0, ScaleSigma2: 1}},
		nil, k, scales, pose1)
	kf2 := slammap.NewKeyFrame(m.NextKeyFrameID(),
		[]geometry.PointFeature{{Point: r2.Point{X: 240, Y: 250}, Octave: 0, ScaleSigma2: 1}},
		nil, k, scales, pose2)
	m.AddKeyFrame(kf1)
	m.AddKeyFrame(kf2)
	kf1.SetCovisibilityWeight(kf2.ID, 1)

	// background tracks so MedianSceneDepth(kf1) reads a realistic depth
	// without depending on the point under test.
	for i, z := range []float64{5, 6} {
		mp := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{Z: z}, kf1.ID)
		m.AddMapPoint(mp)
		kf1.AddMapPointObservation(i+1, mp.ID)
		mp.AddObservation(kf1.ID, i+1)
	}

	matcher := &fakeMatcher{pointMatches: []geometry.Match{{Idx1: 0, Idx2: 0}}}
	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, matcher, nil, nil)

	lm.createNewMapPoints(kf1)

	test.That(t, len(lm.recentAddedPoints), test.ShouldEqual, 1)
	newID := lm.recentAddedPoints[0]
	mp, ok := m.MapPoint(newID)
	test.That(t, ok, test.ShouldBeTrue)

	pos := mp.Position()
	test.That(t, math.Abs(pos.X-0.2), test.ShouldBeLessThan, 0.05)
	test.That(t, math.Abs(pos.Y-0.1), test.ShouldBeLessThan, 0.05)
	test.That(t, math.Abs(pos.Z-5.0), test.ShouldBeLessThan, 0.1)

	test.That(t, mp.ObservationCount(), test.ShouldEqual, 2)
}

// TestCreateNewMapPointsSkipsShortBaseline checks the baseline/depth gate: a
// neighbor nearly co-located with kf produces no new points regardless of
// matches offered.
func TestCreateNewMapPointsSkipsShortBaseline(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	scales := []float64{1.0}

	pose1 := identityPose()
	pose2 := slammap.Pose{Rotation: identity3(), Translation: r3.Vector{X: -0.0001}}

	kf1 := slammap.NewKeyFrame(m.NextKeyFrameID(),
		[]geometry.PointFeature{{Point: r2.Point{X: 340, Y: 250}, Octave: 0, ScaleSigma2: 1}},
		nil, k, scales, pose1)
	kf2 := slammap.NewKeyFrame(m.NextKeyFrameID(),
		[]geometry.PointFeature{{Point: r2.Point{X: 340, Y: 250}, Octave: 0, ScaleSigma2: 1}},
		nil, k, scales, pose2)
	m.AddKeyFrame(kf1)
	m.AddKeyFrame(kf2)
	kf1.SetCovisibilityWeight(kf2.ID, 1)

	mp := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{Z: 5}, kf1.ID)
	m.AddMapPoint(mp)
	kf1.AddMapPointObservation(1, mp.ID)
	mp.AddObservation(kf1.ID, 1)

	matcher := &fakeMatcher{pointMatches: []geometry.Match{{Idx1: 0, Idx2: 0}}}
	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, matcher, nil, nil)

	lm.createNewMapPoints(kf1)

	test.That(t, len(lm.recentAddedPoints), test.ShouldEqual, 0)
}

// TestLineEpipolarParallelRejectsAlignedDirection checks the F21-parallel
// rejection directly: a matched line running along the same direction as the
// endpoint's epipolar line is flagged, while one crossing it is not.
func TestLineEpipolarParallelRejectsAlignedDirection(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}

	pose1 := identityPose()
	pose2 := slammap.Pose{Rotation: identity3(), Translation: r3.Vector{X: -1}}
	kf1 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, pose1)
	kf2 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, pose2)

	f21 := ComputeF12(kf2, kf1)
	endpoint := r2.Point{X: 340, Y: 250}

	x := mat.NewDense(3, 1, []float64{endpoint.X, endpoint.Y, 1})
	var epi mat.Dense
	epi.Mul(f21, x)
	a, b := epi.At(0, 0), epi.At(1, 0)
	epiDir := r2.Point{X: -b, Y: a}

	aligned := geometry.LineFeature{
		Start: r2.Point{X: 300, Y: 300},
		End:   r2.Point{X: 300 + epiDir.X, Y: 300 + epiDir.Y},
	}
	test.That(t, lineEpipolarParallel(f21, endpoint, aligned), test.ShouldBeTrue)

	crossing := geometry.LineFeature{
		Start: r2.Point{X: 300, Y: 300},
		End:   r2.Point{X: 300 + a, Y: 300 + b},
	}
	test.That(t, lineEpipolarParallel(f21, endpoint, crossing), test.ShouldBeFalse)
}

// TestCreateNewMapLinesConstraintRejectsEpipolarParallelMatch checks that a
// line match whose endpoint's epipolar line in a neighbor view runs parallel
// to that neighbor's observed line direction is rejected before
// triangulation, producing no new MapLine.
func TestCreateNewMapLinesConstraintRejectsEpipolarParallelMatch(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}

	pose1 := identityPose()
	pose2 := slammap.Pose{Rotation: identity3(), Translation: r3.Vector{X: -1}}
	pose3 := slammap.Pose{Rotation: identity3(), Translation: r3.Vector{X: -1, Y: -0.5}}

	l1 := geometry.LineFeature{Start: r2.Point{X: 300, Y: 240}, End: r2.Point{X: 360, Y: 260}}
	kf1 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, []geometry.LineFeature{l1}, k, nil, pose1)
	kf2 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, pose2)
	kf3 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, pose3)
	m.AddKeyFrame(kf1)
	m.AddKeyFrame(kf2)
	m.AddKeyFrame(kf3)
	kf1.SetCovisibilityWeight(kf2.ID, 10)
	kf1.SetCovisibilityWeight(kf3.ID, 5)

	mp := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{Z: 5}, kf1.ID)
	m.AddMapPoint(mp)
	kf1.AddMapPointObservation(0, mp.ID)
	mp.AddObservation(kf1.ID, 0)

	f21 := ComputeF12(kf2, kf1)
	endpoint := l1.Start
	x := mat.NewDense(3, 1, []float64{endpoint.X, endpoint.Y, 1})
	var epi mat.Dense
	epi.Mul(f21, x)
	a, b := epi.At(0, 0), epi.At(1, 0)
	epiDir := r2.Point{X: -b, Y: a}

	l2 := geometry.LineFeature{
		Start: r2.Point{X: 240, Y: 250},
		End:   r2.Point{X: 240 + epiDir.X, Y: 250 + epiDir.Y},
	}
	l3 := geometry.LineFeature{Start: r2.Point{X: 250, Y: 260}, End: r2.Point{X: 290, Y: 300}}
	kf2.Lines = []geometry.LineFeature{l2}
	kf3.Lines = []geometry.LineFeature{l3}

	matcher := &fakeMatcher{lineMatches: map[int][]geometry.Match{
		kf2.ID: {{Idx1: 0, Idx2: 0}},
		kf3.ID: {{Idx1: 0, Idx2: 0}},
	}}
	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, matcher, nil, nil)

	lm.createNewMapLinesConstraint(kf1)

	test.That(t, len(lm.recentAddedLines), test.ShouldEqual, 0)
}

func TestComputeF12NonDegenerate(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}

	pose1 := identityPose()
	pose2 := slammap.Pose{Rotation: identity3(), Translation: r3.Vector{X: -1}}
	kf1 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, pose1)
	kf2 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, pose2)

	f12 := ComputeF12(kf1, kf2)
	test.That(t, f12, test.ShouldNotBeNil)

	// F is only defined up to scale, but for this configuration it should
	// not be all zeros (i.e. translation is non-degenerate).
	var sumSq float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			sumSq += f12.At(i, j) * f12.At(i, j)
		}
	}
	test.That(t, sumSq, test.ShouldBeGreaterThan, 0)
}
