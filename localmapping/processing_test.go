package localmapping

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/viam-labs/plslam/geometry"
	"github.com/viam-labs/plslam/logging"
	"github.com/viam-labs/plslam/slammap"
)

// TestProcessNewKeyFrameBuildsCovisibility exercises three keyframes sharing
// a set of synthetic tracks: each track's MapPoint should end up observed by
// all three keyframes, and every pairwise covisibility weight should be at
// least the number of shared tracks.
func TestProcessNewKeyFrameBuildsCovisibility(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	scales := []float64{1.0}

	kf1 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, scales, identityPose())
	kf2 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, scales, identityPose())
	kf3 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, scales, identityPose())

	const numTracks = 6
	mps := make([]*slammap.MapPoint, numTracks)
	for i := 0; i < numTracks; i++ {
		mp := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{X: float64(i), Z: 5}, kf1.ID)
		m.AddMapPoint(mp)
		mps[i] = mp
		kf1.AddMapPointObservation(i, mp.ID)
		kf2.AddMapPointObservation(i, mp.ID)
		kf3.AddMapPointObservation(i, mp.ID)
	}

	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)
	lm.processNewKeyFrame(kf1)
	lm.processNewKeyFrame(kf2)
	lm.processNewKeyFrame(kf3)

	test.That(t, kf1.Covisibility()[kf2.ID], test.ShouldBeGreaterThanOrEqualTo, numTracks)
	test.That(t, kf2.Covisibility()[kf3.ID], test.ShouldBeGreaterThanOrEqualTo, numTracks)
	test.That(t, kf3.Covisibility()[kf1.ID], test.ShouldBeGreaterThanOrEqualTo, numTracks)

	for _, mp := range mps {
		test.That(t, mp.ObservationCount(), test.ShouldEqual, 3)
	}

	got, ok := m.KeyFrame(kf1.ID)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, kf1)
}

func TestRefreshMapPointAveragesViewingDirections(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}

	kf1 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, identityPose())
	kf2 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil,
		slammap.Pose{Rotation: identity3(), Translation: r3.Vector{X: 2}})
	m.AddKeyFrame(kf1)
	m.AddKeyFrame(kf2)

	mp := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{Z: 5}, kf1.ID)
	m.AddMapPoint(mp)
	mp.AddObservation(kf1.ID, 0)
	mp.AddObservation(kf2.ID, 0)

	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)
	lm.refreshMapPoint(mp)

	n := mp.MeanNormal
	diff := n.X*n.X + n.Y*n.Y + n.Z*n.Z
	test.That(t, diff, test.ShouldBeGreaterThan, 0)
}
