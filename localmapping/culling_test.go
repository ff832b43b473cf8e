package localmapping

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"github.com/viam-labs/plslam/geometry"
	"github.com/viam-labs/plslam/logging"
	"github.com/viam-labs/plslam/slammap"
)

func TestMapPointCullingRetiresLowFoundRatio(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	kf := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, identityPose())
	m.AddKeyFrame(kf)

	mp := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{Z: 5}, kf.ID)
	m.AddMapPoint(mp)
	mp.IncrementVisible(10) // foundCount/visibleCount starts 1/1, now 1/11.

	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)
	lm.recentAddedPoints = []int{mp.ID}

	lm.mapPointCulling(kf)

	test.That(t, mp.IsBad(), test.ShouldBeTrue)
	test.That(t, len(lm.recentAddedPoints), test.ShouldEqual, 0)
}

func TestMapPointCullingRetiresSparseObservations(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	kfFirst := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, identityPose())
	m.AddKeyFrame(kfFirst)

	mp := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{Z: 5}, kfFirst.ID)
	m.AddMapPoint(mp)
	mp.AddObservation(kfFirst.ID, 0) // only one observer: below MinObservationsMono.

	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)
	lm.recentAddedPoints = []int{mp.ID}

	// kf.ID - firstKFID = 2, meeting the age>=2 probation check.
	kfLater := slammap.NewKeyFrame(kfFirst.ID+2, nil, nil, k, nil, identityPose())

	lm.mapPointCulling(kfLater)

	test.That(t, mp.IsBad(), test.ShouldBeTrue)
}

func TestMapPointCullingGraduatesAfterAgeThree(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	kfFirst := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, identityPose())
	m.AddKeyFrame(kfFirst)

	mp := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{Z: 5}, kfFirst.ID)
	m.AddMapPoint(mp)
	mp.AddObservation(kfFirst.ID, 0)
	mp.AddObservation(kfFirst.ID+1, 0)
	mp.AddObservation(kfFirst.ID+2, 0)

	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)
	lm.recentAddedPoints = []int{mp.ID}

	kfLater := slammap.NewKeyFrame(kfFirst.ID+3, nil, nil, k, nil, identityPose())
	lm.mapPointCulling(kfLater)

	test.That(t, mp.IsBad(), test.ShouldBeFalse)
	test.That(t, len(lm.recentAddedPoints), test.ShouldEqual, 0)

	_, ok := m.MapPoint(mp.ID)
	test.That(t, ok, test.ShouldBeTrue)
}

func TestKeyFrameCullingFlagsRedundantNeighbor(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	scales := []float64{1.0}

	kf0 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, scales, identityPose())
	kf1 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, scales, identityPose())
	kf2 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, scales, identityPose())
	kf3 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, scales, identityPose())
	for _, kf := range []*slammap.KeyFrame{kf0, kf1, kf2, kf3} {
		m.AddKeyFrame(kf)
	}

	const numPoints = 5
	for i := 0; i < numPoints; i++ {
		mp := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{X: float64(i), Z: 5}, kf3.ID)
		m.AddMapPoint(mp)
		for _, kf := range []*slammap.KeyFrame{kf0, kf1, kf2, kf3} {
			kf.AddMapPointObservation(i, mp.ID)
			mp.AddObservation(kf.ID, i)
		}
	}

	kf1.SetCovisibilityWeight(kf3.ID, numPoints)

	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)
	lm.keyFrameCulling(kf1)

	test.That(t, kf3.IsBad(), test.ShouldBeTrue)
}

func TestKeyFrameCullingNeverFlagsInitialKeyFrame(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}
	scales := []float64{1.0}

	kf0 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, scales, identityPose())
	kf1 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, scales, identityPose())
	kf2 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, scales, identityPose())
	kf3 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, scales, identityPose())
	for _, kf := range []*slammap.KeyFrame{kf0, kf1, kf2, kf3} {
		m.AddKeyFrame(kf)
	}

	const numPoints = 5
	for i := 0; i < numPoints; i++ {
		mp := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{X: float64(i), Z: 5}, kf0.ID)
		m.AddMapPoint(mp)
		for _, kf := range []*slammap.KeyFrame{kf0, kf1, kf2, kf3} {
			kf.AddMapPointObservation(i, mp.ID)
			mp.AddObservation(kf.ID, i)
		}
	}

	kf1.SetCovisibilityWeight(kf0.ID, numPoints)

	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)
	lm.keyFrameCulling(kf1)

	test.That(t, kf0.IsBad(), test.ShouldBeFalse)
}
