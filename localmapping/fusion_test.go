package localmapping

import (
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/plslam/geometry"
	"github.com/viam-labs/plslam/logging"
	"github.com/viam-labs/plslam/slammap"
)

// recordingMatcher counts Fuse/FuseLines calls and the total candidates
// offered, without performing any actual matching.
type recordingMatcher struct {
	fuseCalls     int
	fusedPoints   int
	fuseLineCalls int
	fusedLines    int
}

func (r *recordingMatcher) SearchForTriangulation(kf1, kf2 *slammap.KeyFrame, f12 *mat.Dense) []geometry.Match {
	return nil
}

func (r *recordingMatcher) SearchLineForTriangulation(kf1, kf2 *slammap.KeyFrame) []geometry.Match {
	return nil
}

func (r *recordingMatcher) Fuse(kf *slammap.KeyFrame, candidates []*slammap.MapPoint) int {
	r.fuseCalls++
	r.fusedPoints += len(candidates)
	return 0
}

func (r *recordingMatcher) FuseLines(kf *slammap.KeyFrame, candidates []*slammap.MapLine) int {
	r.fuseLineCalls++
	r.fusedLines += len(candidates)
	return 0
}

// TestTargetKeyFramesUnionsOneAndTwoHop checks that the neighbor set excludes
// kf itself and de-duplicates a keyframe reachable through both hops.
func TestTargetKeyFramesUnionsOneAndTwoHop(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}

	kf := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, identityPose())
	n1 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, identityPose())
	n2 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, identityPose())
	for _, x := range []*slammap.KeyFrame{kf, n1, n2} {
		m.AddKeyFrame(x)
	}

	kf.SetCovisibilityWeight(n1.ID, 10)
	n1.SetCovisibilityWeight(kf.ID, 10)
	n1.SetCovisibilityWeight(n2.ID, 5)
	n2.SetCovisibilityWeight(n1.ID, 5)
	// n2 is also directly 1-hop from kf with a lower weight than n1; still
	// only appears once in the union.
	kf.SetCovisibilityWeight(n2.ID, 1)
	n2.SetCovisibilityWeight(kf.ID, 1)

	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)
	targets := targetKeyFrames(lm, kf, 20)

	seen := map[int]int{}
	for _, tgt := range targets {
		seen[tgt.ID]++
		test.That(t, tgt.ID, test.ShouldNotEqual, kf.ID)
	}
	test.That(t, seen[n1.ID], test.ShouldEqual, 1)
	test.That(t, seen[n2.ID], test.ShouldEqual, 1)
}

func TestSearchInNeighborsFusesBothDirections(t *testing.T) {
	m := slammap.NewMap()
	k := geometry.CameraIntrinsics{Fx: 500, Fy: 500, Cx: 320, Cy: 240}

	kf := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, identityPose())
	n1 := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, k, nil, identityPose())
	m.AddKeyFrame(kf)
	m.AddKeyFrame(n1)
	kf.SetCovisibilityWeight(n1.ID, 10)
	n1.SetCovisibilityWeight(kf.ID, 10)

	mpKF := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{Z: 5}, kf.ID)
	m.AddMapPoint(mpKF)
	kf.AddMapPointObservation(0, mpKF.ID)
	mpKF.AddObservation(kf.ID, 0)

	mpN1 := slammap.NewMapPoint(m.NextMapPointID(), r3.Vector{Z: 6}, n1.ID)
	m.AddMapPoint(mpN1)
	n1.AddMapPointObservation(0, mpN1.ID)
	mpN1.AddObservation(n1.ID, 0)

	matcher := &recordingMatcher{}
	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, matcher, nil, nil)

	lm.searchInNeighbors(kf)

	test.That(t, matcher.fuseCalls, test.ShouldBeGreaterThanOrEqualTo, 2)
	test.That(t, matcher.fusedPoints, test.ShouldBeGreaterThanOrEqualTo, 1)
}
