package localmapping

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/plslam/geometry"
	"github.com/viam-labs/plslam/slammap"
)

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}

func identityPose() slammap.Pose {
	return slammap.Pose{Rotation: identity3(), Translation: r3.Vector{}}
}

// fakeMatcher is a canned FeatureMatcher for tests that don't exercise real
// descriptor matching.
type fakeMatcher struct {
	pointMatches []geometry.Match
	lineMatches  map[int][]geometry.Match // keyed by neighbor KeyFrame id
}

func (f *fakeMatcher) SearchForTriangulation(kf1, kf2 *slammap.KeyFrame, f12 *mat.Dense) []geometry.Match {
	return f.pointMatches
}

func (f *fakeMatcher) SearchLineForTriangulation(kf1, kf2 *slammap.KeyFrame) []geometry.Match {
	if f.lineMatches == nil {
		return nil
	}
	return f.lineMatches[kf2.ID]
}

func (f *fakeMatcher) Fuse(kf *slammap.KeyFrame, candidates []*slammap.MapPoint) int { return 0 }

func (f *fakeMatcher) FuseLines(kf *slammap.KeyFrame, candidates []*slammap.MapLine) int { return 0 }
