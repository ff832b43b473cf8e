package localmapping

import (
	"github.com/golang/geo/r3"

	"github.com/viam-labs/plslam/slammap"
)

// processNewKeyFrame pops-equivalent bookkeeping: for every MapPoint/MapLine
// the keyframe already tracks but does not yet formally observe, adds the
// observation and recomputes the element's mean viewing normal (the
// descriptor is left as it is), then inserts
// the keyframe into the Map and refreshes its covisibility edges.
func (lm *LocalMapper) processNewKeyFrame(kf *slammap.KeyFrame) {
	for idx, mpID := range kf.MapPointIDs() {
		mp, ok := lm.m.MapPoint(mpID)
		if !ok || mp.IsBad() {
			continue
		}
		if _, observed := mp.Observations()[kf.ID]; observed {
			continue
		}
		mp.AddObservation(kf.ID, idx)
		lm.refreshMapPoint(mp)
	}

	for idx, mlID := range kf.MapLineIDs() {
		ml, ok := lm.m.MapLine(mlID)
		if !ok || ml.IsBad() {
			continue
		}
		if _, observed := ml.Observations()[kf.ID]; observed {
			continue
		}
		ml.AddObservation(kf.ID, idx)
		lm.refreshMapLine(ml)
	}

	lm.m.AddKeyFrame(kf)
	lm.m.UpdateConnections(kf)
}

// refreshMapPoint recomputes the element's mean viewing normal as the mean
// of the unit vectors from each observing keyframe's camera center to the
// point, a coarse stand-in for the distinctive-descriptor recomputation an
// external descriptor matcher would normally perform.
func (lm *LocalMapper) refreshMapPoint(mp *slammap.MapPoint) {
	obs := mp.Observations()
	if len(obs) == 0 {
		return
	}
	sum := r3.Vector{}
	count := 0
	pos := mp.Position()
	for kfID := range obs {
		kf, ok := lm.m.KeyFrame(kfID)
		if !ok || kf.IsBad() {
			continue
		}
		center := kf.Pose().CameraCenter()
		sum = sum.Add(pos.Sub(center).Normalize())
		count++
	}
	if count == 0 {
		return
	}
	mp.MeanNormal = sum.Mul(1.0 / float64(count))
}

func (lm *LocalMapper) refreshMapLine(ml *slammap.MapLine) {
	obs := ml.Observations()
	if len(obs) == 0 {
		return
	}
	sum := r3.Vector{}
	count := 0
	s, e := ml.Endpoints()
	mid := s.Add(e).Mul(0.5)
	for kfID := range obs {
		kf, ok := lm.m.KeyFrame(kfID)
		if !ok || kf.IsBad() {
			continue
		}
		center := kf.Pose().CameraCenter()
		sum = sum.Add(mid.Sub(center).Normalize())
		count++
	}
	if count == 0 {
		return
	}
	ml.MeanNormal = sum.Mul(1.0 / float64(count))
}
