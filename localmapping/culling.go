package localmapping

import (
	"github.com/viam-labs/plslam/slammap"
)

// mapPointCulling walks the recently-added MapPoint probation list and
// retires or graduates each entry based on its age relative to kf and its
// found ratio / observation count.
func (lm *LocalMapper) mapPointCulling(kf *slammap.KeyFrame) {
	lm.recentMu.Lock()
	ids := lm.recentAddedPoints
	lm.recentMu.Unlock()

	kept := make([]int, 0, len(ids))
	for _, id := range ids {
		mp, ok := lm.m.MapPoint(id)
		if !ok {
			continue
		}
		if mp.IsBad() {
			continue
		}

		age := kf.ID - mp.FirstKeyFrameID()
		switch {
		case mp.FoundRatio() < lm.cfg.FoundRatioThreshold:
			mp.SetBad()
		case age >= 2 && mp.ObservationCount() <= lm.cfg.MinObservationsMono:
			mp.SetBad()
		case age >= 3:
			// graduates: drop from probation, keep in the map.
		default:
			kept = append(kept, id)
		}
	}

	lm.recentMu.Lock()
	lm.recentAddedPoints = kept
	lm.recentMu.Unlock()
}

// mapLineCulling is the MapLine analogue of mapPointCulling.
func (lm *LocalMapper) mapLineCulling(kf *slammap.KeyFrame) {
	lm.recentMu.Lock()
	ids := lm.recentAddedLines
	lm.recentMu.Unlock()

	kept := make([]int, 0, len(ids))
	for _, id := range ids {
		ml, ok := lm.m.MapLine(id)
		if !ok {
			continue
		}
		if ml.IsBad() {
			continue
		}

		age := kf.ID - ml.FirstKeyFrameID()
		switch {
		case ml.FoundRatio() < lm.cfg.FoundRatioThreshold:
			ml.SetBad()
		case age >= 2 && ml.ObservationCount() <= lm.cfg.MinObservationsMono:
			ml.SetBad()
		case age >= 3:
			// graduates: drop from probation, keep in the map.
		default:
			kept = append(kept, id)
		}
	}

	lm.recentMu.Lock()
	lm.recentAddedLines = kept
	lm.recentMu.Unlock()
}

// keyFrameCulling flags redundant covisible keyframes bad: any non-initial
// keyframe whose MapPoints are, for at least 90% of them, also observed by
// at least three other keyframes at an equal-or-finer pyramid scale.
func (lm *LocalMapper) keyFrameCulling(kf *slammap.KeyFrame) {
	const redundantObsThreshold = 3
	const redundantFraction = 0.9

	for nid := range kf.Covisibility() {
		neighbor, ok := lm.m.KeyFrame(nid)
		if !ok || neighbor.IsBad() || neighbor.ID == 0 {
			continue
		}

		mpIDs := neighbor.MapPointIDs()
		if len(mpIDs) == 0 {
			continue
		}

		redundant := 0
		total := 0
		for idx, mpID := range mpIDs {
			mp, ok := lm.m.MapPoint(mpID)
			if !ok || mp.IsBad() {
				continue
			}
			total++

			scale := scaleAt(neighbor, idx)
			obsAtEqualOrFiner := 0
			for obsKFID, obsIdx := range mp.Observations() {
				if obsKFID == neighbor.ID {
					continue
				}
				obsKF, ok := lm.m.KeyFrame(obsKFID)
				if !ok || obsKF.IsBad() {
					continue
				}
				if scaleAt(obsKF, obsIdx) <= scale {
					obsAtEqualOrFiner++
					if obsAtEqualOrFiner >= redundantObsThreshold {
						break
					}
				}
			}
			if obsAtEqualOrFiner >= redundantObsThreshold {
				redundant++
			}
		}

		if total > 0 && float64(redundant) >= redundantFraction*float64(total) {
			neighbor.SetBad()
			lm.m.EraseKeyFrame(neighbor.ID)
		}
	}
}

// scaleAt returns the pyramid scale factor of the point feature at idx in
// kf, falling back to 1.0 when the keyframe carries no scale pyramid.
func scaleAt(kf *slammap.KeyFrame, idx int) float64 {
	if idx < 0 || idx >= len(kf.Points) {
		return 1.0
	}
	octave := kf.Points[idx].Octave
	if octave < 0 || octave >= len(kf.ScaleFactors) {
		return 1.0
	}
	return kf.ScaleFactors[octave]
}
