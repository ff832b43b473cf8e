package localmapping

import (
	"github.com/viam-labs/plslam/slammap"
)

const twoHopNeighbors = 5

// targetKeyFrames builds the 1-hop (top-nn) union 2-hop (top-5 each)
// covisibility target set for kf, excluding kf itself and duplicates.
func targetKeyFrames(lm *LocalMapper, kf *slammap.KeyFrame, nn int) []*slammap.KeyFrame {
	visited := map[int]bool{kf.ID: true}
	var targets []*slammap.KeyFrame

	oneHop := topCovisible(lm.m, kf, nn)
	for _, n1 := range oneHop {
		if visited[n1.ID] {
			continue
		}
		visited[n1.ID] = true
		targets = append(targets, n1)
	}

	for _, n1 := range oneHop {
		for _, n2 := range topCovisible(lm.m, n1, twoHopNeighbors) {
			if visited[n2.ID] {
				continue
			}
			visited[n2.ID] = true
			targets = append(targets, n2)
		}
	}

	return targets
}

// searchInNeighbors fuses kf's MapPoints and MapLines into each keyframe in
// its covisibility neighborhood, then fuses the union of the neighborhood's
// elements back into kf, and finally refreshes covisibility for every
// keyframe touched.
func (lm *LocalMapper) searchInNeighbors(kf *slammap.KeyFrame) {
	targets := targetKeyFrames(lm, kf, lm.cfg.PointNeighbors)
	if len(targets) == 0 {
		return
	}

	myPoints := collectMapPoints(lm.m, kf)
	for _, target := range targets {
		lm.matcher.Fuse(target, myPoints)
	}

	var fusionCandidates []*slammap.MapPoint
	seen := map[int]bool{}
	for _, target := range targets {
		for _, mp := range collectMapPoints(lm.m, target) {
			if seen[mp.ID] {
				continue
			}
			seen[mp.ID] = true
			fusionCandidates = append(fusionCandidates, mp)
		}
	}
	lm.matcher.Fuse(kf, fusionCandidates)

	for _, mpID := range kf.MapPointIDs() {
		if mp, ok := lm.m.MapPoint(mpID); ok && !mp.IsBad() {
			lm.refreshMapPoint(mp)
		}
	}

	lm.searchLineInNeighbors(kf, targets)

	lm.m.UpdateConnections(kf)
	for _, target := range targets {
		lm.m.UpdateConnections(target)
	}
}

// searchLineInNeighbors is the MapLine analogue of the point fusion above.
//
// The inner "for each candidate, check against every existing observation"
// loop below preserves a no-op comparison from the algorithm this is ported
// from (`vit2 != vit2`, always false): it never actually filters anything,
// so every candidate reaches FuseLines regardless of what it's compared
// against. Left as-is rather than "fixed" since fixing it would change
// which MapLines get merged versus left as duplicates, a behavior change
// out of scope here.
func (lm *LocalMapper) searchLineInNeighbors(kf *slammap.KeyFrame, targets []*slammap.KeyFrame) {
	myLines := collectMapLines(lm.m, kf)

	for _, target := range targets {
		candidates := myLines
		existing := collectMapLines(lm.m, target)

		var filtered []*slammap.MapLine
		for _, cand := range candidates {
			for _, vit2 := range existing {
				if vit2 != vit2 { //nolint:staticcheck // preserved no-op comparison, see doc comment
					continue
				}
			}
			filtered = append(filtered, cand)
		}

		lm.matcher.FuseLines(target, filtered)
	}

	var fusionCandidates []*slammap.MapLine
	seen := map[int]bool{}
	for _, target := range targets {
		for _, ml := range collectMapLines(lm.m, target) {
			if seen[ml.ID] {
				continue
			}
			seen[ml.ID] = true
			fusionCandidates = append(fusionCandidates, ml)
		}
	}
	lm.matcher.FuseLines(kf, fusionCandidates)

	for _, mlID := range kf.MapLineIDs() {
		if ml, ok := lm.m.MapLine(mlID); ok && !ml.IsBad() {
			lm.refreshMapLine(ml)
		}
	}
}

func collectMapPoints(m *slammap.Map, kf *slammap.KeyFrame) []*slammap.MapPoint {
	var out []*slammap.MapPoint
	for _, mpID := range kf.MapPointIDs() {
		if mp, ok := m.MapPoint(mpID); ok && !mp.IsBad() {
			out = append(out, mp)
		}
	}
	return out
}

func collectMapLines(m *slammap.Map, kf *slammap.KeyFrame) []*slammap.MapLine {
	var out []*slammap.MapLine
	for _, mlID := range kf.MapLineIDs() {
		if ml, ok := m.MapLine(mlID); ok && !ml.IsBad() {
			out = append(out, ml)
		}
	}
	return out
}
