package slammap

import (
	"sync"
)

// Map owns all KeyFrames, MapPoints, and MapLines, protected by a single
// map-wide mutex for structural changes (add/erase). Per-element mutexes
// (on KeyFrame and mapElement) guard content changes and are always
// acquired after the map mutex, per the lock order Map > KeyFrame >
// MapElement.
type Map struct {
	mu sync.RWMutex

	keyFrames map[int]*KeyFrame
	mapPoints map[int]*MapPoint
	mapLines  map[int]*MapLine

	nextKFID int
	nextMPID int
	nextMLID int
}

// NewMap constructs an empty Map.
func NewMap() *Map {
	return &Map{
		keyFrames: make(map[int]*KeyFrame),
		mapPoints: make(map[int]*MapPoint),
		mapLines:  make(map[int]*MapLine),
	}
}

// NextKeyFrameID allocates the next stable KeyFrame id.
func (m *Map) NextKeyFrameID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextKFID
	m.nextKFID++
	return id
}

// NextMapPointID allocates the next stable MapPoint id.
func (m *Map) NextMapPointID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextMPID
	m.nextMPID++
	return id
}

// NextMapLineID allocates the next stable MapLine id.
func (m *Map) NextMapLineID() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextMLID
	m.nextMLID++
	return id
}

// AddKeyFrame inserts a keyframe into the map.
func (m *Map) AddKeyFrame(kf *KeyFrame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keyFrames[kf.ID] = kf
}

// AddMapPoint inserts a map point into the map.
func (m *Map) AddMapPoint(mp *MapPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapPoints[mp.ID] = mp
}

// AddMapLine inserts a map line into the map.
func (m *Map) AddMapLine(ml *MapLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mapLines[ml.ID] = ml
}

// EraseKeyFrame removes a keyframe from the map's structural index (logical
// deletion: the keyframe should already be flagged bad before this is
// called, as in the source this is ported from).
func (m *Map) EraseKeyFrame(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keyFrames, id)
}

// EraseMapPoint removes a map point from the map's structural index.
func (m *Map) EraseMapPoint(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mapPoints, id)
}

// EraseMapLine removes a map line from the map's structural index.
func (m *Map) EraseMapLine(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mapLines, id)
}

// KeyFrame looks up a keyframe by id.
func (m *Map) KeyFrame(id int) (*KeyFrame, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kf, ok := m.keyFrames[id]
	return kf, ok
}

// MapPoint looks up a map point by id.
func (m *Map) MapPoint(id int) (*MapPoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.mapPoints[id]
	return mp, ok
}

// MapLine looks up a map line by id.
func (m *Map) MapLine(id int) (*MapLine, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ml, ok := m.mapLines[id]
	return ml, ok
}

// AllKeyFrames returns a snapshot slice of all keyframes, taken under the
// map mutex.
func (m *Map) AllKeyFrames() []*KeyFrame {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*KeyFrame, 0, len(m.keyFrames))
	for _, kf := range m.keyFrames {
		out = append(out, kf)
	}
	return out
}

// AllMapPoints returns a snapshot slice of all map points, taken under the
// map mutex.
func (m *Map) AllMapPoints() []*MapPoint {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MapPoint, 0, len(m.mapPoints))
	for _, mp := range m.mapPoints {
		out = append(out, mp)
	}
	return out
}

// AllMapLines returns a snapshot slice of all map lines, taken under the map
// mutex.
func (m *Map) AllMapLines() []*MapLine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*MapLine, 0, len(m.mapLines))
	for _, ml := range m.mapLines {
		out = append(out, ml)
	}
	return out
}

// KeyFrameCount returns the number of keyframes currently in the map.
func (m *Map) KeyFrameCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.keyFrames)
}

// UpdateConnections recomputes kf's covisibility edges from its current
// MapPoint and MapLine observations: for each other keyframe, the edge
// weight is the count of map elements both keyframes observe.
func (m *Map) UpdateConnections(kf *KeyFrame) {
	counts := make(map[int]int)

	for _, mpID := range kf.MapPointIDs() {
		mp, ok := m.MapPoint(mpID)
		if !ok || mp.IsBad() {
			continue
		}
		for otherKF := range mp.Observations() {
			if otherKF == kf.ID {
				continue
			}
			counts[otherKF]++
		}
	}
	for _, mlID := range kf.MapLineIDs() {
		ml, ok := m.MapLine(mlID)
		if !ok || ml.IsBad() {
			continue
		}
		for otherKF := range ml.Observations() {
			if otherKF == kf.ID {
				continue
			}
			counts[otherKF]++
		}
	}

	for otherID, weight := range counts {
		kf.SetCovisibilityWeight(otherID, weight)
		if other, ok := m.KeyFrame(otherID); ok {
			other.SetCovisibilityWeight(kf.ID, weight)
		}
	}
}

// MedianSceneDepth computes the median distance of kf's observed MapPoints
// from kf's camera center, used by CreateNewMapPoints/
// CreateNewMapLinesConstraint baseline and parallax checks.
func (m *Map) MedianSceneDepth(kf *KeyFrame) float64 {
	center := kf.Pose().CameraCenter()
	var depths []float64
	for _, mpID := range kf.MapPointIDs() {
		mp, ok := m.MapPoint(mpID)
		if !ok || mp.IsBad() {
			continue
		}
		d := mp.Position().Sub(center).Norm()
		depths = append(depths, d)
	}
	if len(depths) == 0 {
		return 0
	}
	return median(depths)
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	insertionSort(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func insertionSort(vals []float64) {
	for i := 1; i < len(vals); i++ {
		v := vals[i]
		j := i - 1
		for j >= 0 && vals[j] > v {
			vals[j+1] = vals[j]
			j--
		}
		vals[j+1] = v
	}
}
