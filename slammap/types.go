// Package slammap implements the shared map: keyframes, map points, map
// lines, and the covisibility graph, modeled as two index-addressed arenas
// with stable integer ids (mirroring the original's sequential mnId-style
// identifiers rather than UUIDs) plus bijective keyframe<->element
// observation maps. Bad-flagging replaces destructive erasure.
package slammap

import (
	"sync"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"github.com/viam-labs/plslam/geometry"
)

// Pose is a rigid transform mapping world coordinates into camera
// coordinates: X_cam = R * X_world + t. This repository authors Pose fresh
// (see DESIGN.md) rather than depending on spatialmath's Pose, since the
// defining files for that type were not present in the retrieved reference
// pack even though other copied files reference it.
type Pose struct {
	Rotation    *mat.Dense // 3x3, det = +1
	Translation r3.Vector
}

// CameraCenter returns the camera center in world coordinates: C = -R^T * t.
func (p Pose) CameraCenter() r3.Vector {
	rt := mat.NewDense(3, 3, nil)
	rt.Copy(p.Rotation.T())
	tv := mat.NewDense(3, 1, []float64{p.Translation.X, p.Translation.Y, p.Translation.Z})
	var c mat.Dense
	c.Mul(rt, tv)
	return r3.Vector{X: -c.At(0, 0), Y: -c.At(1, 0), Z: -c.At(2, 0)}
}

// KeyFrame is an immutable set of features/descriptors/intrinsics plus a
// mutable pose, covisibility weights, and observed map elements.
type KeyFrame struct {
	ID int

	// Immutable at construction.
	Points        []geometry.PointFeature
	Lines         []geometry.LineFeature
	Intrinsics    geometry.CameraIntrinsics
	ScaleFactors  []float64 // per-octave pyramid scale factor

	poseMu sync.RWMutex
	pose   Pose

	connMu       sync.RWMutex
	mapPoints    map[int]int // feature index -> MapPoint id
	mapLines     map[int]int // feature index -> MapLine id
	covisibility map[int]int // neighbor KeyFrame id -> shared-observation weight

	badMu sync.RWMutex
	bad   bool
}

// NewKeyFrame constructs a KeyFrame with empty observation maps.
func NewKeyFrame(id int, points []geometry.PointFeature, lines []geometry.LineFeature, k geometry.CameraIntrinsics, scaleFactors []float64, pose Pose) *KeyFrame {
	return &KeyFrame{
		ID:           id,
		Points:       points,
		Lines:        lines,
		Intrinsics:   k,
		ScaleFactors: scaleFactors,
		pose:         pose,
		mapPoints:    make(map[int]int),
		mapLines:     make(map[int]int),
		covisibility: make(map[int]int),
	}
}

// Pose returns the keyframe's current pose.
func (kf *KeyFrame) Pose() Pose {
	kf.poseMu.RLock()
	defer kf.poseMu.RUnlock()
	return kf.pose
}

// SetPose updates the keyframe's pose.
func (kf *KeyFrame) SetPose(p Pose) {
	kf.poseMu.Lock()
	defer kf.poseMu.Unlock()
	kf.pose = p
}

// IsBad reports whether the keyframe has been logically deleted.
func (kf *KeyFrame) IsBad() bool {
	kf.badMu.RLock()
	defer kf.badMu.RUnlock()
	return kf.bad
}

// SetBad flags the keyframe as logically deleted.
func (kf *KeyFrame) SetBad() {
	kf.badMu.Lock()
	defer kf.badMu.Unlock()
	kf.bad = true
}

// AddMapPointObservation records that feature index `idx` of this keyframe
// observes MapPoint `mpID`.
func (kf *KeyFrame) AddMapPointObservation(idx, mpID int) {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	kf.mapPoints[idx] = mpID
}

// AddMapLineObservation records that feature index `idx` of this keyframe
// observes MapLine `mlID`.
func (kf *KeyFrame) AddMapLineObservation(idx, mlID int) {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	kf.mapLines[idx] = mlID
}

// EraseMapPointObservation removes the observation at feature index idx, if
// present.
func (kf *KeyFrame) EraseMapPointObservation(idx int) {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	delete(kf.mapPoints, idx)
}

// EraseMapLineObservation removes the observation at feature index idx, if
// present.
func (kf *KeyFrame) EraseMapLineObservation(idx int) {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	delete(kf.mapLines, idx)
}

// MapPointIDs returns a snapshot of the observed MapPoint ids.
func (kf *KeyFrame) MapPointIDs() map[int]int {
	kf.connMu.RLock()
	defer kf.connMu.RUnlock()
	out := make(map[int]int, len(kf.mapPoints))
	for k, v := range kf.mapPoints {
		out[k] = v
	}
	return out
}

// MapLineIDs returns a snapshot of the observed MapLine ids.
func (kf *KeyFrame) MapLineIDs() map[int]int {
	kf.connMu.RLock()
	defer kf.connMu.RUnlock()
	out := make(map[int]int, len(kf.mapLines))
	for k, v := range kf.mapLines {
		out[k] = v
	}
	return out
}

// SetCovisibilityWeight sets the edge weight to neighbor keyframe id nid.
func (kf *KeyFrame) SetCovisibilityWeight(nid, weight int) {
	kf.connMu.Lock()
	defer kf.connMu.Unlock()
	if weight <= 0 {
		delete(kf.covisibility, nid)
		return
	}
	kf.covisibility[nid] = weight
}

// Covisibility returns a snapshot of the covisibility weights.
func (kf *KeyFrame) Covisibility() map[int]int {
	kf.connMu.RLock()
	defer kf.connMu.RUnlock()
	out := make(map[int]int, len(kf.covisibility))
	for k, v := range kf.covisibility {
		out[k] = v
	}
	return out
}

// mapElement is the bookkeeping shared by MapPoint and MapLine: observations,
// mean viewing direction, bad flag, and the probation counters used by
// culling.
type mapElement struct {
	mu sync.RWMutex

	observations map[int]int // KeyFrame id -> feature index

	foundCount  int
	visibleCount int

	firstKFID int
	bad       bool
}

func newMapElement(firstKFID int) mapElement {
	return mapElement{
		observations: make(map[int]int),
		firstKFID:    firstKFID,
		foundCount:   1,
		visibleCount: 1,
	}
}

// MapPoint is a triangulated 3D point with its observations across
// keyframes.
type MapPoint struct {
	ID int
	mapElement

	posMu    sync.RWMutex
	position r3.Vector

	Descriptor []byte
	MeanNormal r3.Vector
	MinDepth   float64
	MaxDepth   float64
}

// NewMapPoint constructs a MapPoint created by keyframe firstKFID.
func NewMapPoint(id int, pos r3.Vector, firstKFID int) *MapPoint {
	return &MapPoint{ID: id, mapElement: newMapElement(firstKFID), position: pos}
}

// Position returns the current 3D position.
func (mp *MapPoint) Position() r3.Vector {
	mp.posMu.RLock()
	defer mp.posMu.RUnlock()
	return mp.position
}

// SetPosition updates the 3D position.
func (mp *MapPoint) SetPosition(p r3.Vector) {
	mp.posMu.Lock()
	defer mp.posMu.Unlock()
	mp.position = p
}

// MapLine is a triangulated 3D line segment with its observations across
// keyframes.
type MapLine struct {
	ID int
	mapElement

	posMu      sync.RWMutex
	start, end r3.Vector

	Descriptor []byte
	MeanNormal r3.Vector
}

// NewMapLine constructs a MapLine created by keyframe firstKFID.
func NewMapLine(id int, s, e r3.Vector, firstKFID int) *MapLine {
	return &MapLine{ID: id, mapElement: newMapElement(firstKFID), start: s, end: e}
}

// Endpoints returns the current 3D endpoints.
func (ml *MapLine) Endpoints() (r3.Vector, r3.Vector) {
	ml.posMu.RLock()
	defer ml.posMu.RUnlock()
	return ml.start, ml.end
}

// SetEndpoints updates the 3D endpoints.
func (ml *MapLine) SetEndpoints(s, e r3.Vector) {
	ml.posMu.Lock()
	defer ml.posMu.Unlock()
	ml.start, ml.end = s, e
}

// IsBad reports whether the element has been logically deleted.
func (me *mapElement) IsBad() bool {
	me.mu.RLock()
	defer me.mu.RUnlock()
	return me.bad
}

// SetBad flags the element as logically deleted.
func (me *mapElement) SetBad() {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.bad = true
}

// AddObservation records that keyframe kfID observes this element at feature
// index idx.
func (me *mapElement) AddObservation(kfID, idx int) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.observations[kfID] = idx
}

// EraseObservation removes the observation from keyframe kfID, if present.
func (me *mapElement) EraseObservation(kfID int) {
	me.mu.Lock()
	defer me.mu.Unlock()
	delete(me.observations, kfID)
}

// Observations returns a snapshot of the keyframe->feature-index map.
func (me *mapElement) Observations() map[int]int {
	me.mu.RLock()
	defer me.mu.RUnlock()
	out := make(map[int]int, len(me.observations))
	for k, v := range me.observations {
		out[k] = v
	}
	return out
}

// ObservationCount returns the number of keyframes observing this element.
func (me *mapElement) ObservationCount() int {
	me.mu.RLock()
	defer me.mu.RUnlock()
	return len(me.observations)
}

// IncrementFound increments the found counter (a map element was
// successfully matched during tracking).
func (me *mapElement) IncrementFound(n int) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.foundCount += n
}

// IncrementVisible increments the visible counter (a map element was in the
// frustum of a tracked frame, whether or not it was matched).
func (me *mapElement) IncrementVisible(n int) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.visibleCount += n
}

// FoundRatio returns foundCount/visibleCount, the MapPointCulling /
// MapLineCulling survival statistic.
func (me *mapElement) FoundRatio() float64 {
	me.mu.RLock()
	defer me.mu.RUnlock()
	if me.visibleCount == 0 {
		return 0
	}
	return float64(me.foundCount) / float64(me.visibleCount)
}

// FirstKeyFrameID returns the id of the keyframe that created this element.
func (me *mapElement) FirstKeyFrameID() int {
	return me.firstKFID
}
