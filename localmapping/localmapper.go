package localmapping

import (
	"sync"
	"sync/atomic"
	"time"

	"go.viam.com/utils"

	"github.com/viam-labs/plslam/logging"
	"github.com/viam-labs/plslam/slammap"
)

// State is one of the Local Mapper's explicit lifecycle states.
type State int

const (
	StateRunning State = iota
	StateStopRequested
	StateStopped
	StateFinishRequested
	StateFinished
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateStopRequested:
		return "STOP_REQUESTED"
	case StateStopped:
		return "STOPPED"
	case StateFinishRequested:
		return "FINISH_REQUESTED"
	case StateFinished:
		return "FINISHED"
	default:
		return "UNKNOWN"
	}
}

// LocalMapper is the background keyframe-ingestion control loop. A single
// goroutine runs Run(); each iteration may fork short-lived sub-goroutines
// for the culling pair and the creation pair, joined before proceeding,
// mirroring the original's per-iteration thread-spawning pattern (grounded
// on go.viam.com/utils's StoppableWorkers/PanicCapturingGo worker model).
type LocalMapper struct {
	cfg        *Config
	logger     logging.Logger
	m          *slammap.Map
	matcher    FeatureMatcher
	ba         BundleAdjuster
	loopCloser LoopCloser

	queueMu sync.Mutex
	queue   []*slammap.KeyFrame

	acceptKeyFrames atomic.Bool
	notStop         atomic.Bool
	abortBA         AbortFlag
	resetRequested  atomic.Bool

	stateMu   sync.Mutex
	state     State
	stateCond *sync.Cond

	recentMu            sync.Mutex
	recentAddedPoints   []int
	recentAddedLines    []int

	workers utils.StoppableWorkers
}

// New constructs a LocalMapper in the RUNNING state with accept-keyframes
// enabled, but does not start its loop -- call Run in a goroutine (or use
// Start, which does so via go.viam.com/utils.PanicCapturingGo).
func New(cfg *Config, logger logging.Logger, m *slammap.Map, matcher FeatureMatcher, ba BundleAdjuster, loopCloser LoopCloser) *LocalMapper {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	lm := &LocalMapper{
		cfg:        cfg,
		logger:     logger,
		m:          m,
		matcher:    matcher,
		ba:         ba,
		loopCloser: loopCloser,
		state:      StateRunning,
	}
	lm.stateCond = sync.NewCond(&lm.stateMu)
	lm.acceptKeyFrames.Store(true)
	return lm
}

// InsertKeyFrame enqueues a keyframe produced by the tracker and interrupts
// any in-progress local bundle adjustment.
func (lm *LocalMapper) InsertKeyFrame(kf *slammap.KeyFrame) {
	lm.queueMu.Lock()
	lm.queue = append(lm.queue, kf)
	lm.abortBA.Set()
	lm.queueMu.Unlock()
}

// AcceptKeyFrames reports whether the mapper is currently accepting new
// keyframes (the tracker slows down when this is false).
func (lm *LocalMapper) AcceptKeyFrames() bool { return lm.acceptKeyFrames.Load() }

// SetAcceptKeyFrames sets whether the mapper accepts new keyframes.
func (lm *LocalMapper) SetAcceptKeyFrames(v bool) { lm.acceptKeyFrames.Store(v) }

// SetNotStop prevents the STOP_REQUESTED -> STOPPED transition while true;
// used by the tracker to keep the mapper running through a critical section.
func (lm *LocalMapper) SetNotStop(v bool) { lm.notStop.Store(v) }

// InterruptBA raises the abort flag observed by an in-progress
// LocalBundleAdjustmentWithLine call.
func (lm *LocalMapper) InterruptBA() { lm.abortBA.Set() }

// RequestStop moves the mapper from RUNNING to STOP_REQUESTED.
func (lm *LocalMapper) RequestStop() {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if lm.state == StateRunning {
		lm.state = StateStopRequested
	}
	lm.abortBA.Set()
}

// IsStopped reports whether the mapper has reached STOPPED.
func (lm *LocalMapper) IsStopped() bool {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	return lm.state == StateStopped
}

// StopRequested reports whether a stop has been requested but not yet
// honored.
func (lm *LocalMapper) StopRequested() bool {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	return lm.state == StateStopRequested
}

// Release moves the mapper from STOPPED back to RUNNING, discarding any
// keyframes queued while stopped.
func (lm *LocalMapper) Release() {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if lm.state == StateFinished || lm.state == StateFinishRequested {
		return
	}
	lm.state = StateRunning

	lm.queueMu.Lock()
	lm.queue = nil
	lm.queueMu.Unlock()

	lm.stateCond.Broadcast()
}

// RequestFinish requests the loop terminate at its next safe point.
func (lm *LocalMapper) RequestFinish() {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.state = StateFinishRequested
	lm.stateCond.Broadcast()
}

// IsFinished reports whether the loop has exited.
func (lm *LocalMapper) IsFinished() bool {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	return lm.state == StateFinished
}

// RequestReset clears the queue and the culling probation lists the next
// time the loop observes the flag.
func (lm *LocalMapper) RequestReset() {
	lm.resetRequested.Store(true)
}

func (lm *LocalMapper) popQueue() (*slammap.KeyFrame, bool) {
	lm.queueMu.Lock()
	defer lm.queueMu.Unlock()
	if len(lm.queue) == 0 {
		return nil, false
	}
	kf := lm.queue[0]
	lm.queue = lm.queue[1:]
	return kf, true
}

func (lm *LocalMapper) queueEmpty() bool {
	lm.queueMu.Lock()
	defer lm.queueMu.Unlock()
	return len(lm.queue) == 0
}

// Start runs the main loop on its own panic-capturing goroutine.
func (lm *LocalMapper) Start() {
	utils.PanicCapturingGo(lm.Run)
}

// Run is the Local Mapper's main control loop. It returns when the state
// machine reaches FINISHED.
func (lm *LocalMapper) Run() {
	for {
		lm.acceptKeyFrames.Store(false)

		if !lm.queueEmpty() {
			kf, ok := lm.popQueue()
			if ok {
				lm.processIteration(kf)
			}
		} else if lm.checkStop() {
			for lm.IsStopped() && !lm.checkFinish() {
				time.Sleep(time.Duration(lm.cfg.PollInterval) * time.Millisecond)
			}
			if lm.checkFinish() {
				lm.finish()
				return
			}
		}

		if lm.checkFinish() {
			lm.finish()
			return
		}

		lm.resetIfRequested()

		lm.acceptKeyFrames.Store(true)

		time.Sleep(time.Duration(lm.cfg.PollInterval) * time.Millisecond)
	}
}

func (lm *LocalMapper) checkFinish() bool {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	return lm.state == StateFinishRequested || lm.state == StateFinished
}

func (lm *LocalMapper) finish() {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	lm.state = StateFinished
	lm.stateCond.Broadcast()
}

// checkStop transitions STOP_REQUESTED -> STOPPED at a safe point (here:
// the loop iteration boundary, with an empty keyframe queue) provided
// notStop is not held by the tracker.
func (lm *LocalMapper) checkStop() bool {
	lm.stateMu.Lock()
	defer lm.stateMu.Unlock()
	if lm.state == StateStopRequested && !lm.notStop.Load() {
		lm.state = StateStopped
		lm.logger.Info("local mapper stopped")
		return true
	}
	return lm.state == StateStopped
}

func (lm *LocalMapper) resetIfRequested() {
	if !lm.resetRequested.CompareAndSwap(true, false) {
		return
	}
	lm.queueMu.Lock()
	lm.queue = nil
	lm.queueMu.Unlock()

	lm.recentMu.Lock()
	lm.recentAddedPoints = nil
	lm.recentAddedLines = nil
	lm.recentMu.Unlock()
}

// processIteration runs one full keyframe-ingestion cycle: ProcessNewKeyFrame,
// the culling fork-join pair, the creation fork-join pair, fusion (only if
// the queue is still empty), local bundle adjustment (only if the queue is
// still empty and more than 2 keyframes exist and no stop was requested),
// and keyframe culling.
func (lm *LocalMapper) processIteration(kf *slammap.KeyFrame) {
	lm.processNewKeyFrame(kf)

	var wg sync.WaitGroup
	wg.Add(2)
	utils.PanicCapturingGo(func() {
		defer wg.Done()
		lm.mapPointCulling(kf)
	})
	utils.PanicCapturingGo(func() {
		defer wg.Done()
		lm.mapLineCulling(kf)
	})
	wg.Wait()

	wg.Add(2)
	utils.PanicCapturingGo(func() {
		defer wg.Done()
		lm.createNewMapPoints(kf)
	})
	utils.PanicCapturingGo(func() {
		defer wg.Done()
		lm.createNewMapLinesConstraint(kf)
	})
	wg.Wait()

	if lm.queueEmpty() {
		lm.searchInNeighbors(kf)
	}

	if lm.queueEmpty() && !lm.StopRequested() && lm.m.KeyFrameCount() > 2 {
		lm.abortBA.Clear()
		if err := lm.ba.LocalBundleAdjustmentWithLine(kf, &lm.abortBA, lm.m); err != nil {
			lm.logger.Warnw("local bundle adjustment failed", "error", err)
		}
	}

	lm.keyFrameCulling(kf)

	if lm.loopCloser != nil {
		lm.loopCloser.InsertKeyFrame(kf)
	}
}
