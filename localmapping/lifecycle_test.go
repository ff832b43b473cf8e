package localmapping

import (
	"testing"
	"time"

	"go.viam.com/test"

	"github.com/viam-labs/plslam/geometry"
	"github.com/viam-labs/plslam/logging"
	"github.com/viam-labs/plslam/slammap"
)

func TestRequestStopTransitionsToStopped(t *testing.T) {
	m := slammap.NewMap()
	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)

	test.That(t, lm.StopRequested(), test.ShouldBeFalse)
	lm.RequestStop()
	test.That(t, lm.StopRequested(), test.ShouldBeTrue)

	test.That(t, lm.checkStop(), test.ShouldBeTrue)
	test.That(t, lm.IsStopped(), test.ShouldBeTrue)

	lm.Release()
	test.That(t, lm.IsStopped(), test.ShouldBeFalse)
}

func TestRequestStopHonorsNotStop(t *testing.T) {
	m := slammap.NewMap()
	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)

	lm.SetNotStop(true)
	lm.RequestStop()

	test.That(t, lm.checkStop(), test.ShouldBeFalse)
	test.That(t, lm.IsStopped(), test.ShouldBeFalse)
}

func TestInsertKeyFrameEnqueuesAndRaisesAbort(t *testing.T) {
	m := slammap.NewMap()
	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)
	lm.abortBA.Clear()

	kf := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, geometry.CameraIntrinsics{Fx: 1, Fy: 1}, nil, identityPose())
	lm.InsertKeyFrame(kf)

	test.That(t, lm.abortBA.Get(), test.ShouldBeTrue)
	test.That(t, lm.queueEmpty(), test.ShouldBeFalse)

	got, ok := lm.popQueue()
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, got, test.ShouldEqual, kf)
	test.That(t, lm.queueEmpty(), test.ShouldBeTrue)
}

func TestRunExitsOnRequestFinish(t *testing.T) {
	m := slammap.NewMap()
	cfg := DefaultConfig()
	cfg.PollInterval = 1
	lm := New(cfg, logging.NewTestLogger(t), m, nil, nil, nil)

	done := make(chan struct{})
	go func() {
		lm.Run()
		close(done)
	}()

	lm.RequestFinish()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not exit after RequestFinish")
	}
	test.That(t, lm.IsFinished(), test.ShouldBeTrue)
}

func TestRequestResetClearsQueueAndProbationLists(t *testing.T) {
	m := slammap.NewMap()
	lm := New(DefaultConfig(), logging.NewTestLogger(t), m, nil, nil, nil)

	kf := slammap.NewKeyFrame(m.NextKeyFrameID(), nil, nil, geometry.CameraIntrinsics{Fx: 1, Fy: 1}, nil, identityPose())
	lm.InsertKeyFrame(kf)
	lm.recentAddedPoints = []int{1, 2, 3}
	lm.recentAddedLines = []int{4, 5}

	lm.RequestReset()
	lm.resetIfRequested()

	test.That(t, lm.queueEmpty(), test.ShouldBeTrue)
	test.That(t, len(lm.recentAddedPoints), test.ShouldEqual, 0)
	test.That(t, len(lm.recentAddedLines), test.ShouldEqual, 0)
}
