package session

import (
	"context"
	"image"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cyclopcam/livedetect/pkg/gen"
	"github.com/cyclopcam/livedetect/pkg/nn"
	"github.com/cyclopcam/livedetect/server/config"
	"github.com/cyclopcam/livedetect/server/metrics"
	"github.com/cyclopcam/livedetect/server/video"
	"github.com/cyclopcam/livedetect/server/video/videotest"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

// oneDetector finds a single object in every frame
type oneDetector struct {
	gate        chan struct{} // If not nil, Infer waits for a token (or for gate to be closed)
	releaseOnce sync.Once

	lock          sync.Mutex
	lastThreshold float32
}

func (d *oneDetector) threshold() float32 {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.lastThreshold
}

// Let all future Infer calls through
func (d *oneDetector) release() {
	d.releaseOnce.Do(func() {
		if d.gate != nil {
			close(d.gate)
		}
	})
}

func (d *oneDetector) Infer(frame *image.RGBA, threshold float32) ([]nn.Detection, error) {
	if d.gate != nil {
		<-d.gate
	}
	d.lock.Lock()
	d.lastThreshold = threshold
	d.lock.Unlock()
	return []nn.Detection{
		{Box: nn.Box{X1: 10, Y1: 10, X2: 50, Y2: 50}, Confidence: 0.8, Label: "person"},
	}, nil
}

type staticPicker struct {
	path string
	ok   bool
}

func (p staticPicker) SelectFile() (string, bool) {
	return p.path, p.ok
}

type rig struct {
	opener   *videotest.Opener
	detector *oneDetector
	ctrl     *Controller
	metrics  *metrics.Metrics
}

func newRig(t *testing.T, source config.SourceConfig, newDevice func(cfg config.SourceConfig) *videotest.Device) *rig {
	opener := &videotest.Opener{
		New:     newDevice,
		Missing: map[string]bool{},
	}
	r := &rig{
		opener:   opener,
		detector: &oneDetector{},
		metrics:  metrics.New(),
	}
	source.Resolution = config.Resolution{Width: 224, Height: 224}
	r.ctrl = NewController(logs.NewTestingLog(t), Options{
		Opener:     opener.Open,
		Detector:   r.detector,
		Source:     source,
		Confidence: 0.5,
		Metrics:    r.metrics,
	})
	t.Cleanup(func() {
		r.detector.release()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		r.ctrl.Close(ctx)
	})
	return r
}

func slowCamera(cfg config.SourceConfig) *videotest.Device {
	d := videotest.NewCamera()
	d.ReadDelay = time.Millisecond
	return d
}

func cameraConfig() config.SourceConfig {
	return config.SourceConfig{Kind: config.SourceCamera}
}

func fileConfig(path string) config.SourceConfig {
	return config.SourceConfig{Kind: config.SourceFile, Path: path}
}

func waitEvent(t *testing.T, c *Controller, kind EventKind) Event {
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("Timed out waiting for %v", kind)
		}
	}
}

func stopCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestDoubleStartRejected(t *testing.T) {
	r := newRig(t, cameraConfig(), slowCamera)
	require.NoError(t, r.ctrl.Start())
	require.ErrorIs(t, r.ctrl.Start(), ErrNotIdle)
	require.Equal(t, StateRunning, r.ctrl.State())
	require.Len(t, r.opener.Opened(), 1)
}

func TestStopReleasesSourceAndStartAgain(t *testing.T) {
	r := newRig(t, cameraConfig(), slowCamera)
	require.ErrorIs(t, r.ctrl.Stop(stopCtx(t)), ErrNotRunning)

	require.NoError(t, r.ctrl.Start())
	started := waitEvent(t, r.ctrl, EventSessionStarted)
	require.NotEmpty(t, started.SessionID)

	_, err := r.ctrl.Output().Take(stopCtx(t))
	require.NoError(t, err)

	require.NoError(t, r.ctrl.Stop(stopCtx(t)))
	require.Equal(t, StateIdle, r.ctrl.State())
	require.True(t, r.opener.Last().IsClosed())

	stopped := waitEvent(t, r.ctrl, EventSessionStopped)
	require.Equal(t, StopUserRequested, stopped.Reason)
	require.Equal(t, started.SessionID, stopped.SessionID)

	require.NoError(t, r.ctrl.Start())
	require.Len(t, r.opener.Opened(), 2)
	second := waitEvent(t, r.ctrl, EventSessionStarted)
	require.NotEqual(t, started.SessionID, second.SessionID)
}

func TestUnavailableCamera(t *testing.T) {
	r := newRig(t, cameraConfig(), slowCamera)
	r.opener.Missing["camera:0"] = true

	err := r.ctrl.Start()
	require.ErrorIs(t, err, video.ErrSourceUnavailable)
	require.Equal(t, StateIdle, r.ctrl.State())
	require.NotEmpty(t, r.ctrl.Status().LastError)

	time.Sleep(20 * time.Millisecond)
	require.Equal(t, uint64(0), r.ctrl.Output().Published())
	require.Len(t, gen.DrainChannelIntoSlice(r.ctrl.Events()), 0)
}

func TestFileWithoutPath(t *testing.T) {
	r := newRig(t, fileConfig(""), slowCamera)
	require.ErrorIs(t, r.ctrl.Start(), config.ErrConfigurationInvalid)
	require.Equal(t, StateIdle, r.ctrl.State())
	require.Len(t, r.opener.Opened(), 0)
}

func TestFileFinished(t *testing.T) {
	r := newRig(t, fileConfig("clip.mp4"), func(cfg config.SourceConfig) *videotest.Device {
		return videotest.NewFile(100, 10)
	})
	require.NoError(t, r.ctrl.Start())
	stopped := waitEvent(t, r.ctrl, EventSessionStopped)
	require.Equal(t, StopFileFinished, stopped.Reason)
	require.Equal(t, StateIdle, r.ctrl.State())
	require.True(t, r.opener.Last().IsClosed())
	require.Equal(t, 1, r.opener.Last().CloseCount())

	// The presenter sees the final frame
	u, ok := r.ctrl.Output().TryTake()
	require.True(t, ok)
	require.Equal(t, 99, u.FrameIndex)
	require.Equal(t, video.Progress{ElapsedSeconds: 10, TotalSeconds: 10}, *u.Progress)
	require.Equal(t, 1, u.ObjectCount)
	require.Equal(t, uint64(100), r.ctrl.Output().Published())

	// Exactly one stop event
	time.Sleep(20 * time.Millisecond)
	for _, ev := range gen.DrainChannelIntoSlice(r.ctrl.Events()) {
		require.NotEqual(t, EventSessionStopped, ev.Kind)
	}
	require.Equal(t, uint64(1), r.metrics.SessionsFinished.Load())

	status := r.ctrl.Status()
	require.Equal(t, StopFileFinished, *status.LastStop)
	require.True(t, status.CanRestart)
	require.ErrorIs(t, r.ctrl.Stop(stopCtx(t)), ErrNotRunning)
}

func TestCameraFailure(t *testing.T) {
	r := newRig(t, cameraConfig(), func(cfg config.SourceConfig) *videotest.Device {
		d := videotest.NewCamera()
		d.FailAfter = 3
		return d
	})
	require.NoError(t, r.ctrl.Start())
	stopped := waitEvent(t, r.ctrl, EventSessionStopped)
	require.Equal(t, StopSourceError, stopped.Reason)
	require.NotEmpty(t, stopped.Error)
	require.Equal(t, StateIdle, r.ctrl.State())
	require.True(t, r.opener.Last().IsClosed())
	require.Equal(t, stopped.Error, r.ctrl.Status().LastError)
	require.Equal(t, uint64(1), r.metrics.SourceErrors.Load())
}

func TestRestartResetsProgress(t *testing.T) {
	r := newRig(t, fileConfig("clip.mp4"), func(cfg config.SourceConfig) *videotest.Device {
		return videotest.NewFile(20, 10)
	})
	require.ErrorIs(t, r.ctrl.Restart(), ErrRestartUnavailable)

	require.NoError(t, r.ctrl.Start())
	waitEvent(t, r.ctrl, EventSessionStopped)
	u, ok := r.ctrl.Output().TryTake()
	require.True(t, ok)
	require.Equal(t, 2.0, u.Progress.ElapsedSeconds)
	require.Equal(t, 2.0, u.Progress.TotalSeconds)

	// Hold the worker on its first frame, so that we can inspect it
	r.detector.gate = make(chan struct{})
	require.NoError(t, r.ctrl.Restart())
	r.detector.gate <- struct{}{}
	u, err := r.ctrl.Output().Take(stopCtx(t))
	require.NoError(t, err)
	require.Equal(t, 0, u.FrameIndex)
	require.InDelta(t, 0.1, u.Progress.ElapsedSeconds, 1e-9)
	require.Equal(t, 2.0, u.Progress.TotalSeconds)
	require.Len(t, r.opener.Opened(), 2)
}

func TestRestartRules(t *testing.T) {
	r := newRig(t, cameraConfig(), func(cfg config.SourceConfig) *videotest.Device {
		if cfg.Kind == config.SourceFile {
			return videotest.NewFile(1, 10)
		}
		return slowCamera(cfg)
	})
	require.ErrorIs(t, r.ctrl.Restart(), ErrRestartUnavailable)

	require.NoError(t, r.ctrl.SwitchSource(fileConfig("a.mp4")))
	require.NoError(t, r.ctrl.Start())
	waitEvent(t, r.ctrl, EventSessionStopped)
	require.True(t, r.ctrl.Status().CanRestart)

	// A different file can't be restarted, because it was never played
	require.NoError(t, r.ctrl.SwitchSource(fileConfig("b.mp4")))
	require.ErrorIs(t, r.ctrl.Restart(), ErrRestartUnavailable)

	require.NoError(t, r.ctrl.SwitchSource(cameraConfig()))
	require.ErrorIs(t, r.ctrl.Restart(), ErrRestartUnavailable)

	require.NoError(t, r.ctrl.Start())
	require.ErrorIs(t, r.ctrl.Restart(), ErrNotIdle)
	require.ErrorIs(t, r.ctrl.SwitchSource(fileConfig("a.mp4")), ErrNotIdle)
}

func TestSettingsWhileRunning(t *testing.T) {
	r := newRig(t, cameraConfig(), slowCamera)
	require.ErrorIs(t, r.ctrl.SetResolution(config.Resolution{Width: 123, Height: 45}), config.ErrConfigurationInvalid)
	require.NoError(t, r.ctrl.SetResolution(config.Resolution{Width: 320, Height: 320}))
	require.Equal(t, config.Resolution{Width: 320, Height: 320}, r.ctrl.Status().Source.Resolution)

	require.NoError(t, r.ctrl.Start())
	require.ErrorIs(t, r.ctrl.SetResolution(config.DefaultResolution), ErrNotIdle)
	_, err := r.ctrl.SelectFile(staticPicker{path: "x.mp4", ok: true})
	require.ErrorIs(t, err, ErrNotIdle)

	// Confidence can change at any time
	v, err := r.ctrl.SetConfidence(1.01)
	require.NoError(t, err)
	require.Equal(t, float32(1), v)
	require.Equal(t, float32(1), r.ctrl.Confidence())

	v, err = r.ctrl.SetConfidence(float32(math.NaN()))
	require.ErrorIs(t, err, config.ErrConfigurationInvalid)
	require.Equal(t, float32(1), v)

	v, err = r.ctrl.SetConfidence(-3)
	require.NoError(t, err)
	require.Equal(t, float32(0), v)

	// The device was asked for the configured resolution
	w, h := r.opener.Last().RequestedResolution()
	require.Equal(t, 320, w)
	require.Equal(t, 320, h)
}

func TestConfidenceReachesRunningWorker(t *testing.T) {
	r := newRig(t, cameraConfig(), slowCamera)
	require.NoError(t, r.ctrl.Start())
	require.Eventually(t, func() bool { return r.detector.threshold() == 0.5 }, 5*time.Second, time.Millisecond)

	_, err := r.ctrl.SetConfidence(0.8)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.detector.threshold() == 0.8 }, 5*time.Second, time.Millisecond)
	// The old value never comes back
	for i := 0; i < 20; i++ {
		require.Equal(t, float32(0.8), r.detector.threshold())
		time.Sleep(time.Millisecond)
	}
	require.NoError(t, r.ctrl.Stop(stopCtx(t)))
}

func TestSelectFile(t *testing.T) {
	r := newRig(t, cameraConfig(), slowCamera)
	ok, err := r.ctrl.SelectFile(staticPicker{})
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, config.SourceCamera, r.ctrl.Status().Source.Kind)

	ok, err = r.ctrl.SelectFile(staticPicker{path: "/videos/dog.mp4", ok: true})
	require.NoError(t, err)
	require.True(t, ok)
	src := r.ctrl.Status().Source
	require.Equal(t, config.SourceFile, src.Kind)
	require.Equal(t, "/videos/dog.mp4", src.Path)
}

func TestStopTimeout(t *testing.T) {
	r := newRig(t, cameraConfig(), slowCamera)
	r.detector.gate = make(chan struct{})
	require.NoError(t, r.ctrl.Start())
	waitEvent(t, r.ctrl, EventSessionStarted)

	// The worker is stuck inside Infer, so it can't notice the stop request
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, r.ctrl.Stop(ctx), context.DeadlineExceeded)
	require.Equal(t, StateStopping, r.ctrl.State())
	require.ErrorIs(t, r.ctrl.Start(), ErrNotIdle)
	require.ErrorIs(t, r.ctrl.Stop(stopCtx(t)), ErrNotRunning)

	r.detector.release()
	stopped := waitEvent(t, r.ctrl, EventSessionStopped)
	require.Equal(t, StopUserRequested, stopped.Reason)
	require.Equal(t, StateIdle, r.ctrl.State())
	require.True(t, r.opener.Last().IsClosed())
}

func TestStopAsync(t *testing.T) {
	r := newRig(t, cameraConfig(), slowCamera)
	require.ErrorIs(t, r.ctrl.StopAsync(), ErrNotRunning)
	require.NoError(t, r.ctrl.Start())
	require.NoError(t, r.ctrl.StopAsync())
	stopped := waitEvent(t, r.ctrl, EventSessionStopped)
	require.Equal(t, StopUserRequested, stopped.Reason)
	require.Equal(t, StateIdle, r.ctrl.State())
}
