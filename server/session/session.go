// Package session owns the lifecycle of a detection session: opening the
// video source, running the pipeline worker, and tearing both down again.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cyclopcam/livedetect/pkg/latest"
	"github.com/cyclopcam/livedetect/pkg/prefixlog"
	"github.com/cyclopcam/livedetect/server/config"
	"github.com/cyclopcam/livedetect/server/metrics"
	"github.com/cyclopcam/livedetect/server/pipeline"
	"github.com/cyclopcam/livedetect/server/video"
	"github.com/cyclopcam/logs"
	"github.com/google/uuid"
)

// Number of events that can be queued before we start dropping them
const eventQueueSize = 32

type Options struct {
	Opener     video.Opener
	Detector   pipeline.Detector
	Source     config.SourceConfig // Initial source
	Confidence float32             // Initial confidence threshold
	Metrics    *metrics.Metrics    // May be nil
	Clock      func() time.Time    // Passed to the pipeline. May be nil.
}

// Snapshot of the controller, for the control API
type Status struct {
	State      State               `json:"state"`
	SessionID  string              `json:"sessionID,omitempty"`
	Source     config.SourceConfig `json:"source"`
	Confidence float32             `json:"confidence"`
	CanRestart bool                `json:"canRestart"`
	LastStop   *StopReason         `json:"lastStop,omitempty"`
	LastError  string              `json:"lastError,omitempty"`
	Stats      *pipeline.Stats     `json:"stats,omitempty"`
}

// Controller is the session state machine (Idle, Running, Stopping).
// All of its methods are safe to call from any goroutine.
type Controller struct {
	Log        logs.Log
	opener     video.Opener
	detector   pipeline.Detector
	metrics    *metrics.Metrics
	clock      func() time.Time
	confidence *config.Confidence
	output     *latest.Slot[pipeline.FrameUpdate]
	events     chan Event

	lock      sync.Mutex
	closed    bool
	state     State
	cfg       config.SourceConfig
	source    *video.Source
	worker    *pipeline.Worker
	sessionID string
	lastPath  string // Path of the most recent file session that was opened
	lastStop  *StopReason
	lastError string
}

func NewController(log logs.Log, opt Options) *Controller {
	c := &Controller{
		Log:        log,
		opener:     opt.Opener,
		detector:   opt.Detector,
		metrics:    opt.Metrics,
		clock:      opt.Clock,
		confidence: config.NewConfidence(opt.Confidence),
		output:     latest.NewSlot[pipeline.FrameUpdate](),
		events:     make(chan Event, eventQueueSize),
		cfg:        opt.Source,
	}
	c.metrics.RegisterDropped(c.output.Dropped)
	return c
}

// Output is the stream of annotated frames. It lives as long as the controller.
func (c *Controller) Output() *latest.Slot[pipeline.FrameUpdate] {
	return c.output
}

// Events delivers SessionStarted and SessionStopped events.
// If nobody reads them, the oldest are kept and new ones are dropped.
func (c *Controller) Events() <-chan Event {
	return c.events
}

func (c *Controller) State() State {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.state
}

func (c *Controller) Confidence() float32 {
	return c.confidence.Load()
}

func (c *Controller) Status() Status {
	c.lock.Lock()
	defer c.lock.Unlock()
	s := Status{
		State:      c.state,
		SessionID:  c.sessionID,
		Source:     c.cfg,
		Confidence: c.confidence.Load(),
		CanRestart: c.canRestartLocked(),
		LastStop:   c.lastStop,
		LastError:  c.lastError,
	}
	if c.worker != nil {
		stats := c.worker.Stats()
		s.Stats = &stats
	}
	return s
}

// Start a session with the current source configuration
func (c *Controller) Start() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state != StateIdle || c.closed {
		return ErrNotIdle
	}
	return c.startLocked(false)
}

// Restart plays the most recent video file again from the beginning
func (c *Controller) Restart() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state != StateIdle || c.closed {
		return ErrNotIdle
	}
	if !c.canRestartLocked() {
		return ErrRestartUnavailable
	}
	return c.startLocked(true)
}

func (c *Controller) canRestartLocked() bool {
	return c.state == StateIdle && c.cfg.Kind == config.SourceFile && c.lastPath != "" && c.cfg.Path == c.lastPath
}

func (c *Controller) startLocked(rewind bool) error {
	if c.source != nil {
		// Should be impossible, but never leak a device
		c.Log.Warnf("Releasing lingering video source")
		c.source.Close()
		c.source = nil
	}
	cfg := c.cfg
	if err := cfg.Validate(); err != nil {
		c.Log.Errorf("Cannot start session: %v", err)
		return err
	}

	id := uuid.NewString()
	log := prefixlog.New(c.Log, "Session "+id[:8])
	src, err := video.Open(log, cfg, c.opener)
	if err != nil {
		log.Errorf("Failed to start: %v", err)
		c.lastError = err.Error()
		return err
	}
	src.ApplyResolution(cfg.Resolution.Width, cfg.Resolution.Height)
	if rewind {
		src.SeekToStart()
	}

	w := pipeline.Start(pipeline.Options{
		Log:        log,
		Source:     src,
		Detector:   c.detector,
		Confidence: c.confidence,
		Resolution: cfg.Resolution,
		Output:     c.output,
		Metrics:    c.metrics,
		Clock:      c.clock,
	})
	c.source = src
	c.worker = w
	c.sessionID = id
	c.state = StateRunning
	c.lastError = ""
	if cfg.Kind == config.SourceFile {
		c.lastPath = cfg.Path
	}
	log.Infof("Started (%v at %v)", describe(cfg), cfg.Resolution)
	c.metrics.SessionStarted()
	c.emitLocked(Event{
		Kind:      EventSessionStarted,
		SessionID: id,
		Source:    cfg,
		Time:      time.Now(),
	})
	go c.watch(w)
	return nil
}

func describe(cfg config.SourceConfig) string {
	if cfg.Kind == config.SourceFile {
		return cfg.Path
	}
	return fmt.Sprintf("camera %v", cfg.CameraIndex)
}

// Stop the running session, and wait for the worker to exit.
// If ctx expires first, Stop returns ctx.Err(), and the controller remains in
// the Stopping state until the worker exits on its own.
func (c *Controller) Stop(ctx context.Context) error {
	w, err := c.beginStop()
	if err != nil {
		return err
	}
	select {
	case <-w.Done():
	case <-ctx.Done():
		c.Log.Warnf("Timed out waiting for pipeline to stop")
		return ctx.Err()
	}
	reason, werr := w.Exit()
	c.lock.Lock()
	defer c.lock.Unlock()
	c.finishLocked(w, reason, werr)
	return nil
}

// StopAsync requests a stop and returns immediately.
// The transition to Idle happens when the worker exits.
func (c *Controller) StopAsync() error {
	_, err := c.beginStop()
	return err
}

func (c *Controller) beginStop() (*pipeline.Worker, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state != StateRunning {
		return nil, ErrNotRunning
	}
	c.state = StateStopping
	c.worker.RequestStop()
	return c.worker, nil
}

func (c *Controller) watch(w *pipeline.Worker) {
	<-w.Done()
	reason, err := w.Exit()
	c.lock.Lock()
	defer c.lock.Unlock()
	c.finishLocked(w, reason, err)
}

// finishLocked moves the controller to Idle after worker w has exited.
// Both Stop and the watcher goroutine call this, but only the first call for
// a given worker has any effect.
func (c *Controller) finishLocked(w *pipeline.Worker, exit pipeline.ExitReason, exitErr error) {
	if c.worker != w {
		return
	}
	reason := StopUserRequested
	if c.state != StateStopping {
		switch exit {
		case pipeline.ExitFileFinished:
			reason = StopFileFinished
		case pipeline.ExitSourceError:
			reason = StopSourceError
		}
	}
	if err := c.source.Close(); err != nil {
		c.Log.Warnf("Error closing video source: %v", err)
	}
	ev := Event{
		Kind:      EventSessionStopped,
		SessionID: c.sessionID,
		Source:    c.source.Config(),
		Reason:    reason,
		Time:      time.Now(),
	}
	if reason == StopSourceError && exitErr != nil {
		ev.Error = exitErr.Error()
		c.lastError = ev.Error
	}
	c.source = nil
	c.worker = nil
	c.state = StateIdle
	c.lastStop = &reason
	c.Log.Infof("Session %v stopped (%v)", c.sessionID, reason)
	c.metrics.SessionStopped(reason == StopFileFinished, reason == StopSourceError)
	c.emitLocked(ev)
}

func (c *Controller) emitLocked(ev Event) {
	if c.closed {
		return
	}
	select {
	case c.events <- ev:
	default:
		c.Log.Warnf("Event queue is full. Dropping %v event", ev.Kind)
	}
}

// SwitchSource replaces the source kind, path and camera index.
// The resolution is retained.
func (c *Controller) SwitchSource(cfg config.SourceConfig) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state != StateIdle {
		return ErrNotIdle
	}
	c.cfg.Kind = cfg.Kind
	c.cfg.Path = cfg.Path
	c.cfg.CameraIndex = cfg.CameraIndex
	return nil
}

// SetResolution changes the capture resolution. This requires the session to be stopped.
func (c *Controller) SetResolution(res config.Resolution) error {
	if _, err := config.ParseResolution(res.String()); err != nil {
		return err
	}
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state != StateIdle {
		return ErrNotIdle
	}
	c.cfg.Resolution = res
	return nil
}

// SetConfidence changes the detection threshold, taking effect on the next frame.
// The value is clamped to [0,1], and the stored value is returned.
func (c *Controller) SetConfidence(v float32) (float32, error) {
	return c.confidence.Set(v)
}

// SelectFile asks picker for a video file, and if the user chooses one, it
// becomes the source of the next session.
// Returns true if a file was chosen.
func (c *Controller) SelectFile(picker FilePicker) (bool, error) {
	c.lock.Lock()
	if c.state != StateIdle {
		c.lock.Unlock()
		return false, ErrNotIdle
	}
	c.lock.Unlock()

	// Don't hold the lock while the user is browsing
	path, ok := picker.SelectFile()
	if !ok || path == "" {
		return false, nil
	}

	c.lock.Lock()
	defer c.lock.Unlock()
	if c.state != StateIdle {
		return false, ErrNotIdle
	}
	c.cfg.Kind = config.SourceFile
	c.cfg.Path = path
	return true, nil
}

// Close stops any running session, and closes the output slot.
// No more events are emitted after Close.
func (c *Controller) Close(ctx context.Context) error {
	err := c.Stop(ctx)
	if errors.Is(err, ErrNotRunning) {
		err = nil
	}
	c.lock.Lock()
	c.closed = true
	c.lock.Unlock()
	c.output.Close()
	return err
}
