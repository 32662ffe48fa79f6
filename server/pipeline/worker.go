// Package pipeline runs the capture, detect, annotate, publish loop of a session.
package pipeline

import (
	"errors"
	"image"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/livedetect/pkg/latest"
	"github.com/cyclopcam/livedetect/pkg/nn"
	"github.com/cyclopcam/livedetect/pkg/perfstats"
	"github.com/cyclopcam/livedetect/server/annotate"
	"github.com/cyclopcam/livedetect/server/config"
	"github.com/cyclopcam/livedetect/server/metrics"
	"github.com/cyclopcam/livedetect/server/video"
	"github.com/cyclopcam/logs"
)

// FrameUpdate is what the worker hands to the presentation surface after every frame
type FrameUpdate struct {
	Image       *image.RGBA     // Annotated frame. The worker does not touch it again after publishing.
	FPS         float64         // Instantaneous pipeline frame rate
	ObjectCount int             // Number of detections drawn on Image
	Progress    *video.Progress // Non-nil if and only if the source is a file
	FrameIndex  int             // Index of the frame in the source
	Captured    time.Time
}

type State int32

const (
	StateStarting State = iota
	StateLooping
	StateDraining
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateLooping:
		return "looping"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Why the worker exited
type ExitReason int

const (
	ExitStopRequested ExitReason = iota
	ExitFileFinished
	ExitSourceError
)

func (r ExitReason) String() string {
	switch r {
	case ExitStopRequested:
		return "stop requested"
	case ExitFileFinished:
		return "file finished"
	case ExitSourceError:
		return "source error"
	}
	return "unknown"
}

// Detector is the part of detector.Engine that the worker needs
type Detector interface {
	Infer(frame *image.RGBA, threshold float32) ([]nn.Detection, error)
}

type Options struct {
	Log        logs.Log
	Source     *video.Source
	Detector   Detector
	Confidence *config.Confidence // Read once per frame
	Resolution config.Resolution  // Frames are resized to this
	Output     *latest.Slot[FrameUpdate]
	Metrics    *metrics.Metrics // May be nil
	Clock      func() time.Time // Defaults to time.Now
}

// Stage timings of a worker
type Stats struct {
	Frames    int64         `json:"frames"`
	FPS       float64       `json:"fps"`
	Capture   time.Duration `json:"capture"`
	Inference time.Duration `json:"inference"`
	Annotate  time.Duration `json:"annotate"`
}

// Worker owns the loop for one running session.
// It borrows the Source, and closes it when it exits.
type Worker struct {
	log        logs.Log
	source     *video.Source
	detector   Detector
	confidence *config.Confidence
	resolution config.Resolution
	output     *latest.Slot[FrameUpdate]
	metrics    *metrics.Metrics
	clock      func() time.Time

	stop  atomic.Bool
	state atomic.Int32
	done  chan struct{}

	// Written before done is closed
	exitReason ExitReason
	exitErr    error

	// Only touched by the worker goroutine
	fps       fpsMeter
	lastErrAt time.Time

	fpsBits   atomic.Uint64
	capture   perfstats.TimeAccumulator
	inference perfstats.TimeAccumulator
	annotate  perfstats.TimeAccumulator
}

// Start launches a worker goroutine
func Start(opt Options) *Worker {
	if opt.Clock == nil {
		opt.Clock = time.Now
	}
	w := &Worker{
		log:        opt.Log,
		source:     opt.Source,
		detector:   opt.Detector,
		confidence: opt.Confidence,
		resolution: opt.Resolution,
		output:     opt.Output,
		metrics:    opt.Metrics,
		clock:      opt.Clock,
		done:       make(chan struct{}),
	}
	go w.run()
	return w
}

// RequestStop asks the worker to exit. It returns immediately.
// The worker notices the request at the start of its next iteration, so the
// frame that is currently being processed will still be published.
func (w *Worker) RequestStop() {
	w.stop.Store(true)
}

// Done is closed after the worker has exited and released the source
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

// Exit returns the reason that the worker stopped.
// This is only valid after Done() is closed.
func (w *Worker) Exit() (ExitReason, error) {
	<-w.done
	return w.exitReason, w.exitErr
}

func (w *Worker) Stats() Stats {
	return Stats{
		Frames:    w.capture.Samples(),
		FPS:       fromBits(w.fpsBits.Load()),
		Capture:   w.capture.Recent(),
		Inference: w.inference.Recent(),
		Annotate:  w.annotate.Recent(),
	}
}

func (w *Worker) run() {
	w.state.Store(int32(StateStarting))
	w.fps.reset(w.clock())

	w.state.Store(int32(StateLooping))
	reason, err := w.loop()

	w.state.Store(int32(StateDraining))
	if cerr := w.source.Close(); cerr != nil {
		w.log.Warnf("Error closing video source: %v", cerr)
	}
	w.exitReason = reason
	w.exitErr = err
	if err != nil {
		w.log.Errorf("Pipeline stopped (%v): %v", reason, err)
	} else {
		w.log.Infof("Pipeline stopped (%v)", reason)
	}
	w.log.Infof("Processed %v frames. Average capture %v, inference %v, annotate %v",
		w.capture.Samples(), w.capture.Average(), w.inference.Average(), w.annotate.Average())
	w.state.Store(int32(StateStopped))
	close(w.done)
}

func (w *Worker) loop() (ExitReason, error) {
	for !w.stop.Load() {
		start := time.Now()
		frame, err := w.source.NextFrame()
		if err != nil {
			if errors.Is(err, video.ErrEndOfStream) {
				return ExitFileFinished, nil
			}
			return ExitSourceError, err
		}
		w.capture.AddSample(time.Since(start))
		captured := w.clock()
		w.metrics.FrameCaptured()

		img := video.Resize(frame.Image, w.resolution.Width, w.resolution.Height)

		var progress *video.Progress
		if p, ok := w.source.Progress(); ok {
			progress = &p
		}

		start = time.Now()
		dets, err := w.detector.Infer(img, w.confidence.Load())
		elapsed := time.Since(start)
		w.inference.AddSample(elapsed)
		w.metrics.InferenceLatency(elapsed)
		if err != nil {
			w.metrics.InferenceError()
			if time.Since(w.lastErrAt) > 15*time.Second {
				w.log.Errorf("Error detecting objects: %v", err)
				w.lastErrAt = time.Now()
			}
			dets = nil
		}

		start = time.Now()
		img = annotate.Draw(img, dets)
		elapsed = time.Since(start)
		w.annotate.AddSample(elapsed)
		w.metrics.AnnotateLatency(elapsed)

		now := w.clock()
		fps := w.fps.tick(now)
		w.fpsBits.Store(toBits(fps))

		w.output.Publish(FrameUpdate{
			Image:       img,
			FPS:         fps,
			ObjectCount: len(dets),
			Progress:    progress,
			FrameIndex:  frame.Index,
			Captured:    captured,
		})
		w.metrics.FramePublished(fps, len(dets), now.Sub(captured))
	}
	return ExitStopRequested, nil
}
