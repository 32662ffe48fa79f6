// Package metrics exposes pipeline and session counters to prometheus.
// All methods are safe to call on a nil *Metrics, which makes metrics optional for tests and tools.
package metrics

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	FramesCaptured   atomic.Uint64
	FramesPublished  atomic.Uint64
	ObjectsDetected  atomic.Uint64
	InferenceErrors  atomic.Uint64
	SourceErrors     atomic.Uint64
	SessionsStarted  atomic.Uint64
	SessionsFinished atomic.Uint64
	Running          atomic.Uint64 // 0 = idle, 1 = running

	fpsBits            atomic.Uint64 // float64 bits
	inferenceLatencyUs atomic.Uint64
	annotateLatencyUs  atomic.Uint64
	frameLatencyUs     atomic.Uint64 // capture to publish

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}
	m.registerPrometheusMetrics()
	return m
}

func (m *Metrics) counter(name, help string, v *atomic.Uint64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: name,
			Help: help,
		},
		func() float64 { return float64(v.Load()) },
	))
}

func (m *Metrics) registerPrometheusMetrics() {
	m.counter("livedetect_frames_captured_total", "Frames read from the video source", &m.FramesCaptured)
	m.counter("livedetect_frames_published_total", "Annotated frames handed to the presentation surface", &m.FramesPublished)
	m.counter("livedetect_objects_detected_total", "Detections above the confidence threshold", &m.ObjectsDetected)
	m.counter("livedetect_inference_errors_total", "Frames on which the model failed", &m.InferenceErrors)
	m.counter("livedetect_source_errors_total", "Sessions ended by a camera or file error", &m.SourceErrors)
	m.counter("livedetect_sessions_started_total", "Sessions started", &m.SessionsStarted)
	m.counter("livedetect_sessions_finished_total", "File sessions that played to the end", &m.SessionsFinished)

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "livedetect_session_running",
			Help: "Session running (0=idle, 1=running)",
		},
		func() float64 { return float64(m.Running.Load()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "livedetect_fps",
			Help: "Most recent pipeline frame rate",
		},
		func() float64 { return m.FPS() },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "livedetect_inference_latency_seconds",
			Help: "Most recent model inference time",
		},
		func() float64 { return float64(m.inferenceLatencyUs.Load()) / 1e6 },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "livedetect_annotate_latency_seconds",
			Help: "Most recent annotation time",
		},
		func() float64 { return float64(m.annotateLatencyUs.Load()) / 1e6 },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "livedetect_frame_latency_seconds",
			Help: "Most recent time from capture to publish",
		},
		func() float64 { return float64(m.frameLatencyUs.Load()) / 1e6 },
	))
}

// RegisterDropped exposes the number of frames that were replaced in the
// latest-wins slot before the presenter took them.
func (m *Metrics) RegisterDropped(dropped func() uint64) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{
			Name: "livedetect_frames_dropped_total",
			Help: "Annotated frames superseded before the presentation surface took them",
		},
		func() float64 { return float64(dropped()) },
	))
}

func (m *Metrics) FrameCaptured() {
	if m == nil {
		return
	}
	m.FramesCaptured.Add(1)
}

// FramePublished records one published frame, and the time it took from capture to publish
func (m *Metrics) FramePublished(fps float64, objects int, latency time.Duration) {
	if m == nil {
		return
	}
	m.FramesPublished.Add(1)
	m.ObjectsDetected.Add(uint64(objects))
	m.fpsBits.Store(math.Float64bits(fps))
	m.frameLatencyUs.Store(uint64(latency.Microseconds()))
}

func (m *Metrics) InferenceError() {
	if m == nil {
		return
	}
	m.InferenceErrors.Add(1)
}

func (m *Metrics) InferenceLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.inferenceLatencyUs.Store(uint64(d.Microseconds()))
}

func (m *Metrics) AnnotateLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.annotateLatencyUs.Store(uint64(d.Microseconds()))
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Add(1)
	m.Running.Store(1)
}

// SessionStopped records the end of a session.
// finished is true when a file played to the end, and failed is true when the source broke.
func (m *Metrics) SessionStopped(finished, failed bool) {
	if m == nil {
		return
	}
	m.Running.Store(0)
	m.fpsBits.Store(0)
	if finished {
		m.SessionsFinished.Add(1)
	}
	if failed {
		m.SourceErrors.Add(1)
	}
}

func (m *Metrics) FPS() float64 {
	if m == nil {
		return 0
	}
	return math.Float64frombits(m.fpsBits.Load())
}

// Handler returns the prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
