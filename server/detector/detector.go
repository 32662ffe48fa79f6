// Package detector turns raw model output into the filtered, labelled
// detections that are drawn on each frame.
package detector

import (
	"errors"
	"fmt"
	"image"

	"github.com/cyclopcam/livedetect/pkg/nn"
)

// The model failed on a single frame. The pipeline treats this as zero detections.
var ErrInferenceFailure = errors.New("inference failure")

// Engine wraps an nn.ObjectDetector.
// Like the detector underneath it, an Engine must only be used by one goroutine at a time.
type Engine struct {
	detector nn.ObjectDetector
	params   nn.DetectionParams
}

// NewEngine creates an engine that runs detector.
// nmsIouThreshold of zero uses nn.DefaultNmsIouThreshold.
func NewEngine(detector nn.ObjectDetector, nmsIouThreshold float32) *Engine {
	if nmsIouThreshold == 0 {
		nmsIouThreshold = nn.DefaultNmsIouThreshold
	}
	return &Engine{
		detector: detector,
		params: nn.DetectionParams{
			NmsIouThreshold: nmsIouThreshold,
		},
	}
}

func (e *Engine) Config() *nn.ModelConfig {
	return e.detector.Config()
}

// Close the underlying detector
func (e *Engine) Close() {
	e.detector.Close()
}

// Infer runs the model once on frame, and returns every detection with a
// confidence strictly greater than threshold.
// Boxes are clipped to the frame, and boxes with no area are discarded.
// The result is ordered by descending confidence, then by box position.
// Any error (or panic) from the model is returned as ErrInferenceFailure.
func (e *Engine) Infer(frame *image.RGBA, threshold float32) (dets []nn.Detection, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			dets = nil
			err = fmt.Errorf("%w: panic: %v", ErrInferenceFailure, rec)
		}
	}()

	params := e.params
	params.ProbabilityThreshold = threshold
	raw, err := e.detector.DetectObjects(frame, &params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInferenceFailure, err)
	}
	return e.filter(raw, threshold, frame.Bounds().Dx(), frame.Bounds().Dy()), nil
}

func (e *Engine) filter(raw []nn.ObjectDetection, threshold float32, width, height int) []nn.Detection {
	kept := make([]nn.ObjectDetection, 0, len(raw))
	for _, o := range raw {
		if !(o.Confidence > threshold) {
			continue
		}
		o.Box = o.Box.Clip(width, height)
		if !o.Box.Valid() {
			continue
		}
		o.Confidence = min(o.Confidence, 1)
		kept = append(kept, o)
	}
	nn.SortByConfidence(kept)

	config := e.detector.Config()
	dets := make([]nn.Detection, len(kept))
	for i, o := range kept {
		dets[i] = nn.Detection{
			Box:        o.Box,
			Confidence: o.Confidence,
			Class:      o.Class,
			Label:      config.ClassName(o.Class),
		}
	}
	return dets
}
