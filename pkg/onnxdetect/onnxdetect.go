// Package onnxdetect runs YOLOv8 style object detection models through onnxruntime.
//
// The model is expected to have a single input "images" of shape [1,3,H,W]
// (RGB, normalized to 0..1), and a single output "output0" of shape
// [1, 4+numClasses, N], where the first 4 rows are (cx, cy, w, h) in input
// pixels, and the remaining rows are per-class scores.
package onnxdetect

import (
	"errors"
	"fmt"
	"image"
	"runtime"

	"github.com/cyclopcam/livedetect/pkg/nn"
	"github.com/disintegration/imaging"
	ort "github.com/yalue/onnxruntime_go"
)

// Initialize loads the onnxruntime shared library. This must be called once
// before creating any detectors. libPath may be empty, in which case the
// library is found on the system's default search path.
func Initialize(libPath string) error {
	if libPath != "" {
		ort.SetSharedLibraryPath(libPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("Failed to initialize ONNX environment: %w", err)
	}
	return nil
}

// Shutdown releases the onnxruntime environment
func Shutdown() {
	ort.DestroyEnvironment()
}

// Detector is an nn.ObjectDetector backed by an onnxruntime session.
// It is not safe for concurrent use.
type Detector struct {
	config     nn.ModelConfig
	session    *ort.AdvancedSession
	input      *ort.Tensor[float32]
	output     *ort.Tensor[float32]
	numAnchors int
}

// NewDetector loads the ONNX model at modelPath.
// config.Width and config.Height must match the model input, and config.Classes
// must have one entry per class that the model outputs.
func NewDetector(modelPath string, config nn.ModelConfig, numAnchors int) (*Detector, error) {
	if config.Width <= 0 || config.Height <= 0 {
		return nil, fmt.Errorf("Invalid model size %vx%v", config.Width, config.Height)
	}
	if len(config.Classes) == 0 {
		return nil, errors.New("Model config has no classes")
	}
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()
	options.SetIntraOpNumThreads(runtime.NumCPU())
	options.SetInterOpNumThreads(1)

	inputShape := ort.NewShape(1, 3, int64(config.Height), int64(config.Width))
	outputShape := ort.NewShape(1, int64(4+len(config.Classes)), int64(numAnchors))

	input, err := ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}
	output, err := ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		input.Destroy()
		return nil, fmt.Errorf("error creating output tensor: %w", err)
	}
	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"images"},
		[]string{"output0"},
		[]ort.ArbitraryTensor{input},
		[]ort.ArbitraryTensor{output},
		options,
	)
	if err != nil {
		input.Destroy()
		output.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return &Detector{
		config:     config,
		session:    session,
		input:      input,
		output:     output,
		numAnchors: numAnchors,
	}, nil
}

// Number of anchors in a YOLOv8 model with a 640x640 input
func DefaultAnchors(width, height int) int {
	// Strides 8, 16, 32
	n := 0
	for _, stride := range []int{8, 16, 32} {
		n += (width / stride) * (height / stride)
	}
	return n
}

func (d *Detector) Close() {
	d.session.Destroy()
	d.input.Destroy()
	d.output.Destroy()
}

func (d *Detector) Config() *nn.ModelConfig {
	return &d.config
}

func (d *Detector) DetectObjects(img image.Image, params *nn.DetectionParams) ([]nn.ObjectDetection, error) {
	if params == nil {
		params = nn.NewDetectionParams()
	}
	resized := imaging.Resize(img, d.config.Width, d.config.Height, imaging.Linear)
	fillInput(resized, d.input.GetData(), d.config.Width, d.config.Height)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("model inference: %w", err)
	}
	b := img.Bounds()
	scaleX := float32(b.Dx()) / float32(d.config.Width)
	scaleY := float32(b.Dy()) / float32(d.config.Height)
	objects := decodeOutput(d.output.GetData(), len(d.config.Classes), d.numAnchors, params.ProbabilityThreshold, scaleX, scaleY)
	nms := params.NmsIouThreshold
	if nms == 0 {
		nms = nn.DefaultNmsIouThreshold
	}
	return nn.NMS(objects, nms), nil
}

// Write img into dst in planar CHW layout, normalized to [0,1]
func fillInput(img *image.NRGBA, dst []float32, width, height int) {
	plane := width * height
	for y := 0; y < height; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < width; x++ {
			i := y*width + x
			dst[i] = float32(row[x*4+0]) / 255
			dst[plane+i] = float32(row[x*4+1]) / 255
			dst[2*plane+i] = float32(row[x*4+2]) / 255
		}
	}
}

// decodeOutput converts the raw [4+numClasses, numAnchors] output into objects.
// Boxes are scaled back from model input space into image space.
func decodeOutput(out []float32, numClasses, numAnchors int, threshold, scaleX, scaleY float32) []nn.ObjectDetection {
	objects := []nn.ObjectDetection{}
	for i := 0; i < numAnchors; i++ {
		bestClass := -1
		bestScore := float32(0)
		for c := 0; c < numClasses; c++ {
			score := out[(4+c)*numAnchors+i]
			if score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < threshold {
			continue
		}
		cx := out[0*numAnchors+i] * scaleX
		cy := out[1*numAnchors+i] * scaleY
		w := out[2*numAnchors+i] * scaleX
		h := out[3*numAnchors+i] * scaleY
		objects = append(objects, nn.ObjectDetection{
			Class:      bestClass,
			Confidence: min(bestScore, 1),
			Box:        nn.BoxFromCenter(cx, cy, w, h),
		})
	}
	return objects
}
