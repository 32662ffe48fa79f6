// Package backend connects the session to real hardware: OpenCV for video
// capture, and onnxruntime for object detection.
package backend

import (
	"fmt"

	"github.com/cyclopcam/livedetect/pkg/cvcapture"
	"github.com/cyclopcam/livedetect/pkg/nn"
	"github.com/cyclopcam/livedetect/pkg/onnxdetect"
	"github.com/cyclopcam/livedetect/server/config"
	"github.com/cyclopcam/livedetect/server/detector"
	"github.com/cyclopcam/livedetect/server/video"
	"github.com/cyclopcam/logs"
)

// OpenDevice is a video.Opener backed by OpenCV
func OpenDevice(cfg config.SourceConfig) (video.Device, error) {
	var c *cvcapture.Capture
	var err error
	if cfg.Kind == config.SourceFile {
		c, err = cvcapture.OpenFile(cfg.Path)
	} else {
		c, err = cvcapture.OpenCamera(cfg.CameraIndex)
	}
	if err != nil {
		// Avoid returning a non-nil interface holding a nil pointer
		return nil, err
	}
	return c, nil
}

// Model config that is assumed when none is specified: a COCO YOLOv8 model at 640x640
func DefaultModelConfig() *nn.ModelConfig {
	return &nn.ModelConfig{
		Architecture: "yolov8",
		Width:        640,
		Height:       640,
		Classes:      nn.COCOClasses,
	}
}

// LoadEngine initializes onnxruntime and loads the model described by cfg.
// The caller must Close the engine, and then call onnxdetect.Shutdown.
func LoadEngine(log logs.Log, cfg *config.Config) (*detector.Engine, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("%w: no model specified", config.ErrConfigurationInvalid)
	}
	modelConfig := DefaultModelConfig()
	if cfg.ModelConfigPath != "" {
		mc, err := nn.LoadModelConfig(cfg.ModelConfigPath)
		if err != nil {
			return nil, fmt.Errorf("Error loading model config %v: %w", cfg.ModelConfigPath, err)
		}
		modelConfig = mc
	}
	if cfg.ClassesPath != "" {
		classes, err := nn.LoadClassFile(cfg.ClassesPath)
		if err != nil {
			return nil, fmt.Errorf("Error loading classes %v: %w", cfg.ClassesPath, err)
		}
		modelConfig.Classes = classes
	}
	if err := onnxdetect.Initialize(cfg.OnnxLibPath); err != nil {
		return nil, err
	}
	anchors := onnxdetect.DefaultAnchors(modelConfig.Width, modelConfig.Height)
	det, err := onnxdetect.NewDetector(cfg.ModelPath, *modelConfig, anchors)
	if err != nil {
		onnxdetect.Shutdown()
		return nil, fmt.Errorf("Error loading model %v: %w", cfg.ModelPath, err)
	}
	log.Infof("Loaded %v model %v (%vx%v, %v classes)", modelConfig.Architecture, cfg.ModelPath, modelConfig.Width, modelConfig.Height, len(modelConfig.Classes))
	return detector.NewEngine(det, cfg.NmsIouThreshold), nil
}
