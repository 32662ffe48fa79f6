package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/livedetect/pkg/onnxdetect"
	"github.com/cyclopcam/livedetect/server/backend"
	"github.com/cyclopcam/livedetect/server/config"
	"github.com/cyclopcam/livedetect/server/pipeline"
	"github.com/cyclopcam/livedetect/server/present"
	"github.com/cyclopcam/livedetect/server/session"
	"github.com/cyclopcam/logs"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

// Tracks totals over every frame that the presenter sees
type summary struct {
	frames  int
	objects int
	maxObj  int
	fpsSum  float64
}

func (s *summary) Show(u pipeline.FrameUpdate) {
	s.frames++
	s.objects += u.ObjectCount
	s.maxObj = max(s.maxObj, u.ObjectCount)
	s.fpsSum += u.FPS
}

func main() {
	parser := argparse.NewParser("predict", "Run object detection over a video file, and print a summary")
	input := parser.String("i", "input", &argparse.Options{Help: "Input video file", Required: true})
	modelFile := parser.String("n", "model", &argparse.Options{Help: "Path to ONNX model file", Required: true})
	onnxLib := parser.String("", "onnxlib", &argparse.Options{Help: "Path to the onnxruntime shared library", Default: ""})
	classes := parser.String("", "classes", &argparse.Options{Help: "Text file with one class name per line", Default: ""})
	resolution := parser.String("r", "resolution", &argparse.Options{Help: "Resolution that frames are resized to", Default: config.DefaultResolution.String()})
	confidence := parser.Float("", "confidence", &argparse.Options{Help: "Confidence threshold, from 0 to 1", Default: float64(config.DefaultConfidence)})
	snapshot := parser.String("o", "output", &argparse.Options{Help: "Write the final annotated frame to this JPEG file", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, _ := logs.NewLog()

	res, err := config.ParseResolution(*resolution)
	check(err)

	cfg := config.DefaultConfig()
	cfg.ModelPath = *modelFile
	cfg.OnnxLibPath = *onnxLib
	cfg.ClassesPath = *classes
	engine, err := backend.LoadEngine(logger, cfg)
	check(err)
	defer onnxdetect.Shutdown()
	defer engine.Close()

	ctrl := session.NewController(logger, session.Options{
		Opener:   backend.OpenDevice,
		Detector: engine,
		Source: config.SourceConfig{
			Kind:       config.SourceFile,
			Path:       *input,
			Resolution: res,
		},
		Confidence: float32(*confidence),
	})

	sum := &summary{}
	last := present.NewSnapshot(95)
	presenter := present.NewPresenter(logger, ctrl.Output(), sum, last, present.NewLogSurface(logger, 2*time.Second))
	presenterDone := make(chan error)
	go func() {
		presenterDone <- presenter.Run(context.Background())
	}()

	start := time.Now()
	check(ctrl.Start())
	var stopped session.Event
	for ev := range ctrl.Events() {
		if ev.Kind == session.EventSessionStopped {
			stopped = ev
			break
		}
	}
	check(ctrl.Close(context.Background()))
	check(<-presenterDone)

	if stopped.Reason == session.StopSourceError {
		logger.Errorf("Video failed: %v", stopped.Error)
	}
	published := ctrl.Output().Published()
	fmt.Printf("Processed %v frames in %.1f seconds (%v shown, %v skipped)\n", published, time.Since(start).Seconds(), sum.frames, ctrl.Output().Dropped())
	if sum.frames != 0 {
		fmt.Printf("Average FPS: %.1f\n", sum.fpsSum/float64(sum.frames))
		fmt.Printf("Objects per frame: %.2f (max %v)\n", float64(sum.objects)/float64(sum.frames), sum.maxObj)
	}

	if *snapshot != "" {
		jpg, err := last.JPEG()
		check(err)
		if jpg != nil {
			check(os.WriteFile(*snapshot, jpg, 0644))
		}
	}
	logger.Close()
}
