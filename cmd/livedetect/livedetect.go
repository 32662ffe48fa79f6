package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/livedetect/pkg/onnxdetect"
	"github.com/cyclopcam/livedetect/server"
	"github.com/cyclopcam/livedetect/server/backend"
	"github.com/cyclopcam/livedetect/server/config"
	"github.com/cyclopcam/logs"
)

func main() {
	parser := argparse.NewParser("livedetect", "Live object detection on a camera or video file")
	configFile := parser.String("c", "config", &argparse.Options{Help: "JSON configuration file", Default: ""})
	listen := parser.String("", "listen", &argparse.Options{Help: "HTTP control API address, eg :8080", Default: ""})
	model := parser.String("", "model", &argparse.Options{Help: "ONNX object detection model", Default: ""})
	onnxLib := parser.String("", "onnxlib", &argparse.Options{Help: "Path to the onnxruntime shared library", Default: ""})
	classes := parser.String("", "classes", &argparse.Options{Help: "Text file with one class name per line", Default: ""})
	camera := parser.Int("", "camera", &argparse.Options{Help: "Camera index", Default: -1})
	videoFile := parser.String("", "file", &argparse.Options{Help: "Video file to play, instead of a camera", Default: ""})
	resolution := parser.String("", "resolution", &argparse.Options{Help: "Capture resolution, eg 640x480", Default: ""})
	confidence := parser.Float("", "confidence", &argparse.Options{Help: "Confidence threshold, from 0 to 1", Default: -1.0})
	autoStart := parser.Flag("", "start", &argparse.Options{Help: "Start a session immediately", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if *model != "" {
		cfg.ModelPath = *model
	}
	if *onnxLib != "" {
		cfg.OnnxLibPath = *onnxLib
	}
	if *classes != "" {
		cfg.ClassesPath = *classes
	}
	if *camera >= 0 {
		cfg.Source = config.SourceCamera.String()
		cfg.CameraIndex = *camera
	}
	if *videoFile != "" {
		cfg.Source = config.SourceFile.String()
		cfg.VideoFile = *videoFile
	}
	if *resolution != "" {
		res, err := config.ParseResolution(*resolution)
		if err != nil {
			logger.Errorf("%v", err)
			os.Exit(1)
		}
		cfg.Resolution = res
	}
	if *confidence >= 0 {
		cfg.Confidence = float32(*confidence)
	}
	if err := cfg.Validate(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	source, err := cfg.SourceConfig()
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	engine, err := backend.LoadEngine(logger, cfg)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	defer onnxdetect.Shutdown()
	defer engine.Close()

	srv, err := server.NewServer(logger, server.Options{
		Config:   cfg,
		Opener:   backend.OpenDevice,
		Detector: engine,
		Source:   source,
	})
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	if *autoStart {
		if err := srv.Session.Start(); err != nil {
			logger.Errorf("Failed to start session: %v", err)
		}
	}

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(cfg.Listen); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
	}
	if err := <-srv.ShutdownComplete; err != nil {
		logger.Warnf("%v", err)
	}
	logger.Close()
}
