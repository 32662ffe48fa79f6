package video

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"github.com/cyclopcam/livedetect/server/config"
	"github.com/cyclopcam/logs"
)

var (
	// The camera or file could not be opened, or a camera read failed
	ErrSourceUnavailable = errors.New("source unavailable")

	// A file source has no more frames. This is not an error from the user's point of view.
	ErrEndOfStream = errors.New("end of stream")
)

// If a file does not report its frame rate, we assume this
const DefaultFileFPS = 30

// Frame is one decoded image from a Source
type Frame struct {
	Image *image.RGBA
	Index int // zero-based index of this frame in the stream
}

// Progress through a file source
type Progress struct {
	ElapsedSeconds float64 `json:"elapsedSeconds"`
	TotalSeconds   float64 `json:"totalSeconds"`
}

// Fraction returns Elapsed/Total in [0,1]
func (p Progress) Fraction() float64 {
	if p.TotalSeconds <= 0 {
		return 0
	}
	return min(1, p.ElapsedSeconds/p.TotalSeconds)
}

// Format progress as "m:ss / m:ss"
func (p Progress) String() string {
	return FormatClock(p.ElapsedSeconds) + " / " + FormatClock(p.TotalSeconds)
}

// Source is a camera or a seekable video file.
// Apart from Close, the methods of Source must be called from a single goroutine.
type Source struct {
	Log    logs.Log
	config config.SourceConfig
	device Device

	// File sources only
	totalFrames int
	fps         float64
	frameIndex  int // number of frames read since the start of the file

	closeOnce sync.Once
	closeErr  error
}

// Open the source described by cfg, using opener to create the underlying device.
// Errors wrap ErrSourceUnavailable.
func Open(log logs.Log, cfg config.SourceConfig, opener Opener) (*Source, error) {
	device, err := opener(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v: %v", ErrSourceUnavailable, describe(cfg), err)
	}
	s := &Source{
		Log:    log,
		config: cfg,
		device: device,
	}
	if cfg.Kind == config.SourceFile {
		s.totalFrames = device.FrameCount()
		s.fps = device.FPS()
		if s.fps <= 0 {
			log.Warnf("Video file %v does not report a frame rate. Assuming %v FPS", cfg.Path, DefaultFileFPS)
			s.fps = DefaultFileFPS
		}
		log.Infof("Opened video file %v (%v frames at %.2f FPS)", cfg.Path, s.totalFrames, s.fps)
	} else {
		log.Infof("Opened camera %v", cfg.CameraIndex)
	}
	return s, nil
}

func describe(cfg config.SourceConfig) string {
	if cfg.Kind == config.SourceFile {
		return fmt.Sprintf("video file '%v'", cfg.Path)
	}
	return fmt.Sprintf("camera %v", cfg.CameraIndex)
}

func (s *Source) Config() config.SourceConfig {
	return s.config
}

// ApplyResolution asks the device for a capture size.
// This is best effort. Many cameras only support a few sizes, and files ignore it entirely.
func (s *Source) ApplyResolution(width, height int) {
	if !s.device.SetResolution(width, height) {
		s.Log.Debugf("%v did not accept resolution %vx%v", describe(s.config), width, height)
	}
}

// NextFrame blocks until the next frame is available.
// Returns ErrEndOfStream when a file is exhausted, and ErrSourceUnavailable if a read fails.
func (s *Source) NextFrame() (Frame, error) {
	img, err := s.device.Read()
	if err != nil {
		if errors.Is(err, io.EOF) && s.config.Kind == config.SourceFile {
			return Frame{}, ErrEndOfStream
		}
		return Frame{}, fmt.Errorf("%w: reading from %v: %v", ErrSourceUnavailable, describe(s.config), err)
	}
	if img == nil {
		return Frame{}, fmt.Errorf("%w: %v returned an empty frame", ErrSourceUnavailable, describe(s.config))
	}
	f := Frame{
		Image: img,
		Index: s.frameIndex,
	}
	s.frameIndex++
	return f, nil
}

// SeekToStart rewinds a file source. It does nothing for a camera.
func (s *Source) SeekToStart() {
	if s.config.Kind != config.SourceFile {
		return
	}
	if err := s.device.Seek(0); err != nil {
		s.Log.Warnf("Failed to seek to start of %v: %v", describe(s.config), err)
		return
	}
	s.frameIndex = 0
}

// Progress returns the playback position of a file source.
// The second return value is false for cameras.
func (s *Source) Progress() (Progress, bool) {
	if s.config.Kind != config.SourceFile {
		return Progress{}, false
	}
	return Progress{
		ElapsedSeconds: float64(s.frameIndex) / s.fps,
		TotalSeconds:   float64(s.totalFrames) / s.fps,
	}, true
}

// Close releases the device. It is safe to call more than once, and from any goroutine.
func (s *Source) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.device.Close()
	})
	return s.closeErr
}
