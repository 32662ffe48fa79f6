package video

import (
	"image"

	"github.com/cyclopcam/livedetect/server/config"
)

// Device is the raw acquisition handle underneath a Source: a camera, or a
// video file decoder. Frames are returned in RGBA, already color converted.
type Device interface {
	// Read the next frame.
	// For files, io.EOF means there are no more frames.
	Read() (*image.RGBA, error)

	// Request a capture resolution. Returns false if the request was not honoured.
	SetResolution(width, height int) bool

	// Total number of frames. Zero for cameras, or if unknown.
	FrameCount() int

	// Native frame rate. Zero if unknown.
	FPS() float64

	// Reposition so that the next Read returns the given frame.
	Seek(frame int) error

	Close() error
}

// Opener opens the Device described by cfg.
// For cameras, cfg.CameraIndex is the device index. For files, cfg.Path is the filename.
type Opener func(cfg config.SourceConfig) (Device, error)
