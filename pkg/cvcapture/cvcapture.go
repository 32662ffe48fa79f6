// Package cvcapture reads frames from cameras and video files using OpenCV.
package cvcapture

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"io"

	"gocv.io/x/gocv"
)

// Capture wraps a gocv.VideoCapture. It satisfies video.Device.
type Capture struct {
	vc     *gocv.VideoCapture
	mat    gocv.Mat // Reused between frames to avoid reallocating
	isFile bool
}

// OpenCamera opens the camera with the given device index (0 is usually the built-in webcam)
func OpenCamera(index int) (*Capture, error) {
	vc, err := gocv.VideoCaptureDevice(index)
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("Could not open camera %v", index)
	}
	return &Capture{
		vc:  vc,
		mat: gocv.NewMat(),
	}, nil
}

// OpenFile opens a video file
func OpenFile(filename string) (*Capture, error) {
	vc, err := gocv.VideoCaptureFile(filename)
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("Could not open video file %v", filename)
	}
	return &Capture{
		vc:     vc,
		mat:    gocv.NewMat(),
		isFile: true,
	}, nil
}

// Read decodes the next frame, and converts it from OpenCV's BGR into RGBA.
// For files, returns io.EOF when there are no more frames.
func (c *Capture) Read() (*image.RGBA, error) {
	if c.vc == nil {
		return nil, errors.New("capture is closed")
	}
	if ok := c.vc.Read(&c.mat); !ok || c.mat.Empty() {
		if c.isFile {
			return nil, io.EOF
		}
		return nil, errors.New("cannot read frame from camera")
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, err
	}
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba, nil
	}
	rgba := image.NewRGBA(img.Bounds())
	draw.Draw(rgba, rgba.Bounds(), img, img.Bounds().Min, draw.Src)
	return rgba, nil
}

// SetResolution asks the device for a frame size.
// Returns true if the device reports that it is now producing that size.
func (c *Capture) SetResolution(width, height int) bool {
	c.vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
	c.vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	return int(c.vc.Get(gocv.VideoCaptureFrameWidth)) == width && int(c.vc.Get(gocv.VideoCaptureFrameHeight)) == height
}

func (c *Capture) FrameCount() int {
	if !c.isFile {
		return 0
	}
	return int(c.vc.Get(gocv.VideoCaptureFrameCount))
}

func (c *Capture) FPS() float64 {
	return c.vc.Get(gocv.VideoCaptureFPS)
}

func (c *Capture) Seek(frame int) error {
	if !c.isFile {
		return errors.New("cameras are not seekable")
	}
	c.vc.Set(gocv.VideoCapturePosFrames, float64(frame))
	return nil
}

func (c *Capture) Close() error {
	if c.vc == nil {
		return nil
	}
	err := c.vc.Close()
	c.mat.Close()
	c.vc = nil
	return err
}
