// Package videotest provides synthetic video devices for tests.
package videotest

import (
	"errors"
	"image"
	"image/color"
	"io"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cyclopcam/livedetect/server/config"
	"github.com/cyclopcam/livedetect/server/video"
)

var ErrNoDevice = errors.New("no such device")

// Device generates solid color frames. The default size is 224x224, which is
// the smallest member of config.Resolutions, so frames pass through video.Resize untouched.
// The frame index is encoded in the red and green channels of pixel (0,0), so
// that tests can tell frames apart after they have passed through the pipeline.
type Device struct {
	Width     int
	Height    int
	Frames    int           // Number of frames in a file. Zero means infinite (a camera).
	NativeFPS float64       // Reported by FPS()
	FailAfter int           // If non-zero, Read fails with an error after this many frames
	ReadDelay time.Duration // Sleep before each Read, to simulate camera pacing

	lock       sync.Mutex
	pos        int
	resolution [2]int
	closed     atomic.Bool
	closeCount atomic.Int32
}

func NewFile(frames int, fps float64) *Device {
	return &Device{Width: 224, Height: 224, Frames: frames, NativeFPS: fps}
}

func NewCamera() *Device {
	return &Device{Width: 224, Height: 224}
}

func (d *Device) Read() (*image.RGBA, error) {
	if d.ReadDelay != 0 {
		time.Sleep(d.ReadDelay)
	}
	if d.closed.Load() {
		return nil, errors.New("read after close")
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.FailAfter != 0 && d.pos >= d.FailAfter {
		return nil, errors.New("device unplugged")
	}
	if d.Frames != 0 && d.pos >= d.Frames {
		return nil, io.EOF
	}
	idx := d.pos
	d.pos++
	img := image.NewRGBA(image.Rect(0, 0, d.Width, d.Height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = 50
		img.Pix[i+1] = 100
		img.Pix[i+2] = 150
		img.Pix[i+3] = 255
	}
	img.SetRGBA(0, 0, color.RGBA{R: uint8(idx), G: uint8(idx >> 8), B: 0, A: 255})
	return img, nil
}

func (d *Device) SetResolution(width, height int) bool {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.resolution = [2]int{width, height}
	// Like most real cameras, we ignore the request
	return false
}

func (d *Device) RequestedResolution() (int, int) {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.resolution[0], d.resolution[1]
}

func (d *Device) FrameCount() int {
	return d.Frames
}

func (d *Device) FPS() float64 {
	return d.NativeFPS
}

func (d *Device) Seek(frame int) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if d.Frames == 0 {
		return errors.New("camera is not seekable")
	}
	d.pos = frame
	return nil
}

func (d *Device) Close() error {
	d.closed.Store(true)
	d.closeCount.Add(1)
	return nil
}

func (d *Device) IsClosed() bool {
	return d.closed.Load()
}

func (d *Device) CloseCount() int {
	return int(d.closeCount.Load())
}

// Opener hands out devices created by New, and records every device that it has opened.
// Camera indices listed in Missing fail to open, as do files listed in Missing.
type Opener struct {
	New     func(cfg config.SourceConfig) *Device
	Missing map[string]bool // keys are "camera:N" or a file path

	lock   sync.Mutex
	opened []*Device
}

func (o *Opener) Open(cfg config.SourceConfig) (video.Device, error) {
	key := cfg.Path
	if cfg.Kind == config.SourceCamera {
		key = "camera:" + strconv.Itoa(cfg.CameraIndex)
	}
	if o.Missing[key] {
		return nil, ErrNoDevice
	}
	d := o.New(cfg)
	o.lock.Lock()
	o.opened = append(o.opened, d)
	o.lock.Unlock()
	return d, nil
}

// Opened returns all devices opened so far
func (o *Opener) Opened() []*Device {
	o.lock.Lock()
	defer o.lock.Unlock()
	return append([]*Device(nil), o.opened...)
}

// Last returns the most recently opened device, or nil
func (o *Opener) Last() *Device {
	o.lock.Lock()
	defer o.lock.Unlock()
	if len(o.opened) == 0 {
		return nil
	}
	return o.opened[len(o.opened)-1]
}

// FrameIndex decodes the index that Device wrote into pixel (0,0)
func FrameIndex(img *image.RGBA) int {
	c := img.RGBAAt(0, 0)
	return int(c.R) | int(c.G)<<8
}
