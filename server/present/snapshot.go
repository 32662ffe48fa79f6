package present

import (
	"image"
	"sync"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/livedetect/server/pipeline"
	"github.com/cyclopcam/livedetect/server/video"
)

// Snapshot is a Surface that keeps the most recent frame, so that it can be
// fetched over HTTP.
type Snapshot struct {
	lock    sync.Mutex
	latest  pipeline.FrameUpdate
	has     bool
	jpeg    []byte // cached encoding of latest
	quality int
}

// Info about the frame held by a Snapshot
type FrameInfo struct {
	FrameIndex  int             `json:"frameIndex"`
	FPS         float64         `json:"fps"`
	ObjectCount int             `json:"objectCount"`
	Progress    *video.Progress `json:"progress,omitempty"`
	Clock       string          `json:"clock,omitempty"` // eg "0:05 / 1:30"
	Fraction    float64         `json:"fraction"`        // Progress, from 0 to 1
}

func NewSnapshot(jpegQuality int) *Snapshot {
	return &Snapshot{
		quality: jpegQuality,
	}
}

func (s *Snapshot) Show(u pipeline.FrameUpdate) {
	// The worker hands ownership of the image to us, but we copy it anyway,
	// because HTTP readers may still be encoding the previous frame.
	u.Image = cloneRGBA(u.Image)
	s.lock.Lock()
	s.latest = u
	s.has = true
	s.jpeg = nil
	s.lock.Unlock()
}

// Info returns the metadata of the most recent frame
func (s *Snapshot) Info() (FrameInfo, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.has {
		return FrameInfo{}, false
	}
	return makeInfo(s.latest), true
}

func makeInfo(u pipeline.FrameUpdate) FrameInfo {
	info := FrameInfo{
		FrameIndex:  u.FrameIndex,
		FPS:         u.FPS,
		ObjectCount: u.ObjectCount,
		Progress:    u.Progress,
	}
	if u.Progress != nil {
		info.Clock = u.Progress.String()
		info.Fraction = u.Progress.Fraction()
	}
	return info
}

// JPEG returns the most recent frame, encoded as a JPEG.
// Returns nil if no frame has been shown yet.
func (s *Snapshot) JPEG() ([]byte, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.has {
		return nil, nil
	}
	if s.jpeg != nil {
		return s.jpeg, nil
	}
	b, err := EncodeJPEG(s.latest.Image, s.quality)
	if err != nil {
		return nil, err
	}
	s.jpeg = b
	return b, nil
}

// EncodeJPEG converts a frame into something a browser can display
func EncodeJPEG(img *image.RGBA, quality int) ([]byte, error) {
	wrapped := cimg.WrapImageStrided(img.Rect.Dx(), img.Rect.Dy(), cimg.PixelFormatRGBA, img.Pix, img.Stride)
	return cimg.Compress(wrapped, cimg.MakeCompressParams(cimg.Sampling420, quality, 0))
}

func cloneRGBA(src *image.RGBA) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, src.Rect.Dx(), src.Rect.Dy()))
	for y := 0; y < src.Rect.Dy(); y++ {
		srcRow := src.Pix[src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y):]
		copy(dst.Pix[y*dst.Stride:(y+1)*dst.Stride], srcRow[:dst.Stride])
	}
	return dst
}
