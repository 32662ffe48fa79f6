package video_test

import (
	"image"
	"image/color"
	"image/draw"
	"testing"

	"github.com/cyclopcam/livedetect/server/config"
	"github.com/cyclopcam/livedetect/server/video"
	"github.com/cyclopcam/livedetect/server/video/videotest"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func fileConfig() config.SourceConfig {
	return config.SourceConfig{Kind: config.SourceFile, Path: "clip.mp4", Resolution: config.DefaultResolution}
}

func TestFileSourceProgress(t *testing.T) {
	log := logs.NewTestingLog(t)
	opener := &videotest.Opener{New: func(cfg config.SourceConfig) *videotest.Device { return videotest.NewFile(20, 10) }}
	src, err := video.Open(log, fileConfig(), opener.Open)
	require.NoError(t, err)
	defer src.Close()

	p, ok := src.Progress()
	require.True(t, ok)
	require.Equal(t, 0.0, p.ElapsedSeconds)
	require.Equal(t, 2.0, p.TotalSeconds)
	totalAtOpen := p.TotalSeconds

	for i := 0; i < 20; i++ {
		f, err := src.NextFrame()
		require.NoError(t, err)
		require.Equal(t, i, f.Index)
		require.Equal(t, i, videotest.FrameIndex(f.Image))
	}
	_, err = src.NextFrame()
	require.ErrorIs(t, err, video.ErrEndOfStream)

	p, _ = src.Progress()
	require.Equal(t, totalAtOpen, p.TotalSeconds)
	require.Equal(t, 2.0, p.ElapsedSeconds)
	require.Equal(t, 1.0, p.Fraction())
	require.Equal(t, "0:02 / 0:02", p.String())

	src.SeekToStart()
	p, _ = src.Progress()
	require.Equal(t, 0.0, p.ElapsedSeconds)
	f, err := src.NextFrame()
	require.NoError(t, err)
	require.Equal(t, 0, videotest.FrameIndex(f.Image))
}

func TestFileWithoutFrameRate(t *testing.T) {
	opener := &videotest.Opener{New: func(cfg config.SourceConfig) *videotest.Device { return videotest.NewFile(60, 0) }}
	src, err := video.Open(logs.NewTestingLog(t), fileConfig(), opener.Open)
	require.NoError(t, err)
	p, _ := src.Progress()
	require.Equal(t, 60.0/video.DefaultFileFPS, p.TotalSeconds)
}

func TestCameraSource(t *testing.T) {
	log := logs.NewTestingLog(t)
	dev := videotest.NewCamera()
	dev.FailAfter = 3
	opener := &videotest.Opener{New: func(cfg config.SourceConfig) *videotest.Device { return dev }}
	src, err := video.Open(log, config.DefaultSourceConfig(), opener.Open)
	require.NoError(t, err)

	src.ApplyResolution(1280, 720)
	w, h := dev.RequestedResolution()
	require.Equal(t, 1280, w)
	require.Equal(t, 720, h)

	for i := 0; i < 3; i++ {
		_, err := src.NextFrame()
		require.NoError(t, err)
		_, ok := src.Progress()
		require.False(t, ok)
	}
	// seek is a no-op on a camera
	src.SeekToStart()

	// a camera read failure is fatal, never end-of-stream
	_, err = src.NextFrame()
	require.ErrorIs(t, err, video.ErrSourceUnavailable)
	require.NotErrorIs(t, err, video.ErrEndOfStream)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	require.Equal(t, 1, dev.CloseCount())
}

func TestOpenUnavailable(t *testing.T) {
	opener := &videotest.Opener{
		New:     func(cfg config.SourceConfig) *videotest.Device { return videotest.NewCamera() },
		Missing: map[string]bool{"camera:0": true, "missing.mp4": true},
	}
	_, err := video.Open(logs.NewTestingLog(t), config.DefaultSourceConfig(), opener.Open)
	require.ErrorIs(t, err, video.ErrSourceUnavailable)

	cfg := fileConfig()
	cfg.Path = "missing.mp4"
	_, err = video.Open(logs.NewTestingLog(t), cfg, opener.Open)
	require.ErrorIs(t, err, video.ErrSourceUnavailable)
	require.Empty(t, opener.Opened())
}

func TestResize(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 1920, 1080))
	same := video.Resize(img, 1920, 1080)
	require.Same(t, img, same)

	fill := color.RGBA{R: 200, G: 100, B: 50, A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: fill}, image.Point{}, draw.Src)

	small := video.Resize(img, 640, 480)
	require.Equal(t, image.Rect(0, 0, 640, 480), small.Bounds())
	requireNear(t, fill, small.RGBAAt(320, 240))
	requireNear(t, fill, small.RGBAAt(0, 0))

	big := video.Resize(small, 800, 600)
	require.Equal(t, image.Rect(0, 0, 800, 600), big.Bounds())
	requireNear(t, fill, big.RGBAAt(799, 599))

	// A sub-image is resized from its own origin
	sub := img.SubImage(image.Rect(100, 100, 420, 340)).(*image.RGBA)
	part := video.Resize(sub, 224, 224)
	require.Equal(t, image.Rect(0, 0, 224, 224), part.Bounds())
	requireNear(t, fill, part.RGBAAt(10, 10))
}

func requireNear(t *testing.T, expect, actual color.RGBA) {
	t.Helper()
	require.InDelta(t, expect.R, actual.R, 2)
	require.InDelta(t, expect.G, actual.G, 2)
	require.InDelta(t, expect.B, actual.B, 2)
	require.InDelta(t, expect.A, actual.A, 2)
}

func TestFormatClock(t *testing.T) {
	require.Equal(t, "0:00", video.FormatClock(0))
	require.Equal(t, "1:05", video.FormatClock(65.9))
	require.Equal(t, "12:00", video.FormatClock(720))
	require.Equal(t, "0:00", video.FormatClock(-3))
}
