package video

import (
	"image"

	"github.com/bmharper/cimg/v2"
)

// Resize returns img scaled to width x height.
// If img is already that size, it is returned as-is.
// The aspect ratio is not preserved, which is what the user asked for when they chose a resolution.
func Resize(img *image.RGBA, width, height int) *image.RGBA {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	src := cimg.WrapImageStrided(b.Dx(), b.Dy(), cimg.PixelFormatRGBA, img.Pix[img.PixOffset(b.Min.X, b.Min.Y):], img.Stride)
	dstWrap := cimg.WrapImageStrided(width, height, cimg.PixelFormatRGBA, dst.Pix, dst.Stride)

	params := cimg.ResizeParams{CheapSRGBFilter: true}
	if width < b.Dx() || height < b.Dy() {
		// Box filter for downsampling, in case the ratio is large
		params.Filter = cimg.ResizeFilterBox
	} else {
		// Triangle is bilinear on upsampling
		params.Filter = cimg.ResizeFilterTriangle
	}
	if err := cimg.Resize(src, dstWrap, &params); err != nil {
		// Only fails for an empty target
		return img
	}
	return dst
}
