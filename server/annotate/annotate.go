package annotate

import (
	"fmt"
	"image"

	"github.com/cyclopcam/livedetect/pkg/gen"
	"github.com/cyclopcam/livedetect/pkg/nn"
	"github.com/fogleman/gg"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
)

const (
	lineWidth   = 2
	labelOffset = 10 // Distance of the label baseline above the top of the box
)

// Label is the text drawn above a detection, eg "person 0.87", or "0.87" if
// the class has no label.
func Label(d nn.Detection) string {
	if d.Label == "" {
		return fmt.Sprintf("%.2f", d.Confidence)
	}
	return fmt.Sprintf("%v %.2f", d.Label, d.Confidence)
}

// Draw a green rectangle and label for each detection.
// The frame is modified in place, and returned for convenience.
func Draw(frame *image.RGBA, dets []nn.Detection) *image.RGBA {
	if len(dets) == 0 {
		return frame
	}
	dc := gg.NewContextForRGBA(frame)
	dc.SetRGB(0, 1, 0)
	dc.SetLineWidth(lineWidth)
	for _, d := range dets {
		dc.DrawRectangle(float64(d.Box.X1), float64(d.Box.Y1), float64(d.Box.Width()), float64(d.Box.Height()))
		dc.Stroke()
	}

	face := basicfont.Face7x13
	dc.SetFontFace(face)
	ascent := face.Metrics().Ascent.Ceil()
	descent := face.Metrics().Descent.Ceil()
	width := frame.Bounds().Dx()
	height := frame.Bounds().Dy()
	for _, d := range dets {
		text := Label(d)
		tw := font.MeasureString(face, text).Ceil()
		x, y := labelOrigin(d.Box, tw, ascent, descent, width, height)
		dc.DrawString(text, float64(x), float64(y))
	}
	return frame
}

// labelOrigin returns the baseline origin of a label, so that the label sits
// just above the top-left corner of the box, but never outside of the image.
func labelOrigin(box nn.Box, textWidth, ascent, descent, width, height int) (int, int) {
	x := gen.Clamp(box.X1, 0, max(0, width-textWidth))
	y := gen.Clamp(box.Y1-labelOffset, ascent, max(ascent, height-descent))
	return x, y
}
