package nn

import (
	"github.com/chewxy/math32"
)

// Box is an axis aligned rectangle in pixel coordinates.
// (X1,Y1) is inclusive and (X2,Y2) is exclusive.
type Box struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b Box) Width() int {
	return b.X2 - b.X1
}

func (b Box) Height() int {
	return b.Y2 - b.Y1
}

// Valid is true if the box has positive area
func (b Box) Valid() bool {
	return b.X1 < b.X2 && b.Y1 < b.Y2
}

func (b Box) Area() int {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

func (b Box) Intersection(o Box) Box {
	return Box{
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
		X2: min(b.X2, o.X2),
		Y2: min(b.Y2, o.Y2),
	}
}

// Intersection over Union
func (b Box) IOU(o Box) float32 {
	inter := b.Intersection(o).Area()
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return float32(inter) / float32(union)
}

// Clip the box to the rectangle [0,0,width,height]
func (b Box) Clip(width, height int) Box {
	return Box{
		X1: min(max(b.X1, 0), width),
		Y1: min(max(b.Y1, 0), height),
		X2: min(max(b.X2, 0), width),
		Y2: min(max(b.Y2, 0), height),
	}
}

// BoxFromCenter builds a box from a center point and dimensions, which is how
// YOLO style models emit their predictions.
func BoxFromCenter(cx, cy, w, h float32) Box {
	return Box{
		X1: int(math32.Round(cx - w/2)),
		Y1: int(math32.Round(cy - h/2)),
		X2: int(math32.Round(cx + w/2)),
		Y2: int(math32.Round(cy + h/2)),
	}
}
