package nn

import (
	"slices"

	flatbush "github.com/bmharper/flatbush-go"
)

// SortByConfidence orders objects by descending confidence.
// Ties are broken by box position, so that the order is deterministic.
func SortByConfidence(objects []ObjectDetection) {
	slices.SortStableFunc(objects, func(a, b ObjectDetection) int {
		if a.Confidence != b.Confidence {
			if a.Confidence > b.Confidence {
				return -1
			}
			return 1
		}
		if a.Box.Y1 != b.Box.Y1 {
			return a.Box.Y1 - b.Box.Y1
		}
		return a.Box.X1 - b.Box.X1
	})
}

// NMS performs non-maximum suppression on objects of the same class.
// If two objects of the same class have an IoU of at least minIoU, then the
// object with the lower confidence is discarded.
// The result is sorted by descending confidence.
func NMS(objects []ObjectDetection, minIoU float32) []ObjectDetection {
	if len(objects) < 2 {
		return objects
	}
	sorted := slices.Clone(objects)
	SortByConfidence(sorted)

	// Spatial index to avoid O(N^2) comparisons
	fb := flatbush.NewFlatbush[int32]()
	fb.Reserve(len(sorted))
	for _, o := range sorted {
		fb.Add(int32(o.Box.X1), int32(o.Box.Y1), int32(o.Box.X2), int32(o.Box.Y2))
	}
	fb.Finish()

	deleted := make([]bool, len(sorted))
	retain := make([]ObjectDetection, 0, len(sorted))
	for i, o := range sorted {
		if deleted[i] {
			continue
		}
		retain = append(retain, o)
		for _, j := range fb.Search(int32(o.Box.X1), int32(o.Box.Y1), int32(o.Box.X2), int32(o.Box.Y2)) {
			// Everything before i has either been kept, or suppressed by something that was kept
			if j <= i || deleted[j] || sorted[j].Class != o.Class {
				continue
			}
			if o.Box.IOU(sorted[j].Box) >= minIoU {
				deleted[j] = true
			}
		}
	}
	return retain
}
