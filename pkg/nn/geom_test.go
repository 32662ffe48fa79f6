package nn

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIOU(t *testing.T) {
	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
	b := Box{X1: 5, Y1: 5, X2: 15, Y2: 15}
	require.InDelta(t, 0.25/(0.75+1), a.IOU(b), 1e-6)

	// disjoint
	c := Box{X1: 20, Y1: 20, X2: 30, Y2: 30}
	require.Equal(t, float32(0), a.IOU(c))
	require.Equal(t, 0, a.Intersection(c).Area())
}

func TestBoxClip(t *testing.T) {
	b := Box{X1: -5, Y1: 3, X2: 700, Y2: 500}.Clip(640, 480)
	require.Equal(t, Box{X1: 0, Y1: 3, X2: 640, Y2: 480}, b)
	require.True(t, b.Valid())

	outside := Box{X1: 650, Y1: 10, X2: 700, Y2: 20}.Clip(640, 480)
	require.False(t, outside.Valid())
}

func TestBoxFromCenter(t *testing.T) {
	b := BoxFromCenter(50, 40, 20, 10)
	require.Equal(t, Box{X1: 40, Y1: 35, X2: 60, Y2: 45}, b)
}

func TestNMS(t *testing.T) {
	objects := []ObjectDetection{
		{Class: COCOPerson, Confidence: 0.6, Box: Box{X1: 2, Y1: 2, X2: 102, Y2: 102}},
		{Class: COCOPerson, Confidence: 0.9, Box: Box{X1: 0, Y1: 0, X2: 100, Y2: 100}},
		// same place, different class, so it must survive
		{Class: COCOCar, Confidence: 0.5, Box: Box{X1: 0, Y1: 0, X2: 100, Y2: 100}},
		// far away
		{Class: COCOPerson, Confidence: 0.7, Box: Box{X1: 300, Y1: 300, X2: 350, Y2: 400}},
	}
	kept := NMS(objects, DefaultNmsIouThreshold)
	require.Len(t, kept, 3)
	require.Equal(t, float32(0.9), kept[0].Confidence)
	require.Equal(t, float32(0.7), kept[1].Confidence)
	require.Equal(t, COCOCar, kept[2].Class)

	// input is not modified
	require.Equal(t, float32(0.6), objects[0].Confidence)
}

func TestSortByConfidenceIsDeterministic(t *testing.T) {
	objects := []ObjectDetection{
		{Confidence: 0.5, Box: Box{X1: 30, Y1: 10, X2: 40, Y2: 20}},
		{Confidence: 0.5, Box: Box{X1: 10, Y1: 10, X2: 20, Y2: 20}},
		{Confidence: 0.8, Box: Box{X1: 0, Y1: 50, X2: 5, Y2: 60}},
	}
	SortByConfidence(objects)
	require.Equal(t, float32(0.8), objects[0].Confidence)
	require.Equal(t, 10, objects[1].Box.X1)
	require.Equal(t, 30, objects[2].Box.X1)
}
