package config

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/chewxy/math32"
	"github.com/cyclopcam/livedetect/pkg/gen"
)

const DefaultConfidence = 0.5

// Confidence is the detection threshold, shared between the goroutine that
// adjusts it and the pipeline worker that reads it on every frame.
// The value is always inside [0,1].
type Confidence struct {
	bits atomic.Uint32
}

func NewConfidence(v float32) *Confidence {
	c := &Confidence{}
	c.Set(v)
	return c
}

// Set the threshold. Values outside of [0,1] are clamped.
// Returns the value that was actually stored.
// NaN is rejected and the previous value is retained.
func (c *Confidence) Set(v float32) (float32, error) {
	if math32.IsNaN(v) {
		return c.Load(), fmt.Errorf("%w: confidence is NaN", ErrConfigurationInvalid)
	}
	v = gen.Clamp(v, 0, 1)
	c.bits.Store(math.Float32bits(v))
	return v, nil
}

func (c *Confidence) Load() float32 {
	return math.Float32frombits(c.bits.Load())
}
