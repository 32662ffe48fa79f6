package pipeline

import (
	"math"
	"time"
)

// fpsMeter measures the instantaneous frame rate from the interval between
// consecutive ticks. If two ticks arrive at the same instant (or the clock
// goes backwards), the previous rate is retained.
type fpsMeter struct {
	prev time.Time
	fps  float64
}

func (m *fpsMeter) reset(now time.Time) {
	m.prev = now
	m.fps = 0
}

func (m *fpsMeter) tick(now time.Time) float64 {
	elapsed := now.Sub(m.prev).Seconds()
	if elapsed > 0 {
		m.fps = 1 / elapsed
	}
	m.prev = now
	return m.fps
}

func toBits(f float64) uint64 {
	return math.Float64bits(f)
}

func fromBits(b uint64) float64 {
	return math.Float64frombits(b)
}
