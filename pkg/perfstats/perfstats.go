// Package perfstats records how long the stages of our frame pipeline take,
// so that it's easy to compare different models and hardware.
package perfstats

import (
	"sync/atomic"
	"time"
)

// TimeAccumulator accumulates samples of how long something took.
// It is written by one goroutine, and may be read concurrently by others.
type TimeAccumulator struct {
	samples atomic.Int64
	total   atomic.Int64 // nanoseconds
	moving  atomic.Int64 // exponential moving average, in nanoseconds
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.samples.Add(1)
	a.total.Add(v.Nanoseconds())
	UpdateMovingAverage(&a.moving, v.Nanoseconds())
}

func (a *TimeAccumulator) Samples() int64 {
	return a.samples.Load()
}

func (a *TimeAccumulator) Average() time.Duration {
	n := a.samples.Load()
	if n == 0 {
		return 0
	}
	return time.Duration(a.total.Load() / n)
}

// Recent is an exponential moving average that is dominated by the last ~64 samples
func (a *TimeAccumulator) Recent() time.Duration {
	return time.Duration(a.moving.Load())
}

// UpdateMovingAverage folds value into an exponential moving average.
func UpdateMovingAverage(stat *atomic.Int64, value int64) {
	// We don't bother about strict correctness here, with CompareAndSwap,
	// because this is just sampled stats, and it's OK to miss one or two samples.
	if stat.Load() == 0 {
		stat.Store(value)
	} else {
		stat.Store((stat.Load()*63 + value) >> 6)
	}
}
