package present

import (
	"fmt"
	"time"

	"github.com/cyclopcam/livedetect/server/pipeline"
	"github.com/cyclopcam/logs"
)

// LogSurface prints the stats of a frame to the log, at most once per interval.
// This is the headless equivalent of the FPS and object count labels of a window.
type LogSurface struct {
	Log      logs.Log
	Interval time.Duration
	Clock    func() time.Time

	last time.Time
}

func NewLogSurface(log logs.Log, interval time.Duration) *LogSurface {
	return &LogSurface{
		Log:      log,
		Interval: interval,
		Clock:    time.Now,
	}
}

func (s *LogSurface) Show(u pipeline.FrameUpdate) {
	if s.Interval <= 0 {
		return
	}
	now := s.Clock()
	if !s.last.IsZero() && now.Sub(s.last) < s.Interval {
		return
	}
	s.last = now
	s.Log.Infof("%v", StatsLine(u))
}

// StatsLine formats the labels that accompany a frame, eg
// "FPS: 29.8  Objects: 3  0:05 / 1:30"
func StatsLine(u pipeline.FrameUpdate) string {
	line := fmt.Sprintf("FPS: %.1f  Objects: %d", u.FPS, u.ObjectCount)
	if u.Progress != nil {
		line += "  " + u.Progress.String()
	}
	return line
}
