package session

import (
	"errors"
	"time"

	"github.com/cyclopcam/livedetect/server/config"
)

var (
	ErrNotIdle            = errors.New("session is not idle")
	ErrNotRunning         = errors.New("session is not running")
	ErrRestartUnavailable = errors.New("restart is only available for the video file that was last played")
)

type State int

const (
	StateIdle State = iota
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Why a session stopped
type StopReason int

const (
	StopUserRequested StopReason = iota
	StopFileFinished
	StopSourceError
)

func (r StopReason) String() string {
	switch r {
	case StopUserRequested:
		return "userRequested"
	case StopFileFinished:
		return "fileFinished"
	case StopSourceError:
		return "sourceError"
	}
	return "unknown"
}

func (r StopReason) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

type EventKind int

const (
	EventSessionStarted EventKind = iota
	EventSessionStopped
)

func (k EventKind) String() string {
	switch k {
	case EventSessionStarted:
		return "sessionStarted"
	case EventSessionStopped:
		return "sessionStopped"
	}
	return "unknown"
}

func (k EventKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is emitted when a session starts or stops
type Event struct {
	Kind      EventKind           `json:"kind"`
	SessionID string              `json:"sessionID"`
	Source    config.SourceConfig `json:"source"`
	Reason    StopReason          `json:"reason"`          // Only meaningful for EventSessionStopped
	Error     string              `json:"error,omitempty"` // Set when Reason is StopSourceError
	Time      time.Time           `json:"time"`
}

// FilePicker asks the user for a video file.
// ok is false if the user cancelled.
type FilePicker interface {
	SelectFile() (path string, ok bool)
}
