package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrConfigurationInvalid is returned when a session cannot be started with the
// current configuration (eg a file session with no file selected)
var ErrConfigurationInvalid = errors.New("configuration invalid")

type SourceKind int

const (
	SourceCamera SourceKind = iota
	SourceFile
)

func (k SourceKind) String() string {
	switch k {
	case SourceCamera:
		return "camera"
	case SourceFile:
		return "file"
	}
	return fmt.Sprintf("SourceKind(%d)", int(k))
}

func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(s) {
	case "camera":
		return SourceCamera, nil
	case "file", "video":
		return SourceFile, nil
	}
	return SourceCamera, fmt.Errorf("%w: unknown source kind '%v'. Valid values are 'camera' and 'file'", ErrConfigurationInvalid, s)
}

func (k SourceKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *SourceKind) UnmarshalText(b []byte) error {
	v, err := ParseSourceKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// Resolution is one of the fixed set of frame sizes that we offer
type Resolution struct {
	Width  int
	Height int
}

// The resolutions that a user may choose from
var Resolutions = []Resolution{
	{224, 224},
	{320, 320},
	{640, 480},
	{640, 640},
	{800, 600},
	{1280, 720},
	{1920, 1080},
}

var DefaultResolution = Resolution{640, 480}

func (r Resolution) String() string {
	return fmt.Sprintf("%vx%v", r.Width, r.Height)
}

// Parse a string such as "640x480". Only members of Resolutions are accepted.
func ParseResolution(s string) (Resolution, error) {
	for _, r := range Resolutions {
		if strings.EqualFold(r.String(), strings.TrimSpace(s)) {
			return r, nil
		}
	}
	return Resolution{}, fmt.Errorf("%w: unsupported resolution '%v'", ErrConfigurationInvalid, s)
}

func (r Resolution) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Resolution) UnmarshalText(b []byte) error {
	v, err := ParseResolution(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// SourceConfig describes where frames come from, and how big they should be.
// The confidence threshold is not in here, because it's allowed to change
// while a session is running. See Confidence.
type SourceConfig struct {
	Kind        SourceKind `json:"kind"`
	Path        string     `json:"path,omitempty"` // Only used when Kind is SourceFile
	CameraIndex int        `json:"cameraIndex"`    // Only used when Kind is SourceCamera
	Resolution  Resolution `json:"resolution"`
}

func DefaultSourceConfig() SourceConfig {
	return SourceConfig{
		Kind:       SourceCamera,
		Resolution: DefaultResolution,
	}
}

// Validate returns an error wrapping ErrConfigurationInvalid if a session
// cannot be started with this configuration.
func (c *SourceConfig) Validate() error {
	switch c.Kind {
	case SourceCamera:
		if c.CameraIndex < 0 {
			return fmt.Errorf("%w: invalid camera index %v", ErrConfigurationInvalid, c.CameraIndex)
		}
	case SourceFile:
		if c.Path == "" {
			return fmt.Errorf("%w: no video file selected", ErrConfigurationInvalid)
		}
	default:
		return fmt.Errorf("%w: unknown source kind %v", ErrConfigurationInvalid, c.Kind)
	}
	if _, err := ParseResolution(c.Resolution.String()); err != nil {
		return err
	}
	return nil
}

// The file types that we offer in the file picker
var VideoFileExtensions = []string{".mp4", ".avi", ".mov"}

// IsVideoFile returns true if the filename has one of VideoFileExtensions
func IsVideoFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, e := range VideoFileExtensions {
		if ext == e {
			return true
		}
	}
	return false
}
