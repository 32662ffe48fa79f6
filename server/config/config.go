package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the on-disk configuration of the livedetect service.
// Command line arguments override these values.
type Config struct {
	Listen            string     `json:"listen" validate:"required"`                       // HTTP control API, eg ":8080"
	ModelPath         string     `json:"modelPath"`                                        // ONNX model file
	ModelConfigPath   string     `json:"modelConfigPath"`                                  // Optional JSON ModelConfig. If empty, COCO classes at 640x640 are assumed.
	ClassesPath       string     `json:"classesPath"`                                      // Optional text file with one class name per line. Overrides the model config classes.
	OnnxLibPath       string     `json:"onnxLibPath"`                                      // Path to the onnxruntime shared library
	NmsIouThreshold   float32    `json:"nmsIouThreshold" validate:"gte=0,lte=1"`           // Non-maximum suppression threshold
	Source            string     `json:"source" validate:"oneof=camera file"`              // Initial source kind
	CameraIndex       int        `json:"cameraIndex" validate:"gte=0"`                     // Camera device index
	VideoFile         string     `json:"videoFile"`                                        // Initial video file
	Resolution        Resolution `json:"resolution"`                                       // Initial resolution
	Confidence        float32    `json:"confidence" validate:"gte=0,lte=1"`                // Initial confidence threshold
	SnapshotQuality   int        `json:"snapshotQuality" validate:"gte=1,lte=100"`         // JPEG quality of /api/frame/latest
	StatsLogInterval  Duration   `json:"statsLogInterval"`                                 // How often the log surface prints stats. Zero disables it.
	RequestsPerMinute int        `json:"requestsPerMinute" validate:"gte=0"`               // Rate limit of the control API, per IP. Zero disables it.
}

// Duration is a time.Duration that is written as a string in JSON, eg "5s"
type Duration time.Duration

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Listen:            ":8080",
		NmsIouThreshold:   0.45,
		Source:            "camera",
		Resolution:        DefaultResolution,
		Confidence:        DefaultConfidence,
		SnapshotQuality:   85,
		StatsLogInterval:  Duration(5 * time.Second),
		RequestsPerMinute: 600,
	}
}

var validate = validator.New()

// LoadConfig reads the JSON config from filename, on top of DefaultConfig().
// If filename is empty or the file does not exist, the defaults are returned.
func LoadConfig(filename string) (*Config, error) {
	cfg := DefaultConfig()
	if filename != "" {
		raw, err := os.ReadFile(filename)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("Error loading %v: %w", filename, err)
		}
		if err == nil {
			if err := json.Unmarshal(raw, cfg); err != nil {
				return nil, fmt.Errorf("Error loading as JSON %v: %w", filename, err)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigurationInvalid, err)
	}
	return nil
}

// SourceConfig returns the initial source configuration
func (c *Config) SourceConfig() (SourceConfig, error) {
	kind, err := ParseSourceKind(c.Source)
	if err != nil {
		return SourceConfig{}, err
	}
	return SourceConfig{
		Kind:        kind,
		Path:        c.VideoFile,
		CameraIndex: c.CameraIndex,
		Resolution:  c.Resolution,
	}, nil
}
