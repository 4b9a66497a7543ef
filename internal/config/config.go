package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/banshee-data/tracklink/internal/control"
	"github.com/banshee-data/tracklink/internal/geometry"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the tracklink configuration. Every field is optional; the Get*
// methods supply defaults for anything the file leaves out.
type Config struct {
	// Transports
	CommandAddr  *string `json:"command_addr,omitempty" validate:"omitempty,hostname_port"`
	VideoAddr    *string `json:"video_addr,omitempty" validate:"omitempty,hostname_port"`
	AdminAddr    *string `json:"admin_addr,omitempty" validate:"omitempty,hostname_port"`
	CommandQueue *int    `json:"command_queue,omitempty" validate:"omitempty,min=1"`
	JPEGQuality  *int    `json:"jpeg_quality,omitempty" validate:"omitempty,min=1,max=100"`
	UprightVideo *bool   `json:"upright_video,omitempty"`
	WriteTimeout *string `json:"write_timeout,omitempty"` // duration string like "2s"

	// Control law
	Deadzone *float64 `json:"deadzone,omitempty" validate:"omitempty,gt=0"`
	AreaMin  *float64 `json:"area_min,omitempty" validate:"omitempty,gte=0,lte=100"`
	AreaMax  *float64 `json:"area_max,omitempty" validate:"omitempty,gte=0,lte=100"`

	// Detector and source
	Detector  *string  `json:"detector,omitempty" validate:"omitempty,oneof=color none face object"`
	MinArea   *int     `json:"min_area,omitempty" validate:"omitempty,min=0"`
	BlurSigma *float64 `json:"blur_sigma,omitempty" validate:"omitempty,gte=0"`
	Source    *string  `json:"source,omitempty" validate:"omitempty,oneof=synthetic dir"`
	SourceDir *string  `json:"source_dir,omitempty"`
	FrameRate *float64 `json:"frame_rate,omitempty" validate:"omitempty,gt=0"`
	Rotation  *int     `json:"rotation,omitempty" validate:"omitempty,oneof=0 90 180 270"`
	Mirrored  *bool    `json:"mirrored,omitempty"`
	Loop      *bool    `json:"loop,omitempty"`

	// Journal
	JournalPath *string `json:"journal_path,omitempty"`
	SampleEvery *int    `json:"sample_every,omitempty" validate:"omitempty,min=1"`

	// Relay
	RelayAddr  *string `json:"relay_addr,omitempty" validate:"omitempty,hostname_port"`
	SerialPath *string `json:"serial_path,omitempty"`
	BaudRate   *int    `json:"baud_rate,omitempty" validate:"omitempty,min=1"`
}

var validate = validator.New()

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// Load reads a Config from a JSON file. The file must have a .json extension
// and be under 1 MiB. Fields omitted from the file keep their defaults.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and the rules that span several fields.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if c.WriteTimeout != nil && *c.WriteTimeout != "" {
		if d, err := time.ParseDuration(*c.WriteTimeout); err != nil || d <= 0 {
			return fmt.Errorf("%w: write_timeout %q must be a positive duration", ErrInvalid, *c.WriteTimeout)
		}
	}
	if c.GetSource() == "dir" && c.GetSourceDir() == "" {
		return fmt.Errorf("%w: source_dir is required when source is \"dir\"", ErrInvalid)
	}
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// Params returns the control law parameters.
func (c *Config) Params() control.Params {
	return control.Params{
		Deadzone: c.GetDeadzone(),
		AreaMin:  c.AreaMin,
		AreaMax:  c.AreaMax,
	}
}

func (c *Config) GetCommandAddr() string {
	if c.CommandAddr == nil {
		return ":6000"
	}
	return *c.CommandAddr
}

func (c *Config) GetVideoAddr() string {
	if c.VideoAddr == nil {
		return ":6001"
	}
	return *c.VideoAddr
}

// GetAdminAddr returns the debug HTTP address. An empty string disables it.
func (c *Config) GetAdminAddr() string {
	if c.AdminAddr == nil {
		return "localhost:8080"
	}
	return *c.AdminAddr
}

func (c *Config) GetCommandQueue() int {
	if c.CommandQueue == nil {
		return 64
	}
	return *c.CommandQueue
}

func (c *Config) GetJPEGQuality() int {
	if c.JPEGQuality == nil {
		return 50
	}
	return *c.JPEGQuality
}

func (c *Config) GetUprightVideo() bool {
	if c.UprightVideo == nil {
		return false
	}
	return *c.UprightVideo
}

// GetWriteTimeout parses and returns WriteTimeout.
func (c *Config) GetWriteTimeout() time.Duration {
	if c.WriteTimeout == nil || *c.WriteTimeout == "" {
		return 2 * time.Second
	}
	d, err := time.ParseDuration(*c.WriteTimeout)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

func (c *Config) GetDeadzone() float64 {
	if c.Deadzone == nil {
		return 60
	}
	return *c.Deadzone
}

func (c *Config) GetDetector() string {
	if c.Detector == nil {
		return "color"
	}
	return *c.Detector
}

func (c *Config) GetMinArea() int {
	if c.MinArea == nil {
		return 500
	}
	return *c.MinArea
}

func (c *Config) GetBlurSigma() float64 {
	if c.BlurSigma == nil {
		return 0
	}
	return *c.BlurSigma
}

func (c *Config) GetSource() string {
	if c.Source == nil {
		return "synthetic"
	}
	return *c.Source
}

func (c *Config) GetSourceDir() string {
	if c.SourceDir == nil {
		return ""
	}
	return *c.SourceDir
}

func (c *Config) GetFrameRate() float64 {
	if c.FrameRate == nil {
		return 15
	}
	return *c.FrameRate
}

func (c *Config) GetRotation() geometry.Rotation {
	if c.Rotation == nil {
		return geometry.Rotate0
	}
	rot, err := geometry.ParseRotation(*c.Rotation)
	if err != nil {
		return geometry.Rotate0
	}
	return rot
}

func (c *Config) GetMirrored() bool {
	if c.Mirrored == nil {
		return false
	}
	return *c.Mirrored
}

func (c *Config) GetLoop() bool {
	if c.Loop == nil {
		return false
	}
	return *c.Loop
}

// GetJournalPath returns the SQLite path. An empty string disables the
// journal.
func (c *Config) GetJournalPath() string {
	if c.JournalPath == nil {
		return "tracklink.db"
	}
	return *c.JournalPath
}

func (c *Config) GetSampleEvery() int {
	if c.SampleEvery == nil {
		return 1
	}
	return *c.SampleEvery
}

func (c *Config) GetRelayAddr() string {
	if c.RelayAddr == nil {
		return "localhost:6000"
	}
	return *c.RelayAddr
}

func (c *Config) GetSerialPath() string {
	if c.SerialPath == nil {
		return "/dev/ttyUSB0"
	}
	return *c.SerialPath
}

func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return 115200
	}
	return *c.BaudRate
}
