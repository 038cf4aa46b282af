// Package config defines the plain structured records the pipeline is
// configured with, plus a YAML-backed manager for the CLI.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// MaxDecoders is the maximum number of hardware decoders per pipeline.
const MaxDecoders = 3

// NetConfig describes the listening side of the network decode engine.
type NetConfig struct {
	// IP to listen on; empty means listen on any interface.
	IP string `yaml:"ip"`
	// Port the stream arrives on.
	Port int `yaml:"port"`
	// TimeoutMS bounds a single blocking receive. The producer loop polls
	// its stop flag at this interval, so it also bounds shutdown latency.
	TimeoutMS int `yaml:"timeout_ms"`
}

// DecoderConfig describes one hardware decoder slot.
type DecoderConfig struct {
	Hardware    string `yaml:"hardware"`     // decode backend, e.g. "vaapi", "sim"
	Codec       string `yaml:"codec"`        // e.g. "hevc", "h264"
	Device      string `yaml:"device"`       // e.g. "/dev/dri/renderD128", empty for default
	PixelFormat string `yaml:"pixel_format"` // e.g. "p010le", "rgb0"; empty for decoder default
	Width       int    `yaml:"width"`        // 0 to not specify, needed by some codecs
	Height      int    `yaml:"height"`       // 0 to not specify, needed by some codecs
	Profile     int    `yaml:"profile"`      // 0 for unknown
}

// DepthConfig enables depth unprojection and carries the camera intrinsics.
type DepthConfig struct {
	PPX       float64 `yaml:"ppx"` // principal point x, pixels
	PPY       float64 `yaml:"ppy"` // principal point y, pixels
	FX        float64 `yaml:"fx"`  // focal length, pixel width units
	FY        float64 `yaml:"fy"`  // focal length, pixel height units
	DepthUnit float64 `yaml:"depth_unit"`
	// MinMargin/MaxMargin clamp valid depth in result units
	// (raw sample * DepthUnit). MaxMargin 0 disables the upper clamp.
	MinMargin float64 `yaml:"min_margin"`
	MaxMargin float64 `yaml:"max_margin"`
	// Capture pose attached to every published point cloud.
	Position [3]float32 `yaml:"position"`
	Rotation [4]float32 `yaml:"rotation"` // quaternion XYZW; zero value means identity
}

// PreviewConfig describes the optional HTTP preview server.
type PreviewConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr"`
	Slot        int    `yaml:"slot"` // decoder slot shown in the MJPEG stream
	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	FPS         int    `yaml:"fps"`
	JPEGQuality int    `yaml:"jpeg_quality"`
}

// Config is the top-level configuration record.
type Config struct {
	LogLevel  string          `yaml:"log_level"`
	LogPretty bool            `yaml:"log_pretty"`
	Net       NetConfig       `yaml:"net"`
	Decoders  []DecoderConfig `yaml:"decoders"`
	Depth     *DepthConfig    `yaml:"depth,omitempty"`
	Preview   PreviewConfig   `yaml:"preview"`
}

// DefaultConfig returns a configuration with sensible defaults applied.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Net: NetConfig{
			Port:      9766,
			TimeoutMS: 500,
		},
		Decoders: []DecoderConfig{
			{Hardware: "sim", Codec: "hevc", PixelFormat: "rgb0"},
		},
		Preview: PreviewConfig{
			Addr:        ":8080",
			Width:       848,
			Height:      480,
			FPS:         30,
			JPEGQuality: 85,
		},
	}
}

// Validate checks the record for configuration errors.
func (c *Config) Validate() error {
	if len(c.Decoders) == 0 {
		return fmt.Errorf("at least one decoder must be configured")
	}
	if len(c.Decoders) > MaxDecoders {
		return fmt.Errorf("decoder count %d exceeds maximum of %d", len(c.Decoders), MaxDecoders)
	}
	if c.Net.Port <= 0 || c.Net.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Net.Port)
	}
	if c.Net.TimeoutMS <= 0 {
		return fmt.Errorf("receive timeout must be positive, got %dms", c.Net.TimeoutMS)
	}
	if c.Depth != nil {
		if c.Depth.FX == 0 || c.Depth.FY == 0 {
			return fmt.Errorf("depth config requires non-zero focal lengths")
		}
		if c.Depth.DepthUnit <= 0 {
			return fmt.Errorf("depth unit must be positive")
		}
	}
	// validated even when disabled: the serve command may enable the
	// preview after loading, and the render loop divides by FPS
	if c.Preview.FPS <= 0 {
		return fmt.Errorf("preview fps must be positive")
	}
	if c.Preview.Slot < 0 || c.Preview.Slot >= len(c.Decoders) {
		return fmt.Errorf("preview slot %d out of range", c.Preview.Slot)
	}
	return nil
}

// Manager loads and holds the active configuration.
type Manager struct {
	path string
	cfg  *Config
}

// NewManager loads configuration from path. An empty path yields defaults.
func NewManager(path string) (*Manager, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Manager{path: path, cfg: cfg}, nil
}

// Get returns the active configuration.
func (m *Manager) Get() *Config {
	return m.cfg
}

// Path returns the config file path, empty if defaults are in use.
func (m *Manager) Path() string {
	return m.path
}
