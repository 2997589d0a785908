package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"dronelink/internal/link"
	"dronelink/internal/protocol"
	"dronelink/internal/sim"
)

// Default configuration constants
const (
	DefaultHost          = "192.168.4.1"
	DefaultLogDir        = "./logs"
	DefaultSnapshotDir   = "./snapshots"
	DefaultRecorderPath  = "./dronelink.db"
	DefaultStatsInterval = 30 * time.Second
	DefaultLogRetention  = 30
	DefaultVelocity      = 3.0
)

// Duration is a time.Duration read from YAML strings such as "300ms".
type Duration time.Duration

// UnmarshalYAML parses a Go duration string.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	duration, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("app.Duration: failed to parse %q: %w", value.Value, err)
	}
	if duration < 0 {
		return fmt.Errorf("app.Duration: must not be negative: %s", duration)
	}

	*d = Duration(duration)
	return nil
}

// MarshalYAML renders the duration as a string.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Config holds application configuration
type Config struct {
	Host         string   `yaml:"host"`
	VideoPort    int      `yaml:"video_port"`
	NavPort      int      `yaml:"nav_port"`
	DialTimeout  Duration `yaml:"dial_timeout"`
	ReadTimeout  Duration `yaml:"read_timeout"`
	WriteTimeout Duration `yaml:"write_timeout"`
	HoldInterval Duration `yaml:"hold_interval"`

	LogDir        string   `yaml:"log_dir"`
	LogRotateUTC  bool     `yaml:"log_rotate_utc"`
	LogRetention  int      `yaml:"log_retention_days"`
	Journal       bool     `yaml:"journal"`
	RecorderPath  string   `yaml:"recorder_path"`
	SnapshotDir   string   `yaml:"snapshot_dir"`
	StatsInterval Duration `yaml:"stats_interval"`

	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
	FlyMode   int     `yaml:"fly_mode"`
	Velocity  float64 `yaml:"velocity"`

	Verbose bool `yaml:"verbose"`

	Sim SimConfig `yaml:"sim"`
}

// SimConfig is the simulator section of the config file.
type SimConfig struct {
	Host              string   `yaml:"host"`
	VideoPort         int      `yaml:"video_port"`
	NavPort           int      `yaml:"nav_port"`
	TelemetryInterval Duration `yaml:"telemetry_interval"`
	FrameInterval     Duration `yaml:"frame_interval"`
	FrameWidth        int      `yaml:"frame_width"`
	FrameHeight       int      `yaml:"frame_height"`
	VideoFormat       string   `yaml:"video_format"`
	Latitude          float64  `yaml:"latitude"`
	Longitude         float64  `yaml:"longitude"`
	Battery           int      `yaml:"battery"`
	Velocity          float64  `yaml:"velocity"`
	Heading           float64  `yaml:"heading"`
}

// DefaultConfig returns the configuration used when no file or flag overrides it.
func DefaultConfig() Config {
	l := link.DefaultConfig(DefaultHost)
	s := sim.DefaultConfig()

	return Config{
		Host:          l.Host,
		VideoPort:     l.VideoPort,
		NavPort:       l.NavPort,
		DialTimeout:   Duration(l.DialTimeout),
		WriteTimeout:  Duration(l.WriteTimeout),
		HoldInterval:  Duration(l.HoldInterval),
		LogDir:        DefaultLogDir,
		LogRotateUTC:  true,
		LogRetention:  DefaultLogRetention,
		Journal:       true,
		RecorderPath:  DefaultRecorderPath,
		SnapshotDir:   DefaultSnapshotDir,
		StatsInterval: Duration(DefaultStatsInterval),
		FlyMode:       int(protocol.FlyModeManual),
		Velocity:      DefaultVelocity,
		Sim: SimConfig{
			Host:              s.Host,
			VideoPort:         s.VideoPort,
			NavPort:           s.NavPort,
			TelemetryInterval: Duration(s.TelemetryInterval),
			FrameInterval:     Duration(s.FrameInterval),
			FrameWidth:        s.FrameWidth,
			FrameHeight:       s.FrameHeight,
			VideoFormat:       "jpeg",
			Latitude:          s.Drone.Latitude,
			Longitude:         s.Drone.Longitude,
			Battery:           s.Drone.Battery,
			Velocity:          s.Drone.Velocity,
			Heading:           s.Drone.Heading,
		},
	}
}

// LoadConfig reads a YAML file over the defaults. An empty path returns the defaults.
func LoadConfig(path string) (Config, error) {
	config := DefaultConfig()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return config, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := config.Validate(); err != nil {
		return config, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return config, nil
}

// Validate checks the values a link cannot run without.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host cannot be empty")
	}
	for name, port := range map[string]int{"video_port": c.VideoPort, "nav_port": c.NavPort} {
		if port <= 0 || port > 65535 {
			return fmt.Errorf("%s out of range: %d", name, port)
		}
	}
	if c.VideoPort == c.NavPort {
		return fmt.Errorf("video and nav ports must differ")
	}
	if !protocol.FlyMode(c.FlyMode).Valid() {
		return fmt.Errorf("unknown fly mode %d", c.FlyMode)
	}
	if c.LogRetention < 0 {
		return fmt.Errorf("log_retention_days must not be negative")
	}
	if c.Velocity < 0 {
		return fmt.Errorf("velocity must not be negative")
	}
	if _, err := ParseVideoFormat(c.Sim.VideoFormat); err != nil {
		return err
	}
	return nil
}

// LinkConfig converts the link section into controller settings.
func (c Config) LinkConfig() link.Config {
	return link.Config{
		Host:         c.Host,
		VideoPort:    c.VideoPort,
		NavPort:      c.NavPort,
		DialTimeout:  time.Duration(c.DialTimeout),
		ReadTimeout:  time.Duration(c.ReadTimeout),
		WriteTimeout: time.Duration(c.WriteTimeout),
		HoldInterval: time.Duration(c.HoldInterval),
	}
}

// SimulatorConfig converts the sim section into simulator settings.
func (c Config) SimulatorConfig() (sim.Config, error) {
	format, err := ParseVideoFormat(c.Sim.VideoFormat)
	if err != nil {
		return sim.Config{}, err
	}

	return sim.Config{
		Host:              c.Sim.Host,
		VideoPort:         c.Sim.VideoPort,
		NavPort:           c.Sim.NavPort,
		TelemetryInterval: time.Duration(c.Sim.TelemetryInterval),
		FrameInterval:     time.Duration(c.Sim.FrameInterval),
		FrameWidth:        c.Sim.FrameWidth,
		FrameHeight:       c.Sim.FrameHeight,
		VideoFormat:       format,
		Drone: sim.DroneConfig{
			Latitude:  c.Sim.Latitude,
			Longitude: c.Sim.Longitude,
			Battery:   c.Sim.Battery,
			Velocity:  c.Sim.Velocity,
			Heading:   c.Sim.Heading,
		},
	}, nil
}

// ParseVideoFormat maps a config name to a format the simulator can encode.
func ParseVideoFormat(name string) (protocol.VideoFormat, error) {
	switch name {
	case "", "jpeg", "jpg":
		return protocol.VideoJPEG, nil
	case "png":
		return protocol.VideoPNG, nil
	case "rgba", "raw":
		return protocol.VideoRGBA, nil
	default:
		return 0, fmt.Errorf("unsupported video format %q", name)
	}
}
