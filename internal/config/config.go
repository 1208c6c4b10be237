package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the node configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Aggregator AggregatorConfig `yaml:"aggregator"`
	Camera     CameraConfig     `yaml:"camera"`
	Power      PowerConfig      `yaml:"power"`
	State      StateConfig      `yaml:"state"`
	Log        LogConfig        `yaml:"log,omitempty"`
}

// ServerConfig contains the command server listen address
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AggregatorConfig contains the remote imagery aggregator endpoint
type AggregatorConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// CameraConfig contains camera backend and device settings
type CameraConfig struct {
	Backend  string     `yaml:"backend"` // rpicam, rtsp or synthetic
	Width    int        `yaml:"width"`
	Height   int        `yaml:"height"`
	Rotation int        `yaml:"rotation"`
	AWBMode  string     `yaml:"awb_mode"`
	RTSP     RTSPConfig `yaml:"rtsp"`
}

// RTSPConfig contains settings for the RTSP camera backend
type RTSPConfig struct {
	URL      string        `yaml:"url"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// PowerConfig contains the programmable power supply serial settings
type PowerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Device  string `yaml:"device"`
	Baud    int    `yaml:"baud"`
}

// StateConfig contains the local operational history store settings
type StateConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
	PruneSchedule string `yaml:"prune_schedule"` // cron expression
}

// LogConfig contains logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = getDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getDefaultConfigPath returns the default configuration file path
func getDefaultConfigPath() string {
	paths := []string{
		"./config.yaml",
		"./config/config.yaml",
		"/etc/imagery-node/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return paths[0]
}

// setDefaults sets default values for configuration
func (c *Config) setDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 18765
	}

	if c.Aggregator.URL == "" {
		c.Aggregator.URL = "http://localhost:8100/upload_imagery/"
	}
	if c.Aggregator.Timeout == 0 {
		c.Aggregator.Timeout = 30 * time.Second
	}

	if c.Camera.Backend == "" {
		c.Camera.Backend = "rpicam"
	}
	if c.Camera.Width == 0 {
		c.Camera.Width = 2048
	}
	if c.Camera.Height == 0 {
		c.Camera.Height = 1536
	}
	if c.Camera.AWBMode == "" {
		c.Camera.AWBMode = "auto"
	}
	if c.Camera.RTSP.Timeout == 0 {
		c.Camera.RTSP.Timeout = 30 * time.Second
	}

	if c.Power.Device == "" {
		c.Power.Device = "/dev/ttyUSB0"
	}
	if c.Power.Baud == 0 {
		c.Power.Baud = 57600
	}

	if c.State.Path == "" {
		c.State.Path = "./data/imagery-node.db"
	}
	if c.State.RetentionDays == 0 {
		c.State.RetentionDays = 30
	}
	if c.State.PruneSchedule == "" {
		c.State.PruneSchedule = "0 3 * * *"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Log.Output == "" {
		c.Log.Output = "stdout"
	}
}

// Validate checks configuration invariants that defaults cannot repair
func (c *Config) Validate() error {
	switch c.Camera.Backend {
	case "rpicam", "rtsp", "synthetic":
	default:
		return fmt.Errorf("invalid camera backend: %s", c.Camera.Backend)
	}

	if c.Camera.Backend == "rtsp" && c.Camera.RTSP.URL == "" {
		return fmt.Errorf("camera.rtsp.url is required for the rtsp backend")
	}

	if c.Camera.Rotation%90 != 0 {
		return fmt.Errorf("invalid camera rotation: %d", c.Camera.Rotation)
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	return nil
}
