// Package config holds glovelink configuration: struct-tag defaults, optional
// YAML overrides and the logger every component is built with.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration
type Config struct {
	LogLevel  string `yaml:"log_level" default:"info"`
	LogFormat string `yaml:"log_format" default:"text"` // text, json

	Scan      ScanConfig      `yaml:"scan"`
	Link      LinkConfig      `yaml:"link"`
	Reconnect ReconnectConfig `yaml:"reconnect"`
	Stream    StreamConfig    `yaml:"stream"`
}

// ScanConfig controls discovery.
type ScanConfig struct {
	Duration    time.Duration `yaml:"duration" default:"10s"`
	TargetNames []string      `yaml:"target_names"`
	Duplicates  bool          `yaml:"duplicates" default:"true"` // report repeated advertisements (RSSI updates)
	MinRSSI     int           `yaml:"min_rssi" default:"-100"`
	AutoConnect bool          `yaml:"auto_connect" default:"true"`
}

// LinkConfig describes the glove GATT profile and the write path.
type LinkConfig struct {
	ServiceUUID       string        `yaml:"service_uuid" default:"6e400001-b5a3-f393-e0a9-e50e24dcca9e"`
	CommandUUID       string        `yaml:"command_uuid" default:"6e400002-b5a3-f393-e0a9-e50e24dcca9e"`
	SensorUUID        string        `yaml:"sensor_uuid" default:"6e400003-b5a3-f393-e0a9-e50e24dcca9e"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout" default:"10s"`
	WriteWithResponse bool          `yaml:"write_with_response" default:"false"`
	ChunkSize         int           `yaml:"chunk_size" default:"0"`
	MTU               int           `yaml:"mtu" default:"0"`
	FailureThreshold  uint32        `yaml:"failure_threshold" default:"3"`
	MaxFrameRate      float64       `yaml:"max_frame_rate" default:"60"` // frames per second, 0 disables pacing
	FrameBurst        int           `yaml:"frame_burst" default:"4"`
	EventBuffer       int           `yaml:"event_buffer" default:"256"`
	SensorBuffer      int           `yaml:"sensor_buffer" default:"4096"` // raw sensor bytes kept for readers
	SampleHistory     int           `yaml:"sample_history" default:"512"` // sensor notifications kept
}

// ReconnectConfig controls automatic reconnection after an unexpected link loss.
type ReconnectConfig struct {
	Enabled     bool          `yaml:"enabled" default:"true"`
	Interval    time.Duration `yaml:"interval" default:"3s"`
	MaxInterval time.Duration `yaml:"max_interval" default:"30s"`
	Multiplier  float64       `yaml:"multiplier" default:"1.5"`
	Jitter      float64       `yaml:"jitter" default:"0"`
	MaxAttempts int           `yaml:"max_attempts" default:"0"` // 0 = unlimited
	ScanWindow  time.Duration `yaml:"scan_window" default:"3s"`
}

// StreamConfig drives the periodic frame transmitter.
type StreamConfig struct {
	Interval    time.Duration `yaml:"interval" default:"16667us"`
	Volume      int           `yaml:"volume" default:"75"`
	MinVelocity float64       `yaml:"min_velocity" default:"0"`
	MaxVelocity float64       `yaml:"max_velocity" default:"0.3"`
	MuteBelow   float64       `yaml:"mute_below" default:"0.015"`
	Multiplier  float64       `yaml:"multiplier" default:"1"`
	Smoothing   float64       `yaml:"smoothing" default:"0.5"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.Scan.TargetNames = append([]string(nil), device.DefaultTargetNames...)
	return cfg
}

// Load reads a YAML file over the defaults. An empty path returns the defaults.
// Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Validate checks value ranges and cross-field constraints.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format: must be text or json, got %q", c.LogFormat))
	}

	if c.Scan.Duration <= 0 {
		errs = append(errs, errors.New("scan.duration: must be positive"))
	}

	if _, err := device.ValidateUUID(c.Link.ServiceUUID, c.Link.CommandUUID, c.Link.SensorUUID); err != nil {
		errs = append(errs, fmt.Errorf("link uuids: %w", err))
	}
	if c.Link.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("link.connect_timeout: must be positive"))
	}
	if c.Link.ChunkSize < 0 {
		errs = append(errs, errors.New("link.chunk_size: must not be negative"))
	}
	if c.Link.FailureThreshold == 0 {
		errs = append(errs, errors.New("link.failure_threshold: must be at least 1"))
	}
	if c.Link.MaxFrameRate < 0 {
		errs = append(errs, errors.New("link.max_frame_rate: must not be negative"))
	}
	if c.Link.MaxFrameRate > 0 && c.Link.FrameBurst < 1 {
		errs = append(errs, errors.New("link.frame_burst: must be at least 1 when pacing is enabled"))
	}
	if c.Link.EventBuffer <= 0 || c.Link.SensorBuffer <= 0 || c.Link.SampleHistory <= 0 {
		errs = append(errs, errors.New("link buffers: event_buffer, sensor_buffer and sample_history must be positive"))
	}

	if c.Reconnect.Interval <= 0 {
		errs = append(errs, errors.New("reconnect.interval: must be positive"))
	}
	if c.Reconnect.MaxInterval < c.Reconnect.Interval {
		errs = append(errs, errors.New("reconnect.max_interval: must not be below interval"))
	}
	if c.Reconnect.Multiplier < 1 {
		errs = append(errs, errors.New("reconnect.multiplier: must be at least 1"))
	}
	if c.Reconnect.Jitter < 0 || c.Reconnect.Jitter > 1 {
		errs = append(errs, errors.New("reconnect.jitter: must be within [0, 1]"))
	}
	if c.Reconnect.MaxAttempts < 0 {
		errs = append(errs, errors.New("reconnect.max_attempts: must not be negative"))
	}
	if c.Reconnect.ScanWindow <= 0 {
		errs = append(errs, errors.New("reconnect.scan_window: must be positive"))
	}

	if c.Stream.Interval <= 0 {
		errs = append(errs, errors.New("stream.interval: must be positive"))
	}
	if c.Stream.Volume < 0 || c.Stream.Volume > 100 {
		errs = append(errs, errors.New("stream.volume: must be within [0, 100]"))
	}
	if c.Stream.MaxVelocity <= c.Stream.MinVelocity {
		errs = append(errs, errors.New("stream.max_velocity: must exceed min_velocity"))
	}
	if c.Stream.Multiplier < 0.1 {
		errs = append(errs, errors.New("stream.multiplier: must be at least 0.1"))
	}
	if c.Stream.Smoothing < 0.01 || c.Stream.Smoothing > 1 {
		errs = append(errs, errors.New("stream.smoothing: must be within [0.01, 1]"))
	}

	return errors.Join(errs...)
}

// Level returns the parsed log level, falling back to info.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(strings.TrimSpace(c.LogLevel))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.Level())

	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339})
		return logger
	}

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
