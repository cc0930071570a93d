package manager

import (
	"time"

	"github.com/feltsight/glovelink/internal/config"
	"github.com/feltsight/glovelink/internal/devicefactory"
)

// ReconnectPolicy controls what happens after an unexpected link loss.
type ReconnectPolicy struct {
	Enabled     bool
	Interval    time.Duration // first wait
	MaxInterval time.Duration
	Multiplier  float64
	Jitter      float64 // randomization factor in [0, 1]
	MaxAttempts int     // 0 = unlimited
	ScanWindow  time.Duration
}

// Options configures a Manager.
type Options struct {
	ServiceUUID string
	CommandUUID string
	SensorUUID  string

	TargetNames  []string
	ScanDuration time.Duration // 0 scans until StopScanning
	Duplicates   bool
	MinRSSI      int
	AutoConnect  bool

	ConnectTimeout    time.Duration
	WriteWithResponse bool
	FailureThreshold  uint32
	MaxFrameRate      float64 // 0 disables pacing
	FrameBurst        int

	EventBuffer   int
	SensorBuffer  int
	SampleHistory int

	Reconnect ReconnectPolicy
	Link      devicefactory.Options
}

// OptionsFromConfig maps the configuration file layout onto manager options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ServiceUUID: cfg.Link.ServiceUUID,
		CommandUUID: cfg.Link.CommandUUID,
		SensorUUID:  cfg.Link.SensorUUID,

		TargetNames:  append([]string(nil), cfg.Scan.TargetNames...),
		ScanDuration: cfg.Scan.Duration,
		Duplicates:   cfg.Scan.Duplicates,
		MinRSSI:      cfg.Scan.MinRSSI,
		AutoConnect:  cfg.Scan.AutoConnect,

		ConnectTimeout:    cfg.Link.ConnectTimeout,
		WriteWithResponse: cfg.Link.WriteWithResponse,
		FailureThreshold:  cfg.Link.FailureThreshold,
		MaxFrameRate:      cfg.Link.MaxFrameRate,
		FrameBurst:        cfg.Link.FrameBurst,

		EventBuffer:   cfg.Link.EventBuffer,
		SensorBuffer:  cfg.Link.SensorBuffer,
		SampleHistory: cfg.Link.SampleHistory,

		Reconnect: ReconnectPolicy{
			Enabled:     cfg.Reconnect.Enabled,
			Interval:    cfg.Reconnect.Interval,
			MaxInterval: cfg.Reconnect.MaxInterval,
			Multiplier:  cfg.Reconnect.Multiplier,
			Jitter:      cfg.Reconnect.Jitter,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
			ScanWindow:  cfg.Reconnect.ScanWindow,
		},
		Link: devicefactory.Options{
			ChunkSize: cfg.Link.ChunkSize,
			MTU:       cfg.Link.MTU,
		},
	}
}

// DefaultOptions returns the options of the default configuration.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultConfig())
}

// withFallbacks fills values that would make the manager misbehave when left zero.
func (o Options) withFallbacks() Options {
	d := DefaultOptions()
	if o.ServiceUUID == "" {
		o.ServiceUUID = d.ServiceUUID
	}
	if o.CommandUUID == "" {
		o.CommandUUID = d.CommandUUID
	}
	if o.SensorUUID == "" {
		o.SensorUUID = d.SensorUUID
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = d.ConnectTimeout
	}
	if o.FailureThreshold == 0 {
		o.FailureThreshold = d.FailureThreshold
	}
	if o.MaxFrameRate > 0 && o.FrameBurst < 1 {
		o.FrameBurst = 1
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = d.EventBuffer
	}
	if o.SensorBuffer <= 0 {
		o.SensorBuffer = d.SensorBuffer
	}
	if o.SampleHistory <= 0 {
		o.SampleHistory = d.SampleHistory
	}
	if o.Reconnect.Interval <= 0 {
		o.Reconnect.Interval = d.Reconnect.Interval
	}
	if o.Reconnect.MaxInterval < o.Reconnect.Interval {
		o.Reconnect.MaxInterval = o.Reconnect.Interval
	}
	if o.Reconnect.Multiplier < 1 {
		o.Reconnect.Multiplier = 1
	}
	if o.Reconnect.ScanWindow <= 0 {
		o.Reconnect.ScanWindow = o.Reconnect.Interval
	}
	return o
}
