package inspector

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/feltsight/glovelink/internal/bledb"
	"github.com/feltsight/glovelink/internal/device"
	"github.com/sirupsen/logrus"
)

// ProgressCallback is called when the inspection phase changes
type ProgressCallback func(phase string)

// InspectOptions defines options for inspecting a peripheral's GATT profile
type InspectOptions struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration // per characteristic read
	ReadLimit      int           // max bytes kept per value, 0 disables reads

	// Glove profile the result is checked against.
	ServiceUUID string
	CommandUUID string
	SensorUUID  string
}

// DefaultInspectOptions checks against the stock glove profile.
func DefaultInspectOptions() *InspectOptions {
	return &InspectOptions{
		ConnectTimeout: 30 * time.Second,
		ReadTimeout:    2 * time.Second,
		ReadLimit:      64,
		ServiceUUID:    device.GloveServiceUUID,
		CommandUUID:    device.GloveCommandUUID,
		SensorUUID:     device.GloveSensorUUID,
	}
}

// InspectCallback processes a connected link and produces output of type R
type InspectCallback[R any] func(ctx context.Context, link device.Link) (R, error)

// InspectDevice dials address, runs callback on the discovered link and disconnects afterwards.
func InspectDevice[R any](ctx context.Context, central device.Central, address string, opts *InspectOptions, logger *logrus.Logger, progressCallback ProgressCallback, callback InspectCallback[R]) (R, error) {
	var zero R
	if opts == nil {
		opts = DefaultInspectOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}
	if progressCallback == nil {
		progressCallback = func(string) {}
	}

	progressCallback("Connecting")

	dialCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	link, err := central.Dial(dialCtx, address)
	if err != nil {
		progressCallback("Failed")
		return zero, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	progressCallback("Connected")

	defer func() {
		if err := link.Disconnect(); err != nil {
			logger.WithError(err).Error("failed to disconnect peripheral")
		}
	}()

	progressCallback("Processing results")
	return callback(ctx, link)
}

// Glove roles assigned to characteristics in a Profile.
const (
	RoleCommand = "command"
	RoleSensor  = "sensor"
)

// Profile is a structured dump of a peripheral's GATT profile.
type Profile struct {
	Address  string        `json:"address"`
	Glove    GloveSupport  `json:"glove"`
	Services []ServiceInfo `json:"services"`
}

// GloveSupport tells whether the peripheral can be driven as a glove.
// A writable command characteristic is required, the sensor is optional.
type GloveSupport struct {
	Compatible bool     `json:"compatible"`
	Command    bool     `json:"command"`
	Sensor     bool     `json:"sensor"`
	Problems   []string `json:"problems,omitempty"`
}

type ServiceInfo struct {
	UUID            string               `json:"uuid"`
	Name            string               `json:"name,omitempty"`
	Characteristics []CharacteristicInfo `json:"characteristics"`
}

type CharacteristicInfo struct {
	UUID       string `json:"uuid"`
	Name       string `json:"name,omitempty"`
	Properties string `json:"properties"`
	Role       string `json:"role,omitempty"`
	ValueHex   string `json:"value_hex,omitempty"`
	Value      any    `json:"value,omitempty"`
	ReadError  string `json:"read_error,omitempty"`
}

// ReadProfile walks the services of link, reads readable characteristics
// when opts.ReadLimit > 0 and classifies the glove characteristics.
func ReadProfile(ctx context.Context, link device.Link, opts *InspectOptions, logger *logrus.Logger) *Profile {
	if opts == nil {
		opts = DefaultInspectOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}

	profile := &Profile{Address: link.Address(), Services: []ServiceInfo{}}
	gloveService := device.NormalizeUUID(opts.ServiceUUID)
	commandSeen := false

	for _, svc := range link.Services() {
		svcUUID := device.NormalizeUUID(svc.UUID())
		si := ServiceInfo{
			UUID:            svcUUID,
			Name:            bledb.LookupService(svcUUID),
			Characteristics: []CharacteristicInfo{},
		}

		for _, char := range svc.Characteristics() {
			props := char.Properties()
			ci := CharacteristicInfo{
				UUID:       device.NormalizeUUID(char.UUID()),
				Name:       bledb.LookupCharacteristic(char.UUID()),
				Properties: props.String(),
			}

			if svcUUID == gloveService {
				switch {
				case device.EqualUUID(ci.UUID, opts.CommandUUID):
					ci.Role = RoleCommand
					commandSeen = true
					if props.CanWrite() {
						profile.Glove.Command = true
					} else {
						profile.Glove.Problems = append(profile.Glove.Problems, "command characteristic is not writable")
					}
				case device.EqualUUID(ci.UUID, opts.SensorUUID):
					ci.Role = RoleSensor
					if props.CanNotify() {
						profile.Glove.Sensor = true
					} else {
						profile.Glove.Problems = append(profile.Glove.Problems, "sensor characteristic does not notify")
					}
				}
			}

			if opts.ReadLimit > 0 && props.Has(device.PropRead) {
				readCharacteristic(ctx, link, svcUUID, &ci, opts, logger)
			}
			si.Characteristics = append(si.Characteristics, ci)
		}
		profile.Services = append(profile.Services, si)
	}

	if !profile.Glove.Command && !commandSeen {
		profile.Glove.Problems = append(profile.Glove.Problems, "command characteristic not found")
	}
	profile.Glove.Compatible = profile.Glove.Command
	return profile
}

func readCharacteristic(ctx context.Context, link device.Link, service string, ci *CharacteristicInfo, opts *InspectOptions, logger *logrus.Logger) {
	readCtx := ctx
	if opts.ReadTimeout > 0 {
		var cancel context.CancelFunc
		readCtx, cancel = context.WithTimeout(ctx, opts.ReadTimeout)
		defer cancel()
	}

	value, err := link.Read(readCtx, service, ci.UUID)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return
		}
		ci.ReadError = err.Error()
		logger.WithFields(logrus.Fields{
			"service":        service,
			"characteristic": ci.UUID,
			"error":          err,
		}).Debug("Characteristic read failed")
		return
	}

	decoded, err := bledb.DecodeValue(ci.UUID, value)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"characteristic": ci.UUID,
			"error":          err,
		}).Debug("Failed to decode characteristic value")
	}
	ci.Value = decoded

	if len(value) > opts.ReadLimit {
		value = value[:opts.ReadLimit]
	}
	ci.ValueHex = hex.EncodeToString(value)
}
