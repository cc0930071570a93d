package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultChunkDelay is the pause between chunks of a split write
	DefaultChunkDelay = 10 * time.Millisecond
)

// LinkOptions tunes the write path of links produced by a BLECentral.
type LinkOptions struct {
	// ChunkSize splits writes into pieces of at most this many bytes; 0 writes payloads whole.
	ChunkSize int
	// ChunkDelay is the pause between chunks.
	ChunkDelay time.Duration
	// MTU requests an ATT MTU exchange after connecting; 0 keeps the platform default.
	MTU int
}

// BLECentral implements device.Central on top of a go-ble device.
type BLECentral struct {
	dev    ble.Device
	logger *logrus.Logger
	opts   LinkOptions
}

// NewCentral opens the platform BLE device through DeviceFactory.
func NewCentral(logger *logrus.Logger, opts LinkOptions) (*BLECentral, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if opts.ChunkSize > 0 && opts.ChunkDelay == 0 {
		opts.ChunkDelay = DefaultChunkDelay
	}

	dev, err := DeviceFactory()
	if err != nil {
		logger.WithField("error", err).Error("Failed to create BLE device")
		return nil, fmt.Errorf("failed to create BLE device: %w", err)
	}

	return &BLECentral{dev: dev, logger: logger, opts: opts}, nil
}

// Scan wraps the raw ble.Device.Scan to convert ble.Advertisement to the device.Advertisement
func (c *BLECentral) Scan(ctx context.Context, allowDup bool, handler func(device.Advertisement)) error {
	err := c.dev.Scan(ctx, allowDup, func(adv ble.Advertisement) {
		handler(NewBLEAdvertisement(adv))
	})
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return NormalizeError(err)
	}
	return err
}

// Dial connects to the peripheral and discovers its full GATT profile.
func (c *BLECentral) Dial(ctx context.Context, address string) (device.Link, error) {
	if strings.TrimSpace(address) == "" {
		return nil, fmt.Errorf("peripheral address is empty")
	}

	c.logger.WithField("address", address).Debug("Dialing BLE peripheral...")
	client, err := c.dev.Dial(ctx, ble.NewAddr(address))
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("failed to connect to %q: %w: %v", address, device.ErrTimeout, err)
		}
		return nil, fmt.Errorf("failed to connect to %q: %w", address, NormalizeError(err))
	}

	link, err := newLink(address, client, c.opts, c.logger)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			c.logger.WithField("cancel_error", cancelErr).Warn("Failed to cancel connection during profile discovery failure")
		}
		return nil, err
	}
	return link, nil
}

// Stop releases the underlying BLE device.
func (c *BLECentral) Stop() error {
	return NormalizeError(c.dev.Stop())
}
