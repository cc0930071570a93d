package goble

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/internal/groutine"
	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
)

// BLELink represents a live BLE connection (notifications, reads, writes)
type BLELink struct {
	address string
	client  ble.Client
	logger  *logrus.Logger
	opts    LinkOptions

	writeMutex sync.Mutex
	connMutex  sync.RWMutex
	connected  bool
	services   map[string]*BLEService
	subscribed map[string]*BLECharacteristic

	done      chan struct{}
	closeOnce sync.Once
}

func newLink(address string, client ble.Client, opts LinkOptions, logger *logrus.Logger) (*BLELink, error) {
	l := &BLELink{
		address:    address,
		client:     client,
		logger:     logger,
		opts:       opts,
		connected:  true,
		services:   make(map[string]*BLEService),
		subscribed: make(map[string]*BLECharacteristic),
		done:       make(chan struct{}),
	}

	if opts.MTU > 0 {
		mtu, err := client.ExchangeMTU(opts.MTU)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"address": address,
				"error":   NormalizeError(err),
			}).Debug("MTU exchange not available, keeping default")
		} else {
			logger.WithFields(logrus.Fields{
				"address": address,
				"mtu":     mtu,
			}).Debug("MTU negotiated")
		}
	}

	logger.WithField("address", address).Debug("Discovering services and characteristics...")
	profile, err := client.DiscoverProfile(true)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"address": address,
			"error":   err,
		}).Error("Failed to discover profile")
		return nil, fmt.Errorf("failed to discover profile: %w", NormalizeError(err))
	}

	totalChars := 0
	for _, bleSvc := range profile.Services {
		svcUUID := device.NormalizeUUID(bleSvc.UUID.String())
		svc, ok := l.services[svcUUID]
		if !ok {
			svc = &BLEService{uuid: svcUUID, characteristics: make(map[string]*BLECharacteristic)}
			l.services[svcUUID] = svc
		}
		for _, bleChar := range bleSvc.Characteristics {
			char := newCharacteristic(bleChar)
			svc.characteristics[char.uuid] = char
			totalChars++
			logger.WithFields(logrus.Fields{
				"service_uuid": svcUUID,
				"char_uuid":    char.uuid,
				"properties":   char.props.String(),
			}).Debug("Found characteristic")
		}
	}

	// Monitor go-ble client Disconnected() channel so that peripheral-side drops surface
	if watcher, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor", func(ctx context.Context) {
			select {
			case <-watcher.Disconnected():
				logger.WithField("address", address).Warn("Peripheral dropped the connection")
				l.markClosed()
			case <-l.done:
			}
		})
	} else {
		logger.Debug("Client does not expose Disconnected() channel, link loss is detected by write failures only")
	}

	logger.WithFields(logrus.Fields{
		"address":         address,
		"services":        len(l.services),
		"characteristics": totalChars,
	}).Info("BLE peripheral connected")
	return l, nil
}

func (l *BLELink) Address() string {
	return l.address
}

// Services returns all discovered services sorted by UUID
func (l *BLELink) Services() []device.Service {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()

	result := make([]device.Service, 0, len(l.services))
	for _, svc := range l.services {
		result = append(result, svc)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UUID() < result[j].UUID()
	})
	return result
}

// Characteristic retrieves a characteristic by service and characteristic UUID.
// Returns a NotFoundError if the service or characteristic is not found.
func (l *BLELink) Characteristic(service, uuid string) (device.Characteristic, error) {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()
	return l.lookup(service, uuid)
}

// lookup must be called with connMutex held
func (l *BLELink) lookup(service, uuid string) (*BLECharacteristic, error) {
	svc, ok := l.services[device.NormalizeUUID(service)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
	}
	char, ok := svc.characteristics[device.NormalizeUUID(uuid)]
	if !ok {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return char, nil
}

// snapshot resolves a characteristic and the client under the read lock
func (l *BLELink) snapshot(service, uuid string) (ble.Client, *BLECharacteristic, error) {
	l.connMutex.RLock()
	defer l.connMutex.RUnlock()

	if !l.connected {
		return nil, nil, device.ErrNotConnected
	}
	char, err := l.lookup(service, uuid)
	if err != nil {
		return nil, nil, err
	}
	return l.client, char, nil
}

// Read reads the characteristic value; ctx bounds the wait.
func (l *BLELink) Read(ctx context.Context, service, uuid string) ([]byte, error) {
	client, char, err := l.snapshot(service, uuid)
	if err != nil {
		return nil, err
	}
	if !char.props.Has(device.PropRead) {
		return nil, fmt.Errorf("characteristic %s is not readable: %w", char.uuid, device.ErrUnsupported)
	}

	type readResult struct {
		data []byte
		err  error
	}
	resultCh := make(chan readResult, 1)

	go func() {
		data, err := client.ReadCharacteristic(char.raw)
		resultCh <- readResult{data: data, err: err}
	}()

	select {
	case result := <-resultCh:
		if result.err != nil {
			return nil, fmt.Errorf("failed to read characteristic %s: %w", char.uuid, NormalizeError(result.err))
		}
		return result.data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("reading characteristic %s: %w: %v", char.uuid, device.ErrTimeout, ctx.Err())
	case <-l.done:
		return nil, fmt.Errorf("reading characteristic %s: %w", char.uuid, device.ErrNotConnected)
	}
}

// Write sends data to the characteristic. Writes are serialized per link; with a
// chunk size configured the payload is split and paced.
func (l *BLELink) Write(service, uuid string, data []byte, withResponse bool) error {
	client, char, err := l.snapshot(service, uuid)
	if err != nil {
		return err
	}
	if !char.props.CanWrite() {
		return fmt.Errorf("characteristic %s is not writable: %w", char.uuid, device.ErrUnsupported)
	}
	// Fall back to the mode the characteristic supports
	if withResponse && !char.props.Has(device.PropWrite) {
		withResponse = false
	} else if !withResponse && !char.props.Has(device.PropWriteWithoutResponse) {
		withResponse = true
	}

	l.writeMutex.Lock()
	defer l.writeMutex.Unlock()

	chunk := l.opts.ChunkSize
	if chunk <= 0 || chunk > len(data) {
		chunk = len(data)
	}
	for first := true; len(data) > 0; first = false {
		if !first {
			time.Sleep(l.opts.ChunkDelay)
		}
		n := chunk
		if n > len(data) {
			n = len(data)
		}
		if err := client.WriteCharacteristic(char.raw, data[:n], !withResponse); err != nil {
			return fmt.Errorf("failed to write to characteristic %s in service %s: %w", char.uuid, device.NormalizeUUID(service), NormalizeError(err))
		}
		data = data[n:]
	}
	return nil
}

// Subscribe enables notifications (or indications when notify is unsupported) and
// delivers each value to handler on the go-ble callback goroutine.
func (l *BLELink) Subscribe(service, uuid string, handler func([]byte)) error {
	client, char, err := l.snapshot(service, uuid)
	if err != nil {
		return err
	}
	if !char.props.CanNotify() {
		return fmt.Errorf("characteristic %s does not support notifications: %w", char.uuid, device.ErrUnsupported)
	}
	indicate := !char.props.Has(device.PropNotify)

	if err := client.Subscribe(char.raw, indicate, func(data []byte) { handler(data) }); err != nil {
		return fmt.Errorf("failed to subscribe to characteristic %s: %w", char.uuid, NormalizeError(err))
	}

	l.connMutex.Lock()
	l.subscribed[char.uuid] = char
	l.connMutex.Unlock()

	l.logger.WithFields(logrus.Fields{
		"address":   l.address,
		"char_uuid": char.uuid,
		"indicate":  indicate,
	}).Debug("Subscribed to characteristic")
	return nil
}

func (l *BLELink) Unsubscribe(service, uuid string) error {
	client, char, err := l.snapshot(service, uuid)
	if err != nil {
		return err
	}

	l.connMutex.Lock()
	_, ok := l.subscribed[char.uuid]
	delete(l.subscribed, char.uuid)
	l.connMutex.Unlock()
	if !ok {
		return nil
	}

	return l.tryUnsubscribe(client, char)
}

// tryUnsubscribe attempts both notify and indicate modes; fails only if both fail.
func (l *BLELink) tryUnsubscribe(client ble.Client, char *BLECharacteristic) error {
	err1 := NormalizeError(client.Unsubscribe(char.raw, false))
	err2 := NormalizeError(client.Unsubscribe(char.raw, true))
	if err1 != nil && err2 != nil {
		return fmt.Errorf("%s: notify=%v, indicate=%v", char.uuid, err1, err2)
	}
	return nil
}

func (l *BLELink) Disconnected() <-chan struct{} {
	return l.done
}

func (l *BLELink) markClosed() {
	l.closeOnce.Do(func() {
		l.connMutex.Lock()
		l.connected = false
		l.connMutex.Unlock()
		close(l.done)
	})
}

// Disconnect unsubscribes from all characteristics and cancels the connection.
// Calling it on a link that is already gone is a no-op.
func (l *BLELink) Disconnect() error {
	l.connMutex.Lock()
	if !l.connected {
		l.connMutex.Unlock()
		l.logger.Debug("Disconnect called but already disconnected")
		return nil
	}
	subs := make([]*BLECharacteristic, 0, len(l.subscribed))
	for _, c := range l.subscribed {
		subs = append(subs, c)
	}
	l.subscribed = make(map[string]*BLECharacteristic)
	client := l.client
	l.connMutex.Unlock()

	l.logger.WithField("address", l.address).Info("Disconnecting BLE peripheral...")

	for _, c := range subs {
		if err := l.tryUnsubscribe(client, c); err != nil {
			l.logger.WithField("error", err).Warn("Failed to unsubscribe during disconnect")
		}
	}

	err := NormalizeError(client.CancelConnection())
	l.markClosed()

	if err != nil {
		l.logger.WithField("error", err).Warn("BLE peripheral disconnected with errors")
		return err
	}
	l.logger.WithField("address", l.address).Info("BLE peripheral disconnected")
	return nil
}
