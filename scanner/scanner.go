package scanner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/internal/devicefactory"
	"github.com/feltsight/glovelink/internal/ringchan"
	"github.com/sirupsen/logrus"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrScanInProgress is returned when Scan is called while another scan runs.
var ErrScanInProgress = errors.New("scan already in progress")

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the peripheral was newly discovered or updated
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventUpdated
)

func (t DeviceEventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "updated"
}

type DeviceEvent struct {
	Type       DeviceEventType
	Peripheral device.PeripheralInfo
}

// ScanOptions configures scanning behavior
type ScanOptions struct {
	Duration     time.Duration // 0 scans until ctx is done
	Duplicates   bool          // report repeated advertisements as updates
	ServiceUUIDs []string      // any match
	AllowList    []string      // addresses
	BlockList    []string      // addresses
	Names        []string      // exact, case-insensitive
	MinRSSI      int           // 0 disables the filter

	// OnEvent is called synchronously on the advertisement goroutine.
	OnEvent func(DeviceEvent)
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:   10 * time.Second,
		Duplicates: true,
	}
}

// Scanner handles BLE peripheral discovery
type Scanner struct {
	central device.Central
	logger  *logrus.Logger
	events  *ringchan.RingChannel[DeviceEvent]

	devices  atomic.Pointer[hashmap.Map[string, *device.Peripheral]]
	opts     atomic.Pointer[ScanOptions]
	orderMu  sync.Mutex
	order    []string
	scanning atomic.Bool
}

// NewScanner creates a scanner. A nil central is created through devicefactory.
func NewScanner(logger *logrus.Logger, central device.Central) (*Scanner, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if central == nil {
		var err error
		central, err = devicefactory.NewCentral(logger, devicefactory.Options{})
		if err != nil {
			return nil, fmt.Errorf("failed to create BLE central: %w", err)
		}
	}

	s := &Scanner{
		central: central,
		logger:  logger,
		events:  ringchan.New[DeviceEvent](100),
	}
	s.devices.Store(hashmap.New[string, *device.Peripheral]())
	return s, nil
}

// Scan performs BLE discovery with provided options. Cancellation and the
// scan duration both end the scan normally.
func (s *Scanner) Scan(ctx context.Context, opts *ScanOptions, progressCallback ProgressCallback) (map[string]device.PeripheralInfo, error) {
	if !s.scanning.CompareAndSwap(false, true) {
		return nil, ErrScanInProgress
	}
	defer s.scanning.Store(false)

	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progressCallback == nil {
		progressCallback = func(string) {} // No-op callback
	}

	devices := hashmap.New[string, *device.Peripheral]()
	s.orderMu.Lock()
	s.devices.Store(devices)
	s.order = nil
	s.orderMu.Unlock()
	s.opts.Store(opts)

	if opts.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Duration)
		defer cancel()
	}

	s.logger.WithFields(logrus.Fields{
		"duration": opts.Duration,
		"names":    opts.Names,
	}).Info("Starting BLE scan...")
	progressCallback("Scanning")

	err := s.central.Scan(ctx, opts.Duplicates, s.handleAdvertisement)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	s.logger.WithField("device_count", devices.Len()).Info("BLE scan completed")
	progressCallback("Processing results")

	result := make(map[string]device.PeripheralInfo, devices.Len())
	devices.Range(func(key string, value *device.Peripheral) bool {
		result[key] = value.Info()
		return true
	})
	return result, nil
}

// handleAdvertisement updates existing or adds a new peripheral
func (s *Scanner) handleAdvertisement(adv device.Advertisement) {
	opts := s.opts.Load()
	devices := s.devices.Load()
	if opts == nil {
		return
	}
	id := adv.Addr()

	p, existing := devices.Get(id)
	if !existing {
		if !shouldInclude(adv, opts) {
			return
		}
		p, existing = s.register(devices, id, adv)
	}

	event := DeviceEvent{Type: EventNew}
	if existing {
		if !opts.Duplicates {
			return
		}
		p.Update(adv)
		event.Type = EventUpdated
	}
	event.Peripheral = p.Info()

	if event.Type == EventNew {
		s.logger.WithFields(logrus.Fields{
			"device":  event.Peripheral.DisplayName(),
			"address": event.Peripheral.Address,
			"rssi":    event.Peripheral.RSSI,
		}).Info("Discovered new peripheral")
	}

	s.events.Send(event)
	if opts.OnEvent != nil {
		opts.OnEvent(event)
	}
}

// register adds a peripheral to the registry and the discovery order.
// GetOrInsert in hashmap v1 can hide earlier keys from Get, so inserts go
// through Set under orderMu with a second lookup.
func (s *Scanner) register(devices *hashmap.Map[string, *device.Peripheral], id string, adv device.Advertisement) (*device.Peripheral, bool) {
	s.orderMu.Lock()
	defer s.orderMu.Unlock()
	if p, ok := devices.Get(id); ok {
		return p, true
	}
	p := device.NewPeripheral(adv)
	devices.Set(id, p)
	s.order = append(s.order, id)
	return p, false
}

// shouldInclude applies block/allow/service/name/RSSI filters
func shouldInclude(adv device.Advertisement, opts *ScanOptions) bool {
	addr := adv.Addr()

	for _, blocked := range opts.BlockList {
		if strings.EqualFold(addr, blocked) {
			return false
		}
	}

	if len(opts.AllowList) > 0 {
		allowed := false
		for _, a := range opts.AllowList {
			if strings.EqualFold(addr, a) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	if len(opts.ServiceUUIDs) > 0 {
		hasRequired := false
		for _, required := range opts.ServiceUUIDs {
			for _, advertised := range adv.Services() {
				if device.EqualUUID(required, advertised) {
					hasRequired = true
					break
				}
			}
			if hasRequired {
				break
			}
		}
		if !hasRequired {
			return false
		}
	}

	if len(opts.Names) > 0 && !device.MatchesName(adv.LocalName(), opts.Names) {
		return false
	}

	if opts.MinRSSI != 0 && adv.RSSI() < opts.MinRSSI {
		return false
	}

	return true
}

// Results returns the peripherals of the last scan in discovery order.
func (s *Scanner) Results() *orderedmap.OrderedMap[string, device.PeripheralInfo] {
	s.orderMu.Lock()
	ids := append([]string(nil), s.order...)
	devices := s.devices.Load()
	s.orderMu.Unlock()

	out := orderedmap.New[string, device.PeripheralInfo](orderedmap.WithCapacity[string, device.PeripheralInfo](len(ids)))
	for _, id := range ids {
		if p, ok := devices.Get(id); ok {
			out.Set(id, p.Info())
		}
	}
	return out
}

// Peripheral returns the latest snapshot of a peripheral seen by the last scan.
func (s *Scanner) Peripheral(id string) (device.PeripheralInfo, bool) {
	p, ok := s.devices.Load().Get(id)
	if !ok {
		return device.PeripheralInfo{}, false
	}
	return p.Info(), true
}

// IsScanning reports whether a scan is running.
func (s *Scanner) IsScanning() bool {
	return s.scanning.Load()
}

// Events return a read-only channel of peripheral events
func (s *Scanner) Events() <-chan DeviceEvent {
	return s.events.C()
}

// Close closes the events channel. The scanner must not be used afterwards.
func (s *Scanner) Close() {
	s.events.Close()
}
