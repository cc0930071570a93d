package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/internal/devicefactory"
	"github.com/feltsight/glovelink/internal/groutine"
	"github.com/feltsight/glovelink/internal/ringchan"
	"github.com/feltsight/glovelink/scanner"
	"github.com/feltsight/glovelink/telemetry"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/time/rate"
)

// connection is a Ready link with its resolved glove characteristics.
type connection struct {
	link    device.Link
	info    device.PeripheralInfo
	command device.Characteristic
	sensor  device.Characteristic // nil when the glove exposes no sensor characteristic
	session string

	breaker *gobreaker.CircuitBreaker[struct{}]
	limiter *rate.Limiter // nil disables pacing

	done     chan struct{}
	stopOnce sync.Once
}

func (c *connection) stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// Manager is the BLE central for one glove: it scans, connects, keeps the link
// healthy and reconnects after unexpected losses. Safe for concurrent use.
type Manager struct {
	opts     Options
	logger   *logrus.Logger
	central  device.Central
	scanner  *scanner.Scanner
	events   *ringchan.RingChannel[Event]
	recorder *telemetry.Recorder

	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	state           State
	closed          bool
	gen             uint64 // bumped by user operations to invalidate in-flight work
	conn            *connection
	lastID          string
	peripherals     *orderedmap.OrderedMap[string, device.PeripheralInfo]
	scanCancel      context.CancelFunc
	scanDone        chan struct{}
	connectCancel   context.CancelFunc
	reconnectCancel context.CancelFunc
	reconnectDone   chan struct{}
}

// New creates a manager, opening the BLE central through devicefactory.
func New(opts Options, logger *logrus.Logger) (*Manager, error) {
	if logger == nil {
		logger = logrus.New()
	}
	opts = opts.withFallbacks()

	central, err := devicefactory.NewCentral(logger, opts.Link)
	if err != nil {
		return nil, fmt.Errorf("failed to open BLE central: %w", err)
	}
	sc, err := scanner.NewScanner(logger, central)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		opts:        opts,
		logger:      logger,
		central:     central,
		scanner:     sc,
		events:      ringchan.New[Event](opts.EventBuffer),
		recorder:    telemetry.NewRecorder(opts.SampleHistory, opts.SensorBuffer, logger),
		ctx:         ctx,
		cancel:      cancel,
		peripherals: orderedmap.New[string, device.PeripheralInfo](),
	}

	logger.WithFields(logrus.Fields{
		"service":      device.NormalizeUUID(opts.ServiceUUID),
		"auto_connect": opts.AutoConnect,
		"reconnect":    opts.Reconnect.Enabled,
	}).Debug("Glove manager created")
	return m, nil
}

// StartScanning starts discovery in the background. Every newly seen peripheral
// is reported with EventPeripheralDiscovered. With AutoConnect the first
// peripheral advertising a target name ends the scan and gets connected.
func (m *Manager) StartScanning(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	switch m.state {
	case StateScanning:
		return ErrAlreadyScanning
	case StateReady:
		return device.ErrAlreadyConnected
	case StateConnecting, StateDiscovering, StateReconnecting:
		return &device.ConnectionError{State: device.Busy, Msg: fmt.Sprintf("cannot scan while %s", m.state)}
	}

	scanCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.scanCancel = cancel
	m.scanDone = done
	m.setStateLocked(StateScanning)

	groutine.Go(scanCtx, "glovelink-scan", func(ctx context.Context) {
		defer close(done)
		m.runScan(ctx, done)
	})
	return nil
}

func (m *Manager) runScan(ctx context.Context, done chan struct{}) {
	var autoOnce sync.Once
	opts := &scanner.ScanOptions{
		Duration:   m.opts.ScanDuration,
		Duplicates: m.opts.Duplicates,
		MinRSSI:    m.opts.MinRSSI,
		OnEvent: func(e scanner.DeviceEvent) {
			m.rememberPeripheral(e)
			// Names can arrive in a later advertisement, so updates are matched too.
			if m.opts.AutoConnect && device.MatchesName(e.Peripheral.Name, m.opts.TargetNames) {
				autoOnce.Do(func() {
					id := e.Peripheral.ID
					groutine.Go(m.ctx, "glovelink-auto-connect", func(ctx context.Context) {
						m.logger.WithFields(logrus.Fields{
							"peripheral": id,
							"name":       e.Peripheral.Name,
						}).Info("Target glove found, connecting")
						if err := m.ConnectToPeripheral(ctx, id); err != nil {
							m.logger.WithFields(logrus.Fields{
								"peripheral": id,
								"error":      err,
							}).Warn("Auto-connect failed")
						}
					})
				})
			}
		},
	}

	_, err := m.scanner.Scan(ctx, opts, nil)
	if err != nil {
		m.logger.WithField("error", err).Error("Scan failed")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.scanDone != done {
		return
	}
	m.scanCancel = nil
	m.scanDone = nil
	if m.state == StateScanning {
		m.setStateLocked(StateIdle)
	}
}

func (m *Manager) rememberPeripheral(e scanner.DeviceEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.peripherals.Set(e.Peripheral.ID, e.Peripheral)
	if e.Type == scanner.EventNew {
		m.emitLocked(Event{
			Type:         EventPeripheralDiscovered,
			PeripheralID: e.Peripheral.ID,
			Name:         e.Peripheral.Name,
			RSSI:         e.Peripheral.RSSI,
		})
	}
}

// StopScanning ends a running scan and waits for it to finish.
func (m *Manager) StopScanning() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.state != StateScanning {
		m.mu.Unlock()
		return ErrNotScanning
	}
	done := m.stopScanLocked()
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	if done != nil {
		<-done
	}
	m.logger.Info("Scan stopped")
	return nil
}

// stopScanLocked cancels the running scan and returns its completion channel.
func (m *Manager) stopScanLocked() chan struct{} {
	done := m.scanDone
	if m.scanCancel != nil {
		m.scanCancel()
	}
	m.scanCancel = nil
	m.scanDone = nil
	return done
}

// stopReconnectLocked cancels the reconnect loop and returns its completion channel.
func (m *Manager) stopReconnectLocked() chan struct{} {
	done := m.reconnectDone
	if m.reconnectCancel != nil {
		m.reconnectCancel()
	}
	m.reconnectCancel = nil
	m.reconnectDone = nil
	return done
}

func waitAll(chans ...chan struct{}) {
	for _, c := range chans {
		if c != nil {
			<-c
		}
	}
}

// ConnectToPeripheral dials the peripheral, resolves the glove characteristics and
// subscribes to sensor notifications. A running scan or reconnect loop is stopped first.
func (m *Manager) ConnectToPeripheral(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("peripheral id is empty")
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return device.ErrAlreadyConnected
	case StateConnecting, StateDiscovering:
		m.mu.Unlock()
		return &device.ConnectionError{State: device.Busy, Msg: "connect already in progress"}
	}
	reconnectDone := m.stopReconnectLocked()
	scanDone := m.stopScanLocked()
	m.gen++
	gen := m.gen
	connectCtx, cancel := context.WithCancel(ctx)
	m.connectCancel = cancel
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()
	defer cancel()

	waitAll(reconnectDone, scanDone)

	m.logger.WithField("peripheral", id).Info("Connecting to glove...")
	conn, err := m.establish(connectCtx, gen, id)

	m.mu.Lock()
	if m.gen == gen {
		m.connectCancel = nil
	}
	if err != nil {
		if m.gen == gen && !m.closed {
			m.setStateLocked(StateIdle)
		}
		m.mu.Unlock()
		m.logger.WithFields(logrus.Fields{
			"peripheral": id,
			"error":      err,
		}).Error("Failed to connect")
		return err
	}
	if m.gen != gen || m.closed {
		m.mu.Unlock()
		m.teardown(conn)
		return fmt.Errorf("connect to %s canceled: %w", id, context.Canceled)
	}
	m.installLocked(conn)
	m.mu.Unlock()
	return nil
}

// establish dials id and resolves the glove profile. The returned connection is not installed yet.
func (m *Manager) establish(ctx context.Context, gen uint64, id string) (*connection, error) {
	dialCtx, cancel := context.WithTimeout(ctx, m.opts.ConnectTimeout)
	defer cancel()

	link, err := m.central.Dial(dialCtx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", id, err)
	}
	m.transition(gen, StateConnecting, StateDiscovering)

	command, err := link.Characteristic(m.opts.ServiceUUID, m.opts.CommandUUID)
	if err == nil && !command.Properties().CanWrite() {
		err = fmt.Errorf("characteristic %s is not writable: %w", command.UUID(), device.ErrUnsupported)
	}
	if err != nil {
		if dErr := link.Disconnect(); dErr != nil {
			m.logger.WithField("error", dErr).Warn("Failed to release link after discovery failure")
		}
		return nil, fmt.Errorf("glove command characteristic: %w", err)
	}

	conn := &connection{
		link:    link,
		info:    m.peripheralInfo(id),
		command: command,
		session: uuid.NewString(),
		done:    make(chan struct{}),
	}
	conn.breaker = m.newBreaker(conn)
	if m.opts.MaxFrameRate > 0 {
		conn.limiter = rate.NewLimiter(rate.Limit(m.opts.MaxFrameRate), m.opts.FrameBurst)
	}

	sensor, err := link.Characteristic(m.opts.ServiceUUID, m.opts.SensorUUID)
	switch {
	case err != nil:
		m.logger.WithFields(logrus.Fields{
			"peripheral": id,
			"error":      err,
		}).Warn("Sensor characteristic not found, telemetry disabled")
	case !sensor.Properties().CanNotify():
		conn.sensor = sensor
		m.logger.WithField("properties", sensor.Properties().String()).Warn("Sensor characteristic cannot notify, read-only telemetry")
	default:
		conn.sensor = sensor
		if err := link.Subscribe(m.opts.ServiceUUID, m.opts.SensorUUID, m.sensorHandler(id)); err != nil {
			m.logger.WithFields(logrus.Fields{
				"peripheral": id,
				"error":      err,
			}).Warn("Failed to subscribe to sensor notifications")
		}
	}

	return conn, nil
}

func (m *Manager) sensorHandler(id string) func([]byte) {
	return func(data []byte) {
		sample := m.recorder.Record(data)
		m.emit(Event{
			Type:         EventSensorData,
			PeripheralID: id,
			Data:         sample.Data,
			Seq:          sample.Seq,
		})
	}
}

// newBreaker trips after FailureThreshold consecutive write failures; the trip
// declares the link lost. OnStateChange runs under the breaker lock, so the
// teardown happens on its own goroutine.
func (m *Manager) newBreaker(conn *connection) *gobreaker.CircuitBreaker[struct{}] {
	threshold := m.opts.FailureThreshold
	return gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "glove-write-" + conn.info.ID,
		MaxRequests: 1,
		Timeout:     time.Hour,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Debug("Write breaker state changed")
			if to == gobreaker.StateOpen {
				groutine.Go(m.ctx, "glovelink-link-unhealthy", func(context.Context) {
					m.connectionLost(conn, ErrLinkUnhealthy)
				})
			}
		},
	})
}

func (m *Manager) peripheralInfo(id string) device.PeripheralInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.peripherals.Get(id); ok {
		return info
	}
	return device.PeripheralInfo{ID: id, Address: id}
}

// installLocked makes conn the active connection and starts its link monitor.
func (m *Manager) installLocked(conn *connection) {
	m.conn = conn
	m.lastID = conn.info.ID
	m.setStateLocked(StateReady)
	m.emitLocked(Event{
		Type:         EventConnected,
		PeripheralID: conn.info.ID,
		Name:         conn.info.Name,
		RSSI:         conn.info.RSSI,
	})

	m.logger.WithFields(logrus.Fields{
		"peripheral": conn.info.ID,
		"name":       conn.info.DisplayName(),
		"session":    conn.session,
		"sensor":     conn.sensor != nil,
	}).Info("Glove connected")

	groutine.Go(m.ctx, "glovelink-link-monitor", func(ctx context.Context) {
		select {
		case <-conn.link.Disconnected():
			m.connectionLost(conn, ErrLinkLost)
		case <-conn.done:
		case <-ctx.Done():
		}
	})
}

// connectionLost handles a link that went away without a user Disconnect.
// Stale notifications for a connection that is no longer active are ignored.
func (m *Manager) connectionLost(conn *connection, cause error) {
	m.mu.Lock()
	if m.conn != conn || m.closed {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	conn.stop()

	m.logger.WithFields(logrus.Fields{
		"peripheral": conn.info.ID,
		"session":    conn.session,
		"cause":      cause,
	}).Warn("Glove connection lost")

	m.emitLocked(Event{
		Type:         EventDisconnected,
		PeripheralID: conn.info.ID,
		Name:         conn.info.Name,
		Err:          cause,
	})
	if m.opts.Reconnect.Enabled {
		m.setStateLocked(StateReconnecting)
		m.startReconnectLocked(conn.info.ID)
	} else {
		m.setStateLocked(StateIdle)
	}
	m.mu.Unlock()

	m.teardown(conn)
}

// teardown releases the link of a connection that is no longer installed.
func (m *Manager) teardown(conn *connection) {
	conn.stop()
	if conn.sensor != nil {
		if err := conn.link.Unsubscribe(m.opts.ServiceUUID, m.opts.SensorUUID); err != nil {
			m.logger.WithField("error", err).Debug("Unsubscribe during teardown failed")
		}
	}
	if err := conn.link.Disconnect(); err != nil {
		m.logger.WithFields(logrus.Fields{
			"peripheral": conn.info.ID,
			"error":      err,
		}).Debug("Link disconnect during teardown failed")
	}
}

// Disconnect tears down the link, stops scanning and cancels any reconnect loop.
// The manager ends Idle and does not reconnect. Disconnecting while idle is a no-op.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	reconnectDone := m.stopReconnectLocked()
	scanDone := m.stopScanLocked()
	if m.connectCancel != nil {
		m.connectCancel()
		m.connectCancel = nil
	}
	conn := m.conn
	m.conn = nil
	if conn != nil {
		conn.stop()
		m.emitLocked(Event{
			Type:         EventDisconnected,
			PeripheralID: conn.info.ID,
			Name:         conn.info.Name,
		})
	}
	m.setStateLocked(StateIdle)
	m.mu.Unlock()

	// Background scans release the scanner before Disconnect returns.
	waitAll(reconnectDone, scanDone)
	if conn == nil {
		return nil
	}

	m.logger.WithField("peripheral", conn.info.ID).Info("Disconnecting glove...")
	if conn.sensor != nil {
		if err := conn.link.Unsubscribe(m.opts.ServiceUUID, m.opts.SensorUUID); err != nil {
			m.logger.WithField("error", err).Warn("Failed to unsubscribe from sensor notifications")
		}
	}
	if err := conn.link.Disconnect(); err != nil {
		return fmt.Errorf("failed to disconnect %s: %w", conn.info.ID, err)
	}
	return nil
}

// SendHapticData writes an opaque payload to the command characteristic.
func (m *Manager) SendHapticData(data []byte) error {
	if len(data) == 0 {
		return ErrEmptyPayload
	}

	m.mu.Lock()
	conn, state, closed := m.conn, m.state, m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil || state != StateReady {
		return device.ErrNotConnected
	}

	if conn.limiter != nil && !conn.limiter.Allow() {
		return ErrRateLimited
	}

	_, err := conn.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, conn.link.Write(m.opts.ServiceUUID, m.opts.CommandUUID, data, m.opts.WriteWithResponse)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %v", ErrLinkUnhealthy, err)
		}
		m.logger.WithFields(logrus.Fields{
			"peripheral": conn.info.ID,
			"failures":   conn.breaker.Counts().ConsecutiveFailures,
			"error":      err,
		}).Warn("Haptic write failed")
		return fmt.Errorf("failed to send haptic data: %w", err)
	}
	return nil
}

// Ready reports whether a glove is connected and writable.
func (m *Manager) Ready() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateReady && m.conn != nil
}

// ReadSensor reads the sensor characteristic value directly.
func (m *Manager) ReadSensor(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return nil, device.ErrNotConnected
	}
	if conn.sensor == nil {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{m.opts.ServiceUUID, m.opts.SensorUUID}}
	}
	data, err := conn.link.Read(ctx, m.opts.ServiceUUID, m.opts.SensorUUID)
	if err != nil {
		return nil, fmt.Errorf("failed to read sensor: %w", err)
	}
	return data, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ConnectedPeripheral returns the connected peripheral, if any.
func (m *Manager) ConnectedPeripheral() (device.PeripheralInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return device.PeripheralInfo{}, false
	}
	return m.conn.info, true
}

// CommandCharacteristic returns the resolved command characteristic or nil.
func (m *Manager) CommandCharacteristic() device.Characteristic {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.command
}

// SensorCharacteristic returns the resolved sensor characteristic or nil.
func (m *Manager) SensorCharacteristic() device.Characteristic {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return nil
	}
	return m.conn.sensor
}

// Session identifies the current connection; it changes on every (re)connect.
func (m *Manager) Session() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return ""
	}
	return m.conn.session
}

// Peripherals returns every peripheral discovered so far, in discovery order.
func (m *Manager) Peripherals() []device.PeripheralInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]device.PeripheralInfo, 0, m.peripherals.Len())
	for pair := m.peripherals.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Events returns the event stream. The oldest events are dropped when the
// consumer falls behind. The channel is closed by Close.
func (m *Manager) Events() <-chan Event {
	return m.events.C()
}

// Telemetry returns the sensor recorder.
func (m *Manager) Telemetry() *telemetry.Recorder {
	return m.recorder
}

// Close disconnects, stops all background work and closes the event stream.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.gen++
	reconnectDone := m.stopReconnectLocked()
	scanDone := m.stopScanLocked()
	if m.connectCancel != nil {
		m.connectCancel()
		m.connectCancel = nil
	}
	conn := m.conn
	m.conn = nil
	if conn != nil {
		m.emitLocked(Event{Type: EventDisconnected, PeripheralID: conn.info.ID, Name: conn.info.Name})
	}
	m.setStateLocked(StateIdle)
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	waitAll(reconnectDone, scanDone)
	if conn != nil {
		m.teardown(conn)
	}
	if stopper, ok := m.central.(interface{ Stop() error }); ok {
		if err := stopper.Stop(); err != nil {
			m.logger.WithField("error", err).Debug("Failed to stop BLE central")
		}
	}
	m.scanner.Close()
	m.events.Close()
	m.logger.Debug("Glove manager closed")
	return nil
}

// transition moves from -> to only if no user operation intervened.
func (m *Manager) transition(gen uint64, from, to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen && m.state == from {
		m.setStateLocked(to)
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	prev := m.state
	m.state = s
	m.logger.WithFields(logrus.Fields{
		"from": prev.String(),
		"to":   s.String(),
	}).Debug("State changed")
	m.emitLocked(Event{Type: EventStateChanged, State: s})
}

func (m *Manager) emit(e Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emitLocked(e)
}

func (m *Manager) emitLocked(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if m.events.Send(e) {
		m.logger.WithField("event", e.Type.String()).Debug("Event buffer full, dropped oldest event")
	}
}
