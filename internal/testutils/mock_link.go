package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/feltsight/glovelink/internal/device"
)

type mockCharacteristic struct {
	uuid  string
	props device.Properties
}

func (c *mockCharacteristic) UUID() string                  { return c.uuid }
func (c *mockCharacteristic) Properties() device.Properties { return c.props }

type mockService struct {
	uuid  string
	chars []*mockCharacteristic
}

func (s *mockService) UUID() string { return s.uuid }

func (s *mockService) Characteristics() []device.Characteristic {
	out := make([]device.Characteristic, 0, len(s.chars))
	for _, c := range s.chars {
		out = append(out, c)
	}
	return out
}

func charKey(service, uuid string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(uuid)
}

// MockLink is an in-memory device.Link. It records writes, lets tests push
// notifications and simulate a peripheral-side drop.
type MockLink struct {
	address  string
	services []*mockService

	mu         sync.Mutex
	values     map[string][]byte
	handlers   map[string]func([]byte)
	writes     map[string][][]byte
	writeOrder [][]byte
	writeErr   error
	failWrites int // remaining failing writes, negative fails forever
	readErr    error

	disconnectCalls int
	done            chan struct{}
	closeOnce       sync.Once
}

func (l *MockLink) Address() string { return l.address }

func (l *MockLink) Services() []device.Service {
	out := make([]device.Service, 0, len(l.services))
	for _, s := range l.services {
		out = append(out, s)
	}
	return out
}

func (l *MockLink) Characteristic(service, uuid string) (device.Characteristic, error) {
	return l.lookup(service, uuid)
}

func (l *MockLink) lookup(service, uuid string) (*mockCharacteristic, error) {
	svcUUID := device.NormalizeUUID(service)
	for _, s := range l.services {
		if s.uuid != svcUUID {
			continue
		}
		for _, c := range s.chars {
			if c.uuid == device.NormalizeUUID(uuid) {
				return c, nil
			}
		}
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{service, uuid}}
	}
	return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{service}}
}

func (l *MockLink) Read(ctx context.Context, service, uuid string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", device.ErrTimeout, err)
	}
	if l.IsClosed() {
		return nil, device.ErrNotConnected
	}
	char, err := l.lookup(service, uuid)
	if err != nil {
		return nil, err
	}
	if !char.props.Has(device.PropRead) {
		return nil, fmt.Errorf("characteristic %s is not readable: %w", char.uuid, device.ErrUnsupported)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.readErr != nil {
		return nil, l.readErr
	}
	return append([]byte(nil), l.values[charKey(service, uuid)]...), nil
}

func (l *MockLink) Write(service, uuid string, data []byte, withResponse bool) error {
	if l.IsClosed() {
		return device.ErrNotConnected
	}
	char, err := l.lookup(service, uuid)
	if err != nil {
		return err
	}
	if !char.props.CanWrite() {
		return fmt.Errorf("characteristic %s is not writable: %w", char.uuid, device.ErrUnsupported)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failWrites != 0 {
		if l.failWrites > 0 {
			l.failWrites--
		}
		return l.writeErr
	}
	payload := append([]byte(nil), data...)
	key := charKey(service, uuid)
	l.writes[key] = append(l.writes[key], payload)
	l.writeOrder = append(l.writeOrder, payload)
	l.values[key] = payload
	return nil
}

func (l *MockLink) Subscribe(service, uuid string, handler func([]byte)) error {
	if l.IsClosed() {
		return device.ErrNotConnected
	}
	char, err := l.lookup(service, uuid)
	if err != nil {
		return err
	}
	if !char.props.CanNotify() {
		return fmt.Errorf("characteristic %s does not support notifications: %w", char.uuid, device.ErrUnsupported)
	}

	l.mu.Lock()
	l.handlers[charKey(service, uuid)] = handler
	l.mu.Unlock()
	return nil
}

func (l *MockLink) Unsubscribe(service, uuid string) error {
	l.mu.Lock()
	delete(l.handlers, charKey(service, uuid))
	l.mu.Unlock()
	return nil
}

func (l *MockLink) Disconnected() <-chan struct{} {
	return l.done
}

func (l *MockLink) Disconnect() error {
	l.mu.Lock()
	l.disconnectCalls++
	l.handlers = make(map[string]func([]byte))
	l.mu.Unlock()
	l.close()
	return nil
}

func (l *MockLink) close() {
	l.closeOnce.Do(func() { close(l.done) })
}

// Drop simulates the peripheral going away without a local Disconnect.
func (l *MockLink) Drop() {
	l.close()
}

// IsClosed reports whether the link was dropped or disconnected.
func (l *MockLink) IsClosed() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// FailWrites makes the next times writes return err; times < 0 fails every write.
func (l *MockLink) FailWrites(err error, times int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.writeErr = err
	l.failWrites = times
}

// FailReads makes every read return err until cleared with nil.
func (l *MockLink) FailReads(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readErr = err
}

// SetValue replaces the stored characteristic value returned by Read.
func (l *MockLink) SetValue(service, uuid string, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values[charKey(service, uuid)] = append([]byte(nil), data...)
}

// Notify delivers data to the subscriber of the characteristic.
// Returns false when nobody is subscribed.
func (l *MockLink) Notify(service, uuid string, data []byte) bool {
	l.mu.Lock()
	handler, ok := l.handlers[charKey(service, uuid)]
	l.mu.Unlock()
	if !ok {
		return false
	}
	handler(data)
	return true
}

// Subscribed reports whether a handler is registered for the characteristic.
func (l *MockLink) Subscribed(service, uuid string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.handlers[charKey(service, uuid)]
	return ok
}

// Writes returns the payloads written to the characteristic, oldest first.
func (l *MockLink) Writes(service, uuid string) [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([][]byte(nil), l.writes[charKey(service, uuid)]...)
}

// WriteCount returns the number of successful writes across all characteristics.
func (l *MockLink) WriteCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.writeOrder)
}

func (l *MockLink) DisconnectCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.disconnectCalls
}

// PeripheralBuilder describes a mock peripheral's GATT profile. Every Build
// returns a fresh MockLink, the way each dial yields a new connection.
type PeripheralBuilder struct {
	address  string
	services []serviceSpec
}

type serviceSpec struct {
	UUID            string     `json:"uuid"`
	Characteristics []charSpec `json:"characteristics"`
}

type charSpec struct {
	UUID       string `json:"uuid"`
	Properties string `json:"properties"`
	Value      []byte `json:"value"`
}

func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{}
}

func (b *PeripheralBuilder) WithAddress(address string) *PeripheralBuilder {
	b.address = address
	return b
}

func (b *PeripheralBuilder) Address() string {
	return b.address
}

// WithService appends a service; following WithCharacteristic calls attach to it.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.services = append(b.services, serviceSpec{UUID: uuid})
	return b
}

// WithCharacteristic adds a characteristic to the last added service.
func (b *PeripheralBuilder) WithCharacteristic(uuid, properties string, value []byte) *PeripheralBuilder {
	if len(b.services) == 0 {
		panic("WithCharacteristic: add a service first")
	}
	last := &b.services[len(b.services)-1]
	last.Characteristics = append(last.Characteristics, charSpec{UUID: uuid, Properties: properties, Value: value})
	return b
}

// FromJSON appends the services of a {"address": ..., "services": [...]} profile.
// Panics on invalid JSON as this is intended for test data setup.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	var profile struct {
		Address  string        `json:"address"`
		Services []serviceSpec `json:"services"`
	}
	if err := json.Unmarshal([]byte(fmt.Sprintf(jsonStrFmt, args...)), &profile); err != nil {
		panic(fmt.Sprintf("FromJSON: %v", err))
	}
	if profile.Address != "" {
		b.address = profile.Address
	}
	b.services = append(b.services, profile.Services...)
	return b
}

// Build creates a connected MockLink with the configured profile.
func (b *PeripheralBuilder) Build() *MockLink {
	link := &MockLink{
		address:  b.address,
		values:   make(map[string][]byte),
		handlers: make(map[string]func([]byte)),
		writes:   make(map[string][][]byte),
		done:     make(chan struct{}),
	}

	for _, svc := range b.services {
		ms := &mockService{uuid: device.NormalizeUUID(svc.UUID)}
		for _, c := range svc.Characteristics {
			props, err := device.ParseProperties(c.Properties)
			if err != nil {
				panic(fmt.Sprintf("characteristic %s: %v", c.UUID, err))
			}
			ms.chars = append(ms.chars, &mockCharacteristic{uuid: device.NormalizeUUID(c.UUID), props: props})
			if c.Value != nil {
				link.values[charKey(svc.UUID, c.UUID)] = append([]byte(nil), c.Value...)
			}
		}
		link.services = append(link.services, ms)
	}
	sort.Slice(link.services, func(i, j int) bool {
		return link.services[i].uuid < link.services[j].uuid
	})
	return link
}
