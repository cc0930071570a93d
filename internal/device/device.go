package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// NotFoundError represents an error when a GATT resource is not found on a peripheral
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // One or more UUIDs (e.g., [serviceUUID] or [serviceUUID, charUUID])
}

func (e *NotFoundError) Error() string {
	if len(e.UUIDs) == 0 {
		return fmt.Sprintf("%s not found", e.Resource)
	}
	if len(e.UUIDs) == 1 {
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	}
	return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
	Busy             ConnectionState = "busy"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

// Predefined sentinel errors for connection states
var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
	ErrBusy             = &ConnectionError{State: Busy}
)

// Operation errors
var (
	ErrTimeout      = errors.New("timeout")
	ErrUnsupported  = errors.New("unsupported")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
)

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// ContainsIgnoreCase checks substring case-insensitively
func ContainsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Central is the BLE central role: it scans for advertisements and dials peripherals.
type Central interface {
	Scan(ctx context.Context, allowDup bool, handler func(Advertisement)) error
	Dial(ctx context.Context, address string) (Link, error)
}

type Advertisement interface {
	LocalName() string
	ManufacturerData() []byte
	ServiceData() []ServiceData

	Services() []string
	TxPowerLevel() int
	Connectable() bool

	RSSI() int
	Addr() string
}

// ServiceData is a service-data AD element: the service UUID and its payload.
type ServiceData struct {
	UUID string
	Data []byte
}

// Link is a live GATT connection to a peripheral with its profile already discovered.
type Link interface {
	Address() string
	Services() []Service
	Characteristic(service, uuid string) (Characteristic, error)

	Read(ctx context.Context, service, uuid string) ([]byte, error)
	Write(service, uuid string, data []byte, withResponse bool) error
	Subscribe(service, uuid string, handler func([]byte)) error
	Unsubscribe(service, uuid string) error

	// Disconnected is closed once the peripheral is gone, whoever initiated it.
	Disconnected() <-chan struct{}
	Disconnect() error
}

// Service represents a discovered GATT service
type Service interface {
	UUID() string
	Characteristics() []Characteristic
}

// Characteristic represents discovered characteristic metadata
type Characteristic interface {
	UUID() string
	Properties() Properties
}
