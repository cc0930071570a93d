package manager

import (
	"errors"
	"time"
)

var (
	ErrClosed          = errors.New("manager is closed")
	ErrAlreadyScanning = errors.New("already scanning")
	ErrNotScanning     = errors.New("not scanning")
	ErrEmptyPayload    = errors.New("haptic payload is empty")
	ErrRateLimited     = errors.New("haptic frame dropped: rate limit exceeded")
	ErrLinkUnhealthy   = errors.New("link unhealthy: consecutive write failures")
	ErrLinkLost        = errors.New("peripheral dropped the connection")
)

// State is the manager's connection state.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateDiscovering
	StateReady
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateDiscovering:
		return "discovering"
	case StateReady:
		return "ready"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

type EventType int

const (
	EventPeripheralDiscovered EventType = iota
	EventConnected
	EventDisconnected
	EventSensorData
	EventStateChanged
	EventReconnectFailed
)

func (t EventType) String() string {
	switch t {
	case EventPeripheralDiscovered:
		return "peripheral_discovered"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventSensorData:
		return "sensor_data"
	case EventStateChanged:
		return "state_changed"
	case EventReconnectFailed:
		return "reconnect_failed"
	default:
		return "unknown"
	}
}

// Event is delivered to the host through Manager.Events.
// Only the fields relevant to Type are set.
type Event struct {
	Type         EventType
	Time         time.Time
	PeripheralID string
	Name         string
	RSSI         int
	Data         []byte // sensor payload
	State        State  // new state
	Err          error  // disconnect cause, nil when user-initiated
	Seq          uint64 // sensor sample sequence
}
