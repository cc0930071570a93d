package device_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionError_Is(t *testing.T) {
	wrapped := fmt.Errorf("connect: %w", &device.ConnectionError{State: device.Busy, Msg: "dial in progress"})

	assert.True(t, errors.Is(wrapped, device.ErrBusy), "MUST match by state")
	assert.False(t, errors.Is(wrapped, device.ErrNotConnected), "MUST NOT match a different state")
	assert.True(t, device.IsConnectionState(wrapped, device.Busy))
	assert.False(t, device.IsConnectionState(errors.New("plain"), device.Busy))
	assert.Equal(t, "busy: dial in progress", errors.Unwrap(wrapped).Error())
	assert.Equal(t, "not_connected", device.ErrNotConnected.Error())
}

func TestNotFoundError(t *testing.T) {
	tests := []struct {
		name     string
		err      *device.NotFoundError
		expected string
	}{
		{"no uuids", &device.NotFoundError{Resource: "service"}, "service not found"},
		{"service", &device.NotFoundError{Resource: "service", UUIDs: []string{"180d"}}, `service "180d" not found`},
		{"characteristic", &device.NotFoundError{Resource: "characteristic", UUIDs: []string{"180d", "2a37"}}, `characteristic "2a37" not found in service "180d"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestProperties(t *testing.T) {
	props, err := device.ParseProperties("read, Write,notify")
	require.NoError(t, err)

	assert.True(t, props.Has(device.PropRead))
	assert.True(t, props.Has(device.PropWrite|device.PropNotify))
	assert.False(t, props.Has(device.PropIndicate))
	assert.True(t, props.CanWrite())
	assert.True(t, props.CanNotify())
	assert.Equal(t, "read,write,notify", props.String())

	nr, err := device.ParseProperties("writenr")
	require.NoError(t, err)
	assert.Equal(t, device.PropWriteWithoutResponse, nr)
	assert.True(t, nr.CanWrite())
	assert.False(t, nr.CanNotify())

	assert.Equal(t, "none", device.Properties(0).String())

	_, err = device.ParseProperties("read,teleport")
	assert.ErrorContains(t, err, "teleport")
}

func TestPeripheral_FromAdvertisement(t *testing.T) {
	adv := testutils.NewAdvertisementBuilder().
		WithAddress("AA:BB:CC:DD:EE:FF").
		WithName("FeltSight BLE").
		WithRSSI(-48).
		WithServices("6E400001-B5A3-F393-E0A9-E50E24DCCA9E", "180F").
		WithServiceData("180F", []byte{90}).
		WithTxPower(4).
		Build()

	info := device.NewPeripheral(adv).Info()

	assert.Equal(t, "AA:BB:CC:DD:EE:FF", info.ID)
	assert.Equal(t, "FeltSight BLE", info.DisplayName())
	assert.Equal(t, -48, info.RSSI)
	assert.True(t, info.Connectable)
	assert.Equal(t, []string{"180f", device.GloveServiceUUID}, info.Services, "services MUST be normalized and sorted")
	assert.True(t, info.HasService("6e400001-b5a3-f393-e0a9-e50e24dcca9e"))
	assert.Equal(t, []byte{90}, info.ServiceData["180f"])
	require.NotNil(t, info.TxPower)
	assert.Equal(t, 4, *info.TxPower)
}

func TestPeripheral_Update(t *testing.T) {
	p := device.NewPeripheral(testutils.NewAdvertisementBuilder().
		WithAddress("11:22:33:44:55:66").
		WithRSSI(-80).
		WithManufacturerData([]byte{0x59, 0x00, 'G', 'l', 'o', 'v', 'e', 0x01}).
		Build())

	first := p.Info()
	assert.Equal(t, "Glove", first.Name, "name MUST fall back to manufacturer data")
	assert.Nil(t, first.TxPower, "TX power MUST be absent when not advertised")

	p.Update(testutils.NewAdvertisementBuilder().
		WithAddress("11:22:33:44:55:66").
		WithName("ESP32-BLE").
		WithRSSI(-60).
		WithServices("180A").
		Build())

	second := p.Info()
	assert.Equal(t, "ESP32-BLE", second.Name)
	assert.Equal(t, -60, second.RSSI)
	assert.Equal(t, []string{"180a"}, second.Services)
	assert.False(t, second.LastSeen.Before(first.LastSeen))
	assert.Equal(t, first.FirstSeen, second.FirstSeen)
}

func TestPeripheral_InfoIsACopy(t *testing.T) {
	p := device.NewPeripheral(testutils.NewAdvertisementBuilder().
		WithAddress("11:22:33:44:55:66").
		WithServices("180F").
		Build())

	info := p.Info()
	info.Services[0] = "mutated"

	assert.Equal(t, []string{"180f"}, p.Info().Services)
}

func TestNameMatching(t *testing.T) {
	targets := device.ParseNameList(" ESP32-BLE , FeltSight BLE,, ")
	assert.Equal(t, []string{"ESP32-BLE", "FeltSight BLE"}, targets)

	assert.True(t, device.MatchesName("feltsight ble", targets))
	assert.True(t, device.MatchesName(" ESP32-BLE", targets))
	assert.False(t, device.MatchesName("ESP32", targets))
	assert.False(t, device.MatchesName("", targets))
}
