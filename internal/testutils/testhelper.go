package testutils

import (
	"testing"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/sirupsen/logrus"
)

type TestHelper struct {
	T      *testing.T
	Logger *logrus.Logger
}

// NewTestHelper creates a test helper with a debug-level logger.
func NewTestHelper(t *testing.T) *TestHelper {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel) // enable debug logs to track execution flow
	return &TestHelper{
		T:      t,
		Logger: logger,
	}
}

// GloveProfileJSON is the GATT profile of a glove: the UART-style service with a
// writable command characteristic and a notifying sensor characteristic.
const GloveProfileJSON = `{
	"services": [
		{
			"uuid": "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			"characteristics": [
				{ "uuid": "6e400002-b5a3-f393-e0a9-e50e24dcca9e", "properties": "write,writenr" },
				{ "uuid": "6e400003-b5a3-f393-e0a9-e50e24dcca9e", "properties": "read,notify", "value": [0] }
			]
		},
		{
			"uuid": "180F",
			"characteristics": [
				{ "uuid": "2A19", "properties": "read,notify", "value": [87] }
			]
		}
	]
}`

// NewGlovePeripheral returns a builder for a glove reachable at address.
func NewGlovePeripheral(address string) *PeripheralBuilder {
	return NewPeripheralBuilder().WithAddress(address).FromJSON(GloveProfileJSON)
}

// NewGloveAdvertisement builds the advertisement a glove broadcasts.
func NewGloveAdvertisement(address, name string, rssi int) *MockAdvertisement {
	return NewAdvertisementBuilder().
		WithAddress(address).
		WithName(name).
		WithRSSI(rssi).
		WithServices(device.GloveServiceUUID).
		Build()
}

func CreateMockAdvertisement(name, address string, rssi int) *AdvertisementBuilder {
	return NewAdvertisementBuilder().WithName(name).WithAddress(address).WithRSSI(rssi)
}
