// Package bledb names the GATT services and characteristics a glove and its
// usual neighbours expose, for human-readable profile dumps.
package bledb

import (
	"strings"

	"github.com/feltsight/glovelink/internal/device"
)

var services = map[string]string{
	"1800":                             "Generic Access",
	"1801":                             "Generic Attribute",
	"180a":                             "Device Information",
	"180d":                             "Heart Rate",
	"180f":                             "Battery Service",
	"1812":                             "Human Interface Device",
	"fe59":                             "Nordic DFU",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART (glove)",
}

var characteristics = map[string]string{
	"2a00":                             "Device Name",
	"2a01":                             "Appearance",
	"2a05":                             "Service Changed",
	"2a19":                             "Battery Level",
	"2a24":                             "Model Number String",
	"2a25":                             "Serial Number String",
	"2a26":                             "Firmware Revision String",
	"2a27":                             "Hardware Revision String",
	"2a29":                             "Manufacturer Name String",
	"2a37":                             "Heart Rate Measurement",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Glove Command (RX)",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Glove Sensor (TX)",
}

// NormalizeUUID extends device.NormalizeUUID with brace stripping ("{...}" GUID notation).
func NormalizeUUID(uuid string) string {
	u := strings.TrimSpace(uuid)
	u = strings.TrimSuffix(strings.TrimPrefix(u, "{"), "}")
	return device.NormalizeUUID(u)
}

// LookupService returns the service name or "" when unknown.
func LookupService(uuid string) string {
	return services[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the characteristic name or "" when unknown.
func LookupCharacteristic(uuid string) string {
	return characteristics[NormalizeUUID(uuid)]
}
