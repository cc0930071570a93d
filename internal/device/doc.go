// Package device defines the BLE central abstractions used by the glove link:
// advertisements, peripherals, GATT links and characteristics, together with
// the typed errors every layer above returns.
//
// Concrete implementations live in subpackages (go-ble) and test doubles in
// internal/testutils; nothing here talks to a radio.
package device
