// Package manager is the BLE central for a FeltSight haptic glove.
//
// A Manager discovers gloves, connects to one, resolves the command and sensor
// characteristics and then accepts haptic frames through SendHapticData. Sensor
// notifications are recorded in a telemetry.Recorder and surfaced as events.
// When the link drops without a Disconnect call the manager reconnects with
// exponential backoff, first dialing the last peripheral and then rescanning.
//
// State machine:
//
//	idle -> scanning -> connecting -> discovering -> ready
//	ready -> reconnecting -> ready | idle
//	any -> idle (Disconnect)
package manager
