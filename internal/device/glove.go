package device

import "strings"

// Glove GATT profile. The glove firmware exposes a Nordic UART style service:
// the central writes commands to RX and receives sensor frames from TX.
const (
	GloveServiceUUID = "6e400001b5a3f393e0a9e50e24dcca9e"
	GloveCommandUUID = "6e400002b5a3f393e0a9e50e24dcca9e" // RX, write
	GloveSensorUUID  = "6e400003b5a3f393e0a9e50e24dcca9e" // TX, notify
)

// DefaultTargetNames lists the advertised names of known glove firmware builds.
var DefaultTargetNames = []string{"ESP32-BLE", "FeltSight BLE"}

// ParseNameList splits a comma-separated name list, trimming blanks and dropping empty entries.
func ParseNameList(s string) []string {
	var names []string
	for _, part := range strings.Split(s, ",") {
		if name := strings.TrimSpace(part); name != "" {
			names = append(names, name)
		}
	}
	return names
}

// MatchesName reports whether name equals one of targets, ignoring case and surrounding blanks.
func MatchesName(name string, targets []string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	for _, t := range targets {
		if strings.EqualFold(name, strings.TrimSpace(t)) {
			return true
		}
	}
	return false
}
