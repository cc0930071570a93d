package device

import (
	"fmt"
	"strings"
)

// Properties is the GATT characteristic properties bit field.
// Bit values follow the Bluetooth Core specification (Vol 3, Part G, 3.3.1.1).
type Properties uint8

const (
	PropBroadcast Properties = 1 << iota
	PropRead
	PropWriteWithoutResponse
	PropWrite
	PropNotify
	PropIndicate
	PropAuthenticatedSignedWrites
	PropExtendedProperties
)

var propertyNames = []struct {
	prop Properties
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write-without-response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropAuthenticatedSignedWrites, "authenticated-signed-writes"},
	{PropExtendedProperties, "extended-properties"},
}

// Has reports whether all bits of p are set.
func (ps Properties) Has(p Properties) bool {
	return ps&p == p
}

// CanWrite reports whether the characteristic accepts writes with or without response.
func (ps Properties) CanWrite() bool {
	return ps&(PropWrite|PropWriteWithoutResponse) != 0
}

// CanNotify reports whether the characteristic can push values via notify or indicate.
func (ps Properties) CanNotify() bool {
	return ps&(PropNotify|PropIndicate) != 0
}

// String renders the set properties as a comma-separated list, e.g. "read,notify".
func (ps Properties) String() string {
	if ps == 0 {
		return "none"
	}
	names := make([]string, 0, len(propertyNames))
	for _, pn := range propertyNames {
		if ps.Has(pn.prop) {
			names = append(names, pn.name)
		}
	}
	return strings.Join(names, ",")
}

// ParseProperties parses a comma-separated list such as "read,write,notify".
// Both "write-without-response" and the short "writenr" alias are accepted.
func ParseProperties(s string) (Properties, error) {
	var result Properties
	for _, part := range strings.Split(s, ",") {
		name := strings.ToLower(strings.TrimSpace(part))
		if name == "" {
			continue
		}
		if name == "writenr" {
			result |= PropWriteWithoutResponse
			continue
		}
		found := false
		for _, pn := range propertyNames {
			if pn.name == name {
				result |= pn.prop
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", part)
		}
	}
	return result, nil
}
