package bledb

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

type valueDecoder func([]byte) (any, error)

func decodeString(b []byte) (any, error) {
	if !utf8.Valid(b) {
		return nil, fmt.Errorf("value is not valid UTF-8")
	}
	return strings.TrimRight(string(b), "\x00"), nil
}

func decodeBatteryLevel(b []byte) (any, error) {
	if len(b) != 1 {
		return nil, fmt.Errorf("battery level must be 1 byte, got %d", len(b))
	}
	if b[0] > 100 {
		return nil, fmt.Errorf("battery level %d out of range", b[0])
	}
	return int(b[0]), nil
}

var decoders = map[string]valueDecoder{
	"2a00": decodeString,
	"2a19": decodeBatteryLevel,
	"2a24": decodeString,
	"2a25": decodeString,
	"2a26": decodeString,
	"2a27": decodeString,
	"2a29": decodeString,
}

// DecodeValue parses the value of a well-known characteristic.
// Unknown characteristics and empty values yield (nil, nil).
func DecodeValue(uuid string, value []byte) (any, error) {
	decode, ok := decoders[NormalizeUUID(uuid)]
	if !ok || len(value) == 0 {
		return nil, nil
	}
	return decode(value)
}
