package goble

import (
	"sort"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/go-ble/ble"
)

// BLEService represents a discovered GATT service and its characteristics
type BLEService struct {
	uuid            string
	characteristics map[string]*BLECharacteristic
}

func (s *BLEService) UUID() string {
	return s.uuid
}

func (s *BLEService) Characteristics() []device.Characteristic {
	result := make([]device.Characteristic, 0, len(s.characteristics))
	for _, char := range s.characteristics {
		result = append(result, char)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UUID() < result[j].UUID()
	})
	return result
}

// BLECharacteristic is a discovered characteristic with its live go-ble handle
type BLECharacteristic struct {
	uuid  string
	props device.Properties
	raw   *ble.Characteristic
}

func newCharacteristic(c *ble.Characteristic) *BLECharacteristic {
	return &BLECharacteristic{
		uuid:  device.NormalizeUUID(c.UUID.String()),
		props: NewProperties(c.Property),
		raw:   c,
	}
}

func (c *BLECharacteristic) UUID() string                  { return c.uuid }
func (c *BLECharacteristic) Properties() device.Properties { return c.props }
