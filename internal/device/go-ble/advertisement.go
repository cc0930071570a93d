package goble

import (
	"github.com/feltsight/glovelink/internal/device"
	"github.com/go-ble/ble"
)

// BLEAdvertisement wraps ble.Advertisement to implement device.Advertisement interface
type BLEAdvertisement struct {
	adv ble.Advertisement
}

// NewBLEAdvertisement creates a new BLEAdvertisement wrapper
func NewBLEAdvertisement(adv ble.Advertisement) device.Advertisement {
	return &BLEAdvertisement{adv: adv}
}

func (a *BLEAdvertisement) LocalName() string        { return a.adv.LocalName() }
func (a *BLEAdvertisement) ManufacturerData() []byte { return a.adv.ManufacturerData() }
func (a *BLEAdvertisement) TxPowerLevel() int        { return a.adv.TxPowerLevel() }
func (a *BLEAdvertisement) Connectable() bool        { return a.adv.Connectable() }
func (a *BLEAdvertisement) RSSI() int                { return a.adv.RSSI() }

func (a *BLEAdvertisement) Addr() string {
	if a.adv.Addr() == nil {
		return ""
	}
	return a.adv.Addr().String()
}

func (a *BLEAdvertisement) ServiceData() []device.ServiceData {
	bleServiceData := a.adv.ServiceData()
	result := make([]device.ServiceData, len(bleServiceData))
	for i, sd := range bleServiceData {
		result[i] = device.ServiceData{UUID: sd.UUID.String(), Data: sd.Data}
	}
	return result
}

// Services merges complete and overflow service lists; the glove advertises its
// 128-bit service in the overflow area on macOS.
func (a *BLEAdvertisement) Services() []string {
	bleServices := append(append([]ble.UUID(nil), a.adv.Services()...), a.adv.OverflowService()...)
	result := make([]string, len(bleServices))
	for i, svc := range bleServices {
		result[i] = svc.String()
	}
	return result
}
