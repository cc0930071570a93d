//go:build linux

package goble

import (
	"github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

// newPlatformDevice opens the default HCI adapter (hci0). Requires CAP_NET_ADMIN.
func newPlatformDevice() (ble.Device, error) {
	dev, err := linux.NewDevice()
	if err != nil {
		return nil, err
	}
	return dev, nil
}
