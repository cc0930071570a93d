//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/go-ble/ble"
)

func newPlatformDevice() (ble.Device, error) {
	return nil, fmt.Errorf("%w: no BLE central on %s", device.ErrUnsupported, runtime.GOOS)
}
