package main

import (
	"errors"
	"fmt"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/manager"
)

// Command-level errors
var (
	// ErrConnectionLost is returned when the glove link drops and is not restored.
	ErrConnectionLost = errors.New("connection lost")
)

// formatUserError turns library errors into short hints for the terminal.
func formatUserError(err error) string {
	var nf *device.NotFoundError
	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off; enable it and try again"
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%v (is the glove powered on and in range?)", err)
	case errors.As(err, &nf):
		return fmt.Sprintf("%v (is this a FeltSight glove? check link.*_uuid in the config)", err)
	case errors.Is(err, manager.ErrLinkUnhealthy):
		return fmt.Sprintf("%v (the glove stopped accepting writes)", err)
	default:
		return err.Error()
	}
}
