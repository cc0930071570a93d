package devicefactory

import (
	"github.com/feltsight/glovelink/internal/device"
	goble "github.com/feltsight/glovelink/internal/device/go-ble"
	"github.com/sirupsen/logrus"
)

// Options configures centrals created by CentralFactory.
type Options = goble.LinkOptions

// CentralFactory creates device.Central instances for scanning and connecting.
// This is a variable so that it can be overridden in tests.
var CentralFactory = func(logger *logrus.Logger, opts Options) (device.Central, error) {
	central, err := goble.NewCentral(logger, opts)
	if err != nil {
		return nil, err
	}
	return central, nil
}

// NewCentral creates a central through CentralFactory.
func NewCentral(logger *logrus.Logger, opts Options) (device.Central, error) {
	return CentralFactory(logger, opts)
}
