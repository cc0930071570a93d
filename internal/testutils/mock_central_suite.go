//go:build test

package testutils

import (
	"time"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/internal/devicefactory"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/suite"
)

// MockCentralSuite is a reusable suite that routes devicefactory through a MockCentral.
//
//	type ManagerSuite struct {
//	    testutils.MockCentralSuite
//	}
//
//	func (s *ManagerSuite) SetupTest() {
//	    s.WithCentral().
//	        WithAdvertisements(testutils.NewGloveAdvertisement("AA:BB:CC:DD:EE:FF", "FeltSight BLE", -40)).
//	        WithPeripheral(testutils.NewGlovePeripheral("AA:BB:CC:DD:EE:FF"))
//
//	    s.MockCentralSuite.SetupTest() // call parent last to apply configuration
//	}
type MockCentralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Central     *MockCentral
	TestTimeout time.Duration

	originalFactory func(*logrus.Logger, devicefactory.Options) (device.Central, error)
}

func (s *MockCentralSuite) SetupSuite() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger
	s.TestTimeout = 5 * time.Second

	s.originalFactory = devicefactory.CentralFactory
	s.T().Cleanup(func() {
		if s.originalFactory != nil {
			devicefactory.CentralFactory = s.originalFactory
		}
	})
}

// SetupTest installs the mock central before each test.
func (s *MockCentralSuite) SetupTest() {
	central := s.WithCentral()
	devicefactory.CentralFactory = func(*logrus.Logger, devicefactory.Options) (device.Central, error) {
		return central, nil
	}
}

func (s *MockCentralSuite) TearDownTest() {
	if s.originalFactory != nil {
		devicefactory.CentralFactory = s.originalFactory
	}
	s.Central = nil
}

// WithCentral returns the mock central for fluent configuration, creating it on first use.
func (s *MockCentralSuite) WithCentral() *MockCentral {
	if s.Central == nil {
		s.Central = NewMockCentral()
	}
	return s.Central
}
