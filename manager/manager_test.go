//go:build test

package manager_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/internal/testutils"
	"github.com/feltsight/glovelink/manager"
	suitelib "github.com/stretchr/testify/suite"
)

const (
	gloveAddr = "AA:BB:CC:DD:EE:FF"
	otherAddr = "66:55:44:33:22:11"
)

// ManagerTestSuite drives the manager against a MockCentral.
//
// GOAL: verify the connection lifecycle, the write path and reconnection
// without touching a real BLE adapter.
type ManagerTestSuite struct {
	testutils.MockCentralSuite
}

func (suite *ManagerTestSuite) SetupTest() {
	suite.WithCentral().
		WithAdvertisements(
			testutils.NewGloveAdvertisement(gloveAddr, "FeltSight BLE", -42),
			testutils.CreateMockAdvertisement("Heart Rate Strap", otherAddr, -60).WithServices("180D").Build(),
		).
		WithPeripheral(testutils.NewGlovePeripheral(gloveAddr))

	suite.MockCentralSuite.SetupTest()
}

func (suite *ManagerTestSuite) options() manager.Options {
	opts := manager.DefaultOptions()
	opts.AutoConnect = false
	opts.ScanDuration = 0
	opts.ConnectTimeout = time.Second
	opts.MaxFrameRate = 0
	opts.Reconnect = manager.ReconnectPolicy{
		Enabled:     true,
		Interval:    10 * time.Millisecond,
		MaxInterval: 20 * time.Millisecond,
		Multiplier:  1,
		ScanWindow:  30 * time.Millisecond,
	}
	return opts
}

func (suite *ManagerTestSuite) newManager(opts manager.Options) *manager.Manager {
	m, err := manager.New(opts, suite.Logger)
	suite.Require().NoError(err, "MUST create manager through the central factory")
	suite.T().Cleanup(func() { _ = m.Close() })
	return m
}

func (suite *ManagerTestSuite) connect(m *manager.Manager) *testutils.MockLink {
	err := m.ConnectToPeripheral(context.Background(), gloveAddr)
	suite.Require().NoError(err, "MUST connect to the glove")
	link := suite.Central.LastLink()
	suite.Require().NotNil(link)
	return link
}

// waitFor consumes events until one of type t satisfying match arrives.
func (suite *ManagerTestSuite) waitFor(m *manager.Manager, t manager.EventType, match func(manager.Event) bool) manager.Event {
	timeout := time.After(suite.TestTimeout)
	for {
		select {
		case e, ok := <-m.Events():
			suite.Require().True(ok, "event stream closed while waiting for %s", t)
			if e.Type == t && (match == nil || match(e)) {
				return e
			}
		case <-timeout:
			suite.FailNow("timed out waiting for event", "event type: %s", t)
			return manager.Event{}
		}
	}
}

func (suite *ManagerTestSuite) eventuallyState(m *manager.Manager, want manager.State) {
	suite.Eventually(func() bool { return m.State() == want }, suite.TestTimeout, 5*time.Millisecond,
		"MUST reach state %s", want)
}

func (suite *ManagerTestSuite) TestConnectResolvesGloveProfile() {
	m := suite.newManager(suite.options())
	link := suite.connect(m)

	suite.Equal(manager.StateReady, m.State())
	suite.True(m.Ready())
	suite.Require().NotNil(m.CommandCharacteristic(), "MUST resolve the command characteristic")
	suite.Equal(device.GloveCommandUUID, m.CommandCharacteristic().UUID())
	suite.Require().NotNil(m.SensorCharacteristic(), "MUST resolve the sensor characteristic")
	suite.Equal(device.GloveSensorUUID, m.SensorCharacteristic().UUID())
	suite.True(link.Subscribed(device.GloveServiceUUID, device.GloveSensorUUID), "MUST subscribe to sensor notifications")
	suite.NotEmpty(m.Session())

	info, ok := m.ConnectedPeripheral()
	suite.True(ok)
	suite.Equal(gloveAddr, info.ID)

	e := suite.waitFor(m, manager.EventConnected, nil)
	suite.Equal(gloveAddr, e.PeripheralID)
}

func (suite *ManagerTestSuite) TestConnectUnknownPeripheralFails() {
	m := suite.newManager(suite.options())

	err := m.ConnectToPeripheral(context.Background(), "00:00:00:00:00:01")

	suite.ErrorIs(err, device.ErrTimeout)
	suite.Equal(manager.StateIdle, m.State(), "MUST return to idle after a failed connect")
	suite.False(m.Ready())
}

func (suite *ManagerTestSuite) TestConnectRejectsEmptyID() {
	m := suite.newManager(suite.options())
	suite.Error(m.ConnectToPeripheral(context.Background(), "  "))
	suite.Zero(suite.Central.DialCount(""))
}

func (suite *ManagerTestSuite) TestDiscoveryFailures() {
	tests := []struct {
		name    string
		builder *testutils.PeripheralBuilder
		check   func(err error)
	}{
		{
			name: "missing command characteristic",
			builder: testutils.NewPeripheralBuilder().
				WithAddress(gloveAddr).
				WithService(device.GloveServiceUUID).
				WithCharacteristic(device.GloveSensorUUID, "read,notify", nil),
			check: func(err error) {
				var nf *device.NotFoundError
				suite.ErrorAs(err, &nf, "MUST report the missing characteristic")
			},
		},
		{
			name: "missing glove service",
			builder: testutils.NewPeripheralBuilder().
				WithAddress(gloveAddr).
				WithService("180F").
				WithCharacteristic("2A19", "read", nil),
			check: func(err error) {
				var nf *device.NotFoundError
				suite.Require().ErrorAs(err, &nf)
				suite.Equal("service", nf.Resource)
			},
		},
		{
			name: "read-only command characteristic",
			builder: testutils.NewPeripheralBuilder().
				WithAddress(gloveAddr).
				WithService(device.GloveServiceUUID).
				WithCharacteristic(device.GloveCommandUUID, "read", nil),
			check: func(err error) {
				suite.ErrorIs(err, device.ErrUnsupported)
			},
		},
	}

	for _, tt := range tests {
		suite.Run(tt.name, func() {
			suite.Central.WithPeripheral(tt.builder)
			m := suite.newManager(suite.options())

			err := m.ConnectToPeripheral(context.Background(), gloveAddr)

			suite.Require().Error(err)
			tt.check(err)
			suite.Equal(manager.StateIdle, m.State())
			suite.Equal(1, suite.Central.LastLink().DisconnectCalls(), "MUST release the link")
		})
	}
}

func (suite *ManagerTestSuite) TestSensorCharacteristicIsOptional() {
	suite.Central.WithPeripheral(testutils.NewPeripheralBuilder().
		WithAddress(gloveAddr).
		WithService(device.GloveServiceUUID).
		WithCharacteristic(device.GloveCommandUUID, "write,writenr", nil))
	m := suite.newManager(suite.options())
	suite.connect(m)

	suite.Nil(m.SensorCharacteristic())
	suite.NoError(m.SendHapticData([]byte{1}))

	_, err := m.ReadSensor(context.Background())
	var nf *device.NotFoundError
	suite.ErrorAs(err, &nf)
}

func (suite *ManagerTestSuite) TestStateGuards() {
	m := suite.newManager(suite.options())

	suite.ErrorIs(m.StopScanning(), manager.ErrNotScanning)
	suite.ErrorIs(m.SendHapticData([]byte{1}), device.ErrNotConnected)
	_, err := m.ReadSensor(context.Background())
	suite.ErrorIs(err, device.ErrNotConnected)
	suite.NoError(m.Disconnect(), "MUST treat disconnect while idle as a no-op")

	suite.connect(m)

	suite.ErrorIs(m.ConnectToPeripheral(context.Background(), gloveAddr), device.ErrAlreadyConnected)
	suite.ErrorIs(m.StartScanning(context.Background()), device.ErrAlreadyConnected)
	suite.Equal(1, suite.Central.DialCount(gloveAddr))
}

func (suite *ManagerTestSuite) TestSendHapticData() {
	m := suite.newManager(suite.options())
	link := suite.connect(m)

	suite.ErrorIs(m.SendHapticData(nil), manager.ErrEmptyPayload)
	suite.Require().NoError(m.SendHapticData([]byte{0x01, 0x02}))
	suite.Require().NoError(m.SendHapticData([]byte{0x03}))

	suite.Equal([][]byte{{0x01, 0x02}, {0x03}}, link.Writes(device.GloveServiceUUID, device.GloveCommandUUID),
		"MUST write payloads to the command characteristic in order")
}

func (suite *ManagerTestSuite) TestSendHapticDataRateLimited() {
	opts := suite.options()
	opts.MaxFrameRate = 1
	opts.FrameBurst = 2
	m := suite.newManager(opts)
	link := suite.connect(m)

	suite.NoError(m.SendHapticData([]byte{1}))
	suite.NoError(m.SendHapticData([]byte{2}))
	suite.ErrorIs(m.SendHapticData([]byte{3}), manager.ErrRateLimited, "MUST drop frames beyond the burst")
	suite.Equal(2, link.WriteCount())
}

func (suite *ManagerTestSuite) TestWriteFailuresTripLinkAndReconnect() {
	// GOAL: consecutive write failures declare the link unhealthy and trigger a reconnect
	//
	// TEST SCENARIO: every write fails -> after the threshold the link is torn down -> a fresh link is dialed
	opts := suite.options()
	opts.FailureThreshold = 3
	m := suite.newManager(opts)
	link := suite.connect(m)
	firstSession := m.Session()

	writeErr := errors.New("att: write failed")
	link.FailWrites(writeErr, -1)
	for i := 0; i < 3; i++ {
		suite.ErrorIs(m.SendHapticData([]byte{byte(i)}), writeErr)
	}

	e := suite.waitFor(m, manager.EventDisconnected, nil)
	suite.ErrorIs(e.Err, manager.ErrLinkUnhealthy)

	suite.waitFor(m, manager.EventConnected, nil)
	suite.eventuallyState(m, manager.StateReady)
	suite.Len(suite.Central.Links(), 2, "MUST dial a new link")
	suite.Equal(1, link.DisconnectCalls(), "MUST release the unhealthy link")
	suite.NotEqual(firstSession, m.Session())
	suite.NoError(m.SendHapticData([]byte{0xFF}))
}

func (suite *ManagerTestSuite) TestPeripheralDropReconnects() {
	m := suite.newManager(suite.options())
	link := suite.connect(m)

	link.Drop()

	e := suite.waitFor(m, manager.EventDisconnected, nil)
	suite.ErrorIs(e.Err, manager.ErrLinkLost)
	suite.waitFor(m, manager.EventConnected, nil)
	suite.eventuallyState(m, manager.StateReady)
	suite.Equal(2, suite.Central.DialCount(gloveAddr))
}

func (suite *ManagerTestSuite) TestReconnectFallsBackToRescan() {
	// GOAL: when dialing the last peripheral fails the manager rescans and dials what it finds
	//
	// TEST SCENARIO: drop link -> direct dial fails once -> rescan finds the glove -> dial succeeds
	m := suite.newManager(suite.options())
	link := suite.connect(m)
	suite.Central.FailDial(gloveAddr, errors.New("le-connection-abort-by-local"))

	link.Drop()

	suite.waitFor(m, manager.EventConnected, nil)
	suite.eventuallyState(m, manager.StateReady)
	suite.Equal(3, suite.Central.DialCount(gloveAddr))
	suite.GreaterOrEqual(suite.Central.ScanCount(), 1, "MUST rescan after the direct dial failed")
}

func (suite *ManagerTestSuite) TestReconnectGivesUpAfterMaxAttempts() {
	opts := suite.options()
	opts.Reconnect.MaxAttempts = 2
	m := suite.newManager(opts)
	link := suite.connect(m)
	suite.Central.RemovePeripheral(gloveAddr).ClearAdvertisements()

	link.Drop()

	e := suite.waitFor(m, manager.EventReconnectFailed, nil)
	suite.ErrorIs(e.Err, manager.ErrReconnectExhausted)
	suite.Equal(gloveAddr, e.PeripheralID)
	suite.eventuallyState(m, manager.StateIdle)
	suite.Equal(3, suite.Central.DialCount(gloveAddr), "MUST dial once per attempt after the initial connect")
}

func (suite *ManagerTestSuite) TestReconnectDisabled() {
	opts := suite.options()
	opts.Reconnect.Enabled = false
	m := suite.newManager(opts)
	link := suite.connect(m)

	link.Drop()

	suite.waitFor(m, manager.EventDisconnected, nil)
	suite.eventuallyState(m, manager.StateIdle)
	time.Sleep(50 * time.Millisecond)
	suite.Equal(1, suite.Central.DialCount(gloveAddr))
}

func (suite *ManagerTestSuite) TestUserDisconnectNeverReconnects() {
	m := suite.newManager(suite.options())
	link := suite.connect(m)

	suite.Require().NoError(m.Disconnect())

	e := suite.waitFor(m, manager.EventDisconnected, nil)
	suite.NoError(e.Err, "MUST report a user disconnect without a cause")
	suite.Equal(manager.StateIdle, m.State())
	suite.Equal(1, link.DisconnectCalls())
	suite.False(link.Subscribed(device.GloveServiceUUID, device.GloveSensorUUID))

	time.Sleep(50 * time.Millisecond)
	suite.Equal(1, suite.Central.DialCount(gloveAddr), "MUST NOT reconnect after a user disconnect")
	suite.Equal(manager.StateIdle, m.State())
	suite.NoError(m.Disconnect(), "MUST be idempotent")
}

func (suite *ManagerTestSuite) TestScanningReportsPeripherals() {
	m := suite.newManager(suite.options())

	suite.Require().NoError(m.StartScanning(context.Background()))
	suite.ErrorIs(m.StartScanning(context.Background()), manager.ErrAlreadyScanning)

	first := suite.waitFor(m, manager.EventPeripheralDiscovered, nil)
	second := suite.waitFor(m, manager.EventPeripheralDiscovered, nil)
	suite.Equal(gloveAddr, first.PeripheralID)
	suite.Equal("FeltSight BLE", first.Name)
	suite.Equal(otherAddr, second.PeripheralID)

	suite.Require().NoError(m.StopScanning())
	suite.Equal(manager.StateIdle, m.State())

	peripherals := m.Peripherals()
	suite.Require().Len(peripherals, 2)
	suite.Equal(gloveAddr, peripherals[0].ID, "MUST keep discovery order")
	suite.Equal(0, suite.Central.DialCount(gloveAddr), "MUST NOT connect without auto-connect")
}

func (suite *ManagerTestSuite) TestScanEndsAfterDuration() {
	opts := suite.options()
	opts.ScanDuration = 30 * time.Millisecond
	m := suite.newManager(opts)

	suite.Require().NoError(m.StartScanning(context.Background()))
	suite.Equal(manager.StateScanning, m.State())
	suite.eventuallyState(m, manager.StateIdle)
}

func (suite *ManagerTestSuite) TestAutoConnectToTargetGlove() {
	opts := suite.options()
	opts.AutoConnect = true
	m := suite.newManager(opts)

	suite.Require().NoError(m.StartScanning(context.Background()))

	e := suite.waitFor(m, manager.EventConnected, nil)
	suite.Equal(gloveAddr, e.PeripheralID)
	suite.Equal("FeltSight BLE", e.Name, "MUST carry the advertised name")
	suite.eventuallyState(m, manager.StateReady)
	suite.Equal(0, suite.Central.DialCount(otherAddr), "MUST ignore peripherals without a target name")
}

func (suite *ManagerTestSuite) TestSensorNotifications() {
	m := suite.newManager(suite.options())
	link := suite.connect(m)

	suite.Require().True(link.Notify(device.GloveServiceUUID, device.GloveSensorUUID, []byte{0x10, 0x20}))

	e := suite.waitFor(m, manager.EventSensorData, nil)
	suite.Equal([]byte{0x10, 0x20}, e.Data)
	suite.Equal(uint64(1), e.Seq)
	suite.Equal(uint64(1), m.Telemetry().Stats().Recorded)
	suite.Equal(2, m.Telemetry().Stats().Buffered)
}

func (suite *ManagerTestSuite) TestReadSensor() {
	m := suite.newManager(suite.options())
	link := suite.connect(m)
	link.SetValue(device.GloveServiceUUID, device.GloveSensorUUID, []byte{42})

	data, err := m.ReadSensor(context.Background())

	suite.Require().NoError(err)
	suite.Equal([]byte{42}, data)

	link.FailReads(device.ErrTimeout)
	_, err = m.ReadSensor(context.Background())
	suite.ErrorIs(err, device.ErrTimeout)
}

func (suite *ManagerTestSuite) TestClose() {
	m := suite.newManager(suite.options())
	link := suite.connect(m)

	suite.Require().NoError(m.Close())

	suite.True(link.IsClosed(), "MUST disconnect the link")
	suite.ErrorIs(m.SendHapticData([]byte{1}), manager.ErrClosed)
	suite.ErrorIs(m.StartScanning(context.Background()), manager.ErrClosed)
	suite.ErrorIs(m.ConnectToPeripheral(context.Background(), gloveAddr), manager.ErrClosed)
	suite.NoError(m.Close(), "MUST be idempotent")

	for range m.Events() {
	}
}

func (suite *ManagerTestSuite) TestAutoConnectWhenNameArrivesLater() {
	// GOAL: a glove is auto-connected even when its first advertisement carries no name
	//
	// TEST SCENARIO: unnamed advertisement, then the same address with a target name -> dialed once
	suite.Central.ClearAdvertisements().WithAdvertisements(
		testutils.NewAdvertisementBuilder().WithAddress(gloveAddr).WithRSSI(-50).WithServices(device.GloveServiceUUID).Build(),
		testutils.NewGloveAdvertisement(gloveAddr, "FeltSight BLE", -48),
	)
	opts := suite.options()
	opts.AutoConnect = true
	opts.Duplicates = true
	m := suite.newManager(opts)

	suite.Require().NoError(m.StartScanning(context.Background()))

	e := suite.waitFor(m, manager.EventConnected, nil)
	suite.Equal(gloveAddr, e.PeripheralID)
	suite.Equal("FeltSight BLE", e.Name)
	suite.eventuallyState(m, manager.StateReady)
	suite.Equal(1, suite.Central.DialCount(gloveAddr), "MUST dial the glove exactly once")
}

func (suite *ManagerTestSuite) TestFirstReconnectAttemptIsImmediate() {
	// GOAL: the backoff interval applies between attempts, never before the first one
	//
	// TEST SCENARIO: 2s interval -> drop the link -> redial well before the interval elapses
	opts := suite.options()
	opts.Reconnect.Interval = 2 * time.Second
	opts.Reconnect.MaxInterval = 2 * time.Second
	m := suite.newManager(opts)
	link := suite.connect(m)

	start := time.Now()
	link.Drop()

	suite.waitFor(m, manager.EventDisconnected, nil)
	suite.waitFor(m, manager.EventConnected, nil)
	suite.Less(time.Since(start), time.Second, "MUST redial right after the drop")
	suite.Equal(2, suite.Central.DialCount(gloveAddr))
}

func (suite *ManagerTestSuite) TestDisconnectWhileConnectingReleasesLateLink() {
	// GOAL: a dial that completes after Disconnect is torn down instead of installed
	//
	// TEST SCENARIO: slow dial -> Disconnect while connecting -> the late link is closed, state stays Idle
	suite.Central.SlowDial(gloveAddr, 100*time.Millisecond)
	m := suite.newManager(suite.options())

	errCh := make(chan error, 1)
	go func() { errCh <- m.ConnectToPeripheral(context.Background(), gloveAddr) }()
	suite.eventuallyState(m, manager.StateConnecting)
	suite.ErrorIs(m.ConnectToPeripheral(context.Background(), gloveAddr), device.ErrBusy,
		"MUST reject a second connect while one is in flight")

	suite.Require().NoError(m.Disconnect())
	suite.Equal(manager.StateIdle, m.State())

	var err error
	select {
	case err = <-errCh:
	case <-time.After(suite.TestTimeout):
		suite.FailNow("connect did not return")
	}
	suite.ErrorIs(err, context.Canceled)

	link := suite.Central.LastLink()
	suite.Require().NotNil(link, "the slow dial MUST still complete")
	suite.True(link.IsClosed(), "MUST release the link that completed after Disconnect")
	suite.Equal(manager.StateIdle, m.State())
	suite.False(m.Ready())
}

func (suite *ManagerTestSuite) TestDisconnectDuringReconnectReleasesScanner() {
	// GOAL: Disconnect waits for an in-flight reconnect rescan so a new scan can start right away
	//
	// TEST SCENARIO: glove gone -> reconnect loop rescanning -> Disconnect -> StartScanning discovers peripherals
	opts := suite.options()
	opts.Reconnect.ScanWindow = 300 * time.Millisecond
	m := suite.newManager(opts)
	link := suite.connect(m)
	suite.Central.RemovePeripheral(gloveAddr).ClearAdvertisements()

	link.Drop()
	suite.eventuallyState(m, manager.StateReconnecting)
	suite.Eventually(func() bool { return suite.Central.ScanCount() >= 1 }, suite.TestTimeout, 5*time.Millisecond,
		"MUST rescan after the direct dial failed")

	suite.Require().NoError(m.Disconnect())
	suite.Equal(manager.StateIdle, m.State())
	dials := suite.Central.DialCount(gloveAddr)

	suite.Central.WithAdvertisements(testutils.NewGloveAdvertisement(gloveAddr, "FeltSight BLE", -42))
	suite.Require().NoError(m.StartScanning(context.Background()))

	e := suite.waitFor(m, manager.EventPeripheralDiscovered, nil)
	suite.Equal(gloveAddr, e.PeripheralID)
	suite.Equal(manager.StateScanning, m.State(), "MUST keep scanning instead of failing on a busy scanner")
	suite.Require().NoError(m.StopScanning())
	suite.Equal(dials, suite.Central.DialCount(gloveAddr), "MUST NOT dial after Disconnect")
}

func (suite *ManagerTestSuite) TestConnectDuringReconnectTakesOver() {
	// GOAL: a user connect cancels the reconnect loop and no stray link survives
	//
	// TEST SCENARIO: glove gone -> reconnecting -> connect to a spare glove -> Ready on the spare, loop stopped
	const spareAddr = "22:33:44:55:66:77"
	suite.Central.WithPeripheral(testutils.NewGlovePeripheral(spareAddr))
	m := suite.newManager(suite.options())
	link := suite.connect(m)
	suite.Central.RemovePeripheral(gloveAddr).ClearAdvertisements()

	link.Drop()
	suite.eventuallyState(m, manager.StateReconnecting)

	suite.Require().NoError(m.ConnectToPeripheral(context.Background(), spareAddr))
	suite.Equal(manager.StateReady, m.State())
	info, ok := m.ConnectedPeripheral()
	suite.Require().True(ok)
	suite.Equal(spareAddr, info.ID)

	dials := suite.Central.DialCount(gloveAddr)
	time.Sleep(50 * time.Millisecond)
	suite.Equal(dials, suite.Central.DialCount(gloveAddr), "MUST stop the reconnect loop")
	suite.Equal(manager.StateReady, m.State())

	current := suite.Central.LastLink()
	for _, l := range suite.Central.Links() {
		if l != current {
			suite.True(l.IsClosed(), "MUST NOT leak link %s", l.Address())
		}
	}
	suite.False(current.IsClosed())
}

func (suite *ManagerTestSuite) TestSharedReturnsSingleton() {
	manager.ResetShared()
	suite.T().Cleanup(manager.ResetShared)

	first, err := manager.Shared()
	suite.Require().NoError(err)
	second, err := manager.Shared()
	suite.Require().NoError(err)

	suite.Same(first, second, "MUST return the same manager")
}

func TestManagerTestSuite(t *testing.T) {
	suitelib.Run(t, new(ManagerTestSuite))
}
