package inspector_test

import (
	"context"
	"errors"
	"testing"

	"github.com/feltsight/glovelink/inspector"
	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gloveAddr = "AA:BB:CC:DD:EE:FF"

func TestInspectDevice_LifecycleAndPhases(t *testing.T) {
	// GOAL: the link is dialed, handed to the callback and released afterwards
	//
	// TEST SCENARIO: inspect a mock glove → phases reported in order → link disconnected once
	helper := testutils.NewTestHelper(t)
	central := testutils.NewMockCentral().WithPeripheral(testutils.NewGlovePeripheral(gloveAddr))

	var phases []string
	addr, err := inspector.InspectDevice(context.Background(), central, gloveAddr, nil, helper.Logger,
		func(phase string) { phases = append(phases, phase) },
		func(_ context.Context, link device.Link) (string, error) {
			return link.Address(), nil
		})

	require.NoError(t, err)
	assert.Equal(t, gloveAddr, addr)
	assert.Equal(t, []string{"Connecting", "Connected", "Processing results"}, phases)

	link := central.LastLink()
	require.NotNil(t, link)
	assert.Equal(t, 1, link.DisconnectCalls(), "MUST disconnect after the callback")
}

func TestInspectDevice_DialFailure(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	central := testutils.NewMockCentral()

	var phases []string
	called := false
	_, err := inspector.InspectDevice(context.Background(), central, gloveAddr, nil, helper.Logger,
		func(phase string) { phases = append(phases, phase) },
		func(context.Context, device.Link) (struct{}, error) {
			called = true
			return struct{}{}, nil
		})

	require.Error(t, err)
	assert.ErrorIs(t, err, device.ErrTimeout)
	assert.False(t, called, "MUST NOT run the callback without a link")
	assert.Equal(t, []string{"Connecting", "Failed"}, phases)
}

func TestInspectDevice_CallbackErrorStillDisconnects(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	central := testutils.NewMockCentral().WithPeripheral(testutils.NewGlovePeripheral(gloveAddr))
	boom := errors.New("boom")

	_, err := inspector.InspectDevice(context.Background(), central, gloveAddr, nil, helper.Logger, nil,
		func(context.Context, device.Link) (int, error) { return 0, boom })

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, central.LastLink().DisconnectCalls(), "MUST disconnect even when the callback fails")
}

func TestReadProfile_Glove(t *testing.T) {
	// GOAL: a glove profile is classified as compatible with named services and decoded values
	//
	// TEST SCENARIO: glove with battery service → roles assigned → battery level decoded
	helper := testutils.NewTestHelper(t)
	link := testutils.NewGlovePeripheral(gloveAddr).Build()

	profile := inspector.ReadProfile(context.Background(), link, nil, helper.Logger)

	assert.Equal(t, gloveAddr, profile.Address)
	assert.True(t, profile.Glove.Compatible)
	assert.True(t, profile.Glove.Command)
	assert.True(t, profile.Glove.Sensor)
	assert.Empty(t, profile.Glove.Problems)

	require.Len(t, profile.Services, 2)
	battery := profile.Services[0]
	assert.Equal(t, "180f", battery.UUID)
	assert.Equal(t, "Battery Service", battery.Name)
	require.Len(t, battery.Characteristics, 1)
	assert.Equal(t, "Battery Level", battery.Characteristics[0].Name)
	assert.Equal(t, "57", battery.Characteristics[0].ValueHex)
	assert.Equal(t, 87, battery.Characteristics[0].Value)

	glove := profile.Services[1]
	assert.Equal(t, device.GloveServiceUUID, glove.UUID)
	require.Len(t, glove.Characteristics, 2)
	assert.Equal(t, inspector.RoleCommand, glove.Characteristics[0].Role)
	assert.Equal(t, "write-without-response,write", glove.Characteristics[0].Properties)
	assert.Empty(t, glove.Characteristics[0].ValueHex, "MUST NOT read a write-only characteristic")
	assert.Equal(t, inspector.RoleSensor, glove.Characteristics[1].Role)
	assert.Equal(t, "00", glove.Characteristics[1].ValueHex)
}

func TestReadProfile_Compatibility(t *testing.T) {
	tests := []struct {
		name       string
		builder    *testutils.PeripheralBuilder
		compatible bool
		sensor     bool
		problems   []string
	}{
		{
			name: "command only",
			builder: testutils.NewPeripheralBuilder().WithAddress(gloveAddr).
				WithService(device.GloveServiceUUID).
				WithCharacteristic(device.GloveCommandUUID, "write", nil),
			compatible: true,
		},
		{
			name: "read-only command",
			builder: testutils.NewPeripheralBuilder().WithAddress(gloveAddr).
				WithService(device.GloveServiceUUID).
				WithCharacteristic(device.GloveCommandUUID, "read", nil).
				WithCharacteristic(device.GloveSensorUUID, "notify", nil),
			sensor:   true,
			problems: []string{"command characteristic is not writable"},
		},
		{
			name: "sensor without notify",
			builder: testutils.NewPeripheralBuilder().WithAddress(gloveAddr).
				WithService(device.GloveServiceUUID).
				WithCharacteristic(device.GloveCommandUUID, "write", nil).
				WithCharacteristic(device.GloveSensorUUID, "read", nil),
			compatible: true,
			problems:   []string{"sensor characteristic does not notify"},
		},
		{
			name: "no command and a sensor without notify",
			builder: testutils.NewPeripheralBuilder().WithAddress(gloveAddr).
				WithService(device.GloveServiceUUID).
				WithCharacteristic(device.GloveSensorUUID, "read", nil),
			problems: []string{"sensor characteristic does not notify", "command characteristic not found"},
		},
		{
			name: "not a glove",
			builder: testutils.NewPeripheralBuilder().WithAddress(gloveAddr).
				WithService("180D").
				WithCharacteristic("2A37", "notify", nil),
			problems: []string{"command characteristic not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			profile := inspector.ReadProfile(context.Background(), tt.builder.Build(), nil, nil)

			assert.Equal(t, tt.compatible, profile.Glove.Compatible)
			assert.Equal(t, tt.sensor, profile.Glove.Sensor)
			assert.Equal(t, tt.problems, profile.Glove.Problems)
		})
	}
}

func TestReadProfile_ReadBehaviour(t *testing.T) {
	t.Run("reads disabled", func(t *testing.T) {
		opts := inspector.DefaultInspectOptions()
		opts.ReadLimit = 0
		profile := inspector.ReadProfile(context.Background(), testutils.NewGlovePeripheral(gloveAddr).Build(), opts, nil)

		for _, svc := range profile.Services {
			for _, c := range svc.Characteristics {
				assert.Empty(t, c.ValueHex, "MUST NOT read when the read limit is 0")
			}
		}
	})

	t.Run("values are truncated", func(t *testing.T) {
		opts := inspector.DefaultInspectOptions()
		opts.ReadLimit = 2
		link := testutils.NewPeripheralBuilder().WithAddress(gloveAddr).
			WithService("180A").
			WithCharacteristic("2A29", "read", []byte("FeltSight")).
			Build()

		profile := inspector.ReadProfile(context.Background(), link, opts, nil)

		c := profile.Services[0].Characteristics[0]
		assert.Equal(t, "4665", c.ValueHex)
		assert.Equal(t, "FeltSight", c.Value, "MUST decode the full value")
	})

	t.Run("read errors are recorded", func(t *testing.T) {
		link := testutils.NewGlovePeripheral(gloveAddr).Build()
		link.FailReads(errors.New("insufficient authentication"))

		profile := inspector.ReadProfile(context.Background(), link, nil, nil)

		assert.True(t, profile.Glove.Compatible, "MUST classify the profile despite read errors")
		assert.Equal(t, "insufficient authentication", profile.Services[0].Characteristics[0].ReadError)
	})
}
