package main

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/feltsight/glovelink/haptics"
	"github.com/feltsight/glovelink/internal/config"
	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/manager"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHexPayload(t *testing.T) {
	tests := []struct {
		in      string
		want    []byte
		wantErr bool
	}{
		{in: "010203", want: []byte{1, 2, 3}},
		{in: "0xFE FF", want: []byte{0xfe, 0xff}},
		{in: "aa:bb-cc", want: []byte{0xaa, 0xbb, 0xcc}},
		{in: "abc", wantErr: true},
		{in: "zz", wantErr: true},
		{in: "0x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseHexPayload(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildIntensityFrame(t *testing.T) {
	frame, err := buildIntensityFrame(0.2, []float32{1}, []float32{0, 0.5})
	require.NoError(t, err)
	require.Len(t, frame, haptics.FrameSize)

	s, err := haptics.DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, float32(0.2), s.Pattern)
	assert.Equal(t, float32(1), s.Left[0])
	assert.Equal(t, float32(0.5), s.Right[1])

	_, err = buildIntensityFrame(0, make([]float32, 6), nil)
	assert.ErrorIs(t, err, haptics.ErrFingerIndex)
}

func TestFormatUserError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: device.ErrBluetoothOff, want: "Bluetooth is turned off"},
		{err: fmt.Errorf("dial: %w", device.ErrTimeout), want: "in range"},
		{err: &device.NotFoundError{Resource: "service", UUIDs: []string{"1234"}}, want: "FeltSight glove"},
		{err: manager.ErrLinkUnhealthy, want: "stopped accepting writes"},
		{err: errors.New("plain"), want: "plain"},
	}
	for _, tt := range tests {
		assert.Contains(t, formatUserError(tt.err), tt.want)
	}
}

func TestConfigureLogger(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{}
		cmd.Flags().String("log-level", "", "")
		cmd.Flags().String("config", "", "")
		cmd.Flags().Bool("verbose", false, "")
		return cmd
	}

	cmd := newCmd()
	logger, err := configureLogger(cmd, config.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, logrus.ErrorLevel, logger.GetLevel(), "MUST stay quiet without flags or config")

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Set("verbose", "true"))
	logger, err = configureLogger(cmd, config.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Set("verbose", "true"))
	require.NoError(t, cmd.Flags().Set("log-level", "warn"))
	logger, err = configureLogger(cmd, config.DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, logrus.WarnLevel, logger.GetLevel(), "MUST prefer --log-level over --verbose")

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Set("log-level", "loud"))
	_, err = configureLogger(cmd, config.DefaultConfig())
	assert.ErrorContains(t, err, "invalid log level")
}

func TestStatusPrinterPlainOutput(t *testing.T) {
	var buf bytes.Buffer
	p := newStatusPrinter(&buf)

	p.Event(manager.Event{Type: manager.EventConnected, PeripheralID: "AA", Name: "FeltSight BLE"})
	p.Event(manager.Event{Type: manager.EventDisconnected, PeripheralID: "AA", Err: manager.ErrLinkLost})
	p.Event(manager.Event{Type: manager.EventSensorData, Seq: 7, Data: []byte{0xca, 0xfe}})
	p.Event(manager.Event{Type: manager.EventStateChanged, State: manager.StateReconnecting})

	assert.Equal(t, "connected to FeltSight BLE (AA)\n"+
		"disconnected from AA: peripheral dropped the connection\n"+
		"sensor #7: cafe\n"+
		"state: reconnecting\n", buf.String(), "MUST NOT emit color codes when not writing to a terminal")
}
