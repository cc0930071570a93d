package manager

import (
	"testing"
	"time"

	"github.com/feltsight/glovelink/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Reconnect.MaxAttempts = 7
	cfg.Link.ChunkSize = 20

	opts := OptionsFromConfig(cfg)

	assert.Equal(t, cfg.Link.CommandUUID, opts.CommandUUID)
	assert.Equal(t, cfg.Scan.TargetNames, opts.TargetNames)
	assert.Equal(t, 7, opts.Reconnect.MaxAttempts)
	assert.Equal(t, 20, opts.Link.ChunkSize)

	opts.TargetNames[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Scan.TargetNames[0], "MUST NOT share the target name slice with the config")
}

func TestWithFallbacks(t *testing.T) {
	d := DefaultOptions()

	tests := []struct {
		name   string
		in     Options
		verify func(t *testing.T, o Options)
	}{
		{
			name: "zero options take defaults",
			in:   Options{},
			verify: func(t *testing.T, o Options) {
				assert.Equal(t, d.ServiceUUID, o.ServiceUUID)
				assert.Equal(t, d.ConnectTimeout, o.ConnectTimeout)
				assert.Equal(t, d.FailureThreshold, o.FailureThreshold)
				assert.Equal(t, d.EventBuffer, o.EventBuffer)
				assert.Equal(t, float64(1), o.Reconnect.Multiplier)
				assert.Equal(t, o.Reconnect.Interval, o.Reconnect.ScanWindow, "MUST scan for one interval by default")
			},
		},
		{
			name: "pacing without burst gets burst of one",
			in:   Options{MaxFrameRate: 30},
			verify: func(t *testing.T, o Options) {
				assert.Equal(t, 1, o.FrameBurst)
			},
		},
		{
			name: "max interval never below interval",
			in:   Options{Reconnect: ReconnectPolicy{Interval: time.Second, MaxInterval: time.Millisecond}},
			verify: func(t *testing.T, o Options) {
				assert.Equal(t, time.Second, o.Reconnect.MaxInterval)
			},
		},
		{
			name: "explicit values are kept",
			in:   Options{CommandUUID: "abcd", FailureThreshold: 9, Reconnect: ReconnectPolicy{Interval: time.Second, ScanWindow: 5 * time.Second}},
			verify: func(t *testing.T, o Options) {
				assert.Equal(t, "abcd", o.CommandUUID)
				assert.Equal(t, uint32(9), o.FailureThreshold)
				assert.Equal(t, 5*time.Second, o.Reconnect.ScanWindow)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.verify(t, tt.in.withFallbacks())
		})
	}
}

func TestBackOffFollowsPolicy(t *testing.T) {
	m := &Manager{opts: Options{Reconnect: ReconnectPolicy{
		Interval:    100 * time.Millisecond,
		MaxInterval: 300 * time.Millisecond,
		Multiplier:  2,
	}}}

	b := m.newBackOff()

	var waits []time.Duration
	for i := 0; i < 4; i++ {
		waits = append(waits, b.NextBackOff())
	}
	require.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		300 * time.Millisecond,
		300 * time.Millisecond,
	}, waits, "MUST grow by the multiplier and cap at the max interval")
}

func TestStateAndEventNames(t *testing.T) {
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "reconnecting", StateReconnecting.String())
	assert.Equal(t, "unknown", State(99).String())
	assert.Equal(t, "sensor_data", EventSensorData.String())
	assert.Equal(t, "reconnect_failed", EventReconnectFailed.String())
}
