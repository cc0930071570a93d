package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/feltsight/glovelink/haptics"
	"github.com/feltsight/glovelink/internal/config"
	"github.com/feltsight/glovelink/internal/groutine"
	"github.com/feltsight/glovelink/streamer"
	"github.com/spf13/cobra"
)

var streamCmd = &cobra.Command{
	Use:   "stream <peripheral-id>",
	Short: "Stream haptic frames to a glove at a fixed rate",
	Long: `Connect to a glove and send a frame every --interval until Ctrl+C or
--duration elapses.

Modes:
  intensity  44-byte frames with every finger and the pattern at --intensity
  channel    32-byte channel frames driven by a simulated circular hand motion
             at --velocity m/s, mapped to playback speed and volume`,
	Example: `  glovelink stream AA:BB:CC:DD:EE:FF --intensity 0.4 --duration 5s
  glovelink stream AA:BB:CC:DD:EE:FF --mode channel --velocity 0.2`,
	Args: cobra.ExactArgs(1),
	RunE: runStream,
}

var (
	streamMode      string
	streamIntensity float32
	streamVelocity  float64
	streamInterval  time.Duration
	streamDuration  time.Duration
)

// motionRadius is the radius of the simulated hand motion in metres.
const motionRadius = 0.05

func init() {
	streamCmd.Flags().StringVarP(&streamMode, "mode", "m", "intensity", "Frame mode (intensity, channel)")
	streamCmd.Flags().Float32Var(&streamIntensity, "intensity", 0.5, "Intensity 0..1 in intensity mode")
	streamCmd.Flags().Float64Var(&streamVelocity, "velocity", 0.15, "Simulated hand speed in m/s in channel mode")
	streamCmd.Flags().DurationVar(&streamInterval, "interval", 0, "Frame interval (default from config)")
	streamCmd.Flags().DurationVarP(&streamDuration, "duration", "d", 0, "Stop after this long (0 runs until Ctrl+C)")
}

func runStream(cmd *cobra.Command, args []string) error {
	if streamMode != "intensity" && streamMode != "channel" {
		return fmt.Errorf("invalid mode '%s': must be one of [intensity channel]", streamMode)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	interval := cfg.Stream.Interval
	if streamInterval > 0 {
		interval = streamInterval
	}

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	m, err := connectTo(ctx, cfg, logger, args[0])
	if err != nil {
		return err
	}
	defer m.Close()

	if streamDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, streamDuration)
		defer cancel()
	}

	var source streamer.Source
	switch streamMode {
	case "channel":
		channels := streamer.NewChannelSource(speedMapper(cfg), cfg.Stream.Smoothing)
		groutine.Go(ctx, "glovelink-motion", func(ctx context.Context) {
			simulateMotion(ctx, channels, streamVelocity, interval)
		})
		source = channels
	default:
		state := streamer.NewHapticState()
		state.SetPattern(streamIntensity)
		for _, hand := range []haptics.Hand{haptics.Left, haptics.Right} {
			if err := state.SetHand(hand, streamIntensity, streamIntensity, streamIntensity, streamIntensity, streamIntensity); err != nil {
				return err
			}
		}
		source = state
	}

	s := streamer.New(m, source, interval, logger)
	if err := s.Run(ctx); err != nil {
		return err
	}

	newStatusPrinter(cmd.OutOrStdout()).Successf("stream stopped: %s", s.Stats())
	return m.Disconnect()
}

func speedMapper(cfg *config.Config) haptics.SpeedMapper {
	mapper := haptics.DefaultSpeedMapper()
	mapper.MinVelocity = cfg.Stream.MinVelocity
	mapper.MaxVelocity = cfg.Stream.MaxVelocity
	mapper.MuteBelow = cfg.Stream.MuteBelow
	mapper.Multiplier = cfg.Stream.Multiplier
	mapper.NormalVolume = byte(cfg.Stream.Volume)
	return mapper
}

// simulateMotion moves a tracked point on a circle at the given speed.
func simulateMotion(ctx context.Context, channels *streamer.ChannelSource, velocity float64, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	omega := velocity / motionRadius
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			angle := omega * now.Sub(start).Seconds()
			channels.Track(haptics.Vec3{motionRadius * math.Cos(angle), motionRadius * math.Sin(angle), 0}, now)
		}
	}
}
