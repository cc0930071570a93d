package main

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/feltsight/glovelink/haptics"
	"github.com/spf13/cobra"
)

var sendCmd = &cobra.Command{
	Use:   "send <peripheral-id> [hex-payload]",
	Short: "Send a haptic frame to a glove",
	Long: `Connect to a glove, write one payload to its command characteristic and
disconnect.

The payload is either given as hex (spaces, colons and a 0x prefix are
ignored) or built from --pattern, --left and --right as a 44-byte intensity
frame.`,
	Example: `  glovelink send AA:BB:CC:DD:EE:FF fe01320a...ff
  glovelink send AA:BB:CC:DD:EE:FF --pattern 0.5 --left 1,0,0,0,1`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSend,
}

var (
	sendPattern  float32
	sendLeft     []float32
	sendRight    []float32
	sendRepeat   int
	sendInterval time.Duration
	sendDescribe bool
)

func init() {
	sendCmd.Flags().Float32Var(&sendPattern, "pattern", 0, "Pattern intensity 0..1 for an intensity frame")
	sendCmd.Flags().Float32SliceVar(&sendLeft, "left", nil, "Left finger intensities 0..1 (thumb first)")
	sendCmd.Flags().Float32SliceVar(&sendRight, "right", nil, "Right finger intensities 0..1 (thumb first)")
	sendCmd.Flags().IntVarP(&sendRepeat, "repeat", "n", 1, "Number of times to send the payload")
	sendCmd.Flags().DurationVar(&sendInterval, "interval", 20*time.Millisecond, "Pause between repeated sends")
	sendCmd.Flags().BoolVar(&sendDescribe, "describe", false, "Print the decoded channel frame before sending")
}

func runSend(cmd *cobra.Command, args []string) error {
	var (
		payload []byte
		err     error
	)
	if len(args) == 2 {
		payload, err = parseHexPayload(args[1])
	} else {
		payload, err = buildIntensityFrame(sendPattern, sendLeft, sendRight)
	}
	if err != nil {
		return err
	}
	if sendRepeat < 1 {
		return fmt.Errorf("--repeat must be at least 1, got %d", sendRepeat)
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	out := cmd.OutOrStdout()
	if sendDescribe {
		fmt.Fprintln(out, haptics.Describe(payload))
	}

	m, err := connectTo(ctx, cfg, logger, args[0])
	if err != nil {
		return err
	}
	defer m.Close()

	for i := 0; i < sendRepeat; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(sendInterval):
			}
		}
		if err := m.SendHapticData(payload); err != nil {
			return err
		}
	}

	newStatusPrinter(out).Successf("sent %d bytes to %s (%d times)", len(payload), args[0], sendRepeat)
	return m.Disconnect()
}

func parseHexPayload(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	s = strings.NewReplacer(" ", "", ":", "", "-", "").Replace(s)
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid hex payload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	return data, nil
}

func buildIntensityFrame(pattern float32, left, right []float32) ([]byte, error) {
	var s haptics.State
	s.SetPattern(pattern)
	if err := s.SetHand(haptics.Left, left...); err != nil {
		return nil, fmt.Errorf("--left: %w", err)
	}
	if err := s.SetHand(haptics.Right, right...); err != nil {
		return nil, fmt.Errorf("--right: %w", err)
	}
	return haptics.EncodeFrame(s), nil
}
