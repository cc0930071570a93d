package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"unicode"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// formatVersion adds 'v' prefix if version starts with a digit
func formatVersion(ver string) string {
	if len(ver) > 0 && unicode.IsDigit(rune(ver[0])) {
		return "v" + ver
	}
	return ver
}

var rootCmd = &cobra.Command{
	Use:   "glovelink",
	Short: "BLE link tool for FeltSight haptic gloves",
	Long: `glovelink discovers, connects to and drives FeltSight haptic gloves over
Bluetooth Low Energy:

- Scan for nearby gloves and other BLE peripherals
- Connect to a glove, watch its state and sensor notifications
- Send raw haptic frames to the command characteristic
- Inspect a peripheral's GATT profile and check glove compatibility
- Stream intensity or channel frames at a fixed rate

Settings come from an optional YAML file (--config); see "glovelink config show".`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", formatVersion(version), commit, date),
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Ctrl+C is a normal exit
		if errors.Is(err, context.Canceled) {
			return
		}
		fmt.Fprintf(os.Stderr, "ERROR: %s\n", formatUserError(err))
		os.Exit(1)
	}
}

func init() {
	rootCmd.SilenceErrors = true

	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(streamCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("config", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable debug logging")
}
