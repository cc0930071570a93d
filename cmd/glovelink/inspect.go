package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/feltsight/glovelink/inspector"
	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/internal/devicefactory"
	"github.com/feltsight/glovelink/manager"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <peripheral-id>",
	Short: "Dump the GATT profile of a peripheral and check glove compatibility",
	Long: `Connects to a peripheral, lists its services and characteristics, reads
readable values and reports whether the configured glove command and sensor
characteristics are present and usable.`,
	Example: `  glovelink inspect AA:BB:CC:DD:EE:FF
  glovelink inspect AA:BB:CC:DD:EE:FF --format json --read-limit 0`,
	Args: cobra.ExactArgs(1),
	RunE: runInspect,
}

var (
	inspectFormat      string
	inspectReadLimit   int
	inspectReadTimeout time.Duration
)

func init() {
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "table", "Output format (table, json)")
	inspectCmd.Flags().IntVar(&inspectReadLimit, "read-limit", 64, "Max bytes shown per readable characteristic (0 disables reads)")
	inspectCmd.Flags().DurationVar(&inspectReadTimeout, "read-timeout", 2*time.Second, "Timeout for each characteristic read")
}

func runInspect(cmd *cobra.Command, args []string) error {
	if inspectFormat != "table" && inspectFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", inspectFormat)
	}
	if inspectReadLimit < 0 {
		return fmt.Errorf("invalid read limit %d: must not be negative", inspectReadLimit)
	}
	address := args[0]

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	opts := &inspector.InspectOptions{
		ConnectTimeout: cfg.Link.ConnectTimeout,
		ReadTimeout:    inspectReadTimeout,
		ReadLimit:      inspectReadLimit,
		ServiceUUID:    cfg.Link.ServiceUUID,
		CommandUUID:    cfg.Link.CommandUUID,
		SensorUUID:     cfg.Link.SensorUUID,
	}

	central, err := devicefactory.NewCentral(logger, manager.OptionsFromConfig(cfg).Link)
	if err != nil {
		return fmt.Errorf("failed to open BLE central: %w", err)
	}
	defer func() {
		if stopper, ok := central.(interface{ Stop() error }); ok {
			_ = stopper.Stop()
		}
	}()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := newProgressPrinter(cmd.ErrOrStderr(), fmt.Sprintf("Inspecting %s", address), "Connecting", 0, "Processing results", "Failed")
	if isTerminal(cmd.ErrOrStderr()) {
		progress.Start()
	}
	defer progress.Stop()

	profile, err := inspector.InspectDevice(ctx, central, address, opts, logger, progress.Callback(),
		func(ctx context.Context, link device.Link) (*inspector.Profile, error) {
			return inspector.ReadProfile(ctx, link, opts, logger), nil
		})
	if err != nil {
		return err
	}
	progress.Stop()

	out := cmd.OutOrStdout()
	if inspectFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	}
	return writeProfileTable(out, profile)
}

func writeProfileTable(w io.Writer, p *inspector.Profile) error {
	fmt.Fprintf(w, "Peripheral: %s\n", p.Address)
	if p.Glove.Compatible {
		fmt.Fprintf(w, "Glove: compatible (sensor: %s)\n", yesNo(p.Glove.Sensor))
	} else {
		fmt.Fprintln(w, "Glove: not compatible")
	}
	for _, problem := range p.Glove.Problems {
		fmt.Fprintf(w, "  ! %s\n", problem)
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "UUID\tNAME\tPROPERTIES\tROLE\tVALUE")
	fmt.Fprintln(tw, strings.Repeat("-", 80))
	for _, svc := range p.Services {
		fmt.Fprintf(tw, "%s\t%s\t\t\t\n", svc.UUID, svc.Name)
		for _, c := range svc.Characteristics {
			fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\t%s\n", c.UUID, c.Name, c.Properties, c.Role, characteristicValue(c))
		}
	}
	return tw.Flush()
}

func characteristicValue(c inspector.CharacteristicInfo) string {
	switch {
	case c.ReadError != "":
		return "error: " + c.ReadError
	case c.Value != nil:
		return fmt.Sprintf("%v (0x%s)", c.Value, c.ValueHex)
	case c.ValueHex != "":
		return "0x" + c.ValueHex
	default:
		return ""
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
