package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/internal/devicefactory"
	"github.com/feltsight/glovelink/manager"
	"github.com/feltsight/glovelink/scanner"
	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/term"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for gloves and other BLE peripherals",
	Long: `Scan for Bluetooth Low Energy peripherals and list them in discovery order
with name, address, RSSI and advertised services.

By default every peripheral is listed; use --gloves to keep only peripherals
advertising one of the configured glove names.`,
	Example: `  glovelink scan
  glovelink scan --gloves --duration 5s
  glovelink scan --services 6e400001-b5a3-f393-e0a9-e50e24dcca9e --format json`,
	RunE: runScan,
}

var (
	scanDuration  time.Duration
	scanFormat    string
	scanServices  []string
	scanAllowList []string
	scanBlockList []string
	scanNames     string
	scanGloves    bool
	scanMinRSSI   int
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 0, "Scan duration (default from config)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
	scanCmd.Flags().StringSliceVarP(&scanServices, "services", "s", nil, "Filter by service UUIDs")
	scanCmd.Flags().StringSliceVar(&scanAllowList, "allow", nil, "Only show peripherals with these addresses")
	scanCmd.Flags().StringSliceVar(&scanBlockList, "block", nil, "Hide peripherals with these addresses")
	scanCmd.Flags().StringVar(&scanNames, "names", "", "Comma-separated advertised names to keep")
	scanCmd.Flags().BoolVar(&scanGloves, "gloves", false, "Only show peripherals advertising a glove name")
	scanCmd.Flags().IntVar(&scanMinRSSI, "min-rssi", 0, "Hide peripherals weaker than this RSSI (0 disables)")
}

func runScan(cmd *cobra.Command, _ []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	var serviceUUIDs []string
	if len(scanServices) > 0 {
		var err error
		serviceUUIDs, err = device.ValidateUUID(scanServices...)
		if err != nil {
			return fmt.Errorf("invalid service UUID: %w", err)
		}
	}

	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	opts := &scanner.ScanOptions{
		Duration:     cfg.Scan.Duration,
		Duplicates:   cfg.Scan.Duplicates,
		ServiceUUIDs: serviceUUIDs,
		AllowList:    scanAllowList,
		BlockList:    scanBlockList,
		Names:        device.ParseNameList(scanNames),
		MinRSSI:      scanMinRSSI,
	}
	if scanDuration > 0 {
		opts.Duration = scanDuration
	}
	if scanGloves {
		opts.Names = append(opts.Names, cfg.Scan.TargetNames...)
	}

	central, err := devicefactory.NewCentral(logger, manager.OptionsFromConfig(cfg).Link)
	if err != nil {
		return fmt.Errorf("failed to open BLE central: %w", err)
	}
	s, err := scanner.NewScanner(logger, central)
	if err != nil {
		return fmt.Errorf("failed to create BLE scanner: %w", err)
	}
	defer s.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	progress := newProgressPrinter(cmd.ErrOrStderr(), "Scanning for BLE peripherals", "Scanning", opts.Duration, "Processing results")
	if isTerminal(cmd.ErrOrStderr()) {
		progress.Start()
	}
	defer progress.Stop()

	if _, err := s.Scan(ctx, opts, progress.Callback()); err != nil {
		return err
	}
	progress.Stop()

	out := cmd.OutOrStdout()
	results := s.Results()
	if scanFormat == "json" {
		return writePeripheralsJSON(out, results)
	}
	return writePeripheralsTable(out, results, cfg.Scan.TargetNames)
}

func writePeripheralsJSON(w io.Writer, results *orderedmap.OrderedMap[string, device.PeripheralInfo]) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(results)
}

func writePeripheralsTable(w io.Writer, results *orderedmap.OrderedMap[string, device.PeripheralInfo], gloveNames []string) error {
	if results.Len() == 0 {
		fmt.Fprintln(w, "No peripherals discovered")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tADDRESS\tRSSI\tGLOVE\tSERVICES")
	fmt.Fprintln(tw, strings.Repeat("-", 80))

	for pair := results.Oldest(); pair != nil; pair = pair.Next() {
		p := pair.Value
		name := p.Name
		if len(name) > 20 {
			name = name[:17] + "..."
		}
		services := strings.Join(p.Services, ",")
		if len(services) > 40 {
			services = services[:37] + "..."
		}
		glove := ""
		if device.MatchesName(p.Name, gloveNames) || p.HasService(device.GloveServiceUUID) {
			glove = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d dBm\t%s\t%s\n", name, p.Address, p.RSSI, glove, services)
	}
	return tw.Flush()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
