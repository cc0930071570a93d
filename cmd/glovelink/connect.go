package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feltsight/glovelink/internal/config"
	"github.com/feltsight/glovelink/manager"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var connectCmd = &cobra.Command{
	Use:   "connect [peripheral-id]",
	Short: "Connect to a glove and watch its events",
	Long: `Connect to a glove and print connection, state and sensor events until
Ctrl+C. Without a peripheral id the first peripheral advertising a configured
glove name is connected.

Unexpected link losses are followed by automatic reconnection unless
--no-reconnect is given.`,
	Example: `  glovelink connect
  glovelink connect AA:BB:CC:DD:EE:FF --duration 30s`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

var (
	connectDuration    time.Duration
	connectNoReconnect bool
)

// errNoGlove is returned when auto-connect ends without finding a glove.
var errNoGlove = errors.New("no glove found")

func init() {
	connectCmd.Flags().DurationVarP(&connectDuration, "duration", "d", 0, "Disconnect after this long (0 runs until Ctrl+C)")
	connectCmd.Flags().BoolVar(&connectNoReconnect, "no-reconnect", false, "Do not reconnect after a link loss")
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	cmd.SilenceUsage = true

	id := ""
	if len(args) > 0 {
		id = args[0]
	}

	opts := manager.OptionsFromConfig(cfg)
	opts.AutoConnect = id == ""
	if connectNoReconnect {
		opts.Reconnect.Enabled = false
	}

	m, err := manager.New(opts, logger)
	if err != nil {
		return err
	}
	defer m.Close()

	ctx, cancel := signalContext(cmd.Context())
	defer cancel()
	if connectDuration > 0 {
		ctx, cancel = context.WithTimeout(ctx, connectDuration)
		defer cancel()
	}

	if id == "" {
		err = m.StartScanning(ctx)
	} else {
		err = m.ConnectToPeripheral(ctx, id)
	}
	if err != nil {
		return err
	}

	err = watchEvents(ctx, m, newStatusPrinter(cmd.OutOrStdout()), opts.Reconnect.Enabled, id == "")
	if dErr := m.Disconnect(); dErr != nil {
		logger.WithField("error", dErr).Warn("Disconnect failed")
	}
	return err
}

// watchEvents prints manager events until ctx ends or the link is gone for good.
func watchEvents(ctx context.Context, m *manager.Manager, printer *statusPrinter, reconnect, autoConnect bool) error {
	connected := m.Ready()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-m.Events():
			if !ok {
				return nil
			}
			printer.Event(e)

			switch e.Type {
			case manager.EventConnected:
				connected = true
			case manager.EventReconnectFailed:
				return fmt.Errorf("%w: %v", ErrConnectionLost, e.Err)
			case manager.EventDisconnected:
				if e.Err != nil && !reconnect {
					return fmt.Errorf("%w: %v", ErrConnectionLost, e.Err)
				}
			case manager.EventStateChanged:
				if e.State == manager.StateIdle && autoConnect && !connected {
					return errNoGlove
				}
			}
		}
	}
}

// connectTo builds a manager and connects it to id.
func connectTo(ctx context.Context, cfg *config.Config, logger *logrus.Logger, id string) (*manager.Manager, error) {
	opts := manager.OptionsFromConfig(cfg)
	opts.AutoConnect = false

	m, err := manager.New(opts, logger)
	if err != nil {
		return nil, err
	}
	if err := m.ConnectToPeripheral(ctx, id); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}
