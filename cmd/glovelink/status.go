package main

import (
	"encoding/hex"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/feltsight/glovelink/manager"
)

// statusPrinter renders manager events one line each. Colors are used only
// when writing to a terminal.
type statusPrinter struct {
	out io.Writer

	good *color.Color
	warn *color.Color
	bad  *color.Color
	info *color.Color
	dim  *color.Color
}

func newStatusPrinter(out io.Writer) *statusPrinter {
	colored := isTerminal(out)
	mk := func(attrs ...color.Attribute) *color.Color {
		c := color.New(attrs...)
		if colored {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
		return c
	}
	return &statusPrinter{
		out:  out,
		good: mk(color.FgGreen, color.Bold),
		warn: mk(color.FgYellow),
		bad:  mk(color.FgRed, color.Bold),
		info: mk(color.FgCyan),
		dim:  mk(color.Faint),
	}
}

func (p *statusPrinter) Event(e manager.Event) {
	switch e.Type {
	case manager.EventPeripheralDiscovered:
		p.info.Fprintf(p.out, "[+] %s (%s) %d dBm\n", displayName(e.Name, e.PeripheralID), e.PeripheralID, e.RSSI)
	case manager.EventConnected:
		p.good.Fprintf(p.out, "connected to %s (%s)\n", displayName(e.Name, e.PeripheralID), e.PeripheralID)
	case manager.EventDisconnected:
		if e.Err != nil {
			p.warn.Fprintf(p.out, "disconnected from %s: %v\n", e.PeripheralID, e.Err)
			return
		}
		p.warn.Fprintf(p.out, "disconnected from %s\n", e.PeripheralID)
	case manager.EventSensorData:
		p.dim.Fprintf(p.out, "sensor #%d: %s\n", e.Seq, hex.EncodeToString(e.Data))
	case manager.EventStateChanged:
		p.info.Fprintf(p.out, "state: %s\n", e.State)
	case manager.EventReconnectFailed:
		p.bad.Fprintf(p.out, "reconnect to %s failed: %v\n", e.PeripheralID, e.Err)
	default:
		fmt.Fprintf(p.out, "%s\n", e.Type)
	}
}

// Errorf prints a highlighted error line.
func (p *statusPrinter) Errorf(format string, args ...any) {
	p.bad.Fprintf(p.out, format+"\n", args...)
}

// Successf prints a highlighted success line.
func (p *statusPrinter) Successf(format string, args ...any) {
	p.good.Fprintf(p.out, format+"\n", args...)
}

func displayName(name, id string) string {
	if name == "" {
		return id
	}
	return name
}
