package testutils

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/feltsight/glovelink/internal/device"
)

// MockCentral is an in-memory device.Central. Scan replays the configured
// advertisements and then blocks until the context ends; Dial hands out a
// fresh MockLink for every registered peripheral.
type MockCentral struct {
	mu             sync.Mutex
	advertisements []device.Advertisement
	peripherals    map[string]*PeripheralBuilder
	dialErrs       map[string][]error
	dialDelays     map[string]time.Duration
	scanErr        error
	links          []*MockLink
	dials          map[string]int
	scans          int
}

func NewMockCentral() *MockCentral {
	return &MockCentral{
		peripherals: make(map[string]*PeripheralBuilder),
		dialErrs:    make(map[string][]error),
		dialDelays:  make(map[string]time.Duration),
		dials:       make(map[string]int),
	}
}

func addrKey(address string) string {
	return strings.ToUpper(strings.TrimSpace(address))
}

// WithAdvertisements appends advertisements replayed by every Scan.
func (c *MockCentral) WithAdvertisements(ads ...device.Advertisement) *MockCentral {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advertisements = append(c.advertisements, ads...)
	return c
}

// ClearAdvertisements makes later scans find nothing.
func (c *MockCentral) ClearAdvertisements() *MockCentral {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.advertisements = nil
	return c
}

// WithPeripheral makes the peripheral dialable at its builder address.
func (c *MockCentral) WithPeripheral(b *PeripheralBuilder) *MockCentral {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.peripherals[addrKey(b.Address())] = b
	return c
}

// RemovePeripheral makes further dials to address fail.
func (c *MockCentral) RemovePeripheral(address string) *MockCentral {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.peripherals, addrKey(address))
	return c
}

// FailDial queues errors returned by the next dials to address, one per dial.
func (c *MockCentral) FailDial(address string, errs ...error) *MockCentral {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := addrKey(address)
	c.dialErrs[k] = append(c.dialErrs[k], errs...)
	return c
}

// SlowDial makes dials to address take d. The delay ignores cancellation, the
// way a radio finishes a connection it already started.
func (c *MockCentral) SlowDial(address string, d time.Duration) *MockCentral {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialDelays[addrKey(address)] = d
	return c
}

// FailScan makes every Scan return err immediately; nil restores scanning.
func (c *MockCentral) FailScan(err error) *MockCentral {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scanErr = err
	return c
}

func (c *MockCentral) Scan(ctx context.Context, _ bool, handler func(device.Advertisement)) error {
	c.mu.Lock()
	c.scans++
	scanErr := c.scanErr
	ads := append([]device.Advertisement(nil), c.advertisements...)
	c.mu.Unlock()

	if scanErr != nil {
		return scanErr
	}
	for _, adv := range ads {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		handler(adv)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (c *MockCentral) Dial(ctx context.Context, address string) (device.Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to %q: %w: %v", address, device.ErrTimeout, err)
	}

	k := addrKey(address)
	c.mu.Lock()
	delay := c.dialDelays[k]
	c.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.dials[k]++
	if queued := c.dialErrs[k]; len(queued) > 0 {
		c.dialErrs[k] = queued[1:]
		return nil, queued[0]
	}
	b, ok := c.peripherals[k]
	if !ok {
		return nil, fmt.Errorf("failed to connect to %q: %w", address, device.ErrTimeout)
	}
	link := b.Build()
	c.links = append(c.links, link)
	return link, nil
}

// DialCount returns how many times address was dialed.
func (c *MockCentral) DialCount(address string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dials[addrKey(address)]
}

func (c *MockCentral) ScanCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.scans
}

// Links returns every link handed out, oldest first.
func (c *MockCentral) Links() []*MockLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*MockLink(nil), c.links...)
}

// LastLink returns the most recent link or nil.
func (c *MockCentral) LastLink() *MockLink {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.links) == 0 {
		return nil
	}
	return c.links[len(c.links)-1]
}
