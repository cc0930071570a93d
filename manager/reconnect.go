package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/feltsight/glovelink/internal/device"
	"github.com/feltsight/glovelink/internal/groutine"
	"github.com/feltsight/glovelink/scanner"
	"github.com/sirupsen/logrus"
)

// ErrReconnectExhausted is reported with EventReconnectFailed.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	p := m.opts.Reconnect
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Interval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = p.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// startReconnectLocked launches the reconnect loop for id. Must be called with m.mu held
// and the state already set to StateReconnecting.
func (m *Manager) startReconnectLocked(id string) {
	m.stopReconnectLocked()
	m.gen++
	gen := m.gen
	ctx, cancel := context.WithCancel(m.ctx)
	done := make(chan struct{})
	m.reconnectCancel = cancel
	m.reconnectDone = done

	groutine.Go(ctx, "glovelink-reconnect", func(ctx context.Context) {
		defer close(done)
		defer cancel()
		m.reconnectLoop(ctx, gen, id)
	})
}

func (m *Manager) reconnectLoop(ctx context.Context, gen uint64, id string) {
	b := m.newBackOff()
	policy := m.opts.Reconnect

	var lastErr error
	for attempt := 1; policy.MaxAttempts == 0 || attempt <= policy.MaxAttempts; attempt++ {
		log := m.logger.WithFields(logrus.Fields{
			"peripheral": id,
			"attempt":    attempt,
		})

		// The first attempt dials right away; backoff applies between attempts.
		if attempt > 1 {
			wait := b.NextBackOff()
			log = log.WithField("wait", wait)
			log.Debug("Waiting before reconnect attempt")

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}

		conn, err := m.attemptReconnect(ctx, gen, id)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return
			}
			log.WithField("error", err).Warn("Reconnect attempt failed")
			continue
		}
		if m.installIfCurrent(gen, conn) {
			log.Info("Glove reconnected")
		} else {
			m.teardown(conn)
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.closed || m.state != StateReconnecting {
		return
	}
	m.reconnectCancel = nil
	m.reconnectDone = nil
	m.setStateLocked(StateIdle)
	err := fmt.Errorf("%w after %d attempts", ErrReconnectExhausted, policy.MaxAttempts)
	if lastErr != nil {
		err = fmt.Errorf("%w: %w", err, lastErr)
	}
	m.emitLocked(Event{Type: EventReconnectFailed, PeripheralID: id, Err: err})
	m.logger.WithFields(logrus.Fields{
		"peripheral": id,
		"attempts":   policy.MaxAttempts,
		"error":      lastErr,
	}).Error("Giving up on reconnect")
}

// attemptReconnect dials the last peripheral directly. When that fails it scans
// for one scan window, looking for the same peripheral or any target glove,
// and dials what it finds.
func (m *Manager) attemptReconnect(ctx context.Context, gen uint64, id string) (*connection, error) {
	conn, err := m.establish(ctx, gen, id)
	if err == nil {
		return conn, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	m.logger.WithFields(logrus.Fields{
		"peripheral": id,
		"error":      err,
	}).Debug("Direct reconnect failed, rescanning")

	found, scanErr := m.rescan(ctx, id)
	if scanErr != nil {
		return nil, fmt.Errorf("%w (rescan: %v)", err, scanErr)
	}
	if found == "" {
		return nil, err
	}
	return m.establish(ctx, gen, found)
}

// rescan scans for the reconnect window and returns the first matching peripheral.
// The original peripheral wins over another target glove seen in the same window.
func (m *Manager) rescan(ctx context.Context, id string) (string, error) {
	scanCtx, cancel := context.WithTimeout(ctx, m.opts.Reconnect.ScanWindow)
	defer cancel()

	var (
		mu    sync.Mutex
		found string
	)
	opts := &scanner.ScanOptions{
		OnEvent: func(e scanner.DeviceEvent) {
			m.rememberPeripheral(e)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case e.Peripheral.ID == id:
				found = id
				cancel()
			case found == "" && device.MatchesName(e.Peripheral.Name, m.opts.TargetNames):
				found = e.Peripheral.ID
			}
		},
	}
	if _, err := m.scanner.Scan(scanCtx, opts, nil); err != nil {
		return "", err
	}

	mu.Lock()
	defer mu.Unlock()
	return found, nil
}

// installIfCurrent installs conn unless a user operation superseded the reconnect loop.
func (m *Manager) installIfCurrent(gen uint64, conn *connection) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.closed || m.state != StateReconnecting {
		return false
	}
	m.reconnectCancel = nil
	m.reconnectDone = nil
	m.installLocked(conn)
	return true
}
