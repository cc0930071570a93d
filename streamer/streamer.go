// Package streamer drives a connected glove at a fixed frame rate: every tick
// it pulls a frame from a Source and hands it to a Sender.
package streamer

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/feltsight/glovelink/manager"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is one frame at 60 Hz.
const DefaultInterval = time.Second / 60

// ErrRunning is returned by Run when the streamer is already running.
var ErrRunning = errors.New("streamer already running")

// Sender accepts haptic frames. *manager.Manager implements it.
type Sender interface {
	SendHapticData(data []byte) error
	Ready() bool
}

// Source produces the frame to transmit on each tick.
type Source interface {
	Frame() ([]byte, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func() ([]byte, error)

func (f SourceFunc) Frame() ([]byte, error) { return f() }

// Stats counts what happened on each tick.
type Stats struct {
	Ticks       uint64
	Sent        uint64
	Failed      uint64
	Skipped     uint64 // sender not ready
	RateLimited uint64
}

// Streamer is a periodic frame transmitter.
type Streamer struct {
	sender   Sender
	source   Source
	interval time.Duration
	logger   *logrus.Logger

	running     atomic.Bool
	ticks       atomic.Uint64
	sent        atomic.Uint64
	failed      atomic.Uint64
	skipped     atomic.Uint64
	rateLimited atomic.Uint64
}

// New creates a streamer. A non-positive interval selects DefaultInterval.
func New(sender Sender, source Source, interval time.Duration, logger *logrus.Logger) *Streamer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Streamer{
		sender:   sender,
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// Run transmits frames until ctx is done. Cancellation is a normal stop and returns nil.
func (s *Streamer) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer s.running.Store(false)

	s.logger.WithField("interval", s.interval).Info("Haptic stream started")
	defer func() {
		st := s.Stats()
		s.logger.WithFields(logrus.Fields{
			"sent":         st.Sent,
			"failed":       st.Failed,
			"skipped":      st.Skipped,
			"rate_limited": st.RateLimited,
		}).Info("Haptic stream stopped")
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Streamer) tick() {
	s.ticks.Add(1)

	if !s.sender.Ready() {
		s.skipped.Add(1)
		return
	}

	frame, err := s.source.Frame()
	if err != nil {
		s.failed.Add(1)
		s.logger.WithField("error", err).Warn("Frame source failed")
		return
	}

	err = s.sender.SendHapticData(frame)
	switch {
	case err == nil:
		s.sent.Add(1)
	case errors.Is(err, manager.ErrRateLimited):
		s.rateLimited.Add(1)
	default:
		n := s.failed.Add(1)
		s.logger.WithFields(logrus.Fields{
			"failed": n,
			"error":  err,
		}).Debug("Frame send failed")
	}
}

// Stats returns a snapshot of the counters.
func (s *Streamer) Stats() Stats {
	return Stats{
		Ticks:       s.ticks.Load(),
		Sent:        s.sent.Load(),
		Failed:      s.failed.Load(),
		Skipped:     s.skipped.Load(),
		RateLimited: s.rateLimited.Load(),
	}
}

func (st Stats) String() string {
	return fmt.Sprintf("sent=%d failed=%d skipped=%d rate_limited=%d", st.Sent, st.Failed, st.Skipped, st.RateLimited)
}
