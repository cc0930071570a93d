package streamer

import (
	"fmt"
	"sync"
	"time"

	"github.com/feltsight/glovelink/haptics"
)

// HapticState is a per-finger intensity source producing 44-byte frames.
// Safe for concurrent use: the host updates it while the streamer reads it.
type HapticState struct {
	mu    sync.RWMutex
	state haptics.State
}

func NewHapticState() *HapticState {
	return &HapticState{}
}

func (h *HapticState) SetFinger(hand haptics.Hand, finger int, intensity float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state.SetFinger(hand, finger, intensity)
}

func (h *HapticState) SetHand(hand haptics.Hand, intensities ...float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	next := h.state
	if err := next.SetHand(hand, intensities...); err != nil {
		return err
	}
	h.state = next
	return nil
}

func (h *HapticState) SetPattern(intensity float32) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.SetPattern(intensity)
}

func (h *HapticState) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state.Reset()
}

// Snapshot returns a copy of the current state.
func (h *HapticState) Snapshot() haptics.State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

func (h *HapticState) Frame() ([]byte, error) {
	return haptics.EncodeFrame(h.Snapshot()), nil
}

// ChannelSource produces 32-byte channel frames. Track feeds hand positions and
// sets every channel from the resulting velocity; SetChannel overrides one slot.
type ChannelSource struct {
	mu      sync.Mutex
	mapper  haptics.SpeedMapper
	tracker *haptics.MotionTracker
	frame   haptics.ChannelFrame
}

// NewChannelSource starts muted at base speed on every channel.
func NewChannelSource(mapper haptics.SpeedMapper, smoothing float64) *ChannelSource {
	return &ChannelSource{
		mapper:  mapper,
		tracker: haptics.NewMotionTracker(smoothing),
		frame:   haptics.Uniform(haptics.Channel{File: mapper.File, Speed: haptics.MinSpeed}),
	}
}

// Track feeds a tracked position sampled at t and returns the channel now applied to all slots.
func (c *ChannelSource) Track(p haptics.Vec3, t time.Time) haptics.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, filtered := c.tracker.Update(p, t)
	ch := c.mapper.Channel(raw, filtered)
	c.frame = haptics.Uniform(ch)
	return ch
}

// SetChannel replaces slot i (0-based).
func (c *ChannelSource) SetChannel(i int, ch haptics.Channel) error {
	if i < 0 || i >= haptics.ChannelCount {
		return fmt.Errorf("channel index %d out of range 0..%d", i, haptics.ChannelCount-1)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frame[i] = ch
	return nil
}

// Mute silences every channel and forgets motion history.
func (c *ChannelSource) Mute() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tracker.Reset()
	for i := range c.frame {
		c.frame[i].Volume = 0
	}
}

func (c *ChannelSource) Frame() ([]byte, error) {
	c.mu.Lock()
	f := c.frame
	c.mu.Unlock()
	return f.MarshalBinary()
}
