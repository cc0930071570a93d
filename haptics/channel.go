package haptics

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ChannelCount is the number of playback channels in a channel frame.
	ChannelCount = 10
	// ChannelFrameSize is start marker + ChannelCount*(file, volume, speed) + end marker.
	ChannelFrameSize = 2 + 3*ChannelCount

	FrameStart byte = 0xFE
	FrameEnd   byte = 0xFF

	MinSpeed  byte = 10 // 1.0x playback
	MaxSpeed  byte = 40 // 4.0x playback
	MaxVolume byte = 100
)

// ErrInvalidFrame is returned when a channel frame has the wrong length or markers.
var ErrInvalidFrame = errors.New("invalid channel frame")

// Channel is one playback slot: which waveform file to play, at what volume
// (percent, 0 mutes) and speed (tenths of 1x, 10..40).
type Channel struct {
	File   byte
	Volume byte
	Speed  byte
}

// Rate returns the playback rate multiplier encoded by Speed.
func (c Channel) Rate() float64 {
	return float64(c.Speed) / 10
}

func (c Channel) String() string {
	volume := "muted"
	if c.Volume > 0 {
		volume = fmt.Sprintf("%d%%", c.Volume)
	}
	return fmt.Sprintf("file=%d volume=%s speed=%.1fx", c.File, volume, c.Rate())
}

// ChannelFrame drives all ten playback channels of a glove at once.
type ChannelFrame [ChannelCount]Channel

// Uniform returns a frame with every channel set to ch.
func Uniform(ch Channel) ChannelFrame {
	var f ChannelFrame
	for i := range f {
		f[i] = ch
	}
	return f
}

// Normalize clamps volume to 0..100 and speed to 10..40 on every channel.
func (f ChannelFrame) Normalize() ChannelFrame {
	for i := range f {
		if f[i].Volume > MaxVolume {
			f[i].Volume = MaxVolume
		}
		if f[i].Speed < MinSpeed {
			f[i].Speed = MinSpeed
		}
		if f[i].Speed > MaxSpeed {
			f[i].Speed = MaxSpeed
		}
	}
	return f
}

// MarshalBinary encodes the frame after normalizing it.
func (f ChannelFrame) MarshalBinary() ([]byte, error) {
	n := f.Normalize()
	buf := make([]byte, ChannelFrameSize)
	buf[0] = FrameStart
	for i, ch := range n {
		off := 1 + i*3
		buf[off] = ch.File
		buf[off+1] = ch.Volume
		buf[off+2] = ch.Speed
	}
	buf[ChannelFrameSize-1] = FrameEnd
	return buf, nil
}

// UnmarshalBinary decodes and validates a 32-byte channel frame.
func (f *ChannelFrame) UnmarshalBinary(data []byte) error {
	if err := ValidateChannelFrame(data); err != nil {
		return err
	}
	for i := range f {
		off := 1 + i*3
		f[i] = Channel{File: data[off], Volume: data[off+1], Speed: data[off+2]}
	}
	return nil
}

// ValidateChannelFrame checks length and start/end markers.
func ValidateChannelFrame(data []byte) error {
	if len(data) != ChannelFrameSize {
		return fmt.Errorf("%w: length %d, want %d", ErrInvalidFrame, len(data), ChannelFrameSize)
	}
	if data[0] != FrameStart || data[ChannelFrameSize-1] != FrameEnd {
		return fmt.Errorf("%w: markers 0x%02X..0x%02X, want 0x%02X..0x%02X",
			ErrInvalidFrame, data[0], data[ChannelFrameSize-1], FrameStart, FrameEnd)
	}
	return nil
}

// Describe renders a channel frame one channel per line for logs. Payloads that
// are not channel frames are described by their validation error.
func Describe(data []byte) string {
	var f ChannelFrame
	if err := f.UnmarshalBinary(data); err != nil {
		return err.Error()
	}
	var b strings.Builder
	for i, ch := range f {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "channel %2d: %s", i+1, ch)
	}
	return b.String()
}
