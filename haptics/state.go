// Package haptics implements the glove wire formats: the 44-byte per-finger
// intensity frame, the 32-byte ten-channel playback frame, and the motion to
// playback-speed mapping used to drive it.
package haptics

import (
	"errors"
	"fmt"
)

// FingerCount is the number of actuated fingers per hand.
const FingerCount = 5

// Hand selects a glove.
type Hand int

const (
	Left Hand = iota
	Right
)

func (h Hand) String() string {
	switch h {
	case Left:
		return "left"
	case Right:
		return "right"
	default:
		return fmt.Sprintf("hand(%d)", int(h))
	}
}

// ErrFingerIndex is returned for finger indices outside 0..FingerCount-1.
var ErrFingerIndex = errors.New("invalid finger index")

// State is the per-finger vibration intensity of both gloves plus a global
// pattern intensity. All values are within [0, 1].
type State struct {
	Left    [FingerCount]float32
	Right   [FingerCount]float32
	Pattern float32
}

// SetFinger sets one finger intensity, clamped to [0, 1].
func (s *State) SetFinger(hand Hand, finger int, intensity float32) error {
	if finger < 0 || finger >= FingerCount {
		return fmt.Errorf("%w: %d", ErrFingerIndex, finger)
	}
	switch hand {
	case Left:
		s.Left[finger] = clamp01(intensity)
	case Right:
		s.Right[finger] = clamp01(intensity)
	default:
		return fmt.Errorf("unknown hand %v", hand)
	}
	return nil
}

// Finger returns one finger intensity.
func (s *State) Finger(hand Hand, finger int) (float32, error) {
	if finger < 0 || finger >= FingerCount {
		return 0, fmt.Errorf("%w: %d", ErrFingerIndex, finger)
	}
	if hand == Right {
		return s.Right[finger], nil
	}
	return s.Left[finger], nil
}

// SetHand sets all fingers of one hand. Missing trailing values are left untouched.
func (s *State) SetHand(hand Hand, intensities ...float32) error {
	if len(intensities) > FingerCount {
		return fmt.Errorf("%w: %d values for %d fingers", ErrFingerIndex, len(intensities), FingerCount)
	}
	for i, v := range intensities {
		if err := s.SetFinger(hand, i, v); err != nil {
			return err
		}
	}
	return nil
}

// SetPattern sets the global pattern intensity, clamped to [0, 1].
func (s *State) SetPattern(intensity float32) {
	s.Pattern = clamp01(intensity)
}

// Reset silences every finger and the pattern.
func (s *State) Reset() {
	*s = State{}
}

func clamp01(v float32) float32 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
