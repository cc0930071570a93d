package haptics

import (
	"encoding/binary"
	"fmt"
	"math"
)

// FrameSize is the length of an encoded intensity frame: eleven little-endian float32
// values, pattern first, then left fingers 0..4, then right fingers 0..4.
const FrameSize = 4 * (1 + 2*FingerCount)

// EncodeFrame serializes the state into a 44-byte intensity frame.
func EncodeFrame(s State) []byte {
	buf := make([]byte, FrameSize)
	putFloat(buf, 0, s.Pattern)
	for i := 0; i < FingerCount; i++ {
		putFloat(buf, 1+i, s.Left[i])
		putFloat(buf, 1+FingerCount+i, s.Right[i])
	}
	return buf
}

// DecodeFrame parses a 44-byte intensity frame. Values are clamped to [0, 1].
func DecodeFrame(data []byte) (State, error) {
	var s State
	if len(data) != FrameSize {
		return s, fmt.Errorf("intensity frame must be %d bytes, got %d", FrameSize, len(data))
	}
	s.Pattern = clamp01(getFloat(data, 0))
	for i := 0; i < FingerCount; i++ {
		s.Left[i] = clamp01(getFloat(data, 1+i))
		s.Right[i] = clamp01(getFloat(data, 1+FingerCount+i))
	}
	return s, nil
}

func putFloat(buf []byte, slot int, v float32) {
	binary.LittleEndian.PutUint32(buf[slot*4:], math.Float32bits(v))
}

func getFloat(buf []byte, slot int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[slot*4:]))
}
