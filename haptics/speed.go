package haptics

import (
	"math"
	"time"
)

// SpeedMapper turns hand motion into a channel setting: faster motion plays the
// waveform faster, near-stillness mutes it.
type SpeedMapper struct {
	MinVelocity  float64 // m/s mapped to MinSpeed
	MaxVelocity  float64 // m/s mapped to MaxSpeed
	MuteBelow    float64 // raw m/s under which the channel is muted
	NormalVolume byte
	Multiplier   float64 // scales the filtered velocity, floored at 0.1
	File         byte
}

// DefaultSpeedMapper returns the mapping tuned for finger-tip velocities.
func DefaultSpeedMapper() SpeedMapper {
	return SpeedMapper{
		MinVelocity:  0,
		MaxVelocity:  0.3,
		MuteBelow:    0.015,
		NormalVolume: 75,
		Multiplier:   1,
		File:         1,
	}
}

// Speed maps a filtered velocity magnitude to a speed byte in [MinSpeed, MaxSpeed].
func (m SpeedMapper) Speed(filtered float64) byte {
	mult := math.Max(0.1, m.Multiplier)
	v := clamp(filtered*mult, m.MinVelocity, m.MaxVelocity)

	t := 0.0
	if m.MaxVelocity > m.MinVelocity {
		t = (v - m.MinVelocity) / (m.MaxVelocity - m.MinVelocity)
	}
	return byte(math.Round(float64(MinSpeed) + t*float64(MaxSpeed-MinSpeed)))
}

// Volume mutes below the threshold, using the raw velocity so that the filter lag
// does not keep the glove buzzing after the hand stops.
func (m SpeedMapper) Volume(raw float64) byte {
	if raw < m.MuteBelow {
		return 0
	}
	if m.NormalVolume > MaxVolume {
		return MaxVolume
	}
	return m.NormalVolume
}

// Channel builds the channel setting for the given raw and filtered velocity.
func (m SpeedMapper) Channel(raw, filtered float64) Channel {
	return Channel{File: m.File, Volume: m.Volume(raw), Speed: m.Speed(filtered)}
}

// Smoother is a first-order low-pass filter: y += a*(x-y).
// The first sample initializes the output. The zero value is not usable; call NewSmoother.
type Smoother struct {
	alpha       float64
	value       float64
	initialized bool
}

// NewSmoother creates a filter with strength a clamped to [0.01, 1]; 1 disables smoothing.
func NewSmoother(a float64) *Smoother {
	return &Smoother{alpha: clamp(a, 0.01, 1)}
}

// Filter feeds one sample and returns the smoothed value.
func (s *Smoother) Filter(x float64) float64 {
	if !s.initialized {
		s.value = x
		s.initialized = true
		return x
	}
	s.value += s.alpha * (x - s.value)
	return s.value
}

// Reset forgets history; the next sample re-initializes the output.
func (s *Smoother) Reset() {
	s.initialized = false
	s.value = 0
}

// Vec3 is a position in metres.
type Vec3 [3]float64

// MotionTracker derives velocity magnitude from successive positions of a tracked point.
type MotionTracker struct {
	smoother *Smoother
	last     Vec3
	lastAt   time.Time
	has      bool
}

// NewMotionTracker creates a tracker whose filtered output uses the given smoothing strength.
func NewMotionTracker(smoothing float64) *MotionTracker {
	return &MotionTracker{smoother: NewSmoother(smoothing)}
}

// Update feeds a position sampled at t and returns raw and filtered speed in m/s.
// The first sample, and samples that do not advance time, report zero raw speed.
func (mt *MotionTracker) Update(p Vec3, t time.Time) (raw, filtered float64) {
	if mt.has {
		if dt := t.Sub(mt.lastAt).Seconds(); dt > 0 {
			dx, dy, dz := p[0]-mt.last[0], p[1]-mt.last[1], p[2]-mt.last[2]
			raw = math.Sqrt(dx*dx+dy*dy+dz*dz) / dt
		}
	}
	mt.last, mt.lastAt, mt.has = p, t, true
	return raw, mt.smoother.Filter(raw)
}

// Reset forgets the previous position and filter state.
func (mt *MotionTracker) Reset() {
	mt.has = false
	mt.smoother.Reset()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
