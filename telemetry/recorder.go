// Package telemetry keeps the glove's sensor notifications around for
// consumers that poll instead of listening to events.
package telemetry

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/smallnest/ringbuffer"
)

// ErrNoData is returned by Read when no sensor bytes are buffered.
var ErrNoData = errors.New("no sensor data buffered")

// Sample is one sensor notification.
type Sample struct {
	Seq  uint64
	At   time.Time
	Data []byte
}

// Stats is a snapshot of recorder counters.
type Stats struct {
	Recorded     uint64
	Overwritten  uint64 // samples evicted from the history before being drained
	BytesDropped uint64 // raw bytes that did not fit the stream buffer
	Buffered     int    // raw bytes waiting to be read
}

// Recorder stores sensor notifications twice: as framed samples in a bounded,
// overwrite-oldest history, and as a raw byte stream readable through io.Reader.
// Safe for concurrent use.
type Recorder struct {
	logger  *logrus.Logger
	samples mpmc.RichOverlappedRingBuffer[Sample]
	stream  *ringbuffer.RingBuffer

	seq          atomic.Uint64
	overwritten  atomic.Uint64
	bytesDropped atomic.Uint64
}

// NewRecorder creates a recorder keeping about history samples and streamBytes raw bytes.
func NewRecorder(history, streamBytes int, logger *logrus.Logger) *Recorder {
	if logger == nil {
		logger = logrus.New()
	}
	if history <= 0 {
		history = 1
	}
	if streamBytes <= 0 {
		streamBytes = 1
	}
	return &Recorder{
		logger:  logger,
		samples: mpmc.NewOverlappedRingBuffer[Sample](uint32(history)),
		stream:  ringbuffer.New(streamBytes),
	}
}

// Record stores a copy of data and returns the resulting sample.
func (r *Recorder) Record(data []byte) Sample {
	s := Sample{
		Seq:  r.seq.Add(1),
		At:   time.Now(),
		Data: append([]byte(nil), data...),
	}

	// The history evicts the oldest samples by itself
	if overwrites, err := r.samples.EnqueueM(s); err != nil {
		r.logger.WithFields(logrus.Fields{
			"seq":   s.Seq,
			"error": err,
		}).Warn("Failed to store sensor sample")
	} else if overwrites > 0 {
		r.overwritten.Add(uint64(overwrites))
	}

	if len(data) > 0 {
		written, err := r.stream.Write(data)
		if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
			r.logger.WithField("error", err).Warn("Sensor stream write error")
		}
		if written < len(data) {
			dropped := len(data) - written
			r.bytesDropped.Add(uint64(dropped))
			r.logger.WithFields(logrus.Fields{
				"dropped": dropped,
				"size":    len(data),
			}).Debug("Sensor stream buffer full, dropping bytes")
		}
	}

	return s
}

// Drain hands buffered samples to fn oldest first until the history is empty or fn returns false.
// Returns the number of samples consumed.
func (r *Recorder) Drain(fn func(Sample) bool) (int, error) {
	n := 0
	for !r.samples.IsEmpty() {
		s, err := r.samples.Dequeue()
		if err != nil {
			return n, fmt.Errorf("sample dequeue error: %w", err)
		}
		n++
		if !fn(s) {
			break
		}
	}
	return n, nil
}

// Read implements io.Reader over the raw sensor byte stream without blocking.
// Returns ErrNoData when nothing is buffered.
func (r *Recorder) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n, err := r.stream.TryRead(p)
	if errors.Is(err, ringbuffer.ErrIsEmpty) || (err == nil && n == 0) {
		return 0, ErrNoData
	}
	return n, err
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	return Stats{
		Recorded:     r.seq.Load(),
		Overwritten:  r.overwritten.Load(),
		BytesDropped: r.bytesDropped.Load(),
		Buffered:     r.stream.Length(),
	}
}
