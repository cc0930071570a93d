package ringchan

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingChannel_OverwritesOldest(t *testing.T) {
	rc := New[int](3)
	dropped := 0
	for i := 0; i < 10; i++ {
		if rc.Send(i) {
			dropped++
		}
	}
	rc.Close()

	var got []int
	for v := range rc.C() {
		got = append(got, v)
	}

	assert.Equal(t, []int{7, 8, 9}, got, "MUST keep only the newest values")
	assert.Equal(t, 7, dropped)

	m := rc.Metrics()
	assert.Equal(t, int64(10), m.Written)
	assert.Equal(t, int64(7), m.Overwritten)
}

func TestRingChannel_TrySendAndReceive(t *testing.T) {
	rc := New[string](1)

	require.True(t, rc.TrySend("a"))
	assert.False(t, rc.TrySend("b"), "TrySend MUST fail when full")
	assert.Equal(t, 1, rc.Len())
	assert.Equal(t, 1, rc.Cap())

	v, ok := rc.TryReceive()
	require.True(t, ok)
	assert.Equal(t, "a", v)

	_, ok = rc.TryReceive()
	assert.False(t, ok, "TryReceive MUST NOT block on empty channel")

	rc.Send("c")
	v, ok = rc.Receive()
	require.True(t, ok)
	assert.Equal(t, "c", v)
	assert.Equal(t, int64(2), rc.Metrics().Processed)
}

func TestRingChannel_SendAfterClose(t *testing.T) {
	rc := New[int](2)
	rc.Send(1)
	rc.Close()
	rc.Close()

	assert.NotPanics(t, func() {
		rc.Send(2)
		rc.TrySend(3)
	})
	assert.Equal(t, int64(2), rc.Metrics().Errors)

	v, ok := rc.Receive()
	assert.True(t, ok, "buffered values MUST remain readable after Close")
	assert.Equal(t, 1, v)
	_, ok = rc.Receive()
	assert.False(t, ok)
}

func TestRingChannel_ConcurrentProducers(t *testing.T) {
	rc := New[int](4)
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rc.Send(i)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 4, rc.Len())
	m := rc.Metrics()
	assert.Equal(t, int64(800), m.Written)
	assert.Equal(t, int64(796), m.Overwritten)
}

func TestNew_PanicsOnZeroCapacity(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
}
