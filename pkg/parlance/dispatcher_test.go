package parlance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDispatcherSerializesInOrder(t *testing.T) {
	d := newDispatcher(64, newTestLogger())
	d.Start()

	var order []int
	for i := 0; i < 50; i++ {
		i := i
		d.Enqueue(func() { order = append(order, i) })
	}
	d.Stop()

	assert.Len(t, order, 50)
	for i, v := range order {
		assert.Equal(t, i, v)
	}
}

func TestDispatcherRecoversFromPanic(t *testing.T) {
	d := newDispatcher(8, newTestLogger())
	d.Start()

	survived := false
	d.Enqueue(func() { panic("subscriber bug") })
	d.Enqueue(func() { survived = true })
	d.Stop()

	assert.True(t, survived)
}

func TestDispatcherEnqueueAfterStop(t *testing.T) {
	d := newDispatcher(8, newTestLogger())
	d.Start()
	d.Stop()

	assert.NotPanics(t, func() {
		d.Enqueue(func() {})
	})
}

func TestDispatcherStopWithoutStart(t *testing.T) {
	d := newDispatcher(8, newTestLogger())
	assert.NotPanics(t, d.Stop)
}

func TestDispatcherStopFromCallbackReturns(t *testing.T) {
	d := newDispatcher(8, newTestLogger())
	d.Start()

	returned := make(chan struct{})
	drained := false
	d.Enqueue(func() {
		d.Stop()
		close(returned)
	})
	d.Enqueue(func() { drained = true })

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop called from a callback never returned")
	}

	// The consumer keeps draining what was queued before the close.
	select {
	case <-d.done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer never exited")
	}
	assert.True(t, drained)
}
