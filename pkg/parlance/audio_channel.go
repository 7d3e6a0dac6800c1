package parlance

import (
	"context"
	"sync"
)

// audioChannel is a bounded queue decoupling the audio source from the
// network send loop. When full, the oldest unsent chunk is dropped so the
// freshest audio always gets through; ordering among retained chunks is
// preserved.
type audioChannel struct {
	mu       sync.Mutex
	ch       chan []byte
	capacity int
	warnAt   int
	closed   bool

	onBackpressure func(depth, capacity int)
}

func newAudioChannel(capacity, warnAt int, onBackpressure func(depth, capacity int)) *audioChannel {
	if capacity <= 0 {
		capacity = 64
	}
	if warnAt <= 0 || warnAt > capacity {
		warnAt = capacity * 3 / 4
	}
	return &audioChannel{
		ch:             make(chan []byte, capacity),
		capacity:       capacity,
		warnAt:         warnAt,
		onBackpressure: onBackpressure,
	}
}

// Write admits a chunk, dropping the oldest buffered chunk when the
// queue is full. Returns true when an old chunk was evicted.
func (c *audioChannel) Write(chunk []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	if depth := len(c.ch); depth >= c.warnAt && c.onBackpressure != nil {
		c.onBackpressure(depth, c.capacity)
	}

	select {
	case c.ch <- chunk:
		return false
	default:
	}

	// Full: evict the oldest, then retry. Both operations happen under
	// the lock, so no other writer can slip in between.
	select {
	case <-c.ch:
	default:
	}
	select {
	case c.ch <- chunk:
	default:
	}
	return true
}

// Read blocks until a chunk is available, the channel is closed, or ctx
// is done.
func (c *audioChannel) Read(ctx context.Context) ([]byte, bool) {
	select {
	case <-ctx.Done():
		return nil, false
	case chunk, ok := <-c.ch:
		return chunk, ok
	}
}

func (c *audioChannel) Depth() int {
	return len(c.ch)
}

func (c *audioChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}
