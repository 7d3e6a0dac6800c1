package parlance

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// dispatcher serializes callback invocation on a single consumer
// goroutine. Subscribers never see concurrent or reentrant calls, and a
// panicking subscriber cannot stall or corrupt the network loops.
type dispatcher struct {
	queue  chan func()
	logger *Logger

	startOnce sync.Once
	stopOnce  sync.Once
	started   atomic.Bool
	done      chan struct{}

	// closeMu serializes queue sends against the close in Stop so a late
	// Enqueue drops the notification instead of panicking.
	closeMu sync.RWMutex
	closed  bool

	// inCallback is true while the consumer goroutine is inside a
	// subscriber callback. Only the consumer writes it.
	inCallback atomic.Bool
}

func newDispatcher(depth int, logger *Logger) *dispatcher {
	if depth <= 0 {
		depth = 256
	}
	return &dispatcher{
		queue:  make(chan func(), depth),
		logger: logger.WithComponent("dispatcher"),
		done:   make(chan struct{}),
	}
}

func (d *dispatcher) Start() {
	d.startOnce.Do(func() {
		d.started.Store(true)
		go d.run()
	})
}

func (d *dispatcher) run() {
	defer close(d.done)
	for fn := range d.queue {
		d.invoke(fn)
	}
}

func (d *dispatcher) invoke(fn func()) {
	d.inCallback.Store(true)
	defer func() {
		d.inCallback.Store(false)
		if r := recover(); r != nil {
			d.logger.Error(fmt.Sprintf("subscriber panic recovered: %v", r))
		}
	}()
	fn()
}

// Enqueue queues fn for serialized delivery. When the queue is full the
// notification is dropped with a log record rather than blocking a
// network loop. After Stop the notification is dropped; shutdown is
// already in progress at that point.
func (d *dispatcher) Enqueue(fn func()) {
	d.closeMu.RLock()
	defer d.closeMu.RUnlock()
	if d.closed {
		d.logger.Trace("dispatcher stopped, dropping notification")
		return
	}
	select {
	case d.queue <- fn:
	default:
		d.logger.Warn("dispatch queue full, dropping notification")
	}
}

// Stop closes the queue and waits for in-flight callbacks to drain.
// When invoked from inside a subscriber callback the wait is skipped:
// the consumer goroutine is the caller and would block on itself. The
// queue is closed either way, and the consumer drains what remains
// once the callback returns.
func (d *dispatcher) Stop() {
	d.stopOnce.Do(func() {
		d.closeMu.Lock()
		d.closed = true
		close(d.queue)
		d.closeMu.Unlock()
	})
	if !d.started.Load() || d.inCallback.Load() {
		return
	}
	<-d.done
}
