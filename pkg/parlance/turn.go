package parlance

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// eventSender is the serialized socket writer the coordinator sends
// protocol messages through.
type eventSender interface {
	sendEvent(msg map[string]interface{}) error
}

// turnCoordinator owns the commit/response protocol. It tracks how much
// audio has been appended since the last commit and guarantees at most
// one response request is in flight: a request made while a response is
// active stays pending and is retried exactly when that response
// completes.
type turnCoordinator struct {
	sender eventSender
	logger *Logger

	minCommitBytes int

	pendingBytes atomic.Int64
	hasAudio     atomic.Bool

	responseActive    atomic.Bool
	responseRequested atomic.Bool
	gate              sync.Mutex // non-blocking coordinator gate, TryLock only

	responseStarted atomic.Int64 // unix nanos, for latency metrics
	onLatency       func(d time.Duration)
}

func newTurnCoordinator(sender eventSender, minCommitBytes int, logger *Logger) *turnCoordinator {
	return &turnCoordinator{
		sender:         sender,
		logger:         logger.WithComponent("turn"),
		minCommitBytes: minCommitBytes,
	}
}

// NoteAudioAppended records bytes appended to the server-side input
// buffer. Called by the audio send loop after each successful append.
func (t *turnCoordinator) NoteAudioAppended(n int) {
	if n <= 0 {
		return
	}
	t.pendingBytes.Add(int64(n))
	t.hasAudio.Store(true)
}

// FinalizeTurn commits the input buffer in reaction to a server-detected
// speech stop. Below the minimum commit size the buffer is padded with
// silence first; with no uncommitted audio it is a no-op.
func (t *turnCoordinator) FinalizeTurn() error {
	if !t.hasAudio.Load() {
		return nil
	}
	pending := t.pendingBytes.Load()
	if pending <= 0 {
		return nil
	}

	if pending < int64(t.minCommitBytes) {
		pad := int64(t.minCommitBytes) - pending
		t.logger.WithField("pad_bytes", pad).Debug("padding input buffer with silence before commit")
		if err := t.sender.sendEvent(audioAppendMessage(make([]byte, pad))); err != nil {
			return err
		}
	}

	if err := t.sender.sendEvent(audioCommitMessage()); err != nil {
		return err
	}
	if err := t.sender.sendEvent(audioClearMessage()); err != nil {
		return err
	}
	t.pendingBytes.Store(0)
	t.hasAudio.Store(false)

	t.RequestResponse()
	return nil
}

// RequestResponse asks for a response. If one is already streaming the
// request stays pending and CompleteResponse retries it.
func (t *turnCoordinator) RequestResponse() {
	t.responseRequested.Store(true)
	t.runCoordinator()
}

// runCoordinator is the single place a response.create can be issued
// from. The non-blocking gate means a concurrent run is already handling
// the request; responseActive is set before the send to close the race
// where a second speech stop could slip in a duplicate request.
func (t *turnCoordinator) runCoordinator() {
	if !t.gate.TryLock() {
		return
	}
	defer t.gate.Unlock()

	if t.responseActive.Load() {
		return
	}
	if !t.responseRequested.Load() {
		return
	}
	t.responseRequested.Store(false)
	t.responseActive.Store(true)
	t.responseStarted.Store(time.Now().UnixNano())

	if err := t.sender.sendEvent(responseCreateMessage()); err != nil {
		t.responseActive.Store(false)
		t.logger.WithError(err).Warn("response request failed")
	}
}

// CompleteResponse records latency and, if a request arrived while the
// response was streaming, issues it now. A concurrent RequestResponse
// that observed the response still active may hold the gate when this
// runs; retrying until the request is issued (or withdrawn by a failed
// send) closes that lost-wakeup window.
func (t *turnCoordinator) CompleteResponse() {
	if started := t.responseStarted.Swap(0); started > 0 && t.onLatency != nil {
		t.onLatency(time.Since(time.Unix(0, started)))
	}
	t.responseActive.Store(false)
	for t.responseRequested.Load() {
		t.runCoordinator()
		if t.responseActive.Load() || !t.responseRequested.Load() {
			return
		}
		runtime.Gosched()
	}
}

// ResponseActive reports whether a response is currently streaming.
func (t *turnCoordinator) ResponseActive() bool {
	return t.responseActive.Load()
}

// PendingBytes reports bytes appended since the last commit.
func (t *turnCoordinator) PendingBytes() int64 {
	return t.pendingBytes.Load()
}
