package parlance

import (
	"sync"
	"time"
)

// BreakerState enum
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// rateLimitBreaker gates audio capture around rate-limit events. A
// rate-limit signal opens the breaker and pauses audio; after the
// recovery delay it half-opens and audio resumes as a probe. Success
// closes it again, a renewed rate limit re-opens it with a doubled delay
// up to the ceiling. Quota exhaustion is handled elsewhere: it is
// terminal and never goes through the breaker.
type rateLimitBreaker struct {
	mu     sync.Mutex
	state  BreakerState
	delay  time.Duration
	base   time.Duration
	max    time.Duration
	timer  *time.Timer
	logger *Logger

	pauseAudio  func()
	resumeAudio func()
}

func newRateLimitBreaker(base, max time.Duration, logger *Logger, pause, resume func()) *rateLimitBreaker {
	return &rateLimitBreaker{
		state:       BreakerClosed,
		delay:       base,
		base:        base,
		max:         max,
		logger:      logger.WithComponent("breaker"),
		pauseAudio:  pause,
		resumeAudio: resume,
	}
}

func (b *rateLimitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// OnRateLimit handles a rate-limit signal: Closed trips to Open; Open or
// HalfOpen extends the pause with a doubled recovery delay.
func (b *rateLimitBreaker) OnRateLimit() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.logger.WithField("recovery_delay", b.delay.String()).Warn("rate limited, pausing audio")
		b.state = BreakerOpen
		b.pauseAudio()
		b.scheduleHalfOpenLocked()
	case BreakerOpen, BreakerHalfOpen:
		b.delay = minDuration(b.delay*2, b.max)
		b.logger.WithField("recovery_delay", b.delay.String()).Warn("still rate limited, extending pause")
		b.state = BreakerOpen
		b.pauseAudio()
		b.scheduleHalfOpenLocked()
	}
}

// OnSuccess closes a half-open breaker and resets the recovery delay.
func (b *rateLimitBreaker) OnSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerHalfOpen {
		return
	}
	b.state = BreakerClosed
	b.delay = b.base
	b.logger.Info("rate limit cleared, breaker closed")
}

func (b *rateLimitBreaker) scheduleHalfOpenLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(b.delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.state != BreakerOpen {
			return
		}
		b.state = BreakerHalfOpen
		b.logger.Info("breaker half-open, resuming audio")
		b.resumeAudio()
	})
}

// Stop cancels any scheduled transition. Called during session teardown.
func (b *rateLimitBreaker) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}
