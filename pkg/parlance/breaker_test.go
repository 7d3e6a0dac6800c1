package parlance

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForState(t *testing.T, b *rateLimitBreaker, want BreakerState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if b.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("breaker never reached %s (stuck at %s)", want, b.State())
}

func TestBreakerTripsAndRecovers(t *testing.T) {
	var pauses, resumes atomic.Int32
	b := newRateLimitBreaker(30*time.Millisecond, time.Second, newTestLogger(),
		func() { pauses.Add(1) },
		func() { resumes.Add(1) },
	)
	defer b.Stop()

	require.Equal(t, BreakerClosed, b.State())

	b.OnRateLimit()
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, int32(1), pauses.Load())

	waitForState(t, b, BreakerHalfOpen)
	assert.Equal(t, int32(1), resumes.Load())

	b.OnSuccess()
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerDoublesDelayWhileOpen(t *testing.T) {
	b := newRateLimitBreaker(10*time.Millisecond, 25*time.Millisecond, newTestLogger(), func() {}, func() {})
	defer b.Stop()

	b.OnRateLimit()
	assert.Equal(t, 10*time.Millisecond, b.delay)

	b.OnRateLimit()
	assert.Equal(t, 20*time.Millisecond, b.delay)

	// Ceiling clamps further doubling.
	b.OnRateLimit()
	assert.Equal(t, 25*time.Millisecond, b.delay)
}

func TestBreakerHalfOpenRateLimitReopens(t *testing.T) {
	var pauses atomic.Int32
	b := newRateLimitBreaker(20*time.Millisecond, time.Second, newTestLogger(),
		func() { pauses.Add(1) }, func() {})
	defer b.Stop()

	b.OnRateLimit()
	waitForState(t, b, BreakerHalfOpen)

	// Probe failed: back to Open with a longer delay.
	b.OnRateLimit()
	assert.Equal(t, BreakerOpen, b.State())
	assert.Equal(t, 40*time.Millisecond, b.delay)
	assert.Equal(t, int32(2), pauses.Load())
}

func TestBreakerSuccessResetsDelay(t *testing.T) {
	b := newRateLimitBreaker(15*time.Millisecond, time.Second, newTestLogger(), func() {}, func() {})
	defer b.Stop()

	b.OnRateLimit()
	b.OnRateLimit()
	assert.Equal(t, 30*time.Millisecond, b.delay)

	waitForState(t, b, BreakerHalfOpen)
	b.OnSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 15*time.Millisecond, b.delay)
}

func TestBreakerSuccessIgnoredWhenNotHalfOpen(t *testing.T) {
	b := newRateLimitBreaker(time.Hour, time.Hour, newTestLogger(), func() {}, func() {})
	defer b.Stop()

	b.OnSuccess()
	assert.Equal(t, BreakerClosed, b.State())

	b.OnRateLimit()
	b.OnSuccess()
	assert.Equal(t, BreakerOpen, b.State())
}
