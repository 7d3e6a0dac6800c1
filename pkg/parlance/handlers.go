package parlance

import (
	"encoding/binary"
	"math"
	"time"
)

// MergeCallbacks composes two callback sets into one. For every field
// present in both, a's callback runs first, then b's. Either side may be
// sparse.
func MergeCallbacks(a, b Callbacks) Callbacks {
	return Callbacks{
		OnConnected:    chain1(a.OnConnected, b.OnConnected),
		OnReady:        chain0(a.OnReady, b.OnReady),
		OnDisconnected: chain0(a.OnDisconnected, b.OnDisconnected),
		OnReconnecting: func(attempt int, delay time.Duration) {
			if a.OnReconnecting != nil {
				a.OnReconnecting(attempt, delay)
			}
			if b.OnReconnecting != nil {
				b.OnReconnecting(attempt, delay)
			}
		},
		OnInfo:    chain1(a.OnInfo, b.OnInfo),
		OnWarning: chain1(a.OnWarning, b.OnWarning),
		OnError: func(err *SessionError) {
			if a.OnError != nil {
				a.OnError(err)
			}
			if b.OnError != nil {
				b.OnError(err)
			}
		},
		OnUserTranscript:       chain1(a.OnUserTranscript, b.OnUserTranscript),
		OnSpeechStarted:        chain0(a.OnSpeechStarted, b.OnSpeechStarted),
		OnSpeechStopped:        chain0(a.OnSpeechStopped, b.OnSpeechStopped),
		OnTextDelta:            chain1(a.OnTextDelta, b.OnTextDelta),
		OnTextDone:             chain1(a.OnTextDone, b.OnTextDone),
		OnAudioTranscriptDelta: chain1(a.OnAudioTranscriptDelta, b.OnAudioTranscriptDelta),
		OnAudioTranscriptDone:  chain1(a.OnAudioTranscriptDone, b.OnAudioTranscriptDone),
		OnAudioDelta:           chain1(a.OnAudioDelta, b.OnAudioDelta),
		OnFunctionCall: func(call FunctionCallResult) {
			if a.OnFunctionCall != nil {
				a.OnFunctionCall(call)
			}
			if b.OnFunctionCall != nil {
				b.OnFunctionCall(call)
			}
		},
		OnBackpressure: func(depth, capacity int) {
			if a.OnBackpressure != nil {
				a.OnBackpressure(depth, capacity)
			}
			if b.OnBackpressure != nil {
				b.OnBackpressure(depth, capacity)
			}
		},
	}
}

func chain0(a, b func()) func() {
	return func() {
		if a != nil {
			a()
		}
		if b != nil {
			b()
		}
	}
}

func chain1[T any](a, b func(T)) func(T) {
	return func(v T) {
		if a != nil {
			a(v)
		}
		if b != nil {
			b(v)
		}
	}
}

// LoggingCallbacks returns a callback set that records every session
// event on the given logger. Merge it under application callbacks to
// get tracing without writing handlers by hand.
func LoggingCallbacks(logger *Logger) Callbacks {
	logger = logger.WithComponent("events")
	return Callbacks{
		OnConnected: func(correlationID string) {
			logger.WithField("correlation_id", correlationID).Info("connected")
		},
		OnReady:        func() { logger.Info("session ready") },
		OnDisconnected: func() { logger.Info("disconnected") },
		OnReconnecting: func(attempt int, delay time.Duration) {
			logger.WithField("attempt", attempt).WithField("delay", delay.String()).Info("reconnecting")
		},
		OnInfo:    func(msg string) { logger.Info(msg) },
		OnWarning: func(msg string) { logger.Warn(msg) },
		OnError:   func(err *SessionError) { logger.LogSessionError(err) },
		OnUserTranscript: func(text string) {
			logger.WithField("text", text).Info("user transcript")
		},
		OnSpeechStarted: func() { logger.Debug("speech started") },
		OnSpeechStopped: func() { logger.Debug("speech stopped") },
		OnTextDone: func(text string) {
			logger.WithField("text", text).Info("assistant text")
		},
		OnAudioTranscriptDone: func(text string) {
			logger.WithField("text", text).Info("assistant transcript")
		},
		OnFunctionCall: func(call FunctionCallResult) {
			logger.WithField("call_id", call.CallID).WithField("name", call.Name).Info("function call")
		},
		OnBackpressure: func(depth, capacity int) {
			logger.WithField("depth", depth).WithField("capacity", capacity).Warn("audio buffer backpressure")
		},
	}
}

// AudioLevelMonitor wraps an OnAudioDelta callback and also reports the
// RMS level of each PCM chunk, for meters and silence indicators.
func AudioLevelMonitor(onLevel func(rms float64), next func(pcm []byte)) func(pcm []byte) {
	return func(pcm []byte) {
		if len(pcm) >= 2 && onLevel != nil {
			var sum float64
			n := len(pcm) / 2
			for i := 0; i < n; i++ {
				sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
				v := float64(sample) / 32768
				sum += v * v
			}
			onLevel(math.Sqrt(sum / float64(n)))
		}
		if next != nil {
			next(pcm)
		}
	}
}
