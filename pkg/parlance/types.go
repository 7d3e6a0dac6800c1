package parlance

import "time"

// SessionState enum
type SessionState string

const (
	StateIdle         SessionState = "idle"
	StateConnecting   SessionState = "connecting"
	StateConfiguring  SessionState = "configuring"
	StateStreaming    SessionState = "streaming"
	StateReconnecting SessionState = "reconnecting"
	StateDraining     SessionState = "draining"
)

// FunctionCallResult is the fully assembled outcome of a streamed
// function call: the resolved name, the free-text explanation the model
// attached, the code payload (if any) and the raw argument JSON.
type FunctionCallResult struct {
	CallID       string
	Name         string
	Explanation  string
	Code         string
	RawArguments string
}

// SessionSnapshot is handed to the SnapshotSink at shutdown.
type SessionSnapshot struct {
	CorrelationID string    `json:"correlation_id"`
	StartedAt     time.Time `json:"started_at"`
	EndedAt       time.Time `json:"ended_at"`
	Transcripts   []string  `json:"transcripts"`
}

// AudioSource is a push-style PCM producer (mono, 16-bit little-endian,
// fixed sample rate). The session only starts, stops and subscribes to
// it; capture details stay outside the core.
type AudioSource interface {
	Start(push func(pcm []byte)) error
	Stop() error
}

// SnapshotSink persists the session snapshot at shutdown. Failures are
// logged by the session and never block teardown.
type SnapshotSink interface {
	SaveSnapshot(snap SessionSnapshot) error
}

// Callbacks is the typed set of notification channels a session publishes
// to. Every field is optional; invocations are serialized through the
// session's dispatcher, so no callback ever runs concurrently with
// another or reentrantly from a network loop.
type Callbacks struct {
	OnConnected    func(correlationID string)
	OnReady        func()
	OnDisconnected func()
	OnReconnecting func(attempt int, delay time.Duration)

	OnInfo    func(msg string)
	OnWarning func(msg string)
	OnError   func(err *SessionError)

	OnUserTranscript func(text string)
	OnSpeechStarted  func()
	OnSpeechStopped  func()

	OnTextDelta            func(delta string)
	OnTextDone             func(text string)
	OnAudioTranscriptDelta func(delta string)
	OnAudioTranscriptDone  func(text string)
	OnAudioDelta           func(pcm []byte)

	OnFunctionCall func(call FunctionCallResult)

	OnBackpressure func(depth, capacity int)
}
