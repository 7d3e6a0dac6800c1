package parlance

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TokenProvider supplies the bearer token presented during the WebSocket
// handshake. When nil the session falls back to the configured API key.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// Session is a realtime speech streaming session: it owns the WebSocket
// connection, the audio send loop, the receive loop and the callback
// dispatcher, and coordinates turn-taking, rate-limit recovery and
// reconnection across them.
type Session struct {
	config    *Config
	callbacks Callbacks
	logger    *Logger

	audioSource   AudioSource
	snapshotSink  SnapshotSink
	tokenProvider TokenProvider
	auditSink     func(call FunctionCallResult)

	correlationID string
	startedAt     time.Time

	stateMu sync.Mutex
	state   SessionState

	started   atomic.Bool
	connected atomic.Bool
	fatal     atomic.Bool

	conn    *websocket.Conn
	connMu  sync.Mutex
	writeMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	// connCancel cancels the current connection epoch so the
	// per-connection loops exit before a reconnect attempt begins.
	// Guarded by connMu: startLoops rewrites it on every reconnect.
	connCancel context.CancelFunc
	connLost   chan error

	audioCh     *audioChannel
	dispatch    *dispatcher
	turn        *turnCoordinator
	assembler   *funcCallAssembler
	breaker     *rateLimitBreaker
	audioPaused atomic.Bool

	transcripts *transcriptRing
	readyOnce   sync.Once
	stopOnce    sync.Once
	loopWG      sync.WaitGroup
	superWG     sync.WaitGroup
}

// SessionOption configures optional session collaborators.
type SessionOption func(*Session)

func WithAudioSource(src AudioSource) SessionOption {
	return func(s *Session) { s.audioSource = src }
}

func WithSnapshotSink(sink SnapshotSink) SessionOption {
	return func(s *Session) { s.snapshotSink = sink }
}

func WithTokenProvider(tp TokenProvider) SessionOption {
	return func(s *Session) { s.tokenProvider = tp }
}

func WithLogger(logger *Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithFunctionCallAudit registers a sink that receives every assembled
// function call in addition to the OnFunctionCall callback.
func WithFunctionCallAudit(sink func(call FunctionCallResult)) SessionOption {
	return func(s *Session) { s.auditSink = sink }
}

// NewSession builds a session from the config and callbacks. Nothing
// connects until Start is called.
func NewSession(config *Config, callbacks Callbacks, opts ...SessionOption) *Session {
	if config == nil {
		config = NewConfig()
	}
	s := &Session{
		config:      config,
		callbacks:   callbacks,
		logger:      GetGlobalLogger(),
		state:       StateIdle,
		connLost:    make(chan error, 1),
		transcripts: newTranscriptRing(config.TranscriptRingSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.WithComponent("session")
	return s
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.stateMu.Lock()
	prev := s.state
	s.state = state
	s.stateMu.Unlock()
	if prev != state {
		s.logger.WithField("from", string(prev)).WithField("to", string(state)).Debug("state transition")
	}
}

// CorrelationID returns the per-session identifier used in logs and the
// shutdown snapshot. Empty before Start.
func (s *Session) CorrelationID() string {
	return s.correlationID
}

// Start validates the config, dials the endpoint, performs the session
// handshake and launches the streaming loops. A second call on a running
// session returns ErrAlreadyStarted.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if issues := s.config.Validate(); len(issues) > 0 {
		s.started.Store(false)
		return NewSessionError("invalid configuration", ErrCodeConfigInvalid).AddDetail("issues", issues)
	}

	s.correlationID = uuid.New().String()
	s.logger = s.logger.WithSession(s.correlationID)
	s.startedAt = time.Now()

	s.ctx, s.cancel = context.WithCancel(ctx)

	s.dispatch = newDispatcher(256, s.logger)
	s.dispatch.Start()

	s.audioCh = newAudioChannel(s.config.AudioChannelCapacity, s.config.BackpressureThreshold, func(depth, capacity int) {
		s.emit(func(cb Callbacks) {
			if cb.OnBackpressure != nil {
				cb.OnBackpressure(depth, capacity)
			}
		})
	})

	s.turn = newTurnCoordinator(s, s.config.MinCommitBytes, s.logger)
	s.turn.onLatency = func(d time.Duration) {
		s.logger.WithField("latency_ms", d.Milliseconds()).Debug("response latency")
	}
	s.assembler = newFuncCallAssembler(s.config.FuncCallRetryDelay, s.logger, s.handleFunctionCall)
	s.breaker = newRateLimitBreaker(
		s.config.BreakerRecoveryDelay,
		s.config.BreakerMaxDelay,
		s.logger,
		s.pauseAudio,
		s.resumeAudio,
	)

	s.setState(StateConnecting)
	conn, err := s.connect(s.ctx)
	if err != nil {
		s.setState(StateIdle)
		s.dispatch.Stop()
		s.cancel()
		s.started.Store(false)
		return err
	}
	s.installConn(conn)
	s.emit(func(cb Callbacks) {
		if cb.OnConnected != nil {
			cb.OnConnected(s.correlationID)
		}
	})

	if err := s.configure(); err != nil {
		s.closeConn()
		s.setState(StateIdle)
		s.dispatch.Stop()
		s.cancel()
		s.started.Store(false)
		return err
	}

	if s.audioSource != nil {
		if err := s.audioSource.Start(s.PushAudio); err != nil {
			s.logger.WithError(err).Warn("audio source failed to start")
			s.notifyError(WrapError(err, ErrCodeAudioDevice))
		}
	}

	s.setState(StateStreaming)
	s.startLoops()
	s.superWG.Add(1)
	go s.supervise()
	return nil
}

// connect dials the endpoint with the configured handshake timeout. A
// deadline hit is reported as a connect timeout, distinct from caller
// cancellation.
func (s *Session) connect(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := url.Parse(s.config.Endpoint)
	if err != nil {
		return nil, WrapError(err, ErrCodeConfigInvalid)
	}
	q := endpoint.Query()
	if s.config.Model != "" {
		q.Set("model", s.config.Model)
	}
	endpoint.RawQuery = q.Encode()

	header := make(http.Header)
	token := s.config.APIKey
	if s.tokenProvider != nil {
		token, err = s.tokenProvider.Token(ctx)
		if err != nil {
			return nil, WrapError(err, ErrCodeAuthFailed)
		}
	}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	header.Set("OpenAI-Beta", "realtime=v1")
	for k, v := range s.config.Headers {
		header.Set(k, v)
	}

	dialCtx, dialCancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer dialCancel()

	dialer := websocket.Dialer{HandshakeTimeout: s.config.ConnectTimeout}
	conn, resp, err := dialer.DialContext(dialCtx, endpoint.String(), header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, WrapError(err, ErrCodeAuthFailed).AddDetail("status", resp.StatusCode)
		}
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, WrapError(err, ErrCodeConnectTimeout).AddDetail("timeout", s.config.ConnectTimeout.String())
		}
		return nil, WrapError(err, ErrCodeConnectionFailed)
	}
	return conn, nil
}

func (s *Session) installConn(conn *websocket.Conn) {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()
	s.connected.Store(true)
}

func (s *Session) closeConn() {
	s.connected.Store(false)
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		s.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		s.writeMu.Unlock()
		_ = conn.Close()
	}
}

// configure sends the session handshake and any context documents. The
// session is not usable for audio until this completes.
func (s *Session) configure() error {
	s.setState(StateConfiguring)
	if err := s.sendEvent(sessionUpdateMessage(s.config)); err != nil {
		return err
	}
	for _, path := range s.config.ContextDocuments {
		data, err := os.ReadFile(path)
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("skipping unreadable context document")
			continue
		}
		if err := s.sendEvent(conversationItemMessage("user", string(data))); err != nil {
			return err
		}
		s.logger.WithField("path", path).Debug("context document uploaded")
	}
	return nil
}

func (s *Session) startLoops() {
	conn := s.currentConn()
	epoch, cancel := context.WithCancel(s.ctx)
	s.connMu.Lock()
	s.connCancel = cancel
	s.connMu.Unlock()
	s.loopWG.Add(2)
	go s.receiveLoop(conn, cancel)
	go s.sendLoop(epoch)
}

func (s *Session) cancelEpoch() {
	s.connMu.Lock()
	cancel := s.connCancel
	s.connMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (s *Session) currentConn() *websocket.Conn {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	return s.conn
}

// PushAudio enqueues a PCM chunk for streaming. It never blocks: when
// the buffer is full the oldest chunk is evicted so live audio stays
// current. Registered audio sources call this through Start.
func (s *Session) PushAudio(pcm []byte) {
	if len(pcm) == 0 || !s.started.Load() {
		return
	}
	chunk := make([]byte, len(pcm))
	copy(chunk, pcm)
	if s.audioCh.Write(chunk) {
		s.logger.Warn("audio buffer full, dropped oldest chunk")
	}
}

// SendText injects a typed user message into the conversation and
// requests a response for it.
func (s *Session) SendText(text string) error {
	if !s.connected.Load() {
		return ErrNotConnected
	}
	if err := s.sendEvent(conversationItemMessage("user", text)); err != nil {
		return err
	}
	s.transcripts.Add("user: " + text)
	s.turn.RequestResponse()
	return nil
}

// sendEvent serializes one client event onto the socket. All writes to
// the connection funnel through here under writeMu.
func (s *Session) sendEvent(msg map[string]interface{}) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil || !s.connected.Load() {
		return ErrNotConnected
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := conn.WriteJSON(msg); err != nil {
		return WrapError(err, ErrCodeWebSocket)
	}
	return nil
}

func (s *Session) sendLoop(epoch context.Context) {
	defer s.loopWG.Done()
	for {
		chunk, ok := s.audioCh.Read(epoch)
		if !ok {
			return
		}
		if s.audioPaused.Load() {
			continue
		}
		if err := s.sendEvent(audioAppendMessage(chunk)); err != nil {
			if errors.Is(err, ErrNotConnected) {
				// The connection is being replaced or torn down; the
				// chunk is dropped, not a loss signal.
				continue
			}
			s.logger.WithError(err).Warn("audio append failed")
			s.signalConnLost(err)
			continue
		}
		s.turn.NoteAudioAppended(len(chunk))
	}
}

// signalConnLost hands a connection failure to the supervisor. At most
// one signal is buffered; duplicates from the send and receive loops
// collapse into it.
func (s *Session) signalConnLost(err error) {
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.connLost <- err:
	default:
	}
}

func (s *Session) receiveLoop(conn *websocket.Conn, cancelEpoch context.CancelFunc) {
	defer s.loopWG.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.signalConnLost(err)
			cancelEpoch()
			return
		}
		ev, decodeErr := decodeServerEvent(data)
		if decodeErr != nil {
			s.logger.WithError(decodeErr).Warn("dropping undecodable frame")
			continue
		}
		s.dispatchEvent(ev)
	}
}

// supervise reacts to connection loss: it either reconnects with
// exponential backoff or tears the session down when recovery is
// impossible.
func (s *Session) supervise() {
	defer s.superWG.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case cause := <-s.connLost:
			s.connected.Store(false)
			if s.fatal.Load() || !s.config.EnableReconnection {
				s.logger.WithError(cause).Info("connection lost, not reconnecting")
				go s.Stop()
				return
			}
			s.logger.WithError(cause).Warn("connection lost, reconnecting")
			if !s.reconnect() {
				go s.Stop()
				return
			}
		}
	}
}

// reconnect runs the backoff loop. It returns true when streaming has
// resumed on a fresh connection.
func (s *Session) reconnect() bool {
	s.setState(StateReconnecting)
	s.closeConn()
	s.cancelEpoch()
	s.loopWG.Wait()
	// Both loops have exited, so a still-queued loss signal belongs to
	// the connection being replaced.
	select {
	case <-s.connLost:
	default:
	}

	bo := newReconnectBackoff(s.config.ReconnectBaseDelay, s.config.ReconnectMaxDelay)
	for attempt := 1; attempt <= s.config.MaxReconnectAttempts; attempt++ {
		delay := bo.NextBackOff()
		s.emit(func(cb Callbacks) {
			if cb.OnReconnecting != nil {
				cb.OnReconnecting(attempt, delay)
			}
		})
		s.logger.WithField("attempt", attempt).WithField("delay", delay.String()).Info("reconnect attempt")

		select {
		case <-s.ctx.Done():
			return false
		case <-time.After(delay):
		}

		conn, err := s.connect(s.ctx)
		if err != nil {
			if isFatalError(err) {
				s.notifyError(WrapError(err, ErrCodeAuthFailed))
				return false
			}
			s.logger.WithError(err).Warn("reconnect attempt failed")
			continue
		}

		s.installConn(conn)
		if err := s.configure(); err != nil {
			s.logger.WithError(err).Warn("handshake failed after reconnect")
			s.closeConn()
			continue
		}
		s.setState(StateStreaming)
		s.startLoops()
		s.emit(func(cb Callbacks) {
			if cb.OnConnected != nil {
				cb.OnConnected(s.correlationID)
			}
		})
		return true
	}

	s.notifyError(NewSessionError("reconnect attempts exhausted", ErrCodeReconnectFailed).
		AddDetail("attempts", s.config.MaxReconnectAttempts))
	return false
}

// newReconnectBackoff yields base, base*2, base*4, ... clamped to max,
// with no jitter so retry timing stays predictable in logs.
func newReconnectBackoff(base, max time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = max
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// dispatchEvent routes one decoded server event. Runs on the receive
// loop; anything user-visible is enqueued on the dispatcher rather than
// invoked inline.
func (s *Session) dispatchEvent(ev *serverEvent) {
	switch ev.Type {
	case eventTypeError:
		s.handleServerError(ev)

	case eventTypeSessionCreated:
		s.logger.Debug("session created")
	case eventTypeSessionUpdated:
		s.readyOnce.Do(func() {
			s.emit(func(cb Callbacks) {
				if cb.OnReady != nil {
					cb.OnReady()
				}
			})
		})

	case eventTypeSpeechStarted:
		s.emit(func(cb Callbacks) {
			if cb.OnSpeechStarted != nil {
				cb.OnSpeechStarted()
			}
		})
		if s.config.CancelOnSpeechStart && s.turn.ResponseActive() {
			if err := s.sendEvent(responseCancelMessage()); err != nil {
				s.logger.WithError(err).Debug("barge-in cancel failed")
			}
		}

	case eventTypeSpeechStopped:
		s.emit(func(cb Callbacks) {
			if cb.OnSpeechStopped != nil {
				cb.OnSpeechStopped()
			}
		})
		if err := s.turn.FinalizeTurn(); err != nil {
			s.logger.WithError(err).Warn("turn finalize failed")
		}

	case eventTypeTranscriptionCompleted:
		if ev.Transcript != "" {
			s.transcripts.Add("user: " + ev.Transcript)
			transcript := ev.Transcript
			s.emit(func(cb Callbacks) {
				if cb.OnUserTranscript != nil {
					cb.OnUserTranscript(transcript)
				}
			})
		}

	case eventTypeTranscriptionFailed:
		msg := "transcription failed"
		if ev.Error != nil && ev.Error.Message != "" {
			msg = ev.Error.Message
		}
		if mentionsRateLimit(msg) {
			s.breaker.OnRateLimit()
			s.notifyWarning("transcription rate limited: " + msg)
		} else {
			s.notifyError(NewSessionError(msg, ErrCodeTranscriptionFailed))
		}

	case eventTypeBufferCommitted, eventTypeBufferCleared, eventTypeResponseCreated, eventTypeRateLimitsUpdated:
		s.logger.WithField("event", ev.Type).Trace("protocol event")

	case eventTypeResponseTextDelta:
		delta := ev.Delta
		s.emit(func(cb Callbacks) {
			if cb.OnTextDelta != nil {
				cb.OnTextDelta(delta)
			}
		})
	case eventTypeResponseTextDone:
		if ev.Text != "" {
			s.transcripts.Add("assistant: " + ev.Text)
		}
		text := ev.Text
		s.emit(func(cb Callbacks) {
			if cb.OnTextDone != nil {
				cb.OnTextDone(text)
			}
		})

	case eventTypeResponseAudioTranscriptDelta:
		delta := ev.Delta
		s.emit(func(cb Callbacks) {
			if cb.OnAudioTranscriptDelta != nil {
				cb.OnAudioTranscriptDelta(delta)
			}
		})
	case eventTypeResponseAudioTranscriptDone:
		if ev.Transcript != "" {
			s.transcripts.Add("assistant: " + ev.Transcript)
		}
		transcript := ev.Transcript
		s.emit(func(cb Callbacks) {
			if cb.OnAudioTranscriptDone != nil {
				cb.OnAudioTranscriptDone(transcript)
			}
		})

	case eventTypeResponseAudioDelta:
		pcm, err := decodeAudioDelta(ev.Delta)
		if err != nil {
			s.logger.WithError(err).Warn("dropping undecodable audio delta")
			return
		}
		s.emit(func(cb Callbacks) {
			if cb.OnAudioDelta != nil {
				cb.OnAudioDelta(pcm)
			}
		})
	case eventTypeResponseAudioDone:
		s.logger.Trace("audio response complete")

	case eventTypeResponseOutputItemAdded:
		if ev.Item != nil && ev.Item.Type == "function_call" {
			s.assembler.RecordName(ev.Item.CallID, ev.Item.Name)
		}
	case eventTypeFunctionCallArgumentsDelta:
		s.assembler.AppendDelta(ev.CallID, ev.Name, ev.Delta)
	case eventTypeFunctionCallArgumentsDone:
		s.assembler.Complete(s.ctx, ev.CallID, ev.Name)

	case eventTypeResponseDone:
		s.handleResponseDone(ev)

	default:
		s.logger.WithField("event", ev.Type).Trace("unhandled event")
	}
}

func (s *Session) handleResponseDone(ev *serverEvent) {
	failed := false
	if ev.Response != nil && ev.Response.Status == "failed" {
		failed = true
		code, msg := "", "response failed"
		if ev.Response.StatusDetails != nil && ev.Response.StatusDetails.Error != nil {
			code = ev.Response.StatusDetails.Error.Code
			if ev.Response.StatusDetails.Error.Message != "" {
				msg = ev.Response.StatusDetails.Error.Message
			}
		}
		switch classifyServerError(code, msg) {
		case classQuotaExhausted:
			s.quotaExhausted(msg)
		case classRateLimited:
			s.breaker.OnRateLimit()
			s.notifyWarning("response rate limited: " + msg)
		default:
			s.notifyError(NewSessionError(msg, ErrCodeResponseFailed).AddDetail("code", code))
		}
	}
	if !failed {
		s.breaker.OnSuccess()
	}
	// Assemblies still waiting on a repair retry must not outlive their
	// turn.
	s.assembler.FlushPending()
	s.turn.CompleteResponse()
}

func (s *Session) handleServerError(ev *serverEvent) {
	code, msg := "", "server error"
	if ev.Error != nil {
		code = ev.Error.Code
		if ev.Error.Message != "" {
			msg = ev.Error.Message
		}
	}
	logger := s.logger.WithField("code", code)

	switch classifyServerError(code, msg) {
	case classFatal:
		logger.Error("fatal server error: " + msg)
		s.fatal.Store(true)
		s.notifyError(NewSessionError(msg, ErrCodeAuthFailed).AddDetail("server_code", code))
		go s.Stop()
	case classQuotaExhausted:
		s.quotaExhausted(msg)
	case classRateLimited:
		logger.Warn("rate limited: " + msg)
		s.breaker.OnRateLimit()
		s.notifyWarning("rate limited: " + msg)
	case classIgnorable:
		logger.Debug("ignorable server error: " + msg)
	default:
		logger.Warn("server error: " + msg)
		s.notifyError(NewSessionError(msg, ErrCodeValidation).AddDetail("server_code", code))
	}
}

// quotaExhausted is terminal: it bypasses the circuit breaker entirely
// because no amount of waiting restores a spent quota.
func (s *Session) quotaExhausted(msg string) {
	s.logger.Error("quota exhausted: " + msg)
	s.fatal.Store(true)
	s.notifyError(NewSessionError(msg, ErrCodeQuotaExhausted))
	go s.Stop()
}

func (s *Session) pauseAudio() {
	s.audioPaused.Store(true)
	s.notifyInfo("audio streaming paused")
	if err := s.sendEvent(audioClearMessage()); err != nil {
		s.logger.WithError(err).Debug("buffer clear on pause failed")
	}
}

func (s *Session) resumeAudio() {
	s.audioPaused.Store(false)
	s.notifyInfo("audio streaming resumed")
}

func (s *Session) handleFunctionCall(call FunctionCallResult) {
	if s.auditSink != nil {
		s.auditSink(call)
	}
	s.emit(func(cb Callbacks) {
		if cb.OnFunctionCall != nil {
			cb.OnFunctionCall(call)
		}
	})
}

func (s *Session) emit(fn func(cb Callbacks)) {
	cb := s.callbacks
	if s.dispatch == nil {
		fn(cb)
		return
	}
	s.dispatch.Enqueue(func() { fn(cb) })
}

func (s *Session) notifyError(se *SessionError) {
	s.logger.LogSessionError(se)
	s.emit(func(cb Callbacks) {
		if cb.OnError != nil {
			cb.OnError(se)
		}
	})
}

func (s *Session) notifyWarning(msg string) {
	s.emit(func(cb Callbacks) {
		if cb.OnWarning != nil {
			cb.OnWarning(msg)
		}
	})
}

func (s *Session) notifyInfo(msg string) {
	s.emit(func(cb Callbacks) {
		if cb.OnInfo != nil {
			cb.OnInfo(msg)
		}
	})
}

// Stop tears the session down in order: stop producing audio, drain the
// loops and the supervisor, close the socket, persist the snapshot, then
// release the dispatcher. Safe to call multiple times and from inside a
// callback; later calls are no-ops, and a session that never started
// has nothing to tear down.
func (s *Session) Stop() {
	if !s.started.Load() {
		return
	}
	s.stopOnce.Do(func() {
		s.setState(StateDraining)

		if s.audioSource != nil {
			if err := s.audioSource.Stop(); err != nil {
				s.logger.WithError(err).Warn("audio source stop failed")
			}
		}

		if s.cancel != nil {
			s.cancel()
		}
		s.cancelEpoch()
		s.closeConn()
		s.loopWG.Wait()
		s.superWG.Wait()

		if s.breaker != nil {
			s.breaker.Stop()
		}
		if s.assembler != nil {
			s.assembler.FlushPending()
			s.assembler.Wait()
		}
		if s.audioCh != nil {
			s.audioCh.Close()
		}

		s.persistSnapshot()

		s.emit(func(cb Callbacks) {
			if cb.OnDisconnected != nil {
				cb.OnDisconnected()
			}
		})
		if s.dispatch != nil {
			s.dispatch.Stop()
		}

		s.setState(StateIdle)
		s.logger.Info("session stopped")
	})
}

func (s *Session) persistSnapshot() {
	if s.snapshotSink == nil {
		return
	}
	snap := SessionSnapshot{
		CorrelationID: s.correlationID,
		StartedAt:     s.startedAt,
		EndedAt:       time.Now(),
		Transcripts:   s.transcripts.All(),
	}
	if err := s.snapshotSink.SaveSnapshot(snap); err != nil {
		s.logger.WithError(err).Warn("snapshot persist failed")
	}
}

// transcriptRing keeps the most recent transcript lines for the
// shutdown snapshot.
type transcriptRing struct {
	mu    sync.Mutex
	lines []string
	max   int
}

func newTranscriptRing(max int) *transcriptRing {
	if max <= 0 {
		max = 1
	}
	return &transcriptRing{max: max}
}

func (r *transcriptRing) Add(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.max {
		r.lines = r.lines[len(r.lines)-r.max:]
	}
}

func (r *transcriptRing) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}
