package parlance

// Client event types (sent from client to server).
const (
	eventTypeSessionUpdate = "session.update"

	eventTypeInputAudioBufferAppend = "input_audio_buffer.append"
	eventTypeInputAudioBufferCommit = "input_audio_buffer.commit"
	eventTypeInputAudioBufferClear  = "input_audio_buffer.clear"

	eventTypeConversationItemCreate = "conversation.item.create"

	eventTypeResponseCreate = "response.create"
	eventTypeResponseCancel = "response.cancel"
)

// Server event types (sent from server to client).
const (
	eventTypeError = "error"

	eventTypeSessionCreated = "session.created"
	eventTypeSessionUpdated = "session.updated"

	eventTypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	eventTypeTranscriptionFailed    = "conversation.item.input_audio_transcription.failed"

	eventTypeSpeechStarted   = "input_audio_buffer.speech_started"
	eventTypeSpeechStopped   = "input_audio_buffer.speech_stopped"
	eventTypeBufferCommitted = "input_audio_buffer.committed"
	eventTypeBufferCleared   = "input_audio_buffer.cleared"

	eventTypeResponseCreated         = "response.created"
	eventTypeResponseDone            = "response.done"
	eventTypeResponseOutputItemAdded = "response.output_item.added"

	eventTypeResponseTextDelta = "response.text.delta"
	eventTypeResponseTextDone  = "response.text.done"

	eventTypeResponseAudioDelta = "response.audio.delta"
	eventTypeResponseAudioDone  = "response.audio.done"

	eventTypeResponseAudioTranscriptDelta = "response.audio_transcript.delta"
	eventTypeResponseAudioTranscriptDone  = "response.audio_transcript.done"

	eventTypeFunctionCallArgumentsDelta = "response.function_call_arguments.delta"
	eventTypeFunctionCallArgumentsDone  = "response.function_call_arguments.done"

	eventTypeRateLimitsUpdated = "rate_limits.updated"
)

// serverEvent is the inbound wire envelope. Events are discriminated by
// Type; only the fields relevant to that type are populated.
type serverEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	ItemID       string `json:"item_id,omitempty"`
	AudioStartMs int    `json:"audio_start_ms,omitempty"`
	AudioEndMs   int    `json:"audio_end_ms,omitempty"`

	Transcript string `json:"transcript,omitempty"`
	Text       string `json:"text,omitempty"`
	Delta      string `json:"delta,omitempty"`

	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`

	Item     *eventItem     `json:"item,omitempty"`
	Response *eventResponse `json:"response,omitempty"`
	Error    *eventError    `json:"error,omitempty"`

	// Raw is the original JSON message, kept for logging and audit.
	Raw []byte `json:"-"`
}

// eventItem appears on response.output_item.added and carries the
// function name for a streamed call before any done event arrives.
type eventItem struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type,omitempty"`
	CallID string `json:"call_id,omitempty"`
	Name   string `json:"name,omitempty"`
	Status string `json:"status,omitempty"`
}

type eventResponse struct {
	ID            string              `json:"id,omitempty"`
	Status        string              `json:"status,omitempty"`
	StatusDetails *eventStatusDetails `json:"status_details,omitempty"`
}

type eventStatusDetails struct {
	Type   string      `json:"type,omitempty"`
	Reason string      `json:"reason,omitempty"`
	Error  *eventError `json:"error,omitempty"`
}

type eventError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Param   string `json:"param,omitempty"`
}
