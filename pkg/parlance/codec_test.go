package parlance

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeServerEvent(t *testing.T) {
	ev, err := decodeServerEvent([]byte(`{
		"type": "conversation.item.input_audio_transcription.completed",
		"item_id": "item_1",
		"transcript": "hello there"
	}`))
	require.NoError(t, err)
	assert.Equal(t, eventTypeTranscriptionCompleted, ev.Type)
	assert.Equal(t, "item_1", ev.ItemID)
	assert.Equal(t, "hello there", ev.Transcript)
}

func TestDecodeServerEventError(t *testing.T) {
	ev, err := decodeServerEvent([]byte(`{
		"type": "error",
		"error": {"type": "invalid_request_error", "code": "rate_limit_exceeded", "message": "slow down"}
	}`))
	require.NoError(t, err)
	require.NotNil(t, ev.Error)
	assert.Equal(t, "rate_limit_exceeded", ev.Error.Code)
	assert.Equal(t, "slow down", ev.Error.Message)
}

func TestDecodeServerEventRepairsTruncatedFrame(t *testing.T) {
	ev, err := decodeServerEvent([]byte(`{"type": "response.text.delta", "delta": "hel`))
	require.NoError(t, err)
	assert.Equal(t, eventTypeResponseTextDelta, ev.Type)
	assert.Equal(t, "hel", ev.Delta)
}

func TestGenerateEventID(t *testing.T) {
	a, b := generateEventID(), generateEventID()
	assert.True(t, strings.HasPrefix(a, "evt_"))
	assert.Len(t, a, 16)
	assert.NotEqual(t, a, b)
}

func TestSessionUpdateMessage(t *testing.T) {
	cfg := NewConfig()
	cfg.Instructions = "be brief"
	cfg.Tools = []ToolDefinition{{
		Name:        "lookup",
		Description: "look things up",
		Parameters:  map[string]interface{}{"type": "object"},
	}}

	msg := sessionUpdateMessage(cfg)
	assert.Equal(t, eventTypeSessionUpdate, msg["type"])
	assert.NotEmpty(t, msg["event_id"])

	session, ok := msg["session"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "be brief", session["instructions"])
	assert.Equal(t, cfg.Voice, session["voice"])
	assert.Equal(t, "pcm16", session["input_audio_format"])
	assert.Equal(t, "auto", session["tool_choice"])

	vad, ok := session["turn_detection"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "server_vad", vad["type"])
	assert.Equal(t, cfg.VADThreshold, vad["threshold"])

	transcription, ok := session["input_audio_transcription"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, cfg.TranscriptionModel, transcription["model"])

	tools, ok := session["tools"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, tools, 1)
	assert.Equal(t, "function", tools[0]["type"])
	assert.Equal(t, "lookup", tools[0]["name"])
}

func TestAudioAppendMessageRoundTrip(t *testing.T) {
	pcm := []byte{1, 2, 3, 4, 5}
	msg := audioAppendMessage(pcm)

	assert.Equal(t, eventTypeInputAudioBufferAppend, msg["type"])
	encoded, ok := msg["audio"].(string)
	require.True(t, ok)
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	assert.Equal(t, pcm, decoded)
}

func TestConversationItemMessage(t *testing.T) {
	msg := conversationItemMessage("user", "hello")
	item := msg["item"].(map[string]interface{})
	content := item["content"].([]map[string]interface{})
	assert.Equal(t, "input_text", content[0]["type"])
	assert.Equal(t, "hello", content[0]["text"])

	msg = conversationItemMessage("assistant", "hi")
	item = msg["item"].(map[string]interface{})
	content = item["content"].([]map[string]interface{})
	assert.Equal(t, "text", content[0]["type"])
}

func TestDecodeAudioDelta(t *testing.T) {
	pcm, err := decodeAudioDelta(base64.StdEncoding.EncodeToString([]byte{9, 8, 7}))
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 8, 7}, pcm)

	_, err = decodeAudioDelta("not base64!!!")
	assert.Error(t, err)
}
