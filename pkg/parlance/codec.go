package parlance

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"
)

// generateEventID generates a unique client event ID.
func generateEventID() string {
	return "evt_" + uuid.New().String()[:12]
}

// decodeServerEvent parses an inbound frame. Malformed JSON gets one
// repair pass before the message is given up on; the repair is a
// documented best-effort fallback, not a guarantee.
func decodeServerEvent(data []byte) (*serverEvent, error) {
	var ev serverEvent
	err := json.Unmarshal(data, &ev)
	if err != nil {
		if _, ok := err.(*json.SyntaxError); !ok {
			return nil, WrapError(err, ErrCodeJSONParse)
		}
		fixed, repairErr := jsonrepair.JSONRepair(string(data))
		if repairErr != nil {
			return nil, WrapError(err, ErrCodeJSONParse)
		}
		if err := json.Unmarshal([]byte(fixed), &ev); err != nil {
			return nil, WrapError(err, ErrCodeJSONParse)
		}
	}
	ev.Raw = data
	return &ev, nil
}

// Outgoing message builders. Every client event carries a generated
// event_id so server errors can be tied back to the message that caused
// them.

func sessionUpdateMessage(cfg *Config) map[string]interface{} {
	session := map[string]interface{}{
		"modalities":          cfg.Modalities,
		"voice":               cfg.Voice,
		"input_audio_format":  cfg.InputAudioFormat,
		"output_audio_format": cfg.OutputAudioFormat,
		"turn_detection": map[string]interface{}{
			"type":                "server_vad",
			"threshold":           cfg.VADThreshold,
			"prefix_padding_ms":   cfg.PrefixPaddingMs,
			"silence_duration_ms": cfg.SilenceDurationMs,
		},
	}
	if cfg.Instructions != "" {
		session["instructions"] = cfg.Instructions
	}
	if cfg.TranscriptionModel != "" {
		session["input_audio_transcription"] = map[string]interface{}{
			"model": cfg.TranscriptionModel,
		}
	}
	if len(cfg.Tools) > 0 {
		tools := make([]map[string]interface{}, 0, len(cfg.Tools))
		for _, t := range cfg.Tools {
			tools = append(tools, map[string]interface{}{
				"type":        "function",
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			})
		}
		session["tools"] = tools
		session["tool_choice"] = "auto"
	}
	return map[string]interface{}{
		"event_id": generateEventID(),
		"type":     eventTypeSessionUpdate,
		"session":  session,
	}
}

func audioAppendMessage(pcm []byte) map[string]interface{} {
	return map[string]interface{}{
		"event_id": generateEventID(),
		"type":     eventTypeInputAudioBufferAppend,
		"audio":    base64.StdEncoding.EncodeToString(pcm),
	}
}

func audioCommitMessage() map[string]interface{} {
	return map[string]interface{}{
		"event_id": generateEventID(),
		"type":     eventTypeInputAudioBufferCommit,
	}
}

func audioClearMessage() map[string]interface{} {
	return map[string]interface{}{
		"event_id": generateEventID(),
		"type":     eventTypeInputAudioBufferClear,
	}
}

func conversationItemMessage(role, text string) map[string]interface{} {
	contentType := "input_text"
	if role == "assistant" {
		contentType = "text"
	}
	return map[string]interface{}{
		"event_id": generateEventID(),
		"type":     eventTypeConversationItemCreate,
		"item": map[string]interface{}{
			"type": "message",
			"role": role,
			"content": []map[string]interface{}{
				{"type": contentType, "text": text},
			},
		},
	}
}

func responseCreateMessage() map[string]interface{} {
	return map[string]interface{}{
		"event_id": generateEventID(),
		"type":     eventTypeResponseCreate,
	}
}

func responseCancelMessage() map[string]interface{} {
	return map[string]interface{}{
		"event_id": generateEventID(),
		"type":     eventTypeResponseCancel,
	}
}

// decodeAudioDelta decodes the base64 payload of an audio delta event.
func decodeAudioDelta(delta string) ([]byte, error) {
	pcm, err := base64.StdEncoding.DecodeString(delta)
	if err != nil {
		return nil, fmt.Errorf("decoding audio delta: %w", err)
	}
	return pcm, nil
}
