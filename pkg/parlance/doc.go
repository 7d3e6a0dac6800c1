// Package parlance streams microphone audio to a realtime speech API
// over a persistent WebSocket and routes the server's events to typed
// callbacks.
//
// A Session owns the connection and three loops: one pushing buffered
// PCM to the server, one reading server events, and one dispatcher
// serializing callback invocations. Turn-taking follows the server's
// voice activity detection; when the server reports a speech stop the
// session commits the audio buffer and requests exactly one response.
// Rate limits pause audio through a circuit breaker that probes for
// recovery with a doubling delay; dropped connections reconnect with
// exponential backoff. Streaming function-call arguments are assembled
// per call and repaired when the model emits truncated JSON.
//
// Minimal use:
//
//	cfg := parlance.NewConfig()
//	mic, _ := parlance.NewMicrophoneSource(cfg.SampleRate, 0)
//	sess := parlance.NewSession(cfg, parlance.Callbacks{
//		OnUserTranscript: func(text string) { fmt.Println("you:", text) },
//		OnTextDone:       func(text string) { fmt.Println("assistant:", text) },
//	}, parlance.WithAudioSource(mic))
//	if err := sess.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer sess.Stop()
package parlance
