package parlance

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Error codes as constants
const (
	ErrCodeConnectionFailed    = "CONNECTION_FAILED"
	ErrCodeConnectTimeout      = "CONNECT_TIMEOUT"
	ErrCodeReconnectFailed     = "RECONNECT_FAILED"
	ErrCodeNotConnected        = "NOT_CONNECTED"
	ErrCodeAlreadyStarted      = "ALREADY_STARTED"
	ErrCodeWebSocket           = "WEBSOCKET_ERROR"
	ErrCodeAuthFailed          = "AUTH_FAILED"
	ErrCodeQuotaExhausted      = "QUOTA_EXHAUSTED"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeTranscriptionFailed = "TRANSCRIPTION_FAILED"
	ErrCodeResponseFailed      = "RESPONSE_FAILED"
	ErrCodeJSONParse           = "JSON_PARSE_ERROR"
	ErrCodeConfigInvalid       = "CONFIG_INVALID"
	ErrCodeAudioDevice         = "AUDIO_DEVICE_ERROR"
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeUnknown             = "UNKNOWN_ERROR"
)

// Sentinel errors for the session lifecycle.
var (
	ErrAlreadyStarted = &SessionError{Message: "session already started", Code: ErrCodeAlreadyStarted}
	ErrNotConnected   = &SessionError{Message: "not connected", Code: ErrCodeNotConnected}
)

// SessionError carries an error code and optional structured details
// alongside the message, so callers can branch on the failure class
// without string matching.
type SessionError struct {
	Message   string
	Code      string
	Details   map[string]interface{}
	Timestamp time.Time
	err       error
}

func NewSessionError(message, code string) *SessionError {
	return &SessionError{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

func (e *SessionError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s (%s): %v", e.Message, e.Code, e.err)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

func (e *SessionError) Unwrap() error {
	return e.err
}

// Is matches by error code so sentinel comparisons via errors.Is work.
func (e *SessionError) Is(target error) bool {
	t, ok := target.(*SessionError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func (e *SessionError) AddDetail(key string, value interface{}) *SessionError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// WrapError wraps any error as a SessionError with the given code.
func WrapError(err error, code string) *SessionError {
	if err == nil {
		return nil
	}
	se := NewSessionError(err.Error(), code)
	se.err = err
	return se
}

// errorClass is the failure taxonomy the session loop acts on.
type errorClass int

const (
	classRecoverable    errorClass = iota // reconnect with backoff
	classFatal                            // stop, never reconnect
	classQuotaExhausted                   // terminal, distinct from rate limiting
	classRateLimited                      // pause audio, circuit breaker
	classIgnorable                        // log and discard
	classValidation                       // surface to caller, keep connection
)

// fatalServerCodes are error codes from the server that make the session
// unusable regardless of retries.
var fatalServerCodes = []string{
	"invalid_api_key",
	"invalid_authentication",
	"authentication_error",
	"permission_denied",
	"model_not_found",
	"unsupported_model",
}

var ignorableServerPhrases = []string{
	"no active response",
	"cancellation failed",
	"already has an active response",
	"buffer too small",
	"buffer is empty",
	"empty commit",
}

// classifyServerError maps a server error event onto the taxonomy. Unknown
// codes default to validation errors: they are surfaced but do not tear
// down the connection.
func classifyServerError(code, message string) errorClass {
	lowCode := strings.ToLower(code)
	lowMsg := strings.ToLower(message)

	for _, c := range fatalServerCodes {
		if lowCode == c {
			return classFatal
		}
	}
	if strings.Contains(lowCode, "insufficient_quota") || strings.Contains(lowMsg, "quota") || strings.Contains(lowMsg, "exceeded your current") {
		return classQuotaExhausted
	}
	if strings.Contains(lowCode, "rate_limit") || strings.Contains(lowMsg, "rate limit") || strings.Contains(lowMsg, "too many requests") {
		return classRateLimited
	}
	for _, p := range ignorableServerPhrases {
		if strings.Contains(lowMsg, p) {
			return classIgnorable
		}
	}
	if strings.Contains(lowCode, "auth") || strings.Contains(lowCode, "permission") {
		return classFatal
	}
	return classValidation
}

// mentionsRateLimit reports whether a free-text failure message indicates
// server-side rate limiting. Transcription failures only carry text.
func mentionsRateLimit(message string) bool {
	low := strings.ToLower(message)
	return strings.Contains(low, "rate limit") || strings.Contains(low, "rate_limit") || strings.Contains(low, "429")
}

// isFatalError reports whether err must never trigger a reconnect.
func isFatalError(err error) bool {
	var se *SessionError
	if errors.As(err, &se) {
		switch se.Code {
		case ErrCodeAuthFailed, ErrCodeQuotaExhausted, ErrCodeConfigInvalid:
			return true
		}
	}
	return false
}
