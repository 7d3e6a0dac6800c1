package parlance

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// ToolDefinition declares a function the model may call during a session.
type ToolDefinition struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	Parameters  map[string]interface{} `json:"parameters" yaml:"parameters"`
}

// Config holds everything a session needs: endpoint and auth, the session
// configuration sent during the handshake, and the numeric knobs of the
// failure-recovery machinery. All of the latter are configuration, not
// protocol invariants.
type Config struct {
	Endpoint string            `yaml:"endpoint"`
	APIKey   string            `yaml:"api_key"`
	Headers  map[string]string `yaml:"headers"`

	Model              string           `yaml:"model"`
	Voice              string           `yaml:"voice"`
	Instructions       string           `yaml:"instructions"`
	Modalities         []string         `yaml:"modalities"`
	InputAudioFormat   string           `yaml:"input_audio_format"`
	OutputAudioFormat  string           `yaml:"output_audio_format"`
	TranscriptionModel string           `yaml:"transcription_model"`
	VADThreshold       float64          `yaml:"vad_threshold"`
	PrefixPaddingMs    int              `yaml:"prefix_padding_ms"`
	SilenceDurationMs  int              `yaml:"silence_duration_ms"`
	Tools              []ToolDefinition `yaml:"tools"`
	ContextDocuments   []string         `yaml:"context_documents"`

	SampleRate int `yaml:"sample_rate"`

	EnableReconnection   bool          `yaml:"enable_reconnection"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`

	MinCommitBytes        int  `yaml:"min_commit_bytes"`
	AudioChannelCapacity  int  `yaml:"audio_channel_capacity"`
	BackpressureThreshold int  `yaml:"backpressure_threshold"`
	CancelOnSpeechStart   bool `yaml:"cancel_on_speech_start"`

	BreakerRecoveryDelay time.Duration `yaml:"breaker_recovery_delay"`
	BreakerMaxDelay      time.Duration `yaml:"breaker_max_delay"`

	FuncCallRetryDelay time.Duration `yaml:"func_call_retry_delay"`
	TranscriptRingSize int           `yaml:"transcript_ring_size"`

	SnapshotDir string `yaml:"snapshot_dir"`
	AuditDir    string `yaml:"audit_dir"`
}

// NewConfig returns a config populated with defaults and any overrides
// found in the environment (a .env file is honored when present).
func NewConfig() *Config {
	c := &Config{
		Endpoint:           "wss://api.openai.com/v1/realtime",
		Model:              "gpt-realtime",
		Voice:              "alloy",
		Modalities:         []string{"text", "audio"},
		InputAudioFormat:   "pcm16",
		OutputAudioFormat:  "pcm16",
		TranscriptionModel: "whisper-1",
		VADThreshold:       0.5,
		PrefixPaddingMs:    300,
		SilenceDurationMs:  500,
		Headers:            make(map[string]string),

		SampleRate: 24000,

		EnableReconnection:   true,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ConnectTimeout:       15 * time.Second,

		MinCommitBytes:        3200,
		AudioChannelCapacity:  64,
		BackpressureThreshold: 48,
		CancelOnSpeechStart:   true,

		BreakerRecoveryDelay: 5 * time.Second,
		BreakerMaxDelay:      60 * time.Second,

		FuncCallRetryDelay: 500 * time.Millisecond,
		TranscriptRingSize: 50,
	}

	c.loadFromEnv()
	return c
}

func (c *Config) loadFromEnv() {
	_ = godotenv.Load()

	if key := os.Getenv("PARLANCE_API_KEY"); key != "" {
		c.APIKey = key
	}
	if endpoint := os.Getenv("PARLANCE_ENDPOINT"); endpoint != "" {
		c.Endpoint = endpoint
	}
	if model := os.Getenv("PARLANCE_MODEL"); model != "" {
		c.Model = model
	}
	if voice := os.Getenv("PARLANCE_VOICE"); voice != "" {
		c.Voice = voice
	}

	c.EnableReconnection = os.Getenv("PARLANCE_DISABLE_RECONNECT") != "true"

	if attempts := os.Getenv("PARLANCE_MAX_RECONNECT_ATTEMPTS"); attempts != "" {
		if val, err := strconv.Atoi(attempts); err == nil {
			c.MaxReconnectAttempts = val
		}
	}
	if delay := os.Getenv("PARLANCE_RECONNECT_BASE_DELAY"); delay != "" {
		if val, err := time.ParseDuration(delay); err == nil {
			c.ReconnectBaseDelay = val
		}
	}
	if timeout := os.Getenv("PARLANCE_CONNECT_TIMEOUT"); timeout != "" {
		if val, err := time.ParseDuration(timeout); err == nil {
			c.ConnectTimeout = val
		}
	}
	if dir := os.Getenv("PARLANCE_SNAPSHOT_DIR"); dir != "" {
		c.SnapshotDir = dir
	}
	if dir := os.Getenv("PARLANCE_AUDIT_DIR"); dir != "" {
		c.AuditDir = dir
	}
}

// LoadConfigFile reads a YAML config file on top of the env-derived
// defaults. Values present in the file win.
func LoadConfigFile(path string) (*Config, error) {
	c := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return c, nil
}

// Validate returns a list of issues
func (c *Config) Validate() []string {
	issues := []string{}

	if c.APIKey == "" {
		issues = append(issues, "API key not set (PARLANCE_API_KEY)")
	}
	if !strings.HasPrefix(c.Endpoint, "ws://") && !strings.HasPrefix(c.Endpoint, "wss://") {
		issues = append(issues, fmt.Sprintf("invalid WebSocket endpoint: %s", c.Endpoint))
	}
	if c.MinCommitBytes <= 0 {
		issues = append(issues, "min_commit_bytes must be positive")
	}
	if c.AudioChannelCapacity <= 0 {
		issues = append(issues, "audio_channel_capacity must be positive")
	}
	if c.BackpressureThreshold > c.AudioChannelCapacity {
		issues = append(issues, "backpressure_threshold exceeds audio_channel_capacity")
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		issues = append(issues, "reconnect delays misconfigured")
	}
	if c.TranscriptRingSize <= 0 {
		issues = append(issues, "transcript_ring_size must be positive")
	}

	return issues
}
