package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Transcription backends
const (
	STTBackendHTTP     = "http"
	STTBackendDeepgram = "deepgram"
)

// Session modes decide where the turn settles after a completed reply.
const (
	SessionModeMultiTurn = "multi-turn"
	SessionModeOneShot   = "one-shot"
)

// Config holds all configuration for the voice client
type Config struct {
	// Observability server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Voice API (transcription endpoint, speaker listing, realtime synthesis)
	VoiceAPIBaseURL string `envconfig:"VOICE_API_BASE_URL" default:"https://api.blaze.vn/v1"`
	VoiceAuthToken  string `envconfig:"VOICE_AUTH_TOKEN" required:"true"`

	// Transcription configuration
	STTBackend     string `envconfig:"STT_BACKEND" default:"http"`        // http, deepgram
	STTLazyProcess bool   `envconfig:"STT_LAZY_PROCESS" default:"false"`  // lazy_process query flag
	STTTimeout     int    `envconfig:"STT_TIMEOUT" default:"30"`          // seconds

	// Deepgram backend (only used when STT_BACKEND=deepgram)
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"vi"`

	// Realtime synthesis configuration
	TTSURL            string `envconfig:"TTS_URL" default:""` // overrides the URL derived from VOICE_API_BASE_URL
	TTSSpeakerID      string `envconfig:"TTS_SPEAKER_ID" default:"HN-Nu-2-BL"`
	TTSLanguage       string `envconfig:"TTS_LANGUAGE" default:"vi"`
	TTSNormalization  string `envconfig:"TTS_NORMALIZATION" default:"basic"`
	TTSAudioFormat    string `envconfig:"TTS_AUDIO_FORMAT" default:"pcm"`      // pcm, mp3, wav
	TTSDelivery       string `envconfig:"TTS_DELIVERY" default:"raw-sample"`   // raw-sample, discrete-container, progressive-container
	TTSAudioQuality   int    `envconfig:"TTS_AUDIO_QUALITY" default:"32"`
	TTSAudioSpeed     string `envconfig:"TTS_AUDIO_SPEED" default:"1"`
	TTSModel          string `envconfig:"TTS_MODEL" default:""`
	TTSSampleRate     int    `envconfig:"TTS_SAMPLE_RATE" default:"24000"`     // Hz, raw PCM payloads
	TTSConnectTimeout int    `envconfig:"TTS_CONNECT_TIMEOUT" default:"5000"`  // milliseconds

	// Playback configuration
	PlaybackFadeMs         int     `envconfig:"PLAYBACK_FADE_MS" default:"10"`
	PlaybackGain           float64 `envconfig:"PLAYBACK_GAIN" default:"1.0"`
	PlaybackPrebufferBytes int     `envconfig:"PLAYBACK_PREBUFFER_BYTES" default:"16384"`
	PlaybackOutput         string  `envconfig:"PLAYBACK_OUTPUT" default:"discard"` // discard, portaudio, or a file path
	PlaybackRealtime       bool    `envconfig:"PLAYBACK_REALTIME" default:"true"`

	// Capture configuration
	CaptureSource      string  `envconfig:"CAPTURE_SOURCE" default:"-"` // "-" reads PCM16 from stdin
	CaptureSampleRate  int     `envconfig:"CAPTURE_SAMPLE_RATE" default:"16000"`
	CaptureRealtime    bool    `envconfig:"CAPTURE_REALTIME" default:"false"`
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"25"`      // Frames of silence to mark speech end
	VADFrameSize       int     `envconfig:"VAD_FRAME_SIZE" default:"320"`         // Samples per frame (20ms at 16kHz)
	VADMinSpeechFrames int     `envconfig:"VAD_MIN_SPEECH_FRAMES" default:"3"`    // Loud frames before speech start
	VADPreRollMs       int     `envconfig:"VAD_PRE_ROLL_MS" default:"200"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"250"`        // Initial backoff in milliseconds

	// Conversation behaviour
	SessionMode string `envconfig:"SESSION_MODE" default:"multi-turn"` // multi-turn, one-shot
	Greeting    string `envconfig:"GREETING" default:""`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load the env file (ignore error if it doesn't exist)
	_ = godotenv.Load(GetEnv("VOICE_ENV_FILE", ".env"))

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig cannot express.
func (c *Config) Validate() error {
	if c.VoiceAuthToken == "" {
		return fmt.Errorf("VOICE_AUTH_TOKEN is required")
	}

	switch c.STTBackend {
	case STTBackendHTTP:
	case STTBackendDeepgram:
		if c.DeepgramAPIKey == "" {
			return fmt.Errorf("DEEPGRAM_API_KEY is required when STT_BACKEND=deepgram")
		}
	default:
		return fmt.Errorf("unknown STT_BACKEND %q", c.STTBackend)
	}

	switch c.TTSDelivery {
	case "raw-sample":
		if c.TTSAudioFormat != "pcm" {
			return fmt.Errorf("TTS_DELIVERY=raw-sample requires TTS_AUDIO_FORMAT=pcm, got %q", c.TTSAudioFormat)
		}
	case "discrete-container", "progressive-container":
		if c.TTSAudioFormat != "mp3" && c.TTSAudioFormat != "wav" {
			return fmt.Errorf("TTS_DELIVERY=%s requires a container TTS_AUDIO_FORMAT (mp3, wav), got %q", c.TTSDelivery, c.TTSAudioFormat)
		}
	default:
		return fmt.Errorf("unknown TTS_DELIVERY %q", c.TTSDelivery)
	}

	switch c.SessionMode {
	case SessionModeMultiTurn, SessionModeOneShot:
	default:
		return fmt.Errorf("unknown SESSION_MODE %q", c.SessionMode)
	}

	if c.TTSSampleRate <= 0 || c.CaptureSampleRate <= 0 {
		return fmt.Errorf("sample rates must be positive")
	}
	if c.PlaybackGain < 0 {
		return fmt.Errorf("PLAYBACK_GAIN must not be negative")
	}

	return nil
}

// SynthesisURL returns the realtime synthesis endpoint, derived from the API
// base URL unless TTS_URL is set.
func (c *Config) SynthesisURL() string {
	if c.TTSURL != "" {
		return c.TTSURL
	}
	base := strings.TrimRight(c.VoiceAPIBaseURL, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/tts/realtime"
}

// ConnectTimeout is the synthesis handshake guard.
func (c *Config) ConnectTimeout() time.Duration {
	return time.Duration(c.TTSConnectTimeout) * time.Millisecond
}

func (c *Config) TranscriptionTimeout() time.Duration {
	return time.Duration(c.STTTimeout) * time.Second
}

func (c *Config) FadeDuration() time.Duration {
	return time.Duration(c.PlaybackFadeMs) * time.Millisecond
}

// MultiTurn reports whether the session stays active after a reply.
func (c *Config) MultiTurn() bool {
	return c.SessionMode == SessionModeMultiTurn
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
