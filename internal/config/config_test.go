package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Set required environment variables
	os.Setenv("VOICE_AUTH_TOKEN", "test-token")
	defer os.Unsetenv("VOICE_AUTH_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.VoiceAuthToken != "test-token" {
		t.Errorf("Expected VoiceAuthToken 'test-token', got '%s'", cfg.VoiceAuthToken)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	os.Unsetenv("VOICE_AUTH_TOKEN")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when VOICE_AUTH_TOKEN is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	os.Setenv("VOICE_AUTH_TOKEN", "test-token")
	defer os.Unsetenv("VOICE_AUTH_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.VoiceAPIBaseURL != "https://api.blaze.vn/v1" {
		t.Errorf("Expected default VoiceAPIBaseURL, got '%s'", cfg.VoiceAPIBaseURL)
	}

	if cfg.STTBackend != STTBackendHTTP {
		t.Errorf("Expected default STTBackend 'http', got '%s'", cfg.STTBackend)
	}

	if cfg.TTSSpeakerID != "HN-Nu-2-BL" {
		t.Errorf("Expected default TTSSpeakerID 'HN-Nu-2-BL', got '%s'", cfg.TTSSpeakerID)
	}

	if cfg.TTSDelivery != "raw-sample" {
		t.Errorf("Expected default TTSDelivery 'raw-sample', got '%s'", cfg.TTSDelivery)
	}

	if cfg.TTSSampleRate != 24000 {
		t.Errorf("Expected default TTSSampleRate 24000, got %d", cfg.TTSSampleRate)
	}

	if cfg.ConnectTimeout() != 5*time.Second {
		t.Errorf("Expected default connect timeout 5s, got %v", cfg.ConnectTimeout())
	}

	if cfg.FadeDuration() != 10*time.Millisecond {
		t.Errorf("Expected default fade 10ms, got %v", cfg.FadeDuration())
	}

	if cfg.VADEnergyThreshold != 500.0 {
		t.Errorf("Expected default VADEnergyThreshold 500.0, got %f", cfg.VADEnergyThreshold)
	}

	if !cfg.MultiTurn() {
		t.Error("Expected default session mode to be multi-turn")
	}
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("VOICE_AUTH_TOKEN", "test-token")
	os.Setenv("TTS_SPEAKER_ID", "SG-Nam-1")
	defer os.Unsetenv("VOICE_AUTH_TOKEN")
	defer os.Unsetenv("TTS_SPEAKER_ID")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.TTSSpeakerID != "SG-Nam-1" {
		t.Errorf("Expected TTSSpeakerID 'SG-Nam-1', got '%s'", cfg.TTSSpeakerID)
	}
}

func TestLoad_DeepgramBackendRequiresKey(t *testing.T) {
	os.Setenv("VOICE_AUTH_TOKEN", "test-token")
	os.Setenv("STT_BACKEND", "deepgram")
	os.Unsetenv("DEEPGRAM_API_KEY")
	defer os.Unsetenv("VOICE_AUTH_TOKEN")
	defer os.Unsetenv("STT_BACKEND")

	if _, err := LoadFromEnv(); err == nil {
		t.Error("Expected error when DEEPGRAM_API_KEY is missing for the deepgram backend")
	}

	os.Setenv("DEEPGRAM_API_KEY", "dg-key")
	defer os.Unsetenv("DEEPGRAM_API_KEY")

	if _, err := LoadFromEnv(); err != nil {
		t.Errorf("Expected deepgram backend to load with a key, got %v", err)
	}
}

func TestValidate_DeliveryFormat(t *testing.T) {
	tests := []struct {
		name     string
		delivery string
		format   string
		wantErr  bool
	}{
		{"raw pcm", "raw-sample", "pcm", false},
		{"raw mp3", "raw-sample", "mp3", true},
		{"discrete mp3", "discrete-container", "mp3", false},
		{"discrete wav", "discrete-container", "wav", false},
		{"progressive pcm", "progressive-container", "pcm", true},
		{"progressive mp3", "progressive-container", "mp3", false},
		{"unknown", "blob", "mp3", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.TTSDelivery = tt.delivery
			cfg.TTSAudioFormat = tt.format
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSynthesisURL(t *testing.T) {
	cfg := validConfig()

	cfg.VoiceAPIBaseURL = "https://api.blaze.vn/v1/"
	if got := cfg.SynthesisURL(); got != "wss://api.blaze.vn/v1/tts/realtime" {
		t.Errorf("Expected wss URL, got '%s'", got)
	}

	cfg.VoiceAPIBaseURL = "http://localhost:9000"
	if got := cfg.SynthesisURL(); got != "ws://localhost:9000/tts/realtime" {
		t.Errorf("Expected ws URL, got '%s'", got)
	}

	cfg.TTSURL = "ws://override/tts"
	if got := cfg.SynthesisURL(); got != "ws://override/tts" {
		t.Errorf("Expected TTS_URL override, got '%s'", got)
	}
}

func TestGetEnv(t *testing.T) {
	os.Setenv("TEST_KEY", "test-value")
	defer os.Unsetenv("TEST_KEY")

	value := GetEnv("TEST_KEY", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_KEY", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}

func TestConfig_ResilienceDefaults(t *testing.T) {
	os.Setenv("VOICE_AUTH_TOKEN", "test-token")
	defer os.Unsetenv("VOICE_AUTH_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.CircuitBreakerMaxFailures != 5 {
		t.Errorf("Expected default CircuitBreakerMaxFailures 5, got %d", cfg.CircuitBreakerMaxFailures)
	}

	if cfg.CircuitBreakerResetTimeout != 30 {
		t.Errorf("Expected default CircuitBreakerResetTimeout 30, got %d", cfg.CircuitBreakerResetTimeout)
	}

	if cfg.RetryMaxAttempts != 3 {
		t.Errorf("Expected default RetryMaxAttempts 3, got %d", cfg.RetryMaxAttempts)
	}

	if cfg.RetryInitialBackoff != 250 {
		t.Errorf("Expected default RetryInitialBackoff 250, got %d", cfg.RetryInitialBackoff)
	}
}

func TestConfig_ObservabilityDefaults(t *testing.T) {
	os.Setenv("VOICE_AUTH_TOKEN", "test-token")
	// Clear LOG_LEVEL to ensure we get the default
	os.Unsetenv("LOG_LEVEL")
	defer os.Unsetenv("VOICE_AUTH_TOKEN")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	if cfg.LogPretty {
		t.Error("Expected default LogPretty false, got true")
	}

	if !cfg.MetricsEnabled {
		t.Error("Expected default MetricsEnabled true, got false")
	}
}

func validConfig() *Config {
	return &Config{
		VoiceAPIBaseURL:   "https://api.blaze.vn/v1",
		VoiceAuthToken:    "token",
		STTBackend:        STTBackendHTTP,
		TTSAudioFormat:    "pcm",
		TTSDelivery:       "raw-sample",
		TTSSampleRate:     24000,
		CaptureSampleRate: 16000,
		PlaybackGain:      1,
		SessionMode:       SessionModeMultiTurn,
	}
}
