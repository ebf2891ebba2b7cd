package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/capture"
	"github.com/lexiqai/voice-client/internal/config"
	"github.com/lexiqai/voice-client/internal/conversation"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/playback"
	"github.com/lexiqai/voice-client/internal/resilience"
	"github.com/lexiqai/voice-client/internal/statusfeed"
	"github.com/lexiqai/voice-client/internal/synthesis"
	"github.com/lexiqai/voice-client/internal/transcribe"
	"github.com/lexiqai/voice-client/internal/turn"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("api_base_url", cfg.VoiceAPIBaseURL).
		Str("stt_backend", cfg.STTBackend).
		Str("tts_delivery", cfg.TTSDelivery).
		Str("session_mode", cfg.SessionMode).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Voice client starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Transcription
	breaker := resilience.NewCircuitBreaker("transcription", cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second)
	breaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("Circuit breaker state changed")
	})
	transcriber, transcriberCheck := newTranscriber(cfg, breaker, logger)

	// Synthesis
	speakers := synthesis.NewSpeakerClient(cfg.VoiceAPIBaseURL)
	speakerID := resolveSpeaker(ctx, speakers, cfg.TTSSpeakerID, logger)
	dialer := synthesis.NewDialer(synthesis.Config{
		URL:            cfg.SynthesisURL(),
		Token:          cfg.VoiceAuthToken,
		SpeakerID:      speakerID,
		Language:       cfg.TTSLanguage,
		Normalization:  cfg.TTSNormalization,
		AudioFormat:    cfg.TTSAudioFormat,
		AudioQuality:   cfg.TTSAudioQuality,
		AudioSpeed:     cfg.TTSAudioSpeed,
		Model:          cfg.TTSModel,
		SampleRate:     cfg.TTSSampleRate,
		Delivery:       synthesis.Delivery(cfg.TTSDelivery),
		ConnectTimeout: cfg.ConnectTimeout(),
	}, observability.ForComponent(logger, "synthesis"))

	// Playback
	factory, closeOutput, err := newDeviceFactory(cfg)
	if err != nil {
		logger.Fatal().Err(err).Str("output", cfg.PlaybackOutput).Msg("Failed to open playback output")
	}
	defer closeOutput()
	engine := playback.NewEngine(playback.Config{
		FadeDuration:   cfg.FadeDuration(),
		Gain:           cfg.PlaybackGain,
		PrebufferBytes: cfg.PlaybackPrebufferBytes,
		PCMSampleRate:  cfg.TTSSampleRate,
	}, factory, logger)
	defer engine.Close()

	// Conversation
	ctrl := turn.NewController(logger)
	dispatcher := transcribe.NewDispatcher(transcriber, transcribe.NewRegistry(), logger)
	session := conversation.NewSession(ctrl, dispatcher, engine, dialer, conversation.EchoReplier{},
		conversation.Options{MultiTurn: cfg.MultiTurn(), Greeting: cfg.Greeting}, logger)
	hub := statusfeed.NewHub(session.Turn(), session.ID(), observability.WithConversation("", session.ID()))
	defer hub.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"transcription": transcriberCheck,
		"synthesis":     speakers.HealthCheck,
	}))
	mux.HandleFunc("/status", hub.HandleStatus())
	mux.HandleFunc("/status/stream", hub.HandleStream())
	mux.HandleFunc("/session/start", sessionControl(func() error { return session.Start(ctx) }))
	mux.HandleFunc("/session/stop", sessionControl(func() error { session.Stop(); return nil }))
	mux.HandleFunc("/session/reset", sessionControl(func() error { session.Reset(); return nil }))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	// WriteTimeout stays unset: /status/stream is long-lived.
	server := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("status_stream", fmt.Sprintf("ws://localhost:%s/status/stream", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	if err := session.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start conversation")
	}

	captureDone := make(chan error, 1)
	go func() {
		captureDone <- runCapture(ctx, cfg, session, logger)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
	case err := <-captureDone:
		if err != nil {
			logger.Error().Err(err).Msg("Capture stopped")
		} else {
			logger.Info().Msg("Capture source exhausted, waiting for signal")
		}
		<-quit
	}

	logger.Info().Msg("Shutting down...")
	session.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Voice client exited gracefully")
}

func newTranscriber(cfg *config.Config, breaker *resilience.CircuitBreaker, logger zerolog.Logger) (transcribe.Transcriber, observability.HealthCheckFunc) {
	logger = logger.With().Str("component", "transcribe").Logger()

	if cfg.STTBackend == config.STTBackendDeepgram {
		client := transcribe.NewDeepgramClient(transcribe.DeepgramConfig{
			APIKey:   cfg.DeepgramAPIKey,
			Model:    cfg.DeepgramModel,
			Language: cfg.DeepgramLanguage,
			Timeout:  cfg.TranscriptionTimeout(),
		}, breaker, logger)
		// No API call here to avoid streaming costs; the key is validated at load.
		check := func(ctx context.Context) (bool, error) {
			state, requests, failures, rate := breaker.GetStats()
			if state == resilience.StateOpen {
				return false, fmt.Errorf("%w: %d of %d requests failed (%.0f%%)",
					resilience.ErrCircuitOpen, failures, requests, rate)
			}
			return true, nil
		}
		return client, check
	}

	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = cfg.RetryMaxAttempts
	retry.InitialBackoff = time.Duration(cfg.RetryInitialBackoff) * time.Millisecond

	client := transcribe.NewHTTPClient(transcribe.HTTPConfig{
		BaseURL:     cfg.VoiceAPIBaseURL,
		Token:       cfg.VoiceAuthToken,
		LazyProcess: cfg.STTLazyProcess,
		Timeout:     cfg.TranscriptionTimeout(),
		Retry:       retry,
	}, breaker, logger)
	return client, client.HealthCheck
}

// resolveSpeaker checks the configured voice against the service's list.
// The configured id is kept when the list cannot be fetched.
func resolveSpeaker(ctx context.Context, speakers *synthesis.SpeakerClient, configured string, logger zerolog.Logger) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	list, err := speakers.List(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("speaker_id", configured).Msg("Could not list speakers, using configured voice")
		if configured == "" {
			return synthesis.DefaultSpeakerID
		}
		return configured
	}

	id := synthesis.ResolveSpeaker(list, configured)
	if id != configured {
		logger.Warn().Str("configured", configured).Str("speaker_id", id).Msg("Configured speaker not offered, falling back")
	}
	logger.Info().Str("speaker_id", id).Int("available", len(list)).Msg("Speaker selected")
	return id
}

// newDeviceFactory maps PLAYBACK_OUTPUT to a device factory. The returned
// close func releases the output once the engine is done with it.
func newDeviceFactory(cfg *config.Config) (playback.DeviceFactory, func(), error) {
	rate := cfg.TTSSampleRate

	switch out := cfg.PlaybackOutput; {
	case out == "" || out == "discard":
		return func() (playback.Device, error) {
			return playback.NewDiscardDevice(rate, cfg.PlaybackRealtime), nil
		}, func() {}, nil

	case out == "portaudio":
		terminate, err := playback.InitPortAudio()
		if err != nil {
			return nil, nil, err
		}
		return func() (playback.Device, error) {
			return playback.NewPortAudioDevice(rate)
		}, terminate, nil

	case strings.HasSuffix(strings.ToLower(out), ".wav"):
		wav, err := playback.CreateWAVFile(out, rate)
		if err != nil {
			return nil, nil, err
		}
		return writerFactory(wav, rate, cfg.PlaybackRealtime), func() { _ = wav.Close() }, nil

	default:
		f, err := os.Create(out)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create output file: %w", err)
		}
		return writerFactory(f, rate, cfg.PlaybackRealtime), func() { _ = f.Close() }, nil
	}
}

func writerFactory(w io.Writer, rate int, realtime bool) playback.DeviceFactory {
	return func() (playback.Device, error) {
		return playback.NewWriterDevice(w, rate, realtime), nil
	}
}

// runCapture feeds PCM16 mono audio from stdin or a file through the VAD
// adapter into the session.
func runCapture(ctx context.Context, cfg *config.Config, l capture.Listener, logger zerolog.Logger) error {
	var r io.Reader = os.Stdin
	if cfg.CaptureSource != "-" {
		f, err := os.Open(cfg.CaptureSource)
		if err != nil {
			return fmt.Errorf("failed to open capture source: %w", err)
		}
		defer f.Close()
		r = f
	}

	adapter := capture.NewAdapter(capture.Config{
		SampleRate: cfg.CaptureSampleRate,
		VAD: audio.VADConfig{
			EnergyThreshold: cfg.VADEnergyThreshold,
			SilenceFrames:   cfg.VADSilenceFrames,
			MinSpeechFrames: cfg.VADMinSpeechFrames,
			FrameSize:       cfg.VADFrameSize,
		},
		PreRoll:  time.Duration(cfg.VADPreRollMs) * time.Millisecond,
		Realtime: cfg.CaptureRealtime,
	}, logger)

	err := adapter.Run(ctx, r, l)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// sessionControl exposes a session operation as a POST endpoint.
func sessionControl(op func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := op(); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
