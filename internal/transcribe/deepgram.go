package transcribe

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/capture"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/resilience"
)

const (
	deepgramChunk    = 100 * time.Millisecond
	deepgramTail     = time.Second
	deepgramSettle   = 1500 * time.Millisecond
	deepgramProvider = "deepgram"
)

// DeepgramConfig configures the streaming backend.
type DeepgramConfig struct {
	APIKey   string
	Model    string
	Language string
	Timeout  time.Duration
}

// DeepgramClient transcribes each segment over its own Deepgram live
// connection and returns the concatenated final results.
type DeepgramClient struct {
	cfg     DeepgramConfig
	breaker *resilience.CircuitBreaker
	logger  zerolog.Logger
}

func NewDeepgramClient(cfg DeepgramConfig, breaker *resilience.CircuitBreaker, logger zerolog.Logger) *DeepgramClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &DeepgramClient{
		cfg:     cfg,
		breaker: breaker,
		logger:  logger.With().Str("component", "transcribe").Str("backend", deepgramProvider).Logger(),
	}
}

// messageCallbackHandler embeds the default handler and overrides only the
// methods we need.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	collector *finalCollector
}

func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.collector.add(message)
	return nil
}

func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	m.collector.fail(&TranscriptionError{
		Provider:  deepgramProvider,
		Message:   fmt.Sprintf("%+v", errorResponse),
		Retryable: false,
	})
	return nil
}

func (d *DeepgramClient) Transcribe(ctx context.Context, seg capture.Segment) (string, error) {
	if len(seg.Samples) == 0 {
		return "", &TranscriptionError{Provider: deepgramProvider, Message: "empty segment", Cause: ErrEmptyAudio}
	}

	var text string
	call := func(ctx context.Context) error {
		var err error
		text, err = d.stream(ctx, seg)
		return err
	}

	var err error
	if d.breaker != nil {
		err = d.breaker.Execute(ctx, call)
		observability.UpdateCircuitBreakerState(d.breaker.Name(), int(d.breaker.GetState()))
		if err != nil && ctx.Err() == nil {
			observability.IncrementCircuitBreakerFailures(d.breaker.Name())
		}
	} else {
		err = call(ctx)
	}
	if err != nil {
		return "", err
	}
	return text, nil
}

func (d *DeepgramClient) stream(ctx context.Context, seg capture.Segment) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		InterimResults: false,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     seg.SampleRate,
	}

	collector := newFinalCollector()
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		collector:              collector,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, d.cfg.APIKey, nil, tOptions, callback)
	if err != nil {
		return "", &TranscriptionError{Provider: deepgramProvider, Message: "failed to create client", Cause: err}
	}
	if !client.Connect() {
		return "", &TranscriptionError{Provider: deepgramProvider, Message: "failed to connect", Retryable: true}
	}
	defer client.Finish()

	pcm := audio.Float32ToPCM16(seg.Samples)
	pcm = append(pcm, make([]byte, int(deepgramTail.Seconds()*float64(seg.SampleRate))*2)...)
	step := int(deepgramChunk.Seconds()*float64(seg.SampleRate)) * 2
	for off := 0; off < len(pcm); off += step {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		end := off + step
		if end > len(pcm) {
			end = len(pcm)
		}
		if _, err := client.Write(pcm[off:end]); err != nil {
			return "", &TranscriptionError{Provider: deepgramProvider, Message: "failed to send audio", Cause: err}
		}
	}

	text, err := collector.wait(ctx, deepgramSettle)
	if err != nil {
		return "", err
	}
	d.logger.Debug().
		Uint64("segment_seq", seg.Seq).
		Int("chars", len(text)).
		Msg("Transcription received")
	return text, nil
}

// finalCollector gathers final results until no new result arrives within
// the settle window.
type finalCollector struct {
	mu     sync.Mutex
	parts  []string
	err    error
	notify chan struct{}
}

func newFinalCollector() *finalCollector {
	return &finalCollector{notify: make(chan struct{}, 1)}
}

func (f *finalCollector) add(msg *msginterfaces.MessageResponse) {
	if msg == nil || !msg.IsFinal || len(msg.Channel.Alternatives) == 0 {
		return
	}
	text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
	if text == "" {
		return
	}
	f.mu.Lock()
	f.parts = append(f.parts, text)
	f.mu.Unlock()
	f.signal()
}

func (f *finalCollector) fail(err error) {
	f.mu.Lock()
	if f.err == nil {
		f.err = err
	}
	f.mu.Unlock()
	f.signal()
}

func (f *finalCollector) signal() {
	select {
	case f.notify <- struct{}{}:
	default:
	}
}

func (f *finalCollector) wait(ctx context.Context, settle time.Duration) (string, error) {
	timer := time.NewTimer(settle)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-f.notify:
			f.mu.Lock()
			err := f.err
			f.mu.Unlock()
			if err != nil {
				return "", err
			}
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(settle)
		case <-timer.C:
			f.mu.Lock()
			defer f.mu.Unlock()
			return strings.Join(f.parts, " "), f.err
		}
	}
}
