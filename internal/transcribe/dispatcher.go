package transcribe

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/capture"
	"github.com/lexiqai/voice-client/internal/observability"
)

// Dispatcher runs transcriptions through a Transcriber while keeping each
// one registered for barge-in cancellation.
type Dispatcher struct {
	transcriber Transcriber
	registry    *Registry
	logger      zerolog.Logger
}

func NewDispatcher(t Transcriber, registry *Registry, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		transcriber: t,
		registry:    registry,
		logger:      logger.With().Str("component", "transcribe").Logger(),
	}
}

// Registry returns the registry requests are tracked in.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// Transcribe blocks until the segment is transcribed, fails, or is
// cancelled. It returns ErrCancelled when the request was aborted, even if
// the backend produced a result afterwards.
func (d *Dispatcher) Transcribe(ctx context.Context, seg capture.Segment) (string, error) {
	req := d.registry.Register(ctx, seg.Seq)
	defer d.registry.Complete(req)

	start := time.Now()
	text, err := d.transcriber.Transcribe(req.Context(), seg)
	latency := time.Since(start)

	if req.Cancelled() {
		observability.RecordTranscription("cancelled", latency)
		d.logger.Debug().
			Uint64("segment_seq", seg.Seq).
			Str("request_id", req.ID).
			Msg("Discarding result of cancelled transcription")
		return "", ErrCancelled
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			observability.RecordTranscription("cancelled", latency)
			return "", ErrCancelled
		}
		observability.RecordTranscription("error", latency)
		if !errors.Is(err, ErrTranscriptionFailed) {
			err = &TranscriptionError{Provider: "dispatcher", Message: "transcription failed", Cause: err}
		}
		d.logger.Warn().
			Err(err).
			Uint64("segment_seq", seg.Seq).
			Str("request_id", req.ID).
			Dur("latency", latency).
			Msg("Transcription failed")
		return "", err
	}

	observability.RecordTranscription("success", latency)
	d.logger.Info().
		Uint64("segment_seq", seg.Seq).
		Str("request_id", req.ID).
		Dur("latency", latency).
		Str("text", text).
		Msg("Segment transcribed")
	return text, nil
}
