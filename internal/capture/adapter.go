package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
)

// Config configures the energy VAD adapter.
type Config struct {
	SampleRate int
	VAD        audio.VADConfig
	// PreRoll is audio kept from before the detected onset.
	PreRoll time.Duration
	// MaxSegment forces an end of speech on very long utterances.
	MaxSegment time.Duration
	// Realtime paces reads to the frame duration, for file sources.
	Realtime bool
}

// Adapter turns a PCM16 mono byte stream into Listener events using the
// energy voice activity detector.
type Adapter struct {
	cfg    Config
	logger zerolog.Logger
}

func NewAdapter(cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.VAD.FrameSize <= 0 {
		cfg.VAD.FrameSize = audio.DefaultVADConfig().FrameSize
	}
	if cfg.MaxSegment <= 0 {
		cfg.MaxSegment = 30 * time.Second
	}
	return &Adapter{
		cfg:    cfg,
		logger: logger.With().Str("component", "capture").Logger(),
	}
}

// Run reads frames from r until EOF or ctx ends. An utterance still open at
// EOF is flushed as a final SpeechEnd.
func (a *Adapter) Run(ctx context.Context, r io.Reader, l Listener) error {
	vad := audio.NewVADDetector(&a.cfg.VAD)
	frameBytes := a.cfg.VAD.FrameSize * 2
	frameDur := time.Duration(a.cfg.VAD.FrameSize) * time.Second / time.Duration(a.cfg.SampleRate)
	preroll := audio.NewRingBuffer(int(a.cfg.PreRoll.Seconds()*float64(a.cfg.SampleRate)) * 2)
	maxBytes := int(a.cfg.MaxSegment.Seconds()*float64(a.cfg.SampleRate)) * 2

	var ticker *time.Ticker
	if a.cfg.Realtime {
		ticker = time.NewTicker(frameDur)
		defer ticker.Stop()
	}

	var utterance []byte
	frame := make([]byte, frameBytes)

	endSpeech := func(reason string) {
		samples := audio.PCM16ToFloat32(utterance)
		a.logger.Debug().
			Str("reason", reason).
			Int("samples", len(samples)).
			Msg("Speech ended")
		utterance = nil
		l.SpeechEnd(samples, a.cfg.SampleRate)
	}

	for {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		n, err := io.ReadFull(r, frame)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if vad.IsSpeaking() {
					utterance = append(utterance, frame[:n-n%2]...)
					endSpeech("eof")
				}
				return nil
			}
			return fmt.Errorf("capture read failed: %w", err)
		}

		ev := vad.ProcessFrame(audio.BytesToInt16(frame))
		switch {
		case ev == audio.VADSpeechStart:
			utterance = append(preroll.Bytes(), frame...)
			preroll.Clear()
			a.logger.Debug().Msg("Speech started")
			l.SpeechStart()

		case ev == audio.VADSpeechEnd:
			utterance = append(utterance, frame...)
			endSpeech("silence")

		case vad.IsSpeaking():
			utterance = append(utterance, frame...)
			if len(utterance) >= maxBytes {
				vad.Reset()
				endSpeech("max_segment")
			}

		default:
			preroll.Write(frame)
		}
	}
}
