// Package playback renders synthesized audio in arrival order, one unit at
// a time, and reports when a whole reply has been played.
package playback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/observability"
)

// ErrDecode marks a unit that could not be decoded. It is logged and
// skipped; the queue continues.
var ErrDecode = errors.New("playback decode error")

const streamReadSamples = 2048

// Config configures the engine.
type Config struct {
	// FadeDuration is the linear fade applied to both ends of raw PCM units.
	FadeDuration time.Duration
	Gain         float64
	// PrebufferBytes is how much of a progressive stream must arrive before
	// playback starts.
	PrebufferBytes int
	// PCMSampleRate is used for progressive streams of raw PCM.
	PCMSampleRate int
	// Decode turns a unit into samples. Defaults to audio.Decode.
	Decode func(audio.Chunk) (audio.PCM, error)
}

type progressiveStream struct {
	buf     *audio.StreamBuffer
	codec   string
	playing bool
}

// Engine is the playback pipeline. A single worker goroutine pops, decodes
// and renders units; callbacks run on that goroutine.
type Engine struct {
	cfg       Config
	newDevice DeviceFactory
	logger    zerolog.Logger

	mu           sync.Mutex
	queue        []audio.Chunk
	stream       *progressiveStream
	endOfReply   bool
	started      bool
	generation   uint64
	device       Device
	retired      []Device
	renderCancel context.CancelFunc
	onStarted    func()
	onComplete   func()
	closed       bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// NewEngine starts the worker goroutine. Close stops it.
func NewEngine(cfg Config, factory DeviceFactory, logger zerolog.Logger) *Engine {
	if cfg.Decode == nil {
		cfg.Decode = audio.Decode
	}
	if cfg.Gain == 0 {
		cfg.Gain = 1
	}
	e := &Engine{
		cfg:       cfg,
		newDevice: factory,
		logger:    logger.With().Str("component", "playback").Logger(),
		wake:      make(chan struct{}, 1),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go e.loop()
	return e
}

// OnStarted registers a callback fired when the first audio of a reply
// starts rendering.
func (e *Engine) OnStarted(fn func()) {
	e.mu.Lock()
	e.onStarted = fn
	e.mu.Unlock()
}

// OnComplete registers a callback fired once the whole reply has been
// played. The engine has already been reset when it runs.
func (e *Engine) OnComplete(fn func()) {
	e.mu.Lock()
	e.onComplete = fn
	e.mu.Unlock()
}

// Enqueue appends a unit. Progressive units feed the reply's single
// growing stream instead of the queue.
func (e *Engine) Enqueue(chunk audio.Chunk) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	if chunk.Progressive {
		if e.stream == nil {
			e.stream = &progressiveStream{buf: audio.NewStreamBuffer(), codec: chunk.Codec}
		}
		if err := e.stream.buf.Append(chunk.Data); err != nil {
			e.logger.Debug().Err(err).Int("index", chunk.Index).Msg("Dropping audio for ended stream")
		}
	} else {
		e.queue = append(e.queue, chunk)
	}
	e.mu.Unlock()

	observability.RecordPlaybackChunk(string(chunk.Format), len(chunk.Data))
	e.signal()
}

// MarkEndOfReply declares that no more audio belongs to the current reply.
func (e *Engine) MarkEndOfReply() {
	e.mu.Lock()
	e.endOfReply = true
	if e.stream != nil {
		e.stream.buf.Close()
	}
	e.mu.Unlock()
	e.signal()
}

// Reset stops the render in progress, drops everything queued and retires
// the output device. It never blocks and may be called at any time.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.resetLocked()
	e.mu.Unlock()
	e.signal()
}

func (e *Engine) resetLocked() {
	e.generation++
	e.queue = nil
	e.endOfReply = false
	e.started = false
	if e.stream != nil {
		e.stream.buf.Abort()
		e.stream = nil
	}
	if e.renderCancel != nil {
		e.renderCancel()
		e.renderCancel = nil
	}
	if e.device != nil {
		e.retired = append(e.retired, e.device)
		e.device = nil
	}
}

// Queued returns the number of units waiting to be rendered.
func (e *Engine) Queued() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Playing reports whether a render is in progress.
func (e *Engine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.renderCancel != nil
}

// Close stops the worker and releases the output device.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.resetLocked()
	e.mu.Unlock()

	close(e.quit)
	<-e.done
	return nil
}

func (e *Engine) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) loop() {
	defer close(e.done)
	for {
		e.closeRetired()
		select {
		case <-e.quit:
			e.closeRetired()
			return
		case <-e.wake:
		}
		e.drain()
	}
}

func (e *Engine) closeRetired() {
	e.mu.Lock()
	retired := e.retired
	e.retired = nil
	e.mu.Unlock()

	for _, d := range retired {
		if err := d.Close(); err != nil {
			e.logger.Warn().Err(err).Msg("Failed to close output device")
		}
	}
}

// drain renders until there is nothing left to do for now.
func (e *Engine) drain() {
	for {
		e.closeRetired()

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			return
		}
		gen := e.generation

		if st := e.stream; st != nil && !st.playing && (st.buf.Len() >= e.cfg.PrebufferBytes || st.buf.Closed()) {
			st.playing = true
			ctx, dev, ok := e.beginRenderLocked()
			e.mu.Unlock()
			if ok {
				e.renderStream(ctx, gen, dev, st)
			} else {
				st.buf.Abort()
			}
			e.finishRender(gen, st)
			continue
		}

		if len(e.queue) > 0 {
			chunk := e.queue[0]
			e.queue = e.queue[1:]
			e.mu.Unlock()
			e.renderChunk(gen, chunk)
			continue
		}

		complete := e.endOfReply && e.stream == nil
		var onComplete func()
		if complete {
			onComplete = e.onComplete
			e.resetLocked()
		}
		e.mu.Unlock()

		if complete {
			observability.RecordPlaybackCompleted()
			e.logger.Debug().Msg("Reply playback complete")
			if onComplete != nil {
				onComplete()
			}
			continue
		}
		return
	}
}

// beginRenderLocked prepares the render context and device for the current
// generation. Requires mu.
func (e *Engine) beginRenderLocked() (context.Context, Device, bool) {
	if e.device == nil {
		dev, err := e.newDevice()
		if err != nil {
			e.logger.Error().Err(err).Msg("Failed to open output device")
			return nil, nil, false
		}
		e.device = dev
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.renderCancel = cancel
	return ctx, e.device, true
}

func (e *Engine) finishRender(gen uint64, st *progressiveStream) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return
	}
	if e.renderCancel != nil {
		e.renderCancel()
		e.renderCancel = nil
	}
	if st != nil && e.stream == st {
		e.stream = nil
	}
}

// markStarted fires the started callback once per reply.
func (e *Engine) markStarted(gen uint64) {
	e.mu.Lock()
	if e.generation != gen || e.started {
		e.mu.Unlock()
		return
	}
	e.started = true
	fn := e.onStarted
	e.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (e *Engine) renderChunk(gen uint64, chunk audio.Chunk) {
	pcm, err := e.cfg.Decode(chunk)
	if err != nil {
		observability.RecordDecodeError(chunk.Codec)
		e.logger.Warn().
			Err(fmt.Errorf("%w: %v", ErrDecode, err)).
			Int("index", chunk.Index).
			Str("format", string(chunk.Format)).
			Msg("Skipping undecodable audio")
		return
	}

	if chunk.Format == audio.FormatPCM16 {
		audio.ApplyFades(pcm.Samples, pcm.SampleRate, e.cfg.FadeDuration)
	}
	audio.ApplyGain(pcm.Samples, e.cfg.Gain)

	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return
	}
	ctx, dev, ok := e.beginRenderLocked()
	e.mu.Unlock()
	if !ok {
		return
	}

	e.markStarted(gen)
	if err := dev.Play(ctx, pcm.Samples, pcm.SampleRate); err != nil && ctx.Err() == nil {
		e.logger.Warn().Err(err).Int("index", chunk.Index).Msg("Playback failed")
	}
	e.finishRender(gen, nil)
}

func (e *Engine) renderStream(ctx context.Context, gen uint64, dev Device, st *progressiveStream) {
	dec, err := audio.NewStreamDecoder(st.codec, st.buf, e.cfg.PCMSampleRate)
	if err != nil {
		if !errors.Is(err, audio.ErrStreamAborted) {
			observability.RecordDecodeError(st.codec)
			e.logger.Warn().Err(fmt.Errorf("%w: %v", ErrDecode, err)).Msg("Cannot decode progressive stream")
		}
		st.buf.Abort()
		return
	}

	buf := make([]float32, streamReadSamples)
	for {
		n, err := dec.Read(buf)
		if n > 0 {
			samples := make([]float32, n)
			copy(samples, buf[:n])
			audio.ApplyGain(samples, e.cfg.Gain)

			e.markStarted(gen)
			if perr := dev.Play(ctx, samples, dec.SampleRate()); perr != nil {
				if ctx.Err() == nil {
					e.logger.Warn().Err(perr).Msg("Playback failed")
				}
				st.buf.Abort()
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, audio.ErrStreamAborted) && ctx.Err() == nil {
				observability.RecordDecodeError(st.codec)
				e.logger.Warn().Err(fmt.Errorf("%w: %v", ErrDecode, err)).Msg("Progressive stream ended early")
			}
			st.buf.Abort()
			return
		}
	}
}
