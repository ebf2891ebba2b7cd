// Package conversation runs the voice loop: captured speech is transcribed,
// answered, synthesized and played back, one turn at a time.
package conversation

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/bargein"
	"github.com/lexiqai/voice-client/internal/capture"
	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/playback"
	"github.com/lexiqai/voice-client/internal/synthesis"
	"github.com/lexiqai/voice-client/internal/transcribe"
	"github.com/lexiqai/voice-client/internal/turn"
)

var (
	// ErrNotIdle is returned by Start when a conversation is already running
	// or the previous one failed and was not reset.
	ErrNotIdle = errors.New("conversation is not idle")
)

// StreamOpener opens one synthesis stream per reply.
type StreamOpener interface {
	Open(ctx context.Context, sink synthesis.Sink, events synthesis.Events) (synthesis.Stream, error)
}

// Options tune a Session.
type Options struct {
	// MultiTurn keeps the session listening after each reply. When false the
	// session ends after the first reply has played.
	MultiTurn bool
	// Greeting is spoken right after Start when set.
	Greeting string
}

// Session wires capture, transcription, reply generation, synthesis and
// playback around a turn controller. It implements capture.Listener.
type Session struct {
	id         string
	opts       Options
	turn       *turn.Controller
	dispatcher *transcribe.Dispatcher
	engine     *playback.Engine
	opener     StreamOpener
	replier    Replier
	bargein    *bargein.Coordinator
	metrics    *observability.ConversationMetrics
	logger     zerolog.Logger

	seq capture.Sequencer
	wg  sync.WaitGroup

	mu          sync.Mutex
	running     bool
	ctx         context.Context
	cancel      context.CancelFunc
	replyGen    uint64
	replyCancel context.CancelFunc
	greeting    bool
	stream      synthesis.Stream
}

func NewSession(
	ctrl *turn.Controller,
	dispatcher *transcribe.Dispatcher,
	engine *playback.Engine,
	opener StreamOpener,
	replier Replier,
	opts Options,
	logger zerolog.Logger,
) *Session {
	id := uuid.New().String()
	s := &Session{
		id:         id,
		opts:       opts,
		turn:       ctrl,
		dispatcher: dispatcher,
		engine:     engine,
		opener:     opener,
		replier:    replier,
		metrics:    observability.NewConversationMetrics(id),
		logger:     logger.With().Str("conversation_id", id).Str("component", "conversation").Logger(),
		ctx:        context.Background(),
	}

	s.bargein = bargein.NewCoordinator(engine, dispatcher.Registry(), ctrl, s.logger)
	s.bargein.OnInterrupt(s.abandonReply)
	engine.OnStarted(s.onPlaybackStarted)
	engine.OnComplete(s.onPlaybackComplete)
	return s
}

// ID returns the conversation id.
func (s *Session) ID() string {
	return s.id
}

// Turn exposes the controller for status observers.
func (s *Session) Turn() *turn.Controller {
	return s.turn
}

// Start arms capture: idle -> loading -> recording. The greeting, if any, is
// spoken as the first reply.
func (s *Session) Start(ctx context.Context) error {
	if !s.turn.RequestStatusIf(turn.StatusIdle, turn.StatusLoading) {
		return ErrNotIdle
	}

	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true
	s.mu.Unlock()

	s.turn.SetSessionActive(true)
	s.metrics.RecordConversationStart()

	if err := s.turn.RequestStatus(turn.StatusRecording); err != nil {
		return err
	}
	s.logger.Info().Bool("multi_turn", s.opts.MultiTurn).Msg("Conversation started")

	if s.opts.Greeting != "" {
		s.say(s.opts.Greeting)
	}
	return nil
}

// Stop ends the conversation: pending work is cancelled, playback is
// cleared and the status returns to idle unless it is in error.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.abandonReply()
	s.engine.Reset()
	s.dispatcher.Registry().CancelAll()
	s.turn.SetSessionActive(false)
	if s.turn.Status() != turn.StatusError {
		_ = s.turn.RequestStatus(turn.StatusIdle)
	}

	s.wg.Wait()
	s.metrics.RecordConversationEnd()
	s.logger.Info().Msg("Conversation stopped")
}

// Reset is the explicit reset out of error. It clears the synthesis
// connection, queued audio and pending requests and returns to idle.
func (s *Session) Reset() {
	s.Stop()
	s.abandonReply()
	s.engine.Reset()
	s.dispatcher.Registry().CancelAll()
	s.turn.Reset()
}

// SpeechStart is barge-in. It runs whatever the status is.
func (s *Session) SpeechStart() {
	s.bargein.Interrupt()
}

// SpeechEnd accepts a captured utterance only while recording.
func (s *Session) SpeechEnd(samples []float32, sampleRate int) {
	if len(samples) == 0 {
		observability.RecordSegmentDiscarded("empty")
		return
	}
	if !s.turn.RequestStatusIf(turn.StatusRecording, turn.StatusLoading) {
		status := s.turn.Status()
		observability.RecordSegmentDiscarded(string(status))
		s.logger.Debug().Str("status", string(status)).Msg("Speech segment discarded")
		return
	}

	seg := s.seq.Next(samples, sampleRate)
	s.metrics.RecordAudioBytes("in", int64(len(samples)*2))

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handleSegment(ctx, seg)
	}()
}

func (s *Session) handleSegment(ctx context.Context, seg capture.Segment) {
	logger := s.logger.With().Uint64("segment", seg.Seq).Dur("speech", seg.Duration()).Logger()

	text, err := s.dispatcher.Transcribe(ctx, seg)
	switch {
	case errors.Is(err, transcribe.ErrCancelled):
		logger.Debug().Msg("Transcript discarded")
		return
	case err != nil:
		s.metrics.RecordError("transcription", "transcribe")
		logger.Warn().Err(err).Msg("Transcription failed")
		s.turn.RequestStatusIf(turn.StatusLoading, turn.StatusRecording)
		return
	}

	if !s.turn.RequestStatusIf(turn.StatusLoading, turn.StatusRecording) {
		logger.Debug().Str("status", string(s.turn.Status())).Msg("Transcript arrived after the turn moved on")
		return
	}
	if text == "" {
		logger.Debug().Msg("Empty transcript")
		return
	}

	logger.Info().Str("transcript", text).Msg("User said")
	s.respond(text)
}

// respond streams the replier's answer into a fresh synthesis stream.
func (s *Session) respond(userText string) {
	ctx, gen := s.beginReply(false)
	s.metrics.RecordReplyStart()

	fragments, err := s.replier.Reply(ctx, userText)
	if err != nil {
		s.metrics.RecordError("reply", "conversation")
		s.logger.Error().Err(err).Msg("Reply generation failed")
		return
	}
	s.speak(ctx, gen, fragments)
}

// say speaks fixed text, bypassing the replier.
func (s *Session) say(text string) {
	ctx, gen := s.beginReply(true)
	s.metrics.RecordReplyStart()

	fragments := make(chan string, 1)
	fragments <- text
	close(fragments)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.speak(ctx, gen, fragments)
	}()
}

func (s *Session) speak(ctx context.Context, gen uint64, fragments <-chan string) {
	stream, err := s.opener.Open(ctx, s.engine, synthesis.Events{
		OnProcessing: func() { s.onSynthesisProcessing(gen) },
		OnClosed:     func(err error) { s.onSynthesisClosed(gen, err) },
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.metrics.RecordError("synthesis", "conversation")
		s.turn.Fail(err)
		return
	}
	if !s.attachStream(gen, stream) {
		_ = stream.Close()
		return
	}

	var seg Segmenter
	for {
		select {
		case <-ctx.Done():
			return
		case fragment, ok := <-fragments:
			if !ok {
				if rest := seg.Flush(); rest != "" {
					if err := stream.Send(rest); err != nil {
						return
					}
				}
				stream.CloseInput()
				return
			}
			for _, sentence := range seg.Push(fragment) {
				if err := stream.Send(sentence); err != nil {
					s.logger.Debug().Err(err).Msg("Sentence not sent")
					return
				}
			}
		}
	}
}

// beginReply supersedes any reply in flight and returns the context of the
// new one. A greeting does not count as the reply of a one-shot session.
func (s *Session) beginReply(greeting bool) (context.Context, uint64) {
	s.abandonReply()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.replyGen++
	s.greeting = greeting
	ctx, cancel := context.WithCancel(s.ctx)
	s.replyCancel = cancel
	return ctx, s.replyGen
}

func (s *Session) attachStream(gen uint64, stream synthesis.Stream) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.replyGen || s.replyCancel == nil {
		return false
	}
	s.stream = stream
	return true
}

// abandonReply cancels reply generation and closes the synthesis stream.
// It also runs as the barge-in hook.
func (s *Session) abandonReply() {
	s.mu.Lock()
	cancel, stream := s.replyCancel, s.stream
	s.replyCancel, s.stream = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		_ = stream.Close()
	}
}

// onSynthesisProcessing stops accepting speech while the service prepares
// the reply.
func (s *Session) onSynthesisProcessing(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.replyGen || s.replyCancel == nil {
		return
	}
	s.turn.RequestStatusIf(turn.StatusRecording, turn.StatusLoading)
}

func (s *Session) onSynthesisClosed(gen uint64, err error) {
	s.mu.Lock()
	current := gen == s.replyGen
	if current {
		s.stream = nil
	}
	s.mu.Unlock()

	if err == nil || !current {
		return
	}
	s.metrics.RecordError("synthesis", "conversation")
	s.turn.Fail(err)
}

// onPlaybackStarted holds mu across the transition so that a barge-in
// either sees talking or has already abandoned the reply.
func (s *Session) onPlaybackStarted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replyCancel == nil {
		s.logger.Debug().Msg("Playback started after the reply was abandoned")
		return
	}
	s.metrics.RecordFirstAudio()
	if !s.turn.RequestStatusIf(turn.StatusRecording, turn.StatusTalking) {
		s.turn.RequestStatusIf(turn.StatusLoading, turn.StatusTalking)
	}
}

// onPlaybackComplete settles the turn. A one-shot session ends here, so
// the next Start begins a new conversation.
func (s *Session) onPlaybackComplete() {
	s.mu.Lock()
	stream, greeting := s.stream, s.greeting
	s.stream = nil
	if s.replyCancel != nil {
		s.replyCancel()
		s.replyCancel = nil
	}
	ending := !s.opts.MultiTurn && !greeting && s.running
	var cancel context.CancelFunc
	if ending {
		s.running = false
		cancel = s.cancel
	}
	s.mu.Unlock()

	if stream != nil {
		_ = stream.Close()
	}
	if ending {
		s.turn.SetSessionActive(false)
	}
	if err := s.turn.Settle(); err != nil {
		s.logger.Debug().Err(err).Msg("Reply finished outside a talking turn")
	}
	if cancel != nil {
		cancel()
		s.metrics.RecordConversationEnd()
		s.logger.Info().Msg("Conversation ended after reply")
	}
}
