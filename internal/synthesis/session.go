package synthesis

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/audio"
	"github.com/lexiqai/voice-client/internal/observability"
)

// Delivery selects how binary payloads become playable units.
type Delivery string

const (
	DeliveryRawSample   Delivery = "raw-sample"
	DeliveryDiscrete    Delivery = "discrete-container"
	DeliveryProgressive Delivery = "progressive-container"
)

// State is the lifecycle of one synthesis session.
type State int

const (
	StateConnecting State = iota
	StateConnected
	StateAuthenticated
	StateStreaming
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 << 20
)

// Config holds everything needed to open a session.
type Config struct {
	URL            string
	Token          string
	SpeakerID      string
	Language       string
	Normalization  string
	AudioFormat    string
	AudioQuality   int
	AudioSpeed     string
	Model          string
	SampleRate     int
	Delivery       Delivery
	ConnectTimeout time.Duration
}

// Sink receives the audio of a reply. Implementations must not block and
// must not call back into the session synchronously.
type Sink interface {
	Enqueue(chunk audio.Chunk)
	MarkEndOfReply()
	Reset()
}

// Events are optional session callbacks, invoked outside session locks.
type Events struct {
	// OnAuthenticated fires once queries are accepted.
	OnAuthenticated func()
	// OnProcessing fires when the service starts preparing a reply.
	OnProcessing func()
	// OnClosed fires exactly once. err is nil for an owner close or a remote
	// close after the full reply was received.
	OnClosed func(err error)
}

// Stream is the owner's handle on an open session.
type Stream interface {
	ID() string
	Send(text string) error
	CloseInput()
	Close() error
}

// Dialer opens synthesis sessions.
type Dialer struct {
	cfg    Config
	logger zerolog.Logger
}

func NewDialer(cfg Config, logger zerolog.Logger) *Dialer {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.Delivery == "" {
		cfg.Delivery = DeliveryRawSample
	}
	if cfg.Normalization == "" {
		cfg.Normalization = "basic"
	}
	if cfg.AudioSpeed == "" {
		cfg.AudioSpeed = "1"
	}
	return &Dialer{cfg: cfg, logger: logger}
}

// Open dials the service and starts the handshake. It returns once the
// WebSocket is established; authentication continues in the background and
// queries sent before it completes are buffered.
func (d *Dialer) Open(ctx context.Context, sink Sink, events Events) (Stream, error) {
	s := &Session{
		id:      uuid.New().String(),
		cfg:     d.cfg,
		sink:    sink,
		events:  events,
		started: time.Now(),
	}
	s.logger = d.logger.With().
		Str("component", "synthesis").
		Str("synthesis_session_id", s.id).
		Logger()

	deadline := s.started.Add(d.cfg.ConnectTimeout)
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.ConnectTimeout,
		TLSClientConfig:  &tls.Config{MinVersion: tls.VersionTLS12},
	}
	conn, resp, err := dialer.DialContext(dialCtx, d.cfg.URL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if errors.Is(dialCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			observability.RecordSynthesisSession("handshake_timeout")
			return nil, fmt.Errorf("%w: %v", ErrHandshakeTimeout, err)
		}
		observability.RecordSynthesisSession("connect_failed")
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	conn.SetReadLimit(maxMessageSize)
	s.conn = conn

	s.mu.Lock()
	s.guard = time.AfterFunc(time.Until(deadline), s.handshakeExpired)
	s.mu.Unlock()

	s.logger.Debug().Str("url", d.cfg.URL).Msg("Synthesis connection established, waiting for success message")
	go s.readLoop()
	return s, nil
}

// Session is one connection lifecycle. It is never reused.
type Session struct {
	id      string
	cfg     Config
	conn    *websocket.Conn
	sink    Sink
	events  Events
	logger  zerolog.Logger
	started time.Time

	accounting Accounting

	writeMu sync.Mutex // serialises writes; taken before mu

	mu         sync.Mutex
	state      State
	guard      *time.Timer
	authSent   bool
	pending    []string
	sentence   [][]byte
	chunkIndex int
	endMarked  bool
}

func (s *Session) ID() string {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Accounting exposes the sentence counters.
func (s *Session) Accounting() *Accounting {
	return &s.accounting
}

// Send submits one sentence. Before authentication it is buffered and
// flushed in order afterwards.
func (s *Session) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	s.writeMu.Lock()
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		s.writeMu.Unlock()
		return ErrSessionClosed
	case StateAuthenticated, StateStreaming:
		s.accounting.MarkSent()
		s.mu.Unlock()
	default:
		s.accounting.MarkSent()
		s.pending = append(s.pending, text)
		pending := len(s.pending)
		s.mu.Unlock()
		s.writeMu.Unlock()
		s.logger.Debug().Int("pending", pending).Msg("Query buffered until authenticated")
		return nil
	}

	err := s.writeJSON(s.query(text))
	s.writeMu.Unlock()
	if err != nil {
		s.teardown(fmt.Errorf("%w: %v", ErrConnectionFailed, err), false)
		return err
	}
	observability.RecordSentence("sent")
	return nil
}

// CloseInput declares that the reply has no more sentences.
func (s *Session) CloseInput() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.accounting.CloseInput()
	s.checkComplete()
}

// Close tears the session down. Audio still queued in the sink is dropped.
func (s *Session) Close() error {
	s.teardown(nil, true)
	return nil
}

func (s *Session) query(text string) queryMessage {
	return queryMessage{
		Query:         text,
		Normalization: s.cfg.Normalization,
		Language:      s.cfg.Language,
		AudioFormat:   s.cfg.AudioFormat,
		AudioQuality:  s.cfg.AudioQuality,
		AudioSpeed:    s.cfg.AudioSpeed,
		SpeakerID:     s.cfg.SpeakerID,
		Model:         s.cfg.Model,
	}
}

// writeJSON requires writeMu.
func (s *Session) writeJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("failed to set write deadline: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) readLoop() {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("Synthesis connection closed unexpectedly")
			}
			s.teardown(fmt.Errorf("%w: %v", ErrConnectionFailed, err), false)
			return
		}

		switch msgType {
		case websocket.BinaryMessage:
			s.handleAudio(data)
		case websocket.TextMessage:
			s.handleControl(data)
		}
	}
}

func (s *Session) handleControl(data []byte) {
	msg, err := parseControl(data)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Invalid synthesis control message")
		if isFatal(err.Error()) {
			s.teardown(err, false)
		}
		return
	}

	kind := msg.Kind()
	s.logger.Debug().Str("type", kind).Msg("Synthesis control message")

	switch kind {
	case MsgSuccessfulConnection:
		s.onConnected()

	case MsgSuccessfulAuthentication:
		s.onAuthenticated()

	case MsgProcessingRequest:
		if s.events.OnProcessing != nil {
			s.events.OnProcessing()
		}

	case MsgStartedByteStream:
		s.mu.Lock()
		if s.state == StateAuthenticated {
			s.state = StateStreaming
		}
		s.sentence = nil
		s.mu.Unlock()

	case MsgFinishedByteStream:
		s.onSentenceFinished()

	case MsgConnectionTimeout:
		s.teardown(fmt.Errorf("%w: server reported connection timeout", ErrConnectionFailed), false)

	default:
		detail := msg.detail()
		if detail != "" && isFatal(detail) {
			s.teardown(fmt.Errorf("%w: %s", ErrStreamError, detail), false)
			return
		}
		s.logger.Debug().Str("type", kind).Str("detail", detail).Msg("Unhandled synthesis message")
	}
}

func (s *Session) onConnected() {
	s.writeMu.Lock()
	s.mu.Lock()
	if s.state == StateClosed || s.authSent {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return
	}
	if s.guard != nil {
		s.guard.Stop()
	}
	s.state = StateConnected
	s.authSent = true
	s.mu.Unlock()

	err := s.writeJSON(authMessage{Token: s.cfg.Token, Strategy: "token"})
	s.writeMu.Unlock()
	if err != nil {
		s.teardown(fmt.Errorf("%w: failed to send authentication: %v", ErrConnectionFailed, err), false)
	}
}

func (s *Session) onAuthenticated() {
	s.writeMu.Lock()
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return
	}
	s.state = StateAuthenticated
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	observability.ObserveSynthesisHandshake(time.Since(s.started))
	s.logger.Info().Int("buffered_queries", len(pending)).Msg("Synthesis session authenticated")

	var err error
	for _, text := range pending {
		if err = s.writeJSON(s.query(text)); err != nil {
			break
		}
		observability.RecordSentence("sent")
	}
	s.writeMu.Unlock()

	if err != nil {
		s.teardown(fmt.Errorf("%w: %v", ErrConnectionFailed, err), false)
		return
	}
	if s.events.OnAuthenticated != nil {
		s.events.OnAuthenticated()
	}
}

func (s *Session) handleAudio(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || len(data) == 0 {
		return
	}

	switch s.cfg.Delivery {
	case DeliveryRawSample:
		s.emit(audio.Chunk{Format: audio.FormatPCM16, Data: data, SampleRate: s.cfg.SampleRate})

	case DeliveryDiscrete:
		s.sentence = append(s.sentence, data)

	case DeliveryProgressive:
		s.emit(audio.Chunk{Format: audio.FormatContainer, Codec: s.cfg.AudioFormat, Data: data, Progressive: true})
	}
}

func (s *Session) onSentenceFinished() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}

	if s.cfg.Delivery == DeliveryDiscrete && len(s.sentence) > 0 {
		var size int
		for _, part := range s.sentence {
			size += len(part)
		}
		unit := make([]byte, 0, size)
		for _, part := range s.sentence {
			unit = append(unit, part...)
		}
		s.emit(audio.Chunk{Format: audio.FormatContainer, Codec: s.cfg.AudioFormat, Data: unit})
	}
	s.sentence = nil

	if err := s.accounting.MarkFinished(); err != nil {
		s.logger.Warn().Err(err).Msg("Ignoring unexpected finished-byte-stream")
		return
	}
	observability.RecordSentence("finished")
	s.checkComplete()
}

// emit requires mu.
func (s *Session) emit(chunk audio.Chunk) {
	chunk.Index = s.chunkIndex
	s.chunkIndex++
	s.sink.Enqueue(chunk)
}

// checkComplete requires mu.
func (s *Session) closeConn() {
	s.writeMu.Lock()
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	s.writeMu.Unlock()
	_ = s.conn.Close()
}

func (s *Session) checkComplete() {
	if s.endMarked || !s.accounting.Complete() {
		return
	}
	s.endMarked = true
	sent, finished, _ := s.accounting.Snapshot()
	s.logger.Debug().Int("sent", sent).Int("finished", finished).Msg("Reply fully received")
	s.sink.MarkEndOfReply()
}

func (s *Session) handshakeExpired() {
	s.mu.Lock()
	waiting := s.state == StateConnecting
	s.mu.Unlock()
	if waiting {
		s.teardown(fmt.Errorf("%w after %s", ErrHandshakeTimeout, s.cfg.ConnectTimeout), false)
	}
}

// teardown runs once. An owner close or a remote close after the full
// reply leaves queued audio alone only in the latter case.
func (s *Session) teardown(cause error, owner bool) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	if s.guard != nil {
		s.guard.Stop()
	}
	expected := !owner && s.endMarked
	s.pending = nil
	s.sentence = nil
	s.mu.Unlock()

	s.accounting.Reset()

	// The close frame may wait on a stalled peer; teardown must not.
	go s.closeConn()

	var reported error
	switch {
	case owner:
		s.sink.Reset()
		observability.RecordSynthesisSession("closed")
		s.logger.Debug().Msg("Synthesis session closed")
	case expected:
		observability.RecordSynthesisSession("completed")
		s.logger.Debug().Msg("Synthesis connection ended after full reply")
	default:
		reported = cause
		s.sink.Reset()
		outcome := "error"
		if errors.Is(cause, ErrHandshakeTimeout) {
			outcome = "handshake_timeout"
		}
		observability.RecordSynthesisSession(outcome)
		s.logger.Error().Err(cause).Msg("Synthesis session failed")
	}

	if s.events.OnClosed != nil {
		s.events.OnClosed(reported)
	}
}
