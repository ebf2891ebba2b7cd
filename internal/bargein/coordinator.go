// Package bargein stops the agent when the user starts talking over it.
package bargein

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/observability"
	"github.com/lexiqai/voice-client/internal/turn"
)

// Playback is the part of the playback engine barge-in needs.
type Playback interface {
	Reset()
	Queued() int
	Playing() bool
}

// Requests aborts outstanding transcriptions.
type Requests interface {
	CancelAll() int
}

// Coordinator runs the barge-in sequence. Interrupt never waits on the
// network.
type Coordinator struct {
	playback Playback
	requests Requests
	turn     *turn.Controller
	logger   zerolog.Logger

	mu    sync.Mutex
	hooks []func()
}

func NewCoordinator(playback Playback, requests Requests, ctrl *turn.Controller, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		playback: playback,
		requests: requests,
		turn:     ctrl,
		logger:   logger.With().Str("component", "bargein").Logger(),
	}
}

// OnInterrupt registers a hook run after audio and requests are cleared,
// e.g. to abandon the reply being synthesized.
func (c *Coordinator) OnInterrupt(fn func()) {
	c.mu.Lock()
	c.hooks = append(c.hooks, fn)
	c.mu.Unlock()
}

// Interrupt stops playback, drops queued audio, aborts every pending
// transcription and hands the turn back to the user. It returns the number
// of aborted requests.
func (c *Coordinator) Interrupt() int {
	dropped, wasPlaying := c.playback.Queued(), c.playback.Playing()
	c.playback.Reset()
	cancelled := c.requests.CancelAll()

	c.mu.Lock()
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}

	from := c.turn.Status()
	resumed := c.turn.RequestStatusIf(turn.StatusTalking, turn.StatusRecording) ||
		c.turn.RequestStatusIf(turn.StatusLoading, turn.StatusRecording)

	observability.RecordBargeIn(cancelled)
	c.logger.Info().
		Str("status", string(from)).
		Int("cancelled_requests", cancelled).
		Int("dropped_units", dropped).
		Bool("was_playing", wasPlaying).
		Bool("resumed_recording", resumed).
		Msg("Barge-in")
	return cancelled
}
