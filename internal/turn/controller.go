// Package turn owns the half-duplex conversation status. Every other
// component reads the status or requests a transition; only the Controller
// mutates it.
package turn

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-client/internal/observability"
)

// Status is the conversation turn status.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusLoading   Status = "loading"
	StatusRecording Status = "recording"
	StatusTalking   Status = "talking"
	StatusError     Status = "error"
)

// ErrInvalidTransition is returned when a requested transition is not in
// the transition table. The status is left unchanged.
var ErrInvalidTransition = errors.New("invalid turn transition")

// Any state may move to error; error only leaves through an explicit reset.
var transitions = map[Status][]Status{
	StatusIdle:      {StatusLoading},
	StatusLoading:   {StatusRecording, StatusTalking, StatusIdle},
	StatusRecording: {StatusLoading, StatusTalking, StatusIdle},
	StatusTalking:   {StatusRecording, StatusIdle},
	StatusError:     {StatusIdle},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to Status) bool {
	if to == StatusError {
		return from != StatusError
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Listener observes status changes.
type Listener func(from, to Status)

type change struct {
	from, to Status
}

// Controller is safe for concurrent use. Listeners run outside the
// controller lock, one at a time, in transition order; a listener may
// request further transitions.
type Controller struct {
	logger zerolog.Logger

	mu            sync.Mutex
	status        Status
	sessionActive bool
	lastErr       error
	listeners     []Listener
	pending       []change
	dispatching   bool
}

// NewController starts in idle.
func NewController(logger zerolog.Logger) *Controller {
	return &Controller{
		logger: logger.With().Str("component", "turn").Logger(),
		status: StatusIdle,
	}
}

// Status returns the current status.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// CanAcceptSpeech is true only while recording.
func (c *Controller) CanAcceptSpeech() bool {
	return c.Status() == StatusRecording
}

// OnStatusChanged registers a listener.
func (c *Controller) OnStatusChanged(fn Listener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// RequestStatus moves to next if the transition is legal. Requesting the
// current status is a no-op.
func (c *Controller) RequestStatus(next Status) error {
	c.mu.Lock()
	from := c.status
	if from == next {
		c.mu.Unlock()
		return nil
	}
	if !CanTransition(from, next) {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}
	c.apply(next)
	c.mu.Unlock()

	c.dispatch()
	return nil
}

// RequestStatusIf atomically moves from expected to next. It returns false,
// changing nothing, when the current status is not expected.
func (c *Controller) RequestStatusIf(expected, next Status) bool {
	c.mu.Lock()
	if c.status != expected || !CanTransition(expected, next) {
		c.mu.Unlock()
		return false
	}
	c.apply(next)
	c.mu.Unlock()

	c.dispatch()
	return true
}

// SetSessionActive records whether the user session continues after the
// current reply.
func (c *Controller) SetSessionActive(active bool) {
	c.mu.Lock()
	c.sessionActive = active
	c.mu.Unlock()
}

// SessionActive reports the session flag.
func (c *Controller) SessionActive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionActive
}

// Settle ends a round: recording while the session is active, idle
// otherwise.
func (c *Controller) Settle() error {
	c.mu.Lock()
	active := c.sessionActive
	c.mu.Unlock()

	if active {
		return c.RequestStatus(StatusRecording)
	}
	return c.RequestStatus(StatusIdle)
}

// Fail moves to error and remembers the cause. It is terminal until Reset.
func (c *Controller) Fail(err error) {
	c.mu.Lock()
	if c.status == StatusError {
		c.mu.Unlock()
		return
	}
	c.lastErr = err
	c.sessionActive = false
	c.apply(StatusError)
	c.mu.Unlock()

	c.logger.Error().Err(err).Msg("Turn failed")
	c.dispatch()
}

// Err returns the failure that put the controller in error, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Reset is the explicit reset: from any status back to idle with the
// session ended and the failure cleared.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.sessionActive = false
	c.lastErr = nil
	if c.status != StatusIdle {
		c.apply(StatusIdle)
	}
	c.mu.Unlock()

	c.dispatch()
}

// apply must be called with mu held.
func (c *Controller) apply(next Status) {
	from := c.status
	c.status = next
	c.pending = append(c.pending, change{from: from, to: next})
}

// dispatch drains queued changes. Only one goroutine dispatches at a time;
// changes queued meanwhile (including from listeners) are picked up by it.
func (c *Controller) dispatch() {
	c.mu.Lock()
	if c.dispatching {
		c.mu.Unlock()
		return
	}
	c.dispatching = true

	for len(c.pending) > 0 {
		ch := c.pending[0]
		c.pending = c.pending[1:]
		listeners := append([]Listener(nil), c.listeners...)
		c.mu.Unlock()

		c.logger.Debug().Str("from", string(ch.from)).Str("to", string(ch.to)).Msg("Turn status changed")
		observability.RecordStatusTransition(string(ch.from), string(ch.to))
		for _, fn := range listeners {
			fn(ch.from, ch.to)
		}

		c.mu.Lock()
	}

	c.dispatching = false
	c.mu.Unlock()
}
