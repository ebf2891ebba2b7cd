package turn

import (
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestController() *Controller {
	return NewController(zerolog.Nop())
}

func TestController_StartsIdle(t *testing.T) {
	c := newTestController()
	assert.Equal(t, StatusIdle, c.Status())
	assert.False(t, c.CanAcceptSpeech())
}

func TestController_RoundTrip(t *testing.T) {
	c := newTestController()

	require.NoError(t, c.RequestStatus(StatusLoading))
	require.NoError(t, c.RequestStatus(StatusRecording))
	assert.True(t, c.CanAcceptSpeech())

	require.NoError(t, c.RequestStatus(StatusLoading))
	assert.False(t, c.CanAcceptSpeech())
	require.NoError(t, c.RequestStatus(StatusTalking))
	require.NoError(t, c.RequestStatus(StatusRecording))
}

func TestController_InvalidTransition(t *testing.T) {
	c := newTestController()

	err := c.RequestStatus(StatusTalking)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusIdle, c.Status())

	err = c.RequestStatus(StatusRecording)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestController_SameStatusIsNoop(t *testing.T) {
	c := newTestController()

	var calls int
	c.OnStatusChanged(func(from, to Status) { calls++ })

	require.NoError(t, c.RequestStatus(StatusIdle))
	assert.Zero(t, calls)
}

func TestController_RequestStatusIf(t *testing.T) {
	c := newTestController()
	require.NoError(t, c.RequestStatus(StatusLoading))
	require.NoError(t, c.RequestStatus(StatusRecording))

	assert.True(t, c.RequestStatusIf(StatusRecording, StatusLoading))
	assert.False(t, c.RequestStatusIf(StatusRecording, StatusLoading), "second claim must fail")
	assert.Equal(t, StatusLoading, c.Status())
}

func TestController_RequestStatusIfIsExclusive(t *testing.T) {
	c := newTestController()
	require.NoError(t, c.RequestStatus(StatusLoading))
	require.NoError(t, c.RequestStatus(StatusRecording))

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.RequestStatusIf(StatusRecording, StatusLoading) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestController_ErrorIsTerminalUntilReset(t *testing.T) {
	c := newTestController()
	require.NoError(t, c.RequestStatus(StatusLoading))

	cause := errors.New("handshake timeout")
	c.Fail(cause)
	assert.Equal(t, StatusError, c.Status())
	assert.Equal(t, cause, c.Err())

	assert.ErrorIs(t, c.RequestStatus(StatusRecording), ErrInvalidTransition)
	assert.ErrorIs(t, c.RequestStatus(StatusLoading), ErrInvalidTransition)

	c.Reset()
	assert.Equal(t, StatusIdle, c.Status())
	assert.NoError(t, c.Err())
}

func TestController_AnyStateCanFail(t *testing.T) {
	for _, s := range []Status{StatusIdle, StatusLoading, StatusRecording, StatusTalking} {
		assert.True(t, CanTransition(s, StatusError), "%s -> error", s)
	}
	assert.False(t, CanTransition(StatusError, StatusError))
}

func TestController_Settle(t *testing.T) {
	c := newTestController()
	require.NoError(t, c.RequestStatus(StatusLoading))
	require.NoError(t, c.RequestStatus(StatusTalking))

	c.SetSessionActive(true)
	require.NoError(t, c.Settle())
	assert.Equal(t, StatusRecording, c.Status())

	require.NoError(t, c.RequestStatus(StatusTalking))
	c.SetSessionActive(false)
	require.NoError(t, c.Settle())
	assert.Equal(t, StatusIdle, c.Status())
}

func TestController_ListenersInOrder(t *testing.T) {
	c := newTestController()

	var got []string
	c.OnStatusChanged(func(from, to Status) {
		got = append(got, string(from)+">"+string(to))
		// Re-entrant requests are queued behind the current notification
		if to == StatusLoading {
			require.NoError(t, c.RequestStatus(StatusRecording))
		}
	})

	require.NoError(t, c.RequestStatus(StatusLoading))

	assert.Equal(t, []string{"idle>loading", "loading>recording"}, got)
	assert.Equal(t, StatusRecording, c.Status())
}
