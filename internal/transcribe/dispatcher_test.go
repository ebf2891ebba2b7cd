package transcribe

import (
	"context"
	"errors"
	"testing"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexiqai/voice-client/internal/capture"
)

type transcriberFunc func(ctx context.Context, seg capture.Segment) (string, error)

func (f transcriberFunc) Transcribe(ctx context.Context, seg capture.Segment) (string, error) {
	return f(ctx, seg)
}

func TestDispatcher_Success(t *testing.T) {
	registry := NewRegistry()
	d := NewDispatcher(transcriberFunc(func(ctx context.Context, seg capture.Segment) (string, error) {
		assert.Equal(t, 1, registry.Len(), "request is registered while in flight")
		return "xin chào", nil
	}), registry, zerolog.Nop())

	text, err := d.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Equal(t, "xin chào", text)
	assert.Equal(t, 0, registry.Len())
}

func TestDispatcher_CancelAllAbortsInFlight(t *testing.T) {
	registry := NewRegistry()
	started := make(chan struct{})
	d := NewDispatcher(transcriberFunc(func(ctx context.Context, seg capture.Segment) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	}), registry, zerolog.Nop())

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Transcribe(context.Background(), testSegment())
		errCh <- err
	}()

	<-started
	assert.Equal(t, 1, registry.CancelAll())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrCancelled)
	case <-time.After(time.Second):
		t.Fatal("transcription did not return after cancellation")
	}
	assert.Equal(t, 0, registry.Len())
}

func TestDispatcher_LateResultIsDiscarded(t *testing.T) {
	registry := NewRegistry()
	started := make(chan struct{})
	proceed := make(chan struct{})
	d := NewDispatcher(transcriberFunc(func(ctx context.Context, seg capture.Segment) (string, error) {
		close(started)
		<-proceed
		// backend ignores cancellation and still answers
		return "too late", nil
	}), registry, zerolog.Nop())

	errCh := make(chan error, 1)
	textCh := make(chan string, 1)
	go func() {
		text, err := d.Transcribe(context.Background(), testSegment())
		textCh <- text
		errCh <- err
	}()

	<-started
	registry.CancelAll()
	close(proceed)

	assert.Empty(t, <-textCh)
	assert.ErrorIs(t, <-errCh, ErrCancelled)
}

func TestDispatcher_WrapsPlainErrors(t *testing.T) {
	d := NewDispatcher(transcriberFunc(func(ctx context.Context, seg capture.Segment) (string, error) {
		return "", errors.New("boom")
	}), NewRegistry(), zerolog.Nop())

	_, err := d.Transcribe(context.Background(), testSegment())
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.Contains(t, err.Error(), "boom")
}

func TestRegistry_CancelAllOnEmpty(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, 0, r.CancelAll())

	req := r.Register(context.Background(), 7)
	assert.False(t, req.Cancelled())
	r.Complete(req)
	assert.Equal(t, 0, r.CancelAll())
	assert.False(t, req.Cancelled(), "completed requests are not aborted")
}

func finalResult(text string, final bool) *msginterfaces.MessageResponse {
	msg := &msginterfaces.MessageResponse{IsFinal: final}
	msg.Channel.Alternatives = append(msg.Channel.Alternatives, msginterfaces.Alternative{Transcript: text})
	return msg
}

func TestFinalCollector_JoinsFinalResults(t *testing.T) {
	c := newFinalCollector()
	c.add(finalResult("xin", true))
	c.add(finalResult("ignored interim", false))
	c.add(finalResult("  ", true))
	c.add(finalResult("chào", true))

	text, err := c.wait(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "xin chào", text)
}

func TestFinalCollector_Error(t *testing.T) {
	c := newFinalCollector()
	c.fail(&TranscriptionError{Provider: "deepgram", Message: "bad audio"})

	_, err := c.wait(context.Background(), time.Second)
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
}
