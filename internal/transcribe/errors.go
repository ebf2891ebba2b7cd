package transcribe

import (
	"errors"
	"fmt"
)

var (
	// ErrTranscriptionFailed matches every recoverable transcription failure.
	ErrTranscriptionFailed = errors.New("transcription failed")

	// ErrCancelled is returned for requests aborted by barge-in. Results of
	// cancelled requests are discarded even if they arrive later.
	ErrCancelled = errors.New("transcription cancelled")

	// ErrEmptyAudio is returned for segments without samples.
	ErrEmptyAudio = errors.New("audio segment is empty")
)

// TranscriptionError represents a failed call to a transcription backend.
type TranscriptionError struct {
	// Provider is the backend name ("http", "deepgram").
	Provider string

	// StatusCode is the HTTP status, 0 for transport failures.
	StatusCode int

	// Message is a human-readable error message.
	Message string

	// Cause is the underlying error, if any.
	Cause error

	// Retryable indicates whether the request can be retried.
	Retryable bool
}

func (e *TranscriptionError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s transcription error [%d]: %s", e.Provider, e.StatusCode, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s transcription error: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s transcription error: %s", e.Provider, e.Message)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Cause
}

// Is makes every TranscriptionError match ErrTranscriptionFailed.
func (e *TranscriptionError) Is(target error) bool {
	return target == ErrTranscriptionFailed
}
